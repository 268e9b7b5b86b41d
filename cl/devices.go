package cl

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DeviceType is a bit-field used both as the type of a device and as a filter when listing devices.
type DeviceType = driver.DeviceType

const (
	// DeviceDefault selects the default device of a platform.
	DeviceDefault = driver.DeviceTypeDefault

	// DeviceCPU is a host processor.
	DeviceCPU = driver.DeviceTypeCPU

	// DeviceGPU is a graphics processor.
	DeviceGPU = driver.DeviceTypeGPU

	// DeviceAccelerator is a dedicated accelerator, e.g. a DSP or an FPGA.
	DeviceAccelerator = driver.DeviceTypeAccelerator

	// DeviceCustom is a device that doesn't support the full kernel language.
	DeviceCustom = driver.DeviceTypeCustom

	// DeviceAll matches every device type, and is only used as a filter.
	DeviceAll = driver.DeviceTypeAll
)

// ParseDeviceType converts names like "gpu" or "cpu,accelerator" to a DeviceType filter.
func ParseDeviceType(s string) (DeviceType, error) {
	var t DeviceType
	for _, name := range strings.Split(strings.ToLower(s), ",") {
		switch strings.TrimSpace(name) {
		case "default":
			t |= DeviceDefault
		case "cpu":
			t |= DeviceCPU
		case "gpu":
			t |= DeviceGPU
		case "accelerator":
			t |= DeviceAccelerator
		case "custom":
			t |= DeviceCustom
		case "all", "":
			t |= DeviceAll
		default:
			return 0, errors.Errorf("unknown device type %q, valid values are default, cpu, gpu, accelerator, custom and all", name)
		}
	}
	return t, nil
}

// Device is a compute device of a platform. Its attributes are read once, when it is discovered.
type Device struct {
	platform *Platform
	id       driver.DeviceID

	typ                              DeviceType
	name, vendor, version, driverVer string
	extensions                       string
	addressBits, computeUnits        int
	maxWorkGroupSize                 int
	globalMemSize, localMemSize      int64
	maxMemAllocSize                  int64
	available                        bool
}

// Devices of the platform matching the filter, e.g. DeviceGPU or DeviceAll.
//
// It fails with ErrDiscovery if no device matches.
func (p *Platform) Devices(filter DeviceType) ([]*Device, error) {
	rt := p.rt
	count, status := rt.drv.GetDeviceIDs(p.id, filter, nil)
	if status == driver.DeviceNotFound || (status.Ok() && count == 0) {
		return nil, errors.Wrapf(ErrDiscovery, "no devices of type 0x%X in %s", uint64(filter), p)
	}
	if err := statusError("GetDeviceIDs", status); err != nil {
		return nil, inCategory(ErrDiscovery, err)
	}
	ids := make([]driver.DeviceID, count)
	count, status = rt.drv.GetDeviceIDs(p.id, filter, ids)
	if err := statusError("GetDeviceIDs", status); err != nil {
		return nil, inCategory(ErrDiscovery, err)
	}
	devices := make([]*Device, 0, count)
	for _, id := range ids[:min(count, len(ids))] {
		d, err := p.device(id)
		if err != nil {
			return nil, inCategory(ErrDiscovery, err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// Devices of every platform matching the filter, in discovery order.
//
// It fails with ErrDiscovery if there are no platforms, or no device matches on any of them.
func (rt *Runtime) Devices(filter DeviceType) ([]*Device, error) {
	platforms, err := rt.Platforms(0)
	if err != nil {
		return nil, err
	}
	var devices []*Device
	for _, p := range platforms {
		pDevices, err := p.Devices(filter)
		if err != nil {
			if errors.Is(err, ErrDiscovery) {
				klog.V(2).Infof("cl: %v", err)
				continue
			}
			return nil, err
		}
		devices = append(devices, pDevices...)
	}
	if len(devices) == 0 {
		return nil, errors.Wrapf(ErrDiscovery, "no devices of type 0x%X in any of the %d platforms", uint64(filter), len(platforms))
	}
	return devices, nil
}

// device returns the cached Device for the handle, querying its attributes the first time.
func (p *Platform) device(id driver.DeviceID) (*Device, error) {
	rt := p.rt
	rt.mu.Lock()
	d, found := rt.devices[id]
	rt.mu.Unlock()
	if found {
		return d, nil
	}

	d = &Device{platform: p, id: id}
	query := func(param driver.DeviceInfo) infoQuery {
		return func(dst []byte) (int, driver.Status) {
			return rt.drv.GetDeviceInfo(id, param, dst)
		}
	}
	for _, attr := range []struct {
		param driver.DeviceInfo
		dst   *string
	}{
		{driver.DeviceName, &d.name},
		{driver.DeviceVendor, &d.vendor},
		{driver.DeviceVersion, &d.version},
		{driver.DriverVersion, &d.driverVer},
		{driver.DeviceExtensions, &d.extensions},
	} {
		value, err := queryString("GetDeviceInfo", query(attr.param))
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to query attribute 0x%X of device %d", uint32(attr.param), id)
		}
		*attr.dst = value
	}
	var values [8]uint64
	for i, param := range []driver.DeviceInfo{
		driver.DeviceTypeInfo, driver.DeviceAddressBits, driver.DeviceMaxComputeUnits, driver.DeviceMaxWorkGroupSize,
		driver.DeviceGlobalMemSize, driver.DeviceLocalMemSize, driver.DeviceMaxMemAllocSize, driver.DeviceAvailable,
	} {
		value, err := queryUint("GetDeviceInfo", query(param))
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to query attribute 0x%X of device %q", uint32(param), d.name)
		}
		values[i] = value
	}
	d.typ = DeviceType(values[0])
	d.addressBits = int(values[1])
	d.computeUnits = int(values[2])
	d.maxWorkGroupSize = int(values[3])
	d.globalMemSize = int64(values[4])
	d.localMemSize = int64(values[5])
	d.maxMemAllocSize = int64(values[6])
	d.available = values[7] != 0

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if cached, found := rt.devices[id]; found {
		return cached, nil
	}
	rt.devices[id] = d
	klog.V(2).Infof("cl: discovered %s", d)
	return d, nil
}

// ID returns the driver handle of the device.
func (d *Device) ID() driver.DeviceID { return d.id }

// Platform of the device.
func (d *Device) Platform() *Platform { return d.platform }

// Type of the device. It may include the DeviceDefault bit.
func (d *Device) Type() DeviceType { return d.typ }

// Name of the device.
func (d *Device) Name() string { return d.name }

// Vendor of the device.
func (d *Device) Vendor() string { return d.vendor }

// Version is the OpenCL version string of the device.
func (d *Device) Version() string { return d.version }

// DriverVersion is the version of the driver software for the device.
func (d *Device) DriverVersion() string { return d.driverVer }

// AddressBits is the width of device addresses, 32 or 64.
func (d *Device) AddressBits() int { return d.addressBits }

// MaxComputeUnits is the number of parallel compute units.
func (d *Device) MaxComputeUnits() int { return d.computeUnits }

// MaxWorkGroupSize is the maximum number of work-items in a work-group.
func (d *Device) MaxWorkGroupSize() int { return d.maxWorkGroupSize }

// GlobalMemSize in bytes.
func (d *Device) GlobalMemSize() int64 { return d.globalMemSize }

// LocalMemSize in bytes, available to each work-group.
func (d *Device) LocalMemSize() int64 { return d.localMemSize }

// MaxMemAllocSize is the largest buffer that can be allocated, in bytes.
func (d *Device) MaxMemAllocSize() int64 { return d.maxMemAllocSize }

// Available returns whether the device can be used.
func (d *Device) Available() bool { return d.available }

// Extensions supported by the device.
func (d *Device) Extensions() []string {
	return strings.Fields(d.extensions)
}

// HasExtension returns whether the device supports the named extension.
func (d *Device) HasExtension(name string) bool {
	return slices.Contains(d.Extensions(), name)
}

// TypeName returns the type of the device as a string, e.g. "GPU" or "CPU,DEFAULT".
func (d *Device) TypeName() string {
	var names []string
	for _, t := range []struct {
		bit  DeviceType
		name string
	}{{DeviceCPU, "CPU"}, {DeviceGPU, "GPU"}, {DeviceAccelerator, "ACCELERATOR"}, {DeviceCustom, "CUSTOM"}, {DeviceDefault, "DEFAULT"}} {
		if d.typ&t.bit != 0 {
			names = append(names, t.name)
		}
	}
	return strings.Join(names, ",")
}

// String implements fmt.Stringer.
func (d *Device) String() string {
	return fmt.Sprintf("Device(%q, %s)", d.name, d.TypeName())
}
