// Package host implements a software driver.Driver in pure Go, registered as "host" (aliases "cpu" and
// "software").
//
// Platforms and devices are simulated, as described by a Config. Programs are compiled with package clc, and
// kernels run on goroutines: the work-groups of a launch run concurrently, up to the number of compute units of
// the device. Each command-queue has its own worker goroutine, so enqueued commands run asynchronously.
//
// To use it, import the package for its side effect:
//
//	import _ "github.com/gomlx/gocl/cl/host"
package host

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomlx/gocl/cl/driver"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DriverName is the name under which the package registers the driver.
const DriverName = "host"

func init() {
	driver.Register(DriverName, func() (driver.Driver, error) {
		cfg := DefaultConfig()
		if path := os.Getenv(ConfigEnv); path != "" {
			var err error
			cfg, err = LoadConfig(path)
			if err != nil {
				return nil, err
			}
			klog.V(1).Infof("host driver configured from %q", path)
		}
		return New(cfg)
	})
}

// Driver is the host implementation of driver.Driver.
type Driver struct {
	platforms []*platform
	devices   map[driver.DeviceID]*device

	// programCache maps a hash of sources, options and device properties to a *compiled program.
	programCache *lru.Cache

	// nextHandle is used to generate unique handles for all objects created by the driver.
	nextHandle atomic.Uintptr

	mu       sync.Mutex
	contexts map[driver.ContextID]*computeContext
	programs map[driver.ProgramID]*program
	kernels  map[driver.KernelID]*kernel
	mems     map[driver.MemID]*memObject
	queues   map[driver.QueueID]*queue
	events   map[driver.EventID]*event
}

type platform struct {
	id     driver.PlatformID
	config *PlatformConfig
	// devices in configuration order.
	devices []*device
}

type device struct {
	id       driver.DeviceID
	platform *platform
	config   *DeviceConfig
	typ      driver.DeviceType
}

func (d *device) hasExtension(name string) bool {
	for _, ext := range d.config.Extensions {
		if ext == name {
			return true
		}
	}
	return false
}

// Compile time check that Driver implements driver.Driver.
var _ driver.Driver = (*Driver)(nil)

// New creates a host driver with the given topology. It is independent of the driver registered as "host".
func New(cfg Config) (*Driver, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	cache, err := lru.New(cfg.ProgramCacheSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create program cache")
	}
	d := &Driver{
		devices:      make(map[driver.DeviceID]*device),
		programCache: cache,
		contexts:     make(map[driver.ContextID]*computeContext),
		programs:     make(map[driver.ProgramID]*program),
		kernels:      make(map[driver.KernelID]*kernel),
		mems:         make(map[driver.MemID]*memObject),
		queues:       make(map[driver.QueueID]*queue),
		events:       make(map[driver.EventID]*event),
	}
	for pi := range cfg.Platforms {
		pc := &cfg.Platforms[pi]
		p := &platform{id: driver.PlatformID(d.newHandle()), config: pc}
		for di := range pc.Devices {
			dc := &pc.Devices[di]
			dev := &device{id: driver.DeviceID(d.newHandle()), platform: p, config: dc, typ: deviceTypes[dc.Type]}
			p.devices = append(p.devices, dev)
			d.devices[dev.id] = dev
		}
		d.platforms = append(d.platforms, p)
		klog.V(2).Infof("host driver: platform %q with %d devices", pc.Name, len(p.devices))
	}
	return d, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string {
	return DriverName
}

func (d *Driver) newHandle() uintptr {
	return d.nextHandle.Add(1)
}

// list copies up to len(dst) items to dst and returns the number of items, the common behavior of the list calls.
func list[H any](items []H, dst []H) int {
	copy(dst, items)
	return len(items)
}

// GetPlatformIDs implements driver.Driver.
func (d *Driver) GetPlatformIDs(dst []driver.PlatformID) (int, driver.Status) {
	ids := make([]driver.PlatformID, len(d.platforms))
	for i, p := range d.platforms {
		ids[i] = p.id
	}
	return list(ids, dst), driver.Success
}

func (d *Driver) findPlatform(id driver.PlatformID) *platform {
	for _, p := range d.platforms {
		if p.id == id {
			return p
		}
	}
	return nil
}

// GetPlatformInfo implements driver.Driver.
func (d *Driver) GetPlatformInfo(id driver.PlatformID, param driver.PlatformInfo, dst []byte) (int, driver.Status) {
	p := d.findPlatform(id)
	if p == nil {
		return 0, driver.InvalidPlatform
	}
	var value string
	switch param {
	case driver.PlatformProfile:
		value = p.config.Profile
	case driver.PlatformVersion:
		value = p.config.Version
	case driver.PlatformName:
		value = p.config.Name
	case driver.PlatformVendor:
		value = p.config.Vendor
	case driver.PlatformExtensions:
		value = strings.Join(p.config.Extensions, " ")
	default:
		return 0, driver.InvalidValue
	}
	return driver.FillInfo(driver.InfoString(value), dst)
}

// GetDeviceIDs implements driver.Driver.
func (d *Driver) GetDeviceIDs(id driver.PlatformID, deviceType driver.DeviceType, dst []driver.DeviceID) (int, driver.Status) {
	p := d.findPlatform(id)
	if p == nil {
		return 0, driver.InvalidPlatform
	}
	if deviceType == 0 || deviceType&^(driver.DeviceTypeAll) != 0 {
		return 0, driver.InvalidDeviceType
	}
	var ids []driver.DeviceID
	for i, dev := range p.devices {
		// The first device of the platform is the default one.
		matches := dev.typ&deviceType != 0 || (deviceType&driver.DeviceTypeDefault != 0 && i == 0)
		if matches {
			ids = append(ids, dev.id)
		}
	}
	if len(ids) == 0 {
		return 0, driver.DeviceNotFound
	}
	return list(ids, dst), driver.Success
}

// GetDeviceInfo implements driver.Driver.
func (d *Driver) GetDeviceInfo(id driver.DeviceID, param driver.DeviceInfo, dst []byte) (int, driver.Status) {
	dev, found := d.devices[id]
	if !found {
		return 0, driver.InvalidDevice
	}
	cfg := dev.config
	var value []byte
	switch param {
	case driver.DeviceTypeInfo:
		typ := dev.typ
		if dev == dev.platform.devices[0] {
			typ |= driver.DeviceTypeDefault
		}
		value = driver.InfoUint64(uint64(typ))
	case driver.DeviceVendorID:
		value = driver.InfoUint32(cfg.VendorID)
	case driver.DeviceMaxComputeUnits:
		value = driver.InfoUint32(uint32(cfg.ComputeUnits))
	case driver.DeviceMaxWorkItemDimensions:
		value = driver.InfoUint32(3)
	case driver.DeviceMaxWorkGroupSize:
		value = driver.InfoUint64(uint64(cfg.MaxWorkGroupSize))
	case driver.DeviceAddressBits:
		value = driver.InfoUint32(uint32(cfg.AddressBits))
	case driver.DeviceMaxMemAllocSize:
		value = driver.InfoUint64(uint64(cfg.MaxMemAllocSize))
	case driver.DeviceGlobalMemSize:
		value = driver.InfoUint64(uint64(cfg.GlobalMemSize))
	case driver.DeviceLocalMemSize:
		value = driver.InfoUint64(uint64(cfg.LocalMemSize))
	case driver.DeviceAvailable:
		value = driver.InfoBool(!cfg.Unavailable)
	case driver.DeviceCompilerAvailable:
		value = driver.InfoBool(true)
	case driver.DeviceName:
		value = driver.InfoString(cfg.Name)
	case driver.DeviceVendor:
		value = driver.InfoString(cfg.Vendor)
	case driver.DriverVersion:
		value = driver.InfoString("gocl-host 1.0")
	case driver.DeviceProfile:
		value = driver.InfoString(dev.platform.config.Profile)
	case driver.DeviceVersion:
		value = driver.InfoString(cfg.Version)
	case driver.DeviceExtensions:
		value = driver.InfoString(strings.Join(cfg.Extensions, " "))
	case driver.DevicePlatform:
		value = driver.InfoHandles([]driver.PlatformID{dev.platform.id})
	default:
		return 0, driver.InvalidValue
	}
	return driver.FillInfo(value, dst)
}
