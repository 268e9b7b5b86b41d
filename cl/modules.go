package cl

import (
	"fmt"
	"strings"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Module is a program of one Context: kernel source compiled (built) for the devices of the context.
type Module struct {
	ctx *Context
	h   *handle[driver.ProgramID]
}

func newModule(ctx *Context, id driver.ProgramID) *Module {
	m := &Module{ctx: ctx}
	m.h = newHandle(m, ctx.state, id, &modulesAlive, "ReleaseProgram", ctx.state.drv.ReleaseProgram)
	return m
}

// NewModule creates a module from the given sources, concatenated in order. It must be built (see Module.Build)
// before its kernels can be used.
//
// It fails with ErrModuleCreation if no source is given, all sources are blank, or the driver rejects them.
func (c *Context) NewModule(sources ...string) (*Module, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, errors.Wrap(ErrModuleCreation, "no source given")
	}
	if strings.TrimSpace(strings.Join(sources, "")) == "" {
		return nil, errors.Wrapf(ErrModuleCreation, "all %d sources given are blank", len(sources))
	}
	id, status := c.state.drv.CreateProgramWithSource(c.state.id, sources)
	if err := statusError("CreateProgramWithSource", status); err != nil {
		return nil, inCategory(ErrModuleCreation, err)
	}
	return newModule(c, id), nil
}

// NewModuleFromBinary creates a module from binaries previously returned by Module.Binaries, for some or all of
// the devices of the context. It still needs to be built.
func (c *Context) NewModuleFromBinary(binaries map[*Device][]byte) (*Module, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if len(binaries) == 0 {
		return nil, errors.Wrap(ErrModuleCreation, "no binaries given")
	}
	var ids []driver.DeviceID
	var blobs [][]byte
	for _, d := range c.devices {
		if bin, found := binaries[d]; found {
			ids = append(ids, d.id)
			blobs = append(blobs, bin)
		}
	}
	if len(ids) != len(binaries) {
		return nil, errors.Wrap(ErrModuleCreation, "binaries given for devices not in the context")
	}
	id, status := c.state.drv.CreateProgramWithBinary(c.state.id, ids, blobs)
	if err := statusError("CreateProgramWithBinary", status); err != nil {
		return nil, inCategory(ErrModuleCreation, err)
	}
	return newModule(c, id), nil
}

// check returns an error if the module or its context were released.
func (m *Module) check() error {
	if m == nil || !m.h.valid() {
		return releasedError("Module")
	}
	return nil
}

// Context the module belongs to.
func (m *Module) Context() *Context {
	return m.ctx
}

// Release the module. Kernels already created from it remain valid. It is a no-op if already released.
func (m *Module) Release() error {
	if m == nil {
		return nil
	}
	return m.h.destroy()
}

// BuildConfig configures the build of a Module. It is created with Module.Build, and the build is triggered by
// Done.
type BuildConfig struct {
	module  *Module
	devices []*Device
	options string

	// err stores the first error that happened during configuration.
	// If it is not nil, it is immediately returned by the Done call.
	err error
}

// Build returns a builder to configure and build the module. By default, it builds for all the devices of the
// context with no options.
func (m *Module) Build() *BuildConfig {
	return &BuildConfig{module: m}
}

// OnDevices restricts the build to the given devices, which must belong to the module's context.
func (cfg *BuildConfig) OnDevices(devices ...*Device) *BuildConfig {
	if cfg.err != nil {
		return cfg
	}
	for _, d := range devices {
		if !cfg.module.ctx.HasDevice(d) {
			cfg.err = errors.Errorf("Module.Build().OnDevices() given %s, which is not part of the context", d)
			return cfg
		}
	}
	cfg.devices = append(cfg.devices, devices...)
	return cfg
}

// WithOptions sets the build options, e.g. "-D WIDTH=4 -cl-fast-relaxed-math". They are forwarded to the
// driver as is.
func (cfg *BuildConfig) WithOptions(options string) *BuildConfig {
	cfg.options = options
	return cfg
}

// Done builds the module. The module is modified in place.
//
// If the build fails, the build log of every device is fetched, logged, and returned in a *BuildError, which
// wraps ErrBuildFailure.
func (cfg *BuildConfig) Done() error {
	if cfg.err != nil {
		return cfg.err
	}
	m := cfg.module
	if err := m.check(); err != nil {
		return err
	}
	devices := cfg.devices
	if len(devices) == 0 {
		devices = m.ctx.devices
	}
	ids := make([]driver.DeviceID, len(devices))
	for i, d := range devices {
		ids[i] = d.id
	}
	status := m.ctx.state.drv.BuildProgram(m.h.id, ids, cfg.options)
	if status.Ok() {
		klog.V(1).Infof("cl: module built for %d devices with options %q", len(devices), cfg.options)
		return nil
	}

	buildErr := &BuildError{Status: status}
	for _, d := range devices {
		dl := DeviceLog{Device: d}
		var err error
		dl.Status, err = m.BuildStatus(d)
		if err != nil {
			klog.Errorf("cl: failed to get build status for %s: %+v", d, err)
			dl.Status = driver.BuildError
		}
		dl.Log, err = m.BuildLog(d)
		if err != nil {
			klog.Errorf("cl: failed to get build log for %s: %+v", d, err)
		}
		if dl.Status != driver.BuildSuccess {
			klog.Errorf("cl: build failed for %s with options %q:\n%s", d, cfg.options, dl.Log)
		}
		buildErr.Logs = append(buildErr.Logs, dl)
	}
	return errors.WithStack(buildErr)
}

// BuildStatus of the module for the device.
func (m *Module) BuildStatus(d *Device) (driver.BuildStatus, error) {
	if err := m.check(); err != nil {
		return driver.BuildNone, err
	}
	value, err := queryUint("GetProgramBuildInfo", func(dst []byte) (int, driver.Status) {
		return m.ctx.state.drv.GetProgramBuildInfo(m.h.id, d.id, driver.ProgramBuildStatus, dst)
	})
	if err != nil {
		return driver.BuildNone, err
	}
	return driver.BuildStatus(int32(uint32(value))), nil
}

// BuildLog returns the compiler output of the last build for the device. It may contain warnings even if the
// build succeeded.
func (m *Module) BuildLog(d *Device) (string, error) {
	if err := m.check(); err != nil {
		return "", err
	}
	return queryString("GetProgramBuildInfo", func(dst []byte) (int, driver.Status) {
		return m.ctx.state.drv.GetProgramBuildInfo(m.h.id, d.id, driver.ProgramBuildLog, dst)
	})
}

// checkBuilt returns ErrInvalidModuleState if the module has no successful build.
func (m *Module) checkBuilt(status driver.Status, call string) error {
	if status == driver.InvalidProgramExecutable {
		return errors.Wrapf(ErrInvalidModuleState, "%s", call)
	}
	return statusError(call, status)
}

// KernelNames returns the names of the kernels of the module, which must be built.
func (m *Module) KernelNames() ([]string, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	drv := m.ctx.state.drv
	size, status := drv.GetProgramInfo(m.h.id, driver.ProgramKernelNames, nil)
	if err := m.checkBuilt(status, "GetProgramInfo"); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, status = drv.GetProgramInfo(m.h.id, driver.ProgramKernelNames, buf); !status.Ok() {
		return nil, statusError("GetProgramInfo", status)
	}
	names := strings.TrimRight(string(buf), "\x00")
	if names == "" {
		return nil, nil
	}
	return strings.Split(names, ";"), nil
}

// Binaries returns the binary of the module for each device it was built for successfully. They can be used
// with Context.NewModuleFromBinary to skip parsing the sources again.
func (m *Module) Binaries() (map[*Device][]byte, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	binaries := make(map[*Device][]byte)
	for _, d := range m.ctx.devices {
		status, err := m.BuildStatus(d)
		if err != nil {
			return nil, err
		}
		if status != driver.BuildSuccess {
			continue
		}
		bin, err := queryInfo("GetProgramBinary", func(dst []byte) (int, driver.Status) {
			return m.ctx.state.drv.GetProgramBinary(m.h.id, d.id, dst)
		})
		if err != nil {
			return nil, err
		}
		binaries[d] = bin
	}
	if len(binaries) == 0 {
		return nil, errors.Wrap(ErrInvalidModuleState, "no device has a successful build")
	}
	return binaries, nil
}

// String implements fmt.Stringer.
func (m *Module) String() string {
	if m == nil {
		return "Module(nil)"
	}
	names, err := m.KernelNames()
	if err != nil {
		return fmt.Sprintf("Module(not built, %d devices)", len(m.ctx.devices))
	}
	return fmt.Sprintf("Module(%s)", strings.Join(names, ", "))
}
