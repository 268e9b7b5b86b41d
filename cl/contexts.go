package cl

import (
	"runtime"
	"slices"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Context binds devices of one platform into a shared scope for modules, buffers and queues.
//
// A Context is reference counted: it is created with count 1, Retain increments it and Release decrements it.
// When it reaches zero the context and every object created in it become invalid.
type Context struct {
	rt      *Runtime
	state   *contextState
	devices []*Device
}

// ContextConfig configures the creation of a Context. It is created with Runtime.CreateContext, and the context
// is created when Done is called.
type ContextConfig struct {
	rt      *Runtime
	devices []*Device
	notify  func(errInfo string)

	// err stores the first error that happened during configuration.
	// If it is not nil, it is immediately returned by the Done call.
	err error
}

// CreateContext returns a builder to configure and create a new Context.
func (rt *Runtime) CreateContext() *ContextConfig {
	return &ContextConfig{rt: rt}
}

// NewContext creates a context with the given devices. It is a shortcut to CreateContext().WithDevices(devices...).Done().
func (rt *Runtime) NewContext(devices ...*Device) (*Context, error) {
	return rt.CreateContext().WithDevices(devices...).Done()
}

// WithDevices adds devices to the context. Devices given more than once are only included once.
func (cfg *ContextConfig) WithDevices(devices ...*Device) *ContextConfig {
	if cfg.err != nil {
		return cfg
	}
	for _, d := range devices {
		if d == nil {
			cfg.err = errors.Wrap(ErrContextCreation, "CreateContext().WithDevices() given a nil device")
			return cfg
		}
		if !slices.Contains(cfg.devices, d) {
			cfg.devices = append(cfg.devices, d)
		}
	}
	return cfg
}

// WithErrorCallback sets a function to receive asynchronous error reports of the context, e.g. a kernel fault.
//
// It is called from driver goroutines: it must not release or modify the context or objects created in it.
func (cfg *ContextConfig) WithErrorCallback(fn func(errInfo string)) *ContextConfig {
	cfg.notify = fn
	return cfg
}

// Done creates the context. It fails with ErrContextCreation if no devices were given, or they don't all belong
// to the same platform.
func (cfg *ContextConfig) Done() (*Context, error) {
	if cfg.err != nil {
		return nil, cfg.err
	}
	if len(cfg.devices) == 0 {
		return nil, errors.Wrap(ErrContextCreation, "no devices given")
	}
	platform := cfg.devices[0].platform
	for _, d := range cfg.devices[1:] {
		if d.platform != platform {
			return nil, errors.Wrapf(ErrContextCreation, "devices span more than one platform: %s is in %s and %s is in %s",
				cfg.devices[0], platform, d, d.platform)
		}
	}
	if platform.rt != cfg.rt {
		return nil, errors.Wrapf(ErrContextCreation, "devices were discovered with a different runtime")
	}

	ids := make([]driver.DeviceID, len(cfg.devices))
	for i, d := range cfg.devices {
		ids[i] = d.id
	}
	var notify driver.NotifyFunc
	if cfg.notify != nil {
		notify = driver.NotifyFunc(cfg.notify)
	}
	drv := cfg.rt.drv
	id, status := drv.CreateContext(ids, notify)
	if err := statusError("CreateContext", status); err != nil {
		return nil, inCategory(ErrContextCreation, err)
	}

	c := &Context{
		rt:      cfg.rt,
		state:   &contextState{drv: drv, id: id, refs: 1},
		devices: cfg.devices,
	}
	contextsAlive.Add(1)
	runtime.AddCleanup(c, func(state *contextState) {
		if err := state.releaseAll(); err != nil {
			klog.Errorf("cl: automatic release of context failed: %v", err)
		}
	}, c.state)
	klog.V(1).Infof("cl: created context with devices %v", cfg.devices)
	return c, nil
}

// release decrements the reference count, and frees the context when it reaches zero.
func (s *contextState) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs <= 0 {
		return releasedError("Context")
	}
	s.refs--
	if s.refs > 0 {
		return statusError("ReleaseContext", s.drv.ReleaseContext(s.id))
	}
	s.released.Store(true)
	contextsAlive.Add(-1)
	childrenErr := s.releaseChildren()
	if err := statusError("ReleaseContext", s.drv.ReleaseContext(s.id)); err != nil {
		return err
	}
	return childrenErr
}

// releaseAll drops every remaining reference.
func (s *contextState) releaseAll() error {
	for {
		s.mu.Lock()
		refs := s.refs
		s.mu.Unlock()
		if refs <= 0 {
			return nil
		}
		if err := s.release(); err != nil {
			return err
		}
	}
}

// check returns an error if the context was released.
func (c *Context) check() error {
	if c == nil || c.state.released.Load() {
		return releasedError("Context")
	}
	return nil
}

// Retain increments the reference count of the context.
func (c *Context) Retain() error {
	if err := c.check(); err != nil {
		return err
	}
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	if c.state.refs <= 0 {
		return releasedError("Context")
	}
	if err := statusError("RetainContext", c.state.drv.RetainContext(c.state.id)); err != nil {
		return err
	}
	c.state.refs++
	return nil
}

// Release decrements the reference count of the context. When it reaches zero, the context and every Module,
// Kernel, Buffer, Queue and Event created in it are freed.
//
// Releasing a context already freed returns an error wrapping ErrReleased.
func (c *Context) Release() error {
	if c == nil {
		return releasedError("Context")
	}
	return c.state.release()
}

// ReferenceCount returns the reference count reported by the driver. It is meant for diagnostics only.
func (c *Context) ReferenceCount() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	count, err := queryUint("GetContextInfo", func(dst []byte) (int, driver.Status) {
		return c.state.drv.GetContextInfo(c.state.id, driver.ContextReferenceCount, dst)
	})
	return int(count), err
}

// Devices of the context.
func (c *Context) Devices() []*Device {
	return slices.Clone(c.devices)
}

// HasDevice returns whether the device is part of the context.
func (c *Context) HasDevice(d *Device) bool {
	return slices.Contains(c.devices, d)
}

// Platform of the devices of the context.
func (c *Context) Platform() *Platform {
	return c.devices[0].platform
}

// Runtime the context was created with.
func (c *Context) Runtime() *Runtime {
	return c.rt
}

// ID returns the driver handle of the context.
func (c *Context) ID() driver.ContextID {
	return c.state.id
}
