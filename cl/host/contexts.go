package host

import (
	"sync/atomic"

	"github.com/gomlx/gocl/cl/driver"
	"k8s.io/klog/v2"
)

// computeContext is the driver side of a context. Objects created in a context become invalid when the context
// is released.
type computeContext struct {
	id      driver.ContextID
	devices []*device
	notify  driver.NotifyFunc

	// refs is protected by Driver.mu.
	refs     int
	released atomic.Bool
}

// hasDevice returns whether dev is one of the devices of the context.
func (c *computeContext) hasDevice(dev *device) bool {
	for _, d := range c.devices {
		if d == dev {
			return true
		}
	}
	return false
}

// reportError calls the context's error callback, if any.
func (c *computeContext) reportError(errInfo string) {
	klog.V(1).Infof("host driver: context %d error: %s", c.id, errInfo)
	if c.notify != nil {
		c.notify(errInfo)
	}
}

// CreateContext implements driver.Driver.
func (d *Driver) CreateContext(devices []driver.DeviceID, notify driver.NotifyFunc) (driver.ContextID, driver.Status) {
	if len(devices) == 0 {
		return 0, driver.InvalidValue
	}
	ctx := &computeContext{notify: notify, refs: 1}
	for _, id := range devices {
		dev, found := d.devices[id]
		if !found {
			return 0, driver.InvalidDevice
		}
		if dev.config.Unavailable {
			return 0, driver.DeviceNotAvailable
		}
		if len(ctx.devices) > 0 && ctx.devices[0].platform != dev.platform {
			// Devices of a context must share their platform.
			return 0, driver.InvalidDevice
		}
		if !ctx.hasDevice(dev) {
			ctx.devices = append(ctx.devices, dev)
		}
	}
	ctx.id = driver.ContextID(d.newHandle())
	d.mu.Lock()
	d.contexts[ctx.id] = ctx
	d.mu.Unlock()
	klog.V(2).Infof("host driver: created context %d with %d devices", ctx.id, len(ctx.devices))
	return ctx.id, driver.Success
}

// context returns the live context with the given handle, or nil.
func (d *Driver) context(id driver.ContextID) *computeContext {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contexts[id]
}

// RetainContext implements driver.Driver.
func (d *Driver) RetainContext(id driver.ContextID) driver.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx, found := d.contexts[id]
	if !found {
		return driver.InvalidContext
	}
	ctx.refs++
	return driver.Success
}

// ReleaseContext implements driver.Driver. When the reference count reaches zero, the context and every object
// created in it are freed.
func (d *Driver) ReleaseContext(id driver.ContextID) driver.Status {
	d.mu.Lock()
	ctx, found := d.contexts[id]
	if !found {
		d.mu.Unlock()
		return driver.InvalidContext
	}
	ctx.refs--
	if ctx.refs > 0 {
		d.mu.Unlock()
		return driver.Success
	}
	ctx.released.Store(true)
	delete(d.contexts, id)
	var queues []*queue
	for qid, q := range d.queues {
		if q.ctx == ctx {
			queues = append(queues, q)
			delete(d.queues, qid)
		}
	}
	for pid, p := range d.programs {
		if p.ctx == ctx {
			delete(d.programs, pid)
		}
	}
	for kid, k := range d.kernels {
		if k.program.ctx == ctx {
			delete(d.kernels, kid)
		}
	}
	for mid, m := range d.mems {
		if m.ctx == ctx {
			delete(d.mems, mid)
		}
	}
	for eid, ev := range d.events {
		if ev.ctx == ctx {
			delete(d.events, eid)
		}
	}
	d.mu.Unlock()

	// Pending commands still run to completion.
	for _, q := range queues {
		q.close()
	}
	klog.V(2).Infof("host driver: released context %d", id)
	return driver.Success
}

// GetContextInfo implements driver.Driver.
func (d *Driver) GetContextInfo(id driver.ContextID, param driver.ContextInfo, dst []byte) (int, driver.Status) {
	d.mu.Lock()
	ctx, found := d.contexts[id]
	var refs int
	if found {
		refs = ctx.refs
	}
	d.mu.Unlock()
	if !found {
		return 0, driver.InvalidContext
	}
	var value []byte
	switch param {
	case driver.ContextReferenceCount:
		value = driver.InfoUint32(uint32(refs))
	case driver.ContextNumDevices:
		value = driver.InfoUint32(uint32(len(ctx.devices)))
	case driver.ContextDevices:
		ids := make([]driver.DeviceID, len(ctx.devices))
		for i, dev := range ctx.devices {
			ids[i] = dev.id
		}
		value = driver.InfoHandles(ids)
	default:
		return 0, driver.InvalidValue
	}
	return driver.FillInfo(value, dst)
}
