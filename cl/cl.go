// Package cl is a host-side compute dispatch library with the semantics of OpenCL: discover platforms and
// devices, bind devices into a Context, build a Module from kernel source, extract Kernels, allocate Buffers and
// enqueue transfers and kernel launches on a Queue.
//
// The compute runtime itself is a driver.Driver, opened by name. The package github.com/gomlx/gocl/cl/host
// provides a pure Go driver, and github.com/gomlx/gocl/cl/opencl (build tag "opencl") binds the system OpenCL
// ICD loader.
//
// Example:
//
//	import _ "github.com/gomlx/gocl/cl/host"
//
//	rt := must.M1(cl.Open("host"))
//	devices := must.M1(rt.Devices(cl.DeviceGPU))
//	ctx := must.M1(rt.NewContext(devices[0]))
//	defer ctx.Release()
//	module := must.M1(ctx.NewModule(source))
//	must.M(module.Build().Done())
//	kernel := must.M1(module.NewKernel("vecadd"))
//	...
//
// All objects hold driver handles that should be released explicitly, with Release. Objects garbage collected
// without being released are released automatically, as a safety net.
package cl

import (
	"os"
	"sync"

	"github.com/gomlx/gocl/cl/driver"
	"k8s.io/klog/v2"
)

// DriverEnv is the environment variable with the name of the driver used by Open when no name is given.
const DriverEnv = "GOCL_DRIVER"

// DefaultDriver is used by Open if no name is given and DriverEnv is not set.
var DefaultDriver = "host"

// Runtime is the entry point to a driver: it discovers platforms and devices and creates contexts.
//
// Platforms and devices are discovered once and cached: querying them again returns the same objects.
type Runtime struct {
	drv driver.Driver

	mu        sync.Mutex
	platforms map[driver.PlatformID]*Platform
	devices   map[driver.DeviceID]*Device
}

// NewRuntime creates a Runtime over the given driver.
func NewRuntime(drv driver.Driver) *Runtime {
	return &Runtime{
		drv:       drv,
		platforms: make(map[driver.PlatformID]*Platform),
		devices:   make(map[driver.DeviceID]*Device),
	}
}

// Open the driver registered with the given name (see driver.Open) and creates a Runtime for it.
//
// If name is empty, the value of the environment variable GOCL_DRIVER is used, and if that is not set,
// DefaultDriver.
func Open(name string) (*Runtime, error) {
	if name == "" {
		name = os.Getenv(DriverEnv)
	}
	if name == "" {
		name = DefaultDriver
	}
	drv, err := driver.Open(name)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("cl: using driver %q", drv.Name())
	return NewRuntime(drv), nil
}

// Driver returns the underlying driver.
func (rt *Runtime) Driver() driver.Driver {
	return rt.drv
}

// String implements fmt.Stringer.
func (rt *Runtime) String() string {
	return "cl.Runtime(" + rt.drv.Name() + ")"
}
