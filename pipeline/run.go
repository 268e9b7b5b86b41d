package pipeline

import (
	"reflect"
	"sync"

	"github.com/gomlx/gocl/cl"
	"github.com/gomlx/gocl/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Result of a run of a Job.
type Result struct {
	// Device the kernel ran on.
	Device string

	// Outputs holds the contents read back from each Output and InOut argument, indexed by argument name. Each
	// is a flat slice of the argument dtype, e.g. []float32.
	Outputs map[string]any

	// BuildLog of the module, which may hold warnings.
	BuildLog string

	// AsyncErrors reported by the driver while the job ran.
	AsyncErrors []string
}

// OutputAs returns the named output as a []T.
func OutputAs[T dtypes.Supported](r *Result, name string) ([]T, error) {
	flat, found := r.Outputs[name]
	if !found {
		return nil, errors.Errorf("no output named %q", name)
	}
	typed, ok := flat.([]T)
	if !ok {
		return nil, errors.Errorf("output %q is a %T, not a %T", name, flat, typed)
	}
	return typed, nil
}

// releaser accumulates the objects created during a run, released in reverse order.
type releaser struct {
	fns []func() error
}

func (r *releaser) add(fn func() error) {
	r.fns = append(r.fns, fn)
}

func (r *releaser) releaseAll() {
	for i := len(r.fns) - 1; i >= 0; i-- {
		if err := r.fns[i](); err != nil {
			klog.Errorf("pipeline: release failed: %+v", err)
		}
	}
	r.fns = nil
}

// Run executes the job, and returns the outputs. It stops at the first error, releasing everything it created.
// If the module fails to build, the error is a *cl.BuildError with the build log.
func Run(job *Job) (*Result, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}
	sources, err := job.LoadSources()
	if err != nil {
		return nil, err
	}
	filter := cl.DeviceAll
	if job.DeviceType != "" {
		if filter, err = cl.ParseDeviceType(job.DeviceType); err != nil {
			return nil, errors.WithMessagef(err, "job %q", job.Name)
		}
	}

	rt, err := cl.Open(job.Driver)
	if err != nil {
		return nil, err
	}
	device, err := findDevice(rt, job.PlatformExtension, filter)
	if err != nil {
		return nil, errors.WithMessagef(err, "job %q", job.Name)
	}
	klog.V(1).Infof("pipeline: running %q on %s", job.Name, device)

	var r releaser
	defer r.releaseAll()
	result := &Result{Device: device.Name(), Outputs: make(map[string]any)}
	var mu sync.Mutex
	ctx, err := rt.CreateContext().WithDevices(device).WithErrorCallback(func(errInfo string) {
		klog.Errorf("pipeline: %s: %s", device, errInfo)
		mu.Lock()
		result.AsyncErrors = append(result.AsyncErrors, errInfo)
		mu.Unlock()
	}).Done()
	if err != nil {
		return nil, err
	}
	r.add(ctx.Release)

	module, err := ctx.NewModule(sources...)
	if err != nil {
		return nil, err
	}
	r.add(module.Release)
	if err = module.Build().WithOptions(job.Options).Done(); err != nil {
		return nil, err
	}
	if result.BuildLog, err = module.BuildLog(device); err != nil {
		return nil, err
	}

	kernel, err := module.FindKernel(job.Kernel)
	if err != nil {
		return nil, err
	}
	if kernel == nil {
		names, _ := module.KernelNames()
		return nil, errors.Errorf("job %q: kernel %q not found, the module has kernels %v", job.Name, job.Kernel, names)
	}
	r.add(kernel.Release)
	if kernel.NumArgs() != len(job.Args) {
		return nil, errors.Errorf("job %q: kernel %q takes %d arguments, %d given", job.Name, job.Kernel,
			kernel.NumArgs(), len(job.Args))
	}

	ordering, _ := job.ordering()
	queue, err := ctx.NewQueue(device, ordering)
	if err != nil {
		return nil, err
	}
	r.add(queue.Release)

	type output struct {
		name   string
		buffer *cl.Buffer
	}
	var outputs []output
	for i := range job.Args {
		arg := &job.Args[i]
		buffer, err := bindArg(ctx, kernel, i, arg)
		if err != nil {
			return nil, errors.WithMessagef(err, "job %q argument %q", job.Name, arg.Name)
		}
		if buffer != nil {
			r.add(buffer.Release)
			if arg.Kind == Output || arg.Kind == InOut {
				outputs = append(outputs, output{arg.Name, buffer})
			}
		}
	}

	done, err := queue.EnqueueKernel(kernel, job.Global, job.Local)
	if err != nil {
		return nil, err
	}
	r.add(done.Release)
	if err = done.Await(); err != nil {
		return nil, errors.WithMessagef(err, "job %q kernel %q", job.Name, job.Kernel)
	}
	for _, out := range outputs {
		dtype := out.buffer.DType()
		flat, err := dtypes.MakeFlat(dtype, out.buffer.Size()/dtype.Size())
		if err != nil {
			return nil, err
		}
		raw, _, err := dtypes.AnyFlatToRaw(flat)
		if err != nil {
			return nil, err
		}
		readDone, err := queue.EnqueueRead(out.buffer, raw, true, done)
		if err != nil {
			return nil, errors.WithMessagef(err, "job %q reading %q", job.Name, out.name)
		}
		if err = readDone.Release(); err != nil {
			return nil, err
		}
		result.Outputs[out.name] = flat
	}
	return result, nil
}

// findDevice returns the first device matching the filter, in the first platform with the extension if one is
// given.
func findDevice(rt *cl.Runtime, extension string, filter cl.DeviceType) (*cl.Device, error) {
	var devices []*cl.Device
	var err error
	if extension != "" {
		platform, err := rt.FindPlatformWithExtension(extension)
		if err != nil {
			return nil, err
		}
		if platform == nil {
			return nil, errors.Wrapf(cl.ErrDiscovery, "no platform with extension %q", extension)
		}
		devices, err = platform.Devices(filter)
		if err != nil {
			return nil, err
		}
	} else if devices, err = rt.Devices(filter); err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Available() {
			return d, nil
		}
	}
	return nil, errors.Wrapf(cl.ErrDiscovery, "none of the %d devices found is available", len(devices))
}

// bindArg creates the buffer of the argument, if any, and sets it in the kernel.
func bindArg(ctx *cl.Context, kernel *cl.Kernel, index int, arg *Arg) (*cl.Buffer, error) {
	switch arg.Kind {
	case Local:
		return nil, kernel.SetArg(index, cl.LocalMemory(arg.Size))
	case Scalar:
		flat, _, err := arg.flat()
		if err != nil {
			return nil, err
		}
		if n := reflect.ValueOf(flat).Len(); n != 1 {
			return nil, errors.Errorf("scalar argument with %d values", n)
		}
		raw, _, err := dtypes.AnyFlatToRaw(flat)
		if err != nil {
			return nil, err
		}
		return nil, kernel.SetArg(index, append([]byte(nil), raw...))
	}

	var cfg *cl.BufferConfig
	if arg.Kind == Output {
		dtype, err := arg.dtype()
		if err != nil {
			return nil, err
		}
		cfg = ctx.NewBuffer().WithAccess(cl.WriteOnly).WithDType(dtype).WithSize(arg.Size * dtype.Size())
	} else {
		flat, _, err := arg.flat()
		if err != nil {
			return nil, err
		}
		access := cl.ReadOnly
		if arg.Kind == InOut {
			access = cl.ReadWrite
		}
		cfg = ctx.NewBuffer().WithAccess(access).FromFlatData(flat)
	}
	buffer, err := cfg.Done()
	if err != nil {
		return nil, err
	}
	if err = kernel.SetArg(index, buffer); err != nil {
		_ = buffer.Release()
		return nil, err
	}
	return buffer, nil
}
