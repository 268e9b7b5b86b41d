package host

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/gomlx/gocl/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func newTestDriver(t *testing.T) *Driver {
	d, err := New(DefaultConfig())
	require.NoError(t, err)
	return d
}

// infoString queries a string attribute with the size-then-fetch protocol.
func infoString(t *testing.T, query func(dst []byte) (int, driver.Status)) string {
	size, status := query(nil)
	require.Equal(t, driver.Success, status)
	buf := make([]byte, size)
	_, status = query(buf)
	require.Equal(t, driver.Success, status)
	return strings.TrimRight(string(buf), "\x00")
}

func infoUint(t *testing.T, query func(dst []byte) (int, driver.Status)) uint64 {
	buf := make([]byte, 8)
	size, status := query(buf)
	require.Equal(t, driver.Success, status)
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(buf))
	}
	return binary.LittleEndian.Uint64(buf)
}

// testEnv has a context with the first device (the CPU) of the default configuration.
type testEnv struct {
	d      *Driver
	device driver.DeviceID
	ctx    driver.ContextID
	queue  driver.QueueID
	errors []string
	mu     sync.Mutex
}

func newTestEnv(t *testing.T, queueProps driver.QueueProperties) *testEnv {
	env := &testEnv{d: newTestDriver(t)}
	platforms := make([]driver.PlatformID, 1)
	_, status := env.d.GetPlatformIDs(platforms)
	require.Equal(t, driver.Success, status)
	devices := make([]driver.DeviceID, 1)
	_, status = env.d.GetDeviceIDs(platforms[0], driver.DeviceTypeCPU, devices)
	require.Equal(t, driver.Success, status)
	env.device = devices[0]
	env.ctx, status = env.d.CreateContext(devices, func(errInfo string) {
		env.mu.Lock()
		env.errors = append(env.errors, errInfo)
		env.mu.Unlock()
	})
	require.Equal(t, driver.Success, status)
	env.queue, status = env.d.CreateCommandQueue(env.ctx, env.device, queueProps)
	require.Equal(t, driver.Success, status)
	t.Cleanup(func() {
		env.d.ReleaseContext(env.ctx)
	})
	return env
}

func (env *testEnv) build(t *testing.T, src, options string) driver.ProgramID {
	p, status := env.d.CreateProgramWithSource(env.ctx, []string{src})
	require.Equal(t, driver.Success, status)
	status = env.d.BuildProgram(p, nil, options)
	require.Equalf(t, driver.Success, status, "build failed:\n%s", env.buildLog(t, p))
	return p
}

func (env *testEnv) buildLog(t *testing.T, p driver.ProgramID) string {
	return infoString(t, func(dst []byte) (int, driver.Status) {
		return env.d.GetProgramBuildInfo(p, env.device, driver.ProgramBuildLog, dst)
	})
}

func (env *testEnv) floatBuffer(t *testing.T, flags driver.MemFlags, values []float32) driver.MemID {
	raw, _ := dtypes.FlatToRaw(values)
	m, status := env.d.CreateBuffer(env.ctx, flags|driver.MemCopyHostPtr, len(raw), raw)
	require.Equal(t, driver.Success, status)
	return m
}

func (env *testEnv) readFloats(t *testing.T, m driver.MemID, n int) []float32 {
	buf := make([]byte, 4*n)
	_, status := env.d.EnqueueReadBuffer(env.queue, m, true, 0, buf, nil)
	require.Equal(t, driver.Success, status)
	values := make([]float32, n)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return values
}

func scalar[T dtypes.Supported](v T) driver.KernelArg {
	raw, _ := dtypes.ScalarToRaw(v)
	return driver.KernelArg{Value: raw}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
program_cache_size: 8
platforms:
  - name: Test Platform
    extensions: [cl_khr_icd, cl_khr_fp64]
    devices:
      - name: Test GPU
        type: GPU
        compute_units: 2
      - name: Broken Device
        unavailable: true
`), 0o644))
	cfg := must.M1(LoadConfig(path))
	d, err := New(cfg)
	require.NoError(t, err)
	require.Len(t, d.platforms, 1)
	p := d.platforms[0]
	require.Equal(t, "gocl", p.config.Vendor)
	require.Equal(t, "FULL_PROFILE", p.config.Profile)
	require.Len(t, p.devices, 2)
	gpu := p.devices[0]
	require.Equal(t, driver.DeviceTypeGPU, gpu.typ)
	require.Equal(t, 2, gpu.config.ComputeUnits)
	require.Equal(t, 64, gpu.config.AddressBits)
	require.Equal(t, int64(1<<30), gpu.config.GlobalMemSize)
	require.Equal(t, int64(1<<28), gpu.config.MaxMemAllocSize)
	require.True(t, gpu.hasExtension("cl_khr_fp64"))
	require.Equal(t, "cpu", p.devices[1].config.Type)

	_, status := d.CreateContext([]driver.DeviceID{p.devices[1].id}, nil)
	require.Equal(t, driver.DeviceNotAvailable, status)

	_, err = New(Config{Platforms: []PlatformConfig{{Name: "P", Devices: []DeviceConfig{{Name: "D", Type: "fpga"}}}}})
	require.ErrorContains(t, err, "invalid type")
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestTopology(t *testing.T) {
	d := newTestDriver(t)
	numPlatforms, status := d.GetPlatformIDs(nil)
	require.Equal(t, driver.Success, status)
	require.Equal(t, 2, numPlatforms)
	platforms := make([]driver.PlatformID, numPlatforms)
	_, _ = d.GetPlatformIDs(platforms)

	name := infoString(t, func(dst []byte) (int, driver.Status) {
		return d.GetPlatformInfo(platforms[0], driver.PlatformName, dst)
	})
	require.Equal(t, "Go Host Platform", name)
	extensions := infoString(t, func(dst []byte) (int, driver.Status) {
		return d.GetPlatformInfo(platforms[1], driver.PlatformExtensions, dst)
	})
	require.Equal(t, "cl_khr_icd", extensions)

	numDevices, status := d.GetDeviceIDs(platforms[0], driver.DeviceTypeAll, nil)
	require.Equal(t, driver.Success, status)
	require.Equal(t, 2, numDevices)
	gpus := make([]driver.DeviceID, 1)
	numDevices, status = d.GetDeviceIDs(platforms[0], driver.DeviceTypeGPU, gpus)
	require.Equal(t, driver.Success, status)
	require.Equal(t, 1, numDevices)
	require.Equal(t, "Go Simulated GPU", infoString(t, func(dst []byte) (int, driver.Status) {
		return d.GetDeviceInfo(gpus[0], driver.DeviceName, dst)
	}))
	require.Equal(t, uint64(256), infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetDeviceInfo(gpus[0], driver.DeviceMaxWorkGroupSize, dst)
	}))

	_, status = d.GetDeviceIDs(platforms[1], driver.DeviceTypeGPU, nil)
	require.Equal(t, driver.DeviceNotFound, status)
	_, status = d.GetDeviceIDs(platforms[1], 0, nil)
	require.Equal(t, driver.InvalidDeviceType, status)
	_, status = d.GetDeviceIDs(0, driver.DeviceTypeAll, nil)
	require.Equal(t, driver.InvalidPlatform, status)

	// The first device is the default one.
	defaults := make([]driver.DeviceID, 2)
	numDevices, status = d.GetDeviceIDs(platforms[0], driver.DeviceTypeDefault, defaults)
	require.Equal(t, driver.Success, status)
	require.Equal(t, 1, numDevices)
	typ := driver.DeviceType(infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetDeviceInfo(defaults[0], driver.DeviceTypeInfo, dst)
	}))
	require.Equal(t, driver.DeviceTypeCPU|driver.DeviceTypeDefault, typ)
}

func TestInfoSizeThenFetch(t *testing.T) {
	d := newTestDriver(t)
	platforms := make([]driver.PlatformID, 1)
	_, _ = d.GetPlatformIDs(platforms)
	size, status := d.GetPlatformInfo(platforms[0], driver.PlatformVendor, nil)
	require.Equal(t, driver.Success, status)
	require.Equal(t, len("gocl")+1, size)

	small := make([]byte, 2)
	_, status = d.GetPlatformInfo(platforms[0], driver.PlatformVendor, small)
	require.Equal(t, driver.InvalidValue, status)
	_, status = d.GetPlatformInfo(platforms[0], driver.PlatformInfo(0x1234), nil)
	require.Equal(t, driver.InvalidValue, status)
}

func TestContexts(t *testing.T) {
	d := newTestDriver(t)
	platforms := make([]driver.PlatformID, 2)
	_, _ = d.GetPlatformIDs(platforms)
	hostDevices := make([]driver.DeviceID, 2)
	_, _ = d.GetDeviceIDs(platforms[0], driver.DeviceTypeAll, hostDevices)
	refDevices := make([]driver.DeviceID, 1)
	_, _ = d.GetDeviceIDs(platforms[1], driver.DeviceTypeAll, refDevices)

	_, status := d.CreateContext(nil, nil)
	require.Equal(t, driver.InvalidValue, status)
	_, status = d.CreateContext([]driver.DeviceID{hostDevices[0], refDevices[0]}, nil)
	require.Equal(t, driver.InvalidDevice, status)
	_, status = d.CreateContext([]driver.DeviceID{12345}, nil)
	require.Equal(t, driver.InvalidDevice, status)

	ctx, status := d.CreateContext([]driver.DeviceID{hostDevices[0], hostDevices[1], hostDevices[0]}, nil)
	require.Equal(t, driver.Success, status)
	refCount := func() uint64 {
		return infoUint(t, func(dst []byte) (int, driver.Status) {
			return d.GetContextInfo(ctx, driver.ContextReferenceCount, dst)
		})
	}
	require.Equal(t, uint64(1), refCount())
	require.Equal(t, uint64(2), infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetContextInfo(ctx, driver.ContextNumDevices, dst)
	}))
	require.Equal(t, driver.Success, d.RetainContext(ctx))
	require.Equal(t, uint64(2), refCount())
	require.Equal(t, driver.Success, d.ReleaseContext(ctx))
	require.Equal(t, uint64(1), refCount())
	require.Equal(t, driver.Success, d.ReleaseContext(ctx))
	require.Equal(t, driver.InvalidContext, d.ReleaseContext(ctx))
	_, status = d.GetContextInfo(ctx, driver.ContextReferenceCount, nil)
	require.Equal(t, driver.InvalidContext, status)
}

const vecAddSource = `
__kernel void vecadd(__global const float* a, __global const float* b, __global float* c, const int n) {
	int i = get_global_id(0);
	if (i < n) {
		c[i] = a[i] + b[i];
	}
}

__kernel void scale(__global float* x, float factor) {
	x[get_global_id(0)] *= factor;
}
`

func TestBuildProgram(t *testing.T) {
	env := newTestEnv(t, 0)
	d := env.d

	_, status := d.CreateProgramWithSource(env.ctx, []string{"  \n"})
	require.Equal(t, driver.InvalidValue, status)
	_, status = d.CreateProgramWithSource(env.ctx, []string{"__kernel void f() { char c = 'x; }"})
	require.Equal(t, driver.InvalidValue, status)

	p, status := d.CreateProgramWithSource(env.ctx, []string{vecAddSource})
	require.Equal(t, driver.Success, status)
	_, status = d.GetProgramInfo(p, driver.ProgramNumKernels, nil)
	require.Equal(t, driver.InvalidProgramExecutable, status)
	_, status = d.CreateKernel(p, "vecadd")
	require.Equal(t, driver.InvalidProgramExecutable, status)
	require.Equal(t, driver.BuildNone, driver.BuildStatus(infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetProgramBuildInfo(p, env.device, driver.ProgramBuildStatus, dst)
	})))

	require.Equal(t, driver.InvalidBuildOptions, d.BuildProgram(p, nil, "-D"))
	require.Equal(t, driver.Success, d.BuildProgram(p, nil, "-cl-fast-relaxed-math"))
	require.Equal(t, uint64(2), infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetProgramInfo(p, driver.ProgramNumKernels, dst)
	}))
	require.Equal(t, "vecadd;scale", infoString(t, func(dst []byte) (int, driver.Status) {
		return d.GetProgramInfo(p, driver.ProgramKernelNames, dst)
	}))
	require.Equal(t, "-cl-fast-relaxed-math", infoString(t, func(dst []byte) (int, driver.Status) {
		return d.GetProgramBuildInfo(p, env.device, driver.ProgramBuildOptions, dst)
	}))

	_, status = d.CreateKernel(p, "missing")
	require.Equal(t, driver.InvalidKernelName, status)
	kernels := make([]driver.KernelID, 1)
	_, status = d.CreateKernelsInProgram(p, kernels)
	require.Equal(t, driver.InvalidValue, status)
	kernels = make([]driver.KernelID, 2)
	n, status := d.CreateKernelsInProgram(p, kernels)
	require.Equal(t, driver.Success, status)
	require.Equal(t, 2, n)
	require.Equal(t, "scale", infoString(t, func(dst []byte) (int, driver.Status) {
		return d.GetKernelInfo(kernels[1], driver.KernelFunctionName, dst)
	}))

	// Programs with kernels can't be rebuilt.
	require.Equal(t, driver.InvalidOperation, d.BuildProgram(p, nil, ""))
	for _, k := range kernels {
		require.Equal(t, driver.Success, d.ReleaseKernel(k))
	}
	require.Equal(t, driver.Success, d.BuildProgram(p, nil, ""))
}

func TestBuildFailure(t *testing.T) {
	env := newTestEnv(t, 0)
	d := env.d
	p, status := d.CreateProgramWithSource(env.ctx, []string{"__kernel void f(__global int* a) {\n  a[0] = b;\n}\n"})
	require.Equal(t, driver.Success, status)
	require.Equal(t, driver.BuildProgramFailure, d.BuildProgram(p, nil, ""))
	require.Equal(t, driver.BuildError, driver.BuildStatus(infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetProgramBuildInfo(p, env.device, driver.ProgramBuildStatus, dst)
	})))
	log := env.buildLog(t, p)
	require.Contains(t, log, "<source>:2:10: error: use of undeclared identifier 'b'")
	require.Contains(t, log, "1 error generated.")

	_, status = d.GetProgramBinary(p, env.device, nil)
	require.Equal(t, driver.InvalidProgramExecutable, status)
}

func TestDeviceExtensions(t *testing.T) {
	src := "__kernel void f(__global double* x) { x[0] = 1.0; }"
	d := newTestDriver(t)
	platforms := make([]driver.PlatformID, 2)
	_, _ = d.GetPlatformIDs(platforms)
	for i, wantStatus := range []driver.Status{driver.Success, driver.BuildProgramFailure} {
		devices := make([]driver.DeviceID, 1)
		_, _ = d.GetDeviceIDs(platforms[i], driver.DeviceTypeAll, devices)
		ctx, status := d.CreateContext(devices, nil)
		require.Equal(t, driver.Success, status)
		p, status := d.CreateProgramWithSource(ctx, []string{src})
		require.Equal(t, driver.Success, status)
		require.Equal(t, wantStatus, d.BuildProgram(p, nil, ""))
		require.Equal(t, driver.Success, d.ReleaseContext(ctx))
	}
}

func TestProgramBinary(t *testing.T) {
	env := newTestEnv(t, 0)
	d := env.d
	p := env.build(t, vecAddSource, "-DUNUSED=1")
	size, status := d.GetProgramBinary(p, env.device, nil)
	require.Equal(t, driver.Success, status)
	bin := make([]byte, size)
	_, status = d.GetProgramBinary(p, env.device, bin)
	require.Equal(t, driver.Success, status)

	pb, err := decodeProgramBinary(bin)
	require.NoError(t, err)
	require.Equal(t, "Go Host CPU", pb.device)
	require.Equal(t, "-DUNUSED=1", pb.options)
	require.Equal(t, []string{vecAddSource}, pb.sources)

	p2, status := d.CreateProgramWithBinary(env.ctx, []driver.DeviceID{env.device}, [][]byte{bin})
	require.Equal(t, driver.Success, status)
	require.Equal(t, driver.Success, d.BuildProgram(p2, nil, pb.options))
	_, status = d.CreateKernel(p2, "scale")
	require.Equal(t, driver.Success, status)

	_, status = d.CreateProgramWithBinary(env.ctx, []driver.DeviceID{env.device}, [][]byte{[]byte("garbage")})
	require.Equal(t, driver.InvalidBinary, status)
	other := (&programBinary{device: "Some Other Device", sources: pb.sources}).encode()
	_, status = d.CreateProgramWithBinary(env.ctx, []driver.DeviceID{env.device}, [][]byte{other})
	require.Equal(t, driver.InvalidBinary, status)
	_, status = d.CreateProgramWithBinary(env.ctx, []driver.DeviceID{env.device}, nil)
	require.Equal(t, driver.InvalidValue, status)
}

func TestProgramCache(t *testing.T) {
	env := newTestEnv(t, 0)
	d := env.d
	p1 := env.build(t, vecAddSource, "")
	p2 := env.build(t, vecAddSource, "")
	require.Equal(t, 1, d.programCache.Len())
	require.Same(t, d.programs[p1].build(d.devices[env.device]), d.programs[p2].build(d.devices[env.device]))
	env.build(t, vecAddSource, "-DX=1")
	require.Equal(t, 2, d.programCache.Len())
}

func TestKernelArgs(t *testing.T) {
	env := newTestEnv(t, 0)
	d := env.d
	p := env.build(t, vecAddSource+"__kernel void loc(__local float* tmp, volatile __global int* restrict out) {}\n", "")
	k, status := d.CreateKernel(p, "vecadd")
	require.Equal(t, driver.Success, status)

	require.Equal(t, uint64(4), infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetKernelInfo(k, driver.KernelNumArgs, dst)
	}))
	require.Equal(t, "a", infoString(t, func(dst []byte) (int, driver.Status) {
		return d.GetKernelArgInfo(k, 0, driver.KernelArgName, dst)
	}))
	require.Equal(t, "float*", infoString(t, func(dst []byte) (int, driver.Status) {
		return d.GetKernelArgInfo(k, 0, driver.KernelArgTypeName, dst)
	}))
	require.Equal(t, driver.TypeQualifierConst, infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetKernelArgInfo(k, 0, driver.KernelArgTypeQualifier, dst)
	}))
	require.Equal(t, uint64(driver.AddressGlobal), infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetKernelArgInfo(k, 2, driver.KernelArgAddressQualifier, dst)
	}))
	require.Equal(t, uint64(driver.AddressPrivate), infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetKernelArgInfo(k, 3, driver.KernelArgAddressQualifier, dst)
	}))
	_, status = d.GetKernelArgInfo(k, 4, driver.KernelArgName, nil)
	require.Equal(t, driver.InvalidArgIndex, status)

	m := env.floatBuffer(t, driver.MemReadOnly, []float32{1, 2, 3, 4})
	require.Equal(t, driver.Success, d.SetKernelArg(k, 0, driver.KernelArg{Mem: m}))
	require.Equal(t, driver.InvalidArgIndex, d.SetKernelArg(k, 4, driver.KernelArg{Mem: m}))
	require.Equal(t, driver.InvalidMemObject, d.SetKernelArg(k, 1, driver.KernelArg{Mem: 999999}))
	require.Equal(t, driver.InvalidArgSize, d.SetKernelArg(k, 3, scalar(int64(4))))
	require.Equal(t, driver.Success, d.SetKernelArg(k, 3, scalar(int32(4))))
	require.Equal(t, driver.InvalidArgValue, d.SetKernelArg(k, 3, driver.KernelArg{Mem: m}))

	// Not all arguments are set.
	_, status = d.EnqueueNDRangeKernel(env.queue, k, nil, []int{4}, nil, nil)
	require.Equal(t, driver.InvalidKernelArgs, status)

	loc, status := d.CreateKernel(p, "loc")
	require.Equal(t, driver.Success, status)
	require.Equal(t, uint64(driver.AddressLocal), infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetKernelArgInfo(loc, 0, driver.KernelArgAddressQualifier, dst)
	}))
	require.Equal(t, driver.TypeQualifierVolatile|driver.TypeQualifierRestrict, infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetKernelArgInfo(loc, 1, driver.KernelArgTypeQualifier, dst)
	}))
	require.Equal(t, driver.InvalidArgSize, d.SetKernelArg(loc, 0, driver.KernelArg{}))
	require.Equal(t, driver.Success, d.SetKernelArg(loc, 0, driver.KernelArg{LocalSize: 1 << 20}))
	require.Equal(t, driver.Success, d.SetKernelArg(loc, 1, driver.KernelArg{}))
	_, status = d.EnqueueNDRangeKernel(env.queue, loc, nil, []int{4}, nil, nil)
	require.Equal(t, driver.OutOfResources, status)
}

func TestBuffers(t *testing.T) {
	env := newTestEnv(t, 0)
	d := env.d

	_, status := d.CreateBuffer(env.ctx, driver.MemReadWrite, 0, nil)
	require.Equal(t, driver.InvalidBufferSize, status)
	_, status = d.CreateBuffer(env.ctx, driver.MemReadWrite, 1<<30, nil)
	require.Equal(t, driver.InvalidBufferSize, status)
	_, status = d.CreateBuffer(env.ctx, driver.MemReadWrite|driver.MemReadOnly, 16, nil)
	require.Equal(t, driver.InvalidValue, status)
	_, status = d.CreateBuffer(env.ctx, driver.MemReadWrite, 16, make([]byte, 16))
	require.Equal(t, driver.InvalidHostPtr, status)
	_, status = d.CreateBuffer(env.ctx, driver.MemReadWrite|driver.MemCopyHostPtr, 16, make([]byte, 8))
	require.Equal(t, driver.InvalidHostPtr, status)
	_, status = d.CreateBuffer(0, driver.MemReadWrite, 16, nil)
	require.Equal(t, driver.InvalidContext, status)

	wo, status := d.CreateBuffer(env.ctx, driver.MemWriteOnly, 4, nil)
	require.Equal(t, driver.Success, status)
	buf := make([]byte, 4)
	_, status = d.EnqueueReadBuffer(env.queue, wo, true, 0, buf, nil)
	require.Equal(t, driver.Success, status)
	require.Equal(t, []byte{poisonByte, poisonByte, poisonByte, poisonByte}, buf)
	require.Equal(t, uint64(driver.MemWriteOnly), infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetMemObjectInfo(wo, driver.MemFlagsInfo, dst)
	}))

	host := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	shared, status := d.CreateBuffer(env.ctx, driver.MemUseHostPtr, 8, host)
	require.Equal(t, driver.Success, status)
	require.Equal(t, uint64(8), infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetMemObjectInfo(shared, driver.MemSize, dst)
	}))
	_, status = d.EnqueueWriteBuffer(env.queue, shared, true, 4, []byte{9, 9}, nil)
	require.Equal(t, driver.Success, status)
	require.Equal(t, []byte{1, 2, 3, 4, 9, 9, 7, 8}, host)

	_, status = d.EnqueueReadBuffer(env.queue, shared, true, 4, make([]byte, 8), nil)
	require.Equal(t, driver.InvalidValue, status)
	require.Equal(t, driver.Success, d.ReleaseMemObject(shared))
	require.Equal(t, driver.InvalidMemObject, d.ReleaseMemObject(shared))
	_, status = d.EnqueueReadBuffer(env.queue, shared, true, 0, buf, nil)
	require.Equal(t, driver.InvalidMemObject, status)
}

func TestVecAdd(t *testing.T) {
	for _, props := range []driver.QueueProperties{0, driver.QueueOutOfOrderExecModeEnable} {
		env := newTestEnv(t, props)
		d := env.d
		const n = 1024
		a, b := make([]float32, n), make([]float32, n)
		for i := range a {
			a[i] = float32(i)
			b[i] = float32(n - i)
		}
		bufA := env.floatBuffer(t, driver.MemReadOnly, a)
		bufB := env.floatBuffer(t, driver.MemReadOnly, b)
		bufC, status := d.CreateBuffer(env.ctx, driver.MemWriteOnly, 4*n, nil)
		require.Equal(t, driver.Success, status)

		p := env.build(t, vecAddSource, "")
		vecAdd := must.M1(kernelOrError(d, p, "vecadd"))
		scale := must.M1(kernelOrError(d, p, "scale"))
		for i, arg := range []driver.KernelArg{{Mem: bufA}, {Mem: bufB}, {Mem: bufC}, scalar(int32(n))} {
			require.Equal(t, driver.Success, d.SetKernelArg(vecAdd, i, arg))
		}
		require.Equal(t, driver.Success, d.SetKernelArg(scale, 0, driver.KernelArg{Mem: bufC}))
		require.Equal(t, driver.Success, d.SetKernelArg(scale, 1, scalar(float32(0.5))))

		ev1, status := d.EnqueueNDRangeKernel(env.queue, vecAdd, nil, []int{n}, []int{64}, nil)
		require.Equal(t, driver.Success, status)
		// The out-of-order queue needs the explicit dependency.
		ev2, status := d.EnqueueNDRangeKernel(env.queue, scale, nil, []int{n}, nil, []driver.EventID{ev1})
		require.Equal(t, driver.Success, status)
		barrier, status := d.EnqueueBarrier(env.queue, nil)
		require.Equal(t, driver.Success, status)
		require.Equal(t, driver.Success, d.WaitForEvents([]driver.EventID{ev2, barrier}))
		require.Equal(t, driver.CommandNDRangeKernel, driver.CommandType(infoUint(t, func(dst []byte) (int, driver.Status) {
			return d.GetEventInfo(ev1, driver.EventCommandType, dst)
		})))
		require.Equal(t, driver.ExecComplete, driver.ExecutionStatus(infoUint(t, func(dst []byte) (int, driver.Status) {
			return d.GetEventInfo(ev2, driver.EventCommandExecutionStatus, dst)
		})))

		got := env.readFloats(t, bufC, n)
		for i, v := range got {
			require.Equalf(t, float32(n)/2, v, "element %d", i)
		}
		require.Equal(t, driver.Success, d.Finish(env.queue))
		require.Equal(t, driver.Success, d.Flush(env.queue))
		for _, ev := range []driver.EventID{ev1, ev2, barrier} {
			require.Equal(t, driver.Success, d.ReleaseEvent(ev))
		}
		require.Equal(t, driver.InvalidEvent, d.ReleaseEvent(ev1))
	}
}

func kernelOrError(d *Driver, p driver.ProgramID, name string) (driver.KernelID, error) {
	k, status := d.CreateKernel(p, name)
	if !status.Ok() {
		return 0, errors.Errorf("failed to create kernel %q: %s", name, status)
	}
	return k, nil
}

func TestLaunchGeometry(t *testing.T) {
	env := newTestEnv(t, 0)
	d := env.d
	p := env.build(t, vecAddSource, "")
	k := must.M1(kernelOrError(d, p, "scale"))
	m := env.floatBuffer(t, driver.MemReadWrite, make([]float32, 8))
	require.Equal(t, driver.Success, d.SetKernelArg(k, 0, driver.KernelArg{Mem: m}))
	require.Equal(t, driver.Success, d.SetKernelArg(k, 1, scalar(float32(2))))

	for _, tc := range []struct {
		offset, global, local []int
		want                  driver.Status
	}{
		{nil, nil, nil, driver.InvalidWorkDimension},
		{nil, []int{2, 2, 2, 2}, nil, driver.InvalidWorkDimension},
		{nil, []int{0}, nil, driver.InvalidGlobalWorkSize},
		{nil, []int{8}, []int{3}, driver.InvalidWorkGroupSize},
		{nil, []int{8}, []int{4, 1}, driver.InvalidWorkGroupSize},
		{[]int{1, 1}, []int{8}, nil, driver.InvalidGlobalOffset},
		{nil, []int{2048}, []int{2048}, driver.InvalidWorkGroupSize},
		{nil, []int{8}, []int{4}, driver.Success},
	} {
		ev, status := d.EnqueueNDRangeKernel(env.queue, k, tc.offset, tc.global, tc.local, nil)
		require.Equalf(t, tc.want, status, "offset=%v, global=%v, local=%v", tc.offset, tc.global, tc.local)
		if status.Ok() {
			require.Equal(t, driver.Success, d.WaitForEvents([]driver.EventID{ev}))
		}
	}
}

func TestKernelFault(t *testing.T) {
	env := newTestEnv(t, 0)
	d := env.d
	p := env.build(t, "__kernel void oob(__global int* a) {\n  a[get_global_id(0) + 100] = 1;\n}\n", "")
	k := must.M1(kernelOrError(d, p, "oob"))
	m, status := d.CreateBuffer(env.ctx, driver.MemReadWrite, 16, nil)
	require.Equal(t, driver.Success, status)
	require.Equal(t, driver.Success, d.SetKernelArg(k, 0, driver.KernelArg{Mem: m}))

	ev, status := d.EnqueueNDRangeKernel(env.queue, k, nil, []int{4}, nil, nil)
	require.Equal(t, driver.Success, status)
	require.Equal(t, driver.ExecStatusErrorForEventsInWaitList, d.WaitForEvents([]driver.EventID{ev}))
	require.Equal(t, driver.OutOfResources, driver.Status(int32(infoUint(t, func(dst []byte) (int, driver.Status) {
		return d.GetEventInfo(ev, driver.EventCommandExecutionStatus, dst)
	}))))

	env.mu.Lock()
	require.Len(t, env.errors, 1)
	require.Contains(t, env.errors[0], "out of bounds")
	env.mu.Unlock()

	// Commands waiting on the failed one fail too, without running.
	_, status = d.EnqueueReadBuffer(env.queue, m, true, 0, make([]byte, 16), []driver.EventID{ev})
	require.Equal(t, driver.ExecStatusErrorForEventsInWaitList, status)

	// But the queue keeps working.
	_, status = d.EnqueueReadBuffer(env.queue, m, true, 0, make([]byte, 16), nil)
	require.Equal(t, driver.Success, status)
}

func TestReleasedContext(t *testing.T) {
	env := newTestEnv(t, 0)
	d := env.d
	p := env.build(t, vecAddSource, "")
	k := must.M1(kernelOrError(d, p, "scale"))
	m := env.floatBuffer(t, driver.MemReadWrite, []float32{1, 2})
	require.Equal(t, driver.Success, d.ReleaseContext(env.ctx))

	_, status := d.CreateBuffer(env.ctx, driver.MemReadWrite, 8, nil)
	require.Equal(t, driver.InvalidContext, status)
	require.Equal(t, driver.InvalidKernel, d.SetKernelArg(k, 0, driver.KernelArg{Mem: m}))
	require.Equal(t, driver.InvalidProgram, d.BuildProgram(p, nil, ""))
	require.Equal(t, driver.InvalidMemObject, d.ReleaseMemObject(m))
	require.Equal(t, driver.InvalidCommandQueue, d.Finish(env.queue))
	_, status = d.EnqueueBarrier(env.queue, nil)
	require.Equal(t, driver.InvalidCommandQueue, status)
}
