//go:build opencl && linux

package opencl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gocl/cl"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestLdConfPaths(t *testing.T) {
	dir := t.TempDir()
	must.M(os.Mkdir(filepath.Join(dir, "conf.d"), 0o755))
	must.M(os.WriteFile(filepath.Join(dir, "ld.so.conf"), []byte(
		"# comment\n/opt/first\ninclude conf.d/*.conf\n\n  /opt/last  \n"), 0o644))
	must.M(os.WriteFile(filepath.Join(dir, "conf.d", "a.conf"), []byte("/opt/a\n"), 0o644))
	must.M(os.WriteFile(filepath.Join(dir, "conf.d", "b.conf"), []byte("/opt/b\n# include loop\ninclude ../ld.so.conf\n"), 0o644))
	paths := ldConfPaths(filepath.Join(dir, "ld.so.conf"), make(map[string]bool))
	require.Equal(t, []string{"/opt/first", "/opt/a", "/opt/b", "/opt/last"}, paths)
}

func TestNotifiers(t *testing.T) {
	var got []string
	key := registerNotifier(func(errInfo string) { got = append(got, errInfo) })
	other := registerNotifier(func(string) {})
	require.NotZero(t, key)
	require.NotEqual(t, key, other)
	lookupNotifier(key)("kernel fault")
	require.Equal(t, []string{"kernel fault"}, got)

	// Callbacks after the context is gone are dropped.
	unregisterNotifier(key)
	require.Nil(t, lookupNotifier(key))
	require.NotNil(t, lookupNotifier(other))
	unregisterNotifier(other)
	unregisterNotifier(0)
}

// TestVecAdd runs on the first OpenCL device of the machine, if there is one.
func TestVecAdd(t *testing.T) {
	if _, err := openLibrary(); err != nil {
		t.Skipf("no OpenCL ICD loader: %v", err)
	}
	rt, err := cl.Open(DriverName)
	require.NoError(t, err)
	require.Equal(t, DriverName, rt.Driver().Name())
	devices, err := rt.Devices(cl.DeviceAll)
	if err != nil {
		t.Skipf("no OpenCL devices: %v", err)
	}
	device := devices[0]
	t.Logf("running on %s", device)

	ctx, err := rt.CreateContext().WithDevices(device).Done()
	require.NoError(t, err)
	defer func() { require.NoError(t, ctx.Release()) }()
	module, err := ctx.NewModule(`
__kernel void vecadd(__global const float* a, __global const float* b, __global float* c) {
	int i = get_global_id(0);
	c[i] = a[i] + b[i];
}`)
	require.NoError(t, err)
	require.NoError(t, module.Build().Done())
	kernel, err := module.NewKernel("vecadd")
	require.NoError(t, err)
	queue, err := ctx.NewQueue(device, cl.InOrder)
	require.NoError(t, err)

	const n = 256
	a, b := make([]float32, n), make([]float32, n)
	for i := range a {
		a[i], b[i] = float32(i), float32(n-i)
	}
	bufA := must.M1(cl.ArrayToBuffer(ctx, cl.ReadOnly, a))
	bufB := must.M1(cl.ArrayToBuffer(ctx, cl.ReadOnly, b))
	bufC := must.M1(cl.NewArrayBuffer[float32](ctx, cl.WriteOnly, n))
	require.NoError(t, kernel.SetArgs(bufA, bufB, bufC))
	done, err := queue.EnqueueKernel(kernel, []int{n}, nil)
	require.NoError(t, err)
	c, err := cl.BufferToArray[float32](queue, bufC, done)
	require.NoError(t, err)
	for i, v := range c {
		require.Equalf(t, float32(n), v, "c[%d]", i)
	}
	require.NoError(t, done.Release())

	binaries, err := module.Binaries()
	require.NoError(t, err)
	require.NotEmpty(t, binaries[device])

	for _, release := range []func() error{bufA.Release, bufB.Release, bufC.Release, queue.Release, kernel.Release, module.Release} {
		require.NoError(t, release())
	}
}
