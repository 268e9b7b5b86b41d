package cl

import (
	"flag"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/gomlx/gocl/cl/host"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

var flagDriver = flag.String("driver", "host", "Driver used by the tests that don't need a specific topology.")

func init() {
	klog.InitFlags(nil)
}

type errTester[T any] struct {
	value T
	err   error
}

// capture is a shortcut to test that there is no error and return the value.
func capture[T any](value T, err error) errTester[T] {
	return errTester[T]{value, err}
}

func (e errTester[T]) Test(t *testing.T) T {
	require.NoError(t, e.err)
	return e.value
}

// mockDriver wraps a host driver, to inject failures and count calls.
type mockDriver struct {
	*host.Driver

	// failPlatformInfo makes GetPlatformInfo fail for this platform.
	failPlatformInfo driver.PlatformID

	launches atomic.Int32

	// releases counts the release calls of objects created in contexts, by kind.
	releasesMu sync.Mutex
	releases   map[string]int
}

func (m *mockDriver) countRelease(kind string) {
	m.releasesMu.Lock()
	defer m.releasesMu.Unlock()
	if m.releases == nil {
		m.releases = make(map[string]int)
	}
	m.releases[kind]++
}

func (m *mockDriver) releaseCounts() map[string]int {
	m.releasesMu.Lock()
	defer m.releasesMu.Unlock()
	counts := make(map[string]int, len(m.releases))
	for kind, n := range m.releases {
		counts[kind] = n
	}
	return counts
}

func (m *mockDriver) ReleaseProgram(id driver.ProgramID) driver.Status {
	m.countRelease("program")
	return m.Driver.ReleaseProgram(id)
}

func (m *mockDriver) ReleaseKernel(id driver.KernelID) driver.Status {
	m.countRelease("kernel")
	return m.Driver.ReleaseKernel(id)
}

func (m *mockDriver) ReleaseMemObject(id driver.MemID) driver.Status {
	m.countRelease("mem")
	return m.Driver.ReleaseMemObject(id)
}

func (m *mockDriver) ReleaseCommandQueue(id driver.QueueID) driver.Status {
	m.countRelease("queue")
	return m.Driver.ReleaseCommandQueue(id)
}

func (m *mockDriver) ReleaseEvent(id driver.EventID) driver.Status {
	m.countRelease("event")
	return m.Driver.ReleaseEvent(id)
}

func newMockDriver(t *testing.T, cfg host.Config) *mockDriver {
	drv, err := host.New(cfg)
	require.NoError(t, err)
	return &mockDriver{Driver: drv}
}

func (m *mockDriver) GetPlatformInfo(id driver.PlatformID, param driver.PlatformInfo, dst []byte) (int, driver.Status) {
	if id == m.failPlatformInfo {
		return 0, driver.OutOfHostMemory
	}
	return m.Driver.GetPlatformInfo(id, param, dst)
}

func (m *mockDriver) EnqueueNDRangeKernel(queue driver.QueueID, kernel driver.KernelID, globalOffset, globalSize, localSize []int,
	waitList []driver.EventID) (driver.EventID, driver.Status) {
	m.launches.Add(1)
	return m.Driver.EnqueueNDRangeKernel(queue, kernel, globalOffset, globalSize, localSize, waitList)
}

// platformIDs lists the platforms straight from the driver.
func platformIDs(t *testing.T, drv driver.Driver) []driver.PlatformID {
	count, status := drv.GetPlatformIDs(nil)
	require.Equal(t, driver.Success, status)
	ids := make([]driver.PlatformID, count)
	_, status = drv.GetPlatformIDs(ids)
	require.Equal(t, driver.Success, status)
	return ids
}

// openRuntime opens the driver selected with -driver.
func openRuntime(t *testing.T) *Runtime {
	return capture(Open(*flagDriver)).Test(t)
}

// newTestContext creates a context with the first device of the runtime, and releases it at the end of the test.
func newTestContext(t *testing.T, rt *Runtime) *Context {
	devices := capture(rt.Devices(DeviceAll)).Test(t)
	ctx := capture(rt.NewContext(devices[0])).Test(t)
	t.Cleanup(func() { _ = ctx.Release() })
	return ctx
}

// errorCollector collects the asynchronous errors reported to a context.
type errorCollector struct {
	mu     sync.Mutex
	errors []string
}

func (c *errorCollector) notify(errInfo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, errInfo)
}

func (c *errorCollector) collected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.errors...)
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

// buildModule creates and builds a module from the sources, failing the test with the build log otherwise.
func buildModule(t *testing.T, ctx *Context, sources ...string) *Module {
	m := capture(ctx.NewModule(sources...)).Test(t)
	require.NoError(t, m.Build().Done())
	t.Cleanup(func() { _ = m.Release() })
	return m
}
