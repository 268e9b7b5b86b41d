package cl

import (
	"strings"
	"testing"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/gomlx/gocl/cl/host"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestFindKernel(t *testing.T) {
	ctx := newTestContext(t, openRuntime(t))
	m := buildModule(t, ctx, vecAddSource)

	alive := KernelsAlive()
	k := capture(m.FindKernel("scale")).Test(t)
	require.NotNil(t, k)
	require.Equal(t, "scale", k.Name())
	require.Equal(t, 2, k.NumArgs())
	// The other kernels were released.
	require.Equal(t, alive+1, KernelsAlive())
	require.NoError(t, k.Release())
	require.NoError(t, k.Release())
	require.Equal(t, alive, KernelsAlive())

	k = capture(m.FindKernel("missing")).Test(t)
	require.Nil(t, k)
	require.Equal(t, alive, KernelsAlive())

	// Prefixes don't match.
	require.Nil(t, capture(m.FindKernel("vec")).Test(t))

	_, err := m.FindKernel(strings.Repeat("k", MaxKernelNameLength+1))
	require.True(t, errors.Is(err, ErrNameTooLong))
	require.Nil(t, capture(m.FindKernel(strings.Repeat("k", MaxKernelNameLength))).Test(t))

	kernels := capture(m.Kernels()).Test(t)
	require.Len(t, kernels, 2)
	require.Equal(t, "vecadd", kernels[0].Name())
	require.Equal(t, 4, kernels[0].NumArgs())
	for _, k := range kernels {
		require.NoError(t, k.Release())
	}

	_, err = m.NewKernel("missing")
	require.Error(t, err)
}

func TestKernelArgs(t *testing.T) {
	ctx := newTestContext(t, openRuntime(t))
	m := buildModule(t, ctx, vecAddSource)
	k := capture(m.NewKernel("vecadd")).Test(t)
	defer func() { require.NoError(t, k.Release()) }()

	info := capture(k.ArgInfo(0)).Test(t)
	require.Equal(t, "a", info.Name)
	require.Equal(t, driver.AddressGlobal, info.Address)
	require.NotZero(t, info.TypeQualifier&driver.TypeQualifierConst)
	require.Contains(t, info.TypeName, "float")
	info = capture(k.ArgInfo(3)).Test(t)
	require.Equal(t, "n", info.Name)
	require.Equal(t, "int", info.TypeName)

	b := capture(NewArrayBuffer[float32](ctx, ReadOnly, 16)).Test(t)
	defer func() { require.NoError(t, b.Release()) }()
	require.NoError(t, k.SetArg(0, b))
	require.Error(t, k.SetArg(4, b))
	require.Error(t, k.SetArg(-1, b))

	// Scalars: the kernel int is 32 bits.
	require.NoError(t, k.SetArg(3, int32(16)))
	require.Error(t, k.SetArg(3, 16))
	require.Error(t, k.SetArg(3, float64(16)))
	require.NoError(t, SetScalarArg(k, 3, int32(8)))
	require.NoError(t, k.SetArg(3, []byte{1, 0, 0, 0}))
	require.Error(t, k.SetArg(3, "16"))
	require.Error(t, k.SetArg(3, b))

	// Pointer arguments can't take scalars, but can be null.
	require.Error(t, k.SetArg(1, float32(1)))
	require.NoError(t, k.SetArg(1, (*Buffer)(nil)))
	require.Equal(t, []int{2}, k.unbound())

	// Buffers of other contexts are rejected.
	other := newTestContext(t, ctx.Runtime())
	otherBuffer := capture(NewArrayBuffer[float32](other, ReadWrite, 16)).Test(t)
	defer func() { require.NoError(t, otherBuffer.Release()) }()
	require.Error(t, k.SetArg(2, otherBuffer))

	// And released buffers.
	released := capture(NewArrayBuffer[float32](ctx, ReadWrite, 16)).Test(t)
	require.NoError(t, released.Release())
	require.True(t, errors.Is(k.SetArg(2, released), ErrReleased))
}

func TestLocalMemoryArg(t *testing.T) {
	ctx := newTestContext(t, openRuntime(t))
	m := buildModule(t, ctx, `
__kernel void reverse(__global float* x, __local float* scratch) {
	int i = get_local_id(0);
	int n = get_local_size(0);
	int base = get_group_id(0) * n;
	scratch[i] = x[base + i];
	barrier(CLK_LOCAL_MEM_FENCE);
	x[base + i] = scratch[n - 1 - i];
}
`)
	k := capture(m.NewKernel("reverse")).Test(t)
	defer func() { require.NoError(t, k.Release()) }()
	require.Error(t, k.SetArg(1, LocalMemory(0)))
	require.NoError(t, k.SetArg(1, LocalMemory(4*4)))

	device := ctx.Devices()[0]
	q := capture(ctx.NewQueue(device, InOrder)).Test(t)
	defer func() { require.NoError(t, q.Release()) }()
	b := capture(ArrayToBuffer(ctx, ReadWrite, []float32{0, 1, 2, 3, 4, 5, 6, 7})).Test(t)
	defer func() { require.NoError(t, b.Release()) }()
	require.NoError(t, k.SetArg(0, b))
	require.NoError(t, capture(q.EnqueueKernel(k, []int{8}, []int{4})).Test(t).AwaitAndRelease())
	require.Equal(t, []float32{3, 2, 1, 0, 7, 6, 5, 4}, capture(BufferToArray[float32](q, b)).Test(t))
}

func TestUnboundArgument(t *testing.T) {
	drv := newMockDriver(t, host.DefaultConfig())
	rt := NewRuntime(drv)
	ctx := newTestContext(t, rt)
	m := buildModule(t, ctx, vecAddSource)
	k := capture(m.NewKernel("vecadd")).Test(t)
	defer func() { require.NoError(t, k.Release()) }()
	q := capture(ctx.NewQueue(ctx.Devices()[0], InOrder)).Test(t)
	defer func() { require.NoError(t, q.Release()) }()

	a := capture(ArrayToBuffer(ctx, ReadOnly, []float32{1, 2, 3, 4})).Test(t)
	defer func() { require.NoError(t, a.Release()) }()
	require.NoError(t, k.SetArg(0, a))
	require.NoError(t, k.SetArg(3, int32(4)))

	_, err := q.EnqueueKernel(k, []int{4}, nil)
	require.True(t, errors.Is(err, ErrUnboundArgument))
	require.Contains(t, err.Error(), "[1 2]")
	require.Zero(t, drv.launches.Load())

	c := capture(NewArrayBuffer[float32](ctx, WriteOnly, 4)).Test(t)
	require.NoError(t, k.SetArgs(a, a, c, int32(4)))
	require.NoError(t, capture(q.EnqueueKernel(k, []int{4}, nil)).Test(t).AwaitAndRelease())
	require.Equal(t, int32(1), drv.launches.Load())
	require.Equal(t, []float32{2, 4, 6, 8}, capture(BufferToArray[float32](q, c)).Test(t))

	// A bound buffer released since binding fails the launch, again without reaching the driver.
	require.NoError(t, c.Release())
	_, err = q.EnqueueKernel(k, []int{4}, nil)
	require.True(t, errors.Is(err, ErrReleased))
	require.Equal(t, int32(1), drv.launches.Load())
}
