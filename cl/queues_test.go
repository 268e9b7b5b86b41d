package cl

import (
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/gomlx/gocl/cl/host"
	"github.com/gomlx/gocl/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestVecAdd(t *testing.T) {
	const n = 1024
	for _, ordering := range []Ordering{InOrder, OutOfOrder} {
		t.Run(ordering.String(), func(t *testing.T) {
			rt := openRuntime(t)
			devices := capture(rt.Devices(DeviceAll)).Test(t)
			ctx := capture(rt.NewContext(devices[0])).Test(t)
			defer func() { require.NoError(t, ctx.Release()) }()
			m := buildModule(t, ctx, vecAddSource)
			vecadd := capture(m.FindKernel("vecadd")).Test(t)
			require.NotNil(t, vecadd)
			defer func() { require.NoError(t, vecadd.Release()) }()
			scale := capture(m.FindKernel("scale")).Test(t)
			defer func() { require.NoError(t, scale.Release()) }()

			a, b := make([]float32, n), make([]float32, n)
			for i := range a {
				a[i] = float32(i)
				b[i] = float32(n - i)
			}
			bufA := capture(ArrayToBuffer(ctx, ReadOnly, a)).Test(t)
			defer func() { require.NoError(t, bufA.Release()) }()
			bufB := capture(NewArrayBuffer[float32](ctx, ReadOnly, n)).Test(t)
			defer func() { require.NoError(t, bufB.Release()) }()
			bufC := capture(NewArrayBuffer[float32](ctx, ReadWrite, n)).Test(t)
			defer func() { require.NoError(t, bufC.Release()) }()
			require.Equal(t, dtypes.Float32, bufC.DType())
			require.Equal(t, 4*n, bufC.Size())

			q := capture(ctx.NewQueue(devices[0], ordering)).Test(t)
			defer func() { require.NoError(t, q.Release()) }()
			require.Equal(t, ordering, q.Ordering())

			raw, _ := dtypes.FlatToRaw(b)
			written := capture(q.EnqueueWrite(bufB, raw, false)).Test(t)
			require.NoError(t, vecadd.SetArgs(bufA, bufB, bufC, int32(n)))
			require.NoError(t, scale.SetArgs(bufC, float32(0.5)))
			added := capture(q.EnqueueKernel(vecadd, []int{n}, []int{64}, written)).Test(t)
			scaled := capture(q.EnqueueKernel(scale, []int{n}, nil, added)).Test(t)
			require.NoError(t, WaitForEvents(written, added, scaled))
			for _, e := range []*Event{written, added, scaled} {
				require.Equal(t, driver.ExecComplete, capture(e.Status()).Test(t))
				require.NoError(t, e.Release())
			}
			require.Equal(t, driver.CommandNDRangeKernel, added.CommandType())

			c := capture(BufferToArray[float32](q, bufC)).Test(t)
			require.Len(t, c, n)
			for i, v := range c {
				require.Equalf(t, float32(n)/2, v, "c[%d]", i)
			}
		})
	}
}

func TestConversionBuiltins(t *testing.T) {
	ctx := newTestContext(t, openRuntime(t))
	m := buildModule(t, ctx, `
__kernel void conversions(__global int* ints, __global float* floats, float x) {
	ints[0] = convert_int(x);
	ints[1] = convert_int_rte(x);
	ints[2] = convert_int_sat(x * 1e10f);
	ints[3] = as_int(1.0f);
	floats[0] = as_float(0x40000000);
	floats[1] = convert_float(ints[0]) + 0.5f;
}
`)
	k := capture(m.NewKernel("conversions")).Test(t)
	defer func() { require.NoError(t, k.Release()) }()
	ints := capture(NewArrayBuffer[int32](ctx, ReadWrite, 4)).Test(t)
	defer func() { require.NoError(t, ints.Release()) }()
	floats := capture(NewArrayBuffer[float32](ctx, WriteOnly, 2)).Test(t)
	defer func() { require.NoError(t, floats.Release()) }()
	require.NoError(t, k.SetArgs(ints, floats, float32(2.5)))

	q := capture(ctx.NewQueue(ctx.Devices()[0], InOrder)).Test(t)
	defer func() { require.NoError(t, q.Release()) }()
	done := capture(q.EnqueueKernel(k, []int{1}, nil)).Test(t)
	require.NoError(t, done.AwaitAndRelease())
	require.Equal(t, []int32{2, 2, math.MaxInt32, 0x3f800000}, capture(BufferToArray[int32](q, ints)).Test(t))
	require.Equal(t, []float32{2, 2.5}, capture(BufferToArray[float32](q, floats)).Test(t))
}

func TestOutOfOrderBarrier(t *testing.T) {
	rt := openRuntime(t)
	ctx := newTestContext(t, rt)
	device := ctx.Devices()[0]
	m := buildModule(t, ctx, vecAddSource)
	scale := capture(m.NewKernel("scale")).Test(t)
	defer func() { require.NoError(t, scale.Release()) }()
	q := capture(ctx.NewQueue(device, OutOfOrder)).Test(t)
	defer func() { require.NoError(t, q.Release()) }()

	x := capture(ArrayToBuffer(ctx, ReadWrite, []float32{1, 2, 3, 4})).Test(t)
	defer func() { require.NoError(t, x.Release()) }()
	require.NoError(t, scale.SetArgs(x, float32(2)))

	// Each barrier orders the scales, which would otherwise be free to run concurrently.
	for range 3 {
		e := capture(q.EnqueueKernel(scale, []int{4}, nil)).Test(t)
		require.NoError(t, e.Release())
		barrier := capture(q.EnqueueBarrier()).Test(t)
		require.Equal(t, driver.CommandBarrier, barrier.CommandType())
		require.NoError(t, barrier.Release())
	}
	require.NoError(t, q.Flush())
	require.NoError(t, q.Finish())
	require.Equal(t, []float32{8, 16, 24, 32}, capture(BufferToArray[float32](q, x)).Test(t))
}

func TestTransfers(t *testing.T) {
	ctx := newTestContext(t, openRuntime(t))
	q := capture(ctx.NewQueue(ctx.Devices()[0], InOrder)).Test(t)
	defer func() { require.NoError(t, q.Release()) }()

	b := capture(NewArrayBuffer[int32](ctx, ReadWrite, 4)).Test(t)
	defer func() { require.NoError(t, b.Release()) }()
	require.NoError(t, WriteBuffer(q, b, []int32{1, 2, 3, 4}))
	prefix := make([]int32, 2)
	require.NoError(t, ReadBuffer(q, b, prefix))
	require.Equal(t, []int32{1, 2}, prefix)

	// Larger than the buffer.
	err := ReadBuffer(q, b, make([]int32, 5))
	require.True(t, errors.Is(err, ErrTransfer))
	err = WriteBuffer(q, b, make([]int32, 5))
	require.True(t, errors.Is(err, ErrTransfer))
	_, err = q.EnqueueRead(b, nil, true)
	require.True(t, errors.Is(err, ErrTransfer))

	// Non-blocking read, completed by its event.
	dst := make([]byte, 16)
	e := capture(q.EnqueueRead(b, dst, false)).Test(t)
	require.NoError(t, e.AwaitAndRelease())
	require.Equal(t, []int32{1, 2, 3, 4}, bytesToInt32(dst))

	// Released buffers.
	released := capture(ctx.NewBufferOfSize(ReadWrite, 16)).Test(t)
	require.NoError(t, released.Release())
	err = ReadBuffer(q, released, prefix)
	require.True(t, errors.Is(err, ErrTransfer))
	require.True(t, errors.Is(err, ErrReleased))
}

func bytesToInt32(raw []byte) []int32 {
	values := make([]int32, len(raw)/4)
	for i := range values {
		values[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return values
}

func TestBufferConfig(t *testing.T) {
	ctx := newTestContext(t, openRuntime(t))
	alive := BuffersAlive()

	_, err := ctx.NewBuffer().Done()
	require.Error(t, err)
	_, err = ctx.NewBuffer().WithSize(0).Done()
	require.Error(t, err)
	_, err = ctx.NewBuffer().WithAccess(WriteOnly).FromFlatData([]float32{1}).Done()
	require.Error(t, err)
	_, err = ctx.NewBuffer().FromFlatData([]string{"a"}).Done()
	require.Error(t, err)
	_, err = ctx.NewBuffer().WithSize(4).FromFlatData([]float64{1, 2}).Done()
	require.Error(t, err)
	_, err = ctx.NewBuffer().WithAccess(AccessMode(7)).WithSize(4).Done()
	require.Error(t, err)
	require.Equal(t, alive, BuffersAlive())

	q := capture(ctx.NewQueue(ctx.Devices()[0], InOrder)).Test(t)
	defer func() { require.NoError(t, q.Release()) }()

	// Initial contents smaller than the size are zero padded.
	b := capture(ctx.NewBuffer().WithSize(16).FromFlatData([]int32{7, 8}).Done()).Test(t)
	require.Equal(t, alive+1, BuffersAlive())
	require.Equal(t, dtypes.Int32, b.DType())
	require.Equal(t, ReadWrite, b.Access())
	require.Equal(t, []int32{7, 8, 0, 0}, capture(BufferToArray[int32](q, b)).Test(t))
	require.Equal(t, "Buffer(ReadWrite, 4 x Int32)", b.String())
	require.NoError(t, b.Release())
	require.NoError(t, b.Release())
	require.Equal(t, alive, BuffersAlive())

	// The host data is copied: later changes don't affect the buffer.
	data := []float32{1, 2}
	b = capture(ArrayToBuffer(ctx, ReadOnly, data)).Test(t)
	defer func() { require.NoError(t, b.Release()) }()
	data[0] = 100
	require.Equal(t, []float32{1, 2}, capture(BufferToArray[float32](q, b)).Test(t))
}

func TestReleasedContextObjects(t *testing.T) {
	rt := openRuntime(t)
	devices := capture(rt.Devices(DeviceAll)).Test(t)
	ctx := capture(rt.NewContext(devices[0])).Test(t)
	m := buildModule(t, ctx, vecAddSource)
	k := capture(m.NewKernel("scale")).Test(t)
	b := capture(NewArrayBuffer[float32](ctx, ReadWrite, 4)).Test(t)
	q := capture(ctx.NewQueue(devices[0], InOrder)).Test(t)
	require.NoError(t, k.SetArgs(b, float32(2)))
	e := capture(q.EnqueueKernel(k, []int{4}, nil)).Test(t)
	require.NoError(t, e.Await())
	require.NoError(t, ctx.Release())

	for i, err := range []error{
		k.SetArg(0, b),
		func() error { _, err := q.EnqueueKernel(k, []int{4}, nil); return err }(),
		func() error { _, err := m.Kernels(); return err }(),
		q.Finish(),
		e.Await(),
		WriteBuffer(q, b, []float32{1, 2, 3, 4}),
		func() error { _, err := ctx.NewQueue(devices[0], InOrder); return err }(),
	} {
		require.Truef(t, errors.Is(err, ErrReleased), "#%d: %v", i, err)
	}

	// Releasing them is a no-op.
	for _, release := range []func() error{e.Release, q.Release, b.Release, k.Release, m.Release} {
		require.NoError(t, release())
	}
}

func TestContextReleasesChildren(t *testing.T) {
	drv := newMockDriver(t, host.DefaultConfig())
	rt := NewRuntime(drv)
	devices := capture(rt.Devices(DeviceAll)).Test(t)
	ctx := capture(rt.NewContext(devices[0])).Test(t)

	m := capture(ctx.NewModule(vecAddSource)).Test(t)
	require.NoError(t, m.Build().Done())
	k := capture(m.NewKernel("scale")).Test(t)
	b := capture(NewArrayBuffer[float32](ctx, ReadWrite, 4)).Test(t)
	q := capture(ctx.NewQueue(devices[0], InOrder)).Test(t)
	require.NoError(t, k.SetArgs(b, float32(2)))
	e := capture(q.EnqueueKernel(k, []int{4}, nil)).Test(t)
	require.NoError(t, e.Await())

	// A retained context keeps its objects.
	require.NoError(t, ctx.Retain())
	require.NoError(t, ctx.Release())
	require.Empty(t, drv.releaseCounts())
	require.NoError(t, q.Finish())

	// The last release frees every object still alive in the driver, exactly once.
	require.NoError(t, ctx.Release())
	want := map[string]int{"program": 1, "kernel": 1, "mem": 1, "queue": 1, "event": 1}
	require.Equal(t, want, drv.releaseCounts())
	for _, release := range []func() error{e.Release, q.Release, b.Release, k.Release, m.Release} {
		require.NoError(t, release())
	}
	require.Equal(t, want, drv.releaseCounts())

	// Objects released before the context are not released again.
	ctx = capture(rt.NewContext(devices[0])).Test(t)
	b = capture(NewArrayBuffer[float32](ctx, ReadWrite, 4)).Test(t)
	require.NoError(t, b.Release())
	require.NoError(t, ctx.Release())
	require.Equal(t, 2, drv.releaseCounts()["mem"])
}

func TestQueueErrors(t *testing.T) {
	rt := openRuntime(t)
	devices := capture(rt.Devices(DeviceAll)).Test(t)
	ctx := capture(rt.NewContext(devices[0])).Test(t)
	defer func() { require.NoError(t, ctx.Release()) }()
	if len(devices) > 1 {
		_, err := ctx.NewQueue(devices[len(devices)-1], InOrder)
		require.Error(t, err)
	}
	_, err := ctx.NewQueue(devices[0], Ordering(3))
	require.Error(t, err)

	m := buildModule(t, ctx, vecAddSource)
	k := capture(m.NewKernel("scale")).Test(t)
	defer func() { require.NoError(t, k.Release()) }()
	b := capture(NewArrayBuffer[float32](ctx, ReadWrite, 4)).Test(t)
	defer func() { require.NoError(t, b.Release()) }()
	require.NoError(t, k.SetArgs(b, float32(2)))
	q := capture(ctx.NewQueue(devices[0], InOrder)).Test(t)
	defer func() { require.NoError(t, q.Release()) }()

	for _, geometry := range []struct{ global, local []int }{
		{nil, nil},
		{[]int{1, 1, 1, 1}, nil},
		{[]int{4}, []int{4, 1}},
		{[]int{4}, []int{3}},
		{[]int{0}, nil},
	} {
		_, err := q.EnqueueKernel(k, geometry.global, geometry.local)
		require.Error(t, err, fmt.Sprintf("global=%v, local=%v", geometry.global, geometry.local))
	}

	// Events of other contexts can't be waited on.
	other := newTestContext(t, rt)
	otherQueue := capture(other.NewQueue(devices[0], InOrder)).Test(t)
	defer func() { require.NoError(t, otherQueue.Release()) }()
	barrier := capture(otherQueue.EnqueueBarrier()).Test(t)
	defer func() { require.NoError(t, barrier.Release()) }()
	_, err = q.EnqueueKernel(k, []int{4}, nil, barrier)
	require.Error(t, err)
	e := capture(q.EnqueueBarrier()).Test(t)
	defer func() { require.NoError(t, e.Release()) }()
	require.Error(t, WaitForEvents(e, barrier))
	require.NoError(t, WaitForEvents())
}

func TestNilStrings(t *testing.T) {
	var (
		m *Module
		b *Buffer
		k *Kernel
		q *Queue
		e *Event
	)
	require.Equal(t, "Module(nil)", m.String())
	require.Equal(t, "Buffer(nil)", b.String())
	require.Equal(t, "Kernel(nil)", k.String())
	require.Equal(t, "Queue(nil)", q.String())
	require.Equal(t, "Event(nil)", e.String())
}
