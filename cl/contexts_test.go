package cl

import (
	"testing"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/gomlx/gocl/cl/host"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestContextCreation(t *testing.T) {
	rt := NewRuntime(newMockDriver(t, host.DefaultConfig()))
	all := capture(rt.Devices(DeviceAll)).Test(t)
	cpu, gpu, accelerator := all[0], all[1], all[2]

	_, err := rt.NewContext()
	require.True(t, errors.Is(err, ErrContextCreation))

	// Devices of different platforms.
	_, err = rt.NewContext(cpu, accelerator)
	require.True(t, errors.Is(err, ErrContextCreation))

	_, err = rt.CreateContext().WithDevices(cpu, nil).Done()
	require.True(t, errors.Is(err, ErrContextCreation))

	// Devices of another runtime.
	other := NewRuntime(newMockDriver(t, host.DefaultConfig()))
	_, err = other.NewContext(cpu)
	require.True(t, errors.Is(err, ErrContextCreation))

	alive := ContextsAlive()
	ctx := capture(rt.CreateContext().WithDevices(cpu, gpu, cpu).Done()).Test(t)
	require.Equal(t, alive+1, ContextsAlive())
	require.Equal(t, []*Device{cpu, gpu}, ctx.Devices())
	require.True(t, ctx.HasDevice(gpu))
	require.False(t, ctx.HasDevice(accelerator))
	require.Same(t, cpu.Platform(), ctx.Platform())
	require.NoError(t, ctx.Release())
	require.Equal(t, alive, ContextsAlive())
}

func TestContextReferenceCount(t *testing.T) {
	rt := openRuntime(t)
	devices := capture(rt.Devices(DeviceAll)).Test(t)
	ctx := capture(rt.NewContext(devices[0])).Test(t)
	require.Equal(t, 1, capture(ctx.ReferenceCount()).Test(t))

	require.NoError(t, ctx.Retain())
	require.Equal(t, 2, capture(ctx.ReferenceCount()).Test(t))
	require.NoError(t, ctx.Release())
	require.Equal(t, 1, capture(ctx.ReferenceCount()).Test(t))

	require.NoError(t, ctx.Retain())
	require.NoError(t, ctx.Release())
	require.NoError(t, ctx.Release())

	// Released as many times as retained plus one: the context is gone.
	_, err := ctx.ReferenceCount()
	require.True(t, errors.Is(err, ErrReleased))
	require.True(t, errors.Is(ctx.Retain(), ErrReleased))
	require.True(t, errors.Is(ctx.Release(), ErrReleased))
	_, err = ctx.NewModule(vecAddSource)
	require.True(t, errors.Is(err, ErrReleased))
}

func TestErrorCallback(t *testing.T) {
	rt := openRuntime(t)
	devices := capture(rt.Devices(DeviceAll)).Test(t)
	var collector errorCollector
	ctx := capture(rt.CreateContext().WithDevices(devices[0]).WithErrorCallback(collector.notify).Done()).Test(t)
	defer func() { require.NoError(t, ctx.Release()) }()

	m := buildModule(t, ctx, "__kernel void oob(__global int* a) {\n  a[get_global_id(0) + 100] = 1;\n}\n")
	k := capture(m.NewKernel("oob")).Test(t)
	defer func() { require.NoError(t, k.Release()) }()
	b := capture(NewArrayBuffer[int32](ctx, ReadWrite, 4)).Test(t)
	defer func() { require.NoError(t, b.Release()) }()
	require.NoError(t, k.SetArg(0, b))
	q := capture(ctx.NewQueue(devices[0], InOrder)).Test(t)
	defer func() { require.NoError(t, q.Release()) }()
	e := capture(q.EnqueueKernel(k, []int{4}, nil)).Test(t)
	err := e.AwaitAndRelease()
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, driver.OutOfResources, statusErr.Status)
	require.NoError(t, q.Finish())

	reported := collector.collected()
	require.Len(t, reported, 1)
	require.Contains(t, reported[0], "out of bounds")
}
