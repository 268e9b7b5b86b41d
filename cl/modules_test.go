package cl

import (
	"strings"
	"testing"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestModuleCreation(t *testing.T) {
	ctx := newTestContext(t, openRuntime(t))
	_, err := ctx.NewModule()
	require.True(t, errors.Is(err, ErrModuleCreation))
	_, err = ctx.NewModule("", "  \n\t")
	require.True(t, errors.Is(err, ErrModuleCreation))

	// Not built yet.
	m := capture(ctx.NewModule(vecAddSource)).Test(t)
	defer func() { require.NoError(t, m.Release()) }()
	_, err = m.Kernels()
	require.True(t, errors.Is(err, ErrInvalidModuleState))
	_, err = m.NewKernel("vecadd")
	require.True(t, errors.Is(err, ErrInvalidModuleState))
	_, err = m.KernelNames()
	require.True(t, errors.Is(err, ErrInvalidModuleState))
	require.Equal(t, driver.BuildNone, capture(m.BuildStatus(ctx.Devices()[0])).Test(t))

	require.NoError(t, m.Build().WithOptions("-cl-fast-relaxed-math").Done())
	require.Equal(t, []string{"vecadd", "scale"}, capture(m.KernelNames()).Test(t))
	require.Equal(t, driver.BuildSuccess, capture(m.BuildStatus(ctx.Devices()[0])).Test(t))
}

func TestBuildFailure(t *testing.T) {
	ctx := newTestContext(t, openRuntime(t))
	device := ctx.Devices()[0]
	m := capture(ctx.NewModule("__kernel void broken(__global float* a) {\n  a[0] = b;\n}\n")).Test(t)
	defer func() { require.NoError(t, m.Release()) }()

	err := m.Build().Done()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBuildFailure))
	var buildErr *BuildError
	require.True(t, errors.As(err, &buildErr))
	require.Len(t, buildErr.Logs, 1)
	require.Equal(t, driver.BuildError, buildErr.Logs[0].Status)
	log := buildErr.Log(device)
	require.NotEmpty(t, log)
	require.Contains(t, log, "error:")
	require.Contains(t, err.Error(), log[:strings.Index(log, "\n")])
	require.Equal(t, log, capture(m.BuildLog(device)).Test(t))

	_, err = m.Kernels()
	require.True(t, errors.Is(err, ErrInvalidModuleState))

	// Invalid options are a build failure too.
	m2 := capture(ctx.NewModule(vecAddSource)).Test(t)
	defer func() { require.NoError(t, m2.Release()) }()
	err = m2.Build().WithOptions("-D").Done()
	require.True(t, errors.Is(err, ErrBuildFailure))
}

func TestBuildOnDevices(t *testing.T) {
	rt := openRuntime(t)
	devices := capture(rt.Devices(DeviceAll)).Test(t)
	ctx := capture(rt.NewContext(devices[0])).Test(t)
	defer func() { require.NoError(t, ctx.Release()) }()
	m := capture(ctx.NewModule(vecAddSource)).Test(t)
	defer func() { require.NoError(t, m.Release()) }()
	if len(devices) > 1 {
		require.Error(t, m.Build().OnDevices(devices[len(devices)-1]).Done())
	}
	require.NoError(t, m.Build().OnDevices(devices[0]).Done())
}

func TestModuleBinaries(t *testing.T) {
	ctx := newTestContext(t, openRuntime(t))
	m := buildModule(t, ctx, vecAddSource)
	binaries := capture(m.Binaries()).Test(t)
	require.Len(t, binaries, 1)

	fromBinary := capture(ctx.NewModuleFromBinary(binaries)).Test(t)
	defer func() { require.NoError(t, fromBinary.Release()) }()
	require.NoError(t, fromBinary.Build().Done())
	require.Equal(t, []string{"vecadd", "scale"}, capture(fromBinary.KernelNames()).Test(t))

	_, err := ctx.NewModuleFromBinary(nil)
	require.True(t, errors.Is(err, ErrModuleCreation))
	_, err = ctx.NewModuleFromBinary(map[*Device][]byte{ctx.Devices()[0]: []byte("garbage")})
	require.True(t, errors.Is(err, ErrModuleCreation))
}

func TestModuleRelease(t *testing.T) {
	ctx := newTestContext(t, openRuntime(t))
	alive := ModulesAlive()
	m := capture(ctx.NewModule(vecAddSource)).Test(t)
	require.Equal(t, alive+1, ModulesAlive())
	require.NoError(t, m.Release())
	require.NoError(t, m.Release())
	require.Equal(t, alive, ModulesAlive())
	require.True(t, errors.Is(m.Build().Done(), ErrReleased))
}
