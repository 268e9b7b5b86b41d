package clc

// Common tools for all test files.

import (
	"encoding/binary"
	"flag"
	"math"
	"testing"

	"github.com/gomlx/gocl/dtypes"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

var flagParallelism = flag.Int("parallelism", 4, "number of work-groups run concurrently in the tests")

func init() {
	klog.InitFlags(nil)
}

// mustCompile compiles the source and fails the test if there are errors.
func mustCompile(t *testing.T, src string, opts Options) *Program {
	p, diags := Compile([]string{src}, opts)
	require.Falsef(t, diags.HasErrors(), "Compilation failed:\n%s", diags.Log())
	require.NotNil(t, p)
	return p
}

// compileErrors compiles the source expecting it to fail, and returns the build log.
func compileErrors(t *testing.T, src string, opts Options) string {
	p, diags := Compile([]string{src}, opts)
	require.Nil(t, p)
	require.True(t, diags.HasErrors())
	return diags.Log()
}

func floatMemory(name string, values []float32) *Memory {
	raw, _ := dtypes.FlatToRaw(values)
	return NewMemory(name, append([]byte(nil), raw...))
}

func intMemory(name string, values []int32) *Memory {
	raw, _ := dtypes.FlatToRaw(values)
	return NewMemory(name, append([]byte(nil), raw...))
}

func floatsOf(m *Memory) []float32 {
	data := m.Bytes()
	values := make([]float32, len(data)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return values
}

func intsOf(m *Memory) []int32 {
	data := m.Bytes()
	values := make([]int32, len(data)/4)
	for i := range values {
		values[i] = int32(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return values
}

func scalarArg[T dtypes.Supported](v T) Arg {
	raw, _ := dtypes.ScalarToRaw(v)
	return Arg{Scalar: raw}
}
