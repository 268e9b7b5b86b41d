package clc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKernelSignatures(t *testing.T) {
	src := `
float scale(float x, float factor) { return x * factor; }

__kernel __attribute__((reqd_work_group_size(64, 1, 1)))
void saxpy(__global const float* restrict x, __global float* y, const float a, uint n) {
	size_t i = get_global_id(0);
	if (i < n)
		y[i] = scale(x[i], a) + y[i];
}

kernel void reduce(global const int* in, local int* scratch, constant int* weights, global volatile int* out) {
	scratch[get_local_id(0)] = in[get_global_id(0)] * weights[0];
	barrier(CLK_LOCAL_MEM_FENCE);
	if (get_local_id(0) == 0)
		atomic_add(out, scratch[0]);
}
`
	p := mustCompile(t, src, Options{})
	require.Equal(t, []string{"saxpy", "reduce"}, p.KernelNames())
	require.Nil(t, p.Kernel("scale"), "helper functions are not kernels")

	saxpy := p.Kernel("saxpy")
	require.Len(t, saxpy.Params, 4)
	require.Equal(t, "x", saxpy.Params[0].Name)
	require.Equal(t, "float*", saxpy.Params[0].TypeName())
	require.Equal(t, Global, saxpy.Params[0].Space)
	require.True(t, saxpy.Params[0].Const)
	require.True(t, saxpy.Params[0].Restrict)
	require.True(t, saxpy.Params[0].IsPointer())
	require.False(t, saxpy.Params[1].Const)
	require.Equal(t, "float", saxpy.Params[2].TypeName())
	require.True(t, saxpy.Params[2].Const)
	require.False(t, saxpy.Params[2].IsPointer())
	require.Equal(t, Private, saxpy.Params[2].Space)
	require.Equal(t, "uint", saxpy.Params[3].TypeName())
	require.Len(t, saxpy.Attributes, 1)
	require.Contains(t, saxpy.Attributes[0], "reqd_work_group_size")
	require.False(t, saxpy.UsesBarriers())

	reduce := p.Kernel("reduce")
	require.Equal(t, []AddressSpace{Global, Local, Constant, Global},
		[]AddressSpace{reduce.Params[0].Space, reduce.Params[1].Space, reduce.Params[2].Space, reduce.Params[3].Space})
	require.True(t, reduce.Params[2].Const, "__constant pointers are read-only")
	require.True(t, reduce.Params[3].Volatile)
	require.True(t, reduce.UsesBarriers())
}

func TestConversionBuiltinTypes(t *testing.T) {
	for _, name := range []string{"char", "uchar", "short", "ushort", "int", "uint", "long", "ulong", "float"} {
		src := "__kernel void k(__global int* o, float x) {\n" +
			"\to[0] = (int)convert_" + name + "_rtz(x) + (int)as_" + name + "(convert_" + name + "(x));\n" +
			"}\n"
		p := mustCompile(t, src, Options{})
		require.NotNilf(t, p.Kernel("k"), "convert_%s", name)
	}
	log := compileErrors(t, "__kernel void k(__global float* o) { o[0] = convert_float_sat(1); }", Options{})
	require.Contains(t, log, "saturated conversions to floating point types are not allowed")
}

func TestBuildLog(t *testing.T) {
	src := "__kernel void k(__global float* a) {\n\ta[0] = 1.0f\n}\n"
	log := compileErrors(t, src, Options{})
	require.Equal(t, "<source>:3:1: error: expected ';' after expression\n}\n^\n1 error generated.\n", log)

	// The caret is aligned under the offending column, keeping tabs.
	src = "__kernel void k(__global float* a) {\n\ta[0] = b;\n}\n"
	log = compileErrors(t, src, Options{})
	require.Equal(t, "<source>:2:9: error: use of undeclared identifier 'b'\n\ta[0] = b;\n\t       ^\n1 error generated.\n", log)
}

func TestSemanticErrors(t *testing.T) {
	for _, tc := range []struct {
		src, msg string
	}{
		{"__kernel int k() { return 0; }", "kernel function 'k' must have void return type"},
		{"__kernel void k(float* a) {}", "cannot be a pointer to the __private address space"},
		{"__kernel void k(__global float* a) { a[0] = undefined_fn(1); }", "implicit declaration of function 'undefined_fn'"},
		{"__kernel void k(__global const float* a) { a[0] = 1.0f; }", "cannot assign to variable with const-qualified type"},
		{"__kernel void k(__global float* a) { double d = 1.0; a[0] = d; }", "use of type 'double' requires cl_khr_fp64 support"},
		{"__kernel void k(__global float* a) { half h; }", "use of type 'half' requires cl_khr_fp16 support"},
		{"int f(int n) { return n > 0 ? f(n - 1) : 0; }\n__kernel void k(__global int* a) { a[0] = f(3); }", "recursive call to 'f' is not allowed"},
		{"void f(int a);\n__kernel void k() { f(1); }", "undefined function 'f'"},
		{"__kernel void k() {}\n__kernel void k() {}", "redefinition of 'k'"},
		{"float x = 1.0f;", "program scope variable must reside in constant address space"},
		{"__kernel void k(__global float* a) { a[0] = 1.0f; break; }", "'break' statement not in loop"},
		{"__kernel void k(__global float* a, __local float* b) { a = b; }", "changes address space of pointer"},
		{"__kernel void k(__global float* a) { struct s { int x; }; }", "'struct' is not supported"},
		{"__kernel void k(__global float* a) { switch (1) {} }", "'switch' statements are not supported"},
		{"void f() { __local float tile[4]; tile[0] = 0; }", "cannot be declared in the local address space"},
	} {
		log := compileErrors(t, tc.src, Options{})
		require.Contains(t, log, tc.msg, "source %q", tc.src)
	}
}

func TestExtensionsEnableTypes(t *testing.T) {
	src := `
__kernel void k(__global double* a, __global half* h) {
	double d = a[0] * 2.0;
	a[0] = d;
	h[0] = (half)1.5f;
}
`
	log := compileErrors(t, src, Options{})
	require.Contains(t, log, "requires cl_khr_fp64")
	mustCompile(t, src, Options{Extensions: []string{"cl_khr_fp64", "cl_khr_fp16"}})
}

func TestWarnings(t *testing.T) {
	src := `
int f(int x) {
	if (x > 0)
		return 1;
}
__kernel void k(__global int* out) {
	int unused;
	out[0] = f(1);
}
`
	p, diags := Compile([]string{src}, Options{})
	require.NotNil(t, p)
	require.Equal(t, 0, diags.NumErrors())
	log := diags.Log()
	require.Contains(t, log, "warning: non-void function 'f' does not return a value in all control paths")
	require.Contains(t, log, "warning: unused variable 'unused'")
	require.True(t, strings.HasSuffix(log, "2 warnings generated.\n"), log)

	opts, err := ParseOptions("-Werror")
	require.NoError(t, err)
	log = compileErrors(t, src, opts)
	require.Contains(t, log, "error: unused variable 'unused'")
	require.True(t, strings.HasSuffix(log, "2 errors generated.\n"), log)

	opts, err = ParseOptions("-w")
	require.NoError(t, err)
	p, diags = Compile([]string{src}, opts)
	require.NotNil(t, p)
	require.Empty(t, diags.List)
	require.Equal(t, "", diags.Log())
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions("-DWIDTH=16 -D DEBUG -I /tmp/include -cl-std=CL1.1 -cl-mad-enable -cl-fast-relaxed-math")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"WIDTH": "16", "DEBUG": "1"}, opts.Defines)
	require.Equal(t, []string{"/tmp/include"}, opts.IncludeDirs)
	require.Equal(t, 110, opts.LanguageVersion)
	require.True(t, opts.FastRelaxedMath)
	require.False(t, opts.WarningsAsErrors)

	opts, err = ParseOptions("")
	require.NoError(t, err)
	require.Equal(t, Options{}, opts)

	for _, bad := range []string{"-cl-frobnicate", "-cl-std=CL9.9", "-D", "-D1X=2", "--verbose"} {
		_, err = ParseOptions(bad)
		require.Error(t, err, "options %q", bad)
	}
}

func TestConstantFolding(t *testing.T) {
	src := `
#define N (1 << 4)
__constant int table[4] = {1, 2, 3, N};
__constant float scale = 0.5f;

__kernel void k(__global int* out, __global float* fout) {
	int local_copy[N / 4] = {10, 20, 30, 40};
	size_t i = get_global_id(0);
	out[i] = table[i] + local_copy[i] + sizeof(long) + (int)(7 / 2) + (i == 3 ? 100 : 0);
	fout[i] = scale * (float)table[i];
}
`
	p := mustCompile(t, src, Options{})
	out := intMemory("out", make([]int32, 4))
	fout := floatMemory("fout", make([]float32, 4))
	require.NoError(t, p.Kernel("k").Launch(t.Context(), NDRange{Dims: 1, Global: [3]int{4}}, []Arg{{Memory: out}, {Memory: fout}}, 1))
	require.Equal(t, []int32{1 + 10 + 8 + 3, 2 + 20 + 8 + 3, 3 + 30 + 8 + 3, 16 + 40 + 8 + 3 + 100}, intsOf(out))
	require.Equal(t, []float32{0.5, 1, 1.5, 8}, floatsOf(fout))
}
