package clc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripComments(t *testing.T) {
	diags := &Diagnostics{}
	src := "int a; // line\n/* block\n comment */ int b;"
	out := stripComments(src, diags)
	require.False(t, diags.HasErrors())
	require.Len(t, out, len(src))
	require.Equal(t, 2, strings.Count(out, "\n"))
	require.Equal(t, []string{"int", "a;", "int", "b;"}, strings.Fields(out))
	require.Equal(t, strings.Index(src, "int b"), strings.Index(out, "int b"))

	diags = &Diagnostics{}
	stripComments("int a;\n  /* never closed", diags)
	require.True(t, diags.HasErrors())
	require.Equal(t, Pos{Line: 2, Col: 3}, diags.List[0].Pos)
	require.Equal(t, "unterminated /* comment", diags.List[0].Msg)
}

func TestCheckLexical(t *testing.T) {
	require.Nil(t, CheckLexical([]string{"__kernel void k(__global int* a) { a[0] = 0x1F + 'a'; }"}))

	diags := CheckLexical([]string{"__kernel void k() {\n  int x = 3 @ 4;\n}"})
	require.NotNil(t, diags)
	require.Len(t, diags.List, 1)
	require.Equal(t, Pos{Line: 2, Col: 13}, diags.List[0].Pos)

	// Directives are not evaluated.
	require.Nil(t, CheckLexical([]string{"#error not evaluated\nint x;"}))

	// Errors in a second source are reported with lines counted over the concatenation.
	diags = CheckLexical([]string{"int a;", "float b = 1.0e;"})
	require.NotNil(t, diags)
	require.Equal(t, 2, diags.List[0].Pos.Line)
	require.Contains(t, diags.List[0].Msg, "exponent has no digits")
}

func TestPreprocessor(t *testing.T) {
	src := `
#ifndef WIDTH
#define WIDTH 4
#endif
#define DOUBLE_WIDTH (WIDTH * 2)
#ifdef WIDTH
__kernel void fill(__global int* out) {
#if defined(EXTRA) && EXTRA > 2
	out[get_global_id(0)] = DOUBLE_WIDTH + EXTRA;
#elif UNDEFINED_NAME
	out[get_global_id(0)] = -1;
#else
	out[get_global_id(0)] = DOUBLE_WIDTH;
#endif
}
#endif
`
	for _, tc := range []struct {
		defines map[string]string
		want    int32
	}{
		{nil, 8},
		{map[string]string{"EXTRA": "1"}, 8},
		{map[string]string{"EXTRA": "3"}, 11},
		{map[string]string{"WIDTH": "10"}, 20},
	} {
		p := mustCompile(t, src, Options{Defines: tc.defines})
		out := intMemory("out", make([]int32, 2))
		require.NoError(t, p.Kernel("fill").Launch(t.Context(), NDRange{Dims: 1, Global: [3]int{2}}, []Arg{{Memory: out}}, 1))
		require.Equal(t, []int32{tc.want, tc.want}, intsOf(out), "defines=%v", tc.defines)
	}
}

func TestPreprocessorErrors(t *testing.T) {
	for _, tc := range []struct {
		src, msg string
	}{
		{"#if 1\nint x;", "unterminated conditional directive"},
		{"#endif", "#endif without #if"},
		{"#else\n#endif", "#else without #if"},
		{"#define SQ(x) ((x)*(x))", "function-like macro 'SQ' is not supported"},
		{"#include \"other.cl\"", "#include is not supported"},
		{"#error stop here", "#error stop here"},
		{"#frobnicate", "invalid preprocessing directive '#frobnicate'"},
		{"#if 1 +\n#endif", "invalid #if expression"},
	} {
		log := compileErrors(t, tc.src, Options{})
		require.Contains(t, log, tc.msg, "source %q", tc.src)
	}
}

func TestPreprocessorWarning(t *testing.T) {
	p, diags := Compile([]string{"#warning be careful\n__kernel void k() {}"}, Options{})
	require.NotNil(t, p)
	require.Len(t, diags.List, 1)
	require.Equal(t, SeverityWarning, diags.List[0].Severity)
	require.Contains(t, diags.Log(), "<source>:1:1: warning: #warning be careful")
}

func TestPredefinedMacros(t *testing.T) {
	src := `
#if __OPENCL_VERSION__ != 120 || !defined(CLK_LOCAL_MEM_FENCE)
#error unexpected predefined macros
#endif
#ifdef cl_khr_fp64
#error fp64 was not enabled
#endif
__kernel void k(__global int* out) { out[0] = INT_MAX; }
`
	mustCompile(t, src, Options{})
	log := compileErrors(t, src, Options{Extensions: []string{"cl_khr_fp64"}})
	require.Contains(t, log, "fp64 was not enabled")
}
