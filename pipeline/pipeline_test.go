package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gocl/cl"
	_ "github.com/gomlx/gocl/cl/host"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

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

func TestVecAdd(t *testing.T) {
	const n = 1024
	a, b := make([]float32, n), make([]float32, n)
	for i := range a {
		a[i] = float32(i)
		b[i] = float32(n - i)
	}
	for _, ordering := range []string{"in_order", "out_of_order"} {
		t.Run(ordering, func(t *testing.T) {
			job := &Job{
				Name:        "vecadd",
				SourceFiles: []string{"testdata/vecadd.cl"},
				Kernel:      "vecadd",
				Args: []Arg{
					{Name: "a", Kind: Input, Data: a},
					{Name: "b", Kind: Input, Data: b},
					{Name: "c", Kind: Output, Size: n},
					{Name: "n", Kind: Scalar, Data: int32(n)},
				},
				Global:   []int{n},
				Local:    []int{64},
				Ordering: ordering,
			}
			result := capture(Run(job)).Test(t)
			require.Empty(t, result.AsyncErrors)
			c := capture(OutputAs[float32](result, "c")).Test(t)
			require.Len(t, c, n)
			for i, v := range c {
				require.Equalf(t, float32(n), v, "c[%d]", i)
			}

			expected := make([]float32, n)
			for i := range expected {
				expected[i] = a[i] + b[i]
			}
			require.NoError(t, Verify("c", expected, c))
			require.Equal(t, -1, FirstMismatch(expected, c))

			// A corrupted expectation is caught at the first element.
			for i := range expected {
				expected[i] = a[i] + b[i] + 1
			}
			require.Equal(t, 0, FirstMismatch(expected, c))
			err := Verify("c", expected, c)
			var mismatch *MismatchError
			require.True(t, errors.As(err, &mismatch))
			require.Equal(t, 0, mismatch.Index)
			require.Equal(t, float32(n+1), mismatch.Expected)
			require.Equal(t, float32(n), mismatch.Got)
		})
	}
}

func TestMatVec(t *testing.T) {
	job := capture(LoadJob("testdata/matvec.yaml")).Test(t)
	result := capture(Run(job)).Test(t)
	require.NoError(t, job.Verify(result))

	// The same product computed on the host, in the same order.
	var mat [16]float32
	var vec [4]float32
	for i := range mat {
		mat[i] = 2 * float32(i)
	}
	for i := range vec {
		vec[i] = 3 * float32(i)
	}
	var correct [4]float32
	for i := range 4 {
		for row := range 4 {
			correct[row] += mat[row*4+i] * vec[i]
		}
	}
	got := capture(OutputAs[float32](result, "result")).Test(t)
	require.Equal(t, correct[:], got)

	// Corrupting the expected values in the job is caught too.
	job.Args[2].Expected[2]++
	err := job.Verify(result)
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, 2, mismatch.Index)
	require.Equal(t, "result", mismatch.Name)
}

func TestInOutAndLocal(t *testing.T) {
	job, err := ParseJob([]byte(`
name: reverse-and-scale
sources:
  - |
    __kernel void reverse_scale(__global float* x, __local float* scratch, float factor) {
      int i = get_local_id(0);
      int n = get_local_size(0);
      int base = get_group_id(0) * n;
      scratch[i] = x[base + i];
      barrier(CLK_LOCAL_MEM_FENCE);
      x[base + i] = scratch[n - 1 - i] * factor;
    }
kernel: reverse_scale
global: [8]
local: [4]
ordering: out_of_order
args:
  - {name: x, kind: inout, values: [0, 1, 2, 3, 4, 5, 6, 7], expected: [6, 4, 2, 0, 14, 12, 10, 8]}
  - {name: scratch, kind: local, size: 16}
  - {name: factor, kind: scalar, values: [2]}
`))
	require.NoError(t, err)
	result := capture(Run(job)).Test(t)
	require.NoError(t, job.Verify(result))
	require.Len(t, result.Outputs, 1)
}

func TestIntegerDTypes(t *testing.T) {
	job := &Job{
		Name:    "iota",
		Sources: []string{"__kernel void iota(__global int* x, int offset) { int i = get_global_id(0); x[i] = i + offset; }"},
		Kernel:  "iota",
		Args: []Arg{
			{Name: "x", Kind: Output, DType: "Int32", Size: 4, Expected: []float64{10, 11, 12, 13}},
			{Name: "offset", Kind: Scalar, DType: "Int32", Values: []float64{10}},
		},
		Global: []int{4},
	}
	result := capture(Run(job)).Test(t)
	require.NoError(t, job.Verify(result))
	require.Equal(t, []int32{10, 11, 12, 13}, capture(OutputAs[int32](result, "x")).Test(t))
	_, err := OutputAs[float32](result, "x")
	require.Error(t, err)
	_, err = OutputAs[int32](result, "y")
	require.Error(t, err)
}

func TestBuildFailure(t *testing.T) {
	job := &Job{
		Name:    "broken",
		Sources: []string{"__kernel void broken(__global float* a) {\n  a[0] = b;\n}\n"},
		Kernel:  "broken",
		Args:    []Arg{{Name: "a", Kind: Output, Size: 1}},
		Global:  []int{1},
	}
	_, err := Run(job)
	require.Error(t, err)
	require.True(t, errors.Is(err, cl.ErrBuildFailure))
	var buildErr *cl.BuildError
	require.True(t, errors.As(err, &buildErr))
	require.NotEmpty(t, buildErr.Logs)
	require.Contains(t, buildErr.Logs[0].Log, "error:")
}

func TestRunErrors(t *testing.T) {
	source := "__kernel void scale(__global float* x, float factor) { x[get_global_id(0)] *= factor; }"
	valid := func() *Job {
		return &Job{
			Name:    "scale",
			Sources: []string{source},
			Kernel:  "scale",
			Args: []Arg{
				{Name: "x", Kind: InOut, Values: []float64{1, 2}},
				{Name: "factor", Kind: Scalar, Values: []float64{3}},
			},
			Global: []int{2},
		}
	}
	result := capture(Run(valid())).Test(t)
	require.Equal(t, []float32{3, 6}, capture(OutputAs[float32](result, "x")).Test(t))

	for name, modify := range map[string]func(job *Job){
		"no kernel name":     func(job *Job) { job.Kernel = "" },
		"missing kernel":     func(job *Job) { job.Kernel = "missing" },
		"no global size":     func(job *Job) { job.Global = nil },
		"bad ordering":       func(job *Job) { job.Ordering = "sideways" },
		"bad device type":    func(job *Job) { job.DeviceType = "fpga" },
		"no device of type":  func(job *Job) { job.DeviceType = "custom" },
		"missing extension":  func(job *Job) { job.PlatformExtension = "cl_khr_gl_sharing" },
		"unknown driver":     func(job *Job) { job.Driver = "vulkan" },
		"no sources":         func(job *Job) { job.Sources = nil },
		"missing source":     func(job *Job) { job.SourceFiles = []string{"testdata/missing.cl"} },
		"too few args":       func(job *Job) { job.Args = job.Args[:1] },
		"bad kind":           func(job *Job) { job.Args[0].Kind = "sideways" },
		"duplicate name":     func(job *Job) { job.Args[1].Name = "x" },
		"unnamed arg":        func(job *Job) { job.Args[0].Name = "" },
		"no values":          func(job *Job) { job.Args[0].Values = nil },
		"two scalar values":  func(job *Job) { job.Args[1].Values = []float64{1, 2} },
		"bad dtype":          func(job *Job) { job.Args[0].DType = "complex" },
		"wrong scalar dtype": func(job *Job) { job.Args[1].DType = "Float64" },
		"expected on scalar": func(job *Job) { job.Args[1].Expected = []float64{3} },
	} {
		job := valid()
		modify(job)
		_, err := Run(job)
		require.Errorf(t, err, "case %q", name)
	}

	// The no device case is in the discovery category.
	job := valid()
	job.DeviceType = "custom"
	_, err := Run(job)
	require.True(t, errors.Is(err, cl.ErrDiscovery))
}

func TestLoadJob(t *testing.T) {
	dir := t.TempDir()
	must.M(os.WriteFile(filepath.Join(dir, "k.cl"), []byte("__kernel void k(__global int* x) { x[0] = 7; }"), 0o644))
	path := filepath.Join(dir, "job.yaml")
	must.M(os.WriteFile(path, []byte(`
name: seven
source_files: [k.cl]
kernel: k
global: [1]
args:
  - {name: x, kind: output, dtype: Int32, size: 1, expected: [7]}
`), 0o644))
	job := capture(LoadJob(path)).Test(t)
	sources := capture(job.LoadSources()).Test(t)
	require.Len(t, sources, 1)
	require.Contains(t, sources[0], "x[0] = 7")
	result := capture(Run(job)).Test(t)
	require.NoError(t, job.Verify(result))

	// Unknown fields are rejected.
	_, err := ParseJob([]byte("name: x\nkernal: k\n"))
	require.Error(t, err)
	_, err = LoadJob(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestFirstMismatch(t *testing.T) {
	require.Equal(t, -1, FirstMismatch([]int{1, 2, 3}, []int{1, 2, 3}))
	require.Equal(t, -1, FirstMismatch[int](nil, nil))
	require.Equal(t, 1, FirstMismatch([]int{1, 2, 3}, []int{1, 5, 3}))
	require.Equal(t, 2, FirstMismatch([]int{1, 2, 3}, []int{1, 2}))
	require.Equal(t, 2, FirstMismatch([]int{1, 2}, []int{1, 2, 3}))

	err := Verify("v", []int{1, 2}, []int{1, 2, 3})
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, 2, mismatch.Index)
	require.Contains(t, err.Error(), "has 3 elements, expected 2")
}

func TestVerifyFloat16(t *testing.T) {
	halves := func(values ...float32) []float16.Float16 {
		h := make([]float16.Float16, len(values))
		for i, v := range values {
			h[i] = float16.Fromfloat32(v)
		}
		return h
	}
	job := &Job{
		Name: "halves",
		Args: []Arg{{Name: "h", Kind: Output, DType: "Float16", Size: 3, Expected: []float64{1, 2, 3}}},
	}
	require.NoError(t, job.Verify(&Result{Outputs: map[string]any{"h": halves(1, 2, 3)}}))

	// Mismatches are reported by element, not by byte.
	err := job.Verify(&Result{Outputs: map[string]any{"h": halves(1, 2, 4)}})
	var mismatch *MismatchError
	require.True(t, errors.As(err, &mismatch))
	require.Equal(t, 2, mismatch.Index)
	require.Equal(t, float16.Fromfloat32(3), mismatch.Expected)
	require.Equal(t, float16.Fromfloat32(4), mismatch.Got)

	// Outputs of another type are rejected.
	require.Error(t, job.Verify(&Result{Outputs: map[string]any{"h": []float32{1, 2, 3}}}))
}
