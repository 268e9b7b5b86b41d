package pipeline

import (
	"fmt"

	"github.com/gomlx/gocl/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// MismatchError reports the first element of an output that differs from the expected value.
type MismatchError struct {
	Name     string
	Index    int
	Expected any
	Got      any

	// Lengths, if they differ.
	ExpectedLen, GotLen int
}

// Error implements error.
func (e *MismatchError) Error() string {
	if e.ExpectedLen != e.GotLen && e.Index >= min(e.ExpectedLen, e.GotLen) {
		return fmt.Sprintf("output %q has %d elements, expected %d", e.Name, e.GotLen, e.ExpectedLen)
	}
	return fmt.Sprintf("output %q differs at index %d: got %v, expected %v", e.Name, e.Index, e.Got, e.Expected)
}

// FirstMismatch returns the index of the first element that differs between expected and got, or -1 if they are
// equal. If one is a prefix of the other, the index is the length of the shorter one.
//
// Values are compared exactly: outputs must be computed from inputs that make them exactly representable.
func FirstMismatch[T comparable](expected, got []T) int {
	n := min(len(expected), len(got))
	for i := range n {
		if expected[i] != got[i] {
			return i
		}
	}
	if len(expected) != len(got) {
		return n
	}
	return -1
}

// Verify returns a *MismatchError if got differs from expected.
func Verify[T comparable](name string, expected, got []T) error {
	i := FirstMismatch(expected, got)
	if i < 0 {
		return nil
	}
	e := &MismatchError{Name: name, Index: i, ExpectedLen: len(expected), GotLen: len(got)}
	if i < len(expected) {
		e.Expected = expected[i]
	}
	if i < len(got) {
		e.Got = got[i]
	}
	return errors.WithStack(e)
}

// Verify checks the outputs of the result against the expected values of the job arguments. Arguments without
// expected values are not checked.
func (job *Job) Verify(result *Result) error {
	for i := range job.Args {
		arg := &job.Args[i]
		if arg.Expected == nil {
			continue
		}
		got, found := result.Outputs[arg.Name]
		if !found {
			return errors.Errorf("job %q has no output %q to verify", job.Name, arg.Name)
		}
		dtype, err := arg.dtype()
		if err != nil {
			return err
		}
		expected, err := valuesToFlat(dtype, arg.Expected)
		if err != nil {
			return errors.WithMessagef(err, "expected values of %q", arg.Name)
		}
		if err := verifyAny(arg.Name, expected, got); err != nil {
			return err
		}
	}
	return nil
}

// verifyAny dispatches Verify on the type of the flat slices.
func verifyAny(name string, expected, got any) error {
	switch e := expected.(type) {
	case []float32:
		return verifyTyped(name, e, got)
	case []float64:
		return verifyTyped(name, e, got)
	case []int32:
		return verifyTyped(name, e, got)
	case []int64:
		return verifyTyped(name, e, got)
	case []uint32:
		return verifyTyped(name, e, got)
	case []uint64:
		return verifyTyped(name, e, got)
	case []int8:
		return verifyTyped(name, e, got)
	case []int16:
		return verifyTyped(name, e, got)
	case []uint8:
		return verifyTyped(name, e, got)
	case []uint16:
		return verifyTyped(name, e, got)
	case []bool:
		return verifyTyped(name, e, got)
	case []float16.Float16:
		return verifyTyped(name, e, got)
	}
	// Anything else is compared by its bytes.
	expectedRaw, _, err := dtypes.AnyFlatToRaw(expected)
	if err != nil {
		return err
	}
	gotRaw, _, err := dtypes.AnyFlatToRaw(got)
	if err != nil {
		return err
	}
	return Verify(name, expectedRaw, gotRaw)
}

func verifyTyped[T comparable](name string, expected []T, got any) error {
	typed, ok := got.([]T)
	if !ok {
		return errors.Errorf("output %q is a %T, expected a %T", name, got, expected)
	}
	return Verify(name, expected, typed)
}
