package dtypes

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestMapOfNames(t *testing.T) {
	require.Equal(t, Float16, MapOfNames["Float16"])
	require.Equal(t, Float16, MapOfNames["float16"])
	require.Equal(t, Float16, MapOfNames["F16"])
	require.Equal(t, Float16, MapOfNames["f16"])
	require.Equal(t, Float16, MapOfNames["half"])

	require.Equal(t, Uint32, FromName("uint"))
	require.Equal(t, Int64, FromName("long"))
	require.Equal(t, InvalidDType, FromName("complex"))
}

func TestFromGenericsType(t *testing.T) {
	require.Equal(t, Float32, FromGenericsType[float32]())
	require.Equal(t, Float16, FromGenericsType[float16.Float16]())
	require.Equal(t, Int64, FromGenericsType[int]())
	require.Equal(t, Bool, FromGenericsType[bool]())
	require.Equal(t, InvalidDType, FromGoType(reflect.TypeOf("string")))
}

func TestSizes(t *testing.T) {
	require.Equal(t, 4, Float32.Size())
	require.Equal(t, 2, Float16.Size())
	require.Equal(t, 1, Bool.Size())
	require.Equal(t, 0, InvalidDType.Size())
	require.Equal(t, 4*4*4, Float32.SizeForDimensions(4, 4))
	require.Equal(t, "float", Float32.KernelTypeName())
	require.Equal(t, "ulong", Uint64.KernelTypeName())
}

func TestRaw(t *testing.T) {
	raw, dtype := ScalarToRaw(uint32(3))
	require.Equal(t, Uint32, dtype)
	require.Equal(t, []byte{3, 0, 0, 0}, raw)

	flat := []float32{1, 2, 3}
	raw, dtype = FlatToRaw(flat)
	require.Equal(t, Float32, dtype)
	require.Len(t, raw, 12)
	raw[0], raw[1], raw[2], raw[3] = 0, 0, 0x80, 0x40 // 4.0 in little-endian IEEE-754.
	require.Equal(t, float32(4), flat[0])

	_, _, err := AnyFlatToRaw(3)
	require.Error(t, err)
	raw, dtype, err = AnyFlatToRaw([]int16{1, 2})
	require.NoError(t, err)
	require.Equal(t, Int16, dtype)
	require.Len(t, raw, 4)

	made, err := MakeFlat(Float64, 5)
	require.NoError(t, err)
	require.Len(t, made.([]float64), 5)
}
