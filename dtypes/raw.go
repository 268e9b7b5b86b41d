package dtypes

import (
	"reflect"
	"unsafe"

	"github.com/pkg/errors"
)

// ScalarToRaw returns the raw bytes of a scalar value, in host byte order, and its DType.
func ScalarToRaw[T Supported](value T) ([]byte, DType) {
	dtype := FromGenericsType[T]()
	raw := make([]byte, unsafe.Sizeof(value))
	copy(raw, unsafe.Slice((*byte)(unsafe.Pointer(&value)), unsafe.Sizeof(value)))
	return raw, dtype
}

// FlatToRaw returns a view of the flat slice as bytes, without copying, and its DType.
// The returned bytes alias the slice: they are valid only as long as flat is alive and not resized.
func FlatToRaw[T Supported](flat []T) ([]byte, DType) {
	dtype := FromGenericsType[T]()
	if len(flat) == 0 {
		return nil, dtype
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(flat))), len(flat)*int(unsafe.Sizeof(zero))), dtype
}

// AnyFlatToRaw is like FlatToRaw but takes the flat slice as an `any`, for when the type is not known at compile
// time. It returns an error if flat is not a slice of a supported type.
func AnyFlatToRaw(flat any) ([]byte, DType, error) {
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, InvalidDType, errors.Errorf("AnyFlatToRaw requires a slice, got %T", flat)
	}
	dtype := FromGoType(flatV.Type().Elem())
	if dtype == InvalidDType {
		return nil, InvalidDType, errors.Errorf("AnyFlatToRaw got a slice of %s, which has no corresponding DType", flatV.Type().Elem())
	}
	if flatV.Type().Elem().Kind() == reflect.Int && flatV.Type().Elem().Size() != 8 {
		return nil, InvalidDType, errors.Errorf("AnyFlatToRaw doesn't support []int on platforms where int is not 64 bits")
	}
	if flatV.Len() == 0 {
		return nil, dtype, nil
	}
	element0 := flatV.Index(0)
	sizeBytes := uintptr(flatV.Len()) * element0.Type().Size()
	return unsafe.Slice((*byte)(element0.Addr().UnsafePointer()), sizeBytes), dtype, nil
}

// MakeFlat creates a zero-initialized slice of the Go type of dtype with n elements, returned as `any`.
func MakeFlat(dtype DType, n int) (any, error) {
	goType := dtype.GoType()
	if goType == nil {
		return nil, errors.Errorf("MakeFlat: invalid dtype %s", dtype)
	}
	return reflect.MakeSlice(reflect.SliceOf(goType), n, n).Interface(), nil
}
