// Package dtypes defines the element types of device buffers and scalar kernel arguments, and the bridge
// between them and Go types (including generics).
package dtypes

import (
	"reflect"
	"strings"

	"github.com/x448/float16"
)

// DType is the element type of a buffer or a scalar kernel argument.
//
// The numbering follows the buffer types of the PJRT C API, so values can be shared with code using it.
type DType int32

const (
	// InvalidDType represents an invalid (or not set) dtype.
	InvalidDType DType = 0

	// Bool is stored as one byte.
	Bool    DType = 1
	Int8    DType = 2
	Int16   DType = 3
	Int32   DType = 4
	Int64   DType = 5
	Uint8   DType = 6
	Uint16  DType = 7
	Uint32  DType = 8
	Uint64  DType = 9
	Float16 DType = 10
	Float32 DType = 11
	Float64 DType = 12
)

// Aliases in the short form used by XLA/PJRT.
const (
	PRED = Bool
	S8   = Int8
	S16  = Int16
	S32  = Int32
	S64  = Int64
	U8   = Uint8
	U16  = Uint16
	U32  = Uint32
	U64  = Uint64
	F16  = Float16
	F32  = Float32
	F64  = Float64
)

var dtypeNames = []string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
}

var shortNames = []string{
	Bool:    "PRED",
	Int8:    "S8",
	Int16:   "S16",
	Int32:   "S32",
	Int64:   "S64",
	Uint8:   "U8",
	Uint16:  "U16",
	Uint32:  "U32",
	Uint64:  "U64",
	Float16: "F16",
	Float32: "F32",
	Float64: "F64",
}

// kernelTypeNames are the names of the equivalent scalar types in the kernel language.
var kernelTypeNames = []string{
	Bool:    "bool",
	Int8:    "char",
	Int16:   "short",
	Int32:   "int",
	Int64:   "long",
	Uint8:   "uchar",
	Uint16:  "ushort",
	Uint32:  "uint",
	Uint64:  "ulong",
	Float16: "half",
	Float32: "float",
	Float64: "double",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if dtype < 0 || int(dtype) >= len(dtypeNames) {
		return "InvalidDType"
	}
	return dtypeNames[dtype]
}

// IsValid returns whether dtype is one of the known types.
func (dtype DType) IsValid() bool {
	return dtype > InvalidDType && int(dtype) < len(dtypeNames)
}

// KernelTypeName returns the name of the scalar type in the kernel language, e.g. "float" for Float32.
// It returns "" for InvalidDType.
func (dtype DType) KernelTypeName() string {
	if !dtype.IsValid() {
		return ""
	}
	return kernelTypeNames[dtype]
}

// MapOfNames maps the names (in its many forms) to the corresponding DType.
// It includes the Go type names, the short XLA names (upper and lower case) and the kernel language names.
var MapOfNames = map[string]DType{}

func init() {
	for dtype := Bool; dtype <= Float64; dtype++ {
		MapOfNames[dtypeNames[dtype]] = dtype
		MapOfNames[strings.ToLower(dtypeNames[dtype])] = dtype
		MapOfNames[shortNames[dtype]] = dtype
		MapOfNames[strings.ToLower(shortNames[dtype])] = dtype
		MapOfNames[kernelTypeNames[dtype]] = dtype
	}
}

// FromName returns the DType for one of its names (see MapOfNames), or InvalidDType.
func FromName(name string) DType {
	if dtype, found := MapOfNames[name]; found {
		return dtype
	}
	return InvalidDType
}

// Supported lists the Go types that have a DType.
type Supported interface {
	bool | float16.Float16 | float32 | float64 | int | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// Number is the subset of Supported with arithmetic.
type Number interface {
	float32 | float64 | int | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

var (
	float16Type = reflect.TypeOf(float16.Float16(0))
)

// FromGenericsType returns the DType of the generic type T.
func FromGenericsType[T Supported]() DType {
	var t T
	return FromGoType(reflect.TypeOf(t))
}

// FromAny returns the DType of the value's Go type, or InvalidDType.
func FromAny(value any) DType {
	return FromGoType(reflect.TypeOf(value))
}

// FromGoType returns the DType for the given Go type, or InvalidDType if not supported.
// Go's int is mapped to Int64, matching 64-bit platforms.
func FromGoType(t reflect.Type) DType {
	if t == nil {
		return InvalidDType
	}
	if t == float16Type {
		return Float16
	}
	switch t.Kind() {
	case reflect.Bool:
		return Bool
	case reflect.Int8:
		return Int8
	case reflect.Int16:
		return Int16
	case reflect.Int32:
		return Int32
	case reflect.Int64, reflect.Int:
		return Int64
	case reflect.Uint8:
		return Uint8
	case reflect.Uint16:
		return Uint16
	case reflect.Uint32:
		return Uint32
	case reflect.Uint64:
		return Uint64
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	default:
		return InvalidDType
	}
}

// GoType returns the Go type for the DType, or nil for InvalidDType.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Bool:
		return reflect.TypeOf(false)
	case Int8:
		return reflect.TypeOf(int8(0))
	case Int16:
		return reflect.TypeOf(int16(0))
	case Int32:
		return reflect.TypeOf(int32(0))
	case Int64:
		return reflect.TypeOf(int64(0))
	case Uint8:
		return reflect.TypeOf(uint8(0))
	case Uint16:
		return reflect.TypeOf(uint16(0))
	case Uint32:
		return reflect.TypeOf(uint32(0))
	case Uint64:
		return reflect.TypeOf(uint64(0))
	case Float16:
		return float16Type
	case Float32:
		return reflect.TypeOf(float32(0))
	case Float64:
		return reflect.TypeOf(float64(0))
	default:
		return nil
	}
}

// Size returns the number of bytes of one element, or 0 for InvalidDType.
func (dtype DType) Size() int {
	switch dtype {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16, Float16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// SizeForDimensions returns the number of bytes for an array of dtype with the given dimensions.
func (dtype DType) SizeForDimensions(dimensions ...int) int {
	size := dtype.Size()
	for _, dim := range dimensions {
		size *= dim
	}
	return size
}

// IsFloat returns whether dtype is a floating point type.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsInt returns whether dtype is an integer type, signed or unsigned.
func (dtype DType) IsInt() bool {
	return (dtype >= Int8 && dtype <= Int64) || dtype.IsUnsigned()
}

// IsUnsigned returns whether dtype is an unsigned integer type.
func (dtype DType) IsUnsigned() bool {
	return dtype >= Uint8 && dtype <= Uint64
}
