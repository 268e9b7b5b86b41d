package clc

import (
	"fmt"
	"strings"

	"github.com/gomlx/gocl/dtypes"
)

// Kind of a type.
type Kind int

const (
	KindVoid Kind = iota
	KindBool
	KindChar
	KindUChar
	KindShort
	KindUShort
	KindInt
	KindUInt
	KindLong
	KindULong
	KindHalf
	KindFloat
	KindDouble
	KindPointer
	KindArray
)

var kindNames = [...]string{
	KindVoid:    "void",
	KindBool:    "bool",
	KindChar:    "char",
	KindUChar:   "uchar",
	KindShort:   "short",
	KindUShort:  "ushort",
	KindInt:     "int",
	KindUInt:    "uint",
	KindLong:    "long",
	KindULong:   "ulong",
	KindHalf:    "half",
	KindFloat:   "float",
	KindDouble:  "double",
	KindPointer: "pointer",
	KindArray:   "array",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// AddressSpace of the memory a pointer or array refers to.
type AddressSpace int

const (
	Private AddressSpace = iota
	Global
	Local
	Constant
)

// String returns the OpenCL qualifier of the address space.
func (s AddressSpace) String() string {
	switch s {
	case Global:
		return "__global"
	case Local:
		return "__local"
	case Constant:
		return "__constant"
	default:
		return "__private"
	}
}

// Type of values and objects in a kernel.
type Type struct {
	Kind Kind

	// Elem is the type pointed to by pointers or the element type of arrays.
	Elem *Type

	// Len is the number of elements of arrays.
	Len int

	// Space is the address space pointed to by pointers, or where arrays live.
	Space AddressSpace

	// Const marks objects of this type as read-only.
	Const bool
}

// scalarTypes is filled in its initializer, since the builtins table built in init uses it.
var scalarTypes = func() map[Kind]*Type {
	types := make(map[Kind]*Type, int(KindDouble)+1)
	for k := KindVoid; k <= KindDouble; k++ {
		types[k] = &Type{Kind: k}
	}
	return types
}()

// scalarType returns the shared, non-const, type of the given scalar kind.
func scalarType(k Kind) *Type {
	return scalarTypes[k]
}

func pointerTo(elem *Type, space AddressSpace) *Type {
	return &Type{Kind: KindPointer, Elem: elem, Space: space}
}

// unqualified returns the type without the const qualifier.
func (t *Type) unqualified() *Type {
	if !t.Const {
		return t
	}
	c := *t
	c.Const = false
	return &c
}

// String returns the type as it is spelled in OpenCL C, e.g. "uint" or "float*".
func (t *Type) String() string {
	switch t.Kind {
	case KindPointer:
		return t.Elem.String() + "*"
	case KindArray:
		return fmt.Sprintf("%s[%d]", t.Elem, t.Len)
	default:
		return t.Kind.String()
	}
}

// Describe returns the type with its qualifiers, used in diagnostics.
func (t *Type) Describe() string {
	var parts []string
	if t.Kind == KindPointer {
		if t.Space != Private {
			parts = append(parts, t.Space.String())
		}
		if t.Elem.Const {
			parts = append(parts, "const")
		}
		parts = append(parts, t.String())
		return strings.Join(parts, " ")
	}
	if t.Const {
		parts = append(parts, "const")
	}
	parts = append(parts, t.String())
	return strings.Join(parts, " ")
}

// Size in bytes of the type.
func (t *Type) Size() int {
	switch t.Kind {
	case KindBool, KindChar, KindUChar:
		return 1
	case KindShort, KindUShort, KindHalf:
		return 2
	case KindInt, KindUInt, KindFloat:
		return 4
	case KindLong, KindULong, KindDouble, KindPointer:
		return 8
	case KindArray:
		return t.Len * t.Elem.Size()
	default:
		return 0
	}
}

func (t *Type) isInteger() bool { return t.Kind >= KindBool && t.Kind <= KindULong }
func (t *Type) isFloat() bool   { return t.Kind >= KindHalf && t.Kind <= KindDouble }
func (t *Type) isArith() bool   { return t.isInteger() || t.isFloat() }
func (t *Type) isPointer() bool { return t.Kind == KindPointer }
func (t *Type) isScalar() bool  { return t.isArith() || t.isPointer() }

func (t *Type) isUnsigned() bool {
	switch t.Kind {
	case KindBool, KindUChar, KindUShort, KindUInt, KindULong:
		return true
	}
	return false
}

// bits of integer types.
func (t *Type) bits() uint {
	return uint(t.Size() * 8)
}

// sameType compares types ignoring top-level const.
func sameType(a, b *Type) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindPointer:
		return a.Space == b.Space && sameType(a.Elem, b.Elem)
	case KindArray:
		return a.Len == b.Len && sameType(a.Elem, b.Elem)
	}
	return true
}

// promote applies the integer promotions: types smaller than int become int.
func promote(t *Type) *Type {
	if t.isInteger() && t.Kind < KindInt {
		return scalarType(KindInt)
	}
	if t.Kind == KindHalf {
		return scalarType(KindFloat)
	}
	return t.unqualified()
}

// commonType implements the usual arithmetic conversions.
func commonType(a, b *Type) *Type {
	a, b = promote(a), promote(b)
	if a.isFloat() || b.isFloat() {
		if a.Kind > b.Kind {
			return a
		}
		return b
	}
	if a.Kind == b.Kind {
		return a
	}
	// Kinds are ordered int, uint, long, ulong: with long being wider than uint, the larger kind always wins.
	if a.Kind > b.Kind {
		return a
	}
	return b
}

// DType returns the dtypes.DType for scalar types, or dtypes.InvalidDType.
func (t *Type) DType() dtypes.DType {
	switch t.Kind {
	case KindBool:
		return dtypes.Bool
	case KindChar:
		return dtypes.Int8
	case KindUChar:
		return dtypes.Uint8
	case KindShort:
		return dtypes.Int16
	case KindUShort:
		return dtypes.Uint16
	case KindInt:
		return dtypes.Int32
	case KindUInt:
		return dtypes.Uint32
	case KindLong:
		return dtypes.Int64
	case KindULong:
		return dtypes.Uint64
	case KindHalf:
		return dtypes.Float16
	case KindFloat:
		return dtypes.Float32
	case KindDouble:
		return dtypes.Float64
	}
	return dtypes.InvalidDType
}

// typeNames maps type keywords to their kinds. size_t and friends are 64 bits wide.
var typeNames = map[string]Kind{
	"void":      KindVoid,
	"bool":      KindBool,
	"char":      KindChar,
	"uchar":     KindUChar,
	"short":     KindShort,
	"ushort":    KindUShort,
	"int":       KindInt,
	"uint":      KindUInt,
	"long":      KindLong,
	"ulong":     KindULong,
	"half":      KindHalf,
	"float":     KindFloat,
	"double":    KindDouble,
	"size_t":    KindULong,
	"ptrdiff_t": KindLong,
	"intptr_t":  KindLong,
	"uintptr_t": KindULong,
}
