package clc

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/x448/float16"
)

// Memory is a region of memory kernels can point to: a global buffer, a work-group's local memory, program
// constants or a private array.
type Memory struct {
	name     string
	space    AddressSpace
	readOnly bool
	data     []byte

	// mu serializes atomic operations on this memory.
	mu sync.Mutex
}

// NewMemory wraps data as a global buffer. Kernels read and write data directly.
func NewMemory(name string, data []byte) *Memory {
	return &Memory{name: name, space: Global, data: data}
}

// Bytes returns the contents of the memory.
func (m *Memory) Bytes() []byte {
	return m.data
}

// Name given to the memory, used in error messages.
func (m *Memory) Name() string {
	return m.name
}

// ptr is the value of pointers: a memory region and a byte offset into it.
type ptr struct {
	mem *Memory
	off int
}

// value holds any scalar: integers (and bool) in i, with unsigned values stored as their bit pattern, floating
// point values in f, already rounded to their type, and pointers in p.
type value struct {
	i int64
	f float64
	p ptr
}

// fault is raised (panic) by the kernel execution on invalid operations, and converted to a RuntimeError by
// the launcher.
type fault struct {
	pos Pos
	msg string
}

func faultf(pos Pos, format string, args ...any) {
	panic(&fault{pos: pos, msg: fmt.Sprintf(format, args...)})
}

func (p ptr) bytes(pos Pos, size int) []byte {
	if p.mem == nil {
		faultf(pos, "null pointer dereference")
	}
	if p.off < 0 || p.off+size > len(p.mem.data) {
		faultf(pos, "out of bounds access to %s %q: offset %d, access size %d, memory size %d",
			p.mem.space, p.mem.name, p.off, size, len(p.mem.data))
	}
	return p.mem.data[p.off : p.off+size]
}

func load(pos Pos, p ptr, t *Type) value {
	b := p.bytes(pos, t.Size())
	switch t.Kind {
	case KindBool:
		return value{i: boolToInt(b[0] != 0)}
	case KindChar:
		return value{i: int64(int8(b[0]))}
	case KindUChar:
		return value{i: int64(b[0])}
	case KindShort:
		return value{i: int64(int16(binary.LittleEndian.Uint16(b)))}
	case KindUShort:
		return value{i: int64(binary.LittleEndian.Uint16(b))}
	case KindInt:
		return value{i: int64(int32(binary.LittleEndian.Uint32(b)))}
	case KindUInt:
		return value{i: int64(binary.LittleEndian.Uint32(b))}
	case KindLong, KindULong:
		return value{i: int64(binary.LittleEndian.Uint64(b))}
	case KindHalf:
		return value{f: float64(float16.Frombits(binary.LittleEndian.Uint16(b)).Float32())}
	case KindFloat:
		return value{f: float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))}
	case KindDouble:
		return value{f: math.Float64frombits(binary.LittleEndian.Uint64(b))}
	}
	faultf(pos, "cannot load a value of type %s", t)
	return value{}
}

func store(pos Pos, p ptr, t *Type, v value) {
	b := p.bytes(pos, t.Size())
	if p.mem.readOnly {
		faultf(pos, "write to read-only memory %q", p.mem.name)
	}
	encodeValue(b, t, v)
}

// encodeValue writes v in little-endian into b, which must have t.Size() bytes.
func encodeValue(b []byte, t *Type, v value) {
	switch t.Kind {
	case KindBool:
		b[0] = byte(boolToInt(v.i != 0))
	case KindChar, KindUChar:
		b[0] = byte(v.i)
	case KindShort, KindUShort:
		binary.LittleEndian.PutUint16(b, uint16(v.i))
	case KindInt, KindUInt:
		binary.LittleEndian.PutUint32(b, uint32(v.i))
	case KindLong, KindULong:
		binary.LittleEndian.PutUint64(b, uint64(v.i))
	case KindHalf:
		binary.LittleEndian.PutUint16(b, float16.Fromfloat32(float32(v.f)).Bits())
	case KindFloat:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v.f)))
	case KindDouble:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.f))
	}
}

// decodeValue reads a scalar of type t from its little-endian encoding.
func decodeValue(b []byte, t *Type) value {
	m := &Memory{data: b}
	return load(Pos{}, ptr{mem: m}, t)
}

// wrapInt truncates i to the width of the integer kind, sign extending signed kinds.
func wrapInt(k Kind, i int64) int64 {
	switch k {
	case KindBool:
		return boolToInt(i != 0)
	case KindChar:
		return int64(int8(i))
	case KindUChar:
		return int64(uint8(i))
	case KindShort:
		return int64(int16(i))
	case KindUShort:
		return int64(uint16(i))
	case KindInt:
		return int64(int32(i))
	case KindUInt:
		return int64(uint32(i))
	}
	return i
}

// roundFloat rounds f to the precision of the floating point kind.
func roundFloat(k Kind, f float64) float64 {
	switch k {
	case KindHalf:
		return float64(float16.Fromfloat32(float32(f)).Float32())
	case KindFloat:
		return float64(float32(f))
	}
	return f
}

// convertValue converts between scalar types. Pointer conversions keep the pointer.
func convertValue(v value, from, to *Type) value {
	switch {
	case to.isInteger():
		switch {
		case from.isFloat():
			if to.Kind == KindBool {
				return value{i: boolToInt(v.f != 0)}
			}
			if math.IsNaN(v.f) {
				return value{}
			}
			if to.isUnsigned() {
				if v.f <= 0 {
					return value{i: wrapInt(to.Kind, int64(v.f))}
				}
				return value{i: wrapInt(to.Kind, int64(uint64(v.f)))}
			}
			return value{i: wrapInt(to.Kind, int64(v.f))}
		case from.isPointer():
			return value{i: boolToInt(v.p.mem != nil)}
		}
		return value{i: wrapInt(to.Kind, v.i)}

	case to.isFloat():
		if from.isFloat() {
			return value{f: roundFloat(to.Kind, v.f)}
		}
		if from.Kind == KindULong {
			return value{f: roundFloat(to.Kind, float64(uint64(v.i)))}
		}
		return value{f: roundFloat(to.Kind, float64(v.i))}
	}
	return v
}
