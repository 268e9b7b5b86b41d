package clc

import (
	"math"
	"math/bits"
	"strings"

	"github.com/chewxy/math32"
)

// builtinFn type-checks a call to a builtin function, whose arguments are already compiled, and returns the
// compiled call.
type builtinFn func(c *compiler, call *Call, args []*operand) *operand

// builtins is filled in init, since the builtin implementations refer back to the compiler.
var builtins = make(map[string]builtinFn)

func init() {
	for name, fn := range workItemFuncs {
		builtins[name] = workItemBuiltin(fn)
	}
	builtins["get_work_dim"] = getWorkDim
	builtins["barrier"] = barrierBuiltin
	builtins["work_group_barrier"] = barrierBuiltin
	for _, name := range []string{"mem_fence", "read_mem_fence", "write_mem_fence"} {
		builtins[name] = memFence
	}

	for name, fns := range unaryMath {
		builtins[name] = unaryMathBuiltin(fns.f32, fns.f64)
		if nativeVariants[name] {
			builtins["native_"+name] = builtins[name]
			builtins["half_"+name] = builtins[name]
		}
	}
	for name, fns := range binaryMath {
		builtins[name] = binaryMathBuiltin(fns.f32, fns.f64)
		if nativeVariants[name] {
			builtins["native_"+name] = builtins[name]
			builtins["half_"+name] = builtins[name]
		}
	}
	builtins["fma"] = fmaBuiltin
	builtins["mad"] = fmaBuiltin
	builtins["mix"] = mixBuiltin
	builtins["pown"] = pownBuiltin

	builtins["min"] = minMaxBuiltin(true)
	builtins["max"] = minMaxBuiltin(false)
	builtins["clamp"] = clampBuiltin
	builtins["abs"] = absBuiltin
	builtins["mul24"] = mul24Builtin(false)
	builtins["mad24"] = mul24Builtin(true)
	builtins["popcount"] = bitCountBuiltin(true)
	builtins["clz"] = bitCountBuiltin(false)

	builtins["isnan"] = classifyBuiltin(math.IsNaN)
	builtins["isinf"] = classifyBuiltin(func(x float64) bool { return math.IsInf(x, 0) })
	builtins["isfinite"] = classifyBuiltin(func(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) })
	builtins["signbit"] = classifyBuiltin(math.Signbit)
	builtins["select"] = selectBuiltin

	for _, name := range []string{"add", "sub", "xchg", "inc", "dec", "min", "max", "and", "or", "xor", "cmpxchg"} {
		builtins["atomic_"+name] = atomicBuiltin(name)
		builtins["atom_"+name] = atomicBuiltin(name)
	}

	for name, k := range typeNames {
		if k == KindVoid || k == KindBool || name != k.String() {
			continue
		}
		t := scalarType(k)
		builtins["as_"+name] = asTypeBuiltin(t)
		for _, sat := range []string{"", "_sat"} {
			for _, rounding := range []string{"", "_rte", "_rtz", "_rtp", "_rtn"} {
				builtins["convert_"+name+sat+rounding] = convertBuiltin(t, sat != "", rounding)
			}
		}
	}
}

func (c *compiler) checkNumArgs(call *Call, args []*operand, n int) bool {
	if len(args) == n {
		return true
	}
	which := "few"
	if len(args) > n {
		which = "many"
	}
	c.errorf(call.Pos, "too %s arguments to function call '%s', expected %d, have %d", which, call.Func, n, len(args))
	return false
}

func callResult(call *Call, t *Type, eval evalFn) *operand {
	return &operand{pos: call.Pos, typ: t, slot: -1, eval: eval}
}

// Work-item functions.

var workItemFuncs = map[string]func(w *workItem, dim int) int64{
	"get_global_id": func(w *workItem, dim int) int64 {
		if dim >= w.nd.Dims {
			return 0
		}
		return int64(w.global[dim])
	},
	"get_local_id": func(w *workItem, dim int) int64 {
		if dim >= w.nd.Dims {
			return 0
		}
		return int64(w.local[dim])
	},
	"get_group_id": func(w *workItem, dim int) int64 {
		if dim >= w.nd.Dims {
			return 0
		}
		return int64(w.group.id[dim])
	},
	"get_global_offset": func(w *workItem, dim int) int64 {
		if dim >= w.nd.Dims {
			return 0
		}
		return int64(w.nd.Offset[dim])
	},
	"get_global_size": func(w *workItem, dim int) int64 {
		if dim >= w.nd.Dims {
			return 1
		}
		return int64(w.nd.Global[dim])
	},
	"get_local_size": func(w *workItem, dim int) int64 {
		if dim >= w.nd.Dims {
			return 1
		}
		return int64(w.nd.Local[dim])
	},
	"get_enqueued_local_size": func(w *workItem, dim int) int64 {
		if dim >= w.nd.Dims {
			return 1
		}
		return int64(w.nd.Local[dim])
	},
	"get_num_groups": func(w *workItem, dim int) int64 {
		if dim >= w.nd.Dims {
			return 1
		}
		return int64(w.nd.Global[dim] / w.nd.Local[dim])
	},
}

func workItemBuiltin(fn func(w *workItem, dim int) int64) builtinFn {
	return func(c *compiler, call *Call, args []*operand) *operand {
		if !c.checkNumArgs(call, args, 1) {
			return c.badOperand(call.Pos)
		}
		dim := c.convertTo(args[0], scalarType(KindUInt), "passing")
		return callResult(call, scalarType(KindULong), func(f *frame) value {
			return value{i: fn(f.item, int(uint32(dim(f).i)))}
		})
	}
}

func getWorkDim(c *compiler, call *Call, args []*operand) *operand {
	if !c.checkNumArgs(call, args, 0) {
		return c.badOperand(call.Pos)
	}
	return callResult(call, scalarType(KindUInt), func(f *frame) value { return value{i: int64(f.item.nd.Dims)} })
}

func barrierBuiltin(c *compiler, call *Call, args []*operand) *operand {
	if !c.checkNumArgs(call, args, 1) {
		return c.badOperand(call.Pos)
	}
	if c.fn != nil {
		c.fn.callsBarrier = true
	}
	pos := call.Pos
	flags := args[0].eval
	return callResult(call, scalarType(KindVoid), func(f *frame) value {
		flags(f)
		f.item.barrier(pos)
		return value{}
	})
}

// memFence is a no-op: memory operations of work-items are sequentially consistent.
func memFence(c *compiler, call *Call, args []*operand) *operand {
	if !c.checkNumArgs(call, args, 1) {
		return c.badOperand(call.Pos)
	}
	flags := args[0].eval
	return callResult(call, scalarType(KindVoid), func(f *frame) value {
		flags(f)
		return value{}
	})
}

// Floating point math.

type mathFns[F1, F2 any] struct {
	f32 F1
	f64 F2
}

type (
	unaryFns  = mathFns[func(float32) float32, func(float64) float64]
	binaryFns = mathFns[func(a, b float32) float32, func(a, b float64) float64]
)

// from64 implements a float function with its float64 version.
func from64(fn func(float64) float64) func(float32) float32 {
	return func(x float32) float32 { return float32(fn(float64(x))) }
}

var unaryMath = map[string]unaryFns{
	"sqrt":  {math32.Sqrt, math.Sqrt},
	"rsqrt": {func(x float32) float32 { return 1 / math32.Sqrt(x) }, func(x float64) float64 { return 1 / math.Sqrt(x) }},
	"cbrt":  {from64(math.Cbrt), math.Cbrt},
	"sin":   {math32.Sin, math.Sin},
	"cos":   {math32.Cos, math.Cos},
	"tan":   {math32.Tan, math.Tan},
	"asin":  {math32.Asin, math.Asin},
	"acos":  {math32.Acos, math.Acos},
	"atan":  {math32.Atan, math.Atan},
	"sinh":  {math32.Sinh, math.Sinh},
	"cosh":  {math32.Cosh, math.Cosh},
	"tanh":  {math32.Tanh, math.Tanh},
	"exp":   {math32.Exp, math.Exp},
	"exp2":  {math32.Exp2, math.Exp2},
	"exp10": {func(x float32) float32 { return math32.Pow(10, x) }, func(x float64) float64 { return math.Pow(10, x) }},
	"expm1": {from64(math.Expm1), math.Expm1},
	"log":   {math32.Log, math.Log},
	"log2":  {math32.Log2, math.Log2},
	"log10": {math32.Log10, math.Log10},
	"log1p": {from64(math.Log1p), math.Log1p},
	"fabs":  {math32.Abs, math.Abs},
	"floor": {math32.Floor, math.Floor},
	"ceil":  {math32.Ceil, math.Ceil},
	"trunc": {math32.Trunc, math.Trunc},
	"round": {from64(math.Round), math.Round},
	"rint":  {from64(math.RoundToEven), math.RoundToEven},
	"recip": {func(x float32) float32 { return 1 / x }, func(x float64) float64 { return 1 / x }},
	"sign": {
		func(x float32) float32 { return float32(sign(float64(x))) },
		sign,
	},
	"degrees": {
		func(x float32) float32 { return x * float32(180/math.Pi) },
		func(x float64) float64 { return x * (180 / math.Pi) },
	},
	"radians": {
		func(x float32) float32 { return x * float32(math.Pi/180) },
		func(x float64) float64 { return x * (math.Pi / 180) },
	},
}

var binaryMath = map[string]binaryFns{
	"pow":   {math32.Pow, math.Pow},
	"powr":  {math32.Pow, math.Pow},
	"fmod":  {math32.Mod, math.Mod},
	"atan2": {math32.Atan2, math.Atan2},
	"hypot": {math32.Hypot, math.Hypot},
	"copysign": {
		func(a, b float32) float32 { return float32(math.Copysign(float64(a), float64(b))) },
		math.Copysign,
	},
	"divide": {func(a, b float32) float32 { return a / b }, func(a, b float64) float64 { return a / b }},
	"fmin": {
		func(a, b float32) float32 { return float32(fmin(float64(a), float64(b))) },
		fmin,
	},
	"fmax": {
		func(a, b float32) float32 { return float32(fmax(float64(a), float64(b))) },
		fmax,
	},
	"fdim": {
		func(a, b float32) float32 { return float32(math.Dim(float64(a), float64(b))) },
		math.Dim,
	},
	"step": {
		func(edge, x float32) float32 { return float32(step(float64(edge), float64(x))) },
		step,
	},
}

// nativeVariants lists the functions that also have native_ and half_ versions, computed with full precision.
var nativeVariants = map[string]bool{
	"sqrt": true, "rsqrt": true, "sin": true, "cos": true, "tan": true, "exp": true, "exp2": true, "exp10": true,
	"log": true, "log2": true, "log10": true, "powr": true, "divide": true, "recip": true,
}

func sign(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x
}

// fmin and fmax return the other argument if one is NaN.
func fmin(a, b float64) float64 {
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	case b < a:
		return b
	}
	return a
}

func fmax(a, b float64) float64 {
	switch {
	case math.IsNaN(a):
		return b
	case math.IsNaN(b):
		return a
	case b > a:
		return b
	}
	return a
}

func step(edge, x float64) float64 {
	if x < edge {
		return 0
	}
	return 1
}

// floatType returns the type math functions compute in for the given arguments: double if any is double,
// half if all are half, float otherwise (integer arguments are converted to float).
func floatType(args []*operand) *Type {
	k := KindHalf
	for _, arg := range args {
		switch arg.typ.Kind {
		case KindDouble:
			return scalarType(KindDouble)
		case KindHalf:
		default:
			k = KindFloat
		}
	}
	return scalarType(k)
}

// floatArgs converts the arguments to the floating point type t, reporting non arithmetic arguments.
func (c *compiler) floatArgs(call *Call, args []*operand, t *Type) ([]evalFn, bool) {
	evals := make([]evalFn, len(args))
	for i, arg := range args {
		if !arg.typ.isArith() {
			c.errorf(arg.pos, "invalid argument of type '%s' to '%s'", arg.typ.Describe(), call.Func)
			return nil, false
		}
		evals[i] = c.convertTo(arg, t, "passing")
	}
	return evals, true
}

func unaryMathBuiltin(f32 func(float32) float32, f64 func(float64) float64) builtinFn {
	return func(c *compiler, call *Call, args []*operand) *operand {
		if !c.checkNumArgs(call, args, 1) {
			return c.badOperand(call.Pos)
		}
		t := floatType(args)
		evals, ok := c.floatArgs(call, args, t)
		if !ok {
			return c.badOperand(call.Pos)
		}
		x := evals[0]
		if t.Kind == KindDouble {
			return callResult(call, t, func(f *frame) value { return value{f: f64(x(f).f)} })
		}
		k := t.Kind
		return callResult(call, t, func(f *frame) value {
			return value{f: roundFloat(k, float64(f32(float32(x(f).f))))}
		})
	}
}

func binaryMathBuiltin(f32 func(a, b float32) float32, f64 func(a, b float64) float64) builtinFn {
	return func(c *compiler, call *Call, args []*operand) *operand {
		if !c.checkNumArgs(call, args, 2) {
			return c.badOperand(call.Pos)
		}
		t := floatType(args)
		evals, ok := c.floatArgs(call, args, t)
		if !ok {
			return c.badOperand(call.Pos)
		}
		x, y := evals[0], evals[1]
		if t.Kind == KindDouble {
			return callResult(call, t, func(f *frame) value { return value{f: f64(x(f).f, y(f).f)} })
		}
		k := t.Kind
		return callResult(call, t, func(f *frame) value {
			return value{f: roundFloat(k, float64(f32(float32(x(f).f), float32(y(f).f))))}
		})
	}
}

func fmaBuiltin(c *compiler, call *Call, args []*operand) *operand {
	if !c.checkNumArgs(call, args, 3) {
		return c.badOperand(call.Pos)
	}
	t := floatType(args)
	evals, ok := c.floatArgs(call, args, t)
	if !ok {
		return c.badOperand(call.Pos)
	}
	a, b, d := evals[0], evals[1], evals[2]
	k := t.Kind
	return callResult(call, t, func(f *frame) value {
		return value{f: roundFloat(k, math.FMA(a(f).f, b(f).f, d(f).f))}
	})
}

// mixBuiltin implements mix(x, y, a) = x + (y - x) * a.
func mixBuiltin(c *compiler, call *Call, args []*operand) *operand {
	if !c.checkNumArgs(call, args, 3) {
		return c.badOperand(call.Pos)
	}
	t := floatType(args)
	evals, ok := c.floatArgs(call, args, t)
	if !ok {
		return c.badOperand(call.Pos)
	}
	x, y, a := evals[0], evals[1], evals[2]
	k := t.Kind
	return callResult(call, t, func(f *frame) value {
		xv := x(f).f
		return value{f: roundFloat(k, xv+(y(f).f-xv)*a(f).f)}
	})
}

func pownBuiltin(c *compiler, call *Call, args []*operand) *operand {
	if !c.checkNumArgs(call, args, 2) {
		return c.badOperand(call.Pos)
	}
	t := floatType(args[:1])
	evals, ok := c.floatArgs(call, args[:1], t)
	if !ok {
		return c.badOperand(call.Pos)
	}
	if !args[1].typ.isInteger() {
		c.errorf(args[1].pos, "the exponent of 'pown' must be an integer")
		return c.badOperand(call.Pos)
	}
	x, n := evals[0], c.convertTo(args[1], scalarType(KindInt), "passing")
	k := t.Kind
	return callResult(call, t, func(f *frame) value {
		return value{f: roundFloat(k, math.Pow(x(f).f, float64(n(f).i)))}
	})
}

// Integer and generic functions.

// commonArgs converts the arguments to their common arithmetic type.
func (c *compiler) commonArgs(call *Call, args []*operand) (*Type, []evalFn, bool) {
	var t *Type
	for _, arg := range args {
		if !arg.typ.isArith() {
			c.errorf(arg.pos, "invalid argument of type '%s' to '%s'", arg.typ.Describe(), call.Func)
			return nil, nil, false
		}
		if t == nil {
			t = arg.typ.unqualified()
		} else {
			t = commonType(t, arg.typ)
		}
	}
	evals := make([]evalFn, len(args))
	for i, arg := range args {
		evals[i] = c.convertTo(arg, t, "passing")
	}
	return t, evals, true
}

func lessFn(t *Type) func(a, b value) bool {
	switch {
	case t.isFloat():
		return func(a, b value) bool { return a.f < b.f }
	case t.isUnsigned():
		return func(a, b value) bool { return uint64(a.i) < uint64(b.i) }
	}
	return func(a, b value) bool { return a.i < b.i }
}

func minMaxBuiltin(isMin bool) builtinFn {
	return func(c *compiler, call *Call, args []*operand) *operand {
		if !c.checkNumArgs(call, args, 2) {
			return c.badOperand(call.Pos)
		}
		t, evals, ok := c.commonArgs(call, args)
		if !ok {
			return c.badOperand(call.Pos)
		}
		x, y := evals[0], evals[1]
		less := lessFn(t)
		return callResult(call, t, func(f *frame) value {
			a, b := x(f), y(f)
			if less(b, a) == isMin {
				return b
			}
			return a
		})
	}
}

func clampBuiltin(c *compiler, call *Call, args []*operand) *operand {
	if !c.checkNumArgs(call, args, 3) {
		return c.badOperand(call.Pos)
	}
	t, evals, ok := c.commonArgs(call, args)
	if !ok {
		return c.badOperand(call.Pos)
	}
	x, lo, hi := evals[0], evals[1], evals[2]
	less := lessFn(t)
	return callResult(call, t, func(f *frame) value {
		v, l, h := x(f), lo(f), hi(f)
		if less(v, l) {
			v = l
		}
		if less(h, v) {
			v = h
		}
		return v
	})
}

// unsignedOf returns the unsigned integer kind of the same size.
func unsignedOf(k Kind) Kind {
	switch k {
	case KindChar:
		return KindUChar
	case KindShort:
		return KindUShort
	case KindInt:
		return KindUInt
	case KindLong:
		return KindULong
	}
	return k
}

func absBuiltin(c *compiler, call *Call, args []*operand) *operand {
	if !c.checkNumArgs(call, args, 1) {
		return c.badOperand(call.Pos)
	}
	if !args[0].typ.isInteger() {
		c.errorf(args[0].pos, "'abs' requires an integer argument, use 'fabs' for floating point values")
		return c.badOperand(call.Pos)
	}
	x := args[0].eval
	k := unsignedOf(args[0].typ.Kind)
	return callResult(call, scalarType(k), func(f *frame) value {
		v := x(f).i
		if v < 0 {
			v = -v
		}
		return value{i: wrapInt(k, v)}
	})
}

func mul24Builtin(withAdd bool) builtinFn {
	return func(c *compiler, call *Call, args []*operand) *operand {
		n := 2
		if withAdd {
			n = 3
		}
		if !c.checkNumArgs(call, args, n) {
			return c.badOperand(call.Pos)
		}
		t, evals, ok := c.commonArgs(call, args)
		if !ok || t.Kind != KindInt && t.Kind != KindUInt {
			if ok {
				c.errorf(call.Pos, "'%s' requires int or uint arguments", call.Func)
			}
			return c.badOperand(call.Pos)
		}
		k := t.Kind
		return callResult(call, t, func(f *frame) value {
			v := evals[0](f).i * evals[1](f).i
			if withAdd {
				v += evals[2](f).i
			}
			return value{i: wrapInt(k, v)}
		})
	}
}

func bitCountBuiltin(popcount bool) builtinFn {
	return func(c *compiler, call *Call, args []*operand) *operand {
		if !c.checkNumArgs(call, args, 1) {
			return c.badOperand(call.Pos)
		}
		t := args[0].typ.unqualified()
		if !t.isInteger() {
			c.errorf(args[0].pos, "'%s' requires an integer argument", call.Func)
			return c.badOperand(call.Pos)
		}
		x := args[0].eval
		width := t.bits()
		mask := uint64(math.MaxUint64) >> (64 - width)
		return callResult(call, t, func(f *frame) value {
			v := uint64(x(f).i) & mask
			if popcount {
				return value{i: int64(bits.OnesCount64(v))}
			}
			return value{i: int64(bits.LeadingZeros64(v) - int(64-width))}
		})
	}
}

func classifyBuiltin(pred func(float64) bool) builtinFn {
	return func(c *compiler, call *Call, args []*operand) *operand {
		if !c.checkNumArgs(call, args, 1) {
			return c.badOperand(call.Pos)
		}
		t := floatType(args)
		evals, ok := c.floatArgs(call, args, t)
		if !ok {
			return c.badOperand(call.Pos)
		}
		x := evals[0]
		return callResult(call, scalarType(KindInt), func(f *frame) value { return value{i: boolToInt(pred(x(f).f))} })
	}
}

// selectBuiltin implements select(a, b, c): b if c is non-zero, a otherwise.
func selectBuiltin(c *compiler, call *Call, args []*operand) *operand {
	if !c.checkNumArgs(call, args, 3) {
		return c.badOperand(call.Pos)
	}
	t, evals, ok := c.commonArgs(call, args[:2])
	if !ok {
		return c.badOperand(call.Pos)
	}
	if !args[2].typ.isInteger() {
		c.errorf(args[2].pos, "the selector of 'select' must be an integer")
		return c.badOperand(call.Pos)
	}
	a, b, cond := evals[0], evals[1], args[2].eval
	return callResult(call, t, func(f *frame) value {
		if cond(f).i != 0 {
			return b(f)
		}
		return a(f)
	})
}

// Atomics.

func atomicBuiltin(op string) builtinFn {
	return func(c *compiler, call *Call, args []*operand) *operand {
		numArgs := 2
		switch op {
		case "inc", "dec":
			numArgs = 1
		case "cmpxchg":
			numArgs = 3
		}
		if !c.checkNumArgs(call, args, numArgs) {
			return c.badOperand(call.Pos)
		}
		pt := args[0].typ
		if !pt.isPointer() || (pt.Space != Global && pt.Space != Local) {
			c.errorf(args[0].pos, "the first argument of '%s' must be a pointer to __global or __local memory", call.Func)
			return c.badOperand(call.Pos)
		}
		t := pt.Elem.unqualified()
		valid := t.Kind == KindInt || t.Kind == KindUInt || (op == "xchg" && t.Kind == KindFloat)
		if !valid {
			c.errorf(args[0].pos, "'%s' is not supported on '%s'", call.Func, pt.Describe())
			return c.badOperand(call.Pos)
		}
		if pt.Elem.Const {
			c.errorf(args[0].pos, "'%s' on a pointer to const memory", call.Func)
			return c.badOperand(call.Pos)
		}
		operands := make([]evalFn, len(args)-1)
		for i, arg := range args[1:] {
			operands[i] = c.convertTo(arg, t, "passing")
		}
		update := atomicUpdate(op, t)
		addr, pos := args[0].eval, call.Pos
		return callResult(call, t, func(f *frame) value {
			p := addr(f).p
			var x, y value
			if len(operands) > 0 {
				x = operands[0](f)
			}
			if len(operands) > 1 {
				y = operands[1](f)
			}
			if p.mem == nil {
				faultf(pos, "null pointer dereference")
			}
			p.mem.mu.Lock()
			defer p.mem.mu.Unlock()
			old := load(pos, p, t)
			store(pos, p, t, update(old, x, y))
			return old
		})
	}
}

func atomicUpdate(op string, t *Type) func(old, x, y value) value {
	k := t.Kind
	less := lessFn(t)
	switch op {
	case "add":
		return func(old, x, _ value) value { return value{i: wrapInt(k, old.i+x.i)} }
	case "sub":
		return func(old, x, _ value) value { return value{i: wrapInt(k, old.i-x.i)} }
	case "inc":
		return func(old, _, _ value) value { return value{i: wrapInt(k, old.i+1)} }
	case "dec":
		return func(old, _, _ value) value { return value{i: wrapInt(k, old.i-1)} }
	case "min":
		return func(old, x, _ value) value {
			if less(x, old) {
				return x
			}
			return old
		}
	case "max":
		return func(old, x, _ value) value {
			if less(old, x) {
				return x
			}
			return old
		}
	case "and":
		return func(old, x, _ value) value { return value{i: old.i & x.i} }
	case "or":
		return func(old, x, _ value) value { return value{i: old.i | x.i} }
	case "xor":
		return func(old, x, _ value) value { return value{i: wrapInt(k, old.i^x.i)} }
	case "cmpxchg":
		// atomic_cmpxchg(p, cmp, val): stores val if *p == cmp.
		return func(old, cmp, val value) value {
			if old.i == cmp.i {
				return val
			}
			return old
		}
	}
	// xchg
	return func(_, x, _ value) value { return x }
}

// Conversions.

// asTypeBuiltin reinterprets the bits of a value of the same size.
func asTypeBuiltin(t *Type) builtinFn {
	return func(c *compiler, call *Call, args []*operand) *operand {
		if !c.checkNumArgs(call, args, 1) {
			return c.badOperand(call.Pos)
		}
		from := args[0].typ.unqualified()
		if !from.isArith() || from.Size() != t.Size() {
			c.errorf(call.Pos, "invalid reinterpretation: sizes of '%s' and '%s' must match", t, from)
			return c.badOperand(call.Pos)
		}
		if !c.checkType(t, call.Pos) {
			return c.badOperand(call.Pos)
		}
		x := args[0].eval
		size := t.Size()
		return callResult(call, t, func(f *frame) value {
			var buf [8]byte
			encodeValue(buf[:size], from, x(f))
			return decodeValue(buf[:size], t)
		})
	}
}

// convertBuiltin implements convert_<type>[_sat][_<rounding>].
func convertBuiltin(t *Type, saturate bool, rounding string) builtinFn {
	return func(c *compiler, call *Call, args []*operand) *operand {
		if !c.checkNumArgs(call, args, 1) {
			return c.badOperand(call.Pos)
		}
		if !c.checkType(t, call.Pos) {
			return c.badOperand(call.Pos)
		}
		from := args[0].typ.unqualified()
		if !from.isArith() {
			c.errorf(args[0].pos, "invalid argument of type '%s' to '%s'", from.Describe(), call.Func)
			return c.badOperand(call.Pos)
		}
		if saturate && t.isFloat() {
			c.errorf(call.Pos, "saturated conversions to floating point types are not allowed")
			return c.badOperand(call.Pos)
		}
		x := args[0].eval
		round := roundingFn(rounding)
		return callResult(call, t, func(f *frame) value {
			v := x(f)
			if from.isFloat() && t.isInteger() {
				v.f = round(v.f)
				if saturate {
					return saturateFloat(v.f, t)
				}
			} else if saturate && from.isInteger() && t.isInteger() {
				return saturateInt(v.i, from, t)
			}
			return convertValue(v, from, t)
		})
	}
}

func roundingFn(rounding string) func(float64) float64 {
	switch strings.TrimPrefix(rounding, "_") {
	case "rte":
		return math.RoundToEven
	case "rtp":
		return math.Ceil
	case "rtn":
		return math.Floor
	}
	return math.Trunc
}

// intRange returns the range of an integer kind as float64.
func intRange(t *Type) (lo, hi float64) {
	if t.isUnsigned() {
		return 0, math.Ldexp(1, int(t.bits())) - 1
	}
	return -math.Ldexp(1, int(t.bits())-1), math.Ldexp(1, int(t.bits())-1) - 1
}

func saturateFloat(x float64, t *Type) value {
	lo, hi := intRange(t)
	switch {
	case math.IsNaN(x):
		return value{}
	case x <= lo:
		return value{i: wrapInt(t.Kind, int64(lo))}
	case x >= hi:
		switch t.Kind {
		case KindULong:
			return value{i: -1}
		case KindLong:
			return value{i: math.MaxInt64}
		}
		return value{i: wrapInt(t.Kind, int64(hi))}
	}
	return convertValue(value{f: x}, scalarType(KindDouble), t)
}

func saturateInt(x int64, from, to *Type) value {
	lo, hi := intRange(to)
	if from.Kind == KindULong {
		u := uint64(x)
		if float64(u) >= hi {
			switch to.Kind {
			case KindULong:
				return value{i: x}
			case KindLong:
				return value{i: math.MaxInt64}
			}
			return value{i: int64(hi)}
		}
		return value{i: wrapInt(to.Kind, x)}
	}
	switch {
	case float64(x) < lo:
		return value{i: int64(lo)}
	case to.Kind != KindULong && to.Kind != KindLong && float64(x) > hi:
		return value{i: int64(hi)}
	}
	return value{i: wrapInt(to.Kind, x)}
}
