package clc

import (
	"fmt"
)

// ctl is the outcome of executing a statement.
type ctl int

const (
	ctlNext ctl = iota
	ctlBreak
	ctlContinue
	ctlReturn
)

type (
	evalFn func(f *frame) value
	stmtFn func(f *frame) ctl
)

// frame holds the state of one function invocation of one work-item.
type frame struct {
	slots []value
	item  *workItem
	ret   value
	ticks int
}

// operand is a compiled and type-checked expression.
type operand struct {
	pos  Pos
	typ  *Type
	eval evalFn

	// slot >= 0 for private variables, addr != nil for objects in memory: both are lvalues.
	slot int
	addr func(f *frame) ptr

	// space of objects in memory and of arrays.
	space    AddressSpace
	readOnly bool

	// isConst is set for compile-time constants.
	isConst bool

	// bad operands come from expressions with errors already reported.
	bad bool
}

func (op *operand) isLvalue() bool { return op.slot >= 0 || op.addr != nil }

// isNullConstant returns whether op is the integer constant 0, which converts to a null pointer.
func (op *operand) isNullConstant() bool {
	if !op.isConst || !op.typ.isInteger() {
		return false
	}
	v, ok := tryEval(op.eval)
	return ok && v.i == 0
}

type symbol struct {
	name string
	pos  Pos
	typ  *Type
	slot int

	// mem is set for __constant variables, whose value is computed at compile time.
	mem *Memory

	// inMemory objects (arrays and __local variables) have a pointer to their memory stored in the slot.
	inMemory bool
	space    AddressSpace

	used, param bool
}

type scope struct {
	parent  *scope
	symbols map[string]*symbol
	order   []*symbol
}

func (s *scope) lookup(name string) *symbol {
	for ; s != nil; s = s.parent {
		if sym, found := s.symbols[name]; found {
			return sym
		}
	}
	return nil
}

// function is a compiled user function or kernel.
type function struct {
	decl     *FuncDecl
	name     string
	numSlots int
	body     stmtFn

	// callees maps called functions to the position of the first call.
	callees      map[*function]Pos
	callsBarrier bool

	// localSizes of the __local variables declared in a kernel body, in bytes.
	localSizes []int
}

// call runs the function for the work-item with the given argument values.
func (fn *function) call(item *workItem, args []value) value {
	f := &frame{slots: make([]value, fn.numSlots), item: item}
	copy(f.slots, args)
	fn.body(f)
	return f.ret
}

type compiler struct {
	diags      *Diagnostics
	opts       *Options
	fp64, fp16 bool

	funcs   map[string]*function
	order   []*function
	globals *scope

	// State of the function being compiled.
	fn    *function
	scope *scope
	loops int
}

func newCompiler(diags *Diagnostics, opts *Options) *compiler {
	return &compiler{
		diags:   diags,
		opts:    opts,
		fp64:    opts.hasExtension("cl_khr_fp64"),
		fp16:    opts.hasExtension("cl_khr_fp16"),
		funcs:   make(map[string]*function),
		globals: &scope{symbols: make(map[string]*symbol)},
	}
}

func (c *compiler) errorf(pos Pos, format string, args ...any) {
	c.diags.errorf(pos, format, args...)
}

func (c *compiler) badOperand(pos Pos) *operand {
	return &operand{pos: pos, typ: scalarType(KindInt), slot: -1, bad: true, eval: func(*frame) value { return value{} }}
}

// checkType verifies that the type is available on the target device.
func (c *compiler) checkType(t *Type, pos Pos) bool {
	for ; t != nil; t = t.Elem {
		switch {
		case t.Kind == KindDouble && !c.fp64:
			c.errorf(pos, "use of type 'double' requires cl_khr_fp64 support")
			return false
		case t.Kind == KindHalf && !c.fp16:
			c.errorf(pos, "use of type 'half' requires cl_khr_fp16 support")
			return false
		}
	}
	return true
}

// compileFile compiles all the declarations, and returns the compiled functions in declaration order.
func (c *compiler) compileFile(file *File) []*function {
	for _, v := range file.Globals {
		if v.Space != Constant {
			c.errorf(v.Pos, "program scope variable must reside in constant address space")
			continue
		}
		c.declareConstant(c.globals, v)
	}

	// Declare all functions first, so they can be called before their definition.
	for _, decl := range file.Funcs {
		c.declareFunction(decl)
	}
	for _, fn := range c.order {
		if fn.decl.Body != nil {
			c.compileFunction(fn)
		}
	}
	for _, fn := range c.order {
		for callee, pos := range fn.callees {
			if callee.decl.Body == nil {
				c.errorf(pos, "undefined function '%s'", callee.name)
			}
		}
	}
	c.checkCallGraph()
	return c.order
}

func (c *compiler) declareFunction(decl *FuncDecl) {
	if prev, found := c.funcs[decl.Name]; found {
		if prev.decl.Body != nil && decl.Body != nil {
			c.errorf(decl.Pos, "redefinition of '%s'", decl.Name)
			return
		}
		if len(prev.decl.Params) != len(decl.Params) || !sameType(prev.decl.Result, decl.Result) || prev.decl.Kernel != decl.Kernel {
			c.errorf(decl.Pos, "conflicting types for '%s'", decl.Name)
			return
		}
		if decl.Body != nil {
			prev.decl = decl
		}
		return
	}
	if _, isBuiltin := builtins[decl.Name]; isBuiltin {
		c.errorf(decl.Pos, "redefinition of builtin function '%s'", decl.Name)
		return
	}
	c.checkType(decl.Result, decl.Pos)
	if decl.Kernel {
		if decl.Result.Kind != KindVoid {
			c.errorf(decl.Pos, "kernel function '%s' must have void return type", decl.Name)
		}
		for _, param := range decl.Params {
			switch {
			case param.Type.isPointer() && param.Type.Space == Private:
				c.errorf(param.Pos, "kernel parameter '%s' cannot be a pointer to the __private address space", param.Name)
			case param.Type.Kind == KindBool:
				c.errorf(param.Pos, "'bool' cannot be used as the type of a kernel parameter")
			case param.Type.Kind == KindVoid:
				c.errorf(param.Pos, "kernel parameter '%s' cannot have type void", param.Name)
			}
		}
	}
	for _, param := range decl.Params {
		c.checkType(param.Type, param.Pos)
	}
	fn := &function{decl: decl, name: decl.Name, callees: make(map[*function]Pos)}
	c.funcs[decl.Name] = fn
	c.order = append(c.order, fn)
}

func (c *compiler) compileFunction(fn *function) {
	c.fn = fn
	c.scope = &scope{parent: c.globals, symbols: make(map[string]*symbol)}
	c.loops = 0
	for _, param := range fn.decl.Params {
		if param.Type.Kind == KindVoid {
			continue
		}
		sym := c.declare(param.Name, param.Pos, param.Type)
		if sym != nil {
			sym.param = true
			sym.used = true
		}
	}
	body := c.compileStmtList(fn.decl.Body.List)
	c.closeScope()
	fn.body = body
	if fn.decl.Result.Kind != KindVoid && !alwaysReturns(fn.decl.Body) {
		c.diags.warnf(fn.decl.Body.Pos, "non-void function '%s' does not return a value in all control paths", fn.name)
	}
	c.fn = nil
}

// checkCallGraph reports recursion, and propagates the use of barriers to the callers.
func (c *compiler) checkCallGraph() {
	const (
		visiting = iota + 1
		done
	)
	state := make(map[*function]int)
	var visit func(fn *function) bool
	visit = func(fn *function) bool {
		switch state[fn] {
		case visiting:
			return false
		case done:
			return true
		}
		state[fn] = visiting
		for callee, pos := range fn.callees {
			if !visit(callee) {
				c.errorf(pos, "recursive call to '%s' is not allowed", callee.name)
				state[fn] = done
				return true
			}
			fn.callsBarrier = fn.callsBarrier || callee.callsBarrier
		}
		state[fn] = done
		return true
	}
	for _, fn := range c.order {
		visit(fn)
	}
}

func alwaysReturns(s Stmt) bool {
	switch s := s.(type) {
	case *Return:
		return true
	case *Block:
		for _, sub := range s.List {
			if alwaysReturns(sub) {
				return true
			}
		}
	case *If:
		return s.Else != nil && alwaysReturns(s.Then) && alwaysReturns(s.Else)
	case *While:
		// "while (1)" loops without a break.
		if v, ok := constEvalInt(s.Cond); ok && v != 0 {
			return !hasBreak(s.Body)
		}
	case *For:
		if s.Cond == nil {
			return !hasBreak(s.Body)
		}
	}
	return false
}

// hasBreak returns whether a loop body breaks out of the loop.
func hasBreak(s Stmt) bool {
	switch s := s.(type) {
	case *Break:
		return true
	case *Block:
		for _, sub := range s.List {
			if hasBreak(sub) {
				return true
			}
		}
	case *If:
		return hasBreak(s.Then) || (s.Else != nil && hasBreak(s.Else))
	}
	return false
}

// Scopes and declarations.

func (c *compiler) openScope() {
	c.scope = &scope{parent: c.scope, symbols: make(map[string]*symbol)}
}

func (c *compiler) closeScope() {
	for _, sym := range c.scope.order {
		if !sym.used && !sym.param {
			c.diags.warnf(sym.pos, "unused variable '%s'", sym.name)
		}
	}
	c.scope = c.scope.parent
}

// declare adds a variable in a new slot of the current function. It returns nil on redefinitions.
func (c *compiler) declare(name string, pos Pos, t *Type) *symbol {
	if prev, found := c.scope.symbols[name]; found {
		c.errorf(pos, "redefinition of '%s'", name)
		c.errorf(prev.pos, "previous definition of '%s' is here", name)
		return nil
	}
	sym := &symbol{name: name, pos: pos, typ: t, slot: c.fn.numSlots}
	c.fn.numSlots++
	c.scope.symbols[name] = sym
	c.scope.order = append(c.scope.order, sym)
	return sym
}

// declareConstant declares a __constant variable, evaluating its initializer at compile time.
func (c *compiler) declareConstant(s *scope, v *VarDecl) {
	if !c.checkType(v.Type, v.Pos) {
		return
	}
	if _, found := s.symbols[v.Name]; found {
		c.errorf(v.Pos, "redefinition of '%s'", v.Name)
		return
	}
	if v.Init == nil && !v.HasList {
		c.errorf(v.Pos, "variable '%s' in constant address space must be initialized", v.Name)
		return
	}
	mem := &Memory{name: v.Name, space: Constant, readOnly: true, data: make([]byte, v.Type.Size())}
	inits := c.initializers(v)
	for _, init := range inits {
		if init.op.bad {
			continue
		}
		if !init.op.isConst {
			c.errorf(init.op.pos, "initializer element is not a compile-time constant")
			continue
		}
		encodeValue(mem.data[init.offset:init.offset+init.typ.Size()], init.typ, init.conv(nil))
	}
	t := *v.Type
	t.Const = true
	sym := &symbol{name: v.Name, pos: v.Pos, typ: &t, mem: mem, space: Constant, slot: -1, used: true}
	s.symbols[v.Name] = sym
	s.order = append(s.order, sym)
}

type initializer struct {
	op     *operand
	typ    *Type
	offset int
	conv   evalFn
}

// initializers compiles the initializer of a variable: one element per scalar, with its offset for arrays.
func (c *compiler) initializers(v *VarDecl) []initializer {
	if v.Type.Kind != KindArray {
		if v.HasList {
			c.errorf(v.Pos, "initializer lists are only supported for arrays")
			return nil
		}
		if v.Init == nil {
			return nil
		}
		op := c.value(v.Init)
		return []initializer{{op: op, typ: v.Type, conv: c.convertTo(op, v.Type, "initializing")}}
	}
	if !v.HasList {
		if v.Init != nil {
			c.errorf(v.Init.exprPos(), "array initializer must be an initializer list")
		}
		return nil
	}
	elem := v.Type
	for elem.Kind == KindArray {
		elem = elem.Elem
	}
	capacity := v.Type.Size() / elem.Size()
	if len(v.InitList) > capacity {
		c.errorf(v.InitList[capacity].exprPos(), "excess elements in array initializer")
		return nil
	}
	inits := make([]initializer, 0, len(v.InitList))
	for i, e := range v.InitList {
		op := c.value(e)
		inits = append(inits, initializer{op: op, typ: elem, offset: i * elem.Size(), conv: c.convertTo(op, elem, "initializing")})
	}
	return inits
}

func (c *compiler) compileVarDecl(v *VarDecl) stmtFn {
	if !c.checkType(v.Type, v.Pos) {
		return nil
	}
	if v.Type.Kind == KindVoid {
		c.errorf(v.Pos, "variable '%s' has incomplete type 'void'", v.Name)
		return nil
	}
	switch v.Space {
	case Global:
		c.errorf(v.Pos, "function scope variable '%s' cannot be declared in the global address space", v.Name)
		return nil
	case Constant:
		c.declareConstant(c.scope, v)
		return nil
	case Local:
		return c.compileLocalDecl(v)
	}

	if v.Type.Kind == KindArray {
		inits := c.initializers(v)
		sym := c.declare(v.Name, v.Pos, v.Type)
		if sym == nil {
			return nil
		}
		sym.inMemory, sym.space = true, Private
		slot, size, name := sym.slot, v.Type.Size(), v.Name
		return func(f *frame) ctl {
			mem := &Memory{name: name, space: Private, data: make([]byte, size)}
			for _, init := range inits {
				encodeValue(mem.data[init.offset:init.offset+init.typ.Size()], init.typ, init.conv(f))
			}
			f.slots[slot] = value{p: ptr{mem: mem}}
			return ctlNext
		}
	}

	var conv evalFn
	if inits := c.initializers(v); len(inits) == 1 {
		conv = inits[0].conv
	}
	sym := c.declare(v.Name, v.Pos, v.Type)
	if sym == nil {
		return nil
	}
	slot := sym.slot
	if conv == nil {
		return func(f *frame) ctl {
			f.slots[slot] = value{}
			return ctlNext
		}
	}
	return func(f *frame) ctl {
		f.slots[slot] = conv(f)
		return ctlNext
	}
}

// compileLocalDecl handles variables in the __local address space: they are allocated once per work-group.
func (c *compiler) compileLocalDecl(v *VarDecl) stmtFn {
	if !c.fn.decl.Kernel {
		c.errorf(v.Pos, "non-kernel function variable '%s' cannot be declared in the local address space", v.Name)
		return nil
	}
	if v.Init != nil || v.HasList {
		c.errorf(v.Pos, "'__local' variable '%s' cannot have an initializer", v.Name)
		return nil
	}
	sym := c.declare(v.Name, v.Pos, v.Type)
	if sym == nil {
		return nil
	}
	sym.inMemory, sym.space = true, Local
	idx := len(c.fn.localSizes)
	c.fn.localSizes = append(c.fn.localSizes, v.Type.Size())
	slot := sym.slot
	return func(f *frame) ctl {
		f.slots[slot] = value{p: ptr{mem: f.item.group.locals[idx]}}
		return ctlNext
	}
}

// Statements.

func (c *compiler) compileStmtList(list []Stmt) stmtFn {
	var stmts []stmtFn
	for _, s := range list {
		if fn := c.compileStmt(s); fn != nil {
			stmts = append(stmts, fn)
		}
	}
	switch len(stmts) {
	case 0:
		return func(*frame) ctl { return ctlNext }
	case 1:
		return stmts[0]
	}
	return func(f *frame) ctl {
		for _, s := range stmts {
			if result := s(f); result != ctlNext {
				return result
			}
		}
		return ctlNext
	}
}

func (c *compiler) compileStmt(s Stmt) stmtFn {
	switch s := s.(type) {
	case *Empty:
		return nil

	case *Block:
		c.openScope()
		defer c.closeScope()
		return c.compileStmtList(s.List)

	case *DeclStmt:
		var decls []stmtFn
		for _, v := range s.Decls {
			if fn := c.compileVarDecl(v); fn != nil {
				decls = append(decls, fn)
			}
		}
		if len(decls) == 0 {
			return nil
		}
		return func(f *frame) ctl {
			for _, d := range decls {
				d(f)
			}
			return ctlNext
		}

	case *ExprStmt:
		eval := c.expr(s.X).eval
		return func(f *frame) ctl {
			eval(f)
			return ctlNext
		}

	case *If:
		cond := c.condition(s.Cond)
		then := c.compileScoped(s.Then)
		if s.Else == nil {
			return func(f *frame) ctl {
				if cond(f) {
					return then(f)
				}
				return ctlNext
			}
		}
		otherwise := c.compileScoped(s.Else)
		return func(f *frame) ctl {
			if cond(f) {
				return then(f)
			}
			return otherwise(f)
		}

	case *For:
		c.openScope()
		defer c.closeScope()
		var init stmtFn
		if s.Init != nil {
			init = c.compileStmt(s.Init)
		}
		var cond func(*frame) bool
		if s.Cond != nil {
			cond = c.condition(s.Cond)
		}
		var post evalFn
		if s.Post != nil {
			post = c.expr(s.Post).eval
		}
		c.loops++
		body := c.compileScoped(s.Body)
		c.loops--
		return func(f *frame) ctl {
			if init != nil {
				init(f)
			}
			for {
				if cond != nil && !cond(f) {
					return ctlNext
				}
				switch body(f) {
				case ctlBreak:
					return ctlNext
				case ctlReturn:
					return ctlReturn
				}
				if post != nil {
					post(f)
				}
				f.tick()
			}
		}

	case *While:
		cond := c.condition(s.Cond)
		c.loops++
		body := c.compileScoped(s.Body)
		c.loops--
		doWhile := s.DoWhile
		return func(f *frame) ctl {
			if !doWhile && !cond(f) {
				return ctlNext
			}
			for {
				switch body(f) {
				case ctlBreak:
					return ctlNext
				case ctlReturn:
					return ctlReturn
				}
				if !cond(f) {
					return ctlNext
				}
				f.tick()
			}
		}

	case *Break:
		if c.loops == 0 {
			c.errorf(s.Pos, "'break' statement not in loop statement")
			return nil
		}
		return func(*frame) ctl { return ctlBreak }

	case *Continue:
		if c.loops == 0 {
			c.errorf(s.Pos, "'continue' statement not in loop statement")
			return nil
		}
		return func(*frame) ctl { return ctlContinue }

	case *Return:
		return c.compileReturn(s)
	}
	c.errorf(s.stmtPos(), "unsupported statement")
	return nil
}

// compileScoped compiles the body of if and loops, which has its own scope, and never returns nil.
func (c *compiler) compileScoped(s Stmt) stmtFn {
	c.openScope()
	fn := c.compileStmt(s)
	c.closeScope()
	if fn == nil {
		return func(*frame) ctl { return ctlNext }
	}
	return fn
}

func (c *compiler) compileReturn(s *Return) stmtFn {
	result := c.fn.decl.Result
	if s.X == nil {
		if result.Kind != KindVoid {
			c.errorf(s.Pos, "non-void function '%s' should return a value", c.fn.name)
		}
		return func(*frame) ctl { return ctlReturn }
	}
	op := c.value(s.X)
	if result.Kind == KindVoid {
		if op.typ.Kind != KindVoid {
			c.errorf(s.Pos, "void function '%s' should not return a value", c.fn.name)
		}
		return func(*frame) ctl { return ctlReturn }
	}
	conv := c.convertTo(op, result, "returning")
	return func(f *frame) ctl {
		f.ret = conv(f)
		return ctlReturn
	}
}

// loopPollPeriod is the number of loop iterations between checks for cancellation.
const loopPollPeriod = 4096

func (f *frame) tick() {
	f.ticks++
	if f.ticks%loopPollPeriod == 0 && f.item != nil {
		f.item.poll()
	}
}

// Expressions.

// condition compiles an expression used as a boolean.
func (c *compiler) condition(e Expr) func(f *frame) bool {
	return c.truth(c.value(e))
}

func (c *compiler) truth(op *operand) func(f *frame) bool {
	eval := op.eval
	switch {
	case op.bad:
		return func(*frame) bool { return false }
	case op.typ.isFloat():
		return func(f *frame) bool { return eval(f).f != 0 }
	case op.typ.isPointer():
		return func(f *frame) bool { return eval(f).p.mem != nil }
	case op.typ.isInteger():
		return func(f *frame) bool { return eval(f).i != 0 }
	}
	c.errorf(op.pos, "statement requires expression of scalar type ('%s' invalid)", op.typ)
	return func(*frame) bool { return false }
}

// value compiles an expression used as a value: arrays decay to pointers to their first element.
func (c *compiler) value(e Expr) *operand {
	op := c.expr(e)
	if op.typ.Kind != KindArray {
		return op
	}
	elem := op.typ.Elem
	if op.readOnly && !elem.Const {
		ce := *elem
		ce.Const = true
		elem = &ce
	}
	return &operand{pos: op.pos, typ: pointerTo(elem, op.space), eval: op.eval, slot: -1}
}

// memObject returns the operand of an object in memory at the address returned by addr.
func memObject(pos Pos, t *Type, space AddressSpace, readOnly bool, addr func(f *frame) ptr) *operand {
	readOnly = readOnly || t.Const || space == Constant
	if t.Kind == KindArray {
		return &operand{pos: pos, typ: t, slot: -1, space: space, readOnly: readOnly,
			eval: func(f *frame) value { return value{p: addr(f)} }}
	}
	return &operand{pos: pos, typ: t, slot: -1, addr: addr, space: space, readOnly: readOnly,
		eval: func(f *frame) value { return load(pos, addr(f), t) }}
}

// fold evaluates constant operands at compile time.
func fold(op *operand) *operand {
	if !op.isConst || op.bad || op.isLvalue() {
		return op
	}
	v, ok := tryEval(op.eval)
	if !ok {
		// Faults, like a division by zero, are reported when executed.
		return op
	}
	op.eval = func(*frame) value { return v }
	return op
}

func tryEval(eval evalFn) (v value, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, isFault := r.(*fault); !isFault {
				panic(r)
			}
			ok = false
		}
	}()
	return eval(nil), true
}

func (c *compiler) expr(e Expr) *operand {
	switch e := e.(type) {
	case *IntLit:
		return c.intLiteral(e)

	case *FloatLit:
		k := KindFloat
		if !e.Single && c.fp64 {
			k = KindDouble
		}
		v := value{f: roundFloat(k, e.Val)}
		return &operand{pos: e.Pos, typ: scalarType(k), slot: -1, isConst: true, eval: func(*frame) value { return v }}

	case *Ident:
		return c.ident(e)

	case *Unary:
		return fold(c.unary(e))

	case *Postfix:
		return c.incDec(e.Pos, e.Op, e.X, true)

	case *Binary:
		return fold(c.binary(e))

	case *Assign:
		return c.assign(e)

	case *Cond:
		return fold(c.conditional(e))

	case *Call:
		return c.call(e)

	case *Index:
		return c.index(e)

	case *Cast:
		return fold(c.cast(e))

	case *SizeOf:
		t := e.Type
		if t == nil {
			t = c.expr(e.X).typ
		} else {
			c.checkType(t, e.Pos)
		}
		if t.Kind == KindVoid {
			c.errorf(e.Pos, "invalid application of 'sizeof' to type 'void'")
		}
		v := value{i: int64(t.Size())}
		return &operand{pos: e.Pos, typ: scalarType(KindULong), slot: -1, isConst: true, eval: func(*frame) value { return v }}
	}
	c.errorf(e.exprPos(), "unsupported expression")
	return c.badOperand(e.exprPos())
}

// intLiteral types integer literals as C does: the first of int, long, ulong that can represent the value,
// with uint also considered for hexadecimal and octal literals.
func (c *compiler) intLiteral(e *IntLit) *operand {
	var k Kind
	switch {
	case e.Unsigned && (e.Long || e.Val > 0xFFFFFFFF):
		k = KindULong
	case e.Unsigned:
		k = KindUInt
	case e.Long:
		k = KindLong
		if e.Val > 0x7FFFFFFFFFFFFFFF {
			k = KindULong
		}
	case e.Val <= 0x7FFFFFFF:
		k = KindInt
	case e.Val <= 0xFFFFFFFF && !e.Decimal:
		k = KindUInt
	case e.Val <= 0x7FFFFFFFFFFFFFFF:
		k = KindLong
	default:
		k = KindULong
	}
	v := value{i: int64(e.Val)}
	return &operand{pos: e.Pos, typ: scalarType(k), slot: -1, isConst: true, eval: func(*frame) value { return v }}
}

func (c *compiler) ident(e *Ident) *operand {
	var sym *symbol
	if c.scope != nil {
		sym = c.scope.lookup(e.Name)
	} else {
		sym = c.globals.lookup(e.Name)
	}
	if sym == nil {
		if _, isFunc := c.funcs[e.Name]; isFunc {
			c.errorf(e.Pos, "function '%s' used as a value", e.Name)
		} else {
			c.errorf(e.Pos, "use of undeclared identifier '%s'", e.Name)
		}
		return c.badOperand(e.Pos)
	}
	sym.used = true
	switch {
	case sym.mem != nil:
		mem := sym.mem
		return memObject(e.Pos, sym.typ, Constant, true, func(*frame) ptr { return ptr{mem: mem} })
	case sym.inMemory:
		slot := sym.slot
		return memObject(e.Pos, sym.typ, sym.space, false, func(f *frame) ptr { return f.slots[slot].p })
	}
	slot := sym.slot
	return &operand{pos: e.Pos, typ: sym.typ, slot: slot, readOnly: sym.typ.Const,
		eval: func(f *frame) value { return f.slots[slot] }}
}

// convertTo returns an evaluator of op converted to type t, as in assignments, initializations, returns and
// function arguments.
func (c *compiler) convertTo(op *operand, t *Type, context string) evalFn {
	eval := op.eval
	if op.bad {
		return eval
	}
	from := op.typ
	switch {
	case t.isArith() && from.isArith():
		if sameType(from, t) {
			return eval
		}
		return func(f *frame) value { return convertValue(eval(f), from, t) }

	case t.isPointer() && from.isPointer():
		if from.Space != t.Space {
			c.errorf(op.pos, "%s '%s' with an expression of type '%s' changes address space of pointer",
				context, t.Describe(), from.Describe())
		} else if from.Elem.Kind != KindVoid && t.Elem.Kind != KindVoid && !sameType(from.Elem, t.Elem) {
			c.diags.warnf(op.pos, "%s '%s' with an expression of incompatible type '%s'", context, t.Describe(), from.Describe())
		} else if from.Elem.Const && !t.Elem.Const {
			c.diags.warnf(op.pos, "%s '%s' with an expression of type '%s' discards qualifiers", context, t.Describe(), from.Describe())
		}
		return eval

	case t.isPointer() && op.isNullConstant():
		return func(*frame) value { return value{} }
	}
	c.errorf(op.pos, "%s '%s' with an expression of incompatible type '%s'", context, t.Describe(), from.Describe())
	return eval
}

func (c *compiler) unary(e *Unary) *operand {
	if e.Op == "++" || e.Op == "--" {
		return c.incDec(e.Pos, e.Op, e.X, false)
	}
	if e.Op == "&" {
		return c.addressOf(e)
	}
	x := c.value(e.X)
	if x.bad {
		return x
	}
	eval := x.eval
	result := &operand{pos: e.Pos, slot: -1, isConst: x.isConst}
	switch e.Op {
	case "*":
		if !x.typ.isPointer() {
			c.errorf(e.Pos, "indirection requires pointer operand ('%s' invalid)", x.typ)
			return c.badOperand(e.Pos)
		}
		elem := x.typ.Elem
		if elem.Kind == KindVoid {
			c.errorf(e.Pos, "dereferencing a 'void*' pointer")
			return c.badOperand(e.Pos)
		}
		return memObject(e.Pos, elem, x.typ.Space, elem.Const, func(f *frame) ptr { return eval(f).p })

	case "!":
		truth := c.truth(x)
		result.typ = scalarType(KindInt)
		result.eval = func(f *frame) value { return value{i: boolToInt(!truth(f))} }
		return result
	}

	if !x.typ.isArith() || (e.Op == "~" && !x.typ.isInteger()) {
		c.errorf(e.Pos, "invalid argument type '%s' to unary expression", x.typ.Describe())
		return c.badOperand(e.Pos)
	}
	t := promote(x.typ)
	from := x.typ
	k := t.Kind
	result.typ = t
	switch {
	case e.Op == "+":
		result.eval = func(f *frame) value { return convertValue(eval(f), from, t) }
	case e.Op == "-" && t.isFloat():
		result.eval = func(f *frame) value { return value{f: -convertValue(eval(f), from, t).f} }
	case e.Op == "-":
		result.eval = func(f *frame) value { return value{i: wrapInt(k, -convertValue(eval(f), from, t).i)} }
	case e.Op == "~":
		result.eval = func(f *frame) value { return value{i: wrapInt(k, ^convertValue(eval(f), from, t).i)} }
	}
	return result
}

func (c *compiler) addressOf(e *Unary) *operand {
	x := c.expr(e.X)
	if x.bad {
		return x
	}
	switch {
	case x.typ.Kind == KindArray:
		c.errorf(e.Pos, "taking the address of an array is not supported, use the array itself")
		return c.badOperand(e.Pos)
	case x.addr == nil && x.slot >= 0:
		c.errorf(e.Pos, "taking the address of a private scalar variable is not supported")
		return c.badOperand(e.Pos)
	case x.addr == nil:
		c.errorf(e.Pos, "cannot take the address of an rvalue of type '%s'", x.typ)
		return c.badOperand(e.Pos)
	}
	elem := x.typ
	if x.readOnly && !elem.Const {
		ce := *elem
		ce.Const = true
		elem = &ce
	}
	addr := x.addr
	return &operand{pos: e.Pos, typ: pointerTo(elem, x.space), slot: -1,
		eval: func(f *frame) value { return value{p: addr(f)} }}
}

// modify compiles a read-modify-write of an lvalue: update computes the new value from the old one. It
// returns the new value, or the old one if post is set.
func modify(lv *operand, update func(f *frame, old value) value, post bool) evalFn {
	if lv.slot >= 0 {
		slot := lv.slot
		return func(f *frame) value {
			old := f.slots[slot]
			v := update(f, old)
			f.slots[slot] = v
			if post {
				return old
			}
			return v
		}
	}
	addr, t, pos := lv.addr, lv.typ, lv.pos
	return func(f *frame) value {
		p := addr(f)
		old := load(pos, p, t)
		v := update(f, old)
		store(pos, p, t, v)
		if post {
			return old
		}
		return v
	}
}

func (c *compiler) checkAssignable(lv *operand, pos Pos) bool {
	switch {
	case lv.bad:
		return false
	case !lv.isLvalue():
		c.errorf(pos, "expression is not assignable")
		return false
	case lv.readOnly:
		c.errorf(pos, "cannot assign to variable with const-qualified type '%s'", lv.typ.Describe())
		return false
	}
	return true
}

func (c *compiler) incDec(pos Pos, op string, target Expr, post bool) *operand {
	lv := c.expr(target)
	if !c.checkAssignable(lv, pos) {
		return c.badOperand(pos)
	}
	delta := int64(1)
	if op == "--" {
		delta = -1
	}
	t := lv.typ
	var update func(f *frame, old value) value
	switch {
	case t.isFloat():
		update = func(_ *frame, old value) value { return value{f: roundFloat(t.Kind, old.f+float64(delta))} }
	case t.isInteger():
		update = func(_ *frame, old value) value { return value{i: wrapInt(t.Kind, old.i+delta)} }
	case t.isPointer() && t.Elem.Kind != KindVoid:
		step := int(delta) * t.Elem.Size()
		update = func(_ *frame, old value) value {
			old.p.off += step
			return old
		}
	default:
		c.errorf(pos, "cannot increment value of type '%s'", t)
		return c.badOperand(pos)
	}
	return &operand{pos: pos, typ: t.unqualified(), slot: -1, eval: modify(lv, update, post)}
}

// binaryFn computes a binary operation on values already converted to the operation type.
type binaryFn func(a, b value) value

// binaryOp type-checks a binary operator (other than the logical ones and the comma) and returns the result
// type and the function computing it from the operand values, converting them as needed.
func (c *compiler) binaryOp(pos Pos, op string, x, y *operand) (*Type, binaryFn) {
	xt, yt := x.typ, y.typ
	invalid := func() (*Type, binaryFn) {
		c.errorf(pos, "invalid operands to binary expression ('%s' and '%s')", xt.Describe(), yt.Describe())
		return nil, nil
	}

	// Pointers.
	if xt.isPointer() || yt.isPointer() {
		switch op {
		case "+", "-":
			if xt.isPointer() && yt.isPointer() {
				if op == "+" || !sameType(xt.Elem, yt.Elem) || xt.Space != yt.Space {
					return invalid()
				}
				size := int64(xt.Elem.Size())
				if size == 0 {
					return invalid()
				}
				return scalarType(KindLong), func(a, b value) value { return value{i: int64(a.p.off-b.p.off) / size} }
			}
			if op == "-" && !xt.isPointer() {
				return invalid()
			}
			pt, it := xt, yt
			swap := false
			if !xt.isPointer() {
				pt, it, swap = yt, xt, true
			}
			if !it.isInteger() || pt.Elem.Kind == KindVoid {
				return invalid()
			}
			size := pt.Elem.Size()
			if op == "-" {
				size = -size
			}
			return pt, func(a, b value) value {
				if swap {
					a, b = b, a
				}
				a.p.off += int(b.i) * size
				return a
			}

		case "==", "!=", "<", "<=", ">", ">=":
			if !(xt.isPointer() || x.isNullConstant()) || !(yt.isPointer() || y.isNullConstant()) {
				return invalid()
			}
			return scalarType(KindInt), pointerCompare(op)
		}
		return invalid()
	}

	if !xt.isArith() || !yt.isArith() {
		return invalid()
	}
	switch op {
	case "<<", ">>":
		if !xt.isInteger() || !yt.isInteger() {
			return invalid()
		}
		t := promote(xt)
		k, mask := t.Kind, uint64(t.bits()-1)
		convX := converter(xt, t)
		if op == "<<" {
			return t, func(a, b value) value {
				return value{i: wrapInt(k, convX(a).i<<(uint64(b.i)&mask))}
			}
		}
		if t.isUnsigned() {
			return t, func(a, b value) value {
				return value{i: int64(uint64(convX(a).i) >> (uint64(b.i) & mask))}
			}
		}
		return t, func(a, b value) value {
			return value{i: convX(a).i >> (uint64(b.i) & mask)}
		}

	case "%", "&", "|", "^":
		if !xt.isInteger() || !yt.isInteger() {
			return invalid()
		}
	}
	t := commonType(xt, yt)
	fn := arithmetic(pos, op, t)
	if fn == nil {
		return invalid()
	}
	convX, convY := converter(xt, t), converter(yt, t)
	resultType := t
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
		resultType = scalarType(KindInt)
	}
	return resultType, func(a, b value) value { return fn(convX(a), convY(b)) }
}

func converter(from, to *Type) func(value) value {
	if sameType(from, to) {
		return func(v value) value { return v }
	}
	return func(v value) value { return convertValue(v, from, to) }
}

func pointerCompare(op string) binaryFn {
	switch op {
	case "==":
		return func(a, b value) value { return value{i: boolToInt(a.p == b.p)} }
	case "!=":
		return func(a, b value) value { return value{i: boolToInt(a.p != b.p)} }
	case "<":
		return func(a, b value) value { return value{i: boolToInt(a.p.off < b.p.off)} }
	case "<=":
		return func(a, b value) value { return value{i: boolToInt(a.p.off <= b.p.off)} }
	case ">":
		return func(a, b value) value { return value{i: boolToInt(a.p.off > b.p.off)} }
	default:
		return func(a, b value) value { return value{i: boolToInt(a.p.off >= b.p.off)} }
	}
}

// arithmetic returns the operation op on values of the arithmetic type t, or nil if op is not valid for t.
func arithmetic(pos Pos, op string, t *Type) binaryFn {
	k := t.Kind
	if t.isFloat() {
		switch op {
		case "+":
			return func(a, b value) value { return value{f: roundFloat(k, a.f+b.f)} }
		case "-":
			return func(a, b value) value { return value{f: roundFloat(k, a.f-b.f)} }
		case "*":
			return func(a, b value) value { return value{f: roundFloat(k, a.f*b.f)} }
		case "/":
			return func(a, b value) value { return value{f: roundFloat(k, a.f/b.f)} }
		case "==":
			return func(a, b value) value { return value{i: boolToInt(a.f == b.f)} }
		case "!=":
			return func(a, b value) value { return value{i: boolToInt(a.f != b.f)} }
		case "<":
			return func(a, b value) value { return value{i: boolToInt(a.f < b.f)} }
		case "<=":
			return func(a, b value) value { return value{i: boolToInt(a.f <= b.f)} }
		case ">":
			return func(a, b value) value { return value{i: boolToInt(a.f > b.f)} }
		case ">=":
			return func(a, b value) value { return value{i: boolToInt(a.f >= b.f)} }
		}
		return nil
	}

	// Operations with the same result for signed and unsigned values.
	switch op {
	case "+":
		return func(a, b value) value { return value{i: wrapInt(k, a.i+b.i)} }
	case "-":
		return func(a, b value) value { return value{i: wrapInt(k, a.i-b.i)} }
	case "*":
		return func(a, b value) value { return value{i: wrapInt(k, a.i*b.i)} }
	case "&":
		return func(a, b value) value { return value{i: a.i & b.i} }
	case "|":
		return func(a, b value) value { return value{i: a.i | b.i} }
	case "^":
		return func(a, b value) value { return value{i: wrapInt(k, a.i^b.i)} }
	case "==":
		return func(a, b value) value { return value{i: boolToInt(a.i == b.i)} }
	case "!=":
		return func(a, b value) value { return value{i: boolToInt(a.i != b.i)} }
	}

	if t.isUnsigned() {
		switch op {
		case "/":
			return func(a, b value) value {
				if b.i == 0 {
					faultf(pos, "integer division by zero")
				}
				return value{i: wrapInt(k, int64(uint64(a.i)/uint64(b.i)))}
			}
		case "%":
			return func(a, b value) value {
				if b.i == 0 {
					faultf(pos, "integer remainder by zero")
				}
				return value{i: wrapInt(k, int64(uint64(a.i)%uint64(b.i)))}
			}
		case "<":
			return func(a, b value) value { return value{i: boolToInt(uint64(a.i) < uint64(b.i))} }
		case "<=":
			return func(a, b value) value { return value{i: boolToInt(uint64(a.i) <= uint64(b.i))} }
		case ">":
			return func(a, b value) value { return value{i: boolToInt(uint64(a.i) > uint64(b.i))} }
		case ">=":
			return func(a, b value) value { return value{i: boolToInt(uint64(a.i) >= uint64(b.i))} }
		}
		return nil
	}

	switch op {
	case "/":
		return func(a, b value) value {
			if b.i == 0 {
				faultf(pos, "integer division by zero")
			}
			return value{i: wrapInt(k, a.i/b.i)}
		}
	case "%":
		return func(a, b value) value {
			if b.i == 0 {
				faultf(pos, "integer remainder by zero")
			}
			return value{i: wrapInt(k, a.i%b.i)}
		}
	case "<":
		return func(a, b value) value { return value{i: boolToInt(a.i < b.i)} }
	case "<=":
		return func(a, b value) value { return value{i: boolToInt(a.i <= b.i)} }
	case ">":
		return func(a, b value) value { return value{i: boolToInt(a.i > b.i)} }
	case ">=":
		return func(a, b value) value { return value{i: boolToInt(a.i >= b.i)} }
	}
	return nil
}

func (c *compiler) binary(e *Binary) *operand {
	x, y := c.value(e.X), c.value(e.Y)
	if x.bad || y.bad {
		return c.badOperand(e.Pos)
	}
	evalX, evalY := x.eval, y.eval
	result := &operand{pos: e.Pos, slot: -1, isConst: x.isConst && y.isConst}
	switch e.Op {
	case ",":
		result.typ = y.typ
		result.eval = func(f *frame) value {
			evalX(f)
			return evalY(f)
		}
		return result

	case "&&", "||":
		tx, ty := c.truth(x), c.truth(y)
		result.typ = scalarType(KindInt)
		if e.Op == "&&" {
			result.eval = func(f *frame) value { return value{i: boolToInt(tx(f) && ty(f))} }
		} else {
			result.eval = func(f *frame) value { return value{i: boolToInt(tx(f) || ty(f))} }
		}
		return result
	}

	t, fn := c.binaryOp(e.Pos, e.Op, x, y)
	if fn == nil {
		return c.badOperand(e.Pos)
	}
	result.typ = t
	result.eval = func(f *frame) value { return fn(evalX(f), evalY(f)) }
	return result
}

func (c *compiler) assign(e *Assign) *operand {
	lv := c.expr(e.X)
	y := c.value(e.Y)
	if !c.checkAssignable(lv, e.Pos) || y.bad {
		return c.badOperand(e.Pos)
	}
	if lv.typ.Kind == KindArray {
		c.errorf(e.Pos, "array type '%s' is not assignable", lv.typ)
		return c.badOperand(e.Pos)
	}
	t := lv.typ
	result := &operand{pos: e.Pos, typ: t.unqualified(), slot: -1}
	if e.Op == "=" {
		conv := c.convertTo(y, t, "assigning to")
		result.eval = modify(lv, func(f *frame, _ value) value { return conv(f) }, false)
		return result
	}

	op := e.Op[:len(e.Op)-1]
	rt, fn := c.binaryOp(e.Pos, op, &operand{pos: lv.pos, typ: t, slot: -1}, y)
	if fn == nil {
		return c.badOperand(e.Pos)
	}
	if t.isPointer() != rt.isPointer() {
		c.errorf(e.Pos, "invalid compound assignment to '%s'", t.Describe())
		return c.badOperand(e.Pos)
	}
	evalY := y.eval
	result.eval = modify(lv, func(f *frame, old value) value {
		return convertValue(fn(old, evalY(f)), rt, t)
	}, false)
	return result
}

func (c *compiler) conditional(e *Cond) *operand {
	condOp := c.value(e.C)
	cond := c.truth(condOp)
	x, y := c.value(e.X), c.value(e.Y)
	if x.bad || y.bad {
		return c.badOperand(e.Pos)
	}
	var t *Type
	switch {
	case x.typ.isArith() && y.typ.isArith():
		t = commonType(x.typ, y.typ)
	case x.typ.isPointer() && y.typ.isPointer() && sameType(x.typ, y.typ):
		t = x.typ
	case x.typ.isPointer() && y.isNullConstant():
		t = x.typ
	case y.typ.isPointer() && x.isNullConstant():
		t = y.typ
	case x.typ.Kind == KindVoid && y.typ.Kind == KindVoid:
		t = x.typ
	default:
		c.errorf(e.Pos, "incompatible operand types ('%s' and '%s')", x.typ.Describe(), y.typ.Describe())
		return c.badOperand(e.Pos)
	}
	convX, convY := x.eval, y.eval
	if t.Kind != KindVoid {
		convX, convY = c.convertTo(x, t, "converting"), c.convertTo(y, t, "converting")
	}
	return &operand{pos: e.Pos, typ: t, slot: -1, isConst: condOp.isConst && x.isConst && y.isConst,
		eval: func(f *frame) value {
			if cond(f) {
				return convX(f)
			}
			return convY(f)
		}}
}

func (c *compiler) cast(e *Cast) *operand {
	c.checkType(e.To, e.Pos)
	x := c.value(e.X)
	if x.bad {
		return x
	}
	to, from := e.To.unqualified(), x.typ
	eval := x.eval
	result := &operand{pos: e.Pos, typ: to, slot: -1, isConst: x.isConst}
	switch {
	case to.Kind == KindVoid:
		result.eval = func(f *frame) value {
			eval(f)
			return value{}
		}
	case to.isArith() && from.isArith():
		result.eval = func(f *frame) value { return convertValue(eval(f), from, to) }
	case to.isPointer() && from.isPointer():
		if to.Space != from.Space {
			c.errorf(e.Pos, "casting '%s' to type '%s' changes address space of pointer", from.Describe(), to.Describe())
			return c.badOperand(e.Pos)
		}
		result.eval = eval
		result.isConst = false
	case to.isPointer() && x.isNullConstant():
		result.eval = func(*frame) value { return value{} }
	case to.isInteger() && from.isPointer():
		c.errorf(e.Pos, "casting pointers to integers is not supported")
		return c.badOperand(e.Pos)
	default:
		c.errorf(e.Pos, "invalid cast from '%s' to '%s'", from.Describe(), to.Describe())
		return c.badOperand(e.Pos)
	}
	return result
}

func (c *compiler) index(e *Index) *operand {
	x, i := c.value(e.X), c.value(e.I)
	if x.bad || i.bad {
		return c.badOperand(e.Pos)
	}
	if !x.typ.isPointer() && i.typ.isPointer() {
		x, i = i, x
	}
	if !x.typ.isPointer() {
		c.errorf(e.Pos, "subscripted value is not an array or pointer")
		return c.badOperand(e.Pos)
	}
	if !i.typ.isInteger() {
		c.errorf(i.pos, "array subscript is not an integer")
		return c.badOperand(e.Pos)
	}
	elem := x.typ.Elem
	if elem.Kind == KindVoid {
		c.errorf(e.Pos, "subscript of pointer to void")
		return c.badOperand(e.Pos)
	}
	base, idx, size := x.eval, i.eval, elem.Size()
	return memObject(e.Pos, elem, x.typ.Space, elem.Const, func(f *frame) ptr {
		p := base(f).p
		p.off += int(idx(f).i) * size
		return p
	})
}

func (c *compiler) call(e *Call) *operand {
	callee, isUserFunc := c.funcs[e.Func]
	if !isUserFunc {
		if b, isBuiltin := builtins[e.Func]; isBuiltin {
			args := make([]*operand, len(e.Args))
			for i, arg := range e.Args {
				args[i] = c.value(arg)
				if args[i].bad {
					return c.badOperand(e.Pos)
				}
			}
			return b(c, e, args)
		}
		if c.scope != nil && c.scope.lookup(e.Func) != nil {
			c.errorf(e.Pos, "called object '%s' is not a function", e.Func)
		} else {
			c.errorf(e.Pos, "implicit declaration of function '%s' is invalid in OpenCL", e.Func)
		}
		return c.badOperand(e.Pos)
	}
	params := callee.decl.Params
	if len(params) == 1 && params[0].Type.Kind == KindVoid {
		params = nil
	}
	if len(e.Args) != len(params) {
		which := "few"
		if len(e.Args) > len(params) {
			which = "many"
		}
		c.errorf(e.Pos, "too %s arguments to function call '%s', expected %d, have %d", which, e.Func, len(params), len(e.Args))
		return c.badOperand(e.Pos)
	}
	args := make([]evalFn, len(e.Args))
	for i, arg := range e.Args {
		op := c.value(arg)
		if op.bad {
			return c.badOperand(e.Pos)
		}
		args[i] = c.convertTo(op, params[i].Type, fmt.Sprintf("passing argument %d of '%s':", i+1, e.Func))
	}
	if c.fn != nil {
		if _, found := c.fn.callees[callee]; !found {
			c.fn.callees[callee] = e.Pos
		}
	}
	return &operand{pos: e.Pos, typ: callee.decl.Result.unqualified(), slot: -1, eval: func(f *frame) value {
		values := make([]value, len(args))
		for i, arg := range args {
			values[i] = arg(f)
		}
		return callee.call(f.item, values)
	}}
}
