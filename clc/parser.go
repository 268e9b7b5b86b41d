package clc

import (
	"strings"
)

// bailout is raised by the parser on the first syntax error: there is no error recovery.
type bailout struct{}

type parser struct {
	tokens []token
	pos    int
	tok    token
	diags  *Diagnostics
}

func newParser(tokens []token, diags *Diagnostics) *parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].kind != tokEOF {
		var last Pos
		if len(tokens) > 0 {
			last = tokens[len(tokens)-1].pos
		}
		tokens = append(tokens, token{kind: tokEOF, pos: last})
	}
	p := &parser{tokens: tokens, diags: diags}
	p.tok = tokens[0]
	return p
}

func (p *parser) next() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	p.tok = p.tokens[p.pos]
}

func (p *parser) peek(n int) token {
	if p.pos+n < len(p.tokens) {
		return p.tokens[p.pos+n]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *parser) fail(pos Pos, format string, args ...any) {
	p.diags.errorf(pos, format, args...)
	panic(bailout{})
}

func (p *parser) expect(punct, context string) Pos {
	if !p.tok.is(punct) {
		if context != "" {
			p.fail(p.tok.pos, "expected '%s' %s", punct, context)
		}
		p.fail(p.tok.pos, "expected '%s', found %s", punct, p.tok)
	}
	pos := p.tok.pos
	p.next()
	return pos
}

func (p *parser) isKeyword(word string) bool {
	return p.tok.kind == tokIdent && p.tok.text == word
}

// parseFile parses a whole translation unit. It returns nil if there was a syntax error.
func (p *parser) parseFile() (file *File) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			file = nil
		}
	}()
	file = &File{}
	for p.tok.kind != tokEOF {
		if p.tok.is(";") {
			p.next()
			continue
		}
		p.parseExternalDecl(file)
	}
	return file
}

// parseConditionExpr parses a whole token stream as one expression, used by #if.
func (p *parser) parseConditionExpr() (e Expr) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(bailout); !ok {
				panic(r)
			}
			e = nil
		}
	}()
	e = p.parseExpr()
	if p.tok.kind != tokEOF {
		p.fail(p.tok.pos, "unexpected %s in expression", p.tok)
	}
	return e
}

// Declaration specifiers.

var (
	spaceQualifiers = map[string]AddressSpace{
		"__global": Global, "global": Global,
		"__local": Local, "local": Local,
		"__constant": Constant, "constant": Constant,
		"__private": Private, "private": Private,
	}
	otherSpecifiers = map[string]bool{
		"const": true, "volatile": true, "restrict": true, "__restrict": true,
		"__kernel": true, "kernel": true, "inline": true, "__inline": true, "static": true, "extern": true,
		"unsigned": true, "signed": true, "__attribute__": true,
		"__read_only": true, "read_only": true, "__write_only": true, "write_only": true, "__read_write": true,
	}
)

func isSpecifier(tok token) bool {
	if tok.kind != tokIdent {
		return false
	}
	if _, found := typeNames[tok.text]; found {
		return true
	}
	if _, found := spaceQualifiers[tok.text]; found {
		return true
	}
	return otherSpecifiers[tok.text]
}

type declSpec struct {
	pos                Pos
	base               *Type
	space              AddressSpace
	hasSpace           bool
	isConst            bool
	volatile, restrict bool
	kernel             bool
	attributes         []string
}

func (p *parser) parseSpecifiers() *declSpec {
	spec := &declSpec{pos: p.tok.pos}
	var (
		baseKind         Kind
		hasBase          bool
		unsigned, signed bool
		numLong          int
	)
	for isSpecifier(p.tok) {
		word, pos := p.tok.text, p.tok.pos
		if space, found := spaceQualifiers[word]; found {
			if spec.hasSpace && spec.space != space {
				p.fail(pos, "multiple address spaces specified for type")
			}
			spec.space, spec.hasSpace = space, true
			p.next()
			continue
		}
		switch word {
		case "const":
			spec.isConst = true
		case "volatile":
			spec.volatile = true
		case "restrict", "__restrict":
			spec.restrict = true
		case "__kernel", "kernel":
			spec.kernel = true
		case "unsigned":
			unsigned = true
		case "signed":
			signed = true
		case "__attribute__":
			p.next()
			spec.attributes = append(spec.attributes, p.parseAttribute())
			continue
		case "inline", "__inline", "static", "extern", "__read_only", "read_only", "__write_only", "write_only", "__read_write":
			// Accepted and ignored.
		case "long":
			numLong++
			if numLong > 2 {
				p.fail(pos, "'long long long' is invalid")
			}
			if hasBase && baseKind != KindInt && baseKind != KindLong {
				p.fail(pos, "cannot combine with previous '%s' declaration specifier", baseKind)
			}
			baseKind, hasBase = KindLong, true
		case "short":
			if hasBase && baseKind != KindInt {
				p.fail(pos, "cannot combine with previous '%s' declaration specifier", baseKind)
			}
			baseKind, hasBase = KindShort, true
		case "int":
			if hasBase && baseKind != KindLong && baseKind != KindShort {
				p.fail(pos, "cannot combine with previous '%s' declaration specifier", baseKind)
			}
			if !hasBase {
				baseKind, hasBase = KindInt, true
			}
		default:
			if hasBase {
				p.fail(pos, "cannot combine with previous '%s' declaration specifier", baseKind)
			}
			baseKind, hasBase = typeNames[word], true
		}
		p.next()
	}
	if !hasBase {
		if !unsigned && !signed {
			p.fail(p.tok.pos, "expected a type, found %s", p.tok)
		}
		baseKind = KindInt
	}
	if unsigned && signed {
		p.fail(spec.pos, "cannot combine 'signed' and 'unsigned'")
	}
	if unsigned {
		switch baseKind {
		case KindChar:
			baseKind = KindUChar
		case KindShort:
			baseKind = KindUShort
		case KindInt:
			baseKind = KindUInt
		case KindLong:
			baseKind = KindULong
		default:
			p.fail(spec.pos, "'unsigned' cannot be combined with '%s'", baseKind)
		}
	}
	spec.base = &Type{Kind: baseKind, Const: spec.isConst}
	return spec
}

// parseAttribute parses "((...))" after __attribute__ and returns its content.
func (p *parser) parseAttribute() string {
	p.expect("(", "after '__attribute__'")
	start := p.pos
	depth := 1
	for depth > 0 {
		switch {
		case p.tok.kind == tokEOF:
			p.fail(p.tok.pos, "unterminated __attribute__")
		case p.tok.is("("):
			depth++
		case p.tok.is(")"):
			depth--
		}
		p.next()
	}
	var parts []string
	for _, tok := range p.tokens[start : p.pos-1] {
		parts = append(parts, tok.text)
	}
	text := strings.Join(parts, "")
	text = strings.TrimSuffix(strings.TrimPrefix(text, "("), ")")
	return "__attribute__((" + text + "))"
}

type declarator struct {
	pos                Pos
	name               string
	typ                *Type
	volatile, restrict bool
}

// parseDeclarator parses the pointer stars, the name and the array dimensions. If abstract is true no name is
// parsed (used for casts and sizeof). unsizedArray allows "[]", used by parameters.
func (p *parser) parseDeclarator(spec *declSpec, abstract, unsizedArray bool) *declarator {
	d := &declarator{pos: p.tok.pos, typ: spec.base, volatile: spec.volatile, restrict: spec.restrict}
	numStars := 0
	for p.tok.is("*") {
		starPos := p.tok.pos
		p.next()
		numStars++
		if numStars > 1 {
			p.fail(starPos, "pointers to pointers are not supported")
		}
		d.typ = pointerTo(d.typ, spec.space)
	qualifiers:
		for {
			switch {
			case p.isKeyword("const"):
				d.typ.Const = true
			case p.isKeyword("restrict") || p.isKeyword("__restrict"):
				d.restrict = true
			case p.isKeyword("volatile"):
				d.volatile = true
			default:
				break qualifiers
			}
			p.next()
		}
	}
	if !abstract {
		if p.tok.kind != tokIdent {
			p.fail(p.tok.pos, "expected identifier, found %s", p.tok)
		}
		d.pos, d.name = p.tok.pos, p.tok.text
		p.next()
	}
	var dims []int
	for p.tok.is("[") {
		bracketPos := p.tok.pos
		p.next()
		if p.tok.is("]") {
			if !unsizedArray || len(dims) > 0 {
				p.fail(bracketPos, "array size is required")
			}
			p.next()
			dims = append(dims, -1)
			continue
		}
		sizeExpr := p.parseCond()
		n, ok := constEvalInt(sizeExpr)
		if !ok {
			p.fail(sizeExpr.exprPos(), "array size must be an integer constant expression")
		}
		if n <= 0 {
			p.fail(sizeExpr.exprPos(), "array size must be positive, got %d", n)
		}
		dims = append(dims, int(n))
		p.expect("]", "")
	}
	if len(dims) > 0 {
		if d.typ.isPointer() {
			p.fail(d.pos, "arrays of pointers are not supported")
		}
		if dims[0] == -1 {
			// Parameter "T a[]" is a pointer.
			d.typ = pointerTo(d.typ, spec.space)
			if len(dims) > 1 {
				p.fail(d.pos, "multi-dimensional array parameters are not supported")
			}
			return d
		}
		for i := len(dims) - 1; i >= 0; i-- {
			d.typ = &Type{Kind: KindArray, Elem: d.typ, Len: dims[i], Space: spec.space}
		}
	}
	return d
}

// objectSpace returns the address space of the declared object: for pointers the address space qualifier
// refers to the pointed memory, and the pointer itself is private.
func objectSpace(spec *declSpec, d *declarator) AddressSpace {
	if d.typ.isPointer() {
		return Private
	}
	return spec.space
}

// parseTypeName parses a type in a cast or sizeof.
func (p *parser) parseTypeName() *Type {
	spec := p.parseSpecifiers()
	return p.parseDeclarator(spec, true, false).typ
}

func (p *parser) parseExternalDecl(file *File) {
	spec := p.parseSpecifiers()
	d := p.parseDeclarator(spec, false, false)
	if p.tok.is("(") {
		file.Funcs = append(file.Funcs, p.parseFunction(spec, d))
		return
	}
	for {
		if spec.kernel {
			p.fail(d.pos, "'__kernel' can only be applied to functions")
		}
		v := &VarDecl{Pos: d.pos, Name: d.name, Type: d.typ, Space: objectSpace(spec, d)}
		p.parseInitializer(v)
		file.Globals = append(file.Globals, v)
		if !p.tok.is(",") {
			break
		}
		p.next()
		d = p.parseDeclarator(spec, false, false)
	}
	p.expect(";", "after top level declarator")
}

func (p *parser) parseInitializer(v *VarDecl) {
	if !p.tok.is("=") {
		return
	}
	p.next()
	if p.tok.is("{") {
		v.HasList = true
		p.next()
		for !p.tok.is("}") {
			v.InitList = append(v.InitList, p.parseAssign())
			if !p.tok.is(",") {
				break
			}
			p.next()
		}
		p.expect("}", "at end of initializer list")
		return
	}
	v.Init = p.parseAssign()
}

func (p *parser) parseFunction(spec *declSpec, d *declarator) *FuncDecl {
	fn := &FuncDecl{Pos: d.pos, Name: d.name, Kernel: spec.kernel, Result: d.typ, Attributes: spec.attributes}
	p.expect("(", "")
	if p.isKeyword("void") && p.peek(1).is(")") {
		p.next()
	}
	for !p.tok.is(")") {
		paramSpec := p.parseSpecifiers()
		pd := p.parseDeclarator(paramSpec, false, true)
		if pd.typ.Kind == KindArray {
			p.fail(pd.pos, "array parameters must be declared as pointers")
		}
		fn.Params = append(fn.Params, &ParamDecl{
			Pos: pd.pos, Name: pd.name, Type: pd.typ, Volatile: pd.volatile, Restrict: pd.restrict,
		})
		if !p.tok.is(",") {
			break
		}
		p.next()
	}
	p.expect(")", "to match '('")
	for p.isKeyword("__attribute__") {
		p.next()
		fn.Attributes = append(fn.Attributes, p.parseAttribute())
	}
	if p.tok.is(";") {
		p.next()
		return fn
	}
	if !p.tok.is("{") {
		p.fail(p.tok.pos, "expected function body after function declarator")
	}
	fn.Body = p.parseBlock()
	return fn
}

// Statements.

func (p *parser) parseBlock() *Block {
	b := &Block{Pos: p.expect("{", "")}
	for !p.tok.is("}") {
		if p.tok.kind == tokEOF {
			p.fail(p.tok.pos, "expected '}' at end of block")
		}
		b.List = append(b.List, p.parseStmt())
	}
	p.next()
	return b
}

func (p *parser) parseStmt() Stmt {
	pos := p.tok.pos
	switch {
	case p.tok.is("{"):
		return p.parseBlock()
	case p.tok.is(";"):
		p.next()
		return &Empty{Pos: pos}
	case isSpecifier(p.tok):
		s := p.parseDeclStmt()
		p.expect(";", "at end of declaration")
		return s
	}
	if p.tok.kind == tokIdent {
		switch p.tok.text {
		case "if":
			p.next()
			p.expect("(", "after 'if'")
			s := &If{Pos: pos, Cond: p.parseExpr()}
			p.expect(")", "")
			s.Then = p.parseStmt()
			if p.isKeyword("else") {
				p.next()
				s.Else = p.parseStmt()
			}
			return s

		case "for":
			p.next()
			p.expect("(", "after 'for'")
			s := &For{Pos: pos}
			switch {
			case p.tok.is(";"):
			case isSpecifier(p.tok):
				s.Init = p.parseDeclStmt()
			default:
				initPos := p.tok.pos
				s.Init = &ExprStmt{Pos: initPos, X: p.parseExpr()}
			}
			p.expect(";", "in 'for' statement specifier")
			if !p.tok.is(";") {
				s.Cond = p.parseExpr()
			}
			p.expect(";", "in 'for' statement specifier")
			if !p.tok.is(")") {
				s.Post = p.parseExpr()
			}
			p.expect(")", "")
			s.Body = p.parseStmt()
			return s

		case "while":
			p.next()
			p.expect("(", "after 'while'")
			s := &While{Pos: pos, Cond: p.parseExpr()}
			p.expect(")", "")
			s.Body = p.parseStmt()
			return s

		case "do":
			p.next()
			s := &While{Pos: pos, DoWhile: true}
			s.Body = p.parseStmt()
			if !p.isKeyword("while") {
				p.fail(p.tok.pos, "expected 'while' in do/while loop")
			}
			p.next()
			p.expect("(", "after 'while'")
			s.Cond = p.parseExpr()
			p.expect(")", "")
			p.expect(";", "after do/while statement")
			return s

		case "break":
			p.next()
			p.expect(";", "after break statement")
			return &Break{Pos: pos}

		case "continue":
			p.next()
			p.expect(";", "after continue statement")
			return &Continue{Pos: pos}

		case "return":
			p.next()
			s := &Return{Pos: pos}
			if !p.tok.is(";") {
				s.X = p.parseExpr()
			}
			p.expect(";", "after return statement")
			return s

		case "switch", "goto", "case", "default":
			p.fail(pos, "'%s' statements are not supported", p.tok.text)
		case "struct", "union", "typedef", "enum":
			p.fail(pos, "'%s' is not supported", p.tok.text)
		}
	}
	s := &ExprStmt{Pos: pos, X: p.parseExpr()}
	p.expect(";", "after expression")
	return s
}

func (p *parser) parseDeclStmt() *DeclStmt {
	spec := p.parseSpecifiers()
	s := &DeclStmt{Pos: spec.pos}
	for {
		d := p.parseDeclarator(spec, false, false)
		v := &VarDecl{Pos: d.pos, Name: d.name, Type: d.typ, Space: objectSpace(spec, d)}
		p.parseInitializer(v)
		s.Decls = append(s.Decls, v)
		if !p.tok.is(",") {
			return s
		}
		p.next()
	}
}

// Expressions.

var binaryPrecedence = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6,
	"<": 7, ">": 7, "<=": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

var assignOps = map[string]bool{
	"=": true, "+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"&=": true, "|=": true, "^=": true, "<<=": true, ">>=": true,
}

// parseExpr parses a full expression, including the comma operator.
func (p *parser) parseExpr() Expr {
	e := p.parseAssign()
	for p.tok.is(",") {
		pos := p.tok.pos
		p.next()
		e = &Binary{Pos: pos, Op: ",", X: e, Y: p.parseAssign()}
	}
	return e
}

func (p *parser) parseAssign() Expr {
	lhs := p.parseCond()
	if p.tok.kind == tokPunct && assignOps[p.tok.text] {
		op, pos := p.tok.text, p.tok.pos
		p.next()
		return &Assign{Pos: pos, Op: op, X: lhs, Y: p.parseAssign()}
	}
	return lhs
}

func (p *parser) parseCond() Expr {
	c := p.parseBinary(1)
	if !p.tok.is("?") {
		return c
	}
	pos := p.tok.pos
	p.next()
	x := p.parseExpr()
	p.expect(":", "in conditional expression")
	y := p.parseCond()
	return &Cond{Pos: pos, C: c, X: x, Y: y}
}

func (p *parser) parseBinary(minPrec int) Expr {
	x := p.parseUnary()
	for {
		prec, isBinary := binaryPrecedence[p.tok.text]
		if p.tok.kind != tokPunct || !isBinary || prec < minPrec {
			return x
		}
		op, pos := p.tok.text, p.tok.pos
		p.next()
		y := p.parseBinary(prec + 1)
		x = &Binary{Pos: pos, Op: op, X: x, Y: y}
	}
}

func (p *parser) parseUnary() Expr {
	pos := p.tok.pos
	if p.tok.kind == tokPunct {
		switch p.tok.text {
		case "-", "+", "!", "~", "*", "&", "++", "--":
			op := p.tok.text
			p.next()
			return &Unary{Pos: pos, Op: op, X: p.parseUnary()}
		case "(":
			if isSpecifier(p.peek(1)) {
				p.next()
				to := p.parseTypeName()
				p.expect(")", "")
				if p.tok.is("{") {
					p.fail(p.tok.pos, "compound literals are not supported")
				}
				return &Cast{Pos: pos, To: to, X: p.parseUnary()}
			}
		}
	}
	if p.isKeyword("sizeof") {
		p.next()
		if p.tok.is("(") && isSpecifier(p.peek(1)) {
			p.next()
			t := p.parseTypeName()
			p.expect(")", "")
			return &SizeOf{Pos: pos, Type: t}
		}
		return &SizeOf{Pos: pos, X: p.parseUnary()}
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() Expr {
	x := p.parsePrimary()
	for {
		pos := p.tok.pos
		switch {
		case p.tok.is("["):
			p.next()
			i := p.parseExpr()
			p.expect("]", "")
			x = &Index{Pos: pos, X: x, I: i}
		case p.tok.is("("):
			ident, ok := x.(*Ident)
			if !ok {
				p.fail(pos, "called object is not a function")
			}
			p.next()
			call := &Call{Pos: ident.Pos, Func: ident.Name}
			for !p.tok.is(")") {
				call.Args = append(call.Args, p.parseAssign())
				if !p.tok.is(",") {
					break
				}
				p.next()
			}
			p.expect(")", "to match '('")
			x = call
		case p.tok.is("++") || p.tok.is("--"):
			x = &Postfix{Pos: pos, Op: p.tok.text, X: x}
			p.next()
		case p.tok.is(".") || p.tok.is("->"):
			p.fail(pos, "member access is not supported")
		default:
			return x
		}
	}
}

func (p *parser) parsePrimary() Expr {
	tok := p.tok
	switch tok.kind {
	case tokInt:
		p.next()
		decimal := tok.text == "0" || !strings.HasPrefix(tok.text, "0")
		return &IntLit{Pos: tok.pos, Val: tok.intVal, Unsigned: tok.intUnsigned, Long: tok.intLong, Decimal: decimal}
	case tokFloat:
		p.next()
		return &FloatLit{Pos: tok.pos, Val: tok.floatVal, Single: tok.single}
	case tokIdent:
		p.next()
		return &Ident{Pos: tok.pos, Name: tok.text}
	case tokString:
		p.fail(tok.pos, "string literals are not supported")
	case tokPunct:
		if tok.is("(") {
			p.next()
			e := p.parseExpr()
			p.expect(")", "")
			return e
		}
	}
	p.fail(tok.pos, "expected expression, found %s", tok)
	return nil
}
