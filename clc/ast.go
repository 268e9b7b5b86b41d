package clc

// Expr is an expression node.
type Expr interface {
	exprPos() Pos
}

// Expression nodes.
type (
	IntLit struct {
		Pos      Pos
		Val      uint64
		Unsigned bool
		Long     bool
		Decimal  bool
	}

	FloatLit struct {
		Pos    Pos
		Val    float64
		Single bool
	}

	Ident struct {
		Pos  Pos
		Name string
	}

	// Unary is a prefix operator: - + ! ~ * & ++ --.
	Unary struct {
		Pos Pos
		Op  string
		X   Expr
	}

	// Postfix is x++ or x--.
	Postfix struct {
		Pos Pos
		Op  string
		X   Expr
	}

	Binary struct {
		Pos  Pos
		Op   string
		X, Y Expr
	}

	// Assign is "=" or a compound assignment like "+=".
	Assign struct {
		Pos  Pos
		Op   string
		X, Y Expr
	}

	Cond struct {
		Pos     Pos
		C, X, Y Expr
	}

	Call struct {
		Pos  Pos
		Func string
		Args []Expr
	}

	Index struct {
		Pos  Pos
		X, I Expr
	}

	Cast struct {
		Pos Pos
		To  *Type
		X   Expr
	}

	// SizeOf is sizeof(type) if Type is set, or sizeof expr otherwise.
	SizeOf struct {
		Pos  Pos
		Type *Type
		X    Expr
	}
)

func (e *IntLit) exprPos() Pos   { return e.Pos }
func (e *FloatLit) exprPos() Pos { return e.Pos }
func (e *Ident) exprPos() Pos    { return e.Pos }
func (e *Unary) exprPos() Pos    { return e.Pos }
func (e *Postfix) exprPos() Pos  { return e.Pos }
func (e *Binary) exprPos() Pos   { return e.Pos }
func (e *Assign) exprPos() Pos   { return e.Pos }
func (e *Cond) exprPos() Pos     { return e.Pos }
func (e *Call) exprPos() Pos     { return e.Pos }
func (e *Index) exprPos() Pos    { return e.Pos }
func (e *Cast) exprPos() Pos     { return e.Pos }
func (e *SizeOf) exprPos() Pos   { return e.Pos }

// Stmt is a statement node.
type Stmt interface {
	stmtPos() Pos
}

// Statement nodes.
type (
	Block struct {
		Pos  Pos
		List []Stmt
	}

	DeclStmt struct {
		Pos   Pos
		Decls []*VarDecl
	}

	ExprStmt struct {
		Pos Pos
		X   Expr
	}

	If struct {
		Pos  Pos
		Cond Expr
		Then Stmt
		Else Stmt
	}

	// For loop: Init, Cond and Post are optional.
	For struct {
		Pos  Pos
		Init Stmt
		Cond Expr
		Post Expr
		Body Stmt
	}

	While struct {
		Pos     Pos
		Cond    Expr
		Body    Stmt
		DoWhile bool
	}

	Break struct {
		Pos Pos
	}

	Continue struct {
		Pos Pos
	}

	Return struct {
		Pos Pos
		X   Expr
	}

	Empty struct {
		Pos Pos
	}
)

func (s *Block) stmtPos() Pos    { return s.Pos }
func (s *DeclStmt) stmtPos() Pos { return s.Pos }
func (s *ExprStmt) stmtPos() Pos { return s.Pos }
func (s *If) stmtPos() Pos       { return s.Pos }
func (s *For) stmtPos() Pos      { return s.Pos }
func (s *While) stmtPos() Pos    { return s.Pos }
func (s *Break) stmtPos() Pos    { return s.Pos }
func (s *Continue) stmtPos() Pos { return s.Pos }
func (s *Return) stmtPos() Pos   { return s.Pos }
func (s *Empty) stmtPos() Pos    { return s.Pos }

// VarDecl declares a variable, optionally initialized with an expression or, for arrays, with a brace list.
type VarDecl struct {
	Pos  Pos
	Name string
	Type *Type

	// Space where the variable itself lives. Pointer variables are always private.
	Space AddressSpace

	Init     Expr
	InitList []Expr
	HasList  bool
}

// ParamDecl is a function parameter.
type ParamDecl struct {
	Pos      Pos
	Name     string
	Type     *Type
	Volatile bool
	Restrict bool
}

// FuncDecl is a function definition or prototype (Body == nil).
type FuncDecl struct {
	Pos        Pos
	Name       string
	Kernel     bool
	Result     *Type
	Params     []*ParamDecl
	Body       *Block
	Attributes []string
}

// File is a translation unit.
type File struct {
	Funcs   []*FuncDecl
	Globals []*VarDecl
}
