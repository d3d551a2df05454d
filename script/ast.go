package script

import "fmt"

// ---------------------------------------------------------------------------
// Locations
// ---------------------------------------------------------------------------

// Location is a span of script source.
type Location struct {
	File      string
	FirstLine int
	LastLine  int
	Column    int
}

func (l *Location) String() string {
	if l == nil {
		return "<no location>"
	}
	if l.LastLine > l.FirstLine {
		return fmt.Sprintf("%s, lines %d-%d", l.File, l.FirstLine, l.LastLine)
	}
	return fmt.Sprintf("%s, line %d", l.File, l.FirstLine)
}

// Node is implemented by every AST node.
type Node interface {
	Loc() *Location
}

// At records a node's location. It is embedded in every node.
type At struct {
	L *Location
}

func (a At) Loc() *Location { return a.L }

// Expr is an expression node. Type returns the static type assigned by
// the resolver.
type Expr interface {
	Node
	Type() *Type
	expr()
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmt()
}

// ---------------------------------------------------------------------------
// Identifiers
// ---------------------------------------------------------------------------

// IDKind says where an identifier's value lives.
type IDKind uint8

const (
	IDLocal   IDKind = iota // interpreter frame slot
	IDParam                 // interpreter frame slot, set by the caller
	IDGlobal                // Global
	IDCapture               // FuncVal capture list
	IDFunc                  // named script function
)

// ID is a resolved identifier.
type ID struct {
	Name   string
	Type   *Type
	Kind   IDKind
	Offset int     // frame offset (locals, params) or capture index
	Global *Global // IDGlobal
	Func   *Func   // IDFunc
}

func (id *ID) String() string { return id.Name }

// IsLocal reports whether the identifier lives in the function's frame.
func (id *ID) IsLocal() bool { return id.Kind == IDLocal || id.Kind == IDParam }

// Global is a module-level variable.
type Global struct {
	Name  string
	Type  *Type
	Value Value
	Const bool
	Loc   *Location
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// BinOp is a binary operator.
type BinOp uint8

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
)

var binOpNames = [...]string{"+", "-", "*", "/", "%", "==", "!=", "<", "<=", ">", ">=", "&&", "||"}

func (op BinOp) String() string {
	if int(op) < len(binOpNames) {
		return binOpNames[op]
	}
	return fmt.Sprintf("BinOp(%d)", uint8(op))
}

// IsComparison reports whether op yields bool from two operands.
func (op BinOp) IsComparison() bool { return op >= OpEq && op <= OpGe }

// IsLogical reports whether op short-circuits.
func (op BinOp) IsLogical() bool { return op == OpAnd || op == OpOr }

// UnOp is a unary operator.
type UnOp uint8

const (
	OpNeg UnOp = iota
	OpNot
)

func (op UnOp) String() string {
	if op == OpNeg {
		return "-"
	}
	return "!"
}

// ConstExpr is a literal or folded constant.
type ConstExpr struct {
	At
	Val Value
	T   *Type
}

// NameExpr references an identifier.
type NameExpr struct {
	At
	ID *ID
}

// BinaryExpr applies Op to two operands. Numeric operands have already
// been promoted to a common type by the resolver.
type BinaryExpr struct {
	At
	Op   BinOp
	X, Y Expr
	T    *Type
}

// UnaryExpr applies Op to one operand.
type UnaryExpr struct {
	At
	Op UnOp
	X  Expr
	T  *Type
}

// CondExpr is cond ? a : b.
type CondExpr struct {
	At
	Cond, Then, Else Expr
	T                *Type
}

// CallExpr calls a script function or function value.
type CallExpr struct {
	At
	Fn   Expr
	Args []Expr
	T    *Type
}

// BuiltinExpr calls a builtin.
type BuiltinExpr struct {
	At
	Builtin *Builtin
	Args    []Expr
	T       *Type
}

// IndexExpr is x[index].
type IndexExpr struct {
	At
	X, Index Expr
	T        *Type
}

// InExpr is key in x.
type InExpr struct {
	At
	Key, X Expr
}

// SizeExpr is |x|.
type SizeExpr struct {
	At
	X Expr
	T *Type
}

// CastExpr is x as T. When x has type any the conversion is checked at
// run time.
type CastExpr struct {
	At
	X Expr
	T *Type
}

// CoerceExpr converts between numeric types. Inserted by the resolver.
type CoerceExpr struct {
	At
	X Expr
	T *Type
}

// TableCtor is table([k] = v, ...).
type TableCtor struct {
	At
	T    *Type
	Keys []Expr
	Vals []Expr
}

// VectorCtor is vector(e, ...).
type VectorCtor struct {
	At
	T     *Type
	Elems []Expr
}

// LambdaExpr creates a closure. Captures lists the enclosing identifiers
// in the order the lambda's capture IDs refer to them.
type LambdaExpr struct {
	At
	Func     *Func
	Captures []*ID
}

// InlineExpr is an inlined call. Params live in the caller's frame; the
// body's return statement produces the expression's value.
type InlineExpr struct {
	At
	Callee string
	Args   []Expr
	Params []*ID
	// Locals are the callee's other variables. They start out void at
	// every expansion, as they would in a fresh frame.
	Locals []*ID
	Body   Stmt
	T      *Type
}

func (e *ConstExpr) Type() *Type   { return e.T }
func (e *NameExpr) Type() *Type    { return e.ID.Type }
func (e *BinaryExpr) Type() *Type  { return e.T }
func (e *UnaryExpr) Type() *Type   { return e.T }
func (e *CondExpr) Type() *Type    { return e.T }
func (e *CallExpr) Type() *Type    { return e.T }
func (e *BuiltinExpr) Type() *Type { return e.T }
func (e *IndexExpr) Type() *Type   { return e.T }
func (e *InExpr) Type() *Type      { return BoolType }
func (e *SizeExpr) Type() *Type    { return e.T }
func (e *CastExpr) Type() *Type    { return e.T }
func (e *CoerceExpr) Type() *Type  { return e.T }
func (e *TableCtor) Type() *Type   { return e.T }
func (e *VectorCtor) Type() *Type  { return e.T }
func (e *LambdaExpr) Type() *Type  { return e.Func.Type }
func (e *InlineExpr) Type() *Type  { return e.T }

func (*ConstExpr) expr()   {}
func (*NameExpr) expr()    {}
func (*BinaryExpr) expr()  {}
func (*UnaryExpr) expr()   {}
func (*CondExpr) expr()    {}
func (*CallExpr) expr()    {}
func (*BuiltinExpr) expr() {}
func (*IndexExpr) expr()   {}
func (*InExpr) expr()      {}
func (*SizeExpr) expr()    {}
func (*CastExpr) expr()    {}
func (*CoerceExpr) expr()  {}
func (*TableCtor) expr()   {}
func (*VectorCtor) expr()  {}
func (*LambdaExpr) expr()  {}
func (*InlineExpr) expr()  {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// ExprStmt evaluates X for its side effects.
type ExprStmt struct {
	At
	X Expr
}

// AssignStmt stores Value into Target, a NameExpr or IndexExpr.
type AssignStmt struct {
	At
	Target Expr
	Value  Expr
}

// LocalStmt declares a local. A nil Init assigns the type's zero value.
type LocalStmt struct {
	At
	ID   *ID
	Init Expr
}

// PrintStmt writes its arguments, comma separated, followed by a newline.
type PrintStmt struct {
	At
	Args []Expr
}

// IfStmt is if (Cond) Then else Else.
type IfStmt struct {
	At
	Cond Expr
	Then Stmt
	Else Stmt
}

// WhileStmt is while (Cond) Body.
type WhileStmt struct {
	At
	Cond Expr
	Body Stmt
}

// ForStmt iterates a table (Key = key, Value = yield) or a vector
// (Key = index, Value = element). Value may be nil.
type ForStmt struct {
	At
	Key   *ID
	Value *ID
	Over  Expr
	Body  Stmt
}

// Case is one arm of a switch. A nil Labels marks the default arm.
type Case struct {
	At
	Labels []Expr
	Body   Stmt
}

// SwitchStmt dispatches on X. Labels are constants of X's type.
type SwitchStmt struct {
	At
	X     Expr
	Cases []*Case
}

// Default returns the index of the default case, or -1.
func (s *SwitchStmt) Default() int {
	for i, c := range s.Cases {
		if c.Labels == nil {
			return i
		}
	}
	return -1
}

// BreakStmt leaves the innermost loop or switch, or ends a hook body.
type BreakStmt struct{ At }

// NextStmt continues the innermost loop.
type NextStmt struct{ At }

// FallthroughStmt continues into the next switch case.
type FallthroughStmt struct{ At }

// ReturnStmt returns X (nil for void).
type ReturnStmt struct {
	At
	X Expr
}

// BlockStmt is a statement list.
type BlockStmt struct {
	At
	Stmts []Stmt
}

// DeleteStmt is delete x[index].
type DeleteStmt struct {
	At
	X, Index Expr
}

// NullStmt does nothing.
type NullStmt struct{ At }

func (*ExprStmt) stmt()        {}
func (*AssignStmt) stmt()      {}
func (*LocalStmt) stmt()       {}
func (*PrintStmt) stmt()       {}
func (*IfStmt) stmt()          {}
func (*WhileStmt) stmt()       {}
func (*ForStmt) stmt()         {}
func (*SwitchStmt) stmt()      {}
func (*BreakStmt) stmt()       {}
func (*NextStmt) stmt()        {}
func (*FallthroughStmt) stmt() {}
func (*ReturnStmt) stmt()      {}
func (*BlockStmt) stmt()       {}
func (*DeleteStmt) stmt()      {}
func (*NullStmt) stmt()        {}
