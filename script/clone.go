package script

import "fmt"

// IDMap rewrites identifiers while cloning. A nil map keeps IDs as is.
type IDMap func(*ID) *ID

func (m IDMap) id(id *ID) *ID {
	if m == nil || id == nil {
		return id
	}
	return m(id)
}

// CloneStmt deep-copies a statement tree, passing every identifier
// through m.
func CloneStmt(s Stmt, m IDMap) Stmt {
	if s == nil {
		return nil
	}
	switch s := s.(type) {
	case *ExprStmt:
		return &ExprStmt{At: s.At, X: CloneExpr(s.X, m)}
	case *AssignStmt:
		return &AssignStmt{At: s.At, Target: CloneExpr(s.Target, m), Value: CloneExpr(s.Value, m)}
	case *LocalStmt:
		return &LocalStmt{At: s.At, ID: m.id(s.ID), Init: CloneExpr(s.Init, m)}
	case *PrintStmt:
		return &PrintStmt{At: s.At, Args: cloneList(s.Args, m)}
	case *IfStmt:
		return &IfStmt{At: s.At, Cond: CloneExpr(s.Cond, m), Then: CloneStmt(s.Then, m), Else: CloneStmt(s.Else, m)}
	case *WhileStmt:
		return &WhileStmt{At: s.At, Cond: CloneExpr(s.Cond, m), Body: CloneStmt(s.Body, m)}
	case *ForStmt:
		return &ForStmt{At: s.At, Key: m.id(s.Key), Value: m.id(s.Value), Over: CloneExpr(s.Over, m), Body: CloneStmt(s.Body, m)}
	case *SwitchStmt:
		cases := make([]*Case, len(s.Cases))
		for i, c := range s.Cases {
			var labels []Expr
			if c.Labels != nil {
				labels = cloneList(c.Labels, m)
			}
			cases[i] = &Case{At: c.At, Labels: labels, Body: CloneStmt(c.Body, m)}
		}
		return &SwitchStmt{At: s.At, X: CloneExpr(s.X, m), Cases: cases}
	case *BreakStmt:
		return &BreakStmt{At: s.At}
	case *NextStmt:
		return &NextStmt{At: s.At}
	case *FallthroughStmt:
		return &FallthroughStmt{At: s.At}
	case *ReturnStmt:
		return &ReturnStmt{At: s.At, X: CloneExpr(s.X, m)}
	case *BlockStmt:
		stmts := make([]Stmt, len(s.Stmts))
		for i, st := range s.Stmts {
			stmts[i] = CloneStmt(st, m)
		}
		return &BlockStmt{At: s.At, Stmts: stmts}
	case *DeleteStmt:
		return &DeleteStmt{At: s.At, X: CloneExpr(s.X, m), Index: CloneExpr(s.Index, m)}
	case *NullStmt:
		return &NullStmt{At: s.At}
	}
	panic(fmt.Sprintf("CloneStmt: unexpected %T", s))
}

func cloneList(es []Expr, m IDMap) []Expr {
	out := make([]Expr, len(es))
	for i, e := range es {
		out[i] = CloneExpr(e, m)
	}
	return out
}

// CloneExpr deep-copies an expression tree.
func CloneExpr(e Expr, m IDMap) Expr {
	if e == nil {
		return nil
	}
	switch e := e.(type) {
	case *ConstExpr:
		return &ConstExpr{At: e.At, Val: e.Val, T: e.T}
	case *NameExpr:
		return &NameExpr{At: e.At, ID: m.id(e.ID)}
	case *BinaryExpr:
		return &BinaryExpr{At: e.At, Op: e.Op, X: CloneExpr(e.X, m), Y: CloneExpr(e.Y, m), T: e.T}
	case *UnaryExpr:
		return &UnaryExpr{At: e.At, Op: e.Op, X: CloneExpr(e.X, m), T: e.T}
	case *CondExpr:
		return &CondExpr{At: e.At, Cond: CloneExpr(e.Cond, m), Then: CloneExpr(e.Then, m), Else: CloneExpr(e.Else, m), T: e.T}
	case *CallExpr:
		return &CallExpr{At: e.At, Fn: CloneExpr(e.Fn, m), Args: cloneList(e.Args, m), T: e.T}
	case *BuiltinExpr:
		return &BuiltinExpr{At: e.At, Builtin: e.Builtin, Args: cloneList(e.Args, m), T: e.T}
	case *IndexExpr:
		return &IndexExpr{At: e.At, X: CloneExpr(e.X, m), Index: CloneExpr(e.Index, m), T: e.T}
	case *InExpr:
		return &InExpr{At: e.At, Key: CloneExpr(e.Key, m), X: CloneExpr(e.X, m)}
	case *SizeExpr:
		return &SizeExpr{At: e.At, X: CloneExpr(e.X, m), T: e.T}
	case *CastExpr:
		return &CastExpr{At: e.At, X: CloneExpr(e.X, m), T: e.T}
	case *CoerceExpr:
		return &CoerceExpr{At: e.At, X: CloneExpr(e.X, m), T: e.T}
	case *TableCtor:
		return &TableCtor{At: e.At, T: e.T, Keys: cloneList(e.Keys, m), Vals: cloneList(e.Vals, m)}
	case *VectorCtor:
		return &VectorCtor{At: e.At, T: e.T, Elems: cloneList(e.Elems, m)}
	case *LambdaExpr:
		caps := make([]*ID, len(e.Captures))
		for i, id := range e.Captures {
			caps[i] = m.id(id)
		}
		return &LambdaExpr{At: e.At, Func: e.Func, Captures: caps}
	case *InlineExpr:
		params := make([]*ID, len(e.Params))
		for i, id := range e.Params {
			params[i] = m.id(id)
		}
		locals := make([]*ID, len(e.Locals))
		for i, id := range e.Locals {
			locals[i] = m.id(id)
		}
		return &InlineExpr{At: e.At, Callee: e.Callee, Args: cloneList(e.Args, m), Params: params, Locals: locals, Body: CloneStmt(e.Body, m), T: e.T}
	}
	panic(fmt.Sprintf("CloneExpr: unexpected %T", e))
}
