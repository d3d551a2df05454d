package scriptopt

import (
	"fmt"

	"github.com/reyesj2/zeek/script"
)

// rewriter rebuilds a statement tree bottom-up. Children are rewritten
// in place before the node itself is passed to the hooks. Assignment
// targets keep their root node, switch labels are left alone and lambda
// bodies are not entered.
type rewriter struct {
	expr func(script.Expr) script.Expr
	stmt func(script.Stmt) script.Stmt
}

func (r *rewriter) list(es []script.Expr) {
	for i, e := range es {
		es[i] = r.rewriteExpr(e)
	}
}

func (r *rewriter) rewriteExpr(e script.Expr) script.Expr {
	if e == nil {
		return nil
	}
	switch e := e.(type) {
	case *script.ConstExpr, *script.NameExpr, *script.LambdaExpr:
	case *script.BinaryExpr:
		e.X = r.rewriteExpr(e.X)
		e.Y = r.rewriteExpr(e.Y)
	case *script.UnaryExpr:
		e.X = r.rewriteExpr(e.X)
	case *script.CondExpr:
		e.Cond = r.rewriteExpr(e.Cond)
		e.Then = r.rewriteExpr(e.Then)
		e.Else = r.rewriteExpr(e.Else)
	case *script.CallExpr:
		e.Fn = r.rewriteExpr(e.Fn)
		r.list(e.Args)
	case *script.BuiltinExpr:
		r.list(e.Args)
	case *script.IndexExpr:
		e.X = r.rewriteExpr(e.X)
		e.Index = r.rewriteExpr(e.Index)
	case *script.InExpr:
		e.Key = r.rewriteExpr(e.Key)
		e.X = r.rewriteExpr(e.X)
	case *script.SizeExpr:
		e.X = r.rewriteExpr(e.X)
	case *script.CastExpr:
		e.X = r.rewriteExpr(e.X)
	case *script.CoerceExpr:
		e.X = r.rewriteExpr(e.X)
	case *script.TableCtor:
		r.list(e.Keys)
		r.list(e.Vals)
	case *script.VectorCtor:
		r.list(e.Elems)
	case *script.InlineExpr:
		r.list(e.Args)
		e.Body = r.rewriteStmt(e.Body)
	default:
		panic(fmt.Sprintf("rewriteExpr: unexpected %T", e))
	}
	if r.expr != nil {
		return r.expr(e)
	}
	return e
}

func (r *rewriter) rewriteTarget(e script.Expr) script.Expr {
	if ix, ok := e.(*script.IndexExpr); ok {
		ix.X = r.rewriteTarget(ix.X)
		ix.Index = r.rewriteExpr(ix.Index)
	}
	return e
}

func (r *rewriter) rewriteStmt(s script.Stmt) script.Stmt {
	if s == nil {
		return nil
	}
	switch s := s.(type) {
	case *script.ExprStmt:
		s.X = r.rewriteExpr(s.X)
	case *script.AssignStmt:
		s.Target = r.rewriteTarget(s.Target)
		s.Value = r.rewriteExpr(s.Value)
	case *script.LocalStmt:
		s.Init = r.rewriteExpr(s.Init)
	case *script.PrintStmt:
		r.list(s.Args)
	case *script.IfStmt:
		s.Cond = r.rewriteExpr(s.Cond)
		s.Then = r.rewriteStmt(s.Then)
		s.Else = r.rewriteStmt(s.Else)
	case *script.WhileStmt:
		s.Cond = r.rewriteExpr(s.Cond)
		s.Body = r.rewriteStmt(s.Body)
	case *script.ForStmt:
		s.Over = r.rewriteExpr(s.Over)
		s.Body = r.rewriteStmt(s.Body)
	case *script.SwitchStmt:
		s.X = r.rewriteExpr(s.X)
		for _, c := range s.Cases {
			c.Body = r.rewriteStmt(c.Body)
		}
	case *script.ReturnStmt:
		s.X = r.rewriteExpr(s.X)
	case *script.BlockStmt:
		for i, st := range s.Stmts {
			s.Stmts[i] = r.rewriteStmt(st)
		}
	case *script.DeleteStmt:
		s.X = r.rewriteTarget(s.X)
		s.Index = r.rewriteExpr(s.Index)
	case *script.BreakStmt, *script.NextStmt, *script.FallthroughStmt, *script.NullStmt:
	case script.CompiledStmt:
		return s
	default:
		panic(fmt.Sprintf("rewriteStmt: unexpected %T", s))
	}
	if r.stmt != nil {
		return r.stmt(s)
	}
	return s
}
