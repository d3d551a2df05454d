package scriptopt

import (
	"github.com/reyesj2/zeek/script"
)

// optimizer folds constant expressions and removes branches whose
// condition is known. An operation that would fail at run time is left
// in place so the failure still happens there.
type optimizer struct {
	folded int
	pruned int
}

// Optimize rewrites body in place and reports how many expressions were
// folded and statements pruned.
func Optimize(body *script.Body) (folded, pruned int) {
	if _, ok := body.Stmt.(script.CompiledStmt); ok {
		return 0, 0
	}
	o := &optimizer{}
	r := &rewriter{expr: o.expr, stmt: o.stmt}
	body.Stmt = r.rewriteStmt(body.Stmt)
	return o.folded, o.pruned
}

func constOf(e script.Expr) (script.Value, bool) {
	if c, ok := e.(*script.ConstExpr); ok {
		return c.Val, true
	}
	return script.Void, false
}

func (o *optimizer) fold(at script.At, v script.Value, t *script.Type) script.Expr {
	o.folded++
	return &script.ConstExpr{At: at, Val: script.Coerce(v, t), T: t}
}

// convert wraps e so it yields type t.
func convert(e script.Expr, t *script.Type) script.Expr {
	if et := e.Type(); et.IsNumeric() && t.IsNumeric() && et.Tag != t.Tag {
		if v, ok := constOf(e); ok {
			return &script.ConstExpr{At: script.At{L: e.Loc()}, Val: script.Coerce(v, t), T: t}
		}
		return &script.CoerceExpr{At: script.At{L: e.Loc()}, X: e, T: t}
	}
	return e
}

func (o *optimizer) expr(e script.Expr) script.Expr {
	switch e := e.(type) {
	case *script.NameExpr:
		id := e.ID
		if id.Kind == script.IDGlobal && id.Global.Const && id.Type.IsAtomic() {
			return o.fold(e.At, id.Global.Value, id.Type)
		}

	case *script.BinaryExpr:
		x, xok := constOf(e.X)
		if e.Op.IsLogical() {
			if !xok {
				break
			}
			if (e.Op == script.OpAnd) != x.Bool() {
				return o.fold(e.At, x, e.T)
			}
			o.folded++
			return e.Y
		}
		y, yok := constOf(e.Y)
		if !xok || !yok {
			break
		}
		if e.Op.IsComparison() {
			return o.fold(e.At, script.MakeBool(script.CompareOp(e.Op, x, y)), e.T)
		}
		v, err := script.Arith(e.Op, x, y, e.L)
		if err != nil {
			break
		}
		return o.fold(e.At, v, e.T)

	case *script.UnaryExpr:
		x, ok := constOf(e.X)
		if !ok {
			break
		}
		if e.Op == script.OpNot {
			return o.fold(e.At, script.MakeBool(!x.Bool()), e.T)
		}
		if x.Type().IsNumeric() {
			return o.fold(e.At, script.Negate(x), e.T)
		}

	case *script.CoerceExpr:
		if x, ok := constOf(e.X); ok {
			return o.fold(e.At, x, e.T)
		}

	case *script.CondExpr:
		c, ok := constOf(e.Cond)
		if !ok {
			break
		}
		o.folded++
		if c.Bool() {
			return convert(e.Then, e.T)
		}
		return convert(e.Else, e.T)

	case *script.SizeExpr:
		x, ok := constOf(e.X)
		if !ok || x.Tag() != script.TypeString {
			break
		}
		if v, err := script.Size(x, e.L); err == nil {
			return o.fold(e.At, v, e.T)
		}
	}
	return e
}

func (o *optimizer) stmt(s script.Stmt) script.Stmt {
	switch s := s.(type) {
	case *script.IfStmt:
		c, ok := constOf(s.Cond)
		if !ok {
			break
		}
		o.pruned++
		if c.Bool() {
			return s.Then
		}
		if s.Else == nil {
			return &script.NullStmt{At: s.At}
		}
		return s.Else

	case *script.WhileStmt:
		if c, ok := constOf(s.Cond); ok && !c.Bool() {
			o.pruned++
			return &script.NullStmt{At: s.At}
		}

	case *script.BlockStmt:
		kept := s.Stmts[:0]
		for _, st := range s.Stmts {
			if _, ok := st.(*script.NullStmt); ok {
				continue
			}
			kept = append(kept, st)
		}
		s.Stmts = kept
	}
	return s
}
