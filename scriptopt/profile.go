package scriptopt

import (
	"sort"

	"github.com/reyesj2/zeek/script"
)

// Profile summarizes what a body uses.
type Profile struct {
	// Locals declared by the body, including loop variables.
	Locals []*script.ID
	// Globals read or written, in first-use order.
	Globals []*script.Global
	// Callees are the script functions called directly by name.
	Callees []*script.Func
	// FuncRefs are functions used as values rather than called.
	FuncRefs []*script.Func
	// IndirectCalls counts calls through function values.
	IndirectCalls int
	// Lambdas are the closures the body creates.
	Lambdas []*script.Func
	// Builtins called, sorted by name.
	Builtins []string

	// Conditional is set when a branch depends only on constants.
	Conditional bool
	// UsesCaptures is set when the body reads or writes captures.
	UsesCaptures bool

	NumStmts     int
	NumExprs     int
	MaxLoopDepth int
}

// Size is the body's node count, used to bound inlining.
func (p *Profile) Size() int { return p.NumStmts + p.NumExprs }

// Calls reports whether the body calls fn by name.
func (p *Profile) Calls(fn *script.Func) bool {
	for _, c := range p.Callees {
		if c == fn {
			return true
		}
	}
	return false
}

type profiler struct {
	p        *Profile
	globals  map[*script.Global]bool
	callees  map[*script.Func]bool
	refs     map[*script.Func]bool
	builtins map[string]bool
	callFns  map[*script.NameExpr]bool
	locals   map[*script.ID]bool
}

// ProfileFunc walks one body of fn.
func ProfileFunc(fn *script.Func, body *script.Body) *Profile {
	pf := &profiler{
		p:        &Profile{},
		globals:  map[*script.Global]bool{},
		callees:  map[*script.Func]bool{},
		refs:     map[*script.Func]bool{},
		builtins: map[string]bool{},
		callFns:  map[*script.NameExpr]bool{},
		locals:   map[*script.ID]bool{},
	}
	if _, ok := body.Stmt.(script.CompiledStmt); !ok {
		pf.walk(body.Stmt, 0)
	}
	for b := range pf.builtins {
		pf.p.Builtins = append(pf.p.Builtins, b)
	}
	sort.Strings(pf.p.Builtins)
	log.Debugf("profiled %s: %d statements, %d expressions, %d callees, loop depth %d",
		fn.Name, pf.p.NumStmts, pf.p.NumExprs, len(pf.p.Callees), pf.p.MaxLoopDepth)
	return pf.p
}

func (pf *profiler) walk(n script.Node, depth int) {
	if depth > pf.p.MaxLoopDepth {
		pf.p.MaxLoopDepth = depth
	}
	script.Walk(n, func(n script.Node) bool {
		switch n := n.(type) {
		case *script.WhileStmt:
			pf.p.NumStmts++
			pf.condition(n.Cond)
			pf.walk(n.Cond, depth)
			pf.walk(n.Body, depth+1)
			return false
		case *script.ForStmt:
			pf.p.NumStmts++
			pf.local(n.Key)
			pf.local(n.Value)
			pf.walk(n.Over, depth)
			pf.walk(n.Body, depth+1)
			return false
		case *script.IfStmt:
			pf.condition(n.Cond)
		case *script.CondExpr:
			pf.condition(n.Cond)
		case *script.LocalStmt:
			pf.local(n.ID)
		case *script.InlineExpr:
			for _, id := range n.Params {
				pf.local(id)
			}
			for _, id := range n.Locals {
				pf.local(id)
			}
		case *script.CallExpr:
			if ne, ok := n.Fn.(*script.NameExpr); ok && ne.ID.Kind == script.IDFunc {
				pf.callFns[ne] = true
				if !pf.callees[ne.ID.Func] {
					pf.callees[ne.ID.Func] = true
					pf.p.Callees = append(pf.p.Callees, ne.ID.Func)
				}
			} else {
				pf.p.IndirectCalls++
			}
		case *script.BuiltinExpr:
			pf.builtins[n.Builtin.Name] = true
		case *script.LambdaExpr:
			pf.p.Lambdas = append(pf.p.Lambdas, n.Func)
		case *script.NameExpr:
			pf.name(n)
		}
		switch n.(type) {
		case script.Expr:
			pf.p.NumExprs++
		case script.Stmt:
			pf.p.NumStmts++
		}
		return true
	})
}

func (pf *profiler) local(id *script.ID) {
	if id != nil && !pf.locals[id] {
		pf.locals[id] = true
		pf.p.Locals = append(pf.p.Locals, id)
	}
}

func (pf *profiler) name(n *script.NameExpr) {
	id := n.ID
	switch id.Kind {
	case script.IDGlobal:
		if !pf.globals[id.Global] {
			pf.globals[id.Global] = true
			pf.p.Globals = append(pf.p.Globals, id.Global)
		}
	case script.IDCapture:
		pf.p.UsesCaptures = true
	case script.IDFunc:
		// Walk visits a call's function name after the call itself.
		if !pf.callFns[n] && !pf.refs[id.Func] {
			pf.refs[id.Func] = true
			pf.p.FuncRefs = append(pf.p.FuncRefs, id.Func)
		}
	}
}

func (pf *profiler) condition(e script.Expr) {
	if isStatic(e) {
		pf.p.Conditional = true
	}
}

// isStatic reports whether e's value is fixed before the body runs.
func isStatic(e script.Expr) bool {
	switch e := e.(type) {
	case *script.ConstExpr:
		return true
	case *script.NameExpr:
		return e.ID.Kind == script.IDGlobal && e.ID.Global.Const
	case *script.BinaryExpr:
		return isStatic(e.X) && isStatic(e.Y)
	case *script.UnaryExpr:
		return isStatic(e.X)
	case *script.CoerceExpr:
		return isStatic(e.X)
	}
	return false
}
