package scriptopt

import (
	"fmt"
	"sort"

	"github.com/reyesj2/zeek/script"
)

const (
	// maxInlineSize bounds the node count of a callee that is inlined.
	maxInlineSize = 120
	// maxCallerSize stops inlining into a body once it has grown this
	// large.
	maxCallerSize = 2000
)

// callGraph links analyzed functions to the functions they call by name.
type callGraph struct {
	nodes []*script.Func
	edges map[*script.Func][]*script.Func
	infos map[*script.Func][]*FuncInfo

	// unknown marks functions that make indirect calls or call
	// functions whose bodies were not analyzed.
	unknown map[*script.Func]bool
}

func newCallGraph(infos []*FuncInfo) *callGraph {
	g := &callGraph{
		edges:   map[*script.Func][]*script.Func{},
		infos:   map[*script.Func][]*FuncInfo{},
		unknown: map[*script.Func]bool{},
	}
	for _, fi := range infos {
		if _, ok := g.infos[fi.Func]; !ok {
			g.nodes = append(g.nodes, fi.Func)
		}
		g.infos[fi.Func] = append(g.infos[fi.Func], fi)
	}
	for _, fn := range g.nodes {
		seen := map[*script.Func]bool{}
		for _, fi := range g.infos[fn] {
			if fi.Profile == nil || fi.Profile.IndirectCalls > 0 {
				g.unknown[fn] = true
			}
			if fi.Profile == nil {
				continue
			}
			for _, c := range fi.Profile.Callees {
				if _, ok := g.infos[c]; !ok {
					g.unknown[fn] = true
					continue
				}
				if !seen[c] {
					seen[c] = true
					g.edges[fn] = append(g.edges[fn], c)
				}
			}
		}
	}
	return g
}

// sccs returns the strongly connected components in reverse topological
// order: a component comes after every component it calls into.
func (g *callGraph) sccs() [][]*script.Func {
	var (
		index   = map[*script.Func]int{}
		low     = map[*script.Func]int{}
		onStack = map[*script.Func]bool{}
		stack   []*script.Func
		out     [][]*script.Func
		next    int
	)
	var strong func(v *script.Func)
	strong = func(v *script.Func) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.edges[v] {
			if _, ok := index[w]; !ok {
				strong(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}
		if low[v] != index[v] {
			return
		}
		var comp []*script.Func
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			comp = append(comp, w)
			if w == v {
				break
			}
		}
		out = append(out, comp)
	}
	for _, v := range g.nodes {
		if _, ok := index[v]; !ok {
			strong(v)
		}
	}
	return out
}

func (g *callGraph) callsSelf(fn *script.Func) bool {
	for _, c := range g.edges[fn] {
		if c == fn {
			return true
		}
	}
	return false
}

// recursion is the outcome of the call-graph analysis.
type recursion struct {
	// direct and indirect list the recursive functions by kind.
	direct   []*script.Func
	indirect []*script.Func
	// nonRecursive holds the functions proven never to be re-entered
	// while active. Anything absent is assumed recursive.
	nonRecursive map[*script.Func]bool
	order        [][]*script.Func
}

func (g *callGraph) analyze() *recursion {
	rec := &recursion{nonRecursive: map[*script.Func]bool{}, order: g.sccs()}
	cyclic := map[*script.Func]bool{}
	for _, comp := range rec.order {
		if len(comp) > 1 {
			for _, fn := range comp {
				cyclic[fn] = true
				rec.indirect = append(rec.indirect, fn)
			}
		} else if g.callsSelf(comp[0]) {
			cyclic[comp[0]] = true
			rec.direct = append(rec.direct, comp[0])
		}
	}
	byName := func(fs []*script.Func) {
		sort.Slice(fs, func(i, j int) bool { return fs[i].Name < fs[j].Name })
	}
	byName(rec.direct)
	byName(rec.indirect)

	// Components arrive callees first, so every callee's verdict is known
	// when its callers are decided.
	for _, comp := range rec.order {
		for _, fn := range comp {
			if cyclic[fn] || g.unknown[fn] {
				continue
			}
			safe := true
			for _, c := range g.edges[fn] {
				if !rec.nonRecursive[c] {
					safe = false
					break
				}
			}
			if safe {
				rec.nonRecursive[fn] = true
			}
		}
	}
	return rec
}

// inliner replaces calls to small non-recursive functions with their
// bodies.
type inliner struct {
	graph *callGraph
	rec   *recursion

	// inlined counts the call sites each callee was expanded at.
	inlined map[*script.Func]int
}

func newInliner(infos []*FuncInfo) *inliner {
	g := newCallGraph(infos)
	return &inliner{graph: g, rec: g.analyze(), inlined: map[*script.Func]int{}}
}

// run inlines bottom-up over the call graph.
func (in *inliner) run() {
	for _, comp := range in.rec.order {
		for _, fn := range comp {
			for _, fi := range in.graph.infos[fn] {
				if fi.Skip || fi.isCompiled() {
					continue
				}
				if in.inlineInto(fi) {
					fi.Profile = ProfileFunc(fi.Func, fi.Body)
				}
			}
		}
	}
}

func (in *inliner) inlinable(fn *script.Func) *FuncInfo {
	if fn.Flavor != script.FlavorFunction || fn.IsLambda || len(fn.Bodies) != 1 {
		return nil
	}
	if !in.rec.nonRecursive[fn] {
		return nil
	}
	infos := in.graph.infos[fn]
	if len(infos) != 1 {
		return nil
	}
	fi := infos[0]
	if fi.Skip || fi.isCompiled() || fi.Profile == nil {
		return nil
	}
	if len(fi.Profile.Lambdas) > 0 || fi.Profile.Size() > maxInlineSize {
		return nil
	}
	return fi
}

func (in *inliner) inlineInto(caller *FuncInfo) bool {
	size := caller.Profile.Size()
	did := false
	r := &rewriter{expr: func(e script.Expr) script.Expr {
		call, ok := e.(*script.CallExpr)
		if !ok || size > maxCallerSize {
			return e
		}
		ne, ok := call.Fn.(*script.NameExpr)
		if !ok || ne.ID.Kind != script.IDFunc {
			return e
		}
		callee := in.inlinable(ne.ID.Func)
		if callee == nil || callee.Func == caller.Func {
			return e
		}
		size += callee.Profile.Size()
		in.inlined[callee.Func]++
		did = true
		return expand(caller.Scope, callee, call)
	}}
	caller.SetBody(r.rewriteStmt(caller.Body.Stmt))
	return did
}

// expand builds the InlineExpr for one call site. The callee's params
// and locals get fresh slots at the end of the caller's frame.
func expand(scope *script.Scope, callee *FuncInfo, call *script.CallExpr) *script.InlineExpr {
	fresh := map[*script.ID]*script.ID{}
	name := callee.Func.Name
	for _, id := range callee.Scope.IDs() {
		fresh[id] = scope.AddLocal(fmt.Sprintf("%s.%s", name, id.Name), id.Type)
	}
	m := func(id *script.ID) *script.ID {
		if n, ok := fresh[id]; ok {
			return n
		}
		return id
	}
	params := make([]*script.ID, len(callee.Scope.Params))
	for i, p := range callee.Scope.Params {
		params[i] = fresh[p]
	}
	locals := make([]*script.ID, len(callee.Scope.Locals))
	for i, id := range callee.Scope.Locals {
		locals[i] = fresh[id]
	}
	return &script.InlineExpr{
		At:     call.At,
		Callee: name,
		Args:   call.Args,
		Params: params,
		Locals: locals,
		Body:   script.CloneStmt(callee.Body.Stmt, m),
		T:      call.T,
	}
}
