package scriptopt

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/reyesj2/zeek/script"
)

// IssueKind classifies a usage issue.
type IssueKind uint8

const (
	// UsedBeforeSet is a read of a local that some path reaches without
	// assigning it.
	UsedBeforeSet IssueKind = iota
	// SetNotUsed is a local that is assigned but never read.
	SetNotUsed
)

func (k IssueKind) String() string {
	if k == UsedBeforeSet {
		return "possibly used before being set"
	}
	return "set but not used"
}

// UsageIssue is one finding of the usage analysis.
type UsageIssue struct {
	Func string
	Kind IssueKind
	ID   *script.ID
	Loc  *script.Location
}

func (u UsageIssue) String() string {
	return fmt.Sprintf("%s: %s in %s %s", u.Loc, u.ID.Name, u.Func, u.Kind)
}

// VarUsage lists the lines a variable is assigned and read on.
type VarUsage struct {
	ID   *script.ID
	Sets []int
	Uses []int
}

// UseDefs is the use-def summary of one body.
type UseDefs struct {
	Name   string
	Loc    *script.Location
	Vars   []*VarUsage
	Issues []UsageIssue
}

// defs is the set of locals assigned on every path reaching a point. A
// nil set marks an unreachable point, which counts as having everything
// assigned.
type defs map[*script.ID]bool

func (d defs) has(id *script.ID) bool { return d == nil || d[id] }

func (d defs) with(ids ...*script.ID) defs {
	if d == nil {
		return nil
	}
	out := make(defs, len(d)+len(ids))
	for id := range d {
		out[id] = true
	}
	for _, id := range ids {
		if id != nil {
			out[id] = true
		}
	}
	return out
}

func meet(a, b defs) defs {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	out := defs{}
	for id := range a {
		if b[id] {
			out[id] = true
		}
	}
	return out
}

type exitFrame struct {
	isSwitch bool
	outs     []defs
}

type usageWalker struct {
	ud      *UseDefs
	fn      string
	vars    map[*script.ID]*VarUsage
	flagged map[*script.ID]bool
	loopKey map[*script.ID]bool
	setAt   map[*script.ID]*script.Location
	frames  []*exitFrame
	fall    defs
	falls   bool
}

// AnalyzeUsage computes where the locals of body are set and read, and
// reports reads that may see an unassigned local and locals whose value
// is never read.
func AnalyzeUsage(fn *script.Func, body *script.Body) *UseDefs {
	ud := &UseDefs{Name: fn.Name, Loc: body.Loc}
	w := &usageWalker{
		ud:      ud,
		fn:      fn.Name,
		vars:    map[*script.ID]*VarUsage{},
		flagged: map[*script.ID]bool{},
		loopKey: map[*script.ID]bool{},
		setAt:   map[*script.ID]*script.Location{},
	}
	entry := defs{}
	for _, id := range body.Scope.IDs() {
		v := &VarUsage{ID: id}
		w.vars[id] = v
		ud.Vars = append(ud.Vars, v)
		if id.Kind == script.IDParam {
			entry[id] = true
		}
	}
	w.stmt(body.Stmt, entry)

	for _, v := range ud.Vars {
		if v.ID.Kind == script.IDParam || w.loopKey[v.ID] {
			continue
		}
		if len(v.Sets) > 0 && len(v.Uses) == 0 {
			ud.Issues = append(ud.Issues, UsageIssue{Func: fn.Name, Kind: SetNotUsed, ID: v.ID, Loc: w.setAt[v.ID]})
		}
	}
	return ud
}

func line(l *script.Location) int {
	if l == nil {
		return 0
	}
	return l.FirstLine
}

func (w *usageWalker) set(id *script.ID, l *script.Location) {
	if v, ok := w.vars[id]; ok {
		v.Sets = append(v.Sets, line(l))
		if w.setAt[id] == nil {
			w.setAt[id] = l
		}
	}
}

func (w *usageWalker) use(id *script.ID, l *script.Location, d defs) {
	v, ok := w.vars[id]
	if !ok {
		return
	}
	v.Uses = append(v.Uses, line(l))
	if !d.has(id) && !w.flagged[id] {
		w.flagged[id] = true
		w.ud.Issues = append(w.ud.Issues, UsageIssue{Func: w.fn, Kind: UsedBeforeSet, ID: id, Loc: l})
	}
}

// exprs records the reads in es. Expressions never assign locals, so d
// is unchanged.
func (w *usageWalker) exprs(d defs, es ...script.Expr) {
	for _, e := range es {
		if e == nil {
			continue
		}
		script.Walk(e, func(n script.Node) bool {
			switch n := n.(type) {
			case *script.NameExpr:
				if n.ID.IsLocal() {
					w.use(n.ID, n.L, d)
				}
			case *script.LambdaExpr:
				for _, c := range n.Captures {
					w.use(c, n.L, d)
				}
			case *script.InlineExpr:
				w.exprs(d, n.Args...)
				for _, p := range n.Params {
					w.set(p, n.L)
				}
				frames, fall, falls := w.frames, w.fall, w.falls
				w.frames = nil
				w.stmt(n.Body, d.with(n.Params...))
				w.frames, w.fall, w.falls = frames, fall, falls
				return false
			}
			return true
		})
	}
}

// stmt returns the assignments in force after s, nil when s never
// completes normally.
func (w *usageWalker) stmt(s script.Stmt, d defs) defs {
	switch s := s.(type) {
	case nil:
		return d
	case *script.ExprStmt:
		w.exprs(d, s.X)
		return d
	case *script.AssignStmt:
		w.exprs(d, s.Value)
		switch t := s.Target.(type) {
		case *script.NameExpr:
			if t.ID.IsLocal() {
				w.set(t.ID, s.L)
				return d.with(t.ID)
			}
		case *script.IndexExpr:
			w.exprs(d, t.X, t.Index)
		}
		return d
	case *script.LocalStmt:
		w.exprs(d, s.Init)
		w.set(s.ID, s.L)
		return d.with(s.ID)
	case *script.PrintStmt:
		w.exprs(d, s.Args...)
		return d
	case *script.DeleteStmt:
		w.exprs(d, s.X, s.Index)
		return d
	case *script.IfStmt:
		w.exprs(d, s.Cond)
		return meet(w.stmt(s.Then, d), w.stmt(s.Else, d))
	case *script.WhileStmt:
		w.exprs(d, s.Cond)
		w.loop(s.Body, d)
		return d
	case *script.ForStmt:
		w.exprs(d, s.Over)
		w.loopKey[s.Key] = true
		w.set(s.Key, s.L)
		if s.Value != nil {
			w.set(s.Value, s.L)
		}
		w.loop(s.Body, d.with(s.Key, s.Value))
		return d
	case *script.SwitchStmt:
		return w.switchStmt(s, d)
	case *script.BlockStmt:
		for _, st := range s.Stmts {
			d = w.stmt(st, d)
		}
		return d
	case *script.ReturnStmt:
		w.exprs(d, s.X)
		return nil
	case *script.BreakStmt:
		if n := len(w.frames); n > 0 && w.frames[n-1].isSwitch {
			w.frames[n-1].outs = append(w.frames[n-1].outs, d)
		}
		return nil
	case *script.NextStmt:
		return nil
	case *script.FallthroughStmt:
		w.fall, w.falls = d, true
		return nil
	}
	return d
}

// loop walks a loop body. The body may run zero times, so nothing it
// assigns is in force afterwards.
func (w *usageWalker) loop(body script.Stmt, d defs) {
	w.frames = append(w.frames, &exitFrame{})
	w.stmt(body, d)
	w.frames = w.frames[:len(w.frames)-1]
}

func (w *usageWalker) switchStmt(s *script.SwitchStmt, d defs) defs {
	w.exprs(d, s.X)
	fr := &exitFrame{isSwitch: true}
	w.frames = append(w.frames, fr)
	var fallIn defs
	fell := false
	for _, c := range s.Cases {
		entry := d
		if fell {
			entry = meet(d, fallIn)
		}
		w.falls = false
		out := w.stmt(c.Body, entry)
		fallIn, fell = w.fall, w.falls
		w.fall, w.falls = nil, false
		if out != nil {
			fr.outs = append(fr.outs, out)
		}
	}
	w.frames = w.frames[:len(w.frames)-1]
	if s.Default() < 0 {
		fr.outs = append(fr.outs, d)
	}
	if len(fr.outs) == 0 {
		return nil
	}
	out := fr.outs[0]
	for _, o := range fr.outs[1:] {
		out = meet(out, o)
	}
	return out
}

// Write prints the sets and reads of every variable followed by the
// issues found.
func (u *UseDefs) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "use-defs for %s (%s):\n", u.Name, u.Loc)
	for _, v := range u.Vars {
		kind := "local"
		if v.ID.Kind == script.IDParam {
			kind = "param"
		}
		fmt.Fprintf(tw, "  %s\t%s\tsets %s\tuses %s\n", v.ID.Name, kind, lines(v.Sets), lines(v.Uses))
	}
	for _, is := range u.Issues {
		fmt.Fprintf(tw, "  ! %s\n", is)
	}
	return tw.Flush()
}

func lines(ls []int) string {
	if len(ls) == 0 {
		return "-"
	}
	parts := make([]string, len(ls))
	for i, l := range ls {
		parts[i] = strconv.Itoa(l)
	}
	return strings.Join(parts, ",")
}
