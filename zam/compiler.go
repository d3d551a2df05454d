package zam

import (
	"errors"
	"fmt"
	"math"

	"github.com/reyesj2/zeek/script"
)

// ErrCompileSkip marks a body the compiler declined. The body keeps its
// interpreted form.
var ErrCompileSkip = errors.New("zam: compile skipped")

// SkipError records why a body was not compiled.
type SkipError struct {
	Func   string
	Loc    *script.Location
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("zam: %s not compiled (%s): %s", e.Func, e.Loc, e.Reason)
}

func (e *SkipError) Is(target error) bool { return target == ErrCompileSkip }

// Options controls compilation.
type Options struct {
	// Name labels the body in profiles and disassembly. Defaults to the
	// function name.
	Name string
	// NonRecursive lets the body keep one fixed frame across calls.
	NonRecursive bool
	// NoFrameSharing gives every variable and temporary its own slot.
	NoFrameSharing bool
	// Profiler, when set, receives the body's execution statistics.
	Profiler *Profiler
}

// vreg is a virtual register: a variable or a temporary, before slot
// assignment.
type vreg struct {
	id    *script.ID // nil for temporaries
	typ   *script.Type
	param bool
}

// breakable is an enclosing loop or switch.
type breakable struct {
	loop   bool
	cont   int   // loop continuation target
	breaks []int // jumps to the exit
	falls  []int // switches: fallthrough jumps to the next case
}

// inlineCtx is the state of an inlined call being compiled.
type inlineCtx struct {
	result int32 // -1 for void
	ends   []int
	saved  []*breakable
}

// compiler translates one function body into ZAM instructions over
// virtual registers, then assigns frame slots.
type compiler struct {
	fn   *script.Func
	body *script.Body
	opts Options

	insts []Inst
	cond  []bool // per instruction: emitted inside a branch or loop
	depth int

	vregs  []vreg
	varReg map[*script.ID]int32

	consts    []script.Value
	constIdx  map[string]int32
	funcs     []*script.Func
	funcIdx   map[*script.Func]int32
	builtins  []*script.Builtin
	builtIdx  map[*script.Builtin]int32
	globals   []GlobalInfo
	globalIdx map[*script.Global]int32

	intCases    []*CaseMap[int64]
	uintCases   []*CaseMap[uint64]
	doubleCases []*CaseMap[float64]
	stringCases []*CaseMap[string]

	breakables []*breakable
	inlines    []*inlineCtx

	tableDepth, stepDepth int
	maxTables, maxSteps   int
}

// skip aborts compilation; Compile recovers it.
func (c *compiler) skip(loc *script.Location, format string, args ...any) {
	panic(&SkipError{Func: c.fn.Name, Loc: loc, Reason: fmt.Sprintf(format, args...)})
}

// Compile translates body, one of fn's bodies, into a ZAM program. A
// construct the compiler does not handle yields an error matching
// ErrCompileSkip.
func Compile(fn *script.Func, body *script.Body, opts Options) (b *Body, err error) {
	if opts.Name == "" {
		opts.Name = fn.Name
	}
	if _, ok := body.Stmt.(script.CompiledStmt); ok {
		return nil, &SkipError{Func: fn.Name, Loc: body.Loc, Reason: "body is already compiled"}
	}
	c := &compiler{
		fn:        fn,
		body:      body,
		opts:      opts,
		varReg:    make(map[*script.ID]int32),
		constIdx:  make(map[string]int32),
		funcIdx:   make(map[*script.Func]int32),
		builtIdx:  make(map[*script.Builtin]int32),
		globalIdx: make(map[*script.Global]int32),
	}
	defer func() {
		if r := recover(); r != nil {
			se, ok := r.(*SkipError)
			if !ok {
				panic(r)
			}
			b, err = nil, se
		}
	}()

	for _, p := range body.Scope.Params {
		r := c.newVar(p)
		c.vregs[r].param = true
	}
	c.stmt(body.Stmt)

	b = &Body{
		CompiledNode:  script.CompiledNode{At: script.At{L: body.Loc}},
		Name:          opts.Name,
		Func:          fn,
		Source:        body.Stmt,
		Consts:        c.consts,
		Funcs:         c.funcs,
		Builtins:      c.builtins,
		Globals:       c.globals,
		IntCases:      c.intCases,
		UintCases:     c.uintCases,
		DoubleCases:   c.doubleCases,
		StringCases:   c.stringCases,
		NumTableIters: c.maxTables,
		NumStepIters:  c.maxSteps,
		NonRecursive:  opts.NonRecursive,
	}
	c.layout(b)
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if opts.Profiler != nil {
		opts.Profiler.Attach(b)
	}
	log.Debugf("compiled %s: %d instructions, frame %d (interpreter %d)", b.Name, len(b.Insts), b.FrameSize, body.Scope.FrameSize)
	return b, nil
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

func (c *compiler) emit(in Inst) int {
	if in.Loc != nil {
		in.Line = in.Loc.FirstLine
	}
	c.insts = append(c.insts, in)
	c.cond = append(c.cond, c.depth > 0)
	return len(c.insts) - 1
}

func (c *compiler) here() int { return len(c.insts) }

func (c *compiler) patch(at int, target int) { c.insts[at].C = int32(target) }

func (c *compiler) newTemp(t *script.Type) int32 {
	c.vregs = append(c.vregs, vreg{typ: t})
	return int32(len(c.vregs) - 1)
}

func (c *compiler) newVar(id *script.ID) int32 {
	c.vregs = append(c.vregs, vreg{id: id, typ: id.Type})
	r := int32(len(c.vregs) - 1)
	c.varReg[id] = r
	return r
}

func (c *compiler) varOf(id *script.ID) int32 {
	if r, ok := c.varReg[id]; ok {
		return r
	}
	return c.newVar(id)
}

func (c *compiler) isVar(r int32) bool { return c.vregs[r].id != nil }

func (c *compiler) constant(v script.Value) int32 {
	key := v.GoString()
	if i, ok := c.constIdx[key]; ok {
		return i
	}
	c.consts = append(c.consts, v)
	i := int32(len(c.consts) - 1)
	c.constIdx[key] = i
	return i
}

func (c *compiler) function(fn *script.Func) int32 {
	if i, ok := c.funcIdx[fn]; ok {
		return i
	}
	c.funcs = append(c.funcs, fn)
	i := int32(len(c.funcs) - 1)
	c.funcIdx[fn] = i
	return i
}

func (c *compiler) builtin(bi *script.Builtin) int32 {
	if i, ok := c.builtIdx[bi]; ok {
		return i
	}
	c.builtins = append(c.builtins, bi)
	i := int32(len(c.builtins) - 1)
	c.builtIdx[bi] = i
	return i
}

func (c *compiler) global(id *script.ID, store bool) int32 {
	i, ok := c.globalIdx[id.Global]
	if !ok {
		c.globals = append(c.globals, GlobalInfo{ID: id})
		i = int32(len(c.globals) - 1)
		c.globalIdx[id.Global] = i
	}
	if store {
		c.globals[i].Stores++
	} else {
		c.globals[i].Loads++
	}
	return i
}

func (c *compiler) branch(fn func()) {
	c.depth++
	fn()
	c.depth--
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *compiler) stmt(s script.Stmt) {
	switch s := s.(type) {
	case *script.BlockStmt:
		for _, st := range s.Stmts {
			c.stmt(st)
		}

	case *script.NullStmt:

	case *script.ExprStmt:
		c.discard(s.X)

	case *script.LocalStmt:
		dst := c.varOf(s.ID)
		if s.Init == nil {
			c.emit(Inst{Op: OpZero, A: dst, T: s.ID.Type, Loc: s.L})
			return
		}
		c.assignVar(s.ID, s.Init, s.L)

	case *script.AssignStmt:
		c.assign(s)

	case *script.PrintStmt:
		c.emit(Inst{Op: OpPrint, Aux: c.exprList(s.Args), Loc: s.L})

	case *script.IfStmt:
		cond := c.expr(s.Cond)
		jf := c.emit(Inst{Op: OpIfFalse, B: cond, Loc: s.L})
		c.branch(func() { c.stmt(s.Then) })
		if s.Else == nil {
			c.patch(jf, c.here())
			return
		}
		end := c.emit(Inst{Op: OpGoto, Loc: s.L})
		c.patch(jf, c.here())
		c.branch(func() { c.stmt(s.Else) })
		c.patch(end, c.here())

	case *script.WhileStmt:
		c.depth++
		top := c.here()
		br := &breakable{loop: true, cont: top}
		cond := c.expr(s.Cond)
		exit := c.emit(Inst{Op: OpIfFalse, B: cond, Loc: s.L})
		c.breakables = append(c.breakables, br)
		c.stmt(s.Body)
		c.breakables = c.breakables[:len(c.breakables)-1]
		c.emit(Inst{Op: OpGoto, C: int32(top), Loc: s.L})
		c.depth--
		c.patch(exit, c.here())
		for _, at := range br.breaks {
			c.patch(at, c.here())
		}

	case *script.ForStmt:
		c.forStmt(s)

	case *script.SwitchStmt:
		c.switchStmt(s)

	case *script.BreakStmt:
		if len(c.breakables) == 0 {
			if len(c.inlines) == 0 && c.fn.Flavor == script.FlavorHook {
				c.emit(Inst{Op: OpHookBreak, Loc: s.L})
				return
			}
			c.skip(s.L, "break outside of loop or switch")
		}
		br := c.breakables[len(c.breakables)-1]
		br.breaks = append(br.breaks, c.emit(Inst{Op: OpGoto, Loc: s.L}))

	case *script.NextStmt:
		for i := len(c.breakables) - 1; i >= 0; i-- {
			br := c.breakables[i]
			if !br.loop {
				continue
			}
			c.emit(Inst{Op: OpGoto, C: int32(br.cont), Loc: s.L})
			return
		}
		c.skip(s.L, "next outside of loop")

	case *script.FallthroughStmt:
		if len(c.breakables) == 0 || c.breakables[len(c.breakables)-1].loop {
			c.skip(s.L, "fallthrough outside of switch")
		}
		br := c.breakables[len(c.breakables)-1]
		br.falls = append(br.falls, c.emit(Inst{Op: OpGoto, Loc: s.L}))

	case *script.ReturnStmt:
		c.returnStmt(s)

	case *script.DeleteStmt:
		x := c.expr(s.X)
		idx := c.expr(s.Index)
		c.emit(Inst{Op: OpDelete, A: x, B: idx, Loc: s.L})

	default:
		c.skip(s.Loc(), "unsupported statement %T", s)
	}
}

func (c *compiler) returnStmt(s *script.ReturnStmt) {
	if n := len(c.inlines); n > 0 {
		ic := c.inlines[n-1]
		if s.X != nil && ic.result >= 0 {
			c.exprTo(s.X, ic.result)
		} else if s.X != nil {
			c.discard(s.X)
		}
		ic.ends = append(ic.ends, c.emit(Inst{Op: OpGoto, Loc: s.L}))
		return
	}
	if s.X == nil {
		c.emit(Inst{Op: OpReturn, B: -1, Loc: s.L})
		return
	}
	c.emit(Inst{Op: OpReturn, B: c.expr(s.X), Loc: s.L})
}

// assignVar stores e into the variable id. When e reads id, the value is
// built in a temporary first so that partial results never clobber it.
func (c *compiler) assignVar(id *script.ID, e script.Expr, loc *script.Location) {
	dst := c.varOf(id)
	if mentions(e, id) {
		t := c.expr(e)
		c.move(dst, t, id.Type, loc)
		return
	}
	c.exprTo(e, dst)
	if needsCoerce(e.Type(), id.Type) {
		c.emit(Inst{Op: OpCoerce, A: dst, B: dst, T: id.Type, Loc: loc})
	}
}

func (c *compiler) move(dst, src int32, t *script.Type, loc *script.Location) {
	if needsCoerce(c.vregs[src].typ, t) {
		c.emit(Inst{Op: OpCoerce, A: dst, B: src, T: t, Loc: loc})
		return
	}
	if dst != src {
		c.emit(Inst{Op: OpMove, A: dst, B: src, Loc: loc})
	}
}

func needsCoerce(from, to *script.Type) bool {
	return from != nil && to.IsNumeric() && from.IsNumeric() && from.Tag != to.Tag
}

func mentions(e script.Expr, id *script.ID) bool {
	found := false
	script.Walk(e, func(n script.Node) bool {
		if ne, ok := n.(*script.NameExpr); ok && ne.ID == id {
			found = true
		}
		if ie, ok := n.(*script.InlineExpr); ok {
			for _, p := range ie.Params {
				if p == id {
					found = true
				}
			}
		}
		return !found
	})
	return found
}

func (c *compiler) assign(s *script.AssignStmt) {
	switch t := s.Target.(type) {
	case *script.NameExpr:
		switch t.ID.Kind {
		case script.IDLocal, script.IDParam:
			c.assignVar(t.ID, s.Value, s.L)
		case script.IDGlobal:
			v := c.expr(s.Value)
			c.emit(Inst{Op: OpStoreGlobal, B: v, V: c.global(t.ID, true), Loc: s.L})
		case script.IDCapture:
			v := c.expr(s.Value)
			c.emit(Inst{Op: OpStoreCapture, B: v, V: int32(t.ID.Offset), T: t.ID.Type, Loc: s.L})
		default:
			c.skip(s.L, "cannot assign to %s", t.ID.Name)
		}
	case *script.IndexExpr:
		v := c.expr(s.Value)
		x := c.expr(t.X)
		idx := c.expr(t.Index)
		c.emit(Inst{Op: OpIndexAssign, A: x, B: idx, C: v, Loc: s.L})
	default:
		c.skip(s.L, "unsupported assignment target %T", s.Target)
	}
}

func (c *compiler) forStmt(s *script.ForStmt) {
	over := c.expr(s.Over)
	cont := c.newTemp(s.Over.Type())
	c.emit(Inst{Op: OpMove, A: cont, B: over, Loc: s.L})
	key := c.varOf(s.Key)
	val := int32(-1)
	if s.Value != nil {
		val = c.varOf(s.Value)
	}

	c.depth++
	br := &breakable{loop: true}
	var initOp, nextOp, endOp Op
	var iter int32
	if s.Over.Type().Tag == script.TypeTable {
		initOp, nextOp, endOp = OpInitTableLoop, OpNextTableIter, OpEndTableLoop
		iter = int32(c.tableDepth)
		c.tableDepth++
		c.maxTables = max(c.maxTables, c.tableDepth)
	} else {
		initOp, nextOp, endOp = OpInitVectorLoop, OpNextVectorIter, OpEndVectorLoop
		iter = int32(c.stepDepth)
		c.stepDepth++
		c.maxSteps = max(c.maxSteps, c.stepDepth)
	}
	c.emit(Inst{Op: initOp, B: cont, V: iter, Loc: s.L})
	top := c.here()
	br.cont = top
	var next int
	if nextOp == OpNextTableIter {
		next = c.emit(Inst{Op: nextOp, A: key, B: val, V: iter, Loc: s.L})
	} else {
		var aux []int32
		if val >= 0 {
			aux = []int32{val}
		}
		next = c.emit(Inst{Op: nextOp, A: key, B: cont, V: iter, Aux: aux, Loc: s.L})
	}
	c.breakables = append(c.breakables, br)
	c.stmt(s.Body)
	c.breakables = c.breakables[:len(c.breakables)-1]
	c.emit(Inst{Op: OpGoto, C: int32(top), Loc: s.L})
	end := c.emit(Inst{Op: endOp, V: iter, Loc: s.L})
	c.patch(next, end)
	for _, at := range br.breaks {
		c.patch(at, end)
	}
	c.depth--

	if endOp == OpEndTableLoop {
		c.tableDepth--
	} else {
		c.stepDepth--
	}
}

func (c *compiler) switchStmt(s *script.SwitchStmt) {
	disc := c.expr(s.X)
	op, mapIdx := c.newCaseMap(s)
	sw := c.emit(Inst{Op: op, B: disc, V: mapIdx, Loc: s.L})

	br := &breakable{}
	starts := make([]int, len(s.Cases))
	var pendingFall []int
	c.depth++
	for i, cs := range s.Cases {
		starts[i] = c.here()
		for _, at := range pendingFall {
			c.patch(at, starts[i])
		}
		br.falls = nil
		c.breakables = append(c.breakables, br)
		c.stmt(cs.Body)
		c.breakables = c.breakables[:len(c.breakables)-1]
		pendingFall = br.falls
		br.breaks = append(br.breaks, c.emit(Inst{Op: OpGoto, Loc: cs.L}))
	}
	c.depth--
	end := c.here()
	// fallthrough out of the last case leaves the switch
	for _, at := range pendingFall {
		c.patch(at, end)
	}
	for _, at := range br.breaks {
		c.patch(at, end)
	}
	def := end
	if d := s.Default(); d >= 0 {
		def = starts[d]
	}
	c.patch(sw, def)
	c.fillCaseMap(op, mapIdx, s, starts)
}

// newCaseMap reserves a case map of the discriminant's kind.
func (c *compiler) newCaseMap(s *script.SwitchStmt) (Op, int32) {
	switch s.X.Type().Tag {
	case script.TypeInt:
		c.intCases = append(c.intCases, nil)
		return OpSwitchI, int32(len(c.intCases) - 1)
	case script.TypeCount, script.TypeBool:
		c.uintCases = append(c.uintCases, nil)
		return OpSwitchU, int32(len(c.uintCases) - 1)
	case script.TypeDouble:
		c.doubleCases = append(c.doubleCases, nil)
		return OpSwitchD, int32(len(c.doubleCases) - 1)
	case script.TypeString:
		c.stringCases = append(c.stringCases, nil)
		return OpSwitchS, int32(len(c.stringCases) - 1)
	}
	c.skip(s.L, "cannot switch on %s", s.X.Type())
	return OpNop, 0
}

func (c *compiler) fillCaseMap(op Op, idx int32, s *script.SwitchStmt, starts []int) {
	var labels []script.Value
	var targets []int
	for i, cs := range s.Cases {
		for _, l := range cs.Labels {
			ce, ok := l.(*script.ConstExpr)
			if !ok {
				c.skip(l.Loc(), "case label is not constant")
			}
			labels = append(labels, script.Coerce(ce.Val, s.X.Type()))
			targets = append(targets, starts[i])
		}
	}
	var err error
	switch op {
	case OpSwitchI:
		keys := make([]int64, len(labels))
		for i, v := range labels {
			keys[i] = v.Int()
		}
		c.intCases[idx], err = NewCaseMap(keys, targets)
	case OpSwitchU:
		keys := make([]uint64, len(labels))
		for i, v := range labels {
			keys[i] = v.Count()
		}
		c.uintCases[idx], err = NewCaseMap(keys, targets)
	case OpSwitchD:
		var keys []float64
		var ts []int
		for i, v := range labels {
			// NaN never equals the discriminant
			if math.IsNaN(v.Double()) {
				continue
			}
			keys = append(keys, v.Double())
			ts = append(ts, targets[i])
		}
		c.doubleCases[idx], err = NewCaseMap(keys, ts)
	case OpSwitchS:
		keys := make([]string, len(labels))
		for i, v := range labels {
			keys[i] = v.Str()
		}
		c.stringCases[idx], err = NewCaseMap(keys, targets)
	}
	if err != nil {
		c.skip(s.L, "%v", err)
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// expr evaluates e and returns the register holding the result. Callers
// must not write the returned register: it may be a variable.
func (c *compiler) expr(e script.Expr) int32 {
	if ne, ok := e.(*script.NameExpr); ok && ne.ID.IsLocal() {
		return c.varOf(ne.ID)
	}
	dst := c.newTemp(e.Type())
	c.exprTo(e, dst)
	return dst
}

func (c *compiler) exprList(es []script.Expr) []int32 {
	regs := make([]int32, len(es))
	for i, e := range es {
		regs[i] = c.expr(e)
	}
	return regs
}

// discard evaluates e for its effects.
func (c *compiler) discard(e script.Expr) {
	switch e := e.(type) {
	case *script.CallExpr:
		c.call(e, -1)
	case *script.BuiltinExpr:
		c.emit(Inst{Op: OpCallBuiltin, A: -1, V: c.builtin(e.Builtin), Aux: c.exprList(e.Args), Loc: e.L})
	case *script.InlineExpr:
		c.inline(e, -1)
	default:
		c.expr(e)
	}
}

func (c *compiler) call(e *script.CallExpr, dst int32) {
	args := c.exprList(e.Args)
	if n, ok := e.Fn.(*script.NameExpr); ok && n.ID.Kind == script.IDFunc {
		c.emit(Inst{Op: OpCall, A: dst, V: c.function(n.ID.Func), Aux: args, Loc: e.L})
		return
	}
	if n, ok := e.Fn.(*script.NameExpr); ok && n.ID.Kind == script.IDCapture {
		c.skip(e.L, "indirect call through capture %s", n.ID.Name)
	}
	fn := c.expr(e.Fn)
	c.emit(Inst{Op: OpCallIndirect, A: dst, B: fn, Aux: args, Loc: e.L})
}

// exprTo evaluates e into dst.
func (c *compiler) exprTo(e script.Expr, dst int32) {
	// arithmetic writes its result without touching reference counts
	if c.vregs[dst].typ.IsManaged() && !e.Type().IsManaged() {
		t := c.newTemp(e.Type())
		c.exprTo(e, t)
		c.emit(Inst{Op: OpMove, A: dst, B: t, Loc: e.Loc()})
		return
	}
	switch e := e.(type) {
	case *script.ConstExpr:
		c.emit(Inst{Op: OpConst, A: dst, V: c.constant(e.Val), Loc: e.L})

	case *script.NameExpr:
		id := e.ID
		switch id.Kind {
		case script.IDLocal, script.IDParam:
			if src := c.varOf(id); src != dst {
				c.emit(Inst{Op: OpMove, A: dst, B: src, Loc: e.L})
			}
		case script.IDGlobal:
			c.emit(Inst{Op: OpLoadGlobal, A: dst, V: c.global(id, false), Loc: e.L})
		case script.IDCapture:
			c.emit(Inst{Op: OpLoadCapture, A: dst, V: int32(id.Offset), Loc: e.L})
		case script.IDFunc:
			c.emit(Inst{Op: OpLoadFunc, A: dst, V: c.function(id.Func), Loc: e.L})
		}

	case *script.BinaryExpr:
		c.binary(e, dst)

	case *script.UnaryExpr:
		x := c.expr(e.X)
		op := OpNeg
		if e.Op == script.OpNot {
			op = OpNot
		}
		c.emit(Inst{Op: op, A: dst, B: x, Loc: e.L})

	case *script.CondExpr:
		cond := c.expr(e.Cond)
		jf := c.emit(Inst{Op: OpIfFalse, B: cond, Loc: e.L})
		c.branch(func() { c.exprTo(e.Then, dst) })
		end := c.emit(Inst{Op: OpGoto, Loc: e.L})
		c.patch(jf, c.here())
		c.branch(func() { c.exprTo(e.Else, dst) })
		c.patch(end, c.here())

	case *script.CallExpr:
		c.call(e, dst)

	case *script.BuiltinExpr:
		c.emit(Inst{Op: OpCallBuiltin, A: dst, V: c.builtin(e.Builtin), Aux: c.exprList(e.Args), Loc: e.L})

	case *script.IndexExpr:
		x := c.expr(e.X)
		idx := c.expr(e.Index)
		c.emit(Inst{Op: OpIndex, A: dst, B: x, C: idx, Loc: e.L})

	case *script.InExpr:
		k := c.expr(e.Key)
		x := c.expr(e.X)
		c.emit(Inst{Op: OpIn, A: dst, B: k, C: x, Loc: e.L})

	case *script.SizeExpr:
		c.emit(Inst{Op: OpSize, A: dst, B: c.expr(e.X), Loc: e.L})

	case *script.CastExpr:
		x := c.expr(e.X)
		switch from := e.X.Type(); {
		case from.Tag == script.TypeAny:
			c.emit(Inst{Op: OpCheckAny, A: dst, B: x, T: e.T, Loc: e.L})
		case from.IsNumeric() && e.T.IsNumeric():
			c.emit(Inst{Op: OpCoerce, A: dst, B: x, T: e.T, Loc: e.L})
		default:
			c.emit(Inst{Op: OpMove, A: dst, B: x, Loc: e.L})
		}

	case *script.CoerceExpr:
		c.emit(Inst{Op: OpCoerce, A: dst, B: c.expr(e.X), T: e.T, Loc: e.L})

	case *script.TableCtor:
		aux := make([]int32, 0, 2*len(e.Keys))
		for i := range e.Keys {
			aux = append(aux, c.expr(e.Keys[i]), c.expr(e.Vals[i]))
		}
		c.emit(Inst{Op: OpTableCtor, A: dst, Aux: aux, T: e.T, Loc: e.L})

	case *script.VectorCtor:
		c.emit(Inst{Op: OpVectorCtor, A: dst, Aux: c.exprList(e.Elems), T: e.T, Loc: e.L})

	case *script.LambdaExpr:
		c.skip(e.L, "lambda construction")

	case *script.InlineExpr:
		c.inline(e, dst)

	default:
		c.skip(e.Loc(), "unsupported expression %T", e)
	}
}

func arithOp(op script.BinOp, tag script.TypeTag) (Op, bool) {
	var base Op
	switch op {
	case script.OpAdd:
		if tag == script.TypeString {
			return OpAddS, true
		}
		base = OpAddI
	case script.OpSub:
		base = OpSubI
	case script.OpMul:
		base = OpMulI
	case script.OpDiv:
		base = OpDivI
	case script.OpMod:
		base = OpModI
	default:
		return OpNop, false
	}
	switch tag {
	case script.TypeInt:
		return base, true
	case script.TypeCount:
		return base + 1, true
	case script.TypeDouble:
		return base + 2, true
	}
	return OpNop, false
}

func (c *compiler) binary(e *script.BinaryExpr, dst int32) {
	switch {
	case e.Op.IsLogical():
		// dst may be read by the right operand, so stage through a temp
		t := dst
		if c.isVar(dst) {
			t = c.newTemp(script.BoolType)
		}
		c.exprTo(e.X, t)
		jop := OpIfFalse
		if e.Op == script.OpOr {
			jop = OpIfTrue
		}
		j := c.emit(Inst{Op: jop, B: t, Loc: e.L})
		c.branch(func() { c.exprTo(e.Y, t) })
		c.patch(j, c.here())
		if t != dst {
			c.emit(Inst{Op: OpMove, A: dst, B: t, Loc: e.L})
		}

	case e.Op.IsComparison():
		x := c.expr(e.X)
		y := c.expr(e.Y)
		c.emit(Inst{Op: OpCmp, A: dst, B: x, C: y, V: int32(e.Op), Loc: e.L})

	default:
		x := c.expr(e.X)
		y := c.expr(e.Y)
		op, ok := arithOp(e.Op, e.X.Type().Tag)
		if !ok {
			c.skip(e.L, "operator %s on %s", e.Op, e.X.Type())
		}
		c.emit(Inst{Op: op, A: dst, B: x, C: y, Loc: e.L})
	}
}

// inline expands an inlined call in place. Returns inside the callee
// body jump to the end of the expansion.
func (c *compiler) inline(e *script.InlineExpr, dst int32) {
	for i, a := range e.Args {
		p := e.Params[i]
		c.assignVar(p, a, e.L)
	}
	if len(e.Locals) > 0 {
		none := c.constant(script.Void)
		for _, id := range e.Locals {
			c.emit(Inst{Op: OpConst, A: c.varOf(id), V: none, Loc: e.L})
		}
	}
	ic := &inlineCtx{result: -1, saved: c.breakables}
	void := e.T.Tag == script.TypeVoid
	if !void {
		ic.result = c.newTemp(e.T)
		c.emit(Inst{Op: OpConst, A: ic.result, V: c.constant(script.Void), Loc: e.L})
	}
	c.breakables = nil
	c.inlines = append(c.inlines, ic)
	c.branch(func() { c.stmt(e.Body) })
	c.inlines = c.inlines[:len(c.inlines)-1]
	c.breakables = ic.saved

	end := c.here()
	for _, at := range ic.ends {
		c.patch(at, end)
	}
	if void {
		return
	}
	c.emit(Inst{Op: OpMissingReturn, B: ic.result, V: c.constant(script.MakeString(e.Callee)), Loc: e.L})
	if dst >= 0 {
		c.move(dst, ic.result, e.T, e.L)
	}
}
