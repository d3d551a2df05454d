package script

import (
	"io"
	"os"
	"sort"
)

// Flavor distinguishes plain functions from event and hook handlers.
type Flavor uint8

const (
	FlavorFunction Flavor = iota
	FlavorEvent
	FlavorHook
)

func (f Flavor) String() string {
	switch f {
	case FlavorEvent:
		return "event"
	case FlavorHook:
		return "hook"
	}
	return "function"
}

// Flow is the control-flow outcome of executing a statement.
type Flow uint8

const (
	FlowNext        Flow = iota // continue with the following statement
	FlowLoop                    // "next": continue the enclosing loop
	FlowBreak                   // leave the enclosing loop/switch, or end a hook body
	FlowReturn                  // return from the function
	FlowFallthrough             // continue into the next switch case
)

var flowNames = [...]string{"next", "loop", "break", "return", "fallthrough"}

func (f Flow) String() string {
	if int(f) < len(flowNames) {
		return flowNames[f]
	}
	return "flow?"
}

// Scope describes a body's frame: parameters first, then locals. Offsets
// may be sparse once inlining has appended callee frames.
type Scope struct {
	Params    []*ID
	Locals    []*ID
	FrameSize int
}

// IDs returns params followed by locals.
func (s *Scope) IDs() []*ID {
	ids := make([]*ID, 0, len(s.Params)+len(s.Locals))
	ids = append(ids, s.Params...)
	return append(ids, s.Locals...)
}

// AddLocal appends a fresh local at the end of the frame.
func (s *Scope) AddLocal(name string, t *Type) *ID {
	id := &ID{Name: name, Type: t, Kind: IDLocal, Offset: s.FrameSize}
	s.Locals = append(s.Locals, id)
	s.FrameSize++
	return id
}

// Body is one prioritized implementation of a function.
type Body struct {
	Stmt     Stmt
	Priority int
	Scope    *Scope
	Loc      *Location
}

// CompiledStmt is a body statement with an alternative execution strategy
// (bytecode or native). The dispatcher hands it the interpreter frame with
// parameters already stored at their offsets.
type CompiledStmt interface {
	Stmt
	Exec(f *Frame) (Value, Flow, error)
}

// CompiledNode is embedded by CompiledStmt implementations defined in
// other packages.
type CompiledNode struct{ At }

func (CompiledNode) stmt() {}

// Func is a script function, event or hook.
type Func struct {
	Name   string
	Flavor Flavor
	Type   *Type
	File   string
	Loc    *Location
	Bodies []*Body

	// Lambdas only: identifiers bound to the FuncVal's capture list.
	Captures []*ID
	IsLambda bool
}

// AddBody inserts b keeping bodies in descending priority order. Bodies of
// equal priority run in the order they were added.
func (f *Func) AddBody(b *Body) {
	i := sort.Search(len(f.Bodies), func(i int) bool {
		return f.Bodies[i].Priority < b.Priority
	})
	f.Bodies = append(f.Bodies, nil)
	copy(f.Bodies[i+1:], f.Bodies[i:])
	f.Bodies[i] = b
}

// Env is the execution environment shared by all calls of one run.
type Env struct {
	Out      io.Writer
	MaxDepth int

	depth int
}

// DefaultMaxDepth bounds script call nesting.
const DefaultMaxDepth = 1000

// NewEnv creates an environment printing to out (stdout if nil).
func NewEnv(out io.Writer) *Env {
	if out == nil {
		out = os.Stdout
	}
	return &Env{Out: out, MaxDepth: DefaultMaxDepth}
}

// Depth returns the current call nesting depth.
func (e *Env) Depth() int { return e.depth }

// Frame is the interpreter's per-invocation storage.
type Frame struct {
	Env      *Env
	Func     *Func
	Slots    []Value
	Captures []Value
}

// NewFrame allocates a frame for scope.
func NewFrame(env *Env, fn *Func, scope *Scope, captures []Value) *Frame {
	return &Frame{Env: env, Func: fn, Slots: make([]Value, scope.FrameSize), Captures: captures}
}

// Call invokes the function.
func (f *Func) Call(env *Env, args []Value) (Value, error) {
	return f.invoke(env, args, nil)
}

// Call invokes the function value with its captures.
func (fv *FuncVal) Call(env *Env, args []Value) (Value, error) {
	return fv.fn.invoke(env, args, fv.captures)
}

func (f *Func) invoke(env *Env, args []Value, captures []Value) (Value, error) {
	if len(args) != len(f.Type.Params) {
		return Void, Errorf(KindCall, f.Loc, "%s expects %d arguments, got %d", f.Name, len(f.Type.Params), len(args))
	}
	if f.Flavor == FlavorFunction && len(f.Bodies) == 0 {
		return Void, Errorf(KindCall, f.Loc, "%s has no body", f.Name)
	}
	max := env.MaxDepth
	if max <= 0 {
		max = DefaultMaxDepth
	}
	if env.depth >= max {
		return Void, Errorf(KindCallDepth, f.Loc, "call depth exceeds %d in %s", max, f.Name)
	}
	env.depth++
	defer func() { env.depth-- }()

	for _, b := range f.Bodies {
		v, flow, err := f.runBody(env, b, args, captures)
		if err != nil {
			return Void, err
		}
		switch f.Flavor {
		case FlavorFunction:
			if f.Type.Yield.Tag == TypeVoid {
				return Void, nil
			}
			if flow != FlowReturn || v.IsVoid() {
				return Void, Errorf(KindCall, f.Loc, "%s did not return a value", f.Name)
			}
			return Coerce(v, f.Type.Yield), nil
		case FlavorHook:
			if flow == FlowBreak {
				return MakeBool(false), nil
			}
		}
	}
	if f.Flavor == FlavorHook {
		return MakeBool(true), nil
	}
	return Void, nil
}

func (f *Func) runBody(env *Env, b *Body, args, captures []Value) (Value, Flow, error) {
	frame := NewFrame(env, f, b.Scope, captures)
	for i, p := range b.Scope.Params {
		frame.Slots[p.Offset] = Coerce(args[i], p.Type)
	}
	if cs, ok := b.Stmt.(CompiledStmt); ok {
		return cs.Exec(frame)
	}
	return ExecStmt(frame, b.Stmt)
}
