package zam

import (
	"fmt"

	"github.com/reyesj2/zeek/script"
)

// GlobalInfo is a global referenced by the body.
type GlobalInfo struct {
	ID     *script.ID
	Loads  int
	Stores int
}

// ParamBinding copies a parameter from the interpreter frame into the
// compact frame at entry.
type ParamBinding struct {
	Offset int
	Slot   int32
}

// FrameSharingInfo lists the variables sharing one compact slot, with the
// statement position where each one's lifetime starts.
type FrameSharingInfo struct {
	IDs     []*script.ID
	Starts  []int
	Managed bool
}

// FrameReMap maps compact slots back to source variables. Index i
// describes slot i; temporaries and global slots are not listed.
type FrameReMap []FrameSharingInfo

// Body is a compiled program. It is immutable after compilation except
// for profiling counters and the fixed frame's contents.
type Body struct {
	script.CompiledNode

	Name   string
	Func   *script.Func
	Source script.Stmt

	Insts        []Inst
	FrameSize    int
	Managed      []bool  // per slot
	ManagedSlots []int32 // slots released at teardown
	Remap        FrameReMap
	Params       []ParamBinding
	Globals      []GlobalInfo
	Consts       []script.Value
	Funcs        []*script.Func
	Builtins     []*script.Builtin

	IntCases    []*CaseMap[int64]
	UintCases   []*CaseMap[uint64]
	DoubleCases []*CaseMap[float64]
	StringCases []*CaseMap[string]

	NumTableIters int
	NumStepIters  int

	// NonRecursive enables the fixed frame. Set only for functions the
	// orchestrator proved non-recursive.
	NonRecursive bool

	fixed *frame
	prof  *Profile
}

// frame is the compact per-invocation storage of a Body.
type frame struct {
	slots []script.Value
	iters *IterPool
	inUse bool
}

func (b *Body) newFrame() *frame {
	return &frame{
		slots: make([]script.Value, b.FrameSize),
		iters: NewIterPool(b.NumTableIters, b.NumStepIters),
	}
}

// acquireFrame returns the fixed frame when the body is non-recursive and
// the frame is idle; otherwise a fresh frame. A nested activation of a
// body wrongly marked non-recursive thus still gets its own storage.
func (b *Body) acquireFrame() *frame {
	if b.NonRecursive {
		if b.fixed == nil {
			b.fixed = b.newFrame()
		}
		if !b.fixed.inUse {
			b.fixed.inUse = true
			return b.fixed
		}
		log.Debugf("%s: fixed frame busy, using a per-call frame", b.Name)
	}
	fr := b.newFrame()
	fr.inUse = true
	return fr
}

// releaseFrame releases every managed slot exactly once and clears the
// frame, whatever the exit path.
func (b *Body) releaseFrame(fr *frame) {
	for _, s := range b.ManagedSlots {
		script.Unref(fr.slots[s])
		fr.slots[s] = script.Void
	}
	clear(fr.slots)
	fr.iters.Reset()
	fr.inUse = false
}

// set stores v in slot s, maintaining reference counts of managed slots.
func (b *Body) set(fr *frame, s int32, v script.Value) {
	if b.Managed[s] {
		script.Ref(v)
		script.Unref(fr.slots[s])
	}
	fr.slots[s] = v
}

// Exec runs the body. Parameters are read from the interpreter frame f.
func (b *Body) Exec(f *script.Frame) (script.Value, script.Flow, error) {
	fr := b.acquireFrame()
	defer b.releaseFrame(fr)
	for _, p := range b.Params {
		b.set(fr, p.Slot, f.Slots[p.Offset])
	}
	if b.prof != nil {
		return b.runProfiled(f, fr)
	}
	return b.run(f, fr)
}

// Loc returns the location of the compiled function body.
func (b *Body) Loc() *script.Location {
	if b.Source != nil {
		return b.Source.Loc()
	}
	return b.CompiledNode.Loc()
}

// FixedFrameInUse reports whether the fixed frame is currently active or
// still holds a loop cursor.
func (b *Body) FixedFrameInUse() bool {
	return b.fixed != nil && (b.fixed.inUse || b.fixed.iters.InUse())
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks that every operand of every instruction indexes within
// the body's declared tables: slots within the frame, iterator indices
// within the pools, jump targets within the program.
func (b *Body) Validate() error {
	if len(b.Managed) != b.FrameSize {
		return fmt.Errorf("zam: %s: managed map has %d entries for frame size %d", b.Name, len(b.Managed), b.FrameSize)
	}
	for _, s := range b.ManagedSlots {
		if s < 0 || int(s) >= b.FrameSize || !b.Managed[s] {
			return fmt.Errorf("zam: %s: bad managed slot %d", b.Name, s)
		}
	}
	for _, p := range b.Params {
		if p.Slot < 0 || int(p.Slot) >= b.FrameSize {
			return fmt.Errorf("zam: %s: parameter slot %d out of range", b.Name, p.Slot)
		}
	}
	for i := range b.Insts {
		in := &b.Insts[i]
		if in.Op >= numOps {
			return fmt.Errorf("zam: %s: inst %d: unknown opcode %d", b.Name, i, in.Op)
		}
		info := in.Op.Info()
		check := func(field string, kind operand, v int32) error {
			var limit int
			switch kind {
			case opNone, opCompare, opCapture:
				return nil
			case opSlotOpt:
				if v == -1 {
					return nil
				}
				limit = b.FrameSize
			case opSlot:
				limit = b.FrameSize
			case opTarget:
				limit = len(b.Insts) + 1
			case opConst:
				limit = len(b.Consts)
			case opGlobal:
				limit = len(b.Globals)
			case opFunc:
				limit = len(b.Funcs)
			case opBuiltin:
				limit = len(b.Builtins)
			case opTableIter:
				limit = b.NumTableIters
			case opStepIter:
				limit = b.NumStepIters
			case opCaseI:
				limit = len(b.IntCases)
			case opCaseU:
				limit = len(b.UintCases)
			case opCaseD:
				limit = len(b.DoubleCases)
			case opCaseS:
				limit = len(b.StringCases)
			}
			if v < 0 || int(v) >= limit {
				return fmt.Errorf("zam: %s: inst %d (%s): operand %s=%d out of range [0,%d)", b.Name, i, in.Op, field, v, limit)
			}
			return nil
		}
		for _, op := range []struct {
			name string
			kind operand
			v    int32
		}{{"A", info.A, in.A}, {"B", info.B, in.B}, {"C", info.C, in.C}, {"V", info.V, in.V}} {
			if err := check(op.name, op.kind, op.v); err != nil {
				return err
			}
		}
		if info.Aux {
			for _, s := range in.Aux {
				if err := check("Aux", opSlot, s); err != nil {
					return err
				}
			}
		}
	}
	for i, g := range b.Globals {
		if g.ID == nil || g.ID.Global == nil {
			return fmt.Errorf("zam: %s: global %d is unbound", b.Name, i)
		}
	}
	if err := b.validateCaseTargets(); err != nil {
		return err
	}
	return nil
}

func (b *Body) validateCaseTargets() error {
	n := len(b.Insts)
	bad := func(ts []int) error {
		for _, t := range ts {
			if t < 0 || t > n {
				return fmt.Errorf("zam: %s: case target %d out of range", b.Name, t)
			}
		}
		return nil
	}
	for _, m := range b.IntCases {
		if err := bad(m.Targets()); err != nil {
			return err
		}
	}
	for _, m := range b.UintCases {
		if err := bad(m.Targets()); err != nil {
			return err
		}
	}
	for _, m := range b.DoubleCases {
		if err := bad(m.Targets()); err != nil {
			return err
		}
	}
	for _, m := range b.StringCases {
		if err := bad(m.Targets()); err != nil {
			return err
		}
	}
	return nil
}
