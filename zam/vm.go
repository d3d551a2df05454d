package zam

import (
	"math"
	"time"

	"github.com/reyesj2/zeek/script"
)

func divideByZero(in *Inst) error {
	return script.Errorf(script.KindDivideByZero, in.Loc, "division by zero")
}

func (b *Body) args(fr *frame, aux []int32) []script.Value {
	vals := make([]script.Value, len(aux))
	for i, s := range aux {
		vals[i] = fr.slots[s]
	}
	return vals
}

func (b *Body) run(f *script.Frame, fr *frame) (script.Value, script.Flow, error) {
	return b.loop(f, fr, nil)
}

func (b *Body) runProfiled(f *script.Frame, fr *frame) (script.Value, script.Flow, error) {
	start := time.Now()
	v, flow, err := b.loop(f, fr, b.prof)
	b.prof.recordCall(time.Since(start))
	return v, flow, err
}

// loop is the dispatch loop. Falling off the end of the program yields
// FlowNext, as for a statement list.
func (b *Body) loop(f *script.Frame, fr *frame, prof *Profile) (script.Value, script.Flow, error) {
	insts := b.Insts
	s := fr.slots
	var t0 time.Time
	pc := 0
	for pc < len(insts) {
		in := &insts[pc]
		if prof != nil {
			prof.enter(pc)
			t0 = time.Now()
		}
		at := pc
		pc++

		switch in.Op {
		// --- Data movement ---
		case OpNop:

		case OpConst:
			b.set(fr, in.A, b.Consts[in.V])

		case OpMove:
			b.set(fr, in.A, s[in.B])

		case OpZero:
			b.set(fr, in.A, script.ZeroValue(in.T))

		case OpLoadGlobal:
			b.set(fr, in.A, b.Globals[in.V].ID.Global.Value)

		case OpStoreGlobal:
			id := b.Globals[in.V].ID
			id.Global.Value = script.Coerce(s[in.B], id.Type)

		case OpLoadCapture:
			if int(in.V) >= len(f.Captures) {
				return script.Void, script.FlowNext, script.Errorf(script.KindCall, in.Loc, "capture %d missing", in.V)
			}
			b.set(fr, in.A, f.Captures[in.V])

		case OpStoreCapture:
			if int(in.V) >= len(f.Captures) {
				return script.Void, script.FlowNext, script.Errorf(script.KindCall, in.Loc, "capture %d missing", in.V)
			}
			f.Captures[in.V] = script.Coerce(s[in.B], in.T)

		case OpLoadFunc:
			b.set(fr, in.A, script.MakeFunc(script.NewFuncVal(b.Funcs[in.V], nil)))

		case OpCoerce:
			b.set(fr, in.A, script.Coerce(s[in.B], in.T))

		case OpCheckAny:
			v, err := script.CheckAny(s[in.B], in.T, in.Loc)
			if err != nil {
				return script.Void, script.FlowNext, err
			}
			b.set(fr, in.A, v)

		// --- Arithmetic ---
		case OpAddI:
			s[in.A] = script.MakeInt(s[in.B].Int() + s[in.C].Int())
		case OpAddU:
			s[in.A] = script.MakeCount(s[in.B].Count() + s[in.C].Count())
		case OpAddD:
			s[in.A] = script.MakeDouble(s[in.B].Double() + s[in.C].Double())
		case OpAddS:
			s[in.A] = script.MakeString(s[in.B].Str() + s[in.C].Str())
		case OpSubI:
			s[in.A] = script.MakeInt(s[in.B].Int() - s[in.C].Int())
		case OpSubU:
			s[in.A] = script.MakeCount(s[in.B].Count() - s[in.C].Count())
		case OpSubD:
			s[in.A] = script.MakeDouble(s[in.B].Double() - s[in.C].Double())
		case OpMulI:
			s[in.A] = script.MakeInt(s[in.B].Int() * s[in.C].Int())
		case OpMulU:
			s[in.A] = script.MakeCount(s[in.B].Count() * s[in.C].Count())
		case OpMulD:
			s[in.A] = script.MakeDouble(s[in.B].Double() * s[in.C].Double())

		case OpDivI:
			y := s[in.C].Int()
			if y == 0 {
				return script.Void, script.FlowNext, divideByZero(in)
			}
			s[in.A] = script.MakeInt(s[in.B].Int() / y)
		case OpDivU:
			y := s[in.C].Count()
			if y == 0 {
				return script.Void, script.FlowNext, divideByZero(in)
			}
			s[in.A] = script.MakeCount(s[in.B].Count() / y)
		case OpDivD:
			y := s[in.C].Double()
			if y == 0 {
				return script.Void, script.FlowNext, divideByZero(in)
			}
			s[in.A] = script.MakeDouble(s[in.B].Double() / y)
		case OpModI:
			y := s[in.C].Int()
			if y == 0 {
				return script.Void, script.FlowNext, divideByZero(in)
			}
			s[in.A] = script.MakeInt(s[in.B].Int() % y)
		case OpModU:
			y := s[in.C].Count()
			if y == 0 {
				return script.Void, script.FlowNext, divideByZero(in)
			}
			s[in.A] = script.MakeCount(s[in.B].Count() % y)
		case OpModD:
			y := s[in.C].Double()
			if y == 0 {
				return script.Void, script.FlowNext, divideByZero(in)
			}
			s[in.A] = script.MakeDouble(math.Mod(s[in.B].Double(), y))

		case OpNeg:
			s[in.A] = script.Negate(s[in.B])
		case OpNot:
			s[in.A] = script.MakeBool(!s[in.B].Bool())
		case OpCmp:
			s[in.A] = script.MakeBool(script.CompareOp(script.BinOp(in.V), s[in.B], s[in.C]))

		// --- Containers ---
		case OpSize:
			v, err := script.Size(s[in.B], in.Loc)
			if err != nil {
				return script.Void, script.FlowNext, err
			}
			s[in.A] = v

		case OpIndex:
			v, err := script.Index(s[in.B], s[in.C], in.Loc)
			if err != nil {
				return script.Void, script.FlowNext, err
			}
			b.set(fr, in.A, v)

		case OpIndexAssign:
			if err := script.AssignIndex(s[in.A], s[in.B], s[in.C], in.Loc); err != nil {
				return script.Void, script.FlowNext, err
			}

		case OpDelete:
			if err := script.DeleteIndex(s[in.A], s[in.B], in.Loc); err != nil {
				return script.Void, script.FlowNext, err
			}

		case OpIn:
			ok, err := script.Contains(s[in.B], s[in.C], in.Loc)
			if err != nil {
				return script.Void, script.FlowNext, err
			}
			s[in.A] = script.MakeBool(ok)

		case OpTableCtor:
			t := script.NewTable(in.T)
			for i := 0; i+1 < len(in.Aux); i += 2 {
				t.Assign(s[in.Aux[i]], s[in.Aux[i+1]])
			}
			b.set(fr, in.A, script.MakeTable(t))

		case OpVectorCtor:
			vec := script.NewVector(in.T)
			for _, e := range in.Aux {
				vec.Append(s[e])
			}
			b.set(fr, in.A, script.MakeVector(vec))

		// --- Control flow ---
		case OpGoto:
			pc = int(in.C)

		case OpIfFalse:
			if !s[in.B].Bool() {
				pc = int(in.C)
			}

		case OpIfTrue:
			if s[in.B].Bool() {
				pc = int(in.C)
			}

		case OpSwitchI:
			pc = int(in.C)
			if t, ok := b.IntCases[in.V].Lookup(s[in.B].Int()); ok {
				pc = t
			}
		case OpSwitchU:
			pc = int(in.C)
			if t, ok := b.UintCases[in.V].Lookup(s[in.B].Count()); ok {
				pc = t
			}
		case OpSwitchD:
			pc = int(in.C)
			if t, ok := b.DoubleCases[in.V].Lookup(s[in.B].Double()); ok {
				pc = t
			}
		case OpSwitchS:
			pc = int(in.C)
			if t, ok := b.StringCases[in.V].Lookup(s[in.B].Str()); ok {
				pc = t
			}

		case OpReturn:
			if in.B < 0 {
				return script.Void, script.FlowReturn, nil
			}
			return s[in.B], script.FlowReturn, nil

		case OpHookBreak:
			return script.Void, script.FlowBreak, nil

		case OpMissingReturn:
			if in.B >= 0 && !s[in.B].IsVoid() {
				break
			}
			return script.Void, script.FlowNext, script.Errorf(script.KindCall, in.Loc, "%s did not return a value", b.Consts[in.V].Str())

		// --- Iteration ---
		case OpInitTableLoop:
			t := s[in.B].Table()
			if t == nil {
				return script.Void, script.FlowNext, script.Errorf(script.KindInvalidIterator, in.Loc, "cannot iterate over %s", s[in.B].Tag())
			}
			fr.iters.Tables[in.V].Begin(t)

		case OpNextTableIter:
			k, v, ok := fr.iters.Tables[in.V].Next()
			if !ok {
				pc = int(in.C)
				break
			}
			b.set(fr, in.A, k)
			if in.B >= 0 {
				b.set(fr, in.B, v)
			}

		case OpEndTableLoop:
			fr.iters.Tables[in.V].Clear()

		case OpInitVectorLoop:
			vec := s[in.B].Vector()
			if vec == nil {
				return script.Void, script.FlowNext, script.Errorf(script.KindInvalidIterator, in.Loc, "cannot iterate over %s", s[in.B].Tag())
			}
			fr.iters.Steps[in.V].Begin(vec.Len())

		case OpNextVectorIter:
			i, e, ok := fr.iters.Steps[in.V].Next(s[in.B].Vector())
			if !ok {
				pc = int(in.C)
				break
			}
			s[in.A] = script.MakeCount(i)
			if len(in.Aux) > 0 {
				b.set(fr, in.Aux[0], e)
			}

		case OpEndVectorLoop:
			fr.iters.Steps[in.V].Clear()

		// --- Calls ---
		case OpCall:
			r, err := b.Funcs[in.V].Call(f.Env, b.args(fr, in.Aux))
			if err != nil {
				return script.Void, script.FlowNext, err
			}
			if in.A >= 0 {
				b.set(fr, in.A, r)
			}

		case OpCallIndirect:
			r, err := script.CallValue(f.Env, s[in.B], b.args(fr, in.Aux), in.Loc)
			if err != nil {
				return script.Void, script.FlowNext, err
			}
			if in.A >= 0 {
				b.set(fr, in.A, r)
			}

		case OpCallBuiltin:
			r, err := script.CallBuiltin(b.Builtins[in.V], b.args(fr, in.Aux), in.Loc)
			if err != nil {
				return script.Void, script.FlowNext, err
			}
			if in.A >= 0 {
				b.set(fr, in.A, r)
			}

		case OpPrint:
			if err := script.Print(f.Env.Out, b.args(fr, in.Aux)); err != nil {
				return script.Void, script.FlowNext, err
			}

		default:
			return script.Void, script.FlowNext, script.Errorf(script.KindCall, in.Loc, "zam: %s: bad opcode %s at %d", b.Name, in.Op, at)
		}

		if prof != nil {
			prof.exit(at, time.Since(t0))
		}
	}
	return script.Void, script.FlowNext, nil
}
