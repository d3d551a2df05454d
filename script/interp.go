package script

import "fmt"

// ExecStmt interprets s in frame f.
func ExecStmt(f *Frame, s Stmt) (Value, Flow, error) {
	switch s := s.(type) {
	case *BlockStmt:
		for _, st := range s.Stmts {
			v, flow, err := ExecStmt(f, st)
			if err != nil || flow != FlowNext {
				return v, flow, err
			}
		}
		return Void, FlowNext, nil

	case *ExprStmt:
		_, err := Eval(f, s.X)
		return Void, FlowNext, err

	case *AssignStmt:
		v, err := Eval(f, s.Value)
		if err != nil {
			return Void, FlowNext, err
		}
		return Void, FlowNext, assign(f, s.Target, v)

	case *LocalStmt:
		v := ZeroValue(s.ID.Type)
		if s.Init != nil {
			var err error
			if v, err = Eval(f, s.Init); err != nil {
				return Void, FlowNext, err
			}
		}
		f.Slots[s.ID.Offset] = Coerce(v, s.ID.Type)
		return Void, FlowNext, nil

	case *PrintStmt:
		vals, err := evalList(f, s.Args)
		if err != nil {
			return Void, FlowNext, err
		}
		return Void, FlowNext, Print(f.Env.Out, vals)

	case *IfStmt:
		c, err := Eval(f, s.Cond)
		if err != nil {
			return Void, FlowNext, err
		}
		if c.Bool() {
			return ExecStmt(f, s.Then)
		}
		if s.Else != nil {
			return ExecStmt(f, s.Else)
		}
		return Void, FlowNext, nil

	case *WhileStmt:
		for {
			c, err := Eval(f, s.Cond)
			if err != nil {
				return Void, FlowNext, err
			}
			if !c.Bool() {
				return Void, FlowNext, nil
			}
			v, flow, err := ExecStmt(f, s.Body)
			if done, rv, rflow, rerr := loopExit(v, flow, err); done {
				return rv, rflow, rerr
			}
		}

	case *ForStmt:
		return execFor(f, s)

	case *SwitchStmt:
		return execSwitch(f, s)

	case *BreakStmt:
		return Void, FlowBreak, nil
	case *NextStmt:
		return Void, FlowLoop, nil
	case *FallthroughStmt:
		return Void, FlowFallthrough, nil

	case *ReturnStmt:
		if s.X == nil {
			return Void, FlowReturn, nil
		}
		v, err := Eval(f, s.X)
		return v, FlowReturn, err

	case *DeleteStmt:
		x, err := Eval(f, s.X)
		if err != nil {
			return Void, FlowNext, err
		}
		idx, err := Eval(f, s.Index)
		if err != nil {
			return Void, FlowNext, err
		}
		return Void, FlowNext, DeleteIndex(x, idx, s.L)

	case *NullStmt:
		return Void, FlowNext, nil

	case CompiledStmt:
		return s.Exec(f)
	}
	panic(fmt.Sprintf("ExecStmt: unexpected %T", s))
}

// loopExit maps a loop body's outcome to the loop's. done reports that the
// loop must stop and return the given results.
func loopExit(v Value, flow Flow, err error) (done bool, rv Value, rflow Flow, rerr error) {
	if err != nil {
		return true, Void, FlowNext, err
	}
	switch flow {
	case FlowBreak:
		return true, Void, FlowNext, nil
	case FlowReturn:
		return true, v, FlowReturn, nil
	}
	return false, Void, FlowNext, nil
}

func execFor(f *Frame, s *ForStmt) (Value, Flow, error) {
	over, err := Eval(f, s.Over)
	if err != nil {
		return Void, FlowNext, err
	}
	switch over.tag {
	case TypeTable:
		t := over.Table()
		for _, k := range t.Keys() {
			val, ok := t.Lookup(k)
			if !ok {
				continue
			}
			f.Slots[s.Key.Offset] = k
			if s.Value != nil {
				f.Slots[s.Value.Offset] = val
			}
			v, flow, err := ExecStmt(f, s.Body)
			if done, rv, rflow, rerr := loopExit(v, flow, err); done {
				return rv, rflow, rerr
			}
		}
	case TypeVector:
		vec := over.Vector()
		n := uint64(vec.Len())
		for i := uint64(0); i < n; i++ {
			elem, ok := vec.At(i)
			if !ok {
				break
			}
			f.Slots[s.Key.Offset] = MakeCount(i)
			if s.Value != nil {
				f.Slots[s.Value.Offset] = elem
			}
			v, flow, err := ExecStmt(f, s.Body)
			if done, rv, rflow, rerr := loopExit(v, flow, err); done {
				return rv, rflow, rerr
			}
		}
	default:
		return Void, FlowNext, Errorf(KindInvalidIterator, s.L, "cannot iterate over %s", over.tag)
	}
	return Void, FlowNext, nil
}

// SwitchCase returns the index of the case whose label equals v, or the
// default case, or -1.
func SwitchCase(s *SwitchStmt, v Value) int {
	for i, c := range s.Cases {
		for _, l := range c.Labels {
			if Equal(l.(*ConstExpr).Val, v) {
				return i
			}
		}
	}
	return s.Default()
}

func execSwitch(f *Frame, s *SwitchStmt) (Value, Flow, error) {
	x, err := Eval(f, s.X)
	if err != nil {
		return Void, FlowNext, err
	}
	for i := SwitchCase(s, x); i >= 0 && i < len(s.Cases); i++ {
		v, flow, err := ExecStmt(f, s.Cases[i].Body)
		if err != nil {
			return Void, FlowNext, err
		}
		switch flow {
		case FlowFallthrough:
			continue
		case FlowBreak, FlowNext:
			return Void, FlowNext, nil
		default:
			return v, flow, nil
		}
	}
	return Void, FlowNext, nil
}

func assign(f *Frame, target Expr, v Value) error {
	switch t := target.(type) {
	case *NameExpr:
		return StoreID(f, t.ID, v)
	case *IndexExpr:
		x, err := Eval(f, t.X)
		if err != nil {
			return err
		}
		idx, err := Eval(f, t.Index)
		if err != nil {
			return err
		}
		return AssignIndex(x, idx, v, t.L)
	}
	panic(fmt.Sprintf("assign: unexpected target %T", target))
}

// StoreID writes v to the storage named by id.
func StoreID(f *Frame, id *ID, v Value) error {
	v = Coerce(v, id.Type)
	switch id.Kind {
	case IDLocal, IDParam:
		f.Slots[id.Offset] = v
	case IDGlobal:
		id.Global.Value = v
	case IDCapture:
		f.Captures[id.Offset] = v
	default:
		panic(fmt.Sprintf("StoreID: cannot assign to %s", id.Name))
	}
	return nil
}

// LoadID reads the storage named by id.
func LoadID(f *Frame, id *ID) Value {
	switch id.Kind {
	case IDLocal, IDParam:
		return f.Slots[id.Offset]
	case IDGlobal:
		return id.Global.Value
	case IDCapture:
		return f.Captures[id.Offset]
	case IDFunc:
		return MakeFunc(NewFuncVal(id.Func, nil))
	}
	panic(fmt.Sprintf("LoadID: unexpected kind %d", id.Kind))
}

func evalList(f *Frame, es []Expr) ([]Value, error) {
	vals := make([]Value, len(es))
	for i, e := range es {
		v, err := Eval(f, e)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// Eval interprets e in frame f.
func Eval(f *Frame, e Expr) (Value, error) {
	switch e := e.(type) {
	case *ConstExpr:
		return e.Val, nil

	case *NameExpr:
		return LoadID(f, e.ID), nil

	case *BinaryExpr:
		x, err := Eval(f, e.X)
		if err != nil {
			return Void, err
		}
		switch {
		case e.Op == OpAnd:
			if !x.Bool() {
				return x, nil
			}
			return Eval(f, e.Y)
		case e.Op == OpOr:
			if x.Bool() {
				return x, nil
			}
			return Eval(f, e.Y)
		}
		y, err := Eval(f, e.Y)
		if err != nil {
			return Void, err
		}
		if e.Op.IsComparison() {
			return MakeBool(CompareOp(e.Op, x, y)), nil
		}
		return Arith(e.Op, x, y, e.L)

	case *UnaryExpr:
		x, err := Eval(f, e.X)
		if err != nil {
			return Void, err
		}
		if e.Op == OpNot {
			return MakeBool(!x.Bool()), nil
		}
		return Negate(x), nil

	case *CondExpr:
		c, err := Eval(f, e.Cond)
		if err != nil {
			return Void, err
		}
		if c.Bool() {
			return Eval(f, e.Then)
		}
		return Eval(f, e.Else)

	case *CallExpr:
		args, err := evalList(f, e.Args)
		if err != nil {
			return Void, err
		}
		if n, ok := e.Fn.(*NameExpr); ok && n.ID.Kind == IDFunc {
			return n.ID.Func.Call(f.Env, args)
		}
		fn, err := Eval(f, e.Fn)
		if err != nil {
			return Void, err
		}
		return CallValue(f.Env, fn, args, e.L)

	case *BuiltinExpr:
		args, err := evalList(f, e.Args)
		if err != nil {
			return Void, err
		}
		return CallBuiltin(e.Builtin, args, e.L)

	case *IndexExpr:
		x, err := Eval(f, e.X)
		if err != nil {
			return Void, err
		}
		idx, err := Eval(f, e.Index)
		if err != nil {
			return Void, err
		}
		return Index(x, idx, e.L)

	case *InExpr:
		k, err := Eval(f, e.Key)
		if err != nil {
			return Void, err
		}
		x, err := Eval(f, e.X)
		if err != nil {
			return Void, err
		}
		ok, err := Contains(k, x, e.L)
		return MakeBool(ok), err

	case *SizeExpr:
		x, err := Eval(f, e.X)
		if err != nil {
			return Void, err
		}
		return Size(x, e.L)

	case *CastExpr:
		x, err := Eval(f, e.X)
		if err != nil {
			return Void, err
		}
		return Cast(x, e.X.Type(), e.T, e.L)

	case *CoerceExpr:
		x, err := Eval(f, e.X)
		if err != nil {
			return Void, err
		}
		return Coerce(x, e.T), nil

	case *TableCtor:
		t := NewTable(e.T)
		for i := range e.Keys {
			k, err := Eval(f, e.Keys[i])
			if err != nil {
				return Void, err
			}
			v, err := Eval(f, e.Vals[i])
			if err != nil {
				return Void, err
			}
			t.Assign(k, v)
		}
		return MakeTable(t), nil

	case *VectorCtor:
		vec := NewVector(e.T)
		for _, el := range e.Elems {
			v, err := Eval(f, el)
			if err != nil {
				return Void, err
			}
			vec.Append(v)
		}
		return MakeVector(vec), nil

	case *LambdaExpr:
		caps := make([]Value, len(e.Captures))
		for i, id := range e.Captures {
			caps[i] = LoadID(f, id)
		}
		return MakeFunc(NewFuncVal(e.Func, caps)), nil

	case *InlineExpr:
		for i, a := range e.Args {
			v, err := Eval(f, a)
			if err != nil {
				return Void, err
			}
			f.Slots[e.Params[i].Offset] = Coerce(v, e.Params[i].Type)
		}
		for _, id := range e.Locals {
			f.Slots[id.Offset] = Void
		}
		v, flow, err := ExecStmt(f, e.Body)
		if err != nil {
			return Void, err
		}
		if e.T.Tag == TypeVoid {
			return Void, nil
		}
		if flow != FlowReturn || v.IsVoid() {
			return Void, Errorf(KindCall, e.L, "%s did not return a value", e.Callee)
		}
		return Coerce(v, e.T), nil
	}
	panic(fmt.Sprintf("Eval: unexpected %T", e))
}
