package script

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// The helpers in this file define operator semantics once. The tree
// walker, the ZAM VM and generated native bodies all call them.

// Arith applies an arithmetic operator to two operands of the same type.
func Arith(op BinOp, a, b Value, loc *Location) (Value, error) {
	switch a.tag {
	case TypeInt:
		x, y := a.Int(), b.Int()
		switch op {
		case OpAdd:
			return MakeInt(x + y), nil
		case OpSub:
			return MakeInt(x - y), nil
		case OpMul:
			return MakeInt(x * y), nil
		case OpDiv, OpMod:
			if y == 0 {
				return Void, Errorf(KindDivideByZero, loc, "division by zero")
			}
			if op == OpDiv {
				return MakeInt(x / y), nil
			}
			return MakeInt(x % y), nil
		}
	case TypeCount:
		x, y := a.Count(), b.Count()
		switch op {
		case OpAdd:
			return MakeCount(x + y), nil
		case OpSub:
			return MakeCount(x - y), nil
		case OpMul:
			return MakeCount(x * y), nil
		case OpDiv, OpMod:
			if y == 0 {
				return Void, Errorf(KindDivideByZero, loc, "division by zero")
			}
			if op == OpDiv {
				return MakeCount(x / y), nil
			}
			return MakeCount(x % y), nil
		}
	case TypeDouble:
		x, y := a.Double(), b.Double()
		switch op {
		case OpAdd:
			return MakeDouble(x + y), nil
		case OpSub:
			return MakeDouble(x - y), nil
		case OpMul:
			return MakeDouble(x * y), nil
		case OpDiv, OpMod:
			if y == 0 {
				return Void, Errorf(KindDivideByZero, loc, "division by zero")
			}
			if op == OpDiv {
				return MakeDouble(x / y), nil
			}
			return MakeDouble(math.Mod(x, y)), nil
		}
	case TypeString:
		if op == OpAdd {
			return MakeString(a.str + b.str), nil
		}
	}
	return Void, Errorf(KindTypeMismatch, loc, "operator %s not defined for %s", op, a.tag)
}

// CompareOp evaluates a comparison operator.
func CompareOp(op BinOp, a, b Value) bool {
	switch op {
	case OpEq:
		return Equal(a, b)
	case OpNe:
		return !Equal(a, b)
	case OpLt:
		return Compare(a, b) < 0
	case OpLe:
		return Compare(a, b) <= 0
	case OpGt:
		return Compare(a, b) > 0
	case OpGe:
		return Compare(a, b) >= 0
	}
	panic(fmt.Sprintf("CompareOp: %s is not a comparison", op))
}

// Negate implements unary minus. Negating a count yields an int.
func Negate(v Value) Value {
	switch v.tag {
	case TypeInt:
		return MakeInt(-v.Int())
	case TypeCount:
		return MakeInt(-int64(v.Count()))
	case TypeDouble:
		return MakeDouble(-v.Double())
	}
	return v
}

// Size implements |x|.
func Size(v Value, loc *Location) (Value, error) {
	switch v.tag {
	case TypeTable:
		return MakeCount(uint64(v.Table().Len())), nil
	case TypeVector:
		return MakeCount(uint64(v.Vector().Len())), nil
	case TypeString:
		return MakeCount(uint64(len(v.str))), nil
	case TypeInt:
		n := v.Int()
		if n < 0 {
			n = -n
		}
		return MakeCount(uint64(n)), nil
	case TypeCount:
		return v, nil
	case TypeDouble:
		return MakeDouble(math.Abs(v.Double())), nil
	}
	return Void, Errorf(KindTypeMismatch, loc, "size of %s is not defined", v.tag)
}

func vectorIndex(idx Value, loc *Location) (uint64, error) {
	switch idx.tag {
	case TypeCount:
		return idx.Count(), nil
	case TypeInt:
		if idx.Int() < 0 {
			return 0, Errorf(KindIndex, loc, "negative vector index %d", idx.Int())
		}
		return uint64(idx.Int()), nil
	}
	return 0, Errorf(KindTypeMismatch, loc, "vector index must be numeric, not %s", idx.tag)
}

// Index implements x[idx].
func Index(x, idx Value, loc *Location) (Value, error) {
	switch x.tag {
	case TypeTable:
		v, ok := x.Table().Lookup(idx)
		if !ok {
			return Void, Errorf(KindIndex, loc, "no such index (%s)", idx)
		}
		return v, nil
	case TypeVector:
		i, err := vectorIndex(idx, loc)
		if err != nil {
			return Void, err
		}
		v, ok := x.Vector().At(i)
		if !ok {
			return Void, Errorf(KindIndex, loc, "vector index %d out of range", i)
		}
		return v, nil
	}
	return Void, Errorf(KindTypeMismatch, loc, "cannot index %s", x.tag)
}

// AssignIndex implements x[idx] = v.
func AssignIndex(x, idx, v Value, loc *Location) error {
	switch x.tag {
	case TypeTable:
		x.Table().Assign(idx, v)
		return nil
	case TypeVector:
		i, err := vectorIndex(idx, loc)
		if err != nil {
			return err
		}
		x.Vector().Assign(i, v)
		return nil
	}
	return Errorf(KindTypeMismatch, loc, "cannot assign into %s", x.tag)
}

// DeleteIndex implements delete x[idx].
func DeleteIndex(x, idx Value, loc *Location) error {
	if x.tag != TypeTable {
		return Errorf(KindTypeMismatch, loc, "cannot delete from %s", x.tag)
	}
	x.Table().Delete(idx)
	return nil
}

// Contains implements key in x.
func Contains(key, x Value, loc *Location) (bool, error) {
	switch x.tag {
	case TypeTable:
		return x.Table().Has(key), nil
	case TypeVector:
		i, err := vectorIndex(key, loc)
		if err != nil {
			return false, err
		}
		return i < uint64(x.Vector().Len()), nil
	}
	return false, Errorf(KindTypeMismatch, loc, "'in' not defined for %s", x.tag)
}

// CheckAny unpacks a value held in an any against the static type want.
// A mismatch is an error; the value is never converted.
func CheckAny(v Value, want *Type, loc *Location) (Value, error) {
	if want.Tag == TypeAny {
		return v, nil
	}
	if v.IsVoid() {
		return Void, Errorf(KindTypeMismatch, loc, "uninitialized any used as %s", want)
	}
	if !CanHold(want, v.Type()) {
		return Void, Errorf(KindTypeMismatch, loc, "cannot use any holding %s as %s", describe(v), want)
	}
	return v, nil
}

func describe(v Value) string {
	if t := v.Type(); t != nil {
		return t.String()
	}
	return v.tag.String()
}

// Cast implements x as t for a value of static type from.
func Cast(v Value, from, to *Type, loc *Location) (Value, error) {
	if from.Tag == TypeAny {
		return CheckAny(v, to, loc)
	}
	if from.IsNumeric() && to.IsNumeric() {
		return Coerce(v, to), nil
	}
	return v, nil
}

// Print writes vals comma separated, newline terminated.
func Print(w io.Writer, vals []Value) error {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	_, err := io.WriteString(w, strings.Join(parts, ", ")+"\n")
	return err
}

// CallValue invokes a function value. Calling an unset value is an error.
func CallValue(env *Env, fn Value, args []Value, loc *Location) (Value, error) {
	fv := fn.Func()
	if fv == nil {
		return Void, Errorf(KindCall, loc, "call of uninitialized function value")
	}
	return fv.Call(env, args)
}
