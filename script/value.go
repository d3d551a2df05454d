package script

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a tagged script value. The zero Value is void ("unset").
//
// Atomic values keep their payload in bits (bool, int, count, double) or
// str (string). Managed values carry an Object.
type Value struct {
	tag  TypeTag
	bits uint64
	str  string
	obj  Object
}

// Void is the unset value.
var Void = Value{}

// MakeBool creates a bool value.
func MakeBool(b bool) Value {
	if b {
		return Value{tag: TypeBool, bits: 1}
	}
	return Value{tag: TypeBool}
}

// MakeInt creates an int value.
func MakeInt(n int64) Value {
	return Value{tag: TypeInt, bits: uint64(n)}
}

// MakeCount creates a count (unsigned) value.
func MakeCount(n uint64) Value {
	return Value{tag: TypeCount, bits: n}
}

// MakeDouble creates a double value.
func MakeDouble(f float64) Value {
	return Value{tag: TypeDouble, bits: math.Float64bits(f)}
}

// MakeString creates a string value.
func MakeString(s string) Value {
	return Value{tag: TypeString, str: s}
}

// MakeTable wraps a table.
func MakeTable(t *Table) Value {
	return Value{tag: TypeTable, obj: t}
}

// MakeVector wraps a vector.
func MakeVector(v *Vector) Value {
	return Value{tag: TypeVector, obj: v}
}

// MakeFunc wraps a function value.
func MakeFunc(f *FuncVal) Value {
	return Value{tag: TypeFunc, obj: f}
}

// Tag returns the dynamic type tag.
func (v Value) Tag() TypeTag { return v.tag }

// IsVoid reports whether v is unset.
func (v Value) IsVoid() bool { return v.tag == TypeVoid }

// Object returns the managed object held by v, or nil.
func (v Value) Object() Object { return v.obj }

// Bool returns the bool payload.
func (v Value) Bool() bool { return v.bits != 0 }

// Int returns the int payload.
func (v Value) Int() int64 { return int64(v.bits) }

// Count returns the count payload.
func (v Value) Count() uint64 { return v.bits }

// Double returns the double payload.
func (v Value) Double() float64 { return math.Float64frombits(v.bits) }

// Str returns the string payload.
func (v Value) Str() string { return v.str }

// Table returns the table payload, or nil.
func (v Value) Table() *Table {
	t, _ := v.obj.(*Table)
	return t
}

// Vector returns the vector payload, or nil.
func (v Value) Vector() *Vector {
	vec, _ := v.obj.(*Vector)
	return vec
}

// Func returns the function payload, or nil.
func (v Value) Func() *FuncVal {
	f, _ := v.obj.(*FuncVal)
	return f
}

// Type returns the dynamic type of v.
func (v Value) Type() *Type {
	if v.obj != nil {
		return v.obj.Type()
	}
	if v.tag == TypeTable || v.tag == TypeVector || v.tag == TypeFunc {
		return nil
	}
	return BaseType(v.tag)
}

// AsDouble converts any numeric value to float64.
func (v Value) AsDouble() float64 {
	switch v.tag {
	case TypeInt:
		return float64(v.Int())
	case TypeCount:
		return float64(v.Count())
	case TypeDouble:
		return v.Double()
	}
	return 0
}

// Coerce converts a numeric value to the numeric type t. Non-numeric values
// and identical tags are returned unchanged.
func Coerce(v Value, t *Type) Value {
	if v.tag == t.Tag || !t.IsNumeric() {
		return v
	}
	switch t.Tag {
	case TypeInt:
		switch v.tag {
		case TypeCount:
			return MakeInt(int64(v.Count()))
		case TypeDouble:
			return MakeInt(int64(v.Double()))
		}
	case TypeCount:
		switch v.tag {
		case TypeInt:
			return MakeCount(uint64(v.Int()))
		case TypeDouble:
			return MakeCount(uint64(v.Double()))
		}
	case TypeDouble:
		return MakeDouble(v.AsDouble())
	}
	return v
}

// ZeroValue returns the value a freshly declared variable of type t holds.
// Containers are created empty; any and func start unset.
func ZeroValue(t *Type) Value {
	switch t.Tag {
	case TypeBool:
		return MakeBool(false)
	case TypeInt:
		return MakeInt(0)
	case TypeCount:
		return MakeCount(0)
	case TypeDouble:
		return MakeDouble(0)
	case TypeString:
		return MakeString("")
	case TypeTable:
		return MakeTable(NewTable(t))
	case TypeVector:
		return MakeVector(NewVector(t))
	}
	return Void
}

// Equal reports value equality. Atomic values compare by payload after
// numeric promotion; managed values compare by identity.
func Equal(a, b Value) bool {
	if isNumericTag(a.tag) && isNumericTag(b.tag) {
		if a.tag == TypeDouble || b.tag == TypeDouble {
			return a.AsDouble() == b.AsDouble()
		}
		return Compare(a, b) == 0
	}
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TypeVoid:
		return true
	case TypeString:
		return a.str == b.str
	case TypeTable, TypeVector, TypeFunc:
		return a.obj == b.obj
	}
	return a.bits == b.bits
}

// Compare orders two atomic values of compatible types, returning -1, 0
// or 1. Mixed numeric operands are compared after promotion.
func Compare(a, b Value) int {
	if a.tag == TypeString && b.tag == TypeString {
		return strings.Compare(a.str, b.str)
	}
	if a.tag == b.tag {
		switch a.tag {
		case TypeInt:
			return cmp3(a.Int() < b.Int(), a.Int() > b.Int())
		case TypeCount:
			return cmp3(a.Count() < b.Count(), a.Count() > b.Count())
		case TypeBool:
			return cmp3(!a.Bool() && b.Bool(), a.Bool() && !b.Bool())
		}
	}
	if (a.tag == TypeInt && b.tag == TypeCount) || (a.tag == TypeCount && b.tag == TypeInt) {
		x, y := Coerce(a, IntType).Int(), Coerce(b, IntType).Int()
		return cmp3(x < y, x > y)
	}
	x, y := a.AsDouble(), b.AsDouble()
	return cmp3(x < y, x > y)
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func isNumericTag(t TypeTag) bool {
	return t == TypeInt || t == TypeCount || t == TypeDouble
}

// String renders v the way print does.
func (v Value) String() string {
	switch v.tag {
	case TypeVoid:
		return "<uninitialized>"
	case TypeBool:
		if v.Bool() {
			return "T"
		}
		return "F"
	case TypeInt:
		return strconv.FormatInt(v.Int(), 10)
	case TypeCount:
		return strconv.FormatUint(v.Count(), 10)
	case TypeDouble:
		return FormatDouble(v.Double())
	case TypeString:
		return v.str
	}
	if v.obj == nil {
		return "<nil>"
	}
	return v.obj.String()
}

// FormatDouble renders a double with at least one fractional digit.
func FormatDouble(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// GoString is used by %#v in test failures.
func (v Value) GoString() string {
	return fmt.Sprintf("%s(%s)", v.tag, v.String())
}
