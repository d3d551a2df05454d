package script

import (
	"testing"
)

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{MakeBool(true), "T"},
		{MakeBool(false), "F"},
		{MakeInt(-3), "-3"},
		{MakeCount(7), "7"},
		{MakeDouble(2), "2.0"},
		{MakeDouble(0.25), "0.25"},
		{MakeString("hi"), "hi"},
		{Void, "<uninitialized>"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("%#v.String() = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestCoerceAndCompare(t *testing.T) {
	if v := Coerce(MakeCount(3), DoubleType); v.Tag() != TypeDouble || v.Double() != 3 {
		t.Errorf("Coerce(count 3, double) = %#v", v)
	}
	if v := Coerce(MakeInt(-2), IntType); v.Int() != -2 {
		t.Errorf("Coerce to same type changed value: %#v", v)
	}
	if !Equal(MakeCount(2), MakeDouble(2)) {
		t.Errorf("count 2 != double 2")
	}
	if Equal(MakeString("2"), MakeCount(2)) {
		t.Errorf("string equals count")
	}
	if Compare(MakeInt(-1), MakeCount(1)) != -1 {
		t.Errorf("Compare(-1, 1) != -1")
	}
	if Compare(MakeString("b"), MakeString("a")) != 1 {
		t.Errorf(`Compare("b", "a") != 1`)
	}
}

func TestTableOrderAndCompaction(t *testing.T) {
	tbl := NewTable(TableOf(CountType, StringType))
	for i := uint64(0); i < 40; i++ {
		tbl.Assign(MakeCount(i), MakeString("v"))
	}
	for i := uint64(0); i < 30; i++ {
		tbl.Delete(MakeCount(i))
	}
	tbl.Assign(MakeCount(35), MakeString("updated"))
	tbl.Assign(MakeInt(100), MakeString("new"))

	keys := tbl.Keys()
	if len(keys) != 11 || tbl.Len() != 11 {
		t.Fatalf("got %d keys, Len %d", len(keys), tbl.Len())
	}
	for i, k := range keys[:10] {
		if k.Count() != uint64(30+i) {
			t.Errorf("key %d = %s, want %d", i, k, 30+i)
		}
	}
	if last := keys[10]; last.Tag() != TypeCount || last.Count() != 100 {
		t.Errorf("int key not coerced to count: %#v", last)
	}
	if v, _ := tbl.Lookup(MakeCount(35)); v.Str() != "updated" {
		t.Errorf("update moved or lost value: %s", v)
	}
	if tbl.Has(MakeCount(3)) {
		t.Errorf("deleted key still present")
	}
}

func TestVectorAssignGrows(t *testing.T) {
	vec := NewVector(VectorOf(IntType))
	vec.Assign(3, MakeCount(9))
	if vec.Len() != 4 {
		t.Fatalf("Len = %d, want 4", vec.Len())
	}
	if got := vec.String(); got != "[0, 0, 0, 9]" {
		t.Errorf("vector = %s", got)
	}
	if _, ok := vec.At(4); ok {
		t.Errorf("At(4) succeeded")
	}
}

func TestRefCountDoubleReleasePanics(t *testing.T) {
	tbl := NewTable(TableOf(CountType, CountType))
	v := MakeTable(tbl)
	Ref(v)
	Unref(v)
	defer func() {
		if recover() == nil {
			t.Errorf("second Unref did not panic")
		}
	}()
	Unref(v)
}

func TestCheckAny(t *testing.T) {
	loc := &Location{File: "x.zeek", FirstLine: 4, LastLine: 4}
	if _, err := CheckAny(MakeCount(1), CountType, loc); err != nil {
		t.Errorf("count as count: %v", err)
	}
	_, err := CheckAny(MakeCount(1), IntType, loc)
	if err == nil {
		t.Fatalf("count as int succeeded")
	}
	re, ok := err.(*RuntimeError)
	if !ok || re.Kind != KindTypeMismatch {
		t.Fatalf("unexpected error %#v", err)
	}
	if re.Error() != "x.zeek, line 4: cannot use any holding count as int" {
		t.Errorf("message = %q", re.Error())
	}
	tv := MakeTable(NewTable(TableOf(StringType, CountType)))
	if _, err := CheckAny(tv, TableOf(StringType, CountType), loc); err != nil {
		t.Errorf("table as same table type: %v", err)
	}
	if _, err := CheckAny(tv, TableOf(StringType, IntType), loc); err == nil {
		t.Errorf("table yield mismatch accepted")
	}
}

func TestArithErrors(t *testing.T) {
	if _, err := Arith(OpDiv, MakeInt(1), MakeInt(0), nil); err == nil {
		t.Errorf("int division by zero succeeded")
	}
	if _, err := Arith(OpMod, MakeDouble(1), MakeDouble(0), nil); err == nil {
		t.Errorf("double modulo by zero succeeded")
	}
	if v, _ := Arith(OpSub, MakeCount(0), MakeCount(1), nil); v.Count() != ^uint64(0) {
		t.Errorf("count subtraction does not wrap: %s", v)
	}
	if v, _ := Arith(OpAdd, MakeString("a"), MakeString("b"), nil); v.Str() != "ab" {
		t.Errorf("string concatenation = %s", v)
	}
}
