package script

import (
	"fmt"
	"strings"
)

// Object is a managed, reference-counted value.
//
// Memory is owned by the Go runtime; the count tracks holds taken by
// compiled frames so that release discipline can be verified. A count
// that would drop below zero is a double release and panics.
type Object interface {
	Type() *Type
	Ref()
	Unref()
	RefCount() int32
	String() string
}

type refCounter struct {
	refs int32
}

func (r *refCounter) Ref() { r.refs++ }

func (r *refCounter) Unref() {
	r.refs--
	if r.refs < 0 {
		panic("script: managed object released more times than referenced")
	}
}

func (r *refCounter) RefCount() int32 { return r.refs }

// Ref takes a reference on v's object, if any.
func Ref(v Value) {
	if v.obj != nil {
		v.obj.Ref()
	}
}

// Unref drops a reference on v's object, if any.
func Unref(v Value) {
	if v.obj != nil {
		v.obj.Unref()
	}
}

// ---------------------------------------------------------------------------
// Table
// ---------------------------------------------------------------------------

type tableKey struct {
	tag  TypeTag
	bits uint64
	str  string
}

func keyOf(v Value) tableKey {
	return tableKey{tag: v.tag, bits: v.bits, str: v.str}
}

// Table is an insertion-ordered map from atomic keys to values. Ordered
// storage makes iteration deterministic across execution strategies.
type Table struct {
	refCounter
	typ   *Type
	index map[tableKey]int
	keys  []Value
	vals  []Value
	dead  int
}

// NewTable creates an empty table of type t.
func NewTable(t *Type) *Table {
	return &Table{typ: t, index: make(map[tableKey]int)}
}

func (t *Table) Type() *Type { return t.typ }

// Len returns the number of live entries.
func (t *Table) Len() int { return len(t.index) }

// Lookup returns the value stored under k.
func (t *Table) Lookup(k Value) (Value, bool) {
	i, ok := t.index[keyOf(Coerce(k, t.typ.Index))]
	if !ok {
		return Void, false
	}
	return t.vals[i], true
}

// Has reports whether k is present.
func (t *Table) Has(k Value) bool {
	_, ok := t.index[keyOf(Coerce(k, t.typ.Index))]
	return ok
}

// Assign stores v under k, keeping the original insertion position of an
// existing key.
func (t *Table) Assign(k, v Value) {
	k = Coerce(k, t.typ.Index)
	v = Coerce(v, t.typ.Yield)
	key := keyOf(k)
	if i, ok := t.index[key]; ok {
		t.vals[i] = v
		return
	}
	t.index[key] = len(t.keys)
	t.keys = append(t.keys, k)
	t.vals = append(t.vals, v)
}

// Delete removes k. Deleting a missing key is a no-op.
func (t *Table) Delete(k Value) {
	key := keyOf(Coerce(k, t.typ.Index))
	i, ok := t.index[key]
	if !ok {
		return
	}
	delete(t.index, key)
	t.keys[i] = Void
	t.vals[i] = Void
	t.dead++
	if t.dead > 16 && t.dead > len(t.keys)/2 {
		t.compact()
	}
}

func (t *Table) compact() {
	keys := make([]Value, 0, len(t.index))
	vals := make([]Value, 0, len(t.index))
	for i, k := range t.keys {
		if k.IsVoid() {
			continue
		}
		t.index[keyOf(k)] = len(keys)
		keys = append(keys, k)
		vals = append(vals, t.vals[i])
	}
	t.keys, t.vals, t.dead = keys, vals, 0
}

// Keys returns a snapshot of the live keys in insertion order. Iterators
// walk the snapshot, so the table may be modified during iteration.
func (t *Table) Keys() []Value {
	keys := make([]Value, 0, len(t.index))
	for _, k := range t.keys {
		if !k.IsVoid() {
			keys = append(keys, k)
		}
	}
	return keys
}

func (t *Table) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	first := true
	for i, k := range t.keys {
		if k.IsVoid() {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&sb, "[%s] = %s", k, t.vals[i])
	}
	sb.WriteString("}")
	return sb.String()
}

// ---------------------------------------------------------------------------
// Vector
// ---------------------------------------------------------------------------

// Vector is a growable sequence.
type Vector struct {
	refCounter
	typ   *Type
	elems []Value
}

// NewVector creates an empty vector of type t.
func NewVector(t *Type) *Vector {
	return &Vector{typ: t}
}

func (v *Vector) Type() *Type { return v.typ }

// Len returns the number of elements.
func (v *Vector) Len() int { return len(v.elems) }

// At returns element i.
func (v *Vector) At(i uint64) (Value, bool) {
	if i >= uint64(len(v.elems)) {
		return Void, false
	}
	return v.elems[i], true
}

// Assign stores x at i, growing the vector with zero values as needed.
func (v *Vector) Assign(i uint64, x Value) {
	for uint64(len(v.elems)) <= i {
		v.elems = append(v.elems, ZeroValue(v.typ.Yield))
	}
	v.elems[i] = Coerce(x, v.typ.Yield)
}

// Append adds x at the end.
func (v *Vector) Append(x Value) {
	v.elems = append(v.elems, Coerce(x, v.typ.Yield))
}

func (v *Vector) String() string {
	parts := make([]string, len(v.elems))
	for i, e := range v.elems {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ---------------------------------------------------------------------------
// FuncVal
// ---------------------------------------------------------------------------

// FuncVal is a first-class function: a Func plus the values captured when
// a lambda was evaluated.
type FuncVal struct {
	refCounter
	fn       *Func
	captures []Value
}

// NewFuncVal creates a function value. captures is retained, not copied.
func NewFuncVal(fn *Func, captures []Value) *FuncVal {
	return &FuncVal{fn: fn, captures: captures}
}

func (f *FuncVal) Type() *Type { return f.fn.Type }

// Func returns the underlying function.
func (f *FuncVal) Func() *Func { return f.fn }

// Captures returns the captured values in capture-list order.
func (f *FuncVal) Captures() []Value { return f.captures }

// SetCaptures replaces the captured values.
func (f *FuncVal) SetCaptures(vals []Value) { f.captures = vals }

func (f *FuncVal) String() string {
	return "function " + f.fn.Name
}
