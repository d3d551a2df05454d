package zam

import "github.com/reyesj2/zeek/script"

// TableIter is a resumable cursor over a table. It walks a snapshot of
// the keys taken at Begin, skipping keys deleted since.
type TableIter struct {
	table  *script.Table
	keys   []script.Value
	pos    int
	active bool
}

// Begin starts iterating t.
func (it *TableIter) Begin(t *script.Table) {
	it.table = t
	it.keys = t.Keys()
	it.pos = 0
	it.active = true
}

// Next returns the next live entry.
func (it *TableIter) Next() (key, val script.Value, ok bool) {
	for it.pos < len(it.keys) {
		k := it.keys[it.pos]
		it.pos++
		if v, live := it.table.Lookup(k); live {
			return k, v, true
		}
	}
	return script.Void, script.Void, false
}

// Active reports whether the cursor is between Begin and Clear.
func (it *TableIter) Active() bool { return it.active }

// Clear releases the snapshot.
func (it *TableIter) Clear() {
	*it = TableIter{}
}

// StepIter iterates indices 0..n-1 of a vector whose length is fixed at
// Begin. It needs no state beyond the counter.
type StepIter struct {
	i, n   uint64
	active bool
}

// Begin starts stepping over n elements.
func (it *StepIter) Begin(n int) {
	it.i, it.n, it.active = 0, uint64(n), true
}

// Next returns the next element of vec, stopping early if the vector
// shrank.
func (it *StepIter) Next(vec *script.Vector) (idx uint64, elem script.Value, ok bool) {
	if it.i >= it.n {
		return 0, script.Void, false
	}
	elem, ok = vec.At(it.i)
	if !ok {
		return 0, script.Void, false
	}
	idx = it.i
	it.i++
	return idx, elem, true
}

// Active reports whether the counter is in use.
func (it *StepIter) Active() bool { return it.active }

// Clear resets the counter.
func (it *StepIter) Clear() { *it = StepIter{} }

// IterPool is the iteration state of one frame, sized by the compiler to
// the body's maximum loop nesting.
type IterPool struct {
	Tables []TableIter
	Steps  []StepIter
}

// NewIterPool allocates a pool.
func NewIterPool(tables, steps int) *IterPool {
	return &IterPool{Tables: make([]TableIter, tables), Steps: make([]StepIter, steps)}
}

// Reset clears every cursor.
func (p *IterPool) Reset() {
	for i := range p.Tables {
		p.Tables[i].Clear()
	}
	for i := range p.Steps {
		p.Steps[i].Clear()
	}
}

// InUse reports whether any cursor is active.
func (p *IterPool) InUse() bool {
	for i := range p.Tables {
		if p.Tables[i].Active() {
			return true
		}
	}
	for i := range p.Steps {
		if p.Steps[i].Active() {
			return true
		}
	}
	return false
}
