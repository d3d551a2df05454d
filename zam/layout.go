package zam

import (
	"sort"

	"github.com/reyesj2/zeek/script"
)

// interval is the instruction range over which a virtual register must
// keep its value.
type interval struct {
	reg        int32
	start, end int
	seen       bool
}

// regRefs calls def and use for every register operand of in.
func regRefs(in *Inst, def, use func(r int32)) {
	info := in.Op.Info()
	field := func(kind operand, r int32, write bool) {
		if kind != opSlot && kind != opSlotOpt {
			return
		}
		if r < 0 {
			return
		}
		if write {
			def(r)
		} else {
			use(r)
		}
	}
	switch in.Op {
	case OpIndexAssign, OpDelete:
		field(info.A, in.A, false)
	default:
		// uses are read before the result is written
		field(info.B, in.B, in.Op == OpNextTableIter)
		field(info.C, in.C, false)
		if in.Op == OpNextVectorIter {
			for _, r := range in.Aux {
				def(r)
			}
		} else if info.Aux {
			for _, r := range in.Aux {
				use(r)
			}
		}
		field(info.A, in.A, true)
		return
	}
	field(info.B, in.B, false)
	field(info.C, in.C, false)
}

// intervals computes live ranges over the virtual-register program.
//
// A variable whose first reference is a read, or a write inside a branch
// or loop, may be read before any write on some path, so its range
// starts at entry. Every range that overlaps a loop is widened to the
// whole loop.
func (c *compiler) intervals() []interval {
	ivs := make([]interval, len(c.vregs))
	for i := range ivs {
		ivs[i].reg = int32(i)
	}
	for pc := range c.insts {
		in := &c.insts[pc]
		touch := func(r int32, write bool) {
			iv := &ivs[r]
			if !iv.seen {
				iv.seen = true
				iv.start = pc
				v := c.vregs[r]
				if v.id != nil && (!write || c.cond[pc]) {
					iv.start = 0
				}
			}
			iv.end = pc
		}
		regRefs(in, func(r int32) { touch(r, true) }, func(r int32) { touch(r, false) })
	}
	for i, v := range c.vregs {
		if v.param && ivs[i].seen {
			ivs[i].start = 0
		}
	}

	type loop struct{ top, bottom int }
	var loops []loop
	for pc, in := range c.insts {
		if in.Op.IsJump() && int(in.C) <= pc {
			loops = append(loops, loop{int(in.C), pc})
		}
	}
	for changed := true; changed; {
		changed = false
		for _, l := range loops {
			for i := range ivs {
				iv := &ivs[i]
				if !iv.seen || iv.end < l.top || iv.start > l.bottom {
					continue
				}
				if iv.start > l.top {
					iv.start, changed = l.top, true
				}
				if iv.end < l.bottom {
					iv.end, changed = l.bottom, true
				}
			}
		}
	}
	return ivs
}

// layout assigns frame slots to virtual registers by linear scan, keeping
// managed and unmanaged values in disjoint slots, and rewrites the
// program's operands.
func (c *compiler) layout(b *Body) {
	ivs := c.intervals()
	order := make([]int, 0, len(ivs))
	for i := range ivs {
		if ivs[i].seen {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return ivs[order[i]].start < ivs[order[j]].start })

	slotOf := make([]int32, len(c.vregs))
	for i := range slotOf {
		slotOf[i] = -1
	}
	var managed []bool
	free := map[bool][]int32{}
	var active []int
	for _, r := range order {
		iv := ivs[r]
		kept := active[:0]
		for _, a := range active {
			if ivs[a].end < iv.start {
				m := managed[slotOf[a]]
				free[m] = append(free[m], slotOf[a])
				continue
			}
			kept = append(kept, a)
		}
		active = kept

		m := c.vregs[r].typ.IsManaged()
		if fl := free[m]; len(fl) > 0 && !c.opts.NoFrameSharing {
			slotOf[r] = fl[len(fl)-1]
			free[m] = fl[:len(fl)-1]
		} else {
			slotOf[r] = int32(len(managed))
			managed = append(managed, m)
		}
		active = append(active, r)
	}

	remap := func(r int32) int32 {
		if r < 0 {
			return r
		}
		return slotOf[r]
	}
	insts := make([]Inst, len(c.insts))
	for pc, in := range c.insts {
		info := in.Op.Info()
		isSlot := func(k operand) bool { return k == opSlot || k == opSlotOpt }
		if isSlot(info.A) {
			in.A = remap(in.A)
		}
		if isSlot(info.B) {
			in.B = remap(in.B)
		}
		if isSlot(info.C) {
			in.C = remap(in.C)
		}
		if info.Aux && len(in.Aux) > 0 {
			aux := make([]int32, len(in.Aux))
			for i, r := range in.Aux {
				aux[i] = remap(r)
			}
			in.Aux = aux
		}
		insts[pc] = in
	}

	b.Insts = insts
	b.FrameSize = len(managed)
	b.Managed = managed
	for s, m := range managed {
		if m {
			b.ManagedSlots = append(b.ManagedSlots, int32(s))
		}
	}
	b.Remap = make(FrameReMap, b.FrameSize)
	for _, r := range order {
		v := c.vregs[r]
		s := slotOf[r]
		b.Remap[s].Managed = managed[s]
		if v.id == nil {
			continue
		}
		b.Remap[s].IDs = append(b.Remap[s].IDs, v.id)
		b.Remap[s].Starts = append(b.Remap[s].Starts, ivs[r].start)
	}
	for _, p := range c.body.Scope.Params {
		r, ok := c.varReg[p]
		if !ok || slotOf[r] < 0 {
			continue
		}
		b.Params = append(b.Params, ParamBinding{Offset: p.Offset, Slot: slotOf[r]})
	}
}

// Denizens returns the variables that share slot s.
func (m FrameReMap) Denizens(s int) []*script.ID {
	if s < 0 || s >= len(m) {
		return nil
	}
	return m[s].IDs
}
