package zam

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"
)

// Profile holds execution statistics for one compiled body: how often and
// for how long each instruction ran, plus per-call totals.
type Profile struct {
	Name  string
	Insts []Inst

	counts []uint64
	nanos  []int64
	calls  uint64
	total  int64
}

func newProfile(b *Body) *Profile {
	return &Profile{
		Name:   b.Name,
		Insts:  b.Insts,
		counts: make([]uint64, len(b.Insts)),
		nanos:  make([]int64, len(b.Insts)),
	}
}

func (p *Profile) enter(pc int) { atomic.AddUint64(&p.counts[pc], 1) }

func (p *Profile) exit(pc int, d time.Duration) { atomic.AddInt64(&p.nanos[pc], int64(d)) }

func (p *Profile) recordCall(d time.Duration) {
	atomic.AddUint64(&p.calls, 1)
	atomic.AddInt64(&p.total, int64(d))
}

// Count returns how many times instruction pc was dispatched.
func (p *Profile) Count(pc int) uint64 { return atomic.LoadUint64(&p.counts[pc]) }

// Time returns the time spent dispatching instruction pc.
func (p *Profile) Time(pc int) time.Duration { return time.Duration(atomic.LoadInt64(&p.nanos[pc])) }

// Calls returns the number of body activations.
func (p *Profile) Calls() uint64 { return atomic.LoadUint64(&p.calls) }

// Total returns the time spent in the body across all calls.
func (p *Profile) Total() time.Duration { return time.Duration(atomic.LoadInt64(&p.total)) }

// OpStats is the aggregate of one opcode across bodies.
type OpStats struct {
	Op    Op
	Count uint64
	Time  time.Duration
}

// Profiler collects the profiles of every body compiled with profiling on.
type Profiler struct {
	profiles sync.Map // name -> *Profile
}

// NewProfiler creates an empty profiler.
func NewProfiler() *Profiler { return &Profiler{} }

// Attach starts profiling b. Profiling does not change what b computes.
func (pr *Profiler) Attach(b *Body) *Profile {
	p := newProfile(b)
	if old, loaded := pr.profiles.LoadOrStore(b.Name, p); loaded {
		p = old.(*Profile)
		if len(p.counts) != len(b.Insts) {
			p = newProfile(b)
			pr.profiles.Store(b.Name, p)
		}
	}
	b.prof = p
	return p
}

// Get returns the profile of the named body, or nil.
func (pr *Profiler) Get(name string) *Profile {
	if v, ok := pr.profiles.Load(name); ok {
		return v.(*Profile)
	}
	return nil
}

// Profiles returns every profile, sorted by name.
func (pr *Profiler) Profiles() []*Profile {
	var ps []*Profile
	pr.profiles.Range(func(_, v any) bool {
		ps = append(ps, v.(*Profile))
		return true
	})
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
	return ps
}

// ByOpcode aggregates instruction statistics per opcode, most executed
// first.
func (pr *Profiler) ByOpcode() []OpStats {
	agg := make(map[Op]*OpStats)
	for _, p := range pr.Profiles() {
		for pc, in := range p.Insts {
			st := agg[in.Op]
			if st == nil {
				st = &OpStats{Op: in.Op}
				agg[in.Op] = st
			}
			st.Count += p.Count(pc)
			st.Time += p.Time(pc)
		}
	}
	out := make([]OpStats, 0, len(agg))
	for _, st := range agg {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Op < out[j].Op
	})
	return out
}

// Report writes per-body and per-opcode summaries to w.
func (pr *Profiler) Report(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BODY\tCALLS\tTIME\tPER CALL")
	for _, p := range pr.Profiles() {
		per := time.Duration(0)
		if n := p.Calls(); n > 0 {
			per = p.Total() / time.Duration(n)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", p.Name, p.Calls(), p.Total(), per)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "OPCODE\tCOUNT\tTIME")
	for _, st := range pr.ByOpcode() {
		if st.Count == 0 {
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", st.Op, st.Count, st.Time)
	}
	return tw.Flush()
}

// ReportBody writes an annotated listing of one body.
func (p *Profile) ReportBody(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s: %d calls, %s\n", p.Name, p.Calls(), p.Total())
	for pc := range p.Insts {
		fmt.Fprintf(tw, "%d\t%d\t%s\tline %d\t%s\n", pc, p.Count(pc), p.Time(pc), p.Insts[pc].Line, p.Insts[pc].String())
	}
	return tw.Flush()
}
