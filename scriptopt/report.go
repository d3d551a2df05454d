package scriptopt

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/reyesj2/zeek/script/hash"
)

// Entry is the outcome for one body.
type Entry struct {
	Func     string
	File     string
	Body     int
	Priority int
	Hash     hash.Hash
	State    State
	Reason   string
}

// Report is the result of an analysis pass.
type Report struct {
	Entries []Entry
	// Recursive names the recursive functions when ReportRecursive is set.
	Recursive []string
	// Usage lists the issues found when UsageIssues is set.
	Usage []UsageIssue
	// Generated names the bodies written as native Go source.
	Generated []string
	// Stopped is set when the pass ended after the recursion report.
	Stopped bool
	// RunID identifies the run in the profile database, once saved.
	RunID string
}

func (r *Report) sort() {
	sort.SliceStable(r.Entries, func(i, j int) bool {
		a, b := r.Entries[i], r.Entries[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Func != b.Func {
			return a.Func < b.Func
		}
		return a.Body < b.Body
	})
}

// Lookup returns the entry for body i of the named function.
func (r *Report) Lookup(fn string, i int) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Func == fn && e.Body == i {
			return e, true
		}
	}
	return Entry{}, false
}

// State returns the state of the named function's first body.
func (r *Report) State(fn string) State {
	e, _ := r.Lookup(fn, 0)
	return e.State
}

// Count returns how many bodies ended in state s.
func (r *Report) Count(s State) int {
	n := 0
	for _, e := range r.Entries {
		if e.State == s {
			n++
		}
	}
	return n
}

// Compiled returns how many bodies run in a compiled form.
func (r *Report) Compiled() int {
	n := 0
	for _, e := range r.Entries {
		if e.State.Executable() {
			n++
		}
	}
	return n
}

// Uncompilable returns the bodies a backend skipped.
func (r *Report) Uncompilable() []Entry {
	var out []Entry
	for _, e := range r.Entries {
		if e.State == StateSkipped {
			out = append(out, e)
		}
	}
	return out
}

// Write prints one line per body followed by per-state totals.
func (r *Report) Write(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FUNCTION\tBODY\tFILE\tSTATE\tREASON")
	for _, e := range r.Entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", e.Func, e.Body, e.File, e.State, e.Reason)
	}
	fmt.Fprintln(tw)
	for s := StateUnanalyzed; s <= StateCompiledNative; s++ {
		if n := r.Count(s); n > 0 {
			fmt.Fprintf(tw, "%s\t%d\n", s, n)
		}
	}
	fmt.Fprintf(tw, "compiled\t%d of %d\n", r.Compiled(), len(r.Entries))
	for _, name := range r.Recursive {
		fmt.Fprintf(tw, "recursive\t%s\n", name)
	}
	for _, is := range r.Usage {
		fmt.Fprintf(tw, "usage\t%s\n", is)
	}
	return tw.Flush()
}
