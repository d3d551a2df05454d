package scriptopt

import (
	"fmt"

	"github.com/reyesj2/zeek/script"
	"github.com/reyesj2/zeek/script/hash"
	"github.com/reyesj2/zeek/zam"
)

// State is where a body ended up after analysis.
type State uint8

const (
	StateUnanalyzed State = iota
	StateFilteredOut
	StateSkipped
	StateInterpreted
	StateCompiledZAM
	StateCompiledNative
)

var stateNames = [...]string{"unanalyzed", "filtered-out", "skipped", "interpreted", "compiled-zam", "compiled-native"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Executable reports whether the body runs in a compiled form.
func (s State) Executable() bool { return s == StateCompiledZAM || s == StateCompiledNative }

// FuncInfo tracks one body of one function through analysis.
type FuncInfo struct {
	Func     *script.Func
	Scope    *script.Scope
	Body     *script.Body
	Priority int
	// Index is the body's position in Func.Bodies when analysis began.
	Index int

	// Hash is the content hash of the body as parsed, before any
	// rewriting.
	Hash    hash.Hash
	Profile *Profile

	// Skip marks the body as not to be compiled; Reason says why.
	Skip   bool
	Reason string
	State  State

	// Program is the ZAM program, once compiled.
	Program *zam.Body
}

func newFuncInfo(fn *script.Func, i int) *FuncInfo {
	b := fn.Bodies[i]
	return &FuncInfo{Func: fn, Scope: b.Scope, Body: b, Priority: b.Priority, Index: i}
}

// Name labels the body in reports and profiles. Functions with several
// bodies get the body index appended.
func (fi *FuncInfo) Name() string {
	if len(fi.Func.Bodies) > 1 {
		return fmt.Sprintf("%s#%d", fi.Func.Name, fi.Index)
	}
	return fi.Func.Name
}

// SetBody replaces the statement the body executes.
func (fi *FuncInfo) SetBody(s script.Stmt) { fi.Body.Stmt = s }

// SetSkip marks the body as not compilable.
func (fi *FuncInfo) SetSkip(reason string) {
	fi.Skip = true
	fi.Reason = reason
}

func (fi *FuncInfo) isCompiled() bool {
	_, ok := fi.Body.Stmt.(script.CompiledStmt)
	return ok
}
