// Package native holds bodies compiled ahead of time to Go, indexed by the
// content hash of the script body they replace.
package native

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/reyesj2/zeek/script"
	"github.com/reyesj2/zeek/script/hash"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("zeek.native")

// ErrRegistryConflict is returned when two different bodies claim one hash.
var ErrRegistryConflict = errors.New("native: conflicting registration")

// ErrUnresolved is returned when generated code names a function or global
// the bound resolver does not know.
var ErrUnresolved = errors.New("native: unresolved name")

// BodyFunc executes a native body against an interpreter frame whose
// parameters are already stored.
type BodyFunc func(f *script.Frame) (script.Value, script.Flow, error)

// CompiledScript is one registered native body.
type CompiledScript struct {
	Name   string
	Digest hash.Hash // digest of the generated code
	Body   BodyFunc
	Events []string // events the body's file registers handlers for
}

func (cs *CompiledScript) sameContent(o *CompiledScript) bool {
	return cs.Name == o.Name && cs.Digest == o.Digest && slices.Equal(cs.Events, o.Events)
}

// Resolver finds script-level names for generated code.
type Resolver interface {
	Func(name string) *script.Func
	Global(name string) *script.Global
}

// Registry is the process-scoped table of native bodies. Create one with
// NewRegistry at startup, inject it where bodies are registered or looked
// up, and call Finish at shutdown.
type Registry struct {
	mu sync.Mutex

	scripts    map[hash.Hash]*CompiledScript
	added      map[string][]hash.Hash
	standalone map[hash.Hash]func()
	funcs      map[hash.Hash]*script.Func
	funcHashes map[*script.Func]hash.Hash

	finalizers []func()
	finished   bool

	initHook       func()
	activationHook func()
	activated      bool

	resolver Resolver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		scripts:    make(map[hash.Hash]*CompiledScript),
		added:      make(map[string][]hash.Hash),
		standalone: make(map[hash.Hash]func()),
		funcs:      make(map[hash.Hash]*script.Func),
		funcHashes: make(map[*script.Func]hash.Hash),
	}
}

// Register associates cs with h. Registering identical content twice is a
// no-op; different content under the same hash fails with
// ErrRegistryConflict.
func (r *Registry) Register(h hash.Hash, cs *CompiledScript) error {
	if cs == nil || cs.Body == nil {
		return fmt.Errorf("native: register %s: nil body", h.Short())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.scripts[h]; ok {
		if old.sameContent(cs) {
			return nil
		}
		return fmt.Errorf("%w: %s registered as %s and %s", ErrRegistryConflict, h.Short(), old.Name, cs.Name)
	}
	r.scripts[h] = cs
	log.Debugf("registered %s as %s", h.Short(), cs.Name)
	return nil
}

// Lookup returns the body registered under h.
func (r *Registry) Lookup(h hash.Hash) (*CompiledScript, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.scripts[h]
	return cs, ok
}

// Len returns the number of registered bodies.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scripts)
}

// AddBody records that the body h belongs to a function declared in file.
// Standalone builds use this to attach bodies whose source was never
// parsed.
func (r *Registry) AddBody(file string, h hash.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.added[file], h) {
		r.added[file] = append(r.added[file], h)
	}
}

// AddedBodies returns the hashes recorded for file, in registration order.
func (r *Registry) AddedBodies(file string) []hash.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.added[file])
}

// RegisterStandalone records a callback that installs body h without
// script source.
func (r *Registry) RegisterStandalone(h hash.Hash, cb func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.standalone[h] = cb
}

// RegisterFunc makes fn reachable from capture encodings under h.
func (r *Registry) RegisterFunc(h hash.Hash, fn *script.Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[h] = fn
	r.funcHashes[fn] = h
}

func (r *Registry) funcByHash(h hash.Hash) (*script.Func, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.funcs[h]
	return fn, ok
}

func (r *Registry) hashOfFunc(fn *script.Func) (hash.Hash, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.funcHashes[fn]
	return h, ok
}

// OnFinish queues a callback for Finish.
func (r *Registry) OnFinish(cb func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalizers = append(r.finalizers, cb)
}

// SetInitHook sets the callback run by RunInitHook.
func (r *Registry) SetInitHook(cb func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initHook = cb
}

// SetActivationHook sets the callback run by Activate.
func (r *Registry) SetActivationHook(cb func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activationHook = cb
}

// RunInitHook runs the init hook, if any. Generated code uses it to
// register bodies before analysis starts.
func (r *Registry) RunInitHook() {
	r.mu.Lock()
	cb := r.initHook
	r.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Activate runs the activation hook and then every standalone callback in
// hash order. It runs once; later calls do nothing.
func (r *Registry) Activate() {
	r.mu.Lock()
	if r.activated {
		r.mu.Unlock()
		return
	}
	r.activated = true
	hook := r.activationHook
	keys := make([]hash.Hash, 0, len(r.standalone))
	for h := range r.standalone {
		keys = append(keys, h)
	}
	slices.SortFunc(keys, func(a, b hash.Hash) int { return slices.Compare(a[:], b[:]) })
	cbs := make([]func(), len(keys))
	for i, h := range keys {
		cbs[i] = r.standalone[h]
	}
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	for _, cb := range cbs {
		cb()
	}
	log.Infof("activated %d standalone bodies", len(cbs))
}

// Finish runs the queued finalizers in registration order. Each runs
// exactly once, even if Finish is called again or a finalizer queues more.
func (r *Registry) Finish() {
	for {
		r.mu.Lock()
		if len(r.finalizers) == 0 {
			r.finished = true
			r.mu.Unlock()
			return
		}
		cb := r.finalizers[0]
		r.finalizers = r.finalizers[1:]
		r.mu.Unlock()
		cb()
	}
}

// Bind sets the resolver used by Links.
func (r *Registry) Bind(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolver = res
}

// Associate replaces the body's statement with the native body registered
// under its content hash. It reports whether one was found.
func (r *Registry) Associate(fn *script.Func, body *script.Body) bool {
	switch body.Stmt.(type) {
	case *Stmt:
		return true
	case script.CompiledStmt:
		return false
	}
	return r.AssociateHash(fn, body, hash.HashBody(fn, body))
}

// AssociateHash is Associate for a body whose hash was taken earlier,
// typically before inlining rewrote its statements.
func (r *Registry) AssociateHash(fn *script.Func, body *script.Body, h hash.Hash) bool {
	switch body.Stmt.(type) {
	case *Stmt:
		return true
	case script.CompiledStmt:
		return false
	}
	cs, ok := r.Lookup(h)
	if !ok {
		return false
	}
	body.Stmt = NewStmt(cs, body.Loc)
	log.Debugf("%s: using native body %s", fn.Name, cs.Name)
	return true
}

// ---------------------------------------------------------------------------
// Links: lazily resolved names for generated code
// ---------------------------------------------------------------------------

// Links resolves the functions and globals a generated body refers to the
// first time the body runs.
type Links struct {
	r           *Registry
	funcNames   []string
	globalNames []string

	resolved bool
	funcs    []*script.Func
	globals  []*script.Global
}

// Links creates a link table for the given names.
func (r *Registry) Links(funcs, globals []string) *Links {
	return &Links{r: r, funcNames: funcs, globalNames: globals}
}

// Resolve looks every name up through the registry's resolver.
func (l *Links) Resolve() error {
	if l.resolved {
		return nil
	}
	l.r.mu.Lock()
	res := l.r.resolver
	l.r.mu.Unlock()
	if res == nil && (len(l.funcNames) > 0 || len(l.globalNames) > 0) {
		return fmt.Errorf("%w: no resolver bound", ErrUnresolved)
	}
	funcs := make([]*script.Func, len(l.funcNames))
	for i, name := range l.funcNames {
		if funcs[i] = res.Func(name); funcs[i] == nil {
			return fmt.Errorf("%w: function %s", ErrUnresolved, name)
		}
	}
	globals := make([]*script.Global, len(l.globalNames))
	for i, name := range l.globalNames {
		if globals[i] = res.Global(name); globals[i] == nil {
			return fmt.Errorf("%w: global %s", ErrUnresolved, name)
		}
	}
	l.funcs, l.globals, l.resolved = funcs, globals, true
	return nil
}

// Func returns resolved function i.
func (l *Links) Func(i int) *script.Func { return l.funcs[i] }

// Global returns resolved global i.
func (l *Links) Global(i int) *script.Global { return l.globals[i] }

// Finished reports whether Finish has drained the finalizers.
func (r *Registry) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// MustHash parses a hex digest emitted by the generator.
func MustHash(s string) hash.Hash {
	h, err := hash.Parse(s)
	if err != nil {
		panic(err)
	}
	return h
}

// InstallBody adds the native body registered under h to the named
// function, for builds whose script source was never parsed. Parameters
// are placed at the leading frame offsets, as the parser lays them out.
func (r *Registry) InstallBody(name string, h hash.Hash, frameSize, priority int) error {
	cs, ok := r.Lookup(h)
	if !ok {
		return fmt.Errorf("native: install %s: no body registered for %s", name, h.Short())
	}
	r.mu.Lock()
	res := r.resolver
	r.mu.Unlock()
	if res == nil {
		return fmt.Errorf("%w: no resolver bound", ErrUnresolved)
	}
	fn := res.Func(name)
	if fn == nil {
		return fmt.Errorf("%w: function %s", ErrUnresolved, name)
	}
	for _, b := range fn.Bodies {
		if s, ok := b.Stmt.(*Stmt); ok && s.Script == cs {
			return nil
		}
	}

	scope := &script.Scope{}
	for i, p := range fn.Type.Params {
		scope.Params = append(scope.Params, &script.ID{Name: p.Name, Type: p.Type, Kind: script.IDParam, Offset: i})
	}
	scope.FrameSize = max(frameSize, len(scope.Params))
	fn.AddBody(&script.Body{Stmt: NewStmt(cs, fn.Loc), Priority: priority, Scope: scope, Loc: fn.Loc})
	log.Debugf("installed standalone body %s into %s", cs.Name, name)
	return nil
}

// Installer returns a standalone callback running InstallBody. Failures are
// logged; the function keeps whatever bodies it already had.
func (r *Registry) Installer(name string, h hash.Hash, frameSize, priority int) func() {
	return func() {
		if err := r.InstallBody(name, h, frameSize, priority); err != nil {
			log.Warningf("%s", err)
		}
	}
}
