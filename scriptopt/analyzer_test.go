package scriptopt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/reyesj2/zeek/native"
	"github.com/reyesj2/zeek/script"
	"github.com/reyesj2/zeek/script/hash"
	"github.com/reyesj2/zeek/store"
)

const closureSrc = `
function make_adder(n: count): function(x: count): count
	{
	return function[n](x: count): count { return x + n; };
	}

function twice(f: function(x: count): count, v: count): count
	{
	return f(f(v));
	}

function use_adder(a: count, b: count): count
	{
	local f = make_adder(a);
	return twice(f, b);
	}

function fib(n: count): count
	{
	if ( n < 2 )
		return n;
	return fib(n - 1) + fib(n - 2);
	}
`

func analyze(t *testing.T, src string, opts Options, reg *native.Registry) (*Analyzer, *Report, *scriptModule) {
	t.Helper()
	mod := parseModule(t, src)
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	a, err := NewAnalyzer(opts, reg)
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	rep, err := a.AnalyzeScripts(mod.Funcs())
	if err != nil {
		t.Fatalf("AnalyzeScripts: %v", err)
	}
	return a, rep, &scriptModule{t: t, env: script.NewEnv(io.Discard), funcs: mod.Func}
}

type scriptModule struct {
	t     *testing.T
	env   *script.Env
	funcs func(string) *script.Func
}

func (m *scriptModule) call(name string, args ...script.Value) string {
	m.t.Helper()
	v, err := m.funcs(name).Call(m.env, args)
	if err != nil {
		m.t.Fatalf("%s: %v", name, err)
	}
	return v.GoString()
}

func TestAnalyzeInactive(t *testing.T) {
	a, rep, _ := analyze(t, closureSrc, Options{}, nil)
	if n := rep.Count(StateUnanalyzed); n != len(rep.Entries) || n != 4 {
		t.Errorf("%d of %d bodies unanalyzed, want 4 of 4", n, len(rep.Entries))
	}
	if _, err := a.AnalyzeScripts(nil); !errors.Is(err, ErrAnalyzed) {
		t.Errorf("second AnalyzeScripts: %v, want ErrAnalyzed", err)
	}
	if a.NonRecursive(nil) {
		t.Errorf("NonRecursive without the inliner")
	}
}

func TestAnalyzeZAM(t *testing.T) {
	_, rep, m := analyze(t, closureSrc, Options{GenZAMCode: true}, nil)

	e, ok := rep.Lookup("make_adder", 0)
	if !ok || e.State != StateSkipped || !strings.Contains(e.Reason, "lambda") {
		t.Errorf("make_adder entry = %+v", e)
	}
	if len(rep.Uncompilable()) != 1 {
		t.Errorf("uncompilable = %v", rep.Uncompilable())
	}
	for _, name := range []string{"twice", "use_adder", "fib", "make_adder#lambda1"} {
		if got := rep.State(name); got != StateCompiledZAM {
			t.Errorf("%s: state %s, want compiled-zam", name, got)
		}
	}
	for _, e := range rep.Entries {
		if e.Hash.IsZero() {
			t.Errorf("%s has no hash", e.Func)
		}
	}
	if got := m.call("use_adder", script.MakeCount(5), script.MakeCount(1)); got != "count(11)" {
		t.Errorf("use_adder(5, 1) = %s", got)
	}
	if got := m.call("fib", script.MakeCount(15)); got != "count(610)" {
		t.Errorf("fib(15) = %s", got)
	}
}

func TestAnalyzeFilter(t *testing.T) {
	_, rep, _ := analyze(t, closureSrc, Options{GenZAMCode: true, OnlyFuncs: []string{"fib|twice"}}, nil)
	want := map[string]State{
		"fib":        StateCompiledZAM,
		"twice":      StateCompiledZAM,
		"make_adder": StateFilteredOut,
		"use_adder":  StateFilteredOut,
	}
	for name, s := range want {
		if got := rep.State(name); got != s {
			t.Errorf("%s: state %s, want %s", name, got, s)
		}
	}
	// Lambdas are collected from filtered functions too, then filtered
	// by their own name.
	if got := rep.State("make_adder#lambda1"); got != StateFilteredOut {
		t.Errorf("lambda state %s, want filtered-out", got)
	}
}

func TestAnalyzeInlined(t *testing.T) {
	a, rep, m := analyze(t, inlineSrc, Options{GenZAM: true}, nil)
	e, _ := rep.Lookup("sq", 0)
	if e.State != StateInterpreted || e.Reason != "inlined" {
		t.Errorf("sq entry = %+v, want interpreted and inlined", e)
	}
	if !a.NonRecursive(a.Funcs()[0].Func) {
		t.Errorf("sq not proven non-recursive")
	}
	for _, name := range []string{"sum_sq", "fact", "uses_fact"} {
		if got := rep.State(name); got != StateCompiledZAM {
			t.Errorf("%s: state %s, want compiled-zam", name, got)
		}
	}
	if got := m.call("sum_sq", script.MakeCount(3), script.MakeCount(4)); got != "count(25)" {
		t.Errorf("sum_sq(3, 4) = %s", got)
	}

	_, rep, m = analyze(t, inlineSrc, Options{GenZAM: true, CompileAll: true}, nil)
	if got := rep.State("sq"); got != StateCompiledZAM {
		t.Errorf("with CompileAll sq is %s", got)
	}
	if got := m.call("sq", script.MakeCount(9)); got != "count(81)" {
		t.Errorf("sq(9) = %s", got)
	}
}

func TestUsageIssues(t *testing.T) {
	var out bytes.Buffer
	_, rep, m := analyze(t, usageSrc, Options{UsageIssues: true, DumpUDs: true, Out: &out}, nil)
	if len(rep.Usage) != 3 {
		t.Errorf("usage issues %v, want 3", rep.Usage)
	}
	if got := rep.State("maybe"); got != StateInterpreted {
		t.Errorf("maybe: state %s, want interpreted", got)
	}
	if strings.Count(out.String(), "use-defs for ") != 6 {
		t.Errorf("use-def dump:\n%s", out.String())
	}
	if got := m.call("both", script.MakeBool(false)); got != "count(2)" {
		t.Errorf("both(F) = %s", got)
	}

	var buf bytes.Buffer
	if err := rep.Write(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "spare in unused set but not used") {
		t.Errorf("report lacks the usage issues:\n%s", buf.String())
	}
}

func TestInlineOnlyKeepsCallees(t *testing.T) {
	_, rep, m := analyze(t, inlineSrc, Options{Inliner: true}, nil)
	e, _ := rep.Lookup("sq", 0)
	if e.State != StateInterpreted || e.Reason != "" {
		t.Errorf("sq entry = %+v, want interpreted with no reason", e)
	}
	if rep.Compiled() != 0 {
		t.Errorf("%d bodies compiled without a backend", rep.Compiled())
	}
	if got := m.call("sum_sq", script.MakeCount(3), script.MakeCount(4)); got != "count(25)" {
		t.Errorf("sum_sq(3, 4) = %s", got)
	}
}

func TestReportRecursive(t *testing.T) {
	_, rep, _ := analyze(t, graphSrc, Options{ReportRecursive: true, GenZAMCode: true}, nil)
	if !rep.Stopped {
		t.Errorf("report did not stop")
	}
	if want := []string{"fact", "even", "odd"}; !slices.Equal(rep.Recursive, want) {
		t.Errorf("Recursive = %v, want %v", rep.Recursive, want)
	}
	if n := rep.Count(StateCompiledZAM); n != 0 {
		t.Errorf("%d bodies compiled after the recursion report", n)
	}
}

func TestDumps(t *testing.T) {
	var out bytes.Buffer
	analyze(t, foldSrc, Options{OptimizeAST: true, DumpXform: true, GenZAMCode: true, DumpZAM: true, Out: &out}, nil)
	if !strings.Contains(out.String(), "return (x + 8);") {
		t.Errorf("transformed dump missing:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "function g(): count") {
		t.Errorf("dump of g missing:\n%s", out.String())
	}

	out.Reset()
	a, _, m := analyze(t, foldSrc, Options{ProfileZAM: true, DumpZAM: true, Out: &out}, nil)
	m.call("f", script.MakeCount(1))
	out.Reset()
	if err := a.Finish(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "OPCODE") || !strings.Contains(out.String(), "f: 1 calls") {
		t.Errorf("profile lacks the per-body listing:\n%s", out.String())
	}
}

const nativeSrc = `
function dbl(x: count): count
	{
	return x * 2;
	}

function other(): count
	{
	return 1;
	}
`

func TestUseNative(t *testing.T) {
	mod := parseModule(t, nativeSrc)
	dbl := mod.Func("dbl")
	h := hash.HashBody(dbl, dbl.Bodies[0])

	var steps []string
	reg := native.NewRegistry()
	reg.SetInitHook(func() {
		steps = append(steps, "init")
		err := reg.Register(h, &native.CompiledScript{
			Name: "dbl_native",
			Body: func(f *script.Frame) (script.Value, script.Flow, error) {
				return script.MakeCount(f.Slots[0].Count() * 3), script.FlowReturn, nil
			},
		})
		if err != nil {
			t.Errorf("Register: %v", err)
		}
	})
	reg.SetActivationHook(func() { steps = append(steps, "activate") })
	reg.OnFinish(func() { steps = append(steps, "finish") })

	a, err := NewAnalyzer(Options{UseNative: true, ReportNative: true, Out: io.Discard}, reg)
	if err != nil {
		t.Fatal(err)
	}
	rep, err := a.AnalyzeScripts(mod.Funcs())
	if err != nil {
		t.Fatal(err)
	}
	if got := rep.State("dbl"); got != StateCompiledNative {
		t.Errorf("dbl: state %s, want compiled-native", got)
	}
	if got := rep.State("other"); got != StateInterpreted {
		t.Errorf("other: state %s, want interpreted", got)
	}
	v, err := dbl.Call(script.NewEnv(io.Discard), []script.Value{script.MakeCount(5)})
	if err != nil {
		t.Fatal(err)
	}
	if v.GoString() != "count(15)" {
		t.Errorf("dbl(5) = %s, want the native body's count(15)", v.GoString())
	}

	if err := a.Finish(); err != nil {
		t.Fatal(err)
	}
	if err := a.Finish(); err != nil {
		t.Fatal(err)
	}
	if want := []string{"init", "activate", "finish"}; !slices.Equal(steps, want) {
		t.Errorf("steps = %v, want %v", steps, want)
	}
}

func TestNativeNeedsRegistry(t *testing.T) {
	if _, err := NewAnalyzer(Options{UseNative: true}, nil); !errors.Is(err, ErrOptions) {
		t.Errorf("NewAnalyzer without registry: %v, want ErrOptions", err)
	}
}

const genSrc = `
const debug = F;

function fib(n: count): count
	{
	if ( n < 2 )
		return n;
	return fib(n - 1) + fib(n - 2);
	}

function noisy(n: count): count
	{
	if ( debug )
		print n;
	return n;
	}
`

func TestGenerateNative(t *testing.T) {
	out := filepath.Join(t.TempDir(), "compiled.go")
	_, rep, m := analyze(t, genSrc, Options{GenStandaloneNative: true, NativeOutput: out, NativePackage: "bodies"}, nil)

	if !slices.Equal(rep.Generated, []string{"fib"}) {
		t.Errorf("Generated = %v, want [fib]", rep.Generated)
	}
	e, _ := rep.Lookup("noisy", 0)
	if e.State != StateSkipped || e.Reason != "conditional code" {
		t.Errorf("noisy entry = %+v", e)
	}
	if got := rep.State("fib"); got != StateInterpreted {
		t.Errorf("fib: state %s, want interpreted in the generating run", got)
	}
	if got := m.call("fib", script.MakeCount(10)); got != "count(55)" {
		t.Errorf("fib(10) = %s", got)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	src := string(data)
	for _, want := range []string{"package bodies", "r.RegisterStandalone(", "r.Installer(\"fib\""} {
		if !strings.Contains(src, want) {
			t.Errorf("generated file lacks %q", want)
		}
	}

	out = filepath.Join(t.TempDir(), "compiled.go")
	_, rep, _ = analyze(t, genSrc, Options{GenStandaloneNative: true, AllowCond: true, NativeOutput: out}, nil)
	if !slices.Equal(rep.Generated, []string{"fib", "noisy"}) {
		t.Errorf("with AllowCond Generated = %v", rep.Generated)
	}
}

func TestFinishSavesRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs", "profile.db")
	var out bytes.Buffer
	a, rep, m := analyze(t, closureSrc, Options{GenZAM: true, ProfileZAM: true, ProfileDB: db, Out: &out}, nil)
	m.call("fib", script.MakeCount(10))

	if p := a.Profiler().Get("fib"); p == nil || p.Calls() != 177 {
		t.Fatalf("fib profile = %v", p)
	}
	if err := a.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if rep.RunID == "" {
		t.Fatalf("run was not saved")
	}
	if !strings.Contains(out.String(), "OPCODE") {
		t.Errorf("profile report not written:\n%s", out.String())
	}

	st, err := store.Open(db)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	run, err := st.Load(rep.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Funcs) != len(rep.Entries) {
		t.Errorf("saved %d funcs, want %d", len(run.Funcs), len(rep.Entries))
	}
	if !strings.Contains(run.Options, "gen_zam_code") || !strings.Contains(run.Options, "profile_zam") {
		t.Errorf("options summary %q", run.Options)
	}
	var fib *store.ProfileRecord
	for i := range run.Profile {
		if run.Profile[i].Body == "fib" {
			fib = &run.Profile[i]
		}
	}
	if fib == nil || fib.Calls != 177 || len(fib.Insts) == 0 {
		t.Errorf("fib profile record = %+v", fib)
	}
}

func TestReportWrite(t *testing.T) {
	_, rep, _ := analyze(t, closureSrc, Options{GenZAMCode: true}, nil)
	var buf bytes.Buffer
	if err := rep.Write(&buf); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	if rep.Compiled() != rep.Count(StateCompiledZAM) || rep.Compiled() == 0 {
		t.Errorf("Compiled() = %d, want the %d ZAM bodies", rep.Compiled(), rep.Count(StateCompiledZAM))
	}
	for _, want := range []string{"FUNCTION", "make_adder", "skipped", "compiled-zam", "test.zeek", fmt.Sprintf("%d of %d", rep.Compiled(), len(rep.Entries))} {
		if !strings.Contains(got, want) {
			t.Errorf("report lacks %q:\n%s", want, got)
		}
	}
}
