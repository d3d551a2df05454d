package zam_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/reyesj2/zeek/script"
	"github.com/reyesj2/zeek/script/parse"
	"github.com/reyesj2/zeek/zam"
)

const corpus = `
global counter = 0;
global g: table[count] of count = table([1] = 10, [2] = 20);

function fib(n: count): count
	{
	if ( n < 2 )
		return n;
	return fib(n - 1) + fib(n - 2);
	}

function classify(n: count): string
	{
	switch n {
	case 0:
		return "zero";
	case 1, 2:
		fallthrough;
	case 3:
		return "small";
	default:
		break;
	}
	return "big";
	}

function dsw(x: double): string
	{
	switch x {
	case 1.5:
		return "a";
	case 2.0:
		print "two";
		fallthrough;
	default:
		return "c";
	}
	}

function loops(): count
	{
	local total = 0;
	local i = 0;
	while ( i < 10 )
		{
		i = i + 1;
		if ( i % 2 == 0 )
			next;
		if ( i > 7 )
			break;
		total = total + i;
		}
	return total;
	}

function show()
	{
	local t = table(["b"] = 2, ["a"] = 1);
	t["c"] = 3;
	for ( k, v in t )
		{
		print k, v;
		if ( k == "a" )
			delete t["c"];
		}
	local vec = vector(1.5, 2.0);
	for ( i, e in vec )
		print i, e, |vec|;
	print |t|, "a" in t, "c" !in t, 5 in vec;
	}

function nested(): count
	{
	local total = 0;
	local t = table(["x"] = 1, ["y"] = 2, ["z"] = 3);
	local v = vector(10, 20, 30);
	for ( k, a in t )
		{
		for ( i, b in v )
			{
			if ( b == 20 )
				next;
			if ( b > 20 && a == 2 )
				break;
			total = total + a * b;
			}
		}
	return total;
	}

function first_big(): string
	{
	local t = table(["a"] = 1, ["b"] = 5, ["c"] = 9);
	for ( k, v in t )
		if ( v > 3 )
			return k;
	return "none";
	}

function logic(x: int): string
	{
	local ok = (x > 0 && x < 10) || x == -5;
	return ok ? "in" : "out";
	}

function join(): string
	{
	local s = "";
	for ( i, n in vector("a", "b", "c") )
		{
		if ( i > 0 )
			s = s + ", ";
		s = s + n;
		}
	return s;
	}

function cond_local(c: bool): count
	{
	if ( c )
		{
		local x = 5;
		print x;
		}
	local y = 7;
	return y;
	}

function bump(): count
	{
	counter = counter + 1;
	return counter;
	}

function apply(f: function(x: count): count, v: count): count
	{
	return f(v);
	}

function double_it(x: count): count
	{
	return x * 2;
	}

function use_apply(): count
	{
	return apply(double_it, 21);
	}

function mixed(n: count): double
	{
	local d = 0.5;
	local i: int = -3;
	d = d * n + i;
	return d / 2;
	}

function bad_any(a: any): int
	{
	return a as int;
	}

function bad_div(n: int): int
	{
	return 10 / n;
	}

function bad_index(): count
	{
	local t: table[string] of count = table();
	return t["missing"];
	}

function churn(n: count): count
	{
	local t = g;
	local total = 0;
	for ( k, v in t )
		{
		local alias = t;
		total = total + alias[k];
		}
	if ( n > 0 )
		return t[n];
	return total;
	}

hook h(x: count) &priority=5
	{
	print "first";
	switch x {
	case 1:
		break;
	}
	if ( x > 1 )
		break;
	}

hook h(x: count)
	{
	print "second";
	}
`

func parseModule(t *testing.T, src string) *parse.Module {
	t.Helper()
	m := parse.NewModule()
	if _, err := m.ParseFile("corpus.zeek", src); err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	return m
}

// compileAll replaces every compilable body with its ZAM program.
func compileAll(t *testing.T, m *parse.Module, opts zam.Options) map[string]*zam.Body {
	t.Helper()
	bodies := map[string]*zam.Body{}
	for _, fn := range m.Funcs() {
		for i, body := range fn.Bodies {
			o := opts
			o.Name = fmt.Sprintf("%s#%d", fn.Name, i)
			b, err := zam.Compile(fn, body, o)
			if errors.Is(err, zam.ErrCompileSkip) {
				continue
			}
			if err != nil {
				t.Fatalf("Compile(%s): %v", fn.Name, err)
			}
			body.Stmt = b
			bodies[o.Name] = b
		}
	}
	return bodies
}

type outcome struct {
	val string
	out string
	err string
}

func call(t *testing.T, m *parse.Module, name string, args ...script.Value) outcome {
	t.Helper()
	fn := m.Func(name)
	if fn == nil {
		t.Fatalf("no function %s", name)
	}
	var out bytes.Buffer
	v, err := fn.Call(script.NewEnv(&out), args)
	o := outcome{val: v.GoString(), out: out.String()}
	if err != nil {
		o.err = err.Error()
	}
	return o
}

type invocation struct {
	fn   string
	args []script.Value
}

var invocations = []invocation{
	{"fib", []script.Value{script.MakeCount(15)}},
	{"classify", []script.Value{script.MakeCount(0)}},
	{"classify", []script.Value{script.MakeCount(2)}},
	{"classify", []script.Value{script.MakeCount(3)}},
	{"classify", []script.Value{script.MakeCount(42)}},
	{"dsw", []script.Value{script.MakeDouble(1.5)}},
	{"dsw", []script.Value{script.MakeDouble(2)}},
	{"dsw", []script.Value{script.MakeDouble(-1)}},
	{"loops", nil},
	{"show", nil},
	{"nested", nil},
	{"first_big", nil},
	{"logic", []script.Value{script.MakeInt(3)}},
	{"logic", []script.Value{script.MakeInt(-5)}},
	{"logic", []script.Value{script.MakeInt(12)}},
	{"join", nil},
	{"cond_local", []script.Value{script.MakeBool(true)}},
	{"cond_local", []script.Value{script.MakeBool(false)}},
	{"bump", nil},
	{"bump", nil},
	{"use_apply", nil},
	{"mixed", []script.Value{script.MakeCount(4)}},
	{"bad_any", []script.Value{script.MakeString("x")}},
	{"bad_any", []script.Value{script.MakeInt(-2)}},
	{"bad_div", []script.Value{script.MakeInt(0)}},
	{"bad_div", []script.Value{script.MakeInt(3)}},
	{"bad_index", nil},
	{"churn", []script.Value{script.MakeCount(0)}},
	{"churn", []script.Value{script.MakeCount(2)}},
	{"churn", []script.Value{script.MakeCount(9)}},
	{"h", []script.Value{script.MakeCount(1)}},
	{"h", []script.Value{script.MakeCount(2)}},
}

func checkEquivalent(t *testing.T, opts zam.Options) {
	t.Helper()
	interp := parseModule(t, corpus)
	compiled := parseModule(t, corpus)
	bodies := compileAll(t, compiled, opts)
	if len(bodies) == 0 {
		t.Fatal("nothing compiled")
	}
	for _, inv := range invocations {
		want := call(t, interp, inv.fn, inv.args...)
		got := call(t, compiled, inv.fn, inv.args...)
		if got != want {
			t.Errorf("%s%v:\ncompiled    %+v\ninterpreted %+v", inv.fn, inv.args, got, want)
		}
	}
}

func TestCompiledMatchesInterpreter(t *testing.T) {
	checkEquivalent(t, zam.Options{})
}

func TestFixedFramesMatchInterpreter(t *testing.T) {
	checkEquivalent(t, zam.Options{NonRecursive: true})
}

func TestNoFrameSharingMatchesInterpreter(t *testing.T) {
	checkEquivalent(t, zam.Options{NoFrameSharing: true})
}

func TestFibPerCallFrames(t *testing.T) {
	m := parseModule(t, corpus)
	compileAll(t, m, zam.Options{})
	fib := m.Func("fib")
	if _, ok := fib.Bodies[0].Stmt.(*zam.Body); !ok {
		t.Fatalf("fib was not compiled")
	}
	env := script.NewEnv(nil)
	v, err := fib.Call(env, []script.Value{script.MakeCount(10)})
	if err != nil || v.Count() != 55 {
		t.Fatalf("fib(10) = %s, %v; want 55", v, err)
	}
	a, b := uint64(0), uint64(1)
	for n := uint64(0); n <= 25; n++ {
		v, err := fib.Call(env, []script.Value{script.MakeCount(n)})
		if err != nil {
			t.Fatalf("fib(%d): %v", n, err)
		}
		if v.Count() != a {
			t.Fatalf("fib(%d) = %d, want %d", n, v.Count(), a)
		}
		a, b = b, a+b
	}
	if env.Depth() != 0 {
		t.Errorf("call depth %d after return", env.Depth())
	}
}

func TestReentrantFixedFrame(t *testing.T) {
	m := parseModule(t, corpus)
	// fib recurses, so the fixed frame is busy on nested calls
	bodies := compileAll(t, m, zam.Options{NonRecursive: true})
	v, err := m.Func("fib").Call(script.NewEnv(nil), []script.Value{script.MakeCount(12)})
	if err != nil || v.Count() != 144 {
		t.Fatalf("fib(12) = %s, %v; want 144", v, err)
	}
	if bodies["fib#0"].FixedFrameInUse() {
		t.Error("fixed frame still marked in use")
	}
}

func TestIterPool(t *testing.T) {
	p := zam.NewIterPool(1, 1)
	if p.InUse() {
		t.Fatal("fresh pool in use")
	}
	tbl := script.NewTable(script.TableOf(script.CountType, script.CountType))
	tbl.Assign(script.MakeCount(1), script.MakeCount(2))
	p.Tables[0].Begin(tbl)
	if !p.Tables[0].Active() || !p.InUse() {
		t.Error("table cursor not active after Begin")
	}
	p.Tables[0].Clear()
	p.Steps[0].Begin(3)
	if !p.Steps[0].Active() || !p.InUse() {
		t.Error("step counter not active after Begin")
	}
	p.Reset()
	if p.InUse() || p.Steps[0].Active() {
		t.Error("pool in use after Reset")
	}
}

func TestFixedFrameReleasesIterators(t *testing.T) {
	src := `
function first_big(t: table[count] of count, v: vector of count): count
	{
	for ( k in t )
		for ( i, e in v )
			if ( t[k] + e > 10 )
				return k;
	return 0;
	}

function scan(): count
	{
	local t = table([1] = 4, [2] = 9);
	return first_big(t, vector(1, 2, 3));
	}
`
	m := parseModule(t, src)
	bodies := compileAll(t, m, zam.Options{NonRecursive: true})
	for i := 0; i < 2; i++ {
		if got := call(t, m, "scan"); got.val != "count(2)" || got.err != "" {
			t.Fatalf("scan() = %+v, want count(2)", got)
		}
		if bodies["first_big#0"].FixedFrameInUse() {
			t.Fatal("fixed frame holds a cursor after an early return")
		}
	}
}

func TestManagedSlotsReleased(t *testing.T) {
	for _, opts := range []zam.Options{{}, {NonRecursive: true}} {
		m := parseModule(t, corpus)
		compileAll(t, m, opts)
		tbl := m.Global("g").Value.Table()
		base := tbl.RefCount()
		for _, n := range []uint64{0, 1, 9, 0, 3} {
			call(t, m, "churn", script.MakeCount(n))
			if got := tbl.RefCount(); got != base {
				t.Fatalf("churn(%d) with %+v: refcount %d, want %d", n, opts, got, base)
			}
		}
	}
}

func TestFrameSharingShrinksFrame(t *testing.T) {
	src := `
function seq(): count
	{
	local a = 1;
	local b = a + 1;
	local c = b + 1;
	local d = c + 1;
	local e = d + 1;
	return e;
	}
`
	shared := parseModule(t, src)
	sb := compileAll(t, shared, zam.Options{})["seq#0"]
	private := parseModule(t, src)
	pb := compileAll(t, private, zam.Options{NoFrameSharing: true})["seq#0"]
	if sb.FrameSize >= pb.FrameSize {
		t.Errorf("shared frame %d slots, unshared %d", sb.FrameSize, pb.FrameSize)
	}
	if got := call(t, shared, "seq"); got.val != "count(5)" {
		t.Errorf("seq() = %+v", got)
	}
	var buf bytes.Buffer
	if err := sb.Dump(&buf); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a@", "e@", "return"} {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("dump lacks %q:\n%s", name, buf.String())
		}
	}
}

func TestCompileSkipsLambdas(t *testing.T) {
	m := parseModule(t, `
function adder(n: count): function(x: count): count
	{
	return function[n](x: count): count { return x + n; };
	}
`)
	fn := m.Func("adder")
	_, err := zam.Compile(fn, fn.Bodies[0], zam.Options{})
	if !errors.Is(err, zam.ErrCompileSkip) {
		t.Fatalf("err = %v, want a compile skip", err)
	}
	var se *zam.SkipError
	if !errors.As(err, &se) || !strings.Contains(se.Reason, "lambda") {
		t.Errorf("skip reason = %v", err)
	}
}

func TestProfilingIsTransparent(t *testing.T) {
	prof := zam.NewProfiler()
	m := parseModule(t, corpus)
	compileAll(t, m, zam.Options{Profiler: prof})
	plain := parseModule(t, corpus)
	compileAll(t, plain, zam.Options{})
	for _, inv := range invocations {
		if got, want := call(t, m, inv.fn, inv.args...), call(t, plain, inv.fn, inv.args...); got != want {
			t.Errorf("%s: profiled %+v, plain %+v", inv.fn, got, want)
		}
	}
	p := prof.Get("fib#0")
	if p == nil || p.Calls() == 0 || p.Count(0) != p.Calls() {
		t.Fatalf("fib profile = %+v", p)
	}
	var buf bytes.Buffer
	if err := prof.Report(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "fib#0") || !strings.Contains(buf.String(), "call") {
		t.Errorf("report:\n%s", buf.String())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		insts []zam.Inst
		ok    bool
	}{
		{"valid", []zam.Inst{{Op: zam.OpMove, A: 0, B: 1}, {Op: zam.OpReturn, B: -1}}, true},
		{"slot out of range", []zam.Inst{{Op: zam.OpMove, A: 0, B: 7}}, false},
		{"jump out of range", []zam.Inst{{Op: zam.OpGoto, C: 9}}, false},
		{"missing const", []zam.Inst{{Op: zam.OpConst, A: 0, V: 0}}, false},
		{"missing iterator", []zam.Inst{{Op: zam.OpEndTableLoop, V: 0}}, false},
		{"bad aux", []zam.Inst{{Op: zam.OpPrint, Aux: []int32{0, 2}}}, false},
		{"unknown opcode", []zam.Inst{{Op: zam.Op(255), A: 0}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &zam.Body{Name: "v", FrameSize: 2, Managed: []bool{false, false}, Insts: tt.insts}
			err := b.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
			if tt.name == "unknown opcode" && err != nil && !strings.Contains(err.Error(), "unknown opcode 255") {
				t.Errorf("Validate() = %v, want the opcode rejected", err)
			}
		})
	}
}

func TestCaseMap(t *testing.T) {
	a, err := zam.NewCaseMap([]int64{5, -1, 3}, []int{10, 11, 12})
	if err != nil {
		t.Fatal(err)
	}
	b, err := zam.NewCaseMap([]int64{3, 5, -1}, []int{12, 10, 11})
	if err != nil {
		t.Fatal(err)
	}
	var ea, eb []string
	a.Entries(func(k int64, tgt int) { ea = append(ea, fmt.Sprint(k, ":", tgt)) })
	b.Entries(func(k int64, tgt int) { eb = append(eb, fmt.Sprint(k, ":", tgt)) })
	if strings.Join(ea, " ") != "-1:11 3:12 5:10" || strings.Join(ea, " ") != strings.Join(eb, " ") {
		t.Errorf("entries %v vs %v", ea, eb)
	}
	if tgt, ok := a.Lookup(3); !ok || tgt != 12 {
		t.Errorf("Lookup(3) = %d, %v", tgt, ok)
	}
	if _, ok := a.Lookup(4); ok {
		t.Error("Lookup(4) found a target")
	}
	if _, err := zam.NewCaseMap([]string{"x", "y", "x"}, []int{1, 2, 3}); !errors.Is(err, zam.ErrDuplicateCase) {
		t.Errorf("duplicate keys: err = %v", err)
	}
}
