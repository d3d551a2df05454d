package script_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/reyesj2/zeek/script"
	"github.com/reyesj2/zeek/script/parse"
)

func mustParse(t *testing.T, src string) *parse.File {
	t.Helper()
	f, err := parse.ParseFile("test.zeek", src)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	return f
}

func run(t *testing.T, f *parse.File, name string, args ...script.Value) (script.Value, string, error) {
	t.Helper()
	var out bytes.Buffer
	fn := f.Func(name)
	if fn == nil {
		t.Fatalf("no function %s", name)
	}
	v, err := fn.Call(script.NewEnv(&out), args)
	return v, out.String(), err
}

func TestInterpControlFlow(t *testing.T) {
	f := mustParse(t, `
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
`)
	for n, want := range map[uint64]string{0: "zero", 1: "small", 2: "small", 3: "small", 9: "big"} {
		v, _, err := run(t, f, "classify", script.MakeCount(n))
		if err != nil {
			t.Fatalf("classify(%d): %v", n, err)
		}
		if v.Str() != want {
			t.Errorf("classify(%d) = %s, want %s", n, v, want)
		}
	}
	v, _, err := run(t, f, "loops")
	if err != nil {
		t.Fatalf("loops: %v", err)
	}
	if v.Count() != 1+3+5+7 {
		t.Errorf("loops() = %s, want 16", v)
	}
}

func TestInterpIterationAndPrint(t *testing.T) {
	f := mustParse(t, `
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
`)
	_, out, err := run(t, f, "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	want := strings.Join([]string{
		"b, 2", "a, 1",
		"0, 1.5, 2", "1, 2.0, 2",
		"2, T, T, F", "",
	}, "\n")
	if out != want {
		t.Errorf("output:\n%s\nwant:\n%s", out, want)
	}
}

func TestInterpHookBreak(t *testing.T) {
	f := mustParse(t, `
hook h(x: count) &priority=5 { print "first"; if ( x > 1 ) break; }
hook h(x: count) { print "second"; }
`)
	v, out, err := run(t, f, "h", script.MakeCount(1))
	if err != nil || !v.Bool() || out != "first\nsecond\n" {
		t.Errorf("h(1) = %s, %q, %v", v, out, err)
	}
	v, out, err = run(t, f, "h", script.MakeCount(2))
	if err != nil || v.Bool() || out != "first\n" {
		t.Errorf("h(2) = %s, %q, %v", v, out, err)
	}
}

func TestInterpRuntimeErrors(t *testing.T) {
	f := mustParse(t, `
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

function forever(n: count): count
	{
	return forever(n + 1);
	}
`)
	tests := []struct {
		name string
		args []script.Value
		want error
		line int
	}{
		{"bad_any", []script.Value{script.MakeString("x")}, script.ErrTypeMismatch, 4},
		{"bad_div", []script.Value{script.MakeInt(0)}, script.ErrDivideByZero, 9},
		{"bad_index", nil, script.ErrIndex, 15},
		{"forever", []script.Value{script.MakeCount(0)}, script.ErrCallDepth, 18},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, f, tt.name, tt.args...)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var re *script.RuntimeError
			if !errors.As(err, &re) || re.Loc == nil || re.Loc.FirstLine != tt.line {
				t.Errorf("error location = %v, want line %d", err, tt.line)
			}
		})
	}
}

func TestInterpBuiltins(t *testing.T) {
	f := mustParse(t, `
function b(): string
	{
	return cat(to_int("-4"), "/", to_count("7"), "/", fmt_double(abs(-2.5), 2));
	}
`)
	v, _, err := run(t, f, "b")
	if err != nil {
		t.Fatalf("b: %v", err)
	}
	if v.Str() != "-4/7/2.50" {
		t.Errorf("b() = %q", v.Str())
	}
}
