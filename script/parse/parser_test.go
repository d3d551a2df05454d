package parse

import (
	"strings"
	"testing"

	"github.com/reyesj2/zeek/script"
)

func TestLexerTokens(t *testing.T) {
	l := NewLexer(`x = |t| !in s && a != 3.5; # comment
&priority "a\"b"`)
	want := []TokenType{
		TokenIdent, TokenAssign, TokenBar, TokenIdent, TokenBar, TokenNotIn, TokenIdent,
		TokenAnd, TokenIdent, TokenNe, TokenFloat, TokenSemi, TokenAttr, TokenString, TokenEOF,
	}
	for i, w := range want {
		tok := l.NextToken()
		if tok.Type != w {
			t.Fatalf("token %d: got %s, want %s", i, tok, w)
		}
		if tok.Type == TokenString && tok.Literal != `a"b` {
			t.Errorf("string literal = %q", tok.Literal)
		}
		if tok.Type == TokenAttr && tok.Pos.Line != 2 {
			t.Errorf("attribute on line %d, want 2", tok.Pos.Line)
		}
	}
}

func TestParseFunctionLayout(t *testing.T) {
	f, err := ParseFile("layout.zeek", `
function f(a: count, b: int): int
	{
	local x = a + b;
	local s: string;
	for ( k, v in table([1] = "one") )
		s = v;
	return x;
	}
`)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	fn := f.Func("f")
	if fn == nil || len(fn.Bodies) != 1 {
		t.Fatalf("expected one body for f, got %+v", fn)
	}
	scope := fn.Bodies[0].Scope
	if len(scope.Params) != 2 || scope.Params[0].Offset != 0 || scope.Params[1].Offset != 1 {
		t.Fatalf("unexpected params %+v", scope.Params)
	}
	var names []string
	for _, id := range scope.Locals {
		names = append(names, id.Name)
	}
	if got := strings.Join(names, ","); got != "x,s,k,v" {
		t.Errorf("locals = %s, want x,s,k,v", got)
	}
	if scope.FrameSize != 6 {
		t.Errorf("FrameSize = %d, want 6", scope.FrameSize)
	}
	if x := scope.Locals[0]; x.Type.Tag != script.TypeInt {
		t.Errorf("x has type %s, want int", x.Type)
	}
}

func TestParsePromotion(t *testing.T) {
	f, err := ParseFile("promo.zeek", `function g(a: count, d: double): double { return a * d; }`)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	ret := f.Func("g").Bodies[0].Stmt.(*script.BlockStmt).Stmts[0].(*script.ReturnStmt)
	bin, ok := ret.X.(*script.BinaryExpr)
	if !ok {
		t.Fatalf("return value is %T", ret.X)
	}
	if _, ok := bin.X.(*script.CoerceExpr); !ok {
		t.Errorf("count operand not coerced: %T", bin.X)
	}
	if bin.T.Tag != script.TypeDouble {
		t.Errorf("result type %s", bin.T)
	}
}

func TestParseMutualRecursionWithPrototype(t *testing.T) {
	f, err := ParseFile("mutual.zeek", `
function is_odd(n: count): bool;
function is_even(n: count): bool { return n == 0 ? T : is_odd(n - 1); }
function is_odd(n: count): bool { return n == 0 ? F : is_even(n - 1); }
`)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(f.Funcs) != 2 {
		t.Fatalf("got %d funcs", len(f.Funcs))
	}
	env := script.NewEnv(nil)
	v, err := f.Func("is_even").Call(env, []script.Value{script.MakeCount(10)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !v.Bool() {
		t.Errorf("is_even(10) = %s", v)
	}
}

func TestParseHandlersByPriority(t *testing.T) {
	f, err := ParseFile("hooks.zeek", `
hook h(x: count) &priority=-5 { print "low"; }
hook h(x: count) &priority=10 { print "high"; if ( x > 1 ) break; }
event e(x: count) { print x; }
event e(x: count) &priority=3 { print "first"; }
`)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	h := f.Func("h")
	if len(h.Bodies) != 2 || h.Bodies[0].Priority != 10 || h.Bodies[1].Priority != -5 {
		t.Fatalf("hook bodies not ordered by priority: %+v", h.Bodies)
	}
	if e := f.Func("e"); e.Bodies[0].Priority != 3 {
		t.Errorf("event bodies not ordered by priority")
	}
}

func TestParseLambdaCaptures(t *testing.T) {
	f, err := ParseFile("lambda.zeek", `
function adder(n: count): function(x: count): count
	{
	return function[n](x: count): count { return x + n; };
	}
`)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	env := script.NewEnv(nil)
	fv, err := f.Func("adder").Call(env, []script.Value{script.MakeCount(5)})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	v, err := fv.Func().Call(env, []script.Value{script.MakeCount(2)})
	if err != nil {
		t.Fatalf("lambda Call: %v", err)
	}
	if v.Count() != 7 {
		t.Errorf("adder(5)(2) = %s, want 7", v)
	}
	if name := fv.Func().Func().Name; name != "adder#lambda1" {
		t.Errorf("lambda name = %q", name)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown name", `function f(): count { return y; }`, "unknown identifier y"},
		{"type mismatch", `function f(): count { return "x"; }`, "type mismatch"},
		{"any needs cast", `function f(a: any): count { return a; }`, "as count"},
		{"break outside loop", `function f() { break; }`, "break outside"},
		{"next outside loop", `function f() { next; }`, "next outside"},
		{"duplicate label", `function f(x: count) { switch x { case 1: break; case 1: break; } }`, "duplicate case label"},
		{"const assign", "const c = 1;\nfunction f() { c = 2; }", "cannot assign to const"},
		{"double body", "function f() { }\nfunction f() { }", "already has a body"},
		{"bad token", `function f() { @ }`, "unexpected"},
		{"empty table", `global t = table();`, "empty table"},
		{"event call", "event e() { }\nfunction f() { e(); }", "cannot be called directly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile("bad.zeek", tt.src)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
			if !strings.HasPrefix(err.Error(), "bad.zeek:") {
				t.Errorf("error %q lacks a location", err)
			}
		})
	}
}

func TestModuleSeesEarlierFiles(t *testing.T) {
	m := NewModule()
	if _, err := m.ParseFile("a.zeek", `global counter: count = 3; function bump(): count { counter = counter + 1; return counter; }`); err != nil {
		t.Fatalf("a.zeek: %v", err)
	}
	if _, err := m.ParseFile("b.zeek", `function twice(): count { bump(); return bump(); }`); err != nil {
		t.Fatalf("b.zeek: %v", err)
	}
	v, err := m.Func("twice").Call(script.NewEnv(nil), nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v.Count() != 5 || m.Global("counter").Value.Count() != 5 {
		t.Errorf("twice() = %s, counter = %s", v, m.Global("counter").Value)
	}
	if got := len(m.Funcs()); got != 2 {
		t.Errorf("Funcs() has %d entries", got)
	}
}
