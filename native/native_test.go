package native_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/reyesj2/zeek/native"
	"github.com/reyesj2/zeek/script"
	"github.com/reyesj2/zeek/script/hash"
	"github.com/reyesj2/zeek/script/parse"
)

func hashOf(b byte) hash.Hash {
	var h hash.Hash
	h[0] = b
	return h
}

func constBody(v script.Value) native.BodyFunc {
	return func(*script.Frame) (script.Value, script.Flow, error) {
		return v, script.FlowReturn, nil
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegisterIdempotent(t *testing.T) {
	r := native.NewRegistry()
	h := hashOf(1)
	cs := &native.CompiledScript{Name: "f_01", Digest: hashOf(9), Body: constBody(script.MakeCount(1))}
	if err := r.Register(h, cs); err != nil {
		t.Fatalf("Register: %v", err)
	}
	again := &native.CompiledScript{Name: "f_01", Digest: hashOf(9), Body: constBody(script.MakeCount(1))}
	if err := r.Register(h, again); err != nil {
		t.Fatalf("Register identical: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	got, ok := r.Lookup(h)
	if !ok || got != cs {
		t.Errorf("Lookup returned %v, %v; want first registration", got, ok)
	}
	if _, ok := r.Lookup(hashOf(2)); ok {
		t.Errorf("Lookup of unknown hash succeeded")
	}
}

func TestRegisterConflict(t *testing.T) {
	r := native.NewRegistry()
	h := hashOf(1)
	if err := r.Register(h, &native.CompiledScript{Name: "a", Body: constBody(script.Void)}); err != nil {
		t.Fatal(err)
	}
	tests := []*native.CompiledScript{
		{Name: "b", Body: constBody(script.Void)},
		{Name: "a", Digest: hashOf(3), Body: constBody(script.Void)},
		{Name: "a", Body: constBody(script.Void), Events: []string{"zeek_init"}},
	}
	for i, cs := range tests {
		err := r.Register(h, cs)
		if !errors.Is(err, native.ErrRegistryConflict) {
			t.Errorf("case %d: err = %v, want ErrRegistryConflict", i, err)
		}
	}
	if got, _ := r.Lookup(h); got.Name != "a" {
		t.Errorf("conflict replaced the registration: %s", got.Name)
	}
	if err := r.Register(hashOf(4), &native.CompiledScript{Name: "nil"}); err == nil {
		t.Errorf("registering a nil body succeeded")
	}
}

func TestAddedBodies(t *testing.T) {
	r := native.NewRegistry()
	r.AddBody("a.zeek", hashOf(2))
	r.AddBody("a.zeek", hashOf(1))
	r.AddBody("a.zeek", hashOf(2))
	got := r.AddedBodies("a.zeek")
	if len(got) != 2 || got[0] != hashOf(2) || got[1] != hashOf(1) {
		t.Errorf("AddedBodies = %v", got)
	}
	if len(r.AddedBodies("b.zeek")) != 0 {
		t.Errorf("unknown file has bodies")
	}
}

func TestFinishRunsOnceInOrder(t *testing.T) {
	r := native.NewRegistry()
	var order []int
	r.OnFinish(func() { order = append(order, 1) })
	r.OnFinish(func() {
		order = append(order, 2)
		r.OnFinish(func() { order = append(order, 4) })
	})
	r.OnFinish(func() { order = append(order, 3) })

	if r.Finished() {
		t.Fatalf("Finished before Finish")
	}
	r.Finish()
	r.Finish()
	want := []int{1, 2, 3, 4}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if !r.Finished() {
		t.Errorf("Finished = false after Finish")
	}
}

func TestActivateOnce(t *testing.T) {
	r := native.NewRegistry()
	var calls []string
	r.RegisterStandalone(hashOf(2), func() { calls = append(calls, "b") })
	r.RegisterStandalone(hashOf(1), func() { calls = append(calls, "a") })
	r.SetActivationHook(func() { calls = append(calls, "hook") })
	r.SetInitHook(func() { calls = append(calls, "init") })

	r.RunInitHook()
	r.Activate()
	r.Activate()
	if got := strings.Join(calls, ","); got != "init,hook,a,b" {
		t.Errorf("calls = %s, want init,hook,a,b", got)
	}
}

// ---------------------------------------------------------------------------
// Association with parsed bodies
// ---------------------------------------------------------------------------

const source = `
global base: count = 100;

function add_base(n: count): count
	{
	return n + base;
	}

function helper(): count
	{
	return 1;
	}
`

func TestAssociateAndLinks(t *testing.T) {
	mod := parse.NewModule()
	if _, err := mod.ParseFile("assoc.zeek", source); err != nil {
		t.Fatalf("parse: %v", err)
	}
	fn := mod.Func("add_base")
	body := fn.Bodies[0]
	h := hash.HashBody(fn, body)

	r := native.NewRegistry()
	r.Bind(mod)
	ln := r.Links([]string{"helper"}, []string{"base"})
	calls := 0
	err := r.Register(h, &native.CompiledScript{
		Name: "add_base_" + h.Short(),
		Body: func(f *script.Frame) (script.Value, script.Flow, error) {
			if err := ln.Resolve(); err != nil {
				return script.Void, script.FlowNext, err
			}
			calls++
			one, err := ln.Func(0).Call(f.Env, nil)
			if err != nil {
				return script.Void, script.FlowNext, err
			}
			n := f.Slots[0].Count() + ln.Global(0).Value.Count() + one.Count() - 1
			return script.MakeCount(n), script.FlowReturn, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if !r.Associate(fn, body) {
		t.Fatalf("Associate found no body for %s", h.Short())
	}
	if _, ok := body.Stmt.(*native.Stmt); !ok {
		t.Fatalf("body statement is %T", body.Stmt)
	}
	if !r.Associate(fn, body) {
		t.Errorf("second Associate failed")
	}
	if r.Associate(mod.Func("helper"), mod.Func("helper").Bodies[0]) {
		t.Errorf("helper has no native body but was associated")
	}

	env := script.NewEnv(io.Discard)
	got, err := fn.Call(env, []script.Value{script.MakeCount(5)})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got.Count() != 105 || calls != 1 {
		t.Errorf("add_base(5) = %s after %d native calls, want 105 after 1", got, calls)
	}
}

func TestUnresolvedLinkFailsCall(t *testing.T) {
	mod := parse.NewModule()
	if _, err := mod.ParseFile("assoc.zeek", source); err != nil {
		t.Fatalf("parse: %v", err)
	}
	fn := mod.Func("helper")
	r := native.NewRegistry()
	r.Bind(mod)
	ln := r.Links([]string{"missing"}, nil)
	err := r.Register(hash.HashBody(fn, fn.Bodies[0]), &native.CompiledScript{
		Name: "helper",
		Body: func(f *script.Frame) (script.Value, script.Flow, error) {
			if err := ln.Resolve(); err != nil {
				return script.Void, script.FlowNext, err
			}
			return script.MakeCount(1), script.FlowReturn, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !r.Associate(fn, fn.Bodies[0]) {
		t.Fatal("Associate failed")
	}
	_, err = fn.Call(script.NewEnv(io.Discard), nil)
	if !errors.Is(err, native.ErrUnresolved) || !errors.Is(err, script.ErrCall) {
		t.Fatalf("err = %v, want ErrUnresolved wrapped as a call error", err)
	}
	var rerr *script.RuntimeError
	if !errors.As(err, &rerr) || rerr.Loc == nil {
		t.Errorf("error carries no location: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Captures
// ---------------------------------------------------------------------------

// newLambda builds a lambda returning its count capture plus one, backed by
// a registered native body.
func newLambda(t *testing.T, r *native.Registry) *native.LambdaFunc {
	t.Helper()
	x := &script.ID{Name: "x", Type: script.CountType, Kind: script.IDCapture}
	fn := &script.Func{
		Name:     "lambda_1",
		Flavor:   script.FlavorFunction,
		Type:     script.FuncOf(nil, script.CountType),
		IsLambda: true,
		Captures: []*script.ID{x},
	}
	fn.AddBody(&script.Body{
		Stmt:  &script.ReturnStmt{X: &script.NameExpr{ID: x}},
		Scope: &script.Scope{},
	})
	h := hash.HashBody(fn, fn.Bodies[0])
	err := r.Register(h, &native.CompiledScript{
		Name: "lambda_1",
		Body: func(f *script.Frame) (script.Value, script.Flow, error) {
			return script.MakeCount(f.Captures[0].Count() + 1), script.FlowReturn, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	l, err := r.NewLambda(fn)
	if err != nil {
		t.Fatalf("NewLambda: %v", err)
	}
	return l
}

func sampleValues(t *testing.T, r *native.Registry) []script.Value {
	vec := script.NewVector(script.VectorOf(script.CountType))
	for i := uint64(1); i <= 3; i++ {
		vec.Append(script.MakeCount(i))
	}

	inner := script.NewVector(script.VectorOf(script.IntType))
	inner.Append(script.MakeInt(-1))
	tbl := script.NewTable(script.TableOf(script.StringType, script.VectorOf(script.IntType)))
	tbl.Assign(script.MakeString("b"), script.MakeVector(inner))
	tbl.Assign(script.MakeString("a"), script.MakeVector(script.NewVector(script.VectorOf(script.IntType))))

	mixed := script.NewVector(script.VectorOf(script.AnyType))
	mixed.Append(script.MakeString("s"))
	mixed.Append(script.MakeDouble(0.25))
	mixed.Append(script.MakeBool(true))

	l := newLambda(t, r)
	fv, err := l.Instantiate([]script.Value{script.MakeCount(41)})
	if err != nil {
		t.Fatal(err)
	}

	return []script.Value{
		script.MakeBool(true),
		script.MakeBool(false),
		script.MakeInt(-7),
		script.MakeCount(1 << 63),
		script.MakeDouble(2.5),
		script.MakeDouble(-1e300),
		script.MakeString("héllo\x00world"),
		script.Void,
		script.MakeVector(vec),
		script.MakeTable(tbl),
		script.MakeVector(mixed),
		script.MakeFunc(fv),
	}
}

func TestCaptureRoundTrip(t *testing.T) {
	r := native.NewRegistry()
	vals := sampleValues(t, r)
	data, err := r.EncodeCaptures(vals)
	if err != nil {
		t.Fatalf("EncodeCaptures: %v", err)
	}
	got, err := r.DecodeCaptures(data)
	if err != nil {
		t.Fatalf("DecodeCaptures: %v", err)
	}
	if len(got) != len(vals) {
		t.Fatalf("decoded %d values, want %d", len(got), len(vals))
	}
	for i := range vals {
		if got[i].GoString() != vals[i].GoString() {
			t.Errorf("value %d: got %#v, want %#v", i, got[i], vals[i])
		}
		if vals[i].Type() != nil && got[i].Type() != nil && !script.SameType(got[i].Type(), vals[i].Type()) {
			t.Errorf("value %d: type %s, want %s", i, got[i].Type(), vals[i].Type())
		}
	}

	fv := got[len(got)-1].Func()
	if fv == nil || fv.Func() != vals[len(vals)-1].Func().Func() {
		t.Fatalf("function value did not resolve to the registered lambda")
	}
	res, err := fv.Call(script.NewEnv(io.Discard), nil)
	if err != nil || res.Count() != 42 {
		t.Errorf("decoded lambda returned %s, %v; want 42", res, err)
	}

	again, err := r.EncodeCaptures(got)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, data) {
		t.Errorf("re-encoding is not canonical")
	}
}

func TestLambdaSetCaptures(t *testing.T) {
	r := native.NewRegistry()
	l := newLambda(t, r)
	src, err := l.Instantiate([]script.Value{script.MakeCount(9)})
	if err != nil {
		t.Fatal(err)
	}
	data, err := l.SerializeCaptures(src)
	if err != nil {
		t.Fatalf("SerializeCaptures: %v", err)
	}

	dst, err := l.Instantiate([]script.Value{script.MakeCount(0)})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.SetCaptures(dst, data); err != nil {
		t.Fatalf("SetCaptures: %v", err)
	}
	got, err := dst.Call(script.NewEnv(io.Discard), nil)
	if err != nil || got.Count() != 10 {
		t.Errorf("call after SetCaptures = %s, %v; want 10", got, err)
	}

	wrong, err := r.EncodeCaptures([]script.Value{script.MakeString("nine")})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.SetCaptures(dst, wrong); !errors.Is(err, native.ErrCaptureDecode) {
		t.Errorf("SetCaptures with a string capture: err = %v", err)
	}
	if dst.Captures()[0].Count() != 9 {
		t.Errorf("failed SetCaptures modified the captures")
	}

	two, err := r.EncodeCaptures([]script.Value{script.MakeCount(1), script.MakeCount(2)})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.SetCaptures(dst, two); !errors.Is(err, native.ErrCaptureDecode) {
		t.Errorf("SetCaptures with two captures: err = %v", err)
	}
}

func TestEncodeUnregisteredFunc(t *testing.T) {
	r := native.NewRegistry()
	fn := &script.Func{Name: "anon", Type: script.FuncOf(nil, nil)}
	_, err := r.EncodeCaptures([]script.Value{script.MakeFunc(script.NewFuncVal(fn, nil))})
	if err == nil {
		t.Fatalf("encoding an unregistered function succeeded")
	}
}

func mustCBOR(t *testing.T, v any) []byte {
	t.Helper()
	b, err := cbor.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCaptureDecodeFailures(t *testing.T) {
	desc := func(tag uint8) []any { return []any{tag, nil, nil, nil} }
	value := func(tag uint8, d any, payload any) []any { return []any{tag, d, payload} }
	frame := func(vals ...any) []any { return []any{"CopyFrame", vals} }

	var unknownHash [32]byte
	unknownHash[31] = 7

	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte{0xff, 0x00, 0x13}},
		{"not an array", mustCBOR(t, "CopyFrame")},
		{"wrong envelope", mustCBOR(t, []any{"Frame", []any{}})},
		{"unknown value tag", mustCBOR(t, frame(value(99, desc(99), []byte{0xde, 0xad})))},
		{"any is not a value tag", mustCBOR(t, frame(value(8, desc(8), 1)))},
		{"unknown type tag", mustCBOR(t, frame(value(2, desc(77), 1)))},
		{"missing descriptor", mustCBOR(t, frame(value(2, nil, 1)))},
		{"descriptor mismatch", mustCBOR(t, frame(value(1, desc(2), true)))},
		{"bool from string", mustCBOR(t, frame(value(1, desc(1), "yes")))},
		{"int from string", mustCBOR(t, frame(value(2, desc(2), "1")))},
		{"count from negative", mustCBOR(t, frame(value(3, desc(3), -1)))},
		{"null payload", mustCBOR(t, frame(value(5, desc(5), nil)))},
		{"vector without element type", mustCBOR(t, frame(value(7, desc(7), []any{})))},
		{"table with managed index", mustCBOR(t, frame(value(6,
			[]any{uint8(6), desc(7), desc(3), nil}, []any{})))},
		{"vector element of wrong kind", mustCBOR(t, frame(value(7,
			[]any{uint8(7), nil, desc(3), nil},
			[]any{value(5, desc(5), "x")})))},
		{"unregistered function", mustCBOR(t, frame(value(9,
			[]any{uint8(9), nil, desc(3), []any{}},
			[]any{unknownHash[:], []any{}})))},
		{"short function hash", mustCBOR(t, frame(value(9,
			[]any{uint8(9), nil, desc(3), []any{}},
			[]any{[]byte{1, 2}, []any{}})))},
	}

	r := native.NewRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vals, err := r.DecodeCaptures(tt.data)
			if !errors.Is(err, native.ErrCaptureDecode) {
				t.Fatalf("err = %v (values %v), want ErrCaptureDecode", err, vals)
			}
		})
	}
}
