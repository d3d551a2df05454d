package native

import (
	"fmt"

	"github.com/reyesj2/zeek/script"
	"github.com/reyesj2/zeek/script/hash"
)

// LambdaFunc is a lambda whose single body runs natively. Its captured
// values live in each FuncVal and can be shipped between processes with
// SerializeCaptures and SetCaptures.
type LambdaFunc struct {
	Func *script.Func
	Hash hash.Hash

	reg *Registry
}

// NewLambda binds fn's body to its registered native body and makes fn
// reachable from capture encodings.
func (r *Registry) NewLambda(fn *script.Func) (*LambdaFunc, error) {
	if !fn.IsLambda || len(fn.Bodies) != 1 {
		return nil, fmt.Errorf("native: %s is not a single-body lambda", fn.Name)
	}
	body := fn.Bodies[0]
	var h hash.Hash
	if _, ok := body.Stmt.(*Stmt); ok {
		known, ok := r.hashOfFunc(fn)
		if !ok {
			return nil, fmt.Errorf("native: lambda %s has a native body but no hash", fn.Name)
		}
		h = known
	} else {
		h = hash.HashBody(fn, body)
		if !r.Associate(fn, body) {
			return nil, fmt.Errorf("native: lambda %s (%s) has no native body", fn.Name, h.Short())
		}
	}
	r.RegisterFunc(h, fn)
	return &LambdaFunc{Func: fn, Hash: h, reg: r}, nil
}

// Instantiate creates a function value with the given captures.
func (l *LambdaFunc) Instantiate(captures []script.Value) (*script.FuncVal, error) {
	if len(captures) != len(l.Func.Captures) {
		return nil, fmt.Errorf("native: %s captures %d values, got %d", l.Func.Name, len(l.Func.Captures), len(captures))
	}
	vals := make([]script.Value, len(captures))
	for i, id := range l.Func.Captures {
		vals[i] = script.Coerce(captures[i], id.Type)
	}
	return script.NewFuncVal(l.Func, vals), nil
}

// SerializeCaptures encodes fv's captured values.
func (l *LambdaFunc) SerializeCaptures(fv *script.FuncVal) ([]byte, error) {
	if fv.Func() != l.Func {
		return nil, fmt.Errorf("native: serialize captures: %s is not %s", fv.Func().Name, l.Func.Name)
	}
	return l.reg.EncodeCaptures(fv.Captures())
}

// SetCaptures decodes data and installs it as fv's captures. Nothing is
// changed if decoding fails.
func (l *LambdaFunc) SetCaptures(fv *script.FuncVal, data []byte) error {
	if fv.Func() != l.Func {
		return fmt.Errorf("native: set captures: %s is not %s", fv.Func().Name, l.Func.Name)
	}
	vals, err := l.reg.DecodeCaptures(data)
	if err != nil {
		return err
	}
	if len(vals) != len(l.Func.Captures) {
		return decodeErr("%s captures %d values, got %d", l.Func.Name, len(l.Func.Captures), len(vals))
	}
	for i, id := range l.Func.Captures {
		if err := checkElem(id.Type, vals[i]); err != nil {
			return fmt.Errorf("capture %s: %w", id.Name, err)
		}
		vals[i] = script.Coerce(vals[i], id.Type)
	}
	fv.SetCaptures(vals)
	return nil
}
