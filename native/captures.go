package native

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/reyesj2/zeek/script"
	"github.com/reyesj2/zeek/script/hash"
)

// ErrCaptureDecode is returned when a capture encoding cannot be turned
// back into values.
var ErrCaptureDecode = errors.New("native: cannot decode captures")

// captureEnvelope names the outer array of an encoded capture list.
const captureEnvelope = "CopyFrame"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("native: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Wire types
//
// An encoded capture list is ["CopyFrame", [value...]] where each value is
// [typeTag, typeDescriptor, payload]. The payload shape depends on the tag:
//   bool, int, count, double, string: the CBOR scalar
//   vector: [value...]
//   table:  [[key, value]...]
//   func:   [bodyHash, [value...]] (the function's captures)
//   void:   null
// ---------------------------------------------------------------------------

type wireEnvelope struct {
	_      struct{} `cbor:",toarray"`
	Name   string
	Values []wireValue
}

type wireValue struct {
	_       struct{} `cbor:",toarray"`
	Tag     uint8
	Type    *wireType
	Payload cbor.RawMessage
}

type wireType struct {
	_      struct{} `cbor:",toarray"`
	Tag    uint8
	Index  *wireType
	Yield  *wireType
	Params []wireParam
}

type wireParam struct {
	_    struct{} `cbor:",toarray"`
	Name string
	Type *wireType
}

type wireEntry struct {
	_   struct{} `cbor:",toarray"`
	Key wireValue
	Val wireValue
}

type wireFunc struct {
	_        struct{} `cbor:",toarray"`
	Hash     []byte
	Captures []wireValue
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// EncodeCaptures serializes vals. Function values must belong to a
// function registered with RegisterFunc.
func (r *Registry) EncodeCaptures(vals []script.Value) ([]byte, error) {
	wvs, err := r.encodeValues(vals)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(&wireEnvelope{Name: captureEnvelope, Values: wvs})
}

func (r *Registry) encodeValues(vals []script.Value) ([]wireValue, error) {
	out := make([]wireValue, len(vals))
	for i, v := range vals {
		wv, err := r.encodeValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = wv
	}
	return out, nil
}

func (r *Registry) encodeValue(v script.Value) (wireValue, error) {
	wv := wireValue{Tag: uint8(v.Tag())}
	if v.IsVoid() {
		return wv, nil
	}
	wv.Type = encodeType(v.Type())

	var payload any
	switch v.Tag() {
	case script.TypeBool:
		payload = v.Bool()
	case script.TypeInt:
		payload = v.Int()
	case script.TypeCount:
		payload = v.Count()
	case script.TypeDouble:
		payload = v.Double()
	case script.TypeString:
		payload = v.Str()
	case script.TypeVector:
		vec := v.Vector()
		elems := make([]script.Value, vec.Len())
		for i := range elems {
			elems[i], _ = vec.At(uint64(i))
		}
		wvs, err := r.encodeValues(elems)
		if err != nil {
			return wv, err
		}
		payload = wvs
	case script.TypeTable:
		t := v.Table()
		var entries []wireEntry
		for _, k := range t.Keys() {
			val, _ := t.Lookup(k)
			wk, err := r.encodeValue(k)
			if err != nil {
				return wv, err
			}
			wval, err := r.encodeValue(val)
			if err != nil {
				return wv, err
			}
			entries = append(entries, wireEntry{Key: wk, Val: wval})
		}
		payload = entries
	case script.TypeFunc:
		fv := v.Func()
		h, ok := r.hashOfFunc(fv.Func())
		if !ok {
			return wv, fmt.Errorf("native: encode captures: function %s is not registered", fv.Func().Name)
		}
		caps, err := r.encodeValues(fv.Captures())
		if err != nil {
			return wv, err
		}
		payload = wireFunc{Hash: h[:], Captures: caps}
	default:
		return wv, fmt.Errorf("native: encode captures: cannot encode %s", v.Tag())
	}
	raw, err := cborEncMode.Marshal(payload)
	if err != nil {
		return wv, fmt.Errorf("native: encode captures: %w", err)
	}
	wv.Payload = raw
	return wv, nil
}

func encodeType(t *script.Type) *wireType {
	if t == nil {
		return nil
	}
	wt := &wireType{Tag: uint8(t.Tag), Index: encodeType(t.Index), Yield: encodeType(t.Yield)}
	for _, p := range t.Params {
		wt.Params = append(wt.Params, wireParam{Name: p.Name, Type: encodeType(p.Type)})
	}
	return wt
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

func decodeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCaptureDecode, fmt.Sprintf(format, args...))
}

// DecodeCaptures is the inverse of EncodeCaptures. Any unknown tag,
// mismatched descriptor or malformed payload fails with ErrCaptureDecode.
func (r *Registry) DecodeCaptures(data []byte) ([]script.Value, error) {
	var env wireEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: unmarshal envelope: %w", ErrCaptureDecode, err)
	}
	if env.Name != captureEnvelope {
		return nil, decodeErr("envelope %q, want %q", env.Name, captureEnvelope)
	}
	return r.decodeValues(env.Values)
}

func (r *Registry) decodeValues(wvs []wireValue) ([]script.Value, error) {
	out := make([]script.Value, len(wvs))
	for i := range wvs {
		v, err := r.decodeValue(&wvs[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r *Registry) decodeValue(wv *wireValue) (script.Value, error) {
	tag := script.TypeTag(wv.Tag)
	if !tag.Valid() || tag == script.TypeAny {
		return script.Void, decodeErr("unknown value tag %d", wv.Tag)
	}
	if tag == script.TypeVoid {
		return script.Void, nil
	}
	t, err := decodeType(wv.Type)
	if err != nil {
		return script.Void, err
	}
	if t.Tag != tag {
		return script.Void, decodeErr("%s value with %s descriptor", tag, t.Tag)
	}
	if len(wv.Payload) == 0 || wv.Payload[0] == 0xf6 || wv.Payload[0] == 0xf7 {
		return script.Void, decodeErr("%s value without payload", tag)
	}

	switch tag {
	case script.TypeBool:
		var b bool
		if err := unmarshalPayload(wv, &b); err != nil {
			return script.Void, err
		}
		return script.MakeBool(b), nil
	case script.TypeInt:
		var n int64
		if err := unmarshalPayload(wv, &n); err != nil {
			return script.Void, err
		}
		return script.MakeInt(n), nil
	case script.TypeCount:
		var n uint64
		if err := unmarshalPayload(wv, &n); err != nil {
			return script.Void, err
		}
		return script.MakeCount(n), nil
	case script.TypeDouble:
		var f float64
		if err := unmarshalPayload(wv, &f); err != nil {
			return script.Void, err
		}
		return script.MakeDouble(f), nil
	case script.TypeString:
		var s string
		if err := unmarshalPayload(wv, &s); err != nil {
			return script.Void, err
		}
		return script.MakeString(s), nil

	case script.TypeVector:
		var elems []wireValue
		if err := unmarshalPayload(wv, &elems); err != nil {
			return script.Void, err
		}
		vec := script.NewVector(t)
		for i := range elems {
			e, err := r.decodeValue(&elems[i])
			if err != nil {
				return script.Void, err
			}
			if err := checkElem(t.Yield, e); err != nil {
				return script.Void, err
			}
			vec.Append(e)
		}
		return script.MakeVector(vec), nil

	case script.TypeTable:
		var entries []wireEntry
		if err := unmarshalPayload(wv, &entries); err != nil {
			return script.Void, err
		}
		tbl := script.NewTable(t)
		for i := range entries {
			k, err := r.decodeValue(&entries[i].Key)
			if err != nil {
				return script.Void, err
			}
			if !k.Type().IsAtomic() {
				return script.Void, decodeErr("table key of type %s", k.Tag())
			}
			v, err := r.decodeValue(&entries[i].Val)
			if err != nil {
				return script.Void, err
			}
			if err := checkElem(t.Yield, v); err != nil {
				return script.Void, err
			}
			tbl.Assign(k, v)
		}
		return script.MakeTable(tbl), nil

	case script.TypeFunc:
		var wf wireFunc
		if err := unmarshalPayload(wv, &wf); err != nil {
			return script.Void, err
		}
		var h hash.Hash
		if len(wf.Hash) != len(h) {
			return script.Void, decodeErr("function hash of %d bytes", len(wf.Hash))
		}
		copy(h[:], wf.Hash)
		fn, ok := r.funcByHash(h)
		if !ok {
			return script.Void, decodeErr("no function registered for %s", h.Short())
		}
		caps, err := r.decodeValues(wf.Captures)
		if err != nil {
			return script.Void, err
		}
		return script.MakeFunc(script.NewFuncVal(fn, caps)), nil
	}
	return script.Void, decodeErr("cannot decode %s", tag)
}

func unmarshalPayload(wv *wireValue, dst any) error {
	if err := cbor.Unmarshal(wv.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %w", ErrCaptureDecode, script.TypeTag(wv.Tag), err)
	}
	return nil
}

// checkElem rejects container elements whose kind contradicts the
// container's declared element type.
func checkElem(want *script.Type, v script.Value) error {
	if want.Tag == script.TypeAny || v.IsVoid() {
		return nil
	}
	if want.IsNumeric() && v.Type().IsNumeric() {
		return nil
	}
	if want.Tag != v.Tag() {
		return decodeErr("%s element in container of %s", v.Tag(), want)
	}
	return nil
}

func decodeType(wt *wireType) (*script.Type, error) {
	if wt == nil {
		return nil, decodeErr("missing type descriptor")
	}
	tag := script.TypeTag(wt.Tag)
	if !tag.Valid() {
		return nil, decodeErr("unknown type tag %d", wt.Tag)
	}
	switch tag {
	case script.TypeTable:
		index, err := decodeType(wt.Index)
		if err != nil {
			return nil, err
		}
		if !index.IsAtomic() {
			return nil, decodeErr("table index of type %s", index)
		}
		yield, err := decodeType(wt.Yield)
		if err != nil {
			return nil, err
		}
		return script.TableOf(index, yield), nil
	case script.TypeVector:
		elem, err := decodeType(wt.Yield)
		if err != nil {
			return nil, err
		}
		return script.VectorOf(elem), nil
	case script.TypeFunc:
		params := make([]script.Param, len(wt.Params))
		for i, p := range wt.Params {
			pt, err := decodeType(p.Type)
			if err != nil {
				return nil, err
			}
			params[i] = script.Param{Name: p.Name, Type: pt}
		}
		var yield *script.Type
		if wt.Yield != nil {
			y, err := decodeType(wt.Yield)
			if err != nil {
				return nil, err
			}
			yield = y
		}
		return script.FuncOf(params, yield), nil
	}
	return script.BaseType(tag), nil
}
