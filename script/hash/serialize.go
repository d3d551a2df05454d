package hash

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/reyesj2/zeek/script"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of a function body.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Integers: big-endian fixed-width
//   - Floats: IEEE 754 big-endian 8B
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Child nodes: serialized inline (flat)
//
// Identifiers are written by name and kind, never by frame offset, and
// locations are omitted, so the encoding depends only on the body text.
// ---------------------------------------------------------------------------

// SerializeBody produces the byte serialization of one body of fn.
func SerializeBody(fn *script.Func, body *script.Body) []byte {
	s := &serializer{buf: make([]byte, 0, 256)}
	s.writeByte(HashVersion)
	s.body(fn, body)
	return s.buf
}

type serializer struct {
	buf []byte
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeLen(n int) {
	s.writeUint32(uint32(n))
}

func (s *serializer) body(fn *script.Func, body *script.Body) {
	s.writeByte(TagBody)
	s.writeByte(byte(fn.Flavor))
	s.typ(fn.Type)
	s.writeLen(len(body.Scope.Params))
	for _, p := range body.Scope.Params {
		s.writeString(p.Name)
	}
	s.writeLen(len(fn.Captures))
	for _, c := range fn.Captures {
		s.writeString(c.Name)
		s.typ(c.Type)
	}
	s.stmt(body.Stmt)
}

func (s *serializer) typ(t *script.Type) {
	if t == nil {
		s.writeByte(TagAbsent)
		return
	}
	s.writeByte(TagType)
	s.writeByte(byte(t.Tag))
	switch t.Tag {
	case script.TypeTable:
		s.typ(t.Index)
		s.typ(t.Yield)
	case script.TypeVector:
		s.typ(t.Yield)
	case script.TypeFunc:
		s.writeLen(len(t.Params))
		for _, p := range t.Params {
			s.typ(p.Type)
		}
		s.typ(t.Yield)
	}
}

func (s *serializer) value(v script.Value) {
	s.writeByte(byte(v.Tag()))
	switch v.Tag() {
	case script.TypeBool:
		if v.Bool() {
			s.writeByte(1)
		} else {
			s.writeByte(0)
		}
	case script.TypeInt:
		s.writeInt64(v.Int())
	case script.TypeCount:
		s.writeInt64(int64(v.Count()))
	case script.TypeDouble:
		s.writeInt64(int64(math.Float64bits(v.Double())))
	case script.TypeString:
		s.writeString(v.Str())
	case script.TypeVoid:
	default:
		// Managed constants only arise from folding; their rendering is
		// deterministic for the value kinds the folder produces.
		s.writeString(v.String())
	}
}

func (s *serializer) id(id *script.ID) {
	switch id.Kind {
	case script.IDLocal:
		s.writeByte(TagLocal)
	case script.IDParam:
		s.writeByte(TagParam)
	case script.IDGlobal:
		s.writeByte(TagGlobal)
	case script.IDCapture:
		s.writeByte(TagCapture)
	case script.IDFunc:
		s.writeByte(TagFuncRef)
	}
	s.writeString(id.Name)
	if id.Kind == script.IDLocal {
		s.typ(id.Type)
	}
}

func (s *serializer) optID(id *script.ID) {
	if id == nil {
		s.writeByte(TagAbsent)
		return
	}
	s.id(id)
}

func (s *serializer) exprs(es []script.Expr) {
	s.writeLen(len(es))
	for _, e := range es {
		s.expr(e)
	}
}

func (s *serializer) expr(e script.Expr) {
	switch e := e.(type) {
	case nil:
		s.writeByte(TagAbsent)
	case *script.ConstExpr:
		s.writeByte(TagConst)
		s.typ(e.T)
		s.value(e.Val)
	case *script.NameExpr:
		s.id(e.ID)
	case *script.BinaryExpr:
		s.writeByte(TagBinary)
		s.writeByte(byte(e.Op))
		s.expr(e.X)
		s.expr(e.Y)
	case *script.UnaryExpr:
		s.writeByte(TagUnary)
		s.writeByte(byte(e.Op))
		s.expr(e.X)
	case *script.CondExpr:
		s.writeByte(TagCond)
		s.expr(e.Cond)
		s.expr(e.Then)
		s.expr(e.Else)
	case *script.CallExpr:
		s.writeByte(TagCall)
		s.expr(e.Fn)
		s.exprs(e.Args)
	case *script.BuiltinExpr:
		s.writeByte(TagBuiltin)
		s.writeString(e.Builtin.Name)
		s.exprs(e.Args)
	case *script.IndexExpr:
		s.writeByte(TagIndex)
		s.expr(e.X)
		s.expr(e.Index)
	case *script.InExpr:
		s.writeByte(TagIn)
		s.expr(e.Key)
		s.expr(e.X)
	case *script.SizeExpr:
		s.writeByte(TagSize)
		s.expr(e.X)
	case *script.CastExpr:
		s.writeByte(TagCast)
		s.typ(e.T)
		s.expr(e.X)
	case *script.CoerceExpr:
		s.writeByte(TagCoerce)
		s.typ(e.T)
		s.expr(e.X)
	case *script.TableCtor:
		s.writeByte(TagTable)
		s.typ(e.T)
		s.exprs(e.Keys)
		s.exprs(e.Vals)
	case *script.VectorCtor:
		s.writeByte(TagVector)
		s.typ(e.T)
		s.exprs(e.Elems)
	case *script.LambdaExpr:
		s.writeByte(TagLambda)
		s.writeLen(len(e.Captures))
		for _, c := range e.Captures {
			s.id(c)
		}
		s.writeLen(len(e.Func.Bodies))
		for _, b := range e.Func.Bodies {
			s.body(e.Func, b)
		}
	case *script.InlineExpr:
		s.writeByte(TagInline)
		s.writeString(e.Callee)
		s.exprs(e.Args)
		s.stmt(e.Body)
	default:
		panic(fmt.Sprintf("hash: unexpected expression %T", e))
	}
}

func (s *serializer) stmt(st script.Stmt) {
	switch st := st.(type) {
	case nil:
		s.writeByte(TagAbsent)
	case *script.ExprStmt:
		s.writeByte(TagExprStmt)
		s.expr(st.X)
	case *script.AssignStmt:
		s.writeByte(TagAssign)
		s.expr(st.Target)
		s.expr(st.Value)
	case *script.LocalStmt:
		s.writeByte(TagLocalDecl)
		s.id(st.ID)
		s.expr(st.Init)
	case *script.PrintStmt:
		s.writeByte(TagPrint)
		s.exprs(st.Args)
	case *script.IfStmt:
		s.writeByte(TagIf)
		s.expr(st.Cond)
		s.stmt(st.Then)
		s.stmt(st.Else)
	case *script.WhileStmt:
		s.writeByte(TagWhile)
		s.expr(st.Cond)
		s.stmt(st.Body)
	case *script.ForStmt:
		s.writeByte(TagFor)
		s.id(st.Key)
		s.optID(st.Value)
		s.expr(st.Over)
		s.stmt(st.Body)
	case *script.SwitchStmt:
		s.writeByte(TagSwitch)
		s.expr(st.X)
		s.writeLen(len(st.Cases))
		for _, c := range st.Cases {
			s.writeByte(TagCase)
			if c.Labels == nil {
				s.writeByte(TagAbsent)
			} else {
				s.exprs(c.Labels)
			}
			s.stmt(c.Body)
		}
	case *script.BreakStmt:
		s.writeByte(TagBreak)
	case *script.NextStmt:
		s.writeByte(TagNext)
	case *script.FallthroughStmt:
		s.writeByte(TagFallthrough)
	case *script.ReturnStmt:
		s.writeByte(TagReturn)
		s.expr(st.X)
	case *script.BlockStmt:
		s.writeByte(TagBlock)
		s.writeLen(len(st.Stmts))
		for _, x := range st.Stmts {
			s.stmt(x)
		}
	case *script.DeleteStmt:
		s.writeByte(TagDelete)
		s.expr(st.X)
		s.expr(st.Index)
	case *script.NullStmt:
		s.writeByte(TagNull)
	default:
		panic(fmt.Sprintf("hash: unexpected statement %T", st))
	}
}
