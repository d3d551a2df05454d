// Package gen translates compiled ZAM programs into Go source that
// registers each program as a native body.
//
// Every instruction becomes one Go statement group inside a closure with a
// local slot array; jumps become gotos to labels placed only on jump
// targets. Generated code calls the same helpers in package script that
// the VM calls, so both agree on semantics.
package gen

import (
	"crypto/sha256"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/dave/jennifer/jen"
	"github.com/reyesj2/zeek/script"
	"github.com/reyesj2/zeek/script/hash"
	"github.com/reyesj2/zeek/zam"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("zeek.native.gen")

const (
	scriptPkg = "github.com/reyesj2/zeek/script"
	nativePkg = "github.com/reyesj2/zeek/native"
	zamPkg    = "github.com/reyesj2/zeek/zam"
)

// Entry is one body to generate.
type Entry struct {
	Hash    hash.Hash
	Body    *script.Body // the interpreted body the program was compiled from
	Program *zam.Body
}

// Options controls generation.
type Options struct {
	Package string

	// Standalone also emits activation callbacks that install each body
	// into its function when no script source was parsed.
	Standalone bool
}

// Skip records a body that could not be generated.
type Skip struct {
	Name   string
	Reason string
}

// Result is a generated file.
type Result struct {
	File    *jen.File
	Bodies  []string
	Skipped []Skip
}

// Generate builds the Go file for entries. Bodies sharing a hash are
// generated once.
func Generate(entries []Entry, opts Options) (*Result, error) {
	if opts.Package == "" {
		opts.Package = "compiled"
	}
	f := jen.NewFile(opts.Package)
	f.HeaderComment("Code generated by zopt. DO NOT EDIT.")
	res := &Result{File: f}

	seen := map[hash.Hash]bool{}
	var regs []jen.Code
	for _, e := range entries {
		if e.Program == nil || seen[e.Hash] {
			continue
		}
		seen[e.Hash] = true
		bg := newBodyGen(e)
		decls, err := bg.generate()
		if err != nil {
			log.Infof("not generating %s: %s", e.Program.Name, err)
			res.Skipped = append(res.Skipped, Skip{Name: e.Program.Name, Reason: err.Error()})
			continue
		}
		for _, d := range decls {
			f.Add(d)
			f.Line()
		}
		res.Bodies = append(res.Bodies, bg.ident)
		regs = append(regs, bg.registration(opts.Standalone)...)
	}

	res.Skipped = sortedSkips(res.Skipped)
	regs = append(regs, jen.Return(jen.Nil()))
	f.Comment("RegisterBodies adds every generated body to r.")
	f.Func().Id("RegisterBodies").Params(
		jen.Id("r").Op("*").Qual(nativePkg, "Registry"),
	).Error().Block(regs...)
	return res, nil
}

// Render generates and writes the file.
func Render(w io.Writer, entries []Entry, opts Options) (*Result, error) {
	res, err := Generate(entries, opts)
	if err != nil {
		return nil, err
	}
	if err := res.File.Render(w); err != nil {
		return nil, fmt.Errorf("gen: render: %w", err)
	}
	return res, nil
}

// ---------------------------------------------------------------------------
// Per-body generation
// ---------------------------------------------------------------------------

type bodyGen struct {
	e     Entry
	prog  *zam.Body
	ident string

	locs    []*script.Location
	locIdx  map[*script.Location]int
	types   []*script.Type
	typeIdx map[*script.Type]int
	labels  map[int]bool
	digest  hash.Hash
}

func newBodyGen(e Entry) *bodyGen {
	return &bodyGen{
		e:       e,
		prog:    e.Program,
		ident:   Ident(e.Program.Func.Name) + "_" + e.Hash.Short(),
		locIdx:  map[*script.Location]int{},
		typeIdx: map[*script.Type]int{},
		labels:  map[int]bool{},
	}
}

// Ident turns a script name into a Go identifier fragment.
func Ident(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	s := sb.String()
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		s = "f" + s
	}
	return s
}

type genError struct{ msg string }

func (e *genError) Error() string { return e.msg }

func (g *bodyGen) fail(format string, args ...any) {
	panic(&genError{fmt.Sprintf(format, args...)})
}

func (g *bodyGen) generate() (decls []jen.Code, err error) {
	defer func() {
		if r := recover(); r != nil {
			ge, ok := r.(*genError)
			if !ok {
				panic(r)
			}
			decls, err = nil, ge
		}
	}()

	g.findLabels()
	var stmts []jen.Code
	if len(g.prog.Funcs) > 0 || len(g.prog.Globals) > 0 {
		stmts = append(stmts, jen.If(
			jen.Err().Op(":=").Id("ln").Dot("Resolve").Call(),
			jen.Err().Op("!=").Nil(),
		).Block(failWith(jen.Err())))
	}
	if g.prog.FrameSize > 0 {
		stmts = append(stmts, jen.Var().Id("s").Index(jen.Lit(g.prog.FrameSize)).Qual(scriptPkg, "Value"))
	}
	if g.prog.NumTableIters > 0 {
		stmts = append(stmts, jen.Var().Id("ti").Index(jen.Lit(g.prog.NumTableIters)).Qual(zamPkg, "TableIter"))
	}
	if g.prog.NumStepIters > 0 {
		stmts = append(stmts, jen.Var().Id("si").Index(jen.Lit(g.prog.NumStepIters)).Qual(zamPkg, "StepIter"))
	}
	for _, p := range g.prog.Params {
		stmts = append(stmts, slot(p.Slot).Op("=").Id("f").Dot("Slots").Index(jen.Lit(p.Offset)))
	}
	// Instructions after a terminal one are unreachable until the next
	// label; emitting them would leave dead statements in the output.
	live := true
	for pc := range g.prog.Insts {
		if g.labels[pc] {
			stmts = append(stmts, label(pc))
			live = true
		}
		if !live {
			continue
		}
		in := &g.prog.Insts[pc]
		stmts = append(stmts, g.inst(in)...)
		live = !terminal(in)
	}
	if g.labels[len(g.prog.Insts)] {
		stmts = append(stmts, label(len(g.prog.Insts)))
		live = true
	}
	if live {
		stmts = append(stmts, jen.Return(sv("Void"), sv("FlowNext"), jen.Nil()))
	}

	closure := jen.Func().Params(jen.Id("f").Op("*").Qual(scriptPkg, "Frame")).
		Params(jen.Qual(scriptPkg, "Value"), jen.Qual(scriptPkg, "Flow"), jen.Error()).
		Block(stmts...)

	var outer []jen.Code
	if len(g.prog.Funcs) > 0 || len(g.prog.Globals) > 0 {
		outer = append(outer, jen.Id("ln").Op(":=").Id("r").Dot("Links").Call(
			stringSlice(g.funcNames()), stringSlice(g.globalNames()),
		))
	}
	outer = append(outer, jen.Return(closure))

	fn := jen.Func().Id(g.ident).Params(jen.Id("r").Op("*").Qual(nativePkg, "Registry")).
		Qual(nativePkg, "BodyFunc").Block(outer...)

	// The digest covers the code alone, before side tables are appended.
	g.digest = sha256.Sum256([]byte(fmt.Sprintf("%#v", fn)))

	decls = append(decls, jen.Commentf("%s implements %s (%s).", g.ident, g.prog.Name, locString(g.prog.Loc())))
	decls = append(decls, fn)
	if tables := g.tables(); tables != nil {
		decls = append(decls, tables)
	}
	return decls, nil
}

func locString(l *script.Location) string {
	if l == nil {
		return "no location"
	}
	return l.String()
}

func (g *bodyGen) funcNames() []string {
	names := make([]string, len(g.prog.Funcs))
	for i, fn := range g.prog.Funcs {
		names[i] = fn.Name
	}
	return names
}

func (g *bodyGen) globalNames() []string {
	names := make([]string, len(g.prog.Globals))
	for i, gi := range g.prog.Globals {
		names[i] = gi.ID.Name
	}
	return names
}

// terminal reports whether control never continues past in.
func terminal(in *zam.Inst) bool {
	switch in.Op {
	case zam.OpGoto, zam.OpReturn, zam.OpHookBreak,
		zam.OpSwitchI, zam.OpSwitchU, zam.OpSwitchD, zam.OpSwitchS:
		return true
	case zam.OpMissingReturn:
		return in.B < 0
	}
	return false
}

func (g *bodyGen) findLabels() {
	for _, in := range g.prog.Insts {
		if in.Op.IsJump() {
			g.labels[int(in.C)] = true
		}
		switch in.Op {
		case zam.OpSwitchI:
			g.addTargets(g.prog.IntCases[in.V].Targets())
		case zam.OpSwitchU:
			g.addTargets(g.prog.UintCases[in.V].Targets())
		case zam.OpSwitchD:
			g.addTargets(g.prog.DoubleCases[in.V].Targets())
		case zam.OpSwitchS:
			g.addTargets(g.prog.StringCases[in.V].Targets())
		}
	}
}

func (g *bodyGen) addTargets(ts []int) {
	for _, t := range ts {
		g.labels[t] = true
	}
}

// registration returns the RegisterBodies statements for the body.
func (g *bodyGen) registration(standalone bool) []jen.Code {
	h := jen.Qual(nativePkg, "MustHash").Call(jen.Lit(g.e.Hash.String()))
	var events []jen.Code
	if g.prog.Func.Flavor == script.FlavorEvent {
		events = append(events, jen.Lit(g.prog.Func.Name))
	}
	cs := jen.Op("&").Qual(nativePkg, "CompiledScript").Values(jen.Dict{
		jen.Id("Name"):   jen.Lit(g.ident),
		jen.Id("Digest"): jen.Qual(nativePkg, "MustHash").Call(jen.Lit(g.digest.String())),
		jen.Id("Body"):   jen.Id(g.ident).Call(jen.Id("r")),
		jen.Id("Events"): jen.Index().String().Values(events...),
	})
	out := []jen.Code{
		jen.If(
			jen.Err().Op(":=").Id("r").Dot("Register").Call(h, cs),
			jen.Err().Op("!=").Nil(),
		).Block(jen.Return(jen.Err())),
	}
	if g.prog.Func.File != "" {
		out = append(out, jen.Id("r").Dot("AddBody").Call(jen.Lit(g.prog.Func.File), h.Clone()))
	}
	if standalone {
		frame, prio := 0, 0
		if g.e.Body != nil {
			frame, prio = g.e.Body.Scope.FrameSize, g.e.Body.Priority
		}
		out = append(out, jen.Id("r").Dot("RegisterStandalone").Call(
			h.Clone(),
			jen.Id("r").Dot("Installer").Call(jen.Lit(g.prog.Func.Name), h.Clone(), jen.Lit(frame), jen.Lit(prio)),
		))
	}
	return out
}

// tables declares the locations and types instructions refer to.
func (g *bodyGen) tables() jen.Code {
	var defs []jen.Code
	if len(g.locs) > 0 {
		elems := make([]jen.Code, len(g.locs))
		for i, l := range g.locs {
			elems[i] = locExpr(l)
		}
		defs = append(defs, jen.Id(g.ident+"Locs").Op("=").Index().Op("*").Qual(scriptPkg, "Location").
			Values(multiline(elems)...))
	}
	if len(g.types) > 0 {
		elems := make([]jen.Code, len(g.types))
		for i, t := range g.types {
			elems[i] = typeExpr(t)
		}
		defs = append(defs, jen.Id(g.ident+"Types").Op("=").Index().Op("*").Qual(scriptPkg, "Type").
			Values(multiline(elems)...))
	}
	if len(g.prog.Builtins) > 0 {
		elems := make([]jen.Code, len(g.prog.Builtins))
		for i, b := range g.prog.Builtins {
			elems[i] = jen.Qual(scriptPkg, "LookupBuiltin").Call(jen.Lit(b.Name))
		}
		defs = append(defs, jen.Id(g.ident+"Builtins").Op("=").Index().Op("*").Qual(scriptPkg, "Builtin").
			Values(multiline(elems)...))
	}
	if len(defs) == 0 {
		return nil
	}
	return jen.Var().Defs(defs...)
}

func multiline(elems []jen.Code) []jen.Code {
	out := make([]jen.Code, 0, len(elems)+1)
	for _, e := range elems {
		out = append(out, jen.Line().Add(e))
	}
	return append(out, jen.Line())
}

func (g *bodyGen) loc(l *script.Location) jen.Code {
	i, ok := g.locIdx[l]
	if !ok {
		i = len(g.locs)
		g.locs = append(g.locs, l)
		g.locIdx[l] = i
	}
	return jen.Id(g.ident + "Locs").Index(jen.Lit(i))
}

func (g *bodyGen) typ(t *script.Type) jen.Code {
	if t == nil {
		g.fail("instruction without a type")
	}
	switch t.Tag {
	case script.TypeTable, script.TypeVector, script.TypeFunc:
	default:
		return typeExpr(t)
	}
	i, ok := g.typeIdx[t]
	if !ok {
		i = len(g.types)
		g.types = append(g.types, t)
		g.typeIdx[t] = i
	}
	return jen.Id(g.ident + "Types").Index(jen.Lit(i))
}

// ---------------------------------------------------------------------------
// Expressions for values, types and locations
// ---------------------------------------------------------------------------

func sv(name string) *jen.Statement { return jen.Qual(scriptPkg, name) }

func slot(s int32) *jen.Statement { return jen.Id("s").Index(jen.Lit(int(s))) }

func label(pc int) jen.Code { return jen.Id(fmt.Sprintf("L%d", pc)).Op(":") }

func gotoPC(pc int32) jen.Code { return jen.Goto().Id(fmt.Sprintf("L%d", pc)) }

func failWith(err jen.Code) jen.Code {
	return jen.Return(sv("Void"), sv("FlowNext"), err)
}

func stringSlice(ss []string) jen.Code {
	if len(ss) == 0 {
		return jen.Nil()
	}
	elems := make([]jen.Code, len(ss))
	for i, s := range ss {
		elems[i] = jen.Lit(s)
	}
	return jen.Index().String().Values(elems...)
}

func locExpr(l *script.Location) jen.Code {
	if l == nil {
		return jen.Nil()
	}
	return jen.Values(jen.Dict{
		jen.Id("File"):      jen.Lit(l.File),
		jen.Id("FirstLine"): jen.Lit(l.FirstLine),
		jen.Id("LastLine"):  jen.Lit(l.LastLine),
		jen.Id("Column"):    jen.Lit(l.Column),
	})
}

var baseTypeNames = map[script.TypeTag]string{
	script.TypeVoid:   "VoidType",
	script.TypeBool:   "BoolType",
	script.TypeInt:    "IntType",
	script.TypeCount:  "CountType",
	script.TypeDouble: "DoubleType",
	script.TypeString: "StringType",
	script.TypeAny:    "AnyType",
}

func typeExpr(t *script.Type) jen.Code {
	if t == nil {
		return jen.Nil()
	}
	switch t.Tag {
	case script.TypeTable:
		return sv("TableOf").Call(typeExpr(t.Index), typeExpr(t.Yield))
	case script.TypeVector:
		return sv("VectorOf").Call(typeExpr(t.Yield))
	case script.TypeFunc:
		params := make([]jen.Code, len(t.Params))
		for i, p := range t.Params {
			params[i] = jen.Values(jen.Dict{
				jen.Id("Name"): jen.Lit(p.Name),
				jen.Id("Type"): typeExpr(p.Type),
			})
		}
		ps := jen.Code(jen.Nil())
		if len(params) > 0 {
			ps = jen.Index().Qual(scriptPkg, "Param").Values(params...)
		}
		return sv("FuncOf").Call(ps, typeExpr(t.Yield))
	}
	return sv(baseTypeNames[t.Tag])
}

func floatExpr(x float64) jen.Code {
	if math.IsNaN(x) || math.IsInf(x, 0) || (x == 0 && math.Signbit(x)) {
		return jen.Qual("math", "Float64frombits").Call(jen.Lit(math.Float64bits(x)))
	}
	return jen.Lit(x)
}

func (g *bodyGen) constExpr(v script.Value) jen.Code {
	switch v.Tag() {
	case script.TypeVoid:
		return sv("Void")
	case script.TypeBool:
		return sv("MakeBool").Call(jen.Lit(v.Bool()))
	case script.TypeInt:
		return sv("MakeInt").Call(jen.Lit(v.Int()))
	case script.TypeCount:
		return sv("MakeCount").Call(jen.Lit(v.Count()))
	case script.TypeDouble:
		return sv("MakeDouble").Call(floatExpr(v.Double()))
	case script.TypeString:
		return sv("MakeString").Call(jen.Lit(v.Str()))
	}
	g.fail("constant of type %s", v.Tag())
	return nil
}

var binOpNames = map[script.BinOp]string{
	script.OpEq: "OpEq",
	script.OpNe: "OpNe",
	script.OpLt: "OpLt",
	script.OpLe: "OpLe",
	script.OpGt: "OpGt",
	script.OpGe: "OpGe",
}

// arith describes a typed arithmetic opcode.
type arith struct {
	make, get, op string
	checked       bool
}

var arithOps = map[zam.Op]arith{
	zam.OpAddI: {"MakeInt", "Int", "+", false},
	zam.OpAddU: {"MakeCount", "Count", "+", false},
	zam.OpAddD: {"MakeDouble", "Double", "+", false},
	zam.OpAddS: {"MakeString", "Str", "+", false},
	zam.OpSubI: {"MakeInt", "Int", "-", false},
	zam.OpSubU: {"MakeCount", "Count", "-", false},
	zam.OpSubD: {"MakeDouble", "Double", "-", false},
	zam.OpMulI: {"MakeInt", "Int", "*", false},
	zam.OpMulU: {"MakeCount", "Count", "*", false},
	zam.OpMulD: {"MakeDouble", "Double", "*", false},
	zam.OpDivI: {"MakeInt", "Int", "/", true},
	zam.OpDivU: {"MakeCount", "Count", "/", true},
	zam.OpDivD: {"MakeDouble", "Double", "/", true},
	zam.OpModI: {"MakeInt", "Int", "%", true},
	zam.OpModU: {"MakeCount", "Count", "%", true},
	zam.OpModD: {"MakeDouble", "Double", "%", true},
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func (g *bodyGen) args(aux []int32) jen.Code {
	elems := make([]jen.Code, len(aux))
	for i, s := range aux {
		elems[i] = slot(s)
	}
	return jen.Index().Qual(scriptPkg, "Value").Values(elems...)
}

// checked wraps call, which returns (value, error), storing the value in
// slot a unless a is negative.
func (g *bodyGen) checked(a int32, call jen.Code) []jen.Code {
	if a < 0 {
		return []jen.Code{jen.If(
			jen.List(jen.Id("_"), jen.Err()).Op(":=").Add(call),
			jen.Err().Op("!=").Nil(),
		).Block(failWith(jen.Err()))}
	}
	return []jen.Code{jen.Block(
		jen.List(jen.Id("v"), jen.Err()).Op(":=").Add(call),
		jen.If(jen.Err().Op("!=").Nil()).Block(failWith(jen.Err())),
		slot(a).Op("=").Id("v"),
	)}
}

func (g *bodyGen) errOnly(call jen.Code) []jen.Code {
	return []jen.Code{jen.If(
		jen.Err().Op(":=").Add(call),
		jen.Err().Op("!=").Nil(),
	).Block(failWith(jen.Err()))}
}

func (g *bodyGen) runtimeErr(kind string, loc *script.Location, format string, args ...jen.Code) jen.Code {
	params := append([]jen.Code{sv(kind), g.loc(loc), jen.Lit(format)}, args...)
	return failWith(sv("Errorf").Call(params...))
}

func (g *bodyGen) inst(in *zam.Inst) []jen.Code {
	A, B, C := slot(in.A), slot(in.B), slot(in.C)
	switch in.Op {
	case zam.OpNop:
		return nil

	case zam.OpConst:
		return []jen.Code{A.Op("=").Add(g.constExpr(g.prog.Consts[in.V]))}

	case zam.OpMove:
		return []jen.Code{A.Op("=").Add(B)}

	case zam.OpZero:
		return []jen.Code{A.Op("=").Add(sv("ZeroValue").Call(g.typ(in.T)))}

	case zam.OpLoadGlobal:
		return []jen.Code{A.Op("=").Id("ln").Dot("Global").Call(jen.Lit(int(in.V))).Dot("Value")}

	case zam.OpStoreGlobal:
		gl := func() *jen.Statement { return jen.Id("ln").Dot("Global").Call(jen.Lit(int(in.V))) }
		return []jen.Code{gl().Dot("Value").Op("=").Add(sv("Coerce").Call(B, gl().Dot("Type")))}

	case zam.OpLoadCapture, zam.OpStoreCapture:
		check := jen.If(jen.Len(jen.Id("f").Dot("Captures")).Op("<=").Lit(int(in.V))).Block(
			g.runtimeErr("KindCall", in.Loc, "capture %d missing", jen.Lit(int(in.V))),
		)
		capture := jen.Id("f").Dot("Captures").Index(jen.Lit(int(in.V)))
		if in.Op == zam.OpLoadCapture {
			return []jen.Code{check, A.Op("=").Add(capture)}
		}
		return []jen.Code{check, capture.Op("=").Add(sv("Coerce").Call(B, g.typ(in.T)))}

	case zam.OpLoadFunc:
		return []jen.Code{A.Op("=").Add(sv("MakeFunc").Call(
			sv("NewFuncVal").Call(jen.Id("ln").Dot("Func").Call(jen.Lit(int(in.V))), jen.Nil()),
		))}

	case zam.OpCoerce:
		return []jen.Code{A.Op("=").Add(sv("Coerce").Call(B, g.typ(in.T)))}

	case zam.OpCheckAny:
		return g.checked(in.A, sv("CheckAny").Call(B, g.typ(in.T), g.loc(in.Loc)))

	case zam.OpNeg:
		return []jen.Code{A.Op("=").Add(sv("Negate").Call(B))}

	case zam.OpNot:
		return []jen.Code{A.Op("=").Add(sv("MakeBool").Call(jen.Op("!").Add(B).Dot("Bool").Call()))}

	case zam.OpCmp:
		name, ok := binOpNames[script.BinOp(in.V)]
		if !ok {
			g.fail("comparison %s", script.BinOp(in.V))
		}
		return []jen.Code{A.Op("=").Add(sv("MakeBool").Call(sv("CompareOp").Call(sv(name), B, C)))}

	case zam.OpSize:
		return g.checked(in.A, sv("Size").Call(B, g.loc(in.Loc)))

	case zam.OpIndex:
		return g.checked(in.A, sv("Index").Call(B, C, g.loc(in.Loc)))

	case zam.OpIndexAssign:
		return g.errOnly(sv("AssignIndex").Call(A, B, C, g.loc(in.Loc)))

	case zam.OpDelete:
		return g.errOnly(sv("DeleteIndex").Call(A, B, g.loc(in.Loc)))

	case zam.OpIn:
		return []jen.Code{jen.Block(
			jen.List(jen.Id("ok"), jen.Err()).Op(":=").Add(sv("Contains").Call(B, C, g.loc(in.Loc))),
			jen.If(jen.Err().Op("!=").Nil()).Block(failWith(jen.Err())),
			A.Op("=").Add(sv("MakeBool").Call(jen.Id("ok"))),
		)}

	case zam.OpTableCtor:
		body := []jen.Code{jen.Id("t").Op(":=").Add(sv("NewTable").Call(g.typ(in.T)))}
		for i := 0; i+1 < len(in.Aux); i += 2 {
			body = append(body, jen.Id("t").Dot("Assign").Call(slot(in.Aux[i]), slot(in.Aux[i+1])))
		}
		body = append(body, A.Op("=").Add(sv("MakeTable").Call(jen.Id("t"))))
		return []jen.Code{jen.Block(body...)}

	case zam.OpVectorCtor:
		body := []jen.Code{jen.Id("vec").Op(":=").Add(sv("NewVector").Call(g.typ(in.T)))}
		for _, e := range in.Aux {
			body = append(body, jen.Id("vec").Dot("Append").Call(slot(e)))
		}
		body = append(body, A.Op("=").Add(sv("MakeVector").Call(jen.Id("vec"))))
		return []jen.Code{jen.Block(body...)}

	case zam.OpGoto:
		return []jen.Code{gotoPC(in.C)}

	case zam.OpIfFalse:
		return []jen.Code{jen.If(jen.Op("!").Add(B).Dot("Bool").Call()).Block(gotoPC(in.C))}

	case zam.OpIfTrue:
		return []jen.Code{jen.If(B.Dot("Bool").Call()).Block(gotoPC(in.C))}

	case zam.OpSwitchI:
		var cases []jen.Code
		g.prog.IntCases[in.V].Entries(func(k int64, t int) {
			cases = append(cases, jen.Case(jen.Lit(k)).Block(gotoPC(int32(t))))
		})
		return g.switchOn(B.Dot("Int").Call(), cases, in.C)
	case zam.OpSwitchU:
		var cases []jen.Code
		g.prog.UintCases[in.V].Entries(func(k uint64, t int) {
			cases = append(cases, jen.Case(jen.Lit(k)).Block(gotoPC(int32(t))))
		})
		return g.switchOn(B.Dot("Count").Call(), cases, in.C)
	case zam.OpSwitchD:
		var cases []jen.Code
		g.prog.DoubleCases[in.V].Entries(func(k float64, t int) {
			cases = append(cases, jen.Case(floatExpr(k)).Block(gotoPC(int32(t))))
		})
		return g.switchOn(B.Dot("Double").Call(), cases, in.C)
	case zam.OpSwitchS:
		var cases []jen.Code
		g.prog.StringCases[in.V].Entries(func(k string, t int) {
			cases = append(cases, jen.Case(jen.Lit(k)).Block(gotoPC(int32(t))))
		})
		return g.switchOn(B.Dot("Str").Call(), cases, in.C)

	case zam.OpReturn:
		if in.B < 0 {
			return []jen.Code{jen.Return(sv("Void"), sv("FlowReturn"), jen.Nil())}
		}
		return []jen.Code{jen.Return(B, sv("FlowReturn"), jen.Nil())}

	case zam.OpHookBreak:
		return []jen.Code{jen.Return(sv("Void"), sv("FlowBreak"), jen.Nil())}

	case zam.OpMissingReturn:
		fail := g.runtimeErr("KindCall", in.Loc, "%s did not return a value", jen.Lit(g.prog.Consts[in.V].Str()))
		if in.B < 0 {
			return []jen.Code{fail}
		}
		return []jen.Code{jen.If(B.Dot("IsVoid").Call()).Block(fail)}

	case zam.OpInitTableLoop:
		return []jen.Code{jen.Block(
			jen.Id("t").Op(":=").Add(B).Dot("Table").Call(),
			jen.If(jen.Id("t").Op("==").Nil()).Block(
				g.runtimeErr("KindInvalidIterator", in.Loc, "cannot iterate over %s", B.Clone().Dot("Tag").Call()),
			),
			jen.Id("ti").Index(jen.Lit(int(in.V))).Dot("Begin").Call(jen.Id("t")),
		)}

	case zam.OpNextTableIter:
		val := jen.Id("_")
		if in.B >= 0 {
			val = jen.Id("v")
		}
		body := []jen.Code{
			jen.List(jen.Id("k"), val, jen.Id("ok")).Op(":=").Id("ti").Index(jen.Lit(int(in.V))).Dot("Next").Call(),
			jen.If(jen.Op("!").Id("ok")).Block(gotoPC(in.C)),
			A.Op("=").Id("k"),
		}
		if in.B >= 0 {
			body = append(body, B.Op("=").Id("v"))
		}
		return []jen.Code{jen.Block(body...)}

	case zam.OpEndTableLoop:
		return []jen.Code{jen.Id("ti").Index(jen.Lit(int(in.V))).Dot("Clear").Call()}

	case zam.OpInitVectorLoop:
		return []jen.Code{jen.Block(
			jen.Id("vec").Op(":=").Add(B).Dot("Vector").Call(),
			jen.If(jen.Id("vec").Op("==").Nil()).Block(
				g.runtimeErr("KindInvalidIterator", in.Loc, "cannot iterate over %s", B.Clone().Dot("Tag").Call()),
			),
			jen.Id("si").Index(jen.Lit(int(in.V))).Dot("Begin").Call(jen.Id("vec").Dot("Len").Call()),
		)}

	case zam.OpNextVectorIter:
		elem := jen.Id("_")
		if len(in.Aux) > 0 {
			elem = jen.Id("e")
		}
		body := []jen.Code{
			jen.List(jen.Id("i"), elem, jen.Id("ok")).Op(":=").Id("si").Index(jen.Lit(int(in.V))).Dot("Next").Call(B.Dot("Vector").Call()),
			jen.If(jen.Op("!").Id("ok")).Block(gotoPC(in.C)),
			A.Op("=").Add(sv("MakeCount").Call(jen.Id("i"))),
		}
		if len(in.Aux) > 0 {
			body = append(body, slot(in.Aux[0]).Op("=").Id("e"))
		}
		return []jen.Code{jen.Block(body...)}

	case zam.OpEndVectorLoop:
		return []jen.Code{jen.Id("si").Index(jen.Lit(int(in.V))).Dot("Clear").Call()}

	case zam.OpCall:
		return g.checked(in.A, jen.Id("ln").Dot("Func").Call(jen.Lit(int(in.V))).Dot("Call").Call(
			jen.Id("f").Dot("Env"), g.args(in.Aux)))

	case zam.OpCallIndirect:
		return g.checked(in.A, sv("CallValue").Call(jen.Id("f").Dot("Env"), B, g.args(in.Aux), g.loc(in.Loc)))

	case zam.OpCallBuiltin:
		return g.checked(in.A, sv("CallBuiltin").Call(
			jen.Id(g.ident+"Builtins").Index(jen.Lit(int(in.V))), g.args(in.Aux), g.loc(in.Loc)))

	case zam.OpPrint:
		return g.errOnly(sv("Print").Call(jen.Id("f").Dot("Env").Dot("Out"), g.args(in.Aux)))
	}

	if a, ok := arithOps[in.Op]; ok {
		return g.arith(in, a)
	}
	g.fail("opcode %s", in.Op)
	return nil
}

func (g *bodyGen) switchOn(disc jen.Code, cases []jen.Code, def int32) []jen.Code {
	if len(cases) == 0 {
		return []jen.Code{gotoPC(def)}
	}
	return []jen.Code{jen.Switch(disc).Block(cases...), gotoPC(def)}
}

func (g *bodyGen) arith(in *zam.Inst, a arith) []jen.Code {
	x := slot(in.B).Dot(a.get).Call()
	if !a.checked {
		return []jen.Code{slot(in.A).Op("=").Add(sv(a.make).Call(x.Op(a.op).Add(slot(in.C).Dot(a.get).Call())))}
	}
	var result jen.Code
	if in.Op == zam.OpModD {
		result = jen.Qual("math", "Mod").Call(x, jen.Id("y"))
	} else {
		result = x.Op(a.op).Id("y")
	}
	return []jen.Code{jen.Block(
		jen.Id("y").Op(":=").Add(slot(in.C)).Dot(a.get).Call(),
		jen.If(jen.Id("y").Op("==").Lit(0)).Block(
			g.runtimeErr("KindDivideByZero", in.Loc, "division by zero"),
		),
		slot(in.A).Op("=").Add(sv(a.make).Call(result)),
	)}
}

// sortedSkips orders skip records by name for stable reports.
func sortedSkips(s []Skip) []Skip {
	out := append([]Skip(nil), s...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
