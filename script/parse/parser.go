package parse

import (
	"fmt"
	"io"
	"strconv"

	"github.com/reyesj2/zeek/script"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent with name resolution and type checking
// ---------------------------------------------------------------------------

// Error is a parse or type error.
type Error struct {
	File string
	Pos  Position
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Pos.Line, e.Pos.Column, e.Msg)
}

// File is the result of parsing one source file.
type File struct {
	Name    string
	Globals []*script.Global
	Funcs   []*script.Func
}

// Func returns the named function declared in the file, or nil.
func (f *File) Func(name string) *script.Func {
	for _, fn := range f.Funcs {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// Global returns the named global declared in the file, or nil.
func (f *File) Global(name string) *script.Global {
	for _, g := range f.Globals {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// Module accumulates declarations across files; later files see the
// globals and functions of earlier ones.
type Module struct {
	globals map[string]*script.ID
	funcs   map[string]*script.ID
	Files   []*File
}

// NewModule creates an empty module.
func NewModule() *Module {
	return &Module{globals: map[string]*script.ID{}, funcs: map[string]*script.ID{}}
}

// Funcs returns every function in declaration order across files.
func (m *Module) Funcs() []*script.Func {
	var out []*script.Func
	seen := map[*script.Func]bool{}
	for _, f := range m.Files {
		for _, fn := range f.Funcs {
			if !seen[fn] {
				seen[fn] = true
				out = append(out, fn)
			}
		}
	}
	return out
}

// Func returns the named function, or nil.
func (m *Module) Func(name string) *script.Func {
	if id, ok := m.funcs[name]; ok {
		return id.Func
	}
	return nil
}

// Global returns the named global, or nil.
func (m *Module) Global(name string) *script.Global {
	if id, ok := m.globals[name]; ok {
		return id.Global
	}
	return nil
}

// ParseFile parses src as a standalone file.
func ParseFile(name, src string) (*File, error) {
	return NewModule().ParseFile(name, src)
}

// ParseFile parses src in the context of the module.
func (m *Module) ParseFile(name, src string) (f *File, err error) {
	p := &Parser{
		lexer: NewLexer(src),
		mod:   m,
		file:  &File{Name: name},
		env:   script.NewEnv(io.Discard),
	}
	p.nextToken()
	p.nextToken()

	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			f, err = nil, perr
		}
	}()
	for !p.curIs(TokenEOF) {
		p.parseDecl()
	}
	m.Files = append(m.Files, p.file)
	return p.file, nil
}

// Parser holds parse state for one file.
type Parser struct {
	lexer *Lexer
	cur   Token
	peek  Token
	prev  Token

	mod  *Module
	file *File
	env  *script.Env
	fc   *funcCtx
	hint *script.Type
}

// funcCtx is the resolution context of the body being parsed.
type funcCtx struct {
	fn       *script.Func
	scope    *script.Scope
	names    map[string]*script.ID
	captures map[string]*script.ID
	outer    *funcCtx
	loops    int
	switches int
	lambdas  int
}

func (p *Parser) nextToken() {
	p.prev = p.cur
	p.cur = p.peek
	p.peek = p.lexer.NextToken()
	if p.peek.Type == TokenError {
		p.failAt(p.peek.Pos, "unexpected %q", p.peek.Literal)
	}
}

func (p *Parser) curIs(t TokenType) bool { return p.cur.Type == t }

func (p *Parser) curKeyword(kw string) bool {
	return p.cur.Type == TokenIdent && p.cur.Literal == kw
}

func (p *Parser) failAt(pos Position, format string, args ...any) {
	panic(&Error{File: p.file.Name, Pos: pos, Msg: fmt.Sprintf(format, args...)})
}

func (p *Parser) fail(format string, args ...any) {
	p.failAt(p.cur.Pos, format, args...)
}

func (p *Parser) expect(t TokenType) Token {
	if !p.curIs(t) {
		p.fail("expected %s, got %s", t, p.cur)
	}
	tok := p.cur
	p.nextToken()
	return tok
}

func (p *Parser) expectKeyword(kw string) {
	if !p.curKeyword(kw) {
		p.fail("expected %q, got %s", kw, p.cur)
	}
	p.nextToken()
}

func (p *Parser) ident() string {
	return p.expect(TokenIdent).Literal
}

// loc spans from start to the last consumed token.
func (p *Parser) loc(start Token) *script.Location {
	last := p.prev.Pos.Line
	if last < start.Pos.Line {
		last = start.Pos.Line
	}
	return &script.Location{File: p.file.Name, FirstLine: start.Pos.Line, LastLine: last, Column: start.Pos.Column}
}

func (p *Parser) at(start Token) script.At { return script.At{L: p.loc(start)} }

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

var keywords = map[string]bool{
	"global": true, "const": true, "local": true, "function": true, "event": true,
	"hook": true, "if": true, "else": true, "while": true, "for": true, "in": true,
	"switch": true, "case": true, "default": true, "break": true, "next": true,
	"fallthrough": true, "return": true, "print": true, "delete": true,
	"table": true, "vector": true, "of": true, "as": true, "T": true, "F": true,
}

func (p *Parser) declName() string {
	name := p.ident()
	if keywords[name] {
		p.failAt(p.prev.Pos, "%q is a reserved word", name)
	}
	return name
}

func (p *Parser) parseDecl() {
	switch {
	case p.curKeyword("global"), p.curKeyword("const"):
		p.parseGlobal()
	case p.curKeyword("function"):
		p.parseFuncDecl(script.FlavorFunction)
	case p.curKeyword("event"):
		p.parseFuncDecl(script.FlavorEvent)
	case p.curKeyword("hook"):
		p.parseFuncDecl(script.FlavorHook)
	default:
		p.fail("expected declaration, got %s", p.cur)
	}
}

func (p *Parser) parseGlobal() {
	start := p.cur
	isConst := p.curKeyword("const")
	p.nextToken()
	name := p.declName()
	if p.mod.globals[name] != nil || p.mod.funcs[name] != nil {
		p.failAt(p.prev.Pos, "%s redeclared", name)
	}

	var typ *script.Type
	if p.curIs(TokenColon) {
		p.nextToken()
		typ = p.parseType()
	}
	var init script.Expr
	if p.curIs(TokenAssign) {
		p.nextToken()
		p.fc = &funcCtx{scope: &script.Scope{}, names: map[string]*script.ID{}}
		init = p.parseExprWant(typ)
		p.fc = nil
		if typ == nil {
			typ = init.Type()
		}
		init = p.convert(init, typ, "initializer")
	} else if isConst {
		p.fail("const %s needs an initializer", name)
	}
	if typ == nil {
		p.failAt(start.Pos, "%s needs a type or an initializer", name)
	}
	p.expect(TokenSemi)

	g := &script.Global{Name: name, Type: typ, Const: isConst, Loc: p.loc(start)}
	if init != nil {
		v, err := script.Eval(&script.Frame{Env: p.env}, init)
		if err != nil {
			p.failAt(start.Pos, "initializing %s: %v", name, err)
		}
		g.Value = script.Coerce(v, typ)
	} else {
		g.Value = script.ZeroValue(typ)
	}
	p.mod.globals[name] = &script.ID{Name: name, Type: typ, Kind: script.IDGlobal, Global: g}
	p.file.Globals = append(p.file.Globals, g)
}

func (p *Parser) parseParams() []script.Param {
	p.expect(TokenLParen)
	var params []script.Param
	for !p.curIs(TokenRParen) {
		if len(params) > 0 {
			p.expect(TokenComma)
		}
		name := p.declName()
		p.expect(TokenColon)
		params = append(params, script.Param{Name: name, Type: p.parseType()})
	}
	p.expect(TokenRParen)
	return params
}

func (p *Parser) parseFuncDecl(flavor script.Flavor) {
	start := p.cur
	p.nextToken()
	name := p.declName()
	if p.mod.globals[name] != nil {
		p.failAt(p.prev.Pos, "%s redeclared", name)
	}
	params := p.parseParams()
	var yield *script.Type
	if p.curIs(TokenColon) {
		if flavor != script.FlavorFunction {
			p.fail("%s %s cannot declare a return type", flavor, name)
		}
		p.nextToken()
		yield = p.parseType()
	}
	if flavor == script.FlavorHook {
		yield = script.BoolType
	}
	typ := script.FuncOf(params, yield)

	priority := 0
	for p.curIs(TokenAttr) {
		attr := p.cur.Literal
		p.nextToken()
		if attr != "priority" {
			p.failAt(p.prev.Pos, "unknown attribute &%s", attr)
		}
		p.expect(TokenAssign)
		neg := false
		if p.curIs(TokenMinus) {
			neg = true
			p.nextToken()
		}
		n, err := strconv.Atoi(p.expect(TokenInt).Literal)
		if err != nil {
			p.failAt(p.prev.Pos, "bad priority: %v", err)
		}
		if neg {
			n = -n
		}
		priority = n
	}

	fn := p.declareFunc(name, flavor, typ, start)
	if p.curIs(TokenSemi) {
		p.nextToken()
		return
	}
	if flavor == script.FlavorFunction && len(fn.Bodies) > 0 {
		p.failAt(start.Pos, "function %s already has a body", name)
	}
	body := p.parseBody(fn, params)
	body.Priority = priority
	fn.AddBody(body)
}

func (p *Parser) declareFunc(name string, flavor script.Flavor, typ *script.Type, start Token) *script.Func {
	if id, ok := p.mod.funcs[name]; ok {
		fn := id.Func
		if fn.Flavor != flavor || !script.SameType(fn.Type, typ) {
			p.failAt(start.Pos, "%s redeclared with a different signature", name)
		}
		if p.file.Func(name) == nil {
			p.file.Funcs = append(p.file.Funcs, fn)
		}
		return fn
	}
	fn := &script.Func{Name: name, Flavor: flavor, Type: typ, File: p.file.Name, Loc: p.loc(start)}
	p.mod.funcs[name] = &script.ID{Name: name, Type: typ, Kind: script.IDFunc, Func: fn}
	p.file.Funcs = append(p.file.Funcs, fn)
	return fn
}

// parseBody parses a brace-delimited body in a fresh scope.
func (p *Parser) parseBody(fn *script.Func, params []script.Param) *script.Body {
	start := p.cur
	outer := p.fc
	fc := &funcCtx{fn: fn, scope: &script.Scope{}, names: map[string]*script.ID{}, outer: outer}
	if outer != nil {
		fc.lambdas = outer.lambdas
	}
	for _, prm := range params {
		id := &script.ID{Name: prm.Name, Type: prm.Type, Kind: script.IDParam, Offset: fc.scope.FrameSize}
		fc.scope.Params = append(fc.scope.Params, id)
		fc.scope.FrameSize++
		fc.names[prm.Name] = id
	}
	for _, id := range fn.Captures {
		fc.captures = mapWith(fc.captures, id.Name, id)
	}
	p.fc = fc
	stmt := p.parseBlock()
	p.fc = outer
	if outer != nil {
		outer.lambdas = fc.lambdas
	}
	return &script.Body{Stmt: stmt, Scope: fc.scope, Loc: p.loc(start)}
}

func mapWith(m map[string]*script.ID, k string, v *script.ID) map[string]*script.ID {
	if m == nil {
		m = map[string]*script.ID{}
	}
	m[k] = v
	return m
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

func (p *Parser) parseType() *script.Type {
	tok := p.expect(TokenIdent)
	switch tok.Literal {
	case "bool":
		return script.BoolType
	case "int":
		return script.IntType
	case "count":
		return script.CountType
	case "double":
		return script.DoubleType
	case "string":
		return script.StringType
	case "any":
		return script.AnyType
	case "table":
		p.expect(TokenLBracket)
		idx := p.parseType()
		if !idx.IsAtomic() {
			p.failAt(tok.Pos, "table index must be atomic, not %s", idx)
		}
		p.expect(TokenRBracket)
		p.expectKeyword("of")
		return script.TableOf(idx, p.parseType())
	case "vector":
		p.expectKeyword("of")
		return script.VectorOf(p.parseType())
	case "function":
		params := p.parseParams()
		var yield *script.Type
		if p.curIs(TokenColon) {
			p.nextToken()
			yield = p.parseType()
		}
		return script.FuncOf(params, yield)
	}
	p.failAt(tok.Pos, "unknown type %q", tok.Literal)
	return nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseBlock() *script.BlockStmt {
	start := p.expect(TokenLBrace)
	var stmts []script.Stmt
	for !p.curIs(TokenRBrace) {
		if p.curIs(TokenEOF) {
			p.fail("unexpected EOF in block")
		}
		stmts = append(stmts, p.parseStmt())
	}
	p.expect(TokenRBrace)
	return &script.BlockStmt{At: p.at(start), Stmts: stmts}
}

func (p *Parser) parseStmt() script.Stmt {
	start := p.cur
	switch {
	case p.curIs(TokenLBrace):
		return p.parseBlock()
	case p.curIs(TokenSemi):
		p.nextToken()
		return &script.NullStmt{At: p.at(start)}
	case p.curKeyword("local"):
		return p.parseLocal()
	case p.curKeyword("print"):
		p.nextToken()
		args := []script.Expr{p.parseExpr()}
		for p.curIs(TokenComma) {
			p.nextToken()
			args = append(args, p.parseExpr())
		}
		p.expect(TokenSemi)
		return &script.PrintStmt{At: p.at(start), Args: args}
	case p.curKeyword("if"):
		p.nextToken()
		p.expect(TokenLParen)
		cond := p.requireBool(p.parseExpr(), "if condition")
		p.expect(TokenRParen)
		then := p.parseStmt()
		var els script.Stmt
		if p.curKeyword("else") {
			p.nextToken()
			els = p.parseStmt()
		}
		return &script.IfStmt{At: p.at(start), Cond: cond, Then: then, Else: els}
	case p.curKeyword("while"):
		p.nextToken()
		p.expect(TokenLParen)
		cond := p.requireBool(p.parseExpr(), "while condition")
		p.expect(TokenRParen)
		p.fc.loops++
		body := p.parseStmt()
		p.fc.loops--
		return &script.WhileStmt{At: p.at(start), Cond: cond, Body: body}
	case p.curKeyword("for"):
		return p.parseFor()
	case p.curKeyword("switch"):
		return p.parseSwitch()
	case p.curKeyword("break"):
		p.nextToken()
		p.expect(TokenSemi)
		if p.fc.loops == 0 && p.fc.switches == 0 && p.fc.fn.Flavor != script.FlavorHook {
			p.failAt(start.Pos, "break outside of loop or switch")
		}
		return &script.BreakStmt{At: p.at(start)}
	case p.curKeyword("next"):
		p.nextToken()
		p.expect(TokenSemi)
		if p.fc.loops == 0 {
			p.failAt(start.Pos, "next outside of loop")
		}
		return &script.NextStmt{At: p.at(start)}
	case p.curKeyword("fallthrough"):
		p.nextToken()
		p.expect(TokenSemi)
		if p.fc.switches == 0 {
			p.failAt(start.Pos, "fallthrough outside of switch")
		}
		return &script.FallthroughStmt{At: p.at(start)}
	case p.curKeyword("return"):
		return p.parseReturn()
	case p.curKeyword("delete"):
		p.nextToken()
		x := p.parseExpr()
		p.expect(TokenSemi)
		ix, ok := x.(*script.IndexExpr)
		if !ok || ix.X.Type().Tag != script.TypeTable {
			p.failAt(start.Pos, "delete needs a table element")
		}
		return &script.DeleteStmt{At: p.at(start), X: ix.X, Index: ix.Index}
	}

	x := p.parseExpr()
	if p.curIs(TokenAssign) {
		p.nextToken()
		target := p.checkTarget(x, start)
		v := p.convert(p.parseExprWant(target.Type()), target.Type(), "assignment")
		p.expect(TokenSemi)
		return &script.AssignStmt{At: p.at(start), Target: target, Value: v}
	}
	p.expect(TokenSemi)
	return &script.ExprStmt{At: p.at(start), X: x}
}

func (p *Parser) checkTarget(x script.Expr, start Token) script.Expr {
	switch t := x.(type) {
	case *script.NameExpr:
		switch t.ID.Kind {
		case script.IDFunc:
			p.failAt(start.Pos, "cannot assign to function %s", t.ID.Name)
		case script.IDGlobal:
			if t.ID.Global.Const {
				p.failAt(start.Pos, "cannot assign to const %s", t.ID.Name)
			}
		}
		return t
	case *script.IndexExpr:
		return t
	}
	p.failAt(start.Pos, "invalid assignment target")
	return nil
}

// declareLocal returns the frame slot for name, reusing an existing local
// of the same type.
func (p *Parser) declareLocal(name string, typ *script.Type, pos Position) *script.ID {
	if id, ok := p.fc.names[name]; ok {
		if id.Kind != script.IDLocal || !script.SameType(id.Type, typ) {
			p.failAt(pos, "%s redeclared as %s", name, typ)
		}
		return id
	}
	id := p.fc.scope.AddLocal(name, typ)
	p.fc.names[name] = id
	return id
}

func (p *Parser) parseLocal() script.Stmt {
	start := p.cur
	p.nextToken()
	namePos := p.cur.Pos
	name := p.declName()
	var typ *script.Type
	if p.curIs(TokenColon) {
		p.nextToken()
		typ = p.parseType()
	}
	var init script.Expr
	if p.curIs(TokenAssign) {
		p.nextToken()
		init = p.parseExprWant(typ)
		if typ == nil {
			typ = init.Type()
		}
		if typ.Tag == script.TypeVoid {
			p.failAt(namePos, "cannot declare %s from a void expression", name)
		}
		init = p.convert(init, typ, "initializer")
	}
	if typ == nil {
		p.failAt(namePos, "%s needs a type or an initializer", name)
	}
	p.expect(TokenSemi)
	id := p.declareLocal(name, typ, namePos)
	return &script.LocalStmt{At: p.at(start), ID: id, Init: init}
}

func (p *Parser) parseFor() script.Stmt {
	start := p.cur
	p.nextToken()
	p.expect(TokenLParen)
	keyPos := p.cur.Pos
	keyName := p.declName()
	valName := ""
	if p.curIs(TokenComma) {
		p.nextToken()
		valName = p.declName()
	}
	p.expectKeyword("in")
	over := p.parseExpr()
	p.expect(TokenRParen)

	var keyType, valType *script.Type
	switch t := over.Type(); t.Tag {
	case script.TypeTable:
		keyType, valType = t.Index, t.Yield
	case script.TypeVector:
		keyType, valType = script.CountType, t.Yield
	default:
		p.failAt(keyPos, "cannot iterate over %s", t)
	}
	key := p.declareLocal(keyName, keyType, keyPos)
	var val *script.ID
	if valName != "" {
		val = p.declareLocal(valName, valType, keyPos)
	}
	p.fc.loops++
	body := p.parseStmt()
	p.fc.loops--
	return &script.ForStmt{At: p.at(start), Key: key, Value: val, Over: over, Body: body}
}

func (p *Parser) parseSwitch() script.Stmt {
	start := p.cur
	p.nextToken()
	x := p.parseExpr()
	if !x.Type().IsAtomic() {
		p.failAt(start.Pos, "cannot switch on %s", x.Type())
	}
	p.expect(TokenLBrace)
	p.fc.switches++
	var cases []*script.Case
	seen := map[string]bool{}
	hasDefault := false
	for !p.curIs(TokenRBrace) {
		cstart := p.cur
		var labels []script.Expr
		switch {
		case p.curKeyword("case"):
			p.nextToken()
			for {
				lpos := p.cur.Pos
				l := p.convert(p.parseExpr(), x.Type(), "case label")
				c, ok := l.(*script.ConstExpr)
				if !ok {
					p.failAt(lpos, "case label must be a constant")
				}
				key := c.Val.GoString()
				if seen[key] {
					p.failAt(lpos, "duplicate case label %s", c.Val)
				}
				seen[key] = true
				labels = append(labels, c)
				if !p.curIs(TokenComma) {
					break
				}
				p.nextToken()
			}
		case p.curKeyword("default"):
			if hasDefault {
				p.fail("duplicate default case")
			}
			hasDefault = true
			p.nextToken()
		default:
			p.fail("expected case or default, got %s", p.cur)
		}
		p.expect(TokenColon)
		bstart := p.cur
		var stmts []script.Stmt
		for !p.curKeyword("case") && !p.curKeyword("default") && !p.curIs(TokenRBrace) {
			if p.curIs(TokenEOF) {
				p.fail("unexpected EOF in switch")
			}
			stmts = append(stmts, p.parseStmt())
		}
		body := &script.BlockStmt{At: p.at(bstart), Stmts: stmts}
		cases = append(cases, &script.Case{At: p.at(cstart), Labels: labels, Body: body})
	}
	p.expect(TokenRBrace)
	p.fc.switches--
	return &script.SwitchStmt{At: p.at(start), X: x, Cases: cases}
}

func (p *Parser) parseReturn() script.Stmt {
	start := p.cur
	p.nextToken()
	yield := p.fc.fn.Type.Yield
	if p.fc.fn.Flavor != script.FlavorFunction {
		yield = script.VoidType
	}
	if p.curIs(TokenSemi) {
		p.nextToken()
		if yield.Tag != script.TypeVoid {
			p.failAt(start.Pos, "%s must return a %s", p.fc.fn.Name, yield)
		}
		return &script.ReturnStmt{At: p.at(start)}
	}
	if yield.Tag == script.TypeVoid {
		p.failAt(start.Pos, "%s cannot return a value", p.fc.fn.Name)
	}
	x := p.convert(p.parseExprWant(yield), yield, "return value")
	p.expect(TokenSemi)
	return &script.ReturnStmt{At: p.at(start), X: x}
}
