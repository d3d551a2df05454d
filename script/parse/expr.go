package parse

import (
	"fmt"
	"strconv"

	"github.com/reyesj2/zeek/script"
)

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (p *Parser) parseExpr() script.Expr {
	return p.parseCond()
}

// parseExprWant parses an expression whose expected type is known, so
// that empty constructors can take it.
func (p *Parser) parseExprWant(want *script.Type) script.Expr {
	p.hint = want
	e := p.parseExpr()
	p.hint = nil
	return e
}

func (p *Parser) parseCond() script.Expr {
	start := p.cur
	x := p.parseOr()
	if !p.curIs(TokenQuestion) {
		return x
	}
	p.nextToken()
	x = p.requireBool(x, "condition")
	a := p.parseExpr()
	p.expect(TokenColon)
	b := p.parseExpr()
	t := p.unify(a, b, start.Pos)
	return &script.CondExpr{At: p.at(start), Cond: x, Then: p.convert(a, t, "branch"), Else: p.convert(b, t, "branch"), T: t}
}

func (p *Parser) parseOr() script.Expr {
	start := p.cur
	x := p.parseAnd()
	for p.curIs(TokenOr) {
		p.nextToken()
		y := p.parseAnd()
		x = &script.BinaryExpr{At: p.at(start), Op: script.OpOr,
			X: p.requireBool(x, "||"), Y: p.requireBool(y, "||"), T: script.BoolType}
	}
	return x
}

func (p *Parser) parseAnd() script.Expr {
	start := p.cur
	x := p.parseRel()
	for p.curIs(TokenAnd) {
		p.nextToken()
		y := p.parseRel()
		x = &script.BinaryExpr{At: p.at(start), Op: script.OpAnd,
			X: p.requireBool(x, "&&"), Y: p.requireBool(y, "&&"), T: script.BoolType}
	}
	return x
}

var relOps = map[TokenType]script.BinOp{
	TokenEq: script.OpEq, TokenNe: script.OpNe,
	TokenLt: script.OpLt, TokenLe: script.OpLe,
	TokenGt: script.OpGt, TokenGe: script.OpGe,
}

func (p *Parser) parseRel() script.Expr {
	start := p.cur
	x := p.parseAdd()
	for {
		if op, ok := relOps[p.cur.Type]; ok {
			p.nextToken()
			y := p.parseAdd()
			x = p.comparison(op, x, y, start)
			continue
		}
		if p.curKeyword("in") || p.curIs(TokenNotIn) {
			negate := p.curIs(TokenNotIn)
			p.nextToken()
			c := p.parseAdd()
			x = p.membership(x, c, start)
			if negate {
				x = &script.UnaryExpr{At: p.at(start), Op: script.OpNot, X: x, T: script.BoolType}
			}
			continue
		}
		return x
	}
}

func (p *Parser) comparison(op script.BinOp, x, y script.Expr, start Token) script.Expr {
	xt, yt := x.Type(), y.Type()
	switch {
	case xt.IsNumeric() && yt.IsNumeric():
		t := script.Promote(xt, yt)
		x, y = p.convert(x, t, "operand"), p.convert(y, t, "operand")
	case xt.Tag == script.TypeString && yt.Tag == script.TypeString:
	case xt.Tag == script.TypeBool && yt.Tag == script.TypeBool && (op == script.OpEq || op == script.OpNe):
	default:
		p.failAt(start.Pos, "cannot compare %s %s %s", xt, op, yt)
	}
	return &script.BinaryExpr{At: p.at(start), Op: op, X: x, Y: y, T: script.BoolType}
}

func (p *Parser) membership(key, c script.Expr, start Token) script.Expr {
	switch t := c.Type(); t.Tag {
	case script.TypeTable:
		key = p.convert(key, t.Index, "index")
	case script.TypeVector:
		if !key.Type().IsNumeric() {
			p.failAt(start.Pos, "vector membership needs a numeric index")
		}
	default:
		p.failAt(start.Pos, "'in' not defined for %s", t)
	}
	return &script.InExpr{At: p.at(start), Key: key, X: c}
}

func (p *Parser) parseAdd() script.Expr {
	start := p.cur
	x := p.parseMul()
	for p.curIs(TokenPlus) || p.curIs(TokenMinus) {
		op := script.OpAdd
		if p.curIs(TokenMinus) {
			op = script.OpSub
		}
		p.nextToken()
		x = p.arith(op, x, p.parseMul(), start)
	}
	return x
}

func (p *Parser) parseMul() script.Expr {
	start := p.cur
	x := p.parseUnary()
	for p.curIs(TokenStar) || p.curIs(TokenSlash) || p.curIs(TokenPct) {
		op := map[TokenType]script.BinOp{TokenStar: script.OpMul, TokenSlash: script.OpDiv, TokenPct: script.OpMod}[p.cur.Type]
		p.nextToken()
		x = p.arith(op, x, p.parseUnary(), start)
	}
	return x
}

func (p *Parser) arith(op script.BinOp, x, y script.Expr, start Token) script.Expr {
	xt, yt := x.Type(), y.Type()
	switch {
	case xt.IsNumeric() && yt.IsNumeric():
		t := script.Promote(xt, yt)
		return &script.BinaryExpr{At: p.at(start), Op: op, X: p.convert(x, t, "operand"), Y: p.convert(y, t, "operand"), T: t}
	case op == script.OpAdd && xt.Tag == script.TypeString && yt.Tag == script.TypeString:
		return &script.BinaryExpr{At: p.at(start), Op: op, X: x, Y: y, T: script.StringType}
	}
	p.failAt(start.Pos, "operator %s not defined for %s and %s", op, xt, yt)
	return nil
}

func (p *Parser) parseUnary() script.Expr {
	start := p.cur
	switch {
	case p.curIs(TokenMinus):
		p.nextToken()
		x := p.parseUnary()
		if !x.Type().IsNumeric() {
			p.failAt(start.Pos, "cannot negate %s", x.Type())
		}
		t := x.Type()
		if t.Tag == script.TypeCount {
			t = script.IntType
		}
		if c, ok := x.(*script.ConstExpr); ok {
			return &script.ConstExpr{At: p.at(start), Val: script.Negate(c.Val), T: t}
		}
		return &script.UnaryExpr{At: p.at(start), Op: script.OpNeg, X: x, T: t}
	case p.curIs(TokenPlus):
		p.nextToken()
		x := p.parseUnary()
		if !x.Type().IsNumeric() {
			p.failAt(start.Pos, "unary + needs a number")
		}
		if x.Type().Tag == script.TypeCount {
			return p.convert(x, script.IntType, "operand")
		}
		return x
	case p.curIs(TokenNot):
		p.nextToken()
		x := p.requireBool(p.parseUnary(), "!")
		return &script.UnaryExpr{At: p.at(start), Op: script.OpNot, X: x, T: script.BoolType}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() script.Expr {
	start := p.cur
	x := p.parsePrimary()
	for {
		switch {
		case p.curIs(TokenLParen):
			x = p.parseCall(x, start)
		case p.curIs(TokenLBracket):
			p.nextToken()
			idx := p.parseExpr()
			p.expect(TokenRBracket)
			x = p.index(x, idx, start)
		case p.curKeyword("as"):
			p.nextToken()
			t := p.parseType()
			x = p.cast(x, t, start)
		default:
			return x
		}
	}
}

func (p *Parser) index(x, idx script.Expr, start Token) script.Expr {
	switch t := x.Type(); t.Tag {
	case script.TypeTable:
		return &script.IndexExpr{At: p.at(start), X: x, Index: p.convert(idx, t.Index, "index"), T: t.Yield}
	case script.TypeVector:
		if !idx.Type().IsNumeric() || idx.Type().Tag == script.TypeDouble {
			p.failAt(start.Pos, "vector index must be int or count")
		}
		return &script.IndexExpr{At: p.at(start), X: x, Index: idx, T: t.Yield}
	}
	p.failAt(start.Pos, "cannot index %s", x.Type())
	return nil
}

func (p *Parser) cast(x script.Expr, t *script.Type, start Token) script.Expr {
	from := x.Type()
	switch {
	case from.Tag == script.TypeAny:
	case from.IsNumeric() && t.IsNumeric():
	case script.SameType(from, t):
		return x
	default:
		p.failAt(start.Pos, "cannot cast %s to %s", from, t)
	}
	return &script.CastExpr{At: p.at(start), X: x, T: t}
}

func (p *Parser) parseArgs() []script.Expr {
	p.expect(TokenLParen)
	var args []script.Expr
	for !p.curIs(TokenRParen) {
		if len(args) > 0 {
			p.expect(TokenComma)
		}
		args = append(args, p.parseExpr())
	}
	p.expect(TokenRParen)
	return args
}

func (p *Parser) parseCall(fn script.Expr, start Token) script.Expr {
	t := fn.Type()
	if t.Tag != script.TypeFunc {
		p.failAt(start.Pos, "cannot call %s", t)
	}
	if n, ok := fn.(*script.NameExpr); ok && n.ID.Kind == script.IDFunc && n.ID.Func.Flavor == script.FlavorEvent {
		p.failAt(start.Pos, "event %s cannot be called directly", n.ID.Name)
	}
	args := p.parseArgs()
	if len(args) != len(t.Params) {
		p.failAt(start.Pos, "call expects %d arguments, got %d", len(t.Params), len(args))
	}
	for i, prm := range t.Params {
		args[i] = p.convert(args[i], prm.Type, fmt.Sprintf("argument %d", i+1))
	}
	return &script.CallExpr{At: p.at(start), Fn: fn, Args: args, T: t.Yield}
}

func (p *Parser) parseBuiltin(b *script.Builtin, start Token) script.Expr {
	args := p.parseArgs()
	if !b.Variadic {
		if len(args) != len(b.Params) {
			p.failAt(start.Pos, "%s expects %d arguments, got %d", b.Name, len(b.Params), len(args))
		}
		for i, pt := range b.Params {
			args[i] = p.convert(args[i], pt, fmt.Sprintf("argument %d", i+1))
		}
	}
	return &script.BuiltinExpr{At: p.at(start), Builtin: b, Args: args, T: b.Result}
}

func (p *Parser) parsePrimary() script.Expr {
	start := p.cur
	hint := p.hint
	p.hint = nil

	switch p.cur.Type {
	case TokenInt:
		p.nextToken()
		n, err := strconv.ParseUint(start.Literal, 10, 64)
		if err != nil {
			p.failAt(start.Pos, "bad integer %s", start.Literal)
		}
		return &script.ConstExpr{At: p.at(start), Val: script.MakeCount(n), T: script.CountType}
	case TokenFloat:
		p.nextToken()
		f, err := strconv.ParseFloat(start.Literal, 64)
		if err != nil {
			p.failAt(start.Pos, "bad number %s", start.Literal)
		}
		return &script.ConstExpr{At: p.at(start), Val: script.MakeDouble(f), T: script.DoubleType}
	case TokenString:
		p.nextToken()
		return &script.ConstExpr{At: p.at(start), Val: script.MakeString(start.Literal), T: script.StringType}
	case TokenLParen:
		p.nextToken()
		p.hint = hint
		x := p.parseExpr()
		p.hint = nil
		p.expect(TokenRParen)
		return x
	case TokenBar:
		p.nextToken()
		x := p.parseExpr()
		p.expect(TokenBar)
		var t *script.Type
		switch x.Type().Tag {
		case script.TypeTable, script.TypeVector, script.TypeString, script.TypeInt, script.TypeCount:
			t = script.CountType
		case script.TypeDouble:
			t = script.DoubleType
		default:
			p.failAt(start.Pos, "size of %s is not defined", x.Type())
		}
		return &script.SizeExpr{At: p.at(start), X: x, T: t}
	case TokenIdent:
	default:
		p.fail("unexpected %s", p.cur)
	}

	switch start.Literal {
	case "T", "F":
		p.nextToken()
		return &script.ConstExpr{At: p.at(start), Val: script.MakeBool(start.Literal == "T"), T: script.BoolType}
	case "table":
		return p.parseTableCtor(hint)
	case "vector":
		return p.parseVectorCtor(hint)
	case "function":
		return p.parseLambda()
	}

	name := p.ident()
	if id := p.lookup(name); id != nil {
		return &script.NameExpr{At: p.at(start), ID: id}
	}
	if b := script.LookupBuiltin(name); b != nil && p.curIs(TokenLParen) {
		return p.parseBuiltin(b, start)
	}
	p.failAt(start.Pos, "unknown identifier %s", name)
	return nil
}

// lookup resolves a name: locals, captures, globals, functions.
func (p *Parser) lookup(name string) *script.ID {
	if p.fc != nil {
		if id, ok := p.fc.names[name]; ok {
			return id
		}
		if id, ok := p.fc.captures[name]; ok {
			return id
		}
	}
	if id, ok := p.mod.globals[name]; ok {
		return id
	}
	if id, ok := p.mod.funcs[name]; ok {
		return id
	}
	return nil
}

func (p *Parser) parseTableCtor(hint *script.Type) script.Expr {
	start := p.cur
	p.nextToken()
	p.expect(TokenLParen)
	var keys, vals []script.Expr
	for !p.curIs(TokenRParen) {
		if len(keys) > 0 {
			p.expect(TokenComma)
		}
		p.expect(TokenLBracket)
		keys = append(keys, p.parseExpr())
		p.expect(TokenRBracket)
		p.expect(TokenAssign)
		vals = append(vals, p.parseExpr())
	}
	p.expect(TokenRParen)

	t := hint
	if t == nil || t.Tag != script.TypeTable {
		if len(keys) == 0 {
			p.failAt(start.Pos, "cannot infer the type of an empty table")
		}
		t = script.TableOf(keys[0].Type(), vals[0].Type())
		if !t.Index.IsAtomic() {
			p.failAt(start.Pos, "table index must be atomic, not %s", t.Index)
		}
	}
	for i := range keys {
		keys[i] = p.convert(keys[i], t.Index, "table index")
		vals[i] = p.convert(vals[i], t.Yield, "table value")
	}
	return &script.TableCtor{At: p.at(start), T: t, Keys: keys, Vals: vals}
}

func (p *Parser) parseVectorCtor(hint *script.Type) script.Expr {
	start := p.cur
	p.nextToken()
	elems := p.parseArgs()
	t := hint
	if t == nil || t.Tag != script.TypeVector {
		if len(elems) == 0 {
			p.failAt(start.Pos, "cannot infer the type of an empty vector")
		}
		t = script.VectorOf(elems[0].Type())
	}
	for i := range elems {
		elems[i] = p.convert(elems[i], t.Yield, "vector element")
	}
	return &script.VectorCtor{At: p.at(start), T: t, Elems: elems}
}

func (p *Parser) parseLambda() script.Expr {
	start := p.cur
	p.nextToken()
	var outerIDs, capIDs []*script.ID
	if p.curIs(TokenLBracket) {
		p.nextToken()
		for !p.curIs(TokenRBracket) {
			if len(outerIDs) > 0 {
				p.expect(TokenComma)
			}
			pos := p.cur.Pos
			name := p.ident()
			id := p.lookup(name)
			if id == nil || id.Kind == script.IDGlobal || id.Kind == script.IDFunc {
				p.failAt(pos, "cannot capture %s", name)
			}
			outerIDs = append(outerIDs, id)
			capIDs = append(capIDs, &script.ID{Name: name, Type: id.Type, Kind: script.IDCapture, Offset: len(capIDs)})
		}
		p.expect(TokenRBracket)
	}
	params := p.parseParams()
	var yield *script.Type
	if p.curIs(TokenColon) {
		p.nextToken()
		yield = p.parseType()
	}

	outerName := "global"
	if p.fc != nil && p.fc.fn != nil {
		outerName = p.fc.fn.Name
	}
	n := 0
	if p.fc != nil {
		p.fc.lambdas++
		n = p.fc.lambdas
	}
	fn := &script.Func{
		Name:     fmt.Sprintf("%s#lambda%d", outerName, n),
		Flavor:   script.FlavorFunction,
		Type:     script.FuncOf(params, yield),
		File:     p.file.Name,
		Loc:      p.loc(start),
		Captures: capIDs,
		IsLambda: true,
	}
	saved := p.hint
	fn.AddBody(p.parseBody(fn, params))
	p.hint = saved
	return &script.LambdaExpr{At: p.at(start), Func: fn, Captures: outerIDs}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

func (p *Parser) requireBool(x script.Expr, what string) script.Expr {
	if x.Type().Tag != script.TypeBool {
		p.failAt(p.cur.Pos, "%s must be bool, not %s", what, x.Type())
	}
	return x
}

// unify returns the common type of two branches.
func (p *Parser) unify(a, b script.Expr, pos Position) *script.Type {
	at, bt := a.Type(), b.Type()
	if at.IsNumeric() && bt.IsNumeric() {
		return script.Promote(at, bt)
	}
	if !script.SameType(at, bt) {
		p.failAt(pos, "branches have different types %s and %s", at, bt)
	}
	return at
}

// convert checks that x may be used where want is expected and inserts
// numeric coercions. Constants are converted in place.
func (p *Parser) convert(x script.Expr, want *script.Type, what string) script.Expr {
	have := x.Type()
	switch {
	case script.SameType(have, want):
		return x
	case want.Tag == script.TypeAny && have.Tag != script.TypeVoid:
		return x
	case have.IsNumeric() && want.IsNumeric():
		if c, ok := x.(*script.ConstExpr); ok {
			return &script.ConstExpr{At: c.At, Val: script.Coerce(c.Val, want), T: want}
		}
		return &script.CoerceExpr{At: script.At{L: x.Loc()}, X: x, T: want}
	case have.Tag == script.TypeAny:
		p.failAt(p.prev.Pos, "%s: any must be converted with 'as %s'", what, want)
	}
	p.failAt(p.prev.Pos, "%s: type mismatch, %s is not %s", what, have, want)
	return nil
}
