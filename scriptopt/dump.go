package scriptopt

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/reyesj2/zeek/script"
)

// Fprint writes body as script source. Inlined calls print as a block
// expression naming the callee, and compiled bodies print as a marker.
func Fprint(w io.Writer, fn *script.Func, body *script.Body) error {
	p := &printer{}
	fmt.Fprintf(&p.sb, "%s %s%s", fn.Flavor, fn.Name, strings.TrimPrefix(fn.Type.String(), "function"))
	if body.Priority != 0 {
		fmt.Fprintf(&p.sb, " &priority=%d", body.Priority)
	}
	p.sb.WriteByte('\n')
	p.block(body.Stmt)
	_, err := io.WriteString(w, p.sb.String())
	return err
}

type printer struct {
	sb     strings.Builder
	indent int
}

func (p *printer) line(format string, args ...any) {
	p.sb.WriteString(strings.Repeat("\t", p.indent))
	fmt.Fprintf(&p.sb, format, args...)
	p.sb.WriteByte('\n')
}

// block prints s braced at the current indentation, Zeek style.
func (p *printer) block(s script.Stmt) {
	p.indent++
	p.line("{")
	if b, ok := s.(*script.BlockStmt); ok {
		for _, st := range b.Stmts {
			p.stmt(st)
		}
	} else {
		p.stmt(s)
	}
	p.line("}")
	p.indent--
}

func (p *printer) stmt(s script.Stmt) {
	switch s := s.(type) {
	case *script.ExprStmt:
		p.line("%s;", p.expr(s.X))
	case *script.AssignStmt:
		p.line("%s = %s;", p.expr(s.Target), p.expr(s.Value))
	case *script.LocalStmt:
		if s.Init == nil {
			p.line("local %s: %s;", s.ID.Name, s.ID.Type)
		} else {
			p.line("local %s: %s = %s;", s.ID.Name, s.ID.Type, p.expr(s.Init))
		}
	case *script.PrintStmt:
		p.line("print %s;", p.list(s.Args))
	case *script.IfStmt:
		p.line("if ( %s )", p.expr(s.Cond))
		p.block(s.Then)
		if s.Else != nil {
			p.line("else")
			p.block(s.Else)
		}
	case *script.WhileStmt:
		p.line("while ( %s )", p.expr(s.Cond))
		p.block(s.Body)
	case *script.ForStmt:
		if s.Value != nil {
			p.line("for ( %s, %s in %s )", s.Key.Name, s.Value.Name, p.expr(s.Over))
		} else {
			p.line("for ( %s in %s )", s.Key.Name, p.expr(s.Over))
		}
		p.block(s.Body)
	case *script.SwitchStmt:
		p.line("switch %s {", p.expr(s.X))
		for _, c := range s.Cases {
			if c.Labels == nil {
				p.line("default:")
			} else {
				p.line("case %s:", p.list(c.Labels))
			}
			p.indent++
			if b, ok := c.Body.(*script.BlockStmt); ok {
				for _, st := range b.Stmts {
					p.stmt(st)
				}
			} else {
				p.stmt(c.Body)
			}
			p.indent--
		}
		p.line("}")
	case *script.BreakStmt:
		p.line("break;")
	case *script.NextStmt:
		p.line("next;")
	case *script.FallthroughStmt:
		p.line("fallthrough;")
	case *script.ReturnStmt:
		if s.X == nil {
			p.line("return;")
		} else {
			p.line("return %s;", p.expr(s.X))
		}
	case *script.BlockStmt:
		p.block(s)
	case *script.DeleteStmt:
		p.line("delete %s[%s];", p.expr(s.X), p.expr(s.Index))
	case *script.NullStmt:
		p.line(";")
	case script.CompiledStmt:
		p.line("<compiled %T>;", s)
	default:
		p.line("<%T>;", s)
	}
}

func (p *printer) list(es []script.Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = p.expr(e)
	}
	return strings.Join(parts, ", ")
}

func constString(v script.Value) string {
	switch v.Tag() {
	case script.TypeString:
		return strconv.Quote(v.Str())
	case script.TypeInt:
		if v.Int() >= 0 {
			return "+" + v.String()
		}
	}
	return v.String()
}

func (p *printer) expr(e script.Expr) string {
	switch e := e.(type) {
	case *script.ConstExpr:
		return constString(e.Val)
	case *script.NameExpr:
		return e.ID.Name
	case *script.BinaryExpr:
		return fmt.Sprintf("(%s %s %s)", p.expr(e.X), e.Op, p.expr(e.Y))
	case *script.UnaryExpr:
		return fmt.Sprintf("%s%s", e.Op, p.expr(e.X))
	case *script.CondExpr:
		return fmt.Sprintf("(%s ? %s : %s)", p.expr(e.Cond), p.expr(e.Then), p.expr(e.Else))
	case *script.CallExpr:
		return fmt.Sprintf("%s(%s)", p.expr(e.Fn), p.list(e.Args))
	case *script.BuiltinExpr:
		return fmt.Sprintf("%s(%s)", e.Builtin.Name, p.list(e.Args))
	case *script.IndexExpr:
		return fmt.Sprintf("%s[%s]", p.expr(e.X), p.expr(e.Index))
	case *script.InExpr:
		return fmt.Sprintf("(%s in %s)", p.expr(e.Key), p.expr(e.X))
	case *script.SizeExpr:
		return fmt.Sprintf("|%s|", p.expr(e.X))
	case *script.CastExpr:
		return fmt.Sprintf("(%s as %s)", p.expr(e.X), e.T)
	case *script.CoerceExpr:
		return fmt.Sprintf("%s(%s)", e.T, p.expr(e.X))
	case *script.TableCtor:
		parts := make([]string, len(e.Keys))
		for i := range e.Keys {
			parts[i] = fmt.Sprintf("[%s] = %s", p.expr(e.Keys[i]), p.expr(e.Vals[i]))
		}
		return fmt.Sprintf("table(%s)", strings.Join(parts, ", "))
	case *script.VectorCtor:
		return fmt.Sprintf("vector(%s)", p.list(e.Elems))
	case *script.LambdaExpr:
		names := make([]string, len(e.Captures))
		for i, id := range e.Captures {
			names[i] = id.Name
		}
		return fmt.Sprintf("%s[%s]", e.Func.Name, strings.Join(names, ", "))
	case *script.InlineExpr:
		return p.inline(e)
	}
	return fmt.Sprintf("<%T>", e)
}

func (p *printer) inline(e *script.InlineExpr) string {
	args := make([]string, len(e.Params))
	for i, id := range e.Params {
		args[i] = fmt.Sprintf("%s = %s", id.Name, p.expr(e.Args[i]))
	}
	sub := &printer{indent: p.indent + 1}
	if b, ok := e.Body.(*script.BlockStmt); ok {
		for _, st := range b.Stmts {
			sub.stmt(st)
		}
	} else {
		sub.stmt(e.Body)
	}
	return fmt.Sprintf("inline %s(%s) {\n%s%s}", e.Callee, strings.Join(args, ", "), sub.sb.String(), strings.Repeat("\t", p.indent))
}
