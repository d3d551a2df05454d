package parse

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

// Lexer tokenizes script source.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int
	col     int
}

// NewLexer creates a lexer over input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		l.col++
		return
	}
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case l.ch == '#':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch != 0 && unicode.IsSpace(l.ch):
			l.readChar()
		default:
			return
		}
	}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()
	pos := l.position()

	tok := func(t TokenType, lit string) Token {
		return Token{Type: t, Literal: lit, Pos: pos}
	}
	two := func(next rune, double, single TokenType) Token {
		if l.peekChar() == next {
			l.readChar()
			l.readChar()
			return tok(double, "")
		}
		l.readChar()
		return tok(single, "")
	}

	switch ch := l.ch; {
	case ch == 0:
		return tok(TokenEOF, "")
	case isIdentStart(ch):
		return tok(TokenIdent, l.readIdent())
	case unicode.IsDigit(ch):
		return l.readNumber(pos)
	case ch == '"':
		return l.readString(pos)
	case ch == '&':
		if l.peekChar() == '&' {
			l.readChar()
			l.readChar()
			return tok(TokenAnd, "")
		}
		l.readChar()
		if !isIdentStart(l.ch) {
			return tok(TokenError, "&")
		}
		return tok(TokenAttr, l.readIdent())
	case ch == '|':
		return two('|', TokenOr, TokenBar)
	case ch == '=':
		return two('=', TokenEq, TokenAssign)
	case ch == '<':
		return two('=', TokenLe, TokenLt)
	case ch == '>':
		return two('=', TokenGe, TokenGt)
	case ch == '!':
		if l.peekChar() == '=' {
			l.readChar()
			l.readChar()
			return tok(TokenNe, "")
		}
		if strings.HasPrefix(l.input[l.readPos:], "in") && !isIdentPart(runeAt(l.input, l.readPos+2)) {
			l.readChar()
			l.readChar()
			l.readChar()
			return tok(TokenNotIn, "")
		}
		l.readChar()
		return tok(TokenNot, "")
	}

	single := map[rune]TokenType{
		'(': TokenLParen, ')': TokenRParen, '[': TokenLBracket, ']': TokenRBracket,
		'{': TokenLBrace, '}': TokenRBrace, ',': TokenComma, ';': TokenSemi,
		':': TokenColon, '?': TokenQuestion, '+': TokenPlus, '-': TokenMinus,
		'*': TokenStar, '/': TokenSlash, '%': TokenPct,
	}
	if t, ok := single[l.ch]; ok {
		l.readChar()
		return tok(t, "")
	}
	bad := string(l.ch)
	l.readChar()
	return tok(TokenError, bad)
}

func runeAt(s string, i int) rune {
	if i >= len(s) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return r
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

func (l *Lexer) readIdent() string {
	start := l.pos
	for isIdentPart(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	for unicode.IsDigit(l.ch) {
		l.readChar()
	}
	typ := TokenInt
	if l.ch == '.' && unicode.IsDigit(l.peekChar()) {
		typ = TokenFloat
		l.readChar()
		for unicode.IsDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		typ = TokenFloat
		l.readChar()
		if l.ch == '-' || l.ch == '+' {
			l.readChar()
		}
		for unicode.IsDigit(l.ch) {
			l.readChar()
		}
	}
	return Token{Type: typ, Literal: l.input[start:l.pos], Pos: pos}
}

func (l *Lexer) readString(pos Position) Token {
	var sb strings.Builder
	l.readChar() // opening quote
	for l.ch != '"' {
		if l.ch == 0 || l.ch == '\n' {
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		}
		if l.ch == '\\' {
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case '\\', '"':
				sb.WriteRune(l.ch)
			default:
				sb.WriteRune('\\')
				sb.WriteRune(l.ch)
			}
			l.readChar()
			continue
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}
	l.readChar() // closing quote
	return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
}
