package parse

import "fmt"

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

// TokenType identifies a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenError

	TokenIdent  // foo
	TokenInt    // 42
	TokenFloat  // 4.2
	TokenString // "x"

	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenLBrace   // {
	TokenRBrace   // }
	TokenComma    // ,
	TokenSemi     // ;
	TokenColon    // :
	TokenQuestion // ?
	TokenAttr     // &priority

	TokenAssign // =
	TokenPlus   // +
	TokenMinus  // -
	TokenStar   // *
	TokenSlash  // /
	TokenPct    // %
	TokenEq     // ==
	TokenNe     // !=
	TokenLt     // <
	TokenLe     // <=
	TokenGt     // >
	TokenGe     // >=
	TokenAnd    // &&
	TokenOr     // ||
	TokenNot    // !
	TokenBar    // |
	TokenNotIn  // !in
)

var tokenNames = map[TokenType]string{
	TokenEOF:      "EOF",
	TokenError:    "ERROR",
	TokenIdent:    "identifier",
	TokenInt:      "integer",
	TokenFloat:    "float",
	TokenString:   "string",
	TokenLParen:   "(",
	TokenRParen:   ")",
	TokenLBracket: "[",
	TokenRBracket: "]",
	TokenLBrace:   "{",
	TokenRBrace:   "}",
	TokenComma:    ",",
	TokenSemi:     ";",
	TokenColon:    ":",
	TokenQuestion: "?",
	TokenAttr:     "attribute",
	TokenAssign:   "=",
	TokenPlus:     "+",
	TokenMinus:    "-",
	TokenStar:     "*",
	TokenSlash:    "/",
	TokenPct:      "%",
	TokenEq:       "==",
	TokenNe:       "!=",
	TokenLt:       "<",
	TokenLe:       "<=",
	TokenGt:       ">",
	TokenGe:       ">=",
	TokenAnd:      "&&",
	TokenOr:       "||",
	TokenNot:      "!",
	TokenBar:      "|",
	TokenNotIn:    "!in",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

// Position is a location in the input.
type Position struct {
	Offset int
	Line   int
	Column int
}

// Token is a lexical token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

func (t Token) String() string {
	if t.Literal != "" {
		return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
	}
	return t.Type.String()
}
