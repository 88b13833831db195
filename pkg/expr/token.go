// Package expr implements a small embeddable expression language. Source text
// is tokenized, linearized to reverse Polish notation by a shunting-yard
// parser, built into a tree bound to a function registry and evaluated
// lazily against a host-supplied property resolver.
package expr

import (
	"fmt"
	"strings"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	TokenIdentifier TokenType = iota // [A-Za-z_][A-Za-z0-9_]*
	TokenNumber                      // [0-9.]+
	TokenOperator                    // registered operator symbol, ( or )
	TokenString                      // quoted text, quotes kept
)

// Token represents a single lexical token.
type Token struct {
	Type TokenType
	Text string // raw text as it appears in the normalized input
	Pos  int    // byte offset in the normalized input
}

// String returns a debug-friendly representation of the token type.
func (t TokenType) String() string {
	switch t {
	case TokenIdentifier:
		return "IDENTIFIER"
	case TokenNumber:
		return "NUMBER"
	case TokenOperator:
		return "OPERATOR"
	case TokenString:
		return "STRING"
	default:
		return fmt.Sprintf("TokenType(%d)", int(t))
	}
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%s)", t.Type, t.Text)
}

// FormatRPN joins token texts with single spaces, e.g. "1 2 3 * +".
func FormatRPN(tokens []Token) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = tok.Text
	}
	return strings.Join(parts, " ")
}
