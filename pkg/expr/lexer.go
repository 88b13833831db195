package expr

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes an expression string. Runs of whitespace are collapsed to
// a single space before scanning, so token positions refer to the
// normalized input returned by Input.
type Lexer struct {
	input   string
	pos     int
	symbols []string
}

// NewLexer creates a new lexer for the given input. Operator symbols come
// from reg; a nil registry means DefaultRegistry.
func NewLexer(input string, reg *Registry) *Lexer {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Lexer{
		input:   collapseSpace(input),
		symbols: reg.lexSymbols(),
	}
}

// Tokenize scans the entire input and returns all tokens.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, ok, err := l.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return tokens, nil
		}
		tokens = append(tokens, tok)
	}
}

// Next returns the next token. ok is false once the input is exhausted.
// Rules are tried in order: operator (longest match), identifier, number,
// string.
func (l *Lexer) Next() (tok Token, ok bool, err error) {
	for l.pos < len(l.input) && l.input[l.pos] == ' ' {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return Token{}, false, nil
	}

	start := l.pos
	rest := l.input[l.pos:]

	for _, sym := range l.symbols {
		if strings.HasPrefix(rest, sym) {
			l.pos += len(sym)
			return Token{Type: TokenOperator, Text: sym, Pos: start}, true, nil
		}
	}

	ch := l.input[l.pos]
	switch {
	case isIdentStart(ch):
		l.pos++
		for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
			l.pos++
		}
		return Token{Type: TokenIdentifier, Text: l.input[start:l.pos], Pos: start}, true, nil
	case isNumberChar(ch):
		for l.pos < len(l.input) && isNumberChar(l.input[l.pos]) {
			l.pos++
		}
		return Token{Type: TokenNumber, Text: l.input[start:l.pos], Pos: start}, true, nil
	case ch == '\'' || ch == '"':
		return l.readString(ch), true, nil
	}

	r, _ := utf8.DecodeRuneInString(rest)
	return Token{}, false, &UnexpectedCharacterError{Offset: start, Char: r}
}

// readString consumes a quoted string. A backslash skips the following
// character and a missing closing quote consumes to the end of input. The
// token text keeps the quotes and backslashes as written.
func (l *Lexer) readString(quote byte) Token {
	start := l.pos
	l.pos++ // opening quote
	for l.pos < len(l.input) && l.input[l.pos] != quote {
		if l.input[l.pos] == '\\' && l.pos < len(l.input)-1 {
			l.pos++
		}
		l.pos++
	}
	if l.pos < len(l.input) {
		l.pos++ // closing quote
	}
	return Token{Type: TokenString, Text: l.input[start:l.pos], Pos: start}
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

func isNumberChar(ch byte) bool {
	return (ch >= '0' && ch <= '9') || ch == '.'
}
