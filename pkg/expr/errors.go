package expr

import "fmt"

// ParseError is implemented by every error raised while tokenizing, parsing
// or building an expression. Pos is a byte offset into the
// whitespace-normalized input, or -1 when no position applies.
type ParseError interface {
	error
	Pos() int
}

// UnexpectedCharacterError reports input that no token rule matches.
type UnexpectedCharacterError struct {
	Offset int
	Char   rune
}

func (e *UnexpectedCharacterError) Error() string {
	return fmt.Sprintf("unexpected character %q at position %d", e.Char, e.Offset)
}

func (e *UnexpectedCharacterError) Pos() int { return e.Offset }

// MismatchedParenthesesError reports an unbalanced ( or ).
type MismatchedParenthesesError struct {
	Offset int
}

func (e *MismatchedParenthesesError) Error() string {
	return fmt.Sprintf("mismatched parentheses at position %d", e.Offset)
}

func (e *MismatchedParenthesesError) Pos() int { return e.Offset }

// UnknownOperatorError reports an operator token missing from the registry.
type UnknownOperatorError struct {
	Offset int
	Symbol string
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown operator %q at position %d", e.Symbol, e.Offset)
}

func (e *UnknownOperatorError) Pos() int { return e.Offset }

// UnparsableNumberError reports a numeric literal that is neither an int nor a float.
type UnparsableNumberError struct {
	Offset int
	Text   string
}

func (e *UnparsableNumberError) Error() string {
	return fmt.Sprintf("cannot parse %q as int or float at position %d", e.Text, e.Offset)
}

func (e *UnparsableNumberError) Pos() int { return e.Offset }

// UnrecognizedTokenError reports a token the tree builder cannot place.
type UnrecognizedTokenError struct {
	Token Token
}

func (e *UnrecognizedTokenError) Error() string {
	return fmt.Sprintf("unrecognized token %q at position %d", e.Token.Text, e.Token.Pos)
}

func (e *UnrecognizedTokenError) Pos() int { return e.Token.Pos }

// MissingOperandError reports an operator or function that ran out of operands.
type MissingOperandError struct {
	Offset int
	Name   string
}

func (e *MissingOperandError) Error() string {
	return fmt.Sprintf("missing operand for %q at position %d", e.Name, e.Offset)
}

func (e *MissingOperandError) Pos() int { return e.Offset }

// UnconsumedTokensError reports operands left over once the root is built,
// as in "1 2".
type UnconsumedTokensError struct {
	Offset    int
	Remaining int
}

func (e *UnconsumedTokensError) Error() string {
	return fmt.Sprintf("%d unexpected operand(s) before position %d", e.Remaining, e.Offset)
}

func (e *UnconsumedTokensError) Pos() int { return e.Offset }

// ArityError reports an operator or function built with the wrong number of
// arguments, or an argument list outside a function call.
type ArityError struct {
	Offset int
	Name   string
	Want   int
	Got    int
}

func (e *ArityError) Error() string {
	if e.Name == "," {
		return fmt.Sprintf("argument list outside a function call at position %d", e.Offset)
	}
	return fmt.Sprintf("%s expects %d argument(s), got %d at position %d", e.Name, e.Want, e.Got, e.Offset)
}

func (e *ArityError) Pos() int { return e.Offset }

// DepthError reports an expression nested deeper than the configured limit.
type DepthError struct {
	Offset int
	Max    int
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("expression nesting exceeds %d levels at position %d", e.Max, e.Offset)
}

func (e *DepthError) Pos() int { return e.Offset }

// EmptyExpressionError reports input with no tokens.
type EmptyExpressionError struct{}

func (e *EmptyExpressionError) Error() string { return "empty expression" }

func (e *EmptyExpressionError) Pos() int { return -1 }

// ExpressionTooLongError reports input longer than the configured maximum.
type ExpressionTooLongError struct {
	Length int
	Max    int
}

func (e *ExpressionTooLongError) Error() string {
	return fmt.Sprintf("expression exceeds maximum length of %d characters (got %d)", e.Max, e.Length)
}

func (e *ExpressionTooLongError) Pos() int { return e.Max }
