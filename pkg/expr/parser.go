package expr

// negOperator is the unary minus. The parser substitutes it for "-" where an
// operand is expected; it cannot be written directly in source.
const negOperator = "_neg"

// ParseToRPN tokenizes input and reorders the tokens into reverse Polish
// notation with the shunting-yard algorithm. A nil registry means
// DefaultRegistry.
//
// A "-" or "+" that appears where an operand is expected (at the start, or
// after an operator or "(") is unary: "-" becomes negOperator and "+" is
// dropped.
func ParseToRPN(input string, reg *Registry) ([]Token, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	lex := NewLexer(input, reg)

	var output, stack []Token
	previousWasOperator := true

	for {
		tok, ok, err := lex.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		if tok.Type == TokenOperator && previousWasOperator {
			switch tok.Text {
			case "-":
				tok = Token{Type: TokenOperator, Text: negOperator, Pos: tok.Pos}
			case "+":
				continue
			}
		}

		switch {
		case tok.Type == TokenNumber || tok.Type == TokenString:
			output = append(output, tok)
			previousWasOperator = false

		case tok.Type == TokenIdentifier:
			if _, isFunc := reg.Function(tok.Text); isFunc {
				stack = append(stack, tok)
			} else {
				output = append(output, tok)
			}
			previousWasOperator = false

		case isParen(tok, "("):
			stack = append(stack, tok)
			previousWasOperator = true

		case isParen(tok, ")"):
			for {
				if len(stack) == 0 {
					return nil, &MismatchedParenthesesError{Offset: tok.Pos}
				}
				top := stack[len(stack)-1]
				if isParen(top, "(") {
					break
				}
				output = append(output, top)
				stack = stack[:len(stack)-1]
			}
			stack = stack[:len(stack)-1]
			if n := len(stack); n > 0 && stack[n-1].Type == TokenIdentifier {
				output = append(output, stack[n-1])
				stack = stack[:n-1]
			}
			previousWasOperator = false

		default:
			info, ok := reg.Operator(tok.Text)
			if !ok {
				return nil, &UnknownOperatorError{Offset: tok.Pos, Symbol: tok.Text}
			}
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				if isParen(top, "(") {
					break
				}
				topPrec := reg.precedenceOf(top)
				if topPrec > info.Precedence || (topPrec == info.Precedence && info.Associativity == AssocLeft) {
					output = append(output, top)
					stack = stack[:len(stack)-1]
					continue
				}
				break
			}
			stack = append(stack, tok)
			previousWasOperator = true
		}
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if isParen(top, "(") || isParen(top, ")") {
			return nil, &MismatchedParenthesesError{Offset: top.Pos}
		}
		output = append(output, top)
		stack = stack[:len(stack)-1]
	}
	return output, nil
}

func isParen(tok Token, paren string) bool {
	return tok.Type == TokenOperator && tok.Text == paren
}

// precedenceOf returns the stored precedence of an operator-stack entry.
// Only registered operators and function names are ever pushed.
func (r *Registry) precedenceOf(tok Token) int {
	if tok.Type == TokenIdentifier {
		if info, ok := r.Function(tok.Text); ok {
			return info.Precedence
		}
		return 0
	}
	if info, ok := r.Operator(tok.Text); ok {
		return info.Precedence
	}
	return 0
}
