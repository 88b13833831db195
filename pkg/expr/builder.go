package expr

import (
	"strconv"
	"strings"

	"github.com/lemonberrylabs/exprtree/pkg/types"
)

// Build turns an RPN token sequence into an expression tree bound to reg.
// Tokens are consumed from the end, so the last token becomes the root and
// each operator takes its operands from the tokens before it. Comma nodes
// are spliced into their parent, which turns "a, b, c" into the argument
// list of the enclosing function call. A nil registry means DefaultRegistry.
func Build(rpn []Token, reg *Registry, opts ...Option) (*Node, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	o := newOptions(opts)
	if len(rpn) == 0 {
		return nil, &EmptyExpressionError{}
	}

	b := &builder{rpn: rpn, next: len(rpn) - 1, reg: reg, maxDepth: o.maxDepth}
	root, err := b.build(1, rpn[len(rpn)-1])
	if err != nil {
		return nil, err
	}
	if b.next >= 0 {
		return nil, &UnconsumedTokensError{Offset: rpn[b.next].Pos, Remaining: b.next + 1}
	}
	if root.isComma() {
		return nil, &ArityError{Offset: root.Pos, Name: ",", Want: 1, Got: len(root.Children)}
	}
	return root, nil
}

type builder struct {
	rpn      []Token
	next     int // index of the next token to consume; -1 when exhausted
	reg      *Registry
	maxDepth int
}

// build consumes one subtree. owner is the token that needs the operand,
// used for error positions.
func (b *builder) build(depth int, owner Token) (*Node, error) {
	if b.next < 0 {
		return nil, &MissingOperandError{Offset: owner.Pos, Name: owner.Text}
	}
	tok := b.rpn[b.next]
	b.next--

	if b.maxDepth > 0 && depth > b.maxDepth {
		return nil, &DepthError{Offset: tok.Pos, Max: b.maxDepth}
	}

	switch tok.Type {
	case TokenNumber:
		return buildNumber(tok)

	case TokenString:
		return &Node{Kind: NodeLiteral, Value: types.NewString(tok.Text), Name: tok.Text, Pos: tok.Pos}, nil

	case TokenIdentifier:
		switch strings.ToLower(tok.Text) {
		case "true":
			return &Node{Kind: NodeLiteral, Value: types.NewBool(true), Name: tok.Text, Pos: tok.Pos}, nil
		case "false":
			return &Node{Kind: NodeLiteral, Value: types.NewBool(false), Name: tok.Text, Pos: tok.Pos}, nil
		case "null":
			return &Node{Kind: NodeLiteral, Value: types.Null, Name: tok.Text, Pos: tok.Pos}, nil
		}
		if info, ok := b.reg.Function(tok.Text); ok {
			return b.buildFunction(depth, tok, info)
		}
		return &Node{Kind: NodeVariable, Value: types.NewString(tok.Text), Name: tok.Text, Pos: tok.Pos}, nil

	case TokenOperator:
		info, ok := b.reg.Operator(tok.Text)
		if !ok {
			if isParen(tok, "(") || isParen(tok, ")") {
				return nil, &UnrecognizedTokenError{Token: tok}
			}
			return nil, &UnknownOperatorError{Offset: tok.Pos, Symbol: tok.Text}
		}
		return b.buildOperator(depth, tok, info)
	}

	return nil, &UnrecognizedTokenError{Token: tok}
}

func buildNumber(tok Token) (*Node, error) {
	n := &Node{Kind: NodeLiteral, Name: tok.Text, Pos: tok.Pos}
	if i, err := strconv.ParseInt(tok.Text, 10, 64); err == nil {
		n.Value = types.NewInt(i)
		return n, nil
	}
	if f, err := strconv.ParseFloat(tok.Text, 64); err == nil {
		n.Value = types.NewFloat(f)
		return n, nil
	}
	return nil, &UnparsableNumberError{Offset: tok.Pos, Text: tok.Text}
}

func (b *builder) buildOperator(depth int, tok Token, info *FunctionInfo) (*Node, error) {
	n := &Node{Kind: NodeOperator, Name: tok.Text, Info: info, Pos: tok.Pos}
	children := make([]*Node, 0, info.Arity)
	for i := 0; i < info.Arity; i++ {
		child, err := b.build(depth+1, tok)
		if err != nil {
			return nil, err
		}
		if child.isComma() {
			children = append(append([]*Node{}, child.Children...), children...)
		} else {
			children = append([]*Node{child}, children...)
		}
	}
	n.Children = children
	if !n.isComma() && len(children) != info.Arity {
		return nil, &ArityError{Offset: tok.Pos, Name: tok.Text, Want: info.Arity, Got: len(children)}
	}
	return n, nil
}

func (b *builder) buildFunction(depth int, tok Token, info *FunctionInfo) (*Node, error) {
	n := &Node{Kind: NodeFunction, Name: tok.Text, Info: info, Pos: tok.Pos}
	if info.Arity > 0 {
		child, err := b.build(depth+1, tok)
		if err != nil {
			return nil, err
		}
		if child.isComma() {
			n.Children = child.Children
		} else {
			n.Children = []*Node{child}
		}
	}
	if len(n.Children) != info.Arity {
		return nil, &ArityError{Offset: tok.Pos, Name: tok.Text, Want: info.Arity, Got: len(n.Children)}
	}
	return n, nil
}

func (n *Node) isComma() bool {
	return n.Kind == NodeOperator && n.Info != nil && n.Info.Name == ","
}
