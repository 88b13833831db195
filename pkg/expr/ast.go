package expr

import (
	"encoding/json"
	"strings"

	"github.com/lemonberrylabs/exprtree/pkg/types"
)

// NodeKind identifies the kind of an expression tree node.
type NodeKind int

const (
	NodeLiteral  NodeKind = iota // number, string, true, false, null
	NodeVariable                 // bare identifier
	NodeOperator                 // registered operator
	NodeFunction                 // registered function call
)

func (k NodeKind) String() string {
	switch k {
	case NodeLiteral:
		return "literal"
	case NodeVariable:
		return "variable"
	case NodeOperator:
		return "operator"
	case NodeFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Node is an expression tree node. Trees are immutable once built and may
// be evaluated concurrently.
type Node struct {
	Kind NodeKind
	// Value is the literal value. Variables carry their identifier text as
	// a string, which is what they evaluate to outside property access.
	Value types.Value
	// Name is the token text as authored: literal text, identifier,
	// operator symbol or function name.
	Name     string
	Info     *FunctionInfo
	Children []*Node
	Pos      int
}

// String renders the tree back to source text, adding parentheses only
// where precedence requires them. The result parses to an equivalent tree.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *Node) write(b *strings.Builder) {
	switch n.Kind {
	case NodeFunction:
		b.WriteString(n.Name)
		b.WriteByte('(')
		for i, c := range n.Children {
			if i > 0 {
				b.WriteString(", ")
			}
			c.write(b)
		}
		b.WriteByte(')')
	case NodeOperator:
		switch len(n.Children) {
		case 1:
			n.writeUnary(b)
		case 2:
			n.writeBinary(b)
		default:
			b.WriteString(n.Name)
		}
	default:
		b.WriteString(n.Name)
	}
}

func (n *Node) writeUnary(b *strings.Builder) {
	child := n.Children[0]
	var operand strings.Builder
	if child.binaryOperator() && child.Info.Precedence < n.Info.Precedence {
		operand.WriteByte('(')
		child.write(&operand)
		operand.WriteByte(')')
	} else {
		child.write(&operand)
	}
	sym := n.Name
	if n.Info.Name == negOperator {
		sym = "-"
	}
	b.WriteString(sym)
	// "- lt" must not lex as the -lt operator.
	if s := operand.String(); s != "" && sym == "-" && isIdentStart(s[0]) {
		b.WriteByte(' ')
	}
	b.WriteString(operand.String())
}

func (n *Node) writeBinary(b *strings.Builder) {
	left, right := n.Children[0], n.Children[1]
	prec := n.Info.Precedence

	wrapLeft := left.binaryOperator() && (left.Info.Precedence < prec ||
		(left.Info.Precedence == prec && n.Info.Associativity == AssocRight))
	wrapRight := right.binaryOperator() && (right.Info.Precedence < prec ||
		(right.Info.Precedence == prec && n.Info.Associativity == AssocLeft))
	if n.Info.Name == "." && left.unaryOperator() {
		wrapLeft = true
	}

	writeOperand(b, left, wrapLeft)
	if n.Info.Name == "." {
		b.WriteByte('.')
	} else {
		b.WriteByte(' ')
		b.WriteString(n.Name)
		b.WriteByte(' ')
	}
	writeOperand(b, right, wrapRight)
}

func writeOperand(b *strings.Builder, n *Node, wrap bool) {
	if wrap {
		b.WriteByte('(')
	}
	n.write(b)
	if wrap {
		b.WriteByte(')')
	}
}

func (n *Node) binaryOperator() bool {
	return n.Kind == NodeOperator && n.Info != nil && len(n.Children) == 2
}

func (n *Node) unaryOperator() bool {
	return n.Kind == NodeOperator && n.Info != nil && len(n.Children) == 1
}

// MarshalJSON encodes the tree as nested objects, used by the parse
// endpoints and the tree command.
func (n *Node) MarshalJSON() ([]byte, error) {
	out := struct {
		Kind     string       `json:"kind"`
		Name     string       `json:"name"`
		Value    *types.Value `json:"value,omitempty"`
		Children []*Node      `json:"children,omitempty"`
	}{
		Kind:     n.Kind.String(),
		Name:     n.Name,
		Children: n.Children,
	}
	if n.Kind == NodeLiteral {
		v := n.Value
		out.Value = &v
	}
	return json.Marshal(out)
}
