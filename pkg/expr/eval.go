package expr

import (
	"log/slog"
	"strings"

	"github.com/lemonberrylabs/exprtree/pkg/types"
)

// Resolver supplies property values from named data contexts. Both names
// arrive lowercased. ok is false when the property does not exist, which
// evaluates to null.
type Resolver interface {
	ResolveProperty(contextName, propertyName string) (types.Value, bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(contextName, propertyName string) (types.Value, bool)

// ResolveProperty implements Resolver.
func (f ResolverFunc) ResolveProperty(contextName, propertyName string) (types.Value, bool) {
	return f(contextName, propertyName)
}

// NoContext resolves nothing.
var NoContext Resolver = ResolverFunc(func(string, string) (types.Value, bool) {
	return types.Null, false
})

// Env carries the state of a single evaluation. Operator and function
// implementations recurse into their arguments through Eval.
type Env struct {
	resolver Resolver
	depth    int
	maxDepth int
	logger   *slog.Logger
}

// Evaluate evaluates a tree built by Build. A nil resolver means NoContext.
//
// A bare identifier that is not the operand of "." evaluates to its own text
// as a string; it is never looked up in the resolver.
func Evaluate(node *Node, resolver Resolver, opts ...Option) (types.Value, error) {
	o := newOptions(opts)
	if resolver == nil {
		resolver = NoContext
	}
	env := &Env{resolver: resolver, maxDepth: o.maxDepth, logger: o.logger}
	return env.Eval(node)
}

// Resolver returns the resolver of the current evaluation.
func (e *Env) Resolver() Resolver {
	return e.resolver
}

// Logger returns the evaluation logger.
func (e *Env) Logger() *slog.Logger {
	return e.logger
}

// Eval evaluates n. It fails with a RecursionError once nesting exceeds the
// configured maximum depth.
func (e *Env) Eval(n *Node) (types.Value, error) {
	if e.maxDepth > 0 && e.depth >= e.maxDepth {
		return types.Null, types.NewRecursionError(e.maxDepth)
	}
	e.depth++
	defer func() { e.depth-- }()

	switch n.Kind {
	case NodeLiteral, NodeVariable:
		return n.Value, nil
	case NodeOperator, NodeFunction:
		if n.Info == nil {
			types.Internalf("%s node %q has no registry entry", n.Kind, n.Name)
		}
		if !n.isComma() && len(n.Children) != n.Info.Arity {
			types.Internalf("%s expects %d argument(s), node has %d", n.Info.Name, n.Info.Arity, len(n.Children))
		}
		return n.Info.Eval(e, n.Children)
	}
	types.Internalf("unknown node kind %d", int(n.Kind))
	return types.Null, nil
}

// EvalBool evaluates n and converts the result to a boolean. A value that
// does not convert is a TypeError.
func (e *Env) EvalBool(n *Node) (bool, error) {
	v, err := e.Eval(n)
	if err != nil {
		return false, err
	}
	return types.ToBool(v)
}

// evalPair evaluates both operands of a binary operator, left first.
func (e *Env) evalPair(args []*Node) (types.Value, types.Value, error) {
	left, err := e.Eval(args[0])
	if err != nil {
		return types.Null, types.Null, err
	}
	right, err := e.Eval(args[1])
	if err != nil {
		return types.Null, types.Null, err
	}
	return left, right, nil
}

// resolve looks up a property of a context name or a map value.
func (e *Env) resolve(target types.Value, property string) types.Value {
	switch target.Type() {
	case types.TypeString:
		v, ok := e.resolver.ResolveProperty(strings.ToLower(target.AsString()), strings.ToLower(property))
		if !ok {
			return types.Null
		}
		return v
	case types.TypeMap:
		v, ok := target.AsMap().GetFold(property)
		if !ok {
			return types.Null
		}
		return v
	}
	return types.Null
}
