package expr

import (
	"io"
	"log/slog"

	"github.com/lemonberrylabs/exprtree/pkg/types"
)

// Default limits.
const (
	// DefaultMaxDepth bounds tree nesting for both building and evaluation.
	DefaultMaxDepth = 256
	// DefaultMaxLength bounds the length of compiled source text.
	DefaultMaxLength = 4096
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Option configures Compile, Build and Evaluate.
type Option func(*options)

type options struct {
	registry  *Registry
	maxDepth  int
	maxLength int
	logger    *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{
		maxDepth:  DefaultMaxDepth,
		maxLength: DefaultMaxLength,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	if o.logger == nil {
		o.logger = discardLogger
	}
	return o
}

// WithRegistry sets the operator and function registry used by Compile.
func WithRegistry(reg *Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithMaxDepth sets the maximum tree depth. Zero disables the limit.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// WithMaxLength sets the maximum source length accepted by Compile. Zero
// disables the limit.
func WithMaxLength(n int) Option {
	return func(o *options) { o.maxLength = n }
}

// WithLogger sets the logger for compilation and evaluation diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Expression is a compiled expression. It is safe for concurrent use.
type Expression struct {
	source string
	rpn    []Token
	root   *Node
	opts   options
}

// Compile parses source into an Expression.
func Compile(source string, opts ...Option) (*Expression, error) {
	o := newOptions(opts)
	if o.maxLength > 0 && len(source) > o.maxLength {
		return nil, &ExpressionTooLongError{Length: len(source), Max: o.maxLength}
	}

	rpn, err := ParseToRPN(source, o.registry)
	if err != nil {
		o.logger.Debug("parse failed", "expression", source, "error", err)
		return nil, err
	}
	root, err := Build(rpn, o.registry, WithMaxDepth(o.maxDepth))
	if err != nil {
		o.logger.Debug("build failed", "expression", source, "rpn", FormatRPN(rpn), "error", err)
		return nil, err
	}
	o.logger.Debug("compiled expression", "expression", source, "rpn", FormatRPN(rpn))
	return &Expression{source: source, rpn: rpn, root: root, opts: o}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(source string, opts ...Option) *Expression {
	e, err := Compile(source, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Eval evaluates the expression against resolver. A nil resolver means
// NoContext.
func (e *Expression) Eval(resolver Resolver) (types.Value, error) {
	v, err := Evaluate(e.root, resolver, WithMaxDepth(e.opts.maxDepth), WithLogger(e.opts.logger))
	if err != nil {
		e.opts.logger.Debug("evaluation failed", "expression", e.source, "error", err)
	}
	return v, err
}

// Source returns the source text the expression was compiled from.
func (e *Expression) Source() string {
	return e.source
}

// String returns the canonical rendering of the parsed tree.
func (e *Expression) String() string {
	return e.root.String()
}

// RPN returns a copy of the expression's RPN token sequence.
func (e *Expression) RPN() []Token {
	out := make([]Token, len(e.rpn))
	copy(out, e.rpn)
	return out
}

// Root returns the root of the expression tree.
func (e *Expression) Root() *Node {
	return e.root
}

// Eval compiles and evaluates source in one step.
func Eval(source string, resolver Resolver, opts ...Option) (types.Value, error) {
	e, err := Compile(source, opts...)
	if err != nil {
		return types.Null, err
	}
	return e.Eval(resolver)
}
