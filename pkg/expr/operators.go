package expr

import (
	"cmp"
	"fmt"
	"math"
	"strings"

	"github.com/lemonberrylabs/exprtree/pkg/types"
)

// Conventional precedence chart values; smaller binds tighter.
const (
	precAccess     = 2
	precUnary      = 3
	precMultiply   = 5
	precAdd        = 6
	precRelational = 9
	precEquality   = 10
	precAnd        = 14
	precOr         = 15
	precComma      = 17
)

func (r *Registry) registerAccess() {
	r.MustRegister(
		NewOperator(".", precAccess, AssocLeft, 2, propertyAccess),
		NewOperator(",", precComma, AssocLeft, 2, func(*Env, []*Node) (types.Value, error) {
			types.Internalf("comma operator reached evaluation")
			return types.Null, nil
		}),
	)
}

func (r *Registry) registerArithmetic() {
	r.MustRegister(
		NewOperator(negOperator, precUnary, AssocRight, 1, negate),
		NewOperator("*", precMultiply, AssocLeft, 2, arithmetic(
			func(a, b int64) (types.Value, error) { return types.NewInt(a * b), nil },
			func(a, b float64) float64 { return a * b },
		)),
		NewOperator("/", precMultiply, AssocLeft, 2, arithmetic(
			func(a, b int64) (types.Value, error) {
				if b == 0 {
					return types.Null, types.NewZeroDivisionError()
				}
				return types.NewInt(a / b), nil
			},
			func(a, b float64) float64 { return a / b },
		)),
		NewOperator("+", precAdd, AssocLeft, 2, arithmetic(
			func(a, b int64) (types.Value, error) { return types.NewInt(a + b), nil },
			func(a, b float64) float64 { return a + b },
		)),
		NewOperator("-", precAdd, AssocLeft, 2, arithmetic(
			func(a, b int64) (types.Value, error) { return types.NewInt(a - b), nil },
			func(a, b float64) float64 { return a - b },
		)),
	)
}

func (r *Registry) registerComparison() {
	lt := relational(func(c int) bool { return c < 0 })
	le := relational(func(c int) bool { return c <= 0 })
	gt := relational(func(c int) bool { return c > 0 })
	ge := relational(func(c int) bool { return c >= 0 })
	for _, sym := range []string{"-lt", "<"} {
		r.MustRegister(NewOperator(sym, precRelational, AssocLeft, 2, lt))
	}
	for _, sym := range []string{"-le", "<="} {
		r.MustRegister(NewOperator(sym, precRelational, AssocLeft, 2, le))
	}
	for _, sym := range []string{"-gt", ">"} {
		r.MustRegister(NewOperator(sym, precRelational, AssocLeft, 2, gt))
	}
	for _, sym := range []string{"-ge", ">="} {
		r.MustRegister(NewOperator(sym, precRelational, AssocLeft, 2, ge))
	}
	for _, sym := range []string{"-eq", "=="} {
		r.MustRegister(NewOperator(sym, precEquality, AssocLeft, 2, equality(true)))
	}
	for _, sym := range []string{"-ne", "!="} {
		r.MustRegister(NewOperator(sym, precEquality, AssocLeft, 2, equality(false)))
	}
}

func (r *Registry) registerLogical() {
	r.MustRegister(
		NewOperator("!", precUnary, AssocRight, 1, logicalNot),
		NewOperator("&&", precAnd, AssocLeft, 2, logicalAnd),
		NewOperator("-and", precAnd, AssocLeft, 2, logicalAnd),
		NewOperator("||", precOr, AssocLeft, 2, logicalOr),
		NewOperator("-or", precOr, AssocLeft, 2, logicalOr),
	)
}

func (r *Registry) registerFunctions() {
	r.MustRegister(
		NewFunction("sin", 1, mathFunc1(math.Sin)),
		NewFunction("cos", 1, mathFunc1(math.Cos)),
		NewFunction("pow", 2, func(env *Env, args []*Node) (types.Value, error) {
			base, exp, err := env.evalPair(args)
			if err != nil {
				return types.Null, err
			}
			a, okA := types.ToFloat(base)
			b, okB := types.ToFloat(exp)
			if !okA || !okB {
				return types.Null, nil
			}
			return types.NewFloat(math.Pow(a, b)), nil
		}),
		NewFunction("not_null", 1, func(env *Env, args []*Node) (types.Value, error) {
			v, err := env.Eval(args[0])
			if err != nil {
				return types.Null, err
			}
			return types.NewBool(!v.IsNull()), nil
		}),
		NewFunction("exists_else", 2, func(env *Env, args []*Node) (types.Value, error) {
			v, err := env.Eval(args[0])
			if err != nil || !v.IsNull() {
				return v, err
			}
			return env.Eval(args[1])
		}),
		NewFunction("if_else", 3, func(env *Env, args []*Node) (types.Value, error) {
			cond, err := env.EvalBool(args[0])
			if err != nil {
				return types.Null, fmt.Errorf("if_else condition: %w", err)
			}
			if cond {
				return env.Eval(args[1])
			}
			return env.Eval(args[2])
		}),
		NewFunction("not", 1, logicalNot),
		NewFunction("fail", 0, func(*Env, []*Node) (types.Value, error) {
			return types.Null, types.NewAssertionError("fail() called")
		}),
	)
}

// arithmetic evaluates both operands and computes in int64 when both are
// ints, otherwise in float64. Operands that do not convert to numbers
// produce null.
func arithmetic(intOp func(a, b int64) (types.Value, error), floatOp func(a, b float64) float64) EvalFunc {
	return func(env *Env, args []*Node) (types.Value, error) {
		left, right, err := env.evalPair(args)
		if err != nil {
			return types.Null, err
		}
		if left.Type() == types.TypeInt && right.Type() == types.TypeInt {
			return intOp(left.AsInt(), right.AsInt())
		}
		a, okA := types.ToFloat(left)
		b, okB := types.ToFloat(right)
		if !okA || !okB {
			return types.Null, nil
		}
		return types.NewFloat(floatOp(a, b)), nil
	}
}

// relational compares two numbers; test receives -1, 0 or 1. Operands that
// do not convert to numbers produce null.
func relational(test func(c int) bool) EvalFunc {
	return func(env *Env, args []*Node) (types.Value, error) {
		left, right, err := env.evalPair(args)
		if err != nil {
			return types.Null, err
		}
		if left.Type() == types.TypeInt && right.Type() == types.TypeInt {
			return types.NewBool(test(cmp.Compare(left.AsInt(), right.AsInt()))), nil
		}
		a, okA := types.ToFloat(left)
		b, okB := types.ToFloat(right)
		if !okA || !okB || math.IsNaN(a) || math.IsNaN(b) {
			return types.Null, nil
		}
		return types.NewBool(test(cmp.Compare(a, b))), nil
	}
}

func equality(want bool) EvalFunc {
	return func(env *Env, args []*Node) (types.Value, error) {
		left, right, err := env.evalPair(args)
		if err != nil {
			return types.Null, err
		}
		return types.NewBool(types.LooseEqual(left, right) == want), nil
	}
}

func negate(env *Env, args []*Node) (types.Value, error) {
	v, err := env.Eval(args[0])
	if err != nil {
		return types.Null, err
	}
	if v.Type() == types.TypeInt {
		return types.NewInt(-v.AsInt()), nil
	}
	f, ok := types.ToFloat(v)
	if !ok {
		return types.Null, nil
	}
	return types.NewFloat(-f), nil
}

func logicalNot(env *Env, args []*Node) (types.Value, error) {
	b, err := env.EvalBool(args[0])
	if err != nil {
		return types.Null, err
	}
	return types.NewBool(!b), nil
}

// logicalAnd evaluates the right operand only when the left is true.
func logicalAnd(env *Env, args []*Node) (types.Value, error) {
	left, err := env.EvalBool(args[0])
	if err != nil {
		return types.Null, err
	}
	if !left {
		return types.NewBool(false), nil
	}
	right, err := env.EvalBool(args[1])
	if err != nil {
		return types.Null, err
	}
	return types.NewBool(right), nil
}

// logicalOr evaluates the right operand only when the left is false.
func logicalOr(env *Env, args []*Node) (types.Value, error) {
	left, err := env.EvalBool(args[0])
	if err != nil {
		return types.Null, err
	}
	if left {
		return types.NewBool(true), nil
	}
	right, err := env.EvalBool(args[1])
	if err != nil {
		return types.Null, err
	}
	return types.NewBool(right), nil
}

// propertyAccess resolves the right operand, which must name the property
// as an identifier or string literal, against the left operand: a context
// name or a map. Missing properties are null.
func propertyAccess(env *Env, args []*Node) (types.Value, error) {
	name, ok := propertyName(args[1])
	if !ok {
		return types.Null, types.NewTypeError(fmt.Sprintf("property name must be an identifier, got %s %q", args[1].Kind, args[1].Name))
	}
	target, err := env.Eval(args[0])
	if err != nil {
		return types.Null, err
	}
	return env.resolve(target, name), nil
}

func propertyName(n *Node) (string, bool) {
	switch {
	case n.Kind == NodeVariable:
		return n.Name, true
	case n.Kind == NodeLiteral && n.Value.Type() == types.TypeString:
		return unquote(n.Name), true
	}
	return "", false
}

// unquote strips the quotes of a string literal and drops escape
// backslashes, scanning the same way the lexer does.
func unquote(s string) string {
	if s == "" || (s[0] != '\'' && s[0] != '"') {
		return s
	}
	q := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s):
			i++
			b.WriteByte(s[i])
		case s[i] == q:
			return b.String()
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func mathFunc1(fn func(float64) float64) EvalFunc {
	return func(env *Env, args []*Node) (types.Value, error) {
		v, err := env.Eval(args[0])
		if err != nil {
			return types.Null, err
		}
		f, ok := types.ToFloat(v)
		if !ok {
			return types.Null, nil
		}
		return types.NewFloat(fn(f)), nil
	}
}
