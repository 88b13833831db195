package expr

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lemonberrylabs/exprtree/pkg/types"
)

// Associativity of an operator.
type Associativity int

const (
	AssocLeft Associativity = iota
	AssocRight
)

func (a Associativity) String() string {
	if a == AssocRight {
		return "right"
	}
	return "left"
}

// EntryKind distinguishes operators (written between or before operands)
// from named functions.
type EntryKind int

const (
	EntryOperator EntryKind = iota
	EntryFunction
)

func (k EntryKind) String() string {
	if k == EntryFunction {
		return "function"
	}
	return "operator"
}

// EvalFunc evaluates an operator or function node. It receives the node's
// children unevaluated and decides which of them to evaluate, and in what
// order, through env.Eval.
type EvalFunc func(env *Env, args []*Node) (types.Value, error)

// FunctionInfo is a registry entry.
type FunctionInfo struct {
	Name string
	// Precedence is the conventional chart value negated, so a larger
	// number binds tighter. Functions use 0.
	Precedence    int
	Associativity Associativity
	Arity         int
	Kind          EntryKind
	Eval          EvalFunc
}

// NewOperator returns an operator entry. prec is the conventional chart
// value (smaller binds tighter) and is negated for storage.
func NewOperator(symbol string, prec int, assoc Associativity, arity int, fn EvalFunc) FunctionInfo {
	return FunctionInfo{Name: symbol, Precedence: -prec, Associativity: assoc, Arity: arity, Kind: EntryOperator, Eval: fn}
}

// NewFunction returns a named function entry with precedence 0.
func NewFunction(name string, arity int, fn EvalFunc) FunctionInfo {
	return FunctionInfo{Name: name, Associativity: AssocLeft, Arity: arity, Kind: EntryFunction, Eval: fn}
}

// Registry holds the operators and functions an expression may use. Names
// are case-insensitive. A registry must not be modified once it is shared
// between goroutines.
type Registry struct {
	operators map[string]*FunctionInfo
	functions map[string]*FunctionInfo
	symbols   []string // lexable operator symbols, longest first
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		operators: make(map[string]*FunctionInfo),
		functions: make(map[string]*FunctionInfo),
		symbols:   []string{"(", ")"},
	}
}

// Register adds an entry. Registering a name twice is an error.
func (r *Registry) Register(info FunctionInfo) error {
	if info.Name == "" {
		return fmt.Errorf("register: empty name")
	}
	if info.Eval == nil {
		return fmt.Errorf("register %q: nil eval function", info.Name)
	}
	if info.Arity < 0 {
		return fmt.Errorf("register %q: negative arity %d", info.Name, info.Arity)
	}
	key := strings.ToLower(info.Name)
	entry := info
	switch info.Kind {
	case EntryOperator:
		if key == "(" || key == ")" {
			return fmt.Errorf("register %q: reserved symbol", info.Name)
		}
		if _, exists := r.operators[key]; exists {
			return fmt.Errorf("operator %q already registered", info.Name)
		}
		r.operators[key] = &entry
		r.rebuildSymbols()
	case EntryFunction:
		if !isIdentifier(key) {
			return fmt.Errorf("register %q: function names must be identifiers", info.Name)
		}
		if _, exists := r.functions[key]; exists {
			return fmt.Errorf("function %q already registered", info.Name)
		}
		r.functions[key] = &entry
	default:
		return fmt.Errorf("register %q: unknown entry kind %d", info.Name, info.Kind)
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(infos ...FunctionInfo) {
	for _, info := range infos {
		if err := r.Register(info); err != nil {
			panic(err)
		}
	}
}

// Operator looks up an operator by symbol.
func (r *Registry) Operator(symbol string) (*FunctionInfo, bool) {
	info, ok := r.operators[strings.ToLower(symbol)]
	return info, ok
}

// Function looks up a function by name.
func (r *Registry) Function(name string) (*FunctionInfo, bool) {
	info, ok := r.functions[strings.ToLower(name)]
	return info, ok
}

// Entries returns all entries, operators first, each group sorted by name.
func (r *Registry) Entries() []FunctionInfo {
	out := make([]FunctionInfo, 0, len(r.operators)+len(r.functions))
	for _, group := range []map[string]*FunctionInfo{r.operators, r.functions} {
		names := make([]string, 0, len(group))
		for name := range group {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, *group[name])
		}
	}
	return out
}

// lexSymbols returns the operator symbols the lexer matches, longest first.
func (r *Registry) lexSymbols() []string {
	return r.symbols
}

// rebuildSymbols recomputes the lexer symbol list. Identifier-shaped
// symbols such as the internal _neg cannot be written in source and lex as
// identifiers instead.
func (r *Registry) rebuildSymbols() {
	syms := []string{"(", ")"}
	for sym := range r.operators {
		if isIdentStart(sym[0]) {
			continue
		}
		syms = append(syms, sym)
	}
	sort.Slice(syms, func(i, j int) bool {
		if len(syms[i]) != len(syms[j]) {
			return len(syms[i]) > len(syms[j])
		}
		return syms[i] < syms[j]
	})
	r.symbols = syms
}

func isIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the shared standard registry. It is built once
// and must be treated as read-only; use NewDefaultRegistry to extend it.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewDefaultRegistry()
	})
	return defaultRegistry
}

// NewDefaultRegistry creates a fresh registry holding the standard
// operators and functions.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.registerAccess()
	r.registerArithmetic()
	r.registerComparison()
	r.registerLogical()
	r.registerFunctions()
	return r
}
