// Package service is the evaluation layer shared by the HTTP and gRPC
// servers: it compiles and evaluates expressions against request contexts
// layered over a base scope, and evaluates stored rules.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lemonberrylabs/exprtree/pkg/expr"
	"github.com/lemonberrylabs/exprtree/pkg/scope"
	"github.com/lemonberrylabs/exprtree/pkg/store"
	"github.com/lemonberrylabs/exprtree/pkg/telemetry"
	"github.com/lemonberrylabs/exprtree/pkg/types"
)

// Service evaluates ad-hoc expressions and stored rules.
type Service struct {
	rules    *store.Compiled
	base     *scope.Store
	recorder telemetry.Recorder
	opts     []expr.Option
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithBaseScope sets the contexts every request inherits.
func WithBaseScope(s *scope.Store) Option {
	return func(svc *Service) { svc.base = s }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r telemetry.Recorder) Option {
	return func(svc *Service) { svc.recorder = r }
}

// WithExprOptions sets the options used for ad-hoc compilation.
func WithExprOptions(opts ...expr.Option) Option {
	return func(svc *Service) { svc.opts = opts }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(svc *Service) { svc.logger = l }
}

// New creates a Service over rules.
func New(rules *store.Compiled, opts ...Option) *Service {
	svc := &Service{rules: rules}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.base == nil {
		svc.base = scope.New()
	}
	if svc.recorder == nil {
		svc.recorder = telemetry.Noop{}
	}
	if svc.logger == nil {
		svc.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return svc
}

// Rules returns the rule store.
func (s *Service) Rules() *store.Compiled {
	return s.rules
}

// Scope returns a fresh request scope layered over the base contexts.
func (s *Service) Scope() *scope.Store {
	return s.base.Child()
}

// Compile compiles source with the service's options.
func (s *Service) Compile(ctx context.Context, source string) (*expr.Expression, error) {
	return telemetry.Compile(ctx, s.recorder, source, s.opts...)
}

// Evaluate compiles and evaluates source against sc. A nil sc means the
// base contexts only.
func (s *Service) Evaluate(ctx context.Context, source string, sc *scope.Store) (types.Value, error) {
	e, err := s.Compile(ctx, source)
	if err != nil {
		return types.Null, err
	}
	return s.EvaluateExpression(ctx, e, sc)
}

// EvaluateRule evaluates the stored rule id against sc.
func (s *Service) EvaluateRule(ctx context.Context, id string, sc *scope.Store) (*store.Rule, types.Value, error) {
	r, e, err := s.rules.Expression(id)
	if err != nil {
		return nil, types.Null, err
	}
	v, err := s.EvaluateExpression(ctx, e, sc)
	if err != nil {
		s.logger.Debug("rule evaluation failed", "rule", id, "revision", r.Revision, "error", err)
	}
	return r, v, err
}

// EvaluateExpression evaluates an already compiled expression against sc.
// A nil sc means the base contexts only. Internal invariant panics are
// returned as *types.InternalError.
func (s *Service) EvaluateExpression(ctx context.Context, e *expr.Expression, sc *scope.Store) (v types.Value, err error) {
	if sc == nil {
		sc = s.base
	}
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*types.InternalError)
			if !ok {
				panic(r)
			}
			s.logger.Error("internal evaluation error", "expression", e.Source(), "error", ie)
			v, err = types.Null, ie
		}
	}()
	return telemetry.Evaluate(ctx, s.recorder, e, sc)
}

// LoadDir creates a rule for every *.expr file in dir. The rule ID is the
// lowercased file name without extension and the expression is the file
// content. Files that fail to load are logged and skipped.
func (s *Service) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read rules directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".expr" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		id := strings.ToLower(strings.TrimSuffix(name, ".expr"))
		if !store.ValidID(id) {
			s.logger.Warn("skipping rule file with invalid ID", "file", name, "id", id)
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.logger.Warn("could not read rule file", "file", name, "error", err)
			continue
		}
		if _, err := s.rules.Create(store.Rule{ID: id, Name: id, Expression: strings.TrimSpace(string(data))}); err != nil {
			s.logger.Warn("could not load rule", "file", name, "error", err)
			continue
		}
		loaded++
		s.logger.Info("loaded rule", "id", id, "file", name)
	}
	return loaded, nil
}
