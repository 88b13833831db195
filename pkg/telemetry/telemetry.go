// Package telemetry records OpenTelemetry metrics and spans for expression
// compilation and evaluation.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lemonberrylabs/exprtree/pkg/expr"
	"github.com/lemonberrylabs/exprtree/pkg/types"
)

const instrumentationName = "github.com/lemonberrylabs/exprtree"

// Recorder records expression metrics.
// Use NewRecorder for OTel metrics or Noop when disabled.
type Recorder interface {
	// RecordEvaluation records one evaluation with its duration and outcome.
	RecordEvaluation(ctx context.Context, duration time.Duration, err error)

	// RecordParse records one compilation attempt.
	RecordParse(ctx context.Context, err error)
}

type otelRecorder struct {
	evaluations metric.Int64Counter
	evalErrors  metric.Int64Counter
	evalLatency metric.Float64Histogram
	parses      metric.Int64Counter
}

// NewRecorder returns a Recorder backed by mp. A nil mp means the global
// meter provider. If an instrument cannot be created the error is logged and
// a Noop recorder is returned.
func NewRecorder(mp metric.MeterProvider) Recorder {
	r, err := newOtelRecorder(mp)
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder", "error", err)
		return Noop{}
	}
	return r
}

func newOtelRecorder(mp metric.MeterProvider) (*otelRecorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	evaluations, err := meter.Int64Counter("exprtree.evaluations",
		metric.WithDescription("Number of expression evaluations"),
	)
	if err != nil {
		return nil, err
	}

	evalErrors, err := meter.Int64Counter("exprtree.evaluation.errors",
		metric.WithDescription("Number of failed expression evaluations"),
	)
	if err != nil {
		return nil, err
	}

	evalLatency, err := meter.Float64Histogram("exprtree.evaluation.latency_ms",
		metric.WithDescription("Expression evaluation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	parses, err := meter.Int64Counter("exprtree.parses",
		metric.WithDescription("Number of expression compilations"),
	)
	if err != nil {
		return nil, err
	}

	return &otelRecorder{
		evaluations: evaluations,
		evalErrors:  evalErrors,
		evalLatency: evalLatency,
		parses:      parses,
	}, nil
}

func (r *otelRecorder) RecordEvaluation(ctx context.Context, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	r.evaluations.Add(ctx, 1, attrs)
	r.evalLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		r.evalErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("error.kind", ErrorKind(err))))
	}
}

func (r *otelRecorder) RecordParse(ctx context.Context, err error) {
	attrs := []attribute.KeyValue{attribute.Bool("success", err == nil)}
	if err != nil {
		attrs = append(attrs, attribute.String("error.kind", ErrorKind(err)))
	}
	r.parses.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Noop is a Recorder that records nothing.
type Noop struct{}

func (Noop) RecordEvaluation(context.Context, time.Duration, error) {}

func (Noop) RecordParse(context.Context, error) {}

// ErrorKind classifies err for metric attributes: the first tag of an
// evaluation error, "ParseError" for syntax errors and "Error" otherwise.
func ErrorKind(err error) string {
	var ee *types.EvalError
	if errors.As(err, &ee) && len(ee.Tags) > 0 {
		return ee.Tags[0]
	}
	var pe expr.ParseError
	if errors.As(err, &pe) {
		return "ParseError"
	}
	var ie *types.InternalError
	if errors.As(err, &ie) {
		return "InternalError"
	}
	return "Error"
}

// StartSpan starts an internal span on the global tracer provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpan completes a span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Compile compiles source inside an "exprtree.compile" span and records the
// outcome on r.
func Compile(ctx context.Context, r Recorder, source string, opts ...expr.Option) (*expr.Expression, error) {
	ctx, span := StartSpan(ctx, "exprtree.compile", attribute.Int("expression.length", len(source)))
	e, err := expr.Compile(source, opts...)
	r.RecordParse(ctx, err)
	EndSpan(span, err)
	return e, err
}

// Evaluate evaluates e inside an "exprtree.evaluate" span and records the
// duration and outcome on r.
func Evaluate(ctx context.Context, r Recorder, e *expr.Expression, resolver expr.Resolver) (types.Value, error) {
	ctx, span := StartSpan(ctx, "exprtree.evaluate", attribute.String("expression", e.String()))
	start := time.Now()
	v, err := e.Eval(resolver)
	r.RecordEvaluation(ctx, time.Since(start), err)
	if err == nil {
		span.SetAttributes(attribute.String("result.type", v.Type().String()))
	}
	EndSpan(span, err)
	return v, err
}
