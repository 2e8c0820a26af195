// Package otel provides OpenTelemetry integration for SmartCalc evaluations.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Instrumentation scope name for meters and tracers.
const ScopeName = "github.com/petal-labs/smartcalc"

// Evaluation sources.
const (
	SourceExecute  = "execute"
	SourceEvaluate = "evaluate"
	SourceCLI      = "cli"
)

// maxExpressionAttr caps the expression text attached to spans.
const maxExpressionAttr = 256

// Observer records evaluation and arithmetic signals into OpenTelemetry.
// A nil *Observer is valid and records nothing.
type Observer struct {
	tracer trace.Tracer

	evaluations metric.Int64Counter
	duration    metric.Float64Histogram
	arithmetic  metric.Int64Counter
}

// NewObserver creates an observer bound to the provided meter and tracer.
// Nil arguments fall back to no-op implementations.
func NewObserver(meter metric.Meter, tracer trace.Tracer) (*Observer, error) {
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(ScopeName)
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(ScopeName)
	}

	evaluations, err := meter.Int64Counter(
		"smartcalc.evaluations",
		metric.WithDescription("Number of expression evaluations"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"smartcalc.evaluation.duration",
		metric.WithDescription("Duration of parse and evaluation in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	arithmetic, err := meter.Int64Counter(
		"smartcalc.arithmetic.operations",
		metric.WithDescription("Number of two-operand arithmetic requests"),
	)
	if err != nil {
		return nil, err
	}

	return &Observer{
		tracer:      tracer,
		evaluations: evaluations,
		duration:    duration,
		arithmetic:  arithmetic,
	}, nil
}

// Evaluation tracks one in-flight evaluation. End must be called once.
type Evaluation struct {
	o      *Observer
	ctx    context.Context
	span   trace.Span
	source string
	start  time.Time
}

// StartEvaluation opens a span for an evaluation of expression. The returned
// context carries the span.
func (o *Observer) StartEvaluation(ctx context.Context, source, expression string) (context.Context, *Evaluation) {
	if o == nil {
		return ctx, nil
	}
	if len(expression) > maxExpressionAttr {
		expression = expression[:maxExpressionAttr]
	}
	ctx, span := o.tracer.Start(ctx, "smartcalc.evaluate",
		trace.WithAttributes(
			attribute.String("smartcalc.source", source),
			attribute.String("smartcalc.expression", expression),
		),
	)
	return ctx, &Evaluation{
		o:      o,
		ctx:    ctx,
		span:   span,
		source: source,
		start:  time.Now(),
	}
}

// End records the outcome. An empty errorCode means success.
func (e *Evaluation) End(errorCode string) {
	if e == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("source", e.source),
		attribute.String("outcome", outcome(errorCode)),
	}
	if errorCode != "" {
		attrs = append(attrs, attribute.String("error_kind", errorCode))
	}
	options := metric.WithAttributes(attrs...)
	e.o.evaluations.Add(e.ctx, 1, options)
	e.o.duration.Record(e.ctx, time.Since(e.start).Seconds(), options)

	if errorCode != "" {
		e.span.SetAttributes(attribute.String("smartcalc.error_kind", errorCode))
		e.span.SetStatus(codes.Error, errorCode)
	} else {
		e.span.SetStatus(codes.Ok, "")
	}
	e.span.End()
}

// ObserveArithmetic records one two-operand arithmetic request.
func (o *Observer) ObserveArithmetic(ctx context.Context, op string, errorCode string) {
	if o == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("op", op),
		attribute.String("outcome", outcome(errorCode)),
	}
	if errorCode != "" {
		attrs = append(attrs, attribute.String("error_kind", errorCode))
	}
	o.arithmetic.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func outcome(errorCode string) string {
	if errorCode == "" {
		return "ok"
	}
	return "error"
}
