package otel_test

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	calcotel "github.com/petal-labs/smartcalc/otel"
)

// newTestMeter returns a meter backed by a manual reader for collecting metrics in tests.
func newTestMeter() (*metric.ManualReader, *metric.MeterProvider) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	return reader, mp
}

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

// collectMetrics reads all metrics from the reader.
func collectMetrics(t *testing.T, reader *metric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return &rm
}

// findMetric searches for a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value of the data point carrying all attrs.
func sumFor(t *testing.T, m *metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s type = %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range attrs {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v != kv.Value {
				match = false
				break
			}
		}
		if match {
			total += dp.Value
		}
	}
	return total
}

func newTestObserver(t *testing.T) (*calcotel.Observer, *metric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader, mp := newTestMeter()
	exporter, tp := newTestTracer()
	o, err := calcotel.NewObserver(mp.Meter("test"), tp.Tracer("test"))
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	return o, reader, exporter
}

func TestObserver_EvaluationSuccess(t *testing.T) {
	o, reader, exporter := newTestObserver(t)

	ctx, ev := o.StartEvaluation(context.Background(), calcotel.SourceExecute, "a + b")
	if !trace.SpanContextFromContext(ctx).IsValid() {
		t.Fatal("expected span in returned context")
	}
	ev.End("")

	rm := collectMetrics(t, reader)
	evals := findMetric(rm, "smartcalc.evaluations")
	if evals == nil {
		t.Fatal("smartcalc.evaluations metric not found")
	}
	got := sumFor(t, evals,
		attribute.String("source", "execute"),
		attribute.String("outcome", "ok"),
	)
	if got != 1 {
		t.Fatalf("ok evaluations = %d, want 1", got)
	}

	dur := findMetric(rm, "smartcalc.evaluation.duration")
	if dur == nil {
		t.Fatal("smartcalc.evaluation.duration metric not found")
	}
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration type = %T, want Histogram[float64]", dur.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Fatalf("duration data points = %+v", hist.DataPoints)
	}
	if dur.Unit != "s" {
		t.Fatalf("duration unit = %q, want s", dur.Unit)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "smartcalc.evaluate" {
		t.Fatalf("span name = %q", spans[0].Name)
	}
	if spans[0].Status.Code != otelcodes.Ok {
		t.Fatalf("span status = %v, want Ok", spans[0].Status.Code)
	}
}

func TestObserver_EvaluationFailure(t *testing.T) {
	o, reader, exporter := newTestObserver(t)

	_, ev := o.StartEvaluation(context.Background(), calcotel.SourceEvaluate, "1/0")
	ev.End("DIVISION_BY_ZERO")

	rm := collectMetrics(t, reader)
	evals := findMetric(rm, "smartcalc.evaluations")
	if evals == nil {
		t.Fatal("smartcalc.evaluations metric not found")
	}
	got := sumFor(t, evals,
		attribute.String("source", "evaluate"),
		attribute.String("outcome", "error"),
		attribute.String("error_kind", "DIVISION_BY_ZERO"),
	)
	if got != 1 {
		t.Fatalf("failed evaluations = %d, want 1", got)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != otelcodes.Error || spans[0].Status.Description != "DIVISION_BY_ZERO" {
		t.Fatalf("span status = %+v", spans[0].Status)
	}
	var sawKind bool
	for _, kv := range spans[0].Attributes {
		if kv.Key == "smartcalc.error_kind" && kv.Value.AsString() == "DIVISION_BY_ZERO" {
			sawKind = true
		}
	}
	if !sawKind {
		t.Fatalf("span attributes missing error kind: %v", spans[0].Attributes)
	}
}

func TestObserver_TruncatesLongExpressions(t *testing.T) {
	o, _, exporter := newTestObserver(t)

	_, ev := o.StartEvaluation(context.Background(), calcotel.SourceCLI, strings.Repeat("1+", 500)+"1")
	ev.End("")

	spans := exporter.GetSpans()
	for _, kv := range spans[0].Attributes {
		if kv.Key == "smartcalc.expression" && len(kv.Value.AsString()) > 256 {
			t.Fatalf("expression attribute length = %d", len(kv.Value.AsString()))
		}
	}
}

func TestObserver_Arithmetic(t *testing.T) {
	o, reader, _ := newTestObserver(t)
	ctx := context.Background()

	o.ObserveArithmetic(ctx, "add", "")
	o.ObserveArithmetic(ctx, "add", "")
	o.ObserveArithmetic(ctx, "div", "DIVISION_BY_ZERO")

	rm := collectMetrics(t, reader)
	ops := findMetric(rm, "smartcalc.arithmetic.operations")
	if ops == nil {
		t.Fatal("smartcalc.arithmetic.operations metric not found")
	}
	if got := sumFor(t, ops, attribute.String("op", "add"), attribute.String("outcome", "ok")); got != 2 {
		t.Fatalf("add ok = %d, want 2", got)
	}
	if got := sumFor(t, ops, attribute.String("op", "div"), attribute.String("outcome", "error")); got != 1 {
		t.Fatalf("div error = %d, want 1", got)
	}
}

func TestObserver_NilIsNoop(t *testing.T) {
	var o *calcotel.Observer
	ctx := context.Background()

	got, ev := o.StartEvaluation(ctx, calcotel.SourceCLI, "1")
	if got != ctx {
		t.Fatal("nil observer should return the input context")
	}
	ev.End("SYNTAX_ERROR")
	o.ObserveArithmetic(ctx, "add", "")
}

func TestNewObserver_NilProviders(t *testing.T) {
	o, err := calcotel.NewObserver(nil, nil)
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	_, ev := o.StartEvaluation(context.Background(), calcotel.SourceCLI, "1")
	ev.End("")
}
