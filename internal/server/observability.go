package server

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Observability struct {
	Tracer oteltrace.Tracer
	Meter  metric.Meter

	traceProvider *sdktrace.TracerProvider
	RunCounter    metric.Int64Counter
	RoundCases    metric.Int64Histogram
	CaseOutcomes  metric.Int64Counter
	QuotaBlocked  metric.Int64Counter
	PlanDecisions metric.Int64Counter
}

func SetupObservability(ctx context.Context, cfg ObservabilityConfig) (*Observability, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "bench-api"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	if cfg.OTLPEndpoint != "" {
		exporter, exportErr := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if exportErr != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", exportErr)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		slog.Info("otel trace exporter not configured; using local tracer provider")
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	meter := otel.Meter(serviceName)
	tracer := otel.Tracer(serviceName)
	runCounter, _ := meter.Int64Counter("eval_run_total")
	roundCases, _ := meter.Int64Histogram("eval_round_cases")
	caseOutcomes, _ := meter.Int64Counter("eval_case_outcome_total")
	quotaBlocked, _ := meter.Int64Counter("eval_quota_block_total")
	planDecisions, _ := meter.Int64Counter("eval_plan_decision_total")
	return &Observability{
		Tracer:        tracer,
		Meter:         meter,
		traceProvider: tp,
		RunCounter:    runCounter,
		RoundCases:    roundCases,
		CaseOutcomes:  caseOutcomes,
		QuotaBlocked:  quotaBlocked,
		PlanDecisions: planDecisions,
	}, nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.traceProvider == nil {
		return nil
	}
	return o.traceProvider.Shutdown(ctx)
}

func (o *Observability) MarkRun(ctx context.Context, status string) {
	if o == nil {
		return
	}
	o.RunCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

func (o *Observability) MarkRound(ctx context.Context, executed int64) {
	if o == nil {
		return
	}
	o.RoundCases.Record(ctx, executed)
}

func (o *Observability) MarkOutcome(ctx context.Context, outcome string, count int64) {
	if o == nil || count <= 0 {
		return
	}
	o.CaseOutcomes.Add(ctx, count, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (o *Observability) MarkQuotaBlocked(ctx context.Context, reason string) {
	if o == nil {
		return
	}
	o.QuotaBlocked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

func (o *Observability) MarkDecision(ctx context.Context, strategy string) {
	if o == nil {
		return
	}
	o.PlanDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
	))
}
