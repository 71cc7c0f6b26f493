// Package telemetry exposes the engine's OpenTelemetry counters.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// InstrumentationName is the meter name used for every instrument.
const InstrumentationName = "github.com/rendis/procflow"

// Metrics holds the counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	runsStarted      metric.Int64Counter
	runsFinished     metric.Int64Counter
	stepsExecuted    metric.Int64Counter
	triggerDispatch  metric.Int64Counter
	processAdvanced  metric.Int64Counter
	delaysDispatched metric.Int64Counter
}

// New creates the counters on meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.runsStarted, err = meter.Int64Counter("procflow.runs.started",
		metric.WithDescription("Runs created")); err != nil {
		return nil, err
	}
	if m.runsFinished, err = meter.Int64Counter("procflow.runs.finished",
		metric.WithDescription("Runs that reached a terminal status")); err != nil {
		return nil, err
	}
	if m.stepsExecuted, err = meter.Int64Counter("procflow.steps.executed",
		metric.WithDescription("Steps finalized, by action and outcome")); err != nil {
		return nil, err
	}
	if m.triggerDispatch, err = meter.Int64Counter("procflow.trigger.runs",
		metric.WithDescription("Runs created by triggers")); err != nil {
		return nil, err
	}
	if m.processAdvanced, err = meter.Int64Counter("procflow.process.advanced",
		metric.WithDescription("Process chain advances, by step type")); err != nil {
		return nil, err
	}
	if m.delaysDispatched, err = meter.Int64Counter("procflow.scheduler.delays",
		metric.WithDescription("Delayed process runs resumed by the scheduler")); err != nil {
		return nil, err
	}
	return m, nil
}

// Global builds Metrics from the globally registered MeterProvider.
func Global() (*Metrics, error) {
	return New(otel.Meter(InstrumentationName))
}

// Noop returns Metrics backed by a no-op provider.
func Noop() *Metrics {
	m, _ := New(noop.NewMeterProvider().Meter(InstrumentationName))
	return m
}

func (m *Metrics) RunStarted(ctx context.Context, procedureID, trigger string) {
	if m == nil {
		return
	}
	m.runsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("procedure_id", procedureID),
		attribute.String("trigger", trigger),
	))
}

func (m *Metrics) RunFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.runsFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) StepExecuted(ctx context.Context, action, executionType, outcome string) {
	if m == nil {
		return
	}
	m.stepsExecuted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("execution_type", executionType),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) TriggerDispatched(ctx context.Context, kind string, runs int) {
	if m == nil || runs == 0 {
		return
	}
	m.triggerDispatch.Add(ctx, int64(runs), metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) ProcessAdvanced(ctx context.Context, stepType string) {
	if m == nil {
		return
	}
	m.processAdvanced.Add(ctx, 1, metric.WithAttributes(attribute.String("step_type", stepType)))
}

func (m *Metrics) DelayDispatched(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.delaysDispatched.Add(ctx, int64(n))
}
