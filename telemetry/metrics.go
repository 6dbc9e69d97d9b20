// Package telemetry adapts the agent's Telemetry interface to
// OpenTelemetry metric instruments. Applications that already run an otel
// SDK get agent metrics through their configured meter provider; without
// one the global no-op provider swallows them.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelTelemetry implements core.Telemetry on OpenTelemetry counters.
// Instruments are created lazily per metric name and cached.
type OTelTelemetry struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
}

// New creates a telemetry adapter scoped to the given instrumentation name
func New(name string) *OTelTelemetry {
	return &OTelTelemetry{
		meter:    otel.Meter(name),
		counters: make(map[string]metric.Float64Counter),
	}
}

// RecordMetric adds value to the counter named name with the given labels.
// Instrument creation errors degrade to dropping the measurement.
func (t *OTelTelemetry) RecordMetric(name string, value float64, labels map[string]string) {
	counter, err := t.counter(name)
	if err != nil {
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

func (t *OTelTelemetry) counter(name string) (metric.Float64Counter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counters[name]; ok {
		return c, nil
	}
	c, err := t.meter.Float64Counter(name)
	if err != nil {
		return nil, err
	}
	t.counters[name] = c
	return c, nil
}
