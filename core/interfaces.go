package core

import "context"

// Logger interface - minimal logging interface shared by all components
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// Telemetry interface - optional metrics support
type Telemetry interface {
	RecordMetric(name string, value float64, labels map[string]string)
}

// PolicyRefresher re-verifies the current policy against the platform.
// The transport invokes it after a rate-limit or policy rejection so the
// agent re-learns its permitted reporting rate instead of retrying a call
// that would certainly be rejected again.
type PolicyRefresher interface {
	RefreshPolicy(ctx context.Context)
}

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// NoOpTelemetry provides a no-op telemetry implementation
type NoOpTelemetry struct{}

func (n *NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}
