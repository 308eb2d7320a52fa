// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"helmsman/pkg/errors"
)

// SessionMetrics tracks loop iterations, guard rejections, errors, and
// circuit breaker state for production monitoring.
type SessionMetrics struct {
	iterationCounter metric.Int64Counter
	rejectionCounter metric.Int64Counter
	errorCounter     metric.Int64Counter
	breakerGauge     metric.Int64Gauge
	durationHist     metric.Float64Histogram
}

// NewSessionMetrics creates a session metrics tracker with OTEL meters.
func NewSessionMetrics() (*SessionMetrics, error) {
	meter := otel.Meter("helmsman/session")

	iterationCounter, err := meter.Int64Counter(
		"helmsman.session.iterations",
		metric.WithDescription("Loop iterations by session"),
	)
	if err != nil {
		return nil, err
	}

	rejectionCounter, err := meter.Int64Counter(
		"helmsman.guard.rejections",
		metric.WithDescription("Guard rejections by layer"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"helmsman.errors.total",
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	breakerGauge, err := meter.Int64Gauge(
		"helmsman.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per dependency (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"helmsman.session.duration",
		metric.WithDescription("Session duration in seconds by terminal state"),
	)
	if err != nil {
		return nil, err
	}

	return &SessionMetrics{
		iterationCounter: iterationCounter,
		rejectionCounter: rejectionCounter,
		errorCounter:     errorCounter,
		breakerGauge:     breakerGauge,
		durationHist:     durationHist,
	}, nil
}

// RecordIteration increments the iteration counter for a session.
func (sm *SessionMetrics) RecordIteration(ctx context.Context, sessionID string) {
	if sm == nil {
		return
	}
	sm.iterationCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("session.id", sessionID)),
	)
}

// RecordRejection increments the guard rejection counter.
func (sm *SessionMetrics) RecordRejection(ctx context.Context, guardName string) {
	if sm == nil {
		return
	}
	sm.rejectionCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("guard", guardName)),
	)
}

// RecordError increments the error counter for the given error and component.
func (sm *SessionMetrics) RecordError(ctx context.Context, err error, component string) {
	if sm == nil || err == nil {
		return
	}
	sm.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", string(errors.CodeOf(err))),
			attribute.String("component", component),
		),
	)
}

// RecordBreakerState records the circuit breaker state
// (0=open, 1=half-open, 2=closed).
func (sm *SessionMetrics) RecordBreakerState(ctx context.Context, dependency string, state int64) {
	if sm == nil {
		return
	}
	sm.breakerGauge.Record(ctx, state,
		metric.WithAttributes(attribute.String("dependency", dependency)),
	)
}

// RecordSessionDuration records the wall-clock duration of a finished session.
func (sm *SessionMetrics) RecordSessionDuration(ctx context.Context, terminalState string, seconds float64) {
	if sm == nil {
		return
	}
	sm.durationHist.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("state", terminalState)),
	)
}
