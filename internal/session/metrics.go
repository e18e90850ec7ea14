package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/rbright/earshot/internal/session"

// Metrics counts capture lifecycle events. A nil *Metrics records nothing.
type Metrics struct {
	sessions metric.Int64Counter
	restarts metric.Int64Counter
	segments metric.Int64Counter
	errors   metric.Int64Counter
}

// NewMetrics registers the capture counters on meter, or on the global
// provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	sessions, err := meter.Int64Counter("earshot.capture.sessions",
		metric.WithDescription("Capture sessions started."))
	if err != nil {
		return nil, err
	}
	restarts, err := meter.Int64Counter("earshot.capture.restarts",
		metric.WithDescription("Recognition engine restarts within a session."))
	if err != nil {
		return nil, err
	}
	segments, err := meter.Int64Counter("earshot.capture.segments",
		metric.WithDescription("Segments appended to the accumulated transcript."))
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter("earshot.capture.errors",
		metric.WithDescription("Classified capture errors by kind."))
	if err != nil {
		return nil, err
	}

	return &Metrics{sessions: sessions, restarts: restarts, segments: segments, errors: errs}, nil
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessions.Add(context.Background(), 1)
}

func (m *Metrics) restarted() {
	if m == nil {
		return
	}
	m.restarts.Add(context.Background(), 1)
}

func (m *Metrics) segmentAppended() {
	if m == nil {
		return
	}
	m.segments.Add(context.Background(), 1)
}

func (m *Metrics) errored(kind Kind) {
	if m == nil {
		return
	}
	m.errors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}
