package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbright/earshot/internal/fsm"
)

const spanName = "capture.session"

// Tracer is an Observer that records each capture session as one span.
// State changes, recognizer restarts, and errors become span events.
type Tracer struct {
	tracer trace.Tracer

	// loop-owned
	span     trace.Span
	state    fsm.State
	restarts int
	lastErr  string
}

var _ Observer = (*Tracer)(nil)

// NewTracer uses the global tracer provider when tracer is nil.
func NewTracer(tracer trace.Tracer) *Tracer {
	if tracer == nil {
		tracer = otel.Tracer(meterName)
	}
	return &Tracer{tracer: tracer, state: fsm.StateIdle}
}

func (t *Tracer) StatusChanged(st Status) {
	if st.State == fsm.StateAcquiringPermission && t.state != st.State {
		if t.span != nil {
			t.span.SetAttributes(attribute.Bool("earshot.superseded", true))
			t.span.End()
		}
		_, t.span = t.tracer.Start(context.Background(), spanName,
			trace.WithAttributes(
				attribute.Int("earshot.noise_gate", int(st.NoiseGate)),
				attribute.Int("earshot.min_speech_level", int(st.MinSpeechLevel)),
			),
		)
		t.restarts = 0
		t.lastErr = ""
	}
	defer func() { t.state = st.State }()
	if t.span == nil {
		return
	}

	if st.State != t.state {
		t.span.AddEvent("state", trace.WithAttributes(attribute.String("earshot.state", string(st.State))))
	}
	if st.RestartCount > t.restarts {
		t.restarts = st.RestartCount
		t.span.AddEvent("recognizer.restart", trace.WithAttributes(attribute.Int("earshot.restarts", st.RestartCount)))
	}
	if st.Error != "" && st.Error != t.lastErr {
		t.span.AddEvent("capture.error", trace.WithAttributes(
			attribute.String("earshot.error.kind", string(st.ErrorKind)),
			attribute.String("earshot.error.message", st.Error),
		))
	}
	t.lastErr = st.Error
}

func (t *Tracer) SessionFinished(res Result) {
	if t.span == nil {
		return
	}
	span := t.span
	t.span = nil

	span.SetAttributes(
		attribute.Int("earshot.restarts", res.Restarts),
		attribute.Int("earshot.segments", res.Segments),
		attribute.Int("earshot.transcript_length", len(res.Transcript)),
	)
	if ce := res.Err; ce != nil {
		span.SetAttributes(attribute.String("earshot.error.kind", string(ce.Kind)))
		if ce.Fatal() {
			span.RecordError(ce)
			span.SetStatus(codes.Error, ce.Message)
		}
	}
	span.End(trace.WithTimestamp(res.FinishedAt))
}
