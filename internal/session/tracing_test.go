package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rbright/earshot/internal/fsm"
	"github.com/rbright/earshot/internal/recognizer"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTracer(tp.Tracer("test")), rec
}

func eventNames(span sdktrace.ReadOnlySpan) []string {
	var names []string
	for _, ev := range span.Events() {
		names = append(names, ev.Name)
	}
	return names
}

func attrValue(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracerRecordsOneSpanPerSession(t *testing.T) {
	tr, rec := newRecordingTracer(t)

	tr.StatusChanged(Status{State: fsm.StateIdle})
	tr.StatusChanged(Status{State: fsm.StateAcquiringPermission, NoiseGate: 10, MinSpeechLevel: 25})
	tr.StatusChanged(Status{State: fsm.StateActive})
	tr.StatusChanged(Status{State: fsm.StateActive, Level: 40})
	tr.StatusChanged(Status{State: fsm.StateRestarting, RestartCount: 1})
	tr.StatusChanged(Status{State: fsm.StateActive, RestartCount: 1})
	tr.StatusChanged(Status{State: fsm.StateFinalizing, RestartCount: 1})

	finished := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	tr.SessionFinished(Result{Transcript: "hello world", Restarts: 1, Segments: 2, FinishedAt: finished})
	tr.StatusChanged(Status{State: fsm.StateIdle})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, spanName, span.Name())
	require.Equal(t, finished, span.EndTime())
	require.Equal(t, []string{"state", "state", "state", "recognizer.restart", "state", "state"}, eventNames(span))

	v, ok := attrValue(span, "earshot.segments")
	require.True(t, ok)
	require.Equal(t, int64(2), v.AsInt64())
	v, ok = attrValue(span, "earshot.noise_gate")
	require.True(t, ok)
	require.Equal(t, int64(10), v.AsInt64())
	require.Equal(t, codes.Unset, span.Status().Code)
}

func TestTracerMarksFatalErrors(t *testing.T) {
	tr, rec := newRecordingTracer(t)
	ce := NewCaptureError(KindNetworkFailure, recognizer.CodeNetwork, nil)

	tr.StatusChanged(Status{State: fsm.StateAcquiringPermission})
	tr.StatusChanged(Status{State: fsm.StateErrored, Error: ce.Message, ErrorKind: ce.Kind})
	tr.StatusChanged(Status{State: fsm.StateErrored, Error: ce.Message, ErrorKind: ce.Kind, Level: 3})
	tr.SessionFinished(Result{Err: ce, FinishedAt: time.Now()})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, ce.Message, spans[0].Status().Description)
	require.Contains(t, eventNames(spans[0]), "capture.error")
	require.Contains(t, eventNames(spans[0]), "exception")

	v, ok := attrValue(spans[0], "earshot.error.kind")
	require.True(t, ok)
	require.Equal(t, string(KindNetworkFailure), v.AsString())
}

func TestTracerEndsSupersededSpan(t *testing.T) {
	tr, rec := newRecordingTracer(t)

	tr.StatusChanged(Status{State: fsm.StateAcquiringPermission})
	tr.StatusChanged(Status{State: fsm.StateErrored, Error: "boom"})
	tr.StatusChanged(Status{State: fsm.StateAcquiringPermission})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	v, ok := attrValue(spans[0], "earshot.superseded")
	require.True(t, ok)
	require.True(t, v.AsBool())
	require.Len(t, rec.Started(), 2)
}

func TestTracerIgnoresFinishWithoutSpan(t *testing.T) {
	tr, rec := newRecordingTracer(t)
	tr.SessionFinished(Result{})
	tr.StatusChanged(Status{State: fsm.StateActive})
	require.Empty(t, rec.Started())
}
