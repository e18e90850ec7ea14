package telemetry

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
)

func TestHandlerExposesCounters(t *testing.T) {
	p, err := New(context.Background(), Options{Version: "1.2.3"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	counter, err := p.Meter("test").Int64Counter("earshot.capture.sessions")
	require.NoError(t, err)
	counter.Add(context.Background(), 2)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.Contains(t, body, "earshot_capture_sessions_total")
	require.Contains(t, body, `service_name="earshot"`)
	require.Contains(t, body, `service_version="1.2.3"`)
}

func TestProvidersAreIndependent(t *testing.T) {
	a, err := New(context.Background(), Options{Version: "a"})
	require.NoError(t, err)
	b, err := New(context.Background(), Options{Version: "b"})
	require.NoError(t, err)
	require.NoError(t, a.Shutdown(context.Background()))
	require.NoError(t, b.Shutdown(context.Background()))
}

func TestServeUntilCanceled(t *testing.T) {
	p, err := New(context.Background(), Options{Version: "dev"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	gauge, err := p.Meter("test").Int64UpDownCounter("earshot.test.active", metric.WithDescription("test"))
	require.NoError(t, err)
	gauge.Add(context.Background(), 1)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx, listener, nil) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Contains(t, string(body), "earshot_test_active")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}

func TestTracingOffUsesNoopTracer(t *testing.T) {
	p, err := New(context.Background(), Options{Version: "dev"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := p.Tracer("test").Start(context.Background(), "ignored")
	require.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestFileTracesAreWrittenOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "traces.jsonl")
	p, err := New(context.Background(), Options{Version: "dev", Traces: TracesFile, TraceFile: path})
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "capture.session")
	require.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"Name":"capture.session"`)
	require.Contains(t, string(data), "earshot")
}

func TestOTLPExporterDialsLazily(t *testing.T) {
	p, err := New(context.Background(), Options{Version: "dev", Traces: TracesOTLP, OTLPEndpoint: "127.0.0.1:1", OTLPInsecure: true})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestInvalidTraceOptions(t *testing.T) {
	cases := map[string]Options{
		"unknown exporter":  {Traces: "jaeger"},
		"file without path": {Traces: TracesFile},
		"otlp without host": {Traces: TracesOTLP},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(context.Background(), opts)
			require.Error(t, err)
		})
	}
}
