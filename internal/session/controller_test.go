package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rbright/earshot/internal/audio"
	"github.com/rbright/earshot/internal/fsm"
	"github.com/rbright/earshot/internal/ipc"
	"github.com/rbright/earshot/internal/recognizer"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const waitFor = 2 * time.Second

type harness struct {
	c        *Controller
	engine   *fakeEngine
	source   *fakeSource
	sampler  *fakeSampler
	finished chan Result
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, configure func(*harness, *Options)) *harness {
	t.Helper()
	h := &harness{
		engine:   newFakeEngine(),
		source:   &fakeSource{},
		sampler:  &fakeSampler{},
		finished: make(chan Result, 8),
	}
	h.engine.endOnStop = true

	opts := Options{
		Source:       h.source,
		Sampler:      h.sampler,
		RestartDelay: time.Millisecond,
		StopGrace:    time.Second,
		Observers: []Observer{ObserverFuncs{OnFinished: func(r Result) {
			h.finished <- r
		}}},
	}
	if configure != nil {
		configure(h, &opts)
	}

	c, err := NewController(h.engine, opts)
	require.NoError(t, err)
	h.c = c

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return h
}

func (h *harness) waitStarted(t *testing.T, n int) {
	t.Helper()
	select {
	case got := <-h.engine.started:
		require.Equal(t, n, got)
	case <-time.After(waitFor):
		t.Fatalf("engine start %d not observed", n)
	}
}

func (h *harness) waitFinished(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-h.finished:
		return r
	case <-time.After(waitFor):
		t.Fatal("session did not finish")
		return Result{}
	}
}

// flush waits until everything posted so far has been processed by the loop.
func (h *harness) flush(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	require.True(t, h.c.post(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("controller loop did not drain")
	}
}

func TestNewControllerValidation(t *testing.T) {
	_, err := NewController(nil, Options{Source: &fakeSource{}})
	require.Error(t, err)

	_, err = NewController(newFakeEngine(), Options{})
	require.Error(t, err)
}

func TestControllerContinuousCaptureAcrossRestart(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Start()
	h.waitStarted(t, 1)
	require.Eventually(t, func() bool { return h.c.Status().Listening }, waitFor, 5*time.Millisecond)

	h.engine.send(result("hello"), speechEnd, end)
	h.waitStarted(t, 2)

	h.engine.send(result(" again"))
	h.flush(t)
	require.Equal(t, "hello again", h.c.Status().Transcript)
	require.Equal(t, 1, h.c.Status().RestartCount)

	h.c.Stop()
	res := h.waitFinished(t)
	require.Equal(t, "hello again", res.Transcript)
	require.Equal(t, 1, res.Restarts)
	require.Nil(t, res.Err)

	h.flush(t)
	st := h.c.Status()
	require.Equal(t, fsm.StateIdle, st.State)
	require.False(t, st.Listening)
	require.Equal(t, "hello again", st.Transcript)
	require.Equal(t, 1, h.source.probeCount())
	require.False(t, h.sampler.Available())
}

func TestControllerProbesPermissionOncePerProcess(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Start()
	h.waitStarted(t, 1)
	h.c.Stop()
	h.waitFinished(t)

	h.c.Start()
	h.waitStarted(t, 2)
	require.Equal(t, 1, h.source.probeCount())
}

func TestControllerStartWhileListeningKeepsSession(t *testing.T) {
	h := newHarness(t, nil)

	h.c.Start()
	h.waitStarted(t, 1)
	h.engine.send(result("still here"))
	h.c.Start()
	h.flush(t)

	require.Equal(t, "still here", h.c.Status().Transcript)
	starts, _, _ := h.engine.counts()
	require.Equal(t, 1, starts)
}

func TestControllerStartAfterStopFinishesStoppedSessionFirst(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Options) {
		h.engine.endOnStop = false
	})

	h.c.Start()
	h.waitStarted(t, 1)
	h.engine.send(result("first"), speechEnd)
	h.c.Stop()
	h.c.Start()
	h.flush(t)
	starts, _, _ := h.engine.counts()
	require.Equal(t, 1, starts)

	h.engine.send(end)
	res := h.waitFinished(t)
	require.Equal(t, "first", res.Transcript)
	require.Zero(t, res.Restarts)

	h.waitStarted(t, 2)
	h.flush(t)
	st := h.c.Status()
	require.True(t, st.Listening)
	require.Empty(t, st.Transcript)
	require.Zero(t, st.RestartCount)
}

func TestControllerStopCancelsDeferredStart(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Options) {
		h.engine.endOnStop = false
	})

	h.c.Start()
	h.waitStarted(t, 1)
	h.c.Stop()
	h.c.Start()
	h.c.Stop()
	h.flush(t)

	h.engine.send(end)
	h.waitFinished(t)
	h.flush(t)
	require.Equal(t, fsm.StateIdle, h.c.Status().State)
	starts, _, _ := h.engine.counts()
	require.Equal(t, 1, starts)
}

func TestControllerStartFromErroredWaitsForFailedRun(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Options) {
		h.engine.exclusive = true
	})

	h.c.Start()
	h.waitStarted(t, 1)
	h.engine.send(result("partial"), engineError(recognizer.CodeNetwork))
	h.flush(t)
	require.Equal(t, fsm.StateErrored, h.c.Status().State)

	h.c.Start()
	res := h.waitFinished(t)
	require.Equal(t, "partial", res.Transcript)
	require.Equal(t, KindNetworkFailure, res.Err.Kind)

	h.waitStarted(t, 2)
	h.flush(t)
	st := h.c.Status()
	require.True(t, st.Listening)
	require.Empty(t, st.Error)
	require.Empty(t, st.Transcript)
	_, stops, _ := h.engine.counts()
	require.Equal(t, 1, stops)
}

func TestControllerPermissionDenied(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Options) {
		h.source.probeErr = fmt.Errorf("%w: access denied", audio.ErrPermissionDenied)
	})

	h.c.Start()
	res := h.waitFinished(t)
	require.NotNil(t, res.Err)
	require.Equal(t, KindPermissionDenied, res.Err.Kind)

	h.flush(t)
	st := h.c.Status()
	require.Equal(t, fsm.StateIdle, st.State)
	require.False(t, st.Listening)
	require.Equal(t, KindPermissionDenied, st.ErrorKind)
	require.Contains(t, st.Error, "Microphone access was denied")

	starts, _, _ := h.engine.counts()
	require.Zero(t, starts)
}

func TestControllerDeviceFailureIsAudioCaptureFailure(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Options) {
		h.source.probeErr = fmt.Errorf("%w: no sources", audio.ErrDeviceUnavailable)
	})

	h.c.Start()
	res := h.waitFinished(t)
	require.Equal(t, KindAudioCaptureFailure, res.Err.Kind)
}

func TestControllerContinuesWithoutLevelMonitoring(t *testing.T) {
	h := newHarness(t, func(h *harness, _ *Options) {
		h.sampler.unavailable = true
	})

	h.c.Start()
	h.waitStarted(t, 1)
	h.flush(t)

	st := h.c.Status()
	require.True(t, st.Listening)
	require.False(t, st.MonitoringAvailable)
	require.Contains(t, st.DebugInfo, "monitoring=off")
}

func TestControllerStopWatchdogAbortsSilentEngine(t *testing.T) {
	h := newHarness(t, func(h *harness, opts *Options) {
		h.engine.endOnStop = false
		opts.StopGrace = 20 * time.Millisecond
	})

	h.c.Start()
	h.waitStarted(t, 1)
	h.engine.send(result("stuck"))
	h.c.Stop()

	res := h.waitFinished(t)
	require.Equal(t, "stuck", res.Transcript)
	_, stops, aborts := h.engine.counts()
	require.Equal(t, 1, stops)
	require.Equal(t, 1, aborts)
}

func TestControllerStopIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Stop()
	h.c.Stop()
	h.flush(t)
	require.Equal(t, fsm.StateIdle, h.c.Status().State)

	h.c.Start()
	h.waitStarted(t, 1)
	h.c.Stop()
	h.c.Stop()
	h.waitFinished(t)
	h.flush(t)

	select {
	case r := <-h.finished:
		t.Fatalf("unexpected second result %+v", r)
	default:
	}
}

func TestControllerDebouncesSpeechDetection(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Start()
	h.waitStarted(t, 1)

	h.sampler.feed(40, 5, 40)
	h.flush(t)
	st := h.c.Status()
	require.False(t, st.SpeechDetected)
	require.True(t, st.SoundDetected)
	require.Equal(t, uint8(40), st.Level)

	h.sampler.feed(40)
	h.flush(t)
	require.True(t, h.c.Status().SpeechDetected)
}

func TestControllerAdjustNoiseGateAppliesToNextSample(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Start()
	h.waitStarted(t, 1)

	h.c.AdjustNoiseGate(30)
	h.sampler.feed(20)
	h.flush(t)
	st := h.c.Status()
	require.Equal(t, uint8(30), st.NoiseGate)
	require.False(t, st.SoundDetected)

	h.sampler.feed(45)
	h.flush(t)
	require.True(t, h.c.Status().SoundDetected)

	h.c.AdjustMinSpeechLevel(60)
	h.flush(t)
	require.Equal(t, uint8(60), h.c.Status().MinSpeechLevel)
}

func TestControllerResetTranscript(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Start()
	h.waitStarted(t, 1)

	h.engine.send(result("discard"), speechEnd)
	h.c.ResetTranscript()
	h.flush(t)
	require.Empty(t, h.c.Status().Transcript)

	h.engine.send(result("keep"))
	h.flush(t)
	require.Equal(t, "keep", h.c.Status().Transcript)
}

func TestControllerFatalErrorThenRestart(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Start()
	h.waitStarted(t, 1)

	h.engine.send(result("partial"), engineError(recognizer.CodeNetwork))
	h.flush(t)
	st := h.c.Status()
	require.Equal(t, fsm.StateErrored, st.State)
	require.False(t, st.Listening)
	require.Equal(t, KindNetworkFailure, st.ErrorKind)
	require.Equal(t, "partial", st.Transcript)

	h.engine.send(end)
	res := h.waitFinished(t)
	require.Equal(t, "partial", res.Transcript)
	require.Equal(t, KindNetworkFailure, res.Err.Kind)

	h.c.Start()
	h.waitStarted(t, 2)
	h.flush(t)
	require.Empty(t, h.c.Status().Error)
	require.Empty(t, h.c.Status().Transcript)
}

func TestControllerRunCancellationFinalizes(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Start()
	h.waitStarted(t, 1)
	h.engine.send(result("bye"))
	h.flush(t)

	h.cancel()
	res := h.waitFinished(t)
	require.Equal(t, "bye", res.Transcript)

	select {
	case <-h.c.Done():
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	_, _, aborts := h.engine.counts()
	require.Equal(t, 1, aborts)
}

func TestControllerHandleCommands(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.c.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)
	require.Contains(t, resp.DebugInfo, "state=idle")

	resp = h.c.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.True(t, resp.OK)
	require.Equal(t, "stop requested", resp.Message)

	tooLoud := 300
	resp = h.c.Handle(context.Background(), ipc.Request{Command: ipc.CommandGate, NoiseGate: &tooLoud})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "noise_gate must be within 0..255")

	negative := -1
	resp = h.c.Handle(context.Background(), ipc.Request{Command: ipc.CommandGate, MinSpeechLevel: &negative})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "min_speech_level")

	gate, minSpeech := 12, 40
	resp = h.c.Handle(context.Background(), ipc.Request{Command: ipc.CommandGate, NoiseGate: &gate, MinSpeechLevel: &minSpeech})
	require.True(t, resp.OK)
	require.Equal(t, "gate=12 min_speech=40", resp.Message)

	resp = h.c.Handle(context.Background(), ipc.Request{Command: ipc.CommandGate})
	require.True(t, resp.OK)
	require.Equal(t, "gate unchanged", resp.Message)

	resp = h.c.Handle(context.Background(), ipc.Request{Command: ipc.CommandReset})
	require.True(t, resp.OK)

	resp = h.c.Handle(context.Background(), ipc.Request{Command: "dance"})
	require.False(t, resp.OK)
	require.Equal(t, "unknown command: dance", resp.Error)
}

func TestDebugInfoFormat(t *testing.T) {
	st := Status{
		State:          fsm.StateActive,
		Elapsed:        1500 * time.Millisecond,
		RestartCount:   2,
		NoiseGate:      10,
		MinSpeechLevel: 25,
		Level:          33,
	}
	require.Equal(t, "elapsed=1.5s restarts=2 gate=10 min_speech=25 level=33 state=active monitoring=off", debugInfo(st))

	st.MonitoringAvailable = true
	require.Equal(t, "elapsed=1.5s restarts=2 gate=10 min_speech=25 level=33 state=active", debugInfo(st))

	require.Equal(t, "elapsed=0.0s restarts=0 gate=0 min_speech=0 level=0 state=idle", debugInfo(Status{State: fsm.StateIdle}))
}

func TestControllerRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	metrics, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	h := newHarness(t, func(_ *harness, opts *Options) {
		opts.Metrics = metrics
	})

	h.c.Start()
	h.waitStarted(t, 1)
	h.engine.send(result("one"), speechEnd, end)
	h.waitStarted(t, 2)
	h.engine.send(engineError(recognizer.CodeNetwork), end)
	h.waitFinished(t)

	require.Equal(t, int64(1), counterValue(t, reader, "earshot.capture.sessions", ""))
	require.Equal(t, int64(1), counterValue(t, reader, "earshot.capture.restarts", ""))
	require.Equal(t, int64(1), counterValue(t, reader, "earshot.capture.segments", ""))
	require.Equal(t, int64(1), counterValue(t, reader, "earshot.capture.errors", string(KindNetworkFailure)))
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name, kind string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is %T", name, m.Data)
			for _, dp := range sum.DataPoints {
				if kind != "" {
					v, ok := dp.Attributes.Value("kind")
					if !ok || v.AsString() != kind {
						continue
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}
