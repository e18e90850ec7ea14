package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/earshot/internal/audio"
	"github.com/rbright/earshot/internal/bus"
	"github.com/rbright/earshot/internal/cli"
	"github.com/rbright/earshot/internal/config"
	"github.com/rbright/earshot/internal/history"
	"github.com/rbright/earshot/internal/indicator"
	"github.com/rbright/earshot/internal/ipc"
	"github.com/rbright/earshot/internal/level"
	"github.com/rbright/earshot/internal/logging"
	"github.com/rbright/earshot/internal/noisegate"
	"github.com/rbright/earshot/internal/recognizer"
	"github.com/rbright/earshot/internal/session"
	"github.com/rbright/earshot/internal/telemetry"
	"github.com/rbright/earshot/internal/transcript"
	"github.com/rbright/earshot/internal/version"
)

const (
	acquireProbeTimeout = 180 * time.Millisecond
	acquireRetries      = 8
	sessionMeterName    = "github.com/rbright/earshot/internal/session"
	traceFileName       = "traces.jsonl"
)

// commandListen owns the socket and runs one capture session in the foreground.
func (r Runner) commandListen(ctx context.Context, parsed cli.Parsed, cfg config.Config, logger *slog.Logger) int {
	if parsed.Language != "" {
		cfg.Recognizer.Language = parsed.Language
	}
	if parsed.Endpoint != "" {
		cfg.Recognizer.Endpoint = parsed.Endpoint
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{
		ProbeTimeout: acquireProbeTimeout,
		Retries:      acquireRetries,
		Logger:       logger,
	})
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintf(r.Stderr, "error: %v; use `earshot stop` first\n", err)
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	metrics, tracer, shutdownTelemetry := r.setupTelemetry(ctx, cfg, logger)
	defer shutdownTelemetry()

	source := r.Source
	if source == nil {
		source = &audio.PulseSource{Input: cfg.Audio.Input, Fallback: cfg.Audio.Fallback, Logger: logger}
	}
	newEngine := r.NewEngine
	if newEngine == nil {
		newEngine = newStreamEngine
	}
	engine, err := newEngine(cfg, source, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = engine.Close() }()

	finished := make(chan session.Result, 1)
	observers := []session.Observer{
		newRenderer(r.Stderr, parsed.Debug),
		session.ObserverFuncs{OnFinished: func(res session.Result) {
			select {
			case finished <- res:
			default:
			}
		}},
	}

	if tracer != nil {
		observers = append(observers, tracer)
	}
	if cfg.Indicator.Sound || cfg.Indicator.Notify {
		ind := indicator.New(indicator.Options{
			Sound:  cfg.Indicator.Sound,
			Notify: cfg.Indicator.Notify,
			Logger: logger,
		})
		defer ind.Wait()
		observers = append(observers, ind)
	}
	if cfg.History.Enable {
		recorder, err := openHistory(ctx, cfg, logger)
		if err != nil {
			fmt.Fprintf(r.Stderr, "warning: history disabled: %v\n", err)
			logger.Warn("history disabled", "error", err.Error())
		} else {
			defer func() { _ = recorder.Close() }()
			observers = append(observers, recorder)
		}
	}
	if url := strings.TrimSpace(cfg.Bus.URL); url != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		publisher, err := bus.Connect(connectCtx, url, cfg.Bus.Subject, logger)
		cancel()
		if err != nil {
			fmt.Fprintf(r.Stderr, "warning: event bus disabled: %v\n", err)
			logger.Warn("event bus disabled", "error", err.Error())
		} else {
			defer publisher.Close()
			observers = append(observers, publisher)
		}
	}

	thresholds := r.gateThresholds(cfg, logger)
	controller, err := session.NewController(engine, session.Options{
		Source:         source,
		Sampler:        level.NewSampler(source, cfg.Capture.SampleInterval, logger),
		Gate:           noisegate.New(thresholds),
		Logger:         logger,
		Metrics:        metrics,
		SessionCeiling: cfg.Capture.SessionCeiling,
		RestartDelay:   cfg.Capture.RestartDelay,
		StopGrace:      cfg.Capture.StopGrace,
		Observers:      observers,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	// The loop outlives ctx so a signal can stop the session gracefully.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()
	runDone := make(chan error, 1)
	go func() { runDone <- controller.Run(runCtx) }()

	serverCtx, cancelServer := context.WithCancel(ctx)
	defer cancelServer()
	serverDone := make(chan error, 1)
	go func() {
		srv := &ipc.Server{Handler: controller, Logger: logger}
		serverDone <- srv.Serve(serverCtx, listener)
	}()

	logger.Info("listening",
		"endpoint", cfg.Recognizer.Endpoint,
		"language", cfg.Recognizer.Language,
		"noise_gate", thresholds.NoiseGate,
		"min_speech_level", thresholds.MinSpeechLevel,
	)
	controller.Start()

	result, ok := awaitResult(ctx, controller, finished, cfg.Capture.StopGrace)
	cancelRun()
	<-runDone
	if !ok {
		select {
		case result = <-finished:
			ok = true
		default:
		}
	}

	cancelServer()
	if serverErr := <-serverDone; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	if !ok {
		fmt.Fprintln(r.Stderr, "error: session ended without a result")
		return 1
	}
	logSessionResult(logger, result)
	return r.printResult(cfg, result)
}

// awaitResult waits for the session to finish on its own, or stops it when ctx
// ends. The controller's stop watchdog bounds the second wait; the extra
// second covers a stuck loop.
func awaitResult(ctx context.Context, c *session.Controller, finished <-chan session.Result, grace time.Duration) (session.Result, bool) {
	select {
	case res := <-finished:
		return res, true
	case <-ctx.Done():
	}

	c.Stop()
	if grace <= 0 {
		grace = session.DefaultStopGrace
	}
	timer := time.NewTimer(grace + time.Second)
	defer timer.Stop()
	select {
	case res := <-finished:
		return res, true
	case <-timer.C:
		return session.Result{}, false
	}
}

func (r Runner) printResult(cfg config.Config, result session.Result) int {
	if text := transcript.Format(result.Transcript, transcript.Options{TrailingNewline: cfg.Transcript.TrailingNewline}); text != "" {
		fmt.Fprint(r.Stdout, text)
	}
	if result.Err == nil {
		return 0
	}
	if result.Err.Fatal() {
		fmt.Fprintf(r.Stderr, "error: %s\n", result.Err.Message)
		return 1
	}
	if result.Transcript == "" {
		fmt.Fprintf(r.Stderr, "warning: %s\n", result.Err.Message)
	}
	return 0
}

// setupTelemetry returns capture metrics and, when traces are enabled, a
// session tracer. Failures only disable telemetry.
func (r Runner) setupTelemetry(ctx context.Context, cfg config.Config, logger *slog.Logger) (*session.Metrics, session.Observer, func()) {
	opts := telemetry.Options{
		Version:      version.Get().Version,
		Traces:       cfg.Telemetry.Traces,
		TraceFile:    cfg.Telemetry.TraceFile,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		Logger:       logger,
	}
	if opts.Traces == telemetry.TracesFile && strings.TrimSpace(opts.TraceFile) == "" {
		if dir, err := logging.StateDir(); err == nil {
			opts.TraceFile = filepath.Join(dir, traceFileName)
		}
	}
	provider, err := telemetry.New(ctx, opts)
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: telemetry disabled: %v\n", err)
		logger.Warn("telemetry disabled", "error", err.Error())
		return nil, nil, func() {}
	}
	provider.Install()

	var tracer session.Observer
	if opts.Traces != telemetry.TracesOff {
		tracer = session.NewTracer(provider.Tracer(sessionMeterName))
	}

	metrics, err := session.NewMetrics(provider.Meter(sessionMeterName))
	if err != nil {
		logger.Warn("capture metrics disabled", "error", err.Error())
	}

	serveCtx, cancel := context.WithCancel(ctx)
	served := make(chan struct{})
	if addr := strings.TrimSpace(cfg.Telemetry.MetricsAddr); addr != "" {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			fmt.Fprintf(r.Stderr, "warning: metrics endpoint disabled: %v\n", err)
			logger.Warn("metrics endpoint disabled", "addr", addr, "error", err.Error())
			close(served)
		} else {
			go func() {
				defer close(served)
				if err := provider.Serve(serveCtx, listener, logger); err != nil {
					logger.Warn("metrics endpoint failed", "error", err.Error())
				}
			}()
		}
	} else {
		close(served)
	}

	return metrics, tracer, func() {
		cancel()
		<-served
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = provider.Shutdown(shutdownCtx)
	}
}

// gateThresholds applies thresholds saved by `earshot gate` over the config.
func (r Runner) gateThresholds(cfg config.Config, logger *slog.Logger) noisegate.Thresholds {
	thresholds := noisegate.Thresholds{
		NoiseGate:      uint8(cfg.NoiseGate.Threshold),
		MinSpeechLevel: uint8(cfg.NoiseGate.MinSpeechLevel),
	}
	store, err := gateStore()
	if err != nil {
		return thresholds
	}
	saved, ok, err := store.Load()
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: ignoring saved gate: %v\n", err)
		logger.Warn("ignoring saved gate", "error", err.Error())
		return thresholds
	}
	if !ok {
		return thresholds
	}
	return noisegate.Thresholds{
		NoiseGate:      uint8(saved.NoiseGate),
		MinSpeechLevel: uint8(saved.MinSpeechLevel),
	}
}

func newStreamEngine(cfg config.Config, source audio.Source, logger *slog.Logger) (Engine, error) {
	rc := recognizer.DefaultConfig(cfg.Recognizer.Language)
	rc.InterimResults = cfg.Recognizer.InterimResults
	rc.MaxAlternatives = cfg.Recognizer.MaxAlternatives

	engine, err := recognizer.NewStreamEngine(recognizer.StreamOptions{
		Endpoint:    cfg.Recognizer.Endpoint,
		Config:      rc,
		Source:      source,
		DialTimeout: cfg.Recognizer.DialTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return engine, nil
}

func openHistory(ctx context.Context, cfg config.Config, logger *slog.Logger) (*history.Recorder, error) {
	path, err := historyPath(cfg)
	if err != nil {
		return nil, err
	}
	store, err := history.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return history.NewRecorder(store, cfg.Recognizer.Language, logger), nil
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"restarts", result.Restarts,
		"segments", result.Segments,
		"transcript_length", len(result.Transcript),
	}

	if result.Err != nil && result.Err.Fatal() {
		logger.Error("session failed", append(fields, "kind", string(result.Err.Kind), "error", result.Err.Error())...)
		return
	}
	if result.Err != nil {
		fields = append(fields, "kind", string(result.Err.Kind))
	}
	logger.Info("session complete", fields...)
}
