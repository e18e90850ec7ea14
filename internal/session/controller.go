package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/earshot/internal/audio"
	"github.com/rbright/earshot/internal/fsm"
	"github.com/rbright/earshot/internal/level"
	"github.com/rbright/earshot/internal/noisegate"
	"github.com/rbright/earshot/internal/recognizer"
)

const (
	// DefaultRestartDelay is the fixed pause before relaunching an ended engine.
	DefaultRestartDelay = 100 * time.Millisecond
	// DefaultStopGrace bounds how long Stop waits for the engine's end.
	DefaultStopGrace = 3 * time.Second

	inboxSize = 64
)

// LevelSampler is the controller-facing subset of level.Sampler.
type LevelSampler interface {
	Start(ctx context.Context, onSample func(level.Sample)) error
	Stop() error
	Available() bool
}

// Options configures a Controller.
type Options struct {
	// Source is probed once per process for microphone permission.
	Source  audio.Source
	Sampler LevelSampler
	Gate    *noisegate.Gate
	Logger  *slog.Logger
	Metrics *Metrics

	SessionCeiling time.Duration
	RestartDelay   time.Duration
	StopGrace      time.Duration
	Now            func() time.Time

	Observers []Observer
}

// Controller is the public face of continuous capture. Commands return
// immediately; effects are observed through Status and Observers.
//
// All state changes run on the loop goroutine started by Run.
type Controller struct {
	driver    *Driver
	source    audio.Source
	sampler   LevelSampler
	gate      *noisegate.Gate
	debouncer noisegate.Debouncer
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time

	restartDelay time.Duration
	stopGrace    time.Duration
	observers    []Observer

	inbox chan func()
	done  chan struct{}
	ctx   context.Context

	// loop-owned
	permissionGranted bool
	pendingStart      bool
	epoch             uint64
	level             uint8
	soundDetected     bool

	mu     sync.RWMutex
	status Status
}

// NewController wires a controller around engine.
func NewController(engine recognizer.Engine, opts Options) (*Controller, error) {
	if engine == nil {
		return nil, errors.New("recognition engine is nil")
	}
	if opts.Source == nil {
		return nil, errors.New("audio source is nil")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Sampler == nil {
		opts.Sampler = level.NewSampler(opts.Source, level.DefaultInterval, opts.Logger)
	}
	if opts.Gate == nil {
		opts.Gate = noisegate.New(noisegate.Thresholds{NoiseGate: 10, MinSpeechLevel: 25})
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		driver:       NewDriver(engine, opts.SessionCeiling, opts.Logger, opts.Metrics),
		source:       opts.Source,
		sampler:      opts.Sampler,
		gate:         opts.Gate,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
		restartDelay: opts.RestartDelay,
		stopGrace:    opts.StopGrace,
		observers:    append([]Observer(nil), opts.Observers...),
		inbox:        make(chan func(), inboxSize),
		done:         make(chan struct{}),
	}
	c.status = c.snapshot()
	return c, nil
}

// Run processes commands and events until ctx ends. A busy session is
// finalized on the way out.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.pendingStart = false
			c.apply(c.driver.Shutdown(c.now()))
			_ = c.sampler.Stop()
			return nil
		case fn := <-c.inbox:
			fn()
		}
	}
}

// Start begins a capture session. It is a no-op while one is listening; after
// a Stop whose end is still pending, the new session begins once the stopped
// one has finished.
func (c *Controller) Start() {
	c.post(c.begin)
}

// Stop clears keep_listening immediately, so an end already in flight
// finalizes, then asks the engine to stop. Safe to call repeatedly or when idle.
func (c *Controller) Stop() {
	c.driver.Session().SetKeepListening(false)
	c.post(c.stop)
}

// ResetTranscript clears the accumulated transcript.
func (c *Controller) ResetTranscript() {
	c.post(func() {
		c.driver.ResetTranscript()
		c.publish()
	})
}

// AdjustNoiseGate replaces the noise-gate threshold for the next sample.
func (c *Controller) AdjustNoiseGate(value uint8) {
	c.gate.SetNoiseGate(value)
	c.tryPost(c.publish)
}

// AdjustMinSpeechLevel replaces the speech threshold for the next sample.
func (c *Controller) AdjustMinSpeechLevel(value uint8) {
	c.gate.SetMinSpeechLevel(value)
	c.tryPost(c.publish)
}

// Status returns the latest published snapshot.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) post(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

// tryPost drops fn when the inbox is full; used for droppable updates.
func (c *Controller) tryPost(fn func()) {
	select {
	case c.inbox <- fn:
	default:
	}
}

func (c *Controller) begin() {
	switch state := c.driver.State(); {
	case state == fsm.StateErrored:
		// The failed run has to deliver its end before the engine can start again.
		c.pendingStart = true
		c.halt()
		return
	case fsm.Busy(state) && !c.driver.Session().KeepListening():
		c.logger.Debug("start deferred until the stopping session finishes", "state", string(state))
		c.pendingStart = true
		return
	case fsm.Busy(state):
		c.logger.Debug("start ignored; session in progress", "state", string(state))
		return
	}
	if err := c.driver.Begin(c.now()); err != nil {
		c.logger.Warn("start capture session", "error", err.Error())
		return
	}

	c.debouncer.Reset()
	c.level = 0
	c.soundDetected = false
	c.epoch++
	c.logger.Info("capture session started")

	go c.acquire(c.ctx, c.epoch, c.permissionGranted)
	c.publish()
}

// acquire runs off-loop: the one-time permission probe, then the level sampler.
func (c *Controller) acquire(ctx context.Context, epoch uint64, granted bool) {
	var probeErr error
	if !granted {
		probeErr = c.source.Probe(ctx)
	}
	var samplerErr error
	if probeErr == nil {
		samplerErr = c.sampler.Start(ctx, c.onSample)
	}
	c.post(func() { c.acquired(epoch, probeErr, samplerErr) })
}

func (c *Controller) acquired(epoch uint64, probeErr, samplerErr error) {
	if epoch != c.epoch || c.driver.State() != fsm.StateAcquiringPermission {
		if !fsm.Busy(c.driver.State()) {
			_ = c.sampler.Stop()
		}
		return
	}

	if err := errors.Join(probeErr, samplerErr); err != nil {
		kind, code := KindAudioCaptureFailure, recognizer.CodeAudioCapture
		if errors.Is(err, audio.ErrPermissionDenied) {
			kind, code = KindPermissionDenied, recognizer.CodeNotAllowed
		}
		c.apply(c.driver.Deny(NewCaptureError(kind, code, err), c.now()))
		return
	}

	c.permissionGranted = true
	if !c.sampler.Available() {
		c.logger.Warn("audio level monitoring unavailable; continuing without it")
	}
	c.apply(c.driver.Grant(c.ctx, c.deliver, c.now()))
}

// deliver is called from engine goroutines.
func (c *Controller) deliver(gen uint64, ev recognizer.Event) {
	c.post(func() {
		c.apply(c.driver.Handle(gen, ev, c.now()))
	})
}

func (c *Controller) stop() {
	c.pendingStart = false
	c.halt()
}

// halt asks the running session to wind down and arms the stop watchdog.
func (c *Controller) halt() {
	out := c.driver.Stop(c.now())
	if out.Stopping {
		gen := c.driver.Generation()
		time.AfterFunc(c.stopGrace, func() {
			c.post(func() { c.stopExpired(gen) })
		})
	}
	c.apply(out)
}

func (c *Controller) stopExpired(gen uint64) {
	out := c.driver.ForceFinalize(gen, c.now())
	if !out.Stale {
		c.logger.Warn("recognizer did not end after stop; aborted", "grace", c.stopGrace.String())
	}
	c.apply(out)
}

func (c *Controller) relaunch(epoch uint64, restarts int) {
	if epoch != c.epoch || restarts != c.driver.Session().RestartCount {
		return
	}
	c.apply(c.driver.Relaunch(c.ctx, c.deliver, c.now()))
}

func (c *Controller) onSample(sample level.Sample) {
	c.tryPost(func() { c.observeSample(sample) })
}

func (c *Controller) observeSample(sample level.Sample) {
	if !fsm.Busy(c.driver.State()) {
		return
	}
	class := c.gate.Classify(sample.Level)
	c.level = sample.Level
	c.soundDetected = class != noisegate.Silence
	if class != noisegate.Silence {
		c.logger.Debug("audio level", "level", sample.Level, "class", class.String())
	}
	if c.debouncer.Observe(class) && c.driver.MarkSpeechDetected() {
		c.logger.Debug("speech detected by level sampler", "level", sample.Level)
	}
	c.publish()
}

// apply performs the side effects an Outcome asks for and republishes status.
func (c *Controller) apply(out Outcome) {
	if out.Stale {
		return
	}
	if ce := out.Err; ce != nil {
		c.metrics.errored(ce.Kind)
		attrs := []any{"kind", string(ce.Kind), "code", ce.Code}
		if ce.Err != nil {
			attrs = append(attrs, "error", ce.Err.Error())
		}
		if ce.Fatal() {
			c.logger.Error("capture error", attrs...)
			_ = c.sampler.Stop()
		} else {
			c.logger.Info("capture notice", attrs...)
		}
	}
	if out.Restart {
		c.metrics.restarted()
		epoch, restarts := c.epoch, c.driver.Session().RestartCount
		c.logger.Debug("recognizer ended; restarting", "restarts", restarts)
		time.AfterFunc(c.restartDelay, func() {
			c.post(func() { c.relaunch(epoch, restarts) })
		})
	}
	if res := out.Finished; res != nil {
		_ = c.sampler.Stop()
		c.level = 0
		c.soundDetected = false
		c.logger.Info("capture session finished",
			"restarts", res.Restarts,
			"segments", res.Segments,
			"chars", len(res.Transcript),
			"elapsed", res.FinishedAt.Sub(res.StartedAt).String(),
		)
		for _, o := range c.observers {
			o.SessionFinished(*res)
		}
		if c.pendingStart {
			c.pendingStart = false
			c.begin()
		}
	}
	c.publish()
}

func (c *Controller) publish() {
	next := c.snapshot()
	c.mu.Lock()
	changed := next != c.status
	c.status = next
	c.mu.Unlock()
	if !changed {
		return
	}
	for _, o := range c.observers {
		o.StatusChanged(next)
	}
}

func (c *Controller) snapshot() Status {
	now := c.now()
	session := c.driver.Session()
	thresholds := c.gate.Thresholds()
	state := c.driver.State()

	st := Status{
		State:               state,
		Listening:           fsm.Listening(state),
		Transcript:          c.driver.Transcript(),
		Notice:              c.driver.Notice(),
		Level:               c.level,
		SoundDetected:       c.soundDetected,
		SpeechDetected:      session.SpeechDetected,
		RestartCount:        session.RestartCount,
		Elapsed:             session.Elapsed(now),
		NoiseGate:           thresholds.NoiseGate,
		MinSpeechLevel:      thresholds.MinSpeechLevel,
		MonitoringAvailable: c.sampler.Available(),
	}
	if ce := c.driver.Err(); ce != nil {
		st.Error = ce.Message
		st.ErrorKind = ce.Kind
	}
	st.DebugInfo = debugInfo(st)
	return st
}

func debugInfo(st Status) string {
	info := fmt.Sprintf("elapsed=%.1fs restarts=%d gate=%d min_speech=%d level=%d state=%s",
		st.Elapsed.Seconds(), st.RestartCount, st.NoiseGate, st.MinSpeechLevel, st.Level, st.State)
	if fsm.Busy(st.State) && !st.MonitoringAvailable {
		info += " monitoring=off"
	}
	return info
}
