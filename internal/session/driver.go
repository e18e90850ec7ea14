package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbright/earshot/internal/fsm"
	"github.com/rbright/earshot/internal/recognizer"
	"github.com/rbright/earshot/internal/transcript"
)

// DefaultSessionCeiling bounds one capture session, restarts included.
const DefaultSessionCeiling = 60 * time.Second

// Deliver receives engine events tagged with the launch generation that produced them.
type Deliver func(gen uint64, ev recognizer.Event)

// Outcome tells the controller what follow-up an input requires.
type Outcome struct {
	// Stale is set when the input belonged to a finished run and was ignored.
	Stale bool
	// Err is the error classified from this input, if any.
	Err *CaptureError
	// Restart asks for a relaunch after the restart delay.
	Restart bool
	// Stopping means the engine was asked to stop and end is pending.
	Stopping bool
	// Finished carries the result when the session was finalized.
	Finished *Result
}

// Driver applies engine events to the capture state machine. It is not safe
// for concurrent use; the controller loop is its only caller.
type Driver struct {
	engine  recognizer.Engine
	ceiling time.Duration
	logger  *slog.Logger
	metrics *Metrics

	state   fsm.State
	gen     uint64
	session *CaptureSession
	acc     transcript.Accumulator
	segment string
	err     *CaptureError
	notice  string
}

// NewDriver creates an idle driver.
func NewDriver(engine recognizer.Engine, ceiling time.Duration, logger *slog.Logger, metrics *Metrics) *Driver {
	if ceiling <= 0 {
		ceiling = DefaultSessionCeiling
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Driver{
		engine:  engine,
		ceiling: ceiling,
		logger:  logger,
		metrics: metrics,
		state:   fsm.StateIdle,
		session: &CaptureSession{},
	}
}

func (d *Driver) State() fsm.State         { return d.state }
func (d *Driver) Session() *CaptureSession { return d.session }
func (d *Driver) Generation() uint64       { return d.gen }
func (d *Driver) Err() *CaptureError       { return d.err }
func (d *Driver) Notice() string           { return d.notice }
func (d *Driver) Accumulated() string      { return d.acc.String() }
func (d *Driver) CurrentSegment() string   { return d.segment }
func (d *Driver) Transcript() string       { return d.acc.Display(d.segment) }

// Begin opens a new capture session: Idle -> AcquiringPermission. An errored
// session is busy until its engine run ends.
func (d *Driver) Begin(now time.Time) error {
	if d.state != fsm.StateIdle {
		return fmt.Errorf("%w (state %s)", ErrBusy, d.state)
	}

	d.transition(fsm.EventStart)
	d.session.reset(now)
	d.acc.Reset()
	d.segment = ""
	d.err = nil
	d.notice = ""
	d.metrics.sessionStarted()
	return nil
}

// Grant launches the engine after the microphone was granted.
func (d *Driver) Grant(ctx context.Context, deliver Deliver, now time.Time) Outcome {
	if d.state != fsm.StateAcquiringPermission {
		return Outcome{Stale: true}
	}
	d.transition(fsm.EventGranted)
	return d.launch(ctx, deliver, now)
}

// Deny fails a session that could not acquire the microphone. No engine runs.
func (d *Driver) Deny(ce *CaptureError, now time.Time) Outcome {
	if d.state != fsm.StateAcquiringPermission {
		return Outcome{Stale: true}
	}
	d.fail(ce)
	return Outcome{Err: ce, Finished: d.finalize(now)}
}

// Relaunch restarts the engine after a segment ended.
func (d *Driver) Relaunch(ctx context.Context, deliver Deliver, now time.Time) Outcome {
	if d.state != fsm.StateRestarting {
		return Outcome{Stale: true}
	}
	if !d.session.KeepListening() {
		return Outcome{Finished: d.finalize(now)}
	}
	d.transition(fsm.EventRelaunch)
	return d.launch(ctx, deliver, now)
}

func (d *Driver) launch(ctx context.Context, deliver Deliver, now time.Time) Outcome {
	d.gen++
	gen := d.gen
	err := d.engine.Start(ctx, func(ev recognizer.Event) { deliver(gen, ev) })
	if err == nil {
		return Outcome{}
	}

	// No end follows a failed Start, so finalize here.
	ce := NewCaptureError(KindUnknown, "start", err)
	if errors.Is(err, context.Canceled) {
		ce = NewCaptureError(KindAborted, recognizer.CodeAborted, err)
	}
	d.fail(ce)
	return Outcome{Err: ce, Finished: d.finalize(now)}
}

// Handle applies one engine event.
func (d *Driver) Handle(gen uint64, ev recognizer.Event, now time.Time) Outcome {
	if gen != d.gen || !d.engineRunning() {
		return Outcome{Stale: true}
	}

	switch ev.Kind {
	case recognizer.EventSpeechStart:
		d.session.SpeechDetected = true
	case recognizer.EventResult:
		d.onResult(ev.Text)
	case recognizer.EventSpeechEnd:
		d.commitSegment()
		if fsm.Listening(d.state) {
			d.transition(fsm.EventSpeechEnd)
		}
	case recognizer.EventError:
		return d.onError(classifyEvent(ev))
	case recognizer.EventEnd:
		return d.onEnd(now)
	default:
		d.logger.Debug("recognizer event", "kind", string(ev.Kind))
	}
	return Outcome{}
}

// Stop clears keep_listening and winds the session down from any state.
func (d *Driver) Stop(now time.Time) Outcome {
	d.session.SetKeepListening(false)
	switch d.state {
	case fsm.StateAcquiringPermission, fsm.StateRestarting:
		return Outcome{Finished: d.finalize(now)}
	case fsm.StateActive, fsm.StateSegmentClosing, fsm.StateErrored:
		if err := d.engine.Stop(); err != nil {
			d.logger.Warn("stop recognizer", "error", err.Error())
		}
		return Outcome{Stopping: true}
	default:
		return Outcome{}
	}
}

// ForceFinalize aborts the engine run of generation gen and finalizes.
func (d *Driver) ForceFinalize(gen uint64, now time.Time) Outcome {
	if gen != d.gen || !d.engineRunning() {
		return Outcome{Stale: true}
	}
	return d.Shutdown(now)
}

// Shutdown aborts whatever is running and finalizes a busy session.
func (d *Driver) Shutdown(now time.Time) Outcome {
	if !fsm.Busy(d.state) && d.state != fsm.StateErrored {
		return Outcome{Stale: true}
	}
	d.session.SetKeepListening(false)
	if d.engineRunning() {
		if err := d.engine.Abort(); err != nil {
			d.logger.Warn("abort recognizer", "error", err.Error())
		}
	}
	return Outcome{Finished: d.finalize(now)}
}

// MarkSpeechDetected records debounced speech from the level sampler.
func (d *Driver) MarkSpeechDetected() bool {
	if !fsm.Busy(d.state) || d.session.SpeechDetected {
		return false
	}
	d.session.SpeechDetected = true
	return true
}

// ResetTranscript clears accumulated text and the segment in progress.
func (d *Driver) ResetTranscript() {
	d.acc.Reset()
	d.segment = ""
	d.notice = ""
}

func (d *Driver) onResult(text string) {
	if text == "" || d.state == fsm.StateErrored {
		return
	}
	d.segment = text
	d.session.SpeechDetected = true
	if d.err != nil && !d.err.Fatal() {
		d.err = nil
	}
	d.notice = ""
	d.transition(fsm.EventResult)
}

func (d *Driver) onError(ce *CaptureError) Outcome {
	out := Outcome{Err: ce}
	switch ce.Kind {
	case KindAborted:
		if d.acc.String() == "" && d.segment == "" {
			d.notice = "stopped"
		}
		return out
	case KindNoSpeechDetected:
		if d.session.SpeechDetected {
			// Speech was heard earlier; this is an ordinary segment end.
			return out
		}
		if d.state != fsm.StateErrored {
			d.err = ce
		}
		return out
	}

	if d.state == fsm.StateErrored {
		d.logger.Debug("ignoring error after failure", "kind", string(ce.Kind), "code", ce.Code)
		return out
	}
	d.fail(ce)
	return out
}

func (d *Driver) onEnd(now time.Time) Outcome {
	d.commitSegment()
	if d.state == fsm.StateErrored {
		return Outcome{Finished: d.finalize(now)}
	}
	if d.session.KeepListening() && d.session.Elapsed(now) < d.ceiling {
		d.transition(fsm.EventRestart)
		d.session.RestartCount++
		return Outcome{Restart: true}
	}
	return Outcome{Finished: d.finalize(now)}
}

func (d *Driver) fail(ce *CaptureError) {
	d.session.SetKeepListening(false)
	d.err = ce
	d.transition(fsm.EventFail)
}

func (d *Driver) finalize(now time.Time) *Result {
	d.commitSegment()
	d.transition(fsm.EventFinalize)
	d.session.FinishedAt = now
	result := &Result{
		Transcript: d.acc.String(),
		Err:        d.err,
		StartedAt:  d.session.StartedAt,
		FinishedAt: now,
		Restarts:   d.session.RestartCount,
		Segments:   d.acc.Segments(),
	}
	d.transition(fsm.EventFinalized)
	// Anything the finished run still emits is stale from here on.
	d.gen++
	return result
}

func (d *Driver) commitSegment() {
	if d.acc.Append(d.segment) {
		d.metrics.segmentAppended()
	}
	d.segment = ""
}

// engineRunning reports whether an engine run may still emit events.
func (d *Driver) engineRunning() bool {
	switch d.state {
	case fsm.StateActive, fsm.StateSegmentClosing, fsm.StateErrored:
		return true
	default:
		return false
	}
}

func (d *Driver) transition(event fsm.Event) {
	next, err := fsm.Transition(d.state, event)
	if err != nil {
		d.logger.Error("capture state transition rejected", "error", err.Error())
		return
	}
	d.state = next
}
