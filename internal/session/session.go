// Package session drives continuous capture: it restarts a self-terminating
// recognition engine, merges its segments, and reports live status.
package session

import (
	"sync/atomic"
	"time"

	"github.com/rbright/earshot/internal/fsm"
)

// CaptureSession is the mutable state of one capture session.
//
// Every field except keepListening is owned by the controller loop.
type CaptureSession struct {
	StartedAt      time.Time
	FinishedAt     time.Time
	RestartCount   int
	SpeechDetected bool

	keepListening atomic.Bool
}

// KeepListening reports whether an engine end should restart rather than finalize.
func (s *CaptureSession) KeepListening() bool {
	return s.keepListening.Load()
}

// SetKeepListening may be called from any goroutine.
func (s *CaptureSession) SetKeepListening(v bool) {
	s.keepListening.Store(v)
}

// Elapsed is measured from the original start and is not reset by restarts.
func (s *CaptureSession) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if !s.FinishedAt.IsZero() {
		return s.FinishedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

func (s *CaptureSession) reset(now time.Time) {
	s.StartedAt = now
	s.FinishedAt = time.Time{}
	s.RestartCount = 0
	s.SpeechDetected = false
	s.keepListening.Store(true)
}

// Result is the outcome of one finalized capture session.
type Result struct {
	Transcript string
	Err        *CaptureError
	StartedAt  time.Time
	FinishedAt time.Time
	Restarts   int
	Segments   int
}

// Status is the live view of the controller.
type Status struct {
	State               fsm.State
	Listening           bool
	Transcript          string
	Error               string
	ErrorKind           Kind
	Notice              string
	DebugInfo           string
	Level               uint8
	SoundDetected       bool
	SpeechDetected      bool
	RestartCount        int
	Elapsed             time.Duration
	NoiseGate           uint8
	MinSpeechLevel      uint8
	MonitoringAvailable bool
}

// Observer receives status updates and finished sessions from the controller loop.
// Implementations must not block.
type Observer interface {
	StatusChanged(Status)
	SessionFinished(Result)
}

// ObserverFuncs adapts optional callbacks to Observer.
type ObserverFuncs struct {
	OnStatus   func(Status)
	OnFinished func(Result)
}

func (o ObserverFuncs) StatusChanged(s Status) {
	if o.OnStatus != nil {
		o.OnStatus(s)
	}
}

func (o ObserverFuncs) SessionFinished(r Result) {
	if o.OnFinished != nil {
		o.OnFinished(r)
	}
}
