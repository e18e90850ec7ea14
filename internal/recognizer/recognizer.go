// Package recognizer defines the external speech recognition engine boundary
// and a gRPC streaming implementation of it.
package recognizer

import (
	"context"
	"errors"
)

// Config is applied to every engine run.
type Config struct {
	Continuous      bool
	InterimResults  bool
	Language        string
	MaxAlternatives int
}

// DefaultConfig is continuous, interim-enabled recognition with one alternative.
func DefaultConfig(language string) Config {
	return Config{
		Continuous:      true,
		InterimResults:  true,
		Language:        language,
		MaxAlternatives: 1,
	}
}

// EventKind names one engine lifecycle, result, or error event.
type EventKind string

const (
	EventAudioStart  EventKind = "audiostart"
	EventSoundStart  EventKind = "soundstart"
	EventSoundEnd    EventKind = "soundend"
	EventSpeechStart EventKind = "speechstart"
	EventResult      EventKind = "result"
	EventSpeechEnd   EventKind = "speechend"
	EventError       EventKind = "error"
	EventEnd         EventKind = "end"
)

// Error codes carried by EventError.
const (
	CodeNoSpeech            = "no-speech"
	CodeAudioCapture        = "audio-capture"
	CodeNetwork             = "network"
	CodeAborted             = "aborted"
	CodeLanguageUnsupported = "language-not-supported"
	CodeNotAllowed          = "not-allowed"
)

// Event is one notification from a running engine.
//
// For EventResult, Text is the full text recognized so far in the current
// segment, not a delta.
type Event struct {
	Kind    EventKind
	Text    string
	Final   bool
	Code    string
	Message string
}

// Engine is a session-limited recognizer that stops itself unpredictably.
//
// A successful Start is followed, eventually, by exactly one EventEnd. Stop asks
// the engine to finish the current segment; Abort discards it. Both are safe to
// call when no run is active.
type Engine interface {
	Start(ctx context.Context, emit func(Event)) error
	Stop() error
	Abort() error
}

// ErrAlreadyStarted is returned by Start while a run is active.
var ErrAlreadyStarted = errors.New("recognizer already started")
