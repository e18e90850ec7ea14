package session

import (
	"errors"
	"fmt"

	"github.com/rbright/earshot/internal/recognizer"
)

// Kind classifies capture failures.
type Kind string

const (
	KindPermissionDenied     Kind = "permission_denied"
	KindNoSpeechDetected     Kind = "no_speech_detected"
	KindAudioCaptureFailure  Kind = "audio_capture_failure"
	KindNetworkFailure       Kind = "network_failure"
	KindAborted              Kind = "aborted"
	KindLanguageNotSupported Kind = "language_not_supported"
	KindUnknown              Kind = "unknown"
)

// ErrBusy is returned when a capture session already owns the driver.
var ErrBusy = errors.New("capture session already in progress")

// CaptureError is a classified failure with a human-readable message.
type CaptureError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error ends the capture session.
func (e *CaptureError) Fatal() bool {
	switch e.Kind {
	case KindNoSpeechDetected, KindAborted:
		return false
	default:
		return true
	}
}

// NewCaptureError builds a classified error with the standard message for kind.
func NewCaptureError(kind Kind, code string, err error) *CaptureError {
	return &CaptureError{Kind: kind, Code: code, Message: message(kind, code), Err: err}
}

// classifyEvent maps an engine error event onto the taxonomy.
func classifyEvent(ev recognizer.Event) *CaptureError {
	var err error
	if ev.Message != "" {
		err = errors.New(ev.Message)
	}
	return NewCaptureError(kindForCode(ev.Code), ev.Code, err)
}

func kindForCode(code string) Kind {
	switch code {
	case recognizer.CodeNotAllowed, "service-not-allowed":
		return KindPermissionDenied
	case recognizer.CodeNoSpeech:
		return KindNoSpeechDetected
	case recognizer.CodeAudioCapture:
		return KindAudioCaptureFailure
	case recognizer.CodeNetwork:
		return KindNetworkFailure
	case recognizer.CodeAborted:
		return KindAborted
	case recognizer.CodeLanguageUnsupported:
		return KindLanguageNotSupported
	default:
		return KindUnknown
	}
}

func message(kind Kind, code string) string {
	switch kind {
	case KindPermissionDenied:
		return "Microphone access was denied. Allow microphone access and try again."
	case KindNoSpeechDetected:
		return "No speech detected. Try speaking louder or moving closer to the microphone."
	case KindAudioCaptureFailure:
		return "Microphone capture failed. Check that an input device is connected and unmuted."
	case KindNetworkFailure:
		return "Speech recognition could not reach the recognizer. Check the network connection."
	case KindAborted:
		return "Speech recognition stopped."
	case KindLanguageNotSupported:
		return "The configured language is not supported by this recognizer. Choose a different language or recognizer."
	default:
		if code == "" {
			return "Speech recognition failed."
		}
		return fmt.Sprintf("Speech recognition failed (%s).", code)
	}
}
