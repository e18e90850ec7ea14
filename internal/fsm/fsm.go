// Package fsm defines the recognition driver state machine as a pure transition table.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle                State = "idle"
	StateAcquiringPermission State = "acquiring_permission"
	StateActive              State = "active"
	StateSegmentClosing      State = "segment_closing"
	StateRestarting          State = "restarting"
	StateFinalizing          State = "finalizing"
	StateErrored             State = "errored"
)

const (
	EventStart     Event = "start"
	EventGranted   Event = "granted"
	EventResult    Event = "result"
	EventSpeechEnd Event = "speech_end"
	EventRestart   Event = "restart"
	EventRelaunch  Event = "relaunch"
	EventFinalize  Event = "finalize"
	EventFinalized Event = "finalized"
	EventFail      Event = "fail"
)

// Transition returns the state reached by applying event to current.
func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		switch current {
		case StateIdle, StateFinalizing:
			return current, invalidTransition(current, event)
		default:
			return StateErrored, nil
		}
	}

	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateAcquiringPermission, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAcquiringPermission:
		switch event {
		case EventGranted:
			return StateActive, nil
		case EventFinalize:
			return StateFinalizing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateActive:
		switch event {
		case EventResult:
			return StateActive, nil
		case EventSpeechEnd:
			return StateSegmentClosing, nil
		case EventRestart:
			return StateRestarting, nil
		case EventFinalize:
			return StateFinalizing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateSegmentClosing:
		switch event {
		case EventResult:
			return StateActive, nil
		case EventSpeechEnd:
			return StateSegmentClosing, nil
		case EventRestart:
			return StateRestarting, nil
		case EventFinalize:
			return StateFinalizing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRestarting:
		switch event {
		case EventRelaunch:
			return StateActive, nil
		case EventFinalize:
			return StateFinalizing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateFinalizing:
		switch event {
		case EventFinalized:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateErrored:
		switch event {
		case EventFinalize:
			return StateFinalizing, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Listening reports whether a state corresponds to an engine run in progress.
func Listening(state State) bool {
	switch state {
	case StateActive, StateSegmentClosing, StateRestarting:
		return true
	default:
		return false
	}
}

// Busy reports whether a capture session currently owns the driver.
func Busy(state State) bool {
	return state != StateIdle && state != StateErrored
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
