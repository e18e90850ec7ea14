// Package ipc carries newline-delimited JSON commands to a running capture
// session over its unix socket.
package ipc

import "errors"

// Commands understood by a running capture session.
const (
	CommandStatus = "status"
	CommandStop   = "stop"
	CommandReset  = "reset"
	CommandGate   = "gate"
)

// Request is one command line sent by a client.
type Request struct {
	Command        string `json:"command"`
	NoiseGate      *int   `json:"noise_gate,omitempty"`
	MinSpeechLevel *int   `json:"min_speech_level,omitempty"`
}

// Response is the single reply line to a Request.
type Response struct {
	OK         bool   `json:"ok"`
	State      string `json:"state,omitempty"`
	Listening  bool   `json:"listening,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	DebugInfo  string `json:"debug_info,omitempty"`
}

// Err returns the reported failure of a response that is not OK.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == "" {
		return errors.New("request rejected")
	}
	return errors.New(r.Error)
}
