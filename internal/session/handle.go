package session

import (
	"context"
	"fmt"

	"github.com/rbright/earshot/internal/ipc"
)

// Handle serves IPC commands for the running session.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.statusResponse("status")
	case ipc.CommandStop:
		c.Stop()
		return c.statusResponse("stop requested")
	case ipc.CommandReset:
		c.ResetTranscript()
		return c.statusResponse("transcript reset requested")
	case ipc.CommandGate:
		return c.handleGate(req)
	default:
		st := c.Status()
		return ipc.Response{OK: false, State: string(st.State), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) handleGate(req ipc.Request) ipc.Response {
	if req.NoiseGate == nil && req.MinSpeechLevel == nil {
		return c.statusResponse("gate unchanged")
	}
	if err := checkThreshold("noise_gate", req.NoiseGate); err != "" {
		return ipc.Response{OK: false, State: string(c.Status().State), Error: err}
	}
	if err := checkThreshold("min_speech_level", req.MinSpeechLevel); err != "" {
		return ipc.Response{OK: false, State: string(c.Status().State), Error: err}
	}
	if req.NoiseGate != nil {
		c.AdjustNoiseGate(uint8(*req.NoiseGate))
	}
	if req.MinSpeechLevel != nil {
		c.AdjustMinSpeechLevel(uint8(*req.MinSpeechLevel))
	}
	t := c.gate.Thresholds()
	return c.statusResponse(fmt.Sprintf("gate=%d min_speech=%d", t.NoiseGate, t.MinSpeechLevel))
}

func (c *Controller) statusResponse(message string) ipc.Response {
	st := c.Status()
	return ipc.Response{
		OK:         true,
		State:      string(st.State),
		Listening:  st.Listening,
		Message:    message,
		Error:      st.Error,
		Transcript: st.Transcript,
		DebugInfo:  st.DebugInfo,
	}
}

func checkThreshold(name string, v *int) string {
	if v == nil || (*v >= 0 && *v <= 255) {
		return ""
	}
	return fmt.Sprintf("%s must be within 0..255 (got %d)", name, *v)
}
