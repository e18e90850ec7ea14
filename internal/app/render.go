package app

import (
	"fmt"
	"io"

	"github.com/rbright/earshot/internal/session"
)

// renderer prints live status lines to stderr, keeping stdout for the final
// transcript.
type renderer struct {
	w     io.Writer
	debug bool

	// loop-owned
	last    session.Status
	hasLast bool
}

func newRenderer(w io.Writer, debug bool) *renderer {
	return &renderer{w: w, debug: debug}
}

func (r *renderer) StatusChanged(st session.Status) {
	if r.hasLast && !r.changed(st) {
		return
	}
	r.last, r.hasLast = st, true

	line := fmt.Sprintf("[%s]", st.State)
	switch {
	case st.Error != "":
		line += " error: " + st.Error
	case st.Notice != "":
		line += " (" + st.Notice + ")"
	case st.Transcript != "":
		line += " " + st.Transcript
	}
	if r.debug {
		line += "  | " + st.DebugInfo
	}
	fmt.Fprintln(r.w, line)
}

func (r *renderer) SessionFinished(session.Result) {}

// changed ignores level and clock movement unless debugging.
func (r *renderer) changed(st session.Status) bool {
	prev := r.last
	if st.State != prev.State || st.Transcript != prev.Transcript ||
		st.Error != prev.Error || st.Notice != prev.Notice {
		return true
	}
	if !r.debug {
		return false
	}
	return st.RestartCount != prev.RestartCount || st.SpeechDetected != prev.SpeechDetected ||
		st.NoiseGate != prev.NoiseGate || st.MinSpeechLevel != prev.MinSpeechLevel
}
