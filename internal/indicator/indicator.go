// Package indicator signals capture progress with short audio cues and a
// desktop notification when a session fails.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/earshot/internal/fsm"
	"github.com/rbright/earshot/internal/session"
)

const (
	dispatchTimeout = 400 * time.Millisecond
	errorExpire     = 4 * time.Second
	errorIcon       = "audio-input-microphone"
	errorSummary    = "Speech recognition error"
)

// Options selects which signals are emitted.
type Options struct {
	Sound   bool
	Notify  bool
	AppName string
	Logger  *slog.Logger
}

// Indicator is a session.Observer. Cues and notifications run off the
// controller loop so a slow sound server never delays capture.
type Indicator struct {
	opts   Options
	logger *slog.Logger

	play   func(cueKind) error
	notify func(ctx context.Context, n notification) (uint32, error)

	// loop-owned
	lastState fsm.State

	mu             sync.Mutex
	notificationID uint32
	soundMu        sync.Mutex
	pending        sync.WaitGroup
}

var _ session.Observer = (*Indicator)(nil)

// New creates an indicator.
func New(opts Options) *Indicator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if strings.TrimSpace(opts.AppName) == "" {
		opts.AppName = "earshot"
	}
	return &Indicator{
		opts:      opts,
		logger:    logger,
		play:      emitCue,
		notify:    desktopNotify,
		lastState: fsm.StateIdle,
	}
}

// StatusChanged plays the start cue when a session begins acquiring the microphone.
func (i *Indicator) StatusChanged(st session.Status) {
	prev := i.lastState
	i.lastState = st.State
	if st.State == fsm.StateAcquiringPermission && prev != st.State {
		i.playCue(cueStart)
	}
}

// SessionFinished signals how the session ended.
func (i *Indicator) SessionFinished(res session.Result) {
	switch {
	case res.Err != nil && res.Err.Fatal():
		i.playCue(cueError)
		i.showError(res.Err.Message)
	case strings.TrimSpace(res.Transcript) == "":
		i.playCue(cueEmpty)
	default:
		i.playCue(cueComplete)
	}
}

// Wait blocks until queued cues and notifications are done.
func (i *Indicator) Wait() {
	i.pending.Wait()
}

func (i *Indicator) showError(text string) {
	if !i.opts.Notify {
		return
	}
	i.pending.Add(1)
	go func() {
		defer i.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()

		i.mu.Lock()
		replaceID := i.notificationID
		i.mu.Unlock()

		id, err := i.notify(ctx, notification{
			AppName:   i.opts.AppName,
			ReplaceID: replaceID,
			Icon:      errorIcon,
			Summary:   errorSummary,
			Body:      text,
			Urgency:   urgencyCritical,
			Expire:    errorExpire,
		})
		if err != nil {
			i.log("indicator notification failed", err)
			return
		}
		i.mu.Lock()
		i.notificationID = id
		i.mu.Unlock()
	}()
}

// playCue serializes cue playback and emits audio asynchronously.
func (i *Indicator) playCue(kind cueKind) {
	if !i.opts.Sound {
		return
	}
	i.pending.Add(1)
	go func() {
		defer i.pending.Done()
		i.soundMu.Lock()
		defer i.soundMu.Unlock()
		if err := i.play(kind); err != nil {
			i.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (i *Indicator) log(message string, err error) {
	if err == nil {
		return
	}
	i.logger.Debug(message, "error", err.Error())
}
