package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/earshot/internal/session"
)

const saveTimeout = 2 * time.Second

// Recorder saves finished sessions in the background so the controller loop
// never waits on SQLite.
type Recorder struct {
	store    *Store
	language string
	logger   *slog.Logger

	pending sync.WaitGroup
}

// NewRecorder records into store; language is stored with every entry.
func NewRecorder(store *Store, language string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{store: store, language: language, logger: logger}
}

func (r *Recorder) StatusChanged(session.Status) {}

// SessionFinished queues res unless it produced neither text nor an error.
func (r *Recorder) SessionFinished(res session.Result) {
	if res.Transcript == "" && res.Err == nil {
		return
	}
	entry := FromResult(res, r.language)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		saved, err := r.store.Save(ctx, entry)
		if err != nil {
			r.logger.Error("save transcript history", "error", err.Error())
			return
		}
		r.logger.Debug("transcript saved", "id", saved.ID)
	}()
}

// Wait blocks until queued saves are done.
func (r *Recorder) Wait() {
	r.pending.Wait()
}

// Close waits for queued saves and closes the store.
func (r *Recorder) Close() error {
	r.pending.Wait()
	return r.store.Close()
}
