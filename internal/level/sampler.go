package level

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/earshot/internal/audio"
)

// DefaultInterval is the sampling period.
const DefaultInterval = 300 * time.Millisecond

// Sample is one energy reading.
type Sample struct {
	Level uint8
	At    time.Time
}

// Sampler holds a microphone stream open and reports its level on a fixed period,
// independent of anything else consuming the microphone.
type Sampler struct {
	source   audio.Source
	interval time.Duration
	logger   *slog.Logger

	// NewAnalyser overrides the analyser used on each Start.
	NewAnalyser func() *Analyser

	mu        sync.Mutex
	running   bool
	available bool
	analyser  *Analyser
	stream    audio.Stream
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSampler creates a sampler. A non-positive interval selects DefaultInterval.
func NewSampler(source audio.Source, interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sampler{source: source, interval: interval, logger: logger}
}

// Start opens the microphone and begins sampling, calling onSample from the
// sampler goroutine on every tick.
//
// Only a permission failure is returned. Any other failure is logged and leaves
// the sampler running without monitoring (Available reports false).
func (s *Sampler) Start(ctx context.Context, onSample func(Sample)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream, err := s.source.Open(runCtx)
	if err != nil {
		cancel()
		if errors.Is(err, audio.ErrPermissionDenied) {
			return fmt.Errorf("start level sampler: %w", err)
		}
		s.logger.Warn("audio level monitoring unavailable", "error", err.Error())
		s.available = false
		return nil
	}

	analyser := s.newAnalyser()
	s.running = true
	s.available = true
	s.analyser = analyser
	s.stream = stream
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, stream, analyser, onSample, s.done)
	return nil
}

func (s *Sampler) run(ctx context.Context, stream audio.Stream, analyser *Analyser, onSample func(Sample), done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	chunks := stream.Chunks()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				s.logger.Warn("audio level stream closed")
				s.mu.Lock()
				s.available = false
				s.mu.Unlock()
				return
			}
			analyser.Write(chunk)
		case now := <-ticker.C:
			if onSample != nil {
				onSample(Sample{Level: analyser.Level(), At: now})
			}
		}
	}
}

// Sample reads the current level without waiting for a tick.
func (s *Sampler) Sample() Sample {
	s.mu.Lock()
	analyser := s.analyser
	s.mu.Unlock()
	if analyser == nil {
		return Sample{At: time.Now()}
	}
	return Sample{Level: analyser.Level(), At: time.Now()}
}

// Available reports whether the sampler currently receives audio.
func (s *Sampler) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Stop cancels the timer and releases the stream. It is safe to call repeatedly
// and after a failed Start.
func (s *Sampler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.available = false
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.available = false
	cancel, stream, done := s.cancel, s.stream, s.done
	s.cancel, s.stream, s.analyser = nil, nil, nil
	s.mu.Unlock()

	cancel()
	err := stream.Stop()
	<-done
	if err != nil {
		return fmt.Errorf("stop level stream: %w", err)
	}
	return nil
}

func (s *Sampler) newAnalyser() *Analyser {
	if s.NewAnalyser != nil {
		return s.NewAnalyser()
	}
	return NewAnalyser(DefaultFFTSize, DefaultSmoothing)
}
