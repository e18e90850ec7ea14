package session

import (
	"context"
	"sync"

	"github.com/rbright/earshot/internal/audio"
	"github.com/rbright/earshot/internal/level"
	"github.com/rbright/earshot/internal/recognizer"
)

type fakeEngine struct {
	mu        sync.Mutex
	emit      func(recognizer.Event)
	starts    int
	stops     int
	aborts    int
	startErr  error
	endOnStop bool
	started   chan int

	// exclusive rejects Start until the previous run has emitted end.
	exclusive bool
	running   bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{started: make(chan int, 16)}
}

func (e *fakeEngine) Start(_ context.Context, emit func(recognizer.Event)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	if e.exclusive && e.running {
		return recognizer.ErrAlreadyStarted
	}
	e.starts++
	e.running = true
	e.emit = func(ev recognizer.Event) {
		if ev.Kind == recognizer.EventEnd {
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
		}
		emit(ev)
	}
	select {
	case e.started <- e.starts:
	default:
	}
	return nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	e.stops++
	emit, end := e.emit, e.endOnStop
	e.mu.Unlock()
	if end && emit != nil {
		go emit(recognizer.Event{Kind: recognizer.EventEnd})
	}
	return nil
}

func (e *fakeEngine) Abort() error {
	e.mu.Lock()
	e.aborts++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) send(events ...recognizer.Event) {
	e.mu.Lock()
	emit := e.emit
	e.mu.Unlock()
	for _, ev := range events {
		emit(ev)
	}
}

func (e *fakeEngine) counts() (starts, stops, aborts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, e.stops, e.aborts
}

type fakeSource struct {
	mu       sync.Mutex
	probeErr error
	probes   int
}

func (s *fakeSource) Open(context.Context) (audio.Stream, error) {
	return nil, s.probeErr
}

func (s *fakeSource) Probe(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	return s.probeErr
}

func (s *fakeSource) probeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

type fakeSampler struct {
	mu          sync.Mutex
	onSample    func(level.Sample)
	starts      int
	stops       int
	startErr    error
	available   bool
	unavailable bool
}

func (s *fakeSampler) Start(_ context.Context, onSample func(level.Sample)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.startErr != nil {
		return s.startErr
	}
	s.onSample = onSample
	s.available = !s.unavailable
	return nil
}

func (s *fakeSampler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.available = false
	return nil
}

func (s *fakeSampler) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *fakeSampler) feed(levels ...uint8) {
	s.mu.Lock()
	fn := s.onSample
	s.mu.Unlock()
	for _, lvl := range levels {
		fn(level.Sample{Level: lvl})
	}
}

func result(text string) recognizer.Event {
	return recognizer.Event{Kind: recognizer.EventResult, Text: text}
}

func engineError(code string) recognizer.Event {
	return recognizer.Event{Kind: recognizer.EventError, Code: code, Message: code}
}

var (
	speechEnd = recognizer.Event{Kind: recognizer.EventSpeechEnd}
	end       = recognizer.Event{Kind: recognizer.EventEnd}
)
