package level

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rbright/earshot/internal/audio"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	chunks chan []byte
	once   sync.Once
	stops  int
	mu     sync.Mutex
}

func newFakeStream() *fakeStream {
	return &fakeStream{chunks: make(chan []byte, 16)}
}

func (s *fakeStream) Chunks() <-chan []byte { return s.chunks }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	s.once.Do(func() { close(s.chunks) })
	return nil
}

type fakeSource struct {
	stream  *fakeStream
	openErr error
}

func (s *fakeSource) Open(context.Context) (audio.Stream, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.stream, nil
}

func (s *fakeSource) Probe(context.Context) error { return s.openErr }

func TestSamplerReportsLevelsOnTicks(t *testing.T) {
	stream := newFakeStream()
	sampler := NewSampler(&fakeSource{stream: stream}, 5*time.Millisecond, nil)
	sampler.NewAnalyser = func() *Analyser { return NewAnalyser(DefaultFFTSize, 0) }

	var mu sync.Mutex
	var levels []uint8
	require.NoError(t, sampler.Start(context.Background(), func(s Sample) {
		mu.Lock()
		levels = append(levels, s.Level)
		mu.Unlock()
	}))
	require.True(t, sampler.Available())

	stream.chunks <- pcm(noise(0.3, DefaultFFTSize))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) > 0 && levels[len(levels)-1] > 100
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sampler.Stop())
	require.False(t, sampler.Available())
	require.Equal(t, 1, stream.stops)
}

func TestSamplerStopIsIdempotent(t *testing.T) {
	stream := newFakeStream()
	sampler := NewSampler(&fakeSource{stream: stream}, time.Hour, nil)

	require.NoError(t, sampler.Stop())
	require.NoError(t, sampler.Start(context.Background(), nil))
	require.NoError(t, sampler.Stop())
	require.NoError(t, sampler.Stop())
	require.Equal(t, 1, stream.stops)
}

func TestSamplerPermissionDeniedIsReturned(t *testing.T) {
	src := &fakeSource{openErr: errors.Join(audio.ErrPermissionDenied, errors.New("muted"))}
	sampler := NewSampler(src, time.Hour, nil)

	err := sampler.Start(context.Background(), nil)
	require.ErrorIs(t, err, audio.ErrPermissionDenied)
	require.False(t, sampler.Available())
	require.NoError(t, sampler.Stop())
}

func TestSamplerOtherOpenFailureIsNotFatal(t *testing.T) {
	sampler := NewSampler(&fakeSource{openErr: errors.New("device busy")}, time.Hour, nil)

	require.NoError(t, sampler.Start(context.Background(), nil))
	require.False(t, sampler.Available())
	require.Zero(t, sampler.Sample().Level)
	require.NoError(t, sampler.Stop())
}

func TestSamplerClosedStreamMarksUnavailable(t *testing.T) {
	stream := newFakeStream()
	sampler := NewSampler(&fakeSource{stream: stream}, time.Hour, nil)
	require.NoError(t, sampler.Start(context.Background(), nil))

	stream.once.Do(func() { close(stream.chunks) })
	require.Eventually(t, func() bool { return !sampler.Available() }, time.Second, 5*time.Millisecond)
	require.NoError(t, sampler.Stop())
}

func TestSamplerSampleReadsWithoutTick(t *testing.T) {
	stream := newFakeStream()
	sampler := NewSampler(&fakeSource{stream: stream}, time.Hour, nil)
	sampler.NewAnalyser = func() *Analyser { return NewAnalyser(DefaultFFTSize, 0) }
	require.NoError(t, sampler.Start(context.Background(), nil))
	defer func() { require.NoError(t, sampler.Stop()) }()

	stream.chunks <- pcm(noise(0.3, DefaultFFTSize))
	require.Eventually(t, func() bool { return sampler.Sample().Level > 100 }, time.Second, 5*time.Millisecond)
}
