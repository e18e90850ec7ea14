package indicator

import (
	"testing"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/stretchr/testify/require"
)

func TestEveryCueRenders(t *testing.T) {
	for _, kind := range []cueKind{cueStart, cueComplete, cueEmpty, cueError} {
		require.NotEmpty(t, cueSamples(kind), "cue %d", kind)
	}
	require.Empty(t, cueSamples(cueKind(99)))
}

func TestRenderCueInsertsGaps(t *testing.T) {
	pcm := cueSamples(cueStart)
	tone := sampleCount(70 * time.Millisecond)
	gap := sampleCount(cueGap)
	require.Len(t, pcm, 2*tone+gap)
	for _, s := range pcm[tone : tone+gap] {
		require.Zero(t, s)
	}
	require.Empty(t, renderCue(nil, cueVolume))
}

func TestRenderToneRampsAndPeaks(t *testing.T) {
	pcm := renderTone(tone{hz: 440, dur: 100 * time.Millisecond}, 0.5)
	require.Len(t, pcm, sampleCount(100*time.Millisecond))
	require.Zero(t, pcm[0])
	require.Zero(t, pcm[len(pcm)-1])

	var peak int16
	for _, s := range pcm {
		peak = max(peak, s)
	}
	require.InDelta(t, 0.5*32767, float64(peak), 200)
}

func TestRenderToneRejectsEmptyInput(t *testing.T) {
	require.Empty(t, renderTone(tone{hz: 0, dur: 100 * time.Millisecond}, 0.2))
	require.Empty(t, renderTone(tone{hz: 440}, 0.2))
	require.Empty(t, renderTone(tone{hz: 440, dur: 100 * time.Millisecond}, 0))
}

func TestSampleCount(t *testing.T) {
	require.Equal(t, 0, sampleCount(-time.Second))
	require.Equal(t, 400, sampleCount(25*time.Millisecond))
}

func TestPCMReaderSignalsEnd(t *testing.T) {
	read := pcmReader([]int16{1, 2, 3, 4, 5})
	buf := make([]int16, 2)

	n, err := read(buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = read(buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = read(buf)
	require.ErrorIs(t, err, pulse.EndOfData)
	require.Equal(t, 1, n)
	require.Equal(t, int16(5), buf[0])
}

func TestEmitCueUnknownKindIsNoop(t *testing.T) {
	require.NoError(t, emitCue(cueKind(99)))
}
