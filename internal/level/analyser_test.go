package level

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func pcm(samples []float64) []byte {
	out := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v*32767)))
	}
	return out
}

func sine(freq, amplitude float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/16000)
	}
	return out
}

func noise(amplitude float64, n int) []float64 {
	rng := rand.New(rand.NewPCG(1, 2))
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * (2*rng.Float64() - 1)
	}
	return out
}

func TestAnalyserSilenceIsZero(t *testing.T) {
	a := NewAnalyser(DefaultFFTSize, 0)
	require.Zero(t, a.Level())

	a.Write(make([]byte, 2*DefaultFFTSize))
	require.Zero(t, a.Level())
}

func TestAnalyserToneRaisesLevel(t *testing.T) {
	a := NewAnalyser(DefaultFFTSize, 0)
	a.Write(pcm(sine(1000, 0.5, DefaultFFTSize)))
	require.Greater(t, a.Level(), uint8(5))
}

func TestAnalyserLouderSignalReadsHigher(t *testing.T) {
	quiet := NewAnalyser(DefaultFFTSize, 0)
	quiet.Write(pcm(noise(0.01, DefaultFFTSize)))

	loud := NewAnalyser(DefaultFFTSize, 0)
	loud.Write(pcm(noise(0.3, DefaultFFTSize)))

	require.Greater(t, loud.Level(), quiet.Level())
	require.Greater(t, loud.Level(), uint8(100))
}

func TestAnalyserSmoothingDecaysGradually(t *testing.T) {
	a := NewAnalyser(DefaultFFTSize, DefaultSmoothing)
	a.Write(pcm(noise(0.3, DefaultFFTSize)))
	first := a.Level()
	second := a.Level()
	require.Greater(t, second, first)

	a.Write(make([]byte, 2*DefaultFFTSize))
	decayed := a.Level()
	require.Greater(t, decayed, uint8(0))
	require.Less(t, decayed, second)
}

func TestAnalyserKeepsMostRecentWindow(t *testing.T) {
	a := NewAnalyser(DefaultFFTSize, 0)
	a.Write(pcm(noise(0.3, DefaultFFTSize)))
	a.Write(make([]byte, 2*DefaultFFTSize))
	require.Zero(t, a.Level())
}

func TestAnalyserReset(t *testing.T) {
	a := NewAnalyser(DefaultFFTSize, DefaultSmoothing)
	a.Write(pcm(noise(0.3, DefaultFFTSize)))
	require.NotZero(t, a.Level())

	a.Reset()
	require.Zero(t, a.Level())
}

func TestNewAnalyserNormalizesArguments(t *testing.T) {
	a := NewAnalyser(2, 1.5)
	require.Equal(t, DefaultFFTSize, a.size)
	require.Equal(t, DefaultSmoothing, a.smoothing)
}

func TestByteScale(t *testing.T) {
	require.Zero(t, byteScale(0))
	require.Zero(t, byteScale(1e-6))
	require.Equal(t, 255.0, byteScale(1))
	require.InDelta(t, 127.0, byteScale(math.Pow(10, -65.0/20)), 1)
}
