// Package level turns a microphone stream into periodic 0..255 energy readings.
package level

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	// DefaultFFTSize is the analysis window length in samples.
	DefaultFFTSize = 512
	// DefaultSmoothing is the per-bin exponential smoothing time constant.
	DefaultSmoothing = 0.8

	minDecibels = -100.0
	maxDecibels = -30.0

	// lowBinCutoff drops DC and mains hum (~0..125 Hz at 16 kHz).
	lowBinCutoff = 4
)

// Analyser keeps the most recent FFT window of s16le mono PCM and reports
// the mean byte-scaled spectral energy over the speech band.
type Analyser struct {
	mu sync.Mutex

	size      int
	smoothing float64
	fft       *fourier.FFT

	ring []float64
	pos  int

	frame    []float64
	coeffs   []complex128
	smoothed []float64
}

// NewAnalyser returns an analyser with the given FFT size (a power of two) and
// smoothing constant in [0,1).
func NewAnalyser(size int, smoothing float64) *Analyser {
	if size < 4*lowBinCutoff {
		size = DefaultFFTSize
	}
	if smoothing < 0 || smoothing >= 1 {
		smoothing = DefaultSmoothing
	}
	return &Analyser{
		size:      size,
		smoothing: smoothing,
		fft:       fourier.NewFFT(size),
		ring:      make([]float64, size),
		frame:     make([]float64, size),
		coeffs:    make([]complex128, size/2+1),
		smoothed:  make([]float64, size/2+1),
	}
}

// Write feeds little-endian signed 16-bit samples. A trailing odd byte is ignored.
func (a *Analyser) Write(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		a.ring[a.pos] = float64(sample) / 32768
		a.pos = (a.pos + 1) % a.size
	}
}

// Level analyses the current window and returns the band mean in 0..255.
func (a *Analyser) Level() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := copy(a.frame, a.ring[a.pos:])
	copy(a.frame[n:], a.ring[:a.pos])
	window.Blackman(a.frame)
	a.fft.Coefficients(a.coeffs, a.frame)

	scale := 1 / float64(a.size)
	for k, c := range a.coeffs {
		magnitude := cmplx.Abs(c) * scale
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*magnitude
	}

	hi := a.size / 4
	var sum float64
	for k := lowBinCutoff; k < hi; k++ {
		sum += byteScale(a.smoothed[k])
	}
	return uint8(math.Round(sum / float64(hi-lowBinCutoff)))
}

// Reset clears buffered audio and smoothing history.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

// byteScale maps a linear magnitude onto 0..255 across the decibel range.
func byteScale(magnitude float64) float64 {
	if magnitude <= 0 {
		return 0
	}
	db := 20 * math.Log10(magnitude)
	scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	return math.Max(0, math.Min(255, math.Floor(scaled)))
}
