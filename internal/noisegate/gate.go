// Package noisegate classifies audio level samples against two thresholds.
package noisegate

import (
	"fmt"
	"sync"
)

// Class is the classification of one level sample.
type Class int

const (
	Silence Class = iota
	BelowSpeechThreshold
	Speech
)

func (c Class) String() string {
	switch c {
	case Silence:
		return "silence"
	case BelowSpeechThreshold:
		return "below_speech_threshold"
	case Speech:
		return "speech"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Thresholds is a snapshot of the gate configuration.
type Thresholds struct {
	NoiseGate      uint8
	MinSpeechLevel uint8
}

// Gate holds the noise-gate and min-speech thresholds.
//
// The two values are deliberately not validated against each other.
type Gate struct {
	mu         sync.RWMutex
	thresholds Thresholds
}

// New creates a gate with the given thresholds.
func New(t Thresholds) *Gate {
	return &Gate{thresholds: t}
}

// Classify maps a level onto silence, sub-speech noise, or speech.
func (g *Gate) Classify(level uint8) Class {
	t := g.Thresholds()
	switch {
	case level <= t.NoiseGate:
		return Silence
	case level <= t.MinSpeechLevel:
		return BelowSpeechThreshold
	default:
		return Speech
	}
}

// SetNoiseGate replaces the lower threshold; it applies from the next sample.
func (g *Gate) SetNoiseGate(value uint8) {
	g.mu.Lock()
	g.thresholds.NoiseGate = value
	g.mu.Unlock()
}

// SetMinSpeechLevel replaces the speech threshold; it applies from the next sample.
func (g *Gate) SetMinSpeechLevel(value uint8) {
	g.mu.Lock()
	g.thresholds.MinSpeechLevel = value
	g.mu.Unlock()
}

// Thresholds returns the current thresholds.
func (g *Gate) Thresholds() Thresholds {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.thresholds
}
