// Package prefs persists the noise-gate thresholds chosen with `earshot gate`.
package prefs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rbright/earshot/internal/logging"
	"gopkg.in/yaml.v3"
)

// FileName is the preferences file inside the state dir.
const FileName = "gate.yaml"

// Gate holds persisted level thresholds.
type Gate struct {
	NoiseGate      int       `yaml:"noise_gate"`
	MinSpeechLevel int       `yaml:"min_speech_level"`
	UpdatedAt      time.Time `yaml:"updated_at,omitempty"`
}

// Validate checks both thresholds are within the 0..255 level scale.
func (g Gate) Validate() error {
	if g.NoiseGate < 0 || g.NoiseGate > 255 {
		return fmt.Errorf("noise_gate must be within 0..255 (got %d)", g.NoiseGate)
	}
	if g.MinSpeechLevel < 0 || g.MinSpeechLevel > 255 {
		return fmt.Errorf("min_speech_level must be within 0..255 (got %d)", g.MinSpeechLevel)
	}
	return nil
}

// Store reads and writes one gate file.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath resolves the gate file under the state dir.
func DefaultPath() (string, error) {
	dir, err := logging.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

func (s *Store) Path() string { return s.path }

// Load returns the stored thresholds. ok is false when nothing was saved yet.
func (s *Store) Load() (gate Gate, ok bool, err error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Gate{}, false, nil
	}
	if err != nil {
		return Gate{}, false, fmt.Errorf("read gate preferences: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&gate); err != nil {
		if errors.Is(err, io.EOF) {
			return Gate{}, false, nil
		}
		return Gate{}, false, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if err := gate.Validate(); err != nil {
		return Gate{}, false, fmt.Errorf("%s: %w", s.path, err)
	}
	return gate, true, nil
}

// Save validates and atomically replaces the gate file.
func (s *Store) Save(gate Gate) error {
	if err := gate.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(gate)
	if err != nil {
		return fmt.Errorf("encode gate preferences: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), FileName+".*")
	if err != nil {
		return fmt.Errorf("create temp gate file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write gate preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close gate preferences: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace gate preferences: %w", err)
	}
	return nil
}
