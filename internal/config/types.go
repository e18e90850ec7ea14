// Package config resolves, parses, validates, and defaults earshot configuration.
package config

import "time"

// Config is the fully materialized runtime configuration.
type Config struct {
	Audio      AudioConfig
	Recognizer RecognizerConfig
	Capture    CaptureConfig
	NoiseGate  NoiseGateConfig
	Transcript TranscriptConfig
	Bus        BusConfig
	History    HistoryConfig
	Telemetry  TelemetryConfig
	Indicator  IndicatorConfig
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// RecognizerConfig points at the streaming recognition service.
type RecognizerConfig struct {
	Endpoint        string
	Language        string
	MaxAlternatives int
	InterimResults  bool
	DialTimeout     time.Duration
}

// CaptureConfig holds the continuous-capture timings.
type CaptureConfig struct {
	SessionCeiling time.Duration
	RestartDelay   time.Duration
	SampleInterval time.Duration
	StopGrace      time.Duration
}

// NoiseGateConfig seeds the level thresholds. Persisted gate preferences
// override these at startup.
type NoiseGateConfig struct {
	Threshold      int
	MinSpeechLevel int
}

// TranscriptConfig controls how the final transcript is printed.
type TranscriptConfig struct {
	TrailingNewline bool
}

// BusConfig enables NATS publishing when URL is set.
type BusConfig struct {
	URL     string
	Subject string
}

// HistoryConfig controls the finalized-transcript store. An empty Path
// selects the state-dir default.
type HistoryConfig struct {
	Enable bool
	Path   string
}

// TelemetryConfig enables the Prometheus endpoint when MetricsAddr is set.
// Traces is "", "file" or "otlp"; an empty TraceFile selects the state dir.
type TelemetryConfig struct {
	MetricsAddr  string
	Traces       string
	TraceFile    string
	OTLPEndpoint string
	OTLPInsecure bool
}

// IndicatorConfig toggles audio cues and failure notifications.
type IndicatorConfig struct {
	Sound  bool
	Notify bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
