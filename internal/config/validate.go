package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	var warnings []Warning

	if cfg.Recognizer.Endpoint == "" {
		return nil, fmt.Errorf("recognizer.endpoint must not be empty")
	}
	if _, _, err := net.SplitHostPort(cfg.Recognizer.Endpoint); err != nil {
		return nil, fmt.Errorf("recognizer.endpoint must be host:port: %w", err)
	}
	if cfg.Recognizer.Language == "" {
		return nil, fmt.Errorf("recognizer.language must not be empty")
	}
	if cfg.Recognizer.MaxAlternatives < 1 {
		return nil, fmt.Errorf("recognizer.max_alternatives must be >= 1")
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"recognizer.dial_timeout_ms", cfg.Recognizer.DialTimeout},
		{"capture.session_ceiling_ms", cfg.Capture.SessionCeiling},
		{"capture.restart_delay_ms", cfg.Capture.RestartDelay},
		{"capture.sample_interval_ms", cfg.Capture.SampleInterval},
		{"capture.stop_grace_ms", cfg.Capture.StopGrace},
	} {
		if d.value <= 0 {
			return nil, fmt.Errorf("%s must be > 0", d.name)
		}
	}
	if cfg.Capture.SampleInterval > cfg.Capture.SessionCeiling {
		warnings = append(warnings, Warning{Message: "capture.sample_interval_ms exceeds the session ceiling; no level samples will be taken"})
	}

	if err := checkLevel("noise_gate.threshold", cfg.NoiseGate.Threshold); err != nil {
		return nil, err
	}
	if err := checkLevel("noise_gate.min_speech_level", cfg.NoiseGate.MinSpeechLevel); err != nil {
		return nil, err
	}
	if cfg.NoiseGate.MinSpeechLevel < cfg.NoiseGate.Threshold {
		warnings = append(warnings, Warning{Message: fmt.Sprintf(
			"noise_gate.min_speech_level (%d) is below noise_gate.threshold (%d); every sound above the gate counts as speech",
			cfg.NoiseGate.MinSpeechLevel, cfg.NoiseGate.Threshold)})
	}

	if cfg.Bus.URL != "" {
		u, err := url.Parse(cfg.Bus.URL)
		if err != nil {
			return nil, fmt.Errorf("bus.url: %w", err)
		}
		switch u.Scheme {
		case "nats", "tls", "ws", "wss":
		default:
			return nil, fmt.Errorf("bus.url scheme must be nats, tls, ws or wss (got %q)", u.Scheme)
		}
		if cfg.Bus.Subject == "" || strings.ContainsAny(cfg.Bus.Subject, " *>") {
			return nil, fmt.Errorf("bus.subject must be a literal subject prefix")
		}
	}

	if cfg.Telemetry.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.Telemetry.MetricsAddr); err != nil {
			return nil, fmt.Errorf("telemetry.metrics_addr must be host:port: %w", err)
		}
	}
	switch cfg.Telemetry.Traces {
	case "", "file":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			return nil, fmt.Errorf("telemetry.otlp_endpoint is required when telemetry.traces is \"otlp\"")
		}
	default:
		return nil, fmt.Errorf("telemetry.traces must be \"\", \"file\" or \"otlp\" (got %q)", cfg.Telemetry.Traces)
	}

	return warnings, nil
}

func checkLevel(name string, v int) error {
	if v < 0 || v > 255 {
		return fmt.Errorf("%s must be within 0..255 (got %d)", name, v)
	}
	return nil
}
