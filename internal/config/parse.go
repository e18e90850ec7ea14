package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

type fileConfig struct {
	Audio *struct {
		Input    *string `json:"input"`
		Fallback *string `json:"fallback"`
	} `json:"audio"`
	Recognizer *struct {
		Endpoint        *string `json:"endpoint"`
		Language        *string `json:"language"`
		MaxAlternatives *int    `json:"max_alternatives"`
		InterimResults  *bool   `json:"interim_results"`
		DialTimeoutMS   *int    `json:"dial_timeout_ms"`
	} `json:"recognizer"`
	Capture *struct {
		SessionCeilingMS *int `json:"session_ceiling_ms"`
		RestartDelayMS   *int `json:"restart_delay_ms"`
		SampleIntervalMS *int `json:"sample_interval_ms"`
		StopGraceMS      *int `json:"stop_grace_ms"`
	} `json:"capture"`
	NoiseGate *struct {
		Threshold      *int `json:"threshold"`
		MinSpeechLevel *int `json:"min_speech_level"`
	} `json:"noise_gate"`
	Transcript *struct {
		TrailingNewline *bool `json:"trailing_newline"`
	} `json:"transcript"`
	Bus *struct {
		URL     *string `json:"url"`
		Subject *string `json:"subject"`
	} `json:"bus"`
	History *struct {
		Enable *bool   `json:"enable"`
		Path   *string `json:"path"`
	} `json:"history"`
	Telemetry *struct {
		MetricsAddr  *string `json:"metrics_addr"`
		Traces       *string `json:"traces"`
		TraceFile    *string `json:"trace_file"`
		OTLPEndpoint *string `json:"otlp_endpoint"`
		OTLPInsecure *bool   `json:"otlp_insecure"`
	} `json:"telemetry"`
	Indicator *struct {
		Sound  *bool `json:"sound"`
		Notify *bool `json:"notify"`
	} `json:"indicator"`
}

// Parse overlays JSONC content on base and validates the result. Empty
// content validates base unchanged.
func Parse(content string, base Config) (Config, []Warning, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed != "" && !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "/") {
		return Config{}, nil, errors.New("config must be a JSONC object")
	}

	cfg := base
	if trimmed != "" {
		normalized, err := normalizeJSONC(content)
		if err != nil {
			return Config{}, nil, err
		}
		if strings.TrimSpace(normalized) != "" {
			var payload fileConfig
			if err := decodeStrict(normalized, &payload); err != nil {
				return Config{}, nil, err
			}
			payload.apply(&cfg)
		}
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func decodeStrict(normalized string, out any) error {
	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return locate(normalized, err)
	}

	var extra json.RawMessage
	switch err := decoder.Decode(&extra); {
	case errors.Is(err, io.EOF):
		return nil
	case err == nil:
		return errors.New("multiple JSON values are not allowed")
	default:
		return locate(normalized, err)
	}
}

func (f fileConfig) apply(cfg *Config) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setMillis := func(dst *time.Duration, src *int) {
		if src != nil {
			*dst = time.Duration(*src) * time.Millisecond
		}
	}

	if a := f.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
	}
	if r := f.Recognizer; r != nil {
		setString(&cfg.Recognizer.Endpoint, r.Endpoint)
		setString(&cfg.Recognizer.Language, r.Language)
		if r.MaxAlternatives != nil {
			cfg.Recognizer.MaxAlternatives = *r.MaxAlternatives
		}
		if r.InterimResults != nil {
			cfg.Recognizer.InterimResults = *r.InterimResults
		}
		setMillis(&cfg.Recognizer.DialTimeout, r.DialTimeoutMS)
	}
	if c := f.Capture; c != nil {
		setMillis(&cfg.Capture.SessionCeiling, c.SessionCeilingMS)
		setMillis(&cfg.Capture.RestartDelay, c.RestartDelayMS)
		setMillis(&cfg.Capture.SampleInterval, c.SampleIntervalMS)
		setMillis(&cfg.Capture.StopGrace, c.StopGraceMS)
	}
	if g := f.NoiseGate; g != nil {
		if g.Threshold != nil {
			cfg.NoiseGate.Threshold = *g.Threshold
		}
		if g.MinSpeechLevel != nil {
			cfg.NoiseGate.MinSpeechLevel = *g.MinSpeechLevel
		}
	}
	if t := f.Transcript; t != nil && t.TrailingNewline != nil {
		cfg.Transcript.TrailingNewline = *t.TrailingNewline
	}
	if b := f.Bus; b != nil {
		setString(&cfg.Bus.URL, b.URL)
		setString(&cfg.Bus.Subject, b.Subject)
	}
	if h := f.History; h != nil {
		if h.Enable != nil {
			cfg.History.Enable = *h.Enable
		}
		setString(&cfg.History.Path, h.Path)
	}
	if t := f.Telemetry; t != nil {
		setString(&cfg.Telemetry.MetricsAddr, t.MetricsAddr)
		setString(&cfg.Telemetry.Traces, t.Traces)
		setString(&cfg.Telemetry.TraceFile, t.TraceFile)
		setString(&cfg.Telemetry.OTLPEndpoint, t.OTLPEndpoint)
		if t.OTLPInsecure != nil {
			cfg.Telemetry.OTLPInsecure = *t.OTLPInsecure
		}
	}
	if i := f.Indicator; i != nil {
		if i.Sound != nil {
			cfg.Indicator.Sound = *i.Sound
		}
		if i.Notify != nil {
			cfg.Indicator.Notify = *i.Notify
		}
	}
}

// locate prefixes decode errors that carry an offset with line and column.
func locate(content string, err error) error {
	var offset int64
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return err
	}
	line, col := lineCol(content, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}

// lineCol converts a 1-based byte offset as reported by encoding/json.
func lineCol(content string, offset int64) (int, int) {
	line, col := 1, 1
	for i := 0; i < len(content) && int64(i) < offset-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
