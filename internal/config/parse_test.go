package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fullConfig = `{
  // capture device
  "audio": {"input": " USB Mic ", "fallback": "default"},
  "recognizer": {
    "endpoint": "asr.lan:50051",
    "language": "zh-CN",
    "max_alternatives": 3,
    "interim_results": false,
    "dial_timeout_ms": 1500,
  },
  "capture": {
    "session_ceiling_ms": 30000,
    "restart_delay_ms": 50,
    "sample_interval_ms": 200,
    "stop_grace_ms": 1000,
  },
  "noise_gate": {"threshold": 30, "min_speech_level": 45},
  "transcript": {"trailing_newline": false},
  "bus": {"url": "nats://127.0.0.1:4222", "subject": "desk.earshot"},
  "history": {"enable": false, "path": "/tmp/h.db"},
  "telemetry": {"metrics_addr": "127.0.0.1:9464", "traces": "otlp", "otlp_endpoint": "otel.lan:4317", "otlp_insecure": false},
  "indicator": {"sound": false},
}`

func TestParseOverlaysEverySection(t *testing.T) {
	cfg, warnings, err := Parse(fullConfig, Default())
	require.NoError(t, err)
	require.Empty(t, warnings)

	require.Equal(t, AudioConfig{Input: "USB Mic", Fallback: "default"}, cfg.Audio)
	require.Equal(t, RecognizerConfig{
		Endpoint:        "asr.lan:50051",
		Language:        "zh-CN",
		MaxAlternatives: 3,
		InterimResults:  false,
		DialTimeout:     1500 * time.Millisecond,
	}, cfg.Recognizer)
	require.Equal(t, CaptureConfig{
		SessionCeiling: 30 * time.Second,
		RestartDelay:   50 * time.Millisecond,
		SampleInterval: 200 * time.Millisecond,
		StopGrace:      time.Second,
	}, cfg.Capture)
	require.Equal(t, NoiseGateConfig{Threshold: 30, MinSpeechLevel: 45}, cfg.NoiseGate)
	require.False(t, cfg.Transcript.TrailingNewline)
	require.Equal(t, BusConfig{URL: "nats://127.0.0.1:4222", Subject: "desk.earshot"}, cfg.Bus)
	require.Equal(t, HistoryConfig{Enable: false, Path: "/tmp/h.db"}, cfg.History)
	require.Equal(t, TelemetryConfig{
		MetricsAddr:  "127.0.0.1:9464",
		Traces:       "otlp",
		OTLPEndpoint: "otel.lan:4317",
	}, cfg.Telemetry)
	require.Equal(t, IndicatorConfig{Sound: false, Notify: true}, cfg.Indicator)
}

func TestParseKeepsBaseForOmittedFields(t *testing.T) {
	cfg, _, err := Parse(`{"recognizer": {"language": "fr-FR"}}`, Default())
	require.NoError(t, err)

	want := Default()
	want.Recognizer.Language = "fr-FR"
	require.Equal(t, want, cfg)
}

func TestParseEmptyOrCommentOnlyContent(t *testing.T) {
	for _, content := range []string{"", "   \n", "// nothing here\n"} {
		cfg, _, err := Parse(content, Default())
		require.NoError(t, err, "content %q", content)
		require.Equal(t, Default(), cfg)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "not an object", content: "listen = true", wantErr: "JSONC object"},
		{name: "unknown section", content: `{"paste": {}}`, wantErr: "unknown field"},
		{name: "unknown key", content: `{"capture": {"ceiling": 1}}`, wantErr: "unknown field"},
		{name: "type error", content: "{\n  \"noise_gate\": {\"threshold\": \"high\"}\n}", wantErr: "line 2 column"},
		{name: "syntax error", content: `{"audio": {"input": }}`, wantErr: "line 1 column"},
		{name: "multiple values", content: `{}{}`, wantErr: "multiple JSON values"},
		{name: "validation", content: `{"noise_gate": {"threshold": 256}}`, wantErr: "noise_gate.threshold"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Parse(tc.content, Default())
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}
