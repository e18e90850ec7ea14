package config

import "time"

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Recognizer: RecognizerConfig{
			Endpoint:        "127.0.0.1:50051",
			Language:        "en-US",
			MaxAlternatives: 1,
			InterimResults:  true,
			DialTimeout:     3 * time.Second,
		},
		Capture: CaptureConfig{
			SessionCeiling: 60 * time.Second,
			RestartDelay:   100 * time.Millisecond,
			SampleInterval: 300 * time.Millisecond,
			StopGrace:      3 * time.Second,
		},
		NoiseGate: NoiseGateConfig{
			Threshold:      10,
			MinSpeechLevel: 25,
		},
		Transcript: TranscriptConfig{TrailingNewline: true},
		Bus:        BusConfig{Subject: "earshot"},
		History:    HistoryConfig{Enable: true},
		Telemetry:  TelemetryConfig{OTLPInsecure: true},
		Indicator:  IndicatorConfig{Sound: true, Notify: true},
	}
}
