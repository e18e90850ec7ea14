package recognizer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func resultMessage(final bool, transcripts ...string) map[string]any {
	results := make([]any, 0, len(transcripts))
	for _, text := range transcripts {
		results = append(results, map[string]any{
			"is_final": final,
			"alternatives": []any{
				map[string]any{"transcript": text, "confidence": 0.9},
				map[string]any{"transcript": "ignored", "confidence": 0.1},
			},
		})
	}
	return map[string]any{"event": "result", "results": results}
}

func TestConfigMessage(t *testing.T) {
	msg, err := configMessage(Config{Continuous: true, InterimResults: true, Language: "zh-CN", MaxAlternatives: 3})
	require.NoError(t, err)

	cfg := msg.AsMap()["config"].(map[string]any)
	require.Equal(t, "zh-CN", cfg["language"])
	require.Equal(t, true, cfg["continuous"])
	require.Equal(t, true, cfg["interim_results"])
	require.Equal(t, 3.0, cfg["max_alternatives"])
	require.Equal(t, 16000.0, cfg["sample_rate_hz"])
	require.Equal(t, "LINEAR16", cfg["encoding"])
}

func TestAudioMessageBase64(t *testing.T) {
	msg, err := audioMessage([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.Equal(t, "AQID", msg.GetFields()["audio"].GetStringValue())
}

func TestDecodeResponseJoinsFirstAlternatives(t *testing.T) {
	events := decodeResponse(mustStruct(t, resultMessage(false, "你好", "吗")))
	require.Equal(t, []Event{{Kind: EventResult, Text: "你好吗", Final: false}}, events)

	events = decodeResponse(mustStruct(t, resultMessage(true, "hello")))
	require.Equal(t, []Event{{Kind: EventResult, Text: "hello", Final: true}}, events)
}

func TestDecodeResponseInfersResultWithoutEventName(t *testing.T) {
	m := resultMessage(false, "partial")
	delete(m, "event")
	events := decodeResponse(mustStruct(t, m))
	require.Len(t, events, 1)
	require.Equal(t, EventResult, events[0].Kind)
	require.Equal(t, "partial", events[0].Text)
}

func TestDecodeResponseLifecycleEvents(t *testing.T) {
	for _, kind := range []EventKind{EventSoundStart, EventSoundEnd, EventSpeechStart, EventSpeechEnd} {
		events := decodeResponse(mustStruct(t, map[string]any{"event": string(kind)}))
		require.Equal(t, []Event{{Kind: kind}}, events)
	}
}

func TestDecodeResponseError(t *testing.T) {
	events := decodeResponse(mustStruct(t, map[string]any{
		"event": "error",
		"error": map[string]any{"code": "no-speech", "message": "timeout waiting for speech"},
	}))
	require.Equal(t, []Event{{Kind: EventError, Code: CodeNoSpeech, Message: "timeout waiting for speech"}}, events)
}

func TestDecodeResponseIgnoresUnknownEvents(t *testing.T) {
	require.Empty(t, decodeResponse(mustStruct(t, map[string]any{"event": "nomatch"})))
	require.Empty(t, decodeResponse(mustStruct(t, map[string]any{})))
}
