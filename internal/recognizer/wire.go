package recognizer

import (
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// streamingRecognizeMethod is the bidi method served by the remote recognizer.
const streamingRecognizeMethod = "/earshot.recognizer.v1.Recognizer/StreamingRecognize"

const (
	wireSampleRate = 16000
	wireEncoding   = "LINEAR16"
)

func configMessage(cfg Config) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"config": map[string]any{
			"language":         cfg.Language,
			"continuous":       cfg.Continuous,
			"interim_results":  cfg.InterimResults,
			"max_alternatives": cfg.MaxAlternatives,
			"sample_rate_hz":   wireSampleRate,
			"encoding":         wireEncoding,
		},
	})
}

// audioMessage carries one PCM chunk; structpb encodes []byte as base64.
func audioMessage(chunk []byte) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"audio": chunk})
}

// decodeResponse maps one server message to the events it carries.
func decodeResponse(msg *structpb.Struct) []Event {
	fields := msg.GetFields()

	if errValue, ok := fields["error"]; ok && errValue.GetStructValue() != nil {
		errFields := errValue.GetStructValue().GetFields()
		return []Event{{
			Kind:    EventError,
			Code:    errFields["code"].GetStringValue(),
			Message: errFields["message"].GetStringValue(),
		}}
	}

	kind := EventKind(strings.ToLower(strings.TrimSpace(fields["event"].GetStringValue())))
	results := fields["results"].GetListValue().GetValues()
	if kind == "" && len(results) > 0 {
		kind = EventResult
	}

	switch kind {
	case EventSoundStart, EventSoundEnd, EventSpeechStart, EventSpeechEnd:
		return []Event{{Kind: kind}}
	case EventResult:
		text, final := joinResults(results)
		return []Event{{Kind: EventResult, Text: text, Final: final}}
	default:
		return nil
	}
}

// joinResults concatenates the first alternative of every result.
func joinResults(results []*structpb.Value) (string, bool) {
	var b strings.Builder
	final := len(results) > 0
	for _, result := range results {
		fields := result.GetStructValue().GetFields()
		if !fields["is_final"].GetBoolValue() {
			final = false
		}
		alternatives := fields["alternatives"].GetListValue().GetValues()
		if len(alternatives) == 0 {
			continue
		}
		b.WriteString(alternatives[0].GetStructValue().GetFields()["transcript"].GetStringValue())
	}
	return b.String(), final
}
