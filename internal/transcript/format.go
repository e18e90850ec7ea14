package transcript

import "strings"

// Options controls how a finished transcript is written out.
type Options struct {
	TrailingNewline bool
}

// Format trims surrounding whitespace and applies output options.
//
// Inner text is left untouched: segments are concatenated without separators
// so scripts written without spaces survive unchanged.
func Format(text string, opts Options) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if opts.TrailingNewline {
		return text + "\n"
	}
	return text
}
