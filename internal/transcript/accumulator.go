// Package transcript merges recognition segments into one growing transcript.
package transcript

import "strings"

// Accumulator holds the durable transcript of one capture session.
//
// Segments are appended verbatim. A candidate already contained in the
// accumulated text is dropped, which also suppresses a phrase the speaker
// legitimately repeats across two segments.
type Accumulator struct {
	text     string
	segments int
}

// Append extends the transcript with candidate unless it is empty or already present.
func (a *Accumulator) Append(candidate string) bool {
	if candidate == "" || strings.Contains(a.text, candidate) {
		return false
	}
	a.text += candidate
	a.segments++
	return true
}

// Display returns the accumulated text followed by the in-progress segment.
func (a *Accumulator) Display(current string) string {
	return a.text + current
}

// String returns the accumulated text.
func (a *Accumulator) String() string {
	return a.text
}

// Segments returns how many segments have been appended since the last reset.
func (a *Accumulator) Segments() int {
	return a.segments
}

// Reset clears the accumulated text.
func (a *Accumulator) Reset() {
	a.text = ""
	a.segments = 0
}
