package config

import "errors"

type lexState int

const (
	lexCode lexState = iota
	lexString
	lexStringEscape
	lexLineComment
	lexBlockComment
)

// normalizeJSONC blanks out comments and drops trailing commas so the result
// is plain JSON. Byte offsets and line breaks are preserved, which keeps
// decoder positions meaningful.
func normalizeJSONC(content string) (string, error) {
	out := []byte(content)
	state := lexCode
	pendingComma := -1

	for i := 0; i < len(out); i++ {
		ch := out[i]
		switch state {
		case lexString:
			switch ch {
			case '\\':
				state = lexStringEscape
			case '"':
				state = lexCode
			}
		case lexStringEscape:
			state = lexString
		case lexLineComment:
			if ch == '\n' || ch == '\r' {
				state = lexCode
				continue
			}
			out[i] = ' '
		case lexBlockComment:
			if ch == '*' && i+1 < len(out) && out[i+1] == '/' {
				out[i], out[i+1] = ' ', ' '
				i++
				state = lexCode
				continue
			}
			if ch != '\n' && ch != '\r' && ch != '\t' {
				out[i] = ' '
			}
		case lexCode:
			switch {
			case ch == '/' && i+1 < len(out) && out[i+1] == '/':
				out[i], out[i+1] = ' ', ' '
				i++
				state = lexLineComment
			case ch == '/' && i+1 < len(out) && out[i+1] == '*':
				out[i], out[i+1] = ' ', ' '
				i++
				state = lexBlockComment
			case ch == ',':
				pendingComma = i
			case ch == '}' || ch == ']':
				if pendingComma >= 0 {
					out[pendingComma] = ' '
				}
				pendingComma = -1
			case ch == '"':
				pendingComma = -1
				state = lexString
			case !isSpace(ch):
				pendingComma = -1
			}
		}
	}

	if state == lexBlockComment {
		return "", errors.New("unterminated block comment in JSONC")
	}
	return string(out), nil
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t'
}
