package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// ErrNoJSON is returned when the model reply holds no complete JSON object.
var ErrNoJSON = errors.New("could not parse JSON from AI response")

// ExtractJSONObject returns the first balanced, valid JSON object in text,
// compacted. Braces inside string literals are ignored. A balanced span that
// is not valid JSON is skipped whole. A brace that never closes is either
// prose, which is skipped, or the start of an object cut off by the end of
// the text. A truncated reply returns nothing, not even an object nested
// inside it.
func ExtractJSONObject(text string) (json.RawMessage, error) {
	pos := 0
	for {
		start := strings.IndexByte(text[pos:], '{')
		if start < 0 {
			return nil, ErrNoJSON
		}
		start += pos
		end, closed := matchBrace(text, start)
		if !closed {
			if truncated(text[start:]) {
				return nil, ErrNoJSON
			}
			pos = start + 1
			continue
		}
		candidate := []byte(text[start:end])
		if json.Valid(candidate) {
			var buf bytes.Buffer
			if err := json.Compact(&buf, candidate); err != nil {
				return nil, ErrNoJSON
			}
			return buf.Bytes(), nil
		}
		pos = end
	}
}

// truncated reports whether s reads as valid JSON up to the point where the
// text runs out.
func truncated(s string) bool {
	var v json.RawMessage
	err := json.NewDecoder(strings.NewReader(s)).Decode(&v)
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// matchBrace walks from the '{' at start and returns the index just past the
// brace that brings the depth back to zero.
func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return len(text), false
}
