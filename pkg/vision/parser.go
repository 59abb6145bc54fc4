package vision

import "errors"

// ErrNoJSON is returned when a model response contains no balanced JSON
// object at all.
var ErrNoJSON = errors.New("no JSON object in model response")

// ExtractJSON returns the first balanced JSON object embedded in s.
// Vision models routinely wrap their JSON in prose or markdown fences;
// strict unmarshalling of the raw response would fail on most replies.
func ExtractJSON(s string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], nil
				}
			}
		}
	}

	return "", ErrNoJSON
}
