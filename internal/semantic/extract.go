package semantic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoPayload is returned when a completion contains no JSON object.
var ErrNoPayload = errors.New("no json payload in completion")

// Payload is a decoded JSON object from a completion.
type Payload map[string]any

// ExtractJSON returns the first syntactically valid JSON object embedded in
// text. Prose before and after the object is ignored. After a failed decode
// the scan resumes at the offending byte, so objects nested inside a
// malformed one are not considered, and a truncated object ends the scan.
func ExtractJSON(text string) (Payload, error) {
	for i := 0; i < len(text); {
		j := strings.IndexByte(text[i:], '{')
		if j < 0 {
			break
		}
		i += j

		var obj map[string]any
		err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&obj)
		if err == nil && obj != nil {
			return Payload(obj), nil
		}
		var syntaxErr *json.SyntaxError
		switch {
		case errors.As(err, &syntaxErr) && syntaxErr.Offset > 1:
			i += int(syntaxErr.Offset) - 1
		case errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF):
			return nil, ErrNoPayload
		default:
			i++
		}
	}
	return nil, ErrNoPayload
}

// String returns the first non-empty string under any of keys. Numbers are
// formatted, "None" and "null" count as empty.
func (p Payload) String(keys ...string) string {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64:
			s = fmt.Sprintf("%v", t)
		case bool:
			s = fmt.Sprintf("%t", t)
		default:
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "none") || strings.EqualFold(s, "null") {
			continue
		}
		return s
	}
	return ""
}

// List accepts either a string or an array of strings under key.
func (p Payload) List(key string) []string {
	switch t := p[key].(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}
