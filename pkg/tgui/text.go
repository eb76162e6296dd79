package tgui

import "encoding/json"

// Trunc returns s truncated to at most n bytes, with a "..." suffix when cut.
// Callers pass limits well under Telegram's caps, so a byte cut is fine for
// the JSON dumps and captions this package formats.
func Trunc(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ShortJSON pretty-prints v and truncates the result to max bytes.
// Marshal failures degrade to a placeholder rather than an error; the dumps
// are diagnostic text, not data.
func ShortJSON(v any, max int) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "<unserializable>"
	}
	return Trunc(string(b), max)
}
