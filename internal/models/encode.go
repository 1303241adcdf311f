package models

import (
	"bytes"
	"encoding/json"
)

// Encode marshals v without HTML escaping, so signal payloads keep their
// bytes when re-wrapped in a frame.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
