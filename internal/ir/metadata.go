package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// EncodeMetadata renders metadata as canonical JSON. Nil metadata encodes
// as an empty object.
func EncodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return MarshalCanonical(m)
}

// DecodeMetadata parses a JSON object. Numbers decode as json.Number so
// integers keep their exact value. Empty input, "null" and an empty
// object decode to nil.
func DecodeMetadata(data []byte) (map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decode metadata: trailing data")
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// NormalizeMetadata round-trips m through JSON, so metadata decoded from
// YAML takes the same shapes as metadata read back from a store.
func NormalizeMetadata(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := EncodeMetadata(m)
	if err != nil {
		return nil, err
	}
	return DecodeMetadata(data)
}
