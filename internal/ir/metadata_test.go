package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMetadata(t *testing.T) {
	got, err := NormalizeMetadata(map[string]any{
		"run":  7,
		"e":    2.5,
		"tags": []any{"a", 1},
		"sub":  map[string]any{"ok": true, "none": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"run":  json.Number("7"),
		"e":    json.Number("2.5"),
		"tags": []any{"a", json.Number("1")},
		"sub":  map[string]any{"ok": true, "none": nil},
	}, got)
}

func TestDecodeMetadata(t *testing.T) {
	m, err := DecodeMetadata([]byte(" null "))
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = DecodeMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = DecodeMetadata([]byte("{}"))
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = DecodeMetadata([]byte(`{"a":1} {}`))
	assert.Error(t, err)

	_, err = DecodeMetadata([]byte(`[1]`))
	assert.Error(t, err)
}

func TestEncodeMetadata_RoundTrip(t *testing.T) {
	in := map[string]any{"n": json.Number("12345678901234567"), "s": "x"}
	data, err := EncodeMetadata(in)
	require.NoError(t, err)
	assert.Equal(t, `{"n":12345678901234567,"s":"x"}`, string(data))

	out, err := DecodeMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	data, err = EncodeMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}
