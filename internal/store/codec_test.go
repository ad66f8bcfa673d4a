package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalKeepsRawPayload(t *testing.T) {
	payload := `{"q":"a=1&b=2","html":"<br>"}`
	e := &ConfigEntry{Name: "x", Version: 1, Payload: json.RawMessage(payload), Checksum: Checksum([]byte(payload))}

	raw, err := Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(raw), payload)
	assert.NotContains(t, string(raw), "\n")

	var back ConfigEntry
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, payload, string(back.Payload))
	assert.Equal(t, back.Checksum, Checksum(back.Payload))
}
