package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	RoomID  int64  `json:"roomId"`
	Content string `json:"content"`
	ReplyTo *int64 `json:"replyTo"`
}

func TestMapFromJSONObject(t *testing.T) {
	m, err := Object([]byte(`{"roomId": 9007199254740993, "content": "hi", "replyTo": 4}`))
	require.NoError(t, err)

	p, err := Map[samplePayload](m)
	require.NoError(t, err)
	assert.Equal(t, int64(9007199254740993), p.RoomID)
	assert.Equal(t, "hi", p.Content)
	require.NotNil(t, p.ReplyTo)
	assert.Equal(t, int64(4), *p.ReplyTo)
}

func TestMapWeakStrings(t *testing.T) {
	p, err := Map[samplePayload](map[string]any{"roomId": " 12 ", "replyTo": nil})
	require.NoError(t, err)
	assert.Equal(t, int64(12), p.RoomID)
	assert.Nil(t, p.ReplyTo)
}

func TestMapRejectsGarbageID(t *testing.T) {
	_, err := Map[samplePayload](map[string]any{"roomId": "general"})
	assert.Error(t, err)
}

func TestMapNil(t *testing.T) {
	p, err := Map[samplePayload](nil)
	require.NoError(t, err)
	assert.Zero(t, p.RoomID)
}

func TestObjectRejectsNonObject(t *testing.T) {
	_, err := Object([]byte(`[1,2]`))
	assert.Error(t, err)
	_, err = Object([]byte(`{`))
	assert.Error(t, err)
}

func TestMapRejectsNonStringContent(t *testing.T) {
	for _, raw := range []string{
		`{"roomId": 1, "content": 42}`,
		`{"roomId": 1, "content": true}`,
		`{"roomId": 1, "content": {"text": "hi"}}`,
	} {
		m, err := Object([]byte(raw))
		require.NoError(t, err)
		_, err = Map[samplePayload](m)
		assert.Error(t, err, raw)
	}
}

func TestMapWeakModeStillCoerces(t *testing.T) {
	m, err := Object([]byte(`{"roomId": "7", "content": 42}`))
	require.NoError(t, err)
	p, err := Map[samplePayload](m, Options{WeaklyTypedInput: true})
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.RoomID)
	assert.Equal(t, "42", p.Content)
}
