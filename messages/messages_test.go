package messages

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/room4-2/senserelay/transcription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_NeverGoesBackwards(t *testing.T) {
	times := []int64{1000, 1005, 990, 1005, 1010}
	i := 0
	c := &Clock{now: func() time.Time {
		ts := times[i]
		i++
		return time.UnixMilli(ts)
	}}

	var got []int64
	for range times {
		got = append(got, c.Now())
	}
	assert.Equal(t, []int64{1000, 1005, 1005, 1005, 1010}, got)
}

func TestDecodeClientMessage(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"audio-chunk","data":"AAEC","mimeType":"audio/wav","id":"r1"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeAudioChunk, msg.Type)
	assert.Equal(t, "AAEC", msg.Data)
	assert.Equal(t, "audio/wav", msg.MimeType)
	assert.Equal(t, "r1", msg.ID)

	msg, err = DecodeClientMessage([]byte(`{"data":"x"}`))
	require.NoError(t, err)
	assert.Empty(t, msg.Type)

	_, err = DecodeClientMessage([]byte(`{not json`))
	require.Error(t, err)
}

func TestEnvelope_TranscriptionIsFlat(t *testing.T) {
	conf := 0.98
	env := NewTranscriptionMessage(transcription.Event{Text: "hello", IsFinal: false, Confidence: &conf})
	env.Timestamp = 42

	raw, err := env.Encode()
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "transcription", out["type"])
	assert.Equal(t, "hello", out["transcript"])
	assert.Equal(t, false, out["isFinal"])
	assert.InDelta(t, 0.98, out["confidence"], 1e-9)
	assert.EqualValues(t, 42, out["timestamp"])
	assert.NotContains(t, out, "data")
}

func TestEnvelope_ErrorWithStatus(t *testing.T) {
	env := NewErrorMessage(ErrCodeAudioTooSmall, "Audio data too small for transcription").
		WithStatus(400).
		WithRequestID("abc")

	raw, err := env.Encode()
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "error", out["type"])
	assert.Equal(t, "Audio data too small for transcription", out["data"])
	assert.Equal(t, "AUDIO_TOO_SMALL", out["code"])
	assert.EqualValues(t, 400, out["status"])
	assert.Equal(t, "abc", out["requestId"])
	assert.NotContains(t, out, "isFinal")
}
