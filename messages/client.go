package messages

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Inbound message types on the multiplexed endpoint
const (
	TypeAudio      = "audio"
	TypeAudioChunk = "audio-chunk"
	TypeVideoFrame = "video-frame"
)

// ClientMessage represents a JSON text frame from the client in multiplexed mode
type ClientMessage struct {
	Type     string `json:"type"`
	Data     string `json:"data"`               // Base64-encoded audio or JPEG frame
	MimeType string `json:"mimeType,omitempty"` // Audio MIME hint, e.g. "audio/webm"
	ID       string `json:"id,omitempty"`       // Optional correlation id, echoed back as requestId
}

// DecodeClientMessage parses a multiplexed text frame. A frame without a type
// decodes successfully and is left for the dispatcher to ignore.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse client message: %w", err)
	}
	return &msg, nil
}
