// Package transcription holds the normalized transcript event and the one-shot
// batch transcription path.
package transcription

import (
	"errors"
	"strings"
)

// ErrMalformedPayload marks a provider payload that is not JSON at all. Callers
// forward such payloads to the client unchanged.
var ErrMalformedPayload = errors.New("malformed provider payload")

// Event is a normalized speech-to-text result.
type Event struct {
	Text       string
	IsFinal    bool
	Confidence *float64 // nil when the provider does not report one
}

// Empty reports whether the event carries no text after trimming.
func (e Event) Empty() bool {
	return strings.TrimSpace(e.Text) == ""
}

// ParseFunc normalizes one provider frame. ok is false when the frame carries
// nothing to emit.
type ParseFunc func(raw []byte) (ev Event, ok bool, err error)
