package messages

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/room4-2/senserelay/transcription"
)

// Error codes
const (
	ErrCodeInvalidMessage      = "INVALID_MESSAGE"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeUpstreamPayload     = "UPSTREAM_PAYLOAD"
	ErrCodeAnalysisFailed      = "ANALYSIS_FAILED"
	ErrCodeAudioTooSmall       = "AUDIO_TOO_SMALL"
	ErrCodeSessionFailed       = "SESSION_FAILED"
)

// Outbound message types
const (
	TypeTranscription = "transcription"
	TypeVideoAnalysis = "video-analysis"
	TypeError         = "error"
)

// Envelope is every JSON frame sent to the client. Transcriptions carry their
// fields flat; analyses and errors use Data.
type Envelope struct {
	Type       string   `json:"type"`
	Data       any      `json:"data,omitempty"`
	Transcript string   `json:"transcript,omitempty"`
	IsFinal    *bool    `json:"isFinal,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Code       string   `json:"code,omitempty"`
	Status     int      `json:"status,omitempty"` // HTTP-equivalent status for rejections
	RequestID  string   `json:"requestId,omitempty"`
	Timestamp  int64    `json:"timestamp"`
}

// Encode serializes the envelope.
func (e *Envelope) Encode() ([]byte, error) {
	return sonic.Marshal(e)
}

// WithRequestID tags the envelope with the client's correlation id.
func (e *Envelope) WithRequestID(id string) *Envelope {
	e.RequestID = id
	return e
}

// WithStatus attaches an HTTP-equivalent status code.
func (e *Envelope) WithStatus(status int) *Envelope {
	e.Status = status
	return e
}

// NewTranscriptionMessage creates a transcription message from a normalized event
func NewTranscriptionMessage(ev transcription.Event) *Envelope {
	isFinal := ev.IsFinal
	return &Envelope{
		Type:       TypeTranscription,
		Transcript: ev.Text,
		IsFinal:    &isFinal,
		Confidence: ev.Confidence,
	}
}

// NewVideoAnalysisMessage creates a video-analysis message
func NewVideoAnalysisMessage(analysis any) *Envelope {
	return &Envelope{
		Type: TypeVideoAnalysis,
		Data: analysis,
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(code, message string) *Envelope {
	return &Envelope{
		Type: TypeError,
		Data: message,
		Code: code,
	}
}

// Clock hands out epoch-millisecond timestamps that never go backwards, even if
// the wall clock does.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewClock creates a clock backed by time.Now.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the next timestamp.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UnixMilli()
	if ts < c.last {
		ts = c.last
	}
	c.last = ts
	return ts
}
