package session

import (
	"context"
	"errors"
)

// ErrProviderUnavailable is reported when the upstream connection cannot be
// opened.
var ErrProviderUnavailable = errors.New("transcription provider unavailable")

// Upstream is one open streaming connection to the transcription provider.
// Sends may be called concurrently with each other and with Receive.
type Upstream interface {
	SendAudio(ctx context.Context, audio []byte) error
	SendControl(ctx context.Context, msg []byte) error
	KeepAlive(ctx context.Context) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens upstream connections. Dial returns only once the connection is
// open.
type Dialer interface {
	Dial(ctx context.Context) (Upstream, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (Upstream, error)

// Dial implements Dialer.
func (f DialFunc) Dial(ctx context.Context) (Upstream, error) {
	return f(ctx)
}

// UpstreamState is the lifecycle of a pair's upstream connection.
type UpstreamState int

const (
	StateConnecting UpstreamState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s UpstreamState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
