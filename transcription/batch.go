package transcription

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrAudioTooSmall is returned when a buffer is below the batch minimum. The
// provider is never called in that case.
var ErrAudioTooSmall = errors.New("audio data too small for transcription")

const (
	// DefaultMinAudioBytes is the smallest buffer worth sending to a batch provider.
	DefaultMinAudioBytes = 1000

	// PlaceholderConfidence is reported for batch results; the provider returns none.
	PlaceholderConfidence = 0.9
)

// FileTranscriber is the provider call behind batch transcription.
type FileTranscriber interface {
	TranscribeFile(ctx context.Context, f *os.File) (string, error)
}

// Batch stages complete audio buffers on disk and transcribes them in one call.
type Batch struct {
	provider FileTranscriber
	minBytes int
	tempDir  string
	logger   *logrus.Entry
}

// Option configures a Batch.
type Option func(*Batch)

// WithMinAudioBytes sets the rejection threshold.
func WithMinAudioBytes(n int) Option {
	return func(b *Batch) { b.minBytes = n }
}

// WithTempDir sets where audio is staged. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(b *Batch) { b.tempDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(b *Batch) { b.logger = l }
}

// NewBatch creates a batch transcriber around provider.
func NewBatch(provider FileTranscriber, opts ...Option) *Batch {
	b := &Batch{
		provider: provider,
		minBytes: DefaultMinAudioBytes,
		logger:   logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// MinAudioBytes returns the rejection threshold.
func (b *Batch) MinAudioBytes() int {
	return b.minBytes
}

// Transcribe runs one batch transcription. The only error it returns is
// ErrAudioTooSmall; provider failures come back as an empty final event.
func (b *Batch) Transcribe(ctx context.Context, audio []byte, mimeType string) (Event, error) {
	if len(audio) < b.minBytes {
		return Event{}, fmt.Errorf("%w: %d bytes, need %d", ErrAudioTooSmall, len(audio), b.minBytes)
	}

	text, err := b.transcribe(ctx, audio, mimeType)
	if err != nil {
		b.logger.WithError(err).WithField("mime_type", mimeType).Error("batch transcription failed")
		zero := 0.0
		return Event{Text: "", IsFinal: true, Confidence: &zero}, nil
	}

	conf := PlaceholderConfidence
	return Event{Text: strings.TrimSpace(text), IsFinal: true, Confidence: &conf}, nil
}

func (b *Batch) transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	f, err := os.CreateTemp(b.tempDir, "audio_*"+ExtensionFor(mimeType))
	if err != nil {
		return "", fmt.Errorf("failed to stage audio: %w", err)
	}
	defer func() {
		_ = f.Close()
		if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			b.logger.WithError(err).WithField("path", f.Name()).Warn("failed to remove staged audio")
		}
	}()

	if _, err := f.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write staged audio: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return "", fmt.Errorf("failed to rewind staged audio: %w", err)
	}

	return b.provider.TranscribeFile(ctx, f)
}

// ExtensionFor maps an audio MIME type to the file extension batch providers
// expect. Unknown types are treated as WebM.
func ExtensionFor(mimeType string) string {
	m := strings.ToLower(mimeType)
	switch {
	case strings.Contains(m, "wav"):
		return ".wav"
	case strings.Contains(m, "mp3"), strings.Contains(m, "mpeg"):
		return ".mp3"
	case strings.Contains(m, "mp4"), strings.Contains(m, "m4a"):
		return ".mp4"
	case strings.Contains(m, "ogg"):
		return ".ogg"
	default:
		return ".webm"
	}
}
