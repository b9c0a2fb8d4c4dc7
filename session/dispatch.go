package session

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/room4-2/senserelay/messages"
	"github.com/room4-2/senserelay/metrics"
	"github.com/room4-2/senserelay/transcription"
)

// handleFrame routes one inbound client frame. It never blocks on a provider
// call and never ends the pair.
func (p *Pair) handleFrame(messageType int, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("recovered while handling client frame")
			p.client.Send(messages.NewErrorMessage(messages.ErrCodeSessionFailed, "Message processing failed"))
		}
	}()

	if p.opts.Mode == ModeProxy {
		p.forward(data, messageType == websocket.BinaryMessage)
		return
	}

	if messageType == websocket.BinaryMessage {
		p.handleAudio(data, "", "")
		return
	}

	msg, err := messages.DecodeClientMessage(data)
	if err != nil {
		p.logger.WithError(err).Warn("invalid client message")
		p.client.Send(messages.NewErrorMessage(messages.ErrCodeInvalidMessage, "Message processing failed"))
		return
	}

	switch msg.Type {
	case messages.TypeAudio, messages.TypeAudioChunk:
		audio, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			p.logger.WithError(err).Warn("invalid base64 audio")
			p.client.Send(messages.NewErrorMessage(messages.ErrCodeInvalidMessage, "Invalid audio data").WithRequestID(msg.ID))
			return
		}
		p.handleAudio(audio, msg.MimeType, msg.ID)

	case messages.TypeVideoFrame:
		p.handleVideoFrame(msg)

	default:
		p.logger.WithField("type", msg.Type).Info("unknown message type")
	}
}

// handleAudio forwards audio upstream when streaming and transcribes it in one
// shot otherwise.
func (p *Pair) handleAudio(audio []byte, mimeType, requestID string) {
	if p.opts.Streaming {
		p.forward(audio, true)
		return
	}

	if p.deps.Batch == nil {
		p.client.Send(messages.NewErrorMessage(messages.ErrCodeAnalysisFailed, "Transcription unavailable").WithRequestID(requestID))
		return
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}

	p.runAnalysis(metrics.KindBatch, requestID, func(ctx context.Context) *messages.Envelope {
		ev, err := p.deps.Batch.Transcribe(ctx, audio, mimeType)
		if errors.Is(err, transcription.ErrAudioTooSmall) {
			p.metrics.Analyses.WithLabelValues(metrics.KindBatch, metrics.OutcomeRejected).Inc()
			p.logger.WithField("bytes", len(audio)).Info("audio buffer too small for transcription")
			return messages.NewErrorMessage(messages.ErrCodeAudioTooSmall, "Audio data too small for transcription").
				WithStatus(http.StatusBadRequest)
		}
		if err != nil {
			p.metrics.Analyses.WithLabelValues(metrics.KindBatch, metrics.OutcomeFailure).Inc()
			p.logger.WithError(err).Error("batch transcription failed")
			return messages.NewErrorMessage(messages.ErrCodeAnalysisFailed, "Transcription failed")
		}
		p.metrics.Analyses.WithLabelValues(metrics.KindBatch, metrics.OutcomeSuccess).Inc()
		if ev.Empty() {
			return nil
		}
		p.metrics.Transcripts.WithLabelValues("true").Inc()
		return messages.NewTranscriptionMessage(ev)
	})
}

func (p *Pair) handleVideoFrame(msg *messages.ClientMessage) {
	if p.deps.Vision == nil {
		p.client.Send(messages.NewErrorMessage(messages.ErrCodeAnalysisFailed, "Video analysis failed").WithRequestID(msg.ID))
		return
	}

	frame := msg.Data
	p.runAnalysis(metrics.KindVision, msg.ID, func(ctx context.Context) *messages.Envelope {
		result, err := p.deps.Vision.Analyze(ctx, frame)
		if err != nil {
			p.metrics.Analyses.WithLabelValues(metrics.KindVision, metrics.OutcomeFailure).Inc()
			p.logger.WithError(err).Error("video analysis failed")
			return messages.NewErrorMessage(messages.ErrCodeAnalysisFailed, "Video analysis failed")
		}
		p.metrics.Analyses.WithLabelValues(metrics.KindVision, metrics.OutcomeSuccess).Inc()
		return messages.NewVideoAnalysisMessage(result)
	})
}

// runAnalysis runs call off the read loop, at most MaxInflight at a time per
// pair with up to MaxQueued more waiting. Frames past that are rejected with
// an error. Calls are not cancelled when the client leaves; their result is
// discarded. Responses go out in completion order.
func (p *Pair) runAnalysis(kind, requestID string, call func(ctx context.Context) *messages.Envelope) {
	if !p.pending.TryAcquire(1) {
		p.metrics.Analyses.WithLabelValues(kind, metrics.OutcomeRejected).Inc()
		p.metrics.FramesDropped.WithLabelValues("analysis_backlog").Inc()
		p.logger.WithField("kind", kind).Warn("analysis backlog full, rejecting frame")
		p.client.Send(messages.NewErrorMessage(messages.ErrCodeAnalysisFailed, "Too many pending analyses").WithRequestID(requestID))
		return
	}

	go func() {
		defer p.pending.Release(1)

		// Frames still waiting for a slot are dropped once the pair closes.
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)

		defer func() {
			if r := recover(); r != nil {
				p.logger.WithField("panic", r).WithField("kind", kind).Error("recovered in analysis call")
				p.client.Send(messages.NewErrorMessage(messages.ErrCodeAnalysisFailed, "Analysis failed").WithRequestID(requestID))
			}
		}()

		ctx := context.WithoutCancel(p.ctx)
		if p.opts.ProviderTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.opts.ProviderTimeout)
			defer cancel()
		}

		start := time.Now()
		env := call(ctx)
		p.metrics.AnalysisDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

		if env != nil {
			p.client.Send(env.WithRequestID(requestID))
		}
	}()
}
