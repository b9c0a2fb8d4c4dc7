package server

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/room4-2/senserelay/metrics"
	"github.com/room4-2/senserelay/transcription"
)

const maxRequestBody = 16 << 20

type analyzeRequest struct {
	Text string `json:"text"`
}

type visionRequest struct {
	Base64Image string `json:"base64Image"`
}

type transcribeRequest struct {
	AudioData string `json:"audioData"`
	MimeType  string `json:"mimeType"`
}

type transcribeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"isFinal"`
	Timestamp  int64   `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// withCORS allows any origin and answers preflight requests directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument counts requests to path by status code.
func (s *Server) instrument(path string, h http.HandlerFunc) http.Handler {
	return promhttp.InstrumentHandlerCounter(
		s.metrics.HTTPRequests.MustCurryWith(prometheus.Labels{"path": path}),
		h,
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	writeRawJSON(w, status, data)
}

func writeRawJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return sonic.Unmarshal(body, v)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "Text is required")
		return
	}
	if s.api.Text == nil {
		writeError(w, http.StatusServiceUnavailable, "Text analysis unavailable")
		return
	}

	start := time.Now()
	result, err := s.api.Text.AnalyzeText(r.Context(), req.Text)
	s.metrics.AnalysisDuration.WithLabelValues(metrics.KindText).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.Analyses.WithLabelValues(metrics.KindText, metrics.OutcomeFailure).Inc()
		s.logger.WithError(err).Error("text analysis failed")
		writeError(w, http.StatusInternalServerError, "Text analysis failed")
		return
	}
	s.metrics.Analyses.WithLabelValues(metrics.KindText, metrics.OutcomeSuccess).Inc()
	writeRawJSON(w, http.StatusOK, result)
}

func (s *Server) handleVisionAnalysis(w http.ResponseWriter, r *http.Request) {
	var req visionRequest
	if err := decodeBody(r, &req); err != nil || req.Base64Image == "" {
		writeError(w, http.StatusBadRequest, "Image data is required")
		return
	}
	if s.api.Vision == nil {
		writeError(w, http.StatusServiceUnavailable, "Vision analysis unavailable")
		return
	}

	s.logger.WithField("chars", len(req.Base64Image)).Debug("vision analysis request")

	start := time.Now()
	result, err := s.api.Vision.Analyze(r.Context(), req.Base64Image)
	s.metrics.AnalysisDuration.WithLabelValues(metrics.KindVision).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.Analyses.WithLabelValues(metrics.KindVision, metrics.OutcomeFailure).Inc()
		s.logger.WithError(err).Error("vision analysis failed")
		writeError(w, http.StatusInternalServerError, "Vision analysis failed")
		return
	}
	s.metrics.Analyses.WithLabelValues(metrics.KindVision, metrics.OutcomeSuccess).Inc()
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if err := decodeBody(r, &req); err != nil || req.AudioData == "" {
		writeError(w, http.StatusBadRequest, "Audio data is required")
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.AudioData)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid audio data")
		return
	}
	if s.api.Batch == nil {
		writeError(w, http.StatusServiceUnavailable, "Transcription unavailable")
		return
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "audio/webm"
	}

	start := time.Now()
	ev, err := s.api.Batch.Transcribe(r.Context(), audio, mimeType)
	s.metrics.AnalysisDuration.WithLabelValues(metrics.KindBatch).Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, transcription.ErrAudioTooSmall):
		s.metrics.Analyses.WithLabelValues(metrics.KindBatch, metrics.OutcomeRejected).Inc()
		writeError(w, http.StatusBadRequest, "Audio data too small for transcription")
		return
	case err != nil:
		s.metrics.Analyses.WithLabelValues(metrics.KindBatch, metrics.OutcomeFailure).Inc()
		s.logger.WithError(err).Error("transcription failed")
		writeError(w, http.StatusInternalServerError, "Transcription failed")
		return
	}
	s.metrics.Analyses.WithLabelValues(metrics.KindBatch, metrics.OutcomeSuccess).Inc()

	resp := transcribeResponse{
		Text:      ev.Text,
		IsFinal:   ev.IsFinal,
		Timestamp: time.Now().UnixMilli(),
	}
	if ev.Confidence != nil {
		resp.Confidence = *ev.Confidence
	}
	writeJSON(w, http.StatusOK, resp)
}
