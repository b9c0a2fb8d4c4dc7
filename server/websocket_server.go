package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/senserelay/analysis"
	"github.com/room4-2/senserelay/config"
	"github.com/room4-2/senserelay/messages"
	"github.com/room4-2/senserelay/metrics"
	"github.com/room4-2/senserelay/session"
)

// API holds the adapters behind the HTTP endpoints. Nil adapters answer 503.
type API struct {
	Text     analysis.TextAnalyzer
	Vision   session.ImageAnalyzer
	Batch    session.BatchTranscriber
	Gatherer prometheus.Gatherer
}

// Server serves the multiplexed /ws endpoint and the HTTP API.
type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	api            API
	metrics        *metrics.Metrics
	logger         *logrus.Logger
}

func NewServerWebsocket(cfg *config.Config, sessionManager *session.Manager, api API, m *metrics.Metrics, logger *logrus.Logger) *Server {
	if api.Gatherer == nil {
		api.Gatherer = prometheus.DefaultGatherer
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}

	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		api:            api,
		metrics:        m,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(api.Gatherer, promhttp.HandlerOpts{}))
	mux.Handle("POST /analyze", s.instrument("/analyze", s.handleAnalyze))
	mux.Handle("POST /vision-analysis", s.instrument("/vision-analysis", s.handleVisionAnalysis))
	mux.Handle("POST /transcribe", s.instrument("/transcribe", s.handleTranscribe))

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: withCORS(mux),
		// No ReadTimeout/WriteTimeout: they would cut long-lived WebSocket connections.
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.logger.Infof("WebSocket server starting on port %d", s.config.Port)
	s.logger.Infof("WebSocket endpoint: ws://localhost:%d/ws", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the listener. Open pairs are closed by the
// session manager.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down websocket server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	serveSession(r.Context(), s.sessionManager, conn, session.ModeMultiplexed, s.logger)
}

// serveSession runs one pair until it closes, then unregisters it.
func serveSession(ctx context.Context, mgr *session.Manager, conn *websocket.Conn, mode session.Mode, logger *logrus.Logger) {
	pair, err := mgr.CreatePair(ctx, conn, mode)
	if err != nil {
		logger.WithError(err).Warn("failed to create session")
		env := messages.NewErrorMessage(messages.ErrCodeSessionFailed, err.Error())
		env.Timestamp = time.Now().UnixMilli()
		if data, encErr := env.Encode(); encErr == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		_ = conn.Close()
		return
	}

	logger.WithFields(logrus.Fields{"session": pair.ID, "mode": string(mode)}).Info("new session created")

	pair.Start()
	<-pair.Done()

	mgr.RemovePair(context.Background(), pair.ID)
	logger.WithField("session", pair.ID).Info("session removed")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
