package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/senserelay/config"
	"github.com/room4-2/senserelay/session"
)

// ProxyServer is the dedicated transcription proxy listener. Every WebSocket
// on it becomes a proxy-mode pair; frames pass through unparsed.
type ProxyServer struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	logger         *logrus.Logger
}

func NewProxyServer(cfg *config.Config, sessionManager *session.Manager, logger *logrus.Logger) *ProxyServer {
	s := &ProxyServer{
		sessionManager: sessionManager,
		config:         cfg,
		logger:         logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Proxy clients are not browsers and send no Origin header.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/", s.handleProxy)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ProxyPort),
		Handler: mux,
		// No ReadTimeout/WriteTimeout: they interfere with long-lived WebSocket connections.
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the root handler.
func (s *ProxyServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections
func (s *ProxyServer) Start() error {
	s.logger.Infof("Transcription proxy listening on ws://localhost%s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the listener.
func (s *ProxyServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down proxy server")
	return s.httpServer.Shutdown(ctx)
}

func (s *ProxyServer) handleProxy(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("proxy websocket upgrade failed")
		return
	}

	serveSession(r.Context(), s.sessionManager, conn, session.ModeProxy, s.logger)
}

func (s *ProxyServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"server":   "proxy",
		"sessions": s.sessionManager.ActiveCount(),
	})
}

