package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/room4-2/senserelay/config"
	"github.com/room4-2/senserelay/metrics"
)

const (
	activeSessionsKey = "active_sessions"
	cleanupInterval   = 1 * time.Minute
)

// ErrMaxSessions is returned by CreatePair when the session limit is reached.
var ErrMaxSessions = errors.New("maximum sessions reached")

// Manager tracks all live pairs and mirrors them to Redis when available.
type Manager struct {
	pairs   map[string]*Pair
	mu      sync.RWMutex
	redis   *redis.Client
	config  *config.Config
	deps    Dependencies
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewManager creates a pair manager. Redis is optional: when RedisURL is empty
// or the server does not answer a ping, sessions are tracked in memory only.
func NewManager(cfg *config.Config, deps Dependencies, logger *logrus.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("session manager requires a config")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(prometheus.NewRegistry())
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unavailable, tracking sessions in memory only")
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	return &Manager{
		pairs:   make(map[string]*Pair),
		redis:   redisClient,
		config:  cfg,
		deps:    deps,
		metrics: deps.Metrics,
		logger:  logger,
	}, nil
}

// CreatePair registers a new pair around conn. The caller starts it.
func (m *Manager) CreatePair(ctx context.Context, conn *websocket.Conn, mode Mode) (*Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pairs) >= m.config.MaxSessions {
		return nil, ErrMaxSessions
	}

	id := uuid.New().String()
	opts := Options{
		Mode:            mode,
		Streaming:       m.config.TranscriptionMode == config.TranscriptionStreaming,
		KeepAlivePeriod: m.config.KeepAlivePeriod,
		ProviderTimeout: m.config.ProviderTimeout,
		MaxInflight:     m.config.MaxInflight,
		MaxQueued:       m.config.MaxQueued,
	}
	pair := NewPair(id, conn, opts, m.deps, logrus.NewEntry(m.logger))

	m.pairs[id] = pair
	m.mirror(ctx, pair)

	m.metrics.ActiveSessions.Inc()
	m.metrics.SessionsTotal.WithLabelValues(string(mode)).Inc()
	return pair, nil
}

// mirror records a pair in Redis for external observers.
func (m *Manager) mirror(ctx context.Context, pair *Pair) {
	if m.redis == nil {
		return
	}
	key := "session:" + pair.ID
	pipe := m.redis.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"created_at":    pair.CreatedAt.Format(time.RFC3339),
		"last_activity": pair.LastActivity().Format(time.RFC3339),
		"status":        "active",
		"mode":          string(pair.Mode),
	})
	pipe.SAdd(ctx, activeSessionsKey, pair.ID)
	pipe.Expire(ctx, key, m.config.SessionTimeout)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.WithError(err).Warn("failed to mirror session to redis")
	}
}

func (m *Manager) unmirror(ctx context.Context, id string) {
	if m.redis == nil {
		return
	}
	if err := m.redis.Del(ctx, "session:"+id).Err(); err != nil {
		m.logger.WithError(err).Debug("failed to delete session from redis")
	}
	m.redis.SRem(ctx, activeSessionsKey, id)
}

// GetPair retrieves a pair by ID.
func (m *Manager) GetPair(id string) (*Pair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pair, exists := m.pairs[id]
	return pair, exists
}

// RemovePair closes and forgets a pair. Unknown IDs are ignored.
func (m *Manager) RemovePair(ctx context.Context, id string) {
	m.mu.Lock()
	pair, exists := m.pairs[id]
	if exists {
		delete(m.pairs, id)
	}
	m.mu.Unlock()

	if !exists {
		return
	}

	pair.Close()
	m.unmirror(ctx, id)
	m.metrics.ActiveSessions.Dec()
}

// ActiveCount returns the current number of pairs.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pairs)
}

// CleanupInactivePairs closes pairs with no client traffic for longer than
// the session timeout.
func (m *Manager) CleanupInactivePairs(ctx context.Context) {
	now := time.Now()

	m.mu.RLock()
	var stale []string
	for id, pair := range m.pairs {
		if now.Sub(pair.LastActivity()) > m.config.SessionTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.logger.WithField("session", id).Info("closing inactive session")
		m.RemovePair(ctx, id)
	}
}

// StartCleanupRoutine runs CleanupInactivePairs every minute until ctx ends.
func (m *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupInactivePairs(ctx)
		}
	}
}

// Shutdown closes all pairs and the Redis connection.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pairs := m.pairs
	m.pairs = make(map[string]*Pair)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for id, pair := range pairs {
		pair.Close()
		m.unmirror(ctx, id)
		m.metrics.ActiveSessions.Dec()
	}

	if m.redis != nil {
		_ = m.redis.Close()
	}
}
