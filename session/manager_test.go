package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/senserelay/config"
	"github.com/room4-2/senserelay/metrics"
)

type created struct {
	pair *Pair
	err  error
}

func newTestManager(t *testing.T, mutate func(*config.Config)) (*Manager, *metrics.Metrics) {
	t.Helper()
	cfg := config.Default()
	cfg.RedisURL = ""
	cfg.TranscriptionMode = config.TranscriptionBatch
	if mutate != nil {
		mutate(cfg)
	}
	m := metrics.New(prometheus.NewRegistry())
	mgr, err := NewManager(cfg, Dependencies{Metrics: m}, testLogger())
	require.NoError(t, err)
	t.Cleanup(mgr.Shutdown)
	return mgr, m
}

// connect opens one client connection and returns what CreatePair produced
// for it.
func connect(t *testing.T, mgr *Manager, mode Mode) created {
	t.Helper()

	results := make(chan created, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		pair, err := mgr.CreatePair(context.Background(), conn, mode)
		if err != nil {
			_ = conn.Close()
		}
		results <- created{pair: pair, err: err}
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	select {
	case res := <-results:
		return res
	case <-time.After(waitFor):
		t.Fatal("CreatePair was not called")
		return created{}
	}
}

func TestManager_MirrorsSessionsToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr, m := newTestManager(t, func(c *config.Config) {
		c.RedisURL = mr.Addr()
		c.SessionTimeout = 10 * time.Minute
	})

	res := connect(t, mgr, ModeMultiplexed)
	require.NoError(t, res.err)
	id := res.pair.ID
	key := "session:" + id

	assert.True(t, mr.Exists(key))
	assert.Equal(t, "active", mr.HGet(key, "status"))
	assert.Equal(t, "multiplexed", mr.HGet(key, "mode"))
	assert.Equal(t, 10*time.Minute, mr.TTL(key))
	member, err := mr.IsMember(activeSessionsKey, id)
	require.NoError(t, err)
	assert.True(t, member)

	assert.Equal(t, 1, mgr.ActiveCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsTotal.WithLabelValues("multiplexed")))

	got, ok := mgr.GetPair(id)
	require.True(t, ok)
	assert.Same(t, res.pair, got)

	mgr.RemovePair(context.Background(), id)

	assert.False(t, mr.Exists(key))
	member, err = mr.IsMember(activeSessionsKey, id)
	require.NoError(t, err)
	assert.False(t, member)
	assert.Zero(t, mgr.ActiveCount())
	assert.Zero(t, testutil.ToFloat64(m.ActiveSessions))
	waitDone(t, res.pair)

	// Removing twice is harmless.
	mgr.RemovePair(context.Background(), id)
	assert.Zero(t, testutil.ToFloat64(m.ActiveSessions))
}

func TestManager_WorksWithoutRedis(t *testing.T) {
	mgr, _ := newTestManager(t, func(c *config.Config) {
		c.RedisURL = "127.0.0.1:1"
	})
	assert.Nil(t, mgr.redis)

	res := connect(t, mgr, ModeProxy)
	require.NoError(t, res.err)
	assert.Equal(t, ModeProxy, res.pair.Mode)
	assert.Equal(t, 1, mgr.ActiveCount())
}

func TestManager_EnforcesMaxSessions(t *testing.T) {
	mgr, _ := newTestManager(t, func(c *config.Config) {
		c.MaxSessions = 1
	})

	first := connect(t, mgr, ModeMultiplexed)
	require.NoError(t, first.err)

	second := connect(t, mgr, ModeMultiplexed)
	assert.ErrorIs(t, second.err, ErrMaxSessions)
	assert.Nil(t, second.pair)
	assert.Equal(t, 1, mgr.ActiveCount())
}

func TestManager_CleanupInactivePairs(t *testing.T) {
	mgr, _ := newTestManager(t, func(c *config.Config) {
		c.SessionTimeout = 20 * time.Millisecond
	})

	res := connect(t, mgr, ModeMultiplexed)
	require.NoError(t, res.err)

	mgr.CleanupInactivePairs(context.Background())
	assert.Equal(t, 1, mgr.ActiveCount())

	time.Sleep(50 * time.Millisecond)
	mgr.CleanupInactivePairs(context.Background())
	assert.Zero(t, mgr.ActiveCount())
	waitDone(t, res.pair)
}

func TestManager_ShutdownClosesEverything(t *testing.T) {
	mgr, m := newTestManager(t, nil)

	a := connect(t, mgr, ModeMultiplexed)
	b := connect(t, mgr, ModeMultiplexed)
	require.NoError(t, a.err)
	require.NoError(t, b.err)

	mgr.Shutdown()

	waitDone(t, a.pair)
	waitDone(t, b.pair)
	assert.Zero(t, mgr.ActiveCount())
	assert.Zero(t, testutil.ToFloat64(m.ActiveSessions))
}

func TestManager_PairOptionsFollowConfig(t *testing.T) {
	mgr, _ := newTestManager(t, func(c *config.Config) {
		c.KeepAlivePeriod = 7 * time.Second
		c.ProviderTimeout = 3 * time.Second
		c.MaxInflight = 2
		c.MaxQueued = 5
	})

	res := connect(t, mgr, ModeMultiplexed)
	require.NoError(t, res.err)
	assert.Equal(t, 7*time.Second, res.pair.opts.KeepAlivePeriod)
	assert.Equal(t, 3*time.Second, res.pair.opts.ProviderTimeout)
	assert.Equal(t, 2, res.pair.opts.MaxInflight)
	assert.Equal(t, 5, res.pair.opts.MaxQueued)
	assert.False(t, res.pair.opts.Streaming)
	assert.Equal(t, StateClosed, res.pair.UpstreamState())
}
