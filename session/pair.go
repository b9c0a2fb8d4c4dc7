package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/room4-2/senserelay/analysis"
	"github.com/room4-2/senserelay/messages"
	"github.com/room4-2/senserelay/metrics"
	"github.com/room4-2/senserelay/transcription"
)

// Mode selects how client frames are interpreted.
type Mode string

const (
	// ModeProxy forwards every client frame to upstream unparsed.
	ModeProxy Mode = "proxy"
	// ModeMultiplexed reads JSON envelopes with a type discriminator.
	ModeMultiplexed Mode = "multiplexed"
)

const (
	defaultKeepAlivePeriod = 3 * time.Second
	defaultMaxQueued       = 16
	upstreamWriteTimeout   = 10 * time.Second
)

// ImageAnalyzer analyzes one base64 JPEG frame.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, base64JPEG string) (*analysis.VideoAnalysis, error)
}

// BatchTranscriber transcribes one complete audio buffer.
type BatchTranscriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (transcription.Event, error)
}

// Dependencies are the process-wide collaborators injected into every pair.
type Dependencies struct {
	Dialer  Dialer                  // required when the pair streams upstream
	Parse   transcription.ParseFunc // normalizes upstream frames
	Vision  ImageAnalyzer
	Batch   BatchTranscriber
	Metrics *metrics.Metrics
}

// Options configure one pair.
type Options struct {
	Mode Mode
	// Streaming sends multiplexed audio upstream; otherwise it goes to Batch.
	// Proxy mode always streams.
	Streaming       bool
	KeepAlivePeriod time.Duration
	// ProviderTimeout bounds analysis calls and the upstream handshake. Zero
	// means no bound.
	ProviderTimeout time.Duration
	MaxInflight     int
	// MaxQueued bounds analyses waiting for a slot; frames beyond it are
	// rejected.
	MaxQueued int
}

// Pair binds one client connection to one upstream connection for its
// lifetime. Closing either side closes the other.
type Pair struct {
	ID        string
	Mode      Mode
	CreatedAt time.Time

	client  *ClientSession
	opts    Options
	deps    Dependencies
	metrics *metrics.Metrics
	logger  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	// sendCtx bounds upstream writes. Close cancels it first so a stalled
	// write cannot hold up shutdown.
	sendCtx    context.Context
	sendCancel context.CancelFunc

	sem     *semaphore.Weighted // running analyses
	pending *semaphore.Weighted // running plus queued analyses

	closed atomic.Bool

	// mu guards the upstream handle. Upstream sends hold it for reading so
	// Close can wait them out before tearing the connection down.
	mu       sync.RWMutex
	upstream Upstream
	state    UpstreamState

	done      chan struct{}
	closeOnce sync.Once
}

// NewPair creates a pair around an upgraded client connection. Nothing runs
// until Start.
func NewPair(id string, conn *websocket.Conn, opts Options, deps Dependencies, logger *logrus.Entry) *Pair {
	if opts.Mode == "" {
		opts.Mode = ModeMultiplexed
	}
	if opts.KeepAlivePeriod <= 0 {
		opts.KeepAlivePeriod = defaultKeepAlivePeriod
	}
	if opts.MaxInflight < 1 {
		opts.MaxInflight = 1
	}
	if opts.MaxQueued < 1 {
		opts.MaxQueued = defaultMaxQueued
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(prometheus.NewRegistry())
	}

	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	logger = logger.WithFields(logrus.Fields{"session": short, "mode": string(opts.Mode)})

	ctx, cancel := context.WithCancel(context.Background())
	sendCtx, sendCancel := context.WithCancel(ctx)

	state := StateConnecting
	if opts.Mode != ModeProxy && !opts.Streaming {
		// Batch pairs never open an upstream connection.
		state = StateClosed
	}

	return &Pair{
		ID:         id,
		Mode:       opts.Mode,
		CreatedAt:  time.Now(),
		client:     NewClientSession(conn, logger),
		opts:       opts,
		deps:       deps,
		metrics:    deps.Metrics,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		sendCtx:    sendCtx,
		sendCancel: sendCancel,
		sem:        semaphore.NewWeighted(int64(opts.MaxInflight)),
		pending:    semaphore.NewWeighted(int64(opts.MaxInflight + opts.MaxQueued)),
		state:      state,
		done:       make(chan struct{}),
	}
}

// Start begins reading client frames and, when the pair streams, dials the
// upstream connection. Client frames are accepted immediately; audio that
// arrives before upstream is open is dropped.
func (p *Pair) Start() {
	p.client.Start(p.handleFrame, p.Close)
	if p.streamsUpstream() {
		go p.connectUpstream()
	}
}

func (p *Pair) streamsUpstream() bool {
	return p.opts.Mode == ModeProxy || p.opts.Streaming
}

// Done is closed once the pair has shut down.
func (p *Pair) Done() <-chan struct{} {
	return p.done
}

// UpstreamState returns the current upstream connection state.
func (p *Pair) UpstreamState() UpstreamState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// LastActivity returns the last time a frame crossed the client connection.
func (p *Pair) LastActivity() time.Time {
	return p.client.LastActivity()
}

func (p *Pair) isClosed() bool {
	return p.closed.Load()
}

func (p *Pair) connectUpstream() {
	if p.deps.Dialer == nil {
		p.failUpstream(errors.New("no upstream dialer configured"))
		return
	}

	dialCtx := p.ctx
	if p.opts.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(p.ctx, p.opts.ProviderTimeout)
		defer cancel()
	}

	up, err := p.deps.Dialer.Dial(dialCtx)
	if err != nil {
		p.failUpstream(err)
		return
	}

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		// Client left during the handshake.
		_ = up.Close()
		return
	}
	p.upstream = up
	p.state = StateOpen
	p.mu.Unlock()

	p.logger.Info("upstream connection open")

	go p.keepAliveLoop(up)
	go p.receiveLoop(up)
}

func (p *Pair) failUpstream(err error) {
	if p.isClosed() {
		return
	}
	p.metrics.UpstreamFailures.Inc()
	p.logger.WithError(fmt.Errorf("%w: %w", ErrProviderUnavailable, err)).Error("failed to connect upstream")
	p.client.Send(messages.NewErrorMessage(messages.ErrCodeProviderUnavailable, "Transcription provider unavailable"))
	p.Close()
}

// keepAliveLoop sends a keep-alive frame every period while upstream is open.
func (p *Pair) keepAliveLoop(up Upstream) {
	ticker := time.NewTicker(p.opts.KeepAlivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.sendKeepAlive(up); err != nil {
				p.logger.WithError(err).Warn("failed to send keep-alive")
				p.Close()
				return
			}
		}
	}
}

func (p *Pair) sendKeepAlive(up Upstream) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return nil
	}
	ctx, cancel := context.WithTimeout(p.sendCtx, upstreamWriteTimeout)
	defer cancel()
	if err := up.KeepAlive(ctx); err != nil {
		return err
	}
	p.metrics.KeepAlives.Inc()
	return nil
}

// forward sends one client frame upstream verbatim.
func (p *Pair) forward(data []byte, binary bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return
	}
	if p.state != StateOpen {
		p.metrics.FramesDropped.WithLabelValues("upstream_not_open").Inc()
		p.logger.WithField("bytes", len(data)).Warn("cannot forward audio, upstream connection not open")
		return
	}

	ctx, cancel := context.WithTimeout(p.sendCtx, upstreamWriteTimeout)
	defer cancel()

	var err error
	if binary {
		err = p.upstream.SendAudio(ctx, data)
	} else {
		err = p.upstream.SendControl(ctx, data)
	}
	if err != nil {
		p.metrics.FramesDropped.WithLabelValues("send_failed").Inc()
		p.logger.WithError(err).Warn("failed to forward frame upstream")
		return
	}
	p.metrics.FramesForwarded.Inc()
}

func (p *Pair) receiveLoop(up Upstream) {
	defer p.Close()
	for {
		raw, err := up.Receive(p.ctx)
		if err != nil {
			if !p.isClosed() {
				p.logger.WithError(err).Info("upstream connection closed")
			}
			return
		}
		p.handleUpstream(raw)
	}
}

// handleUpstream turns one provider frame into at most one client frame.
// Nothing in here ends the pair.
func (p *Pair) handleUpstream(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("recovered while handling upstream event")
			p.client.Send(messages.NewErrorMessage(messages.ErrCodeUpstreamPayload, "Failed to process transcription event"))
		}
	}()

	ev, ok, err := p.deps.Parse(raw)
	switch {
	case errors.Is(err, transcription.ErrMalformedPayload):
		p.logger.Debug("forwarding non-JSON upstream payload unchanged")
		p.client.SendRaw(raw)
	case err != nil:
		p.logger.WithError(err).Warn("failed to parse upstream event")
		p.client.Send(messages.NewErrorMessage(messages.ErrCodeUpstreamPayload, "Failed to parse transcription event"))
	case ok:
		p.metrics.Transcripts.WithLabelValues(strconv.FormatBool(ev.IsFinal)).Inc()
		p.client.Send(messages.NewTranscriptionMessage(ev))
	}
}

// Close shuts the pair down: keep-alive stops, upstream closes gracefully and
// the client connection closes. Safe to call from any goroutine, any number of
// times.
func (p *Pair) Close() {
	p.closeOnce.Do(func() {
		// New sends see closed; in-flight ones are cut short, then waited out.
		p.closed.Store(true)
		p.sendCancel()

		p.mu.Lock()
		up := p.upstream
		if up != nil {
			p.state = StateClosing
		}
		p.mu.Unlock()

		close(p.done)

		if up != nil {
			if err := up.Close(); err != nil {
				p.logger.WithError(err).Debug("upstream close")
			}
		}

		p.mu.Lock()
		p.state = StateClosed
		p.mu.Unlock()

		p.cancel()
		p.client.Close()
		p.logger.Info("session closed")
	})
}
