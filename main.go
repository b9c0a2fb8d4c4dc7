package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/room4-2/senserelay/analysis"
	"github.com/room4-2/senserelay/config"
	"github.com/room4-2/senserelay/deepgram"
	"github.com/room4-2/senserelay/gemini"
	"github.com/room4-2/senserelay/logging"
	"github.com/room4-2/senserelay/metrics"
	"github.com/room4-2/senserelay/openai"
	"github.com/room4-2/senserelay/server"
	"github.com/room4-2/senserelay/session"
	"github.com/room4-2/senserelay/transcription"
)

const shutdownTimeout = 10 * time.Second

type httpServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	deps, api, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to set up providers: %v", err)
	}
	deps.Metrics = m
	api.Gatherer = reg

	sessionManager, err := session.NewManager(cfg, deps, logger)
	if err != nil {
		logger.Fatalf("Failed to create session manager: %v", err)
	}

	var servers []httpServer
	if cfg.ServesWebsocket() {
		servers = append(servers, server.NewServerWebsocket(cfg, sessionManager, api, m, logger))
	}
	if cfg.ServesProxy() {
		servers = append(servers, server.NewProxyServer(cfg, sessionManager, logger))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessionManager.StartCleanupRoutine(gctx)
		return nil
	})
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("server shutdown error")
			}
		}
		sessionManager.Shutdown()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Info("Server stopped")
}

// buildProviders constructs the provider clients the enabled features need.
// Adapters left nil are reported as unavailable by the endpoints that use them.
func buildProviders(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (session.Dependencies, server.API, error) {
	deps := session.Dependencies{Parse: deepgram.ParseEvent}
	var api server.API

	if cfg.DeepgramAPIKey != "" {
		dg, err := deepgram.New(cfg.DeepgramAPIKey,
			deepgram.WithEndpoint(cfg.DeepgramURL),
			deepgram.WithModel(cfg.DeepgramModel),
			deepgram.WithLanguage(cfg.DeepgramLanguage),
		)
		if err != nil {
			return deps, api, err
		}
		deps.Dialer = session.DialFunc(func(ctx context.Context) (session.Upstream, error) {
			stream, err := dg.Dial(ctx)
			if err != nil {
				return nil, err
			}
			return stream, nil
		})
		api.Text = dg
	}

	var oai *openai.Client
	if cfg.OpenAIAPIKey != "" {
		opts := []openai.Option{
			openai.WithVisionModel(cfg.VisionModel),
			openai.WithTranscriptionModel(cfg.WhisperModel),
			openai.WithLanguage(cfg.DeepgramLanguage),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		if cfg.ProviderTimeout > 0 {
			opts = append(opts, openai.WithTimeout(cfg.ProviderTimeout))
		}
		client, err := openai.New(cfg.OpenAIAPIKey, opts...)
		if err != nil {
			return deps, api, err
		}
		oai = client

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := oai.Ping(pingCtx); err != nil {
			logger.WithError(err).Warn("OpenAI connectivity check failed")
		}
		cancel()
	}

	var describer analysis.ImageDescriber
	switch cfg.VisionProvider {
	case config.VisionGemini:
		if cfg.GeminiAPIKey != "" {
			gv, err := gemini.NewVision(ctx, cfg.GeminiAPIKey, gemini.WithModel(cfg.GeminiVisionModel))
			if err != nil {
				return deps, api, err
			}
			describer = gv
		}
	default:
		if oai != nil {
			describer = oai
		}
	}
	if describer != nil {
		vision := analysis.NewVision(describer)
		deps.Vision = vision
		api.Vision = vision
	}

	if oai != nil {
		batch := transcription.NewBatch(oai,
			transcription.WithMinAudioBytes(cfg.MinBatchAudio),
			transcription.WithTempDir(cfg.TempDir),
			transcription.WithLogger(logger.WithField("provider", "whisper")),
		)
		deps.Batch = batch
		api.Batch = batch
	}

	return deps, api, nil
}
