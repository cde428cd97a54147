package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/book-expert/llm-gateway/internal/auth"
	"github.com/book-expert/llm-gateway/internal/chat"
	"github.com/book-expert/llm-gateway/internal/config"
	"github.com/book-expert/llm-gateway/internal/core"
	"github.com/book-expert/llm-gateway/internal/images"
	"github.com/book-expert/llm-gateway/internal/metrics"
	"github.com/book-expert/llm-gateway/internal/objectstore"
	"github.com/book-expert/llm-gateway/internal/server"
	"github.com/book-expert/llm-gateway/internal/telemetry"
	"github.com/book-expert/llm-gateway/internal/translation"
	"github.com/book-expert/llm-gateway/internal/tts"
	"github.com/book-expert/llm-gateway/internal/tts/speakers"
	"github.com/book-expert/llm-gateway/internal/tts/xtts"
	"github.com/book-expert/llm-gateway/internal/worker"
)

const (
	natsClientName         = "llm-gateway"
	telemetryFlushTimeout  = 5 * time.Second
	speakerWarmupTimeout   = 30 * time.Second
	natsReconnectWait      = 2 * time.Second
	natsMaxReconnects      = -1
	logFmtSpeakerWarmupErr = "Speaker listing not available yet, it will be loaded on first use: %v"
)

func serveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Long: `Start the HTTP gateway.

When nats.enabled is set the process also runs the TTS worker: it consumes
text pages from nats.text_processed_subject, synthesizes them and stores the
audio in the nats.audio_object_store_bucket object store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.close()

			return runServe(cmd.Context(), a)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	cfg := a.cfg
	log := a.log

	shutdownTracing, err := telemetry.Setup(cfg.Telemetry, cfg.Server.Environment, log)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()

		flushErr := shutdownTracing(flushCtx)
		if flushErr != nil {
			log.Warn("Failed to flush traces: %v", flushErr)
		}
	}()

	gatewayMetrics := metrics.New()

	synthesisClient := xtts.New(cfg.TTS.URL, cfg.TTS.ChunkTimeout())
	speakerCache := speakers.NewCache(xtts.New(cfg.TTS.URL, cfg.TTS.RequestTimeout()), log)
	warmSpeakers(ctx, speakerCache, a)

	engine := tts.NewEngine(cfg.TTS, synthesisClient, speakerCache, log, tts.WithMetrics(gatewayMetrics))

	authService := auth.NewService(cfg.Auth, log)

	srv := server.New(server.Deps{
		Config:     cfg,
		Log:        log,
		Metrics:    gatewayMetrics,
		Auth:       authService,
		Speech:     engine,
		Voices:     speakerCache,
		Chat:       chat.NewService(cfg.Chat, log, gatewayMetrics),
		Images:     images.NewService(cfg.Images, log, gatewayMetrics),
		Translator: translation.NewService(cfg.Translation, log, gatewayMetrics),
		Version:    version,
	})

	var natsWorker *worker.NatsWorker

	if cfg.NATS.Enabled {
		var closeNATS func()

		natsWorker, closeNATS, err = newWorker(ctx, cfg, engine, a)
		if err != nil {
			return err
		}

		defer closeNATS()
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return srv.ListenAndServe(groupCtx)
	})

	if natsWorker != nil {
		group.Go(func() error {
			return natsWorker.Run(groupCtx)
		})
	}

	err = group.Wait()
	if err != nil {
		return err
	}

	log.System("LLM gateway stopped.")

	return nil
}

func warmSpeakers(ctx context.Context, cache *speakers.Cache, a *app) {
	warmCtx, cancel := context.WithTimeout(ctx, speakerWarmupTimeout)
	defer cancel()

	err := cache.Refresh(warmCtx)
	if err != nil {
		a.log.Warn(logFmtSpeakerWarmupErr, err)

		return
	}

	names, _ := cache.Names(warmCtx)
	a.log.Info("Loaded %d studio speakers from %s", len(names), a.cfg.TTS.URL)
}

// newWorker connects to NATS, binds the object stores and builds the TTS
// worker. The returned function closes the connection.
func newWorker(
	ctx context.Context,
	cfg *config.Config,
	synth core.Synthesizer,
	a *app,
) (*worker.NatsWorker, func(), error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL,
		nats.Name(natsClientName),
		nats.ReconnectWait(natsReconnectWait),
		nats.MaxReconnects(natsMaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, disconnectErr error) {
			if disconnectErr != nil {
				a.log.Warn("Disconnected from NATS: %v", disconnectErr)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			a.log.Info("Reconnected to NATS at %s", conn.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	closeConnection := func() {
		drainErr := natsConnection.Drain()
		if drainErr != nil && !errors.Is(drainErr, nats.ErrConnectionClosed) {
			a.log.Warn("Failed to drain NATS connection: %v", drainErr)
		}
	}

	js, err := jetstream.New(natsConnection)
	if err != nil {
		closeConnection()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	texts, err := objectstore.New(ctx, js, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		closeConnection()

		return nil, nil, err
	}

	audio, err := objectstore.New(ctx, js, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		closeConnection()

		return nil, nil, err
	}

	natsWorker, err := worker.NewNatsWorker(natsConnection, js, worker.Config{
		Subject:      cfg.NATS.TextProcessedSubject,
		ReplySubject: cfg.NATS.AudioChunkCreatedSubject,
		Stream:       cfg.NATS.TTStreamName,
		Consumer:     cfg.NATS.TTSConsumerName,
		Language:     cfg.TTS.DefaultLanguage,
		JobTimeout:   config.Timeout(cfg.NATS.JobTimeoutSeconds),
	}, texts, audio, synth, a.log)
	if err != nil {
		closeConnection()

		return nil, nil, fmt.Errorf("failed to create NATS worker: %w", err)
	}

	a.log.System("TTS worker bound to buckets %s -> %s", texts.Bucket(), audio.Bucket())

	return natsWorker, closeConnection, nil
}
