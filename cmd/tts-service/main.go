// main package for the speech-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/book-expert/speech-service/internal/catalog"
	"github.com/book-expert/speech-service/internal/config"
	"github.com/book-expert/speech-service/internal/engine"
	"github.com/book-expert/speech-service/internal/objectstore"
	"github.com/book-expert/speech-service/internal/pipeline"
	"github.com/book-expert/speech-service/internal/server"
	"github.com/book-expert/speech-service/internal/tts"
	"github.com/book-expert/speech-service/internal/worker"
)

const (
	bootstrapLogFile = "speech-service-bootstrap.log"
	serviceLogFile   = "speech-service.log"
	shutdownTimeout  = 30 * time.Second
	readHeaderLimit  = 10 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

// serve loads the model, starts the HTTP front end and the optional NATS
// worker, and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	cat := catalog.Default()
	sidecar := tts.NewHTTPClient(cfg.TTS.InferenceURL, cfg.Timeout())

	healthErr := sidecar.HealthCheck(ctx)
	if healthErr != nil {
		log.Warn("Model service at %s is not healthy yet: %v", sidecar.BaseURL(), healthErr)
	}

	loader := tts.NewLoader(sidecar)
	adapter := engine.NewAdapter(loader, cat, log)

	store, err := objectstore.NewFileStore(cfg.Paths.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to create output store: %w", err)
	}

	initial := cfg.VoiceConfiguration()

	synth, err := pipeline.New(ctx, cat, adapter, initial, pipeline.Options{
		Denoise: cfg.DenoiseParameters(),
		Store:   store,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to start synthesis pipeline: %w", err)
	}

	defer func() {
		closeErr := synth.Close(context.Background())
		if closeErr != nil {
			log.Error("Failed to release model: %v", closeErr)
		}
	}()

	log.System("Model loaded: %s/%s voice %s", initial.Language, initial.Model, synth.Active().Voice)

	limiter := rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
	handler := server.New(synth, cat, store, limiter, server.Defaults{
		SampleRate: cfg.TTS.SampleRate,
		Denoise:    cfg.DenoiseByDefault(),
	}, log)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           handler.Router(cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: readHeaderLimit,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.System("Speech-Service listening on %s", cfg.Server.ListenAddress)

		listenErr := httpServer.ListenAndServe()
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", listenErr)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			return fmt.Errorf("http server shutdown failed: %w", shutdownErr)
		}

		return nil
	})

	if cfg.NATS.URL != "" {
		natsErr := startWorkers(groupCtx, group, cfg, synth, log)
		if natsErr != nil {
			closeErr := httpServer.Close()
			if closeErr != nil {
				log.Warn("Failed to close http server: %v", closeErr)
			}

			return natsErr
		}
	}

	waitErr := group.Wait()

	log.System("Speech-Service stopped.")

	return waitErr
}

// startWorkers connects to NATS and runs the configured number of workers
// in one queue group. Without a queue group a single worker is started so
// each job is handled once.
func startWorkers(ctx context.Context, group *errgroup.Group, cfg *config.Config, synth *pipeline.Pipeline, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetStream, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	audioStore, err := objectstore.New(jetStream, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return fmt.Errorf("failed to bind object store: %w", err)
	}

	count := cfg.TTS.Workers
	if cfg.NATS.QueueGroup == "" {
		count = 1
	}

	opts := worker.Options{
		QueueGroup:   cfg.NATS.QueueGroup,
		EventSubject: cfg.NATS.AudioChunkCreatedSubject,
		SampleRate:   cfg.TTS.SampleRate,
		Denoise:      cfg.DenoiseByDefault(),
	}

	var running errgroup.Group

	for range count {
		natsWorker, workerErr := worker.NewNatsWorker(natsConnection, cfg.NATS.TextProcessedSubject, audioStore, synth, opts, log)
		if workerErr != nil {
			natsConnection.Close()

			return fmt.Errorf("failed to create worker: %w", workerErr)
		}

		running.Go(func() error { return natsWorker.Run(ctx) })
	}

	group.Go(func() error {
		defer natsConnection.Close()

		return running.Wait()
	})

	log.System("Started %d worker(s) on subject %s (bucket %s)", count, cfg.NATS.TextProcessedSubject, audioStore.Bucket())

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
