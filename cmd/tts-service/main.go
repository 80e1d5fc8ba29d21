// main package for the audiobook tts-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/book-expert/audiobook-tts/internal/audio"
	"github.com/book-expert/audiobook-tts/internal/cleanup"
	"github.com/book-expert/audiobook-tts/internal/config"
	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/audiobook-tts/internal/httpapi"
	"github.com/book-expert/audiobook-tts/internal/pipeline"
	"github.com/book-expert/audiobook-tts/internal/repository"
	"github.com/book-expert/audiobook-tts/internal/worker"
	"github.com/book-expert/logger"
)

const (
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
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
	bootstrapLog, err := setupLogger(os.TempDir(), "tts-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "tts-service.log")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	db, err := repository.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}

	defer func() { _ = db.Close() }()

	messaging := connectNATS(cfg.NATS, log)
	defer messaging.close()

	artifacts, err := newArtifactStore(cfg.Storage, messaging, log)
	if err != nil {
		return err
	}

	engines, closeEngines := newEngineFactory(cfg.Service, cfg.Engines, log)
	defer closeEngines()

	var notifier core.Notifier
	if messaging.conn != nil {
		notifier = worker.NewNatsNotifier(messaging.conn, cfg.NATS.StatusSubject, log)
	}

	service, err := pipeline.New(pipeline.Config{
		ScratchRoot:       cfg.Service.ScratchRoot,
		MaxChunkLength:    cfg.Service.MaxChunkLength,
		DefaultVoice:      cfg.Service.DefaultVoice,
		DefaultFormat:     cfg.Audio.DefaultFormat,
		DefaultSampleRate: cfg.Audio.DefaultSampleRate,
		MaxJobDuration:    cfg.Service.MaxJobDuration(),
	}, pipeline.Dependencies{
		Texts:     db.Texts(),
		Audios:    db.Audios(),
		Engines:   engines,
		Assembler: audio.NewAssembler(cfg.Audio.FFmpegPath, cfg.Audio.FFprobePath, log),
		Artifacts: artifacts,
		Notifier:  notifier,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	api := httpapi.NewServer(service, db.Texts(), engines, log, httpapi.Options{
		MaxTextBytes:   cfg.HTTP.MaxTextBytes,
		RequestTimeout: cfg.HTTP.RequestTimeout(),
	})

	server := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	var background sync.WaitGroup

	scheduler := cleanup.NewScheduler(cleanup.Config{
		ScratchRoot: cfg.Service.ScratchRoot,
		Interval:    cfg.Cleanup.Interval(),
		MaxAge:      cfg.Cleanup.MaxAge(),
	}, service, log)

	background.Add(1)

	go func() {
		defer background.Done()
		scheduler.Run(ctx)
	}()

	if messaging.conn != nil {
		intake := worker.NewNatsWorker(messaging.conn, cfg.NATS.RequestSubject, cfg.NATS.QueueGroup, service, log)

		background.Add(1)

		go func() {
			defer background.Done()

			runErr := intake.Run(ctx)
			if runErr != nil {
				log.Error("NATS intake stopped: %v", runErr)
			}
		}()
	}

	serverErr := make(chan error, 1)

	go func() {
		log.System("TTS-Service listening on %s", cfg.HTTP.ListenAddr)

		listenErr := server.ListenAndServe()
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			serverErr <- listenErr
		}

		close(serverErr)
	}()

	var result error

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case listenErr := <-serverErr:
		result = fmt.Errorf("http server failed: %w", listenErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Error("Graceful HTTP shutdown failed: %v", shutdownErr)
		_ = server.Close()
	}

	pipelineErr := service.Shutdown(shutdownCtx)
	if pipelineErr != nil {
		log.Error("Pipeline shutdown incomplete: %v", pipelineErr)
	}

	background.Wait()
	log.System("TTS-Service stopped")

	return result
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
