package main

import (
	"github.com/book-expert/audiobook-tts/internal/artifact"
	"github.com/book-expert/audiobook-tts/internal/config"
	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/audiobook-tts/internal/objectstore"
	"github.com/book-expert/audiobook-tts/internal/retry"
	"github.com/book-expert/audiobook-tts/internal/tts"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

// messaging holds the optional NATS connection and its object store.
type messaging struct {
	conn  *nats.Conn
	store *objectstore.NatsObjectStore
}

// connectNATS connects when a URL is configured. Failures leave the service
// running on local storage without NATS intake.
func connectNATS(cfg config.NATSConfig, log *logger.Logger) messaging {
	if cfg.URL == "" {
		log.Info("NATS disabled: no url configured")

		return messaging{}
	}

	conn, connectErr := nats.Connect(cfg.URL, nats.Name("audiobook-tts"))
	if connectErr != nil {
		log.Warn("Failed to connect to NATS at %s, continuing without it: %v", cfg.URL, connectErr)

		return messaging{}
	}

	jetstreamContext, jsErr := conn.JetStream()
	if jsErr != nil {
		log.Warn("JetStream unavailable, artifacts will be stored locally: %v", jsErr)

		return messaging{conn: conn}
	}

	store, storeErr := objectstore.New(jetstreamContext, cfg.AudioObjectStoreBucket)
	if storeErr != nil {
		log.Warn("Object store %s unavailable, artifacts will be stored locally: %v", cfg.AudioObjectStoreBucket, storeErr)

		return messaging{conn: conn}
	}

	log.Info("Connected to NATS at %s (bucket %s)", cfg.URL, store.Bucket())

	return messaging{conn: conn, store: store}
}

func (m messaging) close() {
	if m.conn != nil {
		_ = m.conn.Drain()
	}
}

func policyOf(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{MaxAttempts: cfg.Attempts, BaseDelay: cfg.BaseDelay()}
}

func newArtifactStore(cfg config.StorageConfig, m messaging, log *logger.Logger) (*artifact.Store, error) {
	local, localErr := artifact.NewLocalStore(cfg.LocalDir)
	if localErr != nil {
		return nil, localErr
	}

	var remote artifact.Remote
	if m.store != nil {
		remote = m.store
	}

	return artifact.New(remote, local, policyOf(cfg.UploadRetry), log), nil
}

// newEngineFactory builds the candidates in configured order. The returned
// function releases engine connections.
func newEngineFactory(service config.ServiceConfig, cfg config.EnginesConfig, log *logger.Logger) (*tts.Factory, func()) {
	var (
		candidates []tts.Constructor
		closers    []func() error
	)

	for _, name := range cfg.Order {
		switch name {
		case config.EngineCLI:
			cliCfg := tts.CLIConfig{Binary: cfg.CLI.Binary, ModelDir: cfg.CLI.ModelDir, Voices: cfg.CLI.Voices}
			candidates = append(candidates, func(voice string) core.Engine {
				return tts.NewCLIEngine(cliCfg, voice, log)
			})
		case config.EngineHTTP:
			httpCfg := tts.HTTPConfig{
				BaseURL:        cfg.HTTP.BaseURL,
				RequestTimeout: cfg.HTTP.RequestTimeout(),
				Retry:          policyOf(cfg.HTTP.Retry),
				Voices:         cfg.HTTP.Voices,
			}
			candidates = append(candidates, func(voice string) core.Engine {
				return tts.NewHTTPEngine(httpCfg, voice, log)
			})
		case config.EngineYandex:
			yandexCfg := tts.YandexConfig{
				Endpoint: cfg.Yandex.Endpoint,
				APIKey:   cfg.Yandex.APIKey,
				FolderID: cfg.Yandex.FolderID,
				Model:    cfg.Yandex.Model,
				Speed:    cfg.Yandex.Speed,
				Retry:    policyOf(cfg.Yandex.Retry),
				Voices:   cfg.Yandex.Voices,
			}
			if !yandexCfg.Configured() {
				log.Info("Yandex SpeechKit skipped: credentials not configured")

				continue
			}

			client, dialErr := tts.NewYandexClient(yandexCfg)
			if dialErr != nil {
				log.Warn("Yandex SpeechKit skipped: %v", dialErr)

				continue
			}

			closers = append(closers, client.Close)
			candidates = append(candidates, func(voice string) core.Engine {
				return tts.NewYandexEngine(client, voice, log)
			})
		}
	}

	if cfg.EnableFallbackTone {
		log.Warn("Fallback tone engine enabled: unavailable voices will produce placeholder audio")

		candidates = append(candidates, func(voice string) core.Engine {
			return tts.NewToneEngine(voice, log)
		})
	}

	factory := tts.NewFactory(tts.FactoryConfig{
		DefaultVoice: service.DefaultVoice,
		ProbeTimeout: cfg.ProbeTimeout(),
		ProbeRetry:   policyOf(cfg.ProbeRetry),
	}, candidates, tts.NewPool(cfg.PoolSize), log)

	return factory, func() {
		for _, closeFn := range closers {
			_ = closeFn()
		}
	}
}
