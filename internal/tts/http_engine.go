package tts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/audiobook-tts/internal/retry"
	"github.com/book-expert/logger"
)

const (
	httpEngineName        = "VietTTS-HTTP"
	defaultRequestTimeout = 60 * time.Second
	logFmtRetry           = "%s: attempt %d failed, retrying in %s: %v"
	logFmtGeneratedAudio  = "%s: generated audio %s (%d bytes)"
)

// HTTPConfig configures the VietTTS HTTP engine.
type HTTPConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	Retry          retry.Policy
	// Voices maps service voices to the voice identifiers of the service.
	Voices map[string]string
}

// HTTPEngine synthesizes speech in one voice through the VietTTS HTTP service.
type HTTPEngine struct {
	client *HTTPClient
	voice  string
	voices map[string]string
	policy retry.Policy
	log    *logger.Logger
}

// NewHTTPEngine creates an HTTP engine speaking voice.
func NewHTTPEngine(cfg HTTPConfig, voice string, log *logger.Logger) *HTTPEngine {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return NewHTTPEngineWithClient(cfg, voice, log, NewHTTPClient(cfg.BaseURL, timeout))
}

// NewHTTPEngineWithClient creates an HTTP engine using a prepared client.
func NewHTTPEngineWithClient(cfg HTTPConfig, voice string, log *logger.Logger, client *HTTPClient) *HTTPEngine {
	voices := cfg.Voices
	if len(voices) == 0 {
		voices = DefaultVoiceMap()
	}

	policy := cfg.Retry
	policy.Retryable = isRetryableHTTPError
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn(logFmtRetry, httpEngineName, attempt, delay, err)
	}

	return &HTTPEngine{client: client, voice: voice, voices: voices, policy: policy, log: log}
}

// Name returns the engine identity.
func (e *HTTPEngine) Name() string { return httpEngineName }

// SupportedVoices lists the service voices the engine maps.
func (e *HTTPEngine) SupportedVoices() []string { return sortedVoices(e.voices) }

// SupportedFormats lists the clip formats the service returns.
func (e *HTTPEngine) SupportedFormats() []string { return []string{"wav", "mp3"} }

// IsAvailable performs one health check.
func (e *HTTPEngine) IsAvailable(ctx context.Context) bool {
	healthErr := e.client.HealthCheck(ctx)
	if healthErr != nil {
		e.log.Warn("%s: service at %s unavailable: %v", httpEngineName, e.client.BaseURL(), healthErr)

		return false
	}

	return true
}

// Synthesize requests one clip, retrying transient failures.
func (e *HTTPEngine) Synthesize(ctx context.Context, text, dest string) error {
	inputErr := validateSynthesisInput(text, dest)
	if inputErr != nil {
		return inputErr
	}

	voice, ok := e.voices[e.voice]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedVoice, e.voice)
	}

	request := SynthesizeRequest{
		Text:         text,
		Voice:        voice,
		OutputFormat: strings.TrimPrefix(filepath.Ext(dest), "."),
	}

	var audioData []byte

	retryErr := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		data, speechErr := e.client.Synthesize(ctx, request)
		if speechErr != nil {
			return speechErr
		}

		audioData = data

		return nil
	})
	if retryErr != nil {
		return fmt.Errorf("failed to generate speech: %w", retryErr)
	}

	writeErr := writeClipBytes(dest, audioData)
	if writeErr != nil {
		return writeErr
	}

	e.log.Info(logFmtGeneratedAudio, httpEngineName, dest, len(audioData))

	return nil
}

// isRetryableHTTPError retries transport failures and transient statuses.
// Client errors other than 408 and 429 are permanent.
func isRetryableHTTPError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrTextEmpty) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}

	return true
}
