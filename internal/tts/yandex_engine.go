package tts

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/book-expert/audiobook-tts/internal/retry"
	"github.com/book-expert/logger"
	ttsv3 "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	yandexEngineName = "YandexSpeechKit"
	// YandexEndpoint is the public SpeechKit gRPC endpoint.
	YandexEndpoint = "tts.api.cloud.yandex.net:443"
)

var errYandexNotConfigured = errors.New("yandex speechkit requires an api key and a folder id")

// YandexConfig configures the SpeechKit engine.
type YandexConfig struct {
	Endpoint string
	APIKey   string
	FolderID string
	Model    string
	Speed    float64
	Retry    retry.Policy
	// Voices maps service voices to SpeechKit voice names.
	Voices map[string]string
}

// Configured reports whether credentials are present.
func (c YandexConfig) Configured() bool {
	return c.APIKey != "" && c.FolderID != ""
}

func defaultYandexVoices() map[string]string {
	return map[string]string{VoiceFemale: "marina", VoiceMale: "filipp"}
}

// YandexClient owns the gRPC connection shared by every SpeechKit engine.
type YandexClient struct {
	client ttsv3.SynthesizerClient
	conn   *grpc.ClientConn
	cfg    YandexConfig
}

// NewYandexClient dials SpeechKit.
func NewYandexClient(cfg YandexConfig) (*YandexClient, error) {
	if !cfg.Configured() {
		return nil, errYandexNotConfigured
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = YandexEndpoint
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})

	conn, err := grpc.Dial(endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TTS service: %w", err)
	}

	return &YandexClient{client: ttsv3.NewSynthesizerClient(conn), conn: conn, cfg: cfg}, nil
}

// NewYandexClientWith wraps an existing synthesizer client, for example one
// dialled to a local test server.
func NewYandexClientWith(client ttsv3.SynthesizerClient, cfg YandexConfig) *YandexClient {
	return &YandexClient{client: client, cfg: cfg}
}

// Close releases the connection.
func (c *YandexClient) Close() error {
	if c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// YandexEngine synthesizes speech in one voice through SpeechKit.
type YandexEngine struct {
	client *YandexClient
	voice  string
	voices map[string]string
	policy retry.Policy
	log    *logger.Logger
}

// NewYandexEngine creates a SpeechKit engine speaking voice.
func NewYandexEngine(client *YandexClient, voice string, log *logger.Logger) *YandexEngine {
	voices := client.cfg.Voices
	if len(voices) == 0 {
		voices = defaultYandexVoices()
	}

	policy := client.cfg.Retry
	policy.Retryable = isRetryableGRPCError
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn(logFmtRetry, yandexEngineName, attempt, delay, err)
	}

	return &YandexEngine{client: client, voice: voice, voices: voices, policy: policy, log: log}
}

// Name returns the engine identity.
func (e *YandexEngine) Name() string { return yandexEngineName }

// SupportedVoices lists the service voices the engine maps.
func (e *YandexEngine) SupportedVoices() []string { return sortedVoices(e.voices) }

// SupportedFormats lists the clip formats requested from SpeechKit.
func (e *YandexEngine) SupportedFormats() []string { return []string{"wav"} }

// IsAvailable reports whether credentials are configured.
func (e *YandexEngine) IsAvailable(_ context.Context) bool {
	return e.client.cfg.Configured()
}

// Synthesize streams one utterance into dest.
func (e *YandexEngine) Synthesize(ctx context.Context, text, dest string) error {
	inputErr := validateSynthesisInput(text, dest)
	if inputErr != nil {
		return inputErr
	}

	voice, ok := e.voices[e.voice]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedVoice, e.voice)
	}

	request := e.buildRequest(text, voice)

	return writeClip(dest, func(part string) error {
		return retry.Do(ctx, e.policy, func(ctx context.Context) error {
			return e.streamTo(ctx, request, part)
		})
	})
}

func (e *YandexEngine) streamTo(ctx context.Context, request *ttsv3.UtteranceSynthesisRequest, part string) error {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Api-Key "+e.client.cfg.APIKey)
	ctx = metadata.AppendToOutgoingContext(ctx, "x-folder-id", e.client.cfg.FolderID)

	stream, err := e.client.client.UtteranceSynthesis(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to start synthesis: %w", err)
	}

	file, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePermissions)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create audio file: %w", err))
	}
	defer file.Close()

	for {
		resp, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}

		if recvErr != nil {
			return fmt.Errorf("failed to receive audio data: %w", recvErr)
		}

		if audioChunk := resp.GetAudioChunk(); audioChunk != nil {
			_, writeErr := file.Write(audioChunk.GetData())
			if writeErr != nil {
				return retry.Permanent(fmt.Errorf("failed to write audio data: %w", writeErr))
			}
		}
	}

	return file.Sync()
}

func (e *YandexEngine) buildRequest(text, voice string) *ttsv3.UtteranceSynthesisRequest {
	req := &ttsv3.UtteranceSynthesisRequest{}

	if e.client.cfg.Model != "" {
		req.SetModel(e.client.cfg.Model)
	}

	req.SetText(text)

	voiceHint := &ttsv3.Hints{}
	voiceHint.SetVoice(voice)

	hints := []*ttsv3.Hints{voiceHint}

	if e.client.cfg.Speed > 0 {
		speedHint := &ttsv3.Hints{}
		speedHint.SetSpeed(e.client.cfg.Speed)
		hints = append(hints, speedHint)
	}

	req.SetHints(hints)

	containerAudio := &ttsv3.ContainerAudio{}
	containerAudio.SetContainerAudioType(ttsv3.ContainerAudio_WAV)

	audioSpec := &ttsv3.AudioFormatOptions{}
	audioSpec.SetContainerAudio(containerAudio)
	req.SetOutputAudioSpec(audioSpec)
	req.SetLoudnessNormalizationType(ttsv3.UtteranceSynthesisRequest_LUFS)

	return req
}

// isRetryableGRPCError retries the status codes that signal a transient
// condition on the server side.
func isRetryableGRPCError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	grpcStatus, ok := status.FromError(err)
	if !ok {
		return true
	}

	switch grpcStatus.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}
