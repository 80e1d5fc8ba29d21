// Package config provides the configuration structure for the audiobook TTS service.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/book-expert/audiobook-tts/internal/audio"
	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables read by Load.
const (
	EnvConfigFile     = "TTS_CONFIG_FILE"
	EnvYandexAPIKey   = "YANDEX_API_KEY"
	EnvYandexFolderID = "YANDEX_FOLDER_ID"
)

// Engine names accepted in engines.order.
const (
	EngineCLI    = "cli"
	EngineHTTP   = "http"
	EngineYandex = "yandex"
)

// ErrInvalidConfig reports a configuration that cannot start the service.
var ErrInvalidConfig = errors.New("invalid configuration")

// ServiceConfig holds the pipeline settings.
type ServiceConfig struct {
	DefaultVoice          string `toml:"default_voice"`
	MaxChunkLength        int    `toml:"max_chunk_length"`
	MaxJobDurationSeconds int    `toml:"max_job_duration_seconds"`
	ScratchRoot           string `toml:"scratch_root"`
}

// MaxJobDuration is the deadline of a single run.
func (c ServiceConfig) MaxJobDuration() time.Duration {
	return time.Duration(c.MaxJobDurationSeconds) * time.Second
}

// RetryConfig configures a retry loop.
type RetryConfig struct {
	Attempts    int `toml:"attempts"`
	BaseDelayMS int `toml:"base_delay_ms"`
}

// BaseDelay is the first backoff wait.
func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

// CLIEngineConfig holds the settings of the local model engine.
type CLIEngineConfig struct {
	Binary   string            `toml:"binary"`
	ModelDir string            `toml:"model_dir"`
	Voices   map[string]string `toml:"voices"`
}

// HTTPEngineConfig holds the settings of the HTTP engine.
type HTTPEngineConfig struct {
	BaseURL               string            `toml:"base_url"`
	RequestTimeoutSeconds int               `toml:"request_timeout_seconds"`
	Retry                 RetryConfig       `toml:"retry"`
	Voices                map[string]string `toml:"voices"`
}

// RequestTimeout bounds one synthesis request.
func (c HTTPEngineConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// YandexEngineConfig holds the settings of the SpeechKit engine.
type YandexEngineConfig struct {
	Endpoint string            `toml:"endpoint"`
	APIKey   string            `toml:"api_key"`
	FolderID string            `toml:"folder_id"`
	Model    string            `toml:"model"`
	Speed    float64           `toml:"speed"`
	Retry    RetryConfig       `toml:"retry"`
	Voices   map[string]string `toml:"voices"`
}

// EnginesConfig selects and tunes the speech engines.
type EnginesConfig struct {
	Order               []string           `toml:"order"`
	EnableFallbackTone  bool               `toml:"enable_fallback_tone"`
	ProbeTimeoutSeconds int                `toml:"probe_timeout_seconds"`
	ProbeRetry          RetryConfig        `toml:"probe_retry"`
	PoolSize            int                `toml:"pool_size"`
	CLI                 CLIEngineConfig    `toml:"cli"`
	HTTP                HTTPEngineConfig   `toml:"http"`
	Yandex              YandexEngineConfig `toml:"yandex"`
}

// ProbeTimeout bounds one availability probe.
func (c EnginesConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// AudioConfig holds output defaults and tool paths.
type AudioConfig struct {
	DefaultFormat     string `toml:"default_format"`
	DefaultSampleRate int    `toml:"default_sample_rate"`
	FFmpegPath        string `toml:"ffmpeg_path"`
	FFprobePath       string `toml:"ffprobe_path"`
}

// StorageConfig holds the database and artifact locations.
type StorageConfig struct {
	DatabasePath string      `toml:"database_path"`
	LocalDir     string      `toml:"local_dir"`
	UploadRetry  RetryConfig `toml:"upload_retry"`
}

// NATSConfig holds the configuration for NATS. An empty URL disables NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	RequestSubject         string `toml:"request_subject"`
	StatusSubject          string `toml:"status_subject"`
	QueueGroup             string `toml:"queue_group"`
}

// HTTPConfig holds the API server settings.
type HTTPConfig struct {
	ListenAddr            string `toml:"listen_addr"`
	MaxTextBytes          int64  `toml:"max_text_bytes"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// RequestTimeout bounds one API request.
func (c HTTPConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// CleanupConfig schedules the scratch sweep.
type CleanupConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
	MaxAgeSeconds   int `toml:"max_age_seconds"`
}

// Interval is the time between sweeps.
func (c CleanupConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// MaxAge is the age after which a scratch directory is abandoned.
func (c CleanupConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeSeconds) * time.Second
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Service ServiceConfig `toml:"service"`
	Engines EnginesConfig `toml:"engines"`
	Audio   AudioConfig   `toml:"audio"`
	Storage StorageConfig `toml:"storage"`
	NATS    NATSConfig    `toml:"nats"`
	HTTP    HTTPConfig    `toml:"http"`
	Cleanup CleanupConfig `toml:"cleanup"`
	Paths   PathsConfig   `toml:"paths"`
}

// Load loads the configuration: a .env file first, then the TOML file named by
// TTS_CONFIG_FILE or, when unset, the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	envErr := godotenv.Load()
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		log.Warn("Failed to read .env file: %v", envErr)
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		log.Info("Loading configuration from %s", path)

		return LoadFile(path)
	}

	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return cfg.finish()
}

// LoadFile parses the TOML file at path.
func LoadFile(path string) (*Config, error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read configuration file %s: %w", path, readErr)
	}

	return Parse(data)
}

// Parse decodes TOML data, applies environment overrides and defaults, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return cfg.finish()
}

func (c Config) finish() (*Config, error) {
	c.applyEnv()
	c.applyDefaults()

	validateErr := c.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &c, nil
}

func (c *Config) applyEnv() {
	if key := os.Getenv(EnvYandexAPIKey); key != "" {
		c.Engines.Yandex.APIKey = key
	}

	if folder := os.Getenv(EnvYandexFolderID); folder != "" {
		c.Engines.Yandex.FolderID = folder
	}
}

func (c *Config) applyDefaults() {
	setDefault(&c.Service.DefaultVoice, "female")
	setDefault(&c.Service.MaxChunkLength, 200)
	setDefault(&c.Service.MaxJobDurationSeconds, 1800)
	setDefault(&c.Service.ScratchRoot, os.TempDir())

	if len(c.Engines.Order) == 0 {
		c.Engines.Order = []string{EngineCLI, EngineHTTP, EngineYandex}
	}

	setDefault(&c.Engines.ProbeTimeoutSeconds, 10)
	setDefault(&c.Engines.ProbeRetry.Attempts, 3)
	setDefault(&c.Engines.ProbeRetry.BaseDelayMS, 500)
	setDefault(&c.Engines.PoolSize, 2)
	setDefault(&c.Engines.CLI.Binary, "viettts")
	setDefault(&c.Engines.CLI.ModelDir, "pretrained-models")
	setDefault(&c.Engines.HTTP.BaseURL, "http://127.0.0.1:8298")
	setDefault(&c.Engines.HTTP.RequestTimeoutSeconds, 60)
	setDefault(&c.Engines.HTTP.Retry.Attempts, 3)
	setDefault(&c.Engines.HTTP.Retry.BaseDelayMS, 1000)
	setDefault(&c.Engines.Yandex.Endpoint, "tts.api.cloud.yandex.net:443")
	setDefault(&c.Engines.Yandex.Retry.Attempts, 3)
	setDefault(&c.Engines.Yandex.Retry.BaseDelayMS, 1000)

	setDefault(&c.Audio.DefaultFormat, string(audio.DefaultFormat))
	setDefault(&c.Audio.DefaultSampleRate, audio.DefaultSampleRate)

	setDefault(&c.Storage.DatabasePath, "data/tts.db")
	setDefault(&c.Storage.LocalDir, "storage")
	setDefault(&c.Storage.UploadRetry.Attempts, 3)
	setDefault(&c.Storage.UploadRetry.BaseDelayMS, 500)

	setDefault(&c.NATS.AudioObjectStoreBucket, "TTS_AUDIO")
	setDefault(&c.NATS.RequestSubject, "tts.synthesis.requested")
	setDefault(&c.NATS.StatusSubject, "tts.synthesis.status")
	setDefault(&c.NATS.QueueGroup, "tts-service")

	setDefault(&c.HTTP.ListenAddr, ":8080")
	setDefault(&c.HTTP.MaxTextBytes, 5<<20)
	setDefault(&c.HTTP.RequestTimeoutSeconds, 60)

	setDefault(&c.Cleanup.IntervalSeconds, 600)
	setDefault(&c.Cleanup.MaxAgeSeconds, 2*c.Service.MaxJobDurationSeconds)

	setDefault(&c.Paths.BaseLogsDir, "logs")
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks the values the service cannot start without.
func (c *Config) Validate() error {
	var problems []error

	_, formatErr := audio.ParseFormat(c.Audio.DefaultFormat)
	if formatErr != nil {
		problems = append(problems, formatErr)
	}

	rateErr := audio.ValidateSampleRate(c.Audio.DefaultSampleRate)
	if rateErr != nil {
		problems = append(problems, rateErr)
	}

	for _, name := range c.Engines.Order {
		switch name {
		case EngineCLI, EngineHTTP, EngineYandex:
		default:
			problems = append(problems, fmt.Errorf("unknown engine %q in engines.order", name))
		}
	}

	if c.Service.MaxChunkLength < 0 {
		problems = append(problems, errors.New("service.max_chunk_length must not be negative"))
	}

	if c.Cleanup.MaxAgeSeconds < c.Service.MaxJobDurationSeconds {
		problems = append(problems, errors.New("cleanup.max_age_seconds must not be shorter than the job deadline"))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
	}

	return nil
}
