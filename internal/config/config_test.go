package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/audiobook-tts/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[service]
default_voice = "male"
max_chunk_length = 150
max_job_duration_seconds = 600

[engines]
order = ["http", "cli"]
enable_fallback_tone = true
pool_size = 4

[engines.cli]
binary = "/opt/viettts/bin/viettts"
model_dir = "/opt/viettts/models"

[engines.cli.voices]
female = "nu-nhe-nhang"
male = "nam-truyen-cam"

[engines.http]
base_url = "http://tts.internal:8298"
request_timeout_seconds = 30

[engines.http.retry]
attempts = 5
base_delay_ms = 250

[engines.yandex]
api_key = "from-file"
folder_id = "folder-file"

[audio]
default_format = "wav"
default_sample_rate = 24000

[storage]
database_path = "/var/lib/tts/tts.db"
local_dir = "/var/lib/tts/storage"

[nats]
url = "nats://127.0.0.1:4222"
audio_object_store_bucket = "AUDIO_FILES"

[http]
listen_addr = ":9090"

[paths]
base_logs_dir = "/var/log/tts"
`

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "male", cfg.Service.DefaultVoice)
	assert.Equal(t, 150, cfg.Service.MaxChunkLength)
	assert.Equal(t, 10*time.Minute, cfg.Service.MaxJobDuration())
	assert.Equal(t, []string{"http", "cli"}, cfg.Engines.Order)
	assert.True(t, cfg.Engines.EnableFallbackTone)
	assert.Equal(t, 4, cfg.Engines.PoolSize)
	assert.Equal(t, "nam-truyen-cam", cfg.Engines.CLI.Voices["male"])
	assert.Equal(t, 30*time.Second, cfg.Engines.HTTP.RequestTimeout())
	assert.Equal(t, 5, cfg.Engines.HTTP.Retry.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Engines.HTTP.Retry.BaseDelay())
	assert.Equal(t, "wav", cfg.Audio.DefaultFormat)
	assert.Equal(t, 24000, cfg.Audio.DefaultSampleRate)
	assert.Equal(t, "AUDIO_FILES", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, ":9090", cfg.HTTP.ListenAddr)
	assert.Equal(t, "/var/log/tts", cfg.Paths.BaseLogsDir)

	// Defaults fill what the file leaves out.
	assert.Equal(t, "tts.synthesis.requested", cfg.NATS.RequestSubject)
	assert.Equal(t, "tts.synthesis.status", cfg.NATS.StatusSubject)
	assert.Equal(t, 10*time.Second, cfg.Engines.ProbeTimeout())
	assert.Equal(t, 20*time.Minute, cfg.Cleanup.MaxAge())
	assert.Equal(t, 10*time.Minute, cfg.Cleanup.Interval())
	assert.Equal(t, "tts.api.cloud.yandex.net:443", cfg.Engines.Yandex.Endpoint)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "female", cfg.Service.DefaultVoice)
	assert.Equal(t, 200, cfg.Service.MaxChunkLength)
	assert.Equal(t, 30*time.Minute, cfg.Service.MaxJobDuration())
	assert.Equal(t, []string{"cli", "http", "yandex"}, cfg.Engines.Order)
	assert.False(t, cfg.Engines.EnableFallbackTone)
	assert.Equal(t, 2, cfg.Engines.PoolSize)
	assert.Equal(t, "mp3", cfg.Audio.DefaultFormat)
	assert.Equal(t, 22050, cfg.Audio.DefaultSampleRate)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, 60*time.Second, cfg.HTTP.RequestTimeout())
}

func TestParse_EnvironmentOverridesSecrets(t *testing.T) {
	t.Setenv(config.EnvYandexAPIKey, "from-env")
	t.Setenv(config.EnvYandexFolderID, "folder-env")

	cfg, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Engines.Yandex.APIKey)
	assert.Equal(t, "folder-env", cfg.Engines.Yandex.FolderID)
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		`[audio]
default_format = "aiff"`,
		`[audio]
default_sample_rate = -5`,
		`[engines]
order = ["cli", "festival"]`,
		`[service]
max_job_duration_seconds = 600
[cleanup]
max_age_seconds = 60`,
		`[service
broken`,
	}

	for _, data := range tests {
		_, err := config.Parse([]byte(data))
		require.Error(t, err, data)
	}

	_, err := config.Parse([]byte(tests[0]))
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tts.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "male", cfg.Service.DefaultVoice)

	_, err = config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
