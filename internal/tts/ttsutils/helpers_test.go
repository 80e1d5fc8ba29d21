package ttsutils_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/audiobook-tts/internal/tts/ttsutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelsDir_WithOverride(t *testing.T) {
	t.Setenv(ttsutils.EnvModelsDir, "/custom/models")

	assert.Equal(t, "/custom/models", ttsutils.ModelsDir())
}

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	testPath := filepath.Join(t.TempDir(), "new", "dir")

	require.NoError(t, ttsutils.EnsureDir(testPath))
	require.NoError(t, ttsutils.EnsureDir(testPath))

	stat, err := os.Stat(testPath)
	require.NoError(t, err)
	assert.True(t, stat.IsDir())
}

func TestGetModelPath_Absolute(t *testing.T) {
	t.Parallel()

	modelDir := filepath.Join(t.TempDir(), "infore_female")
	require.NoError(t, os.MkdirAll(modelDir, 0o750))

	resolved, err := ttsutils.GetModelPath(modelDir)
	require.NoError(t, err)
	assert.Equal(t, modelDir, resolved)
}

func TestGetModelPath_InModelsDir(t *testing.T) {
	modelsDir := t.TempDir()
	t.Setenv(ttsutils.EnvModelsDir, modelsDir)

	require.NoError(t, os.MkdirAll(filepath.Join(modelsDir, "viet-model"), 0o750))

	resolved, err := ttsutils.GetModelPath("viet-model")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(modelsDir, "viet-model"), resolved)
}

func TestGetModelPath_NotFound(t *testing.T) {
	t.Parallel()

	_, err := ttsutils.GetModelPath(filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, ttsutils.ErrModelNotFound)
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		seconds  float64
		expected string
	}{
		{0, "0.0s"},
		{45.25, "45.2s"},
		{330.5, "5m 30.5s"},
		{4500, "1h 15m"},
	}

	for _, testCase := range tests {
		assert.Equal(t, testCase.expected, ttsutils.FormatDuration(testCase.seconds))
	}
}

func TestFormatFileSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "512 B", ttsutils.FormatFileSize(512))
	assert.Equal(t, "1.5 KB", ttsutils.FormatFileSize(1536))
	assert.Equal(t, "2.0 MB", ttsutils.FormatFileSize(2*1024*1024))
	assert.Equal(t, "1.0 GB", ttsutils.FormatFileSize(1024*1024*1024))
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a_b_c_d", ttsutils.SanitizeFilename("a/b:c*d"))
	assert.Equal(t, "__etc_passwd", ttsutils.SanitizeFilename("../etc/passwd"))
	assert.Equal(t, "job-123", ttsutils.SanitizeFilename("job-123"))
}
