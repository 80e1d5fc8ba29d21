// Package ttsutils holds the path and formatting helpers shared by the engines,
// the scratch handling of the pipeline and the command-line client.
package ttsutils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvModelsDir overrides the directory searched for engine models.
const EnvModelsDir = "TTS_MODELS_DIR"

const (
	appName                = "audiobook-tts"
	modelsDirName          = "models"
	dotCache               = ".cache"
	defaultDirPermissions  = 0o750
	invalidCharReplacement = "_"
)

const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

const (
	errFmtFailedToCreateDir           = "failed to create directory %s: %w"
	errFmtCouldNotResolveAbsolutePath = "could not resolve absolute path for %q: %w"
	errFmtErrorCheckingModelPath      = "error checking model path %q: %w"
	errFmtModelNotFound               = "%w: %s"
)

// ErrModelNotFound is returned when a model cannot be located.
var ErrModelNotFound = errors.New("model not found")

// ModelsDir returns the directory searched last for models: $TTS_MODELS_DIR
// when set, otherwise ~/.cache/audiobook-tts/models.
func ModelsDir() string {
	if dir := os.Getenv(EnvModelsDir); dir != "" {
		return dir
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName, modelsDirName)
	}

	return filepath.Join(homeDir, dotCache, appName, modelsDirName)
}

// EnsureDir creates path and its parents when missing.
func EnsureDir(path string) error {
	mkdirErr := os.MkdirAll(path, defaultDirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
	}

	return nil
}

// resolveSinglePath returns the absolute form of path when it exists.
func resolveSinglePath(path string) (resolvedPath string, found bool, err error) {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		return "", false, nil
	}

	if statErr != nil {
		return "", false, fmt.Errorf(errFmtErrorCheckingModelPath, path, statErr)
	}

	absPath, absErr := filepath.Abs(path)
	if absErr != nil {
		return "", false, fmt.Errorf(errFmtCouldNotResolveAbsolutePath, path, absErr)
	}

	return absPath, true, nil
}

// GetModelPath resolves a model file or directory, trying modelName as given,
// then under ./models, then under ModelsDir.
func GetModelPath(modelName string) (string, error) {
	candidatePaths := []string{modelName}

	if !filepath.IsAbs(modelName) {
		candidatePaths = append(candidatePaths,
			filepath.Join(modelsDirName, modelName),
			filepath.Join(ModelsDir(), modelName),
		)
	}

	for _, path := range candidatePaths {
		resolvedPath, found, err := resolveSinglePath(path)
		if err != nil {
			return "", err
		}

		if found {
			return resolvedPath, nil
		}
	}

	return "", fmt.Errorf(errFmtModelNotFound, ErrModelNotFound, modelName)
}

// FormatDuration renders seconds as "45.2s", "5m 30.5s" or "1h 15m".
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, seconds-float64(minutes*secondsInMinute))
	}

	hours := int(seconds / secondsInHour)
	remainingMinutes := int((seconds - float64(hours*secondsInHour)) / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize renders a byte count as "1.2 GB", "500.5 MB" and so on.
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

var filenameReplacer = strings.NewReplacer(
	"<", invalidCharReplacement,
	">", invalidCharReplacement,
	":", invalidCharReplacement,
	"\"", invalidCharReplacement,
	"/", invalidCharReplacement,
	"\\", invalidCharReplacement,
	"|", invalidCharReplacement,
	"?", invalidCharReplacement,
	"*", invalidCharReplacement,
	"..", invalidCharReplacement,
)

// SanitizeFilename replaces characters that are invalid in file names, and
// parent references, so that the result names a single path element.
func SanitizeFilename(filename string) string {
	return filenameReplacer.Replace(filename)
}
