// Package audio measures, writes and concatenates the clips produced by the
// speech engines.
package audio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Defaults for generated audio.
const (
	DefaultSampleRate = 22050
	DefaultFormat     = FormatMP3
	MaxSampleRate     = 192000
)

// Error formats for validation failures.
const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtFormat          = "%w: format %q is not one of %s"
)

// ErrInvalidAudioSpec reports an unsupported output format or sample rate.
var ErrInvalidAudioSpec = errors.New("invalid audio settings")

// Format is a container format of an output file.
type Format string

// Supported output formats.
const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatOGG  Format = "ogg"
	FormatM4A  Format = "m4a"
	FormatAAC  Format = "aac"
)

var supportedFormats = []Format{FormatWAV, FormatMP3, FormatOGG, FormatFLAC, FormatM4A, FormatAAC}

// SupportedFormats lists the output formats in a stable order.
func SupportedFormats() []string {
	names := make([]string, 0, len(supportedFormats))
	for _, format := range supportedFormats {
		names = append(names, string(format))
	}

	return names
}

// ParseFormat returns the format named by value, ignoring case and a leading dot.
func ParseFormat(value string) (Format, error) {
	candidate := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), ".")))

	for _, format := range supportedFormats {
		if candidate == format {
			return format, nil
		}
	}

	return "", fmt.Errorf(errFmtFormat, ErrInvalidAudioSpec, value, strings.Join(SupportedFormats(), ", "))
}

// FormatOf returns the format implied by the extension of path.
func FormatOf(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// ValidateSampleRate checks that rate is a usable output sample rate.
func ValidateSampleRate(rate int) error {
	if rate <= 0 || rate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidAudioSpec, MaxSampleRate, rate)
	}

	return nil
}

// ContentType returns the MIME type served for files of format f.
func (f Format) ContentType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	case FormatOGG:
		return "audio/ogg"
	case FormatM4A, FormatAAC:
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// codecArgs are the ffmpeg encoder arguments for a format.
func codecArgs(format Format) []string {
	switch format {
	case FormatWAV:
		return []string{"-c:a", "pcm_s16le"}
	case FormatMP3:
		return []string{"-c:a", "libmp3lame", "-b:a", "192k"}
	case FormatOGG:
		return []string{"-c:a", "libvorbis", "-q:a", "5"}
	case FormatFLAC:
		return []string{"-c:a", "flac"}
	case FormatM4A, FormatAAC:
		return []string{"-c:a", "aac", "-b:a", "192k"}
	default:
		return nil
	}
}
