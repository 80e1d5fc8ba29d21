// Package tts implements the speech synthesis engines, the selection policy
// choosing between them and the pool bounding compute-bound synthesis.
package tts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/book-expert/audiobook-tts/internal/tts/ttsutils"
)

// Voices understood by every engine.
const (
	VoiceFemale = "female"
	VoiceMale   = "male"
)

const (
	filePermissions = 0o600
	partSuffix      = ".part"
)

// Static errors.
var (
	ErrTextEmpty        = errors.New("text cannot be empty")
	ErrOutputPathEmpty  = errors.New("output path cannot be empty")
	ErrEmptyAudio       = errors.New("engine produced no audio")
	ErrUnsupportedVoice = errors.New("unsupported voice")
)

// ComputeBound is implemented by engines that run synthesis on the local
// machine. Such engines are gated by a Pool; the others are network clients.
type ComputeBound interface {
	ComputeBound() bool
}

// IsComputeBound reports whether engine runs synthesis locally.
func IsComputeBound(engine any) bool {
	bound, ok := engine.(ComputeBound)

	return ok && bound.ComputeBound()
}

// DefaultVoiceMap maps the service voices to themselves.
func DefaultVoiceMap() map[string]string {
	return map[string]string{VoiceFemale: VoiceFemale, VoiceMale: VoiceMale}
}

func sortedVoices(voiceMap map[string]string) []string {
	voices := make([]string, 0, len(voiceMap))
	for voice := range voiceMap {
		voices = append(voices, voice)
	}

	slices.Sort(voices)

	return voices
}

func validateSynthesisInput(text, dest string) error {
	if strings.TrimSpace(text) == "" {
		return ErrTextEmpty
	}

	if dest == "" {
		return ErrOutputPathEmpty
	}

	return nil
}

// partPath is the staging path of dest. The extension is kept so that tools
// inferring the format from the name still work.
func partPath(dest string) string {
	ext := filepath.Ext(dest)

	return strings.TrimSuffix(dest, ext) + partSuffix + ext
}

// writeClip stages a clip through its part path: produce writes the part file
// and on success it is renamed to dest. A missing or empty part file is an
// error, and the part file never survives a failure.
func writeClip(dest string, produce func(part string) error) error {
	dirErr := ttsutils.EnsureDir(filepath.Dir(dest))
	if dirErr != nil {
		return dirErr
	}

	part := partPath(dest)

	produceErr := produce(part)
	if produceErr != nil {
		_ = os.Remove(part)

		return produceErr
	}

	stat, statErr := os.Stat(part)
	if statErr != nil || stat.Size() == 0 {
		_ = os.Remove(part)

		return fmt.Errorf("%w: %s", ErrEmptyAudio, dest)
	}

	renameErr := os.Rename(part, dest)
	if renameErr != nil {
		_ = os.Remove(part)

		return fmt.Errorf("failed to move clip into place: %w", renameErr)
	}

	return nil
}

// writeClipBytes writes data to dest through its part path.
func writeClipBytes(dest string, data []byte) error {
	return writeClip(dest, func(part string) error {
		writeErr := os.WriteFile(part, data, filePermissions)
		if writeErr != nil {
			return fmt.Errorf("failed to write audio file: %w", writeErr)
		}

		return nil
	})
}
