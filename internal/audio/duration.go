package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always decodes to 16-bit stereo.
const mp3BytesPerFrame = 4

var errEmptyProbe = errors.New("empty duration response")

// Duration returns the length in seconds of the clip at path. WAV is measured
// from its header and MP3 by decoding; anything else, or a file the native
// readers reject, is measured with ffprobe.
func (a *Assembler) Duration(ctx context.Context, path string) (float64, error) {
	format, _ := FormatOf(path)

	switch format {
	case FormatWAV:
		info, wavErr := ReadWAVInfo(path)
		if wavErr == nil {
			return info.Duration(), nil
		}

		a.log.Warn("Could not read WAV header of %s, probing instead: %v", path, wavErr)
	case FormatMP3:
		seconds, mp3Err := mp3Duration(path)
		if mp3Err == nil {
			return seconds, nil
		}

		a.log.Warn("Could not decode MP3 %s, probing instead: %v", path, mp3Err)
	}

	return a.probeDuration(ctx, path)
}

func mp3Duration(path string) (float64, error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		return 0, fmt.Errorf("open %s: %w", path, openErr)
	}
	defer file.Close()

	decoder, decodeErr := mp3.NewDecoder(file)
	if decodeErr != nil {
		return 0, fmt.Errorf("decode %s: %w", path, decodeErr)
	}

	if decoder.SampleRate() <= 0 || decoder.Length() < 0 {
		return 0, fmt.Errorf("decode %s: unknown length", path)
	}

	return float64(decoder.Length()) / mp3BytesPerFrame / float64(decoder.SampleRate()), nil
}

func (a *Assembler) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx,
		a.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	out, runErr := cmd.Output()
	if runErr != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, runErr)
	}

	value := strings.TrimSpace(string(out))
	if value == "" || value == "N/A" {
		return 0, fmt.Errorf("ffprobe %s: %w", path, errEmptyProbe)
	}

	seconds, parseErr := strconv.ParseFloat(value, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("invalid duration from ffprobe: %w", parseErr)
	}

	if seconds <= 0 {
		return 0, fmt.Errorf("ffprobe %s: %w", path, errEmptyProbe)
	}

	return seconds, nil
}
