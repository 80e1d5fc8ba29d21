package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/logger"
)

const (
	defaultFFmpegBinary  = "ffmpeg"
	defaultFFprobeBinary = "ffprobe"
	concatListName       = "concat_list.txt"
	dirPermissions       = 0o755
)

var errNoInputs = errors.New("no input files")

// Assembler implements core.AudioAssembler on top of native WAV handling with
// ffmpeg for everything else.
type Assembler struct {
	ffmpegPath  string
	ffprobePath string
	log         *logger.Logger
}

// NewAssembler creates an assembler. Empty binary paths resolve ffmpeg and
// ffprobe from PATH.
func NewAssembler(ffmpegPath, ffprobePath string, log *logger.Logger) *Assembler {
	if ffmpegPath == "" {
		ffmpegPath = defaultFFmpegBinary
	}

	if ffprobePath == "" {
		ffprobePath = defaultFFprobeBinary
	}

	return &Assembler{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, log: log}
}

// Concatenate joins inputs, in order, into output encoded as format. A
// sampleRate of zero keeps the rate of the inputs.
func (a *Assembler) Concatenate(
	ctx context.Context,
	inputs []string,
	output string,
	format string,
	sampleRate int,
) error {
	if len(inputs) == 0 {
		return fmt.Errorf("%w: %w", core.ErrAssemblyFailed, errNoInputs)
	}

	target, formatErr := ParseFormat(format)
	if formatErr != nil {
		return fmt.Errorf("%w: %w", core.ErrAssemblyFailed, formatErr)
	}

	for _, input := range inputs {
		stat, statErr := os.Stat(input)
		if statErr != nil {
			return fmt.Errorf("%w: %w", core.ErrAssemblyFailed, statErr)
		}

		if stat.Size() == 0 {
			return fmt.Errorf("%w: input %s is empty", core.ErrAssemblyFailed, input)
		}
	}

	mkdirErr := os.MkdirAll(filepath.Dir(output), dirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf("%w: %w", core.ErrAssemblyFailed, mkdirErr)
	}

	var joinErr error
	if infos, ok := spliceable(inputs, target, sampleRate); ok {
		joinErr = spliceWAV(infos, inputs, output)
	} else {
		joinErr = a.ffmpegConcat(ctx, inputs, output, target, sampleRate)
	}

	if joinErr != nil {
		_ = os.Remove(output)

		return fmt.Errorf("%w: %w", core.ErrAssemblyFailed, joinErr)
	}

	stat, statErr := os.Stat(output)
	if statErr != nil {
		return fmt.Errorf("%w: %w", core.ErrAssemblyFailed, statErr)
	}

	if stat.Size() == 0 {
		return fmt.Errorf("%w: output %s is empty", core.ErrAssemblyFailed, output)
	}

	return nil
}

// spliceable reports whether inputs can be joined by copying PCM data.
func spliceable(inputs []string, target Format, sampleRate int) ([]WAVInfo, bool) {
	if target != FormatWAV {
		return nil, false
	}

	infos := make([]WAVInfo, 0, len(inputs))

	for _, input := range inputs {
		info, wavErr := ReadWAVInfo(input)
		if wavErr != nil || info.AudioFormat != pcmAudioFormat {
			return nil, false
		}

		if len(infos) > 0 && info.PCMLayout != infos[0].PCMLayout {
			return nil, false
		}

		infos = append(infos, info)
	}

	if sampleRate > 0 && uint32(sampleRate) != infos[0].SampleRate {
		return nil, false
	}

	return infos, true
}

func (a *Assembler) ffmpegConcat(
	ctx context.Context,
	inputs []string,
	output string,
	target Format,
	sampleRate int,
) error {
	listPath := filepath.Join(filepath.Dir(output), concatListName)

	listErr := writeConcatList(listPath, inputs)
	if listErr != nil {
		return listErr
	}

	defer func() {
		removeErr := os.Remove(listPath)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			a.log.Warn("Failed to remove concat list %s: %v", listPath, removeErr)
		}
	}()

	args := []string{"-y", "-f", "concat", "-safe", "0", "-i", listPath, "-vn"}
	if sampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(sampleRate))
	}

	args = append(args, codecArgs(target)...)
	args = append(args, output)

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, a.ffmpegPath, args...)
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		a.log.Error("ffmpeg concat failed: %s", strings.TrimSpace(stderr.String()))

		return fmt.Errorf("ffmpeg concat: %w", runErr)
	}

	return nil
}

func writeConcatList(listPath string, inputs []string) error {
	var list strings.Builder

	for _, input := range inputs {
		absolute, absErr := filepath.Abs(input)
		if absErr != nil {
			return fmt.Errorf("resolve %s: %w", input, absErr)
		}

		list.WriteString("file '")
		list.WriteString(strings.ReplaceAll(absolute, "'", `'\''`))
		list.WriteString("'\n")
	}

	writeErr := os.WriteFile(listPath, []byte(list.String()), 0o600)
	if writeErr != nil {
		return fmt.Errorf("write concat list: %w", writeErr)
	}

	return nil
}
