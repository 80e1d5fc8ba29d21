package tts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/book-expert/audiobook-tts/internal/tts/ttsutils"
	"github.com/book-expert/logger"
)

const (
	cliEngineName      = "VietTTS"
	defaultCLIBinary   = "viettts"
	cliOutputLimit     = 512
	logFmtCLISynthesis = "VietTTS: synthesizing %d characters with voice %s into %s"
)

// CLIConfig configures the VietTTS command-line engine.
type CLIConfig struct {
	// Binary is the viettts executable; bare names resolve through PATH.
	Binary string
	// ModelDir must exist when set.
	ModelDir string
	// Voices maps service voices to the voice identifiers of the binary.
	Voices map[string]string
}

// CLIEngine synthesizes speech in one voice by running the VietTTS binary once
// per clip.
type CLIEngine struct {
	binary   string
	modelDir string
	voice    string
	voices   map[string]string
	log      *logger.Logger
}

// NewCLIEngine creates a CLI engine speaking voice.
func NewCLIEngine(cfg CLIConfig, voice string, log *logger.Logger) *CLIEngine {
	binary := cfg.Binary
	if binary == "" {
		binary = defaultCLIBinary
	}

	voices := cfg.Voices
	if len(voices) == 0 {
		voices = DefaultVoiceMap()
	}

	return &CLIEngine{binary: binary, modelDir: cfg.ModelDir, voice: voice, voices: voices, log: log}
}

// Name returns the engine identity.
func (e *CLIEngine) Name() string { return cliEngineName }

// ComputeBound marks the engine as running on the local machine.
func (e *CLIEngine) ComputeBound() bool { return true }

// SupportedVoices lists the service voices the engine maps.
func (e *CLIEngine) SupportedVoices() []string { return sortedVoices(e.voices) }

// SupportedFormats lists the clip formats the binary writes.
func (e *CLIEngine) SupportedFormats() []string { return []string{"wav", "mp3"} }

// IsAvailable reports whether the binary resolves and the model directory, if
// configured, exists.
func (e *CLIEngine) IsAvailable(_ context.Context) bool {
	_, lookErr := exec.LookPath(e.binary)
	if lookErr != nil {
		e.log.Warn("VietTTS binary %s not found: %v", e.binary, lookErr)

		return false
	}

	if e.modelDir == "" {
		return true
	}

	modelPath, modelErr := ttsutils.GetModelPath(e.modelDir)
	if modelErr != nil {
		e.log.Warn("VietTTS model directory unavailable: %v", modelErr)

		return false
	}

	stat, statErr := os.Stat(modelPath)

	return statErr == nil && stat.IsDir()
}

// Synthesize runs the binary for one clip.
func (e *CLIEngine) Synthesize(ctx context.Context, text, dest string) error {
	inputErr := validateSynthesisInput(text, dest)
	if inputErr != nil {
		return inputErr
	}

	voice, ok := e.voices[e.voice]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedVoice, e.voice)
	}

	e.log.Info(logFmtCLISynthesis, len([]rune(text)), voice, dest)

	return writeClip(dest, func(part string) error {
		// #nosec G204 -- the binary comes from configuration and the text is a single argument
		cmd := exec.CommandContext(ctx, e.binary,
			"synthesis",
			"--text", text,
			"--voice", voice,
			"--output", part,
		)

		output, runErr := cmd.CombinedOutput()
		if runErr != nil {
			return fmt.Errorf("viettts binary execution failed: %w - output: %s", runErr, truncate(string(output)))
		}

		return nil
	})
}

func truncate(output string) string {
	output = strings.TrimSpace(output)

	runes := []rune(output)
	if len(runes) <= cliOutputLimit {
		return output
	}

	return string(runes[len(runes)-cliOutputLimit:])
}
