package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/book-expert/audiobook-tts/internal/audio"
	"github.com/book-expert/logger"
)

const (
	toneEngineName     = "FallbackTone"
	toneSampleRate     = 24000
	toneAmplitude      = 16000
	toneMaxSeconds     = 5.0
	toneSecondsPerRune = 0.1
	toneFemaleHz       = 280
	toneMaleHz         = 140
)

// ToneEngine writes a deterministic sine tone in place of speech.
type ToneEngine struct {
	voice string
	log   *logger.Logger
}

// NewToneEngine creates a tone engine for voice.
func NewToneEngine(voice string, log *logger.Logger) *ToneEngine {
	return &ToneEngine{voice: voice, log: log}
}

// Name returns the engine identity.
func (e *ToneEngine) Name() string { return toneEngineName }

// ComputeBound marks the engine as running on the local machine.
func (e *ToneEngine) ComputeBound() bool { return true }

// SupportedVoices lists the voices with a tone frequency.
func (e *ToneEngine) SupportedVoices() []string { return []string{VoiceFemale, VoiceMale} }

// SupportedFormats lists the clip formats the engine writes.
func (e *ToneEngine) SupportedFormats() []string { return []string{"wav"} }

// IsAvailable always succeeds.
func (e *ToneEngine) IsAvailable(_ context.Context) bool { return true }

// Synthesize writes min(5s, 0.1s per character) of tone to dest.
func (e *ToneEngine) Synthesize(ctx context.Context, text, dest string) error {
	inputErr := validateSynthesisInput(text, dest)
	if inputErr != nil {
		return inputErr
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	seconds := math.Min(toneMaxSeconds, toneSecondsPerRune*float64(utf8.RuneCountInString(text)))
	frequency := float64(toneFemaleHz)

	if e.voice == VoiceMale {
		frequency = toneMaleHz
	}

	frames := int(seconds * toneSampleRate)
	samples := make([]byte, frames*2)

	for i := range frames {
		value := toneAmplitude * math.Sin(2*math.Pi*frequency*float64(i)/toneSampleRate)
		binary.LittleEndian.PutUint16(samples[i*2:], uint16(int16(value)))
	}

	var clip bytes.Buffer

	wavErr := audio.WriteWAV(&clip, audio.NewPCMLayout(toneSampleRate, 1, 16), samples)
	if wavErr != nil {
		return fmt.Errorf("failed to encode tone: %w", wavErr)
	}

	e.log.Warn("%s: wrote %.1fs placeholder tone to %s", toneEngineName, seconds, dest)

	return writeClipBytes(dest, clip.Bytes())
}
