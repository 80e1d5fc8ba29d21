package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/book-expert/audiobook-tts/internal/audio"
	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssembler(t *testing.T) *audio.Assembler {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return audio.NewAssembler("", "", testLogger)
}

// writeClip writes a mono 16-bit WAV of the given number of frames.
func writeClip(t *testing.T, path string, sampleRate, frames int) {
	t.Helper()

	layout := audio.NewPCMLayout(sampleRate, 1, 16)
	samples := make([]byte, frames*2)

	for i := range frames {
		binary.LittleEndian.PutUint16(samples[i*2:], uint16(i))
	}

	var buffer bytes.Buffer
	require.NoError(t, audio.WriteWAV(&buffer, layout, samples))
	require.NoError(t, os.WriteFile(path, buffer.Bytes(), 0o600))
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	format, err := audio.ParseFormat(".MP3")
	require.NoError(t, err)
	assert.Equal(t, audio.FormatMP3, format)

	_, err = audio.ParseFormat("aiff")
	require.ErrorIs(t, err, audio.ErrInvalidAudioSpec)

	assert.Equal(t, []string{"wav", "mp3", "ogg", "flac", "m4a", "aac"}, audio.SupportedFormats())
	assert.Equal(t, "audio/mpeg", audio.FormatMP3.ContentType())
	assert.Equal(t, "audio/wav", audio.FormatWAV.ContentType())
}

func TestValidateSampleRate(t *testing.T) {
	t.Parallel()

	require.NoError(t, audio.ValidateSampleRate(22050))
	require.ErrorIs(t, audio.ValidateSampleRate(0), audio.ErrInvalidAudioSpec)
	require.ErrorIs(t, audio.ValidateSampleRate(audio.MaxSampleRate+1), audio.ErrInvalidAudioSpec)
}

func TestReadWAVInfo_Duration(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.wav")
	writeClip(t, path, 16000, 8000)

	info, err := audio.ReadWAVInfo(path)
	require.NoError(t, err)

	assert.Equal(t, uint16(1), info.Channels)
	assert.Equal(t, uint32(16000), info.SampleRate)
	assert.Equal(t, int64(44), info.DataOffset)
	assert.InDelta(t, 0.5, info.Duration(), 1e-9)
}

func TestReadWAVInfo_ExtraChunksAndStreamedSize(t *testing.T) {
	t.Parallel()

	layout := audio.NewPCMLayout(8000, 1, 16)

	var canonical bytes.Buffer
	require.NoError(t, audio.WriteWAV(&canonical, layout, make([]byte, 1600)))

	raw := canonical.Bytes()

	// Insert an odd-sized LIST chunk between fmt and data and mark the data
	// size as unknown.
	var patched bytes.Buffer
	patched.Write(raw[:36])
	patched.WriteString("LIST")
	_ = binary.Write(&patched, binary.LittleEndian, uint32(3))
	patched.Write([]byte{'a', 'b', 'c', 0})
	patched.WriteString("data")
	_ = binary.Write(&patched, binary.LittleEndian, uint32(0xFFFFFFFF))
	patched.Write(raw[44:])

	path := filepath.Join(t.TempDir(), "streamed.wav")
	require.NoError(t, os.WriteFile(path, patched.Bytes(), 0o600))

	info, err := audio.ReadWAVInfo(path)
	require.NoError(t, err)

	assert.Equal(t, int64(1600), info.DataSize)
	assert.InDelta(t, 0.1, info.Duration(), 1e-9)
}

func TestReadWAVInfo_NotWAV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not audio"), 0o600))

	_, err := audio.ReadWAVInfo(path)
	require.ErrorIs(t, err, audio.ErrNotWAV)
}

func TestReadWAVInfo_ZeroByteRate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "clip.wav")
	writeClip(t, path, 16000, 800)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// Zero the block align of the fmt chunk.
	binary.LittleEndian.PutUint16(raw[32:34], 0)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = audio.ReadWAVInfo(path)
	require.ErrorIs(t, err, audio.ErrMalformedWAV)

	testLogger, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testLogger.Close() })

	assembler := audio.NewAssembler("", filepath.Join(dir, "missing-ffprobe"), testLogger)

	_, err = assembler.Duration(context.Background(), path)
	require.Error(t, err, "a clip without a usable header has no duration")
}

func TestAssembler_DurationWAV(t *testing.T) {
	t.Parallel()

	assembler := newTestAssembler(t)
	path := filepath.Join(t.TempDir(), "clip.wav")
	writeClip(t, path, 22050, 22050*2)

	seconds, err := assembler.Duration(context.Background(), path)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, seconds, 1e-9)
}

func TestAssembler_ConcatenateSplicesWAV(t *testing.T) {
	t.Parallel()

	assembler := newTestAssembler(t)
	dir := t.TempDir()

	inputs := []string{filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.wav"), filepath.Join(dir, "c.wav")}
	writeClip(t, inputs[0], 16000, 1600)
	writeClip(t, inputs[1], 16000, 3200)
	writeClip(t, inputs[2], 16000, 800)

	output := filepath.Join(dir, "out", "output.wav")
	require.NoError(t, assembler.Concatenate(context.Background(), inputs, output, "wav", 16000))

	info, err := audio.ReadWAVInfo(output)
	require.NoError(t, err)
	assert.Equal(t, int64((1600+3200+800)*2), info.DataSize)
	assert.InDelta(t, 0.35, info.Duration(), 1e-9)

	// Order is preserved: the first sample of the second clip follows the
	// last sample of the first.
	data, err := os.ReadFile(output)
	require.NoError(t, err)

	offset := int(info.DataOffset) + 1600*2
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(data[offset:]))
	assert.Equal(t, uint16(1599), binary.LittleEndian.Uint16(data[offset-2:]))
}

func TestAssembler_ConcatenateErrors(t *testing.T) {
	t.Parallel()

	assembler := newTestAssembler(t)
	dir := t.TempDir()
	output := filepath.Join(dir, "output.wav")

	err := assembler.Concatenate(context.Background(), nil, output, "wav", 0)
	require.ErrorIs(t, err, core.ErrAssemblyFailed)

	err = assembler.Concatenate(context.Background(), []string{filepath.Join(dir, "missing.wav")}, output, "wav", 0)
	require.ErrorIs(t, err, core.ErrAssemblyFailed)

	empty := filepath.Join(dir, "empty.wav")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	err = assembler.Concatenate(context.Background(), []string{empty}, output, "wav", 0)
	require.ErrorIs(t, err, core.ErrAssemblyFailed)

	clip := filepath.Join(dir, "clip.wav")
	writeClip(t, clip, 16000, 16)

	err = assembler.Concatenate(context.Background(), []string{clip}, output, "aiff", 0)
	require.ErrorIs(t, err, core.ErrAssemblyFailed)
}

func TestAssembler_ConcatenateResamplesWithFFmpeg(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	assembler := newTestAssembler(t)
	dir := t.TempDir()

	inputs := []string{filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.wav")}
	writeClip(t, inputs[0], 16000, 16000)
	writeClip(t, inputs[1], 24000, 24000)

	output := filepath.Join(dir, "output.wav")
	require.NoError(t, assembler.Concatenate(context.Background(), inputs, output, "wav", 22050))

	info, err := audio.ReadWAVInfo(output)
	require.NoError(t, err)
	assert.Equal(t, uint32(22050), info.SampleRate)
	assert.InDelta(t, 2.0, info.Duration(), 0.1)
}
