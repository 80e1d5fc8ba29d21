package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	riffHeaderSize   = 12
	chunkHeaderSize  = 8
	minFmtChunkSize  = 16
	wavHeaderSize    = 44
	pcmAudioFormat   = 1
	streamedDataSize = 0xFFFFFFFF
)

var (
	// ErrNotWAV reports a file without a RIFF/WAVE header.
	ErrNotWAV = errors.New("not a RIFF/WAVE file")
	// ErrMalformedWAV reports a WAV file whose chunks cannot be read.
	ErrMalformedWAV = errors.New("malformed WAV file")
)

// PCMLayout describes how samples are laid out in a WAV data chunk.
type PCMLayout struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	BlockAlign    uint16
}

// ByteRate is the number of data bytes per second of audio.
func (l PCMLayout) ByteRate() uint32 {
	return l.SampleRate * uint32(l.BlockAlign)
}

// WAVInfo is the parsed header of a WAV file.
type WAVInfo struct {
	PCMLayout

	DataOffset int64
	DataSize   int64
}

// Duration returns the length of the data chunk in seconds.
func (w WAVInfo) Duration() float64 {
	rate := w.ByteRate()
	if rate == 0 {
		return 0
	}

	return float64(w.DataSize) / float64(rate)
}

// ReadWAVInfo parses the fmt and data chunks of the WAV file at path. A data
// size of 0xFFFFFFFF, or one running past the end of the file, is taken to mean
// "until end of file".
func ReadWAVInfo(path string) (WAVInfo, error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		return WAVInfo{}, fmt.Errorf("open %s: %w", path, openErr)
	}
	defer file.Close()

	stat, statErr := file.Stat()
	if statErr != nil {
		return WAVInfo{}, fmt.Errorf("stat %s: %w", path, statErr)
	}

	return parseWAV(file, stat.Size())
}

func parseWAV(reader io.ReadSeeker, fileSize int64) (WAVInfo, error) {
	var riff [riffHeaderSize]byte

	_, readErr := io.ReadFull(reader, riff[:])
	if readErr != nil || string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVInfo{}, ErrNotWAV
	}

	var (
		info     WAVInfo
		foundFmt bool
		offset   int64 = riffHeaderSize
	)

	for {
		var header [chunkHeaderSize]byte

		_, headerErr := io.ReadFull(reader, header[:])
		if headerErr != nil {
			return WAVInfo{}, fmt.Errorf("%w: no data chunk", ErrMalformedWAV)
		}

		offset += chunkHeaderSize
		chunkID := string(header[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(header[4:8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < minFmtChunkSize {
				return WAVInfo{}, fmt.Errorf("%w: fmt chunk of %d bytes", ErrMalformedWAV, chunkSize)
			}

			body := make([]byte, chunkSize)

			_, bodyErr := io.ReadFull(reader, body)
			if bodyErr != nil {
				return WAVInfo{}, fmt.Errorf("%w: %w", ErrMalformedWAV, bodyErr)
			}

			info.AudioFormat = binary.LittleEndian.Uint16(body[0:2])
			info.Channels = binary.LittleEndian.Uint16(body[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			info.BlockAlign = binary.LittleEndian.Uint16(body[12:14])
			info.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			foundFmt = true
			offset += chunkSize

			if chunkSize%2 == 1 {
				_, padErr := reader.Seek(1, io.SeekCurrent)
				if padErr != nil {
					return WAVInfo{}, fmt.Errorf("%w: %w", ErrMalformedWAV, padErr)
				}

				offset++
			}
		case "data":
			if !foundFmt {
				return WAVInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrMalformedWAV)
			}

			if info.ByteRate() == 0 {
				return WAVInfo{}, fmt.Errorf("%w: sample rate %d, block align %d",
					ErrMalformedWAV, info.SampleRate, info.BlockAlign)
			}

			info.DataOffset = offset
			info.DataSize = chunkSize

			if chunkSize == streamedDataSize || offset+chunkSize > fileSize {
				info.DataSize = fileSize - offset
			}

			return info, nil
		default:
			skip := chunkSize + chunkSize%2

			_, seekErr := reader.Seek(skip, io.SeekCurrent)
			if seekErr != nil {
				return WAVInfo{}, fmt.Errorf("%w: %w", ErrMalformedWAV, seekErr)
			}

			offset += skip
		}
	}
}

// writeWAVHeader writes a canonical 44-byte PCM header for dataSize bytes.
func writeWAVHeader(writer io.Writer, layout PCMLayout, dataSize uint32) error {
	header := make([]byte, wavHeaderSize)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], wavHeaderSize-chunkHeaderSize+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], minFmtChunkSize)
	binary.LittleEndian.PutUint16(header[20:22], layout.AudioFormat)
	binary.LittleEndian.PutUint16(header[22:24], layout.Channels)
	binary.LittleEndian.PutUint32(header[24:28], layout.SampleRate)
	binary.LittleEndian.PutUint32(header[28:32], layout.ByteRate())
	binary.LittleEndian.PutUint16(header[32:34], layout.BlockAlign)
	binary.LittleEndian.PutUint16(header[34:36], layout.BitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	_, err := writer.Write(header)

	return err
}

// NewPCMLayout returns the layout of signed little-endian PCM.
func NewPCMLayout(sampleRate, channels, bitsPerSample int) PCMLayout {
	return PCMLayout{
		AudioFormat:   pcmAudioFormat,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		BitsPerSample: uint16(bitsPerSample),
		BlockAlign:    uint16(channels * bitsPerSample / 8),
	}
}

// WriteWAV writes samples as a PCM WAV file.
func WriteWAV(writer io.Writer, layout PCMLayout, samples []byte) error {
	headerErr := writeWAVHeader(writer, layout, uint32(len(samples)))
	if headerErr != nil {
		return fmt.Errorf("write WAV header: %w", headerErr)
	}

	_, dataErr := writer.Write(samples)
	if dataErr != nil {
		return fmt.Errorf("write WAV samples: %w", dataErr)
	}

	return nil
}

// spliceWAV concatenates the data chunks of inputs, which must share layout,
// into a single WAV file at output.
func spliceWAV(inputs []WAVInfo, paths []string, output string) error {
	var total int64
	for _, info := range inputs {
		total += info.DataSize
	}

	if total > int64(^uint32(0))-wavHeaderSize {
		return fmt.Errorf("%w: spliced data exceeds the WAV size limit", ErrMalformedWAV)
	}

	file, createErr := os.Create(output)
	if createErr != nil {
		return fmt.Errorf("create %s: %w", output, createErr)
	}

	writer := bufio.NewWriter(file)

	writeErr := func() error {
		headerErr := writeWAVHeader(writer, inputs[0].PCMLayout, uint32(total))
		if headerErr != nil {
			return headerErr
		}

		for i, info := range inputs {
			copyErr := copySection(writer, paths[i], info.DataOffset, info.DataSize)
			if copyErr != nil {
				return copyErr
			}
		}

		return writer.Flush()
	}()

	closeErr := file.Close()

	return errors.Join(writeErr, closeErr)
}

func copySection(writer io.Writer, path string, offset, size int64) error {
	file, openErr := os.Open(path)
	if openErr != nil {
		return fmt.Errorf("open %s: %w", path, openErr)
	}
	defer file.Close()

	_, copyErr := io.Copy(writer, io.NewSectionReader(file, offset, size))
	if copyErr != nil {
		return fmt.Errorf("copy samples from %s: %w", path, copyErr)
	}

	return nil
}
