package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// WAV layout constants
const (
	riffHeaderSize  = 12 // "RIFF" + size + "WAVE"
	chunkHeaderSize = 8  // id + size
	fmtChunkMinSize = 16 // PCM fmt chunk
	wavFormatPCM    = 1

	// CanonicalHeaderSize is the size of a minimal RIFF/WAVE header with fmt and data chunks
	CanonicalHeaderSize = 44
)

// ErrNotWAV is returned when data does not start with a RIFF/WAVE header
var ErrNotWAV = errors.New("not a RIFF/WAVE file")

// WAVHeader represents a minimal 44-byte PCM WAV header
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo contains the metadata of a WAV file
type WAVInfo struct {
	AudioFormat   uint16        `json:"audio_format"`
	SampleRate    uint32        `json:"sample_rate"`
	Channels      uint16        `json:"channels"`
	BitsPerSample uint16        `json:"bits_per_sample"`
	DataOffset    int64         `json:"data_offset"`
	DataSize      uint32        `json:"data_size_bytes"`
	NumSamples    uint32        `json:"num_samples"`
	Duration      time.Duration `json:"duration"`
}

// Format returns the PCM format described by the WAV header
func (i *WAVInfo) Format() Format {
	return Format{
		Rate:     int(i.SampleRate),
		Width:    int(i.BitsPerSample) / 8,
		Channels: int(i.Channels),
	}
}

// IsCanonical reports whether the file holds 16 kHz mono 16-bit PCM
func (i *WAVInfo) IsCanonical() bool {
	return i.AudioFormat == wavFormatPCM && i.Format() == CanonicalFormat
}

// EncodeWAV encodes PCM-16 samples into a WAV file with the given format
func EncodeWAV(samples []int16, format Format) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	if format.Width != 2 {
		return nil, fmt.Errorf("only 16-bit samples can be encoded, got width %d", format.Width)
	}

	numChannels := uint16(format.Channels)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: fmtChunkMinSize,
		AudioFormat:   wavFormatPCM,
		NumChannels:   numChannels,
		SampleRate:    uint32(format.Rate),
		ByteRate:      uint32(format.Rate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, CanonicalHeaderSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if len(samples) > 0 {
		if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
			return nil, fmt.Errorf("failed to write audio data: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// ReadWAVInfo walks the RIFF chunks of r until the data chunk and returns the
// stream metadata. Chunks other than "fmt " and "data" (LIST, fact, ...) are skipped.
func ReadWAVInfo(r io.Reader) (*WAVInfo, error) {
	var riff [riffHeaderSize]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("WAV data too short: %w", err)
	}

	if string(riff[0:4]) != "RIFF" {
		return nil, fmt.Errorf("%w: missing RIFF header", ErrNotWAV)
	}

	if string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing WAVE format", ErrNotWAV)
	}

	info := &WAVInfo{}
	offset := int64(riffHeaderSize)
	haveFmt := false

	for {
		var chunk [chunkHeaderSize]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
			}
			return nil, fmt.Errorf("invalid WAV file: missing data chunk")
		}
		offset += chunkHeaderSize

		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < fmtChunkMinSize {
				return nil, fmt.Errorf("invalid WAV file: fmt chunk too small (%d bytes)", size)
			}
			var body [fmtChunkMinSize]byte
			if _, err := io.ReadFull(r, body[:]); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			info.AudioFormat = binary.LittleEndian.Uint16(body[0:2])
			info.Channels = binary.LittleEndian.Uint16(body[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			info.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true

			if err := skip(r, int64(size)-fmtChunkMinSize+int64(size&1)); err != nil {
				return nil, fmt.Errorf("failed to skip fmt extension: %w", err)
			}

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			info.DataOffset = offset
			info.DataSize = size
			if info.BitsPerSample >= 8 && info.Channels > 0 {
				info.NumSamples = size / (uint32(info.BitsPerSample) / 8) / uint32(info.Channels)
			}
			if info.SampleRate > 0 {
				info.Duration = time.Duration(float64(info.NumSamples) / float64(info.SampleRate) * float64(time.Second))
			}
			return info, nil

		default:
			if err := skip(r, int64(size)+int64(size&1)); err != nil {
				return nil, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}

		offset += int64(size) + int64(size&1)
	}
}

// ValidateWAV validates that data is a PCM WAV file with a data chunk
func ValidateWAV(data []byte) error {
	info, err := ReadWAVInfo(bytes.NewReader(data))
	if err != nil {
		return err
	}

	if info.AudioFormat != wavFormatPCM {
		return fmt.Errorf("unsupported audio format: %d (only PCM is supported)", info.AudioFormat)
	}

	return nil
}

// GetWAVInfo extracts metadata from an in-memory WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	return ReadWAVInfo(bytes.NewReader(data))
}

// InspectWAVFile reads the header chunks of the WAV file at path
func InspectWAVFile(path string) (*WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := ReadWAVInfo(f)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	return info, nil
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, r, n)
	return err
}
