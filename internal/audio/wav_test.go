package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sineSamples(sampleRate int, duration float64) []int16 {
	numSamples := int(float64(sampleRate) * duration)
	samples := make([]int16, numSamples)
	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(16383.0 * math.Sin(2*math.Pi*440.0*t))
	}
	return samples
}

func TestEncodeWAV(t *testing.T) {
	samples := sineSamples(CanonicalSampleRate, 0.1)

	wavData, err := EncodeWAV(samples, CanonicalFormat)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := CanonicalHeaderSize + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.SampleRate != CanonicalSampleRate {
		t.Errorf("Expected sample rate %d, got %d", CanonicalSampleRate, info.SampleRate)
	}

	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}

	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}

	if info.DataOffset != CanonicalHeaderSize {
		t.Errorf("Expected data offset %d, got %d", CanonicalHeaderSize, info.DataOffset)
	}

	if !info.IsCanonical() {
		t.Errorf("Expected canonical format, got %s", info.Format())
	}

	if diff := info.Duration - 100*time.Millisecond; diff > time.Millisecond || diff < -time.Millisecond {
		t.Errorf("Expected duration 100ms, got %v", info.Duration)
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	wavData, err := EncodeWAV(nil, CanonicalFormat)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	if len(wavData) != CanonicalHeaderSize {
		t.Errorf("Expected header-only WAV of %d bytes, got %d", CanonicalHeaderSize, len(wavData))
	}
}

func TestEncodeWAVInvalidFormat(t *testing.T) {
	samples := []int16{100, 200, 300}

	tests := []struct {
		name   string
		format Format
	}{
		{name: "zero sample rate", format: Format{Rate: 0, Width: 2, Channels: 1}},
		{name: "negative sample rate", format: Format{Rate: -1000, Width: 2, Channels: 1}},
		{name: "8-bit width", format: Format{Rate: 8000, Width: 1, Channels: 1}},
		{name: "no channels", format: Format{Rate: 8000, Width: 2, Channels: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(samples, tt.format); err == nil {
				t.Error("Expected error for invalid format")
			}
		})
	}
}

func TestValidateWAV(t *testing.T) {
	if err := ValidateWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	err := ValidateWAV(invalidWAV)
	if !errors.Is(err, ErrNotWAV) {
		t.Errorf("Expected ErrNotWAV for invalid RIFF header, got %v", err)
	}

	// RIFF/WAVE with no chunks at all
	empty := []byte("RIFF\x04\x00\x00\x00WAVE")
	if err := ValidateWAV(empty); err == nil {
		t.Error("Expected error for WAV without fmt chunk")
	}
}

func TestReadWAVInfoSkipsListChunk(t *testing.T) {
	samples := []int16{1, 2, 3, 4}
	plain, err := EncodeWAV(samples, CanonicalFormat)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Insert an odd-sized LIST chunk between fmt and data, as ffmpeg does
	listBody := []byte("INFOISFT\x05\x00\x00\x00Lavf\x00")
	var list bytes.Buffer
	list.WriteString("LIST")
	binary.Write(&list, binary.LittleEndian, uint32(len(listBody)))
	list.Write(listBody)
	if len(listBody)%2 == 1 {
		list.WriteByte(0)
	}

	var withList bytes.Buffer
	withList.Write(plain[:36])
	withList.Write(list.Bytes())
	withList.Write(plain[36:])

	info, err := GetWAVInfo(withList.Bytes())
	if err != nil {
		t.Fatalf("GetWAVInfo failed: %v", err)
	}

	expectedOffset := int64(CanonicalHeaderSize + list.Len())
	if info.DataOffset != expectedOffset {
		t.Errorf("Expected data offset %d, got %d", expectedOffset, info.DataOffset)
	}

	if info.NumSamples != uint32(len(samples)) {
		t.Errorf("Expected %d samples, got %d", len(samples), info.NumSamples)
	}
}

func TestInspectWAVFile(t *testing.T) {
	samples := sineSamples(8000, 1.0)
	wavData, err := EncodeWAV(samples, Format{Rate: 8000, Width: 2, Channels: 1})
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := os.WriteFile(path, wavData, 0o644); err != nil {
		t.Fatalf("Failed to write WAV file: %v", err)
	}

	info, err := InspectWAVFile(path)
	if err != nil {
		t.Fatalf("InspectWAVFile failed: %v", err)
	}

	if info.Duration != time.Second {
		t.Errorf("Expected duration 1s, got %v", info.Duration)
	}

	if info.IsCanonical() {
		t.Error("8 kHz audio must not be reported as canonical")
	}

	if _, err := InspectWAVFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
}
