package audio

import (
	"fmt"
	"time"
)

// Canonical PCM parameters expected by the transcription server
const (
	CanonicalSampleRate = 16000 // Hz
	CanonicalWidth      = 2     // bytes per sample (s16le)
	CanonicalChannels   = 1     // mono
)

// Format describes a raw PCM stream: sample rate, sample width and channel count
type Format struct {
	Rate     int `yaml:"rate" json:"rate"`         // Samples per second
	Width    int `yaml:"width" json:"width"`       // Bytes per sample
	Channels int `yaml:"channels" json:"channels"` // Interleaved channels
}

// CanonicalFormat is the 16 kHz mono 16-bit format every input is normalized to
var CanonicalFormat = Format{
	Rate:     CanonicalSampleRate,
	Width:    CanonicalWidth,
	Channels: CanonicalChannels,
}

// Validate checks that all format fields are usable
func (f Format) Validate() error {
	if f.Rate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.Rate)
	}

	if f.Width < 1 || f.Width > 4 {
		return fmt.Errorf("sample width must be between 1 and 4 bytes, got %d", f.Width)
	}

	if f.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", f.Channels)
	}

	return nil
}

// FrameSize returns the number of bytes of one sample across all channels
func (f Format) FrameSize() int {
	return f.Width * f.Channels
}

// BytesPerSecond returns the byte rate of the stream
func (f Format) BytesPerSecond() int {
	return f.Rate * f.FrameSize()
}

// Duration returns the playback time covered by n bytes of PCM in this format
func (f Format) Duration(n int64) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bps) * float64(time.Second))
}

// String returns a human-readable representation of the format
func (f Format) String() string {
	return fmt.Sprintf("Format{Rate:%d, Width:%d, Channels:%d}", f.Rate, f.Width, f.Channels)
}
