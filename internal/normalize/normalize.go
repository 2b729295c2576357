// Package normalize converts arbitrary input audio into the canonical PCM WAV
// expected by the transcription server, by running an external transcoder.
package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/audio"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/logging"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/metrics"
)

// TempSuffix is appended to the input path to name the normalized sibling file
const TempSuffix = ".converted.wav"

// stderrTail bounds how much transcoder diagnostics are kept for error messages
const stderrTail = 2048

var (
	// ErrConversion is returned when the transcoder fails
	ErrConversion = errors.New("WAV conversion failed")
	// ErrMissingOutput is returned when the transcoder succeeded but produced no file
	ErrMissingOutput = errors.New("converted file not found")
)

// Normalizer turns an input file into a canonical PCM WAV file and returns its path
type Normalizer interface {
	Normalize(ctx context.Context, inputPath string) (string, error)
}

// TempPath returns the path of the normalized sibling of input
func TempPath(input string) string {
	return input + TempSuffix
}

// Cleanup removes a normalized file. A file that does not exist is not an error.
func Cleanup(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// FFmpeg normalizes audio with the ffmpeg command line tool
type FFmpeg struct {
	Path      string
	ExtraArgs []string
	Format    audio.Format

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewFFmpeg creates an ffmpeg normalizer producing the canonical format
func NewFFmpeg(path string, extraArgs []string, logger *slog.Logger, m *metrics.Metrics) *FFmpeg {
	if logger == nil {
		logger = logging.Discard()
	}
	return &FFmpeg{
		Path:      path,
		ExtraArgs: extraArgs,
		Format:    audio.CanonicalFormat,
		logger:    logger,
		metrics:   m,
	}
}

// Args builds the transcoder argument list for converting input into output
func (f *FFmpeg) Args(input, output string) []string {
	args := []string{"-y"}
	args = append(args, f.ExtraArgs...)
	args = append(args,
		"-i", input,
		"-ar", strconv.Itoa(f.Format.Rate),
		"-ac", strconv.Itoa(f.Format.Channels),
		"-c:a", codecFor(f.Format),
		output,
	)
	return args
}

// Normalize converts inputPath into TempPath(inputPath)
func (f *FFmpeg) Normalize(ctx context.Context, inputPath string) (string, error) {
	output := TempPath(inputPath)
	args := f.Args(inputPath, output)

	cmd := exec.CommandContext(ctx, f.Path, args...)
	cmd.Stdout = io.Discard
	tail := &tailBuffer{limit: stderrTail}
	cmd.Stderr = tail

	f.logger.Debug("Running transcoder",
		slog.String("path", f.Path),
		slog.Any("args", args),
	)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		f.metrics.RecordConversion(elapsed.Seconds(), true)
		f.logger.Error("Transcoder failed",
			slog.String("input", inputPath),
			slog.String("error", err.Error()),
			slog.String("stderr", string(bytes.TrimSpace(tail.Bytes()))),
		)
		return "", fmt.Errorf("%w: %s: %v", ErrConversion, inputPath, err)
	}

	if _, err := os.Stat(output); err != nil {
		f.metrics.RecordConversion(elapsed.Seconds(), true)
		return "", fmt.Errorf("%w: %s", ErrMissingOutput, output)
	}

	f.metrics.RecordConversion(elapsed.Seconds(), false)
	f.logger.Debug("Transcoder finished",
		slog.String("output", output),
		slog.Duration("elapsed", elapsed),
	)

	return output, nil
}

func codecFor(format audio.Format) string {
	switch format.Width {
	case 1:
		return "pcm_u8"
	case 3:
		return "pcm_s24le"
	case 4:
		return "pcm_s32le"
	default:
		return "pcm_s16le"
	}
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) Bytes() []byte {
	return t.buf
}
