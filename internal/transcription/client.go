package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/audio"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/directory"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/logging"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/metrics"
)

// Failure kinds of a session. Callers of Transcribe only see whether a transcript
// was obtained; the kinds are used for logging and metrics.
var (
	ErrConnection   = errors.New("connection failed")
	ErrProtocolIO   = errors.New("protocol I/O failed")
	ErrAudioInput   = errors.New("audio input failed")
	ErrNoTranscript = errors.New("stream closed without transcript")
)

// Config contains transcription client configuration
type Config struct {
	Format         audio.Format  // Descriptor sent with audio-start and every audio-chunk
	BlockSize      int           // Bytes of audio per chunk
	ConnectTimeout time.Duration // Dial limit, zero waits for the OS
	IOTimeout      time.Duration // Per read/write limit, zero disables
}

// DefaultConfig returns the canonical format with 1024-byte chunks and no timeouts
func DefaultConfig() Config {
	return Config{
		Format:    audio.CanonicalFormat,
		BlockSize: audio.BlockSize,
	}
}

// Client runs transcription sessions against a server endpoint
type Client struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new transcription client
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if err := config.Format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio format: %w", err)
	}

	if config.BlockSize <= 0 {
		config.BlockSize = audio.BlockSize
	}

	if config.ConnectTimeout < 0 || config.IOTimeout < 0 {
		return nil, fmt.Errorf("timeouts cannot be negative")
	}

	if logger == nil {
		logger = logging.Discard()
	}

	return &Client{
		config:  config,
		logger:  logger,
		metrics: m,
	}, nil
}

// Transcribe streams the normalized audio at audioPath to endpoint and returns the
// first transcript. Any failure, including the server closing the stream without a
// transcript, is reported as ok == false after being logged.
func (c *Client) Transcribe(ctx context.Context, endpoint directory.Endpoint, language, audioPath string) (string, bool) {
	session := c.NewSession(endpoint, language, audioPath)

	text, err := session.Run(ctx)
	stats := session.Stats()
	outcome := Outcome(err)
	c.metrics.RecordSessionOutcome(outcome, stats.Duration.Seconds())

	attrs := []any{
		slog.String("session_id", session.ID),
		slog.String("endpoint", endpoint.Address()),
		slog.String("language", language),
		slog.Int("chunks_sent", stats.ChunksSent),
		slog.Int64("audio_bytes", stats.AudioBytes),
		slog.Int("events_received", stats.EventsReceived),
		slog.Duration("duration", stats.Duration),
	}

	if err != nil {
		attrs = append(attrs, slog.String("kind", outcome), slog.String("error", err.Error()))
		if errors.Is(err, ErrNoTranscript) {
			session.logger.Warn("No transcript received for "+audioPath, attrs...)
		} else {
			session.logger.Error("Error transcribing "+audioPath, attrs...)
		}
		return "", false
	}

	session.logger.Info("Transcript received", append(attrs, slog.Int("text_length", len(text)))...)
	return text, true
}

// Outcome maps a session error to its metrics label
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeTranscript
	case errors.Is(err, ErrNoTranscript):
		return metrics.OutcomeNoTranscript
	case errors.Is(err, ErrConnection):
		return metrics.OutcomeConnection
	case errors.Is(err, ErrAudioInput):
		return metrics.OutcomeAudio
	default:
		return metrics.OutcomeProtocol
	}
}
