package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/audio"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/directory"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/protocol"
)

// Session is one connection to one endpoint for one audio file.
// It is not reusable: Run may be called once.
type Session struct {
	ID        string
	Endpoint  directory.Endpoint
	Language  string
	AudioPath string

	client *Client
	logger *slog.Logger

	conn   net.Conn
	writer *protocol.Writer
	reader *protocol.Reader
	stop   func() bool

	startedAt      time.Time
	finishedAt     time.Time
	chunksSent     int
	audioBytes     int64
	eventsReceived int
}

// SessionStats summarizes the traffic of a session
type SessionStats struct {
	ChunksSent     int           `json:"chunks_sent"`
	AudioBytes     int64         `json:"audio_bytes"`
	EventsReceived int           `json:"events_received"`
	Duration       time.Duration `json:"duration"`
}

// NewSession prepares a session; nothing is opened until Run
func (c *Client) NewSession(endpoint directory.Endpoint, language, audioPath string) *Session {
	id := uuid.NewString()
	return &Session{
		ID:        id,
		Endpoint:  endpoint,
		Language:  language,
		AudioPath: audioPath,
		client:    c,
		logger:    c.logger.With(slog.String("session_id", id)),
	}
}

// Run executes the protocol sequence: connect, request, audio-start, audio chunks,
// audio-stop, then read events until a transcript arrives or the stream ends.
func (s *Session) Run(ctx context.Context) (string, error) {
	s.startedAt = time.Now()
	defer func() { s.finishedAt = time.Now() }()

	s.client.metrics.RecordSessionStarted()

	if err := s.open(ctx); err != nil {
		return "", err
	}
	defer s.close()

	if err := s.send(ctx, protocol.Transcribe(s.Language)); err != nil {
		return "", err
	}

	if err := s.streamAudio(ctx); err != nil {
		return "", err
	}

	return s.awaitTranscript(ctx)
}

// Stats returns the session counters
func (s *Session) Stats() SessionStats {
	end := s.finishedAt
	if end.IsZero() {
		end = time.Now()
	}

	var duration time.Duration
	if !s.startedAt.IsZero() {
		duration = end.Sub(s.startedAt)
	}

	return SessionStats{
		ChunksSent:     s.chunksSent,
		AudioBytes:     s.audioBytes,
		EventsReceived: s.eventsReceived,
		Duration:       duration,
	}
}

func (s *Session) open(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: s.client.config.ConnectTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", s.Endpoint.Address())
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnection, s.Endpoint.Address(), err)
	}

	s.conn = conn
	s.writer = protocol.NewWriter(conn)
	s.reader = protocol.NewReader(conn)
	// Unblock pending reads and writes if the caller gives up
	s.stop = context.AfterFunc(ctx, func() { conn.Close() })

	s.logger.Debug("Connected to transcription server",
		slog.String("endpoint", s.Endpoint.Address()),
		slog.String("local_addr", conn.LocalAddr().String()),
	)

	return nil
}

func (s *Session) close() {
	if s.stop != nil {
		s.stop()
	}
	if s.writer != nil && s.reader != nil {
		s.logger.Debug("Session traffic",
			slog.Uint64("events_written", s.writer.EventsWritten()),
			slog.Uint64("bytes_written", s.writer.BytesWritten()),
			slog.Uint64("events_read", s.reader.EventsRead()),
		)
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("Error closing connection", slog.String("error", err.Error()))
		}
	}
}

func (s *Session) streamAudio(ctx context.Context) error {
	file, err := os.Open(s.AudioPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAudioInput, err)
	}
	defer file.Close()

	format := s.client.config.Format

	if err := s.send(ctx, protocol.AudioStart(format)); err != nil {
		return err
	}

	blocks := audio.NewBlockReader(file, s.client.config.BlockSize)
	for {
		block, err := blocks.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAudioInput, err)
		}

		if err := s.send(ctx, protocol.AudioChunk(format, block)); err != nil {
			return err
		}
		s.chunksSent++
		s.audioBytes += int64(len(block))
		s.client.metrics.RecordAudioBytes(len(block))
	}

	s.logger.Debug("Audio streamed",
		slog.Int("chunks", blocks.Blocks()),
		slog.Int64("bytes", blocks.BytesRead()),
		slog.Duration("audio_duration", format.Duration(blocks.BytesRead())),
	)

	return s.send(ctx, protocol.AudioStop())
}

func (s *Session) awaitTranscript(ctx context.Context) (string, error) {
	for {
		if err := s.armDeadline(); err != nil {
			return "", err
		}

		event, err := s.reader.ReadEvent()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", fmt.Errorf("%w: %v", ErrProtocolIO, ctxErr)
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return "", fmt.Errorf("%w after %d events: %v", ErrNoTranscript, s.eventsReceived, err)
			}
			return "", fmt.Errorf("%w: read: %v", ErrProtocolIO, err)
		}

		s.eventsReceived++
		s.client.metrics.RecordEventReceived(event.Kind().String())

		if event.Kind() != protocol.KindTranscript {
			s.logger.Debug("Ignoring event", slog.String("type", event.Type))
			continue
		}

		text, err := event.Text()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrProtocolIO, err)
		}
		return text, nil
	}
}

func (s *Session) send(ctx context.Context, event *protocol.Event) error {
	if err := s.armDeadline(); err != nil {
		return err
	}

	if err := s.writer.WriteEvent(event); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrProtocolIO, ctxErr)
		}
		return fmt.Errorf("%w: %v", ErrProtocolIO, err)
	}

	s.client.metrics.RecordEventSent(event.Type)
	return nil
}

func (s *Session) armDeadline() error {
	timeout := s.client.config.IOTimeout
	if timeout <= 0 {
		return nil
	}
	if err := s.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %v", ErrProtocolIO, err)
	}
	return nil
}
