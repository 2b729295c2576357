// Package stubserver is a minimal transcription server speaking the event protocol.
// It records what each connection sent and replies with a scripted sequence of
// events. It backs the client tests and the stub-server command.
package stubserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/audio"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/directory"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/logging"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/protocol"
)

// Options controls how the server answers a finished audio stream
type Options struct {
	Transcript   string            // Text of the transcript reply
	Before       []*protocol.Event // Events written ahead of the transcript
	NoTranscript bool              // Skip the transcript reply
	HoldOpen     bool              // Keep the connection open after replying until Close
	Delay        time.Duration     // Pause between audio-stop and the first reply
	Logger       *slog.Logger
	Metrics      *Metrics
}

// Received is what one client connection sent
type Received struct {
	ID           int
	At           time.Time
	Events       []string
	Language     string
	StartFormat  *audio.Format
	ChunkFormats []audio.Format
	ChunkSizes   []int
	Audio        []byte
	Stopped      bool
	Err          error // Read or decode error that ended the connection early
}

// Summary describes a received stream without its audio
type Summary struct {
	ID         int       `json:"id"`
	At         time.Time `json:"at"`
	Language   string    `json:"language"`
	Events     int       `json:"events"`
	Chunks     int       `json:"chunks"`
	AudioBytes int       `json:"audio_bytes"`
	Stopped    bool      `json:"stopped"`
	WAV        bool      `json:"wav"`
	Error      string    `json:"error,omitempty"`
}

// Summary returns the JSON-friendly view of r
func (r *Received) Summary() Summary {
	summary := Summary{
		ID:         r.ID,
		At:         r.At,
		Language:   r.Language,
		Events:     len(r.Events),
		Chunks:     len(r.ChunkSizes),
		AudioBytes: len(r.Audio),
		Stopped:    r.Stopped,
		WAV:        audio.ValidateWAV(r.Audio) == nil,
	}
	if r.Err != nil {
		summary.Error = r.Err.Error()
	}
	return summary
}

// Server accepts connections on a TCP listener
type Server struct {
	listener net.Listener
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	received []*Received
	conns    map[net.Conn]struct{}

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Listen binds addr without accepting connections yet
func Listen(addr string, opts Options) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Server{
		listener: listener,
		opts:     opts,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
		closing:  make(chan struct{}),
	}, nil
}

// Start binds addr and serves in the background
func Start(addr string, opts Options) (*Server, error) {
	s, err := Listen(addr, opts)
	if err != nil {
		return nil, err
	}

	s.serveInBackground()
	return s, nil
}

func (s *Server) serveInBackground() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Serve(); err != nil {
			s.logger.Error("Stub server stopped accepting", slog.String("error", err.Error()))
		}
	}()
}

// Serve accepts connections until Close is called
func (s *Server) Serve() error {
	s.logger.Info("Stub transcription server listening", slog.String("address", s.Addr()))

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}

		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(conn)
		}()
	}
}

// Addr returns the bound address as host:port
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Endpoint returns the bound address as a directory entry
func (s *Server) Endpoint() directory.Endpoint {
	host, portStr, _ := net.SplitHostPort(s.Addr())
	port, _ := strconv.Atoi(portStr)
	return directory.Endpoint{Host: host, Port: port}
}

// Received returns the connections recorded so far, in completion order
func (s *Server) Received() []*Received {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Received, len(s.received))
	copy(out, s.received)
	return out
}

// Close stops accepting, drops open connections and waits for handlers to exit
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		err = s.listener.Close()

		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
	return err
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closing:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.opts.Metrics.connection()
	return true
}

func (s *Server) untrack(conn net.Conn) {
	conn.Close()

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) record(rec *Received) {
	s.mu.Lock()
	rec.ID = len(s.received) + 1
	rec.At = time.Now()
	s.received = append(s.received, rec)
	s.mu.Unlock()
}

func (s *Server) handle(conn net.Conn) {
	logger := s.logger.With(slog.String("remote_addr", conn.RemoteAddr().String()))
	logger.Debug("Connection accepted")

	rec := &Received{}
	reader := protocol.NewReader(conn)

	for {
		event, err := reader.ReadEvent()
		if err != nil {
			rec.Err = err
			s.record(rec)
			logger.Debug("Connection ended before audio-stop", slog.String("error", err.Error()))
			return
		}

		rec.Events = append(rec.Events, event.Type)

		switch event.Kind() {
		case protocol.KindTranscribe:
			rec.Language = event.Language()
		case protocol.KindAudioStart:
			if format, err := event.AudioFormat(); err == nil {
				rec.StartFormat = &format
			}
		case protocol.KindAudioChunk:
			if format, err := event.AudioFormat(); err == nil {
				rec.ChunkFormats = append(rec.ChunkFormats, format)
			}
			rec.ChunkSizes = append(rec.ChunkSizes, len(event.Payload))
			rec.Audio = append(rec.Audio, event.Payload...)
		case protocol.KindAudioStop:
			rec.Stopped = true
			s.record(rec)
			s.opts.Metrics.stream(len(rec.Audio))
			logger.Info("Audio stream received",
				slog.String("language", rec.Language),
				slog.Int("chunks", len(rec.ChunkSizes)),
				slog.Int("audio_bytes", len(rec.Audio)),
			)
			if info, err := audio.GetWAVInfo(rec.Audio); err == nil {
				logger.Debug("Stream carries a WAV file",
					slog.Int("sample_rate", int(info.SampleRate)),
					slog.Int("channels", int(info.Channels)),
					slog.Duration("duration", info.Duration),
				)
			}
			s.reply(conn, logger)
			return
		}
	}
}

func (s *Server) reply(conn net.Conn, logger *slog.Logger) {
	if s.opts.Delay > 0 {
		select {
		case <-time.After(s.opts.Delay):
		case <-s.closing:
			return
		}
	}

	writer := protocol.NewWriter(conn)

	for _, event := range s.opts.Before {
		if err := writer.WriteEvent(event); err != nil {
			logger.Warn("Failed to write reply", slog.String("error", err.Error()))
			return
		}
		s.opts.Metrics.reply(event.Type)
	}

	if !s.opts.NoTranscript {
		if err := writer.WriteEvent(protocol.Transcript(s.opts.Transcript)); err != nil {
			logger.Warn("Failed to write transcript", slog.String("error", err.Error()))
			return
		}
		s.opts.Metrics.reply(protocol.TypeTranscript)
		logger.Info("Transcript sent", slog.String("text", s.opts.Transcript))
	}

	if s.opts.HoldOpen {
		<-s.closing
	}
}
