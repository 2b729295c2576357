package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// Writer writes framed events to an underlying stream
type Writer struct {
	w      io.Writer
	events uint64
	bytes  uint64
}

// NewWriter creates a new event writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteEvent writes one event as a single frame
func (w *Writer) WriteEvent(event *Event) error {
	frame, err := MarshalFrame(event)
	if err != nil {
		return err
	}

	n, err := w.w.Write(frame)
	w.bytes += uint64(n)
	if err != nil {
		return fmt.Errorf("failed to write %s event: %w", event.Type, err)
	}

	w.events++
	return nil
}

// EventsWritten returns the number of complete events written
func (w *Writer) EventsWritten() uint64 {
	return w.events
}

// BytesWritten returns the number of bytes written, including partial frames
func (w *Writer) BytesWritten() uint64 {
	return w.bytes
}

// Reader reads framed events from an underlying stream
type Reader struct {
	r      *bufio.Reader
	events uint64
}

// NewReader creates a new event reader
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, MaxHeaderLength)}
}

// ReadEvent reads the next event. It returns io.EOF when the stream ends cleanly
// between frames and io.ErrUnexpectedEOF when it ends inside a frame.
func (r *Reader) ReadEvent() (*Event, error) {
	line, err := r.readHeaderLine()
	if err != nil {
		return nil, err
	}

	header, err := ParseHeader(line)
	if err != nil {
		return nil, err
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	event := &Event{
		Type: header.Type,
		Data: header.Data,
	}

	if header.DataLength > 0 {
		block := make([]byte, header.DataLength)
		if _, err := io.ReadFull(r.r, block); err != nil {
			return nil, fmt.Errorf("failed to read %s data: %w", header.Type, unexpected(err))
		}

		var data map[string]any
		if err := json.Unmarshal(block, &data); err != nil {
			return nil, fmt.Errorf("failed to parse %s data JSON: %w", header.Type, err)
		}

		if event.Data == nil {
			event.Data = data
		} else {
			for k, v := range data {
				event.Data[k] = v
			}
		}
	}

	if header.PayloadLength > 0 {
		event.Payload = make([]byte, header.PayloadLength)
		if _, err := io.ReadFull(r.r, event.Payload); err != nil {
			return nil, fmt.Errorf("failed to read %s payload: %w", header.Type, unexpected(err))
		}
	}

	r.events++
	return event, nil
}

// EventsRead returns the number of complete events read
func (r *Reader) EventsRead() uint64 {
	return r.events
}

// readHeaderLine returns the next non-blank header line
func (r *Reader) readHeaderLine() ([]byte, error) {
	for {
		line, err := r.r.ReadSlice('\n')
		switch {
		case err == nil:
		case errors.Is(err, bufio.ErrBufferFull):
			return nil, fmt.Errorf("header exceeds %d bytes", MaxHeaderLength)
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("stream ended inside header: %w", io.ErrUnexpectedEOF)
		default:
			return nil, err
		}

		if len(bytes.TrimSpace(line)) > 0 {
			return line, nil
		}
	}
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Encode writes a single event to w
func Encode(w io.Writer, event *Event) error {
	return NewWriter(w).WriteEvent(event)
}

// Decode reads a single event from r. Bytes past the frame may be buffered and lost;
// use a Reader to consume a stream of events.
func Decode(r io.Reader) (*Event, error) {
	return NewReader(r).ReadEvent()
}
