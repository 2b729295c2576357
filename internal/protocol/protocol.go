package protocol

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/audio"
)

// Protocol constants
const (
	// Event types
	TypeTranscribe = "transcribe"
	TypeAudioStart = "audio-start"
	TypeAudioChunk = "audio-chunk"
	TypeAudioStop  = "audio-stop"
	TypeTranscript = "transcript"

	// Version is sent in every header
	Version = "1.5.2"

	// Frame size limits
	MaxHeaderLength  = 64 * 1024        // header line including newline
	MaxDataLength    = 1 * 1024 * 1024  // JSON data block
	MaxPayloadLength = 16 * 1024 * 1024 // binary payload

	// Data field names
	FieldLanguage = "language"
	FieldRate     = "rate"
	FieldWidth    = "width"
	FieldChannels = "channels"
	FieldText     = "text"
)

// Kind is the closed set of event variants this client distinguishes
type Kind int

const (
	KindOther Kind = iota
	KindTranscribe
	KindAudioStart
	KindAudioChunk
	KindAudioStop
	KindTranscript
)

// KindOf maps a wire event type to its variant
func KindOf(eventType string) Kind {
	switch eventType {
	case TypeTranscribe:
		return KindTranscribe
	case TypeAudioStart:
		return KindAudioStart
	case TypeAudioChunk:
		return KindAudioChunk
	case TypeAudioStop:
		return KindAudioStop
	case TypeTranscript:
		return KindTranscript
	default:
		return KindOther
	}
}

func (k Kind) String() string {
	switch k {
	case KindTranscribe:
		return TypeTranscribe
	case KindAudioStart:
		return TypeAudioStart
	case KindAudioChunk:
		return TypeAudioChunk
	case KindAudioStop:
		return TypeAudioStop
	case KindTranscript:
		return TypeTranscript
	default:
		return "other"
	}
}

// Header is the JSON line that starts every frame
// Layout: {"type":T,"version":V,"data_length":N,"payload_length":M}\n
// Older peers inline the data object under "data" instead of sending a data block.
type Header struct {
	Type          string         `json:"type"`
	Version       string         `json:"version,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	DataLength    int            `json:"data_length,omitempty"`
	PayloadLength int            `json:"payload_length,omitempty"`
}

// Event is one discrete message of the protocol
type Event struct {
	Type    string
	Data    map[string]any
	Payload []byte
}

// Transcribe creates the request event asking for a transcript in language
func Transcribe(language string) *Event {
	return &Event{
		Type: TypeTranscribe,
		Data: map[string]any{FieldLanguage: language},
	}
}

// AudioStart creates the stream-start event carrying the audio descriptor
func AudioStart(format audio.Format) *Event {
	return &Event{
		Type: TypeAudioStart,
		Data: formatData(format),
	}
}

// AudioChunk creates an audio-chunk event. The descriptor is repeated in every chunk.
func AudioChunk(format audio.Format, pcm []byte) *Event {
	return &Event{
		Type:    TypeAudioChunk,
		Data:    formatData(format),
		Payload: pcm,
	}
}

// AudioStop creates the end-of-audio event
func AudioStop() *Event {
	return &Event{Type: TypeAudioStop}
}

// Transcript creates a transcript event
func Transcript(text string) *Event {
	return &Event{
		Type: TypeTranscript,
		Data: map[string]any{FieldText: text},
	}
}

func formatData(format audio.Format) map[string]any {
	return map[string]any{
		FieldRate:     format.Rate,
		FieldWidth:    format.Width,
		FieldChannels: format.Channels,
	}
}

// Kind returns the variant of the event
func (e *Event) Kind() Kind {
	return KindOf(e.Type)
}

// Text returns the text field of a transcript event
func (e *Event) Text() (string, error) {
	if e.Kind() != KindTranscript {
		return "", fmt.Errorf("event %q is not a transcript", e.Type)
	}

	value, ok := e.Data[FieldText]
	if !ok {
		return "", fmt.Errorf("transcript event has no %q field", FieldText)
	}

	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("transcript %q field is %T, not a string", FieldText, value)
	}

	return text, nil
}

// Language returns the language field of a transcribe event
func (e *Event) Language() string {
	language, _ := e.Data[FieldLanguage].(string)
	return language
}

// AudioFormat returns the audio descriptor of an audio-start or audio-chunk event
func (e *Event) AudioFormat() (audio.Format, error) {
	var format audio.Format
	var err error

	if format.Rate, err = intField(e.Data, FieldRate); err != nil {
		return audio.Format{}, err
	}
	if format.Width, err = intField(e.Data, FieldWidth); err != nil {
		return audio.Format{}, err
	}
	if format.Channels, err = intField(e.Data, FieldChannels); err != nil {
		return audio.Format{}, err
	}

	return format, nil
}

func intField(data map[string]any, key string) (int, error) {
	value, ok := data[key]
	if !ok {
		return 0, fmt.Errorf("missing %q field", key)
	}

	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%q field is not an integer: %v", key, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%q field is not an integer: %w", key, err)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%q field has unexpected type %T", key, value)
	}
}

// ParseHeader parses one header line (without the trailing newline)
func ParseHeader(line []byte) (*Header, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("header is empty")
	}

	var header Header
	if err := json.Unmarshal(line, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	return &header, nil
}

// ValidateHeader validates the header fields
func ValidateHeader(header *Header) error {
	if header.Type == "" {
		return fmt.Errorf("event type cannot be empty")
	}

	if header.DataLength < 0 || header.DataLength > MaxDataLength {
		return fmt.Errorf("data length out of range: %d (maximum %d)", header.DataLength, MaxDataLength)
	}

	if header.PayloadLength < 0 || header.PayloadLength > MaxPayloadLength {
		return fmt.Errorf("payload length out of range: %d (maximum %d)", header.PayloadLength, MaxPayloadLength)
	}

	return nil
}

// MarshalFrame encodes an event as one complete frame
func MarshalFrame(event *Event) ([]byte, error) {
	if event == nil || event.Type == "" {
		return nil, fmt.Errorf("event type cannot be empty")
	}

	var data []byte
	if len(event.Data) > 0 {
		var err error
		data, err = json.Marshal(event.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s data: %w", event.Type, err)
		}
	}

	header := Header{
		Type:          event.Type,
		Version:       Version,
		DataLength:    len(data),
		PayloadLength: len(event.Payload),
	}
	if err := ValidateHeader(&header); err != nil {
		return nil, fmt.Errorf("invalid %s event: %w", event.Type, err)
	}

	line, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s header: %w", event.Type, err)
	}

	frame := make([]byte, 0, len(line)+1+len(data)+len(event.Payload))
	frame = append(frame, line...)
	frame = append(frame, '\n')
	frame = append(frame, data...)
	frame = append(frame, event.Payload...)

	return frame, nil
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	return fmt.Sprintf("Header{Type:%s, Version:%s, DataLen:%d, PayloadLen:%d}",
		h.Type, h.Version, h.DataLength, h.PayloadLength)
}

// String returns a human-readable representation of the event
func (e *Event) String() string {
	return fmt.Sprintf("Event{Type:%s, Fields:%d, PayloadLen:%d}", e.Type, len(e.Data), len(e.Payload))
}
