package cli

import (
	"errors"

	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/normalize"
)

// Fatal outcomes of a run. Each ends the run with exit code 1.
var (
	ErrUsage         = errors.New("usage error")
	ErrInput         = errors.New("input file missing")
	ErrConfig        = errors.New("config lookup failed")
	ErrTranscription = errors.New("transcription failed")
	ErrOutput        = errors.New("output write failed")
)

// Failure is a fatal run outcome together with the line printed on the diagnostic stream
type Failure struct {
	Kind    error
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() []error {
	return []error{f.Kind, f.Err}
}

func fail(kind error, message string, cause error) *Failure {
	return &Failure{Kind: kind, Message: message, Err: cause}
}

// Kind names the failure class of err for logs
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUsage):
		return "usage"
	case errors.Is(err, ErrInput):
		return "input"
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, normalize.ErrConversion), errors.Is(err, normalize.ErrMissingOutput):
		return "conversion"
	case errors.Is(err, ErrTranscription):
		return "transcription"
	case errors.Is(err, ErrOutput):
		return "output"
	default:
		return "internal"
	}
}

// ExitCode maps a run error to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
