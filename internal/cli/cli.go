// Package cli implements the stt command: normalize an audio file, stream it to the
// transcription server configured for its language and write the transcript.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/audio"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/config"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/directory"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/logging"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/metrics"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/normalize"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/transcription"
)

const defaultProgram = "stt"

// Invocation is a parsed command line
type Invocation struct {
	Program     string
	Language    string
	Input       string
	Output      string
	ConfigPath  string
	MetricsFile string
	LogLevel    string
}

// Driver runs one invocation end to end
type Driver struct {
	Stdout io.Writer
	Stderr io.Writer

	// Environ replaces the process environment when non-nil
	Environ map[string]string

	// Normalizer replaces the configured ffmpeg normalizer when non-nil
	Normalizer normalize.Normalizer
}

// Run executes the command with the process environment and returns the exit code.
// args[0] is the program name.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	d := &Driver{Stdout: stdout, Stderr: stderr}
	return d.Run(ctx, args)
}

// Usage returns the usage line for program
func Usage(program string) string {
	return fmt.Sprintf("Usage: %s --lang <lang> <wav_file> <output_file>", program)
}

// Parse parses the command line. args[0] is the program name.
func Parse(args []string) (*Invocation, error) {
	inv := &Invocation{Program: defaultProgram}
	if len(args) > 0 {
		inv.Program = args[0]
		args = args[1:]
	}

	flags := pflag.NewFlagSet(inv.Program, pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&inv.Language, "lang", "", "language of the recording, e.g. en or nl-NL")
	flags.StringVar(&inv.ConfigPath, "config", "", "server directory file (default $STT_CONFIG or "+config.DefaultConfigPath+")")
	flags.StringVar(&inv.MetricsFile, "metrics-file", "", "write run metrics to this Prometheus textfile")
	flags.StringVar(&inv.LogLevel, "log-level", "", "log level: debug, info, warn or error")

	if err := flags.Parse(args); err != nil {
		return inv, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if inv.Language == "" || flags.NArg() != 2 {
		return inv, ErrUsage
	}

	inv.Input = flags.Arg(0)
	inv.Output = flags.Arg(1)
	return inv, nil
}

// Run executes the command and returns the exit code
func (d *Driver) Run(ctx context.Context, args []string) int {
	inv, err := Parse(args)
	if err != nil {
		return d.report(fail(ErrUsage, Usage(inv.Program), err), nil)
	}

	if _, err := os.Stat(inv.Input); err != nil {
		return d.report(fail(ErrInput, fmt.Sprintf("Input file %s does not exist", inv.Input), err), nil)
	}

	cfg, endpoint, err := d.resolve(inv)
	if err != nil {
		return d.report(err, nil)
	}

	logger, closeLog := logging.New(cfg.Logging, d.Stdout, d.Stderr)
	defer closeLog()
	logger = logger.With(slog.String("input", inv.Input), slog.String("language", inv.Language))

	dir := cfg.Directory()
	logger.Debug("Server directory loaded",
		slog.Int("servers", dir.Len()),
		slog.Any("languages", dir.Languages()),
		slog.String("endpoint", endpoint.Address()),
	)

	reg, m := metrics.NewRegistry(cfg.Metrics.Namespace)

	err = d.transcribe(ctx, inv, cfg, endpoint, logger, m)
	code := d.report(err, logger)

	m.RecordRun(code)
	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile, reg); err != nil {
			logger.Warn("Failed to write metrics", slog.String("error", err.Error()))
		}
	}

	return code
}

// resolve loads the configuration with environment and flag overrides and looks
// up the endpoint for the language as given on the command line
func (d *Driver) resolve(inv *Invocation) (*config.Config, directory.Endpoint, error) {
	env, err := d.loadEnv()
	if err != nil {
		return nil, directory.Endpoint{}, configFailure(err)
	}

	if inv.ConfigPath != "" {
		env.ConfigPath = inv.ConfigPath
	}
	if inv.LogLevel != "" {
		env.LogLevel = inv.LogLevel
	}
	if inv.MetricsFile != "" {
		env.MetricsFile = inv.MetricsFile
	}

	cfg, err := config.Load(env.ConfigPath, env)
	if err != nil {
		return nil, directory.Endpoint{}, configFailure(err)
	}

	endpoint, err := cfg.Directory().Lookup(inv.Language)
	if err != nil {
		return nil, directory.Endpoint{}, configFailure(err)
	}

	return cfg, endpoint, nil
}

func configFailure(err error) error {
	return fail(ErrConfig, fmt.Sprintf("Error reading config: %v", err), err)
}

func (d *Driver) loadEnv() (*config.Env, error) {
	if d.Environ != nil {
		return config.LoadEnvFrom(d.Environ)
	}
	return config.LoadEnv()
}

func (d *Driver) transcribe(ctx context.Context, inv *Invocation, cfg *config.Config, endpoint directory.Endpoint, logger *slog.Logger, m *metrics.Metrics) error {
	normalizer := d.Normalizer
	if normalizer == nil {
		normalizer = normalize.NewFFmpeg(cfg.Transcoder.Path, cfg.Transcoder.ExtraArgs, logging.Component(logger, "normalize"), m)
	}

	// The sibling may exist even when conversion fails
	tempPath := normalize.TempPath(inv.Input)
	defer func() { d.cleanup(tempPath, logger) }()

	wavPath, err := normalizer.Normalize(ctx, inv.Input)
	if err != nil {
		logger.Debug("Normalization failed", slog.String("error", err.Error()))
		if errors.Is(err, normalize.ErrMissingOutput) {
			return fail(normalize.ErrMissingOutput, fmt.Sprintf("Converted file %s not found", tempPath), err)
		}
		return fail(normalize.ErrConversion, "WAV conversion failed", err)
	}
	tempPath = wavPath

	if _, err := os.Stat(wavPath); err != nil {
		return fail(normalize.ErrMissingOutput, fmt.Sprintf("Converted file %s not found", wavPath), err)
	}

	inspect(wavPath, logger)

	client, err := transcription.NewClient(transcription.Config{
		Format:         audio.CanonicalFormat,
		BlockSize:      audio.BlockSize,
		ConnectTimeout: cfg.Session.GetConnectTimeoutDuration(),
		IOTimeout:      cfg.Session.GetIOTimeoutDuration(),
	}, logging.Component(logger, "transcription"), m)
	if err != nil {
		return fail(ErrTranscription, "Transcription failed", err)
	}

	text, ok := client.Transcribe(ctx, endpoint, transcription.StripRegion(inv.Language), wavPath)
	if !ok || text == "" {
		return fail(ErrTranscription, "Transcription failed", nil)
	}

	if err := os.WriteFile(inv.Output, []byte(text), 0o644); err != nil {
		return fail(ErrOutput, fmt.Sprintf("Error writing output file %s: %v", inv.Output, err), err)
	}

	fmt.Fprintf(d.Stdout, "Successfully transcribed to %s\n", inv.Output)
	return nil
}

// inspect logs when the normalized file does not match the stream descriptor.
// The file is streamed as is either way.
func inspect(path string, logger *slog.Logger) {
	info, err := audio.InspectWAVFile(path)
	if err != nil {
		logger.Warn("Normalized file is not a readable WAV", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	attrs := []any{
		slog.String("path", path),
		slog.Int("sample_rate", int(info.SampleRate)),
		slog.Int("channels", int(info.Channels)),
		slog.Int("bits_per_sample", int(info.BitsPerSample)),
		slog.Duration("duration", info.Duration),
	}

	if !info.IsCanonical() {
		logger.Warn("Normalized audio differs from "+audio.CanonicalFormat.String(), attrs...)
		return
	}
	logger.Debug("Normalized audio", attrs...)
}

func (d *Driver) cleanup(path string, logger *slog.Logger) {
	if err := normalize.Cleanup(path); err != nil {
		fmt.Fprintf(d.Stderr, "Error removing temporary file: %v\n", err)
		logger.Debug("Cleanup failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// report prints the diagnostic line of err and returns the exit code
func (d *Driver) report(err error, logger *slog.Logger) int {
	if err == nil {
		return 0
	}

	var failure *Failure
	if errors.As(err, &failure) {
		fmt.Fprintln(d.Stderr, failure.Message)
	} else {
		fmt.Fprintln(d.Stderr, err.Error())
	}

	if logger != nil {
		logger.Debug("Run failed", slog.String("kind", Kind(err)), slog.String("error", errorDetail(err)))
	}

	return ExitCode(err)
}

func errorDetail(err error) string {
	var failure *Failure
	if errors.As(err, &failure) && failure.Err != nil {
		return failure.Err.Error()
	}
	return err.Error()
}
