package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/audio"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/directory"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/normalize"
	"github.com/Bram-diederik/homeassistant-asterisk-assist/internal/stubserver"
)

// fakeNormalizer writes a fixed file next to the input instead of running ffmpeg
type fakeNormalizer struct {
	data   []byte
	create bool
	err    error
	calls  int
}

func (f *fakeNormalizer) Normalize(_ context.Context, input string) (string, error) {
	f.calls++
	output := normalize.TempPath(input)
	if f.create {
		if err := os.WriteFile(output, f.data, 0o644); err != nil {
			return "", err
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return output, nil
}

func canonicalWAV(t *testing.T) []byte {
	t.Helper()
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i * 7)
	}
	data, err := audio.EncodeWAV(samples, audio.CanonicalFormat)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	return data
}

type fixture struct {
	dir        string
	input      string
	output     string
	configPath string
	stdout     bytes.Buffer
	stderr     bytes.Buffer
}

func newFixture(t *testing.T, servers map[string]directory.Endpoint) *fixture {
	t.Helper()

	f := &fixture{dir: t.TempDir()}
	f.input = filepath.Join(f.dir, "message.ogg")
	f.output = filepath.Join(f.dir, "message.txt")
	f.configPath = filepath.Join(f.dir, "whisper_servers.yaml")

	if err := os.WriteFile(f.input, []byte("OggS fake"), 0o644); err != nil {
		t.Fatalf("Failed to write input: %v", err)
	}

	var yaml strings.Builder
	yaml.WriteString("servers:\n")
	for lang, ep := range servers {
		fmt.Fprintf(&yaml, "  %s:\n    host: %s\n    port: %d\n", lang, ep.Host, ep.Port)
	}
	if err := os.WriteFile(f.configPath, []byte(yaml.String()), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	return f
}

func (f *fixture) driver(n normalize.Normalizer) *Driver {
	return &Driver{
		Stdout:     &f.stdout,
		Stderr:     &f.stderr,
		Environ:    map[string]string{"STT_CONFIG": f.configPath},
		Normalizer: n,
	}
}

func (f *fixture) tempExists() bool {
	_, err := os.Stat(normalize.TempPath(f.input))
	return err == nil
}

func (f *fixture) outputExists() bool {
	_, err := os.Stat(f.output)
	return err == nil
}

func startStub(t *testing.T, opts stubserver.Options) *stubserver.Server {
	t.Helper()
	s, err := stubserver.Start("127.0.0.1:0", opts)
	if err != nil {
		t.Fatalf("Failed to start stub server: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func closedEndpoint(t *testing.T) directory.Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return directory.Endpoint{Host: "127.0.0.1", Port: port}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectError bool
		lang        string
		input       string
		output      string
		configPath  string
	}{
		{
			name:   "canonical form",
			args:   []string{"stt", "--lang", "en", "in.wav", "out.txt"},
			lang:   "en",
			input:  "in.wav",
			output: "out.txt",
		},
		{
			name:   "flag after positionals",
			args:   []string{"stt", "in.wav", "out.txt", "--lang=nl-NL"},
			lang:   "nl-NL",
			input:  "in.wav",
			output: "out.txt",
		},
		{
			name:       "with config",
			args:       []string{"stt", "--config", "/tmp/s.yaml", "--lang", "de", "a", "b"},
			lang:       "de",
			input:      "a",
			output:     "b",
			configPath: "/tmp/s.yaml",
		},
		{name: "no arguments", args: []string{"stt"}, expectError: true},
		{name: "missing lang", args: []string{"stt", "in.wav", "out.txt"}, expectError: true},
		{name: "one positional", args: []string{"stt", "--lang", "en", "in.wav"}, expectError: true},
		{name: "three positionals", args: []string{"stt", "--lang", "en", "a", "b", "c"}, expectError: true},
		{name: "unknown flag", args: []string{"stt", "--lang", "en", "--fast", "a", "b"}, expectError: true},
		{name: "lang without value", args: []string{"stt", "a", "b", "--lang"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := Parse(tt.args)
			if tt.expectError {
				if !errors.Is(err, ErrUsage) {
					t.Errorf("Expected usage error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if inv.Language != tt.lang || inv.Input != tt.input || inv.Output != tt.output || inv.ConfigPath != tt.configPath {
				t.Errorf("Unexpected invocation %+v", inv)
			}
		})
	}
}

func TestRunUsage(t *testing.T) {
	f := newFixture(t, map[string]directory.Endpoint{"en": {Host: "127.0.0.1", Port: 1}})
	norm := &fakeNormalizer{}

	code := f.driver(norm).Run(context.Background(), []string{"/usr/local/bin/stt", "--lang", "en", f.input})
	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}

	expected := "Usage: /usr/local/bin/stt --lang <lang> <wav_file> <output_file>"
	if !strings.Contains(f.stderr.String(), expected) {
		t.Errorf("Expected usage line, got %q", f.stderr.String())
	}
	if norm.calls != 0 {
		t.Error("Normalizer must not run on usage errors")
	}
}

func TestRunMissingInput(t *testing.T) {
	f := newFixture(t, map[string]directory.Endpoint{"en": {Host: "127.0.0.1", Port: 1}})
	missing := filepath.Join(f.dir, "nope.wav")

	code := f.driver(&fakeNormalizer{}).Run(context.Background(), []string{"stt", "--lang", "en", missing, f.output})
	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
	if !strings.Contains(f.stderr.String(), "Input file "+missing+" does not exist") {
		t.Errorf("Unexpected stderr %q", f.stderr.String())
	}
}

func TestRunConfigFailures(t *testing.T) {
	tests := []struct {
		name     string
		lang     string
		environ  func(f *fixture) map[string]string
		contains string
	}{
		{
			name:     "unknown language",
			lang:     "de",
			contains: "Error reading config: no server config for language: de",
		},
		{
			name: "lookup uses the unstripped language",
			lang: "en-US",
			contains: "no server config for language: en-US",
		},
		{
			name: "unreadable directory",
			lang: "en",
			environ: func(f *fixture) map[string]string {
				return map[string]string{"STT_CONFIG": filepath.Join(f.dir, "missing.yaml")}
			},
			contains: "Error reading config: failed to read config file",
		},
		{
			name: "malformed environment",
			lang: "en",
			environ: func(f *fixture) map[string]string {
				return map[string]string{"STT_CONFIG": f.configPath, "STT_IO_TIMEOUT": "later"}
			},
			contains: "Error reading config: environment variables are invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]directory.Endpoint{"en": {Host: "127.0.0.1", Port: 1}})
			norm := &fakeNormalizer{}
			d := f.driver(norm)
			if tt.environ != nil {
				d.Environ = tt.environ(f)
			}

			code := d.Run(context.Background(), []string{"stt", "--lang", tt.lang, f.input, f.output})
			if code != 1 {
				t.Errorf("Expected exit code 1, got %d", code)
			}
			if !strings.Contains(f.stderr.String(), tt.contains) {
				t.Errorf("Expected stderr to contain %q, got %q", tt.contains, f.stderr.String())
			}
			if norm.calls != 0 {
				t.Error("Normalizer must not run when the endpoint cannot be resolved")
			}
		})
	}
}

func TestRunConversionFailures(t *testing.T) {
	tests := []struct {
		name     string
		norm     *fakeNormalizer
		contains string
	}{
		{
			name:     "transcoder fails after writing a partial file",
			norm:     &fakeNormalizer{create: true, data: []byte("partial"), err: normalize.ErrConversion},
			contains: "WAV conversion failed",
		},
		{
			name:     "transcoder fails",
			norm:     &fakeNormalizer{err: errors.New("exit status 1")},
			contains: "WAV conversion failed",
		},
		{
			name:     "transcoder reports missing output",
			norm:     &fakeNormalizer{err: normalize.ErrMissingOutput},
			contains: "not found",
		},
		{
			name:     "output missing after success",
			norm:     &fakeNormalizer{},
			contains: ".converted.wav not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]directory.Endpoint{"en": closedEndpoint(t)})

			code := f.driver(tt.norm).Run(context.Background(), []string{"stt", "--lang", "en", f.input, f.output})
			if code != 1 {
				t.Errorf("Expected exit code 1, got %d", code)
			}
			if !strings.Contains(f.stderr.String(), tt.contains) {
				t.Errorf("Expected stderr to contain %q, got %q", tt.contains, f.stderr.String())
			}
			if f.tempExists() {
				t.Error("Temporary file must be removed")
			}
			if f.outputExists() {
				t.Error("No output file expected")
			}
		})
	}
}

func TestRunConnectionRefused(t *testing.T) {
	f := newFixture(t, map[string]directory.Endpoint{"en": closedEndpoint(t)})
	norm := &fakeNormalizer{create: true, data: canonicalWAV(t)}

	code := f.driver(norm).Run(context.Background(), []string{"stt", "--lang", "en", f.input, f.output})
	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
	if f.outputExists() {
		t.Error("No output file expected after a connection failure")
	}
	if f.tempExists() {
		t.Error("Temporary file must be removed after a failed transcription")
	}

	stderr := f.stderr.String()
	if !strings.Contains(stderr, "Transcription failed") {
		t.Errorf("Expected failure line, got %q", stderr)
	}
	if !strings.Contains(stderr, "Error transcribing "+normalize.TempPath(f.input)) {
		t.Errorf("Expected diagnostic naming the file, got %q", stderr)
	}
}

func TestRunEndToEnd(t *testing.T) {
	s := startStub(t, stubserver.Options{Transcript: "ok"})
	f := newFixture(t, map[string]directory.Endpoint{"en-US": s.Endpoint()})
	wav := canonicalWAV(t)
	norm := &fakeNormalizer{create: true, data: wav}

	code := f.driver(norm).Run(context.Background(), []string{"stt", "--lang", "en-US", f.input, f.output})
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d (stderr %q)", code, f.stderr.String())
	}

	data, err := os.ReadFile(f.output)
	if err != nil {
		t.Fatalf("Failed to read output: %v", err)
	}
	if string(data) != "ok" {
		t.Errorf("Expected output 'ok', got %q", data)
	}

	if !strings.Contains(f.stdout.String(), "Successfully transcribed to "+f.output) {
		t.Errorf("Expected success line, got %q", f.stdout.String())
	}
	if f.tempExists() {
		t.Error("Temporary file must be removed after success")
	}

	received := s.Received()
	if len(received) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(received))
	}
	if received[0].Language != "en" {
		t.Errorf("Expected stripped language en on the wire, got %q", received[0].Language)
	}
	if !bytes.Equal(received[0].Audio, wav) {
		t.Error("The normalized file must be streamed byte for byte")
	}
}

func TestRunIgnoresBrokenEntryForOtherLanguage(t *testing.T) {
	s := startStub(t, stubserver.Options{Transcript: "ok"})
	f := newFixture(t, map[string]directory.Endpoint{
		"en": s.Endpoint(),
		"de": {Host: "", Port: 0},
	})

	code := f.driver(&fakeNormalizer{create: true, data: canonicalWAV(t)}).Run(context.Background(), []string{"stt", "--lang", "en", "--log-level", "debug", f.input, f.output})
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d (stderr %q)", code, f.stderr.String())
	}
	if data, err := os.ReadFile(f.output); err != nil || string(data) != "ok" {
		t.Errorf("Expected output 'ok', got %q (%v)", data, err)
	}
	if stderr := f.stderr.String(); !strings.Contains(stderr, "servers=2") || !strings.Contains(stderr, "languages=") {
		t.Errorf("Expected directory summary in debug logs, got %q", stderr)
	}

	broken := newFixture(t, map[string]directory.Endpoint{
		"en": s.Endpoint(),
		"de": {Host: "", Port: 0},
	})
	norm := &fakeNormalizer{}
	code = broken.driver(norm).Run(context.Background(), []string{"stt", "--lang", "de", broken.input, broken.output})
	if code != 1 {
		t.Errorf("Expected exit code 1 for the broken entry, got %d", code)
	}
	if !strings.Contains(broken.stderr.String(), "Error reading config: server for language de") {
		t.Errorf("Expected lookup failure for de, got %q", broken.stderr.String())
	}
	if norm.calls != 0 {
		t.Error("Normalizer must not run when the endpoint is invalid")
	}
}

func TestRunEmptyTranscriptFails(t *testing.T) {
	s := startStub(t, stubserver.Options{Transcript: ""})
	f := newFixture(t, map[string]directory.Endpoint{"en": s.Endpoint()})

	code := f.driver(&fakeNormalizer{create: true, data: canonicalWAV(t)}).Run(context.Background(), []string{"stt", "--lang", "en", f.input, f.output})
	if code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
	if f.outputExists() {
		t.Error("Empty transcripts must not be written")
	}
	if !strings.Contains(f.stderr.String(), "Transcription failed") {
		t.Errorf("Expected failure line, got %q", f.stderr.String())
	}
}

func TestRunWritesMetricsTextfile(t *testing.T) {
	s := startStub(t, stubserver.Options{Transcript: "goedemorgen"})
	f := newFixture(t, map[string]directory.Endpoint{"nl": s.Endpoint()})
	metricsPath := filepath.Join(f.dir, "stt.prom")

	code := f.driver(&fakeNormalizer{create: true, data: canonicalWAV(t)}).Run(context.Background(),
		[]string{"stt", "--lang", "nl", "--metrics-file", metricsPath, f.input, f.output})
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d (stderr %q)", code, f.stderr.String())
	}

	data, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("Expected metrics textfile: %v", err)
	}

	for _, want := range []string{
		`stt_runs_total{exit_code="0"} 1`,
		`stt_transcription_session_outcomes_total{outcome="transcript"} 1`,
		`stt_protocol_events_sent_total{type="audio-stop"} 1`,
		"stt_last_run_success 1",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Expected %q in metrics:\n%s", want, data)
		}
	}
}

func TestRunWithFFmpegBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}

	s := startStub(t, stubserver.Options{Transcript: "via ffmpeg"})
	f := newFixture(t, map[string]directory.Endpoint{"en": s.Endpoint()})

	// Stand-in transcoder: copy the -i argument to the last argument
	script := filepath.Join(f.dir, "ffmpeg")
	body := "#!/bin/sh\nwhile [ \"$1\" != \"-i\" ]; do shift; done\nin=\"$2\"\nfor last; do :; done\ncp \"$in\" \"$last\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}

	d := f.driver(nil)
	d.Environ["STT_FFMPEG_PATH"] = script

	code := d.Run(context.Background(), []string{"stt", "--lang", "en", f.input, f.output})
	if code != 0 {
		t.Fatalf("Expected exit code 0, got %d (stderr %q)", code, f.stderr.String())
	}

	data, _ := os.ReadFile(f.output)
	if string(data) != "via ffmpeg" {
		t.Errorf("Unexpected output %q", data)
	}
	if f.tempExists() {
		t.Error("Temporary file must be removed")
	}
	if got := s.Received()[0].Audio; string(got) != "OggS fake" {
		t.Errorf("Expected converted bytes to be streamed, got %q", got)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, "ok"},
		{fail(ErrUsage, "usage", nil), "usage"},
		{fail(ErrInput, "missing", os.ErrNotExist), "input"},
		{fail(ErrConfig, "config", errors.New("boom")), "config"},
		{fail(normalize.ErrConversion, "WAV conversion failed", nil), "conversion"},
		{fail(normalize.ErrMissingOutput, "not found", nil), "conversion"},
		{fail(ErrTranscription, "Transcription failed", nil), "transcription"},
		{fail(ErrOutput, "write", nil), "output"},
		{errors.New("other"), "internal"},
	}

	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.expected {
			t.Errorf("Kind(%v) = %s, expected %s", tt.err, got, tt.expected)
		}
		if tt.err != nil && ExitCode(tt.err) != 1 {
			t.Errorf("ExitCode(%v) must be 1", tt.err)
		}
	}

	if ExitCode(nil) != 0 {
		t.Error("ExitCode(nil) must be 0")
	}

	failure := fail(ErrInput, "Input file x does not exist", os.ErrNotExist)
	if !errors.Is(failure, os.ErrNotExist) {
		t.Error("Failure must unwrap to its cause")
	}
}
