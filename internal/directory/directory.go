// Package directory resolves a language identifier to the transcription server
// that handles it.
package directory

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// ErrUnknownLanguage is returned when no server is configured for a language
var ErrUnknownLanguage = errors.New("no server config for language")

// Endpoint identifies one transcription server
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns the dialable host:port form of the endpoint
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Validate validates the endpoint fields
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", e.Port)
	}

	return nil
}

func (e Endpoint) String() string {
	return e.Address()
}

// Directory maps language keys to endpoints. It is read-only after construction.
type Directory struct {
	servers map[string]Endpoint
}

// New creates a directory from a language → endpoint mapping
func New(servers map[string]Endpoint) *Directory {
	copied := make(map[string]Endpoint, len(servers))
	for lang, ep := range servers {
		copied[lang] = ep
	}
	return &Directory{servers: copied}
}

// Lookup returns the endpoint configured for lang. Keys match exactly, so
// "en-US" and "en" are distinct entries.
func (d *Directory) Lookup(lang string) (Endpoint, error) {
	ep, ok := d.servers[lang]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %s", ErrUnknownLanguage, lang)
	}

	if err := ep.Validate(); err != nil {
		return Endpoint{}, fmt.Errorf("server for language %s: %w", lang, err)
	}

	return ep, nil
}

// Languages returns the configured language keys in sorted order
func (d *Directory) Languages() []string {
	langs := make([]string, 0, len(d.servers))
	for lang := range d.servers {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Len returns the number of configured languages
func (d *Directory) Len() int {
	return len(d.servers)
}
