package directory

import (
	"errors"
	"reflect"
	"testing"
)

func TestLookup(t *testing.T) {
	dir := New(map[string]Endpoint{
		"en":    {Host: "10.0.0.5", Port: 10300},
		"nl":    {Host: "whisper-nl.local", Port: 10301},
		"en-US": {Host: "::1", Port: 10302},
		"xx":    {Host: "", Port: 10303},
	})

	tests := []struct {
		name        string
		lang        string
		expected    Endpoint
		address     string
		expectError bool
		unknown     bool
	}{
		{name: "plain key", lang: "en", expected: Endpoint{Host: "10.0.0.5", Port: 10300}, address: "10.0.0.5:10300"},
		{name: "regional key matches exactly", lang: "en-US", expected: Endpoint{Host: "::1", Port: 10302}, address: "[::1]:10302"},
		{name: "missing key", lang: "de", expectError: true, unknown: true},
		{name: "regional key is not stripped for lookup", lang: "nl-BE", expectError: true, unknown: true},
		{name: "invalid entry", lang: "xx", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := dir.Lookup(tt.lang)

			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error but got %v", ep)
				}
				if errors.Is(err, ErrUnknownLanguage) != tt.unknown {
					t.Errorf("Unexpected ErrUnknownLanguage match for %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if ep != tt.expected {
				t.Errorf("Expected %+v, got %+v", tt.expected, ep)
			}
			if ep.Address() != tt.address {
				t.Errorf("Expected address %s, got %s", tt.address, ep.Address())
			}
		})
	}
}

func TestLanguages(t *testing.T) {
	servers := map[string]Endpoint{
		"nl": {Host: "a", Port: 1},
		"en": {Host: "b", Port: 2},
	}
	dir := New(servers)

	// Mutating the source map must not leak into the directory
	servers["fr"] = Endpoint{Host: "c", Port: 3}

	if got := dir.Languages(); !reflect.DeepEqual(got, []string{"en", "nl"}) {
		t.Errorf("Expected [en nl], got %v", got)
	}
	if dir.Len() != 2 {
		t.Errorf("Expected 2 languages, got %d", dir.Len())
	}
}

func TestEndpointValidate(t *testing.T) {
	tests := []struct {
		name        string
		endpoint    Endpoint
		expectError bool
	}{
		{name: "valid", endpoint: Endpoint{Host: "localhost", Port: 10300}},
		{name: "blank host", endpoint: Endpoint{Host: "  ", Port: 10300}, expectError: true},
		{name: "zero port", endpoint: Endpoint{Host: "localhost"}, expectError: true},
		{name: "port too large", endpoint: Endpoint{Host: "localhost", Port: 70000}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.endpoint.Validate()
			if tt.expectError && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}
