// Package config provides configuration loading and validation for the speech-to-text bridge.
// It reads the YAML server directory file, applies defaults, and merges environment overrides.
package config
