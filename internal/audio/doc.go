// Package audio describes the canonical PCM stream format, reads normalized audio
// in fixed-size blocks for streaming, and inspects WAV files for diagnostics.
package audio
