// Package protocol implements the event framing spoken with the transcription server.
// Each event is a JSON header line carrying the event type and the lengths of an
// optional JSON data block and an optional binary payload that follow it.
package protocol
