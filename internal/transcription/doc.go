// Package transcription implements the client side of a transcription session.
// A session opens one connection, sends the request and the audio stream, and
// waits for the first transcript event or the end of the stream.
package transcription
