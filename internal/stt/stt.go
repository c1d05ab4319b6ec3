package stt

import "context"

// Transcriber converts one finished speech segment to text. Implementations
// must be safe for concurrent use across sessions.
type Transcriber interface {
	// Transcribe sends raw 16-bit little-endian PCM and returns the
	// transcript, which may be empty when the segment held no words.
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}
