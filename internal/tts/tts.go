package tts

import "context"

// Synthesizer turns one text chunk into encoded audio. Implementations must
// be safe for concurrent use: the orchestrator synthesizes several chunks of
// the same reply in parallel.
type Synthesizer interface {
	// Synthesize returns the encoded audio for text. Text with nothing
	// pronounceable yields empty audio and no error.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
