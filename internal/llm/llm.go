package llm

import (
	"context"

	"github.com/voxalabs/voice-agent/internal/history"
)

// Token is one streamed fragment of a reply. A non-nil Err terminates the
// stream; no further tokens follow it.
type Token struct {
	Text string
	Err  error
}

// TokenStreamer produces a reply as a stream of text fragments. The returned
// channel is closed when generation finishes, fails, or ctx is canceled.
type TokenStreamer interface {
	Stream(ctx context.Context, recent []history.Entry, userText string) (<-chan Token, error)
}
