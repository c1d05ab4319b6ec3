package orchestrator

import "strings"

// ChunkPolicy controls where a streaming reply is cut into synthesis chunks.
type ChunkPolicy struct {
	// ClauseMinWords is the word count needed before a clause terminal
	// (, : ;) ends a chunk.
	ClauseMinWords int
	// MaxWords ends a chunk unconditionally, punctuation or not.
	MaxWords int
	// MinChars holds back boundary cuts shorter than this; tiny fragments
	// like "A." ride along with the next chunk.
	MinChars int
}

// DefaultChunkPolicy matches conversational pacing: cut eagerly at sentence
// ends, at clauses once there is enough to say, and never run longer than six
// words without a cut.
func DefaultChunkPolicy() ChunkPolicy {
	return ChunkPolicy{
		ClauseMinWords: 3,
		MaxWords:       6,
		MinChars:       3,
	}
}

func isSentenceEnd(r byte) bool { return r == '.' || r == '!' || r == '?' }
func isClauseEnd(r byte) bool   { return r == ',' || r == ':' || r == ';' }

// Chunker accumulates streamed tokens and cuts them into speakable chunks.
// Not safe for concurrent use; one chunker serves one reply.
type Chunker struct {
	policy ChunkPolicy
	buf    strings.Builder
}

// NewChunker creates a chunker with the given policy.
func NewChunker(policy ChunkPolicy) *Chunker {
	if policy.ClauseMinWords <= 0 {
		policy.ClauseMinWords = 3
	}
	if policy.MaxWords <= 0 {
		policy.MaxWords = 6
	}
	return &Chunker{policy: policy}
}

// Feed appends one token and reports whether a chunk boundary was reached.
// At most one chunk is produced per token; tokens are a few characters, so a
// single token never completes two chunks.
func (c *Chunker) Feed(token string) (string, bool) {
	c.buf.WriteString(token)

	text := strings.TrimSpace(c.buf.String())
	if text == "" {
		return "", false
	}

	last := text[len(text)-1]
	words := len(strings.Fields(text))

	cut := false
	switch {
	case isSentenceEnd(last):
		cut = len(text) >= c.policy.MinChars
	case isClauseEnd(last):
		cut = words >= c.policy.ClauseMinWords
	default:
		cut = words >= c.policy.MaxWords
	}
	if !cut {
		return "", false
	}

	c.buf.Reset()
	return text, true
}

// Flush returns whatever remains after the token stream ended. The minimum
// length floor does not apply: trailing text is spoken no matter how short.
func (c *Chunker) Flush() (string, bool) {
	text := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	return text, text != ""
}
