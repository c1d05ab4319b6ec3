package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxalabs/voice-agent/internal/history"
	"github.com/voxalabs/voice-agent/internal/llm"
	"github.com/voxalabs/voice-agent/internal/observability"
)

// fakeStreamer replays a scripted token sequence.
type fakeStreamer struct {
	tokens   []llm.Token
	startErr error
	block    bool // after the scripted tokens, wait for ctx instead of closing
}

func (f *fakeStreamer) Stream(ctx context.Context, _ []history.Entry, _ string) (<-chan llm.Token, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	out := make(chan llm.Token)
	go func() {
		defer close(out)
		for _, tok := range f.tokens {
			select {
			case out <- tok:
			case <-ctx.Done():
				return
			}
		}
		if f.block {
			<-ctx.Done()
		}
	}()
	return out, nil
}

// fakeSynth echoes text bytes as audio, with optional per-text failures and
// delays to exercise out-of-order completion.
type fakeSynth struct {
	failOn  map[string]bool
	delayOn map[string]time.Duration
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	if d, ok := f.delayOn[text]; ok {
		time.Sleep(d)
	}
	if f.failOn[text] {
		return nil, errors.New("synthesis failed")
	}
	return []byte(text), nil
}

func tokens(texts ...string) []llm.Token {
	out := make([]llm.Token, len(texts))
	for i, t := range texts {
		out[i] = llm.Token{Text: t}
	}
	return out
}

func newTestResponder(streamer llm.TokenStreamer, synth *fakeSynth, archive *history.Archive) *Responder {
	return NewResponder(streamer, synth, archive, observability.NewSessionMetrics("test"),
		Config{Policy: DefaultChunkPolicy(), HistoryWindow: 10}, zerolog.Nop())
}

func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var chunks []Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return chunks
			}
			chunks = append(chunks, c)
		case <-timeout:
			t.Fatal("Timed out collecting chunks")
		}
	}
}

func TestResponder_SingleSentenceReply(t *testing.T) {
	archive := history.NewArchive()
	r := newTestResponder(
		&fakeStreamer{tokens: tokens("Hello", ",", " how", " are", " you", "?")},
		&fakeSynth{}, archive)

	chunks := collect(t, r.Respond(context.Background(), "hi there"))
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.Text != "Hello, how are you?" {
		t.Errorf("Unexpected text: %q", c.Text)
	}
	if !c.Final {
		t.Error("Single chunk must be final")
	}
	if len(c.Audio) == 0 {
		t.Error("Expected synthesized audio")
	}

	entries := archive.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected user and assistant entries, got %d", len(entries))
	}
	if entries[0].Role != history.RoleUser || entries[0].Content != "hi there" {
		t.Errorf("Unexpected user entry: %+v", entries[0])
	}
	if entries[1].Role != history.RoleAssistant || entries[1].Content != "Hello, how are you?" {
		t.Errorf("Unexpected assistant entry: %+v", entries[1])
	}
}

func TestResponder_OrderedDespiteSlowEarlyChunk(t *testing.T) {
	archive := history.NewArchive()
	r := newTestResponder(
		&fakeStreamer{tokens: tokens("One.", " Two.", " Three.")},
		&fakeSynth{delayOn: map[string]time.Duration{"One.": 50 * time.Millisecond}},
		archive)

	chunks := collect(t, r.Respond(context.Background(), "count"))
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("Chunk %d has index %d; emission must follow chunk order", i, c.Index)
		}
		if c.Final != (i == 2) {
			t.Errorf("Chunk %d: Final=%v", i, c.Final)
		}
	}
}

func TestResponder_SynthesisFailureKeepsTextAndOrder(t *testing.T) {
	archive := history.NewArchive()
	r := newTestResponder(
		&fakeStreamer{tokens: tokens("One.", " Two.", " Three.")},
		&fakeSynth{failOn: map[string]bool{"Two.": true}},
		archive)

	chunks := collect(t, r.Respond(context.Background(), "count"))
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	if chunks[1].Text != "Two." {
		t.Errorf("Failed chunk must keep its text, got %q", chunks[1].Text)
	}
	if len(chunks[1].Audio) != 0 {
		t.Error("Failed chunk must carry no audio")
	}
	if len(chunks[2].Audio) == 0 {
		t.Error("Chunk after the failure must still be synthesized")
	}

	// The archived reply includes the text whose audio was lost.
	entries := archive.Entries()
	if entries[1].Content != "One. Two. Three." {
		t.Errorf("Unexpected archived reply: %q", entries[1].Content)
	}
}

func TestResponder_GenerationRequestFailure(t *testing.T) {
	archive := history.NewArchive()
	r := newTestResponder(
		&fakeStreamer{startErr: errors.New("model offline")},
		&fakeSynth{}, archive)

	chunks := collect(t, r.Respond(context.Background(), "hello"))
	if len(chunks) != 1 {
		t.Fatalf("Expected a single fallback chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if !c.Fallback || !c.Final {
		t.Errorf("Expected final fallback chunk, got %+v", c)
	}
	if c.Text != FallbackText {
		t.Errorf("Unexpected fallback text: %q", c.Text)
	}

	// The fallback still completes and archives the turn.
	if archive.Exchanges() != 1 {
		t.Errorf("Fallback turn must complete one exchange, got %d", archive.Exchanges())
	}
	entries := archive.Entries()
	if entries[len(entries)-1].Content != FallbackText {
		t.Errorf("Expected the fallback text archived, got %q", entries[len(entries)-1].Content)
	}
}

func TestResponder_MidStreamFailureAppendsFallback(t *testing.T) {
	archive := history.NewArchive()
	toks := append(tokens("One."), llm.Token{Err: errors.New("stream died")})
	r := newTestResponder(&fakeStreamer{tokens: toks}, &fakeSynth{}, archive)

	chunks := collect(t, r.Respond(context.Background(), "hello"))
	if len(chunks) != 2 {
		t.Fatalf("Expected emitted chunk plus fallback, got %d", len(chunks))
	}
	if chunks[0].Text != "One." || chunks[0].Fallback {
		t.Errorf("Unexpected first chunk: %+v", chunks[0])
	}
	if !chunks[1].Fallback || !chunks[1].Final {
		t.Errorf("Expected final fallback chunk, got %+v", chunks[1])
	}

	// The partial reply plus the apology is what the user heard, and what
	// the archive keeps.
	if archive.Exchanges() != 1 {
		t.Errorf("Failed turn must still complete one exchange, got %d", archive.Exchanges())
	}
	entries := archive.Entries()
	want := "One. " + FallbackText
	if entries[len(entries)-1].Content != want {
		t.Errorf("Expected partial reply plus fallback archived, got %q", entries[len(entries)-1].Content)
	}
}

func TestResponder_CancellationStopsWithoutArchive(t *testing.T) {
	archive := history.NewArchive()
	r := newTestResponder(
		&fakeStreamer{tokens: tokens("Still going"), block: true},
		&fakeSynth{}, archive)

	ctx, cancel := context.WithCancel(context.Background())
	ch := r.Respond(ctx, "hello")

	time.Sleep(20 * time.Millisecond)
	cancel()

	chunks := collect(t, ch)
	for _, c := range chunks {
		if c.Final {
			t.Error("Interrupted reply must not emit a final chunk")
		}
	}
	if archive.Exchanges() != 0 {
		t.Error("Interrupted turn must not complete an exchange")
	}
}

func TestResponder_EmptyReply(t *testing.T) {
	archive := history.NewArchive()
	r := newTestResponder(&fakeStreamer{}, &fakeSynth{}, archive)

	chunks := collect(t, r.Respond(context.Background(), "hello"))
	if len(chunks) != 0 {
		t.Fatalf("Expected no chunks for an empty reply, got %d", len(chunks))
	}
	if archive.Exchanges() != 0 {
		t.Error("Empty reply must not complete an exchange")
	}
}
