package orchestrator

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/voxalabs/voice-agent/internal/history"
	"github.com/voxalabs/voice-agent/internal/llm"
	"github.com/voxalabs/voice-agent/internal/observability"
	"github.com/voxalabs/voice-agent/internal/tts"
)

// Chunk is one ordered piece of the assistant's spoken reply. Audio may be
// empty when synthesis failed or the text had nothing pronounceable; the text
// is still delivered so the client can render it.
type Chunk struct {
	Index    int
	Text     string
	Audio    []byte
	Final    bool
	Fallback bool
}

// FallbackText is spoken when generation fails outright.
const FallbackText = "I'm sorry, I'm having trouble responding right now. Please try again."

// Config holds the responder's tunables.
type Config struct {
	Policy        ChunkPolicy
	HistoryWindow int
	FallbackText  string
}

// Responder runs one reply: it streams tokens from the model, cuts them into
// chunks, synthesizes the chunks concurrently, and emits them strictly in
// order. The full reply text is archived once, only if the turn was not
// interrupted.
type Responder struct {
	streamer llm.TokenStreamer
	synth    tts.Synthesizer
	archive  *history.Archive
	metrics  *observability.Metrics
	cfg      Config
	log      zerolog.Logger
}

// NewResponder wires a responder for one session.
func NewResponder(streamer llm.TokenStreamer, synth tts.Synthesizer, archive *history.Archive, metrics *observability.Metrics, cfg Config, log zerolog.Logger) *Responder {
	if cfg.FallbackText == "" {
		cfg.FallbackText = FallbackText
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	return &Responder{
		streamer: streamer,
		synth:    synth,
		archive:  archive,
		metrics:  metrics,
		cfg:      cfg,
		log:      log,
	}
}

// synthJob carries one chunk's synthesis result. The dispatcher queues the
// jobs in chunk order; each job's result arrives on its own channel, so slow
// synthesis of chunk k never lets chunk k+1 jump the line.
type synthJob struct {
	result chan Chunk
}

// Respond generates and voices the reply to transcript. The returned channel
// yields chunks with contiguous indices and closes after the final one. On
// cancellation it closes early without a final chunk and without archiving.
func (r *Responder) Respond(ctx context.Context, transcript string) <-chan Chunk {
	out := make(chan Chunk)
	gate := make(chan synthJob, 16)

	go r.dispatch(ctx, transcript, gate)
	go r.emit(ctx, gate, out)

	return out
}

// dispatch consumes the token stream, cuts chunks, and starts one synthesis
// goroutine per chunk.
func (r *Responder) dispatch(ctx context.Context, transcript string, gate chan<- synthJob) {
	defer close(gate)

	recent := r.archive.Recent(r.cfg.HistoryWindow)
	r.archive.AppendUser(transcript)

	r.metrics.RecordGenerationStart()
	tokens, err := r.streamer.Stream(ctx, recent, transcript)
	if err != nil {
		r.log.Error().Err(err).Msg("Generation request failed")
		r.metrics.RecordGenerationEnd(false)
		r.metrics.RecordError("generation", "llm")
		r.startSynth(ctx, gate, 0, r.cfg.FallbackText, true)
		r.archiveReply(ctx, r.cfg.FallbackText)
		return
	}

	chunker := NewChunker(r.cfg.Policy)
	var full strings.Builder
	idx := 0
	first := true

	for tok := range tokens {
		if tok.Err != nil {
			r.log.Error().Err(tok.Err).Msg("Generation stream failed")
			r.metrics.RecordGenerationEnd(false)
			r.metrics.RecordError("generation", "llm")
			r.startSynth(ctx, gate, idx, r.cfg.FallbackText, true)
			// The user hears the partial reply plus the apology, so
			// that is what the archive records.
			r.archiveReply(ctx, strings.TrimSpace(full.String())+" "+r.cfg.FallbackText)
			return
		}
		if first {
			r.metrics.RecordFirstToken()
			first = false
		}
		full.WriteString(tok.Text)
		if text, ok := chunker.Feed(tok.Text); ok {
			if !r.startSynth(ctx, gate, idx, text, false) {
				return
			}
			idx++
		}
	}

	if ctx.Err() != nil {
		return
	}

	if text, ok := chunker.Flush(); ok {
		if !r.startSynth(ctx, gate, idx, text, false) {
			return
		}
	}
	r.metrics.RecordGenerationEnd(true)
	r.archiveReply(ctx, full.String())
}

// archiveReply appends the assistant's text and completes the exchange,
// exactly once per turn. Interrupted turns archive nothing.
func (r *Responder) archiveReply(ctx context.Context, reply string) {
	reply = strings.TrimSpace(reply)
	if reply == "" || ctx.Err() != nil {
		return
	}
	r.archive.AppendAssistant(reply)
}

// startSynth queues the chunk's slot in arrival order, then synthesizes in
// the background. Returns false when the context died before the slot could
// be queued.
func (r *Responder) startSynth(ctx context.Context, gate chan<- synthJob, idx int, text string, fallback bool) bool {
	job := synthJob{result: make(chan Chunk, 1)}
	select {
	case gate <- job:
	case <-ctx.Done():
		return false
	}

	go func() {
		r.metrics.RecordTTSStart()
		audio, err := r.synth.Synthesize(ctx, text)
		r.metrics.RecordTTSEnd(err == nil)
		if err != nil {
			// Text still reaches the client; only the voice is lost.
			r.log.Warn().Err(err).Int("chunk", idx).Msg("Synthesis failed, sending text-only chunk")
			r.metrics.RecordError("synthesis", "tts")
			audio = nil
		}
		job.result <- Chunk{Index: idx, Text: text, Audio: audio, Fallback: fallback}
	}()
	return true
}

// emit forwards finished chunks in index order. One chunk is held back so the
// last can be flagged Final when the gate closes.
func (r *Responder) emit(ctx context.Context, gate <-chan synthJob, out chan<- Chunk) {
	defer close(out)

	var held *Chunk
	for job := range gate {
		var cur Chunk
		select {
		case cur = <-job.result:
		case <-ctx.Done():
			return
		}

		if held != nil {
			select {
			case out <- *held:
			case <-ctx.Done():
				return
			}
		}
		held = &cur
	}

	if held == nil || ctx.Err() != nil {
		return
	}
	held.Final = true
	select {
	case out <- *held:
	case <-ctx.Done():
	}
}
