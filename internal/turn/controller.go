package turn

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxalabs/voice-agent/internal/observability"
	"github.com/voxalabs/voice-agent/internal/orchestrator"
	"github.com/voxalabs/voice-agent/internal/stt"
	"github.com/voxalabs/voice-agent/internal/vad"
)

// Sink receives turn progress events. Implemented by the session layer to
// forward them to the client.
type Sink interface {
	// OnSpeechEnded fires when a segment closed and the turn begins,
	// carrying the segment's byte length.
	OnSpeechEnded(bytes int)
	// OnTranscript delivers the recognized user text.
	OnTranscript(text string)
	// OnChunk delivers one ordered reply chunk.
	OnChunk(chunk orchestrator.Chunk)
	// OnTurnComplete fires after the last chunk with turn timings.
	OnTurnComplete(stats Stats)
}

// Stats summarizes one completed turn.
type Stats struct {
	Transcript    string
	ReplyChunks   int
	Fallback      bool
	TranscribeFor time.Duration
	RespondFor    time.Duration
	TotalFor      time.Duration
}

// Controller drives one session's turns. A turn owns the segmenter: it is
// locked for the whole transcribe-generate-speak pipeline so assistant
// playback picked up by the microphone cannot start a new segment. Turns are
// numbered; only the newest turn may clear the shared cancel and unlock the
// segmenter on exit, so an interrupted turn still unwinding cannot disturb
// the turn that replaced it.
type Controller struct {
	seg         *vad.Segmenter
	transcriber stt.Transcriber
	responder   *orchestrator.Responder
	metrics     *observability.Metrics
	log         zerolog.Logger

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// NewController wires a controller for one session.
func NewController(seg *vad.Segmenter, transcriber stt.Transcriber, responder *orchestrator.Responder, metrics *observability.Metrics, log zerolog.Logger) *Controller {
	return &Controller{
		seg:         seg,
		transcriber: transcriber,
		responder:   responder,
		metrics:     metrics,
		log:         log,
	}
}

// HandleSegment runs one full turn for a closed speech segment. Blocking;
// the session layer calls it from a dedicated goroutine.
func (c *Controller) HandleSegment(ctx context.Context, segment vad.Segment, sink Sink) {
	turnCtx, cancel := context.WithCancel(ctx)
	id := c.beginTurn(cancel)
	defer func() {
		cancel()
		c.endTurn(id)
	}()

	c.seg.SetLocked(true)
	c.metrics.RecordTurnStart()
	started := time.Now()
	sink.OnSpeechEnded(len(segment.PCM))

	c.metrics.RecordSTTStart()
	transcript, err := c.transcriber.Transcribe(turnCtx, segment.PCM)
	c.metrics.RecordSTTEnd(err == nil)
	transcribeFor := time.Since(started)
	if err != nil {
		c.log.Error().Err(err).Msg("Transcription failed, skipping turn")
		c.metrics.RecordError("transcription", "stt")
		c.metrics.RecordTurnEnd("skipped")
		return
	}

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		c.log.Debug().Msg("Empty transcript, skipping turn")
		c.metrics.RecordTurnEnd("skipped")
		return
	}
	sink.OnTranscript(transcript)

	respondStart := time.Now()
	chunkCount := 0
	fallback := false
	for chunk := range c.responder.Respond(turnCtx, transcript) {
		chunkCount++
		if chunk.Fallback {
			fallback = true
		}
		sink.OnChunk(chunk)
	}

	if turnCtx.Err() != nil {
		c.log.Info().Msg("Turn interrupted")
		c.metrics.RecordTurnEnd("interrupted")
		return
	}

	outcome := "completed"
	if fallback {
		outcome = "fallback"
	}
	c.metrics.RecordTurnEnd(outcome)

	sink.OnTurnComplete(Stats{
		Transcript:    transcript,
		ReplyChunks:   chunkCount,
		Fallback:      fallback,
		TranscribeFor: transcribeFor,
		RespondFor:    time.Since(respondStart),
		TotalFor:      time.Since(started),
	})
}

// Interrupt cancels the in-flight turn, if any, and returns the segmenter to
// idle immediately so the user can speak again without waiting for the turn
// goroutine to unwind.
func (c *Controller) Interrupt() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.seg.Reset()
}

// Active reports whether a turn is currently running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// beginTurn registers a new turn and returns its number.
func (c *Controller) beginTurn(cancel context.CancelFunc) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.cancel = cancel
	return c.seq
}

// endTurn releases the controller and segmenter, but only if no newer turn
// has started meanwhile: a stale turn unwinding after an interrupt must not
// unlock the segmenter under its successor or drop the successor's cancel.
func (c *Controller) endTurn(id uint64) {
	c.mu.Lock()
	current := c.seq == id
	if current {
		c.cancel = nil
	}
	c.mu.Unlock()

	if current {
		c.seg.SetLocked(false)
	}
}
