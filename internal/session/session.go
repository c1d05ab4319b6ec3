package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxalabs/voice-agent/internal/history"
	"github.com/voxalabs/voice-agent/internal/llm"
	"github.com/voxalabs/voice-agent/internal/observability"
	"github.com/voxalabs/voice-agent/internal/orchestrator"
	"github.com/voxalabs/voice-agent/internal/stt"
	"github.com/voxalabs/voice-agent/internal/tts"
	"github.com/voxalabs/voice-agent/internal/turn"
	"github.com/voxalabs/voice-agent/internal/vad"
)

// Deps carries the shared collaborators every session is built from. The
// classifier, transcriber, streamer, synthesizer and saver are shared across
// sessions; segmenter, archive and controller are per-session.
type Deps struct {
	VADConfig   vad.Config
	Classifier  vad.Classifier
	Transcriber stt.Transcriber
	Streamer    llm.TokenStreamer
	Synth       tts.Synthesizer
	Saver       history.Saver
	Responder   orchestrator.Config
	Greeting    string
}

// Session binds one client connection to its speech pipeline. The read loop
// is sequential, which serializes Segmenter.Process; turn work runs on its
// own goroutine and reports back through the turn.Sink methods.
type Session struct {
	mu   sync.Mutex
	id   string
	conn *websocket.Conn

	seg     *vad.Segmenter
	ctl     *turn.Controller
	archive *history.Archive
	synth   tts.Synthesizer
	saver   history.Saver

	greeting string
	manager  *Manager
	metrics  *observability.Metrics
	log      zerolog.Logger

	writeMu sync.Mutex
}

// NewSession assembles the per-session pipeline around conn. manager may be
// nil when sessions are managed externally (tests).
func NewSession(id string, conn *websocket.Conn, deps Deps, manager *Manager, log zerolog.Logger) *Session {
	metrics := observability.NewSessionMetrics(id)
	archive := history.NewArchive()
	seg := vad.NewSegmenter(deps.VADConfig, deps.Classifier, log)
	responder := orchestrator.NewResponder(deps.Streamer, deps.Synth, archive, metrics, deps.Responder, log)
	ctl := turn.NewController(seg, deps.Transcriber, responder, metrics, log)

	return &Session{
		id:       id,
		conn:     conn,
		seg:      seg,
		ctl:      ctl,
		archive:  archive,
		synth:    deps.Synth,
		saver:    deps.Saver,
		greeting: deps.Greeting,
		manager:  manager,
		metrics:  metrics,
		log:      log,
	}
}

// ID returns the session's current id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// attach swaps in a new connection after a resume.
func (s *Session) attach(conn *websocket.Conn) {
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()
}

// connection returns the current connection under the same lock attach and
// send use, so the read loop never sees a half-swapped pointer.
func (s *Session) connection() *websocket.Conn {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn
}

// Run drives the read loop until the connection drops or ctx ends. The
// greeting is voiced only on a fresh conversation, not on resume.
func (s *Session) Run(ctx context.Context) {
	s.metrics.RecordSessionStart()
	defer s.metrics.RecordSessionEnd()
	defer s.ctl.Interrupt()

	s.send(readyMessage{Type: MsgReady, SessionID: s.ID()})
	if s.archive.Len() == 0 {
		s.sendGreeting(ctx)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := s.connection().ReadMessage()
		if err != nil {
			s.log.Debug().Err(err).Msg("Connection closed")
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("malformed message")
			continue
		}
		s.handle(ctx, msg)
	}
}

func (s *Session) handle(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case MsgAudio:
		s.handleAudio(ctx, msg.Audio)
	case MsgInterrupt:
		s.ctl.Interrupt()
		s.send(simpleMessage{Type: MsgInterrupted})
	case MsgClear:
		s.archive.Clear()
		s.send(simpleMessage{Type: MsgCleared})
	case MsgGetHistory:
		s.send(historyMessage{
			Type:      MsgHistory,
			Exchanges: s.archive.Exchanges(),
			Messages:  s.archive.Entries(),
		})
	case MsgNewSession:
		s.handleNewSession(ctx)
	case MsgEndSession:
		s.handleEndSession()
	case MsgPing:
		s.send(simpleMessage{Type: MsgPong})
	default:
		s.sendError("unknown message type: " + msg.Type)
	}
}

func (s *Session) handleAudio(ctx context.Context, encoded string) {
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		s.sendError("invalid audio encoding")
		return
	}
	s.metrics.RecordAudioBytes("in", int64(len(pcm)))

	wasSpeaking := s.seg.Speaking()
	segment, closed, err := s.seg.Process(ctx, pcm)
	if err != nil {
		s.log.Error().Err(err).Msg("Segmentation failed")
		s.metrics.RecordError("segmentation", "vad")
		return
	}

	if !wasSpeaking && s.seg.Speaking() {
		s.send(simpleMessage{Type: MsgListening})
	}
	if !closed {
		return
	}

	if segment.Forced {
		s.metrics.RecordSegment("forced")
	} else {
		s.metrics.RecordSegment("emitted")
	}

	// Lock before handing off so audio racing in behind the segment close
	// is dropped rather than segmented.
	s.seg.SetLocked(true)
	go s.ctl.HandleSegment(ctx, segment, s)
}

func (s *Session) handleNewSession(ctx context.Context) {
	s.ctl.Interrupt()
	s.archive.Clear()
	s.seg.Reset()

	oldID := s.ID()
	newID := uuid.NewString()
	s.setID(newID)
	if s.manager != nil {
		s.manager.Rename(oldID, newID)
	}

	s.log.Info().Str("new_session_id", newID).Msg("Session reset")
	s.send(readyMessage{Type: MsgReady, SessionID: newID})
	s.sendGreeting(ctx)
}

func (s *Session) handleEndSession() {
	if s.saver == nil {
		s.sendError("history saving is not configured")
		return
	}
	path, err := s.saver.Save(s.ID(), s.archive.Entries(), s.archive.Exchanges())
	if err != nil {
		s.log.Error().Err(err).Msg("Saving conversation failed")
		s.metrics.RecordError("save", "history")
		s.sendError("failed to save conversation")
		return
	}
	s.send(sessionSavedMessage{Type: MsgSessionSaved, Path: path})
}

// sendGreeting voices the configured greeting as a single final chunk so the
// client plays it through the same path as reply audio.
func (s *Session) sendGreeting(ctx context.Context) {
	if s.greeting == "" {
		return
	}
	audio, err := s.synth.Synthesize(ctx, s.greeting)
	if err != nil {
		s.log.Warn().Err(err).Msg("Greeting synthesis failed, sending text only")
		audio = nil
	}
	s.archive.AppendAssistant(s.greeting)
	s.send(chunkMessage{
		Type:    MsgChunk,
		Index:   0,
		Text:    s.greeting,
		Audio:   base64.StdEncoding.EncodeToString(audio),
		IsFinal: true,
	})
}

// OnSpeechEnded implements turn.Sink.
func (s *Session) OnSpeechEnded(bytes int) {
	s.send(speechEndedMessage{Type: MsgSpeechEnded, Bytes: bytes})
}

// OnTranscript implements turn.Sink.
func (s *Session) OnTranscript(text string) {
	s.send(transcriptMessage{Type: MsgTranscript, Text: text})
}

// OnChunk implements turn.Sink.
func (s *Session) OnChunk(chunk orchestrator.Chunk) {
	s.metrics.RecordAudioBytes("out", int64(len(chunk.Audio)))
	s.send(chunkMessage{
		Type:     MsgChunk,
		Index:    chunk.Index,
		Text:     chunk.Text,
		Audio:    base64.StdEncoding.EncodeToString(chunk.Audio),
		IsFinal:  chunk.Final,
		Fallback: chunk.Fallback,
	})
}

// OnTurnComplete implements turn.Sink.
func (s *Session) OnTurnComplete(stats turn.Stats) {
	s.send(turnCompleteMessage{
		Type:            MsgTurnComplete,
		Transcript:      stats.Transcript,
		Chunks:          stats.ReplyChunks,
		Fallback:        stats.Fallback,
		TranscriptionMs: stats.TranscribeFor.Milliseconds(),
		ResponseMs:      stats.RespondFor.Milliseconds(),
		TotalMs:         stats.TotalFor.Milliseconds(),
	})
}

func (s *Session) sendError(message string) {
	s.send(errorMessage{Type: MsgError, Message: message})
}

// send serializes writes; gorilla connections allow one concurrent writer.
// Write failures are logged and swallowed: the read loop notices the dead
// connection on its own.
func (s *Session) send(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		s.log.Debug().Err(err).Msg("Write failed")
	}
}
