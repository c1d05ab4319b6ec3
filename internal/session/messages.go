package session

import "github.com/voxalabs/voice-agent/internal/history"

// Client → server message types.
const (
	MsgAudio      = "audio"
	MsgInterrupt  = "interrupt"
	MsgClear      = "clear"
	MsgGetHistory = "get_history"
	MsgNewSession = "new_session"
	MsgEndSession = "end_session"
	MsgPing       = "ping"
)

// Server → client message types.
const (
	MsgReady        = "ready"
	MsgListening    = "listening"
	MsgSpeechEnded  = "speech_ended"
	MsgTranscript   = "transcript"
	MsgChunk        = "chunk"
	MsgTurnComplete = "turn_complete"
	MsgInterrupted  = "interrupted"
	MsgCleared      = "cleared"
	MsgHistory      = "history"
	MsgSessionSaved = "session_saved"
	MsgPong         = "pong"
	MsgError        = "error"
)

// clientMessage is the envelope for everything a client sends.
type clientMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"` // base64 16-bit LE PCM
}

type readyMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type simpleMessage struct {
	Type string `json:"type"`
}

type speechEndedMessage struct {
	Type  string `json:"type"`
	Bytes int    `json:"bytes"`
}

type transcriptMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chunkMessage struct {
	Type     string `json:"type"`
	Index    int    `json:"index"`
	Text     string `json:"text"`
	Audio    string `json:"audio,omitempty"` // base64, empty when synthesis failed
	IsFinal  bool   `json:"is_final"`
	Fallback bool   `json:"fallback,omitempty"`
}

type turnCompleteMessage struct {
	Type            string `json:"type"`
	Transcript      string `json:"transcript"`
	Chunks          int    `json:"chunks"`
	Fallback        bool   `json:"fallback,omitempty"`
	TranscriptionMs int64  `json:"transcription_ms"`
	ResponseMs      int64  `json:"response_ms"`
	TotalMs         int64  `json:"total_ms"`
}

type historyMessage struct {
	Type      string          `json:"type"`
	Exchanges int             `json:"exchanges"`
	Messages  []history.Entry `json:"messages"`
}

type sessionSavedMessage struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
