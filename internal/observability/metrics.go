package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_agent_active_sessions",
		Help: "Number of connected voice sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_sessions_total",
		Help: "Total number of sessions started",
	})

	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_turns_total",
		Help: "Total number of conversational turns",
	}, []string{"outcome"}) // outcome: completed, skipped, interrupted, fallback

	turnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_turn_duration_seconds",
		Help:    "End-to-end turn latency from speech end to last chunk",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	// Segmenter metrics
	segmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_segments_total",
		Help: "Speech segments produced by the segmenter",
	}, []string{"result"}) // result: emitted, discarded, forced

	// STT metrics
	sttRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_stt_requests_total",
		Help: "Total number of STT requests",
	}, []string{"status"})

	sttLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_stt_latency_seconds",
		Help:    "STT processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_tts_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_tts_latency_seconds",
		Help:    "TTS processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Generation metrics
	generationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_generation_requests_total",
		Help: "Total number of generation stream requests",
	}, []string{"status"})

	generationFirstToken = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_generation_first_token_seconds",
		Help:    "Latency from request to first generated token",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID string
	startTime time.Time

	mu            sync.Mutex
	sttStartTime  time.Time
	ttsStartTime  time.Time
	genStartTime  time.Time
	turnStartTime time.Time
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
}

// RecordTurnStart marks the beginning of a turn (speech end).
func (m *Metrics) RecordTurnStart() {
	m.mu.Lock()
	m.turnStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTurnEnd records the turn outcome: completed, skipped, interrupted or fallback.
func (m *Metrics) RecordTurnEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.turnStartTime.IsZero() {
		turnLatency.Observe(time.Since(m.turnStartTime).Seconds())
		m.turnStartTime = time.Time{}
	}
	turnsTotal.WithLabelValues(outcome).Inc()
}

// RecordSegment records a segmenter decision: emitted, discarded or forced.
func (m *Metrics) RecordSegment(result string) {
	segmentsTotal.WithLabelValues(result).Inc()
}

// RecordSTTStart records the start of STT processing
func (m *Metrics) RecordSTTStart() {
	m.mu.Lock()
	m.sttStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSTTEnd records the end of STT processing
func (m *Metrics) RecordSTTEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sttStartTime.IsZero() {
		sttLatency.Observe(time.Since(m.sttStartTime).Seconds())
	}
	sttRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordTTSStart records the start of TTS processing
func (m *Metrics) RecordTTSStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTTSEnd records the end of TTS processing
func (m *Metrics) RecordTTSEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		ttsLatency.Observe(time.Since(m.ttsStartTime).Seconds())
	}
	ttsRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordGenerationStart records the start of a generation stream
func (m *Metrics) RecordGenerationStart() {
	m.mu.Lock()
	m.genStartTime = time.Now()
	m.mu.Unlock()
}

// RecordFirstToken observes time-to-first-token for the current generation.
func (m *Metrics) RecordFirstToken() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.genStartTime.IsZero() {
		generationFirstToken.Observe(time.Since(m.genStartTime).Seconds())
	}
}

// RecordGenerationEnd records the end of a generation stream
func (m *Metrics) RecordGenerationEnd(success bool) {
	generationRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
