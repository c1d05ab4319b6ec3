package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice agent service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Deepgram API configuration (STT + TTS)
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramBaseURL  string `envconfig:"DEEPGRAM_BASE_URL" default:"https://api.deepgram.com"`
	DeepgramSTTModel string `envconfig:"DEEPGRAM_STT_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`      // Language code (en, es, fr, etc.)
	DeepgramVoice    string `envconfig:"DEEPGRAM_VOICE" default:"aura-asteria-en"`
	TTSSampleRate    int    `envconfig:"TTS_SAMPLE_RATE" default:"24000"` // Aura output rate in Hz
	TTSEncoding      string `envconfig:"TTS_ENCODING" default:"mp3"`      // mp3 or linear16

	// Generation backend (any OpenAI-compatible endpoint; Ollama's /v1 by default)
	LLMBaseURL     string  `envconfig:"LLM_BASE_URL" default:"http://localhost:11434/v1"`
	LLMAPIKey      string  `envconfig:"LLM_API_KEY" default:"ollama"`
	LLMModel       string  `envconfig:"LLM_MODEL" default:"qwen3:8b"`
	LLMTemperature float64 `envconfig:"LLM_TEMPERATURE" default:"0.7"`
	LLMTimeout     int     `envconfig:"LLM_TIMEOUT" default:"60"` // seconds
	SystemPrompt   string  `envconfig:"SYSTEM_PROMPT" default:"You are a friendly, concise voice assistant. Keep answers short and conversational; they will be spoken aloud."`
	HistoryWindow  int     `envconfig:"HISTORY_WINDOW" default:"10"` // recent messages sent as context

	// Audio format. The classifier operates on fixed-size frames at 16 kHz.
	SampleRate int `envconfig:"SAMPLE_RATE" default:"16000"`
	FrameSize  int `envconfig:"FRAME_SIZE" default:"512"` // samples per analysis frame

	// Voice activity segmentation
	VADThreshold             float64 `envconfig:"VAD_THRESHOLD" default:"0.5"`         // speech probability cutoff
	VADMinAudioLevel         float64 `envconfig:"VAD_MIN_AUDIO_LEVEL" default:"0.012"` // RMS floor, normalized [0,1]
	VADMinSpeechMs           int     `envconfig:"VAD_MIN_SPEECH_MS" default:"300"`     // speech duration to open a segment
	VADMinSilenceMs          int     `envconfig:"VAD_MIN_SILENCE_MS" default:"600"`    // silence duration to close a segment
	VADMaxSpeechSec          int     `envconfig:"VAD_MAX_SPEECH_SEC" default:"30"`     // hard cap per segment
	VADMinConsecutiveSpeech  int     `envconfig:"VAD_MIN_CONSECUTIVE_SPEECH" default:"3"`
	VADMinConsecutiveSilence int     `envconfig:"VAD_MIN_CONSECUTIVE_SILENCE" default:"4"`
	VADMinSpeechBytes        int     `envconfig:"VAD_MIN_SPEECH_BYTES" default:"25600"` // 0.8s at 16kHz, 2 bytes/sample

	// Response chunking
	ChunkClauseMinWords int `envconfig:"CHUNK_CLAUSE_MIN_WORDS" default:"3"` // words before a clause break may flush
	ChunkMaxWords       int `envconfig:"CHUNK_MAX_WORDS" default:"6"`        // unconditional flush point
	MinChunkChars       int `envconfig:"MIN_CHUNK_CHARS" default:"3"`        // shorter flushes are folded into the next chunk

	// Session lifecycle
	SessionGraceMinutes int    `envconfig:"SESSION_GRACE_MINUTES" default:"60"` // history retention after disconnect
	OutputsDir          string `envconfig:"OUTPUTS_DIR" default:"data/outputs"` // conversation snapshots
	Greeting            string `envconfig:"GREETING" default:"Hello! I'm ready when you are - go ahead and say something."`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// MinSpeechDuration returns the debounce entry duration.
func (c *Config) MinSpeechDuration() time.Duration {
	return time.Duration(c.VADMinSpeechMs) * time.Millisecond
}

// MinSilenceDuration returns the hysteresis exit duration.
func (c *Config) MinSilenceDuration() time.Duration {
	return time.Duration(c.VADMinSilenceMs) * time.Millisecond
}

// MaxSpeechDuration returns the per-segment hard cap.
func (c *Config) MaxSpeechDuration() time.Duration {
	return time.Duration(c.VADMaxSpeechSec) * time.Second
}

// SessionGrace returns how long a disconnected session's history is retained.
func (c *Config) SessionGrace() time.Duration {
	return time.Duration(c.SessionGraceMinutes) * time.Minute
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks tunables once at the boundary so the rest of the
// system can treat the config as trusted.
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("FRAME_SIZE must be positive, got %d", c.FrameSize)
	}
	if c.VADThreshold <= 0 || c.VADThreshold >= 1 {
		return fmt.Errorf("VAD_THRESHOLD must be in (0,1), got %v", c.VADThreshold)
	}
	if c.VADMinAudioLevel < 0 || c.VADMinAudioLevel >= 1 {
		return fmt.Errorf("VAD_MIN_AUDIO_LEVEL must be in [0,1), got %v", c.VADMinAudioLevel)
	}
	if c.VADMaxSpeechSec*1000 <= c.VADMinSpeechMs {
		return fmt.Errorf("VAD_MAX_SPEECH_SEC must exceed VAD_MIN_SPEECH_MS")
	}
	if c.ChunkMaxWords < c.ChunkClauseMinWords {
		return fmt.Errorf("CHUNK_MAX_WORDS must be >= CHUNK_CLAUSE_MIN_WORDS")
	}
	if c.MinChunkChars < 1 {
		return fmt.Errorf("MIN_CHUNK_CHARS must be >= 1, got %d", c.MinChunkChars)
	}
	return nil
}
