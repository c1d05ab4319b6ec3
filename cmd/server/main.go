package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxalabs/voice-agent/internal/config"
	"github.com/voxalabs/voice-agent/internal/history"
	"github.com/voxalabs/voice-agent/internal/llm"
	"github.com/voxalabs/voice-agent/internal/observability"
	"github.com/voxalabs/voice-agent/internal/orchestrator"
	"github.com/voxalabs/voice-agent/internal/resilience"
	"github.com/voxalabs/voice-agent/internal/session"
	"github.com/voxalabs/voice-agent/internal/stt"
	"github.com/voxalabs/voice-agent/internal/tts"
	"github.com/voxalabs/voice-agent/internal/vad"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before the logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_model", cfg.DeepgramSTTModel).
		Str("tts_voice", cfg.DeepgramVoice).
		Str("llm_model", cfg.LLMModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Agent Service starting")

	// The classifier is shared by every session; a load failure means no
	// session could ever work.
	classifier, err := vad.LoadModel()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load speech classifier")
	}

	retryCfg := resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
	}

	sttConfig := stt.DeepgramConfig{
		APIKey:     cfg.DeepgramAPIKey,
		BaseURL:    cfg.DeepgramBaseURL,
		Model:      cfg.DeepgramSTTModel,
		Language:   cfg.DeepgramLanguage,
		SampleRate: cfg.SampleRate,
	}
	transcriber, err := stt.NewDeepgramTranscriber(sttConfig, retryCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create transcriber")
	}

	ttsBreaker := resilience.NewCircuitBreaker("deepgram-tts",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	ttsConfig := tts.DeepgramConfig{
		APIKey:     cfg.DeepgramAPIKey,
		BaseURL:    cfg.DeepgramBaseURL,
		Voice:      cfg.DeepgramVoice,
		Encoding:   cfg.TTSEncoding,
		SampleRate: cfg.TTSSampleRate,
	}
	synth, err := tts.NewDeepgramSpeaker(ttsConfig, ttsBreaker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create synthesizer")
	}

	llmConfig := llm.Config{
		BaseURL:      cfg.LLMBaseURL,
		APIKey:       cfg.LLMAPIKey,
		Model:        cfg.LLMModel,
		Temperature:  cfg.LLMTemperature,
		SystemPrompt: cfg.SystemPrompt,
		Timeout:      time.Duration(cfg.LLMTimeout) * time.Second,
	}
	streamer, err := llm.NewOpenAIStreamer(llmConfig, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create generation client")
	}

	saver, err := history.NewFileSaver(cfg.OutputsDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to prepare outputs directory")
	}

	deps := session.Deps{
		VADConfig: vad.Config{
			SampleRate:            cfg.SampleRate,
			FrameSize:             cfg.FrameSize,
			Threshold:             cfg.VADThreshold,
			MinAudioLevel:         cfg.VADMinAudioLevel,
			MinSpeechDuration:     cfg.MinSpeechDuration(),
			MinSilenceDuration:    cfg.MinSilenceDuration(),
			MaxSpeechDuration:     cfg.MaxSpeechDuration(),
			MinConsecutiveSpeech:  cfg.VADMinConsecutiveSpeech,
			MinConsecutiveSilence: cfg.VADMinConsecutiveSilence,
			MinSpeechBytes:        cfg.VADMinSpeechBytes,
		},
		Classifier:  classifier,
		Transcriber: transcriber,
		Streamer:    streamer,
		Synth:       synth,
		Saver:       saver,
		Responder: orchestrator.Config{
			Policy: orchestrator.ChunkPolicy{
				ClauseMinWords: cfg.ChunkClauseMinWords,
				MaxWords:       cfg.ChunkMaxWords,
				MinChars:       cfg.MinChunkChars,
			},
			HistoryWindow: cfg.HistoryWindow,
		},
		Greeting: cfg.Greeting,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := session.NewManager(cfg.SessionGrace(), logger)
	manager.StartSweep(rootCtx, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/voice", session.Handler(deps, manager, logger))
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	// Per-dependency readiness. Each check validates the client's config by
	// constructing it; no upstream API call is made, to avoid costs on every
	// probe.
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"classifier": func(context.Context) (bool, error) {
			_, err := vad.LoadModel()
			return err == nil, err
		},
		"stt": func(context.Context) (bool, error) {
			_, err := stt.NewDeepgramTranscriber(sttConfig, retryCfg, logger)
			return err == nil, err
		},
		"tts": func(context.Context) (bool, error) {
			_, err := tts.NewDeepgramSpeaker(ttsConfig, nil, logger)
			return err == nil, err
		},
		"llm": func(context.Context) (bool, error) {
			_, err := llm.NewOpenAIStreamer(llmConfig, logger)
			return err == nil, err
		},
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: mux,
		// No WriteTimeout: WebSocket sessions outlive any sane value.
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/voice", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
