package tts

import (
	"context"
	"fmt"
	"time"
	"unicode"

	speakapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/rest"
	speaktypes "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	speakclient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"
	"github.com/rs/zerolog"

	"github.com/voxalabs/voice-agent/internal/resilience"
)

// DeepgramConfig holds the Aura speech-synthesis settings.
type DeepgramConfig struct {
	APIKey     string
	BaseURL    string // empty uses api.deepgram.com
	Voice      string // Aura voice model, e.g. aura-asteria-en
	Encoding   string // mp3 or linear16
	SampleRate int    // only sent for linear16
}

// speakAPI is the slice of the Deepgram speak REST surface used here,
// narrowed so tests can stand in for the upstream.
type speakAPI interface {
	ToStream(ctx context.Context, text string, options *interfaces.SpeakOptions, buf *interfaces.RawResponse) (*speaktypes.SpeakResponse, error)
}

// DeepgramSpeaker synthesizes speech through Deepgram's Aura speak endpoint.
// A circuit breaker guards it: with several chunks in flight per reply, a
// dead upstream would otherwise multiply its timeouts across the whole turn.
type DeepgramSpeaker struct {
	cfg     DeepgramConfig
	api     speakAPI
	breaker *resilience.CircuitBreaker
	log     zerolog.Logger
}

// NewDeepgramSpeaker creates a speaker guarded by the given breaker.
func NewDeepgramSpeaker(cfg DeepgramConfig, breaker *resilience.CircuitBreaker, log zerolog.Logger) (*DeepgramSpeaker, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("tts: deepgram api key is required")
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "mp3"
	}
	rest := speakclient.NewREST(cfg.APIKey, &interfaces.ClientOptions{Host: cfg.BaseURL})
	return &DeepgramSpeaker{
		cfg:     cfg,
		api:     speakapi.New(rest),
		breaker: breaker,
		log:     log,
	}, nil
}

// Synthesize implements Synthesizer.
func (d *DeepgramSpeaker) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !speakable(text) {
		return nil, nil
	}

	var audio []byte
	call := func(ctx context.Context) error {
		data, err := d.synthesizeOnce(ctx, text)
		if err != nil {
			return err
		}
		audio = data
		return nil
	}

	var err error
	if d.breaker != nil {
		err = d.breaker.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	return audio, nil
}

func (d *DeepgramSpeaker) synthesizeOnce(ctx context.Context, text string) ([]byte, error) {
	options := &interfaces.SpeakOptions{
		Model:    d.cfg.Voice,
		Encoding: d.cfg.Encoding,
	}
	if d.cfg.Encoding == "linear16" && d.cfg.SampleRate > 0 {
		options.SampleRate = d.cfg.SampleRate
	}

	start := time.Now()
	buf := &interfaces.RawResponse{}
	if _, err := d.api.ToStream(ctx, text, options, buf); err != nil {
		return nil, fmt.Errorf("tts: deepgram request failed: %w", err)
	}

	audio := buf.Bytes()
	d.log.Debug().
		Int("text_chars", len(text)).
		Int("audio_bytes", len(audio)).
		Dur("latency", time.Since(start)).
		Msg("Synthesis complete")
	return audio, nil
}

// speakable reports whether text contains anything worth voicing. Pure
// punctuation chunks (a stray "..." between sentences) are skipped without an
// API call.
func speakable(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
