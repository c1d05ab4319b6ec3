package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	listenapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	listentypes "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenclient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/voxalabs/voice-agent/internal/resilience"
)

// DeepgramConfig holds the prerecorded-transcription settings.
type DeepgramConfig struct {
	APIKey     string
	BaseURL    string // empty uses api.deepgram.com
	Model      string // e.g. nova-2
	Language   string
	SampleRate int
}

// listenAPI is the slice of the Deepgram prerecorded REST surface used here,
// narrowed so tests can stand in for the upstream.
type listenAPI interface {
	FromStream(ctx context.Context, source io.Reader, options *interfaces.PreRecordedTranscriptionOptions) (*listentypes.PreRecordedResponse, error)
}

// DeepgramTranscriber sends completed segments to Deepgram's prerecorded
// listen endpoint as raw PCM. Segments are short (30s cap upstream), so a
// single batch request beats holding a live socket open between turns.
type DeepgramTranscriber struct {
	cfg   DeepgramConfig
	api   listenAPI
	retry resilience.RetryConfig
	log   zerolog.Logger
}

// NewDeepgramTranscriber creates a transcriber over the Deepgram REST client.
func NewDeepgramTranscriber(cfg DeepgramConfig, retry resilience.RetryConfig, log zerolog.Logger) (*DeepgramTranscriber, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("stt: deepgram api key is required")
	}
	rest := listenclient.NewREST(cfg.APIKey, &interfaces.ClientOptions{Host: cfg.BaseURL})
	return &DeepgramTranscriber{
		cfg:   cfg,
		api:   listenapi.New(rest),
		retry: retry,
		log:   log,
	}, nil
}

// Transcribe implements Transcriber. Transient network failures, 5xx
// responses and rate limiting are retried; everything else surfaces to the
// caller.
func (d *DeepgramTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.cfg.Model,
		Language:    d.cfg.Language,
		Encoding:    "linear16",
		SampleRate:  d.cfg.SampleRate,
		Channels:    1,
		SmartFormat: true,
	}

	var transcript string
	err := resilience.Retry(ctx, d.retry, retryableSpeechError, func(ctx context.Context) error {
		start := time.Now()
		res, err := d.api.FromStream(ctx, bytes.NewReader(pcm), options)
		if err != nil {
			return fmt.Errorf("stt: deepgram request failed: %w", err)
		}
		transcript = firstTranscript(res)
		d.log.Debug().
			Int("bytes", len(pcm)).
			Dur("latency", time.Since(start)).
			Msg("Transcription complete")
		return nil
	})
	if err != nil {
		return "", err
	}
	return transcript, nil
}

// firstTranscript pulls the top alternative out of the response. Deepgram
// returns an empty alternatives list for pure-noise audio.
func firstTranscript(res *listentypes.PreRecordedResponse) string {
	if res == nil || res.Results == nil {
		return ""
	}
	if len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(res.Results.Channels[0].Alternatives[0].Transcript)
}

// retryableSpeechError widens the network predicate to the status-text errors
// the Deepgram SDK returns for transient upstream failures.
func retryableSpeechError(err error) bool {
	if resilience.IsRetryableNetworkError(err) {
		return true
	}
	msg := err.Error()
	for _, code := range []string{"429", "500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}
