package llm

import (
	"context"
	"fmt"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"

	"github.com/voxalabs/voice-agent/internal/history"
)

// Config holds the generation settings. BaseURL points at any
// OpenAI-compatible endpoint; the default targets a local Ollama.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration
}

// OpenAIStreamer streams chat completions through the OpenAI client.
type OpenAIStreamer struct {
	cfg    Config
	client oai.Client
	log    zerolog.Logger
}

// NewOpenAIStreamer creates a streamer for cfg's endpoint.
func NewOpenAIStreamer(cfg Config, log zerolog.Logger) (*OpenAIStreamer, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIStreamer{
		cfg:    cfg,
		client: oai.NewClient(opts...),
		log:    log,
	}, nil
}

// Stream implements TokenStreamer. Token delivery respects ctx so an
// interrupted turn stops consuming the completion immediately.
func (s *OpenAIStreamer) Stream(ctx context.Context, recent []history.Entry, userText string) (<-chan Token, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(s.cfg.Model),
		Messages: buildMessages(s.cfg.SystemPrompt, recent, userText),
	}
	if s.cfg.Temperature > 0 {
		params.Temperature = param.NewOpt(s.cfg.Temperature)
	}
	if s.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(s.cfg.MaxTokens))
	}

	out := make(chan Token, 32)
	go func() {
		defer close(out)

		streamCtx := ctx
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			streamCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}

		start := time.Now()
		first := true
		stream := s.client.Chat.Completions.NewStreaming(streamCtx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			if first {
				s.log.Debug().Dur("first_token", time.Since(start)).Msg("Generation streaming")
				first = false
			}
			select {
			case out <- Token{Text: text}:
			case <-streamCtx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil && streamCtx.Err() == nil {
			select {
			case out <- Token{Err: fmt.Errorf("llm: stream failed: %w", err)}:
			case <-streamCtx.Done():
			}
		}
	}()

	return out, nil
}

// buildMessages assembles the completion context: system prompt, the recent
// archive window, then the current user transcript.
func buildMessages(systemPrompt string, recent []history.Entry, userText string) []oai.ChatCompletionMessageParamUnion {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(recent)+2)
	if systemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(systemPrompt))
	}
	for _, e := range recent {
		switch e.Role {
		case history.RoleUser:
			msgs = append(msgs, oai.UserMessage(e.Content))
		case history.RoleAssistant:
			asst := oai.ChatCompletionAssistantMessageParam{}
			asst.Content.OfString = oai.String(e.Content)
			msgs = append(msgs, oai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	msgs = append(msgs, oai.UserMessage(userText))
	return msgs
}
