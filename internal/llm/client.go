package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultChatModel is the model used when none is configured.
const DefaultChatModel = "gpt-4o"

// Usage carries token accounting for a single generation call.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
}

// Generation is the result of one text-generation call.
type Generation struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Generator is the text-generation collaborator used by the notes generator,
// the strategist, and the opening-message stream. Implementations must be
// safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, system, user string) (*Generation, error)
	// GenerateStream emits text deltas through emit as they arrive and
	// returns the full accumulated text. Usage may be zero when the
	// provider does not report it for streamed responses.
	GenerateStream(ctx context.Context, system, user string, emit func(delta string)) (*Generation, error)
}

// ClientConfig holds configuration for the OpenAI-backed generator.
type ClientConfig struct {
	APIKey      string
	ChatModel   string
	Temperature float32
	MaxRetries  int
	RetryDelay  time.Duration
}

// DefaultConfig returns the default generator configuration.
func DefaultConfig(apiKey string) *ClientConfig {
	return &ClientConfig{
		APIKey:      apiKey,
		ChatModel:   DefaultChatModel,
		Temperature: 0.7,
		MaxRetries:  2,
		RetryDelay:  time.Second,
	}
}

// OpenAIGenerator implements Generator on top of the OpenAI chat API.
type OpenAIGenerator struct {
	client      *openai.Client
	chatModel   string
	temperature float32
	maxRetries  int
	retryDelay  time.Duration
	logger      *zap.Logger
}

// NewOpenAIGenerator creates a generator with the given configuration.
func NewOpenAIGenerator(config *ClientConfig, logger *zap.Logger) (*OpenAIGenerator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if config.ChatModel == "" {
		config.ChatModel = DefaultChatModel
	}

	return &OpenAIGenerator{
		client:      openai.NewClient(config.APIKey),
		chatModel:   config.ChatModel,
		temperature: config.Temperature,
		maxRetries:  config.MaxRetries,
		retryDelay:  config.RetryDelay,
		logger:      logger,
	}, nil
}

// Generate runs a single non-streaming completion with retry on transport errors.
func (g *OpenAIGenerator) Generate(ctx context.Context, system, user string) (*Generation, error) {
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: g.chatModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			Temperature: g.temperature,
		})
		if err != nil {
			lastErr = fmt.Errorf("attempt %d: %w", attempt+1, err)
			continue
		}

		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("attempt %d: no completion choices returned", attempt+1)
			continue
		}

		return &Generation{
			Text: resp.Choices[0].Message.Content,
			Usage: Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			},
		}, nil
	}

	return nil, fmt.Errorf("generation failed after %d attempts: %w", g.maxRetries+1, lastErr)
}

// GenerateStream streams a completion, invoking emit for each text delta.
// Streaming is not retried: a partial stream has already reached the user.
func (g *OpenAIGenerator) GenerateStream(ctx context.Context, system, user string, emit func(delta string)) (*Generation, error) {
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: g.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: g.temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open completion stream: %w", err)
	}
	defer stream.Close()

	var full string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if full != "" {
				// The stream died mid-reply; keep what was already emitted.
				g.logger.Warn("Completion stream interrupted", zap.Error(err))
				break
			}
			return nil, fmt.Errorf("completion stream failed: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full += delta
		if emit != nil {
			emit(delta)
		}
	}

	return &Generation{Text: full}, nil
}
