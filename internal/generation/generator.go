// Package generation produces post text from a topic and tone using an
// OpenAI-compatible chat completion API and reports the tokens it cost.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sashabaranov/go-openai"

	"github.com/content-scheduler/content-scheduler/internal/config"
	"github.com/content-scheduler/content-scheduler/internal/telemetry"
)

var (
	// ErrNotConfigured is returned when no API key is set
	ErrNotConfigured = errors.New("content generation is not configured")
	// ErrEmptyResponse is returned when the provider answers without choices
	ErrEmptyResponse = errors.New("generation provider returned no choices")
)

// Result is one generated text and what it cost
type Result struct {
	Text       string
	TokensUsed int
	Model      string
}

// Generator turns a topic and tone into post text.
type Generator interface {
	Generate(ctx context.Context, topic, tone string) (*Result, error)
}

// TokenCounter estimates the token count of text for model. It is used only
// when the provider omits usage from its response.
type TokenCounter func(model, text string) (int, error)

// BuildPrompt returns the user prompt sent for a topic and tone
func BuildPrompt(topic, tone string) string {
	return fmt.Sprintf("Generate content about %s in a %s tone.", topic, tone)
}

// OpenAIGenerator implements Generator with go-openai
type OpenAIGenerator struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	count     TokenCounter
}

// NewOpenAIGenerator creates a generator from config. A missing API key is not
// an error here; Generate reports ErrNotConfigured instead so the server can
// still start.
func NewOpenAIGenerator(cfg config.GenerationConfig) *OpenAIGenerator {
	g := &OpenAIGenerator{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		count:     countWithTiktoken,
	}
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		g.client = openai.NewClientWithConfig(clientCfg)
	}
	return g
}

// WithTokenCounter replaces the fallback token counter
func (g *OpenAIGenerator) WithTokenCounter(count TokenCounter) *OpenAIGenerator {
	g.count = count
	return g
}

// Generate requests one completion for the topic and tone
func (g *OpenAIGenerator) Generate(ctx context.Context, topic, tone string) (*Result, error) {
	if g.client == nil {
		telemetry.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		return nil, ErrNotConfigured
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	prompt := BuildPrompt(topic, tone)
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		telemetry.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		telemetry.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		return nil, ErrEmptyResponse
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = g.estimate(prompt, text)
	}

	telemetry.GenerationRequestsTotal.WithLabelValues(g.model, "success").Inc()
	telemetry.GenerationTokensTotal.WithLabelValues(g.model).Add(float64(tokens))

	return &Result{Text: text, TokensUsed: tokens, Model: g.model}, nil
}

func (g *OpenAIGenerator) estimate(prompt, text string) int {
	if g.count == nil {
		return 0
	}
	promptTokens, err := g.count(g.model, prompt)
	if err != nil {
		slog.Warn("could not estimate prompt tokens", "model", g.model, "error", err)
		return 0
	}
	completionTokens, err := g.count(g.model, text)
	if err != nil {
		slog.Warn("could not estimate completion tokens", "model", g.model, "error", err)
		return promptTokens
	}
	return promptTokens + completionTokens
}

func countWithTiktoken(model, text string) (int, error) {
	tke, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return 0, err
	}
	return len(tke.Encode(text, nil, nil)), nil
}
