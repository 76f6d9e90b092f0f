// Package llm wraps the hosted language model behind a single Generate call.
package llm

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"kina/internal/config"
	"kina/internal/proxy"
)

var ErrEmpty = errors.New("empty model response")

// Model turns a rendered prompt into the raw model text.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(cfg config.LLMConfig) (*OpenAI, error) {
	httpClient, err := proxy.NewSocksClient(cfg.Proxy, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(o.model),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response: %w", ErrEmpty)
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", ErrEmpty
	}

	log.Debug("Model replied", "model", o.model, "chars", len(content))
	return content, nil
}

// Func adapts a function to Model.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }
