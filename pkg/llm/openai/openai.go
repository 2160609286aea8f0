package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/barekit/tabletalk/pkg/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// placeholderKey is sent to locally hosted OpenAI-compatible servers that
// ignore credentials but still expect an Authorization header.
const placeholderKey = "not-needed"

// Config configures the provider.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// Provider implements llm.Provider on the OpenAI chat completions API.
type Provider struct {
	client      *openai.Client
	model       string
	temperature float64
}

// New creates a Provider. SDK retries are disabled; llm.Gateway owns retries.
func New(cfg Config, opts ...option.RequestOption) *Provider {
	base := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	key := cfg.APIKey
	if key == "" {
		key = placeholderKey
	}
	base = append(base, option.WithAPIKey(key))

	client := openai.NewClient(append(base, opts...)...)
	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &Provider{
		client:      &client,
		model:       model,
		temperature: cfg.Temperature,
	}
}

func (p *Provider) Complete(ctx context.Context, req llm.Request) (string, error) {
	messages, err := buildMessages(req)
	if err != nil {
		return "", llm.Permanent(err)
	}

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       p.model,
		Temperature: openai.Float(p.temperature),
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion choices")
	}
	return completion.Choices[0].Message.Content, nil
}

func buildMessages(req llm.Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		case llm.RoleTool:
			// The text protocol has no tool call ids, so results go back as user content.
			out = append(out, openai.UserMessage("Tool result:\n"+msg.Content))
		default:
			return nil, fmt.Errorf("unknown role: %s", msg.Role)
		}
	}
	return out, nil
}

// classify marks client-side API errors as permanent. Rate limits, conflicts,
// request timeouts and server errors stay retryable, as do network errors.
func classify(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.StatusCode {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return err
	}
	if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return llm.Permanent(err)
	}
	return err
}
