// Package explain turns a code snippet into a beginner-friendly explanation
// by asking an OpenAI-compatible chat model.
package explain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sakif/codeshelf/internal/apperror"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// ErrNotConfigured is returned by Explain when no API key was provided.
var ErrNotConfigured = errors.New("explain: provider is not configured")

// Explainer is what the HTTP and MCP surfaces depend on.
type Explainer interface {
	Explain(ctx context.Context, code, language string) (string, error)
}

// Config selects the provider. BaseURL points at any OpenAI-compatible API;
// empty means api.openai.com.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAI is an Explainer backed by go-openai.
type OpenAI struct {
	client *openai.Client
	model  string
}

// New builds the explainer. With an empty APIKey it still returns a value
// whose Explain fails with ErrNotConfigured, so the server can start without
// the feature.
func New(cfg Config) *OpenAI {
	if cfg.APIKey == "" {
		return &OpenAI{}
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		config.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Configured reports whether Explain can reach a provider.
func (o *OpenAI) Configured() bool {
	return o != nil && o.client != nil
}

const systemPrompt = "You are a patient programming teacher. " +
	"Explain code to a beginner in plain language. " +
	"Describe what the code does, the key concepts it uses and its flow step by step. " +
	"Keep it short and avoid jargon where you can."

// Prompt builds the user message for code written in language. An empty
// language lets the model guess.
func Prompt(code, language string) string {
	var b strings.Builder
	if language != "" {
		fmt.Fprintf(&b, "Explain this %s code:\n\n", language)
	} else {
		b.WriteString("Explain this code:\n\n")
	}
	b.WriteString("```")
	b.WriteString(strings.ToLower(language))
	b.WriteString("\n")
	b.WriteString(code)
	b.WriteString("\n```")
	return b.String()
}

// Explain sends one chat completion request. Every failure is an
// apperror.ErrUpstream whose cause carries the provider's error.
func (o *OpenAI) Explain(ctx context.Context, code, language string) (string, error) {
	if !o.Configured() {
		return "", apperror.Upstream("explanation service is not configured", ErrNotConfigured)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: Prompt(code, language)},
		},
	})
	if err != nil {
		return "", apperror.Upstream("failed to generate explanation", fmt.Errorf("explain: chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", apperror.Upstream("failed to generate explanation", errors.New("explain: response has no choices"))
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", apperror.Upstream("failed to generate explanation", errors.New("explain: empty explanation"))
	}
	return text, nil
}
