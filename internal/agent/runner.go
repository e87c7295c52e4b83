package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	maxRetries       = 3
	baseDelay        = 2 * time.Second
)

// Runner executes one assistant turn. The gateway treats it as an
// opaque boundary: prompt in, reply out.
type Runner interface {
	Run(ctx context.Context, prompt, sessionID string) (string, error)
}

// AnthropicRunner calls the Anthropic messages API.
type AnthropicRunner struct {
	client    anthropic.Client
	model     string
	maxTokens int
	system    string
}

func NewAnthropicRunner(apiKey, baseURL, model string, maxTokens int, systemPrompt string) *AnthropicRunner {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicRunner{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		system:    systemPrompt,
	}
}

func (r *AnthropicRunner) Run(ctx context.Context, prompt, sessionID string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: int64(r.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if r.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: r.system}}
	}

	var resp *anthropic.Message
	var err error
	for attempt := range maxRetries {
		resp, err = r.client.Messages.New(ctx, params)
		if err == nil {
			break
		}
		if !isRetryableError(err) {
			return "", fmt.Errorf("anthropic call: %w", err)
		}
		if attempt < maxRetries-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(baseDelay * time.Duration(1<<attempt)):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("anthropic call: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	reply := strings.TrimSpace(b.String())
	if reply == "" {
		return "", fmt.Errorf("anthropic call: empty reply for session %s", sessionID)
	}
	return reply, nil
}

func isRetryableError(err error) bool {
	s := err.Error()
	return strings.Contains(s, "529") ||
		strings.Contains(s, "overloaded") ||
		strings.Contains(s, "Overloaded") ||
		strings.Contains(s, "503") ||
		strings.Contains(s, "502")
}
