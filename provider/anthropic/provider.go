// Package anthropic implements the engine's model provider over the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/yujiosaka/ChatIQ/core"
)

// Defaults for the model call.
const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
)

// Provider calls the Anthropic API. Create with New.
type Provider struct {
	client    sdk.Client
	model     string
	maxTokens int64
	log       *zap.Logger
}

// Option configures the provider.
type Option func(*Provider)

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithMaxTokens overrides the response token ceiling.
func WithMaxTokens(n int64) Option {
	return func(p *Provider) {
		p.maxTokens = n
	}
}

// New creates a provider with the given API key.
func New(apiKey string, log *zap.Logger, opts ...Option) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Provider{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		log:       log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Complete invokes the model with the assembled prompt. Retrieved memory
// rides in the system prompt; the live thread becomes the user message.
func (p *Provider) Complete(ctx context.Context, prompt core.AssembledPrompt, s core.Settings) (string, error) {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(p.model),
		MaxTokens:   p.maxTokens,
		Temperature: sdk.Float(s.Temperature),
		System: []sdk.TextBlockParam{
			{Text: systemText(prompt)},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(strings.Join(prompt.Thread, "\n"))),
		},
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	p.log.Debug("model completed",
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens))
	return text, nil
}

// systemText appends retrieved memory to the system segment so the model
// sees prior context without it masquerading as live conversation.
func systemText(prompt core.AssembledPrompt) string {
	if len(prompt.MemorySegments) == 0 {
		return prompt.System
	}
	var b strings.Builder
	b.WriteString(prompt.System)
	b.WriteString("\n\nRelevant prior context from this channel:\n")
	for _, segment := range prompt.MemorySegments {
		b.WriteString("- ")
		b.WriteString(segment)
		b.WriteString("\n")
	}
	return b.String()
}

// classify maps API failures onto the engine's error taxonomy. Transport
// failures count as transient.
func classify(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: status %d", core.ErrModelAuth, apierr.StatusCode)
		case http.StatusPaymentRequired:
			return fmt.Errorf("%w: status %d", core.ErrQuotaExceeded, apierr.StatusCode)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: status %d", core.ErrRateLimited, apierr.StatusCode)
		}
		if apierr.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", core.ErrRateLimited, apierr.StatusCode)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", core.ErrRateLimited, err)
}
