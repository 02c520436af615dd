package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"threadloom/internal/logging"
)

// DefaultModel is the model used when the config leaves it blank. Extraction
// is high-volume and latency-sensitive, so the small tier is the default.
const DefaultModel = "claude-3-5-haiku-latest"

const defaultMaxTokens = 2048

// MessagesClient captures the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService so tests can substitute a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient implements Client on top of the Claude Messages API.
type AnthropicClient struct {
	msg       MessagesClient
	model     string
	maxTokens int
}

// NewAnthropic builds a client from an existing Messages client.
func NewAnthropic(msg MessagesClient, model string) (*AnthropicClient, error) {
	if msg == nil {
		return nil, errors.New("llm: messages client is required")
	}
	if model == "" {
		model = DefaultModel
	}
	return &AnthropicClient{msg: msg, model: model, maxTokens: defaultMaxTokens}, nil
}

// NewAnthropicFromAPIKey constructs a client with the SDK's default HTTP
// transport.
func NewAnthropicFromAPIKey(apiKey, model string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(&ac.Messages, model)
}

// Complete issues one non-streaming Messages call and returns the
// concatenated text blocks.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	timer := logging.StartTimer(logging.CategoryGraph, "llm.Complete")
	msg, err := c.msg.New(ctx, params)
	timer.Stop()
	if err != nil {
		return "", fmt.Errorf("llm: messages.new: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// IsRetryable reports whether err looks like a transient transport failure
// worth a backed-off retry: rate limits, server-side errors, timeouts, and
// network faults. Malformed responses and client-side errors are not
// retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode == 408:
			return true
		case apiErr.StatusCode >= 500:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
