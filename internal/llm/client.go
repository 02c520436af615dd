// Package llm provides the narrow completion interface the extraction graph
// depends on, plus the Anthropic-backed production implementation. Nodes
// only ever need "prompt in, text out with a deadline", so the interface
// stays deliberately small and test doubles stay trivial.
package llm

import (
	"context"
	"time"
)

// Request is a single completion call.
type Request struct {
	// System is the system prompt. Empty means none.
	System string

	// Prompt is the user-turn content.
	Prompt string

	// MaxTokens caps the completion length. Zero uses the client default.
	MaxTokens int

	// Timeout bounds the call. Zero uses the caller's context as-is.
	Timeout time.Duration
}

// Client is the completion interface graph nodes call.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Node deadlines. Classification is a short verdict and gets the tight
// bound; evaluation and compilation produce structured output and get the
// standard one.
const (
	ClassifyTimeout = 10 * time.Second
	EvaluateTimeout = 30 * time.Second
	CompileTimeout  = 30 * time.Second
)
