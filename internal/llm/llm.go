// Package llm provides a minimal LLM client used as a scoring backend.
package llm

import "context"

// GenerateOptions configures a single generation call.
type GenerateOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// LLM defines the interface for text generation.
type LLM interface {
	// Generate sends a prompt and returns the complete response.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
