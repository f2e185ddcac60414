// Package client selects and constructs a generation backend.
package client

import (
	"fmt"

	"github.com/reagent-ai/reagent/pkg/client/anthropic"
	"github.com/reagent-ai/reagent/pkg/client/ollama"
	"github.com/reagent-ai/reagent/pkg/client/openai"
	"github.com/reagent-ai/reagent/pkg/llm"
)

// NewGenerator creates the generator for the configured backend.
func NewGenerator(backend, model string, maxTokens int) (llm.Generator, error) {
	switch backend {
	case "openai":
		return openai.NewOpenAIClient(model, maxTokens)
	case "anthropic":
		return anthropic.NewAnthropicClient(model, maxTokens)
	case "ollama":
		return ollama.NewOllamaClient(model)
	default:
		return nil, fmt.Errorf("unsupported backend: %s (expected openai, anthropic, or ollama)", backend)
	}
}
