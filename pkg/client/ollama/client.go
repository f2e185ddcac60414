// Package ollama adapts a local Ollama server to the llm.Generator contract.
package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"

	"github.com/reagent-ai/reagent/pkg/llm"
)

// errStopped aborts the Chat callback loop once the consumer is gone.
var errStopped = errors.New("stream consumer gone")

// OllamaClient implements llm.Generator over the Ollama chat API.
type OllamaClient struct {
	client *api.Client
	model  string
}

// NewOllamaClient creates a client from the environment (OLLAMA_HOST).
func NewOllamaClient(model string) (*OllamaClient, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create Ollama client: %w", err)
	}
	return &OllamaClient{client: client, model: model}, nil
}

// ModelID implements llm.Generator.
func (c *OllamaClient) ModelID() string { return c.model }

func (c *OllamaClient) request(req llm.GenerationRequest, stream bool) *api.ChatRequest {
	messages := make([]api.Message, 0, len(req.History)+2)
	messages = append(messages, api.Message{Role: "system", Content: strings.Join(req.System, "\n")})
	for _, turn := range req.History {
		role := llm.RoleUser
		if turn.Role == llm.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, api.Message{Role: role, Content: turn.Content})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Message})
	return &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
	}
}

// Stream implements llm.Generator. Ollama pushes responses through a
// callback; each callback delivery becomes one fragment on the pipe, and the
// final response's eval counts become the terminal metrics. Ollama reports
// no prompt-cache detail, so cached tokens are always zero.
func (c *OllamaClient) Stream(ctx context.Context, req llm.GenerationRequest) (llm.Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	pipe := llm.NewStreamPipe(cancel)

	go func() {
		var tally llm.UsageTally

		err := c.client.Chat(streamCtx, c.request(req, true), func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				if !pipe.Emit(streamCtx, resp.Message.Content) {
					return errStopped
				}
			}
			if resp.Done {
				tally.Add(int64(resp.PromptEvalCount), int64(resp.EvalCount), 0)
			}
			return nil
		})
		if err != nil && (streamCtx.Err() != nil || errors.Is(err, errStopped)) {
			// Cancelled by the consumer; not a delivery failure.
			err = nil
		}
		if err != nil {
			// A broken delivery settles without metrics; it is never metered.
			pipe.Finish(nil, err)
			return
		}
		pipe.Finish(tally.Metrics(), nil)
	}()

	return pipe, nil
}

// Complete implements llm.Generator.
func (c *OllamaClient) Complete(ctx context.Context, req llm.GenerationRequest) (string, llm.GenerationMetrics, error) {
	var tally llm.UsageTally
	var text strings.Builder

	err := c.client.Chat(ctx, c.request(req, false), func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		if resp.Done {
			tally.Add(int64(resp.PromptEvalCount), int64(resp.EvalCount), 0)
		}
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("ollama chat failed: %w", err)
	}
	if text.Len() == 0 {
		return "", tally.Metrics(), llm.ErrEmptyResponse
	}
	return text.String(), tally.Metrics(), nil
}
