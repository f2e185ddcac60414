// Package openai adapts the OpenAI Chat Completions API to the llm.Generator
// contract.
package openai

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/reagent-ai/reagent/pkg/llm"
)

// OpenAIClient implements llm.Generator over the Chat Completions API.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIClient creates a new OpenAI client with configurable maxTokens.
// maxTokens = 0 means the model default.
func NewOpenAIClient(model string, maxTokens int) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}

	// Support custom base URL (for Azure OpenAI, etc.)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &OpenAIClient{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// ModelID implements llm.Generator.
func (c *OpenAIClient) ModelID() string { return c.model }

func (c *OpenAIClient) params(req llm.GenerationRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.System)+len(req.History)+1)
	for _, line := range req.System {
		messages = append(messages, openai.SystemMessage(line))
	}
	for _, turn := range req.History {
		if turn.Role == llm.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Message))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: messages,
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}
	return params
}

// Stream implements llm.Generator. The final chunk's usage report (requested
// via stream_options.include_usage) becomes the stream's terminal metrics.
func (c *OpenAIClient) Stream(ctx context.Context, req llm.GenerationRequest) (llm.Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	pipe := llm.NewStreamPipe(cancel)

	params := c.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	go func() {
		var tally llm.UsageTally

		stream := c.client.Chat.Completions.NewStreaming(streamCtx, params)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) > 0 {
				if delta := chunk.Choices[0].Delta.Content; delta != "" {
					if !pipe.Emit(streamCtx, delta) {
						break
					}
				}
			}
			// Usage arrives on a trailing chunk with no choices.
			if chunk.JSON.Usage.Valid() {
				tally.Add(
					chunk.Usage.PromptTokens,
					chunk.Usage.CompletionTokens,
					chunk.Usage.PromptTokensDetails.CachedTokens,
				)
			}
		}

		err := stream.Err()
		if err != nil && streamCtx.Err() != nil {
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
func (c *OpenAIClient) Complete(ctx context.Context, req llm.GenerationRequest) (string, llm.GenerationMetrics, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return "", nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, llm.ErrEmptyResponse
	}

	var tally llm.UsageTally
	if resp.JSON.Usage.Valid() {
		tally.Add(
			resp.Usage.PromptTokens,
			resp.Usage.CompletionTokens,
			resp.Usage.PromptTokensDetails.CachedTokens,
		)
	}
	return resp.Choices[0].Message.Content, tally.Metrics(), nil
}
