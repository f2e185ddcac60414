// Package anthropic adapts the Anthropic Messages API to the llm.Generator
// contract.
package anthropic

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/reagent-ai/reagent/pkg/llm"
)

const (
	// NOTE: Anthropic requires a max_tokens value on every request.
	defaultMaxTokens = 8192

	// maxContinuations bounds the follow-up calls issued when a response is
	// cut off at max_tokens. Each call's usage is tallied separately, so a
	// continued generation reports aggregated per-call metrics.
	maxContinuations = 2

	continuePrompt = "Continue exactly where you left off."
)

// AnthropicClient implements llm.Generator over the Messages API.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicClient creates a new Anthropic client with configurable
// maxTokens. Values at or below zero fall back to the default.
func NewAnthropicClient(model string, maxTokens int) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &AnthropicClient{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// ModelID implements llm.Generator.
func (c *AnthropicClient) ModelID() string { return c.model }

func (c *AnthropicClient) params(req llm.GenerationRequest) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		if turn.Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Message)))

	return anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: strings.Join(req.System, "\n")},
		},
		Messages: messages,
	}
}

// Stream implements llm.Generator. Text deltas are forwarded as fragments;
// when the response stops at max_tokens a bounded number of continuation
// calls keep the generation going, and the per-call usage tally becomes the
// terminal metrics.
func (c *AnthropicClient) Stream(ctx context.Context, req llm.GenerationRequest) (llm.Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	pipe := llm.NewStreamPipe(cancel)
	params := c.params(req)

	go func() {
		var tally llm.UsageTally

		for round := 0; ; round++ {
			acc, err := c.streamOne(streamCtx, params, pipe)
			if err != nil {
				if streamCtx.Err() != nil {
					// Cancelled by the consumer; not a delivery failure, so
					// the rounds already settled still count.
					pipe.Finish(tally.Metrics(), nil)
					return
				}
				// A broken delivery settles without metrics, even when
				// earlier continuation rounds completed; it is never metered.
				pipe.Finish(nil, err)
				return
			}

			tally.Add(
				acc.Usage.InputTokens,
				acc.Usage.OutputTokens,
				acc.Usage.CacheReadInputTokens,
			)

			if acc.StopReason != anthropic.StopReasonMaxTokens || round >= maxContinuations {
				pipe.Finish(tally.Metrics(), nil)
				return
			}

			params.Messages = append(params.Messages,
				acc.ToParam(),
				anthropic.NewUserMessage(anthropic.NewTextBlock(continuePrompt)),
			)
		}
	}()

	return pipe, nil
}

// streamOne runs a single streaming Messages call, emitting text deltas into
// the pipe and returning the accumulated message.
func (c *AnthropicClient) streamOne(ctx context.Context, params anthropic.MessageNewParams, pipe *llm.StreamPipe) (*anthropic.Message, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)

	var acc anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate streaming event: %w", err)
		}

		if eventData, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := eventData.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if !pipe.Emit(ctx, delta.Text) {
					return nil, ctx.Err()
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic streaming error: %w", err)
	}
	return &acc, nil
}

// Complete implements llm.Generator.
func (c *AnthropicClient) Complete(ctx context.Context, req llm.GenerationRequest) (string, llm.GenerationMetrics, error) {
	params := c.params(req)

	var tally llm.UsageTally
	var text strings.Builder

	for round := 0; ; round++ {
		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return "", tally.Metrics(), fmt.Errorf("anthropic message failed: %w", err)
		}

		for _, block := range resp.Content {
			if textBlock, ok := block.AsAny().(anthropic.TextBlock); ok {
				text.WriteString(textBlock.Text)
			}
		}
		tally.Add(
			resp.Usage.InputTokens,
			resp.Usage.OutputTokens,
			resp.Usage.CacheReadInputTokens,
		)

		if resp.StopReason != anthropic.StopReasonMaxTokens || round >= maxContinuations {
			break
		}
		params.Messages = append(params.Messages,
			resp.ToParam(),
			anthropic.NewUserMessage(anthropic.NewTextBlock(continuePrompt)),
		)
	}

	if text.Len() == 0 {
		return "", tally.Metrics(), llm.ErrEmptyResponse
	}
	return text.String(), tally.Metrics(), nil
}
