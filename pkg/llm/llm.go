package llm

import (
	"context"

	"github.com/pkg/errors"
)

var ErrEmptyResponse = errors.New("empty response from generation source")

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of a conversation's history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationRequest carries everything a backend needs for one generation.
type GenerationRequest struct {
	// SessionID identifies the conversation this generation belongs to.
	SessionID string
	// System holds the system prompt lines (description, instructions,
	// category extras) in order.
	System []string
	// History holds the session's prior turns, oldest first. Backends
	// replay them before Message so a continued session keeps its context.
	History []Turn
	// Message is the user's message for this turn.
	Message string
}

// Stream is a live generation in progress. Fragments yields ordered text
// fragments until the generation ends; Err and Metrics are valid only after
// the fragment channel is closed.
type Stream interface {
	// Fragments returns the channel of incremental text fragments.
	Fragments() <-chan string

	// Err reports the terminal error, if the generation failed.
	Err() error

	// Metrics returns the terminal token counters reported by the backend,
	// and whether any were reported at all.
	Metrics() (GenerationMetrics, bool)

	// Close cancels the upstream generation. Safe to call at any time and
	// more than once.
	Close()
}

// Generator produces responses for generation requests, either as a live
// fragment stream or as a single complete result.
type Generator interface {
	// Stream starts a generation and returns the live stream.
	Stream(ctx context.Context, req GenerationRequest) (Stream, error)

	// Complete runs a generation to completion and returns the full text
	// plus terminal metrics. Metrics may be nil when the backend reported
	// none.
	Complete(ctx context.Context, req GenerationRequest) (string, GenerationMetrics, error)

	// ModelID returns a stable identifier for the underlying model
	ModelID() string
}
