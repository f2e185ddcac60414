package repository

import (
	"context"
	"time"

	"github.com/reagent-ai/reagent/pkg/llm"
)

// Session records one conversation a subscriber has had.
type Session struct {
	ID           string     `json:"id"`
	SubscriberID string     `json:"subscriber_id"`
	Title        string     `json:"title,omitempty"`
	History      []llm.Turn `json:"history,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SessionRepository abstracts session persistence.
type SessionRepository interface {
	// MostRecentSessionID returns the subscriber's most recently used
	// session id, or ErrNotFound when they have none.
	MostRecentSessionID(ctx context.Context, subscriberID string) (string, error)

	// BySubscriber returns the subscriber's sessions, most recently used
	// first.
	BySubscriber(ctx context.Context, subscriberID string) ([]Session, error)

	// Save creates or refreshes a session, making it the subscriber's most
	// recent one.
	Save(ctx context.Context, subscriberID, sessionID string) error

	// SetTitle updates a session's display title.
	SetTitle(ctx context.Context, sessionID, title string) error

	// History returns the session's conversation turns, oldest first, or
	// ErrNotFound for an unknown session.
	History(ctx context.Context, sessionID string) ([]llm.Turn, error)

	// AppendHistory appends turns to the session's conversation history.
	AppendHistory(ctx context.Context, sessionID string, turns ...llm.Turn) error
}
