package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/reagent-ai/reagent/pkg/llm"
)

// ErrNotFound is returned by lookups that matched nothing.
var ErrNotFound = errors.New("not found")

// SubscriptionStatus is the externally-owned state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
)

// Subscription is the externally-owned billing agreement for a subscriber.
// Read-only from this service's perspective.
type Subscription struct {
	ID           string             `json:"id"`
	SubscriberID string             `json:"subscriber_id"`
	Status       SubscriptionStatus `json:"status"`
	StartDate    time.Time          `json:"start_date"`
	EndDate      time.Time          `json:"end_date"`
	Quota        int64              `json:"quota"`
}

// Covers reports whether the subscription's [StartDate, EndDate) validity
// window contains t.
func (s *Subscription) Covers(t time.Time) bool {
	return !t.Before(s.StartDate) && t.Before(s.EndDate)
}

// Window is a [Start, End) accounting window.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// UsagePeriod is one accounting window for one subscription. For a given
// subscription at most one period covers any instant; counters only ever
// grow and the period is never deleted by this service.
type UsagePeriod struct {
	ID                    string    `json:"id"`
	SubscriptionID        string    `json:"subscription_id"`
	PeriodStart           time.Time `json:"period_start"`
	PeriodEnd             time.Time `json:"period_end"`
	Quota                 int64     `json:"quota"`
	InputTokensUsed       int64     `json:"input_tokens_used"`
	OutputTokensUsed      int64     `json:"output_tokens_used"`
	CachedInputTokensUsed int64     `json:"cached_input_tokens_used"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// UsageRecord is the immutable audit line written once per accounted
// generation.
type UsageRecord struct {
	ID                string    `json:"id"`
	SubscriberID      string    `json:"subscriber_id"`
	UsagePeriodID     string    `json:"usage_period_id"`
	MessageType       string    `json:"message_type"`
	InputTokens       int64     `json:"input_tokens"`
	OutputTokens      int64     `json:"output_tokens"`
	CachedInputTokens int64     `json:"cached_input_tokens"`
	CreatedAt         time.Time `json:"created_at"`
}

// SubscriptionRepository looks up externally-owned subscriptions.
type SubscriptionRepository interface {
	// Active returns the subscriber's subscription that is active and whose
	// validity window contains now, or ErrNotFound.
	Active(ctx context.Context, subscriberID string, now time.Time) (*Subscription, error)
}

// UsagePeriodRepository owns usage period persistence. Both operations are
// atomic from the caller's point of view: FindOrCreate never produces two
// covering periods for one subscription under concurrent calls, and
// IncrementCounters is a single conditional update, never read-modify-write.
type UsagePeriodRepository interface {
	// FindOrCreate returns the period of subscriptionID covering now,
	// creating it with the given window, quota, and zeroed counters when
	// absent.
	FindOrCreate(ctx context.Context, subscriptionID string, window Window, quota int64, now time.Time) (*UsagePeriod, error)

	// IncrementCounters adds delta to the period's counters and stamps
	// UpdatedAt, returning how many rows were modified (0 or 1).
	IncrementCounters(ctx context.Context, periodID string, delta llm.TokenCounts, now time.Time) (int64, error)
}

// UsageRecordRepository appends immutable usage records.
type UsageRecordRepository interface {
	Insert(ctx context.Context, record *UsageRecord) (string, error)
}
