// Package ledger accounts consumed generation tokens against a subscriber's
// time-bounded usage period. Accounting is best-effort by policy: it never
// crashes or blocks the response path that triggered it, and its failures
// are returned as values for logging and alerting only.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/reagent-ai/reagent/internal/repository"
	"github.com/reagent-ai/reagent/pkg/llm"
	pkgLogger "github.com/reagent-ai/reagent/pkg/logger"
)

var (
	// ErrNoActiveSubscription means the subscriber has no subscription that
	// is active right now; nothing was recorded.
	ErrNoActiveSubscription = errors.New("no active subscription")

	// ErrRecordUsage means the audit record insert failed; counters were
	// left untouched to avoid counting usage without a trail.
	ErrRecordUsage = errors.New("failed to record usage")

	// ErrPeriodUpdate means the audit record was written but the period
	// counter increment modified nothing. The inconsistency is surfaced for
	// alerting rather than retried.
	ErrPeriodUpdate = errors.New("failed to update usage period")
)

// Result reports a successful accounting operation.
type Result struct {
	TokensUsed int64
	PeriodID   string
}

// Ledger meters token consumption into usage periods.
type Ledger struct {
	subscriptions repository.SubscriptionRepository
	periods       repository.UsagePeriodRepository
	records       repository.UsageRecordRepository
	logger        *pkgLogger.Logger
	now           func() time.Time
}

// NewLedger creates a ledger over the given stores.
func NewLedger(
	subscriptions repository.SubscriptionRepository,
	periods repository.UsagePeriodRepository,
	records repository.UsageRecordRepository,
	logger *pkgLogger.Logger,
) *Ledger {
	return &Ledger{
		subscriptions: subscriptions,
		periods:       periods,
		records:       records,
		logger:        logger.WithComponent("ledger"),
		now:           time.Now,
	}
}

// WithClock overrides the ledger's clock. For tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// RecordUsage accounts one completed generation for a subscriber.
//
// The subscriber's active subscription resolves the covering usage period,
// which is created lazily from the subscription's validity window under a
// race-safe find-or-create. An immutable usage record is written first;
// only then are the period counters incremented, unconditionally and with
// no quota clamping (quota enforcement lives outside this service).
func (l *Ledger) RecordUsage(ctx context.Context, subscriberID string, metrics llm.GenerationMetrics, messageType string) (Result, error) {
	now := l.now()

	sub, err := l.subscriptions.Active(ctx, subscriberID, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Result{}, ErrNoActiveSubscription
		}
		return Result{}, errors.Wrap(err, "subscription lookup failed")
	}

	var counts llm.TokenCounts
	if metrics != nil {
		counts = metrics.Normalize()
	}

	window := repository.Window{Start: sub.StartDate, End: sub.EndDate}
	period, err := l.periods.FindOrCreate(ctx, sub.ID, window, sub.Quota, now)
	if err != nil {
		return Result{}, errors.Wrap(err, "usage period resolution failed")
	}

	record := &repository.UsageRecord{
		ID:                uuid.NewString(),
		SubscriberID:      subscriberID,
		UsagePeriodID:     period.ID,
		MessageType:       messageType,
		InputTokens:       counts.Input,
		OutputTokens:      counts.Output,
		CachedInputTokens: counts.Cached,
		CreatedAt:         now,
	}
	if _, err := l.records.Insert(ctx, record); err != nil {
		l.logger.Error("usage record insert failed",
			"subscriber", subscriberID, "period", period.ID, "error", err)
		return Result{}, ErrRecordUsage
	}

	modified, err := l.periods.IncrementCounters(ctx, period.ID, counts, now)
	if err != nil {
		l.logger.Error("usage period increment failed",
			"subscriber", subscriberID, "period", period.ID, "error", err)
		return Result{}, ErrPeriodUpdate
	}
	if modified == 0 {
		l.logger.Error("usage period increment modified no rows",
			"subscriber", subscriberID, "period", period.ID)
		return Result{}, ErrPeriodUpdate
	}

	return Result{
		TokensUsed: counts.Input + counts.Output,
		PeriodID:   period.ID,
	}, nil
}
