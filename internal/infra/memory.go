package infra

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reagent-ai/reagent/internal/repository"
	"github.com/reagent-ai/reagent/pkg/llm"
)

// MemoryUsagePeriodRepository keeps usage periods in memory. All operations
// run under a single mutex, which stands in for the uniqueness constraint and
// atomic update a database-backed implementation would use: find-or-create is
// one critical section, and the counter increment is a single conditional
// update that reports its modified count.
type MemoryUsagePeriodRepository struct {
	mu      sync.Mutex
	periods map[string]*repository.UsagePeriod // by period ID
}

// NewMemoryUsagePeriodRepository creates an empty in-memory period store.
func NewMemoryUsagePeriodRepository() *MemoryUsagePeriodRepository {
	return &MemoryUsagePeriodRepository{
		periods: make(map[string]*repository.UsagePeriod),
	}
}

// FindOrCreate implements repository.UsagePeriodRepository.
func (r *MemoryUsagePeriodRepository) FindOrCreate(ctx context.Context, subscriptionID string, window repository.Window, quota int64, now time.Time) (*repository.UsagePeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.periods {
		if p.SubscriptionID != subscriptionID {
			continue
		}
		if (repository.Window{Start: p.PeriodStart, End: p.PeriodEnd}).Contains(now) {
			cp := *p
			return &cp, nil
		}
	}

	period := &repository.UsagePeriod{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
		PeriodStart:    window.Start,
		PeriodEnd:      window.End,
		Quota:          quota,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.periods[period.ID] = period
	cp := *period
	return &cp, nil
}

// IncrementCounters implements repository.UsagePeriodRepository.
func (r *MemoryUsagePeriodRepository) IncrementCounters(ctx context.Context, periodID string, delta llm.TokenCounts, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	period, ok := r.periods[periodID]
	if !ok {
		return 0, nil
	}
	period.InputTokensUsed += delta.Input
	period.OutputTokensUsed += delta.Output
	period.CachedInputTokensUsed += delta.Cached
	period.UpdatedAt = now
	return 1, nil
}

// Get returns a copy of the period, for inspection by callers outside the
// accounting path (billing/observability tooling, tests).
func (r *MemoryUsagePeriodRepository) Get(periodID string) (*repository.UsagePeriod, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	period, ok := r.periods[periodID]
	if !ok {
		return nil, false
	}
	cp := *period
	return &cp, true
}

// CountForSubscription returns how many periods exist for a subscription.
func (r *MemoryUsagePeriodRepository) CountForSubscription(subscriptionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, p := range r.periods {
		if p.SubscriptionID == subscriptionID {
			n++
		}
	}
	return n
}

// MemoryUsageRecordRepository keeps the append-only usage audit trail in
// memory.
type MemoryUsageRecordRepository struct {
	mu      sync.Mutex
	records []repository.UsageRecord
}

// NewMemoryUsageRecordRepository creates an empty in-memory record store.
func NewMemoryUsageRecordRepository() *MemoryUsageRecordRepository {
	return &MemoryUsageRecordRepository{}
}

// Insert implements repository.UsageRecordRepository.
func (r *MemoryUsageRecordRepository) Insert(ctx context.Context, record *repository.UsageRecord) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := *record
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	r.records = append(r.records, rec)
	return rec.ID, nil
}

// All returns a copy of every stored record.
func (r *MemoryUsageRecordRepository) All() []repository.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]repository.UsageRecord, len(r.records))
	copy(out, r.records)
	return out
}
