package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/reagent-ai/reagent/internal/infra"
	"github.com/reagent-ai/reagent/internal/repository"
	"github.com/reagent-ai/reagent/pkg/llm"
	pkgLogger "github.com/reagent-ai/reagent/pkg/logger"
)

var (
	testNow   = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	testStart = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	testEnd   = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
)

func testSubscription() repository.Subscription {
	return repository.Subscription{
		ID:           "sub-1",
		SubscriberID: "alice",
		Status:       repository.SubscriptionActive,
		StartDate:    testStart,
		EndDate:      testEnd,
		Quota:        100000,
	}
}

type fixture struct {
	ledger  *Ledger
	periods *infra.MemoryUsagePeriodRepository
	records *infra.MemoryUsageRecordRepository
}

func newFixture(subs ...repository.Subscription) *fixture {
	periods := infra.NewMemoryUsagePeriodRepository()
	records := infra.NewMemoryUsageRecordRepository()
	l := NewLedger(
		infra.NewMemorySubscriptionRepository(subs...),
		periods,
		records,
		pkgLogger.NewLogger(pkgLogger.LogLevelError),
	).WithClock(func() time.Time { return testNow })
	return &fixture{ledger: l, periods: periods, records: records}
}

func TestRecordUsageSuccess(t *testing.T) {
	f := newFixture(testSubscription())

	metrics := llm.ScalarMetrics{
		InputTokens:         5,
		OutputTokens:        2,
		PromptTokensDetails: []llm.CacheDetail{{CachedTokens: 1}},
	}
	result, err := f.ledger.RecordUsage(context.Background(), "alice", metrics, "chat")
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if result.TokensUsed != 7 {
		t.Errorf("TokensUsed = %d, want 7", result.TokensUsed)
	}

	period, ok := f.periods.Get(result.PeriodID)
	if !ok {
		t.Fatal("resolved period not found")
	}
	if !period.PeriodStart.Equal(testStart) || !period.PeriodEnd.Equal(testEnd) {
		t.Errorf("period window = [%v, %v), want subscription window", period.PeriodStart, period.PeriodEnd)
	}
	if period.Quota != 100000 {
		t.Errorf("period quota = %d, want copied from subscription", period.Quota)
	}
	if period.InputTokensUsed != 5 || period.OutputTokensUsed != 2 || period.CachedInputTokensUsed != 1 {
		t.Errorf("period counters = %d/%d/%d, want 5/2/1",
			period.InputTokensUsed, period.OutputTokensUsed, period.CachedInputTokensUsed)
	}

	records := f.records.All()
	if len(records) != 1 {
		t.Fatalf("record count = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.SubscriberID != "alice" || rec.UsagePeriodID != result.PeriodID || rec.MessageType != "chat" {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.InputTokens != 5 || rec.OutputTokens != 2 || rec.CachedInputTokens != 1 {
		t.Errorf("record counters = %d/%d/%d, want 5/2/1", rec.InputTokens, rec.OutputTokens, rec.CachedInputTokens)
	}
}

func TestRecordUsageReusesCoveringPeriod(t *testing.T) {
	f := newFixture(testSubscription())

	first, err := f.ledger.RecordUsage(context.Background(), "alice", llm.ScalarMetrics{InputTokens: 1, OutputTokens: 1}, "chat")
	if err != nil {
		t.Fatalf("first RecordUsage failed: %v", err)
	}
	second, err := f.ledger.RecordUsage(context.Background(), "alice", llm.ScalarMetrics{InputTokens: 2, OutputTokens: 2}, "chat")
	if err != nil {
		t.Fatalf("second RecordUsage failed: %v", err)
	}

	if first.PeriodID != second.PeriodID {
		t.Errorf("periods differ: %s vs %s", first.PeriodID, second.PeriodID)
	}
	if n := f.periods.CountForSubscription("sub-1"); n != 1 {
		t.Errorf("period count = %d, want 1", n)
	}

	period, _ := f.periods.Get(first.PeriodID)
	if period.InputTokensUsed != 3 || period.OutputTokensUsed != 3 {
		t.Errorf("accumulated counters = %d/%d, want 3/3", period.InputTokensUsed, period.OutputTokensUsed)
	}
}

func TestRecordUsageNoActiveSubscription(t *testing.T) {
	expired := testSubscription()
	expired.EndDate = testNow.Add(-time.Hour)
	inactive := testSubscription()
	inactive.ID = "sub-2"
	inactive.SubscriberID = "bob"
	inactive.Status = repository.SubscriptionInactive

	f := newFixture(expired, inactive)

	for _, subscriber := range []string{"alice", "bob", "nobody"} {
		_, err := f.ledger.RecordUsage(context.Background(), subscriber, llm.ScalarMetrics{InputTokens: 1}, "chat")
		if !errors.Is(err, ErrNoActiveSubscription) {
			t.Errorf("subscriber %s: err = %v, want ErrNoActiveSubscription", subscriber, err)
		}
	}

	if n := len(f.records.All()); n != 0 {
		t.Errorf("records written = %d, want 0", n)
	}
	if n := f.periods.CountForSubscription("sub-1"); n != 0 {
		t.Errorf("periods created = %d, want 0", n)
	}
}

type failingRecordRepo struct{}

func (failingRecordRepo) Insert(ctx context.Context, record *repository.UsageRecord) (string, error) {
	return "", errors.New("write refused")
}

func TestRecordUsageInsertFailureStopsAccounting(t *testing.T) {
	periods := infra.NewMemoryUsagePeriodRepository()
	l := NewLedger(
		infra.NewMemorySubscriptionRepository(testSubscription()),
		periods,
		failingRecordRepo{},
		pkgLogger.NewLogger(pkgLogger.LogLevelError),
	).WithClock(func() time.Time { return testNow })

	result, err := l.RecordUsage(context.Background(), "alice", llm.ScalarMetrics{InputTokens: 5, OutputTokens: 5}, "chat")
	if !errors.Is(err, ErrRecordUsage) {
		t.Fatalf("err = %v, want ErrRecordUsage", err)
	}
	_ = result

	// Counters must be untouched: no usage without an audit trail.
	period, err := periods.FindOrCreate(context.Background(), "sub-1",
		repository.Window{Start: testStart, End: testEnd}, 100000, testNow)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if period.InputTokensUsed != 0 || period.OutputTokensUsed != 0 {
		t.Errorf("counters incremented despite insert failure: %+v", period)
	}
}

// vanishingPeriodRepo resolves periods normally but reports that the
// increment modified nothing, as when the period row disappears between
// resolution and update.
type vanishingPeriodRepo struct {
	*infra.MemoryUsagePeriodRepository
}

func (r vanishingPeriodRepo) IncrementCounters(ctx context.Context, periodID string, delta llm.TokenCounts, now time.Time) (int64, error) {
	return 0, nil
}

func TestRecordUsageZeroRowUpdateSurfaced(t *testing.T) {
	records := infra.NewMemoryUsageRecordRepository()
	l := NewLedger(
		infra.NewMemorySubscriptionRepository(testSubscription()),
		vanishingPeriodRepo{infra.NewMemoryUsagePeriodRepository()},
		records,
		pkgLogger.NewLogger(pkgLogger.LogLevelError),
	).WithClock(func() time.Time { return testNow })

	_, err := l.RecordUsage(context.Background(), "alice", llm.ScalarMetrics{InputTokens: 1}, "chat")
	if !errors.Is(err, ErrPeriodUpdate) {
		t.Fatalf("err = %v, want ErrPeriodUpdate", err)
	}

	// The audit record was already written by design; the inconsistency is
	// surfaced to the caller instead of rolled back.
	if n := len(records.All()); n != 1 {
		t.Errorf("records written = %d, want 1", n)
	}
}

func TestRecordUsageNilMetricsCountsZero(t *testing.T) {
	f := newFixture(testSubscription())

	result, err := f.ledger.RecordUsage(context.Background(), "alice", nil, "chat")
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}
	if result.TokensUsed != 0 {
		t.Errorf("TokensUsed = %d, want 0", result.TokensUsed)
	}
	if n := len(f.records.All()); n != 1 {
		t.Errorf("records written = %d, want 1", n)
	}
}

func TestRecordUsageConcurrentCreatesOnePeriod(t *testing.T) {
	f := newFixture(testSubscription())

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.RecordUsage(context.Background(), "alice",
				llm.ScalarMetrics{InputTokens: 3, OutputTokens: 2}, "chat")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent RecordUsage failed: %v", err)
		}
	}

	if n := f.periods.CountForSubscription("sub-1"); n != 1 {
		t.Fatalf("period count = %d, want exactly 1", n)
	}

	records := f.records.All()
	if len(records) != workers {
		t.Fatalf("record count = %d, want %d", len(records), workers)
	}
	period, _ := f.periods.Get(records[0].UsagePeriodID)
	if period.InputTokensUsed != 3*workers || period.OutputTokensUsed != 2*workers {
		t.Errorf("final counters = %d/%d, want %d/%d",
			period.InputTokensUsed, period.OutputTokensUsed, 3*workers, 2*workers)
	}
}
