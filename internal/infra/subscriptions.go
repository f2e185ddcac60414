package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/reagent-ai/reagent/internal/repository"
)

// FileSubscriptionRepository serves subscriptions from a JSON roster file.
// Subscriptions are owned by an external billing system; the roster is this
// service's read-only view of them.
type FileSubscriptionRepository struct {
	mu   sync.RWMutex
	subs []repository.Subscription
}

// NewFileSubscriptionRepository loads the roster from filePath.
func NewFileSubscriptionRepository(filePath string) (*FileSubscriptionRepository, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read subscription roster %s: %w", filePath, err)
	}

	var subs []repository.Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("failed to parse subscription roster %s: %w", filePath, err)
	}

	return &FileSubscriptionRepository{subs: subs}, nil
}

// NewMemorySubscriptionRepository creates a repository over a fixed set of
// subscriptions, for wiring without a roster file and for tests.
func NewMemorySubscriptionRepository(subs ...repository.Subscription) *FileSubscriptionRepository {
	return &FileSubscriptionRepository{subs: subs}
}

// Active implements repository.SubscriptionRepository.
func (r *FileSubscriptionRepository) Active(ctx context.Context, subscriberID string, now time.Time) (*repository.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.subs {
		sub := &r.subs[i]
		if sub.SubscriberID != subscriberID {
			continue
		}
		if sub.Status != repository.SubscriptionActive {
			continue
		}
		if !sub.Covers(now) {
			continue
		}
		cp := *sub
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}
