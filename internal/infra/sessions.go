package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/reagent-ai/reagent/internal/repository"
	"github.com/reagent-ai/reagent/pkg/llm"
)

// FileSessionRepository persists sessions to a JSON file. An empty file path
// keeps sessions in memory only.
type FileSessionRepository struct {
	mu       sync.Mutex
	filePath string
	sessions []repository.Session
	loaded   bool
}

// NewFileSessionRepository creates a session repository backed by filePath.
func NewFileSessionRepository(filePath string) *FileSessionRepository {
	return &FileSessionRepository{filePath: filePath}
}

// MostRecentSessionID implements repository.SessionRepository.
func (r *FileSessionRepository) MostRecentSessionID(ctx context.Context, subscriberID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(); err != nil {
		return "", err
	}

	var best *repository.Session
	for i := range r.sessions {
		s := &r.sessions[i]
		if s.SubscriberID != subscriberID {
			continue
		}
		if best == nil || s.UpdatedAt.After(best.UpdatedAt) {
			best = s
		}
	}
	if best == nil {
		return "", repository.ErrNotFound
	}
	return best.ID, nil
}

// BySubscriber implements repository.SessionRepository.
func (r *FileSessionRepository) BySubscriber(ctx context.Context, subscriberID string) ([]repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(); err != nil {
		return nil, err
	}

	var out []repository.Session
	for i := range r.sessions {
		if r.sessions[i].SubscriberID == subscriberID {
			out = append(out, r.sessions[i])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Save implements repository.SessionRepository.
func (r *FileSessionRepository) Save(ctx context.Context, subscriberID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(); err != nil {
		return err
	}

	now := time.Now()
	for i := range r.sessions {
		if r.sessions[i].ID == sessionID {
			r.sessions[i].UpdatedAt = now
			return r.flush()
		}
	}
	r.sessions = append(r.sessions, repository.Session{
		ID:           sessionID,
		SubscriberID: subscriberID,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	return r.flush()
}

// SetTitle implements repository.SessionRepository.
func (r *FileSessionRepository) SetTitle(ctx context.Context, sessionID, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(); err != nil {
		return err
	}

	for i := range r.sessions {
		if r.sessions[i].ID == sessionID {
			r.sessions[i].Title = title
			r.sessions[i].UpdatedAt = time.Now()
			return r.flush()
		}
	}
	return repository.ErrNotFound
}

// History implements repository.SessionRepository.
func (r *FileSessionRepository) History(ctx context.Context, sessionID string) ([]llm.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(); err != nil {
		return nil, err
	}

	for i := range r.sessions {
		if r.sessions[i].ID == sessionID {
			turns := make([]llm.Turn, len(r.sessions[i].History))
			copy(turns, r.sessions[i].History)
			return turns, nil
		}
	}
	return nil, repository.ErrNotFound
}

// AppendHistory implements repository.SessionRepository.
func (r *FileSessionRepository) AppendHistory(ctx context.Context, sessionID string, turns ...llm.Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.load(); err != nil {
		return err
	}

	for i := range r.sessions {
		if r.sessions[i].ID == sessionID {
			r.sessions[i].History = append(r.sessions[i].History, turns...)
			return r.flush()
		}
	}
	return repository.ErrNotFound
}

// load reads the session file once; a failed read is retried on the next
// call so transient errors never let a later flush clobber the file.
func (r *FileSessionRepository) load() error {
	if r.loaded {
		return nil
	}
	if r.filePath == "" {
		r.loaded = true
		return nil
	}

	data, err := os.ReadFile(r.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			r.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read session file %s: %w", r.filePath, err)
	}
	if err := json.Unmarshal(data, &r.sessions); err != nil {
		return fmt.Errorf("failed to parse session file %s: %w", r.filePath, err)
	}
	r.loaded = true
	return nil
}

func (r *FileSessionRepository) flush() error {
	if r.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(r.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize sessions: %w", err)
	}

	dir := filepath.Dir(r.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(r.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write session file %s: %w", r.filePath, err)
	}
	return nil
}
