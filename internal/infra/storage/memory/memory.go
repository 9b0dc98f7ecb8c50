package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/squai/internal/core/domain"
	"github.com/vietddude/squai/internal/infra/storage"
)

// DefaultMaxEntries bounds the in-process history.
const DefaultMaxEntries = 500

// HistoryRepo keeps the most recent query history in process memory. Once
// the cap is reached, saving a new entry evicts the oldest by CreatedAt.
type HistoryRepo struct {
	mu         sync.RWMutex
	entries    map[string]*domain.HistoryEntry
	maxEntries int
}

// Option customizes a HistoryRepo.
type Option func(*HistoryRepo)

// WithMaxEntries sets the retention cap. n <= 0 keeps the default.
func WithMaxEntries(n int) Option {
	return func(r *HistoryRepo) {
		if n > 0 {
			r.maxEntries = n
		}
	}
}

func NewHistoryRepo(opts ...Option) *HistoryRepo {
	r := &HistoryRepo{
		entries:    make(map[string]*domain.HistoryEntry),
		maxEntries: DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *HistoryRepo) Save(ctx context.Context, entry *domain.HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.ID]; !exists {
		for len(r.entries) >= r.maxEntries {
			r.evictOldest()
		}
	}
	r.entries[entry.ID] = clone(entry)
	return nil
}

// evictOldest must be called with mu held.
func (r *HistoryRepo) evictOldest() {
	var oldest *domain.HistoryEntry
	for _, e := range r.entries {
		if oldest == nil || older(e, oldest) {
			oldest = e
		}
	}
	if oldest != nil {
		delete(r.entries, oldest.ID)
	}
}

func (r *HistoryRepo) Get(ctx context.Context, id string) (*domain.HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, storage.ErrHistoryNotFound
	}
	return clone(e), nil
}

func (r *HistoryRepo) List(ctx context.Context, limit int) ([]*domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	r.mu.RLock()
	out := make([]*domain.HistoryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, clone(e))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return older(out[j], out[i])
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *HistoryRepo) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), nil
}

// older orders by CreatedAt, then ID.
func older(a, b *domain.HistoryEntry) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func clone(e *domain.HistoryEntry) *domain.HistoryEntry {
	cp := *e
	if e.Split != nil {
		split := *e.Split
		if e.Split.SubQuestions != nil {
			split.SubQuestions = append([]string{}, e.Split.SubQuestions...)
		}
		cp.Split = &split
	}
	return &cp
}
