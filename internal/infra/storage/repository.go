package storage

import (
	"context"
	"errors"

	"github.com/vietddude/squai/internal/core/domain"
)

var (
	// ErrHistoryNotFound is returned when a history entry doesn't exist
	ErrHistoryNotFound = errors.New("history entry not found")
)

const DefaultListLimit = 20

// HistoryRepository handles query history storage
type HistoryRepository interface {
	// Save inserts or replaces an entry
	Save(ctx context.Context, entry *domain.HistoryEntry) error

	// Get retrieves an entry by ID
	Get(ctx context.Context, id string) (*domain.HistoryEntry, error)

	// List returns the most recent entries, newest first
	List(ctx context.Context, limit int) ([]*domain.HistoryEntry, error)

	// Count returns the number of stored entries
	Count(ctx context.Context) (int, error)
}
