package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/squai/internal/core/domain"
	"github.com/vietddude/squai/internal/infra/storage"
)

// HistoryRepo implements storage.HistoryRepository using PostgreSQL.
type HistoryRepo struct {
	db *DB
}

// NewHistoryRepo creates a new PostgreSQL history repository.
func NewHistoryRepo(db *DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

type historyRow struct {
	ID              string         `db:"id"`
	Question        string         `db:"question"`
	Model           string         `db:"model"`
	RetrievalMethod string         `db:"retrieval_method"`
	NValue          float64        `db:"n_value"`
	TopK            int            `db:"top_k"`
	Alpha           float64        `db:"alpha"`
	ShouldSplit     sql.NullBool   `db:"should_split"`
	SubQuestions    sql.NullString `db:"sub_questions"`
	Answer          string         `db:"answer"`
	Citations       int            `db:"citations"`
	Cached          bool           `db:"cached"`
	Status          string         `db:"status"`
	ErrorMsg        string         `db:"error_msg"`
	DurationMS      int64          `db:"duration_ms"`
	CreatedAt       time.Time      `db:"created_at"`
}

const historyColumns = `id, question, model, retrieval_method, n_value, top_k, alpha,
	should_split, sub_questions, answer, citations, cached, status, error_msg, duration_ms, created_at`

func toRow(e *domain.HistoryEntry) (historyRow, error) {
	row := historyRow{
		ID:              e.ID,
		Question:        e.Query.Question,
		Model:           string(e.Query.Model),
		RetrievalMethod: string(e.Query.RetrievalMethod),
		NValue:          e.Query.NValue,
		TopK:            e.Query.TopK,
		Alpha:           e.Query.Alpha,
		Answer:          e.Answer,
		Citations:       e.Citations,
		Cached:          e.Cached,
		Status:          string(e.Status),
		ErrorMsg:        e.Error,
		DurationMS:      e.Duration.Milliseconds(),
		CreatedAt:       e.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	if e.Split != nil {
		subs, err := json.Marshal(e.Split.SubQuestions)
		if err != nil {
			return historyRow{}, fmt.Errorf("encode sub questions: %w", err)
		}
		row.ShouldSplit = sql.NullBool{Bool: e.Split.ShouldSplit, Valid: true}
		row.SubQuestions = sql.NullString{String: string(subs), Valid: true}
	}
	return row, nil
}

func (row historyRow) toEntry() (*domain.HistoryEntry, error) {
	e := &domain.HistoryEntry{
		ID: row.ID,
		Query: domain.Query{
			Question:        row.Question,
			Model:           domain.Model(row.Model),
			RetrievalMethod: domain.RetrievalMethod(row.RetrievalMethod),
			NValue:          row.NValue,
			TopK:            row.TopK,
			Alpha:           row.Alpha,
		},
		Answer:    row.Answer,
		Citations: row.Citations,
		Cached:    row.Cached,
		Status:    domain.HistoryStatus(row.Status),
		Error:     row.ErrorMsg,
		Duration:  time.Duration(row.DurationMS) * time.Millisecond,
		CreatedAt: row.CreatedAt,
	}

	if row.ShouldSplit.Valid {
		split := &domain.SplitResult{ShouldSplit: row.ShouldSplit.Bool, SubQuestions: []string{}}
		if row.SubQuestions.Valid && row.SubQuestions.String != "" {
			if err := json.Unmarshal([]byte(row.SubQuestions.String), &split.SubQuestions); err != nil {
				return nil, fmt.Errorf("decode sub questions: %w", err)
			}
		}
		e.Split = split
	}
	return e, nil
}

// Save inserts an entry, replacing any existing entry with the same ID.
func (r *HistoryRepo) Save(ctx context.Context, entry *domain.HistoryEntry) error {
	row, err := toRow(entry)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO query_history (` + historyColumns + `)
		VALUES (:id, :question, :model, :retrieval_method, :n_value, :top_k, :alpha,
			:should_split, :sub_questions, :answer, :citations, :cached, :status, :error_msg, :duration_ms, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			should_split = EXCLUDED.should_split,
			sub_questions = EXCLUDED.sub_questions,
			answer = EXCLUDED.answer,
			citations = EXCLUDED.citations,
			cached = EXCLUDED.cached,
			status = EXCLUDED.status,
			error_msg = EXCLUDED.error_msg,
			duration_ms = EXCLUDED.duration_ms
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save history entry: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID.
func (r *HistoryRepo) Get(ctx context.Context, id string) (*domain.HistoryEntry, error) {
	var row historyRow
	err := r.db.GetContext(ctx, &row, `SELECT `+historyColumns+` FROM query_history WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrHistoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history entry: %w", err)
	}
	return row.toEntry()
}

// List returns the most recent entries, newest first.
func (r *HistoryRepo) List(ctx context.Context, limit int) ([]*domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	var rows []historyRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+historyColumns+`
		FROM query_history
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	out := make([]*domain.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Count returns the number of stored entries.
func (r *HistoryRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM query_history`); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}
