// Package qa answers a question by asking the backend whether to split it,
// then asking for the answer with that decision attached.
package qa

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/squai/internal/core/domain"
	"github.com/vietddude/squai/internal/infra/storage"
	"github.com/vietddude/squai/internal/metrics"
)

// Backend is the remote QA service.
type Backend interface {
	Split(ctx context.Context, q domain.Query) (domain.SplitResult, error)
	Ask(ctx context.Context, req domain.AskRequest) (domain.AskResult, error)
}

// AnswerCache stores complete answers keyed by query.
type AnswerCache interface {
	GetAnswer(ctx context.Context, q domain.Query) (*domain.Answer, bool, error)
	SetAnswer(ctx context.Context, q domain.Query, ans *domain.Answer) error
}

// Outcome is a successfully answered question.
type Outcome struct {
	ID       string
	Query    domain.Query
	Answer   domain.Answer
	Cached   bool
	Duration time.Duration
}

// Service runs the split → ask flow.
type Service struct {
	backend  Backend
	cache    AnswerCache
	history  storage.HistoryRepository
	defaults domain.Defaults
	now      func() time.Time
	log      *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithCache enables answer caching.
func WithCache(c AnswerCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithHistory records every processed question.
func WithHistory(h storage.HistoryRepository) Option {
	return func(s *Service) { s.history = h }
}

// WithDefaults sets the parameter defaults applied to incoming queries.
func WithDefaults(d domain.Defaults) Option {
	return func(s *Service) { s.defaults = d }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a QA service.
func NewService(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend:  backend,
		defaults: domain.StandardDefaults(),
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.defaults = s.defaults.Merge(domain.StandardDefaults())
	s.log = s.log.With("component", "qa")
	return s
}

// Defaults returns the parameter defaults in effect.
func (s *Service) Defaults() domain.Defaults {
	return s.defaults
}

// NewQuery returns a query for question with the service's defaults.
func (s *Service) NewQuery(question string) domain.Query {
	return s.defaults.NewQuery(question)
}

// Answer validates q, then resolves it from cache or from the backend.
// Backend failures are recorded in history and returned wrapped.
func (s *Service) Answer(ctx context.Context, q domain.Query) (*Outcome, error) {
	q = q.Normalize(s.defaults)
	if err := q.Validate(); err != nil {
		return nil, err
	}

	start := s.now()
	entry := &domain.HistoryEntry{
		ID:        uuid.New().String(),
		Query:     q,
		CreatedAt: start.UTC(),
	}

	if ans, ok := s.lookup(ctx, q); ok {
		out := &Outcome{ID: entry.ID, Query: q, Answer: *ans, Cached: true, Duration: s.now().Sub(start)}
		s.finish(ctx, start, entry, out, nil)
		return out, nil
	}

	s.log.Info("Analyzing question", "id", entry.ID, "model", q.Model, "retrieval", q.RetrievalMethod)
	split, err := s.backend.Split(ctx, q)
	if err != nil {
		err = fmt.Errorf("split question: %w", err)
		s.finish(ctx, start, entry, nil, err)
		return nil, err
	}
	entry.Split = &split

	s.log.Info("Retrieving answer", "id", entry.ID, "should_split", split.ShouldSplit, "sub_questions", len(split.SubQuestions))
	result, err := s.backend.Ask(ctx, domain.NewAskRequest(q, split))
	if err != nil {
		err = fmt.Errorf("ask question: %w", err)
		s.finish(ctx, start, entry, nil, err)
		return nil, err
	}

	ans := domain.Answer{Split: split, Result: result}
	s.store(ctx, q, &ans)

	out := &Outcome{ID: entry.ID, Query: q, Answer: ans, Duration: s.now().Sub(start)}
	s.finish(ctx, start, entry, out, nil)
	return out, nil
}

func (s *Service) lookup(ctx context.Context, q domain.Query) (*domain.Answer, bool) {
	if s.cache == nil {
		return nil, false
	}
	ans, ok, err := s.cache.GetAnswer(ctx, q)
	if err != nil {
		s.log.Warn("Answer cache lookup failed", "error", err)
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return ans, true
}

func (s *Service) store(ctx context.Context, q domain.Query, ans *domain.Answer) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetAnswer(ctx, q, ans); err != nil {
		s.log.Warn("Answer cache store failed", "error", err)
	}
}

// finish records metrics and history. History errors are logged, never returned.
func (s *Service) finish(ctx context.Context, start time.Time, entry *domain.HistoryEntry, out *Outcome, err error) {
	entry.Duration = s.now().Sub(start)

	if err != nil {
		entry.Status = domain.HistoryStatusFailed
		entry.Error = err.Error()
		s.log.Error("Question failed", "id", entry.ID, "duration", entry.Duration, "error", err)
	} else {
		entry.Status = domain.HistoryStatusSucceeded
		entry.Split = &out.Answer.Split
		entry.Answer = out.Answer.Result.Answer
		entry.Citations = len(out.Answer.Result.References)
		entry.Cached = out.Cached
		s.log.Info("Question answered",
			"id", entry.ID,
			"cached", out.Cached,
			"citations", entry.Citations,
			"duration", entry.Duration,
		)
	}

	metrics.QueriesTotal.WithLabelValues(string(entry.Status)).Inc()
	metrics.QueryDuration.Observe(entry.Duration.Seconds())

	if s.history == nil {
		return
	}
	// Use a detached context so a canceled request still gets recorded.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if herr := s.history.Save(hctx, entry); herr != nil {
		s.log.Warn("Failed to record history", "id", entry.ID, "error", herr)
	}
}
