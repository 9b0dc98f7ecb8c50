package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/squai/internal/core/config"
	"github.com/vietddude/squai/internal/infra/backend"
	redisclient "github.com/vietddude/squai/internal/infra/redis"
	"github.com/vietddude/squai/internal/infra/requester"
	"github.com/vietddude/squai/internal/infra/storage"
	"github.com/vietddude/squai/internal/infra/storage/memory"
	"github.com/vietddude/squai/internal/infra/storage/postgres"
	"github.com/vietddude/squai/internal/qa"
	"github.com/vietddude/squai/internal/server"
)

// App wires the QA service to its backend, cache, history store and gateway.
type App struct {
	cfg         *config.AppConfig
	service     *qa.Service
	history     storage.HistoryRepository
	server      *server.Server
	db          *postgres.DB
	redisClient *redisclient.Client
	serveErr    chan error
	log         *slog.Logger
}

// NewApp creates an App with all dependencies initialized. Redis is optional:
// a connection failure disables caching instead of failing startup.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := slog.Default().With("component", "app")

	// 1. Backend client
	req := requester.New(cfg.Backend.Retry)
	client, err := backend.NewClient(cfg.Backend, req)
	if err != nil {
		return nil, fmt.Errorf("failed to init backend client: %w", err)
	}

	app := &App{cfg: cfg, log: log}
	opts := []qa.Option{qa.WithDefaults(cfg.Query)}
	checks := make(map[string]server.HealthCheck)

	// 2. History storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		app.db = db
		app.history = postgres.NewHistoryRepo(db)
		checks["postgres"] = db.Health
		log.Info("Using PostgreSQL history", "driver", cfg.Database.Driver)
	} else {
		app.history = memory.NewHistoryRepo(memory.WithMaxEntries(cfg.History.MaxEntries))
		log.Info("Using in-memory history", "max_entries", cfg.History.MaxEntries)
	}
	opts = append(opts, qa.WithHistory(app.history))

	// 3. Answer cache
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, answer cache disabled", "error", err)
		} else {
			app.redisClient = rc
			opts = append(opts, qa.WithCache(rc))
			checks["redis"] = rc.Ping
		}
	}

	app.service = qa.NewService(client, opts...)
	app.server = server.NewServer(cfg.Server, app.service, app.history, checks)

	log.Info("App initialized",
		"backend", cfg.Backend.BaseURL,
		"retry_timeout", req.Config().Timeout,
		"retry_wait", req.Config().WaitInterval,
	)
	return app, nil
}

// Service returns the QA service.
func (a *App) Service() *qa.Service {
	return a.service
}

// History returns the history repository.
func (a *App) History() storage.HistoryRepository {
	return a.history
}

// Start launches the gateway in the background. Errors() reports a failed listener.
func (a *App) Start(ctx context.Context) error {
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	a.serveErr = make(chan error, 1)
	go func() {
		a.serveErr <- a.server.Start()
	}()
	return nil
}

// Errors returns a channel that receives the gateway's exit error.
func (a *App) Errors() <-chan error {
	return a.serveErr
}

// Stop shuts down the gateway and releases connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping squai...")

	err := a.server.Stop(ctx)
	a.Close()
	return err
}

// Close releases connections without touching the gateway.
func (a *App) Close() {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
}
