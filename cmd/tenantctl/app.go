package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"tenantgate/internal/billing"
	"tenantgate/internal/config"
	"tenantgate/internal/db"
	"tenantgate/internal/types"
)

// app carries the process-level collaborators shared by every command.
// Tests replace the loaders.
type app struct {
	out    io.Writer
	logger *slog.Logger

	loadConfig func() (*config.JobConfig, error)
	openPool   func(ctx context.Context, cfg *config.JobConfig) (*pgxpool.Pool, error)
	getenv     func(key string) string
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		out:    out,
		logger: slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelInfo})),
		loadConfig: func() (*config.JobConfig, error) {
			return config.LoadJobConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
		},
		openPool: func(ctx context.Context, cfg *config.JobConfig) (*pgxpool.Pool, error) {
			return db.NewPool(ctx, db.PoolConfig{
				URL:               cfg.Database.URL.Unmask(),
				MaxConns:          cfg.Database.MaxConns,
				MinConns:          cfg.Database.MinConns,
				MaxConnLifetime:   cfg.Database.MaxConnLifetime,
				HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
			})
		},
		getenv: os.Getenv,
	}
}

// withPool loads configuration, opens the pool, runs fn and closes the pool.
func (a *app) withPool(ctx context.Context, fn func(cfg *config.JobConfig, pool *pgxpool.Pool) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	pool, err := a.openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	return fn(cfg, pool)
}

func (a *app) registry(cfg *config.JobConfig) (*billing.Registry, error) {
	return billing.LoadRegistry(cfg.PlansFile, nil, types.PlanCode(cfg.FallbackPlan))
}
