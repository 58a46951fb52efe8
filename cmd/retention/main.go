// Package main is the entry point for the retention Lambda.
//
// An EventBridge rule invokes it on a schedule with an optional
// {"reference_time": "..."} payload. Each invocation runs one retention pass
// and publishes the summary to CloudWatch.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"tenantgate/internal/billing"
	"tenantgate/internal/config"
	"tenantgate/internal/db"
	"tenantgate/internal/metrics"
	"tenantgate/internal/scheduler"
	"tenantgate/internal/types"
)

// Runner executes one retention pass.
type Runner interface {
	Run(ctx context.Context, now time.Time) (scheduler.RetentionResult, error)
}

// Publisher ships a run summary to the metrics backend.
type Publisher interface {
	PublishRetention(ctx context.Context, s metrics.RetentionSummary) error
}

// Handler holds the dependencies of the Lambda function. Publisher is
// optional.
type Handler struct {
	Runner    Runner
	Publisher Publisher
	Logger    *slog.Logger
}

// Handle runs retention as of the payload's reference time. Metric
// publication failures are logged and do not fail the invocation.
func (h *Handler) Handle(ctx context.Context, payload scheduler.RetentionPayload) (scheduler.RetentionResult, error) {
	now := payload.Now()
	h.Logger.InfoContext(ctx, "retention invocation", "reference_time", now)

	res, err := h.Runner.Run(ctx, now)
	if err != nil {
		h.Logger.ErrorContext(ctx, "retention run failed", "error", err)
		return res, err
	}

	if h.Publisher != nil {
		summary := metrics.RetentionSummary{
			Deleted:  res.DeletedCount,
			Tenants:  res.TenantsProcessed,
			Failures: len(res.Errors),
		}
		if err := h.Publisher.PublishRetention(ctx, summary); err != nil {
			h.Logger.WarnContext(ctx, "failed to publish retention metrics", "error", err)
		}
	}

	h.Logger.InfoContext(ctx, "retention invocation complete",
		"deleted", res.DeletedCount,
		"tenants", res.TenantsProcessed,
		"failures", len(res.Errors),
	)
	return res, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("retention Lambda initializing (cold start)")

	handler, err := newHandler(context.Background(), logger)
	if err != nil {
		logger.Error("retention Lambda failed to initialize", "error", err)
		os.Exit(1)
	}

	lambda.Start(handler.Handle)
}

// newHandler loads configuration and wires the retention service against
// Postgres and CloudWatch. The pool lives for the lifetime of the sandbox.
func newHandler(ctx context.Context, logger *slog.Logger) (*Handler, error) {
	cfg, err := config.LoadJobConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	registry, err := billing.LoadRegistry(cfg.PlansFile, nil, types.PlanCode(cfg.FallbackPlan))
	if err != nil {
		return nil, fmt.Errorf("loading plan registry: %w", err)
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:               cfg.Database.URL.Unmask(),
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	cw := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = &cfg.AWS.EndpointURL
		}
	})

	service := scheduler.NewRetentionService(scheduler.RetentionServiceConfig{
		Store:    db.NewStore(pool),
		Registry: registry,
		Locks:    db.NewJobLockRepository(pool),
		History:  db.NewJobHistoryRepository(pool),
		Counters: db.NewRateLimitRepository(pool),
		Config: scheduler.RetentionConfig{
			BatchSize:     cfg.Retention.BatchSize,
			Concurrency:   cfg.Retention.Concurrency,
			TenantTimeout: cfg.Retention.TenantTimeout,
			LockTTL:       cfg.Retention.LockTTL,
			RunTimeout:    cfg.Retention.RunTimeout,
		},
		Logger: logger,
	})

	return &Handler{
		Runner:    service,
		Publisher: metrics.NewCloudWatchPublisher(cw, cfg.AWS.MetricNamespace),
		Logger:    logger,
	}, nil
}
