package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"tenantgate/internal/api/handlers"
	"tenantgate/internal/auth"
	"tenantgate/internal/billing"
	"tenantgate/internal/config"
	"tenantgate/internal/core"
	"tenantgate/internal/db"
	"tenantgate/internal/external"
	"tenantgate/internal/metrics"
	"tenantgate/internal/ratelimit"
	"tenantgate/internal/scheduler"
	"tenantgate/internal/types"
)

const memorySweepInterval = time.Minute

// backend is the storage the API runs against. Production passes the pgx
// pool for all three; tests pass doubles.
type backend struct {
	DB     db.DBTX
	Tx     *db.TxManager
	Pinger interface {
		Ping(ctx context.Context) error
	}
	RateLimit core.RateLimitStore

	// HTTPClient is used for Stripe calls; nil selects the default.
	HTTPClient *http.Client
}

// buildServer wires repositories, services and handlers onto a core.Server.
// The caller mounts routes.
func buildServer(cfg *config.Config, logger *slog.Logger, b backend) (*core.Server, error) {
	registry, err := billing.LoadRegistry(
		cfg.Billing.PlansFile,
		billing.PriceMap(cfg.Billing.PriceIDPro, cfg.Billing.PriceIDEnterprise),
		types.PlanCode(cfg.Billing.FallbackPlan),
	)
	if err != nil {
		return nil, fmt.Errorf("loading plan registry: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}

	prom := metrics.NewPrometheus()
	srv.Metrics = prom
	srv.MetricsHandler = prom.Handler()

	store := db.NewStore(b.DB)
	keys := db.NewAccessKeyRepository(b.DB)
	usage := billing.NewUsageService(store, keys, registry)

	srv.Keys = auth.NewKeyAuthenticator(store, logger)
	srv.Sessions = auth.NewSessionVerifier(cfg.Auth.SessionSigningKey, cfg.Auth.SessionIssuer)
	srv.RateLimitStore = b.RateLimit
	srv.FloodGuard = ratelimit.NewIPGuard(cfg.RateLimit.PublicRPS, cfg.RateLimit.PublicBurst)
	if b.Pinger != nil {
		srv.HealthProbes = append(srv.HealthProbes, core.PingProbe{ProbeName: "database", Pinger: b.Pinger})
	}

	stripeClient := external.NewStripeClient(b.HTTPClient, external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
		BaseURL:   cfg.Billing.StripeAPIBase,
		Logger:    logger,
	})
	reconciler := billing.NewReconciler(billing.ReconcilerConfig{
		Registry: registry,
		Store:    store,
		Prices:   stripeClient,
		Metrics:  prom,
		Logger:   logger,
	})
	webhook := handlers.NewBillingWebhookHandler(
		external.NewStripeVerifier(cfg.Billing.StripeWebhookSecret, cfg.Billing.WebhookTolerance),
		reconciler,
		logger,
	)

	retention := scheduler.NewRetentionService(scheduler.RetentionServiceConfig{
		Store:    store,
		Registry: registry,
		Locks:    db.NewJobLockRepository(b.DB),
		History:  db.NewJobHistoryRepository(b.DB),
		Counters: db.NewRateLimitRepository(b.DB),
		Metrics:  prom,
		Config: scheduler.RetentionConfig{
			BatchSize:     cfg.Retention.BatchSize,
			Concurrency:   cfg.Retention.Concurrency,
			TenantTimeout: cfg.Retention.TenantTimeout,
			LockTTL:       cfg.Retention.LockTTL,
			RunTimeout:    cfg.Retention.RunTimeout,
		},
		Logger: logger,
	})

	signup := auth.NewSignupService(auth.SignupServiceConfig{
		Emails:    db.NewUserRepository(b.DB),
		TxManager: auth.NewPgSignupTx(b.Tx),
		Logger:    logger,
	})
	issuer := auth.NewKeyIssuer(auth.NewPgKeyIssueTx(b.Tx, registry), types.RealClock{}, logger)

	srv.Routes = core.Routes{
		Webhooks: []core.RouteRegistrar{webhook.RegisterRoutes},
		Internal: []core.RouteRegistrar{handlers.NewRetentionHandler(retention, cfg.Retention.RunTimeout, logger).RegisterRoutes},
		Public:   []core.RouteRegistrar{handlers.NewPlanHandler(registry).RegisterRoutes},
		Signup:   []core.RouteRegistrar{handlers.NewSignupHandler(signup, logger).RegisterRoutes},
		Session: []core.RouteRegistrar{
			handlers.NewAccessKeyHandler(keys, issuer, srv.Validator, logger).RegisterRoutes,
		},
		AccessKey: []core.RouteRegistrar{
			handlers.NewReadHandler(db.NewAlertRepository(b.DB), db.NewCostRepository(b.DB), usage, logger).RegisterRoutes,
		},
	}
	return srv, nil
}

// rateLimiter is the selected signup counter store plus what it owns.
type rateLimiter struct {
	store  core.RateLimitStore
	probes []core.HealthProbe
	close  func()
}

// newRateLimitStore selects the signup counter backend named by
// RATE_LIMIT_BACKEND.
func newRateLimitStore(ctx context.Context, cfg *config.Config, conn db.DBTX, logger *slog.Logger) (rateLimiter, error) {
	switch cfg.RateLimit.Backend {
	case "memory":
		mem := ratelimit.NewMemoryStore()
		sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		go sweepMemoryStore(sweepCtx, mem, memorySweepInterval, logger)
		return rateLimiter{store: mem, close: cancel}, nil

	case "redis":
		client, err := ratelimit.NewRedisClient(ctx, cfg.RateLimit.RedisURL.Unmask())
		if err != nil {
			return rateLimiter{}, fmt.Errorf("connecting to redis: %w", err)
		}
		return rateLimiter{
			store:  ratelimit.NewRedisStore(client, ""),
			probes: []core.HealthProbe{core.PingProbe{ProbeName: "redis", Pinger: redisPinger{client}}},
			close:  func() { _ = client.Close() },
		}, nil

	default:
		return rateLimiter{store: db.NewRateLimitRepository(conn), close: func() {}}, nil
	}
}

func sweepMemoryStore(ctx context.Context, mem *ratelimit.MemoryStore, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mem.Sweep(); n > 0 {
				logger.Debug("swept expired rate limit windows", "count", n)
			}
		}
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

var _ billing.SubscriptionPriceFetcher = (*external.StripeClient)(nil)
