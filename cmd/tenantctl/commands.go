package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"tenantgate/internal/auth"
	"tenantgate/internal/billing"
	"tenantgate/internal/config"
	"tenantgate/internal/db"
	"tenantgate/internal/scheduler"
	"tenantgate/internal/types"
)

const defaultSessionTTL = time.Hour

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "tenantctl",
		Short:         "Operate a tenantgate deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)

	retention := &cobra.Command{Use: "retention", Short: "Retention enforcement"}
	retention.AddCommand(newRetentionRunCmd(a))

	plans := &cobra.Command{Use: "plans", Short: "Plan table"}
	plans.AddCommand(newPlansListCmd(a))

	keys := &cobra.Command{Use: "keys", Short: "Access keys"}
	keys.AddCommand(newKeysCreateCmd(a))

	session := &cobra.Command{Use: "session", Short: "Session tokens"}
	session.AddCommand(newSessionMintCmd(a))

	root.AddCommand(newVersionCmd(a), newMigrateCmd(a), retention, plans, keys, session)
	return root
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := config.NewBuildInfo()
			fmt.Fprintf(a.out, "tenantctl %s (commit %s, built %s)\n", info.Version, info.Commit, info.BuildTime)
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withPool(cmd.Context(), func(_ *config.JobConfig, pool *pgxpool.Pool) error {
				n, err := db.Migrate(cmd.Context(), db.NewTxManager(pool), pool, a.logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "applied %d migrations\n", n)
				return nil
			})
		},
	}
}

func newRetentionRunCmd(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one retention pass now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var payload scheduler.RetentionPayload
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC 3339: %w", err)
				}
				payload.ReferenceTime = &t
			}

			return a.withPool(cmd.Context(), func(cfg *config.JobConfig, pool *pgxpool.Pool) error {
				registry, err := a.registry(cfg)
				if err != nil {
					return err
				}
				svc := scheduler.NewRetentionService(scheduler.RetentionServiceConfig{
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
					Logger: a.logger,
				})
				res, runErr := svc.Run(cmd.Context(), payload.Now())
				if err := writeJSON(a, res); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "reference time (RFC 3339) instead of now")
	return cmd
}

func newPlansListCmd(a *app) *cobra.Command {
	var (
		file     string
		fallback string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the plan table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := billing.LoadRegistry(file, nil, types.PlanCode(fallback))
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a, registry.Plans())
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PLAN\tRETENTION DAYS\tREQUESTS/MIN\tMAX KEYS")
			for _, p := range registry.Plans() {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", p.Code, p.RetentionDays, p.Limits.RequestsPerMinute, p.Limits.MaxKeys)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML plan table (defaults to the built-in plans)")
	cmd.Flags().StringVar(&fallback, "fallback", string(types.PlanPro), "plan for unrecognised prices")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newKeysCreateCmd(a *app) *cobra.Command {
	var tenantID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an access key for a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withPool(cmd.Context(), func(cfg *config.JobConfig, pool *pgxpool.Pool) error {
				registry, err := a.registry(cfg)
				if err != nil {
					return err
				}
				issuer := auth.NewKeyIssuer(auth.NewPgKeyIssueTx(db.NewTxManager(pool), registry), types.RealClock{}, a.logger)
				issued, err := issuer.Issue(cmd.Context(), tenantID, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "id:     %s\nprefix: %s\nsecret: %s\n", issued.Key.ID, issued.Key.KeyPrefix, issued.Secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSessionMintCmd(a *app) *cobra.Command {
	var (
		userID, tenantID string
		ttl              time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign a session token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.ResolveSecrets(config.NewSSMProvider(a.getenv("AWS_REGION"))); err != nil {
				return err
			}
			key := types.SecretString(a.getenv("SESSION_SIGNING_KEY"))
			if key.IsEmpty() {
				return errors.New("SESSION_SIGNING_KEY is not set")
			}
			issuer := a.getenv("SESSION_ISSUER")
			if issuer == "" {
				issuer = "tenantgate-identity"
			}
			token, err := auth.NewSessionVerifier(key, issuer).Sign(userID, tenantID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultSessionTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func writeJSON(a *app, v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
