package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uvr-coop/uvr/cmd/uvrctl/cli"
	"github.com/uvr-coop/uvr/internal/app"
	"github.com/uvr-coop/uvr/internal/observability"
	"github.com/uvr-coop/uvr/internal/platform/db"
	"github.com/uvr-coop/uvr/jobs"
)

// runtime lazily opens the database pool and the job client for the CLI commands.
type runtime struct {
	cfg     *app.Config
	logger  *slog.Logger
	pool    *pgxpool.Pool
	jobsCLI *cli.JobsCLI
}

func (r *runtime) services(ctx context.Context) (*app.Services, error) {
	if r.pool == nil {
		pool, err := db.New(ctx, r.cfg.PGDSN, db.PoolOptions{MaxConns: 2, ApplicationName: "uvrctl"})
		if err != nil {
			return nil, err
		}
		r.pool = pool
	}
	return app.NewServices(r.cfg, r.logger, r.pool, nil, nil)
}

func (r *runtime) close() {
	if r.pool != nil {
		r.pool.Close()
	}
	if r.jobsCLI != nil {
		if err := r.jobsCLI.Close(); err != nil {
			r.logger.Warn("close job client", slog.Any("error", err))
		}
	}
}

func (r *runtime) commands() cli.Runtime {
	return cli.Runtime{
		Migrate: func(ctx context.Context) error {
			return db.Migrate(r.cfg.PGDSN, r.logger)
		},
		Roles: func(ctx context.Context) (cli.RoleMigrator, error) {
			services, err := r.services(ctx)
			if err != nil {
				return nil, err
			}
			return services.Users, nil
		},
		Integrity: func(ctx context.Context) (cli.IntegrityRunner, error) {
			services, err := r.services(ctx)
			if err != nil {
				return nil, err
			}
			metrics := observability.NewMetrics()
			return jobs.NewLedgerIntegrityJob(services.Ledger, metrics, metrics, r.logger), nil
		},
		Jobs: func(ctx context.Context) (cli.JobQueue, error) {
			if r.jobsCLI == nil {
				r.jobsCLI = cli.NewJobsCLI(r.cfg.RedisAddr, r.cfg.IdempotencyRetentionHrs)
			}
			return r.jobsCLI, nil
		},
	}
}

func main() {
	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	rt := &runtime{cfg: cfg, logger: app.NewLogger(cfg)}

	err = cli.NewRootCommand(rt.commands(), os.Stdout).ExecuteContext(ctx)
	rt.close()
	if err != nil {
		os.Exit(1)
	}
}
