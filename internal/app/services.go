package app

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/uvr-coop/uvr/internal/auth"
	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/bankaccounts"
	"github.com/uvr-coop/uvr/internal/cashflow"
	"github.com/uvr-coop/uvr/internal/changereq"
	"github.com/uvr-coop/uvr/internal/ledger"
	"github.com/uvr-coop/uvr/internal/observability"
	"github.com/uvr-coop/uvr/internal/shared"
	"github.com/uvr-coop/uvr/internal/users"
)

// Services is the domain layer shared by the API, the worker and the operator CLI.
type Services struct {
	Users        *users.Service
	UserRepo     *users.PGRepository
	Auth         *auth.Service
	Gate         *authz.Gate
	Ledger       *ledger.Service
	BankAccounts *bankaccounts.Service
	Cashflow     *cashflow.Service
	Requests     *changereq.Service
	Idempotency  *shared.IdempotencyStore
}

// NewServices wires repositories and services. redisClient may be nil, in which case
// statements are computed on every request.
func NewServices(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics) (*Services, error) {
	userRepo := users.NewRepository(pool)
	gate := authz.NewGate(userRepo)
	audit := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	ledgerService := ledger.NewService(ledger.NewRepository(pool), audit, logger)
	bankService := bankaccounts.NewService(bankaccounts.NewRepository(pool), audit, logger)

	opts := []cashflow.Option{
		cashflow.WithIdempotency(idempotency),
		cashflow.WithAudit(audit),
		cashflow.WithMetrics(metrics),
	}
	if redisClient != nil {
		ttl := cfg.StatementCacheTTL
		opts = append(opts, cashflow.WithStatementCache(cashflow.NewRedisStatementCache(redisClient, ttl, metrics, logger)))
	}
	cashflowService := cashflow.NewService(cashflow.NewRepository(pool), bankService, logger, opts...)

	registry, err := changereq.NewRegistry(
		ledger.NewChangeTarget(ledgerService),
		cashflow.NewChangeTarget(cashflowService),
		bankaccounts.NewChangeTarget(bankService),
	)
	if err != nil {
		return nil, fmt.Errorf("app: change targets: %w", err)
	}
	requests := changereq.NewService(changereq.NewRepository(pool), registry, gate, logger)
	requests.SetDecisionLog(shared.NewApprovalRecorder(pool, logger))
	requests.SetMetrics(metrics)

	return &Services{
		Users:        users.NewService(userRepo, logger),
		UserRepo:     userRepo,
		Auth:         auth.NewService(userRepo),
		Gate:         gate,
		Ledger:       ledgerService,
		BankAccounts: bankService,
		Cashflow:     cashflowService,
		Requests:     requests,
		Idempotency:  idempotency,
	}, nil
}
