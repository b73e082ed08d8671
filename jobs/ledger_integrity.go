package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/uvr-coop/uvr/internal/ledger"
)

// IntegrityChecker is the ledger capability the job relies on.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) ([]ledger.IntegrityIssue, error)
}

// IntegrityGauge publishes the number of violations found by the last run.
type IntegrityGauge interface {
	SetIntegrityViolations(n int)
}

// LedgerIntegrityJob verifies settled amounts, derived statuses and payment links.
type LedgerIntegrityJob struct {
	Checker IntegrityChecker
	Gauge   IntegrityGauge
	Metrics Metrics
	Logger  *slog.Logger
}

// NewLedgerIntegrityJob initialises the integrity handler.
func NewLedgerIntegrityJob(checker IntegrityChecker, gauge IntegrityGauge, metrics Metrics, logger *slog.Logger) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Checker: checker, Gauge: gauge, Metrics: metrics, Logger: logger}
}

// Handle executes the integrity check. Violations are reported, not repaired.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Checker == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Trigger == "" {
		payload.Trigger = "schedule"
	}

	_, err := j.Run(ctx, payload.Trigger)
	return err
}

// Run performs one check and returns the issues found.
func (j *LedgerIntegrityJob) Run(ctx context.Context, trigger string) (issues []ledger.IntegrityIssue, err error) {
	start := time.Now()
	run := track(j.Metrics, TaskLedgerIntegrity)
	defer func() {
		err = run.End(err)
	}()

	logger := j.logger().With(slog.String("trigger", trigger))
	issues, err = j.Checker.CheckIntegrity(ctx)
	if err != nil {
		logger.Error("integrity check failed", slog.Any("error", err))
		return nil, err
	}
	if j.Gauge != nil {
		j.Gauge.SetIntegrityViolations(len(issues))
	}
	for _, issue := range issues {
		logger.Warn("ledger invariant violated",
			slog.Int64("invoice_id", issue.InvoiceID),
			slog.String("problem", issue.Problem),
			slog.String("declared_total", issue.DeclaredTotal.StringFixed(2)),
			slog.String("amount_settled", issue.AmountSettled.StringFixed(2)),
			slog.String("linked", issue.Linked.StringFixed(2)),
		)
	}
	logger.Info("completed ledger integrity check",
		slog.Int("violations", len(issues)),
		slog.Duration("duration", time.Since(start)),
	)
	return issues, nil
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}
