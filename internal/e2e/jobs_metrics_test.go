package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/uvr-coop/uvr/internal/ledger"
	"github.com/uvr-coop/uvr/internal/observability"
	"github.com/uvr-coop/uvr/jobs"
)

type stubChecker struct {
	issues []ledger.IntegrityIssue
}

func (s stubChecker) CheckIntegrity(context.Context) ([]ledger.IntegrityIssue, error) {
	return s.issues, nil
}

func TestIntegrityJobPublishesPrometheusMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	checker := stubChecker{issues: []ledger.IntegrityIssue{{
		InvoiceID:     3,
		Problem:       "settled amount differs from payment links",
		DeclaredTotal: decimal.RequireFromString("100"),
		AmountSettled: decimal.RequireFromString("60"),
		Linked:        decimal.RequireFromString("50"),
		Status:        ledger.StatusPartiallySettled,
	}}}
	job := jobs.NewLedgerIntegrityJob(checker, metrics, metrics, nil)

	task, err := jobs.NewLedgerIntegrityTask("manual")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, want := range []string{
		`uvr_ledger_integrity_violations 1`,
		`uvr_jobs_total{status="success",task="ledger:integrity"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in:\n%s", want, body)
		}
	}
}
