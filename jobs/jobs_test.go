package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uvr-coop/uvr/internal/ledger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubChecker struct {
	issues []ledger.IntegrityIssue
	err    error
	calls  int
}

func (s *stubChecker) CheckIntegrity(context.Context) ([]ledger.IntegrityIssue, error) {
	s.calls++
	return s.issues, s.err
}

type gaugeRecorder struct {
	value int
	set   bool
}

func (g *gaugeRecorder) SetIntegrityViolations(n int) {
	g.value = n
	g.set = true
}

type jobRecorder struct {
	runs map[string]int
}

func (r *jobRecorder) ObserveJob(task, status string) {
	if r.runs == nil {
		r.runs = make(map[string]int)
	}
	r.runs[task+"/"+status]++
}

func TestLedgerIntegrityJobPublishesViolations(t *testing.T) {
	checker := &stubChecker{issues: []ledger.IntegrityIssue{
		{InvoiceID: 7, Problem: "settled amount differs from payment links", DeclaredTotal: decimal.RequireFromString("100"), AmountSettled: decimal.RequireFromString("40"), Linked: decimal.RequireFromString("30"), Status: ledger.StatusPartiallySettled},
		{InvoiceID: 9, Problem: "status does not match settlement", DeclaredTotal: decimal.RequireFromString("50"), AmountSettled: decimal.RequireFromString("50"), Linked: decimal.RequireFromString("50"), Status: ledger.StatusOpen},
	}}
	gauge := &gaugeRecorder{}
	metrics := &jobRecorder{}
	job := NewLedgerIntegrityJob(checker, gauge, metrics, discardLogger())

	task, err := NewLedgerIntegrityTask("manual")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, 1, checker.calls)
	assert.True(t, gauge.set)
	assert.Equal(t, 2, gauge.value)
	assert.Equal(t, 1, metrics.runs[TaskLedgerIntegrity+"/success"])
}

func TestLedgerIntegrityJobFailureKeepsGauge(t *testing.T) {
	checker := &stubChecker{err: errors.New("connection refused")}
	gauge := &gaugeRecorder{}
	metrics := &jobRecorder{}
	job := NewLedgerIntegrityJob(checker, gauge, metrics, discardLogger())

	_, err := job.Run(context.Background(), "cli")
	require.Error(t, err)
	assert.False(t, gauge.set)
	assert.Equal(t, 1, metrics.runs[TaskLedgerIntegrity+"/failure"])
}

func TestLedgerIntegrityJobRejectsMalformedPayload(t *testing.T) {
	job := NewLedgerIntegrityJob(&stubChecker{}, nil, nil, discardLogger())
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLedgerIntegrityJobRequiresChecker(t *testing.T) {
	var job *LedgerIntegrityJob
	require.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, nil)))
}

type cleanerStub struct {
	olderThan time.Duration
	removed   int64
	err       error
}

func (c *cleanerStub) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	c.olderThan = olderThan
	return c.removed, c.err
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		want    time.Duration
	}{
		{name: "default", payload: nil, want: 72 * time.Hour},
		{name: "explicit", payload: mustJSON(t, IdempotencyCleanupPayload{RetentionHours: 24}), want: 24 * time.Hour},
		{name: "non positive", payload: mustJSON(t, IdempotencyCleanupPayload{RetentionHours: -1}), want: 72 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &cleanerStub{removed: 3}
			metrics := &jobRecorder{}
			job := NewIdempotencyCleanupJob(store, metrics, discardLogger())
			require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, tc.payload)))
			assert.Equal(t, tc.want, store.olderThan)
			assert.Equal(t, 1, metrics.runs[TaskIdempotencyCleanup+"/success"])
		})
	}
}

func TestIdempotencyCleanupFailure(t *testing.T) {
	store := &cleanerStub{err: errors.New("boom")}
	metrics := &jobRecorder{}
	job := NewIdempotencyCleanupJob(store, metrics, discardLogger())
	require.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	assert.Equal(t, 1, metrics.runs[TaskIdempotencyCleanup+"/failure"])
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"}})
	require.Error(t, err)
}

type inspectorStub struct {
	info *asynq.QueueInfo
	err  error
}

func (s inspectorStub) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthEndpoint(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		pending   int
	}{
		{name: "no inspector", inspector: nil, status: http.StatusOK},
		{name: "queue info", inspector: inspectorStub{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Retry: 1}}, status: http.StatusOK, pending: 4},
		{name: "queue not created yet", inspector: inspectorStub{err: fmt.Errorf("asynq: %w", asynq.ErrQueueNotFound)}, status: http.StatusOK},
		{name: "redis down", inspector: inspectorStub{err: errors.New("dial tcp: connection refused")}, status: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Route("/jobs", NewHandler(tc.inspector, discardLogger()).MountRoutes)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
			require.Equal(t, tc.status, rec.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body queueHealth
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, QueueDefault, body.Queue)
			assert.Equal(t, tc.pending, body.Pending)
		})
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
