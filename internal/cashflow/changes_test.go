package cashflow

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/changereq"
	"github.com/uvr-coop/uvr/internal/changereq/changereqtest"
	"github.com/uvr-coop/uvr/internal/ledger"
	"github.com/uvr-coop/uvr/internal/shared"
	"github.com/uvr-coop/uvr/internal/users"
)

// invalidationSpy records, for every invalidation, how many decisions were logged by then.
type invalidationSpy struct {
	decisions *changereqtest.Decisions
	seen      []int
	accounts  []int64
}

func (s *invalidationSpy) Load(ctx context.Context, accountID int64, from, to shared.Date, load func(context.Context) (Statement, error)) (Statement, error) {
	return load(ctx)
}

func (s *invalidationSpy) Invalidate(ctx context.Context, accountIDs ...int64) error {
	s.seen = append(s.seen, len(s.decisions.Logs))
	s.accounts = append(s.accounts, accountIDs...)
	return nil
}

type entryWorkflow struct {
	fixture
	requests  *changereq.Service
	decisions *changereqtest.Decisions
	cache     *invalidationSpy
}

func newEntryWorkflow(t *testing.T) entryWorkflow {
	t.Helper()
	decisions := &changereqtest.Decisions{}
	cache := &invalidationSpy{decisions: decisions}
	f := newFixture(t, WithStatementCache(cache))
	registry, err := changereq.NewRegistry(NewChangeTarget(f.svc))
	require.NoError(t, err)
	gate := authz.NewGate(roleTable{
		1: {ID: 1, Role: users.RoleAdmin, IsActive: true},
		2: {ID: 2, Role: users.RoleUnitUser, IsActive: true, UnitID: 1, AssociationID: 10},
	})
	requests := changereq.NewService(changereqtest.NewRepository(), registry, gate, nil)
	requests.SetDecisionLog(decisions)
	return entryWorkflow{fixture: f, requests: requests, decisions: decisions, cache: cache}
}

func entryJSON(t *testing.T, in EntryInput) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	return raw
}

func diffMap(entries []changereq.DiffEntry) map[string]changereq.DiffEntry {
	out := make(map[string]changereq.DiffEntry, len(entries))
	for _, e := range entries {
		out[e.Key] = e
	}
	return out
}

func TestEntryEditWithoutInvoiceOrderDiffsUnchanged(t *testing.T) {
	w := newEntryWorkflow(t)
	ctx := context.Background()
	w.store.addInvoice(1, unitScope, ledger.DirectionIncome, "300.00")
	w.store.addInvoice(2, unitScope, ledger.DirectionIncome, "500.00")

	entry, err := w.svc.CreateEntry(ctx, unitScope, maker.ID, receipt(t, "2024-05-02", "600.00", 1, 2))
	require.NoError(t, err)

	req, err := w.requests.Submit(ctx, maker, changereq.TargetCashflowEntry, entry.ID, changereq.ActionEdit,
		entryJSON(t, receipt(t, "2024-05-02", "600.00")))
	require.NoError(t, err)

	diff, err := w.requests.Diff(ctx, admin, req.ID)
	require.NoError(t, err)
	for _, d := range diff {
		require.False(t, d.Changed, "%s current=%q proposed=%q", d.Key, d.Current, d.Proposed)
	}
	require.Equal(t, "1, 2", diffMap(diff)["invoice_ids"].Proposed)
}

func TestEntryEditApprovedReallocatesAfterCommit(t *testing.T) {
	w := newEntryWorkflow(t)
	ctx := context.Background()
	w.store.addInvoice(1, unitScope, ledger.DirectionIncome, "300.00")
	w.store.addInvoice(2, unitScope, ledger.DirectionIncome, "500.00")

	entry, err := w.svc.CreateEntry(ctx, unitScope, maker.ID, receipt(t, "2024-05-02", "600.00", 1, 2))
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSettled, w.store.invoices[1].Status)

	proposal := receipt(t, "2024-05-02", "400.00", 2, 1)
	req, err := w.requests.Submit(ctx, maker, changereq.TargetCashflowEntry, entry.ID, changereq.ActionEdit, entryJSON(t, proposal))
	require.NoError(t, err)
	require.Equal(t, "300.00", w.store.invoices[2].AmountSettled.StringFixed(2), "submission must not touch allocations")

	diff, err := w.requests.Diff(ctx, admin, req.ID)
	require.NoError(t, err)
	byKey := diffMap(diff)
	require.True(t, byKey["effective_amount"].Changed)
	require.Equal(t, "600.00", byKey["effective_amount"].Current)
	require.Equal(t, "400.00", byKey["effective_amount"].Proposed)
	require.Equal(t, "2, 1", byKey["invoice_ids"].Proposed)
	require.False(t, byKey["effective_date"].Changed)

	w.cache.seen = nil
	resolved, err := w.requests.Resolve(ctx, admin, req.ID, changereq.DecisionApprove, "bank correction")
	require.NoError(t, err)
	require.Equal(t, changereq.StatusApproved, resolved.Status)

	// full reversal, then 400 applied in the new order: all of it to invoice 2
	require.Equal(t, "400.00", w.store.invoices[2].AmountSettled.StringFixed(2))
	require.Equal(t, ledger.StatusPartiallySettled, w.store.invoices[2].Status)
	require.True(t, w.store.invoices[1].AmountSettled.IsZero())
	require.Equal(t, ledger.StatusOpen, w.store.invoices[1].Status)
	requireLedgerConsistent(t, w.store)

	require.Equal(t, []int{2}, w.cache.seen, "statement cache must be invalidated after the approval is recorded")
	require.Contains(t, w.cache.accounts, mainAccount)
}

func TestEntryEditApprovalFailureKeepsRequestPending(t *testing.T) {
	w := newEntryWorkflow(t)
	ctx := context.Background()
	w.store.addInvoice(1, unitScope, ledger.DirectionIncome, "300.00")
	w.store.addInvoice(9, unitScope, ledger.DirectionExpense, "300.00")

	entry, err := w.svc.CreateEntry(ctx, unitScope, maker.ID, receipt(t, "2024-05-02", "200.00", 1))
	require.NoError(t, err)

	req, err := w.requests.Submit(ctx, maker, changereq.TargetCashflowEntry, entry.ID, changereq.ActionEdit,
		entryJSON(t, receipt(t, "2024-05-02", "200.00", 9)))
	require.NoError(t, err)

	w.cache.seen = nil
	_, err = w.requests.Resolve(ctx, admin, req.ID, changereq.DecisionApprove, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	stored, err := w.requests.Get(ctx, admin, req.ID)
	require.NoError(t, err)
	require.Equal(t, changereq.StatusPending, stored.Status)
	require.Equal(t, "200.00", w.store.invoices[1].AmountSettled.StringFixed(2))
	require.True(t, w.store.invoices[9].AmountSettled.IsZero())
	require.Empty(t, w.cache.seen)
	requireLedgerConsistent(t, w.store)

	_, err = w.requests.Resolve(ctx, admin, req.ID, changereq.DecisionReject, "wrong invoice")
	require.NoError(t, err)
}

func TestEntryDeleteApprovedReversesAllocation(t *testing.T) {
	w := newEntryWorkflow(t)
	ctx := context.Background()
	w.store.addInvoice(1, unitScope, ledger.DirectionIncome, "300.00")

	entry, err := w.svc.CreateEntry(ctx, unitScope, maker.ID, receipt(t, "2024-05-02", "300.00", 1))
	require.NoError(t, err)

	req, err := w.requests.Submit(ctx, maker, changereq.TargetCashflowEntry, entry.ID, changereq.ActionDelete, nil)
	require.NoError(t, err)

	w.cache.seen = nil
	_, err = w.requests.Resolve(ctx, admin, req.ID, changereq.DecisionApprove, "")
	require.NoError(t, err)

	require.Empty(t, w.store.entries)
	require.True(t, w.store.invoices[1].AmountSettled.IsZero())
	require.Equal(t, ledger.StatusOpen, w.store.invoices[1].Status)
	require.Equal(t, []int{2}, w.cache.seen)
	requireLedgerConsistent(t, w.store)
}
