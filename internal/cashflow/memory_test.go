package cashflow

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/bankaccounts"
	"github.com/uvr-coop/uvr/internal/ledger"
	"github.com/uvr-coop/uvr/internal/shared"
)

type memoryStore struct {
	invoices       map[int64]ledger.Invoice
	entries        map[int64]Entry
	links          map[int64][]PaymentLink
	nextEntry      int64
	accountLocks   []int64
	statementCalls int
}

type memoryTx struct{ s *memoryStore }

func newMemoryStore() *memoryStore {
	return &memoryStore{
		invoices: make(map[int64]ledger.Invoice),
		entries:  make(map[int64]Entry),
		links:    make(map[int64][]PaymentLink),
	}
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	invoices := make(map[int64]ledger.Invoice, len(s.invoices))
	for k, v := range s.invoices {
		invoices[k] = v
	}
	entries := make(map[int64]Entry, len(s.entries))
	for k, v := range s.entries {
		entries[k] = v
	}
	links := make(map[int64][]PaymentLink, len(s.links))
	for k, v := range s.links {
		links[k] = append([]PaymentLink(nil), v...)
	}
	nextEntry := s.nextEntry
	if err := fn(ctx, memoryTx{s: s}); err != nil {
		s.invoices, s.entries, s.links, s.nextEntry = invoices, entries, links, nextEntry
		return err
	}
	return nil
}

func (s *memoryStore) GetEntry(ctx context.Context, id int64) (Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, shared.ErrNotFound
	}
	e.Links = append([]PaymentLink(nil), s.links[id]...)
	return e, nil
}

func (s *memoryStore) ListEntries(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var out []Entry
	for _, e := range s.entries {
		if !filter.Scope.Contains(e.Scope()) {
			continue
		}
		if filter.BankAccountID != 0 && e.BankAccountID != filter.BankAccountID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memoryStore) StatementEntries(ctx context.Context, accountID int64, from, to shared.Date) (decimal.Decimal, []Entry, error) {
	s.statementCalls++
	opening := decimal.Zero
	var rows []Entry
	for _, e := range s.entries {
		if e.BankAccountID != accountID {
			continue
		}
		if !from.IsZero() && e.EffectiveDate.Before(from.Time) {
			opening = opening.Add(e.Direction.Signed(e.EffectiveAmount))
			continue
		}
		if !to.IsZero() && e.EffectiveDate.After(to.Time) {
			continue
		}
		rows = append(rows, e)
	}
	sortStatement(rows)
	return opening, rows, nil
}

func sortStatement(rows []Entry) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].EffectiveDate.Equal(rows[j].EffectiveDate.Time) {
			return rows[i].EffectiveDate.Before(rows[j].EffectiveDate.Time)
		}
		return rows[i].ID < rows[j].ID
	})
}

func (t memoryTx) LockAccount(ctx context.Context, accountID int64) error {
	t.s.accountLocks = append(t.s.accountLocks, accountID)
	return nil
}

func (t memoryTx) BalanceBefore(ctx context.Context, accountID int64, date shared.Date, entryID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range t.s.entries {
		if e.BankAccountID != accountID {
			continue
		}
		before := e.EffectiveDate.Before(date.Time) ||
			(e.EffectiveDate.Equal(date.Time) && (entryID == 0 || e.ID < entryID))
		if before {
			total = total.Add(e.Direction.Signed(e.EffectiveAmount))
		}
	}
	return total, nil
}

func (t memoryTx) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	t.s.nextEntry++
	e.ID = t.s.nextEntry
	e.Links = nil
	t.s.entries[e.ID] = e
	return e.ID, nil
}

func (t memoryTx) UpdateEntry(ctx context.Context, e Entry) error {
	if _, ok := t.s.entries[e.ID]; !ok {
		return shared.ErrNotFound
	}
	e.Links = nil
	t.s.entries[e.ID] = e
	return nil
}

func (t memoryTx) LockEntry(ctx context.Context, id int64) (Entry, error) {
	return t.s.GetEntry(ctx, id)
}

func (t memoryTx) DeleteEntry(ctx context.Context, id int64) error {
	if _, ok := t.s.entries[id]; !ok {
		return shared.ErrNotFound
	}
	delete(t.s.entries, id)
	delete(t.s.links, id)
	return nil
}

func (t memoryTx) LockInvoices(ctx context.Context, ids []int64) (map[int64]ledger.Invoice, error) {
	out := make(map[int64]ledger.Invoice, len(ids))
	for _, id := range ids {
		if inv, ok := t.s.invoices[id]; ok {
			out[id] = inv
		}
	}
	return out, nil
}

// UpdateSettlement enforces the same range check as the invoices table.
func (t memoryTx) UpdateSettlement(ctx context.Context, invoiceID int64, settled decimal.Decimal, status ledger.Status) error {
	inv, ok := t.s.invoices[invoiceID]
	if !ok {
		return shared.ErrNotFound
	}
	if settled.IsNegative() || settled.GreaterThan(inv.DeclaredTotal) {
		return errors.New("invoices_settled_range violated")
	}
	inv.AmountSettled = settled
	inv.Status = status
	t.s.invoices[invoiceID] = inv
	return nil
}

func (t memoryTx) InsertLinks(ctx context.Context, entryID int64, apps []Application) error {
	for _, app := range apps {
		t.s.links[entryID] = append(t.s.links[entryID], PaymentLink{
			EntryID:       entryID,
			InvoiceID:     app.InvoiceID,
			Position:      app.Position,
			AmountApplied: app.Amount,
		})
	}
	return nil
}

func (t memoryTx) DeleteLinks(ctx context.Context, entryID int64) error {
	delete(t.s.links, entryID)
	return nil
}

// addInvoice registers an open invoice directly in the store.
func (s *memoryStore) addInvoice(id int64, scope authz.Scope, direction ledger.Direction, total string) {
	s.invoices[id] = ledger.Invoice{
		ID:            id,
		UnitID:        scope.UnitID,
		AssociationID: scope.AssociationID,
		Direction:     direction,
		DeclaredTotal: decimal.RequireFromString(total),
		AmountSettled: decimal.Zero,
		Status:        ledger.StatusOpen,
	}
}

type accountBook map[int64]bankaccounts.Account

func (b accountBook) Get(ctx context.Context, scope authz.Scope, id int64) (bankaccounts.Account, error) {
	a, ok := b[id]
	if !ok || !scope.Contains(a.Scope()) {
		return bankaccounts.Account{}, shared.ErrNotFound
	}
	return a, nil
}

type memoryIdempotency map[string]bool

func (m memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m[module+":"+key] {
		return shared.ErrDuplicateSubmission
	}
	m[module+":"+key] = true
	return nil
}

type allocationRecorder struct {
	applied   []float64
	unapplied []float64
}

func (r *allocationRecorder) ObserveAllocation(direction string, applied, unapplied float64) {
	r.applied = append(r.applied, applied)
	r.unapplied = append(r.unapplied, unapplied)
}
