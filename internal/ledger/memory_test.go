package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/uvr-coop/uvr/internal/shared"
)

type memoryLedgerRepo struct {
	invoices map[int64]Invoice
	linked   map[int64]decimal.Decimal
	nextID   int64
}

type memoryLedgerTx struct {
	repo *memoryLedgerRepo
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		invoices: make(map[int64]Invoice),
		linked:   make(map[int64]decimal.Decimal),
	}
}

func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Invoice, len(r.invoices))
	for k, v := range r.invoices {
		v.Lines = append([]LineItem(nil), v.Lines...)
		snapshot[k] = v
	}
	if err := fn(ctx, &memoryLedgerTx{repo: r}); err != nil {
		r.invoices = snapshot
		return err
	}
	return nil
}

func (r *memoryLedgerRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, shared.ErrNotFound
	}
	inv.Lines = append([]LineItem(nil), inv.Lines...)
	return inv, nil
}

func (r *memoryLedgerRepo) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range r.invoices {
		if !filter.Scope.Contains(inv.Scope()) {
			continue
		}
		if filter.Direction != "" && inv.Direction != filter.Direction {
			continue
		}
		if filter.OpenOnly && inv.Status == StatusSettled {
			continue
		}
		inv.Lines = nil
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryLedgerRepo) ListSettlement(ctx context.Context) ([]SettlementRow, error) {
	var out []SettlementRow
	for _, inv := range r.invoices {
		out = append(out, SettlementRow{Invoice: inv, Linked: r.linked[inv.ID]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Invoice.ID < out[j].Invoice.ID })
	return out, nil
}

func (t *memoryLedgerTx) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return t.repo.GetInvoice(ctx, id)
}

func (t *memoryLedgerTx) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	t.repo.nextID++
	inv.ID = t.repo.nextID
	t.repo.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (t *memoryLedgerTx) UpdateInvoiceHeader(ctx context.Context, inv Invoice) error {
	current, ok := t.repo.invoices[inv.ID]
	if !ok {
		return shared.ErrNotFound
	}
	inv.Lines = current.Lines
	t.repo.invoices[inv.ID] = inv
	return nil
}

func (t *memoryLedgerTx) ReplaceLines(ctx context.Context, invoiceID int64, lines []LineItem) error {
	inv := t.repo.invoices[invoiceID]
	inv.Lines = append([]LineItem(nil), lines...)
	t.repo.invoices[invoiceID] = inv
	return nil
}

func (t *memoryLedgerTx) HasPaymentLinks(ctx context.Context, invoiceID int64) (bool, error) {
	return t.repo.linked[invoiceID].Sign() > 0, nil
}

func (t *memoryLedgerTx) DeleteInvoice(ctx context.Context, id int64) error {
	if _, ok := t.repo.invoices[id]; !ok {
		return shared.ErrNotFound
	}
	delete(t.repo.invoices, id)
	return nil
}

// settle simulates the allocation engine having applied amount to the invoice.
func (r *memoryLedgerRepo) settle(id int64, amount string) {
	d := decimal.RequireFromString(amount)
	inv := r.invoices[id]
	inv.AmountSettled = inv.AmountSettled.Add(d)
	inv.Status = DeriveStatus(inv.AmountSettled, inv.DeclaredTotal)
	r.invoices[id] = inv
	r.linked[id] = r.linked[id].Add(d)
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}
