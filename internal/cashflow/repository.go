package cashflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/uvr-coop/uvr/internal/ledger"
	"github.com/uvr-coop/uvr/internal/platform/db"
	"github.com/uvr-coop/uvr/internal/shared"
)

// Repository exposes cash-flow persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, id int64) (Entry, error)
	ListEntries(ctx context.Context, filter ListFilter) ([]Entry, error)
	// StatementEntries returns the signed balance of the account before from and the
	// entries in [from, to] ordered by (effective_date, id). Zero dates are unbounded.
	StatementEntries(ctx context.Context, accountID int64, from, to shared.Date) (decimal.Decimal, []Entry, error)
}

// TxRepository exposes the statements that run inside a transaction.
type TxRepository interface {
	LockAccount(ctx context.Context, accountID int64) error
	// BalanceBefore sums entries of the account preceding (date, entryID) in statement order.
	// entryID 0 places the position after every entry of date.
	BalanceBefore(ctx context.Context, accountID int64, date shared.Date, entryID int64) (decimal.Decimal, error)
	InsertEntry(ctx context.Context, e Entry) (int64, error)
	UpdateEntry(ctx context.Context, e Entry) error
	LockEntry(ctx context.Context, id int64) (Entry, error)
	DeleteEntry(ctx context.Context, id int64) error
	LockInvoices(ctx context.Context, ids []int64) (map[int64]ledger.Invoice, error)
	UpdateSettlement(ctx context.Context, invoiceID int64, settled decimal.Decimal, status ledger.Status) error
	InsertLinks(ctx context.Context, entryID int64, apps []Application) error
	DeleteLinks(ctx context.Context, entryID int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type pgTx struct {
	q db.Querier
}

// WithTx runs fn inside a transaction, joining one already carried by ctx.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		return fn(txCtx, &pgTx{q: tx})
	})
}

const entryColumns = `id, unit_id, association_id, bank_account_id, direction, counterparty_id, counterparty_name,
bank_document_number, effective_date, effective_amount, balance_snapshot, memo, created_by, created_at, updated_at`

const signedAmount = `CASE direction WHEN 'RECEIPT' THEN effective_amount ELSE -effective_amount END`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var effective time.Time
	var direction string
	err := row.Scan(&e.ID, &e.UnitID, &e.AssociationID, &e.BankAccountID, &direction, &e.CounterpartyID,
		&e.CounterpartyName, &e.BankDocumentNumber, &effective, &e.EffectiveAmount, &e.BalanceSnapshot,
		&e.Memo, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return Entry{}, shared.ErrNotFound
		}
		return Entry{}, err
	}
	e.Direction = Direction(direction)
	e.EffectiveDate = shared.NewDate(effective)
	return e, nil
}

func (r *PGRepository) GetEntry(ctx context.Context, id int64) (Entry, error) {
	q := db.Conn(ctx, r.pool)
	e, err := scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+` FROM cashflow_entries WHERE id = $1`, id))
	if err != nil {
		return Entry{}, err
	}
	if e.Links, err = loadLinks(ctx, q, id); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// ListEntries returns entry headers, latest movement first.
func (r *PGRepository) ListEntries(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Scope.UnitID != 0 {
		add("unit_id = $%d", filter.Scope.UnitID)
	}
	if filter.Scope.AssociationID != 0 {
		add("association_id = $%d", filter.Scope.AssociationID)
	}
	if filter.BankAccountID != 0 {
		add("bank_account_id = $%d", filter.BankAccountID)
	}
	if filter.Direction != "" {
		add("direction = $%d", string(filter.Direction))
	}
	if !filter.From.IsZero() {
		add("effective_date >= $%d", filter.From.Time)
	}
	if !filter.To.IsZero() {
		add("effective_date <= $%d", filter.To.Time)
	}
	query := `SELECT ` + entryColumns + ` FROM cashflow_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Page.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Page.Offset)
	query += fmt.Sprintf(" ORDER BY effective_date DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PGRepository) StatementEntries(ctx context.Context, accountID int64, from, to shared.Date) (decimal.Decimal, []Entry, error) {
	q := db.Conn(ctx, r.pool)
	opening := decimal.Zero
	if !from.IsZero() {
		err := q.QueryRow(ctx, `SELECT COALESCE(SUM(`+signedAmount+`), 0) FROM cashflow_entries
WHERE bank_account_id = $1 AND effective_date < $2`, accountID, from.Time).Scan(&opening)
		if err != nil {
			return decimal.Zero, nil, fmt.Errorf("opening balance: %w", err)
		}
	}

	args := []any{accountID}
	query := `SELECT ` + entryColumns + ` FROM cashflow_entries WHERE bank_account_id = $1`
	if !from.IsZero() {
		args = append(args, from.Time)
		query += fmt.Sprintf(" AND effective_date >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to.Time)
		query += fmt.Sprintf(" AND effective_date <= $%d", len(args))
	}
	query += " ORDER BY effective_date, id"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return decimal.Zero, nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return decimal.Zero, nil, err
		}
		entries = append(entries, e)
	}
	return opening, entries, rows.Err()
}

func (t *pgTx) LockAccount(ctx context.Context, accountID int64) error {
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, shared.AdvisoryLockKey("bank_account", accountID))
	return err
}

func (t *pgTx) BalanceBefore(ctx context.Context, accountID int64, date shared.Date, entryID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.q.QueryRow(ctx, `SELECT COALESCE(SUM(`+signedAmount+`), 0) FROM cashflow_entries
WHERE bank_account_id = $1 AND (effective_date < $2 OR (effective_date = $2 AND ($3 = 0 OR id < $3)))`,
		accountID, date.Time, entryID).Scan(&balance)
	return balance, err
}

func (t *pgTx) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO cashflow_entries (unit_id, association_id, bank_account_id, direction,
counterparty_id, counterparty_name, bank_document_number, effective_date, effective_amount, balance_snapshot, memo, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		e.UnitID, e.AssociationID, e.BankAccountID, string(e.Direction), e.CounterpartyID, e.CounterpartyName,
		e.BankDocumentNumber, e.EffectiveDate.Time, e.EffectiveAmount, e.BalanceSnapshot, e.Memo, e.CreatedBy).Scan(&id)
	return id, err
}

func (t *pgTx) UpdateEntry(ctx context.Context, e Entry) error {
	tag, err := t.q.Exec(ctx, `UPDATE cashflow_entries SET bank_account_id = $2, direction = $3, counterparty_id = $4,
counterparty_name = $5, bank_document_number = $6, effective_date = $7, effective_amount = $8,
balance_snapshot = $9, memo = $10, updated_at = NOW() WHERE id = $1`,
		e.ID, e.BankAccountID, string(e.Direction), e.CounterpartyID, e.CounterpartyName, e.BankDocumentNumber,
		e.EffectiveDate.Time, e.EffectiveAmount, e.BalanceSnapshot, e.Memo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *pgTx) LockEntry(ctx context.Context, id int64) (Entry, error) {
	e, err := scanEntry(t.q.QueryRow(ctx, `SELECT `+entryColumns+` FROM cashflow_entries WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Entry{}, err
	}
	if e.Links, err = loadLinks(ctx, t.q, id); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (t *pgTx) DeleteEntry(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM cashflow_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// LockInvoices locks the invoices in ascending id order so concurrent allocations
// always acquire row locks in the same sequence.
func (t *pgTx) LockInvoices(ctx context.Context, ids []int64) (map[int64]ledger.Invoice, error) {
	out := make(map[int64]ledger.Invoice, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rows, err := t.q.Query(ctx, `SELECT `+ledger.InvoiceColumns()+` FROM invoices WHERE id = ANY($1) ORDER BY id FOR UPDATE`, sorted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		inv, err := ledger.ScanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out[inv.ID] = inv
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateSettlement(ctx context.Context, invoiceID int64, settled decimal.Decimal, status ledger.Status) error {
	tag, err := t.q.Exec(ctx, `UPDATE invoices SET amount_settled = $2, status = $3, updated_at = NOW() WHERE id = $1`,
		invoiceID, settled, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertLinks(ctx context.Context, entryID int64, apps []Application) error {
	for _, app := range apps {
		_, err := t.q.Exec(ctx, `INSERT INTO payment_links (entry_id, invoice_id, position, amount_applied) VALUES ($1, $2, $3, $4)`,
			entryID, app.InvoiceID, app.Position, app.Amount)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) DeleteLinks(ctx context.Context, entryID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM payment_links WHERE entry_id = $1`, entryID)
	return err
}

func loadLinks(ctx context.Context, q db.Querier, entryID int64) ([]PaymentLink, error) {
	rows, err := q.Query(ctx, `SELECT entry_id, invoice_id, position, amount_applied, created_at
FROM payment_links WHERE entry_id = $1 ORDER BY position`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []PaymentLink
	for rows.Next() {
		var l PaymentLink
		if err := rows.Scan(&l.EntryID, &l.InvoiceID, &l.Position, &l.AmountApplied, &l.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
