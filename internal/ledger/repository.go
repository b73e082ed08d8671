package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uvr-coop/uvr/internal/platform/db"
	"github.com/uvr-coop/uvr/internal/shared"
)

// Repository exposes invoice persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error)
	ListSettlement(ctx context.Context) ([]SettlementRow, error)
}

// TxRepository exposes the statements that run inside a transaction.
type TxRepository interface {
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	UpdateInvoiceHeader(ctx context.Context, inv Invoice) error
	ReplaceLines(ctx context.Context, invoiceID int64, lines []LineItem) error
	HasPaymentLinks(ctx context.Context, invoiceID int64) (bool, error)
	DeleteInvoice(ctx context.Context, id int64) error
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

const invoiceColumns = `id, unit_id, association_id, counterparty_id, counterparty_name, document_number,
document_date, direction, category, declared_total, amount_settled, status, created_by, created_at, updated_at`

// ScanInvoice reads one invoice header in invoiceColumns order.
func ScanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var docDate time.Time
	var direction, status string
	err := row.Scan(&inv.ID, &inv.UnitID, &inv.AssociationID, &inv.CounterpartyID, &inv.CounterpartyName,
		&inv.DocumentNumber, &docDate, &direction, &inv.Category, &inv.DeclaredTotal, &inv.AmountSettled,
		&status, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return Invoice{}, shared.ErrNotFound
		}
		return Invoice{}, err
	}
	inv.DocumentDate = shared.NewDate(docDate)
	inv.Direction = Direction(direction)
	inv.Status = Status(status)
	return inv, nil
}

// InvoiceColumns is the select list ScanInvoice expects.
func InvoiceColumns() string {
	return invoiceColumns
}

// GetInvoice loads an invoice with its lines.
func (r *PGRepository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	q := db.Conn(ctx, r.pool)
	inv, err := ScanInvoice(q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return Invoice{}, err
	}
	lines, err := loadLines(ctx, q, id)
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines = lines
	return inv, nil
}

// ListInvoices returns invoice headers matching filter, newest document first.
func (r *PGRepository) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error) {
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
	if filter.Direction != "" {
		add("direction = $%d", string(filter.Direction))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.OpenOnly {
		where = append(where, "status <> 'SETTLED'")
	}
	if !filter.From.IsZero() {
		add("document_date >= $%d", filter.From.Time)
	}
	if !filter.To.IsZero() {
		add("document_date <= $%d", filter.To.Time)
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Page.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Page.Offset)
	query += fmt.Sprintf(" ORDER BY document_date DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := ScanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ListSettlement returns every invoice with the sum of its payment links.
func (r *PGRepository) ListSettlement(ctx context.Context) ([]SettlementRow, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT i.id, i.unit_id, i.association_id, i.counterparty_id,
i.counterparty_name, i.document_number, i.document_date, i.direction, i.category, i.declared_total,
i.amount_settled, i.status, i.created_by, i.created_at, i.updated_at, COALESCE(SUM(pl.amount_applied), 0)
FROM invoices i LEFT JOIN payment_links pl ON pl.invoice_id = i.id
GROUP BY i.id ORDER BY i.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SettlementRow
	for rows.Next() {
		var row SettlementRow
		var docDate time.Time
		var direction, status string
		inv := &row.Invoice
		if err := rows.Scan(&inv.ID, &inv.UnitID, &inv.AssociationID, &inv.CounterpartyID, &inv.CounterpartyName,
			&inv.DocumentNumber, &docDate, &direction, &inv.Category, &inv.DeclaredTotal, &inv.AmountSettled,
			&status, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt, &row.Linked); err != nil {
			return nil, err
		}
		inv.DocumentDate = shared.NewDate(docDate)
		inv.Direction = Direction(direction)
		inv.Status = Status(status)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *pgTx) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return ScanInvoice(t.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO invoices (unit_id, association_id, counterparty_id, counterparty_name,
document_number, document_date, direction, category, declared_total, amount_settled, status, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		inv.UnitID, inv.AssociationID, inv.CounterpartyID, inv.CounterpartyName, inv.DocumentNumber,
		inv.DocumentDate.Time, string(inv.Direction), inv.Category, inv.DeclaredTotal, inv.AmountSettled,
		string(inv.Status), inv.CreatedBy).Scan(&id)
	return id, err
}

func (t *pgTx) UpdateInvoiceHeader(ctx context.Context, inv Invoice) error {
	tag, err := t.q.Exec(ctx, `UPDATE invoices SET counterparty_id = $2, counterparty_name = $3, document_number = $4,
document_date = $5, direction = $6, category = $7, declared_total = $8, status = $9, updated_at = NOW()
WHERE id = $1`, inv.ID, inv.CounterpartyID, inv.CounterpartyName, inv.DocumentNumber, inv.DocumentDate.Time,
		string(inv.Direction), inv.Category, inv.DeclaredTotal, string(inv.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *pgTx) ReplaceLines(ctx context.Context, invoiceID int64, lines []LineItem) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, invoiceID); err != nil {
		return err
	}
	for _, line := range lines {
		_, err := t.q.Exec(ctx, `INSERT INTO invoice_lines (invoice_id, position, description, unit, quantity, unit_price, line_total)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, invoiceID, line.Position, line.Description, line.Unit, line.Quantity, line.UnitPrice, line.LineTotal)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) HasPaymentLinks(ctx context.Context, invoiceID int64) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_links WHERE invoice_id = $1)`, invoiceID).Scan(&exists)
	return exists, err
}

func (t *pgTx) DeleteInvoice(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return shared.ErrForeignKey
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func loadLines(ctx context.Context, q db.Querier, invoiceID int64) ([]LineItem, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, position, description, unit, quantity, unit_price, line_total
FROM invoice_lines WHERE invoice_id = $1 ORDER BY position`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []LineItem
	for rows.Next() {
		var l LineItem
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.Position, &l.Description, &l.Unit, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
