package bankaccounts

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/platform/db"
	"github.com/uvr-coop/uvr/internal/shared"
)

// Repository exposes bank account persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Account, error)
	List(ctx context.Context, scope authz.Scope, page shared.Page) ([]Account, error)
}

// TxRepository exposes transactional statements.
type TxRepository interface {
	Lock(ctx context.Context, id int64) (Account, error)
	Insert(ctx context.Context, a Account) (int64, error)
	Update(ctx context.Context, a Account) error
	HasEntries(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) error
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

func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		return fn(txCtx, &pgTx{q: tx})
	})
}

const accountColumns = `id, unit_id, association_id, bank_name, branch, account_number, label, created_by, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.UnitID, &a.AssociationID, &a.BankName, &a.Branch, &a.AccountNumber,
		&a.Label, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return Account{}, shared.ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Account, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+accountColumns+` FROM bank_accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (r *PGRepository) List(ctx context.Context, scope authz.Scope, page shared.Page) ([]Account, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+accountColumns+` FROM bank_accounts
WHERE ($1 = 0 OR unit_id = $1) AND ($2 = 0 OR association_id = $2)
ORDER BY id LIMIT $3 OFFSET $4`, scope.UnitID, scope.AssociationID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list bank accounts: %w", err)
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *pgTx) Lock(ctx context.Context, id int64) (Account, error) {
	return scanAccount(t.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM bank_accounts WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) Insert(ctx context.Context, a Account) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO bank_accounts (unit_id, association_id, bank_name, branch, account_number, label, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		a.UnitID, a.AssociationID, a.BankName, a.Branch, a.AccountNumber, a.Label, a.CreatedBy).Scan(&id)
	return id, err
}

func (t *pgTx) Update(ctx context.Context, a Account) error {
	tag, err := t.q.Exec(ctx, `UPDATE bank_accounts SET bank_name = $2, branch = $3, account_number = $4, label = $5, updated_at = NOW()
WHERE id = $1`, a.ID, a.BankName, a.Branch, a.AccountNumber, a.Label)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *pgTx) HasEntries(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cashflow_entries WHERE bank_account_id = $1)`, id).Scan(&exists)
	return exists, err
}

func (t *pgTx) Delete(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM bank_accounts WHERE id = $1`, id)
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
