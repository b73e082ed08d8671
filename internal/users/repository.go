package users

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uvr-coop/uvr/internal/platform/db"
	"github.com/uvr-coop/uvr/internal/shared"
)

// Repository exposes user persistence.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	ListWithoutRole(ctx context.Context) ([]User, error)
	SetRole(ctx context.Context, id int64, role Role) error
	WithTx(ctx context.Context, fn func(context.Context) error) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, username, password_hash, role, unit_id, association_id, is_active, created_at, updated_at`

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

// FindByID fetches a user by primary key.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// ListWithoutRole returns users still lacking an explicit role.
func (r *PGRepository) ListWithoutRole(ctx context.Context) ([]User, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+userColumns+` FROM users WHERE role = '' ORDER BY id FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// SetRole stores an explicit role.
func (r *PGRepository) SetRole(ctx context.Context, id int64, role Role) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// WithTx runs fn in a transaction shared through ctx.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return db.WithTx(ctx, r.pool, func(txCtx context.Context, _ pgx.Tx) error {
		return fn(txCtx)
	})
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &role, &u.UnitID, &u.AssociationID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("users: scan: %w", err)
	}
	u.Role = Role(role)
	return &u, nil
}

var _ Repository = (*PGRepository)(nil)
