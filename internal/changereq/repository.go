package changereq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uvr-coop/uvr/internal/platform/db"
	"github.com/uvr-coop/uvr/internal/shared"
)

const pendingIndex = "change_requests_one_pending"

// Repository exposes change request persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Request, error)
	List(ctx context.Context, filter ListFilter) ([]Request, error)
}

// TxRepository exposes the statements that run inside a transaction.
type TxRepository interface {
	HasPending(ctx context.Context, tt TargetType, targetID int64) (bool, error)
	Insert(ctx context.Context, req Request) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Request, error)
	Resolve(ctx context.Context, id uuid.UUID, status Status, resolvedBy int64, note string, at time.Time) error
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

const requestColumns = `id, target_type, target_id, unit_id, association_id, action, payload, requested_by,
status, submitted_at, resolved_by, resolved_at, resolution_note`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	var targetType, action, status string
	err := row.Scan(&req.ID, &targetType, &req.TargetID, &req.UnitID, &req.AssociationID, &action, &req.Payload,
		&req.RequestedBy, &status, &req.SubmittedAt, &req.ResolvedBy, &req.ResolvedAt, &req.ResolutionNote)
	if err != nil {
		if db.IsNoRows(err) {
			return Request{}, shared.ErrNotFound
		}
		return Request{}, err
	}
	req.TargetType = TargetType(targetType)
	req.Action = Action(action)
	req.Status = Status(status)
	return req, nil
}

// Get loads a request.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	return scanRequest(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+requestColumns+` FROM change_requests WHERE id = $1`, id))
}

// List returns requests matching filter, oldest pending first.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Request, error) {
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
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.TargetType != "" {
		add("target_type = $%d", string(filter.TargetType))
	}
	if filter.RequestedBy != 0 {
		add("requested_by = $%d", filter.RequestedBy)
	}
	query := `SELECT ` + requestColumns + ` FROM change_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Page.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Page.Offset)
	query += fmt.Sprintf(" ORDER BY submitted_at ASC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (t *pgTx) HasPending(ctx context.Context, tt TargetType, targetID int64) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM change_requests WHERE target_type = $1 AND target_id = $2 AND status = 'PENDING')`,
		string(tt), targetID).Scan(&exists)
	return exists, err
}

func (t *pgTx) Insert(ctx context.Context, req Request) error {
	_, err := t.q.Exec(ctx, `INSERT INTO change_requests (id, target_type, target_id, unit_id, association_id, action,
payload, requested_by, status, submitted_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID, string(req.TargetType), req.TargetID, req.UnitID, req.AssociationID, string(req.Action),
		[]byte(req.Payload), req.RequestedBy, string(req.Status), req.SubmittedAt)
	if err != nil {
		if db.IsUniqueViolation(err, pendingIndex) {
			return shared.ErrDuplicatePendingRequest
		}
		return err
	}
	return nil
}

func (t *pgTx) GetForUpdate(ctx context.Context, id uuid.UUID) (Request, error) {
	return scanRequest(t.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM change_requests WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) Resolve(ctx context.Context, id uuid.UUID, status Status, resolvedBy int64, note string, at time.Time) error {
	tag, err := t.q.Exec(ctx, `UPDATE change_requests SET status = $2, resolved_by = $3, resolved_at = $4, resolution_note = $5
WHERE id = $1 AND status = 'PENDING'`, id, string(status), resolvedBy, at, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrRequestResolved
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
