package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uvr-coop/uvr/internal/platform/db"
)

const insertAuditSQL = `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`

// AuditLog is one row of audit_logs. ActorID 0 marks a system action.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditEntityID formats a numeric primary key for AuditLog.EntityID.
func AuditEntityID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (l AuditLog) validate() error {
	verr := &ValidationError{}
	if l.Action == "" {
		verr.Add("action", "required")
	}
	if l.Entity == "" {
		verr.Add("entity", "required")
	}
	if l.EntityID == "" {
		verr.Add("entity_id", "required")
	}
	return verr.OrNil()
}

// AuditLogger appends to audit_logs. Inside db.WithTx the row joins the
// caller's transaction, so a rolled back mutation leaves no audit trail.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("shared: audit logger not initialised")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("shared: encode audit meta: %w", err)
	}
	var at *time.Time
	if !entry.At.IsZero() {
		ts := entry.At.UTC()
		at = &ts
	}
	if _, err := db.Conn(ctx, l.pool).Exec(ctx, insertAuditSQL,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, payload, at); err != nil {
		return fmt.Errorf("shared: insert audit log: %w", err)
	}
	return nil
}
