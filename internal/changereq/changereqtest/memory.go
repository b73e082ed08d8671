// Package changereqtest provides in-memory stand-ins for the change request stores.
package changereqtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uvr-coop/uvr/internal/changereq"
	"github.com/uvr-coop/uvr/internal/platform/db"
	"github.com/uvr-coop/uvr/internal/shared"
)

// Repository is an in-memory changereq.Repository. A failing WithTx callback
// restores the state it started from.
type Repository struct {
	mu       sync.Mutex
	requests map[uuid.UUID]changereq.Request
}

// NewRepository returns an empty repository.
func NewRepository() *Repository {
	return &Repository{requests: make(map[uuid.UUID]changereq.Request)}
}

type tx struct {
	repo *Repository
}

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, changereq.TxRepository) error) error {
	r.mu.Lock()
	snapshot := make(map[uuid.UUID]changereq.Request, len(r.requests))
	for k, v := range r.requests {
		snapshot[k] = v
	}
	r.mu.Unlock()
	hookCtx, commit := db.WithCommitHooks(ctx)
	if err := fn(hookCtx, &tx{repo: r}); err != nil {
		r.mu.Lock()
		r.requests = snapshot
		r.mu.Unlock()
		return err
	}
	commit()
	return nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (changereq.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return changereq.Request{}, shared.ErrNotFound
	}
	return req, nil
}

func (r *Repository) List(ctx context.Context, filter changereq.ListFilter) ([]changereq.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []changereq.Request
	for _, req := range r.requests {
		if !filter.Scope.Contains(req.Scope()) {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.TargetType != "" && req.TargetType != filter.TargetType {
			continue
		}
		if filter.RequestedBy != 0 && req.RequestedBy != filter.RequestedBy {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (t *tx) HasPending(ctx context.Context, tt changereq.TargetType, targetID int64) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, req := range t.repo.requests {
		if req.TargetType == tt && req.TargetID == targetID && req.Status == changereq.StatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) Insert(ctx context.Context, req changereq.Request) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.requests[req.ID] = req
	return nil
}

func (t *tx) GetForUpdate(ctx context.Context, id uuid.UUID) (changereq.Request, error) {
	return t.repo.Get(ctx, id)
}

func (t *tx) Resolve(ctx context.Context, id uuid.UUID, status changereq.Status, resolvedBy int64, note string, at time.Time) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	req, ok := t.repo.requests[id]
	if !ok {
		return shared.ErrNotFound
	}
	if req.Status != changereq.StatusPending {
		return shared.ErrRequestResolved
	}
	req.Status = status
	req.ResolvedBy = &resolvedBy
	req.ResolvedAt = &at
	req.ResolutionNote = note
	t.repo.requests[id] = req
	return nil
}

// Decisions is an in-memory changereq.DecisionLog.
type Decisions struct {
	mu   sync.Mutex
	Logs []shared.ApprovalLog
}

func (d *Decisions) Record(ctx context.Context, log shared.ApprovalLog) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Logs = append(d.Logs, log)
	return nil
}

func (d *Decisions) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []shared.ApprovalLog
	for _, l := range d.Logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

var (
	_ changereq.Repository  = (*Repository)(nil)
	_ changereq.DecisionLog = (*Decisions)(nil)
)
