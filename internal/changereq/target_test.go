package changereq_test

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/changereq"
	"github.com/uvr-coop/uvr/internal/shared"
	"github.com/uvr-coop/uvr/internal/users"
)

// bankRecord stands in for a governed entity.
type bankRecord struct {
	scope authz.Scope
	label string
	limit decimal.Decimal
}

type bankProposal struct {
	Label string          `json:"label"`
	Limit decimal.Decimal `json:"limit"`
}

func (p *bankProposal) Fields() []changereq.Field {
	return []changereq.Field{
		{Key: "label", Label: "Label", Value: p.Label},
		{Key: "limit", Label: "Limit", Value: changereq.Money(p.Limit)},
	}
}

func (p *bankProposal) Validate() error {
	if p.Label == "" {
		return shared.NewValidationError("label", "is required")
	}
	return nil
}

type memoryTarget struct {
	records   map[int64]bankRecord
	applyErr  error
	edits     int
	deletions int
}

func (t *memoryTarget) Type() changereq.TargetType { return changereq.TargetBankAccount }

func (t *memoryTarget) Decode(raw json.RawMessage) (changereq.Proposal, error) {
	return changereq.DecodeInto(raw, &bankProposal{})
}

func (t *memoryTarget) Current(ctx context.Context, id int64) (changereq.Snapshot, error) {
	rec, ok := t.records[id]
	if !ok {
		return changereq.Snapshot{}, shared.ErrNotFound
	}
	return changereq.Snapshot{Scope: rec.scope, Proposal: &bankProposal{Label: rec.label, Limit: rec.limit}}, nil
}

func (t *memoryTarget) ApplyEdit(ctx context.Context, id int64, p changereq.Proposal) error {
	if t.applyErr != nil {
		return t.applyErr
	}
	rec := t.records[id]
	prop := p.(*bankProposal)
	rec.label = prop.Label
	rec.limit = prop.Limit
	t.records[id] = rec
	t.edits++
	return nil
}

func (t *memoryTarget) ApplyDelete(ctx context.Context, id int64, p changereq.Proposal) error {
	if t.applyErr != nil {
		return t.applyErr
	}
	delete(t.records, id)
	t.deletions++
	return nil
}

type stubRoles map[int64]users.User

func (s stubRoles) FindByID(ctx context.Context, id int64) (*users.User, error) {
	u, ok := s[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &u, nil
}
