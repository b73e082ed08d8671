package cashflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uvr-coop/uvr/internal/changereq"
)

// ChangeTarget governs cash-flow entries through change requests.
type ChangeTarget struct {
	svc *Service
}

// NewChangeTarget binds the service to the workflow.
func NewChangeTarget(svc *Service) *ChangeTarget {
	return &ChangeTarget{svc: svc}
}

func (t *ChangeTarget) Type() changereq.TargetType {
	return changereq.TargetCashflowEntry
}

func (t *ChangeTarget) Decode(raw json.RawMessage) (changereq.Proposal, error) {
	return changereq.DecodeInto(raw, &EntryInput{})
}

func (t *ChangeTarget) Current(ctx context.Context, id int64) (changereq.Snapshot, error) {
	e, err := t.svc.repo.GetEntry(ctx, id)
	if err != nil {
		return changereq.Snapshot{}, err
	}
	in := inputFromEntry(e)
	return changereq.Snapshot{Scope: e.Scope(), Proposal: &in}, nil
}

func (t *ChangeTarget) ApplyEdit(ctx context.Context, id int64, p changereq.Proposal) error {
	in, ok := p.(*EntryInput)
	if !ok {
		return fmt.Errorf("cashflow: unexpected proposal %T", p)
	}
	_, err := t.svc.EditEntry(ctx, id, *in)
	return err
}

func (t *ChangeTarget) ApplyDelete(ctx context.Context, id int64, _ changereq.Proposal) error {
	return t.svc.DeleteEntry(ctx, id)
}

var _ changereq.Target = (*ChangeTarget)(nil)
