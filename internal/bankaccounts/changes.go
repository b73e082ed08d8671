package bankaccounts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uvr-coop/uvr/internal/changereq"
)

// ChangeTarget governs bank accounts through change requests.
type ChangeTarget struct {
	svc *Service
}

// NewChangeTarget binds the service to the workflow.
func NewChangeTarget(svc *Service) *ChangeTarget {
	return &ChangeTarget{svc: svc}
}

func (t *ChangeTarget) Type() changereq.TargetType {
	return changereq.TargetBankAccount
}

func (t *ChangeTarget) Decode(raw json.RawMessage) (changereq.Proposal, error) {
	return changereq.DecodeInto(raw, &AccountInput{})
}

func (t *ChangeTarget) Current(ctx context.Context, id int64) (changereq.Snapshot, error) {
	a, err := t.svc.repo.Get(ctx, id)
	if err != nil {
		return changereq.Snapshot{}, err
	}
	in := inputFromAccount(a)
	return changereq.Snapshot{Scope: a.Scope(), Proposal: &in}, nil
}

func (t *ChangeTarget) ApplyEdit(ctx context.Context, id int64, p changereq.Proposal) error {
	in, ok := p.(*AccountInput)
	if !ok {
		return fmt.Errorf("bankaccounts: unexpected proposal %T", p)
	}
	_, err := t.svc.Edit(ctx, id, *in)
	return err
}

func (t *ChangeTarget) ApplyDelete(ctx context.Context, id int64, _ changereq.Proposal) error {
	return t.svc.Delete(ctx, id)
}

var _ changereq.Target = (*ChangeTarget)(nil)
