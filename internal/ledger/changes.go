package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/uvr-coop/uvr/internal/changereq"
)

// ChangeTarget governs invoices through change requests.
type ChangeTarget struct {
	svc *Service
}

// NewChangeTarget binds the invoice service to the workflow.
func NewChangeTarget(svc *Service) *ChangeTarget {
	return &ChangeTarget{svc: svc}
}

func (t *ChangeTarget) Type() changereq.TargetType {
	return changereq.TargetInvoice
}

func (t *ChangeTarget) Decode(raw json.RawMessage) (changereq.Proposal, error) {
	return changereq.DecodeInto(raw, &InvoiceInput{})
}

func (t *ChangeTarget) Current(ctx context.Context, id int64) (changereq.Snapshot, error) {
	inv, err := t.svc.repo.GetInvoice(ctx, id)
	if err != nil {
		return changereq.Snapshot{}, err
	}
	in := InputFromInvoice(inv)
	return changereq.Snapshot{Scope: inv.Scope(), Proposal: &in}, nil
}

func (t *ChangeTarget) ApplyEdit(ctx context.Context, id int64, p changereq.Proposal) error {
	in, ok := p.(*InvoiceInput)
	if !ok {
		return fmt.Errorf("ledger: unexpected proposal %T", p)
	}
	_, err := t.svc.EditInvoice(ctx, id, *in)
	return err
}

func (t *ChangeTarget) ApplyDelete(ctx context.Context, id int64, _ changereq.Proposal) error {
	return t.svc.DeleteInvoice(ctx, id)
}

// InputFromInvoice returns the editable state of inv.
func InputFromInvoice(inv Invoice) InvoiceInput {
	lines := make([]LineInput, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		lines = append(lines, LineInput{
			Description: l.Description,
			Unit:        l.Unit,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		})
	}
	return InvoiceInput{
		CounterpartyID:   inv.CounterpartyID,
		CounterpartyName: inv.CounterpartyName,
		DocumentNumber:   inv.DocumentNumber,
		DocumentDate:     inv.DocumentDate,
		Direction:        inv.Direction,
		Category:         inv.Category,
		Lines:            lines,
	}
}

// Fields lists the reviewable values, one entry per line and the resulting total.
func (in *InvoiceInput) Fields() []changereq.Field {
	fields := []changereq.Field{
		{Key: "document_number", Label: "Document number", Value: in.DocumentNumber},
		{Key: "document_date", Label: "Document date", Value: in.DocumentDate},
		{Key: "direction", Label: "Direction", Value: string(in.Direction)},
		{Key: "category", Label: "Category", Value: in.Category},
		{Key: "counterparty_id", Label: "Counterparty", Value: in.CounterpartyID},
		{Key: "counterparty_name", Label: "Counterparty name", Value: in.CounterpartyName},
	}
	lines, total := BuildLines(in.Lines)
	for i, l := range lines {
		n := strconv.Itoa(i + 1)
		fields = append(fields,
			changereq.Field{Key: "lines[" + n + "].description", Label: "Line " + n + " description", Value: l.Description},
			changereq.Field{Key: "lines[" + n + "].unit", Label: "Line " + n + " unit", Value: l.Unit},
			changereq.Field{Key: "lines[" + n + "].quantity", Label: "Line " + n + " quantity", Value: changereq.Quantity(l.Quantity)},
			changereq.Field{Key: "lines[" + n + "].unit_price", Label: "Line " + n + " unit price", Value: changereq.Money(l.UnitPrice)},
		)
	}
	fields = append(fields, changereq.Field{Key: "declared_total", Label: "Declared total", Value: changereq.Money(total)})
	return fields
}

var _ changereq.Target = (*ChangeTarget)(nil)
