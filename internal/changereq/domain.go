// Package changereq captures edits and deletes proposed by non-privileged users and
// applies them once an admin approves.
package changereq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/shared"
)

// TargetType names a governed entity kind. The set is closed.
type TargetType string

const (
	TargetInvoice       TargetType = "invoice"
	TargetCashflowEntry TargetType = "cashflow_entry"
	TargetBankAccount   TargetType = "bank_account"
)

// ParseTargetType accepts only the exact tags of governed entities.
func ParseTargetType(s string) (TargetType, error) {
	switch t := TargetType(s); t {
	case TargetInvoice, TargetCashflowEntry, TargetBankAccount:
		return t, nil
	}
	return "", shared.NewValidationError("target_type", "unknown target type")
}

// Action is the proposed mutation kind.
type Action string

const (
	ActionEdit   Action = "EDIT"
	ActionDelete Action = "DELETE"
)

// ParseAction validates an action tag.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionEdit, ActionDelete:
		return a, nil
	}
	return "", shared.NewValidationError("action", "must be EDIT or DELETE")
}

// Status is the request lifecycle state. APPROVED and REJECTED are terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Decision is a reviewer's verdict.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Request is a captured proposal.
type Request struct {
	ID             uuid.UUID       `json:"id"`
	TargetType     TargetType      `json:"target_type"`
	TargetID       int64           `json:"target_id"`
	UnitID         int64           `json:"unit_id"`
	AssociationID  int64           `json:"association_id"`
	Action         Action          `json:"action"`
	Payload        json.RawMessage `json:"payload"`
	RequestedBy    int64           `json:"requested_by"`
	Status         Status          `json:"status"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	ResolvedBy     *int64          `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	ResolutionNote string          `json:"resolution_note,omitempty"`
}

// Scope returns the unit owning the target.
func (r Request) Scope() authz.Scope {
	return authz.Scope{UnitID: r.UnitID, AssociationID: r.AssociationID}
}

// Field is one labelled value of a proposal, in display order.
type Field struct {
	Key   string
	Label string
	Value any
}

// Proposal is the full editable state of a target.
type Proposal interface {
	Fields() []Field
	Validate() error
}

// Snapshot is the persisted state of a target.
type Snapshot struct {
	Scope    authz.Scope
	Proposal Proposal
}

// Target binds a governed entity kind to the workflow. Apply methods join the
// transaction carried by ctx.
type Target interface {
	Type() TargetType
	Decode(raw json.RawMessage) (Proposal, error)
	Current(ctx context.Context, id int64) (Snapshot, error)
	ApplyEdit(ctx context.Context, id int64, p Proposal) error
	ApplyDelete(ctx context.Context, id int64, p Proposal) error
}

// ListFilter narrows request listings.
type ListFilter struct {
	Scope       authz.Scope
	Status      Status
	TargetType  TargetType
	RequestedBy int64
	Page        shared.Page
}
