// Package bankaccounts keeps the registry of unit bank accounts that cash-flow entries post to.
package bankaccounts

import (
	"strings"
	"time"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/changereq"
	"github.com/uvr-coop/uvr/internal/shared"
)

// Account is a bank account owned by one unit.
type Account struct {
	ID            int64     `json:"id"`
	UnitID        int64     `json:"unit_id"`
	AssociationID int64     `json:"association_id"`
	BankName      string    `json:"bank_name"`
	Branch        string    `json:"branch"`
	AccountNumber string    `json:"account_number"`
	Label         string    `json:"label"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Scope returns the owning unit.
func (a Account) Scope() authz.Scope {
	return authz.Scope{UnitID: a.UnitID, AssociationID: a.AssociationID}
}

// AccountInput holds the editable fields.
type AccountInput struct {
	UnitID        int64  `json:"unit_id,omitempty"`
	AssociationID int64  `json:"association_id,omitempty"`
	BankName      string `json:"bank_name" validate:"required,max=128"`
	Branch        string `json:"branch" validate:"max=32"`
	AccountNumber string `json:"account_number" validate:"required,max=32"`
	Label         string `json:"label" validate:"max=128"`
}

// Validate trims and checks the input.
func (in *AccountInput) Validate() error {
	in.BankName = strings.TrimSpace(in.BankName)
	in.Branch = strings.TrimSpace(in.Branch)
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	in.Label = strings.TrimSpace(in.Label)
	return shared.ValidateStruct(in)
}

func (in *AccountInput) Fields() []changereq.Field {
	return []changereq.Field{
		{Key: "bank_name", Label: "Bank", Value: in.BankName},
		{Key: "branch", Label: "Branch", Value: in.Branch},
		{Key: "account_number", Label: "Account number", Value: in.AccountNumber},
		{Key: "label", Label: "Label", Value: in.Label},
	}
}

func inputFromAccount(a Account) AccountInput {
	return AccountInput{
		BankName:      a.BankName,
		Branch:        a.Branch,
		AccountNumber: a.AccountNumber,
		Label:         a.Label,
	}
}
