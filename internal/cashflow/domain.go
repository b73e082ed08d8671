// Package cashflow records bank movements, allocates them against open invoices and
// produces account statements.
package cashflow

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/bankaccounts"
	"github.com/uvr-coop/uvr/internal/changereq"
	"github.com/uvr-coop/uvr/internal/ledger"
	"github.com/uvr-coop/uvr/internal/shared"
)

// Direction tells whether money entered or left the account.
type Direction string

const (
	DirectionReceipt Direction = "RECEIPT"
	DirectionPayment Direction = "PAYMENT"
)

// InvoiceDirection is the invoice direction an entry may settle.
func (d Direction) InvoiceDirection() ledger.Direction {
	if d == DirectionPayment {
		return ledger.DirectionExpense
	}
	return ledger.DirectionIncome
}

// Signed returns amount as it affects the account balance.
func (d Direction) Signed(amount decimal.Decimal) decimal.Decimal {
	if d == DirectionPayment {
		return amount.Neg()
	}
	return amount
}

// Entry is one movement on a bank account.
type Entry struct {
	ID                 int64           `json:"id"`
	UnitID             int64           `json:"unit_id"`
	AssociationID      int64           `json:"association_id"`
	BankAccountID      int64           `json:"bank_account_id"`
	Direction          Direction       `json:"direction"`
	CounterpartyID     *int64          `json:"counterparty_id,omitempty"`
	CounterpartyName   string          `json:"counterparty_name"`
	BankDocumentNumber string          `json:"bank_document_number"`
	EffectiveDate      shared.Date     `json:"effective_date"`
	EffectiveAmount    decimal.Decimal `json:"effective_amount"`
	BalanceSnapshot    decimal.Decimal `json:"balance_snapshot"`
	Memo               string          `json:"memo"`
	CreatedBy          int64           `json:"created_by"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Links              []PaymentLink   `json:"links,omitempty"`
}

// Scope returns the owning unit.
func (e Entry) Scope() authz.Scope {
	return authz.Scope{UnitID: e.UnitID, AssociationID: e.AssociationID}
}

// Applied sums the amounts this entry settled.
func (e Entry) Applied() decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Links {
		total = total.Add(l.AmountApplied)
	}
	return total
}

// LinkedInvoiceIDs returns the invoices of the entry's links in allocation order.
func (e Entry) LinkedInvoiceIDs() []int64 {
	ids := make([]int64, 0, len(e.Links))
	for _, l := range e.Links {
		ids = append(ids, l.InvoiceID)
	}
	return ids
}

// PaymentLink records the part of an entry applied to one invoice.
type PaymentLink struct {
	EntryID       int64           `json:"entry_id"`
	InvoiceID     int64           `json:"invoice_id"`
	Position      int             `json:"position"`
	AmountApplied decimal.Decimal `json:"amount_applied"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EntryInput carries the editable fields of an entry and the caller-ordered candidate
// invoices. An empty InvoiceIDs on edit reuses the previous allocation order.
type EntryInput struct {
	UnitID             int64           `json:"unit_id,omitempty"`
	AssociationID      int64           `json:"association_id,omitempty"`
	BankAccountID      int64           `json:"bank_account_id" validate:"required,gt=0"`
	Direction          Direction       `json:"direction" validate:"required,oneof=RECEIPT PAYMENT"`
	CounterpartyID     *int64          `json:"counterparty_id,omitempty"`
	CounterpartyName   string          `json:"counterparty_name" validate:"max=255"`
	BankDocumentNumber string          `json:"bank_document_number" validate:"max=64"`
	EffectiveDate      shared.Date     `json:"effective_date" validate:"required"`
	EffectiveAmount    decimal.Decimal `json:"effective_amount"`
	Memo               string          `json:"memo" validate:"max=500"`
	InvoiceIDs         []int64         `json:"invoice_ids,omitempty"`
	IdempotencyKey     string          `json:"idempotency_key,omitempty" validate:"max=128"`
}

// Validate checks tags, the amount and the candidate list.
func (in *EntryInput) Validate() error {
	in.CounterpartyName = strings.TrimSpace(in.CounterpartyName)
	in.BankDocumentNumber = strings.TrimSpace(in.BankDocumentNumber)
	in.Memo = strings.TrimSpace(in.Memo)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)

	vErr := &shared.ValidationError{}
	if err := shared.ValidateStruct(in); err != nil {
		if !errors.As(err, &vErr) {
			return err
		}
	}
	if ledger.RoundMoney(in.EffectiveAmount).Sign() <= 0 {
		vErr.Add("effective_amount", "must be greater than zero")
	}
	seen := make(map[int64]bool, len(in.InvoiceIDs))
	for i, id := range in.InvoiceIDs {
		field := "invoice_ids[" + strconv.Itoa(i) + "]"
		if id <= 0 {
			vErr.Add(field, "must be a positive id")
			continue
		}
		if seen[id] {
			vErr.Add(field, "appears more than once")
		}
		seen[id] = true
	}
	return vErr.OrNil()
}

// Fields lists the reviewable values.
func (in *EntryInput) Fields() []changereq.Field {
	return []changereq.Field{
		{Key: "bank_account_id", Label: "Bank account", Value: in.BankAccountID},
		{Key: "direction", Label: "Direction", Value: string(in.Direction)},
		{Key: "effective_date", Label: "Effective date", Value: in.EffectiveDate},
		{Key: "effective_amount", Label: "Amount", Value: changereq.Money(in.EffectiveAmount)},
		{Key: "counterparty_id", Label: "Counterparty", Value: in.CounterpartyID},
		{Key: "counterparty_name", Label: "Counterparty name", Value: in.CounterpartyName},
		{Key: "bank_document_number", Label: "Bank document", Value: in.BankDocumentNumber},
		{Key: "memo", Label: "Memo", Value: in.Memo},
		{Key: "invoice_ids", Label: "Invoices (allocation order)", Value: invoiceField(in.InvoiceIDs)},
	}
}

// invoiceField renders the allocation order. An empty order on an edit means the previous
// one is reused, so it diffs as unchanged.
func invoiceField(ids []int64) any {
	if len(ids) == 0 {
		return changereq.Keep{}
	}
	return invoiceList(ids)
}

func invoiceList(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}

func inputFromEntry(e Entry) EntryInput {
	return EntryInput{
		BankAccountID:      e.BankAccountID,
		Direction:          e.Direction,
		CounterpartyID:     e.CounterpartyID,
		CounterpartyName:   e.CounterpartyName,
		BankDocumentNumber: e.BankDocumentNumber,
		EffectiveDate:      e.EffectiveDate,
		EffectiveAmount:    e.EffectiveAmount,
		Memo:               e.Memo,
		InvoiceIDs:         e.LinkedInvoiceIDs(),
	}
}

// ListFilter narrows entry listings.
type ListFilter struct {
	Scope         authz.Scope
	BankAccountID int64
	Direction     Direction
	From          shared.Date
	To            shared.Date
	Page          shared.Page
}

// Statement is the recomputed movement of one account over a date range.
type Statement struct {
	Account bankaccounts.Account `json:"account"`
	From    shared.Date          `json:"from"`
	To      shared.Date          `json:"to"`
	Opening decimal.Decimal      `json:"opening_balance"`
	Closing decimal.Decimal      `json:"closing_balance"`
	Rows    []StatementRow       `json:"rows"`
}

// StatementRow is one entry with its signed amount and the balance after it.
type StatementRow struct {
	EntryID            int64           `json:"entry_id"`
	EffectiveDate      shared.Date     `json:"effective_date"`
	Direction          Direction       `json:"direction"`
	CounterpartyName   string          `json:"counterparty_name"`
	BankDocumentNumber string          `json:"bank_document_number"`
	Memo               string          `json:"memo"`
	Amount             decimal.Decimal `json:"amount"`
	Balance            decimal.Decimal `json:"balance"`
}

// BuildStatement accumulates entries, already sorted by (effective_date, id), on top of opening.
func BuildStatement(account bankaccounts.Account, from, to shared.Date, opening decimal.Decimal, entries []Entry) Statement {
	st := Statement{Account: account, From: from, To: to, Opening: opening, Rows: make([]StatementRow, 0, len(entries))}
	balance := opening
	for _, e := range entries {
		signed := e.Direction.Signed(e.EffectiveAmount)
		balance = balance.Add(signed)
		st.Rows = append(st.Rows, StatementRow{
			EntryID:            e.ID,
			EffectiveDate:      e.EffectiveDate,
			Direction:          e.Direction,
			CounterpartyName:   e.CounterpartyName,
			BankDocumentNumber: e.BankDocumentNumber,
			Memo:               e.Memo,
			Amount:             signed,
			Balance:            balance,
		})
	}
	st.Closing = balance
	return st
}
