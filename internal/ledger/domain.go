// Package ledger stores invoices and their line items and owns the settlement invariants.
package ledger

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/shared"
)

// Direction classifies an invoice as money in or money out.
type Direction string

const (
	DirectionIncome  Direction = "INCOME"
	DirectionExpense Direction = "EXPENSE"
)

// Status is derived from the settled and declared amounts.
type Status string

const (
	StatusOpen             Status = "OPEN"
	StatusPartiallySettled Status = "PARTIALLY_SETTLED"
	StatusSettled          Status = "SETTLED"
)

// Column scales.
const (
	MoneyScale    = 2
	QuantityScale = 3
)

// Invoice is a registered financial document.
type Invoice struct {
	ID               int64           `json:"id"`
	UnitID           int64           `json:"unit_id"`
	AssociationID    int64           `json:"association_id"`
	CounterpartyID   *int64          `json:"counterparty_id,omitempty"`
	CounterpartyName string          `json:"counterparty_name"`
	DocumentNumber   string          `json:"document_number"`
	DocumentDate     shared.Date     `json:"document_date"`
	Direction        Direction       `json:"direction"`
	Category         string          `json:"category"`
	DeclaredTotal    decimal.Decimal `json:"declared_total"`
	AmountSettled    decimal.Decimal `json:"amount_settled"`
	Status           Status          `json:"status"`
	CreatedBy        int64           `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Lines            []LineItem      `json:"lines,omitempty"`
}

// Scope returns the unit owning the invoice.
func (i Invoice) Scope() authz.Scope {
	return authz.Scope{UnitID: i.UnitID, AssociationID: i.AssociationID}
}

// Pending is the amount still open for settlement, never negative.
func (i Invoice) Pending() decimal.Decimal {
	p := i.DeclaredTotal.Sub(i.AmountSettled)
	if p.IsNegative() {
		return decimal.Zero
	}
	return p
}

// LineItem is one priced row of an invoice.
type LineItem struct {
	ID          int64           `json:"id,omitempty"`
	InvoiceID   int64           `json:"invoice_id,omitempty"`
	Position    int             `json:"position"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// DeriveStatus computes the settlement status. Zero settled is always OPEN.
func DeriveStatus(settled, total decimal.Decimal) Status {
	switch {
	case settled.Sign() <= 0:
		return StatusOpen
	case settled.LessThan(total):
		return StatusPartiallySettled
	default:
		return StatusSettled
	}
}

// RoundMoney rounds half away from zero to two decimals.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// LineInput is the editable part of a line item.
type LineInput struct {
	Description string          `json:"description" validate:"required,max=255"`
	Unit        string          `json:"unit" validate:"required,max=16"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// InvoiceInput carries every editable field of an invoice. UnitID and AssociationID are
// only read on creation by an admin.
type InvoiceInput struct {
	UnitID           int64       `json:"unit_id,omitempty"`
	AssociationID    int64       `json:"association_id,omitempty"`
	CounterpartyID   *int64      `json:"counterparty_id,omitempty"`
	CounterpartyName string      `json:"counterparty_name" validate:"max=255"`
	DocumentNumber   string      `json:"document_number" validate:"required,max=64"`
	DocumentDate     shared.Date `json:"document_date" validate:"required"`
	Direction        Direction   `json:"direction" validate:"required,oneof=INCOME EXPENSE"`
	Category         string      `json:"category" validate:"required,max=64"`
	Lines            []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// Validate checks tags and the numeric rules of every line.
func (in *InvoiceInput) Validate() error {
	in.DocumentNumber = strings.TrimSpace(in.DocumentNumber)
	in.Category = strings.TrimSpace(in.Category)
	in.CounterpartyName = strings.TrimSpace(in.CounterpartyName)

	vErr := &shared.ValidationError{}
	if err := shared.ValidateStruct(in); err != nil {
		if !errors.As(err, &vErr) {
			return err
		}
	}
	for i, line := range in.Lines {
		if line.Quantity.Round(QuantityScale).Sign() <= 0 {
			vErr.Add(lineField(i, "quantity"), "must be greater than zero")
		}
		if line.UnitPrice.IsNegative() {
			vErr.Add(lineField(i, "unit_price"), "must not be negative")
		}
	}
	return vErr.OrNil()
}

// BuildLines rounds quantities and prices to column scale and computes totals.
func BuildLines(inputs []LineInput) ([]LineItem, decimal.Decimal) {
	lines := make([]LineItem, 0, len(inputs))
	total := decimal.Zero
	for i, in := range inputs {
		qty := in.Quantity.Round(QuantityScale)
		price := RoundMoney(in.UnitPrice)
		lineTotal := RoundMoney(qty.Mul(price))
		lines = append(lines, LineItem{
			Position:    i + 1,
			Description: strings.TrimSpace(in.Description),
			Unit:        strings.TrimSpace(in.Unit),
			Quantity:    qty,
			UnitPrice:   price,
			LineTotal:   lineTotal,
		})
		total = total.Add(lineTotal)
	}
	return lines, total
}

// ListFilter narrows invoice listings.
type ListFilter struct {
	Scope     authz.Scope
	Direction Direction
	Status    Status
	OpenOnly  bool
	From      shared.Date
	To        shared.Date
	Page      shared.Page
}

// SettlementRow pairs an invoice with the sum of its payment links.
type SettlementRow struct {
	Invoice Invoice
	Linked  decimal.Decimal
}

// IntegrityIssue describes an invoice breaking a settlement invariant.
type IntegrityIssue struct {
	InvoiceID     int64           `json:"invoice_id"`
	Problem       string          `json:"problem"`
	DeclaredTotal decimal.Decimal `json:"declared_total"`
	AmountSettled decimal.Decimal `json:"amount_settled"`
	Linked        decimal.Decimal `json:"linked"`
	Status        Status          `json:"status"`
}

func lineField(i int, name string) string {
	return "lines[" + strconv.Itoa(i) + "]." + name
}
