package cashflow

import (
	"github.com/shopspring/decimal"

	"github.com/uvr-coop/uvr/internal/ledger"
)

// Application is the effect of an entry on one invoice.
type Application struct {
	InvoiceID    int64
	Position     int
	Amount       decimal.Decimal
	SettledAfter decimal.Decimal
	StatusAfter  ledger.Status
}

// Allocation is the result of spreading an amount over candidate invoices.
type Allocation struct {
	Applications []Application
	Remainder    decimal.Decimal
}

// Applied sums the amounts consumed by invoices.
func (a Allocation) Applied() decimal.Decimal {
	total := decimal.Zero
	for _, app := range a.Applications {
		total = total.Add(app.Amount)
	}
	return total
}

// Allocate applies amount to candidates greedily in the given order. Each invoice absorbs
// as much of its pending amount as is left before the next one is touched; nothing is
// redistributed. Position is the 1-based index of the invoice among the candidates.
func Allocate(amount decimal.Decimal, candidates []ledger.Invoice) Allocation {
	remaining := ledger.RoundMoney(amount)
	var apps []Application
	for i, inv := range candidates {
		if remaining.Sign() <= 0 {
			break
		}
		applied := decimal.Min(remaining, inv.Pending())
		if applied.Sign() <= 0 {
			continue
		}
		settled := inv.AmountSettled.Add(applied)
		apps = append(apps, Application{
			InvoiceID:    inv.ID,
			Position:     i + 1,
			Amount:       applied,
			SettledAfter: settled,
			StatusAfter:  ledger.DeriveStatus(settled, inv.DeclaredTotal),
		})
		remaining = remaining.Sub(applied)
	}
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return Allocation{Applications: apps, Remainder: remaining}
}

// Reverse undoes links against the current invoice state. Settled amounts never drop
// below zero. invoices is updated in place; links whose invoice is missing are skipped.
func Reverse(links []PaymentLink, invoices map[int64]ledger.Invoice) []Application {
	apps := make([]Application, 0, len(links))
	for _, link := range links {
		inv, ok := invoices[link.InvoiceID]
		if !ok {
			continue
		}
		settled := inv.AmountSettled.Sub(link.AmountApplied)
		if settled.IsNegative() {
			settled = decimal.Zero
		}
		inv.AmountSettled = settled
		inv.Status = ledger.DeriveStatus(settled, inv.DeclaredTotal)
		invoices[link.InvoiceID] = inv
		apps = append(apps, Application{
			InvoiceID:    link.InvoiceID,
			Position:     link.Position,
			Amount:       link.AmountApplied,
			SettledAfter: settled,
			StatusAfter:  inv.Status,
		})
	}
	return apps
}
