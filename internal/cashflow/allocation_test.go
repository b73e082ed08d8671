package cashflow

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/uvr-coop/uvr/internal/ledger"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openInvoice(id int64, total, settled string) ledger.Invoice {
	inv := ledger.Invoice{ID: id, DeclaredTotal: dec(total), AmountSettled: dec(settled)}
	inv.Status = ledger.DeriveStatus(inv.AmountSettled, inv.DeclaredTotal)
	return inv
}

func TestAllocateIsGreedyInCallerOrder(t *testing.T) {
	a := openInvoice(1, "300", "0")
	b := openInvoice(2, "500", "0")

	alloc := Allocate(dec("600"), []ledger.Invoice{a, b})
	require.Len(t, alloc.Applications, 2)
	require.Equal(t, "300.00", alloc.Applications[0].Amount.StringFixed(2))
	require.Equal(t, ledger.StatusSettled, alloc.Applications[0].StatusAfter)
	require.Equal(t, "300.00", alloc.Applications[1].Amount.StringFixed(2))
	require.Equal(t, ledger.StatusPartiallySettled, alloc.Applications[1].StatusAfter)
	require.True(t, alloc.Remainder.IsZero())

	reversed := Allocate(dec("600"), []ledger.Invoice{b, a})
	require.Equal(t, int64(2), reversed.Applications[0].InvoiceID)
	require.Equal(t, "500.00", reversed.Applications[0].Amount.StringFixed(2))
	require.Equal(t, "100.00", reversed.Applications[1].Amount.StringFixed(2))
}

func TestAllocateLeavesRemainder(t *testing.T) {
	alloc := Allocate(dec("700"), []ledger.Invoice{openInvoice(1, "1000", "400")})
	require.Len(t, alloc.Applications, 1)
	require.Equal(t, "600.00", alloc.Applications[0].Amount.StringFixed(2))
	require.Equal(t, "1000.00", alloc.Applications[0].SettledAfter.StringFixed(2))
	require.Equal(t, ledger.StatusSettled, alloc.Applications[0].StatusAfter)
	require.Equal(t, "100.00", alloc.Remainder.StringFixed(2))
}

func TestAllocateSkipsSettledAndStopsWhenExhausted(t *testing.T) {
	settled := openInvoice(1, "100", "100")
	a := openInvoice(2, "50", "0")
	b := openInvoice(3, "80", "0")
	c := openInvoice(4, "10", "0")

	alloc := Allocate(dec("120"), []ledger.Invoice{settled, a, b, c})
	require.Len(t, alloc.Applications, 2)
	require.Equal(t, 2, alloc.Applications[0].Position)
	require.Equal(t, 3, alloc.Applications[1].Position)
	require.Equal(t, "70.00", alloc.Applications[1].Amount.StringFixed(2))
	require.Equal(t, "120.00", alloc.Applied().StringFixed(2))
	require.True(t, alloc.Remainder.IsZero())
}

func TestAllocateWithoutCandidates(t *testing.T) {
	alloc := Allocate(dec("42.42"), nil)
	require.Empty(t, alloc.Applications)
	require.Equal(t, "42.42", alloc.Remainder.StringFixed(2))
}

func TestReverseRestoresOriginalState(t *testing.T) {
	orders := [][]int64{{1, 2, 3}, {3, 2, 1}, {2, 3, 1}}
	for _, order := range orders {
		original := map[int64]ledger.Invoice{
			1: openInvoice(1, "100.10", "20.05"),
			2: openInvoice(2, "250", "0"),
			3: openInvoice(3, "75.5", "75.5"),
		}
		candidates := make([]ledger.Invoice, 0, len(order))
		for _, id := range order {
			candidates = append(candidates, original[id])
		}
		alloc := Allocate(dec("199.99"), candidates)

		after := make(map[int64]ledger.Invoice, len(original))
		for id, inv := range original {
			after[id] = inv
		}
		links := make([]PaymentLink, 0, len(alloc.Applications))
		for _, app := range alloc.Applications {
			inv := after[app.InvoiceID]
			inv.AmountSettled = app.SettledAfter
			inv.Status = app.StatusAfter
			after[app.InvoiceID] = inv
			links = append(links, PaymentLink{InvoiceID: app.InvoiceID, Position: app.Position, AmountApplied: app.Amount})
		}

		Reverse(links, after)
		for id, inv := range original {
			require.True(t, inv.AmountSettled.Equal(after[id].AmountSettled), "order %v invoice %d", order, id)
			require.Equal(t, inv.Status, after[id].Status, "order %v invoice %d", order, id)
		}
	}
}

func TestReverseFloorsAtZero(t *testing.T) {
	invoices := map[int64]ledger.Invoice{1: openInvoice(1, "100", "30")}
	apps := Reverse([]PaymentLink{{InvoiceID: 1, AmountApplied: dec("50")}, {InvoiceID: 9, AmountApplied: dec("5")}}, invoices)
	require.Len(t, apps, 1)
	require.True(t, invoices[1].AmountSettled.IsZero())
	require.Equal(t, ledger.StatusOpen, invoices[1].Status)
}
