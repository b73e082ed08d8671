package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/shared"
)

// Auditor records direct mutations.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements the invoice operations.
type Service struct {
	repo   Repository
	audit  Auditor
	logger *slog.Logger
}

// NewService constructs a Service. audit may be nil.
func NewService(repo Repository, audit Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// CreateInvoice registers an invoice and its lines in scope. The declared total is
// always recomputed from the lines.
func (s *Service) CreateInvoice(ctx context.Context, scope authz.Scope, actorID int64, in InvoiceInput) (Invoice, error) {
	if !scope.Concrete() {
		return Invoice{}, shared.NewValidationError("unit_id", "unit and association are required")
	}
	if err := in.Validate(); err != nil {
		return Invoice{}, err
	}
	lines, total := BuildLines(in.Lines)
	inv := Invoice{
		UnitID:           scope.UnitID,
		AssociationID:    scope.AssociationID,
		CounterpartyID:   in.CounterpartyID,
		CounterpartyName: in.CounterpartyName,
		DocumentNumber:   in.DocumentNumber,
		DocumentDate:     in.DocumentDate,
		Direction:        in.Direction,
		Category:         in.Category,
		DeclaredTotal:    total,
		AmountSettled:    decimal.Zero,
		Status:           StatusOpen,
		CreatedBy:        actorID,
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.InsertInvoice(ctx, inv)
		if err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, id, lines); err != nil {
			return err
		}
		return s.record(ctx, "invoice.create", id, map[string]any{"declared_total": total.StringFixed(MoneyScale)})
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("ledger: create invoice: %w", err)
	}
	return s.repo.GetInvoice(ctx, id)
}

// EditInvoice replaces the header and all lines of an invoice without settlement activity.
// The owning unit never changes.
func (s *Service) EditInvoice(ctx context.Context, id int64, in InvoiceInput) (Invoice, error) {
	if err := in.Validate(); err != nil {
		return Invoice{}, err
	}
	lines, total := BuildLines(in.Lines)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if !current.AmountSettled.IsZero() {
			return shared.ErrSettlementLock
		}
		current.CounterpartyID = in.CounterpartyID
		current.CounterpartyName = in.CounterpartyName
		current.DocumentNumber = in.DocumentNumber
		current.DocumentDate = in.DocumentDate
		current.Direction = in.Direction
		current.Category = in.Category
		current.DeclaredTotal = total
		current.Status = DeriveStatus(current.AmountSettled, total)
		if err := tx.UpdateInvoiceHeader(ctx, current); err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, id, lines); err != nil {
			return err
		}
		return s.record(ctx, "invoice.edit", id, map[string]any{"declared_total": total.StringFixed(MoneyScale)})
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("ledger: edit invoice %d: %w", id, err)
	}
	return s.repo.GetInvoice(ctx, id)
}

// DeleteInvoice removes an invoice and its lines. Invoices referenced by payment links
// must be unwound first.
func (s *Service) DeleteInvoice(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		linked, err := tx.HasPaymentLinks(ctx, id)
		if err != nil {
			return err
		}
		if linked || !current.AmountSettled.IsZero() {
			return shared.ErrForeignKey
		}
		if err := tx.DeleteInvoice(ctx, id); err != nil {
			return err
		}
		return s.record(ctx, "invoice.delete", id, map[string]any{"document_number": current.DocumentNumber})
	})
	if err != nil {
		return fmt.Errorf("ledger: delete invoice %d: %w", id, err)
	}
	return nil
}

// GetInvoice returns an invoice visible in scope. Invoices of other units are reported as missing.
func (s *Service) GetInvoice(ctx context.Context, scope authz.Scope, id int64) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if !scope.Contains(inv.Scope()) {
		return Invoice{}, shared.ErrNotFound
	}
	return inv, nil
}

// ListInvoices returns invoice headers matching filter.
func (s *Service) ListInvoices(ctx context.Context, filter ListFilter) ([]Invoice, error) {
	return s.repo.ListInvoices(ctx, filter)
}

// CheckIntegrity reports every invoice whose stored settlement disagrees with its links
// or whose status is not the derived one.
func (s *Service) CheckIntegrity(ctx context.Context) ([]IntegrityIssue, error) {
	rows, err := s.repo.ListSettlement(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: integrity: %w", err)
	}
	var issues []IntegrityIssue
	for _, row := range rows {
		for _, problem := range checkSettlement(row) {
			issues = append(issues, IntegrityIssue{
				InvoiceID:     row.Invoice.ID,
				Problem:       problem,
				DeclaredTotal: row.Invoice.DeclaredTotal,
				AmountSettled: row.Invoice.AmountSettled,
				Linked:        row.Linked,
				Status:        row.Invoice.Status,
			})
		}
	}
	if len(issues) > 0 {
		s.logger.Warn("ledger integrity violations", slog.Int("count", len(issues)))
	}
	return issues, nil
}

func checkSettlement(row SettlementRow) []string {
	inv := row.Invoice
	var problems []string
	if inv.AmountSettled.IsNegative() || inv.AmountSettled.GreaterThan(inv.DeclaredTotal) {
		problems = append(problems, "amount_settled outside [0, declared_total]")
	}
	if !inv.AmountSettled.Equal(row.Linked) {
		problems = append(problems, "amount_settled differs from payment links")
	}
	if inv.Status != DeriveStatus(inv.AmountSettled, inv.DeclaredTotal) {
		problems = append(problems, "status does not match settlement")
	}
	return problems
}

func (s *Service) record(ctx context.Context, action string, id int64, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	actor, _ := authz.ActorFromContext(ctx)
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "invoice",
		EntityID: shared.AuditEntityID(id),
		Meta:     meta,
	})
}
