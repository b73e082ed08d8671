package bankaccounts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/shared"
)

// Auditor records direct mutations.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages bank accounts.
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

// Create registers an account inside scope.
func (s *Service) Create(ctx context.Context, scope authz.Scope, actorID int64, in AccountInput) (Account, error) {
	if !scope.Concrete() {
		return Account{}, shared.NewValidationError("unit_id", "unit and association are required")
	}
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.Insert(ctx, Account{
			UnitID:        scope.UnitID,
			AssociationID: scope.AssociationID,
			BankName:      in.BankName,
			Branch:        in.Branch,
			AccountNumber: in.AccountNumber,
			Label:         in.Label,
			CreatedBy:     actorID,
		})
		if err != nil {
			return err
		}
		return s.record(ctx, "bank_account.create", id)
	})
	if err != nil {
		return Account{}, fmt.Errorf("bankaccounts: create: %w", err)
	}
	return s.repo.Get(ctx, id)
}

// Edit replaces the editable fields. The owning unit never changes.
func (s *Service) Edit(ctx context.Context, id int64, in AccountInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		current.BankName = in.BankName
		current.Branch = in.Branch
		current.AccountNumber = in.AccountNumber
		current.Label = in.Label
		if err := tx.Update(ctx, current); err != nil {
			return err
		}
		return s.record(ctx, "bank_account.edit", id)
	})
	if err != nil {
		return Account{}, fmt.Errorf("bankaccounts: edit %d: %w", id, err)
	}
	return s.repo.Get(ctx, id)
}

// Delete removes an account that no cash-flow entry posts to.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Lock(ctx, id); err != nil {
			return err
		}
		used, err := tx.HasEntries(ctx, id)
		if err != nil {
			return err
		}
		if used {
			return shared.ErrForeignKey
		}
		if err := tx.Delete(ctx, id); err != nil {
			return err
		}
		return s.record(ctx, "bank_account.delete", id)
	})
	if err != nil {
		return fmt.Errorf("bankaccounts: delete %d: %w", id, err)
	}
	return nil
}

// Get returns an account visible in scope.
func (s *Service) Get(ctx context.Context, scope authz.Scope, id int64) (Account, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if !scope.Contains(a.Scope()) {
		return Account{}, shared.ErrNotFound
	}
	return a, nil
}

// List returns accounts in scope.
func (s *Service) List(ctx context.Context, scope authz.Scope, page shared.Page) ([]Account, error) {
	return s.repo.List(ctx, scope, page)
}

func (s *Service) record(ctx context.Context, action string, id int64) error {
	if s.audit == nil {
		return nil
	}
	actor, _ := authz.ActorFromContext(ctx)
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "bank_account",
		EntityID: shared.AuditEntityID(id),
	})
}
