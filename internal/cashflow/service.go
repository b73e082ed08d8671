package cashflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/bankaccounts"
	"github.com/uvr-coop/uvr/internal/ledger"
	"github.com/uvr-coop/uvr/internal/platform/db"
	"github.com/uvr-coop/uvr/internal/shared"
)

const idempotencyModule = "cashflow"

// Accounts resolves bank accounts within a scope.
type Accounts interface {
	Get(ctx context.Context, scope authz.Scope, id int64) (bankaccounts.Account, error)
}

// Idempotency guards against replayed submissions.
type Idempotency interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// Auditor records direct mutations.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics observes allocation outcomes.
type Metrics interface {
	ObserveAllocation(direction string, applied, unapplied float64)
}

// StatementCache memoises statements per account.
type StatementCache interface {
	Load(ctx context.Context, accountID int64, from, to shared.Date, load func(context.Context) (Statement, error)) (Statement, error)
	Invalidate(ctx context.Context, accountIDs ...int64) error
}

// Service implements entry mutations, allocation and statements.
type Service struct {
	repo     Repository
	accounts Accounts
	idem     Idempotency
	audit    Auditor
	metrics  Metrics
	cache    StatementCache
	logger   *slog.Logger
}

// Option configures optional collaborators.
type Option func(*Service)

// WithIdempotency enables idempotency keys on creation.
func WithIdempotency(idem Idempotency) Option {
	return func(s *Service) { s.idem = idem }
}

// WithAudit records every direct mutation.
func WithAudit(audit Auditor) Option {
	return func(s *Service) { s.audit = audit }
}

// WithMetrics reports allocation amounts.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithStatementCache serves statements through cache.
func WithStatementCache(cache StatementCache) Option {
	return func(s *Service) { s.cache = cache }
}

// NewService constructs a Service.
func NewService(repo Repository, accounts Accounts, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, accounts: accounts, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateEntry records a movement in scope and allocates it against the candidate invoices
// in the order given.
func (s *Service) CreateEntry(ctx context.Context, scope authz.Scope, actorID int64, in EntryInput) (Entry, error) {
	if !scope.Concrete() {
		return Entry{}, shared.NewValidationError("unit_id", "unit and association are required")
	}
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	account, err := s.account(ctx, scope, in.BankAccountID)
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{
		UnitID:        scope.UnitID,
		AssociationID: scope.AssociationID,
		CreatedBy:     actorID,
	}
	applyInput(&entry, in)

	var alloc Allocation
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != "" {
			if s.idem == nil {
				return shared.NewValidationError("idempotency_key", "not supported")
			}
			if err := s.idem.CheckAndInsert(ctx, in.IdempotencyKey, idempotencyModule); err != nil {
				return err
			}
		}
		if err := tx.LockAccount(ctx, account.ID); err != nil {
			return err
		}
		before, err := tx.BalanceBefore(ctx, account.ID, entry.EffectiveDate, 0)
		if err != nil {
			return err
		}
		entry.BalanceSnapshot = before.Add(entry.Direction.Signed(entry.EffectiveAmount))
		if entry.ID, err = tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		invoices, err := tx.LockInvoices(ctx, in.InvoiceIDs)
		if err != nil {
			return err
		}
		if alloc, err = s.allocate(ctx, tx, entry, in.InvoiceIDs, invoices); err != nil {
			return err
		}
		return s.record(ctx, "cashflow.create", entry, alloc)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("cashflow: create entry: %w", err)
	}
	s.afterMutation(ctx, entry.Direction, alloc, account.ID)
	return s.repo.GetEntry(ctx, entry.ID)
}

// EditEntry fully reverses the entry's allocation and re-allocates it against the supplied
// candidates, or the previous allocation order when none are given.
func (s *Service) EditEntry(ctx context.Context, id int64, in EntryInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	var (
		alloc     Allocation
		entry     Entry
		previous  int64
		direction Direction
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockEntry(ctx, id)
		if err != nil {
			return err
		}
		previous = current.BankAccountID
		account, err := s.account(ctx, current.Scope(), in.BankAccountID)
		if err != nil {
			return err
		}
		for _, accountID := range sortedIDs(previous, account.ID) {
			if err := tx.LockAccount(ctx, accountID); err != nil {
				return err
			}
		}

		candidates := in.InvoiceIDs
		if len(candidates) == 0 {
			candidates = current.LinkedInvoiceIDs()
		}
		invoices, err := tx.LockInvoices(ctx, union(current.LinkedInvoiceIDs(), candidates))
		if err != nil {
			return err
		}
		if err := s.reverse(ctx, tx, current, invoices); err != nil {
			return err
		}

		entry = current
		entry.Links = nil
		applyInput(&entry, in)
		before, err := tx.BalanceBefore(ctx, entry.BankAccountID, entry.EffectiveDate, entry.ID)
		if err != nil {
			return err
		}
		entry.BalanceSnapshot = before.Add(entry.Direction.Signed(entry.EffectiveAmount))
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		if alloc, err = s.allocate(ctx, tx, entry, candidates, invoices); err != nil {
			return err
		}
		direction = entry.Direction
		return s.record(ctx, "cashflow.edit", entry, alloc)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("cashflow: edit entry %d: %w", id, err)
	}
	s.afterMutation(ctx, direction, alloc, previous, entry.BankAccountID)
	return s.repo.GetEntry(ctx, id)
}

// DeleteEntry reverses the entry's allocation and removes it.
func (s *Service) DeleteEntry(ctx context.Context, id int64) error {
	var accountID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockEntry(ctx, id)
		if err != nil {
			return err
		}
		accountID = current.BankAccountID
		if err := tx.LockAccount(ctx, accountID); err != nil {
			return err
		}
		invoices, err := tx.LockInvoices(ctx, current.LinkedInvoiceIDs())
		if err != nil {
			return err
		}
		if err := s.reverse(ctx, tx, current, invoices); err != nil {
			return err
		}
		if err := tx.DeleteEntry(ctx, id); err != nil {
			return err
		}
		return s.record(ctx, "cashflow.delete", current, Allocation{})
	})
	if err != nil {
		return fmt.Errorf("cashflow: delete entry %d: %w", id, err)
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		s.invalidate(ctx, accountID)
	})
	return nil
}

// GetEntry returns an entry visible in scope.
func (s *Service) GetEntry(ctx context.Context, scope authz.Scope, id int64) (Entry, error) {
	e, err := s.repo.GetEntry(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if !scope.Contains(e.Scope()) {
		return Entry{}, shared.ErrNotFound
	}
	return e, nil
}

// ListEntries returns entry headers matching filter.
func (s *Service) ListEntries(ctx context.Context, filter ListFilter) ([]Entry, error) {
	return s.repo.ListEntries(ctx, filter)
}

// Statement recomputes the balance of an account over [from, to]. Stored balance snapshots
// are never read.
func (s *Service) Statement(ctx context.Context, scope authz.Scope, accountID int64, from, to shared.Date) (Statement, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from.Time) {
		return Statement{}, shared.NewValidationError("to", "must not be before from")
	}
	account, err := s.accounts.Get(ctx, scope, accountID)
	if err != nil {
		return Statement{}, err
	}
	load := func(ctx context.Context) (Statement, error) {
		opening, entries, err := s.repo.StatementEntries(ctx, account.ID, from, to)
		if err != nil {
			return Statement{}, fmt.Errorf("cashflow: statement %d: %w", account.ID, err)
		}
		return BuildStatement(account, from, to, opening, entries), nil
	}
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.Load(ctx, account.ID, from, to, load)
}

func (s *Service) account(ctx context.Context, scope authz.Scope, id int64) (bankaccounts.Account, error) {
	account, err := s.accounts.Get(ctx, scope, id)
	if err != nil {
		if shared.IsNotFound(err) {
			return bankaccounts.Account{}, shared.NewValidationError("bank_account_id", "unknown bank account")
		}
		return bankaccounts.Account{}, err
	}
	return account, nil
}

// allocate checks every candidate against the entry, then applies the entry amount in
// caller order and persists links and settlements. invoices must hold the locked candidates.
func (s *Service) allocate(ctx context.Context, tx TxRepository, entry Entry, ids []int64, invoices map[int64]ledger.Invoice) (Allocation, error) {
	candidates := make([]ledger.Invoice, 0, len(ids))
	vErr := &shared.ValidationError{}
	for i, id := range ids {
		field := "invoice_ids[" + strconv.Itoa(i) + "]"
		inv, ok := invoices[id]
		switch {
		case !ok:
			vErr.Add(field, "unknown invoice")
		case inv.Scope() != entry.Scope():
			vErr.Add(field, "invoice belongs to another unit")
		case inv.Direction != entry.Direction.InvoiceDirection():
			vErr.Add(field, "must be an "+string(entry.Direction.InvoiceDirection())+" invoice")
		default:
			candidates = append(candidates, inv)
		}
	}
	if err := vErr.OrNil(); err != nil {
		return Allocation{}, err
	}

	alloc := Allocate(entry.EffectiveAmount, candidates)
	for _, app := range alloc.Applications {
		if err := tx.UpdateSettlement(ctx, app.InvoiceID, app.SettledAfter, app.StatusAfter); err != nil {
			return Allocation{}, err
		}
		inv := invoices[app.InvoiceID]
		inv.AmountSettled = app.SettledAfter
		inv.Status = app.StatusAfter
		invoices[app.InvoiceID] = inv
	}
	if err := tx.InsertLinks(ctx, entry.ID, alloc.Applications); err != nil {
		return Allocation{}, err
	}
	return alloc, nil
}

func (s *Service) reverse(ctx context.Context, tx TxRepository, entry Entry, invoices map[int64]ledger.Invoice) error {
	for _, app := range Reverse(entry.Links, invoices) {
		if err := tx.UpdateSettlement(ctx, app.InvoiceID, app.SettledAfter, app.StatusAfter); err != nil {
			return err
		}
	}
	return tx.DeleteLinks(ctx, entry.ID)
}

// afterMutation is deferred until the outermost transaction commits, which for an approved
// change request is the request's own transaction. A statement built from rows read before
// that commit must not land under the bumped cache version.
func (s *Service) afterMutation(ctx context.Context, direction Direction, alloc Allocation, accountIDs ...int64) {
	db.AfterCommit(ctx, func(ctx context.Context) {
		if s.metrics != nil {
			applied, _ := alloc.Applied().Float64()
			unapplied, _ := alloc.Remainder.Float64()
			s.metrics.ObserveAllocation(string(direction), applied, unapplied)
		}
		s.invalidate(ctx, accountIDs...)
	})
}

func (s *Service) invalidate(ctx context.Context, accountIDs ...int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, accountIDs...); err != nil {
		s.logger.Warn("statement cache invalidation failed", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, action string, e Entry, alloc Allocation) error {
	if s.audit == nil {
		return nil
	}
	actor, _ := authz.ActorFromContext(ctx)
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "cashflow_entry",
		EntityID: shared.AuditEntityID(e.ID),
		Meta: map[string]any{
			"amount":    e.EffectiveAmount.StringFixed(ledger.MoneyScale),
			"applied":   alloc.Applied().StringFixed(ledger.MoneyScale),
			"remainder": alloc.Remainder.StringFixed(ledger.MoneyScale),
		},
	})
}

func applyInput(e *Entry, in EntryInput) {
	e.BankAccountID = in.BankAccountID
	e.Direction = in.Direction
	e.CounterpartyID = in.CounterpartyID
	e.CounterpartyName = in.CounterpartyName
	e.BankDocumentNumber = in.BankDocumentNumber
	e.EffectiveDate = in.EffectiveDate
	e.EffectiveAmount = ledger.RoundMoney(in.EffectiveAmount)
	e.Memo = in.Memo
}

func sortedIDs(ids ...int64) []int64 {
	out := union(ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func union(lists ...[]int64) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, list := range lists {
		for _, id := range list {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
