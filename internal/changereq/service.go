package changereq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/shared"
)

// DecisionLog keeps the history of submissions and verdicts.
type DecisionLog interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// Metrics counts workflow activity.
type Metrics interface {
	ObserveSubmission(target, action string)
	ObserveDecision(target, decision, outcome string)
}

// Service runs the maker-checker workflow.
type Service struct {
	repo      Repository
	registry  *Registry
	gate      *authz.Gate
	decisions DecisionLog
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, registry *Registry, gate *authz.Gate, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		registry: registry,
		gate:     gate,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetDecisionLog attaches the approvals history writer.
func (s *Service) SetDecisionLog(log DecisionLog) {
	s.decisions = log
}

// SetMetrics attaches workflow counters.
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// Submit captures a proposed edit or delete by a non-privileged actor. Delete requests
// store the current state of the target as payload.
func (s *Service) Submit(ctx context.Context, actor authz.Actor, tt TargetType, targetID int64, action Action, payload json.RawMessage) (Request, error) {
	route, err := s.gate.Route(actor)
	if err != nil {
		return Request{}, err
	}
	if route != authz.Deflect {
		return Request{}, shared.ErrPermissionDenied
	}
	target, err := s.registry.Lookup(tt)
	if err != nil {
		return Request{}, err
	}
	if _, err := ParseAction(string(action)); err != nil {
		return Request{}, err
	}

	var proposal Proposal
	if action == ActionEdit {
		proposal, err = target.Decode(payload)
		if err != nil {
			return Request{}, err
		}
	}

	req := Request{
		ID:          uuid.New(),
		TargetType:  tt,
		TargetID:    targetID,
		Action:      action,
		RequestedBy: actor.ID,
		Status:      StatusPending,
		SubmittedAt: s.now(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		snap, err := target.Current(ctx, targetID)
		if err != nil {
			return err
		}
		if !s.gate.CanAccess(actor, snap.Scope) {
			return shared.ErrNotFound
		}
		pending, err := tx.HasPending(ctx, tt, targetID)
		if err != nil {
			return err
		}
		if pending {
			return shared.ErrDuplicatePendingRequest
		}
		if action == ActionDelete {
			proposal = snap.Proposal
		}
		req.Payload, err = json.Marshal(proposal)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		req.UnitID = snap.Scope.UnitID
		req.AssociationID = snap.Scope.AssociationID
		if err := tx.Insert(ctx, req); err != nil {
			return err
		}
		return s.recordDecision(ctx, req, actor.ID, shared.ApprovalSubmit, "")
	})
	if err != nil {
		return Request{}, fmt.Errorf("changereq: submit %s %d: %w", tt, targetID, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveSubmission(string(tt), string(action))
	}
	s.logger.Info("change request submitted",
		slog.String("id", req.ID.String()),
		slog.String("target", string(tt)),
		slog.Int64("target_id", targetID),
		slog.String("action", string(action)))
	return req, nil
}

// Get returns a request visible to actor. Non-admins only see their own requests.
func (s *Service) Get(ctx context.Context, actor authz.Actor, id uuid.UUID) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if !actor.Privileged() && req.RequestedBy != actor.ID {
		return Request{}, shared.ErrNotFound
	}
	return req, nil
}

// List returns requests visible to actor.
func (s *Service) List(ctx context.Context, actor authz.Actor, filter ListFilter) ([]Request, error) {
	filter.Scope = s.gate.Scope(actor, filter.Scope)
	if !actor.Privileged() {
		filter.RequestedBy = actor.ID
	}
	return s.repo.List(ctx, filter)
}

// History returns the decision log of a request.
func (s *Service) History(ctx context.Context, actor authz.Actor, id uuid.UUID) ([]shared.ApprovalLog, error) {
	req, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if s.decisions == nil {
		return nil, nil
	}
	return s.decisions.List(ctx, string(req.TargetType), req.ID)
}

// Diff compares the proposal with the current state of its target. For delete requests
// every current value is shown as disappearing.
func (s *Service) Diff(ctx context.Context, actor authz.Actor, id uuid.UUID) ([]DiffEntry, error) {
	req, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	target, err := s.registry.Lookup(req.TargetType)
	if err != nil {
		return nil, err
	}

	var current []Field
	snap, err := target.Current(ctx, req.TargetID)
	switch {
	case err == nil:
		current = snap.Proposal.Fields()
	case errors.Is(err, shared.ErrNotFound):
	default:
		return nil, fmt.Errorf("changereq: diff %s: %w", id, err)
	}

	if req.Action == ActionDelete {
		if current == nil {
			proposal, err := target.Decode(req.Payload)
			if err != nil {
				return nil, err
			}
			current = proposal.Fields()
		}
		return DiffFields(current, nil), nil
	}
	proposal, err := target.Decode(req.Payload)
	if err != nil {
		return nil, err
	}
	return DiffFields(current, proposal.Fields()), nil
}

// Resolve approves or rejects a pending request. Approval applies the proposal through
// the target in the same transaction; if that fails the request stays pending.
func (s *Service) Resolve(ctx context.Context, actor authz.Actor, id uuid.UUID, decision Decision, note string) (Request, error) {
	if err := s.gate.RequirePrivileged(ctx, actor); err != nil {
		return Request{}, err
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return Request{}, shared.NewValidationError("decision", "must be APPROVE or REJECT")
	}

	var (
		resolved   Request
		targetType TargetType
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		targetType = req.TargetType
		if req.Status != StatusPending {
			return shared.ErrRequestResolved
		}
		status := StatusRejected
		action := shared.ApprovalReject
		if decision == DecisionApprove {
			if err := s.apply(ctx, req); err != nil {
				return err
			}
			status = StatusApproved
			action = shared.ApprovalApprove
		}
		at := s.now()
		if err := tx.Resolve(ctx, req.ID, status, actor.ID, note, at); err != nil {
			return err
		}
		if err := s.recordDecision(ctx, req, actor.ID, action, note); err != nil {
			return err
		}
		resolvedBy := actor.ID
		req.Status = status
		req.ResolvedBy = &resolvedBy
		req.ResolvedAt = &at
		req.ResolutionNote = note
		resolved = req
		return nil
	})
	if s.metrics != nil && targetType != "" {
		outcome := "ok"
		if err != nil {
			outcome = "failed"
		}
		s.metrics.ObserveDecision(string(targetType), string(decision), outcome)
	}
	if err != nil {
		return Request{}, fmt.Errorf("changereq: resolve %s: %w", id, err)
	}
	s.logger.Info("change request resolved",
		slog.String("id", id.String()),
		slog.String("status", string(resolved.Status)),
		slog.Int64("actor_id", actor.ID))
	return resolved, nil
}

func (s *Service) apply(ctx context.Context, req Request) error {
	target, err := s.registry.Lookup(req.TargetType)
	if err != nil {
		return err
	}
	proposal, err := target.Decode(req.Payload)
	if err != nil {
		return err
	}
	switch req.Action {
	case ActionEdit:
		return target.ApplyEdit(ctx, req.TargetID, proposal)
	case ActionDelete:
		return target.ApplyDelete(ctx, req.TargetID, proposal)
	}
	return shared.NewValidationError("action", "must be EDIT or DELETE")
}

func (s *Service) recordDecision(ctx context.Context, req Request, actorID int64, action shared.ApprovalAction, note string) error {
	if s.decisions == nil {
		return nil
	}
	return s.decisions.Record(ctx, shared.ApprovalLog{
		Module:  string(req.TargetType),
		RefID:   req.ID,
		ActorID: actorID,
		Action:  action,
		Note:    note,
	})
}
