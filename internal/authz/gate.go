// Package authz decides how an actor's request is handled: applied directly,
// deflected into a change request, or denied.
package authz

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/uvr-coop/uvr/internal/shared"
	"github.com/uvr-coop/uvr/internal/users"
)

// Actor is the authenticated principal of a request.
type Actor struct {
	ID            int64      `json:"id"`
	Role          users.Role `json:"role"`
	UnitID        int64      `json:"unit_id"`
	AssociationID int64      `json:"association_id"`
}

// Privileged reports whether the actor may mutate without review.
func (a Actor) Privileged() bool {
	return a.Role == users.RoleAdmin
}

// Scope narrows data to one unit/association. The zero value means every unit.
type Scope struct {
	UnitID        int64 `json:"unit_id"`
	AssociationID int64 `json:"association_id"`
}

// All reports whether the scope is unrestricted.
func (s Scope) All() bool {
	return s.UnitID == 0 && s.AssociationID == 0
}

// Concrete reports whether the scope names a single unit and association.
func (s Scope) Concrete() bool {
	return s.UnitID != 0 && s.AssociationID != 0
}

// Contains reports whether a record owned by other is visible within s.
func (s Scope) Contains(other Scope) bool {
	if s.UnitID != 0 && s.UnitID != other.UnitID {
		return false
	}
	if s.AssociationID != 0 && s.AssociationID != other.AssociationID {
		return false
	}
	return true
}

// Route is the outcome of gating a mutation.
type Route int

const (
	// Direct applies the mutation immediately.
	Direct Route = iota + 1
	// Deflect captures the mutation as a change request.
	Deflect
)

func (r Route) String() string {
	switch r {
	case Direct:
		return "direct"
	case Deflect:
		return "deflect"
	}
	return "unknown"
}

// RoleSource reloads an actor's persisted account.
type RoleSource interface {
	FindByID(ctx context.Context, id int64) (*users.User, error)
}

// Gate applies the role rules.
type Gate struct {
	roles RoleSource
}

// NewGate constructs a Gate.
func NewGate(roles RoleSource) *Gate {
	return &Gate{roles: roles}
}

// ActorFromUser builds the actor for an active user.
func ActorFromUser(u *users.User) (Actor, error) {
	if u == nil || !u.IsActive || !u.Role.Valid() {
		return Actor{}, shared.ErrPermissionDenied
	}
	return Actor{ID: u.ID, Role: u.Role, UnitID: u.UnitID, AssociationID: u.AssociationID}, nil
}

// Scope returns the effective read scope. Non-privileged actors always get their own
// unit regardless of what they asked for.
func (g *Gate) Scope(actor Actor, requested Scope) Scope {
	if actor.Privileged() {
		return requested
	}
	return actor.Scope()
}

// Scope returns the actor's home unit.
func (a Actor) Scope() Scope {
	return Scope{UnitID: a.UnitID, AssociationID: a.AssociationID}
}

// Route decides how an edit or delete by actor is handled.
func (g *Gate) Route(actor Actor) (Route, error) {
	switch actor.Role {
	case users.RoleAdmin:
		return Direct, nil
	case users.RoleUnitUser:
		return Deflect, nil
	default:
		return 0, shared.ErrPermissionDenied
	}
}

// CreateScope returns the unit a new record is created in. Unit users create inside
// their own unit; admins must name a concrete unit.
func (g *Gate) CreateScope(actor Actor, requested Scope) (Scope, error) {
	switch actor.Role {
	case users.RoleAdmin:
		if !requested.Concrete() {
			return Scope{}, shared.NewValidationError("unit_id", "unit and association are required")
		}
		return requested, nil
	case users.RoleUnitUser:
		return actor.Scope(), nil
	default:
		return Scope{}, shared.ErrPermissionDenied
	}
}

// RequirePrivileged re-reads the actor's account and fails unless it is still an active admin.
func (g *Gate) RequirePrivileged(ctx context.Context, actor Actor) error {
	if g.roles == nil {
		return shared.ErrPermissionDenied
	}
	current, err := g.roles.FindByID(ctx, actor.ID)
	if err != nil {
		if shared.IsNotFound(err) {
			return shared.ErrPermissionDenied
		}
		return fmt.Errorf("authz: reload actor: %w", err)
	}
	if !current.IsActive || current.Role != users.RoleAdmin {
		return shared.ErrPermissionDenied
	}
	return nil
}

// CanAccess reports whether actor may see a record owned by scope.
func (g *Gate) CanAccess(actor Actor, owner Scope) bool {
	return g.Scope(actor, Scope{}).Contains(owner)
}

// ScopeFromQuery reads unit_id and association_id query parameters. Missing or
// malformed values mean "any".
func ScopeFromQuery(q url.Values) Scope {
	unit, _ := strconv.ParseInt(q.Get("unit_id"), 10, 64)
	assoc, _ := strconv.ParseInt(q.Get("association_id"), 10, 64)
	if unit < 0 {
		unit = 0
	}
	if assoc < 0 {
		assoc = 0
	}
	return Scope{UnitID: unit, AssociationID: assoc}
}
