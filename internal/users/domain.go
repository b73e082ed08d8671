// Package users owns user accounts and their explicit role assignment.
package users

import (
	"strings"
	"time"
)

// Role is the explicit authorization class of a user.
type Role string

const (
	// RoleAdmin is privileged across every unit.
	RoleAdmin Role = "ADMIN"
	// RoleUnitUser is scoped to one unit; edits and deletes go through change requests.
	RoleUnitUser Role = "UNIT_USER"
	// RoleVisitor may only read inside its unit.
	RoleVisitor Role = "VISITOR"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUnitUser, RoleVisitor:
		return true
	}
	return false
}

// User represents an account able to sign in.
type User struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	PasswordHash  string    `json:"-"`
	Role          Role      `json:"role"`
	UnitID        int64     `json:"unit_id"`
	AssociationID int64     `json:"association_id"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RoleAssignment is one planned change of the legacy role migration.
type RoleAssignment struct {
	UserID   int64 `json:"user_id"`
	Username string
	Role     Role
}

// legacyRole maps the historical username convention onto an explicit role.
func legacyRole(username, prefix string) Role {
	if prefix != "" && strings.HasPrefix(strings.ToLower(username), strings.ToLower(prefix)) {
		return RoleUnitUser
	}
	return RoleAdmin
}
