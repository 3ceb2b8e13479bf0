package models

import "strings"

// Role is a capability granted to an actor by the auth gateway.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Actor is the authenticated caller of a core operation. A nil UserID is a
// guest.
type Actor struct {
	UserID *int64
	Roles  []Role
}

// SystemActor is used by background workers.
var SystemActor = Actor{Roles: []Role{RoleSystem}}

// HasRole reports whether the actor was granted role.
func (a Actor) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsStaff reports whether the actor may operate on other users' orders and
// on inventory.
func (a Actor) IsStaff() bool {
	return a.HasRole(RoleStaff) || a.HasRole(RoleAdmin) || a.HasRole(RoleSystem)
}

// Owns reports whether userID belongs to the actor.
func (a Actor) Owns(userID *int64) bool {
	return a.UserID != nil && userID != nil && *a.UserID == *userID
}

// ParseRoles splits a comma separated role header.
func ParseRoles(header string) []Role {
	roles := make([]Role, 0)
	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			roles = append(roles, Role(part))
		}
	}
	return roles
}
