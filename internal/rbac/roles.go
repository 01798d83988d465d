// Package rbac defines the fixed administrative role set and the ordering
// used for minimum-role authorization checks.
package rbac

import "errors"

// Role is one of the four fixed administrative roles.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleEditor     Role = "editor"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ErrUnknownRole is returned by Parse for values outside the fixed set.
var ErrUnknownRole = errors.New("unknown role")

// rank orders roles by privilege. Higher rank implies every capability of
// lower ranks; there are no disjoint permission sets in this product.
var rank = map[Role]int{
	RoleViewer:     1,
	RoleEditor:     2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

// Parse validates a stored or transported role string.
func Parse(s string) (Role, error) {
	r := Role(s)
	if _, ok := rank[r]; !ok {
		return "", ErrUnknownRole
	}
	return r, nil
}

// Valid reports whether r is a member of the fixed role set.
func (r Role) Valid() bool {
	_, ok := rank[r]
	return ok
}

// Allows reports whether r meets or exceeds the required minimum role.
// Unknown roles on either side never grant access.
func (r Role) Allows(min Role) bool {
	rr, ok := rank[r]
	if !ok {
		return false
	}
	mr, ok := rank[min]
	if !ok {
		return false
	}
	return rr >= mr
}
