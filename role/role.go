package role

import (
	"strings"

	"github.com/tableorder/sessionkit/credential"
)

// Role is a canonical authorization level. Values outside the canonical set
// occur when the backend issues a label with no mapping rule; such values
// compare unequal to every canonical constant and therefore carry no
// privileges.
type Role string

const (
	// Guest is an unauthenticated or walk-in identity.
	Guest Role = "ROLE_GUEST"
	// Admin has full back-office control across branches.
	Admin Role = "ROLE_ADMIN"
	// Manager runs a single branch.
	Manager Role = "ROLE_MANAGER"
	// Staff is waitstaff and kitchen personnel.
	Staff Role = "ROLE_STAFF"
	// User is an ordinary storefront customer and the fallback for any
	// account whose credential carries no role claim.
	User Role = "ROLE_USER"
)

// marker prefixes every already-canonical role identifier.
const marker = "ROLE_"

// synonyms is the single shared mapping from lowercased labels to canonical
// roles. English labels come from the storefront backend, the localized ones
// from back-office operator accounts.
var synonyms = map[string]Role{
	"guest":     Guest,
	"anonymous": Guest,
	"visitante": Guest,
	"游客":        Guest,

	"admin":         Admin,
	"administrator": Admin,
	"superadmin":    Admin,
	"super_admin":   Admin,
	"管理员":           Admin,

	"manager":    Manager,
	"boss":       Manager,
	"gerente":    Manager,
	"店长":         Manager,
	"supervisor": Manager,

	"staff":    Staff,
	"employee": Staff,
	"waiter":   Staff,
	"mesero":   Staff,
	"员工":       Staff,
	"服务员":      Staff,

	"user":     User,
	"customer": User,
	"member":   User,
	"cliente":  User,
	"用户":       User,
	"顾客":       User,
}

// Canonicalize maps a raw role claim to its canonical role. An absent claim,
// an empty list, and a list without string elements all map to [User].
func Canonicalize(claim credential.RoleClaim) Role {
	raw, ok := claim.First()
	if !ok {
		return User
	}
	return CanonicalizeString(raw)
}

// CanonicalizeString maps a single raw label to its canonical role.
//
// The input is trimmed; an empty result maps to [User]. Labels already
// carrying the canonical marker are returned as-is. Everything else is
// matched case-insensitively against the synonym table, and labels with no
// mapping rule are returned trimmed but otherwise unchanged.
func CanonicalizeString(raw string) Role {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return User
	}
	if strings.HasPrefix(trimmed, marker) {
		return Role(trimmed)
	}
	if mapped, ok := synonyms[strings.ToLower(trimmed)]; ok {
		return mapped
	}
	return Role(trimmed)
}

// Known reports whether r is one of the canonical constants.
func Known(r Role) bool {
	switch r {
	case Guest, Admin, Manager, Staff, User:
		return true
	default:
		return false
	}
}

// Allowed reports whether r, after canonicalization, is a member of the
// allow-list. Unknown roles are never allowed: least privilege applies when
// no mapping rule matched.
func Allowed(r Role, allow ...Role) bool {
	canonical := CanonicalizeString(string(r))
	for _, candidate := range allow {
		if canonical == CanonicalizeString(string(candidate)) {
			return true
		}
	}
	return false
}
