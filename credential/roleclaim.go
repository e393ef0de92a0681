package credential

import "encoding/json"

type roleClaimKind uint8

const (
	roleClaimAbsent roleClaimKind = iota
	roleClaimString
	roleClaimList
)

// RoleClaim is the raw role claim as issued by the backend. Depending on the
// login path the server encodes it as a plain string, an array of strings, or
// omits it entirely. RoleClaim models the three shapes as a tagged union so
// that exactly one place in the codebase deals with the variance.
type RoleClaim struct {
	kind roleClaimKind
	str  string
	list []string
}

// RoleClaimString builds a string-shaped claim. Intended for tests and for
// backends that are known to emit the scalar form.
func RoleClaimString(s string) RoleClaim {
	return RoleClaim{kind: roleClaimString, str: s}
}

// RoleClaimList builds a list-shaped claim.
func RoleClaimList(values ...string) RoleClaim {
	return RoleClaim{kind: roleClaimList, list: values}
}

// Absent reports whether the claim was missing from the credential.
func (r RoleClaim) Absent() bool {
	return r.kind == roleClaimAbsent
}

// First returns the effective raw role string: the scalar value for a
// string-shaped claim, or the first string element for a list-shaped claim.
// ok is false when the claim is absent, the list is empty, or the list holds
// no string element.
func (r RoleClaim) First() (string, bool) {
	switch r.kind {
	case roleClaimString:
		return r.str, true
	case roleClaimList:
		if len(r.list) == 0 {
			return "", false
		}
		return r.list[0], true
	default:
		return "", false
	}
}

// UnmarshalJSON accepts a JSON string, an array, or null. Non-string array
// elements are dropped rather than rejected; a credential with a malformed
// role claim still decodes and downgrades to the default role later.
func (r *RoleClaim) UnmarshalJSON(data []byte) error {
	*r = RoleClaim{}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.kind = roleClaimString
		r.str = s
		return nil
	}

	var list []any
	if err := json.Unmarshal(data, &list); err == nil {
		r.kind = roleClaimList
		for _, item := range list {
			if s, ok := item.(string); ok {
				r.list = append(r.list, s)
			}
		}
		return nil
	}

	// null or an unexpected shape: treat as absent.
	return nil
}

// MarshalJSON round-trips the claim in its original shape.
func (r RoleClaim) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case roleClaimString:
		return json.Marshal(r.str)
	case roleClaimList:
		return json.Marshal(r.list)
	default:
		return []byte("null"), nil
	}
}
