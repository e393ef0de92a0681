// Package role canonicalizes the heterogeneous role labels found in access
// credentials into a fixed set of canonical identifiers.
//
// The backend grew three login paths over time and each one encodes the role
// claim differently: already-canonical "ROLE_*" identifiers, bare English
// labels, and localized labels typed into the back-office by operators. All
// of them funnel through one synonym table here. Route guards and the
// session manager share this table; duplicating it elsewhere is a defect.
//
// Canonicalization is total: every input maps to exactly one output and the
// functions never panic. Unknown labels pass through trimmed but unchanged,
// and callers must treat an unknown role as least privilege.
package role
