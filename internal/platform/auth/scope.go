package auth

import "strings"

// Scope is the breadth of records a grant covers. Scopes are ordered
// none < own < assigned < department < all; a grant at one scope covers
// every narrower scope.
//
// ScopeUnspecified is the zero value. As a requested scope it is read as
// ScopeOwn; it is never stored in the matrix.
type Scope int

const (
	ScopeUnspecified Scope = iota
	ScopeNone
	ScopeOwn
	ScopeAssigned
	ScopeDepartment
	ScopeAll
)

// ParseScope maps "none", "own", "assigned", "department" or "all" to a
// Scope. The empty string is ScopeUnspecified and anything else is
// ScopeNone. ScopeNone is a valid request scope that every non-none grant
// covers, so callers taking scopes from the wire should use LookupScope
// and reject unknown names.
func ParseScope(s string) Scope {
	scope, _ := LookupScope(s)
	return scope
}

// LookupScope is ParseScope that also reports whether s named a scope. The
// empty string is recognised as ScopeUnspecified.
func LookupScope(s string) (Scope, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ScopeUnspecified, true
	case "none":
		return ScopeNone, true
	case "own":
		return ScopeOwn, true
	case "assigned":
		return ScopeAssigned, true
	case "department":
		return ScopeDepartment, true
	case "all":
		return ScopeAll, true
	default:
		return ScopeNone, false
	}
}

func (s Scope) String() string {
	switch s {
	case ScopeNone:
		return "none"
	case ScopeOwn:
		return "own"
	case ScopeAssigned:
		return "assigned"
	case ScopeDepartment:
		return "department"
	case ScopeAll:
		return "all"
	default:
		return ""
	}
}

func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// rank is the position of s in [own, assigned, department, all], starting
// at 1. ScopeNone and out-of-range values rank 0.
func (s Scope) rank() int {
	switch s {
	case ScopeOwn:
		return 1
	case ScopeAssigned:
		return 2
	case ScopeDepartment:
		return 3
	case ScopeAll:
		return 4
	default:
		return 0
	}
}

// Covers reports whether a grant at scope s permits a request at scope
// requested. An unspecified request is treated as ScopeOwn.
func (s Scope) Covers(requested Scope) bool {
	if requested == ScopeUnspecified {
		requested = ScopeOwn
	}
	switch s {
	case ScopeNone, ScopeUnspecified:
		return false
	case ScopeAll:
		return true
	}
	r := requested.rank()
	if r == 0 {
		// A request for "none" needs no grant at all, but an unranked
		// request is never widened into a grant.
		return requested == ScopeNone
	}
	return s.rank() >= r
}
