package auth

import "strings"

// Role is the closed set of user roles known to the permission matrix.
// The zero value is RoleUnknown, which is denied everything.
type Role int

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleSurgeon
	RoleStaff
)

// Roles lists every known role, in matrix order.
var Roles = []Role{RoleAdmin, RoleSurgeon, RoleStaff}

// ParseRole maps a role name from a token or database row to a Role.
// Matching is case-insensitive; anything unrecognised is RoleUnknown.
func ParseRole(s string) Role {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ADMIN":
		return RoleAdmin
	case "SURGEON":
		return RoleSurgeon
	case "STAFF":
		return RoleStaff
	default:
		return RoleUnknown
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "ADMIN"
	case RoleSurgeon:
		return "SURGEON"
	case RoleStaff:
		return "STAFF"
	default:
		return "UNKNOWN"
	}
}

// Known reports whether r is one of Admin, Surgeon or Staff.
func (r Role) Known() bool {
	switch r {
	case RoleAdmin, RoleSurgeon, RoleStaff:
		return true
	default:
		return false
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	*r = ParseRole(string(text))
	return nil
}

// Action is a coarse permission verb.
type Action int

const (
	ActionUnknown Action = iota
	ActionRead
	ActionWrite
	ActionDelete
	ActionAudit
	ActionExport
)

// Actions lists every coarse action.
var Actions = []Action{ActionRead, ActionWrite, ActionDelete, ActionAudit, ActionExport}

// ParseAction maps "read", "write", "delete", "audit" or "export" to an
// Action. Unrecognised input returns ActionUnknown.
func ParseAction(s string) Action {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return ActionRead
	case "write":
		return ActionWrite
	case "delete":
		return ActionDelete
	case "audit":
		return ActionAudit
	case "export":
		return ActionExport
	default:
		return ActionUnknown
	}
}

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionWrite:
		return "write"
	case ActionDelete:
		return "delete"
	case ActionAudit:
		return "audit"
	case ActionExport:
		return "export"
	default:
		return "unknown"
	}
}

func (a Action) valid() bool {
	switch a {
	case ActionRead, ActionWrite, ActionDelete, ActionAudit, ActionExport:
		return true
	default:
		return false
	}
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}
