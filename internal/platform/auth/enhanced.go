package auth

import "strings"

// ResourceType is a resource class in the scoped permission matrix.
type ResourceType int

const (
	ResourceTypeUnknown ResourceType = iota
	ResourceTypePatients
	ResourceTypeSurgeries
	ResourceTypeSystem
)

// ResourceTypes lists every scoped resource type.
var ResourceTypes = []ResourceType{ResourceTypePatients, ResourceTypeSurgeries, ResourceTypeSystem}

func ParseResourceType(s string) ResourceType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patients":
		return ResourceTypePatients
	case "surgeries":
		return ResourceTypeSurgeries
	case "system":
		return ResourceTypeSystem
	default:
		return ResourceTypeUnknown
	}
}

func (r ResourceType) String() string {
	switch r {
	case ResourceTypePatients:
		return "patients"
	case ResourceTypeSurgeries:
		return "surgeries"
	case ResourceTypeSystem:
		return "system"
	default:
		return "unknown"
	}
}

func (r ResourceType) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Capability is a permission in the scoped matrix. Which capabilities exist
// depends on the resource type; see capabilitiesFor.
type Capability int

const (
	CapUnknown Capability = iota
	CapRead
	CapWrite
	CapDelete
	CapExport
	CapViewPHI
	CapViewSensitive
	CapSchedule
	CapCancel
	CapModify
	CapManageUsers
	CapViewAuditLogs
	CapConfigureSystem
	CapExportData
)

var capabilityNames = map[Capability]string{
	CapRead:            "read",
	CapWrite:           "write",
	CapDelete:          "delete",
	CapExport:          "export",
	CapViewPHI:         "viewPHI",
	CapViewSensitive:   "viewSensitive",
	CapSchedule:        "schedule",
	CapCancel:          "cancel",
	CapModify:          "modify",
	CapManageUsers:     "manageUsers",
	CapViewAuditLogs:   "viewAuditLogs",
	CapConfigureSystem: "configureSystem",
	CapExportData:      "exportData",
}

// ParseCapability matches capability names case-insensitively, so both
// "viewPHI" and "viewphi" resolve to CapViewPHI.
func ParseCapability(s string) Capability {
	s = strings.TrimSpace(s)
	for c, name := range capabilityNames {
		if strings.EqualFold(name, s) {
			return c
		}
	}
	return CapUnknown
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return "unknown"
}

func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Grant is one cell of the scoped matrix: either a boolean or a scope.
type Grant struct {
	scoped  bool
	allowed bool
	scope   Scope
}

// Allow and Deny are boolean grants.
var (
	Allow = Grant{allowed: true}
	Deny  = Grant{}
)

// Scoped returns a scope-valued grant.
func Scoped(s Scope) Grant {
	return Grant{scoped: true, scope: s}
}

// IsScoped reports whether the grant carries a scope rather than a boolean.
func (g Grant) IsScoped() bool { return g.scoped }

// Scope returns the granted scope. Boolean grants report ScopeAll when
// allowed and ScopeNone when denied.
func (g Grant) Scope() Scope {
	if g.scoped {
		return g.scope
	}
	if g.allowed {
		return ScopeAll
	}
	return ScopeNone
}

// Permits evaluates the grant against a requested scope. Boolean grants
// ignore the requested scope.
func (g Grant) Permits(requested Scope) bool {
	if !g.scoped {
		return g.allowed
	}
	return g.scope.Covers(requested)
}

// MarshalJSON renders boolean grants as true/false and scoped grants as the
// scope name, matching how the matrix is described to clients.
func (g Grant) MarshalJSON() ([]byte, error) {
	if !g.scoped {
		if g.allowed {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	}
	return []byte(`"` + g.scope.String() + `"`), nil
}

// capabilitiesFor is the schema of the scoped matrix: the capabilities
// defined for each resource type.
func capabilitiesFor(r ResourceType) []Capability {
	switch r {
	case ResourceTypePatients:
		return []Capability{CapRead, CapWrite, CapDelete, CapExport, CapViewPHI, CapViewSensitive}
	case ResourceTypeSurgeries:
		return []Capability{CapRead, CapWrite, CapDelete, CapSchedule, CapCancel, CapModify}
	case ResourceTypeSystem:
		return []Capability{CapManageUsers, CapViewAuditLogs, CapConfigureSystem, CapExportData}
	default:
		return nil
	}
}

type capabilityGrants map[Capability]Grant

var (
	adminGrants = map[ResourceType]capabilityGrants{
		ResourceTypePatients: {
			CapRead: Scoped(ScopeAll), CapWrite: Scoped(ScopeAll),
			CapDelete: Allow, CapExport: Allow, CapViewPHI: Allow, CapViewSensitive: Allow,
		},
		ResourceTypeSurgeries: {
			CapRead: Scoped(ScopeAll), CapWrite: Scoped(ScopeAll), CapDelete: Allow,
			CapSchedule: Scoped(ScopeAll), CapCancel: Scoped(ScopeAll), CapModify: Scoped(ScopeAll),
		},
		ResourceTypeSystem: {
			CapManageUsers: Allow, CapViewAuditLogs: Allow, CapConfigureSystem: Allow, CapExportData: Allow,
		},
	}
	surgeonGrants = map[ResourceType]capabilityGrants{
		ResourceTypePatients: {
			CapRead: Scoped(ScopeAssigned), CapWrite: Scoped(ScopeAssigned),
			CapDelete: Deny, CapExport: Deny, CapViewPHI: Allow, CapViewSensitive: Allow,
		},
		ResourceTypeSurgeries: {
			CapRead: Scoped(ScopeDepartment), CapWrite: Scoped(ScopeOwn), CapDelete: Deny,
			CapSchedule: Scoped(ScopeOwn), CapCancel: Scoped(ScopeOwn), CapModify: Scoped(ScopeOwn),
		},
		ResourceTypeSystem: {
			CapManageUsers: Deny, CapViewAuditLogs: Deny, CapConfigureSystem: Deny, CapExportData: Deny,
		},
	}
	staffGrants = map[ResourceType]capabilityGrants{
		ResourceTypePatients: {
			CapRead: Scoped(ScopeDepartment), CapWrite: Scoped(ScopeDepartment),
			CapDelete: Deny, CapExport: Deny, CapViewPHI: Deny, CapViewSensitive: Deny,
		},
		ResourceTypeSurgeries: {
			CapRead: Scoped(ScopeDepartment), CapWrite: Scoped(ScopeDepartment), CapDelete: Deny,
			CapSchedule: Scoped(ScopeDepartment), CapCancel: Scoped(ScopeNone), CapModify: Scoped(ScopeDepartment),
		},
		ResourceTypeSystem: {
			CapManageUsers: Deny, CapViewAuditLogs: Deny, CapConfigureSystem: Deny, CapExportData: Deny,
		},
	}
)

func scopedMatrix(role Role) map[ResourceType]capabilityGrants {
	switch role {
	case RoleAdmin:
		return adminGrants
	case RoleSurgeon:
		return surgeonGrants
	case RoleStaff:
		return staffGrants
	default:
		return nil
	}
}

func capabilityDefined(resource ResourceType, capability Capability) bool {
	for _, c := range capabilitiesFor(resource) {
		if c == capability {
			return true
		}
	}
	return false
}

// CheckEnhancedPermission evaluates the scoped matrix. Boolean grants return
// the stored value. Scoped grants compare the stored scope against scope;
// ScopeUnspecified is evaluated as ScopeOwn. An unknown role is a plain deny.
// A resource or capability outside the matrix schema returns a
// *ConfigurationError.
func CheckEnhancedPermission(role Role, resource ResourceType, capability Capability, scope Scope) (bool, error) {
	if capabilitiesFor(resource) == nil {
		return false, &ConfigurationError{Kind: "resource", Value: resource.String()}
	}
	if !capabilityDefined(resource, capability) {
		return false, &ConfigurationError{Kind: "capability", Value: capability.String(), Resource: resource.String()}
	}
	m := scopedMatrix(role)
	if m == nil {
		return false, nil
	}
	g, ok := m[resource][capability]
	if !ok {
		return false, nil
	}
	return g.Permits(scope), nil
}

// HasEnhancedPermission is CheckEnhancedPermission with configuration errors
// folded into a deny.
func HasEnhancedPermission(role Role, resource ResourceType, capability Capability, scope Scope) bool {
	ok, err := CheckEnhancedPermission(role, resource, capability, scope)
	return err == nil && ok
}

// CanViewPHI reports whether role may see unmasked patient identifiers.
func CanViewPHI(role Role) bool {
	return HasEnhancedPermission(role, ResourceTypePatients, CapViewPHI, ScopeUnspecified)
}

// Permissions is a snapshot of one role's grants, suitable for JSON.
type Permissions struct {
	Role   Role                                  `json:"role"`
	Coarse map[string][]Action                   `json:"coarse"`
	Scoped map[ResourceType]map[Capability]Grant `json:"scoped"`
}

// EffectivePermissions copies the matrix rows for role. Unknown roles get
// empty maps.
func EffectivePermissions(role Role) Permissions {
	p := Permissions{
		Role:   role,
		Coarse: make(map[string][]Action),
		Scoped: make(map[ResourceType]map[Capability]Grant),
	}
	if cm := coarseMatrix(role); cm != nil {
		for _, res := range CoarseResources {
			granted := []Action{}
			for _, a := range Actions {
				if cm[res][a] {
					granted = append(granted, a)
				}
			}
			p.Coarse[res] = granted
		}
	}
	if sm := scopedMatrix(role); sm != nil {
		for _, rt := range ResourceTypes {
			row := make(map[Capability]Grant)
			for _, c := range capabilitiesFor(rt) {
				row[c] = sm[rt][c]
			}
			p.Scoped[rt] = row
		}
	}
	return p
}
