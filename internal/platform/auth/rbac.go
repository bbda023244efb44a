package auth

// Resource names understood by the coarse permission matrix.
const (
	ResourcePatients  = "patients"
	ResourceSurgeries = "surgeries"
	ResourceUsers     = "users"
	ResourceAuditLogs = "audit_logs"
)

// CoarseResources lists every resource name in the coarse matrix.
var CoarseResources = []string{ResourcePatients, ResourceSurgeries, ResourceUsers, ResourceAuditLogs}

type actionSet map[Action]bool

func actions(as ...Action) actionSet {
	s := make(actionSet, len(as))
	for _, a := range as {
		s[a] = true
	}
	return s
}

var (
	adminMatrix = map[string]actionSet{
		ResourcePatients:  actions(ActionRead, ActionWrite, ActionDelete, ActionAudit, ActionExport),
		ResourceSurgeries: actions(ActionRead, ActionWrite, ActionDelete, ActionAudit, ActionExport),
		ResourceUsers:     actions(ActionRead, ActionWrite, ActionDelete, ActionAudit, ActionExport),
		ResourceAuditLogs: actions(ActionRead, ActionAudit, ActionExport),
	}
	surgeonMatrix = map[string]actionSet{
		ResourcePatients:  actions(ActionRead, ActionWrite),
		ResourceSurgeries: actions(ActionRead, ActionWrite),
		ResourceUsers:     actions(ActionRead),
		ResourceAuditLogs: actions(),
	}
	staffMatrix = map[string]actionSet{
		ResourcePatients:  actions(ActionRead, ActionWrite),
		ResourceSurgeries: actions(ActionRead),
		ResourceUsers:     actions(),
		ResourceAuditLogs: actions(),
	}
)

func coarseMatrix(role Role) map[string]actionSet {
	switch role {
	case RoleAdmin:
		return adminMatrix
	case RoleSurgeon:
		return surgeonMatrix
	case RoleStaff:
		return staffMatrix
	default:
		return nil
	}
}

func isCoarseResource(resource string) bool {
	_, ok := adminMatrix[resource]
	return ok
}

// CheckPermission evaluates the coarse matrix. An unknown role is a plain
// deny. An unknown action or resource returns a *ConfigurationError.
func CheckPermission(role Role, action Action, resource string) (bool, error) {
	if !action.valid() {
		return false, &ConfigurationError{Kind: "action", Value: action.String()}
	}
	if !isCoarseResource(resource) {
		return false, &ConfigurationError{Kind: "resource", Value: resource}
	}
	m := coarseMatrix(role)
	if m == nil {
		return false, nil
	}
	return m[resource][action], nil
}

// HasPermission is CheckPermission with configuration errors folded into a
// deny.
func HasPermission(role Role, action Action, resource string) bool {
	ok, err := CheckPermission(role, action, resource)
	return err == nil && ok
}
