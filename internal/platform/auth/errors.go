package auth

import "fmt"

// ConfigurationError reports a permission lookup against a resource, action
// or capability that is not in the static matrix. It indicates a bug in the
// caller, not a deny.
type ConfigurationError struct {
	Kind  string // "resource", "action" or "capability"
	Value string
	// Resource is set when Kind is "capability".
	Resource string
}

func (e *ConfigurationError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("permission matrix: %s %q is not defined for resource %q", e.Kind, e.Value, e.Resource)
	}
	return fmt.Sprintf("permission matrix: unknown %s %q", e.Kind, e.Value)
}
