package hipaa

// PHIFieldConfig lists the fields of one resource that are encrypted at
// rest.
type PHIFieldConfig struct {
	Resource string
	Fields   []string
}

// DefaultPHIFields covers the direct identifiers held by the scheduler.
// Names stay in clear text for search and are masked on output instead.
func DefaultPHIFields() []PHIFieldConfig {
	return []PHIFieldConfig{
		{
			Resource: "patients",
			Fields:   []string{"ssn", "date_of_birth", "address", "phone", "email", "notes"},
		},
		{
			Resource: "users",
			Fields:   []string{"phone"},
		},
		{
			Resource: "surgeries",
			Fields:   []string{"clinical_notes"},
		},
	}
}

var phiFieldPaths = buildPHIFieldPaths(DefaultPHIFields())

func buildPHIFieldPaths(configs []PHIFieldConfig) map[string]bool {
	paths := make(map[string]bool, 16)
	for _, c := range configs {
		for _, f := range c.Fields {
			paths[c.Resource+"."+f] = true
		}
	}
	return paths
}

// IsPHIField reports whether resource.field is encrypted at rest.
func IsPHIField(resource, field string) bool {
	return phiFieldPaths[resource+"."+field]
}
