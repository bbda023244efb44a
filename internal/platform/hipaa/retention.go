package hipaa

import "time"

// AuditRetentionYears is the HIPAA minimum retention period for audit
// trails.
const AuditRetentionYears = 6

// RetentionDate is the earliest date an entry recorded at ts may be purged.
// Calendar arithmetic keeps Feb 29 entries on Mar 1 six years later.
func RetentionDate(ts time.Time) time.Time {
	return ts.AddDate(AuditRetentionYears, 0, 0)
}

