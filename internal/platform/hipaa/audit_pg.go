package hipaa

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// queryable abstracts pgxpool.Pool, pgxpool.Conn and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PGSink appends audit entries to the audit_log table. Each write runs in
// its own statement so a rolled-back request never loses its audit trail.
type PGSink struct {
	db queryable
}

func NewPGSink(db queryable) *PGSink {
	return &PGSink{db: db}
}

const auditColumns = `id, action, resource, resource_id, user_id, user_role, user_email,
	timestamp, ip_address, user_agent, success, error_message, session_id,
	additional_data, retention_date`

func (s *PGSink) Append(ctx context.Context, e *AuditLogEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_log (`+auditColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15
		)`,
		e.ID, e.Action, e.Resource, e.ResourceID, e.UserID, e.UserRole, e.UserEmail,
		e.Timestamp, e.IPAddress, e.UserAgent, e.Success, e.ErrorMessage, e.SessionID,
		e.AdditionalData, e.RetentionDate,
	)
	if err != nil {
		return fmt.Errorf("insert audit_log: %w", err)
	}
	return nil
}

// Search runs the filter in SQL.
func (s *PGSink) Search(ctx context.Context, params AuditSearchParams) (*AuditSearchResult, error) {
	applyDefaults(&params)
	where, args := buildAuditFilter(params)

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit_log: %w", err)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_log` + where +
		` ORDER BY ` + auditOrderBy(params.SortBy, params.SortOrder) +
		` LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, params.Limit, params.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit_log: %w", err)
	}
	defer rows.Close()

	entries := make([]*AuditLogEntry, 0)
	for rows.Next() {
		var e AuditLogEntry
		if err := rows.Scan(
			&e.ID, &e.Action, &e.Resource, &e.ResourceID, &e.UserID, &e.UserRole, &e.UserEmail,
			&e.Timestamp, &e.IPAddress, &e.UserAgent, &e.Success, &e.ErrorMessage, &e.SessionID,
			&e.AdditionalData, &e.RetentionDate,
		); err != nil {
			return nil, fmt.Errorf("scan audit_log: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit_log: %w", err)
	}

	return &AuditSearchResult{
		Entries: entries,
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
	}, nil
}

// buildAuditFilter returns a WHERE clause with positional args for the
// non-zero filters in params.
func buildAuditFilter(params AuditSearchParams) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, cond+" $"+strconv.Itoa(len(args)))
	}

	if params.UserID != "" {
		add("user_id =", params.UserID)
	}
	if params.Action != "" {
		add("action =", params.Action)
	}
	if params.Resource != "" {
		add("resource =", params.Resource)
	}
	if params.ResourceID != "" {
		add("resource_id =", params.ResourceID)
	}
	if params.IPAddress != "" {
		add("ip_address =", params.IPAddress)
	}
	if params.Success != nil {
		add("success =", *params.Success)
	}
	if params.StartTime != nil {
		add("timestamp >=", *params.StartTime)
	}
	if params.EndTime != nil {
		add("timestamp <=", *params.EndTime)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func auditOrderBy(sortBy, sortOrder string) string {
	col := "timestamp"
	switch sortBy {
	case "user":
		col = "user_id"
	case "action":
		col = "action"
	}
	dir := "DESC"
	if sortOrder == "asc" {
		dir = "ASC"
	}
	return col + " " + dir + ", id"
}
