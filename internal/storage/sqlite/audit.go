package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one frontier dispatch record.
type AuditEntry struct {
	UID       string
	Tool      string
	Caller    string
	OK        bool
	ErrorName string
	Duration  time.Duration
	CreatedAt time.Time
}

func (q *Q) InsertAudit(ctx context.Context, e AuditEntry) error {
	if e.UID == "" {
		e.UID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = nowUTC()
	}
	_, err := q.h.ExecContext(ctx,
		`INSERT INTO audit_log (uid, tool, caller, ok, error_name, duration_ms, created_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UID, e.Tool, e.Caller, boolToInt(e.OK), e.ErrorName,
		e.Duration.Milliseconds(), fmtTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// RecentAudit returns the newest entries, most recent first.
func (q *Q) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.h.QueryContext(ctx,
		`SELECT uid, tool, caller, ok, error_name, duration_ms, created_ts
		 FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e          AuditEntry
			ok         int
			durationMS int64
			created    string
		)
		if err := rows.Scan(&e.UID, &e.Tool, &e.Caller, &ok, &e.ErrorName, &durationMS, &created); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.OK = ok != 0
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
