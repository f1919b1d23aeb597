// ABOUTME: Invocation audit log persistence
// ABOUTME: One row per tool invocation with outcome code and duration

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordInvocation appends an audit row.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, inv *Invocation) error {
	query := `
		INSERT INTO invocations (id, tool_name, principal_id, correlation_id, outcome, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		inv.ID,
		inv.ToolName,
		nullString(inv.PrincipalID),
		inv.CorrelationID,
		inv.Outcome,
		inv.Duration.Milliseconds(),
		formatTime(inv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}
	return nil
}

// ListInvocations returns the most recent invocations, newest first.
func (s *SQLiteStore) ListInvocations(ctx context.Context, limit int) ([]*Invocation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, tool_name, principal_id, correlation_id, outcome, duration_ms, created_at
		FROM invocations
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying invocations: %w", err)
	}
	defer rows.Close()

	var out []*Invocation
	for rows.Next() {
		var inv Invocation
		var principalID sql.NullString
		var durationMS int64
		var createdAt string
		if err := rows.Scan(&inv.ID, &inv.ToolName, &principalID, &inv.CorrelationID,
			&inv.Outcome, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		inv.PrincipalID = principalID.String
		inv.Duration = time.Duration(durationMS) * time.Millisecond
		if inv.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invocations: %w", err)
	}
	return out, nil
}

// nullString converts an empty string to nil for nullable columns
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
