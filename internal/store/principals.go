// ABOUTME: Principal persistence for the SQLite store
// ABOUTME: Roles and permissions are stored as JSON string arrays

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreatePrincipal inserts a new principal.
// Returns ErrDuplicate if the ID is taken.
func (s *SQLiteStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	roles, err := encodeStrings(p.Roles)
	if err != nil {
		return fmt.Errorf("encoding roles: %w", err)
	}
	perms, err := encodeStrings(p.Permissions)
	if err != nil {
		return fmt.Errorf("encoding permissions: %w", err)
	}
	status := p.Status
	if status == "" {
		status = PrincipalStatusActive
	}

	query := `
		INSERT INTO principals (principal_id, display_name, status, roles_json, permissions_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		p.ID,
		p.DisplayName,
		string(status),
		roles,
		perms,
		formatTime(p.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: principal %s", ErrDuplicate, p.ID)
		}
		return fmt.Errorf("inserting principal: %w", err)
	}

	s.logger.Debug("created principal", "principal_id", p.ID)
	return nil
}

// GetPrincipal retrieves a principal by ID.
// Returns ErrNotFound if the principal doesn't exist.
func (s *SQLiteStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	query := `
		SELECT principal_id, display_name, status, roles_json, permissions_json, created_at
		FROM principals
		WHERE principal_id = ?
	`
	p, err := scanPrincipal(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying principal: %w", err)
	}
	return p, nil
}

// ListPrincipals returns all principals ordered by creation time.
func (s *SQLiteStore) ListPrincipals(ctx context.Context) ([]*Principal, error) {
	query := `
		SELECT principal_id, display_name, status, roles_json, permissions_json, created_at
		FROM principals
		ORDER BY created_at, principal_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying principals: %w", err)
	}
	defer rows.Close()

	var principals []*Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning principal: %w", err)
		}
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating principals: %w", err)
	}
	return principals, nil
}

// CountPrincipals returns the number of principals.
func (s *SQLiteStore) CountPrincipals(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting principals: %w", err)
	}
	return count, nil
}

// UpdatePrincipalStatus changes a principal's status.
// Returns ErrNotFound if the principal doesn't exist.
func (s *SQLiteStore) UpdatePrincipalStatus(ctx context.Context, id string, status PrincipalStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE principals SET status = ? WHERE principal_id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("updating principal status: %w", err)
	}
	return requireAffected(result)
}

// DeletePrincipal removes a principal and its tokens.
// Returns ErrNotFound if the principal doesn't exist.
func (s *SQLiteStore) DeletePrincipal(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// foreign_keys is per connection, so tokens are removed explicitly.
	if _, err := tx.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE principal_id = ?`, id); err != nil {
		return fmt.Errorf("deleting principal tokens: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM principals WHERE principal_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting principal: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*Principal, error) {
	var p Principal
	var status, rolesJSON, permsJSON, createdAt string
	if err := row.Scan(&p.ID, &p.DisplayName, &status, &rolesJSON, &permsJSON, &createdAt); err != nil {
		return nil, err
	}
	p.Status = PrincipalStatus(status)

	var err error
	if p.Roles, err = decodeStrings(rolesJSON); err != nil {
		return nil, err
	}
	if p.Permissions, err = decodeStrings(permsJSON); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
