// ABOUTME: Article and content type persistence backing the example procedures
// ABOUTME: Articles are listed newest first per content type with offset/limit paging

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateArticle inserts an article and sets its ID.
func (s *SQLiteStore) CreateArticle(ctx context.Context, a *Article) error {
	contentType := a.ContentType
	if contentType == "" {
		contentType = "article"
	}
	query := `
		INSERT INTO articles (title, body, content_type, author, published, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		a.Title,
		a.Body,
		contentType,
		a.Author,
		boolToInt(a.Published),
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting article: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading article id: %w", err)
	}
	a.ID = id
	a.ContentType = contentType
	return nil
}

// GetArticle retrieves an article by ID.
// Returns ErrNotFound if the article doesn't exist.
func (s *SQLiteStore) GetArticle(ctx context.Context, id int64) (*Article, error) {
	query := `
		SELECT id, title, body, content_type, author, published, created_at, updated_at
		FROM articles
		WHERE id = ?
	`
	a, err := scanArticle(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying article: %w", err)
	}
	return a, nil
}

// ListArticles returns published nodes of contentType, newest first. The type
// filter runs in the query so offset and limit count only matching rows.
func (s *SQLiteStore) ListArticles(ctx context.Context, contentType string, offset, limit int) ([]*Article, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT id, title, body, content_type, author, published, created_at, updated_at
		FROM articles
		WHERE published = 1 AND content_type = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, contentType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying articles: %w", err)
	}
	defer rows.Close()

	var out []*Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning article: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating articles: %w", err)
	}
	return out, nil
}

// CountArticles returns the number of published articles.
func (s *SQLiteStore) CountArticles(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles WHERE published = 1`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting articles: %w", err)
	}
	return count, nil
}

// UpsertContentType inserts or replaces a content type.
func (s *SQLiteStore) UpsertContentType(ctx context.Context, ct *ContentType) error {
	query := `
		INSERT INTO content_types (id, label, description)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET label = excluded.label, description = excluded.description
	`
	if _, err := s.db.ExecContext(ctx, query, ct.ID, ct.Label, ct.Description); err != nil {
		return fmt.Errorf("upserting content type: %w", err)
	}
	return nil
}

// ListContentTypes returns all content types ordered by ID.
func (s *SQLiteStore) ListContentTypes(ctx context.Context) ([]*ContentType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, description FROM content_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying content types: %w", err)
	}
	defer rows.Close()

	var out []*ContentType
	for rows.Next() {
		var ct ContentType
		if err := rows.Scan(&ct.ID, &ct.Label, &ct.Description); err != nil {
			return nil, fmt.Errorf("scanning content type: %w", err)
		}
		out = append(out, &ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating content types: %w", err)
	}
	return out, nil
}

func scanArticle(row rowScanner) (*Article, error) {
	var a Article
	var published int
	var createdAt, updatedAt string
	if err := row.Scan(&a.ID, &a.Title, &a.Body, &a.ContentType, &a.Author, &published, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.Published = published != 0

	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
