package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/codeshelf/internal/apperror"
	"github.com/sakif/codeshelf/internal/live"
	"github.com/sakif/codeshelf/internal/model"
	"github.com/sakif/codeshelf/internal/query"
	"github.com/sakif/codeshelf/internal/repository"
)

var _ repository.SnippetRepository = (*DB)(nil)

const snippetColumns = `id, title, description, code, language, framework, tags,
	is_public, author, user_id, created_at, updated_at, rating, num_ratings`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSnippet reads one row selected with snippetColumns.
//
// NULLABLE COLUMNS:
// framework, tags and created_at can be NULL, so they are scanned through
// sql.Null* wrappers first. A NULL or malformed tags column becomes an empty
// slice: readers never see nil tags.
func scanSnippet(row rowScanner) (model.Snippet, error) {
	var (
		s         model.Snippet
		framework sql.NullString
		tags      sql.NullString
		createdAt sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.Title, &s.Description, &s.Code, &s.Language,
		&framework, &tags, &s.IsPublic, &s.Author, &s.UserID,
		&createdAt, &s.UpdatedAt, &s.Rating, &s.NumRatings,
	)
	if err != nil {
		return s, err
	}

	if framework.Valid {
		f := framework.String
		s.Framework = &f
	}
	if createdAt.Valid {
		t := createdAt.Time
		s.CreatedAt = &t
	}
	s.Tags = []string{}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &s.Tags); err != nil || s.Tags == nil {
			s.Tags = []string{}
		}
	}
	return s, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullableFramework(f *string) any {
	if f == nil {
		return nil
	}
	return *f
}

// Create inserts a new snippet.
//
// The store owns id, createdAt, updatedAt and the rating counters: whatever
// the caller put there is overwritten. The caller's struct is updated in
// place so it can read the generated ID.
func (db *DB) Create(ctx context.Context, snippet *model.Snippet) error {
	now := db.now().UTC()
	snippet.ID = xid.New().String()
	snippet.CreatedAt = &now
	snippet.UpdatedAt = now
	snippet.Rating = 0
	snippet.NumRatings = 0
	if snippet.Tags == nil {
		snippet.Tags = []string{}
	}

	tags, err := encodeTags(snippet.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperror.StoreFailure("sqlite: creating snippet", err)
	}
	defer db.rollback(tx)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snippets (`+snippetColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snippet.ID,
		snippet.Title,
		snippet.Description,
		snippet.Code,
		snippet.Language,
		nullableFramework(snippet.Framework),
		tags,
		snippet.IsPublic,
		snippet.Author,
		snippet.UserID,
		now,
		now,
		0.0,
		0,
	)
	if err != nil {
		return apperror.StoreFailure("sqlite: creating snippet", err)
	}

	if err := adjustFacets(ctx, tx, snippet, +1); err != nil {
		return apperror.StoreFailure("sqlite: indexing snippet facets", err)
	}

	if err := tx.Commit(); err != nil {
		return apperror.StoreFailure("sqlite: committing snippet", err)
	}

	created := *snippet
	db.publish(live.Change{Kind: live.Created, ID: snippet.ID, After: &created})
	return nil
}

// GetByID retrieves a single snippet by its ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Snippet, error) {
	s, err := scanSnippet(db.conn.QueryRowContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, apperror.StoreFailure(fmt.Sprintf("sqlite: getting snippet %s", id), err)
	}
	return &s, nil
}

// buildFind turns a descriptor into SQL. Conditions come out in composition
// order and are ANDed; tag membership is an EXISTS over json_each.
//
// ORDER BY created_at DESC puts NULL created_at rows last, because SQLite
// sorts NULL as the smallest value.
func buildFind(d query.Descriptor) (string, []any) {
	var (
		where []string
		args  []any
	)
	for _, c := range d.Conditions() {
		switch c.Field {
		case query.FieldLanguage:
			where = append(where, "language = ?")
		case query.FieldFramework:
			where = append(where, "framework = ?")
		case query.FieldTag:
			where = append(where, "EXISTS (SELECT 1 FROM json_each(snippets.tags) WHERE json_each.value = ?)")
		default:
			continue
		}
		args = append(args, c.Value)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + snippetColumns + ` FROM snippets`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ?")
	args = append(args, d.Limit())
	return sb.String(), args
}

// Find executes a descriptor once.
func (db *DB) Find(ctx context.Context, d query.Descriptor) ([]model.Snippet, error) {
	stmt, args := buildFind(d)

	rows, err := db.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, apperror.StoreFailure("sqlite: listing snippets", err)
	}
	defer rows.Close()

	snippets := make([]model.Snippet, 0, d.Limit())
	for rows.Next() {
		s, err := scanSnippet(rows)
		if err != nil {
			return nil, apperror.StoreFailure("sqlite: scanning snippet row", err)
		}
		snippets = append(snippets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.StoreFailure("sqlite: iterating snippets", err)
	}

	return snippets, nil
}

// Update merges patch into an existing snippet.
//
// READ-MODIFY-WRITE IN ONE TRANSACTION:
// The old row is needed twice: to merge the patch and to take its facet
// values out of the index. Doing both inside one transaction keeps the
// facets table consistent with the row that was actually replaced.
//
// updatedAt must strictly increase even when two updates land inside the
// same clock tick, so it is bumped by 1ns past the previous value when needed.
func (db *DB) Update(ctx context.Context, id string, patch model.SnippetPatch) (*model.Snippet, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperror.StoreFailure("sqlite: updating snippet", err)
	}
	defer db.rollback(tx)

	before, err := scanSnippet(tx.QueryRowContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("snippet", id)
		}
		return nil, apperror.StoreFailure(fmt.Sprintf("sqlite: loading snippet %s", id), err)
	}

	after := before
	after.Tags = append([]string{}, before.Tags...)
	patch.Apply(&after)

	now := db.now().UTC()
	if !now.After(before.UpdatedAt) {
		now = before.UpdatedAt.Add(1)
	}
	after.UpdatedAt = now

	tags, err := encodeTags(after.Tags)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE snippets
		 SET title = ?, description = ?, code = ?, language = ?, framework = ?,
		     tags = ?, is_public = ?, updated_at = ?
		 WHERE id = ?`,
		after.Title,
		after.Description,
		after.Code,
		after.Language,
		nullableFramework(after.Framework),
		tags,
		after.IsPublic,
		after.UpdatedAt,
		id,
	)
	if err != nil {
		return nil, apperror.StoreFailure(fmt.Sprintf("sqlite: updating snippet %s", id), err)
	}

	if err := adjustFacets(ctx, tx, &before, -1); err != nil {
		return nil, apperror.StoreFailure("sqlite: unindexing snippet facets", err)
	}
	if err := adjustFacets(ctx, tx, &after, +1); err != nil {
		return nil, apperror.StoreFailure("sqlite: indexing snippet facets", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperror.StoreFailure("sqlite: committing snippet update", err)
	}

	published := after
	db.publish(live.Change{Kind: live.Updated, ID: id, Before: &before, After: &published})
	return &after, nil
}

// Delete removes a snippet. A missing id is a successful no-op and publishes
// nothing.
func (db *DB) Delete(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperror.StoreFailure("sqlite: deleting snippet", err)
	}
	defer db.rollback(tx)

	before, err := scanSnippet(tx.QueryRowContext(ctx,
		`SELECT `+snippetColumns+` FROM snippets WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return apperror.StoreFailure(fmt.Sprintf("sqlite: loading snippet %s", id), err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM snippets WHERE id = ?`, id); err != nil {
		return apperror.StoreFailure(fmt.Sprintf("sqlite: deleting snippet %s", id), err)
	}

	if err := adjustFacets(ctx, tx, &before, -1); err != nil {
		return apperror.StoreFailure("sqlite: unindexing snippet facets", err)
	}

	if err := tx.Commit(); err != nil {
		return apperror.StoreFailure("sqlite: committing snippet delete", err)
	}

	db.publish(live.Change{Kind: live.Deleted, ID: id, Before: &before})
	return nil
}
