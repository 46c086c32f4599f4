package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/codeshelf/internal/apperror"
	"github.com/sakif/codeshelf/internal/model"
	"github.com/sakif/codeshelf/internal/repository"
)

// facetValues lists what a snippet contributes to the index. Each value
// counts once per snippet, so duplicate tags on one snippet do not inflate
// the count. Empty strings are not indexed.
func facetValues(s *model.Snippet) map[repository.FacetKind][]string {
	out := make(map[repository.FacetKind][]string, 3)
	if s.Language != "" {
		out[repository.FacetLanguage] = []string{s.Language}
	}
	if s.Framework != nil && *s.Framework != "" {
		out[repository.FacetFramework] = []string{*s.Framework}
	}
	seen := make(map[string]struct{}, len(s.Tags))
	for _, t := range s.Tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out[repository.FacetTag] = append(out[repository.FacetTag], t)
	}
	return out
}

// adjustFacets adds delta to every facet value of s. Rows that reach zero
// are removed, so the index only ever holds values some snippet still uses.
func adjustFacets(ctx context.Context, tx *sql.Tx, s *model.Snippet, delta int) error {
	for kind, values := range facetValues(s) {
		for _, v := range values {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO facets (kind, value, count) VALUES (?, ?, ?)
				 ON CONFLICT(kind, value) DO UPDATE SET count = count + excluded.count`,
				string(kind), v, delta,
			); err != nil {
				return fmt.Errorf("adjusting facet %s=%q: %w", kind, v, err)
			}
		}
	}
	if delta < 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM facets WHERE count <= 0`); err != nil {
			return fmt.Errorf("pruning facets: %w", err)
		}
	}
	return nil
}

// Facets returns the distinct values of one kind from the index, in
// ascending byte order ("Go" < "Rust" < "go").
func (db *DB) Facets(ctx context.Context, kind repository.FacetKind) ([]string, error) {
	return db.strings(ctx, fmt.Sprintf("sqlite: reading %s facets", kind),
		`SELECT value FROM facets WHERE kind = ? AND count > 0 ORDER BY value`,
		string(kind),
	)
}

// scanQueries derive each facet kind from the snippets table directly.
var scanQueries = map[repository.FacetKind]string{
	repository.FacetLanguage: `SELECT DISTINCT language FROM snippets
		WHERE language != '' ORDER BY language`,
	repository.FacetFramework: `SELECT DISTINCT framework FROM snippets
		WHERE framework IS NOT NULL AND framework != '' ORDER BY framework`,
	repository.FacetTag: `SELECT DISTINCT j.value FROM snippets, json_each(snippets.tags) AS j
		WHERE j.type = 'text' AND j.value != '' ORDER BY j.value`,
}

// ScanFacets computes distinct values by scanning every snippet.
func (db *DB) ScanFacets(ctx context.Context, kind repository.FacetKind) ([]string, error) {
	q, ok := scanQueries[kind]
	if !ok {
		return nil, apperror.ValidationFailed("kind", fmt.Sprintf("unknown facet kind %q", kind))
	}
	return db.strings(ctx, fmt.Sprintf("sqlite: scanning %s facets", kind), q)
}

// RebuildFacets recomputes the whole index from the snippets table in one
// transaction.
func (db *DB) RebuildFacets(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperror.StoreFailure("sqlite: rebuilding facets", err)
	}
	defer db.rollback(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM facets`); err != nil {
		return apperror.StoreFailure("sqlite: clearing facets", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+snippetColumns+` FROM snippets`)
	if err != nil {
		return apperror.StoreFailure("sqlite: scanning snippets", err)
	}
	var all []model.Snippet
	for rows.Next() {
		s, err := scanSnippet(rows)
		if err != nil {
			rows.Close()
			return apperror.StoreFailure("sqlite: scanning snippet row", err)
		}
		all = append(all, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperror.StoreFailure("sqlite: iterating snippets", err)
	}

	for i := range all {
		if err := adjustFacets(ctx, tx, &all[i], +1); err != nil {
			return apperror.StoreFailure("sqlite: indexing snippet facets", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperror.StoreFailure("sqlite: committing facet rebuild", err)
	}
	db.logger.Info("facets rebuilt", "snippets", len(all))
	return nil
}

func (db *DB) strings(ctx context.Context, op, q string, args ...any) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperror.StoreFailure(op, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, apperror.StoreFailure(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.StoreFailure(op, err)
	}
	return out, nil
}
