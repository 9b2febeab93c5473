package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"formvault/api/internal/forms"
)

// PgFTS answers admin queries from the forms table's generated tsvector
// column when Meilisearch is not available.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Search runs a ranked full-text query scoped to the given DBCs and states.
func (p *PgFTS) Search(ctx context.Context, text string, dbcs []string, states []string, limit, offset int) ([]forms.SearchHit, int, error) {
	if strings.TrimSpace(text) == "" {
		return nil, 0, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	args := []any{text}
	where := "f.fts @@ plainto_tsquery('english', $1)"
	where += " AND f.designated_body_code IN (" + placeholderList(len(args)+1, len(dbcs)) + ")"
	for _, dbc := range dbcs {
		args = append(args, dbc)
	}
	where += " AND f.lifecycle_state IN (" + placeholderList(len(args)+1, len(states)) + ")"
	for _, state := range states {
		args = append(args, state)
	}

	query := fmt.Sprintf(`
		SELECT f.id, f.form_type,
			ts_headline('english', coalesce(f.search_text, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			COUNT(*) OVER() AS total
		FROM forms f
		WHERE %s
		ORDER BY ts_rank(f.fts, plainto_tsquery('english', $1)) DESC, f.updated_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var (
		hits  []forms.SearchHit
		total int
	)
	for rows.Next() {
		var (
			hit      forms.SearchHit
			formType string
		)
		if err := rows.Scan(&hit.FormID, &formType, &hit.Snippet, &total); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		hit.Type = forms.Type(formType)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}
	return hits, total, nil
}

func placeholderList(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}
