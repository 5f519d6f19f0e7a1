package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgLike implements Searcher using PostgreSQL ILIKE matching as a
// fallback. Substring semantics match the primary backend closely
// enough that callers see the same results for simple queries.
type PgLike struct {
	db *sql.DB
}

// NewPgLike creates a PostgreSQL fallback searcher.
func NewPgLike(db *sql.DB) *PgLike {
	return &PgLike{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgLike) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across documents and comments.
func (p *PgLike) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + likeEscape(q.Text) + "%"
	args := []any{pattern}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := `(d.title ILIKE $1 ESCAPE '\' OR d.content ILIKE $1 ESCAPE '\')`
		if q.FilterOwnerID != "" {
			docWhere += fmt.Sprintf(" AND d.owner_id = $%d", argN)
			args = append(args, q.FilterOwnerID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				left(d.content, 200) AS snippet,
				d.id AS document_id, d.owner_id,
				false AS resolved,
				d.updated_at AS sort_key
			FROM documents d
			WHERE %s`, docWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		commentWhere := `c.content ILIKE $1 ESCAPE '\'`
		if q.FilterDocumentID != "" {
			commentWhere += fmt.Sprintf(" AND c.document_id = $%d", argN)
			args = append(args, q.FilterDocumentID)
			argN++
		}
		if q.FilterViewerID != "" {
			commentWhere += fmt.Sprintf(` AND EXISTS (
				SELECT 1 FROM documents pd
				WHERE pd.id = c.document_id
					AND (pd.owner_id = $%d OR pd.is_public OR EXISTS (
						SELECT 1 FROM document_shares ps
						WHERE ps.document_id = pd.id AND ps.shared_with = $%d)))`, argN, argN)
			args = append(args, q.FilterViewerID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, ''::text AS title,
				left(c.content, 200) AS snippet,
				c.document_id, c.user_id AS owner_id,
				c.is_resolved AS resolved,
				c.updated_at AS sort_key
			FROM document_comments c
			WHERE %s`, commentWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, owner_id, resolved
		FROM (%s) sub
		ORDER BY sort_key DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pglike count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pglike query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.OwnerID, &r.Resolved); err != nil {
			return nil, 0, fmt.Errorf("pglike scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgLike) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []CommentRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, owner_id, content_type, is_public
		FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title, &d.Content, &d.OwnerID, &d.ContentType, &d.IsPublic); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT id, content, document_id, user_id, is_resolved
		FROM document_comments
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Content, &c.DocumentID, &c.UserID, &c.IsResolved); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return documents, comments, nil
}

func likeEscape(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
