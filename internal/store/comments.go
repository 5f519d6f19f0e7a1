package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

const commentColumns = `id, document_id, user_id, content, position_start, position_end, highlighted_text, parent_comment_id, is_resolved, created_at, updated_at`

func scanComment(row rowScanner) (Comment, error) {
	var c Comment
	err := row.Scan(
		&c.ID,
		&c.DocumentID,
		&c.UserID,
		&c.Content,
		&c.PositionStart,
		&c.PositionEnd,
		&c.HighlightedText,
		&c.ParentCommentID,
		&c.IsResolved,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func (s *PostgresStore) InsertComment(ctx context.Context, c Comment) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO document_comments (id, document_id, user_id, content, position_start, position_end, highlighted_text, parent_comment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+commentColumns+`
	`, c.ID, c.DocumentID, c.UserID, c.Content, c.PositionStart, c.PositionEnd, c.HighlightedText, c.ParentCommentID)
	inserted, err := scanComment(row)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM document_comments WHERE id=$1`, commentID)
	return scanComment(row)
}

// ListTopLevelComments returns the document's top-level comments
// matching the filter, oldest first.
func (s *PostgresStore) ListTopLevelComments(ctx context.Context, documentID string, filter CommentFilter) ([]Comment, error) {
	query := `
		SELECT ` + commentColumns + `
		FROM document_comments
		WHERE document_id=$1 AND parent_comment_id IS NULL`
	args := []any{documentID}

	if filter.Resolved != nil {
		args = append(args, *filter.Resolved)
		query += " AND is_resolved=$" + strconv.Itoa(len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += " AND user_id=$" + strconv.Itoa(len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += " AND created_at >= $" + strconv.Itoa(len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += " AND created_at <= $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list top-level comments: %w", err)
	}
	return collectComments(rows)
}

// ListRepliesByParentIDs fetches every reply under the given parents in
// one IN-style query, avoiding a round-trip per comment.
func (s *PostgresStore) ListRepliesByParentIDs(ctx context.Context, parentIDs []string) ([]Comment, error) {
	if len(parentIDs) == 0 {
		return []Comment{}, nil
	}
	placeholders, args := inArgs(parentIDs, 1)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM document_comments
		WHERE parent_comment_id IN (`+placeholders+`)
		ORDER BY created_at ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	return collectComments(rows)
}

func collectComments(rows *sql.Rows) ([]Comment, error) {
	defer rows.Close()
	items := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateCommentContent(ctx context.Context, commentID, content string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE document_comments SET content=$2, updated_at=NOW() WHERE id=$1
	`, commentID, content)
	if err != nil {
		return false, fmt.Errorf("update comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update comment rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SetCommentResolved(ctx context.Context, commentID string, resolved bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE document_comments SET is_resolved=$2, updated_at=NOW() WHERE id=$1
	`, commentID, resolved)
	if err != nil {
		return false, fmt.Errorf("set comment resolved: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set comment resolved rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteComment removes one comment row. Replies under a deleted
// top-level comment go away via the FK cascade, not application logic.
func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM document_comments WHERE id=$1`, commentID)
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete comment rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CommentStats(ctx context.Context, documentID string) (CommentStats, error) {
	var stats CommentStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_resolved AND parent_comment_id IS NULL),
			COUNT(*) FILTER (WHERE NOT is_resolved AND parent_comment_id IS NULL),
			COUNT(*) FILTER (WHERE parent_comment_id IS NOT NULL),
			COUNT(DISTINCT user_id)
		FROM document_comments
		WHERE document_id=$1
	`, documentID).Scan(
		&stats.Total,
		&stats.Resolved,
		&stats.Open,
		&stats.Replies,
		&stats.Participants,
	)
	if err != nil {
		return CommentStats{}, fmt.Errorf("comment stats: %w", err)
	}
	return stats, nil
}

// SearchComments is a case-insensitive substring match over content.
// Not ranked full-text search; a deliberate limitation.
func (s *PostgresStore) SearchComments(ctx context.Context, documentID, query string) ([]Comment, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM document_comments
		WHERE document_id=$1 AND content ILIKE $2 ESCAPE '\'
		ORDER BY created_at ASC
	`, documentID, pattern)
	if err != nil {
		return nil, fmt.Errorf("search comments: %w", err)
	}
	return collectComments(rows)
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
