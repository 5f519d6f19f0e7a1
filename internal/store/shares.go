package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateShare is returned when a (document, grantee) pair already
// has a share row. Duplicates are rejected, never upserted.
var ErrDuplicateShare = errors.New("document already shared with this user")

const shareColumns = `ds.id, ds.document_id, ds.shared_by, ds.shared_with, ds.permission_level, ds.created_at,
	COALESCE(p.email, ''), COALESCE(p.display_name, ''), COALESCE(p.avatar_url, '')`

func scanShare(row rowScanner) (Share, error) {
	var sh Share
	err := row.Scan(
		&sh.ID,
		&sh.DocumentID,
		&sh.SharedBy,
		&sh.SharedWith,
		&sh.PermissionLevel,
		&sh.CreatedAt,
		&sh.GranteeEmail,
		&sh.GranteeName,
		&sh.GranteeAvatar,
	)
	return sh, err
}

func (s *PostgresStore) InsertShare(ctx context.Context, sh Share) (Share, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO document_shares (id, document_id, shared_by, shared_with, permission_level)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, document_id, shared_by, shared_with, permission_level, created_at
		)
		SELECT ds.id, ds.document_id, ds.shared_by, ds.shared_with, ds.permission_level, ds.created_at,
			COALESCE(p.email, ''), COALESCE(p.display_name, ''), COALESCE(p.avatar_url, '')
		FROM inserted ds
		LEFT JOIN profiles p ON p.id = ds.shared_with
	`, sh.ID, sh.DocumentID, sh.SharedBy, sh.SharedWith, sh.PermissionLevel)
	inserted, err := scanShare(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Share{}, ErrDuplicateShare
		}
		return Share{}, fmt.Errorf("insert share: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetShare(ctx context.Context, shareID string) (Share, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shareColumns+`
		FROM document_shares ds
		LEFT JOIN profiles p ON p.id = ds.shared_with
		WHERE ds.id=$1
	`, shareID)
	return scanShare(row)
}

func (s *PostgresStore) ListShares(ctx context.Context, documentID string) ([]Share, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shareColumns+`
		FROM document_shares ds
		LEFT JOIN profiles p ON p.id = ds.shared_with
		WHERE ds.document_id=$1
		ORDER BY ds.created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	items := make([]Share, 0)
	for rows.Next() {
		sh, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		items = append(items, sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return items, nil
}

// GetShareLevel is the explicit-grant lookup used by the permission
// resolver. Absence of a row is ("", nil), not an error.
func (s *PostgresStore) GetShareLevel(ctx context.Context, documentID, userID string) (string, error) {
	var level string
	err := s.db.QueryRowContext(ctx, `
		SELECT permission_level FROM document_shares
		WHERE document_id=$1 AND shared_with=$2
	`, documentID, userID).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get share level: %w", err)
	}
	return level, nil
}

// GetShareLevels resolves explicit grants for one user across many
// documents in a single query.
func (s *PostgresStore) GetShareLevels(ctx context.Context, documentIDs []string, userID string) (map[string]string, error) {
	if len(documentIDs) == 0 {
		return map[string]string{}, nil
	}
	placeholders, args := inArgs(documentIDs, 2)
	args = append([]any{userID}, args...)
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, permission_level FROM document_shares
		WHERE shared_with=$1 AND document_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("get share levels: %w", err)
	}
	defer rows.Close()

	levels := make(map[string]string)
	for rows.Next() {
		var documentID, level string
		if err := rows.Scan(&documentID, &level); err != nil {
			return nil, fmt.Errorf("scan share level: %w", err)
		}
		levels[documentID] = level
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate share levels: %w", err)
	}
	return levels, nil
}

func (s *PostgresStore) UpdateShareLevel(ctx context.Context, shareID, level string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE document_shares SET permission_level=$2 WHERE id=$1
	`, shareID, level)
	if err != nil {
		return false, fmt.Errorf("update share level: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update share level rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteShare(ctx context.Context, shareID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM document_shares WHERE id=$1`, shareID)
	if err != nil {
		return false, fmt.Errorf("delete share: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete share rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteSharesByDocument revokes every share on a document and reports
// how many rows went away.
func (s *PostgresStore) DeleteSharesByDocument(ctx context.Context, documentID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM document_shares WHERE document_id=$1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete document shares: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete document shares rows: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) SharingStats(ctx context.Context, documentID string) (SharingStats, error) {
	var stats SharingStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(ds.id),
			COUNT(ds.id) FILTER (WHERE ds.permission_level='view'),
			COUNT(ds.id) FILTER (WHERE ds.permission_level='comment'),
			COUNT(ds.id) FILTER (WHERE ds.permission_level='edit'),
			d.is_public,
			d.shared_at
		FROM documents d
		LEFT JOIN document_shares ds ON ds.document_id = d.id
		WHERE d.id=$1
		GROUP BY d.id
	`, documentID).Scan(
		&stats.TotalShares,
		&stats.ViewShares,
		&stats.CommentShares,
		&stats.EditShares,
		&stats.IsPublic,
		&stats.SharedAt,
	)
	if err != nil {
		return SharingStats{}, err
	}
	return stats, nil
}
