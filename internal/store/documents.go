package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrFolderNotEmpty is returned by DeleteFolder when documents still
// reference the folder.
var ErrFolderNotEmpty = errors.New("folder is not empty")

const documentColumns = `id, owner_id, folder_id, title, content, content_type, is_public, share_token, shared_at, created_at, updated_at`

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	err := row.Scan(
		&d.ID,
		&d.OwnerID,
		&d.FolderID,
		&d.Title,
		&d.Content,
		&d.ContentType,
		&d.IsPublic,
		&d.ShareToken,
		&d.SharedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	return d, err
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID)
	return scanDocument(row)
}

func (s *PostgresStore) InsertDocument(ctx context.Context, d Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, owner_id, folder_id, title, content, content_type)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.OwnerID, d.FolderID, d.Title, d.Content, d.ContentType)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, documentID, title, content string, folderID *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, content=$3, folder_id=$4, updated_at=NOW()
		WHERE id=$1
	`, documentID, title, content, folderID)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE owner_id=$1
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return collectDocuments(rows)
}

// ListDocumentsSharedWith returns documents the user holds an explicit
// share on, newest grant first.
func (s *PostgresStore) ListDocumentsSharedWith(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.owner_id, d.folder_id, d.title, d.content, d.content_type, d.is_public, d.share_token, d.shared_at, d.created_at, d.updated_at
		FROM documents d
		JOIN document_shares ds ON ds.document_id = d.id
		WHERE ds.shared_with=$1
		ORDER BY ds.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list shared documents: %w", err)
	}
	return collectDocuments(rows)
}

func collectDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	items := make([]Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// GetDocumentOwners resolves owner ids for a batch of documents in one
// query. Missing documents are simply absent from the result map.
func (s *PostgresStore) GetDocumentOwners(ctx context.Context, documentIDs []string) (map[string]string, error) {
	if len(documentIDs) == 0 {
		return map[string]string{}, nil
	}
	placeholders, args := inArgs(documentIDs, 1)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id FROM documents WHERE id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("get document owners: %w", err)
	}
	defer rows.Close()

	owners := make(map[string]string, len(documentIDs))
	for rows.Next() {
		var id, ownerID string
		if err := rows.Scan(&id, &ownerID); err != nil {
			return nil, fmt.Errorf("scan document owner: %w", err)
		}
		owners[id] = ownerID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document owners: %w", err)
	}
	return owners, nil
}

// GetPublicDocumentIDs filters the given ids down to those currently
// public, in one query.
func (s *PostgresStore) GetPublicDocumentIDs(ctx context.Context, documentIDs []string) (map[string]bool, error) {
	if len(documentIDs) == 0 {
		return map[string]bool{}, nil
	}
	placeholders, args := inArgs(documentIDs, 1)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM documents WHERE is_public AND id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("get public documents: %w", err)
	}
	defer rows.Close()

	public := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan public document: %w", err)
		}
		public[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate public documents: %w", err)
	}
	return public, nil
}

// EnablePublicSharing flips a document public, minting the given token
// only when the row has never carried one. Returns the token in effect.
func (s *PostgresStore) EnablePublicSharing(ctx context.Context, documentID, freshToken string) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `
		UPDATE documents
		SET is_public=TRUE,
		    share_token=COALESCE(share_token, $2),
		    shared_at=NOW(),
		    updated_at=NOW()
		WHERE id=$1
		RETURNING share_token
	`, documentID, freshToken).Scan(&token)
	if err != nil {
		return "", fmt.Errorf("enable public sharing: %w", err)
	}
	return token, nil
}

// DisablePublicSharing clears the public flag. The share token is
// retained so re-enabling restores previously issued links; rotation is
// a separate explicit operation.
func (s *PostgresStore) DisablePublicSharing(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET is_public=FALSE, updated_at=NOW() WHERE id=$1
	`, documentID)
	if err != nil {
		return fmt.Errorf("disable public sharing: %w", err)
	}
	return nil
}

// RotateShareToken replaces the token, invalidating every link minted
// before the call.
func (s *PostgresStore) RotateShareToken(ctx context.Context, documentID, freshToken string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET share_token=$2, updated_at=NOW() WHERE id=$1
	`, documentID, freshToken)
	if err != nil {
		return fmt.Errorf("rotate share token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocumentByShareToken(ctx context.Context, token string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE is_public AND share_token=$1
	`, token)
	return scanDocument(row)
}

// CopyDocumentToWorkspace clones a document's content under a new owner
// in a single statement, so a concurrent edit to the source cannot be
// half-observed.
func (s *PostgresStore) CopyDocumentToWorkspace(ctx context.Context, documentID, newID, newOwnerID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, owner_id, title, content, content_type)
		SELECT $2, $3, 'Copy of ' || title, content, content_type
		FROM documents
		WHERE id=$1
		RETURNING `+documentColumns+`
	`, documentID, newID, newOwnerID)
	return scanDocument(row)
}

// Folders

func (s *PostgresStore) InsertFolder(ctx context.Context, f Folder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (id, owner_id, parent_id, name)
		VALUES ($1, $2, $3, $4)
	`, f.ID, f.OwnerID, f.ParentID, f.Name)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	var f Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, parent_id, name, created_at FROM folders WHERE id=$1
	`, folderID).Scan(&f.ID, &f.OwnerID, &f.ParentID, &f.Name, &f.CreatedAt)
	if err != nil {
		return Folder{}, err
	}
	return f, nil
}

func (s *PostgresStore) ListFoldersByOwner(ctx context.Context, ownerID string) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, parent_id, name, created_at
		FROM folders
		WHERE owner_id=$1
		ORDER BY name ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	items := make([]Folder, 0)
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.OwnerID, &f.ParentID, &f.Name, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RenameFolder(ctx context.Context, folderID, name string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE folders SET name=$2 WHERE id=$1`, folderID, name)
	if err != nil {
		return fmt.Errorf("rename folder: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteFolder(ctx context.Context, folderID string) error {
	var docCount int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE folder_id=$1`, folderID).Scan(&docCount); err != nil {
		return fmt.Errorf("count folder documents: %w", err)
	}
	if docCount > 0 {
		return fmt.Errorf("folder contains %d documents: %w", docCount, ErrFolderNotEmpty)
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM folders WHERE id=$1`, folderID)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	return nil
}

// Tags

func (s *PostgresStore) ReplaceDocumentTags(ctx context.Context, documentID string, tags []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tags tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_tags WHERE document_id=$1`, documentID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_tags (document_id, tag) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, documentID, tag); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tags: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocumentTags(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag FROM document_tags WHERE document_id=$1 ORDER BY tag ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	tags := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return tags, nil
}

// inArgs builds "$n, $n+1, ..." placeholders and the matching args slice.
func inArgs(ids []string, start int) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", start+i)
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}
