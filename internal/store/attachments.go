package store

import (
	"context"
	"fmt"
)

const attachmentColumns = `id, document_id, owner_id, object_key, file_name, content_type, size_bytes, extracted_text, created_at`

func scanAttachment(row rowScanner) (Attachment, error) {
	var a Attachment
	err := row.Scan(
		&a.ID,
		&a.DocumentID,
		&a.OwnerID,
		&a.ObjectKey,
		&a.FileName,
		&a.ContentType,
		&a.SizeBytes,
		&a.ExtractedText,
		&a.CreatedAt,
	)
	return a, err
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, a Attachment) (Attachment, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO attachments (id, document_id, owner_id, object_key, file_name, content_type, size_bytes, extracted_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+attachmentColumns+`
	`, a.ID, a.DocumentID, a.OwnerID, a.ObjectKey, a.FileName, a.ContentType, a.SizeBytes, a.ExtractedText)
	inserted, err := scanAttachment(row)
	if err != nil {
		return Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id=$1`, attachmentID)
	return scanAttachment(row)
}

func (s *PostgresStore) ListAttachmentsByDocument(ctx context.Context, documentID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attachmentColumns+` FROM attachments WHERE document_id=$1 ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()
	items := make([]Attachment, 0)
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id=$1`, attachmentID)
	if err != nil {
		return false, fmt.Errorf("delete attachment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete attachment rows: %w", err)
	}
	return affected > 0, nil
}
