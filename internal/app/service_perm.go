package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"deepwaters/api/internal/perm"
)

// DocumentPermission resolves the effective permission level a user
// holds on a document: ownership first, then an explicit share, then
// the public flag. A missing document or absent grant is LevelNone,
// never an error; only connectivity failures propagate, and callers
// treat those as no access.
func (s *Service) DocumentPermission(ctx context.Context, documentID, userID string) (perm.Level, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return perm.LevelNone, nil
		}
		return perm.LevelNone, err
	}

	if doc.OwnerID == userID {
		return perm.LevelOwner, nil
	}

	level, err := s.store.GetShareLevel(ctx, documentID, userID)
	if err != nil {
		return perm.LevelNone, err
	}
	if level != "" {
		return perm.Level(level), nil
	}

	if doc.IsPublic {
		return perm.LevelView, nil
	}

	return perm.LevelNone, nil
}

// BulkDocumentPermissions resolves permission levels for many documents
// in exactly three queries regardless of input size.
func (s *Service) BulkDocumentPermissions(ctx context.Context, documentIDs []string, userID string) (map[string]perm.Level, error) {
	levels := make(map[string]perm.Level, len(documentIDs))
	if len(documentIDs) == 0 {
		return levels, nil
	}

	owners, err := s.store.GetDocumentOwners(ctx, documentIDs)
	if err != nil {
		return nil, err
	}
	shares, err := s.store.GetShareLevels(ctx, documentIDs, userID)
	if err != nil {
		return nil, err
	}
	public, err := s.store.GetPublicDocumentIDs(ctx, documentIDs)
	if err != nil {
		return nil, err
	}

	for _, id := range documentIDs {
		owner, exists := owners[id]
		switch {
		case !exists:
			levels[id] = perm.LevelNone
		case owner == userID:
			levels[id] = perm.LevelOwner
		case shares[id] != "":
			levels[id] = perm.Level(shares[id])
		case public[id]:
			levels[id] = perm.LevelView
		default:
			levels[id] = perm.LevelNone
		}
	}
	return levels, nil
}

// requireDocumentPermission resolves the user's level and fails with a
// DomainError when it does not meet the requirement. A document that
// does not exist surfaces as 404 for users with no path to it.
func (s *Service) requireDocumentPermission(ctx context.Context, documentID, userID string, required perm.Level) (perm.Level, error) {
	level, err := s.DocumentPermission(ctx, documentID, userID)
	if err != nil {
		return perm.LevelNone, err
	}
	if !perm.Has(level, required) {
		if level == perm.LevelNone {
			if _, err := s.store.GetDocument(ctx, documentID); errors.Is(err, sql.ErrNoRows) {
				return perm.LevelNone, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
			}
		}
		return perm.LevelNone, domainError(http.StatusForbidden, "FORBIDDEN", "Insufficient permission", map[string]any{
			"required": string(required),
		})
	}
	return level, nil
}
