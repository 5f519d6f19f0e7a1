package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/mail"
	"strings"

	"deepwaters/api/internal/perm"
	"deepwaters/api/internal/store"
	"deepwaters/api/internal/util"
)

type ShareInvitation struct {
	Email string `json:"email"`
	Level string `json:"permissionLevel"`
}

type ShareFailure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

type BulkShareResult struct {
	Success []store.Share  `json:"success"`
	Failed  []ShareFailure `json:"failed"`
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	return err == nil && addr.Address == strings.TrimSpace(email)
}

// ShareDocument grants one user a permission level on a document. The
// caller must hold edit or better. Sharing twice with the same grantee
// is a conflict, never an upsert.
func (s *Service) ShareDocument(ctx context.Context, documentID, actorID, granteeEmail, level string) (store.Share, error) {
	granteeEmail = strings.TrimSpace(granteeEmail)
	if !validEmail(granteeEmail) {
		return store.Share{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid email address", nil)
	}
	if !perm.Grantable(perm.Level(level)) {
		return store.Share{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "permission level must be one of view, comment, edit", nil)
	}

	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelEdit); err != nil {
		return store.Share{}, err
	}

	return s.shareWithEmail(ctx, documentID, actorID, granteeEmail, level)
}

// shareWithEmail inserts one grant. The caller has already validated
// the input and checked the actor's permission.
func (s *Service) shareWithEmail(ctx context.Context, documentID, actorID, granteeEmail, level string) (store.Share, error) {
	grantee, err := s.store.GetProfileByEmail(ctx, granteeEmail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Share{}, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No account with that email", nil)
		}
		return store.Share{}, err
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Share{}, err
	}
	if doc.OwnerID == grantee.ID {
		return store.Share{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "cannot share a document with its owner", nil)
	}

	share, err := s.store.InsertShare(ctx, store.Share{
		ID:              util.NewID("shr"),
		DocumentID:      documentID,
		SharedBy:        actorID,
		SharedWith:      grantee.ID,
		PermissionLevel: level,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateShare) {
			return store.Share{}, domainError(http.StatusConflict, "DUPLICATE_SHARE", "Document already shared with this user", nil)
		}
		return store.Share{}, err
	}

	s.notifyShare(ctx, doc, actorID, grantee, level)

	return share, nil
}

// notifyShare sends a best-effort invitation email. Failures are
// logged, never surfaced; the share already exists.
func (s *Service) notifyShare(ctx context.Context, doc store.Document, actorID string, grantee store.Profile, level string) {
	if !s.SMTPConfigured() {
		return
	}
	actor, err := s.store.GetProfileByID(ctx, actorID)
	if err != nil {
		log.Printf("share notify: lookup sharer %s: %v", actorID, err)
		return
	}
	documentURL := fmt.Sprintf("%s/documents/%s", strings.TrimRight(s.cfg.PublicBaseURL, "/"), doc.ID)
	if err := s.email.SendShareInvitationEmail(grantee.Email, grantee.DisplayName, actor.DisplayName, doc.Title, level, documentURL); err != nil {
		log.Printf("share notify: send to %s: %v", grantee.Email, err)
	}
}

// BulkShareDocument validates every invitation first, checks the
// actor's permission once, then inserts sequentially, isolating
// per-item failures. One bad invitee never blocks the rest.
func (s *Service) BulkShareDocument(ctx context.Context, documentID, actorID string, invitations []ShareInvitation) (BulkShareResult, error) {
	result := BulkShareResult{
		Success: []store.Share{},
		Failed:  []ShareFailure{},
	}

	valid := make([]ShareInvitation, 0, len(invitations))
	for _, inv := range invitations {
		inv.Email = strings.TrimSpace(inv.Email)
		switch {
		case !validEmail(inv.Email):
			result.Failed = append(result.Failed, ShareFailure{Email: inv.Email, Error: "invalid email address"})
		case !perm.Grantable(perm.Level(inv.Level)):
			result.Failed = append(result.Failed, ShareFailure{Email: inv.Email, Error: "invalid permission level"})
		default:
			valid = append(valid, inv)
		}
	}

	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelEdit); err != nil {
		return BulkShareResult{}, err
	}

	for _, inv := range valid {
		share, err := s.shareWithEmail(ctx, documentID, actorID, inv.Email, inv.Level)
		if err != nil {
			result.Failed = append(result.Failed, ShareFailure{Email: inv.Email, Error: shareFailureMessage(err)})
			continue
		}
		result.Success = append(result.Success, share)
	}

	return result, nil
}

func shareFailureMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return "share failed"
}

// UpdateShare changes an existing grant's level. Authorization comes
// from the parent document, not the share row.
func (s *Service) UpdateShare(ctx context.Context, shareID, actorID, level string) (store.Share, error) {
	if !perm.Grantable(perm.Level(level)) {
		return store.Share{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "permission level must be one of view, comment, edit", nil)
	}

	share, err := s.store.GetShare(ctx, shareID)
	if err != nil {
		return store.Share{}, err
	}
	if _, err := s.requireDocumentPermission(ctx, share.DocumentID, actorID, perm.LevelEdit); err != nil {
		return store.Share{}, err
	}

	updated, err := s.store.UpdateShareLevel(ctx, shareID, level)
	if err != nil {
		return store.Share{}, err
	}
	if !updated {
		return store.Share{}, sql.ErrNoRows
	}
	return s.store.GetShare(ctx, shareID)
}

// RemoveShare revokes one grant.
func (s *Service) RemoveShare(ctx context.Context, shareID, actorID string) error {
	share, err := s.store.GetShare(ctx, shareID)
	if err != nil {
		return err
	}
	if _, err := s.requireDocumentPermission(ctx, share.DocumentID, actorID, perm.LevelEdit); err != nil {
		return err
	}

	deleted, err := s.store.DeleteShare(ctx, shareID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	return nil
}

// RemoveAllShares revokes every grant on a document. Owner only.
func (s *Service) RemoveAllShares(ctx context.Context, documentID, actorID string) (int, error) {
	level, err := s.DocumentPermission(ctx, documentID, actorID)
	if err != nil {
		return 0, err
	}
	if level != perm.LevelOwner {
		return 0, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can revoke all shares", nil)
	}
	return s.store.DeleteSharesByDocument(ctx, documentID)
}

// ListShares returns a document's grants decorated with grantee profiles.
func (s *Service) ListShares(ctx context.Context, documentID, actorID string) ([]store.Share, error) {
	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelView); err != nil {
		return nil, err
	}
	return s.store.ListShares(ctx, documentID)
}

// DocumentSharingStats aggregates per-level counts plus public state.
func (s *Service) DocumentSharingStats(ctx context.Context, documentID, actorID string) (store.SharingStats, error) {
	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelView); err != nil {
		return store.SharingStats{}, err
	}
	return s.store.SharingStats(ctx, documentID)
}
