package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"

	"deepwaters/api/internal/store"
)

func shareTestStore() *fakeStore {
	return &fakeStore{
		getDocumentFn: docFixture("doc-1", "owner-1", false),
		getProfileByEmailFn: func(_ context.Context, email string) (store.Profile, error) {
			switch email {
			case "grantee@example.com":
				return store.Profile{ID: "grantee-1", Email: email, DisplayName: "Grantee"}, nil
			case "owner@example.com":
				return store.Profile{ID: "owner-1", Email: email, DisplayName: "Owner"}, nil
			default:
				return store.Profile{}, sql.ErrNoRows
			}
		},
	}
}

func TestShareDocumentSuccess(t *testing.T) {
	fs := shareTestStore()
	var inserted store.Share
	fs.insertShareFn = func(_ context.Context, sh store.Share) (store.Share, error) {
		inserted = sh
		return sh, nil
	}
	svc := newTestService(fs)

	share, err := svc.ShareDocument(context.Background(), "doc-1", "owner-1", "grantee@example.com", "comment")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if share.SharedWith != "grantee-1" || share.PermissionLevel != "comment" {
		t.Fatalf("unexpected share: %+v", share)
	}
	if inserted.SharedBy != "owner-1" {
		t.Fatalf("expected sharedBy owner-1, got %q", inserted.SharedBy)
	}
}

func TestShareDocumentDuplicateIsConflict(t *testing.T) {
	fs := shareTestStore()
	fs.insertShareFn = func(context.Context, store.Share) (store.Share, error) {
		return store.Share{}, store.ErrDuplicateShare
	}
	svc := newTestService(fs)

	_, err := svc.ShareDocument(context.Background(), "doc-1", "owner-1", "grantee@example.com", "view")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != http.StatusConflict || domainErr.Code != "DUPLICATE_SHARE" {
		t.Fatalf("expected 409 DUPLICATE_SHARE, got %d %s", domainErr.Status, domainErr.Code)
	}
}

func TestShareDocumentUnknownUserIs404(t *testing.T) {
	svc := newTestService(shareTestStore())

	_, err := svc.ShareDocument(context.Background(), "doc-1", "owner-1", "nobody@example.com", "view")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "USER_NOT_FOUND" {
		t.Fatalf("expected USER_NOT_FOUND, got %s", domainErr.Code)
	}
}

func TestShareDocumentWithOwnerIsRejected(t *testing.T) {
	svc := newTestService(shareTestStore())

	_, err := svc.ShareDocument(context.Background(), "doc-1", "owner-1", "owner@example.com", "view")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", domainErr.Status)
	}
}

func TestShareDocumentInvalidLevelIsRejected(t *testing.T) {
	svc := newTestService(shareTestStore())

	_, err := svc.ShareDocument(context.Background(), "doc-1", "owner-1", "grantee@example.com", "admin")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}
}

func TestShareDocumentRequiresEditPermission(t *testing.T) {
	fs := shareTestStore()
	fs.getShareLevelFn = func(context.Context, string, string) (string, error) {
		return "view", nil
	}
	svc := newTestService(fs)

	_, err := svc.ShareDocument(context.Background(), "doc-1", "viewer-1", "grantee@example.com", "view")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", domainErr.Status)
	}
}

func TestBulkShareDocumentIsolatesFailures(t *testing.T) {
	fs := shareTestStore()
	permissionChecks := 0
	fs.getShareLevelFn = func(_ context.Context, documentID, userID string) (string, error) {
		permissionChecks++
		return "", nil
	}
	fs.getProfileByEmailFn = func(_ context.Context, email string) (store.Profile, error) {
		switch email {
		case "a@example.com":
			return store.Profile{ID: "user-a", Email: email, DisplayName: "A"}, nil
		case "b@example.com":
			return store.Profile{ID: "user-b", Email: email, DisplayName: "B"}, nil
		default:
			return store.Profile{}, sql.ErrNoRows
		}
	}
	svc := newTestService(fs)

	result, err := svc.BulkShareDocument(context.Background(), "doc-1", "owner-1", []ShareInvitation{
		{Email: "a@example.com", Level: "view"},
		{Email: "not-an-email", Level: "view"},
		{Email: "b@example.com", Level: "edit"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Success) != 2 {
		t.Fatalf("expected 2 successes, got %d", len(result.Success))
	}
	if len(result.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(result.Failed))
	}
	if result.Failed[0].Email != "not-an-email" {
		t.Fatalf("expected the invalid email to fail, got %+v", result.Failed[0])
	}
	// Owner path short-circuits before share lookup, so no per-item
	// permission queries should have run.
	if permissionChecks != 0 {
		t.Fatalf("expected no share-level lookups for the owner, got %d", permissionChecks)
	}
}

func TestBulkShareDocumentChecksPermissionOnce(t *testing.T) {
	fs := shareTestStore()
	lookups := 0
	fs.getShareLevelFn = func(_ context.Context, documentID, userID string) (string, error) {
		if userID == "editor-1" {
			lookups++
			return "edit", nil
		}
		return "", nil
	}
	fs.getProfileByEmailFn = func(_ context.Context, email string) (store.Profile, error) {
		return store.Profile{ID: "profile-" + email, Email: email, DisplayName: email}, nil
	}
	svc := newTestService(fs)

	_, err := svc.BulkShareDocument(context.Background(), "doc-1", "editor-1", []ShareInvitation{
		{Email: "a@example.com", Level: "view"},
		{Email: "b@example.com", Level: "view"},
		{Email: "c@example.com", Level: "view"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lookups != 1 {
		t.Fatalf("expected one permission check for the whole batch, got %d", lookups)
	}
}

func TestRemoveAllSharesOwnerOnly(t *testing.T) {
	fs := shareTestStore()
	fs.deleteSharesByDocumentFn = func(context.Context, string) (int, error) {
		return 3, nil
	}
	fs.getShareLevelFn = func(_ context.Context, documentID, userID string) (string, error) {
		if userID == "editor-1" {
			return "edit", nil
		}
		return "", nil
	}
	svc := newTestService(fs)

	removed, err := svc.RemoveAllShares(context.Background(), "doc-1", "owner-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}

	_, err = svc.RemoveAllShares(context.Background(), "doc-1", "editor-1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError for non-owner, got %v", err)
	}
	if domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d", domainErr.Status)
	}
}

func TestUpdateShareAuthorizedByParentDocument(t *testing.T) {
	fs := shareTestStore()
	fs.getShareFn = func(_ context.Context, shareID string) (store.Share, error) {
		return store.Share{ID: shareID, DocumentID: "doc-1", SharedWith: "grantee-1", PermissionLevel: "view"}, nil
	}
	updatedLevel := ""
	fs.updateShareLevelFn = func(_ context.Context, shareID, level string) (bool, error) {
		updatedLevel = level
		return true, nil
	}
	svc := newTestService(fs)

	if _, err := svc.UpdateShare(context.Background(), "shr-1", "owner-1", "edit"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updatedLevel != "edit" {
		t.Fatalf("expected level edit, got %q", updatedLevel)
	}

	_, err := svc.UpdateShare(context.Background(), "shr-1", "stranger-1", "edit")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError for stranger, got %v", err)
	}
}
