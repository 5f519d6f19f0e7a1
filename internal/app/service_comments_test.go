package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"testing"

	"deepwaters/api/internal/store"
)

func strPtr(s string) *string { return &s }

func commentTestStore() *fakeStore {
	return &fakeStore{
		getDocumentFn: docFixture("doc-1", "owner-1", false),
		getShareLevelFn: func(_ context.Context, documentID, userID string) (string, error) {
			switch userID {
			case "commenter-1":
				return "comment", nil
			case "editor-1":
				return "edit", nil
			case "viewer-1":
				return "view", nil
			default:
				return "", nil
			}
		},
	}
}

func TestDocumentCommentsGroupsRepliesUnderParents(t *testing.T) {
	fs := commentTestStore()
	topLevelQueries, replyQueries, profileQueries := 0, 0, 0
	fs.listTopLevelCommentsFn = func(_ context.Context, documentID string, _ store.CommentFilter) ([]store.Comment, error) {
		topLevelQueries++
		return []store.Comment{
			{ID: "cmt-1", DocumentID: documentID, UserID: "commenter-1", Content: "First thread"},
			{ID: "cmt-2", DocumentID: documentID, UserID: "editor-1", Content: "Second thread"},
		}, nil
	}
	fs.listRepliesByParentIDsFn = func(_ context.Context, parentIDs []string) ([]store.Comment, error) {
		replyQueries++
		if len(parentIDs) != 2 {
			t.Fatalf("expected reply lookup for 2 parents, got %v", parentIDs)
		}
		return []store.Comment{
			{ID: "cmt-3", DocumentID: "doc-1", UserID: "owner-1", Content: "Reply A", ParentCommentID: strPtr("cmt-1")},
			{ID: "cmt-4", DocumentID: "doc-1", UserID: "commenter-1", Content: "Reply B", ParentCommentID: strPtr("cmt-1")},
		}, nil
	}
	fs.listProfilesByIDsFn = func(_ context.Context, ids []string) ([]store.Profile, error) {
		profileQueries++
		profiles := make([]store.Profile, 0, len(ids))
		for _, id := range ids {
			profiles = append(profiles, store.Profile{ID: id, DisplayName: "Name " + id})
		}
		return profiles, nil
	}
	svc := newTestService(fs)

	comments, err := svc.DocumentComments(context.Background(), "doc-1", "viewer-1", store.CommentFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(comments) != 2 {
		t.Fatalf("expected 2 top-level comments, got %d", len(comments))
	}
	if len(comments[0].Replies) != 2 {
		t.Fatalf("expected 2 replies under cmt-1, got %d", len(comments[0].Replies))
	}
	if comments[1].Replies == nil || len(comments[1].Replies) != 0 {
		t.Fatalf("expected empty non-nil replies for cmt-2, got %v", comments[1].Replies)
	}
	if comments[0].Replies[0].Author.DisplayName != "Name owner-1" {
		t.Fatalf("expected decorated author, got %+v", comments[0].Replies[0].Author)
	}

	if topLevelQueries != 1 || replyQueries != 1 || profileQueries != 1 {
		t.Fatalf("expected 1 query per source, got topLevel=%d replies=%d profiles=%d",
			topLevelQueries, replyQueries, profileQueries)
	}
}

func TestCreateCommentTrimsContent(t *testing.T) {
	fs := commentTestStore()
	svc := newTestService(fs)

	comment, err := svc.CreateComment(context.Background(), "commenter-1", CreateCommentInput{
		DocumentID: "doc-1",
		Content:    "   needs whitespace trim   ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if comment.Content != "needs whitespace trim" {
		t.Fatalf("expected trimmed content, got %q", comment.Content)
	}
}

func TestCreateCommentRejectsEmptyAndOversized(t *testing.T) {
	svc := newTestService(commentTestStore())

	_, err := svc.CreateComment(context.Background(), "commenter-1", CreateCommentInput{
		DocumentID: "doc-1",
		Content:    "   ",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for blank content, got %v", err)
	}

	_, err = svc.CreateComment(context.Background(), "commenter-1", CreateCommentInput{
		DocumentID: "doc-1",
		Content:    strings.Repeat("a", maxCommentLength+1),
	})
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for oversized content, got %v", err)
	}
}

func TestCommentLengthLimitCountsCharactersNotBytes(t *testing.T) {
	fs := commentTestStore()
	fs.getCommentFn = func(_ context.Context, commentID string) (store.Comment, error) {
		if commentID != "cmt-1" {
			return store.Comment{}, sql.ErrNoRows
		}
		return store.Comment{ID: "cmt-1", DocumentID: "doc-1", UserID: "commenter-1", Content: "old"}, nil
	}
	svc := newTestService(fs)

	// At the limit in characters but twice that in UTF-8 bytes.
	comment, err := svc.CreateComment(context.Background(), "commenter-1", CreateCommentInput{
		DocumentID: "doc-1",
		Content:    strings.Repeat("é", maxCommentLength),
	})
	if err != nil {
		t.Fatalf("multibyte comment at the limit rejected: %v", err)
	}
	if got := len([]rune(comment.Content)); got != maxCommentLength {
		t.Fatalf("expected %d characters stored, got %d", maxCommentLength, got)
	}

	_, err = svc.CreateComment(context.Background(), "commenter-1", CreateCommentInput{
		DocumentID: "doc-1",
		Content:    strings.Repeat("é", maxCommentLength+1),
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for over-limit character count, got %v", err)
	}

	_, err = svc.UpdateCommentContent(context.Background(), "cmt-1", "commenter-1", strings.Repeat("é", maxCommentLength))
	if err != nil {
		t.Fatalf("multibyte edit at the limit rejected: %v", err)
	}
}

func TestCreateCommentViewerCannotComment(t *testing.T) {
	svc := newTestService(commentTestStore())

	_, err := svc.CreateComment(context.Background(), "viewer-1", CreateCommentInput{
		DocumentID: "doc-1",
		Content:    "should fail",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %v", err)
	}
}

func TestCreateCommentRejectsNestedReply(t *testing.T) {
	fs := commentTestStore()
	fs.getCommentFn = func(_ context.Context, commentID string) (store.Comment, error) {
		// The parent is itself a reply.
		return store.Comment{ID: commentID, DocumentID: "doc-1", ParentCommentID: strPtr("cmt-root")}, nil
	}
	svc := newTestService(fs)

	_, err := svc.CreateComment(context.Background(), "commenter-1", CreateCommentInput{
		DocumentID:      "doc-1",
		Content:         "too deep",
		ParentCommentID: strPtr("cmt-reply"),
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if !strings.Contains(domainErr.Message, "nested") {
		t.Fatalf("expected nesting rejection, got %q", domainErr.Message)
	}
}

func TestCreateCommentRejectsCrossDocumentReply(t *testing.T) {
	fs := commentTestStore()
	fs.getCommentFn = func(_ context.Context, commentID string) (store.Comment, error) {
		return store.Comment{ID: commentID, DocumentID: "doc-other"}, nil
	}
	svc := newTestService(fs)

	_, err := svc.CreateComment(context.Background(), "commenter-1", CreateCommentInput{
		DocumentID:      "doc-1",
		Content:         "wrong parent",
		ParentCommentID: strPtr("cmt-foreign"),
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for cross-document reply, got %v", err)
	}
}

func TestResolveCommentDualAuthorization(t *testing.T) {
	fs := commentTestStore()
	fs.getCommentFn = func(_ context.Context, commentID string) (store.Comment, error) {
		return store.Comment{ID: commentID, DocumentID: "doc-1", UserID: "commenter-1", IsResolved: true}, nil
	}
	svc := newTestService(fs)

	// Author can resolve.
	if _, err := svc.ResolveComment(context.Background(), "cmt-1", "commenter-1", true); err != nil {
		t.Fatalf("author resolve failed: %v", err)
	}
	// Document editor can resolve someone else's comment.
	if _, err := svc.ResolveComment(context.Background(), "cmt-1", "editor-1", true); err != nil {
		t.Fatalf("editor resolve failed: %v", err)
	}
	// The owner can too.
	if _, err := svc.ResolveComment(context.Background(), "cmt-1", "owner-1", true); err != nil {
		t.Fatalf("owner resolve failed: %v", err)
	}
	// A viewer who is not the author cannot.
	_, err := svc.ResolveComment(context.Background(), "cmt-1", "viewer-1", true)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %v", err)
	}
}

func TestUpdateCommentContentAuthorOnly(t *testing.T) {
	fs := commentTestStore()
	fs.getCommentFn = func(_ context.Context, commentID string) (store.Comment, error) {
		return store.Comment{ID: commentID, DocumentID: "doc-1", UserID: "commenter-1", Content: "mine"}, nil
	}
	svc := newTestService(fs)

	// Even a document editor cannot edit someone else's words.
	_, err := svc.UpdateCommentContent(context.Background(), "cmt-1", "editor-1", "rewritten")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-author edit, got %v", err)
	}

	if _, err := svc.UpdateCommentContent(context.Background(), "cmt-1", "commenter-1", "rewritten"); err != nil {
		t.Fatalf("author edit failed: %v", err)
	}
}

func TestBulkResolveCommentsIsolatesFailures(t *testing.T) {
	fs := commentTestStore()
	fs.getCommentFn = func(_ context.Context, commentID string) (store.Comment, error) {
		if commentID == "cmt-foreign" {
			return store.Comment{ID: commentID, DocumentID: "doc-1", UserID: "someone-else"}, nil
		}
		return store.Comment{ID: commentID, DocumentID: "doc-1", UserID: "commenter-1"}, nil
	}
	svc := newTestService(fs)

	result := svc.BulkResolveComments(context.Background(), []string{"cmt-1", "cmt-foreign", "cmt-2"}, "commenter-1", true)

	if len(result.Success) != 2 {
		t.Fatalf("expected 2 successes, got %v", result.Success)
	}
	if len(result.Failed) != 1 || result.Failed[0].ID != "cmt-foreign" {
		t.Fatalf("expected cmt-foreign to fail, got %v", result.Failed)
	}
}

func TestSearchDocumentCommentsEmptyQueryShortCircuits(t *testing.T) {
	fs := commentTestStore()
	searched := false
	fs.searchCommentsFn = func(context.Context, string, string) ([]store.Comment, error) {
		searched = true
		return nil, nil
	}
	svc := newTestService(fs)

	results, err := svc.SearchDocumentComments(context.Background(), "doc-1", "viewer-1", "   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", results)
	}
	if searched {
		t.Fatal("blank query must not hit the store")
	}
}
