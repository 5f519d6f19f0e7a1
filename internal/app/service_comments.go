package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"deepwaters/api/internal/perm"
	"deepwaters/api/internal/search"
	"deepwaters/api/internal/store"
	"deepwaters/api/internal/util"
)

const maxCommentLength = 10000

// CommentAuthor is the profile projection attached to comments.
type CommentAuthor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Reply is a second-level comment. It cannot carry replies of its own;
// the type makes deeper nesting unrepresentable.
type Reply struct {
	ID              string        `json:"id"`
	DocumentID      string        `json:"documentId"`
	ParentCommentID string        `json:"parentCommentId"`
	Content         string        `json:"content"`
	Author          CommentAuthor `json:"author"`
	IsResolved      bool          `json:"isResolved"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// TopLevelComment is a thread root with its grouped replies.
type TopLevelComment struct {
	ID              string        `json:"id"`
	DocumentID      string        `json:"documentId"`
	Content         string        `json:"content"`
	Author          CommentAuthor `json:"author"`
	PositionStart   *int          `json:"positionStart,omitempty"`
	PositionEnd     *int          `json:"positionEnd,omitempty"`
	HighlightedText *string       `json:"highlightedText,omitempty"`
	IsResolved      bool          `json:"isResolved"`
	Replies         []Reply       `json:"replies"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

type CreateCommentInput struct {
	DocumentID      string  `json:"documentId"`
	Content         string  `json:"content"`
	PositionStart   *int    `json:"positionStart"`
	PositionEnd     *int    `json:"positionEnd"`
	HighlightedText *string `json:"highlightedText"`
	ParentCommentID *string `json:"parentCommentId"`
}

type BulkResolveResult struct {
	Success []string       `json:"success"`
	Failed  []BulkItemFail `json:"failed"`
}

type BulkItemFail struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// DocumentComments assembles the comment tree for a document: one
// query for matching top-level comments, one IN-query for their
// replies, one batched profile query for every author seen. Replies
// are grouped under their parents in memory.
func (s *Service) DocumentComments(ctx context.Context, documentID, actorID string, filter store.CommentFilter) ([]TopLevelComment, error) {
	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelView); err != nil {
		return nil, err
	}

	topLevel, err := s.store.ListTopLevelComments(ctx, documentID, filter)
	if err != nil {
		return nil, err
	}

	parentIDs := make([]string, 0, len(topLevel))
	for _, c := range topLevel {
		parentIDs = append(parentIDs, c.ID)
	}
	replies, err := s.store.ListRepliesByParentIDs(ctx, parentIDs)
	if err != nil {
		return nil, err
	}

	authors, err := s.commentAuthors(ctx, topLevel, replies)
	if err != nil {
		return nil, err
	}

	repliesByParent := make(map[string][]Reply, len(topLevel))
	for _, r := range replies {
		if r.ParentCommentID == nil {
			continue
		}
		repliesByParent[*r.ParentCommentID] = append(repliesByParent[*r.ParentCommentID], Reply{
			ID:              r.ID,
			DocumentID:      r.DocumentID,
			ParentCommentID: *r.ParentCommentID,
			Content:         r.Content,
			Author:          authors[r.UserID],
			IsResolved:      r.IsResolved,
			CreatedAt:       r.CreatedAt,
			UpdatedAt:       r.UpdatedAt,
		})
	}

	items := make([]TopLevelComment, 0, len(topLevel))
	for _, c := range topLevel {
		grouped := repliesByParent[c.ID]
		if grouped == nil {
			grouped = []Reply{}
		}
		items = append(items, TopLevelComment{
			ID:              c.ID,
			DocumentID:      c.DocumentID,
			Content:         c.Content,
			Author:          authors[c.UserID],
			PositionStart:   c.PositionStart,
			PositionEnd:     c.PositionEnd,
			HighlightedText: c.HighlightedText,
			IsResolved:      c.IsResolved,
			Replies:         grouped,
			CreatedAt:       c.CreatedAt,
			UpdatedAt:       c.UpdatedAt,
		})
	}
	return items, nil
}

// commentAuthors resolves every distinct author across a comment set
// in a single batched lookup.
func (s *Service) commentAuthors(ctx context.Context, topLevel, replies []store.Comment) (map[string]CommentAuthor, error) {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, c := range topLevel {
		if _, ok := seen[c.UserID]; !ok {
			seen[c.UserID] = struct{}{}
			ids = append(ids, c.UserID)
		}
	}
	for _, r := range replies {
		if _, ok := seen[r.UserID]; !ok {
			seen[r.UserID] = struct{}{}
			ids = append(ids, r.UserID)
		}
	}

	authors := make(map[string]CommentAuthor, len(ids))
	if len(ids) == 0 {
		return authors, nil
	}
	profiles, err := s.store.ListProfilesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		authors[p.ID] = CommentAuthor{ID: p.ID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}
	}
	return authors, nil
}

// CreateComment validates and inserts a comment or reply. Replies must
// point at an existing top-level comment on the same document.
func (s *Service) CreateComment(ctx context.Context, actorID string, input CreateCommentInput) (store.Comment, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "comment content must not be empty", nil)
	}
	if utf8.RuneCountInString(content) > maxCommentLength {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "comment content exceeds maximum length", map[string]any{
			"maxLength": maxCommentLength,
		})
	}

	if _, err := s.requireDocumentPermission(ctx, input.DocumentID, actorID, perm.LevelComment); err != nil {
		return store.Comment{}, err
	}

	if input.ParentCommentID != nil {
		parent, err := s.store.GetComment(ctx, *input.ParentCommentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "parent comment does not exist", nil)
			}
			return store.Comment{}, err
		}
		if parent.DocumentID != input.DocumentID {
			return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "parent comment belongs to a different document", nil)
		}
		if parent.ParentCommentID != nil {
			return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "replies cannot be nested", nil)
		}
	}

	comment, err := s.store.InsertComment(ctx, store.Comment{
		ID:              util.NewID("cmt"),
		DocumentID:      input.DocumentID,
		UserID:          actorID,
		Content:         content,
		PositionStart:   input.PositionStart,
		PositionEnd:     input.PositionEnd,
		HighlightedText: input.HighlightedText,
		ParentCommentID: input.ParentCommentID,
	})
	if err != nil {
		return store.Comment{}, err
	}

	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:         comment.ID,
			Content:    comment.Content,
			DocumentID: comment.DocumentID,
			UserID:     comment.UserID,
			IsResolved: comment.IsResolved,
		})
	}
	return comment, nil
}

// UpdateCommentContent edits a comment's text. Author only.
func (s *Service) UpdateCommentContent(ctx context.Context, commentID, actorID, content string) (store.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "comment content must not be empty", nil)
	}
	if utf8.RuneCountInString(content) > maxCommentLength {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "comment content exceeds maximum length", nil)
	}

	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if comment.UserID != actorID {
		return store.Comment{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit a comment", nil)
	}

	updated, err := s.store.UpdateCommentContent(ctx, commentID, content)
	if err != nil {
		return store.Comment{}, err
	}
	if !updated {
		return store.Comment{}, sql.ErrNoRows
	}

	fresh, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if s.search != nil {
		s.search.IndexComment(search.CommentRecord{
			ID:         fresh.ID,
			Content:    fresh.Content,
			DocumentID: fresh.DocumentID,
			UserID:     fresh.UserID,
			IsResolved: fresh.IsResolved,
		})
	}
	return fresh, nil
}

// canModerateComment implements the dual-authorization rule: the
// comment's author, or anyone holding edit on the parent document.
func (s *Service) canModerateComment(ctx context.Context, comment store.Comment, actorID string) (bool, error) {
	if comment.UserID == actorID {
		return true, nil
	}
	level, err := s.DocumentPermission(ctx, comment.DocumentID, actorID)
	if err != nil {
		return false, err
	}
	return perm.Has(level, perm.LevelEdit), nil
}

// ResolveComment flips a comment's resolved state.
func (s *Service) ResolveComment(ctx context.Context, commentID, actorID string, resolved bool) (store.Comment, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return store.Comment{}, err
	}

	allowed, err := s.canModerateComment(ctx, comment, actorID)
	if err != nil {
		return store.Comment{}, err
	}
	if !allowed {
		return store.Comment{}, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author or a document editor can resolve a comment", nil)
	}

	updated, err := s.store.SetCommentResolved(ctx, commentID, resolved)
	if err != nil {
		return store.Comment{}, err
	}
	if !updated {
		return store.Comment{}, sql.ErrNoRows
	}
	return s.store.GetComment(ctx, commentID)
}

// DeleteComment removes a comment under the same dual-authorization
// rule as resolve. Reply rows go away via the database cascade.
func (s *Service) DeleteComment(ctx context.Context, commentID, actorID string) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}

	allowed, err := s.canModerateComment(ctx, comment, actorID)
	if err != nil {
		return err
	}
	if !allowed {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author or a document editor can delete a comment", nil)
	}

	deleted, err := s.store.DeleteComment(ctx, commentID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}

	if s.search != nil {
		s.search.DeleteComment(commentID)
	}
	return nil
}

// BulkResolveComments processes each ID sequentially, isolating
// per-item failures.
func (s *Service) BulkResolveComments(ctx context.Context, commentIDs []string, actorID string, resolved bool) BulkResolveResult {
	result := BulkResolveResult{
		Success: []string{},
		Failed:  []BulkItemFail{},
	}
	for _, id := range commentIDs {
		if _, err := s.ResolveComment(ctx, id, actorID, resolved); err != nil {
			result.Failed = append(result.Failed, BulkItemFail{ID: id, Error: bulkItemMessage(err)})
			continue
		}
		result.Success = append(result.Success, id)
	}
	return result
}

func bulkItemMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "comment not found"
	}
	return "resolve failed"
}

// DocumentCommentStats aggregates counts for a document's comments.
func (s *Service) DocumentCommentStats(ctx context.Context, documentID, actorID string) (store.CommentStats, error) {
	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelView); err != nil {
		return store.CommentStats{}, err
	}
	return s.store.CommentStats(ctx, documentID)
}

// SearchDocumentComments is a case-insensitive substring match over a
// document's comments. Not ranked search.
func (s *Service) SearchDocumentComments(ctx context.Context, documentID, actorID, query string) ([]store.Comment, error) {
	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelView); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []store.Comment{}, nil
	}
	return s.store.SearchComments(ctx, documentID, query)
}
