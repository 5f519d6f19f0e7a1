package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"deepwaters/api/internal/extract"
	"deepwaters/api/internal/perm"
	"deepwaters/api/internal/search"
	"deepwaters/api/internal/store"
	"deepwaters/api/internal/util"
)

var allowedContentTypes = map[string]struct{}{
	store.ContentMarkdown: {},
	store.ContentReport:   {},
	store.ContentTemplate: {},
	store.ContentBook:     {},
}

type CreateDocumentInput struct {
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	ContentType string  `json:"contentType"`
	FolderID    *string `json:"folderId"`
}

type UpdateDocumentInput struct {
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	FolderID *string `json:"folderId"`
}

// CreateDocument inserts a new document owned by the caller.
func (s *Service) CreateDocument(ctx context.Context, actorID string, input CreateDocumentInput) (store.Document, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Untitled Document"
	}
	contentType := strings.TrimSpace(input.ContentType)
	if contentType == "" {
		contentType = store.ContentMarkdown
	}
	if _, ok := allowedContentTypes[contentType]; !ok {
		return store.Document{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "contentType must be one of markdown, report, template, book", nil)
	}

	if input.FolderID != nil {
		if err := s.requireOwnFolder(ctx, *input.FolderID, actorID); err != nil {
			return store.Document{}, err
		}
	}

	doc := store.Document{
		ID:          util.NewID("doc"),
		OwnerID:     actorID,
		FolderID:    input.FolderID,
		Title:       title,
		Content:     input.Content,
		ContentType: contentType,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, err
	}

	inserted, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return store.Document{}, err
	}
	s.indexDocument(inserted)
	return inserted, nil
}

// GetDocument returns a document the caller can read.
func (s *Service) GetDocument(ctx context.Context, documentID, actorID string) (store.Document, perm.Level, error) {
	level, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelView)
	if err != nil {
		return store.Document{}, perm.LevelNone, err
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, perm.LevelNone, err
	}
	return doc, level, nil
}

// UpdateDocument edits title, content, or folder placement. Requires
// edit or better; re-parenting requires owning the target folder.
func (s *Service) UpdateDocument(ctx context.Context, documentID, actorID string, input UpdateDocumentInput) (store.Document, error) {
	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelEdit); err != nil {
		return store.Document{}, err
	}

	current, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = current.Title
	}

	folderID := current.FolderID
	if input.FolderID != nil {
		if *input.FolderID == "" {
			folderID = nil
		} else {
			if err := s.requireOwnFolder(ctx, *input.FolderID, current.OwnerID); err != nil {
				return store.Document{}, err
			}
			folderID = input.FolderID
		}
	}

	if err := s.store.UpdateDocument(ctx, documentID, title, input.Content, folderID); err != nil {
		return store.Document{}, err
	}

	updated, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	s.indexDocument(updated)
	return updated, nil
}

// DeleteDocument removes a document. Owner only; shares and comments
// follow via cascade.
func (s *Service) DeleteDocument(ctx context.Context, documentID, actorID string) error {
	level, err := s.DocumentPermission(ctx, documentID, actorID)
	if err != nil {
		return err
	}
	if level != perm.LevelOwner {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can delete a document", nil)
	}

	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteDocument(documentID)
	}
	return nil
}

// ListMyDocuments returns documents the caller owns.
func (s *Service) ListMyDocuments(ctx context.Context, actorID string) ([]store.Document, error) {
	return s.store.ListDocumentsByOwner(ctx, actorID)
}

// ListSharedWithMe returns documents other users shared with the caller.
func (s *Service) ListSharedWithMe(ctx context.Context, actorID string) ([]store.Document, error) {
	return s.store.ListDocumentsSharedWith(ctx, actorID)
}

type DashboardCounts struct {
	OwnedDocuments  int `json:"ownedDocuments"`
	SharedWithMe    int `json:"sharedWithMe"`
	PublicDocuments int `json:"publicDocuments"`
}

// Dashboard summarizes the caller's workspace.
func (s *Service) Dashboard(ctx context.Context, actorID string) (DashboardCounts, error) {
	owned, err := s.store.ListDocumentsByOwner(ctx, actorID)
	if err != nil {
		return DashboardCounts{}, err
	}
	shared, err := s.store.ListDocumentsSharedWith(ctx, actorID)
	if err != nil {
		return DashboardCounts{}, err
	}
	counts := DashboardCounts{OwnedDocuments: len(owned), SharedWithMe: len(shared)}
	for _, d := range owned {
		if d.IsPublic {
			counts.PublicDocuments++
		}
	}
	return counts, nil
}

func (s *Service) indexDocument(doc store.Document) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:          doc.ID,
		Title:       doc.Title,
		Content:     doc.Content,
		OwnerID:     doc.OwnerID,
		ContentType: doc.ContentType,
		IsPublic:    doc.IsPublic,
	})
}

// Search runs the caller-scoped global search across their documents
// and comments.
func (s *Service) Search(ctx context.Context, actorID, query, filterType, documentID string, limit, offset int) (search.Response, error) {
	if documentID != "" {
		if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelView); err != nil {
			return search.Response{}, err
		}
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}, nil
	}
	resp := s.search.Search(search.Query{
		Text:             query,
		FilterType:       search.ResultType(filterType),
		FilterDocumentID: documentID,
		FilterOwnerID:    actorID,
		FilterViewerID:   actorID,
		Limit:            limit,
		Offset:           offset,
	})
	return s.dropUnreadableComments(ctx, actorID, resp)
}

// dropUnreadableComments removes comment hits on documents the caller
// cannot view. The Postgres backend scopes these in SQL; the primary
// index cannot express the predicate, so every comment hit is verified
// against the permission model before leaving the service.
func (s *Service) dropUnreadableComments(ctx context.Context, actorID string, resp search.Response) (search.Response, error) {
	docIDs := make([]string, 0, len(resp.Results))
	seen := make(map[string]struct{}, len(resp.Results))
	for _, r := range resp.Results {
		if r.Type != search.ResultComment {
			continue
		}
		if _, ok := seen[r.DocumentID]; ok {
			continue
		}
		seen[r.DocumentID] = struct{}{}
		docIDs = append(docIDs, r.DocumentID)
	}
	if len(docIDs) == 0 {
		return resp, nil
	}

	levels, err := s.BulkDocumentPermissions(ctx, docIDs, actorID)
	if err != nil {
		return search.Response{}, err
	}

	kept := make([]search.Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Type == search.ResultComment && !perm.Has(levels[r.DocumentID], perm.LevelView) {
			resp.Total--
			continue
		}
		kept = append(kept, r)
	}
	resp.Results = kept
	return resp, nil
}

// Folders

func (s *Service) requireOwnFolder(ctx context.Context, folderID, ownerID string) error {
	folder, err := s.store.GetFolder(ctx, folderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "folder does not exist", nil)
		}
		return err
	}
	if folder.OwnerID != ownerID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Folder belongs to another user", nil)
	}
	return nil
}

func (s *Service) CreateFolder(ctx context.Context, actorID, name string, parentID *string) (store.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Folder{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "folder name must not be empty", nil)
	}
	if parentID != nil {
		if err := s.requireOwnFolder(ctx, *parentID, actorID); err != nil {
			return store.Folder{}, err
		}
	}

	folder := store.Folder{
		ID:       util.NewID("fld"),
		OwnerID:  actorID,
		ParentID: parentID,
		Name:     name,
	}
	if err := s.store.InsertFolder(ctx, folder); err != nil {
		return store.Folder{}, err
	}
	return s.store.GetFolder(ctx, folder.ID)
}

func (s *Service) ListFolders(ctx context.Context, actorID string) ([]store.Folder, error) {
	return s.store.ListFoldersByOwner(ctx, actorID)
}

func (s *Service) RenameFolder(ctx context.Context, folderID, actorID, name string) (store.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Folder{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "folder name must not be empty", nil)
	}
	if err := s.requireOwnFolder(ctx, folderID, actorID); err != nil {
		return store.Folder{}, err
	}
	if err := s.store.RenameFolder(ctx, folderID, name); err != nil {
		return store.Folder{}, err
	}
	return s.store.GetFolder(ctx, folderID)
}

func (s *Service) DeleteFolder(ctx context.Context, folderID, actorID string) error {
	if err := s.requireOwnFolder(ctx, folderID, actorID); err != nil {
		return err
	}
	if err := s.store.DeleteFolder(ctx, folderID); err != nil {
		if errors.Is(err, store.ErrFolderNotEmpty) {
			return domainError(http.StatusConflict, "FOLDER_NOT_EMPTY", "Folder still contains documents", nil)
		}
		return err
	}
	return nil
}

// Tags

func (s *Service) SetDocumentTags(ctx context.Context, documentID, actorID string, tags []string) ([]string, error) {
	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelEdit); err != nil {
		return nil, err
	}

	cleaned := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		cleaned = append(cleaned, tag)
	}

	if err := s.store.ReplaceDocumentTags(ctx, documentID, cleaned); err != nil {
		return nil, err
	}
	return cleaned, nil
}

func (s *Service) ListDocumentTags(ctx context.Context, documentID, actorID string) ([]string, error) {
	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelView); err != nil {
		return nil, err
	}
	return s.store.ListDocumentTags(ctx, documentID)
}

// Attachments

const presignedURLTTL = 1 * time.Hour

// UploadAttachment streams the file into object storage and records
// the attachment row with text extracted for search.
func (s *Service) UploadAttachment(ctx context.Context, documentID, actorID, fileName, contentType string, data []byte) (store.Attachment, error) {
	if s.objects == nil {
		return store.Attachment{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage not configured", nil)
	}
	if len(data) == 0 {
		return store.Attachment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is empty", nil)
	}
	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelEdit); err != nil {
		return store.Attachment{}, err
	}

	attachmentID := util.NewID("att")
	objectKey := fmt.Sprintf("attachments/%s/%s/%s", documentID, attachmentID, fileName)

	if err := s.objects.Upload(ctx, objectKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return store.Attachment{}, err
	}

	extracted, err := extract.Text(data, contentType)
	if err != nil {
		log.Printf("attachment %s: text extraction: %v", attachmentID, err)
		extracted = ""
	}

	attachment, err := s.store.InsertAttachment(ctx, store.Attachment{
		ID:            attachmentID,
		DocumentID:    documentID,
		OwnerID:       actorID,
		ObjectKey:     objectKey,
		FileName:      fileName,
		ContentType:   contentType,
		SizeBytes:     int64(len(data)),
		ExtractedText: extracted,
	})
	if err != nil {
		// Leave no orphaned object behind.
		_ = s.objects.Delete(ctx, objectKey)
		return store.Attachment{}, err
	}
	return attachment, nil
}

func (s *Service) ListAttachments(ctx context.Context, documentID, actorID string) ([]store.Attachment, error) {
	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelView); err != nil {
		return nil, err
	}
	return s.store.ListAttachmentsByDocument(ctx, documentID)
}

// AttachmentDownloadURL returns a time-limited presigned URL.
func (s *Service) AttachmentDownloadURL(ctx context.Context, attachmentID, actorID string) (string, error) {
	if s.objects == nil {
		return "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage not configured", nil)
	}
	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return "", err
	}
	if _, err := s.requireDocumentPermission(ctx, attachment.DocumentID, actorID, perm.LevelView); err != nil {
		return "", err
	}
	return s.objects.PresignedGetURL(ctx, attachment.ObjectKey, presignedURLTTL)
}

func (s *Service) DeleteAttachment(ctx context.Context, attachmentID, actorID string) error {
	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	if _, err := s.requireDocumentPermission(ctx, attachment.DocumentID, actorID, perm.LevelEdit); err != nil {
		return err
	}

	deleted, err := s.store.DeleteAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	if !deleted {
		return sql.ErrNoRows
	}
	if s.objects != nil {
		if err := s.objects.Delete(ctx, attachment.ObjectKey); err != nil {
			log.Printf("attachment %s: delete object %s: %v", attachmentID, attachment.ObjectKey, err)
		}
	}
	return nil
}

// Profiles

type ProfileView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// GetProfile is the single-profile directory lookup.
func (s *Service) GetProfile(ctx context.Context, profileID string) (ProfileView, error) {
	p, err := s.store.GetProfileByID(ctx, profileID)
	if err != nil {
		return ProfileView{}, err
	}
	return ProfileView{ID: p.ID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL}, nil
}

// GetProfiles is the batched directory lookup, one IN query.
func (s *Service) GetProfiles(ctx context.Context, profileIDs []string) ([]ProfileView, error) {
	profiles, err := s.store.ListProfilesByIDs(ctx, profileIDs)
	if err != nil {
		return nil, err
	}
	views := make([]ProfileView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, ProfileView{ID: p.ID, DisplayName: p.DisplayName, AvatarURL: p.AvatarURL})
	}
	return views, nil
}

// UploadAvatar stores a profile picture and records its public path.
func (s *Service) UploadAvatar(ctx context.Context, actorID, contentType string, data []byte) (string, error) {
	if s.objects == nil {
		return "", domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage not configured", nil)
	}
	if len(data) == 0 {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is empty", nil)
	}

	objectKey := fmt.Sprintf("avatars/%s", actorID)
	if err := s.objects.Upload(ctx, objectKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", err
	}

	url, err := s.objects.PresignedGetURL(ctx, objectKey, presignedURLTTL)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateProfileAvatar(ctx, actorID, url); err != nil {
		return "", err
	}
	return url, nil
}
