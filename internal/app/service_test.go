package app

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"deepwaters/api/internal/config"
	"deepwaters/api/internal/store"
)

type fakeStore struct {
	getProfileByIDFn          func(context.Context, string) (store.Profile, error)
	getProfileByEmailFn       func(context.Context, string) (store.Profile, error)
	listProfilesByIDsFn       func(context.Context, []string) ([]store.Profile, error)
	getDocumentFn             func(context.Context, string) (store.Document, error)
	insertDocumentFn          func(context.Context, store.Document) error
	updateDocumentFn          func(context.Context, string, string, string, *string) error
	deleteDocumentFn          func(context.Context, string) error
	listDocumentsByOwnerFn    func(context.Context, string) ([]store.Document, error)
	listDocumentsSharedWithFn func(context.Context, string) ([]store.Document, error)
	getDocumentOwnersFn       func(context.Context, []string) (map[string]string, error)
	getPublicDocumentIDsFn    func(context.Context, []string) (map[string]bool, error)
	enablePublicSharingFn     func(context.Context, string, string) (string, error)
	disablePublicSharingFn    func(context.Context, string) error
	rotateShareTokenFn        func(context.Context, string, string) error
	getDocumentByShareTokenFn func(context.Context, string) (store.Document, error)
	copyDocumentFn            func(context.Context, string, string, string) (store.Document, error)
	getFolderFn               func(context.Context, string) (store.Folder, error)
	deleteFolderFn            func(context.Context, string) error
	replaceDocumentTagsFn     func(context.Context, string, []string) error
	insertShareFn             func(context.Context, store.Share) (store.Share, error)
	getShareFn                func(context.Context, string) (store.Share, error)
	listSharesFn              func(context.Context, string) ([]store.Share, error)
	getShareLevelFn           func(context.Context, string, string) (string, error)
	getShareLevelsFn          func(context.Context, []string, string) (map[string]string, error)
	updateShareLevelFn        func(context.Context, string, string) (bool, error)
	deleteShareFn             func(context.Context, string) (bool, error)
	deleteSharesByDocumentFn  func(context.Context, string) (int, error)
	sharingStatsFn            func(context.Context, string) (store.SharingStats, error)
	insertCommentFn           func(context.Context, store.Comment) (store.Comment, error)
	getCommentFn              func(context.Context, string) (store.Comment, error)
	listTopLevelCommentsFn    func(context.Context, string, store.CommentFilter) ([]store.Comment, error)
	listRepliesByParentIDsFn  func(context.Context, []string) ([]store.Comment, error)
	updateCommentContentFn    func(context.Context, string, string) (bool, error)
	setCommentResolvedFn      func(context.Context, string, bool) (bool, error)
	deleteCommentFn           func(context.Context, string) (bool, error)
	commentStatsFn            func(context.Context, string) (store.CommentStats, error)
	searchCommentsFn          func(context.Context, string, string) ([]store.Comment, error)
	getAttachmentFn           func(context.Context, string) (store.Attachment, error)
	deleteAttachmentFn        func(context.Context, string) (bool, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetProfileByID(ctx context.Context, profileID string) (store.Profile, error) {
	if f.getProfileByIDFn != nil {
		return f.getProfileByIDFn(ctx, profileID)
	}
	return store.Profile{ID: profileID, DisplayName: "Test User"}, nil
}
func (f *fakeStore) GetProfileByEmail(ctx context.Context, email string) (store.Profile, error) {
	if f.getProfileByEmailFn != nil {
		return f.getProfileByEmailFn(ctx, email)
	}
	return store.Profile{}, sql.ErrNoRows
}
func (f *fakeStore) ListProfilesByIDs(ctx context.Context, profileIDs []string) ([]store.Profile, error) {
	if f.listProfilesByIDsFn != nil {
		return f.listProfilesByIDsFn(ctx, profileIDs)
	}
	profiles := make([]store.Profile, 0, len(profileIDs))
	for _, id := range profileIDs {
		profiles = append(profiles, store.Profile{ID: id, DisplayName: "User " + id})
	}
	return profiles, nil
}
func (f *fakeStore) UpdateProfileAvatar(context.Context, string, string) error { return nil }
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error {
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return false, nil
}

func (f *fakeStore) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, documentID)
	}
	return store.Document{}, sql.ErrNoRows
}
func (f *fakeStore) InsertDocument(ctx context.Context, d store.Document) error {
	if f.insertDocumentFn != nil {
		return f.insertDocumentFn(ctx, d)
	}
	return nil
}
func (f *fakeStore) UpdateDocument(ctx context.Context, documentID, title, content string, folderID *string) error {
	if f.updateDocumentFn != nil {
		return f.updateDocumentFn(ctx, documentID, title, content, folderID)
	}
	return nil
}
func (f *fakeStore) DeleteDocument(ctx context.Context, documentID string) error {
	if f.deleteDocumentFn != nil {
		return f.deleteDocumentFn(ctx, documentID)
	}
	return nil
}
func (f *fakeStore) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]store.Document, error) {
	if f.listDocumentsByOwnerFn != nil {
		return f.listDocumentsByOwnerFn(ctx, ownerID)
	}
	return nil, nil
}
func (f *fakeStore) ListDocumentsSharedWith(ctx context.Context, profileID string) ([]store.Document, error) {
	if f.listDocumentsSharedWithFn != nil {
		return f.listDocumentsSharedWithFn(ctx, profileID)
	}
	return nil, nil
}
func (f *fakeStore) GetDocumentOwners(ctx context.Context, documentIDs []string) (map[string]string, error) {
	if f.getDocumentOwnersFn != nil {
		return f.getDocumentOwnersFn(ctx, documentIDs)
	}
	return map[string]string{}, nil
}
func (f *fakeStore) GetPublicDocumentIDs(ctx context.Context, documentIDs []string) (map[string]bool, error) {
	if f.getPublicDocumentIDsFn != nil {
		return f.getPublicDocumentIDsFn(ctx, documentIDs)
	}
	return map[string]bool{}, nil
}
func (f *fakeStore) EnablePublicSharing(ctx context.Context, documentID, freshToken string) (string, error) {
	if f.enablePublicSharingFn != nil {
		return f.enablePublicSharingFn(ctx, documentID, freshToken)
	}
	return freshToken, nil
}
func (f *fakeStore) DisablePublicSharing(ctx context.Context, documentID string) error {
	if f.disablePublicSharingFn != nil {
		return f.disablePublicSharingFn(ctx, documentID)
	}
	return nil
}
func (f *fakeStore) RotateShareToken(ctx context.Context, documentID, freshToken string) error {
	if f.rotateShareTokenFn != nil {
		return f.rotateShareTokenFn(ctx, documentID, freshToken)
	}
	return nil
}
func (f *fakeStore) GetDocumentByShareToken(ctx context.Context, token string) (store.Document, error) {
	if f.getDocumentByShareTokenFn != nil {
		return f.getDocumentByShareTokenFn(ctx, token)
	}
	return store.Document{}, sql.ErrNoRows
}
func (f *fakeStore) CopyDocumentToWorkspace(ctx context.Context, documentID, newID, newOwnerID string) (store.Document, error) {
	if f.copyDocumentFn != nil {
		return f.copyDocumentFn(ctx, documentID, newID, newOwnerID)
	}
	return store.Document{}, sql.ErrNoRows
}

func (f *fakeStore) InsertFolder(context.Context, store.Folder) error { return nil }
func (f *fakeStore) GetFolder(ctx context.Context, folderID string) (store.Folder, error) {
	if f.getFolderFn != nil {
		return f.getFolderFn(ctx, folderID)
	}
	return store.Folder{}, sql.ErrNoRows
}
func (f *fakeStore) ListFoldersByOwner(context.Context, string) ([]store.Folder, error) {
	return nil, nil
}
func (f *fakeStore) RenameFolder(context.Context, string, string) error { return nil }
func (f *fakeStore) DeleteFolder(ctx context.Context, folderID string) error {
	if f.deleteFolderFn != nil {
		return f.deleteFolderFn(ctx, folderID)
	}
	return nil
}
func (f *fakeStore) ReplaceDocumentTags(ctx context.Context, documentID string, tags []string) error {
	if f.replaceDocumentTagsFn != nil {
		return f.replaceDocumentTagsFn(ctx, documentID, tags)
	}
	return nil
}
func (f *fakeStore) ListDocumentTags(context.Context, string) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) InsertShare(ctx context.Context, sh store.Share) (store.Share, error) {
	if f.insertShareFn != nil {
		return f.insertShareFn(ctx, sh)
	}
	return sh, nil
}
func (f *fakeStore) GetShare(ctx context.Context, shareID string) (store.Share, error) {
	if f.getShareFn != nil {
		return f.getShareFn(ctx, shareID)
	}
	return store.Share{}, sql.ErrNoRows
}
func (f *fakeStore) ListShares(ctx context.Context, documentID string) ([]store.Share, error) {
	if f.listSharesFn != nil {
		return f.listSharesFn(ctx, documentID)
	}
	return nil, nil
}
func (f *fakeStore) GetShareLevel(ctx context.Context, documentID, userID string) (string, error) {
	if f.getShareLevelFn != nil {
		return f.getShareLevelFn(ctx, documentID, userID)
	}
	return "", nil
}
func (f *fakeStore) GetShareLevels(ctx context.Context, documentIDs []string, userID string) (map[string]string, error) {
	if f.getShareLevelsFn != nil {
		return f.getShareLevelsFn(ctx, documentIDs, userID)
	}
	return map[string]string{}, nil
}
func (f *fakeStore) UpdateShareLevel(ctx context.Context, shareID, level string) (bool, error) {
	if f.updateShareLevelFn != nil {
		return f.updateShareLevelFn(ctx, shareID, level)
	}
	return true, nil
}
func (f *fakeStore) DeleteShare(ctx context.Context, shareID string) (bool, error) {
	if f.deleteShareFn != nil {
		return f.deleteShareFn(ctx, shareID)
	}
	return true, nil
}
func (f *fakeStore) DeleteSharesByDocument(ctx context.Context, documentID string) (int, error) {
	if f.deleteSharesByDocumentFn != nil {
		return f.deleteSharesByDocumentFn(ctx, documentID)
	}
	return 0, nil
}
func (f *fakeStore) SharingStats(ctx context.Context, documentID string) (store.SharingStats, error) {
	if f.sharingStatsFn != nil {
		return f.sharingStatsFn(ctx, documentID)
	}
	return store.SharingStats{}, nil
}

func (f *fakeStore) InsertComment(ctx context.Context, c store.Comment) (store.Comment, error) {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, c)
	}
	return c, nil
}
func (f *fakeStore) GetComment(ctx context.Context, commentID string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, commentID)
	}
	return store.Comment{}, sql.ErrNoRows
}
func (f *fakeStore) ListTopLevelComments(ctx context.Context, documentID string, filter store.CommentFilter) ([]store.Comment, error) {
	if f.listTopLevelCommentsFn != nil {
		return f.listTopLevelCommentsFn(ctx, documentID, filter)
	}
	return nil, nil
}
func (f *fakeStore) ListRepliesByParentIDs(ctx context.Context, parentIDs []string) ([]store.Comment, error) {
	if f.listRepliesByParentIDsFn != nil {
		return f.listRepliesByParentIDsFn(ctx, parentIDs)
	}
	return nil, nil
}
func (f *fakeStore) UpdateCommentContent(ctx context.Context, commentID, content string) (bool, error) {
	if f.updateCommentContentFn != nil {
		return f.updateCommentContentFn(ctx, commentID, content)
	}
	return true, nil
}
func (f *fakeStore) SetCommentResolved(ctx context.Context, commentID string, resolved bool) (bool, error) {
	if f.setCommentResolvedFn != nil {
		return f.setCommentResolvedFn(ctx, commentID, resolved)
	}
	return true, nil
}
func (f *fakeStore) DeleteComment(ctx context.Context, commentID string) (bool, error) {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, commentID)
	}
	return true, nil
}
func (f *fakeStore) CommentStats(ctx context.Context, documentID string) (store.CommentStats, error) {
	if f.commentStatsFn != nil {
		return f.commentStatsFn(ctx, documentID)
	}
	return store.CommentStats{}, nil
}
func (f *fakeStore) SearchComments(ctx context.Context, documentID, query string) ([]store.Comment, error) {
	if f.searchCommentsFn != nil {
		return f.searchCommentsFn(ctx, documentID, query)
	}
	return nil, nil
}

func (f *fakeStore) InsertAttachment(ctx context.Context, a store.Attachment) (store.Attachment, error) {
	return a, nil
}
func (f *fakeStore) GetAttachment(ctx context.Context, attachmentID string) (store.Attachment, error) {
	if f.getAttachmentFn != nil {
		return f.getAttachmentFn(ctx, attachmentID)
	}
	return store.Attachment{}, sql.ErrNoRows
}
func (f *fakeStore) ListAttachmentsByDocument(context.Context, string) ([]store.Attachment, error) {
	return nil, nil
}
func (f *fakeStore) DeleteAttachment(ctx context.Context, attachmentID string) (bool, error) {
	if f.deleteAttachmentFn != nil {
		return f.deleteAttachmentFn(ctx, attachmentID)
	}
	return true, nil
}

// fakeSessions is an in-memory refresh token store.
type fakeSessions struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: map[string]string{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, profileID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[tokenHash] = profileID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profileID, ok := f.tokens[tokenHash]
	if !ok {
		return "", sql.ErrNoRows
	}
	return profileID, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, tokenHash)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			TokenSecret:   "test-secret",
			AccessTTL:     time.Hour,
			RefreshTTL:    24 * time.Hour,
			PublicBaseURL: "http://localhost:8790",
		},
		store:    fs,
		sessions: newFakeSessions(),
	}
}
