package app

import (
	"context"
	"io"
	"time"

	"deepwaters/api/internal/auth"
	"deepwaters/api/internal/authpw"
	"deepwaters/api/internal/config"
	"deepwaters/api/internal/email"
	"deepwaters/api/internal/search"
	"deepwaters/api/internal/storage"
	"deepwaters/api/internal/store"
	"deepwaters/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is everything the service needs from persistence. The
// Postgres store implements it; tests swap in a fake.
type dataStore interface {
	Ping(ctx context.Context) error

	// profiles
	GetProfileByID(ctx context.Context, profileID string) (store.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (store.Profile, error)
	ListProfilesByIDs(ctx context.Context, profileIDs []string) ([]store.Profile, error)
	UpdateProfileAvatar(ctx context.Context, profileID, avatarURL string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	// documents
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	InsertDocument(ctx context.Context, d store.Document) error
	UpdateDocument(ctx context.Context, documentID, title, content string, folderID *string) error
	DeleteDocument(ctx context.Context, documentID string) error
	ListDocumentsByOwner(ctx context.Context, ownerID string) ([]store.Document, error)
	ListDocumentsSharedWith(ctx context.Context, userID string) ([]store.Document, error)
	GetDocumentOwners(ctx context.Context, documentIDs []string) (map[string]string, error)
	GetPublicDocumentIDs(ctx context.Context, documentIDs []string) (map[string]bool, error)
	EnablePublicSharing(ctx context.Context, documentID, freshToken string) (string, error)
	DisablePublicSharing(ctx context.Context, documentID string) error
	RotateShareToken(ctx context.Context, documentID, freshToken string) error
	GetDocumentByShareToken(ctx context.Context, token string) (store.Document, error)
	CopyDocumentToWorkspace(ctx context.Context, documentID, newID, newOwnerID string) (store.Document, error)

	// folders and tags
	InsertFolder(ctx context.Context, f store.Folder) error
	GetFolder(ctx context.Context, folderID string) (store.Folder, error)
	ListFoldersByOwner(ctx context.Context, ownerID string) ([]store.Folder, error)
	RenameFolder(ctx context.Context, folderID, name string) error
	DeleteFolder(ctx context.Context, folderID string) error
	ReplaceDocumentTags(ctx context.Context, documentID string, tags []string) error
	ListDocumentTags(ctx context.Context, documentID string) ([]string, error)

	// shares
	InsertShare(ctx context.Context, sh store.Share) (store.Share, error)
	GetShare(ctx context.Context, shareID string) (store.Share, error)
	ListShares(ctx context.Context, documentID string) ([]store.Share, error)
	GetShareLevel(ctx context.Context, documentID, userID string) (string, error)
	GetShareLevels(ctx context.Context, documentIDs []string, userID string) (map[string]string, error)
	UpdateShareLevel(ctx context.Context, shareID, level string) (bool, error)
	DeleteShare(ctx context.Context, shareID string) (bool, error)
	DeleteSharesByDocument(ctx context.Context, documentID string) (int, error)
	SharingStats(ctx context.Context, documentID string) (store.SharingStats, error)

	// comments
	InsertComment(ctx context.Context, c store.Comment) (store.Comment, error)
	GetComment(ctx context.Context, commentID string) (store.Comment, error)
	ListTopLevelComments(ctx context.Context, documentID string, filter store.CommentFilter) ([]store.Comment, error)
	ListRepliesByParentIDs(ctx context.Context, parentIDs []string) ([]store.Comment, error)
	UpdateCommentContent(ctx context.Context, commentID, content string) (bool, error)
	SetCommentResolved(ctx context.Context, commentID string, resolved bool) (bool, error)
	DeleteComment(ctx context.Context, commentID string) (bool, error)
	CommentStats(ctx context.Context, documentID string) (store.CommentStats, error)
	SearchComments(ctx context.Context, documentID, query string) ([]store.Comment, error)

	// attachments
	InsertAttachment(ctx context.Context, a store.Attachment) (store.Attachment, error)
	GetAttachment(ctx context.Context, attachmentID string) (store.Attachment, error)
	ListAttachmentsByDocument(ctx context.Context, documentID string) ([]store.Attachment, error)
	DeleteAttachment(ctx context.Context, attachmentID string) (bool, error)
}

// sessionStore is the refresh-token backend (Redis in production).
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, profileID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// objectStore is the attachment/avatar byte backend (MinIO in production).
type objectStore interface {
	Upload(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, objectKey string) error
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   *search.Service
	email    *email.Service
	objects  objectStore
	authpw   *authpw.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchSvc *search.Service, emailSvc *email.Service, objects *storage.Client, authSvc *authpw.Service) *Service {
	var objs objectStore
	if objects != nil {
		objs = objects
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchSvc,
		email:    emailSvc,
		objects:  objs,
		authpw:   authSvc,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AuthPasswordService exposes the email/password auth service to the
// HTTP layer. May be nil when auth is not configured.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SMTPConfigured reports whether outbound email is available.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// CreateSession issues an access token and a refresh token for a profile.
func (s *Service) CreateSession(ctx context.Context, profileID string) (Session, error) {
	profile, err := s.store.GetProfileByID(ctx, profileID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	profileID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	profile, err := s.store.GetProfileByID(ctx, profileID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, profile)
}

func (s *Service) issueSession(ctx context.Context, profile store.Profile) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  profile.ID,
		Name: profile.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), profile.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       profile.ID,
		UserName:     profile.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	profile, err := s.store.GetProfileByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    profile.ID,
		UserName:  profile.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}
