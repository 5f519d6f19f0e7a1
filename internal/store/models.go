package store

import "time"

type Profile struct {
	ID                    string
	Email                 string
	DisplayName           string
	AvatarURL             string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
}

// ContentType is the closed set of document kinds.
const (
	ContentMarkdown = "markdown"
	ContentReport   = "report"
	ContentTemplate = "template"
	ContentBook     = "book"
)

type Document struct {
	ID          string
	OwnerID     string
	FolderID    *string
	Title       string
	Content     string
	ContentType string
	IsPublic    bool
	ShareToken  *string
	SharedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Folder struct {
	ID        string
	OwnerID   string
	ParentID  *string
	Name      string
	CreatedAt time.Time
}

// Share is one grant of a document to a user. One row per
// (document, grantee) pair; the owner never has a row.
type Share struct {
	ID              string
	DocumentID      string
	SharedBy        string
	SharedWith      string
	PermissionLevel string
	CreatedAt       time.Time
	// Joined grantee profile fields for API responses
	GranteeEmail  string
	GranteeName   string
	GranteeAvatar string
}

type Comment struct {
	ID              string
	DocumentID      string
	UserID          string
	Content         string
	PositionStart   *int
	PositionEnd     *int
	HighlightedText *string
	ParentCommentID *string
	IsResolved      bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CommentFilter narrows top-level comment listings. Nil fields are
// ignored.
type CommentFilter struct {
	Resolved *bool
	UserID   string
	From     *time.Time
	To       *time.Time
}

type SharingStats struct {
	TotalShares   int
	ViewShares    int
	CommentShares int
	EditShares    int
	IsPublic      bool
	SharedAt      *time.Time
}

type CommentStats struct {
	Total        int
	Resolved     int
	Open         int
	Replies      int
	Participants int
}

type Attachment struct {
	ID            string
	DocumentID    string
	OwnerID       string
	ObjectKey     string
	FileName      string
	ContentType   string
	SizeBytes     int64
	ExtractedText string
	CreatedAt     time.Time
}
