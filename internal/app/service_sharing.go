package app

import (
	"context"
	"fmt"
	"strings"

	"deepwaters/api/internal/perm"
	"deepwaters/api/internal/store"
	"deepwaters/api/internal/util"
)

type PublicSharingState struct {
	IsPublic  bool    `json:"isPublic"`
	ShareURL  *string `json:"shareUrl,omitempty"`
	SharedAt  *string `json:"sharedAt,omitempty"`
	Disabled  bool    `json:"disabled,omitempty"`
	TokenKept bool    `json:"tokenRetained,omitempty"`
}

// ToggleDocumentSharing enables or disables public link access.
// Enabling mints a token on first use and reuses it afterwards.
// Disabling hides the document but retains the token, so re-enabling
// restores previously distributed links; RotateShareToken is the
// explicit revocation path.
func (s *Service) ToggleDocumentSharing(ctx context.Context, documentID, actorID string, enabled bool) (PublicSharingState, error) {
	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelEdit); err != nil {
		return PublicSharingState{}, err
	}

	if enabled {
		token, err := s.store.EnablePublicSharing(ctx, documentID, util.NewShareToken())
		if err != nil {
			return PublicSharingState{}, err
		}
		url := s.shareURL(token)
		return PublicSharingState{IsPublic: true, ShareURL: &url}, nil
	}

	if err := s.store.DisablePublicSharing(ctx, documentID); err != nil {
		return PublicSharingState{}, err
	}
	return PublicSharingState{IsPublic: false, Disabled: true, TokenKept: true}, nil
}

// RotateShareToken invalidates every previously distributed public
// link by minting a fresh token.
func (s *Service) RotateShareToken(ctx context.Context, documentID, actorID string) (PublicSharingState, error) {
	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelEdit); err != nil {
		return PublicSharingState{}, err
	}

	if err := s.store.RotateShareToken(ctx, documentID, util.NewShareToken()); err != nil {
		return PublicSharingState{}, err
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return PublicSharingState{}, err
	}

	state := PublicSharingState{IsPublic: doc.IsPublic}
	if doc.IsPublic && doc.ShareToken != nil {
		url := s.shareURL(*doc.ShareToken)
		state.ShareURL = &url
	}
	return state, nil
}

func (s *Service) shareURL(token string) string {
	return fmt.Sprintf("%s/share/%s", strings.TrimRight(s.cfg.PublicBaseURL, "/"), token)
}

// PublicDocumentByToken is the unauthenticated read path for public
// links. Only documents currently flagged public resolve.
func (s *Service) PublicDocumentByToken(ctx context.Context, token string) (store.Document, error) {
	return s.store.GetDocumentByShareToken(ctx, token)
}

// CopyDocumentToWorkspace clones a readable document into the caller's
// own ownership scope. The clone happens in a single INSERT..SELECT
// statement so a concurrent edit of the source cannot tear the copy.
func (s *Service) CopyDocumentToWorkspace(ctx context.Context, documentID, actorID string) (store.Document, error) {
	if _, err := s.requireDocumentPermission(ctx, documentID, actorID, perm.LevelView); err != nil {
		return store.Document{}, err
	}
	return s.store.CopyDocumentToWorkspace(ctx, documentID, util.NewID("doc"), actorID)
}
