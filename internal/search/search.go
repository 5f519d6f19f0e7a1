package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultComment  ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
	OwnerID    string     `json:"ownerId"`
	Resolved   bool       `json:"resolved,omitempty"`
}

// Query describes a search request. Matching is substring-style,
// case-insensitive; no stemming or ranking guarantees beyond what the
// active backend provides.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterDocumentID string
	FilterOwnerID    string
	// FilterViewerID restricts comment hits to documents this user can
	// read (owned, shared with them, or public). Only the Postgres
	// backend can apply it; callers of backends that cannot must check
	// comment hits against the permission model themselves.
	FilterViewerID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a search query.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	OwnerID     string `json:"ownerId"`
	ContentType string `json:"contentType"`
	IsPublic    bool   `json:"isPublic"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	IsResolved bool   `json:"isResolved"`
}
