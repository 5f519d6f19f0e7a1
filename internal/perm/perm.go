// Package perm defines the document permission hierarchy.
package perm

// Level is a user's effective permission on a document.
type Level string

const (
	LevelNone    Level = "none"
	LevelView    Level = "view"
	LevelComment Level = "comment"
	LevelEdit    Level = "edit"
	LevelOwner   Level = "owner"
)

// rank orders the grantable levels. Owner is handled separately in Has
// because it dominates every requirement, including future ones.
var rank = map[Level]int{
	LevelView:    1,
	LevelComment: 2,
	LevelEdit:    3,
}

// Has reports whether a holder of level satisfies the required level.
// Owner always passes, none always fails.
func Has(level, required Level) bool {
	if level == LevelOwner {
		return true
	}
	if level == LevelNone {
		return false
	}
	return rank[level] >= rank[required]
}

// Grantable reports whether level is valid on a share row. Owner and none
// are computed states, never stored.
func Grantable(level Level) bool {
	switch level {
	case LevelView, LevelComment, LevelEdit:
		return true
	default:
		return false
	}
}

// Normalize coerces an untrusted string to a grantable level, defaulting
// to view.
func Normalize(level string) Level {
	if Grantable(Level(level)) {
		return Level(level)
	}
	return LevelView
}
