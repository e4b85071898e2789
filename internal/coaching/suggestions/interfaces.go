package suggestions

import "context"

// Store defines the interface for suggestion storage operations
type Store interface {
	// InsertSet persists a suggestion set unless one already exists for the
	// same generated-after-session id. Returns whether a row was inserted;
	// a duplicate attempt is a silent no-op, not an error.
	InsertSet(ctx context.Context, set *SuggestionSet) (bool, error)
	// ExistsForSession reports whether a set was already generated after
	// the given session.
	ExistsForSession(ctx context.Context, sessionID string) (bool, error)
	// Latest returns the user's most recent suggestion set, or (nil, nil)
	// when none exists.
	Latest(ctx context.Context, userID string) (*SuggestionSet, error)
	// RecentTitles returns titles from the user's most recent sets, newest
	// first, for verbatim anti-repetition in the generator.
	RecentTitles(ctx context.Context, userID string, limit int) ([]string, error)
}
