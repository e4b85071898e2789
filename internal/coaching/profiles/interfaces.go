package profiles

import "context"

// Store defines the interface for profile storage operations
type Store interface {
	// Get returns the user's profile, or (nil, nil) when none exists.
	Get(ctx context.Context, userID string) (*Profile, error)
	Upsert(ctx context.Context, profile *Profile) error
	// CountSessions reports how many sessions the user has ever opened,
	// used for the first-session flag on the open fast path.
	CountSessions(ctx context.Context, userID string) (int, error)
}
