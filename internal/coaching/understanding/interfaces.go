package understanding

import "context"

// Store defines the interface for understanding storage operations
type Store interface {
	// Get returns the user's understanding record, or (nil, nil) when the
	// user has none yet.
	Get(ctx context.Context, userID string) (*Understanding, error)
	// Upsert inserts or replaces the user's understanding. Last write wins;
	// overlapping pipeline runs for one user are accepted as rare and
	// non-corrupting.
	Upsert(ctx context.Context, u *Understanding) error
}
