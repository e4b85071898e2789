package wins

import "context"

// Store defines the interface for win storage operations
type Store interface {
	Create(ctx context.Context, win *Win) error
	// Recent returns the user's most recent wins, newest first.
	Recent(ctx context.Context, userID string, limit int) ([]Win, error)
	// ForSession returns wins logged against one session, oldest first.
	ForSession(ctx context.Context, sessionID string) ([]Win, error)
}
