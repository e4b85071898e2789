package sessions

import "context"

// SessionManager defines the interface for session operations
type SessionManager interface {
	CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error)
	AppendMessage(ctx context.Context, req *AppendMessageRequest) (*Message, error)
}

// SessionStore defines the interface for session storage operations
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	// GetSession returns the session, or (nil, nil) when no such session
	// exists.
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// LatestCompleted returns the user's most recently completed session,
	// excluding excludeSessionID, or (nil, nil) when they have none.
	LatestCompleted(ctx context.Context, userID, excludeSessionID string) (*Session, error)
	// DeleteSession removes the session row and its transcript entirely.
	DeleteSession(ctx context.Context, sessionID string) error
	// CompleteSession flips status to completed and evolution status to
	// pending, only when the session is currently active. Returns whether a
	// row transitioned so the caller can treat a repeat call as a no-op.
	CompleteSession(ctx context.Context, sessionID string) (bool, error)
	// SaveNotes persists the close-time recap onto the session row along
	// with the title and the narrative snapshot taken before evolution.
	SaveNotes(ctx context.Context, sessionID string, notes *SessionNotes, title, narrativeSnapshot, milestone string) error
	SetTitle(ctx context.Context, sessionID, title string) error
	SetEvolutionStatus(ctx context.Context, sessionID string, status EvolutionStatus) error
	// ListUnevolved returns the user's completed sessions whose evolution
	// status is not completed, excluding excludeSessionID, oldest first.
	ListUnevolved(ctx context.Context, userID, excludeSessionID string) ([]Session, error)

	AppendMessage(ctx context.Context, message *Message) error
	// GetMessages returns the transcript in ascending created-at order.
	GetMessages(ctx context.Context, sessionID string) ([]Message, error)
}
