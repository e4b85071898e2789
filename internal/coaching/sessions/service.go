package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionService implements the SessionManager interface
type SessionService struct {
	store SessionStore
}

// NewService creates a new session service
func NewService(store SessionStore) *SessionService {
	return &SessionService{
		store: store,
	}
}

// CreateSession creates a new active session for a user
func (s *SessionService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	now := time.Now()
	session := &Session{
		UUID:             uuid.New(),
		SessionID:        uuid.New().String(),
		UserID:           req.UserID,
		Status:           StatusActive,
		EvolutionStatus:  EvolutionPending,
		Hypothesis:       req.Hypothesis,
		OpeningDirection: req.OpeningDirection,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// AppendMessage appends a transcript turn to an existing active session
func (s *SessionService) AppendMessage(ctx context.Context, req *AppendMessageRequest) (*Message, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if req.Content == "" {
		return nil, fmt.Errorf("content is required")
	}

	role := MessageRole(req.Role)
	if role != RoleUser && role != RoleAssistant {
		return nil, fmt.Errorf("role must be %q or %q", RoleUser, RoleAssistant)
	}

	session, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %s not found", req.SessionID)
	}
	if session.Status != StatusActive {
		return nil, fmt.Errorf("session %s is not active", req.SessionID)
	}

	message := &Message{
		UUID:      uuid.New(),
		SessionID: req.SessionID,
		Role:      role,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}

	if err := s.store.AppendMessage(ctx, message); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	return message, nil
}
