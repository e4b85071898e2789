package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PostgresStore implements SessionStore with PostgreSQL storage
type PostgresStore struct {
	db *bun.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

// SessionSchema represents the sessions table schema
type SessionSchema struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	UUID              uuid.UUID     `bun:"uuid,pk,type:uuid" json:"uuid"`
	SessionID         string        `bun:"session_id,notnull,unique" json:"session_id"`
	UserID            string        `bun:"user_id,notnull" json:"user_id"`
	Status            string        `bun:"status,notnull" json:"status"`
	EvolutionStatus   string        `bun:"evolution_status,notnull" json:"evolution_status"`
	Title             string        `bun:"title,nullzero" json:"title,omitempty"`
	Hypothesis        string        `bun:"hypothesis,nullzero" json:"hypothesis,omitempty"`
	OpeningDirection  string        `bun:"opening_direction,nullzero" json:"opening_direction,omitempty"`
	Notes             *SessionNotes `bun:"session_notes,type:jsonb,nullzero" json:"session_notes,omitempty"`
	NarrativeSnapshot string        `bun:"narrative_snapshot,nullzero" json:"narrative_snapshot,omitempty"`
	Milestone         string        `bun:"milestone,nullzero" json:"milestone,omitempty"`
	CreatedAt         time.Time     `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt         time.Time     `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// MessageSchema represents the messages table schema
type MessageSchema struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	UUID      uuid.UUID `bun:"uuid,pk,type:uuid" json:"uuid"`
	SessionID string    `bun:"session_id,notnull" json:"session_id"`
	Role      string    `bun:"role,notnull" json:"role"`
	Content   string    `bun:"content,notnull" json:"content"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// SessionIndexes holds index DDL applied at migration time
var SessionIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_sessions_session_id ON sessions(session_id)",
	"CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)",
	"CREATE INDEX IF NOT EXISTS idx_sessions_evolution ON sessions(user_id, status, evolution_status)",
	"CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)",
}

// CreateSession creates a new session row
func (s *PostgresStore) CreateSession(ctx context.Context, session *Session) error {
	schema := sessionToSchema(session)

	_, err := s.db.NewInsert().
		Model(schema).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by ID
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var schema SessionSchema
	err := s.db.NewSelect().
		Model(&schema).
		Where("session_id = ?", sessionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return schemaToSession(schema), nil
}

// LatestCompleted returns the user's most recently completed session,
// excluding excludeSessionID so a session mid-close never reads itself as
// its own predecessor.
func (s *PostgresStore) LatestCompleted(ctx context.Context, userID, excludeSessionID string) (*Session, error) {
	var schema SessionSchema
	query := s.db.NewSelect().
		Model(&schema).
		Where("user_id = ?", userID).
		Where("status = ?", string(StatusCompleted)).
		Order("created_at DESC").
		Limit(1)
	if excludeSessionID != "" {
		query = query.Where("session_id != ?", excludeSessionID)
	}
	err := query.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest completed session: %w", err)
	}

	return schemaToSession(schema), nil
}

// DeleteSession hard-deletes the session row and its transcript. Used for
// zero-signal closes where no record should remain.
func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.NewDelete().
		Model((*MessageSchema)(nil)).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}

	result, err := s.db.NewDelete().
		Model((*SessionSchema)(nil)).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session with id %s not found", sessionID)
	}

	return nil
}

// CompleteSession conditionally transitions an active session to completed
// with evolution pending. Safe to call again for an already-completed
// session; the second call reports no transition.
func (s *PostgresStore) CompleteSession(ctx context.Context, sessionID string) (bool, error) {
	result, err := s.db.NewUpdate().
		Model((*SessionSchema)(nil)).
		Where("session_id = ?", sessionID).
		Where("status = ?", string(StatusActive)).
		Set("status = ?", string(StatusCompleted)).
		Set("evolution_status = ?", string(EvolutionPending)).
		Set("updated_at = ?", time.Now()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to complete session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// SaveNotes persists the close-time recap onto the session row
func (s *PostgresStore) SaveNotes(ctx context.Context, sessionID string, notes *SessionNotes, title, narrativeSnapshot, milestone string) error {
	payload, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("failed to encode session notes: %w", err)
	}

	query := s.db.NewUpdate().
		Model((*SessionSchema)(nil)).
		Where("session_id = ?", sessionID).
		Set("session_notes = ?", string(payload)).
		Set("title = ?", title).
		Set("narrative_snapshot = ?", narrativeSnapshot).
		Set("updated_at = ?", time.Now())
	if milestone != "" {
		query = query.Set("milestone = ?", milestone)
	}

	if _, err := query.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session notes: %w", err)
	}

	return nil
}

// SetTitle updates the session title
func (s *PostgresStore) SetTitle(ctx context.Context, sessionID, title string) error {
	_, err := s.db.NewUpdate().
		Model((*SessionSchema)(nil)).
		Where("session_id = ?", sessionID).
		Set("title = ?", title).
		Set("updated_at = ?", time.Now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set session title: %w", err)
	}

	return nil
}

// SetEvolutionStatus records the terminal state of a pipeline run
func (s *PostgresStore) SetEvolutionStatus(ctx context.Context, sessionID string, status EvolutionStatus) error {
	_, err := s.db.NewUpdate().
		Model((*SessionSchema)(nil)).
		Where("session_id = ?", sessionID).
		Set("evolution_status = ?", string(status)).
		Set("updated_at = ?", time.Now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set evolution status: %w", err)
	}

	return nil
}

// ListUnevolved returns completed sessions whose evolution has not finished,
// oldest first. The retry scan on session open feeds from this.
func (s *PostgresStore) ListUnevolved(ctx context.Context, userID, excludeSessionID string) ([]Session, error) {
	var schemas []SessionSchema
	query := s.db.NewSelect().
		Model(&schemas).
		Where("user_id = ?", userID).
		Where("status = ?", string(StatusCompleted)).
		Where("evolution_status != ?", string(EvolutionCompleted)).
		Order("created_at ASC")
	if excludeSessionID != "" {
		query = query.Where("session_id != ?", excludeSessionID)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list unevolved sessions: %w", err)
	}

	result := make([]Session, len(schemas))
	for i, schema := range schemas {
		result[i] = *schemaToSession(schema)
	}
	return result, nil
}

// AppendMessage appends a transcript turn
func (s *PostgresStore) AppendMessage(ctx context.Context, message *Message) error {
	schema := &MessageSchema{
		UUID:      message.UUID,
		SessionID: message.SessionID,
		Role:      string(message.Role),
		Content:   message.Content,
		CreatedAt: message.CreatedAt,
	}

	_, err := s.db.NewInsert().
		Model(schema).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return nil
}

// GetMessages returns the transcript in ascending created-at order
func (s *PostgresStore) GetMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var schemas []MessageSchema
	err := s.db.NewSelect().
		Model(&schemas).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	messages := make([]Message, len(schemas))
	for i, schema := range schemas {
		messages[i] = Message{
			UUID:      schema.UUID,
			SessionID: schema.SessionID,
			Role:      MessageRole(schema.Role),
			Content:   schema.Content,
			CreatedAt: schema.CreatedAt,
		}
	}
	return messages, nil
}

func sessionToSchema(session *Session) *SessionSchema {
	return &SessionSchema{
		UUID:              session.UUID,
		SessionID:         session.SessionID,
		UserID:            session.UserID,
		Status:            string(session.Status),
		EvolutionStatus:   string(session.EvolutionStatus),
		Title:             session.Title,
		Hypothesis:        session.Hypothesis,
		OpeningDirection:  session.OpeningDirection,
		Notes:             session.Notes,
		NarrativeSnapshot: session.NarrativeSnapshot,
		Milestone:         session.Milestone,
		CreatedAt:         session.CreatedAt,
		UpdatedAt:         session.UpdatedAt,
	}
}

func schemaToSession(schema SessionSchema) *Session {
	return &Session{
		UUID:              schema.UUID,
		SessionID:         schema.SessionID,
		UserID:            schema.UserID,
		Status:            SessionStatus(schema.Status),
		EvolutionStatus:   EvolutionStatus(schema.EvolutionStatus),
		Title:             schema.Title,
		Hypothesis:        schema.Hypothesis,
		OpeningDirection:  schema.OpeningDirection,
		Notes:             schema.Notes,
		NarrativeSnapshot: schema.NarrativeSnapshot,
		Milestone:         schema.Milestone,
		CreatedAt:         schema.CreatedAt,
		UpdatedAt:         schema.UpdatedAt,
	}
}
