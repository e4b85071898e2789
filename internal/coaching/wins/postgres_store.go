package wins

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PostgresStore implements Store with PostgreSQL storage
type PostgresStore struct {
	db *bun.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(db *bun.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
	}
}

// WinSchema represents the wins table schema
type WinSchema struct {
	bun.BaseModel `bun:"table:wins,alias:w"`

	UUID        uuid.UUID `bun:"uuid,pk,type:uuid" json:"uuid"`
	UserID      string    `bun:"user_id,notnull" json:"user_id"`
	SessionID   string    `bun:"session_id,nullzero" json:"session_id,omitempty"`
	FocusAreaID string    `bun:"focus_area_id,nullzero" json:"focus_area_id,omitempty"`
	Text        string    `bun:"text,notnull" json:"text"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// WinIndexes holds index DDL applied at migration time
var WinIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_wins_user_created ON wins(user_id, created_at DESC)",
	"CREATE INDEX IF NOT EXISTS idx_wins_session ON wins(session_id)",
}

// Create records a win
func (s *PostgresStore) Create(ctx context.Context, win *Win) error {
	if win.UserID == "" {
		return fmt.Errorf("user_id cannot be empty")
	}
	if win.Text == "" {
		return fmt.Errorf("text cannot be empty")
	}
	if win.UUID == uuid.Nil {
		win.UUID = uuid.New()
	}
	if win.CreatedAt.IsZero() {
		win.CreatedAt = time.Now()
	}

	schema := &WinSchema{
		UUID:        win.UUID,
		UserID:      win.UserID,
		SessionID:   win.SessionID,
		FocusAreaID: win.FocusAreaID,
		Text:        win.Text,
		CreatedAt:   win.CreatedAt,
	}

	_, err := s.db.NewInsert().
		Model(schema).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create win: %w", err)
	}

	return nil
}

// Recent returns the user's most recent wins, newest first
func (s *PostgresStore) Recent(ctx context.Context, userID string, limit int) ([]Win, error) {
	if limit <= 0 {
		limit = 10
	}

	var schemas []WinSchema
	err := s.db.NewSelect().
		Model(&schemas).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent wins: %w", err)
	}

	return schemasToWins(schemas), nil
}

// ForSession returns wins logged against one session, oldest first
func (s *PostgresStore) ForSession(ctx context.Context, sessionID string) ([]Win, error) {
	var schemas []WinSchema
	err := s.db.NewSelect().
		Model(&schemas).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list session wins: %w", err)
	}

	return schemasToWins(schemas), nil
}

func schemasToWins(schemas []WinSchema) []Win {
	wins := make([]Win, len(schemas))
	for i, schema := range schemas {
		wins[i] = Win{
			UUID:        schema.UUID,
			UserID:      schema.UserID,
			SessionID:   schema.SessionID,
			FocusAreaID: schema.FocusAreaID,
			Text:        schema.Text,
			CreatedAt:   schema.CreatedAt,
		}
	}
	return wins
}
