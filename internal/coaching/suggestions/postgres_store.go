package suggestions

import (
	"context"
	"database/sql"
	"errors"
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

// SuggestionSetSchema represents the suggestion_sets table schema. The
// suggestions themselves live in a jsonb column; the struct they decode into
// is the single versioned shape for that payload.
type SuggestionSetSchema struct {
	bun.BaseModel `bun:"table:suggestion_sets,alias:ss"`

	UUID                    uuid.UUID           `bun:"uuid,pk,type:uuid" json:"uuid"`
	UserID                  string              `bun:"user_id,notnull" json:"user_id"`
	GeneratedAfterSessionID string              `bun:"generated_after_session_id,notnull,unique" json:"generated_after_session_id"`
	Suggestions             []SessionSuggestion `bun:"suggestions,type:jsonb" json:"suggestions"`
	CreatedAt               time.Time           `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// SuggestionIndexes holds index DDL applied at migration time
var SuggestionIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_suggestion_sets_user_created ON suggestion_sets(user_id, created_at DESC)",
	"CREATE INDEX IF NOT EXISTS idx_suggestion_sets_session ON suggestion_sets(generated_after_session_id)",
}

// InsertSet persists a suggestion set, skipping silently when one already
// exists for the same session
func (s *PostgresStore) InsertSet(ctx context.Context, set *SuggestionSet) (bool, error) {
	if set.UUID == uuid.Nil {
		set.UUID = uuid.New()
	}
	if set.CreatedAt.IsZero() {
		set.CreatedAt = time.Now()
	}

	schema := &SuggestionSetSchema{
		UUID:                    set.UUID,
		UserID:                  set.UserID,
		GeneratedAfterSessionID: set.GeneratedAfterSessionID,
		Suggestions:             set.Suggestions,
		CreatedAt:               set.CreatedAt,
	}

	result, err := s.db.NewInsert().
		Model(schema).
		On("CONFLICT (generated_after_session_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to insert suggestion set: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// ExistsForSession reports whether a set was already generated for a session
func (s *PostgresStore) ExistsForSession(ctx context.Context, sessionID string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*SuggestionSetSchema)(nil)).
		Where("generated_after_session_id = ?", sessionID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check suggestion set existence: %w", err)
	}
	return exists, nil
}

// Latest returns the user's most recent suggestion set
func (s *PostgresStore) Latest(ctx context.Context, userID string) (*SuggestionSet, error) {
	var schema SuggestionSetSchema
	err := s.db.NewSelect().
		Model(&schema).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest suggestion set: %w", err)
	}

	return &SuggestionSet{
		UUID:                    schema.UUID,
		UserID:                  schema.UserID,
		GeneratedAfterSessionID: schema.GeneratedAfterSessionID,
		Suggestions:             schema.Suggestions,
		CreatedAt:               schema.CreatedAt,
	}, nil
}

// RecentTitles returns suggestion titles from the user's most recent sets
func (s *PostgresStore) RecentTitles(ctx context.Context, userID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}

	var schemas []SuggestionSetSchema
	err := s.db.NewSelect().
		Model(&schemas).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent suggestion sets: %w", err)
	}

	var titles []string
	for _, schema := range schemas {
		for _, suggestion := range schema.Suggestions {
			titles = append(titles, suggestion.Title)
		}
	}
	return titles, nil
}
