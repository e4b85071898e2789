package understanding

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

// UnderstandingSchema represents the understandings table schema
type UnderstandingSchema struct {
	bun.BaseModel `bun:"table:understandings,alias:u"`

	UUID          uuid.UUID `bun:"uuid,pk,type:uuid" json:"uuid"`
	UserID        string    `bun:"user_id,notnull,unique" json:"user_id"`
	Understanding string    `bun:"understanding,notnull" json:"understanding"`
	Snippet       string    `bun:"snippet,nullzero" json:"snippet,omitempty"`
	StageOfChange string    `bun:"stage_of_change,nullzero" json:"stage_of_change,omitempty"`
	TensionType   string    `bun:"tension_type,nullzero" json:"tension_type,omitempty"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// UnderstandingIndexes holds index DDL applied at migration time
var UnderstandingIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_understandings_user_id ON understandings(user_id)",
}

// Get returns the user's understanding record, or nil when none exists
func (s *PostgresStore) Get(ctx context.Context, userID string) (*Understanding, error) {
	var schema UnderstandingSchema
	err := s.db.NewSelect().
		Model(&schema).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get understanding: %w", err)
	}

	return &Understanding{
		UUID:          schema.UUID,
		UserID:        schema.UserID,
		Understanding: schema.Understanding,
		Snippet:       schema.Snippet,
		StageOfChange: StageOfChange(schema.StageOfChange),
		TensionType:   schema.TensionType,
		CreatedAt:     schema.CreatedAt,
		UpdatedAt:     schema.UpdatedAt,
	}, nil
}

// Upsert inserts or replaces the user's understanding record
func (s *PostgresStore) Upsert(ctx context.Context, u *Understanding) error {
	if u.UserID == "" {
		return fmt.Errorf("user_id cannot be empty")
	}
	if u.UUID == uuid.Nil {
		u.UUID = uuid.New()
	}
	u.UpdatedAt = time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = u.UpdatedAt
	}

	schema := &UnderstandingSchema{
		UUID:          u.UUID,
		UserID:        u.UserID,
		Understanding: u.Understanding,
		Snippet:       u.Snippet,
		StageOfChange: string(u.StageOfChange),
		TensionType:   u.TensionType,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}

	_, err := s.db.NewInsert().
		Model(schema).
		On("CONFLICT (user_id) DO UPDATE").
		Set("understanding = EXCLUDED.understanding").
		Set("snippet = EXCLUDED.snippet").
		Set("stage_of_change = EXCLUDED.stage_of_change").
		Set("tension_type = EXCLUDED.tension_type").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert understanding: %w", err)
	}

	return nil
}
