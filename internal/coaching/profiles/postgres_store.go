package profiles

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

// ProfileSchema represents the profiles table schema
type ProfileSchema struct {
	bun.BaseModel `bun:"table:profiles,alias:p"`

	UUID                uuid.UUID         `bun:"uuid,pk,type:uuid" json:"uuid"`
	UserID              string            `bun:"user_id,notnull,unique" json:"user_id"`
	Name                string            `bun:"name,nullzero" json:"name,omitempty"`
	TensionType         string            `bun:"tension_type,nullzero" json:"tension_type,omitempty"`
	CompletedOnboarding bool              `bun:"completed_onboarding,notnull,default:false" json:"completed_onboarding"`
	OnboardingAnswers   map[string]string `bun:"onboarding_answers,type:jsonb" json:"onboarding_answers,omitempty"`
	CreatedAt           time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt           time.Time         `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// ProfileIndexes holds index DDL applied at migration time
var ProfileIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_profiles_user_id ON profiles(user_id)",
}

// Get retrieves a profile by user id
func (s *PostgresStore) Get(ctx context.Context, userID string) (*Profile, error) {
	var schema ProfileSchema
	err := s.db.NewSelect().
		Model(&schema).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &Profile{
		UUID:                schema.UUID,
		UserID:              schema.UserID,
		Name:                schema.Name,
		TensionType:         schema.TensionType,
		CompletedOnboarding: schema.CompletedOnboarding,
		OnboardingAnswers:   schema.OnboardingAnswers,
		CreatedAt:           schema.CreatedAt,
		UpdatedAt:           schema.UpdatedAt,
	}, nil
}

// Upsert inserts or replaces a profile
func (s *PostgresStore) Upsert(ctx context.Context, profile *Profile) error {
	if profile.UserID == "" {
		return fmt.Errorf("user_id cannot be empty")
	}
	if profile.UUID == uuid.Nil {
		profile.UUID = uuid.New()
	}
	profile.UpdatedAt = time.Now()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = profile.UpdatedAt
	}

	schema := &ProfileSchema{
		UUID:                profile.UUID,
		UserID:              profile.UserID,
		Name:                profile.Name,
		TensionType:         profile.TensionType,
		CompletedOnboarding: profile.CompletedOnboarding,
		OnboardingAnswers:   profile.OnboardingAnswers,
		CreatedAt:           profile.CreatedAt,
		UpdatedAt:           profile.UpdatedAt,
	}

	_, err := s.db.NewInsert().
		Model(schema).
		On("CONFLICT (user_id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("tension_type = EXCLUDED.tension_type").
		Set("completed_onboarding = EXCLUDED.completed_onboarding").
		Set("onboarding_answers = EXCLUDED.onboarding_answers").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	return nil
}

// CountSessions reports how many sessions the user has opened
func (s *PostgresStore) CountSessions(ctx context.Context, userID string) (int, error) {
	count, err := s.db.NewSelect().
		Table("sessions").
		Where("user_id = ?", userID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}
