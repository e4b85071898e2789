package focusareas

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

// FocusAreaSchema represents the focus_areas table schema. Reflections are a
// jsonb payload with a single versioned shape rather than loose maps.
type FocusAreaSchema struct {
	bun.BaseModel `bun:"table:focus_areas,alias:fa"`

	UUID        uuid.UUID    `bun:"uuid,pk,type:uuid" json:"uuid"`
	UserID      string       `bun:"user_id,notnull" json:"user_id"`
	Text        string       `bun:"text,notnull" json:"text"`
	Source      string       `bun:"source,notnull" json:"source"`
	ArchivedAt  *time.Time   `bun:"archived_at,nullzero" json:"archived_at,omitempty"`
	Reflections []Reflection `bun:"reflections,type:jsonb" json:"reflections"`
	CreatedAt   time.Time    `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time    `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// FocusAreaIndexes holds index DDL applied at migration time
var FocusAreaIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_focus_areas_user_active ON focus_areas(user_id) WHERE archived_at IS NULL",
	"CREATE INDEX IF NOT EXISTS idx_focus_areas_created_at ON focus_areas(created_at)",
}

// Create inserts a new focus area
func (s *PostgresStore) Create(ctx context.Context, area *FocusArea) error {
	if area.UUID == uuid.Nil {
		area.UUID = uuid.New()
	}
	now := time.Now()
	if area.CreatedAt.IsZero() {
		area.CreatedAt = now
	}
	area.UpdatedAt = now
	if area.Reflections == nil {
		area.Reflections = []Reflection{}
	}

	schema := areaToSchema(area)
	_, err := s.db.NewInsert().
		Model(schema).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create focus area: %w", err)
	}

	return nil
}

// ListActive returns the user's unarchived focus areas, oldest first
func (s *PostgresStore) ListActive(ctx context.Context, userID string) ([]FocusArea, error) {
	var schemas []FocusAreaSchema
	err := s.db.NewSelect().
		Model(&schemas).
		Where("user_id = ?", userID).
		Where("archived_at IS NULL").
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list focus areas: %w", err)
	}

	areas := make([]FocusArea, len(schemas))
	for i, schema := range schemas {
		areas[i] = *schemaToArea(schema)
	}
	return areas, nil
}

// AppendReflection adds a reflection to an active area unless one already
// exists for the same session id
func (s *PostgresStore) AppendReflection(ctx context.Context, areaID uuid.UUID, reflection Reflection) (bool, error) {
	var schema FocusAreaSchema
	err := s.db.NewSelect().
		Model(&schema).
		Where("uuid = ?", areaID).
		Where("archived_at IS NULL").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("focus area %s not found or archived", areaID)
		}
		return false, fmt.Errorf("failed to load focus area: %w", err)
	}

	area := schemaToArea(schema)
	if !AppendReflection(area, reflection) {
		// Already reflected for this session; idempotent skip.
		return false, nil
	}

	payload, err := json.Marshal(area.Reflections)
	if err != nil {
		return false, fmt.Errorf("failed to encode reflections: %w", err)
	}

	_, err = s.db.NewUpdate().
		Model((*FocusAreaSchema)(nil)).
		Where("uuid = ?", areaID).
		Where("archived_at IS NULL").
		Set("reflections = ?", string(payload)).
		Set("updated_at = ?", time.Now()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to append reflection: %w", err)
	}

	return true, nil
}

// Archive marks an active area archived
func (s *PostgresStore) Archive(ctx context.Context, areaID uuid.UUID) error {
	now := time.Now()
	_, err := s.db.NewUpdate().
		Model((*FocusAreaSchema)(nil)).
		Where("uuid = ?", areaID).
		Where("archived_at IS NULL").
		Set("archived_at = ?", now).
		Set("updated_at = ?", now).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to archive focus area: %w", err)
	}

	return nil
}

// Reframe archives the old area and inserts its replacement transactionally
func (s *PostgresStore) Reframe(ctx context.Context, oldAreaID uuid.UUID, replacement *FocusArea) error {
	if replacement.UUID == uuid.Nil {
		replacement.UUID = uuid.New()
	}
	now := time.Now()
	if replacement.CreatedAt.IsZero() {
		replacement.CreatedAt = now
	}
	replacement.UpdatedAt = now

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewUpdate().
			Model((*FocusAreaSchema)(nil)).
			Where("uuid = ?", oldAreaID).
			Where("archived_at IS NULL").
			Set("archived_at = ?", now).
			Set("updated_at = ?", now).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to archive focus area: %w", err)
		}

		schema := areaToSchema(replacement)
		if _, err := tx.NewInsert().Model(schema).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert replacement focus area: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reframe focus area: %w", err)
	}

	return nil
}

func areaToSchema(area *FocusArea) *FocusAreaSchema {
	return &FocusAreaSchema{
		UUID:        area.UUID,
		UserID:      area.UserID,
		Text:        area.Text,
		Source:      string(area.Source),
		ArchivedAt:  area.ArchivedAt,
		Reflections: area.Reflections,
		CreatedAt:   area.CreatedAt,
		UpdatedAt:   area.UpdatedAt,
	}
}

func schemaToArea(schema FocusAreaSchema) *FocusArea {
	reflections := schema.Reflections
	if reflections == nil {
		reflections = []Reflection{}
	}
	return &FocusArea{
		UUID:        schema.UUID,
		UserID:      schema.UserID,
		Text:        schema.Text,
		Source:      Source(schema.Source),
		ArchivedAt:  schema.ArchivedAt,
		Reflections: reflections,
		CreatedAt:   schema.CreatedAt,
		UpdatedAt:   schema.UpdatedAt,
	}
}
