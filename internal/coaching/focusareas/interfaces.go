package focusareas

import (
	"context"

	"github.com/google/uuid"
)

// Store defines the interface for focus-area storage operations
type Store interface {
	Create(ctx context.Context, area *FocusArea) error
	// ListActive returns the user's unarchived focus areas, oldest first.
	ListActive(ctx context.Context, userID string) ([]FocusArea, error)
	// AppendReflection adds a reflection unless one for the same session id
	// is already present on the area. Returns whether a reflection was
	// appended; a duplicate is a silent no-op.
	AppendReflection(ctx context.Context, areaID uuid.UUID, reflection Reflection) (bool, error)
	// Archive marks an active area archived. Archiving an already-archived
	// area is a no-op; archived rows are never mutated again.
	Archive(ctx context.Context, areaID uuid.UUID) error
	// Reframe archives the old area and inserts its replacement in one
	// transaction. The replacement is expected to carry the old area's
	// reflection history.
	Reframe(ctx context.Context, oldAreaID uuid.UUID, replacement *FocusArea) error
}
