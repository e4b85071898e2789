package focusareas

import (
	"time"

	"github.com/google/uuid"
)

// Source records who created a focus area.
type Source string

const (
	SourceUser  Source = "user"
	SourceCoach Source = "coach"
)

// Reflection is one dated observation attached to a focus area. Reflections
// are append-only and deduplicated by session id: at most one reflection per
// session per focus area.
type Reflection struct {
	Date      time.Time `json:"date"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
}

// FocusArea is a named, ongoing intention the user is working on. An
// archived area is never reactivated; a reframe archives the old record and
// inserts a new one carrying the reflection history forward.
type FocusArea struct {
	UUID        uuid.UUID    `json:"uuid"`
	UserID      string       `json:"user_id"`
	Text        string       `json:"text"`
	Source      Source       `json:"source"`
	ArchivedAt  *time.Time   `json:"archived_at,omitempty"`
	Reflections []Reflection `json:"reflections"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Active reports whether the focus area has not been archived.
func (f *FocusArea) Active() bool {
	return f.ArchivedAt == nil
}

// ActionKind names a focus-area mutation proposed by the suggestion
// generator.
type ActionKind string

const (
	ActionArchive    ActionKind = "archive"
	ActionUpdateText ActionKind = "update_text"
)

// ProposedReflection is a generator-produced reflection keyed by focus-area
// text. Resolution to a stable id happens in the reconciler.
type ProposedReflection struct {
	FocusAreaText string `json:"focus_area_text"`
	Text          string `json:"text"`
}

// ProposedAction is a generator-produced archive or reframe, keyed by
// focus-area text.
type ProposedAction struct {
	Kind          ActionKind `json:"kind"`
	FocusAreaText string     `json:"focus_area_text"`
	NewText       string     `json:"new_text,omitempty"`
}
