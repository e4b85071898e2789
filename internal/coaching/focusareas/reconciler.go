package focusareas

import (
	"github.com/google/uuid"
)

// The reconciler is pure merge logic resolving generator output against
// existing focus-area records. The generator speaks in focus-area text; the
// reconciler resolves that text to a stable record by exact string equality
// and plans the mutation. Anything that does not resolve is skipped, never
// invented: an orphaned reflection is worse than a dropped one.

// MatchActive finds the active focus area whose text equals text exactly.
// Returns nil when no active area matches.
func MatchActive(areas []FocusArea, text string) *FocusArea {
	for i := range areas {
		if areas[i].Active() && areas[i].Text == text {
			return &areas[i]
		}
	}
	return nil
}

// AppendReflection appends a reflection to the area in memory, deduplicating
// by session id. Returns false when the area already holds a reflection for
// that session.
func AppendReflection(area *FocusArea, reflection Reflection) bool {
	for _, existing := range area.Reflections {
		if existing.SessionID == reflection.SessionID {
			return false
		}
	}
	area.Reflections = append(area.Reflections, reflection)
	return true
}

// PlanReframe builds the replacement record for an update_text action. The
// replacement is a brand-new row carrying the old area's reflection history
// forward in order; the old record is archived, never mutated again.
func PlanReframe(old *FocusArea, newText string) *FocusArea {
	reflections := make([]Reflection, len(old.Reflections))
	copy(reflections, old.Reflections)

	return &FocusArea{
		UUID:        uuid.New(),
		UserID:      old.UserID,
		Text:        newText,
		Source:      old.Source,
		Reflections: reflections,
	}
}
