package focusareas

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchActive(t *testing.T) {
	archivedAt := time.Now()
	areas := []FocusArea{
		{UUID: uuid.New(), Text: "Feel okay spending on myself"},
		{UUID: uuid.New(), Text: "Stop doom-checking my balance", ArchivedAt: &archivedAt},
		{UUID: uuid.New(), Text: "Save for the move"},
	}

	t.Run("exact match on active area", func(t *testing.T) {
		match := MatchActive(areas, "Feel okay spending on myself")
		require.NotNil(t, match)
		assert.Equal(t, areas[0].UUID, match.UUID)
	})

	t.Run("archived areas never match", func(t *testing.T) {
		assert.Nil(t, MatchActive(areas, "Stop doom-checking my balance"))
	})

	t.Run("paraphrase does not match", func(t *testing.T) {
		assert.Nil(t, MatchActive(areas, "feel okay spending on myself"))
	})

	t.Run("no areas", func(t *testing.T) {
		assert.Nil(t, MatchActive(nil, "anything"))
	})
}

func TestAppendReflectionDedupesBySession(t *testing.T) {
	area := &FocusArea{
		UUID: uuid.New(),
		Text: "Save for the move",
		Reflections: []Reflection{
			{SessionID: "sess-1", Text: "Named the fear of the number going down"},
		},
	}

	appended := AppendReflection(area, Reflection{SessionID: "sess-2", Text: "Set up a separate account"})
	require.True(t, appended)
	require.Len(t, area.Reflections, 2)

	// Second reflection for the same session is dropped.
	appended = AppendReflection(area, Reflection{SessionID: "sess-2", Text: "Different wording, same session"})
	assert.False(t, appended)
	assert.Len(t, area.Reflections, 2)
	assert.Equal(t, "Set up a separate account", area.Reflections[1].Text)
}

func TestPlanReframePreservesHistory(t *testing.T) {
	old := &FocusArea{
		UUID:   uuid.New(),
		UserID: "user-1",
		Text:   "Stop impulse buying",
		Source: SourceCoach,
		Reflections: []Reflection{
			{SessionID: "sess-1", Text: "Traced the trigger to late-night scrolling"},
			{SessionID: "sess-2", Text: "Tried a 24-hour wait rule"},
		},
	}

	replacement := PlanReframe(old, "Buy with intention, not impulse")

	assert.NotEqual(t, old.UUID, replacement.UUID)
	assert.Equal(t, "user-1", replacement.UserID)
	assert.Equal(t, "Buy with intention, not impulse", replacement.Text)
	assert.Equal(t, SourceCoach, replacement.Source)
	assert.Nil(t, replacement.ArchivedAt)

	// Reflection history carries forward in order.
	require.Len(t, replacement.Reflections, 2)
	assert.Equal(t, old.Reflections, replacement.Reflections)

	// The copy is independent: growing the replacement must not touch the
	// archived record's history.
	AppendReflection(replacement, Reflection{SessionID: "sess-3", Text: "New chapter"})
	assert.Len(t, old.Reflections, 2)
	assert.Len(t, replacement.Reflections, 3)
}
