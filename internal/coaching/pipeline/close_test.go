package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pathwise/pathwise/internal/coaching/background"
	"github.com/pathwise/pathwise/internal/coaching/focusareas"
	"github.com/pathwise/pathwise/internal/coaching/notes"
	"github.com/pathwise/pathwise/internal/coaching/sessions"
	"github.com/pathwise/pathwise/internal/coaching/strategist"
	"github.com/pathwise/pathwise/internal/coaching/understanding"
)

const notesReply = `{"headline": "You faced the numbers", "narrative": "You opened the accounts you had been avoiding and stayed with the discomfort.", "key_moments": ["Opened the accounts live"]}`

const combinedReply = `{"understanding": "Avoids looking at accounts, but is building a weekly habit of facing them.", "snippet": "Building a weekly habit of facing the accounts.", "suggestions": [{"title": "Weekly check-in", "length": "standing", "focus_area_text": "Check accounts weekly"}, {"title": "Dig into the avoidance", "length": "deep"}], "focus_area_reflections": [{"focus_area_text": "Check accounts weekly", "text": "Checked the accounts twice without spiraling."}]}`

type fixture struct {
	gen           *fakeGenerator
	sessions      *fakeSessionStore
	understanding *fakeUnderstandingStore
	suggestions   *fakeSuggestionStore
	focusAreas    *fakeFocusAreaStore
	wins          *fakeWinStore
	profiles      *fakeProfileStore
	runner        *background.Runner
	closer        *ClosePipeline
	opener        *Opener
}

func newFixture(replies ...string) *fixture {
	logger := zap.NewNop()
	f := &fixture{
		gen:           &fakeGenerator{replies: replies},
		sessions:      newFakeSessionStore(),
		understanding: newFakeUnderstandingStore(),
		suggestions:   &fakeSuggestionStore{},
		focusAreas:    &fakeFocusAreaStore{},
		wins:          &fakeWinStore{},
		profiles:      newFakeProfileStore(),
		runner:        background.NewRunner(logger, 5*time.Second),
	}
	strategistSvc := strategist.NewStrategist(f.gen, logger)
	f.closer = NewClosePipeline(f.sessions, f.understanding, f.suggestions, f.focusAreas,
		f.wins, f.profiles, notes.NewGenerator(f.gen, logger), strategistSvc, logger)
	f.opener = NewOpener(f.sessions, f.profiles, f.focusAreas, f.suggestions,
		f.understanding, f.gen, strategistSvc, f.closer, f.runner, logger)
	return f
}

// seedSession creates an active session with the given number of user turns,
// each preceded by an assistant turn.
func (f *fixture) seedSession(t *testing.T, userID string, userTurns int) string {
	t.Helper()
	sessionID := uuid.New().String()
	err := f.sessions.CreateSession(context.Background(), &sessions.Session{
		UUID:            uuid.New(),
		SessionID:       sessionID,
		UserID:          userID,
		Status:          sessions.StatusActive,
		EvolutionStatus: sessions.EvolutionPending,
		CreatedAt:       time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, f.sessions.AppendMessage(context.Background(), &sessions.Message{
		UUID: uuid.New(), SessionID: sessionID, Role: sessions.RoleAssistant,
		Content: "What's on your mind with money today?",
	}))
	for i := 0; i < userTurns; i++ {
		require.NoError(t, f.sessions.AppendMessage(context.Background(), &sessions.Message{
			UUID: uuid.New(), SessionID: sessionID, Role: sessions.RoleUser,
			Content: fmt.Sprintf("user turn %d", i+1),
		}))
	}
	return sessionID
}

func (f *fixture) seedFocusArea(t *testing.T, userID, text string) uuid.UUID {
	t.Helper()
	areaID := uuid.New()
	require.NoError(t, f.focusAreas.Create(context.Background(), &focusareas.FocusArea{
		UUID: areaID, UserID: userID, Text: text, Source: focusareas.SourceCoach,
	}))
	return areaID
}

func TestCloseDeletesSessionWithNoUserTurns(t *testing.T) {
	f := newFixture()
	sessionID := f.seedSession(t, "user-1", 0)

	result, err := f.closer.Run(context.Background(), sessionID, "explicit_close")
	require.NoError(t, err)
	assert.True(t, result.Deleted)
	assert.Equal(t, 0, f.gen.calls())

	session, err := f.sessions.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Nil(t, session)
	transcript, err := f.sessions.GetMessages(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Empty(t, transcript)

	// A repeat close of the deleted session stays a no-op.
	result, err = f.closer.Run(context.Background(), sessionID, "explicit_close")
	require.NoError(t, err)
	assert.True(t, result.Deleted)
}

func TestCloseBriefSessionSkipsGeneration(t *testing.T) {
	f := newFixture()
	sessionID := f.seedSession(t, "user-1", 2)

	result, err := f.closer.Run(context.Background(), sessionID, "explicit_close")
	require.NoError(t, err)
	assert.False(t, result.Deleted)
	assert.Equal(t, "Brief session", result.Notes.Headline)
	assert.Equal(t, 0, f.gen.calls())

	session, err := f.sessions.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusCompleted, session.Status)
	assert.Equal(t, sessions.EvolutionCompleted, session.EvolutionStatus)
	assert.Equal(t, "Brief session", session.Title)
	assert.Empty(t, f.suggestions.count())
}

func TestCloseFullPipeline(t *testing.T) {
	f := newFixture(notesReply, combinedReply)
	sessionID := f.seedSession(t, "user-1", 4)
	areaID := f.seedFocusArea(t, "user-1", "Check accounts weekly")
	require.NoError(t, f.understanding.Upsert(context.Background(), &understanding.Understanding{
		UserID: "user-1", Understanding: "Avoids looking at accounts.",
	}))

	result, err := f.closer.Run(context.Background(), sessionID, "explicit_close")
	require.NoError(t, err)
	assert.Equal(t, "You faced the numbers", result.Notes.Headline)
	assert.Equal(t, 2, f.gen.calls())

	session, err := f.sessions.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, sessions.StatusCompleted, session.Status)
	assert.Equal(t, sessions.EvolutionCompleted, session.EvolutionStatus)
	require.NotNil(t, session.Notes)
	assert.Equal(t, "You faced the numbers", session.Notes.Headline)
	// Snapshot preserves the narrative as it stood before this evolution.
	assert.Equal(t, "Avoids looking at accounts.", session.NarrativeSnapshot)

	evolved, err := f.understanding.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Contains(t, evolved.Understanding, "building a weekly habit")

	set, err := f.suggestions.Latest(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, sessionID, set.GeneratedAfterSessionID)
	require.Len(t, set.Suggestions, 2)
	assert.Equal(t, areaID.String(), set.Suggestions[0].FocusAreaID)

	area := f.focusAreas.byID(areaID)
	require.NotNil(t, area)
	require.Len(t, area.Reflections, 1)
	assert.Equal(t, sessionID, area.Reflections[0].SessionID)
}

func TestCloseRerunAfterFailureDoesNotDuplicateWrites(t *testing.T) {
	f := newFixture(notesReply, combinedReply, notesReply, combinedReply)
	sessionID := f.seedSession(t, "user-1", 4)
	areaID := f.seedFocusArea(t, "user-1", "Check accounts weekly")

	_, err := f.closer.Run(context.Background(), sessionID, "explicit_close")
	require.NoError(t, err)

	// Simulate a crash after the writes landed but before the status flip
	// stuck, then rerun the whole pipeline.
	require.NoError(t, f.sessions.SetEvolutionStatus(context.Background(), sessionID, sessions.EvolutionFailed))
	_, err = f.closer.Run(context.Background(), sessionID, "retry_scan")
	require.NoError(t, err)

	assert.Equal(t, 1, f.suggestions.count())
	area := f.focusAreas.byID(areaID)
	require.NotNil(t, area)
	assert.Len(t, area.Reflections, 1)
	assert.Equal(t, sessions.EvolutionCompleted, f.sessions.evolutionStatus(sessionID))
}

func TestCloseAlreadyEvolvedSessionIsNoOp(t *testing.T) {
	f := newFixture(notesReply, combinedReply)
	sessionID := f.seedSession(t, "user-1", 4)

	_, err := f.closer.Run(context.Background(), sessionID, "explicit_close")
	require.NoError(t, err)
	callsAfterFirst := f.gen.calls()

	result, err := f.closer.Run(context.Background(), sessionID, "deferred_close")
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, f.gen.calls())
	require.NotNil(t, result.Notes)
	assert.Equal(t, "You faced the numbers", result.Notes.Headline)
}

func TestCloseMarksEvolutionFailedOnStorageError(t *testing.T) {
	f := newFixture(notesReply, combinedReply, notesReply, combinedReply)
	sessionID := f.seedSession(t, "user-1", 4)
	f.understanding.failUpsert = true

	_, err := f.closer.Run(context.Background(), sessionID, "explicit_close")
	require.Error(t, err)
	assert.Equal(t, sessions.EvolutionFailed, f.sessions.evolutionStatus(sessionID))

	// The failed status is what the retry scan keys on; once storage
	// recovers a rerun completes normally.
	f.understanding.failUpsert = false
	_, err = f.closer.Run(context.Background(), sessionID, "retry_scan")
	require.NoError(t, err)
	assert.Equal(t, sessions.EvolutionCompleted, f.sessions.evolutionStatus(sessionID))
}

func TestCloseSurvivesAuxiliaryContextErrors(t *testing.T) {
	f := newFixture(notesReply, combinedReply)
	sessionID := f.seedSession(t, "user-1", 4)
	f.wins.failAll = true

	result, err := f.closer.Run(context.Background(), sessionID, "explicit_close")
	require.NoError(t, err)
	assert.Equal(t, "You faced the numbers", result.Notes.Headline)
	assert.Equal(t, sessions.EvolutionCompleted, f.sessions.evolutionStatus(sessionID))
}

func TestCloseFallbackNotesStillCompleteEvolution(t *testing.T) {
	f := newFixture("Lovely session, keep going!", "not json either")
	sessionID := f.seedSession(t, "user-1", 3)

	result, err := f.closer.Run(context.Background(), sessionID, "explicit_close")
	require.NoError(t, err)
	assert.Equal(t, notes.FallbackHeadline, result.Notes.Headline)
	assert.Equal(t, "Lovely session, keep going!", result.Notes.Narrative)
	assert.Empty(t, result.Notes.KeyMoments)
	assert.Equal(t, sessions.EvolutionCompleted, f.sessions.evolutionStatus(sessionID))
	assert.Equal(t, 0, f.suggestions.count())
}
