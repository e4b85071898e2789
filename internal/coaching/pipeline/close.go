// Package pipeline orchestrates the session lifecycle boundaries: the
// tiered close pipeline run when a session ends and the open orchestrator
// run when the next one starts.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pathwise/pathwise/internal/coaching/focusareas"
	"github.com/pathwise/pathwise/internal/coaching/notes"
	"github.com/pathwise/pathwise/internal/coaching/profiles"
	"github.com/pathwise/pathwise/internal/coaching/sessions"
	"github.com/pathwise/pathwise/internal/coaching/strategist"
	"github.com/pathwise/pathwise/internal/coaching/suggestions"
	"github.com/pathwise/pathwise/internal/coaching/understanding"
	"github.com/pathwise/pathwise/internal/coaching/wins"
)

// Transcripts below minSubstantiveUserTurns get the light close: recap and
// understanding work are skipped because one or two user turns carry no
// durable signal. A transcript with zero user turns is discarded outright.
const minSubstantiveUserTurns = 3

const briefHeadline = "Brief session"

const briefNarrative = "This was a short check-in. Nothing was added to your story this time."

const recentWinsLimit = 5

const recentTitlesLimit = 24

// ClosePipeline runs the tiered post-session work. All LLM degradation is
// absorbed below this layer; an error returned from Run means storage
// failed, and the session is left marked for the evolution retry scan.
type ClosePipeline struct {
	sessions      sessions.SessionStore
	understanding understanding.Store
	suggestions   suggestions.Store
	focusAreas    focusareas.Store
	wins          wins.Store
	profiles      profiles.Store
	notes         *notes.Generator
	strategist    *strategist.Strategist
	logger        *zap.Logger
}

// NewClosePipeline creates a close pipeline
func NewClosePipeline(
	sessionStore sessions.SessionStore,
	understandingStore understanding.Store,
	suggestionStore suggestions.Store,
	focusAreaStore focusareas.Store,
	winStore wins.Store,
	profileStore profiles.Store,
	notesGenerator *notes.Generator,
	strategistSvc *strategist.Strategist,
	logger *zap.Logger,
) *ClosePipeline {
	return &ClosePipeline{
		sessions:      sessionStore,
		understanding: understandingStore,
		suggestions:   suggestionStore,
		focusAreas:    focusAreaStore,
		wins:          winStore,
		profiles:      profileStore,
		notes:         notesGenerator,
		strategist:    strategistSvc,
		logger:        logger,
	}
}

// CloseResult reports what the pipeline did with the session.
type CloseResult struct {
	// Deleted is true when the session held no user turns and was removed
	// entirely.
	Deleted bool
	Notes   *sessions.SessionNotes
}

// Run closes the session. logTag distinguishes the scheduling path in logs
// (explicit close, deferred close, retry scan); it has no semantic effect.
//
// Run is safe to repeat: a session whose evolution already completed is a
// no-op, and a rerun after a partial failure redoes only idempotent writes.
func (p *ClosePipeline) Run(ctx context.Context, sessionID, logTag string) (*CloseResult, error) {
	session, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if session == nil {
		// Already discarded by an earlier run, or never existed. Either way
		// there is nothing left to close.
		p.logger.Info("Close requested for missing session, skipping",
			zap.String("session_id", sessionID),
			zap.String("trigger", logTag))
		return &CloseResult{Deleted: true}, nil
	}
	if session.Status == sessions.StatusCompleted && session.EvolutionStatus == sessions.EvolutionCompleted {
		return &CloseResult{Notes: session.Notes}, nil
	}

	transcript, err := p.sessions.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript for session %s: %w", sessionID, err)
	}

	userTurns := sessions.CountUserMessages(transcript)
	p.logger.Info("Closing session",
		zap.String("session_id", sessionID),
		zap.String("user_id", session.UserID),
		zap.String("trigger", logTag),
		zap.Int("user_turns", userTurns))

	if userTurns == 0 {
		if err := p.sessions.DeleteSession(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("failed to discard empty session %s: %w", sessionID, err)
		}
		return &CloseResult{Deleted: true}, nil
	}

	if _, err := p.sessions.CompleteSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("failed to complete session %s: %w", sessionID, err)
	}

	if userTurns < minSubstantiveUserTurns {
		return p.closeBrief(ctx, sessionID)
	}
	return p.closeFull(ctx, session, transcript)
}

// closeBrief is the light tier: fixed recap, no generation calls, evolution
// marked completed so the retry scan never revisits the session.
func (p *ClosePipeline) closeBrief(ctx context.Context, sessionID string) (*CloseResult, error) {
	briefNotes := &sessions.SessionNotes{
		Headline:  briefHeadline,
		Narrative: briefNarrative,
	}
	if err := p.sessions.SaveNotes(ctx, sessionID, briefNotes, briefHeadline, "", ""); err != nil {
		p.markEvolutionFailed(ctx, sessionID)
		return nil, fmt.Errorf("failed to save brief notes for session %s: %w", sessionID, err)
	}
	if err := p.sessions.SetEvolutionStatus(ctx, sessionID, sessions.EvolutionCompleted); err != nil {
		return nil, fmt.Errorf("failed to finish brief close for session %s: %w", sessionID, err)
	}
	return &CloseResult{Notes: briefNotes}, nil
}

// closeContext is the auxiliary context gathered before the full tier runs.
// Every field is best-effort: a load failure is logged and the field stays
// empty, because a recap built from the transcript alone still beats
// failing the close.
type closeContext struct {
	profile       *profiles.Profile
	understanding *understanding.Understanding
	activeAreas   []focusareas.FocusArea
	sessionWins   []string
	recentWins    []string
	priorTitles   []string
	prevHeadline  string
}

func (p *ClosePipeline) closeFull(ctx context.Context, session *sessions.Session, transcript []sessions.Message) (*CloseResult, error) {
	cc := p.gatherContext(ctx, session)

	tensionType := ""
	if cc.profile != nil {
		tensionType = cc.profile.TensionType
	}
	currentNarrative := ""
	stageOfChange := ""
	if cc.understanding != nil {
		currentNarrative = cc.understanding.Understanding
		stageOfChange = string(cc.understanding.StageOfChange)
	}
	areaTexts := make([]string, 0, len(cc.activeAreas))
	for i := range cc.activeAreas {
		areaTexts = append(areaTexts, cc.activeAreas[i].Text)
	}

	notesResult, err := p.notes.Generate(ctx, notes.Input{
		Transcript:       transcript,
		TensionType:      tensionType,
		Hypothesis:       session.Hypothesis,
		StageOfChange:    stageOfChange,
		PreviousHeadline: cc.prevHeadline,
		FocusAreaTexts:   areaTexts,
		SessionWins:      cc.sessionWins,
	})
	if err != nil {
		p.markEvolutionFailed(ctx, session.SessionID)
		return nil, fmt.Errorf("failed to generate notes for session %s: %w", session.SessionID, err)
	}
	p.logTokens("session_notes", session.SessionID, notesResult.Usage.InputTokens, notesResult.Usage.OutputTokens)

	if err := p.sessions.SaveNotes(ctx, session.SessionID, &notesResult.Notes,
		notesResult.Notes.Headline, currentNarrative, notesResult.Notes.Milestone); err != nil {
		p.markEvolutionFailed(ctx, session.SessionID)
		return nil, fmt.Errorf("failed to save notes for session %s: %w", session.SessionID, err)
	}

	evolveInput := strategist.EvolveInput{
		CurrentUnderstanding: currentNarrative,
		Transcript:           transcript,
		TensionType:          tensionType,
		Hypothesis:           session.Hypothesis,
		StageOfChange:        stageOfChange,
		FocusAreaTexts:       areaTexts,
		NotesHeadline:        notesResult.Notes.Headline,
		KeyMoments:           notesResult.Notes.KeyMoments,
	}

	// A retry after a partial failure may already have persisted this
	// session's suggestions; if so, only the evolution half is still owed.
	alreadySuggested, err := p.suggestions.ExistsForSession(ctx, session.SessionID)
	if err != nil {
		p.logger.Warn("Failed to check for existing suggestion set, assuming none",
			zap.String("session_id", session.SessionID), zap.Error(err))
		alreadySuggested = false
	}

	var evolved *strategist.EvolveResult
	suggested := &strategist.SuggestResult{}
	if alreadySuggested {
		evolved = p.strategist.Evolve(ctx, evolveInput)
	} else {
		evolved, suggested = p.strategist.EvolveAndSuggest(ctx, evolveInput,
			strategist.SuggestInput{
				Understanding:  currentNarrative,
				TensionType:    tensionType,
				RecentHeadline: notesResult.Notes.Headline,
				KeyMoments:     notesResult.Notes.KeyMoments,
				RecentWins:     cc.recentWins,
				FocusAreas:     cc.activeAreas,
				PriorTitles:    cc.priorTitles,
				RichContext:    currentNarrative != "",
			})
	}
	p.logTokens("evolve_and_suggest", session.SessionID, evolved.Usage.InputTokens, evolved.Usage.OutputTokens)

	if err := p.persistUnderstanding(ctx, session.UserID, cc.understanding, evolved, tensionType); err != nil {
		p.markEvolutionFailed(ctx, session.SessionID)
		return nil, err
	}
	if err := p.persistSuggestions(ctx, session, suggested, cc.activeAreas); err != nil {
		p.markEvolutionFailed(ctx, session.SessionID)
		return nil, err
	}
	p.reconcileFocusAreas(ctx, session, suggested, cc.activeAreas)

	if err := p.sessions.SetEvolutionStatus(ctx, session.SessionID, sessions.EvolutionCompleted); err != nil {
		return nil, fmt.Errorf("failed to finish close for session %s: %w", session.SessionID, err)
	}
	return &CloseResult{Notes: &notesResult.Notes}, nil
}

func (p *ClosePipeline) gatherContext(ctx context.Context, session *sessions.Session) closeContext {
	var cc closeContext
	var err error

	if cc.profile, err = p.profiles.Get(ctx, session.UserID); err != nil {
		p.logger.Warn("Failed to load profile for close, continuing without",
			zap.String("user_id", session.UserID), zap.Error(err))
	}
	if cc.understanding, err = p.understanding.Get(ctx, session.UserID); err != nil {
		p.logger.Warn("Failed to load understanding for close, continuing without",
			zap.String("user_id", session.UserID), zap.Error(err))
		cc.understanding = nil
	}
	if cc.activeAreas, err = p.focusAreas.ListActive(ctx, session.UserID); err != nil {
		p.logger.Warn("Failed to load focus areas for close, continuing without",
			zap.String("user_id", session.UserID), zap.Error(err))
		cc.activeAreas = nil
	}

	if sessionWins, err := p.wins.ForSession(ctx, session.SessionID); err != nil {
		p.logger.Warn("Failed to load session wins for close, continuing without",
			zap.String("session_id", session.SessionID), zap.Error(err))
	} else {
		for _, win := range sessionWins {
			cc.sessionWins = append(cc.sessionWins, win.Text)
		}
	}
	if recentWins, err := p.wins.Recent(ctx, session.UserID, recentWinsLimit); err != nil {
		p.logger.Warn("Failed to load recent wins for close, continuing without",
			zap.String("user_id", session.UserID), zap.Error(err))
	} else {
		for _, win := range recentWins {
			cc.recentWins = append(cc.recentWins, win.Text)
		}
	}
	if cc.priorTitles, err = p.suggestions.RecentTitles(ctx, session.UserID, recentTitlesLimit); err != nil {
		p.logger.Warn("Failed to load prior suggestion titles for close, continuing without",
			zap.String("user_id", session.UserID), zap.Error(err))
		cc.priorTitles = nil
	}
	if prev, err := p.sessions.LatestCompleted(ctx, session.UserID, session.SessionID); err != nil {
		p.logger.Warn("Failed to load previous session for close, continuing without",
			zap.String("user_id", session.UserID), zap.Error(err))
	} else if prev != nil && prev.Notes != nil {
		cc.prevHeadline = prev.Notes.Headline
	}
	return cc
}

// persistUnderstanding writes the evolved narrative. A narrative is never
// regressed to empty; an unchanged narrative is written anyway so UpdatedAt
// reflects the evolution pass.
func (p *ClosePipeline) persistUnderstanding(ctx context.Context, userID string, prior *understanding.Understanding, evolved *strategist.EvolveResult, tensionType string) error {
	if evolved.Understanding == "" {
		if prior != nil && prior.Understanding != "" {
			p.logger.Warn("Refusing to regress understanding to empty",
				zap.String("user_id", userID))
			return nil
		}
		return nil
	}

	record := &understanding.Understanding{
		UserID:        userID,
		Understanding: evolved.Understanding,
		Snippet:       evolved.Snippet,
		TensionType:   tensionType,
	}
	if prior != nil {
		record.UUID = prior.UUID
		record.StageOfChange = prior.StageOfChange
		if record.Snippet == "" {
			record.Snippet = prior.Snippet
		}
	}
	if evolved.StageOfChange != "" {
		record.StageOfChange = understanding.StageOfChange(evolved.StageOfChange)
	}

	if err := p.understanding.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to persist understanding for user %s: %w", userID, err)
	}
	return nil
}

// persistSuggestions resolves focus-area links and inserts the suggestion
// set. The insert is keyed on the closing session id, so a pipeline rerun
// after a partial failure cannot produce a duplicate set.
func (p *ClosePipeline) persistSuggestions(ctx context.Context, session *sessions.Session, suggested *strategist.SuggestResult, activeAreas []focusareas.FocusArea) error {
	if len(suggested.Suggestions) == 0 {
		return nil
	}

	resolved := make([]suggestions.SessionSuggestion, 0, len(suggested.Suggestions))
	for _, suggestion := range suggested.Suggestions {
		if suggestion.FocusAreaText != "" {
			if area := focusareas.MatchActive(activeAreas, suggestion.FocusAreaText); area != nil {
				suggestion.FocusAreaID = area.UUID.String()
			}
		}
		resolved = append(resolved, suggestion)
	}

	set := &suggestions.SuggestionSet{
		UserID:                  session.UserID,
		GeneratedAfterSessionID: session.SessionID,
		Suggestions:             resolved,
	}
	inserted, err := p.suggestions.InsertSet(ctx, set)
	if err != nil {
		return fmt.Errorf("failed to persist suggestions for session %s: %w", session.SessionID, err)
	}
	if !inserted {
		p.logger.Info("Suggestion set already exists for session, skipping insert",
			zap.String("session_id", session.SessionID))
	}
	return nil
}

// reconcileFocusAreas applies generator-proposed reflections and actions.
// Every write here is best-effort and individually deduplicated; a failure
// is logged and the close continues, because focus-area bookkeeping must
// never hold the session's recap hostage.
func (p *ClosePipeline) reconcileFocusAreas(ctx context.Context, session *sessions.Session, suggested *strategist.SuggestResult, activeAreas []focusareas.FocusArea) {
	for _, proposed := range suggested.Reflections {
		area := focusareas.MatchActive(activeAreas, proposed.FocusAreaText)
		if area == nil {
			p.logger.Warn("Reflection references unknown focus area, dropping",
				zap.String("session_id", session.SessionID),
				zap.String("focus_area_text", proposed.FocusAreaText))
			continue
		}
		reflection := focusareas.Reflection{
			Date:      time.Now().UTC(),
			SessionID: session.SessionID,
			Text:      proposed.Text,
		}
		if _, err := p.focusAreas.AppendReflection(ctx, area.UUID, reflection); err != nil {
			p.logger.Warn("Failed to append focus-area reflection",
				zap.String("focus_area_id", area.UUID.String()), zap.Error(err))
		}
	}

	for _, action := range suggested.Actions {
		area := focusareas.MatchActive(activeAreas, action.FocusAreaText)
		if area == nil {
			p.logger.Warn("Focus-area action references unknown area, dropping",
				zap.String("session_id", session.SessionID),
				zap.String("focus_area_text", action.FocusAreaText))
			continue
		}
		switch action.Kind {
		case focusareas.ActionArchive:
			if err := p.focusAreas.Archive(ctx, area.UUID); err != nil {
				p.logger.Warn("Failed to archive focus area",
					zap.String("focus_area_id", area.UUID.String()), zap.Error(err))
			}
		case focusareas.ActionUpdateText:
			if action.NewText == "" || action.NewText == area.Text {
				continue
			}
			replacement := focusareas.PlanReframe(area, action.NewText)
			if err := p.focusAreas.Reframe(ctx, area.UUID, replacement); err != nil {
				p.logger.Warn("Failed to reframe focus area",
					zap.String("focus_area_id", area.UUID.String()), zap.Error(err))
			}
		default:
			p.logger.Warn("Unknown focus-area action kind, dropping",
				zap.String("kind", string(action.Kind)))
		}
	}
}

func (p *ClosePipeline) markEvolutionFailed(ctx context.Context, sessionID string) {
	if err := p.sessions.SetEvolutionStatus(ctx, sessionID, sessions.EvolutionFailed); err != nil {
		p.logger.Error("Failed to mark session evolution failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (p *ClosePipeline) logTokens(call, sessionID string, input, output int) {
	if input == 0 && output == 0 {
		return
	}
	p.logger.Info("LLM token usage",
		zap.String("call", call),
		zap.String("session_id", sessionID),
		zap.Int("input_tokens", input),
		zap.Int("output_tokens", output))
}
