package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pathwise/pathwise/internal/coaching/background"
	"github.com/pathwise/pathwise/internal/coaching/focusareas"
	"github.com/pathwise/pathwise/internal/coaching/profiles"
	"github.com/pathwise/pathwise/internal/coaching/sessions"
	"github.com/pathwise/pathwise/internal/coaching/strategist"
	"github.com/pathwise/pathwise/internal/coaching/suggestions"
	"github.com/pathwise/pathwise/internal/coaching/understanding"
	"github.com/pathwise/pathwise/internal/llm"
)

// FallbackOpeningLine is streamed verbatim when the opening-message
// generation fails outright. The user sees a warm line, never an error.
const FallbackOpeningLine = "Welcome back. Take a breath, and when you're ready, tell me what's on your mind with money today."

// OpenRequest is one session-open call.
type OpenRequest struct {
	UserID string
	// PreviousSessionID, when set, is the still-open session the user is
	// leaving behind. The fast path flips it to completed immediately; its
	// full close runs on the background path.
	PreviousSessionID string
	// SelectedSuggestionIndex picks a suggestion from the user's latest
	// set. Nil or out of range defaults to the newest suggestion.
	SelectedSuggestionIndex *int
	ContinuationNotes       string
}

// OpenResult is what the fast path hands back once the opening message has
// finished streaming.
type OpenResult struct {
	Session        *sessions.Session
	OpeningMessage string
	Usage          llm.Usage
}

// Opener runs the session-open fast path and schedules the background path.
// The fast path performs no generation call other than the single
// opening-message stream; everything owed to the previous session happens
// strictly after the opening response is in flight.
type Opener struct {
	sessions      sessions.SessionStore
	profiles      profiles.Store
	focusAreas    focusareas.Store
	suggestions   suggestions.Store
	understanding understanding.Store
	generator     llm.Generator
	strategist    *strategist.Strategist
	closer        *ClosePipeline
	runner        *background.Runner
	logger        *zap.Logger
}

// NewOpener creates an opener
func NewOpener(
	sessionStore sessions.SessionStore,
	profileStore profiles.Store,
	focusAreaStore focusareas.Store,
	suggestionStore suggestions.Store,
	understandingStore understanding.Store,
	generator llm.Generator,
	strategistSvc *strategist.Strategist,
	closer *ClosePipeline,
	runner *background.Runner,
	logger *zap.Logger,
) *Opener {
	return &Opener{
		sessions:      sessionStore,
		profiles:      profileStore,
		focusAreas:    focusAreaStore,
		suggestions:   suggestionStore,
		understanding: understandingStore,
		generator:     generator,
		strategist:    strategistSvc,
		closer:        closer,
		runner:        runner,
		logger:        logger,
	}
}

// openContext is the stored data the fast path reads before creating the
// session. Every load is best-effort: opening a session must survive any
// subset of this context being unavailable.
type openContext struct {
	profile      *profiles.Profile
	narrative    *understanding.Understanding
	activeAreas  []focusareas.FocusArea
	latestSet    *suggestions.SuggestionSet
	firstSession bool
}

// openingStrategy is the coach's plan for the new session, assembled from
// stored data without any generation call.
type openingStrategy struct {
	title            string
	hypothesis       string
	openingDirection string
	focusAreaID      string
	curiosities      []string
}

// Open runs the fast path: flip the previous session to completed, resolve
// the chosen suggestion, create the session row, and stream the opening
// message through emit. The background path is scheduled after the stream
// ends and never blocks the caller.
func (o *Opener) Open(ctx context.Context, req OpenRequest, emit func(delta string)) (*OpenResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	if req.PreviousSessionID != "" {
		if _, err := o.sessions.CompleteSession(ctx, req.PreviousSessionID); err != nil {
			// The deferred close will complete it instead; opening must
			// not fail over the previous session's bookkeeping.
			o.logger.Warn("Failed to complete previous session on open, deferring",
				zap.String("previous_session_id", req.PreviousSessionID), zap.Error(err))
		}
	}

	oc := o.gatherOpenContext(ctx, req.UserID)
	strategy := o.resolveStrategy(oc, req.SelectedSuggestionIndex)

	session, err := sessions.NewService(o.sessions).CreateSession(ctx, &sessions.CreateSessionRequest{
		UserID:           req.UserID,
		Hypothesis:       strategy.hypothesis,
		OpeningDirection: strategy.openingDirection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if strategy.title != "" {
		if err := o.sessions.SetTitle(ctx, session.SessionID, strategy.title); err != nil {
			o.logger.Warn("Failed to set session title on open",
				zap.String("session_id", session.SessionID), zap.Error(err))
		}
	}

	opening, usage := o.streamOpeningMessage(ctx, oc, strategy, req.ContinuationNotes, emit)
	if err := o.sessions.AppendMessage(ctx, &sessions.Message{
		UUID:      uuid.New(),
		SessionID: session.SessionID,
		Role:      sessions.RoleAssistant,
		Content:   opening,
	}); err != nil {
		o.logger.Warn("Failed to persist opening message",
			zap.String("session_id", session.SessionID), zap.Error(err))
	}

	o.scheduleBackground(req.UserID, req.PreviousSessionID, session.SessionID, oc)

	return &OpenResult{Session: session, OpeningMessage: opening, Usage: usage}, nil
}

func (o *Opener) gatherOpenContext(ctx context.Context, userID string) openContext {
	var oc openContext
	var err error

	if oc.profile, err = o.profiles.Get(ctx, userID); err != nil {
		o.logger.Warn("Failed to load profile on open, continuing without",
			zap.String("user_id", userID), zap.Error(err))
	}
	if oc.narrative, err = o.understanding.Get(ctx, userID); err != nil {
		o.logger.Warn("Failed to load understanding on open, continuing without",
			zap.String("user_id", userID), zap.Error(err))
		oc.narrative = nil
	}
	if oc.activeAreas, err = o.focusAreas.ListActive(ctx, userID); err != nil {
		o.logger.Warn("Failed to load focus areas on open, continuing without",
			zap.String("user_id", userID), zap.Error(err))
		oc.activeAreas = nil
	}
	if oc.latestSet, err = o.suggestions.Latest(ctx, userID); err != nil {
		o.logger.Warn("Failed to load suggestions on open, continuing without",
			zap.String("user_id", userID), zap.Error(err))
		oc.latestSet = nil
	}
	if count, err := o.profiles.CountSessions(ctx, userID); err != nil {
		o.logger.Warn("Failed to count sessions on open, assuming returning user",
			zap.String("user_id", userID), zap.Error(err))
	} else {
		oc.firstSession = count == 0
	}
	return oc
}

// resolveStrategy picks the suggestion the session opens from: the
// explicitly selected index when valid, otherwise the newest. A standing
// check-in suggestion gets its focus-area id resolved by exact text here so
// downstream writes carry a stable identifier.
func (o *Opener) resolveStrategy(oc openContext, selectedIndex *int) openingStrategy {
	if oc.latestSet == nil || len(oc.latestSet.Suggestions) == 0 {
		return o.defaultStrategy(oc)
	}

	idx := 0
	if selectedIndex != nil {
		if *selectedIndex >= 0 && *selectedIndex < len(oc.latestSet.Suggestions) {
			idx = *selectedIndex
		} else {
			o.logger.Warn("Selected suggestion index out of range, using newest",
				zap.Int("index", *selectedIndex),
				zap.Int("available", len(oc.latestSet.Suggestions)))
		}
	}
	chosen := oc.latestSet.Suggestions[idx]

	strategy := openingStrategy{
		title:            chosen.Title,
		hypothesis:       chosen.Hypothesis,
		openingDirection: chosen.OpeningDirection,
		focusAreaID:      chosen.FocusAreaID,
		curiosities:      chosen.Curiosities,
	}
	if chosen.FocusAreaText != "" && strategy.focusAreaID == "" {
		if area := focusareas.MatchActive(oc.activeAreas, chosen.FocusAreaText); area != nil {
			strategy.focusAreaID = area.UUID.String()
		} else {
			o.logger.Warn("Chosen suggestion references unknown focus area",
				zap.String("focus_area_text", chosen.FocusAreaText))
		}
	}
	return strategy
}

// defaultStrategy covers users with no pre-computed suggestions: the first
// session ever, or a close whose suggestion generation degraded. Built from
// stored data only.
func (o *Opener) defaultStrategy(oc openContext) openingStrategy {
	if oc.firstSession {
		return openingStrategy{
			title:            "Getting started",
			openingDirection: "Welcome them to their first session. Ask what brought them here and what money situation is on their mind.",
		}
	}
	strategy := openingStrategy{
		title:            "Open conversation",
		openingDirection: "Ask what is most alive for them about money right now.",
	}
	if oc.narrative != nil && oc.narrative.Snippet != "" {
		strategy.hypothesis = oc.narrative.Snippet
	}
	return strategy
}

// streamOpeningMessage runs the one generation call the fast path is
// allowed. Partial text from a mid-stream failure is kept; total failure
// falls back to the fixed friendly line.
func (o *Opener) streamOpeningMessage(ctx context.Context, oc openContext, strategy openingStrategy, continuationNotes string, emit func(delta string)) (string, llm.Usage) {
	gen, err := o.generator.GenerateStream(ctx,
		openingSystemPrompt(oc, strategy, continuationNotes),
		"Open the session with your first message to them.",
		emit)
	if err != nil {
		if gen != nil && strings.TrimSpace(gen.Text) != "" {
			o.logger.Warn("Opening message stream failed mid-way, keeping partial text",
				zap.Error(err))
			return gen.Text, gen.Usage
		}
		o.logger.Warn("Opening message stream failed, using fallback line", zap.Error(err))
		emit(FallbackOpeningLine)
		return FallbackOpeningLine, llm.Usage{}
	}
	return gen.Text, gen.Usage
}

// scheduleBackground runs the work owed after the opening response is in
// flight. The three steps share one goroutine and run in order, but each is
// fault-isolated: a failed legacy seed must not stop the retry scan, and a
// failed scan must not stop the deferred close.
func (o *Opener) scheduleBackground(userID, previousSessionID, newSessionID string, oc openContext) {
	o.runner.Go("session_open_background", func(ctx context.Context) error {
		if err := o.seedLegacyUnderstanding(ctx, userID, oc); err != nil {
			o.logger.Warn("Legacy understanding seed failed",
				zap.String("user_id", userID), zap.Error(err))
		}
		o.retryUnevolved(ctx, userID, previousSessionID, newSessionID)
		if previousSessionID != "" {
			if _, err := o.closer.Run(ctx, previousSessionID, "deferred_close"); err != nil {
				o.logger.Warn("Deferred close failed",
					zap.String("session_id", previousSessionID), zap.Error(err))
			}
		}
		return nil
	})
}

// seedLegacyUnderstanding gives onboarded users who predate the evolution
// pipeline a first narrative built from their onboarding answers. Runs at
// most once: the next open sees a non-nil understanding and skips.
func (o *Opener) seedLegacyUnderstanding(ctx context.Context, userID string, oc openContext) error {
	if oc.narrative != nil {
		return nil
	}
	if oc.profile == nil || !oc.profile.CompletedOnboarding || len(oc.profile.OnboardingAnswers) == 0 {
		return nil
	}

	transcript := make([]sessions.Message, 0, len(oc.profile.OnboardingAnswers))
	for question, answer := range oc.profile.OnboardingAnswers {
		transcript = append(transcript,
			sessions.Message{Role: sessions.RoleAssistant, Content: question},
			sessions.Message{Role: sessions.RoleUser, Content: answer})
	}

	evolved := o.strategist.Evolve(ctx, strategist.EvolveInput{
		Transcript:  transcript,
		TensionType: oc.profile.TensionType,
	})
	if evolved.Understanding == "" {
		return fmt.Errorf("seed generation produced no narrative")
	}

	record := &understanding.Understanding{
		UserID:        userID,
		Understanding: evolved.Understanding,
		Snippet:       evolved.Snippet,
		TensionType:   oc.profile.TensionType,
	}
	if evolved.StageOfChange != "" {
		record.StageOfChange = understanding.StageOfChange(evolved.StageOfChange)
	}
	if err := o.understanding.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to persist seeded understanding: %w", err)
	}
	o.logger.Info("Seeded understanding from onboarding answers",
		zap.String("user_id", userID))
	return nil
}

// maxRetriesPerOpen bounds how many stale sessions one open call will
// reprocess. A backlog larger than this drains across subsequent opens
// instead of burning the whole background budget at once.
const maxRetriesPerOpen = 3

// retryUnevolved re-runs the close pipeline for completed sessions whose
// evolution never finished. The previous session is excluded because the
// deferred-close step owns it; the new session is active and never matches.
func (o *Opener) retryUnevolved(ctx context.Context, userID, previousSessionID, newSessionID string) {
	stale, err := o.sessions.ListUnevolved(ctx, userID, previousSessionID)
	if err != nil {
		o.logger.Warn("Evolution retry scan failed",
			zap.String("user_id", userID), zap.Error(err))
		return
	}
	if len(stale) > maxRetriesPerOpen {
		o.logger.Info("Capping evolution retries for this open",
			zap.String("user_id", userID),
			zap.Int("stale", len(stale)),
			zap.Int("cap", maxRetriesPerOpen))
		stale = stale[:maxRetriesPerOpen]
	}
	for i := range stale {
		if stale[i].SessionID == newSessionID {
			continue
		}
		if _, err := o.closer.Run(ctx, stale[i].SessionID, "retry_scan"); err != nil {
			o.logger.Warn("Evolution retry failed",
				zap.String("session_id", stale[i].SessionID), zap.Error(err))
		}
	}
}

func openingSystemPrompt(oc openContext, strategy openingStrategy, continuationNotes string) string {
	var b strings.Builder
	b.WriteString("You are a warm, direct money coach opening a new session. Write the first message of the conversation: two or three sentences, in second person, ending with one inviting question.\n")

	if oc.profile != nil && oc.profile.Name != "" {
		fmt.Fprintf(&b, "Their name: %s\n", oc.profile.Name)
	}
	if oc.profile != nil && oc.profile.TensionType != "" {
		fmt.Fprintf(&b, "Their money tension type: %s\n", oc.profile.TensionType)
	}
	if oc.firstSession {
		b.WriteString("This is their very first session.\n")
	}
	if oc.narrative != nil && oc.narrative.Snippet != "" {
		fmt.Fprintf(&b, "What you know about them, in brief: %s\n", oc.narrative.Snippet)
	}
	if strategy.title != "" {
		fmt.Fprintf(&b, "This session's theme: %s\n", strategy.title)
	}
	if strategy.hypothesis != "" {
		fmt.Fprintf(&b, "Your working hypothesis: %s\n", strategy.hypothesis)
	}
	for _, curiosity := range strategy.curiosities {
		fmt.Fprintf(&b, "Curiosity to hold: %s\n", curiosity)
	}
	if strategy.openingDirection != "" {
		fmt.Fprintf(&b, "Opening direction: %s\n", strategy.openingDirection)
	}
	if strategy.focusAreaID != "" {
		for i := range oc.activeAreas {
			area := &oc.activeAreas[i]
			if area.UUID.String() != strategy.focusAreaID {
				continue
			}
			fmt.Fprintf(&b, "This is a check-in on their focus area: %s\n", area.Text)
			if len(area.Reflections) > 0 {
				last := area.Reflections[len(area.Reflections)-1]
				fmt.Fprintf(&b, "Last reflection on it: %s\n", last.Text)
			}
			break
		}
	}
	if continuationNotes != "" {
		fmt.Fprintf(&b, "They carried over these notes from last time: %s\n", continuationNotes)
	}
	return b.String()
}
