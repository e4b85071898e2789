package strategist

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/pathwise/pathwise/internal/coaching/focusareas"
	"github.com/pathwise/pathwise/internal/coaching/sessions"
	"github.com/pathwise/pathwise/internal/coaching/suggestions"
	"github.com/pathwise/pathwise/internal/coaching/understanding"
	"github.com/pathwise/pathwise/internal/llm"
)

// Strategist owns the two post-session generations: evolving the durable
// understanding narrative and producing forward-looking session suggestions.
// The production close path combines both into a single generation call; the
// separate entry points exist for callers that only need one half.
//
// Neither entry point returns an error. A transport or parse failure
// degrades to "no change" (evolve) or "nothing generated" (suggest); the
// close pipeline owns scheduling a retry.
type Strategist struct {
	generator llm.Generator
	logger    *zap.Logger
}

// NewStrategist creates a strategist
func NewStrategist(generator llm.Generator, logger *zap.Logger) *Strategist {
	return &Strategist{
		generator: generator,
		logger:    logger,
	}
}

// EvolveInput carries everything the understanding evolver conditions on.
type EvolveInput struct {
	// CurrentUnderstanding is empty when the user has no narrative yet; in
	// that case the call seeds a comprehensive first narrative instead of
	// merging.
	CurrentUnderstanding string
	Transcript           []sessions.Message
	TensionType          string
	Hypothesis           string
	StageOfChange        string
	FocusAreaTexts       []string
	// NotesHeadline and KeyMoments come from the recap generated moments
	// earlier in the same pipeline run, for arc continuity.
	NotesHeadline string
	KeyMoments    []string
}

// EvolveResult is the evolved narrative. StageOfChange is empty unless the
// evolver explicitly returned a new value; the stored stage is sticky.
type EvolveResult struct {
	Understanding string
	Snippet       string
	StageOfChange string
	Usage         llm.Usage
}

// SuggestInput carries the context the suggestion generator conditions on.
type SuggestInput struct {
	Understanding  string
	TensionType    string
	RecentHeadline string
	KeyMoments     []string
	ToolkitItems   []string
	RecentWins     []string
	FocusAreas     []focusareas.FocusArea
	// PriorTitles is the verbatim anti-repetition list: no generated
	// suggestion may reuse one of these titles.
	PriorTitles []string
	// RichContext separates an established user from a just-onboarded one;
	// limited context yields fewer suggestions rather than padded ones.
	RichContext bool
}

// SuggestResult is the generated suggestion batch plus the focus-area
// reflections and actions riding along with it.
type SuggestResult struct {
	Suggestions []suggestions.SessionSuggestion
	Reflections []focusareas.ProposedReflection
	Actions     []focusareas.ProposedAction
	Usage       llm.Usage
}

type evolvePayload struct {
	Understanding string `json:"understanding"`
	Snippet       string `json:"snippet,omitempty"`
	StageOfChange string `json:"stage_of_change,omitempty"`
}

type suggestPayload struct {
	Suggestions []suggestions.SessionSuggestion `json:"suggestions"`
	Reflections []focusareas.ProposedReflection `json:"focus_area_reflections,omitempty"`
	Actions     []focusareas.ProposedAction     `json:"focus_area_actions,omitempty"`
}

type combinedPayload struct {
	evolvePayload
	suggestPayload
}

// Evolve merges the session transcript into the understanding narrative with
// a single generation call. On any failure the input understanding comes
// back unchanged: the narrative never regresses on a transient fault.
func (s *Strategist) Evolve(ctx context.Context, input EvolveInput) *EvolveResult {
	gen, err := s.generator.Generate(ctx, evolveSystemPrompt(input), renderTranscript(input.Transcript))
	if err != nil {
		s.logger.Warn("Understanding evolution failed, keeping prior narrative", zap.Error(err))
		return &EvolveResult{Understanding: input.CurrentUnderstanding}
	}

	var payload evolvePayload
	if !llm.DecodePayload(gen.Text, &payload) || payload.Understanding == "" {
		s.logger.Warn("Understanding evolution reply was not parseable, keeping prior narrative",
			zap.Int("reply_length", len(gen.Text)))
		return &EvolveResult{Understanding: input.CurrentUnderstanding, Usage: gen.Usage}
	}

	return s.evolveResultFromPayload(payload, gen.Usage)
}

// Suggest produces the post-session suggestion batch with a single
// generation call. Parse failure is a no-op result, never an error.
func (s *Strategist) Suggest(ctx context.Context, input SuggestInput) *SuggestResult {
	gen, err := s.generator.Generate(ctx, suggestSystemPrompt(input), suggestUserPrompt(input))
	if err != nil {
		s.logger.Warn("Suggestion generation failed", zap.Error(err))
		return &SuggestResult{}
	}

	var payload suggestPayload
	if !llm.DecodePayload(gen.Text, &payload) {
		s.logger.Warn("Suggestion reply was not parseable",
			zap.Int("reply_length", len(gen.Text)))
		return &SuggestResult{Usage: gen.Usage}
	}

	return s.suggestResultFromPayload(payload, input, gen.Usage)
}

// EvolveAndSuggest runs both generations as one combined call, the shape the
// close pipeline uses. The halves degrade independently: an unparseable
// reply keeps the prior understanding and yields no suggestions.
func (s *Strategist) EvolveAndSuggest(ctx context.Context, evolveInput EvolveInput, suggestInput SuggestInput) (*EvolveResult, *SuggestResult) {
	gen, err := s.generator.Generate(ctx,
		combinedSystemPrompt(evolveInput, suggestInput),
		renderTranscript(evolveInput.Transcript))
	if err != nil {
		s.logger.Warn("Combined evolve-and-suggest generation failed", zap.Error(err))
		return &EvolveResult{Understanding: evolveInput.CurrentUnderstanding}, &SuggestResult{}
	}

	var payload combinedPayload
	if !llm.DecodePayload(gen.Text, &payload) {
		s.logger.Warn("Combined evolve-and-suggest reply was not parseable",
			zap.Int("reply_length", len(gen.Text)))
		return &EvolveResult{Understanding: evolveInput.CurrentUnderstanding, Usage: gen.Usage}, &SuggestResult{}
	}

	evolveResult := &EvolveResult{Understanding: evolveInput.CurrentUnderstanding, Usage: gen.Usage}
	if payload.Understanding != "" {
		evolveResult = s.evolveResultFromPayload(payload.evolvePayload, gen.Usage)
	}

	return evolveResult, s.suggestResultFromPayload(payload.suggestPayload, suggestInput, llm.Usage{})
}

func (s *Strategist) evolveResultFromPayload(payload evolvePayload, usage llm.Usage) *EvolveResult {
	stage := payload.StageOfChange
	if stage != "" && !understanding.ValidStage(stage) {
		s.logger.Warn("Evolver returned unknown stage of change, ignoring",
			zap.String("stage", stage))
		stage = ""
	}

	snippet := payload.Snippet
	if snippet == "" {
		snippet = firstSentence(payload.Understanding)
	}

	return &EvolveResult{
		Understanding: payload.Understanding,
		Snippet:       snippet,
		StageOfChange: stage,
		Usage:         usage,
	}
}

func (s *Strategist) suggestResultFromPayload(payload suggestPayload, input SuggestInput, usage llm.Usage) *SuggestResult {
	prior := make(map[string]bool, len(input.PriorTitles))
	for _, title := range input.PriorTitles {
		prior[title] = true
	}

	activeTexts := make(map[string]bool, len(input.FocusAreas))
	for i := range input.FocusAreas {
		if input.FocusAreas[i].Active() {
			activeTexts[input.FocusAreas[i].Text] = true
		}
	}

	kept := payload.Suggestions[:0]
	for _, suggestion := range payload.Suggestions {
		if suggestion.Title == "" {
			continue
		}
		if prior[suggestion.Title] {
			s.logger.Warn("Dropping suggestion with repeated title",
				zap.String("title", suggestion.Title))
			continue
		}
		if suggestion.FocusAreaText != "" && !activeTexts[suggestion.FocusAreaText] {
			// The generator must carry the exact text of an existing
			// active focus area; anything else cannot be resolved
			// downstream, so the link is severed rather than guessed.
			s.logger.Warn("Suggestion references unknown focus area, clearing link",
				zap.String("title", suggestion.Title),
				zap.String("focus_area_text", suggestion.FocusAreaText))
			suggestion.FocusAreaText = ""
		}
		kept = append(kept, suggestion)
	}

	return &SuggestResult{
		Suggestions: kept,
		Reflections: payload.Reflections,
		Actions:     payload.Actions,
		Usage:       usage,
	}
}

func firstSentence(text string) string {
	if idx := strings.IndexAny(text, ".!?"); idx >= 0 && idx+1 < len(text) {
		return strings.TrimSpace(text[:idx+1])
	}
	if len(text) > 160 {
		return strings.TrimSpace(text[:160])
	}
	return text
}
