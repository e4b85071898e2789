package strategist

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/pathwise/pathwise/internal/coaching/focusareas"
	"github.com/pathwise/pathwise/internal/coaching/sessions"
	"github.com/pathwise/pathwise/internal/coaching/suggestions"
	"github.com/pathwise/pathwise/internal/llm"
)

type scriptedGenerator struct {
	reply string
	err   error
	calls int
}

func (s *scriptedGenerator) Generate(ctx context.Context, system, user string) (*llm.Generation, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Generation{Text: s.reply, Usage: llm.Usage{InputTokens: 200, OutputTokens: 80}}, nil
}

func (s *scriptedGenerator) GenerateStream(ctx context.Context, system, user string, emit func(string)) (*llm.Generation, error) {
	return s.Generate(ctx, system, user)
}

func transcript() []sessions.Message {
	return []sessions.Message{
		{Role: sessions.RoleAssistant, Content: "How did the budget conversation go?"},
		{Role: sessions.RoleUser, Content: "We actually sat down and talked through it."},
		{Role: sessions.RoleUser, Content: "It was less scary than I expected."},
	}
}

func TestEvolveMergesNarrative(t *testing.T) {
	gen := &scriptedGenerator{reply: "```json\n" +
		`{"understanding": "Avoids money conversations but is starting to face them. The budget talk went better than feared.", "snippet": "Starting to face money conversations.", "stage_of_change": "action"}` +
		"\n```"}

	result := NewStrategist(gen, zap.NewNop()).Evolve(context.Background(), EvolveInput{
		CurrentUnderstanding: "Avoids money conversations.",
		Transcript:           transcript(),
	})

	assert.Equal(t, 1, gen.calls)
	assert.Contains(t, result.Understanding, "budget talk went better")
	assert.Equal(t, "Starting to face money conversations.", result.Snippet)
	assert.Equal(t, "action", result.StageOfChange)
	assert.Equal(t, 200, result.Usage.InputTokens)
}

func TestEvolveKeepsPriorNarrativeOnTransportError(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("connection reset")}

	result := NewStrategist(gen, zap.NewNop()).Evolve(context.Background(), EvolveInput{
		CurrentUnderstanding: "Avoids money conversations.",
		Transcript:           transcript(),
	})

	assert.Equal(t, "Avoids money conversations.", result.Understanding)
	assert.Empty(t, result.StageOfChange)
}

func TestEvolveKeepsPriorNarrativeOnUnparseableReply(t *testing.T) {
	gen := &scriptedGenerator{reply: "I think this person is making real progress."}

	result := NewStrategist(gen, zap.NewNop()).Evolve(context.Background(), EvolveInput{
		CurrentUnderstanding: "Avoids money conversations.",
		Transcript:           transcript(),
	})

	assert.Equal(t, "Avoids money conversations.", result.Understanding)
}

func TestEvolveIgnoresUnknownStage(t *testing.T) {
	gen := &scriptedGenerator{reply: `{"understanding": "New narrative.", "stage_of_change": "transcendence"}`}

	result := NewStrategist(gen, zap.NewNop()).Evolve(context.Background(), EvolveInput{Transcript: transcript()})

	assert.Equal(t, "New narrative.", result.Understanding)
	assert.Empty(t, result.StageOfChange)
}

func TestSuggestDropsRepeatedTitles(t *testing.T) {
	gen := &scriptedGenerator{reply: `{"suggestions": [` +
		`{"title": "Face the statement", "length": "quick"},` +
		`{"title": "Map your money week", "length": "medium"}]}`}

	result := NewStrategist(gen, zap.NewNop()).Suggest(context.Background(), SuggestInput{
		PriorTitles: []string{"Face the statement"},
	})

	assert.Len(t, result.Suggestions, 1)
	assert.Equal(t, "Map your money week", result.Suggestions[0].Title)
}

func TestSuggestClearsUnresolvableFocusAreaLink(t *testing.T) {
	area := focusareas.FocusArea{UUID: uuid.New(), Text: "Check accounts weekly"}
	gen := &scriptedGenerator{reply: `{"suggestions": [` +
		`{"title": "Weekly check-in", "length": "standing", "focus_area_text": "Check accounts weekly"},` +
		`{"title": "Dig into the fear", "length": "deep", "focus_area_text": "Some invented area"}]}`}

	result := NewStrategist(gen, zap.NewNop()).Suggest(context.Background(), SuggestInput{
		FocusAreas: []focusareas.FocusArea{area},
	})

	assert.Len(t, result.Suggestions, 2)
	assert.Equal(t, "Check accounts weekly", result.Suggestions[0].FocusAreaText)
	assert.Empty(t, result.Suggestions[1].FocusAreaText)
}

func TestSuggestEmptyOnUnparseableReply(t *testing.T) {
	gen := &scriptedGenerator{reply: "Here are some ideas for next time."}

	result := NewStrategist(gen, zap.NewNop()).Suggest(context.Background(), SuggestInput{RichContext: true})

	assert.Empty(t, result.Suggestions)
	assert.Empty(t, result.Reflections)
	assert.Empty(t, result.Actions)
}

func TestEvolveAndSuggestCombinedReply(t *testing.T) {
	gen := &scriptedGenerator{reply: "```json\n" +
		`{"understanding": "Growing confidence with shared finances.", "snippet": "Confidence is growing.", "suggestions": [{"title": "Plan the next talk", "length": "medium"}], "focus_area_reflections": [{"focus_area_text": "Talk money monthly", "text": "Held the budget talk without avoidance."}], "focus_area_actions": [{"kind": "archive", "focus_area_text": "Open every statement"}]}` +
		"\n```"}
	area := focusareas.FocusArea{UUID: uuid.New(), Text: "Talk money monthly"}

	evolved, suggested := NewStrategist(gen, zap.NewNop()).EvolveAndSuggest(context.Background(),
		EvolveInput{CurrentUnderstanding: "Nervous about shared finances.", Transcript: transcript()},
		SuggestInput{FocusAreas: []focusareas.FocusArea{area}, RichContext: true})

	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, "Growing confidence with shared finances.", evolved.Understanding)
	assert.Len(t, suggested.Suggestions, 1)
	assert.Equal(t, suggestions.LengthMedium, suggested.Suggestions[0].Length)
	assert.Len(t, suggested.Reflections, 1)
	assert.Equal(t, focusareas.ActionArchive, suggested.Actions[0].Kind)
}

func TestEvolveAndSuggestHalvesDegradeTogetherOnTransportError(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("timeout")}

	evolved, suggested := NewStrategist(gen, zap.NewNop()).EvolveAndSuggest(context.Background(),
		EvolveInput{CurrentUnderstanding: "Prior narrative.", Transcript: transcript()},
		SuggestInput{})

	assert.Equal(t, "Prior narrative.", evolved.Understanding)
	assert.Empty(t, suggested.Suggestions)
}
