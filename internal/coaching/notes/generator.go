package notes

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pathwise/pathwise/internal/coaching/sessions"
	"github.com/pathwise/pathwise/internal/llm"
)

// FallbackHeadline is the recap headline used when the model's reply cannot
// be parsed. The fallback is deliberately bland: a degraded recap must never
// look like fabricated content.
const FallbackHeadline = "Session complete"

const fallbackNarrative = "We covered meaningful ground this session. The full recap could not be prepared this time."

// Input carries the transcript and the optional context surrounding one
// recap generation.
type Input struct {
	Transcript       []sessions.Message
	TensionType      string
	Hypothesis       string
	StageOfChange    string
	PreviousHeadline string
	FocusAreaTexts   []string
	SessionWins      []string
}

// Result is the generated recap plus token accounting.
type Result struct {
	Notes sessions.SessionNotes
	Usage llm.Usage
}

// Generator produces the user-facing session recap. It is a pure function
// over one LLM call; persistence is the caller's responsibility.
type Generator struct {
	generator llm.Generator
	logger    *zap.Logger
}

// NewGenerator creates a notes generator
func NewGenerator(generator llm.Generator, logger *zap.Logger) *Generator {
	return &Generator{
		generator: generator,
		logger:    logger,
	}
}

// notesPayload is the structured shape expected inside the model's fenced
// block.
type notesPayload struct {
	Headline   string   `json:"headline"`
	Narrative  string   `json:"narrative"`
	KeyMoments []string `json:"key_moments,omitempty"`
	Milestone  string   `json:"milestone,omitempty"`
}

// Generate runs exactly one generation call and always returns a usable
// recap: on transport or parse failure it degrades to the fixed fallback
// rather than failing the close pipeline.
func (g *Generator) Generate(ctx context.Context, input Input) (*Result, error) {
	gen, err := g.generator.Generate(ctx, notesSystemPrompt(input), renderTranscript(input.Transcript))
	if err != nil {
		g.logger.Warn("Session notes generation failed, using fallback", zap.Error(err))
		return &Result{Notes: sessions.SessionNotes{
			Headline:  FallbackHeadline,
			Narrative: fallbackNarrative,
		}}, nil
	}

	var payload notesPayload
	if !llm.DecodePayload(gen.Text, &payload) || payload.Headline == "" || payload.Narrative == "" {
		g.logger.Warn("Session notes reply was not parseable, using fallback",
			zap.Int("reply_length", len(gen.Text)))
		narrative := strings.TrimSpace(gen.Text)
		if narrative == "" {
			narrative = fallbackNarrative
		}
		return &Result{
			Notes: sessions.SessionNotes{
				Headline:  FallbackHeadline,
				Narrative: narrative,
			},
			Usage: gen.Usage,
		}, nil
	}

	return &Result{
		Notes: sessions.SessionNotes{
			Headline:   payload.Headline,
			Narrative:  payload.Narrative,
			KeyMoments: payload.KeyMoments,
			Milestone:  payload.Milestone,
		},
		Usage: gen.Usage,
	}, nil
}

func notesSystemPrompt(input Input) string {
	var b strings.Builder
	b.WriteString("You are a money coach writing a short recap of the coaching session below. ")
	b.WriteString("Reply with a fenced json block holding: headline (one warm sentence), narrative (2-4 sentences in second person), ")
	b.WriteString("key_moments (optional array of short strings), milestone (optional single string). ")
	b.WriteString("Only include key_moments or milestone when the transcript holds clear evidence for them; omit the fields entirely otherwise.\n")

	if input.TensionType != "" {
		fmt.Fprintf(&b, "The user's money tension type is %q.\n", input.TensionType)
	}
	if input.Hypothesis != "" {
		fmt.Fprintf(&b, "Going in, the working hypothesis was: %s\n", input.Hypothesis)
	}
	if input.StageOfChange != "" {
		fmt.Fprintf(&b, "Stage of change: %s.\n", input.StageOfChange)
	}
	if input.PreviousHeadline != "" {
		fmt.Fprintf(&b, "The previous session's headline was: %q. Keep the arc continuous without repeating it.\n", input.PreviousHeadline)
	}
	if len(input.FocusAreaTexts) > 0 {
		fmt.Fprintf(&b, "Active focus areas: %s.\n", strings.Join(input.FocusAreaTexts, "; "))
	}
	if len(input.SessionWins) > 0 {
		fmt.Fprintf(&b, "Wins logged this session: %s.\n", strings.Join(input.SessionWins, "; "))
	}

	return b.String()
}

func renderTranscript(transcript []sessions.Message) string {
	var b strings.Builder
	for _, msg := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}
