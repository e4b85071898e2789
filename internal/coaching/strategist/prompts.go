package strategist

import (
	"fmt"
	"strings"

	"github.com/pathwise/pathwise/internal/coaching/sessions"
)

func renderTranscript(transcript []sessions.Message) string {
	var b strings.Builder
	b.WriteString("Session transcript:\n\n")
	for _, msg := range transcript {
		switch msg.Role {
		case sessions.RoleUser:
			b.WriteString("User: ")
		case sessions.RoleAssistant:
			b.WriteString("Coach: ")
		default:
			continue
		}
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func evolveSystemPrompt(input EvolveInput) string {
	var b strings.Builder
	b.WriteString("You are the memory of a money coach. After each session you update a single durable narrative describing how this person relates to money: their patterns, fears, strengths, and trajectory.\n\n")

	if input.CurrentUnderstanding == "" {
		b.WriteString("There is no existing narrative yet. Write a comprehensive first narrative from the transcript alone. Capture everything that seems durable; this document is the only memory carried between sessions.\n\n")
	} else {
		b.WriteString("Current narrative:\n")
		b.WriteString(input.CurrentUnderstanding)
		b.WriteString("\n\nMerge what the transcript reveals into the narrative. The merge is additive: refine and extend, never discard established insight unless the session directly contradicts it. Return the full updated narrative, not a diff.\n\n")
	}

	writeContextLines(&b, contextLines{
		tensionType:    input.TensionType,
		hypothesis:     input.Hypothesis,
		stageOfChange:  input.StageOfChange,
		focusAreaTexts: input.FocusAreaTexts,
	})

	if input.NotesHeadline != "" {
		fmt.Fprintf(&b, "This session's recap headline: %s\n", input.NotesHeadline)
	}
	for _, moment := range input.KeyMoments {
		fmt.Fprintf(&b, "Key moment: %s\n", moment)
	}

	b.WriteString("\nReply with a JSON object:\n")
	b.WriteString(`{"understanding": "<full updated narrative>", "snippet": "<one sentence>", "stage_of_change": "<only if it changed: precontemplation|contemplation|preparation|action|maintenance>"}`)
	b.WriteString("\n")
	return b.String()
}

func suggestSystemPrompt(input SuggestInput) string {
	var b strings.Builder
	b.WriteString("You are a money coach planning what to explore with this person next. Generate session suggestions they can pick from when they next open the app.\n\n")

	if input.RichContext {
		b.WriteString("Produce at least one suggestion for each length: quick, medium, deep, and standing. ")
	} else {
		b.WriteString("Context on this person is still limited, so produce only two or three suggestions and keep them broad. ")
	}
	b.WriteString("Each suggestion needs a title, a one-line teaser, a length, and your private coaching notes: a hypothesis about what is going on, the leverage point to press on, curiosities to hold, and an opening direction for the first coach message.\n\n")

	if len(input.PriorTitles) > 0 {
		b.WriteString("Never reuse any of these past titles verbatim:\n")
		for _, title := range input.PriorTitles {
			fmt.Fprintf(&b, "- %s\n", title)
		}
		b.WriteString("\n")
	}

	active := 0
	for i := range input.FocusAreas {
		if input.FocusAreas[i].Active() {
			if active == 0 {
				b.WriteString("Active focus areas. When a suggestion serves one, set focus_area_text to its exact text, character for character. You may also attach a short dated reflection per focus area the session touched, and propose archiving an area that is resolved or reframing one whose wording no longer fits:\n")
			}
			fmt.Fprintf(&b, "- %s\n", input.FocusAreas[i].Text)
			active++
		}
	}
	if active > 0 {
		b.WriteString("\n")
	}

	b.WriteString("Reply with a JSON object:\n")
	b.WriteString(`{"suggestions": [{"title": "...", "teaser": "...", "length": "quick|medium|deep|standing", "hypothesis": "...", "leverage_point": "...", "curiosities": ["..."], "opening_direction": "...", "focus_area_text": "<exact text or omit>"}], "focus_area_reflections": [{"focus_area_text": "...", "text": "..."}], "focus_area_actions": [{"kind": "archive|update_text", "focus_area_text": "...", "new_text": "<for update_text>"}]}`)
	b.WriteString("\n")
	return b.String()
}

func suggestUserPrompt(input SuggestInput) string {
	var b strings.Builder
	if input.Understanding != "" {
		b.WriteString("What you know about this person:\n")
		b.WriteString(input.Understanding)
		b.WriteString("\n\n")
	}

	writeContextLines(&b, contextLines{tensionType: input.TensionType})

	if input.RecentHeadline != "" {
		fmt.Fprintf(&b, "Most recent session: %s\n", input.RecentHeadline)
	}
	for _, moment := range input.KeyMoments {
		fmt.Fprintf(&b, "Key moment: %s\n", moment)
	}
	for _, item := range input.ToolkitItems {
		fmt.Fprintf(&b, "Toolkit item they use: %s\n", item)
	}
	for _, win := range input.RecentWins {
		fmt.Fprintf(&b, "Recent win: %s\n", win)
	}
	if b.Len() == 0 {
		b.WriteString("No prior context is available for this person yet.\n")
	}
	return b.String()
}

func combinedSystemPrompt(evolveInput EvolveInput, suggestInput SuggestInput) string {
	var b strings.Builder
	b.WriteString("You are the memory and planner of a money coach. A session just ended. Do two things in one pass.\n\n")

	b.WriteString("First, update the durable narrative describing how this person relates to money.\n")
	if evolveInput.CurrentUnderstanding == "" {
		b.WriteString("There is no existing narrative yet: write a comprehensive first narrative from the transcript alone.\n\n")
	} else {
		b.WriteString("Current narrative:\n")
		b.WriteString(evolveInput.CurrentUnderstanding)
		b.WriteString("\n\nThe merge is additive: refine and extend, never discard established insight unless the session directly contradicts it. Return the full updated narrative.\n\n")
	}

	writeContextLines(&b, contextLines{
		tensionType:    evolveInput.TensionType,
		hypothesis:     evolveInput.Hypothesis,
		stageOfChange:  evolveInput.StageOfChange,
		focusAreaTexts: evolveInput.FocusAreaTexts,
	})
	if evolveInput.NotesHeadline != "" {
		fmt.Fprintf(&b, "This session's recap headline: %s\n", evolveInput.NotesHeadline)
	}
	for _, moment := range evolveInput.KeyMoments {
		fmt.Fprintf(&b, "Key moment: %s\n", moment)
	}

	b.WriteString("\nSecond, plan session suggestions for their next visit, conditioned on your updated narrative.\n")
	if suggestInput.RichContext {
		b.WriteString("Produce at least one suggestion for each length: quick, medium, deep, and standing.\n")
	} else {
		b.WriteString("Context is still limited, so produce only two or three broad suggestions.\n")
	}
	if len(suggestInput.PriorTitles) > 0 {
		b.WriteString("Never reuse any of these past titles verbatim:\n")
		for _, title := range suggestInput.PriorTitles {
			fmt.Fprintf(&b, "- %s\n", title)
		}
	}
	for _, win := range suggestInput.RecentWins {
		fmt.Fprintf(&b, "Recent win: %s\n", win)
	}
	for _, item := range suggestInput.ToolkitItems {
		fmt.Fprintf(&b, "Toolkit item they use: %s\n", item)
	}

	wroteHeader := false
	for i := range suggestInput.FocusAreas {
		if suggestInput.FocusAreas[i].Active() {
			if !wroteHeader {
				b.WriteString("Active focus areas. When a suggestion serves one, set focus_area_text to its exact text, character for character. You may attach a short reflection per area the session touched, and propose archiving a resolved area or reframing one whose wording no longer fits:\n")
				wroteHeader = true
			}
			fmt.Fprintf(&b, "- %s\n", suggestInput.FocusAreas[i].Text)
		}
	}

	b.WriteString("\nReply with one JSON object:\n")
	b.WriteString(`{"understanding": "<full updated narrative>", "snippet": "<one sentence>", "stage_of_change": "<only if changed>", "suggestions": [{"title": "...", "teaser": "...", "length": "quick|medium|deep|standing", "hypothesis": "...", "leverage_point": "...", "curiosities": ["..."], "opening_direction": "...", "focus_area_text": "<exact text or omit>"}], "focus_area_reflections": [{"focus_area_text": "...", "text": "..."}], "focus_area_actions": [{"kind": "archive|update_text", "focus_area_text": "...", "new_text": "<for update_text>"}]}`)
	b.WriteString("\n")
	return b.String()
}

type contextLines struct {
	tensionType    string
	hypothesis     string
	stageOfChange  string
	focusAreaTexts []string
}

func writeContextLines(b *strings.Builder, lines contextLines) {
	if lines.tensionType != "" {
		fmt.Fprintf(b, "Their money tension type: %s\n", lines.tensionType)
	}
	if lines.hypothesis != "" {
		fmt.Fprintf(b, "Working hypothesis: %s\n", lines.hypothesis)
	}
	if lines.stageOfChange != "" {
		fmt.Fprintf(b, "Stage of change: %s\n", lines.stageOfChange)
	}
	for _, text := range lines.focusAreaTexts {
		fmt.Fprintf(b, "Focus area: %s\n", text)
	}
}
