package suggestions

import (
	"time"

	"github.com/google/uuid"
)

// LengthCategory classifies how deep a suggested session is expected to go.
type LengthCategory string

const (
	LengthQuick    LengthCategory = "quick"
	LengthMedium   LengthCategory = "medium"
	LengthDeep     LengthCategory = "deep"
	LengthStanding LengthCategory = "standing"
)

// LengthCategories lists every category, in presentation order.
var LengthCategories = []LengthCategory{LengthQuick, LengthMedium, LengthDeep, LengthStanding}

// SessionSuggestion is a forward-looking prompt for a future session.
// FocusAreaText, when set, must carry the exact text of an active focus
// area at generation time; FocusAreaID is filled in downstream once the
// text has been resolved against storage.
type SessionSuggestion struct {
	Title            string         `json:"title"`
	Teaser           string         `json:"teaser,omitempty"`
	Length           LengthCategory `json:"length"`
	Hypothesis       string         `json:"hypothesis,omitempty"`
	LeveragePoint    string         `json:"leverage_point,omitempty"`
	Curiosities      []string       `json:"curiosities,omitempty"`
	OpeningDirection string         `json:"opening_direction,omitempty"`
	FocusAreaText    string         `json:"focus_area_text,omitempty"`
	FocusAreaID      string         `json:"focus_area_id,omitempty"`
}

// SuggestionSet is the batch generated after one session closes. Exactly one
// set may exist per generated-after-session id; that id is the idempotency
// key guarding duplicate pipeline runs.
type SuggestionSet struct {
	UUID                    uuid.UUID           `json:"uuid"`
	UserID                  string              `json:"user_id"`
	GeneratedAfterSessionID string              `json:"generated_after_session_id"`
	Suggestions             []SessionSuggestion `json:"suggestions"`
	CreatedAt               time.Time           `json:"created_at"`
}
