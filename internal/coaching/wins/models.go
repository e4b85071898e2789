package wins

import (
	"time"

	"github.com/google/uuid"
)

// Win is a logged moment of behavior change, optionally linked to a session
// and/or a focus area. Wins are read-only input to the close pipeline; they
// are evidence for the evolver and the suggestion generator, never mutated
// by them.
type Win struct {
	UUID        uuid.UUID `json:"uuid"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id,omitempty"`
	FocusAreaID string    `json:"focus_area_id,omitempty"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

// LogWinRequest represents a request to record a win
type LogWinRequest struct {
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id,omitempty"`
	FocusAreaID string `json:"focus_area_id,omitempty"`
	Text        string `json:"text"`
}

// NewWin builds a Win from a log request
func NewWin(req *LogWinRequest) *Win {
	return &Win{
		UUID:        uuid.New(),
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		FocusAreaID: req.FocusAreaID,
		Text:        req.Text,
		CreatedAt:   time.Now(),
	}
}
