package sessions

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the user-visible lifecycle state of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// EvolutionStatus tracks the post-session processing state. It becomes
// meaningful the instant Status flips to completed and transitions exactly
// once to completed or failed; failed sessions are picked up by the retry
// scan on the next session open.
type EvolutionStatus string

const (
	EvolutionPending   EvolutionStatus = "pending"
	EvolutionCompleted EvolutionStatus = "completed"
	EvolutionFailed    EvolutionStatus = "failed"
)

// MessageRole is the author of a transcript turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// SessionNotes is the structured recap produced at close time. KeyMoments and
// Milestone are omitted, not defaulted, when the transcript held no evidence
// for them.
type SessionNotes struct {
	Headline   string   `json:"headline"`
	Narrative  string   `json:"narrative"`
	KeyMoments []string `json:"key_moments,omitempty"`
	Milestone  string   `json:"milestone,omitempty"`
}

// Session represents one coaching conversation.
type Session struct {
	UUID              uuid.UUID       `json:"uuid"`
	SessionID         string          `json:"session_id"`
	UserID            string          `json:"user_id"`
	Status            SessionStatus   `json:"status"`
	EvolutionStatus   EvolutionStatus `json:"evolution_status"`
	Title             string          `json:"title,omitempty"`
	Hypothesis        string          `json:"hypothesis,omitempty"`
	OpeningDirection  string          `json:"opening_direction,omitempty"`
	Notes             *SessionNotes   `json:"session_notes,omitempty"`
	NarrativeSnapshot string          `json:"narrative_snapshot,omitempty"`
	Milestone         string          `json:"milestone,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Message is one transcript turn. Transcripts are read in ascending
// created-at order; consecutive same-role turns are tolerated.
type Message struct {
	UUID      uuid.UUID   `json:"uuid"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// CreateSessionRequest represents a request to create a new session
type CreateSessionRequest struct {
	UserID           string `json:"user_id"`
	Hypothesis       string `json:"hypothesis,omitempty"`
	OpeningDirection string `json:"opening_direction,omitempty"`
}

// AppendMessageRequest represents a request to append a transcript turn
type AppendMessageRequest struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// CountUserMessages reports how many turns in the transcript were authored by
// the user. The close tier boundary is strictly on user-authored turns: a
// long one-sided assistant opener stays in tier 0.
func CountUserMessages(transcript []Message) int {
	count := 0
	for _, msg := range transcript {
		if msg.Role == RoleUser {
			count++
		}
	}
	return count
}
