package profiles

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the per-user snapshot the coaching pipeline reads at session
// boundaries: the tension type assigned during onboarding, whether
// onboarding finished, and the raw onboarding answers used for the one-time
// legacy understanding seed.
type Profile struct {
	UUID                uuid.UUID         `json:"uuid"`
	UserID              string            `json:"user_id"`
	Name                string            `json:"name,omitempty"`
	TensionType         string            `json:"tension_type,omitempty"`
	CompletedOnboarding bool              `json:"completed_onboarding"`
	OnboardingAnswers   map[string]string `json:"onboarding_answers,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}
