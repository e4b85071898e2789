package understanding

import (
	"time"

	"github.com/google/uuid"
)

// StageOfChange labels where the user sits in the transtheoretical model.
// The field is sticky: it is only overwritten when the evolver explicitly
// returns a new value.
type StageOfChange string

const (
	StagePrecontemplation StageOfChange = "precontemplation"
	StageContemplation    StageOfChange = "contemplation"
	StagePreparation      StageOfChange = "preparation"
	StageAction           StageOfChange = "action"
	StageMaintenance      StageOfChange = "maintenance"
)

// ValidStage reports whether s is one of the recognized stages.
func ValidStage(s string) bool {
	switch StageOfChange(s) {
	case StagePrecontemplation, StageContemplation, StagePreparation, StageAction, StageMaintenance:
		return true
	}
	return false
}

// Understanding is the per-user durable narrative. The narrative is
// monotonically additive by policy: the evolver is instructed to preserve
// prior facts unless explicitly contradicted. That contract lives in the
// prompt, not in this layer; the orchestration only refuses to regress a
// non-empty narrative to empty.
type Understanding struct {
	UUID          uuid.UUID     `json:"uuid"`
	UserID        string        `json:"user_id"`
	Understanding string        `json:"understanding"`
	Snippet       string        `json:"snippet,omitempty"`
	StageOfChange StageOfChange `json:"stage_of_change,omitempty"`
	TensionType   string        `json:"tension_type,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
