package audit

import "time"

// Action names every state-changing operation the service records.
type Action string

const (
	ActionPaymentRecorded       Action = "payment_recorded"
	ActionPaymentVoided         Action = "payment_voided"
	ActionSectionCreated        Action = "section_created"
	ActionStudentCreated        Action = "student_created"
	ActionStudentDeactivated    Action = "student_deactivated"
	ActionStudentReactivated    Action = "student_reactivated"
	ActionExpectedAmountChanged Action = "expected_amount_changed"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    Action         `json:"action"`
	ActorID   string         `json:"actor_id"`
	EntityID  string         `json:"entity_id"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}
