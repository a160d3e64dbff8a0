package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventStageActivated    EventType = "stage.activated"
	EventStageResolved     EventType = "stage.resolved"
	EventStageReassigned   EventType = "stage.reassigned"
	EventStageEscalated    EventType = "stage.escalated"
	EventStageOverdue      EventType = "stage.overdue"
	EventExecutionFinished EventType = "execution.finished"
)

// ApprovalEvent is published to the notifier on every observable transition.
// Delivery is best-effort; a failed publish never rolls back the transition.
type ApprovalEvent struct {
	Type        EventType      `json:"type"`
	ExecutionID uuid.UUID      `json:"execution_id"`
	StageID     uuid.UUID      `json:"stage_id,omitempty"`
	TemplateID  string         `json:"template_id,omitempty"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id"`
	Recipients  []string       `json:"recipients,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}
