package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "PENDING"
	ExecutionInProgress ExecutionStatus = "IN_PROGRESS"
	ExecutionCompleted  ExecutionStatus = "COMPLETED"
	ExecutionRejected   ExecutionStatus = "REJECTED"
	ExecutionCancelled  ExecutionStatus = "CANCELLED"
	ExecutionExpired    ExecutionStatus = "EXPIRED"
)

type StageStatus string

const (
	StagePending    StageStatus = "PENDING"
	StageInProgress StageStatus = "IN_PROGRESS"
	StageApproved   StageStatus = "APPROVED"
	StageRejected   StageStatus = "REJECTED"
	StageSentBack   StageStatus = "SENT_BACK"
	StageSkipped    StageStatus = "SKIPPED"
	StageCancelled  StageStatus = "CANCELLED"
)

// WorkflowExecution is one approval run bound to a subject entity. The subject
// (EntityType + EntityID) is opaque to the engine.
type WorkflowExecution struct {
	ID                uuid.UUID `gorm:"type:uuid;primary_key;" json:"id"`
	DefinitionID      uuid.UUID `gorm:"type:uuid;index;not null" json:"definition_id"`
	DefinitionVersion int       `gorm:"not null" json:"definition_version"`
	EntityType        string    `gorm:"type:varchar(50);index;not null" json:"entity_type"`
	EntityID          string    `gorm:"type:varchar(100);index;not null" json:"entity_id"`

	// State
	Status         ExecutionStatus `gorm:"type:varchar(20);index;default:'PENDING'" json:"status"`
	CurrentStageID string          `gorm:"type:varchar(64)" json:"current_stage_id,omitempty"`
	Context        map[string]any  `gorm:"type:jsonb;serializer:json" json:"context,omitempty"`
	Outcome        string          `gorm:"type:varchar(50)" json:"outcome,omitempty"`

	InitiatedBy  string     `gorm:"type:varchar(100);not null" json:"initiated_by"`
	CancelledBy  string     `gorm:"type:varchar(100)" json:"cancelled_by,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	// Relationships
	Stages []ExecutionStage `gorm:"foreignKey:ExecutionID" json:"stages,omitempty"`

	// Audit
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecutionStage is one visit to a stage template. A send-back creates a new
// visit row for the target template; terminal rows are never mutated again.
type ExecutionStage struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;" json:"id"`
	ExecutionID uuid.UUID `gorm:"type:uuid;index;not null" json:"execution_id"`
	Sequence    int       `gorm:"not null" json:"sequence"`
	TemplateID  string    `gorm:"type:varchar(64);not null" json:"template_id"`
	Name        string    `gorm:"type:varchar(200);not null" json:"name"`

	Status    StageStatus            `gorm:"type:varchar(20);index;default:'PENDING'" json:"status"`
	Assignees []string               `gorm:"type:jsonb;serializer:json" json:"assignees,omitempty"`
	Approvals map[string]StageAction `gorm:"type:jsonb;serializer:json" json:"approvals,omitempty"`

	ResolvedBy string      `gorm:"type:varchar(100)" json:"resolved_by,omitempty"`
	Action     StageAction `gorm:"type:varchar(20)" json:"action,omitempty"`
	Comments   string      `json:"comments,omitempty"`
	Escalated  bool        `gorm:"default:false" json:"escalated"`
	Overdue    bool        `gorm:"default:false" json:"overdue"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   *time.Time `gorm:"index" json:"expires_at,omitempty"`
	Version     int        `gorm:"default:1" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StageActionLog is the append-only per-attempt history. Every submission is
// recorded, including unauthorized, duplicate and otherwise refused attempts.
type StageActionLog struct {
	ID          uuid.UUID   `gorm:"type:uuid;primary_key;" json:"id"`
	ExecutionID uuid.UUID   `gorm:"type:uuid;index;not null" json:"execution_id"`
	StageID     uuid.UUID   `gorm:"type:uuid;index;not null" json:"stage_id"`
	TemplateID  string      `gorm:"type:varchar(64);not null" json:"template_id"`
	Actor       string      `gorm:"type:varchar(100);not null" json:"actor"`
	Action      StageAction `gorm:"type:varchar(20);not null" json:"action"`
	Comments    string      `json:"comments,omitempty"`
	Accepted    bool        `json:"accepted"`
	Reason      string      `gorm:"type:varchar(200)" json:"reason,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AuditRecord is what the engine hands the audit sink on every observable
// transition. The default sink persists it as-is.
type AuditRecord struct {
	ID          uuid.UUID      `gorm:"type:uuid;primary_key;" json:"id"`
	ExecutionID uuid.UUID      `gorm:"type:uuid;index;not null" json:"execution_id"`
	StageID     uuid.UUID      `gorm:"type:uuid;index" json:"stage_id,omitempty"`
	Actor       string         `gorm:"type:varchar(100)" json:"actor"`
	Action      string         `gorm:"type:varchar(50);not null" json:"action"`
	Payload     datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// --- FACTORY ---
func NewExecution(def *WorkflowDefinition, entityType, entityID, initiator string, context map[string]any, now time.Time) *WorkflowExecution {
	return &WorkflowExecution{
		ID:                uuid.New(),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		EntityType:        entityType,
		EntityID:          entityID,
		Status:            ExecutionPending,
		Context:           context,
		InitiatedBy:       initiator,
		StartedAt:         now,
		CreatedAt:         now,
	}
}

func NewExecutionStage(executionID uuid.UUID, sequence int, tpl *StageTemplate, now time.Time) *ExecutionStage {
	return &ExecutionStage{
		ID:          uuid.New(),
		ExecutionID: executionID,
		Sequence:    sequence,
		TemplateID:  tpl.ID,
		Name:        tpl.Name,
		Status:      StagePending,
		Version:     1,
		CreatedAt:   now,
	}
}

// --- METHODS ---

func (e *WorkflowExecution) IsFinished() bool {
	switch e.Status {
	case ExecutionCompleted, ExecutionRejected, ExecutionCancelled, ExecutionExpired:
		return true
	}
	return false
}

// CurrentStage returns the latest non-terminal stage visit, or nil once the
// execution has finished.
func (e *WorkflowExecution) CurrentStage() *ExecutionStage {
	for i := len(e.Stages) - 1; i >= 0; i-- {
		if !e.Stages[i].IsTerminal() {
			return &e.Stages[i]
		}
	}
	return nil
}

func (e *WorkflowExecution) StageByID(id uuid.UUID) *ExecutionStage {
	for i := range e.Stages {
		if e.Stages[i].ID == id {
			return &e.Stages[i]
		}
	}
	return nil
}

func (s *ExecutionStage) IsTerminal() bool {
	switch s.Status {
	case StageApproved, StageRejected, StageSentBack, StageSkipped, StageCancelled:
		return true
	}
	return false
}

// TerminalStatusFor maps a resolving action to the stage status it produces.
func TerminalStatusFor(action StageAction) StageStatus {
	switch action {
	case ActionApprove:
		return StageApproved
	case ActionReject:
		return StageRejected
	case ActionSendBack:
		return StageSentBack
	default:
		return StageCancelled
	}
}

// DeriveExecutionStatus recomputes the execution status from its stage visits.
// The execution status is never set independently of a stage transition.
func DeriveExecutionStatus(stages []ExecutionStage) ExecutionStatus {
	if len(stages) == 0 {
		return ExecutionPending
	}
	for i := range stages {
		if stages[i].Status == StageCancelled {
			return ExecutionCancelled
		}
	}
	for i := range stages {
		switch stages[i].Status {
		case StageInProgress:
			return ExecutionInProgress
		case StagePending:
			return ExecutionPending
		}
	}
	// All visits terminal: the last one decides the outcome.
	last := stages[len(stages)-1]
	switch last.Status {
	case StageRejected:
		return ExecutionRejected
	default:
		return ExecutionCompleted
	}
}
