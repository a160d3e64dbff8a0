package dto

import (
	"procureflow/internal/domain"

	"github.com/google/uuid"
)

type ActionTargetDTO struct {
	NextStage string `json:"next_stage"`
}

type StageTemplateDTO struct {
	ID             string                     `json:"id"`
	Name           string                     `json:"name" binding:"required"`
	Order          int                        `json:"order" binding:"required,min=1"`
	ApproverRole   string                     `json:"approver_role"`
	ApproverUsers  []string                   `json:"approver_users"`
	Policy         string                     `json:"policy" binding:"required,oneof=ANY ALL SPECIFIC_USER"`
	SpecificUser   string                     `json:"specific_user"`
	Conditions     []domain.Condition         `json:"conditions"`
	ConditionLogic string                     `json:"condition_logic" binding:"omitempty,oneof=and or"`
	SLA            *domain.StageSLA           `json:"sla"`
	Actions        map[string]ActionTargetDTO `json:"actions"`
}

type SettingsDTO struct {
	AllowParallelApproval bool `json:"allow_parallel_approval"`
	AllowSkipStages       bool `json:"allow_skip_stages"`
	AutoApproveOnTimeout  bool `json:"auto_approve_on_timeout"`
	RequireComments       bool `json:"require_comments"`
	// Defaults to true when omitted
	RejectOverrides *bool `json:"reject_overrides"`
}

type CreateDefinitionRequest struct {
	// DefinitionID makes this a new version of an existing definition
	DefinitionID *uuid.UUID         `json:"definition_id"`
	Name         string             `json:"name" binding:"required"`
	Type         string             `json:"type" binding:"required,oneof=tender-approval bid-evaluation contract-approval payment-approval vendor-onboarding custom"`
	Stages       []StageTemplateDTO `json:"stages" binding:"required,min=1,dive"`
	Settings     SettingsDTO        `json:"settings"`
	CreatedBy    string             `json:"created_by" binding:"required"`
	Activate     bool               `json:"activate"`
}

type CreateExecutionRequest struct {
	DefinitionID uuid.UUID      `json:"definition_id" binding:"required"`
	EntityType   string         `json:"entity_type" binding:"required"`
	EntityID     string         `json:"entity_id" binding:"required"`
	InitiatedBy  string         `json:"initiated_by" binding:"required"`
	Context      map[string]any `json:"context"`
}

type SubmitActionRequest struct {
	StageID  uuid.UUID `json:"stage_id" binding:"required"`
	Actor    string    `json:"actor" binding:"required"`
	Action   string    `json:"action" binding:"required,oneof=APPROVE REJECT SEND_BACK"`
	Comments string    `json:"comments"`
}

type ReassignStageRequest struct {
	Assignees []string `json:"assignees" binding:"required,min=1"`
	Actor     string   `json:"actor" binding:"required"`
}

type EscalateStageRequest struct {
	Actor string `json:"actor" binding:"required"`
}

type CancelExecutionRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason"`
}

type ExecutionResponse struct {
	Execution *domain.WorkflowExecution `json:"execution"`
	ActionLog []domain.StageActionLog   `json:"action_log,omitempty"`
}
