package service

import (
	"context"

	"procureflow/internal/api/dto"
	"procureflow/internal/core/ports"
	"procureflow/internal/domain"
	"procureflow/internal/engine"

	"github.com/google/uuid"
)

type WorkflowService interface {
	CreateDefinition(ctx context.Context, req dto.CreateDefinitionRequest) (*domain.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context) ([]domain.WorkflowDefinition, error)
	// GetDefinition returns the requested version, or the latest when version is 0
	GetDefinition(ctx context.Context, id uuid.UUID, version int) (*domain.WorkflowDefinition, error)
	ActivateDefinition(ctx context.Context, id uuid.UUID, version int) (*domain.WorkflowDefinition, error)

	CreateExecution(ctx context.Context, req dto.CreateExecutionRequest) (*domain.WorkflowExecution, error)
	GetExecution(ctx context.Context, id uuid.UUID) (*dto.ExecutionResponse, error)
	SubmitAction(ctx context.Context, executionID uuid.UUID, req dto.SubmitActionRequest) (*domain.WorkflowExecution, error)
	ReassignStage(ctx context.Context, executionID, stageID uuid.UUID, req dto.ReassignStageRequest) (*domain.WorkflowExecution, error)
	EscalateStage(ctx context.Context, executionID, stageID uuid.UUID, req dto.EscalateStageRequest) (*domain.WorkflowExecution, error)
	CancelExecution(ctx context.Context, executionID uuid.UUID, req dto.CancelExecutionRequest) (*domain.WorkflowExecution, error)
}

// The Implementation
type workflowService struct {
	definitions ports.DefinitionRepository
	executions  ports.ExecutionRepository
	engine      *engine.Engine
}

// Constructor
func NewWorkflowService(definitions ports.DefinitionRepository, executions ports.ExecutionRepository, eng *engine.Engine) WorkflowService {
	return &workflowService{
		definitions: definitions,
		executions:  executions,
		engine:      eng,
	}
}

func (s *workflowService) CreateDefinition(ctx context.Context, req dto.CreateDefinitionRequest) (*domain.WorkflowDefinition, error) {
	stages := make([]domain.StageTemplate, 0, len(req.Stages))
	for _, stageDTO := range req.Stages {
		stages = append(stages, toStageTemplate(stageDTO))
	}
	settings := toSettings(req.Settings)

	var def *domain.WorkflowDefinition
	if req.DefinitionID != nil {
		latest, err := s.definitions.GetLatest(ctx, *req.DefinitionID)
		if err != nil {
			return nil, err
		}
		def = latest.NewVersion(stages, settings, req.CreatedBy)
	} else {
		def = domain.NewWorkflowDefinition(req.Name, domain.DefinitionType(req.Type), stages, settings, req.CreatedBy)
	}

	// Branch targets are checked here and again at activation, never at runtime
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := s.definitions.Create(ctx, def); err != nil {
		return nil, err
	}

	if req.Activate {
		if err := s.definitions.Activate(ctx, def.ID, def.Version); err != nil {
			return nil, err
		}
		def.Status = domain.DefinitionActive
	}
	return def, nil
}

func (s *workflowService) ListDefinitions(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	return s.definitions.List(ctx)
}

func (s *workflowService) GetDefinition(ctx context.Context, id uuid.UUID, version int) (*domain.WorkflowDefinition, error) {
	if version > 0 {
		return s.definitions.GetVersion(ctx, id, version)
	}
	return s.definitions.GetLatest(ctx, id)
}

func (s *workflowService) ActivateDefinition(ctx context.Context, id uuid.UUID, version int) (*domain.WorkflowDefinition, error) {
	def, err := s.definitions.GetVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if err := s.definitions.Activate(ctx, id, version); err != nil {
		return nil, err
	}
	def.Status = domain.DefinitionActive
	return def, nil
}

func (s *workflowService) CreateExecution(ctx context.Context, req dto.CreateExecutionRequest) (*domain.WorkflowExecution, error) {
	return s.engine.CreateExecution(ctx, req.DefinitionID, req.EntityType, req.EntityID, req.InitiatedBy, req.Context)
}

func (s *workflowService) GetExecution(ctx context.Context, id uuid.UUID) (*dto.ExecutionResponse, error) {
	execution, err := s.engine.GetExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	actionLog, err := s.executions.ListActionLog(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.ExecutionResponse{Execution: execution, ActionLog: actionLog}, nil
}

func (s *workflowService) SubmitAction(ctx context.Context, executionID uuid.UUID, req dto.SubmitActionRequest) (*domain.WorkflowExecution, error) {
	return s.engine.SubmitAction(ctx, executionID, req.StageID, req.Actor, domain.StageAction(req.Action), req.Comments)
}

func (s *workflowService) ReassignStage(ctx context.Context, executionID, stageID uuid.UUID, req dto.ReassignStageRequest) (*domain.WorkflowExecution, error) {
	return s.engine.ReassignStage(ctx, executionID, stageID, req.Assignees, req.Actor)
}

func (s *workflowService) EscalateStage(ctx context.Context, executionID, stageID uuid.UUID, req dto.EscalateStageRequest) (*domain.WorkflowExecution, error) {
	return s.engine.EscalateStage(ctx, executionID, stageID, req.Actor)
}

func (s *workflowService) CancelExecution(ctx context.Context, executionID uuid.UUID, req dto.CancelExecutionRequest) (*domain.WorkflowExecution, error) {
	return s.engine.CancelExecution(ctx, executionID, req.Actor, req.Reason)
}

func toStageTemplate(stageDTO dto.StageTemplateDTO) domain.StageTemplate {
	id := stageDTO.ID
	if id == "" {
		id = uuid.NewString()
	}
	actions := make(map[domain.StageAction]domain.ActionTarget, len(stageDTO.Actions))
	for action, target := range stageDTO.Actions {
		actions[domain.StageAction(action)] = domain.ActionTarget{NextStage: target.NextStage}
	}
	return domain.StageTemplate{
		ID:             id,
		Name:           stageDTO.Name,
		Order:          stageDTO.Order,
		ApproverRole:   stageDTO.ApproverRole,
		ApproverUsers:  stageDTO.ApproverUsers,
		Policy:         domain.ApprovalPolicy(stageDTO.Policy),
		SpecificUser:   stageDTO.SpecificUser,
		Conditions:     stageDTO.Conditions,
		ConditionLogic: domain.ConditionLogic(stageDTO.ConditionLogic),
		SLA:            stageDTO.SLA,
		Actions:        actions,
	}
}

func toSettings(settingsDTO dto.SettingsDTO) domain.DefinitionSettings {
	settings := domain.DefinitionSettings{
		AllowParallelApproval: settingsDTO.AllowParallelApproval,
		AllowSkipStages:       settingsDTO.AllowSkipStages,
		AutoApproveOnTimeout:  settingsDTO.AutoApproveOnTimeout,
		RequireComments:       settingsDTO.RequireComments,
		RejectOverrides:       true,
	}
	if settingsDTO.RejectOverrides != nil {
		settings.RejectOverrides = *settingsDTO.RejectOverrides
	}
	return settings
}
