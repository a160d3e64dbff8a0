package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"procureflow/internal/core/ports"
	"procureflow/internal/domain"
	"procureflow/internal/metrics"
	"procureflow/internal/resolver"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SystemActor is the synthetic approver used for SLA auto-approvals.
const SystemActor = "system"

// Engine drives approval executions: it exclusively owns every mutation of
// WorkflowExecution rows and their stage visits.
type Engine struct {
	definitions ports.DefinitionRepository
	executions  ports.ExecutionRepository
	resolver    *resolver.Resolver
	directory   ports.ApproverDirectory
	deadlines   ports.DeadlineStore
	notifier    ports.Notifier
	audit       ports.AuditSink
	clock       ports.Clock
	locks       *executionLocks
}

func NewEngine(
	definitions ports.DefinitionRepository,
	executions ports.ExecutionRepository,
	res *resolver.Resolver,
	directory ports.ApproverDirectory,
	deadlines ports.DeadlineStore,
	notifier ports.Notifier,
	audit ports.AuditSink,
	clock ports.Clock,
) *Engine {
	return &Engine{
		definitions: definitions,
		executions:  executions,
		resolver:    res,
		directory:   directory,
		deadlines:   deadlines,
		notifier:    notifier,
		audit:       audit,
		clock:       clock,
		locks:       newExecutionLocks(),
	}
}

// CreateExecution starts an approval run against the active version of a
// definition. The version is pinned into the execution; later definition
// edits never affect a running execution.
func (e *Engine) CreateExecution(ctx context.Context, definitionID uuid.UUID, entityType, entityID, initiator string, execContext map[string]any) (*domain.WorkflowExecution, error) {
	def, err := e.definitions.GetActive(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	first := def.FirstStage()
	if first == nil {
		return nil, fmt.Errorf("%w: definition %s has no stages", domain.ErrDefinitionInvalid, definitionID)
	}

	now := e.clock.Now()
	execution := domain.NewExecution(def, entityType, entityID, initiator, execContext, now)
	stage := domain.NewExecutionStage(execution.ID, 1, first, now)

	if err := e.executions.CreateExecution(ctx, execution, stage); err != nil {
		return nil, err
	}
	execution.Stages = []domain.ExecutionStage{*stage}

	unlock := e.locks.Lock(execution.ID)
	defer unlock()

	if err := e.activateStage(ctx, execution, def, &execution.Stages[0]); err != nil {
		// Activation failed (no approver, directory down, condition dead
		// end). The execution stays PENDING for manual remediation; the
		// failure is surfaced, never silently skipped.
		return execution, err
	}
	return e.executions.GetByID(ctx, execution.ID)
}

// GetExecution loads an execution with its full stage history.
func (e *Engine) GetExecution(ctx context.Context, executionID uuid.UUID) (*domain.WorkflowExecution, error) {
	return e.executions.GetByID(ctx, executionID)
}

// SubmitAction applies one approver's action to the current stage. On
// ErrStageAlreadyResolved the returned execution is the current state, so
// callers can treat retries as idempotent successes.
func (e *Engine) SubmitAction(ctx context.Context, executionID, stageID uuid.UUID, actor string, action domain.StageAction, comments string) (*domain.WorkflowExecution, error) {
	unlock := e.locks.Lock(executionID)
	defer unlock()
	return e.submit(ctx, executionID, stageID, actor, action, comments)
}

// submit is the locked core shared by SubmitAction and the SLA auto-approve
// path, so timeouts reuse the exact same resolution and branching logic.
func (e *Engine) submit(ctx context.Context, executionID, stageID uuid.UUID, actor string, action domain.StageAction, comments string) (*domain.WorkflowExecution, error) {
	switch action {
	case domain.ActionApprove, domain.ActionReject, domain.ActionSendBack:
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAction, action)
	}

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	stage := execution.StageByID(stageID)
	if stage == nil {
		return execution, fmt.Errorf("%w: stage %s not part of execution", domain.ErrStaleStageAction, stageID)
	}
	if stage.IsTerminal() {
		e.logAttempt(ctx, execution, stage, actor, action, comments, false, "stage already resolved")
		return execution, domain.ErrStageAlreadyResolved
	}
	current := execution.CurrentStage()
	if current == nil || current.ID != stage.ID || stage.Status != domain.StageInProgress {
		return execution, fmt.Errorf("%w: stage %s", domain.ErrStaleStageAction, stageID)
	}

	def, err := e.definitions.GetVersion(ctx, execution.DefinitionID, execution.DefinitionVersion)
	if err != nil {
		return nil, err
	}
	tpl := def.StageByID(stage.TemplateID)
	if tpl == nil {
		return nil, fmt.Errorf("%w: stage template %q missing from version %d", domain.ErrDefinitionInvalid, stage.TemplateID, def.Version)
	}

	if actor != SystemActor {
		authorized, err := e.isAuthorized(ctx, stage, tpl, actor)
		if err != nil {
			return nil, err
		}
		if !authorized {
			e.logAttempt(ctx, execution, stage, actor, action, comments, false, "not an assignee for this stage")
			return execution, domain.ErrUnauthorizedApprover
		}
		if def.Settings.RequireComments && comments == "" {
			e.logAttempt(ctx, execution, stage, actor, action, comments, false, "comments required")
			return execution, domain.ErrCommentsRequired
		}
	}

	e.logAttempt(ctx, execution, stage, actor, action, comments, true, "")

	resolved, resolveAction := evaluatePolicy(tpl, def.Settings, stage, actor, action)

	// Keep the per-assignee ledger current for multi-approver policies.
	if tpl.Policy != domain.PolicyAny && actor != SystemActor {
		if stage.Approvals == nil {
			stage.Approvals = make(map[string]domain.StageAction)
		}
		stage.Approvals[actor] = action
		if err := e.executions.UpdateStageApprovals(ctx, stage.ID, stage.Approvals); err != nil {
			return nil, err
		}
	}

	if !resolved {
		// Logged but not resolving: ALL policy still waiting, or a
		// SPECIFIC_USER stage acted on by another assignee.
		return e.executions.GetByID(ctx, executionID)
	}

	now := e.clock.Now()
	status := domain.TerminalStatusFor(resolveAction)
	if err := e.executions.ResolveStage(ctx, stage.ID, status, resolveAction, actor, comments, now); err != nil {
		if errors.Is(err, domain.ErrStageAlreadyResolved) {
			fresh, getErr := e.executions.GetByID(ctx, executionID)
			if getErr != nil {
				return nil, getErr
			}
			return fresh, domain.ErrStageAlreadyResolved
		}
		return nil, err
	}
	metrics.StageTransitions.WithLabelValues(string(resolveAction)).Inc()

	stage.Status = status
	stage.Action = resolveAction
	stage.ResolvedBy = actor
	stage.Comments = comments
	stage.CompletedAt = &now

	if stage.ExpiresAt != nil {
		e.disarm(ctx, execution.ID, stage.ID)
	}

	e.notify(ctx, domain.ApprovalEvent{
		Type:        domain.EventStageResolved,
		ExecutionID: execution.ID,
		StageID:     stage.ID,
		TemplateID:  stage.TemplateID,
		EntityType:  execution.EntityType,
		EntityID:    execution.EntityID,
		Recipients:  []string{execution.InitiatedBy},
		Payload:     map[string]any{"action": resolveAction, "actor": actor, "status": status},
		OccurredAt:  now,
	})
	e.auditTransition(ctx, execution.ID, stage.ID, actor, "stage."+string(resolveAction), map[string]any{
		"template_id": stage.TemplateID,
		"status":      status,
		"comments":    comments,
	})

	if err := e.branch(ctx, execution, def, tpl, stage, resolveAction); err != nil {
		return execution, err
	}
	return e.executions.GetByID(ctx, executionID)
}

// branch follows the resolved stage's action map: either appends and
// activates the next stage visit, or terminates the execution.
func (e *Engine) branch(ctx context.Context, execution *domain.WorkflowExecution, def *domain.WorkflowDefinition, tpl *domain.StageTemplate, stage *domain.ExecutionStage, action domain.StageAction) error {
	target := tpl.Actions[action]
	if target.NextStage == "" {
		return e.finalize(ctx, execution)
	}

	nextTpl := def.StageByID(target.NextStage)
	if nextTpl == nil {
		return fmt.Errorf("%w: stage %q", domain.ErrInvalidBranchTarget, target.NextStage)
	}

	// A send-back to an earlier stage reopens it as a fresh visit of the same
	// template; the prior terminal record stays in the history untouched.
	now := e.clock.Now()
	next := domain.NewExecutionStage(execution.ID, len(execution.Stages)+1, nextTpl, now)
	if err := e.executions.AppendStage(ctx, next); err != nil {
		return err
	}
	execution.Stages = append(execution.Stages, *next)

	if err := e.activateStage(ctx, execution, def, &execution.Stages[len(execution.Stages)-1]); err != nil {
		// Surfaced for manual remediation; the execution parks as PENDING.
		execution.Status = domain.ExecutionPending
		execution.CurrentStageID = ""
		if updateErr := e.executions.UpdateExecution(ctx, execution); updateErr != nil {
			log.Printf("Engine: failed to park execution %s as pending: %v", execution.ID, updateErr)
		}
		return err
	}
	return nil
}

// activateStage is the only place a stage becomes current. Idempotent:
// activating an already IN_PROGRESS stage is a no-op. Loops through skipped
// stages so a chain of false conditions cannot recurse unbounded.
func (e *Engine) activateStage(ctx context.Context, execution *domain.WorkflowExecution, def *domain.WorkflowDefinition, stage *domain.ExecutionStage) error {
	// Approve routes may form a cycle; a template skipped twice in one pass
	// means every condition on the cycle is false and no stage can activate.
	skipped := make(map[string]bool)
	for {
		if stage.Status == domain.StageInProgress {
			return nil
		}
		tpl := def.StageByID(stage.TemplateID)
		if tpl == nil {
			return fmt.Errorf("%w: stage template %q missing from version %d", domain.ErrDefinitionInvalid, stage.TemplateID, def.Version)
		}
		now := e.clock.Now()

		if !domain.EvaluateConditions(tpl.Conditions, tpl.ConditionLogic, execution.Context) {
			if !def.Settings.AllowSkipStages {
				return fmt.Errorf("%w: stage %q", domain.ErrConditionFailedNoSkip, tpl.ID)
			}
			if skipped[tpl.ID] {
				return fmt.Errorf("%w: skip cycle at stage %q", domain.ErrConditionFailedNoSkip, tpl.ID)
			}
			skipped[tpl.ID] = true
			stage.Status = domain.StageSkipped
			stage.CompletedAt = &now
			if err := e.executions.UpdateStage(ctx, stage); err != nil {
				return err
			}
			e.auditTransition(ctx, execution.ID, stage.ID, SystemActor, "stage.skipped", map[string]any{"template_id": tpl.ID})

			// A skipped stage proceeds along its approve route.
			target := tpl.Actions[domain.ActionApprove]
			if target.NextStage == "" {
				return e.finalize(ctx, execution)
			}
			nextTpl := def.StageByID(target.NextStage)
			if nextTpl == nil {
				return fmt.Errorf("%w: stage %q", domain.ErrInvalidBranchTarget, target.NextStage)
			}
			next := domain.NewExecutionStage(execution.ID, len(execution.Stages)+1, nextTpl, now)
			if err := e.executions.AppendStage(ctx, next); err != nil {
				return err
			}
			execution.Stages = append(execution.Stages, *next)
			stage = &execution.Stages[len(execution.Stages)-1]
			continue
		}

		assignees, err := e.resolver.Resolve(ctx, tpl)
		if err != nil {
			return err
		}
		if len(assignees) == 0 {
			return fmt.Errorf("%w: stage %q", domain.ErrNoApproverAssigned, tpl.ID)
		}

		stage.Status = domain.StageInProgress
		stage.Assignees = assignees
		stage.StartedAt = &now
		if d := tpl.SLADuration(); d > 0 {
			expiresAt := now.Add(d)
			stage.ExpiresAt = &expiresAt
		}
		if err := e.executions.UpdateStage(ctx, stage); err != nil {
			return err
		}

		execution.CurrentStageID = tpl.ID
		execution.Status = domain.ExecutionInProgress
		if err := e.executions.UpdateExecution(ctx, execution); err != nil {
			return err
		}

		if stage.ExpiresAt != nil {
			e.arm(ctx, execution.ID, stage.ID, stage)
		}
		metrics.StagesActivated.Inc()

		log.Printf("Engine: execution %s stage %q activated with %d assignees", execution.ID, tpl.Name, len(assignees))
		e.notify(ctx, domain.ApprovalEvent{
			Type:        domain.EventStageActivated,
			ExecutionID: execution.ID,
			StageID:     stage.ID,
			TemplateID:  tpl.ID,
			EntityType:  execution.EntityType,
			EntityID:    execution.EntityID,
			Recipients:  assignees,
			Payload:     map[string]any{"stage_name": tpl.Name, "expires_at": stage.ExpiresAt},
			OccurredAt:  now,
		})
		e.auditTransition(ctx, execution.ID, stage.ID, SystemActor, "stage.activated", map[string]any{
			"template_id": tpl.ID,
			"assignees":   assignees,
		})
		return nil
	}
}

// CancelExecution aborts a running execution. It commits through the same
// per-execution lock as any other transition, so it races a concurrent
// SubmitAction safely.
func (e *Engine) CancelExecution(ctx context.Context, executionID uuid.UUID, actor, reason string) (*domain.WorkflowExecution, error) {
	unlock := e.locks.Lock(executionID)
	defer unlock()

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if execution.IsFinished() {
		return execution, fmt.Errorf("%w: status %s", domain.ErrExecutionFinished, execution.Status)
	}

	if err := e.executions.CancelOpenStages(ctx, executionID); err != nil {
		return nil, err
	}
	if current := execution.CurrentStage(); current != nil && current.ExpiresAt != nil {
		e.disarm(ctx, executionID, current.ID)
	}

	now := e.clock.Now()
	execution.Status = domain.ExecutionCancelled
	execution.Outcome = "cancelled"
	execution.CancelledBy = actor
	execution.CancelReason = reason
	execution.CompletedAt = &now
	execution.CurrentStageID = ""
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		return nil, err
	}
	metrics.ExecutionsFinished.WithLabelValues(string(domain.ExecutionCancelled)).Inc()

	e.notify(ctx, domain.ApprovalEvent{
		Type:        domain.EventExecutionFinished,
		ExecutionID: execution.ID,
		EntityType:  execution.EntityType,
		EntityID:    execution.EntityID,
		Recipients:  []string{execution.InitiatedBy},
		Payload:     map[string]any{"status": domain.ExecutionCancelled, "reason": reason},
		OccurredAt:  now,
	})
	e.auditTransition(ctx, execution.ID, uuid.Nil, actor, "execution.cancelled", map[string]any{"reason": reason})

	return e.executions.GetByID(ctx, executionID)
}

// ReassignStage replaces the assignee set of the current stage. It also
// remediates a parked execution: when activation failed with no approver the
// stage is still PENDING, and reassigning it supplies the assignees and
// activates it.
func (e *Engine) ReassignStage(ctx context.Context, executionID, stageID uuid.UUID, assignees []string, actor string) (*domain.WorkflowExecution, error) {
	unlock := e.locks.Lock(executionID)
	defer unlock()

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	stage := execution.StageByID(stageID)
	if stage == nil {
		return execution, fmt.Errorf("%w: stage %s not part of execution", domain.ErrStaleStageAction, stageID)
	}
	if stage.IsTerminal() {
		return execution, domain.ErrStageAlreadyResolved
	}
	current := execution.CurrentStage()
	if current == nil || current.ID != stage.ID {
		return execution, fmt.Errorf("%w: stage %s", domain.ErrStaleStageAction, stageID)
	}
	if len(assignees) == 0 {
		return execution, fmt.Errorf("%w: empty assignee set", domain.ErrNoApproverAssigned)
	}

	now := e.clock.Now()
	stage.Assignees = assignees
	activated := false
	if stage.Status == domain.StagePending {
		def, err := e.definitions.GetVersion(ctx, execution.DefinitionID, execution.DefinitionVersion)
		if err != nil {
			return nil, err
		}
		tpl := def.StageByID(stage.TemplateID)
		if tpl == nil {
			return nil, fmt.Errorf("%w: stage template %q missing from version %d", domain.ErrDefinitionInvalid, stage.TemplateID, def.Version)
		}
		stage.Status = domain.StageInProgress
		stage.StartedAt = &now
		if d := tpl.SLADuration(); d > 0 {
			expiresAt := now.Add(d)
			stage.ExpiresAt = &expiresAt
		}
		activated = true
	}
	if err := e.executions.UpdateStage(ctx, stage); err != nil {
		return nil, err
	}
	if activated {
		execution.CurrentStageID = stage.TemplateID
		execution.Status = domain.ExecutionInProgress
		if err := e.executions.UpdateExecution(ctx, execution); err != nil {
			return nil, err
		}
		if stage.ExpiresAt != nil {
			e.arm(ctx, execution.ID, stage.ID, stage)
		}
		metrics.StagesActivated.Inc()
	}

	e.notify(ctx, domain.ApprovalEvent{
		Type:        domain.EventStageReassigned,
		ExecutionID: execution.ID,
		StageID:     stage.ID,
		TemplateID:  stage.TemplateID,
		EntityType:  execution.EntityType,
		EntityID:    execution.EntityID,
		Recipients:  assignees,
		OccurredAt:  now,
	})
	e.auditTransition(ctx, execution.ID, stage.ID, actor, "stage.reassigned", map[string]any{"assignees": assignees})

	return e.executions.GetByID(ctx, executionID)
}

// EscalateStage manually applies the stage's escalation target, the same
// path an SLA expiry takes.
func (e *Engine) EscalateStage(ctx context.Context, executionID, stageID uuid.UUID, actor string) (*domain.WorkflowExecution, error) {
	unlock := e.locks.Lock(executionID)
	defer unlock()

	execution, stage, def, err := e.currentStageFor(ctx, executionID, stageID)
	if err != nil {
		return execution, err
	}
	tpl := def.StageByID(stage.TemplateID)
	if tpl == nil || tpl.SLA == nil || len(tpl.SLA.EscalateTo) == 0 {
		return execution, fmt.Errorf("%w: stage %q has no escalation target", domain.ErrNoApproverAssigned, stage.TemplateID)
	}
	if err := e.escalate(ctx, execution, stage, tpl, actor); err != nil {
		return nil, err
	}
	return e.executions.GetByID(ctx, executionID)
}

// HandleTimeout is the scheduler's entry point for an expired deadline.
// Whichever arrives first, human action or timeout, wins the stage; the
// loser path here is a clean no-op.
func (e *Engine) HandleTimeout(ctx context.Context, executionID, stageID uuid.UUID) error {
	unlock := e.locks.Lock(executionID)
	defer unlock()

	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, domain.ErrExecutionNotFound) {
			e.disarm(ctx, executionID, stageID)
			return nil
		}
		return err
	}
	stage := execution.StageByID(stageID)
	if stage == nil || stage.Status != domain.StageInProgress || execution.IsFinished() {
		// A human action resolved the stage before the timer fired.
		e.disarm(ctx, executionID, stageID)
		metrics.TimeoutsHandled.WithLabelValues("lost_race").Inc()
		return nil
	}
	if stage.ExpiresAt == nil {
		e.disarm(ctx, executionID, stageID)
		return nil
	}
	now := e.clock.Now()
	if now.Before(*stage.ExpiresAt) {
		// Deadline moved (escalation re-arm); restore the wake-up.
		e.arm(ctx, executionID, stageID, stage)
		return nil
	}

	def, err := e.definitions.GetVersion(ctx, execution.DefinitionID, execution.DefinitionVersion)
	if err != nil {
		return err
	}
	tpl := def.StageByID(stage.TemplateID)
	if tpl == nil {
		return fmt.Errorf("%w: stage template %q missing from version %d", domain.ErrDefinitionInvalid, stage.TemplateID, def.Version)
	}

	// Single escalation pass, then auto-approve if configured, else the
	// stage is flagged overdue and stays in progress indefinitely.
	if tpl.SLA != nil && len(tpl.SLA.EscalateTo) > 0 && !stage.Escalated {
		metrics.TimeoutsHandled.WithLabelValues("escalated").Inc()
		return e.escalate(ctx, execution, stage, tpl, SystemActor)
	}
	if def.Settings.AutoApproveOnTimeout {
		metrics.TimeoutsHandled.WithLabelValues("auto_approved").Inc()
		_, err := e.submit(ctx, executionID, stage.ID, SystemActor, domain.ActionApprove, "auto-approved after SLA timeout")
		if errors.Is(err, domain.ErrStageAlreadyResolved) {
			return nil
		}
		return err
	}

	e.disarm(ctx, executionID, stageID)
	stage.Overdue = true
	if err := e.executions.UpdateStage(ctx, stage); err != nil {
		return err
	}
	metrics.TimeoutsHandled.WithLabelValues("overdue").Inc()
	metrics.OverdueStages.Inc()
	log.Printf("Engine: execution %s stage %q overdue with no escalation target", executionID, stage.Name)
	e.notify(ctx, domain.ApprovalEvent{
		Type:        domain.EventStageOverdue,
		ExecutionID: executionID,
		StageID:     stage.ID,
		TemplateID:  stage.TemplateID,
		EntityType:  execution.EntityType,
		EntityID:    execution.EntityID,
		Recipients:  stage.Assignees,
		OccurredAt:  now,
	})
	e.auditTransition(ctx, executionID, stage.ID, SystemActor, "stage.overdue", nil)
	return nil
}

// --- helpers ---

func (e *Engine) escalate(ctx context.Context, execution *domain.WorkflowExecution, stage *domain.ExecutionStage, tpl *domain.StageTemplate, actor string) error {
	now := e.clock.Now()
	assignees := make([]string, len(tpl.SLA.EscalateTo))
	copy(assignees, tpl.SLA.EscalateTo)

	stage.Assignees = assignees
	stage.Escalated = true
	if d := tpl.SLADuration(); d > 0 {
		expiresAt := now.Add(d)
		stage.ExpiresAt = &expiresAt
	}
	if err := e.executions.UpdateStage(ctx, stage); err != nil {
		return err
	}
	if stage.ExpiresAt != nil {
		e.arm(ctx, execution.ID, stage.ID, stage)
	}

	log.Printf("Engine: execution %s stage %q escalated to %v", execution.ID, stage.Name, assignees)
	e.notify(ctx, domain.ApprovalEvent{
		Type:        domain.EventStageEscalated,
		ExecutionID: execution.ID,
		StageID:     stage.ID,
		TemplateID:  stage.TemplateID,
		EntityType:  execution.EntityType,
		EntityID:    execution.EntityID,
		Recipients:  assignees,
		OccurredAt:  now,
	})
	e.auditTransition(ctx, execution.ID, stage.ID, actor, "stage.escalated", map[string]any{"assignees": assignees})
	return nil
}

// finalize closes an execution whose stage visits are all terminal. The status
// is derived from the stage history, never chosen independently of it.
func (e *Engine) finalize(ctx context.Context, execution *domain.WorkflowExecution) error {
	status := domain.DeriveExecutionStatus(execution.Stages)
	outcome := "approved"
	if status == domain.ExecutionRejected {
		outcome = "rejected"
	}
	now := e.clock.Now()
	execution.Status = status
	execution.Outcome = outcome
	execution.CompletedAt = &now
	execution.CurrentStageID = ""
	if err := e.executions.UpdateExecution(ctx, execution); err != nil {
		return err
	}
	metrics.ExecutionsFinished.WithLabelValues(string(status)).Inc()

	log.Printf("Engine: execution %s finished with status %s", execution.ID, status)
	e.notify(ctx, domain.ApprovalEvent{
		Type:        domain.EventExecutionFinished,
		ExecutionID: execution.ID,
		EntityType:  execution.EntityType,
		EntityID:    execution.EntityID,
		Recipients:  []string{execution.InitiatedBy},
		Payload:     map[string]any{"status": status, "outcome": outcome},
		OccurredAt:  now,
	})
	e.auditTransition(ctx, execution.ID, uuid.Nil, SystemActor, "execution.finished", map[string]any{"status": status, "outcome": outcome})
	return nil
}

// currentStageFor loads the execution and checks the targeted stage is the
// live one, sharing the precondition ladder of the management operations.
func (e *Engine) currentStageFor(ctx context.Context, executionID, stageID uuid.UUID) (*domain.WorkflowExecution, *domain.ExecutionStage, *domain.WorkflowDefinition, error) {
	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, nil, nil, err
	}
	stage := execution.StageByID(stageID)
	if stage == nil {
		return execution, nil, nil, fmt.Errorf("%w: stage %s not part of execution", domain.ErrStaleStageAction, stageID)
	}
	if stage.IsTerminal() {
		return execution, nil, nil, domain.ErrStageAlreadyResolved
	}
	current := execution.CurrentStage()
	if current == nil || current.ID != stage.ID || stage.Status != domain.StageInProgress {
		return execution, nil, nil, fmt.Errorf("%w: stage %s", domain.ErrStaleStageAction, stageID)
	}
	def, err := e.definitions.GetVersion(ctx, execution.DefinitionID, execution.DefinitionVersion)
	if err != nil {
		return nil, nil, nil, err
	}
	return execution, stage, def, nil
}

func (e *Engine) isAuthorized(ctx context.Context, stage *domain.ExecutionStage, tpl *domain.StageTemplate, actor string) (bool, error) {
	for _, assignee := range stage.Assignees {
		if assignee == actor {
			return true, nil
		}
	}
	if tpl.ApproverRole != "" {
		ok, err := e.directory.HasRole(ctx, actor, tpl.ApproverRole)
		if err != nil {
			return false, fmt.Errorf("%w: checking role %q: %v", domain.ErrDirectoryUnavailable, tpl.ApproverRole, err)
		}
		return ok, nil
	}
	return false, nil
}

// evaluatePolicy decides whether this action resolves the stage and with what
// outcome. SystemActor always resolves (SLA synthesis acts for the stage as a
// whole, not as one voter).
func evaluatePolicy(tpl *domain.StageTemplate, settings domain.DefinitionSettings, stage *domain.ExecutionStage, actor string, action domain.StageAction) (bool, domain.StageAction) {
	if actor == SystemActor {
		return true, action
	}
	switch tpl.Policy {
	case domain.PolicyAny:
		return true, action
	case domain.PolicySpecificUser:
		if actor == tpl.SpecificUser {
			return true, action
		}
		return false, ""
	case domain.PolicyAll:
		if action == domain.ActionSendBack {
			return true, domain.ActionSendBack
		}
		if action == domain.ActionReject && settings.RejectOverrides {
			return true, domain.ActionReject
		}
		votes := make(map[string]domain.StageAction, len(stage.Approvals)+1)
		for user, vote := range stage.Approvals {
			votes[user] = vote
		}
		votes[actor] = action
		for _, assignee := range stage.Assignees {
			if _, acted := votes[assignee]; !acted {
				return false, ""
			}
		}
		for _, vote := range votes {
			if vote == domain.ActionReject {
				return true, domain.ActionReject
			}
		}
		return true, domain.ActionApprove
	default:
		return false, ""
	}
}

func (e *Engine) logAttempt(ctx context.Context, execution *domain.WorkflowExecution, stage *domain.ExecutionStage, actor string, action domain.StageAction, comments string, accepted bool, reason string) {
	entry := &domain.StageActionLog{
		ID:          uuid.New(),
		ExecutionID: execution.ID,
		StageID:     stage.ID,
		TemplateID:  stage.TemplateID,
		Actor:       actor,
		Action:      action,
		Comments:    comments,
		Accepted:    accepted,
		Reason:      reason,
		CreatedAt:   e.clock.Now(),
	}
	if err := e.executions.AppendActionLog(ctx, entry); err != nil {
		log.Printf("Engine: failed to append action log for execution %s: %v", execution.ID, err)
	}
}

func (e *Engine) arm(ctx context.Context, executionID, stageID uuid.UUID, stage *domain.ExecutionStage) {
	deadline := ports.Deadline{ExecutionID: executionID, StageID: stageID}
	if err := e.deadlines.Arm(ctx, deadline, *stage.ExpiresAt); err != nil {
		// Recoverable: expires_at is on the row, the scheduler re-arms at boot.
		log.Printf("Engine: failed to arm deadline for stage %s: %v", stageID, err)
	}
}

func (e *Engine) disarm(ctx context.Context, executionID, stageID uuid.UUID) {
	deadline := ports.Deadline{ExecutionID: executionID, StageID: stageID}
	if err := e.deadlines.Disarm(ctx, deadline); err != nil {
		log.Printf("Engine: failed to disarm deadline for stage %s: %v", stageID, err)
	}
}

// notify and auditTransition are best-effort: adapter failures are logged and
// counted, never surfaced as a mutation failure.
func (e *Engine) notify(ctx context.Context, event domain.ApprovalEvent) {
	if err := e.notifier.Notify(ctx, event); err != nil {
		metrics.AdapterFailures.WithLabelValues("notifier").Inc()
		log.Printf("Engine: notifier failed for execution %s event %s: %v", event.ExecutionID, event.Type, err)
	}
}

func (e *Engine) auditTransition(ctx context.Context, executionID, stageID uuid.UUID, actor, action string, payload map[string]any) {
	var raw datatypes.JSON
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = datatypes.JSON(data)
		}
	}
	record := &domain.AuditRecord{
		ID:          uuid.New(),
		ExecutionID: executionID,
		StageID:     stageID,
		Actor:       actor,
		Action:      action,
		Payload:     raw,
		CreatedAt:   e.clock.Now(),
	}
	if err := e.audit.Record(ctx, record); err != nil {
		metrics.AdapterFailures.WithLabelValues("audit").Inc()
		log.Printf("Engine: audit sink failed for execution %s action %s: %v", executionID, action, err)
	}
}
