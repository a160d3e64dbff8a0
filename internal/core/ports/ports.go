package ports

import (
	"context"
	"time"

	"procureflow/internal/domain"

	"github.com/google/uuid"
)

// DefinitionRepository owns the versioned workflow templates. Rows are
// read-only to the engine once published.
type DefinitionRepository interface {
	// Persist a new definition version
	Create(ctx context.Context, def *domain.WorkflowDefinition) error

	// Fetch one exact (id, version) row
	GetVersion(ctx context.Context, id uuid.UUID, version int) (*domain.WorkflowDefinition, error)

	// Fetch the highest version regardless of status
	GetLatest(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error)

	// Fetch the currently active version
	GetActive(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error)

	// List the latest version of every definition
	List(ctx context.Context) ([]domain.WorkflowDefinition, error)

	// Activate one version and deactivate all previously active ones
	Activate(ctx context.Context, id uuid.UUID, version int) error
}

// ExecutionRepository owns the runtime instances. Only the Execution Engine
// mutates them.
type ExecutionRepository interface {
	// 1. Create an execution with its first stage visit in one transaction
	CreateExecution(ctx context.Context, execution *domain.WorkflowExecution, stage *domain.ExecutionStage) error

	// 2. Load an execution with stage visits ordered by sequence
	GetByID(ctx context.Context, executionID uuid.UUID) (*domain.WorkflowExecution, error)

	// 3. Append a new stage visit (branching / send-back reopen)
	AppendStage(ctx context.Context, stage *domain.ExecutionStage) error

	// 4. Save mutable fields of a non-terminal stage (activation, reassign,
	// escalation, overdue flag)
	UpdateStage(ctx context.Context, stage *domain.ExecutionStage) error

	// 5. The "Resolve" (compare-and-swap)
	// "Set terminal status WHERE id=? AND status=IN_PROGRESS"
	// Exactly one concurrent caller wins; losers get ErrStageAlreadyResolved.
	ResolveStage(ctx context.Context, stageID uuid.UUID, status domain.StageStatus, action domain.StageAction, resolvedBy, comments string, completedAt time.Time) error

	// 6. Record a partial approval on an ALL/SPECIFIC_USER policy stage
	UpdateStageApprovals(ctx context.Context, stageID uuid.UUID, approvals map[string]domain.StageAction) error

	// 7. Mark every open stage visit cancelled (cancelExecution path)
	CancelOpenStages(ctx context.Context, executionID uuid.UUID) error

	// 8. Save execution-level fields after a transition
	UpdateExecution(ctx context.Context, execution *domain.WorkflowExecution) error

	// 9. Append-only per-attempt history
	AppendActionLog(ctx context.Context, entry *domain.StageActionLog) error
	ListActionLog(ctx context.Context, executionID uuid.UUID) ([]domain.StageActionLog, error)

	// 10. Deadline recovery after a restart
	ListStagesWithDeadlines(ctx context.Context) ([]domain.ExecutionStage, error)
}

// ApproverDirectory is the external user/role directory. An unavailable
// directory must fail resolution explicitly, never yield zero approvers.
type ApproverDirectory interface {
	ResolveRole(ctx context.Context, role string) ([]string, error)
	HasRole(ctx context.Context, user, role string) (bool, error)
}

// Notifier is a fire-and-forget sink for approval events.
type Notifier interface {
	Notify(ctx context.Context, event domain.ApprovalEvent) error
}

// AuditSink records every observable transition.
type AuditSink interface {
	Record(ctx context.Context, record *domain.AuditRecord) error
}

// Clock abstracts time for the engine and scheduler.
type Clock interface {
	Now() time.Time
}

// Deadline identifies one armed stage deadline.
type Deadline struct {
	ExecutionID uuid.UUID
	StageID     uuid.UUID
}

// DeadlineStore tracks per-stage SLA deadlines. Deadlines are recoverable
// from the persisted expires_at column, so the store itself only needs to be
// a fast wake-up index.
type DeadlineStore interface {
	Arm(ctx context.Context, deadline Deadline, expiresAt time.Time) error
	Disarm(ctx context.Context, deadline Deadline) error

	// Due returns every deadline whose expiry is at or before now
	Due(ctx context.Context, now time.Time) ([]Deadline, error)
}
