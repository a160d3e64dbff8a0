package repository

import (
	"context"
	"errors"
	"time"

	"procureflow/internal/core/ports"
	"procureflow/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type executionRepository struct {
	db *gorm.DB
}

// NewExecutionRepository creates a new instance of ExecutionRepository
func NewExecutionRepository(db *gorm.DB) ports.ExecutionRepository {
	return &executionRepository{db: db}
}

func (r *executionRepository) CreateExecution(ctx context.Context, execution *domain.WorkflowExecution, stage *domain.ExecutionStage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Create the execution row first
		if err := tx.Omit("Stages").Create(execution).Error; err != nil {
			return err
		}

		// Then its first stage visit
		if err := tx.Create(stage).Error; err != nil {
			return err
		}

		return nil
	})
}

func (r *executionRepository) GetByID(ctx context.Context, executionID uuid.UUID) (*domain.WorkflowExecution, error) {
	var execution domain.WorkflowExecution
	err := r.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC")
		}).
		Where("id = ?", executionID).
		First(&execution).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

func (r *executionRepository) AppendStage(ctx context.Context, stage *domain.ExecutionStage) error {
	return r.db.WithContext(ctx).Create(stage).Error
}

// UpdateStage saves activation/reassignment fields. Guarded to non-terminal
// rows so a terminal stage visit can never be mutated afterwards.
func (r *executionRepository) UpdateStage(ctx context.Context, stage *domain.ExecutionStage) error {
	result := r.db.WithContext(ctx).
		Model(&domain.ExecutionStage{}).
		Where("id = ? AND status IN ?", stage.ID, []domain.StageStatus{domain.StagePending, domain.StageInProgress}).
		Updates(map[string]interface{}{
			"status":       stage.Status,
			"assignees":    stage.Assignees,
			"started_at":   stage.StartedAt,
			"completed_at": stage.CompletedAt,
			"expires_at":   stage.ExpiresAt,
			"escalated":    stage.Escalated,
			"overdue":      stage.Overdue,
			"version":      gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrStageAlreadyResolved
	}
	return nil
}

// ResolveStage is the single-winner transition. The status guard in the WHERE
// clause makes two concurrent resolutions impossible: the first UPDATE moves
// the row out of IN_PROGRESS, the second matches zero rows and observes
// ErrStageAlreadyResolved.
func (r *executionRepository) ResolveStage(ctx context.Context, stageID uuid.UUID, status domain.StageStatus, action domain.StageAction, resolvedBy, comments string, completedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&domain.ExecutionStage{}).
		Where("id = ? AND status = ?", stageID, domain.StageInProgress).
		Updates(map[string]interface{}{
			"status":       status,
			"action":       action,
			"resolved_by":  resolvedBy,
			"comments":     comments,
			"completed_at": completedAt,
			"version":      gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrStageAlreadyResolved
	}
	return nil
}

func (r *executionRepository) UpdateStageApprovals(ctx context.Context, stageID uuid.UUID, approvals map[string]domain.StageAction) error {
	return r.db.WithContext(ctx).
		Model(&domain.ExecutionStage{}).
		Where("id = ? AND status = ?", stageID, domain.StageInProgress).
		Update("approvals", approvals).Error
}

func (r *executionRepository) CancelOpenStages(ctx context.Context, executionID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&domain.ExecutionStage{}).
		Where("execution_id = ? AND status IN ?", executionID,
			[]domain.StageStatus{domain.StagePending, domain.StageInProgress}).
		Updates(map[string]interface{}{
			"status":  domain.StageCancelled,
			"version": gorm.Expr("version + 1"),
		}).Error
}

func (r *executionRepository) UpdateExecution(ctx context.Context, execution *domain.WorkflowExecution) error {
	return r.db.WithContext(ctx).
		Model(&domain.WorkflowExecution{}).
		Where("id = ?", execution.ID).
		Updates(map[string]interface{}{
			"status":           execution.Status,
			"current_stage_id": execution.CurrentStageID,
			"outcome":          execution.Outcome,
			"cancelled_by":     execution.CancelledBy,
			"cancel_reason":    execution.CancelReason,
			"completed_at":     execution.CompletedAt,
		}).Error
}

func (r *executionRepository) AppendActionLog(ctx context.Context, entry *domain.StageActionLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *executionRepository) ListActionLog(ctx context.Context, executionID uuid.UUID) ([]domain.StageActionLog, error) {
	var entries []domain.StageActionLog
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

func (r *executionRepository) ListStagesWithDeadlines(ctx context.Context) ([]domain.ExecutionStage, error) {
	var stages []domain.ExecutionStage
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND overdue = false", domain.StageInProgress).
		Find(&stages).Error
	return stages, err
}
