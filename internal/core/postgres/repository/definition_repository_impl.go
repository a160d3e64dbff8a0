package repository

import (
	"context"
	"errors"

	"procureflow/internal/core/ports"
	"procureflow/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type definitionRepository struct {
	db *gorm.DB
}

// NewDefinitionRepository creates a new instance of DefinitionRepository
func NewDefinitionRepository(db *gorm.DB) ports.DefinitionRepository {
	return &definitionRepository{db: db}
}

func (r *definitionRepository) Create(ctx context.Context, def *domain.WorkflowDefinition) error {
	return r.db.WithContext(ctx).Create(def).Error
}

func (r *definitionRepository) GetVersion(ctx context.Context, id uuid.UUID, version int) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	err := r.db.WithContext(ctx).
		Where("id = ? AND version = ?", id, version).
		First(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDefinitionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *definitionRepository) GetLatest(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		Order("version DESC").
		First(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrDefinitionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// GetActive distinguishes "no such definition" from "definition exists but no
// version is active" so the engine can surface the right failure.
func (r *definitionRepository) GetActive(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	err := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, domain.DefinitionActive).
		Order("version DESC").
		First(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if _, latestErr := r.GetLatest(ctx, id); latestErr == nil {
			return nil, domain.ErrDefinitionInactive
		}
		return nil, domain.ErrDefinitionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (r *definitionRepository) List(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	var defs []domain.WorkflowDefinition
	err := r.db.WithContext(ctx).
		Raw(`SELECT DISTINCT ON (id) * FROM workflow_definitions ORDER BY id, version DESC`).
		Scan(&defs).Error
	return defs, err
}

// Activate promotes one version and retires any other active version of the
// same definition, in one transaction.
func (r *definitionRepository) Activate(ctx context.Context, id uuid.UUID, version int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.WorkflowDefinition{}).
			Where("id = ? AND version != ? AND status = ?", id, version, domain.DefinitionActive).
			Update("status", domain.DefinitionInactive).Error; err != nil {
			return err
		}

		result := tx.Model(&domain.WorkflowDefinition{}).
			Where("id = ? AND version = ?", id, version).
			Update("status", domain.DefinitionActive)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrDefinitionNotFound
		}
		return nil
	})
}
