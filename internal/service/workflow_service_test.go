package service

import (
	"context"
	"testing"

	"procureflow/internal/api/dto"
	"procureflow/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDefinitionRepo struct {
	defs []*domain.WorkflowDefinition
}

func (r *memDefinitionRepo) Create(ctx context.Context, def *domain.WorkflowDefinition) error {
	stored := *def
	r.defs = append(r.defs, &stored)
	return nil
}

func (r *memDefinitionRepo) GetVersion(ctx context.Context, id uuid.UUID, version int) (*domain.WorkflowDefinition, error) {
	for _, def := range r.defs {
		if def.ID == id && def.Version == version {
			out := *def
			return &out, nil
		}
	}
	return nil, domain.ErrDefinitionNotFound
}

func (r *memDefinitionRepo) GetLatest(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	var latest *domain.WorkflowDefinition
	for _, def := range r.defs {
		if def.ID == id && (latest == nil || def.Version > latest.Version) {
			latest = def
		}
	}
	if latest == nil {
		return nil, domain.ErrDefinitionNotFound
	}
	out := *latest
	return &out, nil
}

func (r *memDefinitionRepo) GetActive(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	for _, def := range r.defs {
		if def.ID == id && def.Status == domain.DefinitionActive {
			out := *def
			return &out, nil
		}
	}
	return nil, domain.ErrDefinitionNotFound
}

func (r *memDefinitionRepo) List(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	latest := map[uuid.UUID]*domain.WorkflowDefinition{}
	for _, def := range r.defs {
		if cur, ok := latest[def.ID]; !ok || def.Version > cur.Version {
			latest[def.ID] = def
		}
	}
	var out []domain.WorkflowDefinition
	for _, def := range latest {
		out = append(out, *def)
	}
	return out, nil
}

func (r *memDefinitionRepo) Activate(ctx context.Context, id uuid.UUID, version int) error {
	found := false
	for _, def := range r.defs {
		if def.ID != id {
			continue
		}
		if def.Version == version {
			def.Status = domain.DefinitionActive
			found = true
		} else if def.Status == domain.DefinitionActive {
			def.Status = domain.DefinitionInactive
		}
	}
	if !found {
		return domain.ErrDefinitionNotFound
	}
	return nil
}

func definitionRequest() dto.CreateDefinitionRequest {
	return dto.CreateDefinitionRequest{
		Name: "Tender Approval",
		Type: "tender-approval",
		Stages: []dto.StageTemplateDTO{
			{
				ID:           "manager",
				Name:         "Manager Approval",
				Order:        1,
				ApproverRole: "manager",
				Policy:       "ANY",
				Actions: map[string]dto.ActionTargetDTO{
					"APPROVE": {NextStage: "finance"},
					"REJECT":  {},
				},
			},
			{
				ID:           "finance",
				Name:         "Finance Approval",
				Order:        2,
				ApproverRole: "finance",
				Policy:       "ANY",
				Actions: map[string]dto.ActionTargetDTO{
					"APPROVE": {},
					"REJECT":  {},
				},
			},
		},
		CreatedBy: "admin",
	}
}

func TestCreateDefinition(t *testing.T) {
	repo := &memDefinitionRepo{}
	svc := NewWorkflowService(repo, nil, nil)

	def, err := svc.CreateDefinition(context.Background(), definitionRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, def.Version)
	assert.Equal(t, domain.DefinitionDraft, def.Status)
	assert.True(t, def.Settings.RejectOverrides, "RejectOverrides defaults to true")
	require.Len(t, repo.defs, 1)
}

func TestCreateDefinitionAssignsStageIDs(t *testing.T) {
	repo := &memDefinitionRepo{}
	svc := NewWorkflowService(repo, nil, nil)

	req := dto.CreateDefinitionRequest{
		Name: "Single",
		Type: "custom",
		Stages: []dto.StageTemplateDTO{{
			Name:         "Only Stage",
			Order:        1,
			ApproverRole: "manager",
			Policy:       "ANY",
			Actions: map[string]dto.ActionTargetDTO{
				"APPROVE": {},
				"REJECT":  {},
			},
		}},
		CreatedBy: "admin",
	}

	def, err := svc.CreateDefinition(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, def.Stages[0].ID)
}

func TestCreateDefinitionRejectOverridesOptOut(t *testing.T) {
	repo := &memDefinitionRepo{}
	svc := NewWorkflowService(repo, nil, nil)

	off := false
	req := definitionRequest()
	req.Settings.RejectOverrides = &off

	def, err := svc.CreateDefinition(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, def.Settings.RejectOverrides)
}

func TestCreateDefinitionRejectsInvalidGraph(t *testing.T) {
	repo := &memDefinitionRepo{}
	svc := NewWorkflowService(repo, nil, nil)

	req := definitionRequest()
	req.Stages[0].Actions["APPROVE"] = dto.ActionTargetDTO{NextStage: "no-such-stage"}

	_, err := svc.CreateDefinition(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidBranchTarget)
	assert.Empty(t, repo.defs, "invalid definitions must not be persisted")
}

func TestCreateDefinitionNewVersion(t *testing.T) {
	repo := &memDefinitionRepo{}
	svc := NewWorkflowService(repo, nil, nil)

	first, err := svc.CreateDefinition(context.Background(), definitionRequest())
	require.NoError(t, err)

	req := definitionRequest()
	req.DefinitionID = &first.ID
	second, err := svc.CreateDefinition(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Version)
	require.NotNil(t, second.ParentVersion)
	assert.Equal(t, 1, *second.ParentVersion)
}

func TestCreateDefinitionActivateFlag(t *testing.T) {
	repo := &memDefinitionRepo{}
	svc := NewWorkflowService(repo, nil, nil)

	req := definitionRequest()
	req.Activate = true
	def, err := svc.CreateDefinition(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.DefinitionActive, def.Status)
	stored, err := repo.GetActive(context.Background(), def.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
}

func TestGetDefinitionVersionZeroReturnsLatest(t *testing.T) {
	repo := &memDefinitionRepo{}
	svc := NewWorkflowService(repo, nil, nil)

	first, err := svc.CreateDefinition(context.Background(), definitionRequest())
	require.NoError(t, err)
	req := definitionRequest()
	req.DefinitionID = &first.ID
	_, err = svc.CreateDefinition(context.Background(), req)
	require.NoError(t, err)

	def, err := svc.GetDefinition(context.Background(), first.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, def.Version)

	def, err = svc.GetDefinition(context.Background(), first.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)
}

func TestActivateDefinitionRetiresPreviousVersion(t *testing.T) {
	repo := &memDefinitionRepo{}
	svc := NewWorkflowService(repo, nil, nil)

	first, err := svc.CreateDefinition(context.Background(), definitionRequest())
	require.NoError(t, err)
	req := definitionRequest()
	req.DefinitionID = &first.ID
	_, err = svc.CreateDefinition(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.ActivateDefinition(context.Background(), first.ID, 1)
	require.NoError(t, err)
	activated, err := svc.ActivateDefinition(context.Background(), first.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.DefinitionActive, activated.Status)

	v1, err := svc.GetDefinition(context.Background(), first.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.DefinitionInactive, v1.Status)
}
