package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DefinitionStatus string

const (
	DefinitionDraft    DefinitionStatus = "DRAFT"
	DefinitionActive   DefinitionStatus = "ACTIVE"
	DefinitionInactive DefinitionStatus = "INACTIVE"
)

type DefinitionType string

const (
	TypeTenderApproval   DefinitionType = "tender-approval"
	TypeBidEvaluation    DefinitionType = "bid-evaluation"
	TypeContractApproval DefinitionType = "contract-approval"
	TypePaymentApproval  DefinitionType = "payment-approval"
	TypeVendorOnboarding DefinitionType = "vendor-onboarding"
	TypeCustom           DefinitionType = "custom"
)

type ApprovalPolicy string

const (
	PolicyAny          ApprovalPolicy = "ANY"
	PolicyAll          ApprovalPolicy = "ALL"
	PolicySpecificUser ApprovalPolicy = "SPECIFIC_USER"
)

type StageAction string

const (
	ActionApprove  StageAction = "APPROVE"
	ActionReject   StageAction = "REJECT"
	ActionSendBack StageAction = "SEND_BACK"
)

// ActionTarget routes a resolved stage action. An empty NextStage means the
// execution terminates with that action's outcome.
type ActionTarget struct {
	NextStage string `json:"next_stage,omitempty"`
}

// StageSLA bounds how long a stage may stay in progress. A second timeout
// after the single escalation pass marks the stage overdue instead.
type StageSLA struct {
	DurationSeconds int64    `json:"duration_seconds"`
	EscalateTo      []string `json:"escalate_to,omitempty"`
}

// StageTemplate describes one approval stage inside a definition.
// Exactly one of ApproverRole / ApproverUsers must be set.
type StageTemplate struct {
	ID             string                       `json:"id"`
	Name           string                       `json:"name"`
	Order          int                          `json:"order"`
	ApproverRole   string                       `json:"approver_role,omitempty"`
	ApproverUsers  []string                     `json:"approver_users,omitempty"`
	Policy         ApprovalPolicy               `json:"policy"`
	SpecificUser   string                       `json:"specific_user,omitempty"`
	Conditions     []Condition                  `json:"conditions,omitempty"`
	ConditionLogic ConditionLogic               `json:"condition_logic,omitempty"`
	SLA            *StageSLA                    `json:"sla,omitempty"`
	Actions        map[StageAction]ActionTarget `json:"actions"`
}

type DefinitionSettings struct {
	AllowParallelApproval bool `json:"allow_parallel_approval"`
	AllowSkipStages       bool `json:"allow_skip_stages"`
	AutoApproveOnTimeout  bool `json:"auto_approve_on_timeout"`
	RequireComments       bool `json:"require_comments"`
	// RejectOverrides controls ALL-policy conflicts: when true a single
	// rejection resolves the stage immediately, when false the stage waits
	// for every assignee before resolving.
	RejectOverrides bool `json:"reject_overrides"`
}

func DefaultSettings() DefinitionSettings {
	return DefinitionSettings{RejectOverrides: true}
}

// WorkflowDefinition is an immutable, versioned template. Edits after a
// version has been referenced by an execution create a new version row.
type WorkflowDefinition struct {
	ID            uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	Version       int                `gorm:"primaryKey" json:"version"`
	ParentVersion *int               `json:"parent_version,omitempty"`
	Name          string             `gorm:"type:varchar(200);not null" json:"name"`
	Type          DefinitionType     `gorm:"type:varchar(50);not null" json:"type"`
	Status        DefinitionStatus   `gorm:"type:varchar(20);index;default:'DRAFT'" json:"status"`
	Stages        []StageTemplate    `gorm:"type:jsonb;serializer:json" json:"stages"`
	Settings      DefinitionSettings `gorm:"type:jsonb;serializer:json" json:"settings"`
	CreatedBy     string             `gorm:"type:varchar(100)" json:"created_by"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// --- FACTORY ---
func NewWorkflowDefinition(name string, defType DefinitionType, stages []StageTemplate, settings DefinitionSettings, createdBy string) *WorkflowDefinition {
	return &WorkflowDefinition{
		ID:        uuid.New(),
		Version:   1,
		Name:      name,
		Type:      defType,
		Status:    DefinitionDraft,
		Stages:    stages,
		Settings:  settings,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
	}
}

// NewVersion derives the successor version of a published definition.
func (d *WorkflowDefinition) NewVersion(stages []StageTemplate, settings DefinitionSettings, createdBy string) *WorkflowDefinition {
	parent := d.Version
	return &WorkflowDefinition{
		ID:            d.ID,
		Version:       d.Version + 1,
		ParentVersion: &parent,
		Name:          d.Name,
		Type:          d.Type,
		Status:        DefinitionDraft,
		Stages:        stages,
		Settings:      settings,
		CreatedBy:     createdBy,
		CreatedAt:     time.Now(),
	}
}

// --- METHODS ---

func (d *WorkflowDefinition) StageByID(id string) *StageTemplate {
	for i := range d.Stages {
		if d.Stages[i].ID == id {
			return &d.Stages[i]
		}
	}
	return nil
}

// FirstStage returns the stage with the lowest order value.
func (d *WorkflowDefinition) FirstStage() *StageTemplate {
	var first *StageTemplate
	for i := range d.Stages {
		if first == nil || d.Stages[i].Order < first.Order {
			first = &d.Stages[i]
		}
	}
	return first
}

// Validate checks the stage graph. It runs at definition create and activate
// time so branch targets can never fail at runtime.
func (d *WorkflowDefinition) Validate() error {
	if len(d.Stages) == 0 {
		return fmt.Errorf("%w: definition has no stages", ErrDefinitionInvalid)
	}

	ids := make(map[string]bool, len(d.Stages))
	orders := make(map[int]bool, len(d.Stages))
	for i := range d.Stages {
		st := &d.Stages[i]
		if st.ID == "" {
			return fmt.Errorf("%w: stage %q has no id", ErrDefinitionInvalid, st.Name)
		}
		if ids[st.ID] {
			return fmt.Errorf("%w: duplicate stage id %q", ErrDefinitionInvalid, st.ID)
		}
		ids[st.ID] = true
		if orders[st.Order] {
			return fmt.Errorf("%w: duplicate stage order %d", ErrDefinitionInvalid, st.Order)
		}
		orders[st.Order] = true
		if err := st.validate(); err != nil {
			return err
		}
	}
	if !orders[1] {
		return fmt.Errorf("%w: no stage with order 1", ErrDefinitionInvalid)
	}

	// Branch targets must name existing stages.
	for i := range d.Stages {
		st := &d.Stages[i]
		for action, target := range st.Actions {
			if target.NextStage != "" && !ids[target.NextStage] {
				return fmt.Errorf("%w: stage %q action %s targets unknown stage %q",
					ErrInvalidBranchTarget, st.ID, action, target.NextStage)
			}
		}
	}

	// Every stage must be reachable from stage 1 through the action graph.
	first := d.FirstStage()
	reached := map[string]bool{first.ID: true}
	frontier := []string{first.ID}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, target := range d.StageByID(cur).Actions {
			if target.NextStage != "" && !reached[target.NextStage] {
				reached[target.NextStage] = true
				frontier = append(frontier, target.NextStage)
			}
		}
	}
	for id := range ids {
		if !reached[id] {
			return fmt.Errorf("%w: stage %q unreachable from stage 1", ErrDefinitionInvalid, id)
		}
	}

	return nil
}

func (s *StageTemplate) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: stage %q has no name", ErrDefinitionInvalid, s.ID)
	}
	hasRole := s.ApproverRole != ""
	hasUsers := len(s.ApproverUsers) > 0
	if hasRole == hasUsers {
		return fmt.Errorf("%w: stage %q must set exactly one of approver role or approver users", ErrDefinitionInvalid, s.ID)
	}
	switch s.Policy {
	case PolicyAny, PolicyAll:
	case PolicySpecificUser:
		if s.SpecificUser == "" {
			return fmt.Errorf("%w: stage %q uses %s policy without a specific user", ErrDefinitionInvalid, s.ID, PolicySpecificUser)
		}
	default:
		return fmt.Errorf("%w: stage %q has unknown policy %q", ErrDefinitionInvalid, s.ID, s.Policy)
	}
	for action := range s.Actions {
		switch action {
		case ActionApprove, ActionReject, ActionSendBack:
		default:
			return fmt.Errorf("%w: stage %q maps unknown action %q", ErrDefinitionInvalid, s.ID, action)
		}
	}
	// A send-back has to land somewhere; it cannot terminate an execution.
	if target, ok := s.Actions[ActionSendBack]; ok && target.NextStage == "" {
		return fmt.Errorf("%w: stage %q send-back action has no target stage", ErrDefinitionInvalid, s.ID)
	}
	if s.SLA != nil && s.SLA.DurationSeconds <= 0 {
		return fmt.Errorf("%w: stage %q SLA duration must be positive", ErrDefinitionInvalid, s.ID)
	}
	for _, c := range s.Conditions {
		if err := c.validate(); err != nil {
			return fmt.Errorf("%w: stage %q: %v", ErrDefinitionInvalid, s.ID, err)
		}
	}
	switch s.ConditionLogic {
	case "", ConditionAnd, ConditionOr:
	default:
		return fmt.Errorf("%w: stage %q has unknown condition logic %q", ErrDefinitionInvalid, s.ID, s.ConditionLogic)
	}
	return nil
}

// SLADuration returns the configured time limit, or zero when no SLA is set.
func (s *StageTemplate) SLADuration() time.Duration {
	if s.SLA == nil {
		return 0
	}
	return time.Duration(s.SLA.DurationSeconds) * time.Second
}
