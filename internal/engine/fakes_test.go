package engine

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"procureflow/internal/core/ports"
	"procureflow/internal/domain"
	"procureflow/internal/resolver"

	"github.com/google/uuid"
)

// In-memory fakes mirroring the repository CAS semantics, so the engine's
// single-winner guarantee can be exercised without postgres.

type memDefinitionRepo struct {
	mu   sync.Mutex
	defs []*domain.WorkflowDefinition
}

func (r *memDefinitionRepo) Create(ctx context.Context, def *domain.WorkflowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *def
	r.defs = append(r.defs, &stored)
	return nil
}

func (r *memDefinitionRepo) GetVersion(ctx context.Context, id uuid.UUID, version int) (*domain.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, def := range r.defs {
		if def.ID == id && def.Version == version {
			out := *def
			return &out, nil
		}
	}
	return nil, domain.ErrDefinitionNotFound
}

func (r *memDefinitionRepo) GetLatest(ctx context.Context, id uuid.UUID) (*domain.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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
	r.mu.Lock()
	defer r.mu.Unlock()
	var active *domain.WorkflowDefinition
	found := false
	for _, def := range r.defs {
		if def.ID != id {
			continue
		}
		found = true
		if def.Status == domain.DefinitionActive && (active == nil || def.Version > active.Version) {
			active = def
		}
	}
	if active == nil {
		if found {
			return nil, domain.ErrDefinitionInactive
		}
		return nil, domain.ErrDefinitionNotFound
	}
	out := *active
	return &out, nil
}

func (r *memDefinitionRepo) List(ctx context.Context) ([]domain.WorkflowDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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
	r.mu.Lock()
	defer r.mu.Unlock()
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

type memExecutionRepo struct {
	mu         sync.Mutex
	executions map[uuid.UUID]*domain.WorkflowExecution
	stages     map[uuid.UUID]*domain.ExecutionStage
	logs       []domain.StageActionLog
}

func newMemExecutionRepo() *memExecutionRepo {
	return &memExecutionRepo{
		executions: map[uuid.UUID]*domain.WorkflowExecution{},
		stages:     map[uuid.UUID]*domain.ExecutionStage{},
	}
}

func copyStage(stage *domain.ExecutionStage) domain.ExecutionStage {
	out := *stage
	out.Assignees = append([]string(nil), stage.Assignees...)
	if stage.Approvals != nil {
		out.Approvals = make(map[string]domain.StageAction, len(stage.Approvals))
		for user, action := range stage.Approvals {
			out.Approvals[user] = action
		}
	}
	return out
}

func (r *memExecutionRepo) CreateExecution(ctx context.Context, execution *domain.WorkflowExecution, stage *domain.ExecutionStage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *execution
	stored.Stages = nil
	r.executions[execution.ID] = &stored
	storedStage := copyStage(stage)
	r.stages[stage.ID] = &storedStage
	return nil
}

func (r *memExecutionRepo) GetByID(ctx context.Context, executionID uuid.UUID) (*domain.WorkflowExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	execution, ok := r.executions[executionID]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	out := *execution
	out.Stages = nil
	for _, stage := range r.stages {
		if stage.ExecutionID == executionID {
			out.Stages = append(out.Stages, copyStage(stage))
		}
	}
	sort.Slice(out.Stages, func(i, j int) bool { return out.Stages[i].Sequence < out.Stages[j].Sequence })
	return &out, nil
}

func (r *memExecutionRepo) AppendStage(ctx context.Context, stage *domain.ExecutionStage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := copyStage(stage)
	r.stages[stage.ID] = &stored
	return nil
}

func (r *memExecutionRepo) UpdateStage(ctx context.Context, stage *domain.ExecutionStage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.stages[stage.ID]
	if !ok {
		return domain.ErrExecutionNotFound
	}
	if stored.Status != domain.StagePending && stored.Status != domain.StageInProgress {
		return domain.ErrStageAlreadyResolved
	}
	stored.Status = stage.Status
	stored.Assignees = append([]string(nil), stage.Assignees...)
	stored.StartedAt = stage.StartedAt
	stored.CompletedAt = stage.CompletedAt
	stored.ExpiresAt = stage.ExpiresAt
	stored.Escalated = stage.Escalated
	stored.Overdue = stage.Overdue
	stored.Version++
	return nil
}

func (r *memExecutionRepo) ResolveStage(ctx context.Context, stageID uuid.UUID, status domain.StageStatus, action domain.StageAction, resolvedBy, comments string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.stages[stageID]
	if !ok {
		return domain.ErrExecutionNotFound
	}
	if stored.Status != domain.StageInProgress {
		return domain.ErrStageAlreadyResolved
	}
	stored.Status = status
	stored.Action = action
	stored.ResolvedBy = resolvedBy
	stored.Comments = comments
	stored.CompletedAt = &completedAt
	stored.Version++
	return nil
}

func (r *memExecutionRepo) UpdateStageApprovals(ctx context.Context, stageID uuid.UUID, approvals map[string]domain.StageAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.stages[stageID]
	if !ok {
		return domain.ErrExecutionNotFound
	}
	stored.Approvals = make(map[string]domain.StageAction, len(approvals))
	for user, action := range approvals {
		stored.Approvals[user] = action
	}
	return nil
}

func (r *memExecutionRepo) CancelOpenStages(ctx context.Context, executionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stage := range r.stages {
		if stage.ExecutionID != executionID {
			continue
		}
		if stage.Status == domain.StagePending || stage.Status == domain.StageInProgress {
			stage.Status = domain.StageCancelled
			stage.Version++
		}
	}
	return nil
}

func (r *memExecutionRepo) UpdateExecution(ctx context.Context, execution *domain.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.executions[execution.ID]
	if !ok {
		return domain.ErrExecutionNotFound
	}
	stored.Status = execution.Status
	stored.CurrentStageID = execution.CurrentStageID
	stored.Outcome = execution.Outcome
	stored.CancelledBy = execution.CancelledBy
	stored.CancelReason = execution.CancelReason
	stored.CompletedAt = execution.CompletedAt
	return nil
}

func (r *memExecutionRepo) AppendActionLog(ctx context.Context, entry *domain.StageActionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *entry)
	return nil
}

func (r *memExecutionRepo) ListActionLog(ctx context.Context, executionID uuid.UUID) ([]domain.StageActionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.StageActionLog
	for _, entry := range r.logs {
		if entry.ExecutionID == executionID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *memExecutionRepo) ListStagesWithDeadlines(ctx context.Context) ([]domain.ExecutionStage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ExecutionStage
	for _, stage := range r.stages {
		if stage.Status == domain.StageInProgress && stage.ExpiresAt != nil && !stage.Overdue {
			out = append(out, copyStage(stage))
		}
	}
	return out, nil
}

type fakeDirectory struct {
	mu    sync.Mutex
	roles map[string][]string
	err   error
}

func (d *fakeDirectory) ResolveRole(ctx context.Context, role string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]string(nil), d.roles[role]...), nil
}

func (d *fakeDirectory) HasRole(ctx context.Context, user, role string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	for _, u := range d.roles[role] {
		if u == user {
			return true, nil
		}
	}
	return false, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.ApprovalEvent
	err    error
}

func (n *fakeNotifier) Notify(ctx context.Context, event domain.ApprovalEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) eventsOfType(eventType domain.EventType) []domain.ApprovalEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.ApprovalEvent
	for _, event := range n.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type fakeAudit struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

func (a *fakeAudit) Record(ctx context.Context, record *domain.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, *record)
	return nil
}

type fakeDeadlines struct {
	mu    sync.Mutex
	armed map[ports.Deadline]time.Time
}

func newFakeDeadlines() *fakeDeadlines {
	return &fakeDeadlines{armed: map[ports.Deadline]time.Time{}}
}

func (d *fakeDeadlines) Arm(ctx context.Context, deadline ports.Deadline, expiresAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed[deadline] = expiresAt
	return nil
}

func (d *fakeDeadlines) Disarm(ctx context.Context, deadline ports.Deadline) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.armed, deadline)
	return nil
}

func (d *fakeDeadlines) Due(ctx context.Context, now time.Time) ([]ports.Deadline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var due []ports.Deadline
	for deadline, expiresAt := range d.armed {
		if !expiresAt.After(now) {
			due = append(due, deadline)
		}
	}
	return due, nil
}

func (d *fakeDeadlines) armedFor(stageID uuid.UUID) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for deadline, expiresAt := range d.armed {
		if deadline.StageID == stageID {
			return expiresAt, true
		}
	}
	return time.Time{}, false
}

type fakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

type harness struct {
	engine    *Engine
	defs      *memDefinitionRepo
	execs     *memExecutionRepo
	directory *fakeDirectory
	deadlines *fakeDeadlines
	notifier  *fakeNotifier
	audit     *fakeAudit
	clock     *fakeClock
}

func newHarness(t *testing.T, defs ...*domain.WorkflowDefinition) *harness {
	t.Helper()
	defRepo := &memDefinitionRepo{}
	for _, def := range defs {
		if err := defRepo.Create(context.Background(), def); err != nil {
			t.Fatalf("seed definition: %v", err)
		}
	}
	directory := &fakeDirectory{roles: map[string][]string{
		"manager": {"alice", "bob"},
		"finance": {"carol"},
	}}
	h := &harness{
		defs:      defRepo,
		execs:     newMemExecutionRepo(),
		directory: directory,
		deadlines: newFakeDeadlines(),
		notifier:  &fakeNotifier{},
		audit:     &fakeAudit{},
		clock:     &fakeClock{current: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
	}
	h.engine = NewEngine(h.defs, h.execs, resolver.NewResolver(directory), directory, h.deadlines, h.notifier, h.audit, h.clock)
	return h
}
