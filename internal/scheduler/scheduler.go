package scheduler

import (
	"context"
	"log"
	"time"

	"procureflow/internal/core/ports"

	"github.com/google/uuid"
)

// TimeoutHandler is the slice of the engine the scheduler needs.
type TimeoutHandler interface {
	HandleTimeout(ctx context.Context, executionID, stageID uuid.UUID) error
}

// RealClock is the production ports.Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Scheduler wakes the engine for expired stage deadlines. It only reads the
// deadline store; arming, re-arming and disarming all happen inside the
// engine so the timeout path shares the engine's serialization point.
type Scheduler struct {
	deadlines  ports.DeadlineStore
	executions ports.ExecutionRepository
	engine     TimeoutHandler
	clock      ports.Clock
	interval   time.Duration
}

func NewScheduler(deadlines ports.DeadlineStore, executions ports.ExecutionRepository, engine TimeoutHandler, clock ports.Clock, interval time.Duration) *Scheduler {
	return &Scheduler{
		deadlines:  deadlines,
		executions: executions,
		engine:     engine,
		clock:      clock,
		interval:   interval,
	}
}

// Recover re-arms deadlines from persisted expires_at columns. Run once at
// startup so deadlines survive process restarts.
func (s *Scheduler) Recover(ctx context.Context) error {
	stages, err := s.executions.ListStagesWithDeadlines(ctx)
	if err != nil {
		return err
	}
	for i := range stages {
		stage := &stages[i]
		deadline := ports.Deadline{ExecutionID: stage.ExecutionID, StageID: stage.ID}
		if err := s.deadlines.Arm(ctx, deadline, *stage.ExpiresAt); err != nil {
			log.Printf("Scheduler: failed to re-arm deadline for stage %s: %v", stage.ID, err)
		}
	}
	log.Printf("Scheduler: recovered %d stage deadlines", len(stages))
	return nil
}

// Start begins the polling loop. Call this in main.go as a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	log.Printf("Scheduler started, polling every %s...", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Scheduler shutting down...")
			return

		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick dispatches every due deadline to the engine. A failed dispatch leaves
// the deadline armed so the next tick retries it.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.deadlines.Due(ctx, s.clock.Now())
	if err != nil {
		log.Printf("Scheduler: failed to read due deadlines: %v", err)
		return
	}

	for _, deadline := range due {
		if err := s.engine.HandleTimeout(ctx, deadline.ExecutionID, deadline.StageID); err != nil {
			log.Printf("Scheduler: timeout handling failed for execution %s stage %s: %v",
				deadline.ExecutionID, deadline.StageID, err)
		}
	}
}
