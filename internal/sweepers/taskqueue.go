// Package sweepers contains periodic maintenance loops that run alongside the
// server without participating in the claim protocol.
package sweepers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/weaverhq/queue-service/internal/taskqueue"
)

// Config controls the task queue sweeper. Stale recovery is deliberately
// opt-in: the claim protocol has no lease, so moving a RUNNING task back to
// PENDING is an operator decision, not an automatic property of the queue.
type Config struct {
	Interval          time.Duration
	RetentionDays     int
	RecoverStale      bool
	StaleRunningAfter time.Duration
}

// TaskQueueSweeper periodically deletes old terminal tasks and, when enabled,
// recovers tasks abandoned by crashed consumers.
type TaskQueueSweeper struct {
	queue    *taskqueue.Queue
	logger   *zerolog.Logger
	config   Config
	stopChan chan struct{}
}

// NewTaskQueueSweeper creates a sweeper over an existing queue.
func NewTaskQueueSweeper(queue *taskqueue.Queue, logger *zerolog.Logger, config Config) *TaskQueueSweeper {
	return &TaskQueueSweeper{
		queue:    queue,
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic maintenance sweep.
func (s *TaskQueueSweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.config.Interval).
		Int("retention_days", s.config.RetentionDays).
		Bool("recover_stale", s.config.RecoverStale).
		Msg("Starting task queue sweeper")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Task queue sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Task queue sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *TaskQueueSweeper) Stop() {
	close(s.stopChan)
}

func (s *TaskQueueSweeper) sweep(ctx context.Context) {
	if _, err := s.queue.CleanupOldTasks(ctx, s.config.RetentionDays); err != nil {
		s.logger.Error().Err(err).Msg("Failed to cleanup old tasks")
	}

	if s.config.RecoverStale {
		if err := s.RecoverStaleTasks(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to recover stale tasks")
		}
	}
}

// RecoverStaleTasks moves RUNNING tasks whose updated_at is older than the
// configured threshold back to PENDING and clears their assignment, making
// them claimable again.
func (s *TaskQueueSweeper) RecoverStaleTasks(ctx context.Context) error {
	cutoff := time.Now().Add(-s.config.StaleRunningAfter)

	tag, err := s.queue.Pool().Exec(ctx, `
		UPDATE task_queue
		SET status = $1, assigned_to = NULL, updated_at = NOW()
		WHERE status = $2 AND updated_at < $3
	`, taskqueue.StatusPending.String(), taskqueue.StatusRunning.String(), cutoff)
	if err != nil {
		return fmt.Errorf("failed to recover stale tasks: %w", err)
	}

	if recovered := tag.RowsAffected(); recovered > 0 {
		s.logger.Info().
			Int64("recovered", recovered).
			Dur("stale_after", s.config.StaleRunningAfter).
			Msg("Recovered stale running tasks")
	}
	return nil
}
