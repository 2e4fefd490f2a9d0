// Package workers implements a polling consumer over the task queue. Dequeue
// is a read-only peek; ownership of each task is taken with Claim, and a
// false claim simply means another window got there first.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weaverhq/queue-service/internal/taskqueue"
)

// Handler executes one task. The returned value is attached as the task
// result on completion; a non-nil error fails the task with the error text.
type Handler func(ctx context.Context, data json.RawMessage) (any, error)

// Config controls a worker.
type Config struct {
	AgentID   string
	TaskTypes []string
	BatchSize int
	PollDelay time.Duration
}

// Worker polls the queue on behalf of one window identity and dispatches
// claimed tasks to registered handlers.
type Worker struct {
	queue    *taskqueue.Queue
	logger   *zerolog.Logger
	config   Config
	handlers map[string]Handler
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a worker. Register handlers before calling Start.
func New(queue *taskqueue.Queue, logger *zerolog.Logger, config Config) *Worker {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.PollDelay <= 0 {
		config.PollDelay = 2 * time.Second
	}
	return &Worker{
		queue:    queue,
		logger:   logger,
		config:   config,
		handlers: make(map[string]Handler),
		stopChan: make(chan struct{}),
	}
}

// RegisterHandler installs the handler for a task type. Not safe to call
// after Start.
func (w *Worker) RegisterHandler(taskType string, handler Handler) {
	w.handlers[taskType] = handler
}

// Start runs the poll loop until Stop is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().
		Str("agent_id", w.config.AgentID).
		Strs("task_types", w.config.TaskTypes).
		Dur("poll_delay", w.config.PollDelay).
		Msg("Starting worker")

	ticker := time.NewTicker(w.config.PollDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Str("agent_id", w.config.AgentID).Msg("Worker shutting down")
			return
		case <-w.stopChan:
			w.logger.Info().Str("agent_id", w.config.AgentID).Msg("Worker received stop signal")
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// Stop signals the worker to stop and waits for in-flight tasks.
func (w *Worker) Stop() {
	close(w.stopChan)
	w.logger.Info().
		Str("agent_id", w.config.AgentID).
		Msg("Worker stopping, waiting for in-flight tasks")
	w.wg.Wait()
	w.logger.Info().Str("agent_id", w.config.AgentID).Msg("Worker stopped")
}

func (w *Worker) poll(ctx context.Context) {
	tasks, err := w.queue.Dequeue(ctx, w.config.AgentID, w.config.BatchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to dequeue tasks")
		return
	}

	for _, task := range tasks {
		if !w.wantsType(task.TaskType) {
			continue
		}

		claimed, err := w.queue.Claim(ctx, task.ID, w.config.AgentID)
		if err != nil {
			w.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to claim task")
			continue
		}
		if !claimed {
			// Another window won the race; move on.
			w.logger.Debug().Str("task_id", task.ID).Msg("Task claimed elsewhere")
			continue
		}

		w.runTask(ctx, task)
	}
}

func (w *Worker) wantsType(taskType string) bool {
	if len(w.config.TaskTypes) == 0 {
		return true
	}
	for _, t := range w.config.TaskTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

func (w *Worker) runTask(ctx context.Context, task taskqueue.Task) {
	w.wg.Add(1)
	defer w.wg.Done()

	handler, ok := w.handlers[task.TaskType]
	if !ok {
		w.logger.Warn().
			Str("task_id", task.ID).
			Str("task_type", task.TaskType).
			Msg("No handler for task type")
		w.failTask(ctx, task.ID, fmt.Sprintf("no handler registered for type %q", task.TaskType))
		return
	}

	w.logger.Info().
		Str("agent_id", w.config.AgentID).
		Str("task_id", task.ID).
		Str("task_type", task.TaskType).
		Msg("Worker processing task")

	result, err := handler(ctx, task.Data)
	if err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("Task failed")
		w.failTask(ctx, task.ID, err.Error())
		return
	}

	if err := w.queue.UpdateStatus(ctx, task.ID, taskqueue.StatusCompleted, result); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("Failed to mark task as completed")
		return
	}

	w.logger.Info().
		Str("agent_id", w.config.AgentID).
		Str("task_id", task.ID).
		Msg("Worker completed task")
}

func (w *Worker) failTask(ctx context.Context, taskID, message string) {
	err := w.queue.UpdateStatus(ctx, taskID, taskqueue.StatusFailed, map[string]string{"error": message})
	if err != nil {
		w.logger.Error().Err(err).Str("task_id", taskID).Msg("Failed to mark task as failed")
	}
}
