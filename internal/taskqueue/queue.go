// Package taskqueue implements the persistent priority task queue used for
// multi-window coordination. All coordination is pushed down to Postgres
// transactional guarantees; the package keeps no task state in memory.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Queue is a task queue backed by a Postgres connection pool. The pool is
// owned by the caller; Queue never closes it.
type Queue struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
}

// New creates a Queue over an existing pool. Call EnsureSchema before use.
func New(pool *pgxpool.Pool, logger *zerolog.Logger) *Queue {
	return &Queue{pool: pool, logger: logger}
}

// Pool exposes the underlying pool for maintenance code (sweeper, tests).
func (q *Queue) Pool() *pgxpool.Pool {
	return q.pool
}

const taskColumns = `id, task_type, status, assigned_to, priority, data, result,
	created_at, updated_at, completed_at`

// dequeueOrder is the strict total order of the queue: priority first, oldest
// first among equals, id as the final tie-break so paging is stable even for
// identical timestamps.
const dequeueOrder = `ORDER BY priority DESC, created_at ASC, id ASC`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t      Task
		status string
	)
	err := row.Scan(
		&t.ID, &t.TaskType, &status, &t.AssignedTo, &t.Priority,
		&t.Data, &t.Result, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return Task{}, err
	}
	t.Status, err = ParseStatus(status)
	if err != nil {
		return Task{}, fmt.Errorf("task %s has unknown status %q: %w", t.ID, status, err)
	}
	return t, nil
}

func collectTasks(rows pgx.Rows) ([]Task, error) {
	defer rows.Close()
	tasks := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// EnqueueInput describes a new task. Data may be any JSON-serializable value
// and is stored opaquely. Priority zero means DefaultPriority; any other
// integer passes through unchanged.
type EnqueueInput struct {
	TaskType   string
	Data       any
	AssignedTo *string
	Priority   int
}

// Enqueue inserts a new pending task and returns its id.
func (q *Queue) Enqueue(ctx context.Context, input EnqueueInput) (string, error) {
	if input.TaskType == "" {
		return "", ErrEmptyTaskType
	}

	data := input.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task data: %w", err)
	}

	priority := input.Priority
	if priority == 0 {
		priority = DefaultPriority
	}

	var id string
	err = q.pool.QueryRow(ctx, `
		INSERT INTO task_queue (task_type, status, assigned_to, priority, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, input.TaskType, StatusPending.String(), input.AssignedTo, priority, payload).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	tasksEnqueued.WithLabelValues(input.TaskType).Inc()
	q.logger.Info().
		Str("task_id", id).
		Str("task_type", input.TaskType).
		Int("priority", priority).
		Msg("Task enqueued")
	return id, nil
}

// Dequeue returns up to limit pending tasks in queue order without mutating
// them. If agentID is non-empty only unassigned tasks and tasks assigned to
// that agent are visible; an empty agentID sees everything. Ownership is only
// established by Claim.
func (q *Queue) Dequeue(ctx context.Context, agentID string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 1
	}

	var (
		rows pgx.Rows
		err  error
	)
	if agentID != "" {
		rows, err = q.pool.Query(ctx, `
			SELECT `+taskColumns+`
			FROM task_queue
			WHERE status = $1 AND (assigned_to = $2 OR assigned_to IS NULL)
			`+dequeueOrder+`
			LIMIT $3
		`, StatusPending.String(), agentID, limit)
	} else {
		rows, err = q.pool.Query(ctx, `
			SELECT `+taskColumns+`
			FROM task_queue
			WHERE status = $1
			`+dequeueOrder+`
			LIMIT $2
		`, StatusPending.String(), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue tasks: %w", err)
	}

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue tasks: %w", err)
	}
	q.logger.Debug().
		Str("agent_id", agentID).
		Int("limit", limit).
		Int("count", len(tasks)).
		Msg("Dequeued tasks")
	return tasks, nil
}

// Claim atomically moves a pending task to running and assigns it to agentID.
// The predicate on the current status is evaluated inside the UPDATE itself,
// so of N concurrent claimants exactly one sees a row affected. Returns false
// when the task is missing or not pending; contention is a normal outcome,
// not an error.
func (q *Queue) Claim(ctx context.Context, taskID, agentID string) (bool, error) {
	if _, err := uuid.Parse(taskID); err != nil {
		return false, nil
	}

	tag, err := q.pool.Exec(ctx, `
		UPDATE task_queue
		SET status = $1, assigned_to = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, StatusRunning.String(), agentID, taskID, StatusPending.String())
	if err != nil {
		return false, fmt.Errorf("failed to claim task: %w", err)
	}

	claimed := tag.RowsAffected() == 1
	if claimed {
		claimsTotal.WithLabelValues("won").Inc()
		q.logger.Info().
			Str("task_id", taskID).
			Str("agent_id", agentID).
			Msg("Task claimed")
	} else {
		claimsTotal.WithLabelValues("lost").Inc()
		q.logger.Debug().
			Str("task_id", taskID).
			Str("agent_id", agentID).
			Msg("Task already claimed or not pending")
	}
	return claimed, nil
}

// UpdateStatus transitions a task to status, optionally attaching a result.
// The transition is validated against the lifecycle graph under a row lock;
// illegal transitions (including anything out of a terminal state) are
// rejected with ErrInvalidTransition. Transitions into completed or failed
// set completed_at exactly once.
func (q *Queue) UpdateStatus(ctx context.Context, taskID string, status Status, result any) error {
	if _, err := ParseStatus(status.String()); err != nil {
		return err
	}
	if _, err := uuid.Parse(taskID); err != nil {
		return ErrNotFound
	}

	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal task result: %w", err)
		}
	}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentStr string
	err = tx.QueryRow(ctx, `
		SELECT status FROM task_queue WHERE id = $1 FOR UPDATE
	`, taskID).Scan(&currentStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load task status: %w", err)
	}

	current, err := ParseStatus(currentStr)
	if err != nil {
		return err
	}
	if !current.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	if status == StatusCompleted || status == StatusFailed {
		_, err = tx.Exec(ctx, `
			UPDATE task_queue
			SET status = $1, result = $2, updated_at = NOW(), completed_at = NOW()
			WHERE id = $3
		`, status.String(), resultJSON, taskID)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE task_queue
			SET status = $1, result = $2, updated_at = NOW()
			WHERE id = $3
		`, status.String(), resultJSON, taskID)
	}
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}

	statusTransitions.WithLabelValues(current.String(), status.String()).Inc()
	q.logger.Info().
		Str("task_id", taskID).
		Str("from", current.String()).
		Str("to", status.String()).
		Msg("Task status updated")
	return nil
}

// Cancel moves a non-terminal task to cancelled. Cancelling an already
// terminal task returns ErrInvalidTransition.
func (q *Queue) Cancel(ctx context.Context, taskID string) error {
	return q.UpdateStatus(ctx, taskID, StatusCancelled, nil)
}

// GetTask fetches a task by id regardless of ownership.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	if _, err := uuid.Parse(taskID); err != nil {
		return nil, ErrNotFound
	}

	task, err := scanTask(q.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM task_queue
		WHERE id = $1
	`, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// GetPendingTasks lists pending tasks, optionally scoped by the Dequeue
// visibility rule and filtered by task type. Unlike Dequeue it is unbounded.
func (q *Queue) GetPendingTasks(ctx context.Context, agentID, taskType string) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM task_queue WHERE status = $1`
	args := []any{StatusPending.String()}
	argIdx := 2

	if agentID != "" {
		query += fmt.Sprintf(" AND (assigned_to = $%d OR assigned_to IS NULL)", argIdx)
		args = append(args, agentID)
		argIdx++
	}
	if taskType != "" {
		query += fmt.Sprintf(" AND task_type = $%d", argIdx)
		args = append(args, taskType)
		argIdx++
	}
	query += " " + dequeueOrder

	rows, err := q.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending tasks: %w", err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending tasks: %w", err)
	}
	return tasks, nil
}

// GetRunningTasks lists running tasks, optionally restricted to one agent.
func (q *Queue) GetRunningTasks(ctx context.Context, agentID string) ([]Task, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if agentID != "" {
		rows, err = q.pool.Query(ctx, `
			SELECT `+taskColumns+`
			FROM task_queue
			WHERE status = $1 AND assigned_to = $2
			ORDER BY created_at ASC
		`, StatusRunning.String(), agentID)
	} else {
		rows, err = q.pool.Query(ctx, `
			SELECT `+taskColumns+`
			FROM task_queue
			WHERE status = $1
			ORDER BY created_at ASC
		`, StatusRunning.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get running tasks: %w", err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get running tasks: %w", err)
	}
	return tasks, nil
}

// GetStats returns counts by status, pending counts by task type, and the
// average age of pending tasks in seconds (0 when the queue is idle).
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		StatusCounts: make(map[string]int),
		TypeCounts:   make(map[string]int),
	}

	rows, err := q.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM task_queue GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get status counts: %w", err)
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to get status counts: %w", err)
		}
		stats.StatusCounts[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get status counts: %w", err)
	}

	rows, err = q.pool.Query(ctx, `
		SELECT task_type, COUNT(*)
		FROM task_queue
		WHERE status = $1
		GROUP BY task_type
	`, StatusPending.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get type counts: %w", err)
	}
	for rows.Next() {
		var (
			taskType string
			count    int
		)
		if err := rows.Scan(&taskType, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to get type counts: %w", err)
		}
		stats.TypeCounts[taskType] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get type counts: %w", err)
	}

	var avgWait *float64
	err = q.pool.QueryRow(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (NOW() - created_at)))
		FROM task_queue
		WHERE status = $1
	`, StatusPending.String()).Scan(&avgWait)
	if err != nil {
		return nil, fmt.Errorf("failed to get average wait: %w", err)
	}
	if avgWait != nil {
		stats.AvgWaitSeconds = *avgWait
	}

	stats.TotalPending = stats.StatusCounts[StatusPending.String()]
	stats.TotalRunning = stats.StatusCounts[StatusRunning.String()]
	stats.TotalCompleted = stats.StatusCounts[StatusCompleted.String()]
	stats.TotalFailed = stats.StatusCounts[StatusFailed.String()]
	return stats, nil
}

// CleanupOldTasks deletes terminal tasks whose completed_at is older than
// retentionDays and returns the number deleted. Rows without completed_at are
// never eligible, so pending and running work can never be removed here even
// if the bookkeeping is wrong elsewhere.
func (q *Queue) CleanupOldTasks(ctx context.Context, retentionDays int) (int, error) {
	tag, err := q.pool.Exec(ctx, `
		DELETE FROM task_queue
		WHERE status = ANY($1)
		AND completed_at IS NOT NULL
		AND completed_at < NOW() - make_interval(days => $2)
	`, []string{
		StatusCompleted.String(),
		StatusFailed.String(),
		StatusCancelled.String(),
	}, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old tasks: %w", err)
	}

	deleted := int(tag.RowsAffected())
	cleanupDeleted.Add(float64(deleted))
	q.logger.Info().
		Int("deleted", deleted).
		Int("retention_days", retentionDays).
		Msg("Cleaned up old tasks")
	return deleted, nil
}
