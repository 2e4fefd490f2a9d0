package taskqueue

import (
	"context"
	"fmt"
)

// schemaDDL creates the task_queue table and its indexes. Every statement is
// IF NOT EXISTS so initializing an already-initialized store is a no-op.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS task_queue (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	task_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	assigned_to TEXT,
	priority INT NOT NULL DEFAULT 5,
	data JSONB NOT NULL DEFAULT '{}'::jsonb,
	result JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_task_queue_status ON task_queue (status);
CREATE INDEX IF NOT EXISTS idx_task_queue_task_type ON task_queue (task_type);
CREATE INDEX IF NOT EXISTS idx_task_queue_assigned_to ON task_queue (assigned_to);
CREATE INDEX IF NOT EXISTS idx_task_queue_dequeue
	ON task_queue (status, priority DESC, created_at ASC);
`

// EnsureSchema creates the task_queue schema if it is missing. The queue must
// not be used before this succeeds.
func (q *Queue) EnsureSchema(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure task_queue schema: %w", err)
	}
	q.logger.Debug().Msg("Task queue schema verified")
	return nil
}
