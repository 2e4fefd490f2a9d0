package sweepers

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/weaverhq/queue-service/internal/taskqueue"
)

func setupTestQueue(t *testing.T) (*taskqueue.Queue, func()) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	logger := zerolog.Nop()
	queue := taskqueue.New(pool, &logger)
	require.NoError(t, queue.EnsureSchema(ctx))

	cleanup := func() {
		pool.Close()
		testcontainers.TerminateContainer(container)
	}
	return queue, cleanup
}

func TestRecoverStaleTasks(t *testing.T) {
	ctx := context.Background()
	queue, cleanup := setupTestQueue(t)
	defer cleanup()

	logger := zerolog.Nop()
	sweeper := NewTaskQueueSweeper(queue, &logger, Config{
		Interval:          time.Minute,
		RetentionDays:     7,
		RecoverStale:      true,
		StaleRunningAfter: time.Hour,
	})

	// A running task abandoned two hours ago.
	staleID, err := queue.Enqueue(ctx, taskqueue.EnqueueInput{TaskType: "chat"})
	require.NoError(t, err)
	claimed, err := queue.Claim(ctx, staleID, "window-1")
	require.NoError(t, err)
	require.True(t, claimed)
	_, err = queue.Pool().Exec(ctx,
		`UPDATE task_queue SET updated_at = $1 WHERE id = $2`,
		time.Now().Add(-2*time.Hour), staleID)
	require.NoError(t, err)

	// A running task touched just now.
	freshID, err := queue.Enqueue(ctx, taskqueue.EnqueueInput{TaskType: "chat"})
	require.NoError(t, err)
	claimed, err = queue.Claim(ctx, freshID, "window-2")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, sweeper.RecoverStaleTasks(ctx))

	stale, err := queue.GetTask(ctx, staleID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusPending, stale.Status)
	assert.Nil(t, stale.AssignedTo, "recovered task must be claimable by anyone")

	fresh, err := queue.GetTask(ctx, freshID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusRunning, fresh.Status)
	require.NotNil(t, fresh.AssignedTo)
	assert.Equal(t, "window-2", *fresh.AssignedTo)
}
