package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/weaverhq/queue-service/internal/middleware"
	"github.com/weaverhq/queue-service/internal/taskqueue"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *taskqueue.Queue, func()) {
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
	q := taskqueue.New(pool, &logger)
	require.NoError(t, q.EnsureSchema(ctx))
	InitTaskQueue(q)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	internal := router.Group("/internal")
	{
		internal.GET("/stats", GetQueueStats)
		tasks := internal.Group("/tasks")
		{
			tasks.POST("", EnqueueTask)
			tasks.GET("", ListPendingTasks)
			tasks.GET("/next", DequeueTasks)
			tasks.GET("/running", ListRunningTasks)
			tasks.GET("/:taskId", GetTask)
			tasks.POST("/:taskId/claim", ClaimTask)
			tasks.PUT("/:taskId/status", UpdateTaskStatus)
			tasks.POST("/:taskId/cancel", CancelTask)
		}
		internal.POST("/maintenance/cleanup", CleanupTasks)
	}

	cleanup := func() {
		pool.Close()
		testcontainers.TerminateContainer(container)
	}
	return router, q, cleanup
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	router, _, cleanup := setupTestRouter(t)
	defer cleanup()

	// Enqueue.
	w := doJSON(router, http.MethodPost, "/internal/tasks", gin.H{
		"taskType": "consensus",
		"data":     gin.H{"prompt": "compare"},
		"priority": 8,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var enqueued EnqueueTaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &enqueued))
	require.NotEmpty(t, enqueued.ID)

	// Peek leaves it pending.
	w = doJSON(router, http.MethodGet, "/internal/tasks/next?agentId=window-1&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var peeked TaskListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &peeked))
	require.Equal(t, 1, peeked.Total)
	assert.Equal(t, taskqueue.StatusPending, peeked.Tasks[0].Status)

	// Claim wins once.
	w = doJSON(router, http.MethodPost, "/internal/tasks/"+enqueued.ID+"/claim", gin.H{"agentId": "window-1"})
	require.Equal(t, http.StatusOK, w.Code)
	var claim ClaimTaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claim))
	assert.True(t, claim.Claimed)

	// Second claim loses with a 200, not an error.
	w = doJSON(router, http.MethodPost, "/internal/tasks/"+enqueued.ID+"/claim", gin.H{"agentId": "window-2"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &claim))
	assert.False(t, claim.Claimed)

	// Complete with a result.
	w = doJSON(router, http.MethodPut, "/internal/tasks/"+enqueued.ID+"/status", gin.H{
		"status": "completed",
		"result": gin.H{"answer": 42},
	})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	// Fetch and verify.
	w = doJSON(router, http.MethodGet, "/internal/tasks/"+enqueued.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var task taskqueue.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.Equal(t, taskqueue.StatusCompleted, task.Status)
	assert.JSONEq(t, `{"answer": 42}`, string(task.Result))
	assert.NotNil(t, task.CompletedAt)
}

func TestEnqueueValidation(t *testing.T) {
	router, _, cleanup := setupTestRouter(t)
	defer cleanup()

	// Missing taskType fails binding.
	w := doJSON(router, http.MethodPost, "/internal/tasks", gin.H{"priority": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	router, q, cleanup := setupTestRouter(t)
	defer cleanup()
	ctx := context.Background()

	// Unknown task id -> 404.
	w := doJSON(router, http.MethodGet, "/internal/tasks/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Malformed id behaves the same as missing.
	w = doJSON(router, http.MethodGet, "/internal/tasks/not-a-uuid", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Illegal transition -> 409.
	id, err := q.Enqueue(ctx, taskqueue.EnqueueInput{TaskType: "chat"})
	require.NoError(t, err)
	w = doJSON(router, http.MethodPut, "/internal/tasks/"+id+"/status", gin.H{"status": "completed"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Unknown status -> 400.
	w = doJSON(router, http.MethodPut, "/internal/tasks/"+id+"/status", gin.H{"status": "done"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelOverHTTP(t *testing.T) {
	router, q, cleanup := setupTestRouter(t)
	defer cleanup()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, taskqueue.EnqueueInput{TaskType: "chat"})
	require.NoError(t, err)

	w := doJSON(router, http.MethodPost, "/internal/tasks/"+id+"/cancel", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	// Cancelling a terminal task conflicts.
	w = doJSON(router, http.MethodPost, "/internal/tasks/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatsAndCleanupOverHTTP(t *testing.T) {
	router, q, cleanup := setupTestRouter(t)
	defer cleanup()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, taskqueue.EnqueueInput{TaskType: "chat"})
	require.NoError(t, err)

	w := doJSON(router, http.MethodGet, "/internal/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats taskqueue.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalPending)

	w = doJSON(router, http.MethodPost, "/internal/maintenance/cleanup", gin.H{"retentionDays": 7})
	require.Equal(t, http.StatusOK, w.Code)
	var cleaned CleanupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cleaned))
	assert.Zero(t, cleaned.Deleted, "nothing old enough to delete")

	// Retention below one day fails binding.
	w = doJSON(router, http.MethodPost, "/internal/maintenance/cleanup", gin.H{"retentionDays": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInternalAuthMiddleware(t *testing.T) {
	t.Setenv("INTERNAL_API_KEY", "test-secret")

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/internal/ping", middleware.InternalAuthMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/internal/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "missing key must be rejected")

	req = httptest.NewRequest(http.MethodGet, "/internal/ping", nil)
	req.Header.Set("X-Internal-API-Key", "wrong")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/internal/ping", nil)
	req.Header.Set("X-Internal-API-Key", "test-secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
