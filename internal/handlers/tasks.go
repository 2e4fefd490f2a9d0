package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weaverhq/queue-service/internal/taskqueue"
)

var queue *taskqueue.Queue

// InitTaskQueue wires the shared queue into the handler package. Must be
// called before any task route is served.
func InitTaskQueue(q *taskqueue.Queue) {
	queue = q
}

// EnqueueTaskRequest represents the body for enqueueing a task
type EnqueueTaskRequest struct {
	TaskType   string          `json:"taskType" binding:"required" jsonschema:"required"`
	Data       json.RawMessage `json:"data"`
	AssignedTo *string         `json:"assignedTo"`
	Priority   int             `json:"priority" jsonschema:"minimum=1,maximum=10"`
}

// EnqueueTaskResponse returns the id of the new task
type EnqueueTaskResponse struct {
	ID string `json:"id" jsonschema:"required"`
}

// ClaimTaskRequest represents the body for claiming a task
type ClaimTaskRequest struct {
	AgentID string `json:"agentId" binding:"required" jsonschema:"required"`
}

// ClaimTaskResponse reports whether the claim won
type ClaimTaskResponse struct {
	Claimed bool `json:"claimed" jsonschema:"required"`
}

// UpdateTaskStatusRequest represents the body for a status update
type UpdateTaskStatusRequest struct {
	Status string          `json:"status" binding:"required" jsonschema:"required,enum=pending,enum=running,enum=completed,enum=failed,enum=cancelled"`
	Result json.RawMessage `json:"result"`
}

// TaskListResponse wraps a list of tasks
type TaskListResponse struct {
	Tasks []taskqueue.Task `json:"tasks" jsonschema:"required"`
	Total int              `json:"total" jsonschema:"required"`
}

// respondQueueError maps queue error kinds onto HTTP statuses. Store failures
// fall through to 500; the queue never retries on behalf of the caller.
func respondQueueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, taskqueue.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, taskqueue.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, taskqueue.ErrInvalidStatus), errors.Is(err, taskqueue.ErrEmptyTaskType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue operation failed"})
	}
}

// EnqueueTask adds a new pending task to the queue
// @Summary Enqueue a task
// @Tags tasks
// @Accept json
// @Produce json
// @Success 201 {object} EnqueueTaskResponse
// @Failure 400 {object} map[string]string "Bad request"
// @Router /internal/tasks [post]
func EnqueueTask(c *gin.Context) {
	var req EnqueueTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var data any
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &data); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "data must be valid JSON"})
			return
		}
	}

	id, err := queue.Enqueue(c.Request.Context(), taskqueue.EnqueueInput{
		TaskType:   req.TaskType,
		Data:       data,
		AssignedTo: req.AssignedTo,
		Priority:   req.Priority,
	})
	if err != nil {
		respondQueueError(c, err)
		return
	}

	c.JSON(http.StatusCreated, EnqueueTaskResponse{ID: id})
}

// DequeueTasksRequest represents query parameters for the dequeue peek
type DequeueTasksRequest struct {
	AgentID string `form:"agentId" json:"agentId"`
	Limit   int    `form:"limit" json:"limit" binding:"min=0,max=100" jsonschema:"minimum=0,maximum=100"`
}

// DequeueTasks returns the next eligible pending tasks without claiming them
// @Summary Peek at the next pending tasks
// @Tags tasks
// @Produce json
// @Success 200 {object} TaskListResponse
// @Router /internal/tasks/next [get]
func DequeueTasks(c *gin.Context) {
	var req DequeueTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tasks, err := queue.Dequeue(c.Request.Context(), req.AgentID, req.Limit)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	c.JSON(http.StatusOK, TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// ClaimTask atomically claims a pending task for one agent
// @Summary Claim a task
// @Tags tasks
// @Accept json
// @Produce json
// @Success 200 {object} ClaimTaskResponse
// @Router /internal/tasks/{taskId}/claim [post]
func ClaimTask(c *gin.Context) {
	var req ClaimTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claimed, err := queue.Claim(c.Request.Context(), c.Param("taskId"), req.AgentID)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	// A lost claim is a normal outcome of contention, not an error.
	c.JSON(http.StatusOK, ClaimTaskResponse{Claimed: claimed})
}

// UpdateTaskStatus transitions a task through its lifecycle
// @Summary Update task status
// @Tags tasks
// @Accept json
// @Produce json
// @Success 204 "No content"
// @Failure 404 {object} map[string]string "Task not found"
// @Failure 409 {object} map[string]string "Illegal transition"
// @Router /internal/tasks/{taskId}/status [put]
func UpdateTaskStatus(c *gin.Context) {
	var req UpdateTaskStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := taskqueue.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var result any
	if len(req.Result) > 0 {
		if err := json.Unmarshal(req.Result, &result); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "result must be valid JSON"})
			return
		}
	}

	if err := queue.UpdateStatus(c.Request.Context(), c.Param("taskId"), status, result); err != nil {
		respondQueueError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CancelTask cancels a non-terminal task
// @Summary Cancel a task
// @Tags tasks
// @Produce json
// @Success 204 "No content"
// @Router /internal/tasks/{taskId}/cancel [post]
func CancelTask(c *gin.Context) {
	if err := queue.Cancel(c.Request.Context(), c.Param("taskId")); err != nil {
		respondQueueError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetTask fetches one task by id
// @Summary Get a task
// @Tags tasks
// @Produce json
// @Success 200 {object} taskqueue.Task
// @Failure 404 {object} map[string]string "Task not found"
// @Router /internal/tasks/{taskId} [get]
func GetTask(c *gin.Context) {
	task, err := queue.GetTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		respondQueueError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ListTasksRequest represents query parameters for task listings
type ListTasksRequest struct {
	AgentID  string `form:"agentId" json:"agentId"`
	TaskType string `form:"taskType" json:"taskType"`
}

// ListPendingTasks lists pending tasks with optional filters
// @Summary List pending tasks
// @Tags tasks
// @Produce json
// @Success 200 {object} TaskListResponse
// @Router /internal/tasks [get]
func ListPendingTasks(c *gin.Context) {
	var req ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tasks, err := queue.GetPendingTasks(c.Request.Context(), req.AgentID, req.TaskType)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	c.JSON(http.StatusOK, TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// ListRunningTasks lists running tasks, optionally for one agent
// @Summary List running tasks
// @Tags tasks
// @Produce json
// @Success 200 {object} TaskListResponse
// @Router /internal/tasks/running [get]
func ListRunningTasks(c *gin.Context) {
	var req ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tasks, err := queue.GetRunningTasks(c.Request.Context(), req.AgentID)
	if err != nil {
		respondQueueError(c, err)
		return
	}

	c.JSON(http.StatusOK, TaskListResponse{Tasks: tasks, Total: len(tasks)})
}
