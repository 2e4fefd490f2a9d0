package taskqueue

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a task. The text representation stored in
// Postgres is confined to ParseStatus/String; no other code touches the raw
// strings.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ParseStatus converts a stored or user-supplied string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return Status(s), nil
	}
	return "", ErrInvalidStatus
}

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions is the legal state graph:
// pending -> running -> completed/failed, pending/running -> cancelled.
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle transition.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskType classifies work for filtering and statistics only; the queue never
// dispatches on it. Well-known values below, arbitrary non-empty values are
// accepted.
type TaskType string

const (
	TaskTypeChat      TaskType = "chat"
	TaskTypeThinkDeep TaskType = "thinkdeep"
	TaskTypeDebug     TaskType = "debug"
	TaskTypeConsensus TaskType = "consensus"
	TaskTypePlanner   TaskType = "planner"
	TaskTypeAnalyze   TaskType = "analyze"
	TaskTypeCustom    TaskType = "custom"
)

// DefaultPriority is applied when the caller does not set one. Convention is
// 1-10 with 10 most urgent; the queue does not enforce bounds.
const DefaultPriority = 5

// Task is one unit of schedulable work. AssignedTo nil means visible to every
// window; non-nil means owned by (once running) or preferentially routed to
// (while pending) that window.
type Task struct {
	ID          string          `json:"id"`
	TaskType    string          `json:"taskType"`
	Status      Status          `json:"status"`
	AssignedTo  *string         `json:"assignedTo"`
	Priority    int             `json:"priority"`
	Data        json.RawMessage `json:"data"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Stats is an aggregate snapshot of the queue. AvgWaitSeconds is the mean age
// of currently pending tasks, not historical processing latency.
type Stats struct {
	StatusCounts   map[string]int `json:"statusCounts"`
	TypeCounts     map[string]int `json:"typeCounts"`
	AvgWaitSeconds float64        `json:"avgWaitSeconds"`
	TotalPending   int            `json:"totalPending"`
	TotalRunning   int            `json:"totalRunning"`
	TotalCompleted int            `json:"totalCompleted"`
	TotalFailed    int            `json:"totalFailed"`
}
