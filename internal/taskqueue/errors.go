package taskqueue

import "errors"

var (
	// ErrNotFound is returned when an operation references a task id that
	// does not exist (or was already removed by retention cleanup).
	ErrNotFound = errors.New("task not found")

	// ErrInvalidStatus is returned when a status string has no corresponding
	// Status value.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrInvalidTransition is returned when UpdateStatus would violate the
	// lifecycle graph, including any transition out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEmptyTaskType is returned by Enqueue when task_type is empty.
	ErrEmptyTaskType = errors.New("task type must not be empty")
)
