package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when trying to submit a job to a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrTaskNotFound is returned for an unregistered task name
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTask is returned when a task lacks a name, an interval or a run function
	ErrInvalidTask = errors.New("invalid task")

	// ErrAlreadyRunning is returned when registering tasks on a started scheduler
	ErrAlreadyRunning = errors.New("scheduler is already running")
)
