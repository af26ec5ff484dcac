package scheduler

import (
	"hotlabel/internal/policy"
	"hotlabel/internal/task"
)

// TaskEvent is the payload of eventbus.TaskCreated and eventbus.TaskCompleted.
type TaskEvent struct {
	Task *task.Task
}

// SkipEvent is the payload of eventbus.TaskSkipped.
type SkipEvent struct {
	Reason   policy.Reason
	TaskType string
}

// ResetEvent is the payload of eventbus.CountersReset.
type ResetEvent struct {
	Pruned int
}
