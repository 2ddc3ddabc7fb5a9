package domain

import "time"

// TaskRunAgent is the only task the dispatcher knows about.
const TaskRunAgent = "run_agent"

// Task is a unit of work enqueued by the beat process.
type Task struct {
	ID         string
	Name       string
	EnqueuedAt time.Time
}

// TaskStatus tracks what the worker did with a task.
type TaskStatus string

const (
	TaskSucceeded TaskStatus = "SUCCESS"
	TaskFailed    TaskStatus = "FAILURE"
)

// TaskResult is stored by the worker so the outcome is observable after the fact.
type TaskResult struct {
	TaskID     string     `json:"task_id"`
	Status     TaskStatus `json:"status"`
	OK         bool       `json:"ok"`
	Outcome    Outcome    `json:"outcome"`
	Lines      []string   `json:"lines"`
	FinishedAt time.Time  `json:"finished_at"`
}
