package usecase

import (
	"context"
	"fmt"
	"time"

	"ScholarSnap/internal/domain"
)

// Initializer prepares shared state, such as the notification log schema,
// before a task runs.
type Initializer interface {
	Init(ctx context.Context) error
}

// TaskHandler executes queued tasks on a worker.
type TaskHandler struct {
	init    Initializer
	trigger *Trigger
	now     func() time.Time
}

// NewTaskHandler builds the worker-side dispatcher. initializer may be nil.
func NewTaskHandler(initializer Initializer, trigger *Trigger) *TaskHandler {
	return &TaskHandler{init: initializer, trigger: trigger, now: time.Now}
}

// Handle runs one task and reports what happened as human-readable lines.
func (h *TaskHandler) Handle(ctx context.Context, task domain.Task) (res domain.TaskResult) {
	res = domain.TaskResult{TaskID: task.ID, Status: domain.TaskFailed}
	defer func() { res.FinishedAt = h.now() }()

	if task.Name != domain.TaskRunAgent {
		res.Lines = append(res.Lines, fmt.Sprintf("unknown task %q", task.Name))
		return res
	}

	if h.init != nil {
		res.Lines = append(res.Lines, "initializing database")
		if err := h.init.Init(ctx); err != nil {
			res.Lines = append(res.Lines, "database initialization failed: "+err.Error())
			res.Outcome = domain.OutcomeFailure
			return res
		}
		res.Lines = append(res.Lines, "database initialized")
	}

	res.Lines = append(res.Lines, "running agent")
	result, ran := h.trigger.Fire(ctx)
	if !ran {
		res.Lines = append(res.Lines, "another run is in progress, task dropped")
		res.Outcome = domain.OutcomeNoOp
		res.Status = domain.TaskSucceeded
		res.OK = true
		return res
	}

	res.Outcome = result.Outcome
	res.OK = result.OK()
	res.Lines = append(res.Lines, result.String())
	if result.Err != nil {
		res.Lines = append(res.Lines, "error: "+result.Err.Error())
	}
	// the task completed even when the run failed; OK carries the run verdict
	res.Status = domain.TaskSucceeded
	return res
}
