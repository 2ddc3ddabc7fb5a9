package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScholarSnap/internal/domain"
	"ScholarSnap/internal/ports"
)

type stubRunner struct {
	result  domain.RunResult
	calls   int
	release chan struct{}
	started chan struct{}
}

func (s *stubRunner) Run(context.Context) domain.RunResult {
	s.calls++
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		<-s.release
	}
	return s.result
}

type recordingReporter struct {
	mu      sync.Mutex
	results []domain.RunResult
	err     error
}

func (r *recordingReporter) Report(_ context.Context, result domain.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return r.err
}

func TestTriggerReportsEveryRun(t *testing.T) {
	runner := &stubRunner{result: domain.RunResult{RunID: "r1", Outcome: domain.OutcomeSuccess}}
	failing := &recordingReporter{err: errors.New("telegram down")}
	ok := &recordingReporter{}

	trigger := NewTrigger(runner, []ports.RunReporter{failing, ok}, nil)
	result, ran := trigger.Fire(context.Background())

	require.True(t, ran)
	assert.Equal(t, "r1", result.RunID)
	assert.Len(t, failing.results, 1)
	assert.Len(t, ok.results, 1, "a failing reporter does not stop the others")
}

func TestTriggerSkipsOverlappingFire(t *testing.T) {
	runner := &stubRunner{
		result:  domain.RunResult{Outcome: domain.OutcomeSuccess},
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	trigger := NewTrigger(runner, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = trigger.Fire(context.Background())
	}()
	<-runner.started

	_, ran := trigger.Fire(context.Background())
	assert.False(t, ran)

	close(runner.release)
	<-done
	assert.Equal(t, 1, runner.calls)
}

type fakeDriver struct {
	job     func(time.Time)
	stopped bool
}

func (f *fakeDriver) Start(_ context.Context, job func(time.Time)) error {
	f.job = job
	return nil
}

func (f *fakeDriver) Stop(context.Context) error {
	f.stopped = true
	return nil
}

func TestSchedulerFiresTrigger(t *testing.T) {
	runner := &stubRunner{result: domain.RunResult{Outcome: domain.OutcomeNoOp}}
	driver := &fakeDriver{}
	s := NewScheduler(driver, NewTrigger(runner, nil, nil))

	require.NoError(t, s.Start(context.Background()))
	require.NotNil(t, driver.job)
	driver.job(time.Now())
	driver.job(time.Now())
	assert.Equal(t, 2, runner.calls)

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, driver.stopped)
}

type stubInit struct{ err error }

func (s stubInit) Init(context.Context) error { return s.err }

func TestTaskHandler(t *testing.T) {
	tests := []struct {
		name        string
		task        domain.Task
		initializer Initializer
		run         domain.RunResult
		wantStatus  domain.TaskStatus
		wantOK      bool
		wantOutcome domain.Outcome
		wantRuns    int
	}{
		{
			name:        "success",
			task:        domain.Task{ID: "t1", Name: domain.TaskRunAgent},
			initializer: stubInit{},
			run:         domain.RunResult{RunID: "r", Outcome: domain.OutcomeSuccess},
			wantStatus:  domain.TaskSucceeded,
			wantOK:      true,
			wantOutcome: domain.OutcomeSuccess,
			wantRuns:    1,
		},
		{
			name:        "run failure is reported, task completes",
			task:        domain.Task{ID: "t2", Name: domain.TaskRunAgent},
			run:         domain.RunResult{Outcome: domain.OutcomeFailure, Err: domain.ErrSourceUnavailable},
			wantStatus:  domain.TaskSucceeded,
			wantOK:      false,
			wantOutcome: domain.OutcomeFailure,
			wantRuns:    1,
		},
		{
			name:        "init failure skips run",
			task:        domain.Task{ID: "t3", Name: domain.TaskRunAgent},
			initializer: stubInit{err: errors.New("db down")},
			wantStatus:  domain.TaskFailed,
			wantOutcome: domain.OutcomeFailure,
		},
		{
			name:       "unknown task",
			task:       domain.Task{ID: "t4", Name: "reindex"},
			wantStatus: domain.TaskFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{result: tt.run}
			h := NewTaskHandler(tt.initializer, NewTrigger(runner, nil, nil))

			res := h.Handle(context.Background(), tt.task)

			assert.Equal(t, tt.task.ID, res.TaskID)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantOK, res.OK)
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantRuns, runner.calls)
			assert.NotEmpty(t, res.Lines)
			assert.False(t, res.FinishedAt.IsZero())
		})
	}
}

type fakeQueue struct {
	tasks []domain.Task
	err   error
}

func (f *fakeQueue) Enqueue(_ context.Context, task domain.Task) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.tasks = append(f.tasks, task)
	return "task-1", nil
}

func (f *fakeQueue) Consume(context.Context, func(context.Context, domain.Task) domain.TaskResult) error {
	return nil
}

func TestBeatEnqueuesRunRequests(t *testing.T) {
	driver := &fakeDriver{}
	q := &fakeQueue{}
	beat := NewBeat(driver, q, nil)

	require.NoError(t, beat.Start(context.Background()))
	at := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	driver.job(at)

	require.Len(t, q.tasks, 1)
	assert.Equal(t, domain.TaskRunAgent, q.tasks[0].Name)
	assert.Equal(t, at, q.tasks[0].EnqueuedAt)

	q.err = errors.New("redis down")
	assert.NotPanics(t, func() { driver.job(at) })

	require.NoError(t, beat.Stop(context.Background()))
	assert.True(t, driver.stopped)
}
