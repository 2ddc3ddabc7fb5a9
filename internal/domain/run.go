package domain

import (
	"fmt"
	"strings"
	"time"
)

// Outcome enumerates how a pipeline run ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeNoOp    Outcome = "success-no-op"
	OutcomeFailure Outcome = "failure"
)

// RunResult is the structured result of one pipeline run.
type RunResult struct {
	RunID   string
	Outcome Outcome
	Reason  string
	Err     error

	Paper *PaperReference
	// Skipped holds recipients already notified today.
	Skipped     []string
	Delivered   []string
	Undelivered []string
	// LogFailures holds delivered recipients whose log write failed; they may
	// receive a duplicate on the next run.
	LogFailures []string

	StartedAt  time.Time
	FinishedAt time.Time
}

// OK reports whether the run counts as a success (including no-op).
func (r RunResult) OK() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomeNoOp
}

// Duration is the wall time of the run.
func (r RunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// String renders a one-line status suitable for task results and logs.
func (r RunResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s", r.RunID, r.Outcome)
	if r.Paper != nil {
		fmt.Fprintf(&b, " paper=%q", r.Paper.Title)
	}
	fmt.Fprintf(&b, " delivered=%d skipped=%d", len(r.Delivered), len(r.Skipped))
	if len(r.Undelivered) > 0 {
		fmt.Fprintf(&b, " undelivered=%d", len(r.Undelivered))
	}
	if len(r.LogFailures) > 0 {
		fmt.Fprintf(&b, " log_failures=%d", len(r.LogFailures))
	}
	if r.Reason != "" {
		fmt.Fprintf(&b, " reason=%q", r.Reason)
	}
	return b.String()
}
