package run

import (
	"fmt"
	"strings"
	"time"

	"github.com/sofmeright/treebuild/src/build"
	"github.com/sofmeright/treebuild/src/scheduler"
)

// Result is the outcome of one orchestration run.
type Result struct {
	RunID       string
	Started     time.Time
	Finished    time.Time
	Concurrency int
	FailFast    bool

	// Tasks holds every node's final state in definition order.
	Tasks       []scheduler.Task
	Transitions []scheduler.Transition

	// Success is true only when every node succeeded.
	Success bool
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Count returns how many tasks ended in status s.
func (r *Result) Count(s scheduler.Status) int {
	n := 0
	for _, t := range r.Tasks {
		if t.Status == s {
			n++
		}
	}
	return n
}

// ByStatus returns the tasks that ended in status s.
func (r *Result) ByStatus(s scheduler.Status) []scheduler.Task {
	var out []scheduler.Task
	for _, t := range r.Tasks {
		if t.Status == s {
			out = append(out, t)
		}
	}
	return out
}

// Outcome returns the executor outcome recorded for a task, if any.
func Outcome(t scheduler.Task) *build.Outcome {
	out, _ := t.Outcome.(*build.Outcome)
	return out
}

// Err summarizes every failed and skipped node, or returns nil when the
// run succeeded.
func (r *Result) Err() error {
	if r.Success {
		return nil
	}
	failed := r.ByStatus(scheduler.Failed)
	skipped := r.ByStatus(scheduler.Skipped)
	return &FailureError{Failed: failed, Skipped: skipped}
}

// FailureError is the aggregate error of an unsuccessful run.
type FailureError struct {
	Failed  []scheduler.Task
	Skipped []scheduler.Task
}

func (e *FailureError) Error() string {
	var b strings.Builder
	if len(e.Failed) > 0 {
		b.WriteString("failed to build:")
		for _, t := range e.Failed {
			msg := "unknown error"
			if t.Err != nil {
				msg, _, _ = strings.Cut(t.Err.Error(), "\n")
			}
			fmt.Fprintf(&b, "\n  %s: %s", t.Node.ID, msg)
		}
	}
	if len(e.Skipped) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d image(s) skipped", len(e.Skipped))
	}
	if b.Len() == 0 {
		b.WriteString("run did not complete")
	}
	return b.String()
}

// Unwrap exposes the per-node errors.
func (e *FailureError) Unwrap() []error {
	var errs []error
	for _, t := range e.Failed {
		if t.Err != nil {
			errs = append(errs, t.Err)
		}
	}
	return errs
}
