package scheduler

import (
	"time"

	"github.com/sofmeright/treebuild/src/image"
)

// Status is the run-scoped state of one node.
type Status string

const (
	Pending   Status = "pending"
	Ready     Status = "ready"
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Skipped   Status = "skipped"
)

// Terminal reports whether the status is final for the run.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed || s == Skipped
}

// Skip causes.
const (
	CauseDispatched = "dispatched"
	CauseUnblocked  = "dependencies succeeded"
	CauseRoot       = "root"
	CauseAncestor   = "ancestor failed"
	CauseFailFast   = "fail-fast"
	CauseAborted    = "aborted"
)

// Task is one node paired with its run state. Values returned by the
// Scheduler are copies.
type Task struct {
	Node   image.Node
	Status Status

	Start time.Time
	End   time.Time

	// Err is the failure reported for the node.
	Err error

	// Outcome is whatever the executor returned, opaque to the scheduler.
	Outcome any

	// SkippedBy is the failed ancestor that caused a skip, "" otherwise.
	SkippedBy string
	// Cause explains the last transition (see the Cause constants).
	Cause string
}

// Duration is the wall time spent running, zero if the task never ran.
func (t Task) Duration() time.Duration {
	if t.Start.IsZero() || t.End.IsZero() {
		return 0
	}
	return t.End.Sub(t.Start)
}

// Transition is one audited state change.
type Transition struct {
	Seq   int       `json:"seq" yaml:"seq"`
	Time  time.Time `json:"time" yaml:"time"`
	Node  string    `json:"node" yaml:"node"`
	From  Status    `json:"from" yaml:"from"`
	To    Status    `json:"to" yaml:"to"`
	Cause string    `json:"cause,omitempty" yaml:"cause,omitempty"`
}
