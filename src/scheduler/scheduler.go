// Package scheduler hands out image nodes in dependency order to any number
// of concurrent workers. All task state lives behind one mutex; waiting
// workers block on a broadcast channel instead of polling.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sofmeright/treebuild/src/graph"
	"github.com/sofmeright/treebuild/src/image"
)

var (
	// ErrDone is returned once nothing is pending or ready.
	ErrDone = errors.New("scheduler: no more work")
	// ErrNotReady is returned by TryNext while work remains blocked.
	ErrNotReady = errors.New("scheduler: nothing ready yet")
)

// Options tune scheduling policy.
type Options struct {
	// FailFast skips every pending and ready node after the first failure.
	// Running nodes are left to finish.
	FailFast bool

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Scheduler tracks per-node state for one run over a graph.
type Scheduler struct {
	g   *graph.Graph
	opt Options

	mu        sync.Mutex
	tasks     map[string]*Task
	waiting   map[string]int // not-yet-succeeded in-graph dependencies
	ready     []string       // sorted by definition index
	open      int            // pending + ready
	remaining map[string]int // unsettled nodes in each subtree, self included
	settled   []string
	log       []Transition
	aborted   bool
	changed   chan struct{}
}

// New creates a scheduler with every task pending and roots ready.
func New(g *graph.Graph, opt Options) *Scheduler {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	s := &Scheduler{
		g:         g,
		opt:       opt,
		tasks:     make(map[string]*Task, g.Len()),
		waiting:   make(map[string]int, g.Len()),
		remaining: make(map[string]int, g.Len()),
		changed:   make(chan struct{}),
	}

	for _, n := range g.Nodes() {
		s.tasks[n.ID] = &Task{Node: n, Status: Pending}
		s.remaining[n.ID] = 1 + len(g.Descendants(n.ID))
		s.open++
		if g.Parent(n.ID) != "" {
			s.waiting[n.ID] = 1
		}
	}
	for _, id := range g.Roots() {
		s.transition(id, Ready, CauseRoot)
		s.pushReady(id)
	}
	return s
}

// Next claims a ready node and marks it running. It blocks while work is
// still pending behind running nodes, and returns ErrDone once nothing is
// pending or ready. Each node is handed out at most once.
func (s *Scheduler) Next(ctx context.Context) (image.Node, error) {
	for {
		if err := ctx.Err(); err != nil {
			return image.Node{}, err
		}
		n, wait, err := s.TryNext()
		if !errors.Is(err, ErrNotReady) {
			return n, err
		}
		select {
		case <-ctx.Done():
			return image.Node{}, ctx.Err()
		case <-wait:
		}
	}
}

// TryNext is the non-blocking form of Next. When nothing is ready but work
// remains it returns ErrNotReady and a channel that is closed on the next
// state change.
func (s *Scheduler) TryNext() (image.Node, <-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ready) > 0 {
		id := s.ready[0]
		s.ready = s.ready[1:]
		t := s.tasks[id]
		t.Start = s.opt.Now()
		s.transition(id, Running, CauseDispatched)
		return t.Node, nil, nil
	}
	if s.open == 0 {
		return image.Node{}, nil, ErrDone
	}
	return image.Node{}, s.changed, ErrNotReady
}

// Report records the outcome of a running node. A nil err means success:
// children whose dependencies have all succeeded become ready. A failure
// skips every pending or ready descendant, and with FailFast every other
// pending or ready node too.
func (s *Scheduler) Report(id string, err error, outcome any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("scheduler: unknown node %s", id)
	}
	if t.Status != Running {
		return fmt.Errorf("scheduler: report for %s in state %s", id, t.Status)
	}

	t.End = s.opt.Now()
	t.Outcome = outcome

	if err == nil {
		s.transition(id, Succeeded, "")
		for _, c := range s.g.Children(id) {
			s.waiting[c]--
			if s.waiting[c] == 0 && s.tasks[c].Status == Pending {
				s.transition(c, Ready, CauseUnblocked)
				s.pushReady(c)
			}
		}
		return nil
	}

	t.Err = err
	s.transition(id, Failed, err.Error())
	for _, d := range s.g.Descendants(id) {
		s.skip(d, id, CauseAncestor)
	}
	if s.opt.FailFast {
		s.abortLocked(CauseFailFast)
	}
	return nil
}

// Abort skips every pending and ready node. Running nodes finish normally.
func (s *Scheduler) Abort(cause string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked(cause)
}

func (s *Scheduler) abortLocked(cause string) {
	if s.aborted {
		return
	}
	s.aborted = true
	for _, n := range s.g.Nodes() {
		s.skip(n.ID, "", cause)
	}
}

// skip marks a pending or ready node skipped. Other states are left alone.
func (s *Scheduler) skip(id, by, cause string) {
	t := s.tasks[id]
	if t.Status != Pending && t.Status != Ready {
		return
	}
	if t.Status == Ready {
		s.removeReady(id)
	}
	t.SkippedBy = by
	s.transition(id, Skipped, cause)
}

// transition is the single place task status changes. It keeps the open
// count, subtree bookkeeping and audit log in step and wakes waiters.
// Callers hold s.mu.
func (s *Scheduler) transition(id string, to Status, cause string) {
	t := s.tasks[id]
	from := t.Status
	t.Status = to
	t.Cause = cause

	wasOpen := from == Pending || from == Ready
	isOpen := to == Pending || to == Ready
	switch {
	case wasOpen && !isOpen:
		s.open--
	case !wasOpen && isOpen:
		s.open++
	}

	if to.Terminal() && !from.Terminal() {
		s.settle(id)
	}

	s.log = append(s.log, Transition{
		Seq:   len(s.log) + 1,
		Time:  s.opt.Now(),
		Node:  id,
		From:  from,
		To:    to,
		Cause: cause,
	})

	close(s.changed)
	s.changed = make(chan struct{})
}

// settle decrements the unsettled count of id and its ancestors, queueing
// every subtree that has become fully terminal.
func (s *Scheduler) settle(id string) {
	for cur := id; cur != ""; cur = s.g.Parent(cur) {
		s.remaining[cur]--
		if s.remaining[cur] == 0 {
			s.settled = append(s.settled, cur)
		}
	}
}

func (s *Scheduler) pushReady(id string) {
	idx := s.g.Index(id)
	i := sort.Search(len(s.ready), func(i int) bool {
		return s.g.Index(s.ready[i]) > idx
	})
	s.ready = append(s.ready, "")
	copy(s.ready[i+1:], s.ready[i:])
	s.ready[i] = id
}

func (s *Scheduler) removeReady(id string) {
	for i, r := range s.ready {
		if r == id {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			return
		}
	}
}

// Settled drains the list of nodes whose whole subtree (the node and every
// descendant) has reached a terminal state since the last call.
func (s *Scheduler) Settled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.settled
	s.settled = nil
	return out
}

// Done reports whether every node is terminal.
func (s *Scheduler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// Status returns the current status of id.
func (s *Scheduler) Status(id string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.Status
	}
	return ""
}

// Task returns a copy of one task.
func (s *Scheduler) Task(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Tasks returns a copy of every task in definition order.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, n := range s.g.Nodes() {
		out = append(out, *s.tasks[n.ID])
	}
	return out
}

// Transitions returns a copy of the audit log.
func (s *Scheduler) Transitions() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transition(nil), s.log...)
}
