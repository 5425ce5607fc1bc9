package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sofmeright/treebuild/src/build"
	"github.com/sofmeright/treebuild/src/graph"
	"github.com/sofmeright/treebuild/src/image"
	"github.com/sofmeright/treebuild/src/logger"
	"github.com/sofmeright/treebuild/src/scheduler"
)

// fakeExecutor records calls and misbehaves on request.
type fakeExecutor struct {
	mu       sync.Mutex
	calls    []string
	args     map[string]map[string]string
	removed  []string
	fail     map[string]int // node -> remaining failures
	pushFail map[string]bool
	panics   map[string]bool
	delay    map[string]time.Duration
	gate     func(id string)

	running, maxRunning int
}

func (f *fakeExecutor) Execute(ctx context.Context, n image.Node, args map[string]string) (*build.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, n.ID)
	if f.args == nil {
		f.args = map[string]map[string]string{}
	}
	f.args[n.ID] = args
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	fail := f.fail[n.ID] > 0
	if fail {
		f.fail[n.ID]--
	}
	delay := f.delay[n.ID]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if f.gate != nil {
		f.gate(n.ID)
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if f.panics[n.ID] {
		panic("boom in " + n.ID)
	}

	out := &build.Outcome{Node: n.ID, Built: true, Images: []string{n.ID}}
	if fail {
		return &build.Outcome{Node: n.ID, ExitCode: 1}, &build.BuildError{Node: n.ID, ExitCode: 1, Err: errors.New("exit status 1")}
	}
	if f.pushFail[n.ID] {
		return out, &build.PushError{Node: n.ID, Ref: n.ID, ExitCode: 1, Err: errors.New("denied")}
	}
	return out, nil
}

func (f *fakeExecutor) Remove(_ context.Context, refs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, refs...)
	return nil
}

func (f *fakeExecutor) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// forest builds a graph from "name" / "name<parent" specs.
func forest(t *testing.T, specs ...string) *graph.Graph {
	t.Helper()
	var nodes []image.Node
	for i, sp := range specs {
		name, parent, _ := strings.Cut(sp, "<")
		ref, err := image.ParseRef(name)
		if err != nil {
			t.Fatal(err)
		}
		n := image.Node{ID: ref.String(), Ref: ref, Index: i, Context: name}
		if parent != "" {
			n.Parent = image.NormalizeID(parent)
		}
		nodes = append(nodes, n)
	}
	g, err := graph.Build(nodes)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func runGraph(t *testing.T, g *graph.Graph, ex Executor, opt Options) *Result {
	t.Helper()
	opt.Logger = logger.Nop()
	if opt.Concurrency == 0 {
		opt.Concurrency = 1
	}
	c, err := New(g, ex, opt)
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func statuses(res *Result) map[string]scheduler.Status {
	out := map[string]scheduler.Status{}
	for _, task := range res.Tasks {
		out[task.Node.ID] = task.Status
	}
	return out
}

func TestRunABC(t *testing.T) {
	ex := &fakeExecutor{}
	res := runGraph(t, forest(t, "a", "b<a", "c<a"), ex, Options{Concurrency: 2})

	if !res.Success || res.Err() != nil {
		t.Fatalf("run failed: %v", res.Err())
	}
	calls := ex.called()
	if calls[0] != "a:latest" || len(calls) != 3 {
		t.Errorf("calls = %v", calls)
	}
	if res.RunID == "" {
		t.Error("missing run id")
	}
	if got := ex.args["b:latest"]; got != nil && len(got) != 0 {
		t.Errorf("b got args %v without a base arg configured", got)
	}
}

func TestRunABCParentFails(t *testing.T) {
	ex := &fakeExecutor{fail: map[string]int{"a:latest": 1}}
	res := runGraph(t, forest(t, "a", "b<a", "c<a"), ex, Options{Concurrency: 2})

	if res.Success {
		t.Fatal("run succeeded")
	}
	want := map[string]scheduler.Status{
		"a:latest": scheduler.Failed,
		"b:latest": scheduler.Skipped,
		"c:latest": scheduler.Skipped,
	}
	if diff := cmp.Diff(want, statuses(res)); diff != "" {
		t.Errorf("statuses (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a:latest"}, ex.called()); diff != "" {
		t.Errorf("executor calls (-want +got):\n%s", diff)
	}

	err := res.Err()
	var fe *FailureError
	if !errors.As(err, &fe) || len(fe.Failed) != 1 || len(fe.Skipped) != 2 {
		t.Fatalf("Err = %v", err)
	}
	if msg := err.Error(); !strings.Contains(msg, "\n  a:latest: ") || !strings.Contains(msg, "2 image(s) skipped") {
		t.Errorf("error %q does not list the failed node and skip count", msg)
	}
	var be *build.BuildError
	if !errors.As(err, &be) {
		t.Errorf("FailureError does not unwrap to the BuildError")
	}
}

func TestRunUnrelatedBranchesContinue(t *testing.T) {
	ex := &fakeExecutor{fail: map[string]int{"a:latest": 1}}
	res := runGraph(t, forest(t, "a", "b<a", "x", "y<x"), ex, Options{})

	got := statuses(res)
	if got["x:latest"] != scheduler.Succeeded || got["y:latest"] != scheduler.Succeeded {
		t.Errorf("unrelated branch did not build: %v", got)
	}
	if got["b:latest"] != scheduler.Skipped {
		t.Errorf("b = %s", got["b:latest"])
	}
}

func TestRunSequentialIsDeterministic(t *testing.T) {
	specs := []string{"base", "app<base", "tools", "app-debug<app", "worker<base", "cli<tools"}
	want := []string{
		"base:latest", "app:latest", "tools:latest", "app-debug:latest", "worker:latest", "cli:latest",
	}
	for i := 0; i < 5; i++ {
		ex := &fakeExecutor{}
		runGraph(t, forest(t, specs...), ex, Options{Concurrency: 1})
		if diff := cmp.Diff(want, ex.called()); diff != "" {
			t.Fatalf("run %d order (-want +got):\n%s", i, diff)
		}
	}
}

func TestRunSuccessIsTopological(t *testing.T) {
	var specs []string
	for i := 0; i < 40; i++ {
		if i%7 == 0 {
			specs = append(specs, fmt.Sprintf("n%d", i))
			continue
		}
		specs = append(specs, fmt.Sprintf("n%d<n%d", i, i/2))
	}
	g := forest(t, specs...)
	ex := &fakeExecutor{delay: map[string]time.Duration{"n1:latest": 5 * time.Millisecond}}
	res := runGraph(t, g, ex, Options{Concurrency: 6})

	if !res.Success {
		t.Fatalf("run failed: %v", res.Err())
	}
	succeededAt := map[string]int{}
	startedAt := map[string]int{}
	for _, tr := range res.Transitions {
		switch tr.To {
		case scheduler.Succeeded:
			succeededAt[tr.Node] = tr.Seq
		case scheduler.Running:
			startedAt[tr.Node] = tr.Seq
		}
	}
	for _, n := range g.Nodes() {
		p := g.Parent(n.ID)
		if p == "" {
			continue
		}
		if succeededAt[n.ID] < succeededAt[p] || startedAt[n.ID] < succeededAt[p] {
			t.Errorf("%s ran or succeeded before parent %s", n.ID, p)
		}
	}
	if ex.maxRunning > 6 {
		t.Errorf("max concurrent executions = %d, want <= 6", ex.maxRunning)
	}
}

func TestRunSiblingsRunConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)
	all := make(chan struct{})
	go func() { wg.Wait(); close(all) }()

	ex := &fakeExecutor{gate: func(id string) {
		if id == "root:latest" {
			return
		}
		wg.Done()
		select {
		case <-all:
		case <-time.After(2 * time.Second):
		}
	}}
	res := runGraph(t, forest(t, "root", "a<root", "b<root", "c<root"), ex, Options{Concurrency: 3})
	if !res.Success {
		t.Fatal(res.Err())
	}
	select {
	case <-all:
	default:
		t.Error("siblings never ran at the same time")
	}
}

func TestRunFailFast(t *testing.T) {
	started := make(chan struct{})
	ex := &fakeExecutor{
		fail:  map[string]int{"a:latest": 1},
		delay: map[string]time.Duration{"x:latest": 50 * time.Millisecond},
		gate: func(id string) {
			if id == "x:latest" {
				close(started)
			}
			if id == "a:latest" {
				<-started
			}
		},
	}
	res := runGraph(t, forest(t, "a", "x", "y", "z<x"), ex, Options{Concurrency: 2, FailFast: true})

	want := map[string]scheduler.Status{
		"a:latest": scheduler.Failed,
		"x:latest": scheduler.Succeeded,
		"y:latest": scheduler.Skipped,
		"z:latest": scheduler.Skipped,
	}
	if diff := cmp.Diff(want, statuses(res)); diff != "" {
		t.Errorf("statuses (-want +got):\n%s", diff)
	}
	for _, id := range ex.called() {
		if id == "y:latest" || id == "z:latest" {
			t.Errorf("%s dispatched after fail-fast", id)
		}
	}
}

func TestRunRetries(t *testing.T) {
	ex := &fakeExecutor{fail: map[string]int{"a:latest": 2}}
	res := runGraph(t, forest(t, "a"), ex, Options{Retries: 2, RetryBackoff: time.Millisecond})
	if !res.Success {
		t.Fatalf("run failed: %v", res.Err())
	}
	if out := Outcome(res.Tasks[0]); out == nil || out.Attempts != 3 {
		t.Errorf("outcome = %+v", out)
	}

	ex = &fakeExecutor{fail: map[string]int{"a:latest": 2}}
	res = runGraph(t, forest(t, "a", "b"), ex, Options{Retries: 1, RetryBackoff: time.Millisecond})
	if got := statuses(res); got["a:latest"] != scheduler.Failed || got["b:latest"] != scheduler.Succeeded {
		t.Errorf("statuses = %v", got)
	}
	n := 0
	for _, id := range ex.called() {
		if id == "a:latest" {
			n++
		}
	}
	if n != 2 {
		t.Errorf("a executed %d times, want 2", n)
	}
}

func TestRunDoesNotRetryPushOrPanic(t *testing.T) {
	ex := &fakeExecutor{
		pushFail: map[string]bool{"a:latest": true},
		panics:   map[string]bool{"b:latest": true},
	}
	res := runGraph(t, forest(t, "a", "b", "c<b", "d"), ex, Options{Retries: 3, RetryBackoff: time.Millisecond, Concurrency: 2})

	counts := map[string]int{}
	for _, id := range ex.called() {
		counts[id]++
	}
	if counts["a:latest"] != 1 || counts["b:latest"] != 1 {
		t.Errorf("executions = %v", counts)
	}

	got := statuses(res)
	want := map[string]scheduler.Status{
		"a:latest": scheduler.Failed,
		"b:latest": scheduler.Failed,
		"c:latest": scheduler.Skipped,
		"d:latest": scheduler.Succeeded,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("statuses (-want +got):\n%s", diff)
	}

	for _, task := range res.Tasks {
		switch task.Node.ID {
		case "a:latest":
			var pe *build.PushError
			if !errors.As(task.Err, &pe) {
				t.Errorf("a err = %v, want PushError", task.Err)
			}
			if out := Outcome(task); out == nil || !out.Built {
				t.Errorf("push failure lost the built outcome: %+v", out)
			}
		case "b:latest":
			var be *build.BuildError
			if !errors.As(task.Err, &be) || be.ExitCode != -1 || !errors.Is(task.Err, ErrPanic) {
				t.Errorf("b err = %v, want panic BuildError", task.Err)
			}
		}
	}
}

func TestRunInjectsBaseArg(t *testing.T) {
	ex := &fakeExecutor{}
	runGraph(t, forest(t, "org/base", "org/app<org/base"), ex, Options{
		Args: build.ArgOptions{BaseArg: "BASE_IMAGE"},
	})
	if got := ex.args["org/app:latest"]["BASE_IMAGE"]; got != "org/base:latest" {
		t.Errorf("BASE_IMAGE = %q", got)
	}
	if _, ok := ex.args["org/base:latest"]["BASE_IMAGE"]; ok {
		t.Error("root received a base arg")
	}
}

func TestRunRemoveAfter(t *testing.T) {
	ex := &fakeExecutor{}
	runGraph(t, forest(t, "a", "b<a", "c<a"), ex, Options{RemoveAfter: true})

	if len(ex.removed) != 3 {
		t.Fatalf("removed = %v", ex.removed)
	}
	if ex.removed[len(ex.removed)-1] != "a:latest" {
		t.Errorf("parent removed before its children finished: %v", ex.removed)
	}

	ex = &fakeExecutor{}
	runGraph(t, forest(t, "a", "b<a"), ex, Options{})
	if len(ex.removed) != 0 {
		t.Errorf("removed without remove_after: %v", ex.removed)
	}
}

func TestRunOnReport(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	ex := &fakeExecutor{}
	runGraph(t, forest(t, "a", "b<a"), ex, Options{OnReport: func(task scheduler.Task) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(task.Status)+" "+task.Node.ID)
	}})
	if diff := cmp.Diff([]string{"succeeded a:latest", "succeeded b:latest"}, seen); diff != "" {
		t.Errorf("reports (-want +got):\n%s", diff)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := New(forest(t, "a", "b<a"), &fakeExecutor{}, Options{Concurrency: 1, Logger: logger.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v", err)
	}
	if res.Success {
		t.Error("canceled run reported success")
	}
	for _, task := range res.Tasks {
		if task.Status != scheduler.Skipped || task.Cause != scheduler.CauseAborted {
			t.Errorf("%s = %s (%s)", task.Node.ID, task.Status, task.Cause)
		}
	}
}

func TestNewValidates(t *testing.T) {
	g := forest(t, "a")
	if _, err := New(g, &fakeExecutor{}, Options{Concurrency: 0}); err == nil {
		t.Error("concurrency 0 accepted")
	}
	if _, err := New(g, &fakeExecutor{}, Options{Concurrency: 1, Retries: -1}); err == nil {
		t.Error("negative retries accepted")
	}
	if _, err := New(nil, &fakeExecutor{}, Options{Concurrency: 1}); err == nil {
		t.Error("nil graph accepted")
	}
}
