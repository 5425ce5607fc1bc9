// Package run drives the scheduler and the build executor across a worker
// pool and assembles the result of a run.
package run

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sofmeright/treebuild/src/build"
	"github.com/sofmeright/treebuild/src/graph"
	"github.com/sofmeright/treebuild/src/image"
	"github.com/sofmeright/treebuild/src/logger"
	"github.com/sofmeright/treebuild/src/scheduler"
)

// ErrPanic marks a BuildError converted from a panic inside the executor.
var ErrPanic = errors.New("executor panicked")

// Executor builds one node. *build.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, n image.Node, args map[string]string) (*build.Outcome, error)
}

// Remover deletes local images once they are no longer needed.
type Remover interface {
	Remove(ctx context.Context, refs []string) error
}

// Options configure a Coordinator.
type Options struct {
	// Concurrency is the worker pool size, at least 1.
	Concurrency int
	FailFast    bool

	// Retries re-executes a failed node up to this many extra times.
	// Push failures and panics are never retried.
	Retries      int
	RetryBackoff time.Duration

	// RemoveAfter deletes a node's local images once its whole subtree
	// is finished. Requires an Executor that is also a Remover.
	RemoveAfter bool

	Args build.ArgOptions

	// OnReport, when set, is called after each node reaches a final state
	// through execution.
	OnReport func(scheduler.Task)

	Logger zerolog.Logger
	Now    func() time.Time
}

// Coordinator runs a graph.
type Coordinator struct {
	g    *graph.Graph
	exec Executor
	opt  Options
	log  zerolog.Logger
}

// New validates options and returns a Coordinator.
func New(g *graph.Graph, exec Executor, opt Options) (*Coordinator, error) {
	if g == nil || exec == nil {
		return nil, errors.New("run: graph and executor are required")
	}
	if opt.Concurrency < 1 {
		return nil, fmt.Errorf("run: concurrency must be >= 1, got %d", opt.Concurrency)
	}
	if opt.Retries < 0 {
		return nil, fmt.Errorf("run: retries must be >= 0, got %d", opt.Retries)
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Coordinator{g: g, exec: exec, opt: opt, log: logger.Component(opt.Logger, "run")}, nil
}

// Run builds every node of the graph. The returned error is non-nil only
// when the run could not complete (context canceled); build failures are
// reported through Result.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:       uuid.NewString(),
		Started:     c.opt.Now(),
		Concurrency: c.opt.Concurrency,
		FailFast:    c.opt.FailFast,
	}
	log := c.log.With().Str(logger.FieldRunID, res.RunID).Logger()

	sched := scheduler.New(c.g, scheduler.Options{FailFast: c.opt.FailFast, Now: c.opt.Now})

	workers := c.opt.Concurrency
	if workers > c.g.Len() {
		workers = c.g.Len()
	}
	log.Info().Int("images", c.g.Len()).Int("workers", workers).Bool("fail_fast", c.opt.FailFast).Msg("starting run")

	var eg errgroup.Group
	for w := 1; w <= workers; w++ {
		wlog := log.With().Int(logger.FieldWorker, w).Logger()
		eg.Go(func() error { return c.worker(ctx, wlog, sched) })
	}
	werr := eg.Wait()

	if ctx.Err() != nil {
		sched.Abort(scheduler.CauseAborted)
	}
	c.cleanup(context.WithoutCancel(ctx), log, sched)

	res.Finished = c.opt.Now()
	res.Tasks = sched.Tasks()
	res.Transitions = sched.Transitions()
	res.Success = res.Count(scheduler.Succeeded) == len(res.Tasks)

	ev := log.Info()
	if !res.Success {
		ev = log.Warn()
	}
	ev.Int("succeeded", res.Count(scheduler.Succeeded)).
		Int("failed", res.Count(scheduler.Failed)).
		Int("skipped", res.Count(scheduler.Skipped)).
		Dur("took", res.Duration()).
		Msg("run finished")

	if werr != nil {
		return res, werr
	}
	return res, ctx.Err()
}

func (c *Coordinator) worker(ctx context.Context, log zerolog.Logger, sched *scheduler.Scheduler) error {
	for {
		n, err := sched.Next(ctx)
		if errors.Is(err, scheduler.ErrDone) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		nlog := log.With().Str(logger.FieldNode, n.ID).Logger()
		nlog.Info().Msg("dispatched")

		out, err := c.execute(ctx, nlog, n)
		if err != nil {
			nlog.Error().Err(err).Msg("failed")
		}
		if rerr := sched.Report(n.ID, err, out); rerr != nil {
			return rerr
		}

		if c.opt.OnReport != nil {
			if t, ok := sched.Task(n.ID); ok {
				c.opt.OnReport(t)
			}
		}
		c.cleanup(ctx, log, sched)
	}
}

// execute runs the executor with bounded retries. Push errors already
// carry their own retries and panics are not worth repeating.
func (c *Coordinator) execute(ctx context.Context, log zerolog.Logger, n image.Node) (*build.Outcome, error) {
	args := build.ResolveArgs(n, c.opt.Args)

	if c.opt.Retries == 0 {
		out, err := c.safeExecute(ctx, n, args)
		if out != nil {
			out.Attempts = 1
		}
		return out, err
	}

	b := backoff.NewExponentialBackOff()
	if c.opt.RetryBackoff > 0 {
		b.InitialInterval = c.opt.RetryBackoff
	}

	var (
		attempts int
		out      *build.Outcome
		lastErr  error
	)
	_, rerr := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		out, lastErr = c.safeExecute(ctx, n, args)
		switch {
		case lastErr == nil:
			return struct{}{}, nil
		case !retryable(lastErr):
			return struct{}{}, backoff.Permanent(lastErr)
		}
		return struct{}{}, lastErr
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.opt.Retries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn().Err(err).Int(logger.FieldAttempt, attempts).Dur("retry_in", wait).Msg("retrying")
		}),
	)

	if attempts == 0 {
		// canceled before the first attempt
		return nil, &build.BuildError{Node: n.ID, ExitCode: -1, Err: rerr}
	}
	if out != nil {
		out.Attempts = attempts
	}
	if lastErr == nil && rerr != nil {
		lastErr = rerr
	}
	return out, lastErr
}

func retryable(err error) bool {
	var pe *build.PushError
	return !errors.As(err, &pe) && !errors.Is(err, ErrPanic) &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// safeExecute turns a panic in the executor into a BuildError for this node
// alone.
func (c *Coordinator) safeExecute(ctx context.Context, n image.Node, args map[string]string) (out *build.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			c.log.Error().Str(logger.FieldNode, n.ID).Interface("panic", r).Msg("executor panicked")
			out = &build.Outcome{Node: n.ID, ExitCode: -1, Stderr: stack}
			err = &build.BuildError{
				Node:     n.ID,
				Action:   build.ActionBuild,
				ExitCode: -1,
				Output:   stack,
				Err:      fmt.Errorf("%w: %v", ErrPanic, r),
			}
		}
	}()
	return c.exec.Execute(ctx, n, args)
}

// cleanup removes the local images of nodes whose subtree has settled.
// Removal failures are logged and never fail the run.
func (c *Coordinator) cleanup(ctx context.Context, log zerolog.Logger, sched *scheduler.Scheduler) {
	settled := sched.Settled()
	if !c.opt.RemoveAfter || len(settled) == 0 {
		return
	}
	rm, ok := c.exec.(Remover)
	if !ok {
		return
	}

	tasks := make(map[string]scheduler.Task, len(settled))
	for _, t := range sched.Tasks() {
		tasks[t.Node.ID] = t
	}
	for _, id := range settled {
		out := Outcome(tasks[id])
		if out == nil || len(out.Images) == 0 {
			continue
		}
		if err := rm.Remove(ctx, out.Images); err != nil {
			log.Warn().Err(err).Str(logger.FieldNode, id).Msg("removing images")
			continue
		}
		log.Debug().Str(logger.FieldNode, id).Strs("images", out.Images).Msg("removed images")
	}
}
