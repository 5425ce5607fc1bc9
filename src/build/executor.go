package build

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/sofmeright/treebuild/src/image"
	"github.com/sofmeright/treebuild/src/logger"
)

// Options configure an Executor.
type Options struct {
	Engine Engine
	Runner Runner // nil = ExecRunner

	// Dir is the working directory of every command.
	Dir string
	// Env is appended to the process environment of every command.
	Env []string

	// PushRetries is how many times a failed push is retried.
	PushRetries int
	PushBackoff time.Duration
	// PushConcurrency caps simultaneous pushes across workers. 0 = no cap.
	PushConcurrency int

	Logger zerolog.Logger
}

// Executor runs build, tag and push for one node at a time. It is safe for
// concurrent use by several workers.
type Executor struct {
	engine      Engine
	runner      Runner
	dir         string
	env         []string
	pushRetries int
	pushBackoff time.Duration
	pushSem     *semaphore.Weighted
	log         zerolog.Logger
}

// NewExecutor validates opts and returns an Executor.
func NewExecutor(opts Options) (*Executor, error) {
	if opts.Engine == nil {
		return nil, errors.New("build: executor needs an engine")
	}
	if opts.PushRetries < 0 {
		return nil, fmt.Errorf("build: push retries must be >= 0, got %d", opts.PushRetries)
	}
	e := &Executor{
		engine:      opts.Engine,
		runner:      opts.Runner,
		dir:         opts.Dir,
		env:         opts.Env,
		pushRetries: opts.PushRetries,
		pushBackoff: opts.PushBackoff,
		log:         logger.Component(opts.Logger, "executor"),
	}
	if e.runner == nil {
		e.runner = &ExecRunner{}
	}
	if opts.PushConcurrency > 0 {
		e.pushSem = semaphore.NewWeighted(int64(opts.PushConcurrency))
	}
	return e, nil
}

// Engine returns the engine in use.
func (e *Executor) Engine() Engine { return e.engine }

// Execute builds n with args, runs its test command if it has one, then
// applies its extra tags and, when the node pushes, pushes every reference.
// Tagging only happens after a successful build and test, and pushing only
// after every tag was applied. The outcome is
// returned even on failure. There is no retry of the build itself.
func (e *Executor) Execute(ctx context.Context, n image.Node, args map[string]string) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{Node: n.ID}
	err := e.execute(ctx, n, args, out)
	out.Duration = time.Since(start)
	return out, err
}

func (e *Executor) execute(ctx context.Context, n image.Node, args map[string]string, out *Outcome) error {
	step := StepFor(n, args)
	log := e.log.With().Str(logger.FieldNode, n.ID).Logger()

	res, err := e.run(ctx, log, e.engine.BuildCommand(step))
	out.Stdout, out.Stderr, out.ExitCode = res.Stdout, res.Stderr, res.ExitCode
	out.Layers = ParseLayers(res.Stdout + "\n" + res.Stderr)
	out.Actions = append(out.Actions, action(ActionBuild, n.ID, 1, res.Duration, err))
	if err != nil {
		return &BuildError{Node: n.ID, Action: ActionBuild, ExitCode: res.ExitCode, Output: res.Output(), Err: err}
	}
	out.Images = append(out.Images, n.ID)

	if cmd, ok := step.TestCommand(); ok {
		res, err := e.run(ctx, log, cmd)
		out.Actions = append(out.Actions, action(ActionTest, n.ID, 1, res.Duration, err))
		if err != nil {
			return &BuildError{Node: n.ID, Action: ActionTest, ExitCode: res.ExitCode, Output: res.Output(), Err: err}
		}
	}
	out.Built = true
	log.Info().
		Dur("took", res.Duration).
		Int("cached_layers", out.CachedLayers()).
		Msg("built")

	for _, ref := range step.Refs[1:] {
		cmd, ok := e.engine.TagCommand(n.ID, ref)
		if !ok {
			out.Images = append(out.Images, ref)
			continue
		}
		res, err := e.run(ctx, log, cmd)
		out.Actions = append(out.Actions, action(ActionTag, ref, 1, res.Duration, err))
		if err != nil {
			return &BuildError{Node: n.ID, Action: ActionTag, ExitCode: res.ExitCode, Output: res.Output(), Err: err}
		}
		out.Images = append(out.Images, ref)
	}

	if !step.Push {
		return nil
	}
	for _, ref := range step.Refs {
		cmd, ok := e.engine.PushCommand(ref)
		if !ok {
			// pushed by the build itself
			out.Pushed = append(out.Pushed, ref)
			continue
		}
		if err := e.push(ctx, log, n.ID, ref, cmd, out); err != nil {
			return err
		}
	}
	return nil
}

// push runs cmd with bounded retries while holding a push slot.
func (e *Executor) push(ctx context.Context, log zerolog.Logger, node, ref string, cmd Command, out *Outcome) error {
	if e.pushSem != nil {
		if err := e.pushSem.Acquire(ctx, 1); err != nil {
			return &PushError{Node: node, Ref: ref, ExitCode: -1, Err: err}
		}
		defer e.pushSem.Release(1)
	}

	b := backoff.NewExponentialBackOff()
	if e.pushBackoff > 0 {
		b.InitialInterval = e.pushBackoff
	}

	var (
		attempts int
		last     RunResult
		total    time.Duration
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		res, err := e.run(ctx, log, cmd)
		last = res
		total += res.Duration
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.pushRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn().Err(err).Str("ref", ref).Int(logger.FieldAttempt, attempts).Dur("retry_in", wait).Msg("push failed")
		}),
	)

	out.Actions = append(out.Actions, action(ActionPush, ref, attempts, total, err))
	if err != nil {
		return &PushError{Node: node, Ref: ref, ExitCode: last.ExitCode, Output: last.Output(), Err: err}
	}
	out.Pushed = append(out.Pushed, ref)
	log.Info().Str("ref", ref).Dur("took", total).Msg("pushed")
	return nil
}

// Remove deletes local images. Engines without a local image store do
// nothing.
func (e *Executor) Remove(ctx context.Context, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	cmd, ok := e.engine.RemoveCommand(refs)
	if !ok {
		return nil
	}
	_, err := e.run(ctx, e.log, cmd)
	return err
}

func (e *Executor) run(ctx context.Context, log zerolog.Logger, cmd Command) (RunResult, error) {
	if cmd.Dir == "" {
		cmd.Dir = e.dir
	}
	cmd.Env = append(append([]string(nil), e.env...), cmd.Env...)
	log.Debug().Str("cmd", cmd.String()).Msg("exec")
	return e.runner.Run(ctx, cmd)
}

func action(kind ActionKind, ref string, attempts int, d time.Duration, err error) Action {
	a := Action{Kind: kind, Ref: ref, Attempts: attempts, Duration: d}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}
