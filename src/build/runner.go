package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Command is one external tool invocation. Dir and Env are explicit so
// builds never depend on the caller's working directory.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // KEY=VALUE, appended to the process environment
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// RunResult is the captured result of one command.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output returns stdout and stderr joined.
func (r RunResult) Output() string {
	return strings.TrimSpace(r.Stdout + "\n" + r.Stderr)
}

// Runner executes commands. Run returns a non-nil error when the command
// could not start or exited non-zero; the result is filled either way.
type Runner interface {
	Run(ctx context.Context, cmd Command) (RunResult, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	// Stream, when set, receives output as it is produced.
	Stream io.Writer
}

// Run executes cmd and waits for it.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (RunResult, error) {
	start := time.Now()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout, c.Stderr = &stdout, &stderr
	if r.Stream != nil {
		w := &syncWriter{w: r.Stream}
		c.Stdout = io.MultiWriter(&stdout, w)
		c.Stderr = io.MultiWriter(&stderr, w)
	}

	err := c.Run()
	res := RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		return res, fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return res, nil
}

// syncWriter serializes writes from the stdout and stderr copiers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// DryRunner records commands instead of running them. Every command
// succeeds.
type DryRunner struct {
	// Print, when set, is called with each command.
	Print func(Command)

	mu       sync.Mutex
	commands []Command
}

// Run records cmd.
func (d *DryRunner) Run(_ context.Context, cmd Command) (RunResult, error) {
	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	d.mu.Unlock()
	if d.Print != nil {
		d.Print(cmd)
	}
	return RunResult{}, nil
}

// Commands returns the recorded commands in order.
func (d *DryRunner) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.commands...)
}
