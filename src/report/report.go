// Package report serializes run results for external consumption and keeps
// a local history of runs.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sofmeright/treebuild/src/build"
	"github.com/sofmeright/treebuild/src/run"
	"github.com/sofmeright/treebuild/src/scheduler"
)

// Formats.
const (
	FormatJSON  = "json"
	FormatYAML  = "yaml"
	FormatJUnit = "junit"
)

// Report is the serializable form of a run result.
type Report struct {
	RunID       string                 `json:"run_id" yaml:"run_id"`
	Started     time.Time              `json:"started" yaml:"started"`
	Finished    time.Time              `json:"finished" yaml:"finished"`
	DurationMS  int64                  `json:"duration_ms" yaml:"duration_ms"`
	Success     bool                   `json:"success" yaml:"success"`
	Concurrency int                    `json:"concurrency" yaml:"concurrency"`
	FailFast    bool                   `json:"fail_fast" yaml:"fail_fast"`
	Error       string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Nodes       []Node                 `json:"nodes" yaml:"nodes"`
	Transitions []scheduler.Transition `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

// Node is the final state of one image.
type Node struct {
	ID           string         `json:"id" yaml:"id"`
	Status       string         `json:"status" yaml:"status"`
	Error        string         `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorType    string         `json:"error_type,omitempty" yaml:"error_type,omitempty"`
	SkippedBy    string         `json:"skipped_by,omitempty" yaml:"skipped_by,omitempty"`
	Cause        string         `json:"cause,omitempty" yaml:"cause,omitempty"`
	DurationMS   int64          `json:"duration_ms" yaml:"duration_ms"`
	Attempts     int            `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	ExitCode     int            `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Images       []string       `json:"images,omitempty" yaml:"images,omitempty"`
	Pushed       []string       `json:"pushed,omitempty" yaml:"pushed,omitempty"`
	CachedLayers int            `json:"cached_layers,omitempty" yaml:"cached_layers,omitempty"`
	Actions      []build.Action `json:"actions,omitempty" yaml:"actions,omitempty"`
	Output       string         `json:"-" yaml:"-"`
}

// FromResult converts a run result.
func FromResult(res *run.Result) *Report {
	r := &Report{
		RunID:       res.RunID,
		Started:     res.Started.UTC(),
		Finished:    res.Finished.UTC(),
		DurationMS:  res.Duration().Milliseconds(),
		Success:     res.Success,
		Concurrency: res.Concurrency,
		FailFast:    res.FailFast,
		Transitions: res.Transitions,
	}
	if err := res.Err(); err != nil {
		r.Error = err.Error()
	}

	for _, t := range res.Tasks {
		n := Node{
			ID:         t.Node.ID,
			Status:     string(t.Status),
			SkippedBy:  t.SkippedBy,
			DurationMS: t.Duration().Milliseconds(),
		}
		if t.Status == scheduler.Skipped {
			n.Cause = t.Cause
		}
		if t.Err != nil {
			n.Error = t.Err.Error()
			n.ErrorType = errorType(t.Err)
		}
		if out := run.Outcome(t); out != nil {
			n.Attempts = out.Attempts
			n.ExitCode = out.ExitCode
			n.Images = out.Images
			n.Pushed = out.Pushed
			n.CachedLayers = out.CachedLayers()
			n.Actions = out.Actions
			n.Output = out.Output()
		}
		r.Nodes = append(r.Nodes, n)
	}
	return r
}

func errorType(err error) string {
	var pe *build.PushError
	var be *build.BuildError
	switch {
	case errors.As(err, &pe):
		return "PushError"
	case errors.As(err, &be):
		return "BuildError"
	default:
		return "Error"
	}
}

// Count returns how many nodes ended in the given status.
func (r *Report) Count(status scheduler.Status) int {
	n := 0
	for _, node := range r.Nodes {
		if node.Status == string(status) {
			n++
		}
	}
	return n
}

// Write encodes the report in the given format.
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatJUnit:
		return r.writeJUnit(w)
	default:
		return fmt.Errorf("unknown report format %q (want json, yaml or junit)", format)
	}
}

// FormatFor picks a format from a file extension: .json, .yaml/.yml, or
// .xml for JUnit.
func FormatFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".xml":
		return FormatJUnit, nil
	default:
		return "", fmt.Errorf("cannot infer report format from %q (use .json, .yaml or .xml)", path)
	}
}

// WriteFile writes the report to path, creating parent directories.
func (r *Report) WriteFile(path string) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating report dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Write(f, format); err != nil {
		f.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	return f.Close()
}
