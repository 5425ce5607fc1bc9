package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sofmeright/treebuild/src/build"
	"github.com/sofmeright/treebuild/src/graph"
	"github.com/sofmeright/treebuild/src/image"
	"github.com/sofmeright/treebuild/src/lint"
	"github.com/sofmeright/treebuild/src/run"
	"github.com/sofmeright/treebuild/src/scheduler"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "<1ms"},
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m30.0s"},
	}
	for _, tt := range tests {
		if got := formatElapsed(tt.d); got != tt.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestSectionFrame(t *testing.T) {
	var buf bytes.Buffer
	sec := NewSection(&buf, "Build", 0, false)
	sec.Row("hello %d", 1)
	sec.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[0], "── Build ") {
		t.Errorf("header = %q", lines[0])
	}
	if got := len([]rune(lines[0])); got != sectionWidth+4 {
		t.Errorf("header width = %d, want %d", got, sectionWidth+4)
	}
	if lines[1] != "    │ hello 1" {
		t.Errorf("row = %q", lines[1])
	}
}

func TestPlan(t *testing.T) {
	g, err := graph.Build([]image.Node{
		{ID: "base:1", Index: 0},
		{ID: "app:1", Index: 1, Parent: "base:1"},
		{ID: "tool:1", Index: 2, Parent: "app:1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	g, err = g.Select([]string{"app:1"})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	cmds := map[string][]build.Command{"app:1": {{Name: "docker", Args: []string{"buildx", "build", "."}}}}
	Plan(&buf, g, cmds, false)

	out := buf.String()
	for _, want := range []string{"  1  app:1 (from base:1)", "  2    tool:1", "$ docker buildx build ."} {
		if !strings.Contains(out, want) {
			t.Errorf("plan missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "  base:1") {
		t.Errorf("unselected parent listed:\n%s", out)
	}
}

func testResult() *run.Result {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &run.Result{
		Started:  start,
		Finished: start.Add(3 * time.Second),
		Tasks: []scheduler.Task{
			{Node: image.Node{ID: "base:1"}, Status: scheduler.Succeeded, Start: start, End: start.Add(time.Second),
				Outcome: &build.Outcome{Pushed: []string{"base:1"}, Attempts: 2}},
			{Node: image.Node{ID: "app:1"}, Status: scheduler.Failed, Err: errors.New("build app:1 failed\nmore"),
				Outcome: &build.Outcome{Stderr: "line1\nline2\nline3\n"}},
			{Node: image.Node{ID: "tool:1"}, Status: scheduler.Skipped, SkippedBy: "app:1", Cause: scheduler.CauseAncestor},
		},
	}
}

func TestRunSummary(t *testing.T) {
	var buf bytes.Buffer
	RunSummary(&buf, testResult(), false)
	out := buf.String()

	for _, want := range []string{
		"base:1", "pushed 1", "2 attempts",
		"app:1", "✗  build app:1 failed",
		"tool:1", "parent app:1 failed",
		"1 succeeded, 1 failed, 1 skipped",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "more") {
		t.Errorf("summary should show only the first error line:\n%s", out)
	}
}

func TestFailures(t *testing.T) {
	var buf bytes.Buffer
	Failures(&buf, testResult(), 2, false)
	out := buf.String()
	if !strings.Contains(out, "Failed: app:1") || !strings.Contains(out, "line3") {
		t.Errorf("failures output:\n%s", out)
	}
	if strings.Contains(out, "line1") {
		t.Errorf("tail should keep the last 2 lines:\n%s", out)
	}
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, 2, false)
	res := testResult()
	p.Report(res.Tasks[0])
	p.Report(res.Tasks[2])

	out := buf.String()
	if !strings.Contains(out, "[1/2] ✓ base:1") || !strings.Contains(out, "[2/2] ⊘ tool:1  parent app:1 failed") {
		t.Errorf("progress:\n%s", out)
	}
}

func TestFindingsSummaryLine(t *testing.T) {
	findings := []lint.Finding{
		{Severity: lint.SeverityCritical},
		{Severity: lint.SeverityWarning},
		{Severity: lint.SeverityWarning},
	}
	got := FindingsSummaryLine(findings, 4, false)
	if want := "3 findings in 4 images: 1 critical, 2 warning"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := FindingsSummaryLine(nil, 1, false); got != "0 findings in 1 images: no findings" {
		t.Errorf("empty = %q", got)
	}
}
