package report

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sofmeright/treebuild/src/build"
	"github.com/sofmeright/treebuild/src/image"
	"github.com/sofmeright/treebuild/src/run"
	"github.com/sofmeright/treebuild/src/scheduler"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func task(id string, status scheduler.Status, start, end time.Duration) scheduler.Task {
	ref, _ := image.ParseRef(id)
	t := scheduler.Task{Node: image.Node{ID: ref.String(), Ref: ref}, Status: status}
	if end > 0 {
		t.Start, t.End = t0.Add(start), t0.Add(end)
	}
	return t
}

func sampleResult(runID string, started time.Time) *run.Result {
	a := task("org/base", scheduler.Succeeded, 0, 2*time.Second)
	a.Outcome = &build.Outcome{
		Node:     "org/base:latest",
		Built:    true,
		Images:   []string{"org/base:latest"},
		Pushed:   []string{"org/base:latest"},
		Attempts: 1,
		Stderr:   "#5 DONE 1.0s",
		Layers:   []build.LayerEvent{{Instruction: "RUN", Cached: true}},
		Actions:  []build.Action{{Kind: build.ActionBuild, Ref: "org/base:latest", Attempts: 1, Duration: time.Second}},
	}

	b := task("org/app", scheduler.Failed, 2*time.Second, 3*time.Second)
	b.Err = &build.PushError{Node: "org/app:latest", Ref: "org/app:latest", ExitCode: 1, Err: errors.New("denied")}
	b.Outcome = &build.Outcome{Node: "org/app:latest", Built: true, ExitCode: 1, Stderr: "unauthorized"}

	c := task("org/app-debug", scheduler.Skipped, 0, 0)
	c.SkippedBy = "org/app:latest"
	c.Cause = scheduler.CauseAncestor

	return &run.Result{
		RunID:       runID,
		Started:     started,
		Finished:    started.Add(3 * time.Second),
		Concurrency: 2,
		Tasks:       []scheduler.Task{a, b, c},
		Success:     false,
	}
}

func TestFromResult(t *testing.T) {
	r := FromResult(sampleResult("run-1", t0))

	if r.DurationMS != 3000 || r.Success || r.Error == "" {
		t.Errorf("report header = %+v", r)
	}
	want := []Node{
		{
			ID: "org/base:latest", Status: "succeeded", DurationMS: 2000, Attempts: 1,
			Images: []string{"org/base:latest"}, Pushed: []string{"org/base:latest"}, CachedLayers: 1,
			Actions: []build.Action{{Kind: build.ActionBuild, Ref: "org/base:latest", Attempts: 1, Duration: time.Second}},
			Output:  "#5 DONE 1.0s",
		},
		{
			ID: "org/app:latest", Status: "failed", DurationMS: 1000, ExitCode: 1,
			Error: "push org/app:latest failed (exit 1): denied", ErrorType: "PushError",
			Output: "unauthorized",
		},
		{
			ID: "org/app-debug:latest", Status: "skipped", SkippedBy: "org/app:latest", Cause: scheduler.CauseAncestor,
		},
	}
	if diff := cmp.Diff(want, r.Nodes); diff != "" {
		t.Errorf("nodes (-want +got):\n%s", diff)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := FromResult(sampleResult("run-1", t0)).Write(&buf, FormatJSON); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v\n%s", err, buf.String())
	}
	if decoded["run_id"] != "run-1" || decoded["success"] != false {
		t.Errorf("decoded = %v", decoded)
	}
	if strings.Contains(buf.String(), "unauthorized") {
		t.Error("captured output leaked into the json report")
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := FromResult(sampleResult("run-1", t0)).Write(&buf, FormatYAML); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"run_id: run-1", "status: skipped", "skipped_by: org/app:latest"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("yaml missing %q:\n%s", want, buf.String())
		}
	}
}

func TestWriteJUnit(t *testing.T) {
	var buf bytes.Buffer
	if err := FromResult(sampleResult("run-1", t0)).Write(&buf, FormatJUnit); err != nil {
		t.Fatal(err)
	}

	var suites JUnitTestSuites
	if err := xml.Unmarshal(buf.Bytes(), &suites); err != nil {
		t.Fatalf("invalid xml: %v", err)
	}
	if suites.Tests != 3 || suites.Failures != 1 || suites.Skipped != 1 {
		t.Errorf("suites = %+v", suites)
	}
	cases := suites.Suites[0].Cases
	if cases[1].Failure == nil || cases[1].Failure.Type != "PushError" || cases[1].Failure.Body != "unauthorized" {
		t.Errorf("failure case = %+v", cases[1])
	}
	if cases[2].Skipped == nil || !strings.Contains(cases[2].Skipped.Message, "org/app:latest") {
		t.Errorf("skipped case = %+v", cases[2])
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	r := FromResult(sampleResult("run-1", t0))

	for _, name := range []string{"out/report.json", "report.yml", "junit.xml"} {
		path := filepath.Join(dir, name)
		if err := r.WriteFile(path); err != nil {
			t.Fatalf("WriteFile(%s): %v", name, err)
		}
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			t.Errorf("%s not written", name)
		}
	}
	if err := r.WriteFile(filepath.Join(dir, "report.txt")); err == nil {
		t.Error("unknown extension accepted")
	}
	if err := r.Write(&bytes.Buffer{}, "csv"); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestHistory(t *testing.T) {
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	older := FromResult(sampleResult("run-1", t0))
	newer := FromResult(sampleResult("run-2", t0.Add(time.Hour)))
	newer.Success = true
	for _, r := range []*Report{older, newer, older} {
		if err := h.Save(r); err != nil {
			t.Fatalf("Save(%s): %v", r.RunID, err)
		}
	}

	runs, err := h.List(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-2" || runs[1].RunID != "run-1" {
		t.Fatalf("List = %+v", runs)
	}
	if !runs[0].Success || runs[1].Failed != 1 || runs[1].Skipped != 1 || runs[1].Images != 3 {
		t.Errorf("summaries = %+v", runs)
	}
	if runs[1].Duration != 3*time.Second {
		t.Errorf("duration = %s", runs[1].Duration)
	}

	limited, err := h.List(1)
	if err != nil || len(limited) != 1 {
		t.Errorf("List(1) = %v, %v", limited, err)
	}

	got, err := h.Get("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Nodes) != 3 || got.Nodes[1].ErrorType != "PushError" {
		t.Errorf("Get = %+v", got)
	}
	if _, err := h.Get("missing"); err == nil {
		t.Error("Get(missing) succeeded")
	}

	statuses, err := h.NodeHistory("org/app:latest", 5)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"failed", "failed"}, statuses); diff != "" {
		t.Errorf("NodeHistory (-want +got):\n%s", diff)
	}
}
