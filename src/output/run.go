package output

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sofmeright/treebuild/src/build"
	"github.com/sofmeright/treebuild/src/graph"
	"github.com/sofmeright/treebuild/src/run"
	"github.com/sofmeright/treebuild/src/scheduler"
)

// Plan renders the build order: nodes in topological order, indented by
// depth, with the commands a dry run would execute when given.
func Plan(w io.Writer, g *graph.Graph, commands map[string][]build.Command, color bool) {
	sec := NewSection(w, "Plan", 0, color)
	for i, id := range g.TopoOrder() {
		n, _ := g.Node(id)
		indent := strings.Repeat("  ", g.Depth(id))
		detail := ""
		if g.Parent(id) == "" && n.HasParent() {
			detail = Dimmed(" (from "+n.Parent+")", color)
		}
		sec.Row("%3d  %s%s%s", i+1, indent, id, detail)
		for _, cmd := range commands[id] {
			sec.Row("     %s  %s", indent, Dimmed("$ "+cmd.String(), color))
		}
	}
	sec.Close()
}

// Progress prints one line per finished node. It is safe for concurrent
// use and is meant to be wired to the coordinator's report callback.
type Progress struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
	total int
	done  int
}

// NewProgress creates a progress printer for a run of total nodes.
func NewProgress(w io.Writer, total int, color bool) *Progress {
	return &Progress{w: w, total: total, color: color}
}

// Report prints the line for t.
func (p *Progress) Report(t scheduler.Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++

	detail := formatElapsed(t.Duration())
	switch t.Status {
	case scheduler.Failed:
		detail = firstLine(errString(t.Err))
	case scheduler.Skipped:
		detail = skipReason(t)
	}
	counter := fmt.Sprintf("[%d/%d]", p.done, p.total)
	fmt.Fprintf(p.w, "    %s %s %s  %s\n", Dimmed(counter, p.color), StatusIcon(string(t.Status), p.color), t.Node.ID, detail)
}

// RunSummary renders the final per-node table and the total line.
func RunSummary(w io.Writer, res *run.Result, color bool) {
	sec := NewSection(w, "Summary", res.Duration(), color)
	for _, t := range res.Tasks {
		var detail string
		switch t.Status {
		case scheduler.Succeeded:
			detail = formatElapsed(t.Duration())
			if out := run.Outcome(t); out != nil {
				if len(out.Pushed) > 0 {
					detail += fmt.Sprintf(", pushed %d", len(out.Pushed))
				}
				if cached := out.CachedLayers(); cached > 0 {
					detail += fmt.Sprintf(", %d cached layers", cached)
				}
				if out.Attempts > 1 {
					detail += fmt.Sprintf(", %d attempts", out.Attempts)
				}
			}
		case scheduler.Failed:
			detail = firstLine(errString(t.Err))
		case scheduler.Skipped:
			detail = skipReason(t)
		default:
			detail = string(t.Status)
		}
		sec.Row("%-36s %s  %s", t.Node.ID, StatusIcon(string(t.Status), color), detail)
	}
	sec.Separator()

	status := "success"
	if !res.Success {
		status = "failed"
	}
	sec.Row("%d succeeded, %d failed, %d skipped",
		res.Count(scheduler.Succeeded), res.Count(scheduler.Failed), res.Count(scheduler.Skipped))
	SummaryTotal(w, res.Duration(), status, color)
	sec.Close()
}

// Failures prints the captured output tail of every failed node.
func Failures(w io.Writer, res *run.Result, lines int, color bool) {
	for _, t := range res.ByStatus(scheduler.Failed) {
		sec := NewSection(w, "Failed: "+t.Node.ID, t.Duration(), color)
		sec.Row("%s", colorize(errString(t.Err), colorRed, color))
		if out := run.Outcome(t); out != nil {
			for _, l := range tailLines(out.Output(), lines) {
				sec.Row("%s", Dimmed(l, color))
			}
		}
		sec.Close()
	}
}

func skipReason(t scheduler.Task) string {
	if t.SkippedBy != "" {
		return "parent " + t.SkippedBy + " failed"
	}
	return t.Cause
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func tailLines(s string, n int) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
