package output

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sofmeright/treebuild/src/lint"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// UseColor returns true if colored output should be used.
// Respects NO_COLOR env, TERM=dumb, and terminal detection.
func UseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTerminal() || IsCI()
}

func colorize(text, color string, enabled bool) string {
	if !enabled {
		return text
	}
	return color + text + colorReset
}

// FindingsSummaryLine returns a one-line findings summary, optionally colored.
func FindingsSummaryLine(findings []lint.Finding, images int, color bool) string {
	var critical, warning, info int
	for _, f := range findings {
		switch f.Severity {
		case lint.SeverityCritical:
			critical++
		case lint.SeverityWarning:
			warning++
		default:
			info++
		}
	}

	parts := []string{}
	if critical > 0 {
		parts = append(parts, colorize(fmt.Sprintf("%d critical", critical), colorRed, color))
	}
	if warning > 0 {
		parts = append(parts, colorize(fmt.Sprintf("%d warning", warning), colorYellow, color))
	}
	if info > 0 {
		parts = append(parts, fmt.Sprintf("%d info", info))
	}

	summary := "no findings"
	if len(parts) > 0 {
		summary = strings.Join(parts, ", ")
	}
	total := colorize(fmt.Sprintf("%d", len(findings)), colorBold, color)
	return fmt.Sprintf("%s findings in %d images: %s", total, images, summary)
}

// severityTag returns a short severity label, optionally colored.
func severityTag(s lint.Severity, color bool) string {
	switch s {
	case lint.SeverityCritical:
		return colorize("CRIT", colorRed, color)
	case lint.SeverityWarning:
		return colorize("WARN", colorYellow, color)
	case lint.SeverityInfo:
		return colorize("INFO", colorGray, color)
	default:
		return s.String()
	}
}

// SectionFindings renders findings grouped by image inside a section.
func SectionFindings(sec *Section, findings []lint.Finding, color bool) {
	if len(findings) == 0 {
		return
	}

	byNode := map[string][]lint.Finding{}
	for _, f := range findings {
		byNode[f.Node] = append(byNode[f.Node], f)
	}

	nodes := make([]string, 0, len(byNode))
	for n := range byNode {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	sec.Row("")
	for _, n := range nodes {
		sec.Row("%s", colorize(n, colorBold, color))
		for _, f := range byNode[n] {
			loc := "-"
			if f.File != "" {
				loc = f.File
				if f.Line > 0 {
					loc = fmt.Sprintf("%s:%d", f.File, f.Line)
				}
			}
			sec.Row("  %-4s  %-12s %s", severityTag(f.Severity, color), f.Module, f.Message)
			sec.Row("        %s", Dimmed(loc, color))
		}
		sec.Row("")
	}
}
