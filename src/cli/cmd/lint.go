package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sofmeright/treebuild/src/image"
	"github.com/sofmeright/treebuild/src/lint"
	_ "github.com/sofmeright/treebuild/src/lint/modules"
	"github.com/sofmeright/treebuild/src/output"
	"github.com/sofmeright/treebuild/src/source"
)

var lintSkipModules []string

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Check image definitions and Dockerfiles before building",
	Long: `Run the pre-build checks that "treebuild build" runs as a gate.

Checks that every Dockerfile exists and builds on its declared parent, that
build contexts have a .dockerignore covering sensitive files, and scans
build args and Dockerfiles for secrets. Critical findings exit non-zero.`,
	RunE: runLint,
}

func init() {
	lintCmd.Flags().StringSliceVar(&lintSkipModules, "skip-module", nil, "skip these modules (comma-separated)")
	rootCmd.AddCommand(lintCmd)
}

func runLint(cmd *cobra.Command, args []string) error {
	sources := source.NewFetcher("", log)
	defer closeSources(sources)

	p, err := loadProject(cmd.Context(), time.Now(), nil, sources)
	if err != nil {
		return err
	}
	return lintGate(cmd.Context(), os.Stdout, p.graph.Nodes(), p.cfg.Build.BaseArg, lintSkipModules, output.UseColor())
}

func closeSources(f *source.Fetcher) {
	if err := f.Close(); err != nil {
		log.Warn().Err(err).Msg("removing cloned sources")
	}
}

// errLintFailed is returned when critical findings block a build.
var errLintFailed = errors.New("lint found critical issues (use --skip-lint to build anyway)")

// lintGate runs every lint module over nodes, renders the findings and
// fails on critical ones.
func lintGate(ctx context.Context, w io.Writer, nodes []image.Node, baseArg string, skip []string, color bool) error {
	output.SectionStart(w, "tb_lint", "Lint")
	defer output.SectionEnd(w, "tb_lint")

	engine, err := lint.NewEngine(baseArg, skip)
	if err != nil {
		return err
	}

	start := time.Now()
	findings, err := engine.Run(ctx, nodes)
	if err != nil {
		return err
	}

	sec := output.NewSection(w, "Lint", time.Since(start), color)
	sec.Row("%-16s%v", "modules", engine.ModuleNames())
	output.SectionFindings(sec, findings, color)
	sec.Row("%s", output.FindingsSummaryLine(findings, len(nodes), color))
	sec.Close()

	if lint.HasCritical(findings) {
		return errLintFailed
	}
	return nil
}
