package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sofmeright/treebuild/src/build"
	_ "github.com/sofmeright/treebuild/src/build/engines"
	"github.com/sofmeright/treebuild/src/config"
	"github.com/sofmeright/treebuild/src/graph"
	"github.com/sofmeright/treebuild/src/output"
	"github.com/sofmeright/treebuild/src/report"
	"github.com/sofmeright/treebuild/src/run"
	"github.com/sofmeright/treebuild/src/source"
)

var (
	buildSelect   []string
	buildReport   string
	buildHistory  string
	buildDryRun   bool
	buildSkipLint bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build every image in dependency order",
	Long: `Build all configured images. A parent is always fully built, tagged and
pushed before any of its children start. Independent images build in
parallel up to --concurrency.

A failed image marks everything built on top of it as skipped; unrelated
images keep building unless --fail-fast is set. The exit code is zero only
when every image succeeded.`,
	RunE: runBuild,
}

func init() {
	f := buildCmd.Flags()
	f.Int("concurrency", 1, "number of images built in parallel")
	f.Bool("fail-fast", false, "stop starting new builds after the first failure")
	f.Int("retries", 0, "extra attempts for a failed build")
	f.Bool("push", false, "push images that do not set push themselves")
	f.String("engine", "docker", "build engine: docker or kaniko")
	f.StringSliceVar(&buildSelect, "select", nil, "build only matching images and their descendants (name or regex, ! to exclude)")
	f.StringVar(&buildReport, "report", "", "write the run result to this file (.json, .yaml or .xml)")
	f.StringVar(&buildHistory, "history", "", "record the run in this SQLite database")
	f.BoolVar(&buildDryRun, "dry-run", false, "print the plan and commands without executing")
	f.BoolVar(&buildSkipLint, "skip-lint", false, "skip pre-build lint")

	bindFlags(buildCmd, "concurrency", "fail-fast", "retries", "push", "engine")
	rootCmd.AddCommand(buildCmd)
}

// applyBuildOverrides copies flag and environment overrides into the
// loaded build settings.
func applyBuildOverrides(cmd *cobra.Command) func(*config.Config) error {
	return func(cfg *config.Config) error {
		b := &cfg.Build
		if overridden(cmd, "concurrency") {
			b.Concurrency = settings.GetInt("concurrency")
		}
		if overridden(cmd, "fail-fast") {
			b.FailFast = settings.GetBool("fail-fast")
		}
		if overridden(cmd, "retries") {
			b.Retries = settings.GetInt("retries")
		}
		if overridden(cmd, "push") {
			b.Push = settings.GetBool("push")
		}
		if overridden(cmd, "engine") {
			b.Engine = settings.GetString("engine")
		}
		return nil
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	now := time.Now()
	color := output.UseColor()
	w := os.Stdout

	sources := source.NewFetcher("", log)
	defer closeSources(sources)

	p, err := loadProject(ctx, now, applyBuildOverrides(cmd), sources)
	if err != nil {
		return err
	}
	for _, warn := range p.warnings {
		log.Warn().Msg(warn)
	}
	g, err := p.graph.Select(buildSelect)
	if err != nil {
		return err
	}
	bs := p.cfg.Build

	kv := []output.KV{
		{Key: "Version", Value: p.version.Version},
		{Key: "Branch", Value: p.version.Branch},
		{Key: "Engine", Value: bs.Engine},
		{Key: "Workers", Value: fmt.Sprint(bs.Concurrency)},
		{Key: "Images", Value: fmt.Sprintf("%d of %d", g.Len(), p.graph.Len())},
		{Key: "Fail-fast", Value: fmt.Sprint(bs.FailFast)},
	}
	output.ContextBlock(w, append(kv, output.CIContext()...))

	if !buildSkipLint {
		if err := lintGate(ctx, w, g.Nodes(), bs.BaseArg, nil, color); err != nil {
			return err
		}
	}

	engine, err := build.Get(bs.Engine)
	if err != nil {
		return err
	}
	argOpts := build.ArgOptions{BaseArg: bs.BaseArg, Version: p.version, Now: now}

	var runner build.Runner
	var dry *build.DryRunner
	if buildDryRun {
		dry = &build.DryRunner{}
		runner = dry
	} else {
		er := &build.ExecRunner{}
		if verbose {
			er.Stream = os.Stderr
		}
		runner = er
	}

	executor, err := build.NewExecutor(build.Options{
		Engine:          engine,
		Runner:          runner,
		Dir:             p.cfg.Dir,
		Env:             bs.EnvList(),
		PushRetries:     bs.Retries,
		PushBackoff:     bs.RetryBackoff.Std(),
		PushConcurrency: bs.PushConcurrency,
		Logger:          log,
	})
	if err != nil {
		return err
	}

	if buildDryRun {
		return dryRun(ctx, w, g, executor, dry, argOpts, color)
	}

	output.Plan(w, g, nil, color)

	output.SectionStart(w, "tb_build", "Build")
	progress := output.NewProgress(w, g.Len(), color)
	coord, err := run.New(g, executor, run.Options{
		Concurrency:  bs.Concurrency,
		FailFast:     bs.FailFast,
		Retries:      bs.Retries,
		RetryBackoff: bs.RetryBackoff.Std(),
		RemoveAfter:  bs.RemoveAfter,
		Args:         argOpts,
		OnReport:     progress.Report,
		Logger:       log,
	})
	if err != nil {
		output.SectionEnd(w, "tb_build")
		return err
	}
	res, runErr := coord.Run(ctx)
	output.SectionEnd(w, "tb_build")
	if res == nil {
		return runErr
	}

	output.RunSummary(w, res, color)
	output.Failures(w, res, 20, color)

	if err := saveResult(res); err != nil {
		return errors.Join(err, runErr, res.Err())
	}
	if runErr != nil {
		return runErr
	}
	return res.Err()
}

// dryRun executes the plan against a recording runner and prints each
// node's commands in build order.
func dryRun(ctx context.Context, w io.Writer, g *graph.Graph, executor *build.Executor, dry *build.DryRunner, argOpts build.ArgOptions, color bool) error {
	commands := make(map[string][]build.Command, g.Len())
	seen := 0
	for _, id := range g.TopoOrder() {
		n, _ := g.Node(id)
		if _, err := executor.Execute(ctx, n, build.ResolveArgs(n, argOpts)); err != nil {
			return err
		}
		all := dry.Commands()
		commands[id] = all[seen:]
		seen = len(all)
	}
	output.Plan(w, g, commands, color)
	return nil
}

// saveResult writes the report file and the history record, when asked.
func saveResult(res *run.Result) error {
	if buildReport == "" && buildHistory == "" {
		return nil
	}
	rep := report.FromResult(res)

	if buildReport != "" {
		if err := rep.WriteFile(buildReport); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		log.Info().Str("path", buildReport).Msg("report written")
	}

	if buildHistory != "" {
		h, err := report.OpenHistory(buildHistory)
		if err != nil {
			return err
		}
		defer h.Close()
		if err := h.Save(rep); err != nil {
			return fmt.Errorf("saving run history: %w", err)
		}
	}
	return nil
}
