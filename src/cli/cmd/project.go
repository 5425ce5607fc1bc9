package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/sofmeright/treebuild/src/config"
	"github.com/sofmeright/treebuild/src/gitver"
	"github.com/sofmeright/treebuild/src/graph"
	"github.com/sofmeright/treebuild/src/image"
	"github.com/sofmeright/treebuild/src/source"
)

// project is a loaded configuration resolved into a validated graph.
type project struct {
	cfg      *config.Config
	version  *gitver.VersionInfo
	graph    *graph.Graph
	warnings []string
}

// loadProject reads the config, resolves tag templates against git
// metadata of the config directory, and builds the dependency graph.
// adjust, when set, may change run settings before they are validated.
// Git build contexts are cloned through sources; a nil sources leaves them
// unresolved, which is enough for commands that only inspect the graph.
func loadProject(ctx context.Context, now time.Time, adjust func(*config.Config) error, sources *source.Fetcher) (*project, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if adjust != nil {
		if err := adjust(cfg); err != nil {
			return nil, err
		}
	}
	warnings, err := config.Validate(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	vi, err := gitver.DetectVersion(cfg.Dir, now)
	if err != nil {
		log.Debug().Err(err).Msg("no git metadata, using dev version")
		vi = gitver.DevVersion(now)
	}

	opts := image.FromConfig(cfg)
	opts.ResolveTag = func(tmpl string) string { return gitver.ResolveTemplate(tmpl, vi) }
	if sources != nil {
		opts.Checkout = func(g config.GitSource) (string, error) { return sources.Checkout(ctx, g) }
	}
	if cfg.Build.DateTags {
		opts.ExtraTags = func(tag string) []string { return []string{gitver.DateTag(tag, now)} }
	}

	nodes, err := image.Parse(cfg.Images, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid image definitions:\n%w", err)
	}
	g, err := graph.Build(nodes)
	if err != nil {
		return nil, fmt.Errorf("invalid image graph:\n%w", err)
	}

	return &project{cfg: cfg, version: vi, graph: g, warnings: warnings}, nil
}
