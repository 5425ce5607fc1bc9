package lint

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/sofmeright/treebuild/src/build"
	"github.com/sofmeright/treebuild/src/image"
)

// Engine runs lint modules over image nodes before anything is built.
type Engine struct {
	Modules []Module
	BaseArg string
}

// NewEngine creates an engine with every registered module except those in
// skip.
func NewEngine(baseArg string, skip []string) (*Engine, error) {
	skipSet := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipSet[name] = true
	}

	var modules []Module
	for _, name := range All() {
		if skipSet[name] {
			continue
		}
		m, err := Get(name)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	if len(modules) == 0 {
		return nil, errors.New("no lint modules selected")
	}
	return &Engine{Modules: modules, BaseArg: baseArg}, nil
}

// ModuleNames returns the names of all active modules in this engine.
func (e *Engine) ModuleNames() []string {
	names := make([]string, len(e.Modules))
	for i, m := range e.Modules {
		names[i] = m.Name()
	}
	return names
}

// Run checks every node with every module, in parallel, and returns the
// findings sorted by node, module and line.
func (e *Engine) Run(ctx context.Context, nodes []image.Node) ([]Finding, error) {
	sem := semaphore.NewWeighted(int64(runtime.NumCPU()))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		findings []Finding
		errs     []error
	)

	for _, n := range nodes {
		t := Target{Node: n, BaseArg: e.BaseArg}
		t.Dockerfile, t.ReadErr = build.ParseDockerfile(build.DockerfilePath(n))

		for _, m := range e.Modules {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return findings, err
			}
			wg.Add(1)
			go func(m Module, t Target) {
				defer wg.Done()
				defer sem.Release(1)

				results, err := m.Check(ctx, t)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %s: %w", m.Name(), t.Node.ID, err))
					return
				}
				for i := range results {
					results[i].Node = t.Node.ID
					results[i].Module = m.Name()
				}
				findings = append(findings, results...)
			}(m, t)
		}
	}
	wg.Wait()

	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Node != b.Node {
			return a.Node < b.Node
		}
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		return a.Line < b.Line
	})

	if len(errs) > 0 {
		return findings, fmt.Errorf("%d module errors (first: %w)", len(errs), errs[0])
	}
	return findings, nil
}
