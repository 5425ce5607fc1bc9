package modules

import (
	"context"
	"fmt"

	"github.com/sofmeright/treebuild/src/build"
	"github.com/sofmeright/treebuild/src/image"
	"github.com/sofmeright/treebuild/src/lint"
)

func init() {
	lint.Register("dockerfile", func() lint.Module { return &dockerfileModule{} })
}

// dockerfileModule checks that the Dockerfile exists and that a child image
// actually builds on its declared parent.
type dockerfileModule struct{}

func (m *dockerfileModule) Name() string { return "dockerfile" }

func (m *dockerfileModule) Check(_ context.Context, t lint.Target) ([]lint.Finding, error) {
	path := build.DockerfilePath(t.Node)
	if t.Dockerfile == nil {
		msg := "Dockerfile not found"
		if t.ReadErr != nil {
			msg = fmt.Sprintf("cannot read Dockerfile: %v", t.ReadErr)
		}
		return []lint.Finding{{File: path, Severity: lint.SeverityCritical, Message: msg}}, nil
	}

	df := t.Dockerfile
	if len(df.Stages) == 0 {
		return []lint.Finding{{File: path, Line: 1, Severity: lint.SeverityCritical, Message: "Dockerfile has no FROM instruction"}}, nil
	}

	if !t.Node.HasParent() {
		return nil, nil
	}
	parent, _ := image.ParseRef(t.Node.Parent)
	if df.References(parent, t.BaseArg) {
		return nil, nil
	}
	return []lint.Finding{{
		File:     path,
		Line:     df.Stages[0].Line,
		Severity: lint.SeverityWarning,
		Message:  fmt.Sprintf("no FROM uses parent %s (directly or via ARG %s)", t.Node.Parent, t.BaseArg),
	}}, nil
}
