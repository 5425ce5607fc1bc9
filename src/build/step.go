package build

import (
	"github.com/sofmeright/treebuild/src/image"
)

// Step is a single build invocation for one node.
type Step struct {
	Node       string // node identifier, also the primary reference
	Dockerfile string // "" = engine default inside Context
	Context    string
	Target     string
	Platforms  []string
	BuildArgs  map[string]string
	Refs       []string // every reference the image is published under, primary first
	Push       bool
	Test       []string // verification command, argv form
}

// StepFor assembles the step for node n with fully resolved build args.
func StepFor(n image.Node, args map[string]string) Step {
	return Step{
		Node:       n.ID,
		Dockerfile: n.Dockerfile,
		Context:    n.Context,
		Target:     n.Target,
		Platforms:  n.Platforms,
		BuildArgs:  args,
		Refs:       n.References(),
		Push:       n.Push,
		Test:       n.Test,
	}
}

// TestCommand is the verification command of s, run in the build context
// with the built reference in TREEBUILD_IMAGE.
func (s Step) TestCommand() (Command, bool) {
	if len(s.Test) == 0 {
		return Command{}, false
	}
	return Command{
		Name: s.Test[0],
		Args: s.Test[1:],
		Dir:  s.Context,
		Env:  []string{"TREEBUILD_IMAGE=" + s.Node},
	}, true
}
