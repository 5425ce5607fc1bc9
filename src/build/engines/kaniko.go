package engines

import (
	"strings"

	"github.com/sofmeright/treebuild/src/build"
)

func init() {
	build.Register("kaniko", func() build.Engine { return &kanikoEngine{binary: "/kaniko/executor"} })
}

// kanikoEngine builds without a daemon. Every reference is a --destination
// of the single build, so tagging and pushing happen inside it and there
// is no local image to remove.
type kanikoEngine struct {
	binary string
}

func (e *kanikoEngine) Name() string { return "kaniko" }

func (e *kanikoEngine) BuildCommand(step build.Step) build.Command {
	context := step.Context
	if context == "" {
		context = "."
	}
	args := []string{"--context", "dir://" + context}

	if step.Dockerfile != "" {
		args = append(args, "--dockerfile", step.Dockerfile)
	}
	if step.Target != "" {
		args = append(args, "--target", step.Target)
	}
	if len(step.Platforms) > 0 {
		args = append(args, "--custom-platform", strings.Join(step.Platforms, ","))
	}
	for _, kv := range sortedArgs(step.BuildArgs) {
		args = append(args, "--build-arg", kv)
	}
	for _, ref := range step.Refs {
		args = append(args, "--destination", ref)
	}
	if !step.Push {
		args = append(args, "--no-push")
	}

	return build.Command{Name: e.binary, Args: args}
}

func (e *kanikoEngine) TagCommand(string, string) (build.Command, bool) {
	return build.Command{}, false
}

func (e *kanikoEngine) PushCommand(string) (build.Command, bool) {
	return build.Command{}, false
}

func (e *kanikoEngine) RemoveCommand([]string) (build.Command, bool) {
	return build.Command{}, false
}
