package engines

import (
	"sort"
	"strings"

	"github.com/sofmeright/treebuild/src/build"
)

func init() {
	build.Register("docker", func() build.Engine { return &dockerEngine{binary: "docker"} })
}

// dockerEngine builds with docker buildx into the local daemon, then tags
// and pushes with the docker CLI.
type dockerEngine struct {
	binary string
}

func (e *dockerEngine) Name() string { return "docker" }

func (e *dockerEngine) BuildCommand(step build.Step) build.Command {
	args := []string{"buildx", "build", "--progress=plain", "--load", "--tag", step.Node}

	if step.Dockerfile != "" {
		args = append(args, "--file", step.Dockerfile)
	}
	if step.Target != "" {
		args = append(args, "--target", step.Target)
	}
	if len(step.Platforms) > 0 {
		args = append(args, "--platform", strings.Join(step.Platforms, ","))
	}
	for _, kv := range sortedArgs(step.BuildArgs) {
		args = append(args, "--build-arg", kv)
	}

	context := step.Context
	if context == "" {
		context = "."
	}
	args = append(args, context)

	return build.Command{Name: e.binary, Args: args}
}

func (e *dockerEngine) TagCommand(src, dst string) (build.Command, bool) {
	return build.Command{Name: e.binary, Args: []string{"tag", src, dst}}, true
}

func (e *dockerEngine) PushCommand(ref string) (build.Command, bool) {
	return build.Command{Name: e.binary, Args: []string{"push", ref}}, true
}

func (e *dockerEngine) RemoveCommand(refs []string) (build.Command, bool) {
	args := append([]string{"image", "rm", "--force"}, refs...)
	return build.Command{Name: e.binary, Args: args}, true
}

// sortedArgs renders build args as KEY=VALUE in key order so commands are
// reproducible.
func sortedArgs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}
