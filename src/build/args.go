package build

import (
	"time"

	"github.com/sofmeright/treebuild/src/gitver"
	"github.com/sofmeright/treebuild/src/image"
)

// Build args injected when the Dockerfile declares them and the
// configuration leaves them unset.
const (
	ArgVersion   = "VERSION"
	ArgCommit    = "COMMIT"
	ArgBuildDate = "BUILD_DATE"
)

// ArgOptions control build arg injection.
type ArgOptions struct {
	// BaseArg receives the parent reference for nodes with a parent.
	// Empty disables the injection.
	BaseArg string

	// Version feeds VERSION and COMMIT. Nil disables them.
	Version *gitver.VersionInfo

	// Now stamps BUILD_DATE.
	Now time.Time
}

// ResolveArgs returns the complete build args of n: its configured args,
// the base image arg, and version args the Dockerfile asks for. Values the
// configuration sets always win.
func ResolveArgs(n image.Node, opts ArgOptions) map[string]string {
	args := make(map[string]string, len(n.BuildArgs)+4)
	for k, v := range n.BuildArgs {
		args[k] = v
	}
	setDefault := func(k, v string) {
		if _, ok := args[k]; !ok {
			args[k] = v
		}
	}

	if n.HasParent() && opts.BaseArg != "" {
		setDefault(opts.BaseArg, n.Parent)
	}

	if opts.Version == nil {
		return args
	}
	df, err := ParseDockerfile(DockerfilePath(n))
	if err != nil {
		return args
	}
	if df.Declares(ArgVersion) {
		setDefault(ArgVersion, opts.Version.Version)
	}
	if df.Declares(ArgCommit) {
		setDefault(ArgCommit, opts.Version.SHA)
	}
	if df.Declares(ArgBuildDate) {
		now := opts.Now
		if now.IsZero() {
			now = time.Now()
		}
		setDefault(ArgBuildDate, now.UTC().Format(time.RFC3339))
	}
	return args
}
