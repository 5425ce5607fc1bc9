package build

import "fmt"

// BuildError reports a failed build, test or local tag for one node. A panic
// inside the executor is reported as a BuildError with ExitCode -1.
type BuildError struct {
	Node     string
	Action   ActionKind
	ExitCode int
	Output   string
	Err      error
}

func (e *BuildError) Error() string {
	action := e.Action
	if action == "" {
		action = ActionBuild
	}
	return fmt.Sprintf("%s %s failed (exit %d): %v", action, e.Node, e.ExitCode, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// PushError reports a failed push. The image itself was built and tagged.
type PushError struct {
	Node     string
	Ref      string
	ExitCode int
	Output   string
	Err      error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push %s failed (exit %d): %v", e.Ref, e.ExitCode, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }
