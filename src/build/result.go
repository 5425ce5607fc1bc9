package build

import "time"

// ActionKind names one external operation performed for a node.
type ActionKind string

const (
	ActionBuild ActionKind = "build"
	ActionTest  ActionKind = "test"
	ActionTag   ActionKind = "tag"
	ActionPush  ActionKind = "push"
)

// Action is one timed external operation.
type Action struct {
	Kind     ActionKind    `json:"kind" yaml:"kind"`
	Ref      string        `json:"ref,omitempty" yaml:"ref,omitempty"`
	Attempts int           `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Outcome captures what the executor did for one node. It is returned for
// failures too, so callers can report partial progress.
type Outcome struct {
	Node     string        `json:"node" yaml:"node"`
	Built    bool          `json:"built" yaml:"built"`
	Images   []string      `json:"images,omitempty" yaml:"images,omitempty"` // references present locally
	Pushed   []string      `json:"pushed,omitempty" yaml:"pushed,omitempty"`
	Actions  []Action      `json:"actions,omitempty" yaml:"actions,omitempty"`
	Layers   []LayerEvent  `json:"layers,omitempty" yaml:"layers,omitempty"`
	Stdout   string        `json:"-" yaml:"-"`
	Stderr   string        `json:"-" yaml:"-"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Attempts is set by the caller when it retries whole executions.
	Attempts int `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// Output returns the captured build output, stdout first.
func (o *Outcome) Output() string {
	if o == nil {
		return ""
	}
	switch {
	case o.Stdout == "":
		return o.Stderr
	case o.Stderr == "":
		return o.Stdout
	default:
		return o.Stdout + "\n" + o.Stderr
	}
}

// CachedLayers counts layers served from the build cache.
func (o *Outcome) CachedLayers() int {
	n := 0
	for _, l := range o.Layers {
		if l.Cached {
			n++
		}
	}
	return n
}
