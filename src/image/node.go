// Package image is the typed model of one buildable image and the parser
// that turns raw configuration into validated nodes.
package image

// External is the parent value of a node whose base image is not built in
// this graph (a root).
const External = ""

// Node is one validated, immutable image definition.
type Node struct {
	// ID is the unique identifier, "repository:tag".
	ID  string
	Ref Ref

	// Index is the position in the configuration, used as a deterministic
	// tie-break wherever order matters.
	Index int

	Context    string // absolute build context directory
	Source     string // repository URL of a git-sourced context, "" for local
	Dockerfile string // absolute Dockerfile path, "" = engine default
	Target     string

	// Parent is the ID of the in-graph base image, or External.
	Parent string

	// Tags are resolved extra tags applied after a successful build.
	Tags      []string
	BuildArgs map[string]string
	Push      bool
	Platforms []string

	// Test is the verification command run after the build, argv form.
	Test []string
}

// HasParent reports whether the node depends on another node in the graph.
func (n Node) HasParent() bool {
	return n.Parent != External
}

// References returns every reference the node is published under: its ID
// first, then one per extra tag, without duplicates.
func (n Node) References() []string {
	refs := []string{n.ID}
	seen := map[string]bool{n.ID: true}
	for _, t := range n.Tags {
		r := n.Ref.WithTag(t).String()
		if seen[r] {
			continue
		}
		seen[r] = true
		refs = append(refs, r)
	}
	return refs
}

func (n Node) String() string { return n.ID }
