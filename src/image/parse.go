package image

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sofmeright/treebuild/src/config"
)

// Options control how raw definitions become nodes.
type Options struct {
	// Dir resolves relative build contexts. Empty leaves them as written.
	Dir string

	// Push and Platforms are the defaults for images that do not set them.
	Push      bool
	Platforms []string

	// ResolveTag expands templates in extra tags. Nil keeps tags verbatim.
	ResolveTag func(string) string

	// Checkout materializes a git source and returns its local root. Nil
	// leaves git contexts unresolved, which is enough to inspect the graph.
	Checkout func(config.GitSource) (string, error)

	// ExtraTags derives additional tags (for example date tags) from each
	// applied tag: the node's own tag first, then every resolved extra tag.
	ExtraTags func(tag string) []string
}

// FromConfig derives parse options from a loaded configuration.
func FromConfig(cfg *config.Config) Options {
	return Options{
		Dir:       cfg.Dir,
		Push:      cfg.Build.Push,
		Platforms: cfg.Build.Platforms,
	}
}

// Parse turns raw definitions into nodes, in definition order. Every
// malformed entry is reported; the returned error joins one
// *DefinitionError per problem. Parent references are normalized but not
// checked for existence: that is the graph's job.
func Parse(defs config.ImageList, opts Options) ([]Node, error) {
	nodes := make([]Node, 0, len(defs))
	seen := make(map[string]int, len(defs))
	var errs []error

	for i, def := range defs {
		n, err := parseOne(i, def, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if first, dup := seen[n.ID]; dup {
			errs = append(errs, &DefinitionError{
				ID:     n.ID,
				Field:  "name",
				Reason: fmt.Sprintf("duplicate identifier (images[%d] and images[%d])", first, i),
			})
			continue
		}
		seen[n.ID] = i
		nodes = append(nodes, n)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nodes, nil
}

func parseOne(i int, def config.ImageConfig, opts Options) (Node, error) {
	label := def.Name
	if label == "" {
		label = fmt.Sprintf("images[%d]", i)
	}

	if err := config.ValidateImage(def); err != nil {
		field, msg := config.FirstFieldError(err)
		return Node{}, &DefinitionError{ID: label, Field: field, Reason: msg}
	}

	ref, err := ParseRef(def.Name)
	if err != nil {
		return Node{}, &DefinitionError{ID: label, Field: "name", Reason: err.Error()}
	}
	id := ref.String()

	if def.Parent != "" && def.From != "" && NormalizeID(def.Parent) != NormalizeID(def.From) {
		return Node{}, &DefinitionError{
			ID:     id,
			Field:  "parent",
			Reason: fmt.Sprintf("parent %q and from %q disagree", def.Parent, def.From),
		}
	}

	parent := External
	if p := def.ParentRef(); p != "" {
		pref, err := ParseRef(p)
		if err != nil {
			return Node{}, &DefinitionError{ID: id, Field: "parent", Reason: err.Error()}
		}
		parent = pref.String()
		if parent == id {
			return Node{}, &DefinitionError{ID: id, Field: "parent", Reason: "image cannot be its own parent"}
		}
	}

	tags, err := resolveTags(ref, def.Tags, opts)
	if err != nil {
		return Node{}, &DefinitionError{ID: id, Field: "tags", Reason: err.Error()}
	}

	ctx, source, err := contextDir(def, opts)
	if err != nil {
		return Node{}, &DefinitionError{ID: id, Field: "git", Reason: err.Error()}
	}

	dockerfile := ""
	if def.Dockerfile != "" {
		dockerfile = def.Dockerfile
		if !filepath.IsAbs(dockerfile) {
			dockerfile = filepath.Join(ctx, dockerfile)
		}
	}

	push := opts.Push
	if def.Push != nil {
		push = *def.Push
	}
	platforms := opts.Platforms
	if len(def.Platforms) > 0 {
		platforms = def.Platforms
	}

	return Node{
		ID:         id,
		Ref:        ref,
		Index:      i,
		Context:    ctx,
		Dockerfile: dockerfile,
		Target:     def.Target,
		Parent:     parent,
		Tags:       tags,
		BuildArgs:  copyArgs(def.BuildArgs),
		Push:       push,
		Platforms:  append([]string(nil), platforms...),
		Source:     source,
		Test:       append([]string(nil), def.Test...),
	}, nil
}

// contextDir resolves the build context of def. Local contexts are
// relative to the config directory, git contexts to the checkout root.
func contextDir(def config.ImageConfig, opts Options) (dir, source string, err error) {
	if def.Git == nil {
		dir = def.Context
		if opts.Dir != "" && !filepath.IsAbs(dir) {
			dir = filepath.Join(opts.Dir, dir)
		}
		return filepath.Clean(dir), "", nil
	}

	source = def.Git.URL
	if def.Git.Branch != "" {
		source += "#" + def.Git.Branch
	}
	sub := def.Context
	if sub == "" {
		sub = "."
	}
	if filepath.IsAbs(sub) {
		return "", "", fmt.Errorf("context %q must be relative to the repository", sub)
	}
	if opts.Checkout == nil {
		return filepath.Clean(sub), source, nil
	}
	root, err := opts.Checkout(*def.Git)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(root, sub), source, nil
}

// resolveTags expands templates, drops duplicates and the node's own tag,
// and validates what is left.
func resolveTags(ref Ref, raw []string, opts Options) ([]string, error) {
	var candidates []string
	for _, t := range raw {
		if opts.ResolveTag != nil {
			t = opts.ResolveTag(t)
		}
		candidates = append(candidates, t)
	}
	if opts.ExtraTags != nil {
		applied := append([]string{ref.Tag}, candidates...)
		for _, t := range applied {
			if t != "" {
				candidates = append(candidates, opts.ExtraTags(t)...)
			}
		}
	}

	seen := map[string]bool{ref.Tag: true}
	var out []string
	for _, t := range candidates {
		if t == "" || seen[t] {
			continue
		}
		if err := ValidateTag(t); err != nil {
			return nil, err
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

func copyArgs(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
