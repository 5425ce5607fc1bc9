package config

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ImageConfig is one raw image definition as written in the config file.
// Structural validation (required fields, parent references) happens when
// the definitions are parsed into image nodes.
type ImageConfig struct {
	// Name is the unique image identifier: repository[:tag]. A missing tag
	// means "latest".
	Name string `yaml:"name" toml:"name" validate:"required"`

	// Context is the build context directory, relative to the config file.
	// For git-sourced images it is relative to the repository root and
	// defaults to ".".
	Context string `yaml:"context" toml:"context" validate:"required_without=Git"`

	// Git takes the build context from a repository instead of the local tree.
	Git *GitSource `yaml:"git,omitempty" toml:"git"`

	// Dockerfile is the path to the Dockerfile, relative to Context.
	Dockerfile string `yaml:"dockerfile,omitempty" toml:"dockerfile"`

	// Target is the --target stage name for multi-stage builds.
	Target string `yaml:"target,omitempty" toml:"target"`

	// Parent names the in-graph base image. From is an alias.
	Parent string `yaml:"parent,omitempty" toml:"parent"`
	From   string `yaml:"from,omitempty" toml:"from"`

	// Tags are extra tags applied after a successful build. Supports templates.
	Tags []string `yaml:"tags,omitempty" toml:"tags" validate:"dive,required"`

	// BuildArgs are passed as --build-arg. Supports ${VAR} expansion.
	BuildArgs map[string]string `yaml:"build_args,omitempty" toml:"build_args"`

	// Push overrides build.push for this image.
	Push *bool `yaml:"push,omitempty" toml:"push"`

	// Platforms overrides build.platforms for this image.
	Platforms []string `yaml:"platforms,omitempty" toml:"platforms"`

	// Test is run on the host after a successful build, before any tag is
	// applied. A non-zero exit fails the image.
	Test []string `yaml:"test,omitempty" toml:"test" validate:"omitempty,dive,required"`
}

// GitSource is a repository checked out as a build context.
type GitSource struct {
	URL string `yaml:"url" toml:"url" validate:"required"`
	// Branch is checked out after cloning. Empty keeps the default branch.
	Branch string `yaml:"branch,omitempty" toml:"branch"`
	// Fallback is the branch Branch is created from when the repository
	// does not have it yet.
	Fallback string `yaml:"fallback_branch,omitempty" toml:"fallback_branch"`
}

// ParentRef returns the parent reference, whichever of parent/from is set.
func (ic ImageConfig) ParentRef() string {
	if ic.Parent != "" {
		return ic.Parent
	}
	return ic.From
}

// imageKeys are the accepted keys of an image entry.
var imageKeys = map[string]bool{
	"name":       true,
	"context":    true,
	"dockerfile": true,
	"target":     true,
	"parent":     true,
	"from":       true,
	"tags":       true,
	"build_args": true,
	"push":       true,
	"platforms":  true,
	"git":        true,
	"test":       true,
}

// ImageList is the ordered list of image definitions.
type ImageList []ImageConfig

// UnmarshalYAML accepts both a sequence of entries and a mapping keyed by
// image name, preserving document order in either case:
//
//	images:
//	  - name: org/base
//	    context: base
//
//	images:
//	  org/base:
//	    context: base
func (l *ImageList) UnmarshalYAML(value *yaml.Node) error {
	var out ImageList

	switch value.Kind {
	case yaml.SequenceNode:
		for i, item := range value.Content {
			ic, err := decodeImage(item, "")
			if err != nil {
				return fmt.Errorf("images[%d]: %w", i, err)
			}
			out = append(out, ic)
		}

	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			key := value.Content[i].Value
			ic, err := decodeImage(value.Content[i+1], key)
			if err != nil {
				return fmt.Errorf("images.%s: %w", key, err)
			}
			out = append(out, ic)
		}

	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*l = nil
			return nil
		}
		return fmt.Errorf("images: expected list or mapping, got %q", value.Value)

	default:
		return fmt.Errorf("images: expected list or mapping, got YAML kind %d", value.Kind)
	}

	*l = out
	return nil
}

// decodeImage decodes one entry, rejecting unknown keys. node.Decode does
// not inherit the decoder's KnownFields setting, so keys are checked here.
func decodeImage(node *yaml.Node, name string) (ImageConfig, error) {
	var ic ImageConfig

	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		ic.Name = name
		return ic, nil
	}
	if node.Kind != yaml.MappingNode {
		return ic, fmt.Errorf("line %d: expected mapping", node.Line)
	}

	var unknown []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		k := node.Content[i].Value
		if !imageKeys[k] {
			unknown = append(unknown, fmt.Sprintf("%q (line %d)", k, node.Content[i].Line))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return ic, fmt.Errorf("unknown field(s) %s", strings.Join(unknown, ", "))
	}

	type imageAlias ImageConfig
	var alias imageAlias
	if err := node.Decode(&alias); err != nil {
		return ic, err
	}
	ic = ImageConfig(alias)

	if name != "" {
		if ic.Name != "" && ic.Name != name {
			return ic, fmt.Errorf("name %q does not match key %q", ic.Name, name)
		}
		ic.Name = name
	}
	return ic, nil
}
