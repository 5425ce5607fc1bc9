package config

import (
	"fmt"
	"time"
)

// BuildSettings holds run-wide settings for the build orchestrator.
type BuildSettings struct {
	// Engine selects the build tool. Supported: "docker", "kaniko".
	Engine string `yaml:"engine" toml:"engine" validate:"oneof=docker kaniko"`

	// Concurrency is the number of parallel build workers.
	Concurrency int `yaml:"concurrency" toml:"concurrency" validate:"gte=1"`

	// FailFast stops dispatching new builds after the first failure.
	// Builds already running are allowed to finish.
	FailFast bool `yaml:"fail_fast" toml:"fail_fast"`

	// Retries is how many times a failed node is re-executed before it is
	// marked failed. Zero disables retry.
	Retries int `yaml:"retries" toml:"retries" validate:"gte=0,lte=10"`

	// RetryBackoff is the initial delay between attempts; it doubles per attempt.
	RetryBackoff Duration `yaml:"retry_backoff" toml:"retry_backoff"`

	// Push is the default for images that do not set push themselves.
	Push bool `yaml:"push" toml:"push"`

	// PushConcurrency bounds simultaneous pushes across workers. Zero = unlimited.
	PushConcurrency int `yaml:"push_concurrency" toml:"push_concurrency" validate:"gte=0"`

	// DateTags also applies a <tag>_<mmddhh> history tag for every tag.
	DateTags bool `yaml:"date_tags" toml:"date_tags"`

	// RemoveAfter removes a node's local images once the node and all of
	// its descendants have finished.
	RemoveAfter bool `yaml:"remove_after" toml:"remove_after"`

	// BaseArg is the build arg that receives the parent image reference.
	// Empty disables injection.
	BaseArg string `yaml:"base_arg" toml:"base_arg"`

	// Env is passed explicitly to every build tool invocation
	// (e.g. DOCKER_HOST, DOCKER_CONFIG). Supports ${VAR} expansion.
	Env map[string]string `yaml:"env,omitempty" toml:"env"`

	// Platforms is the default platform list for images that set none.
	Platforms []string `yaml:"platforms,omitempty" toml:"platforms"`
}

// DefaultBuildSettings returns sensible defaults.
func DefaultBuildSettings() BuildSettings {
	return BuildSettings{
		Engine:       "docker",
		Concurrency:  1,
		RetryBackoff: Duration(2 * time.Second),
		BaseArg:      "BASE_IMAGE",
		Env:          map[string]string{},
	}
}

// Duration is a time.Duration that decodes from strings like "2s" in both
// YAML and TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	if v < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", string(text))
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
