package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = ".treebuild.yml"

// Config is the top-level treebuild configuration.
type Config struct {
	Version int           `yaml:"version" toml:"version"`
	EnvFile string        `yaml:"env_file,omitempty" toml:"env_file"`
	Build   BuildSettings `yaml:"build" toml:"build"`
	Images  ImageList     `yaml:"images" toml:"images"`

	// Dir is the directory the configuration was read from. Relative
	// build contexts and the env file resolve against it.
	Dir string `yaml:"-" toml:"-"`

	// Env holds the variables read from EnvFile.
	Env map[string]string `yaml:"-" toml:"-"`
}

// Load reads configuration from a YAML or TOML file, chosen by extension.
// If path is empty, it tries the default file. Unlike most tools a missing
// file is an error: there is nothing to build without image definitions.
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data, formatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Dir = filepath.Dir(abs)

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes raw configuration bytes. Unknown fields are rejected.
// The returned config has no Dir set and no env file applied, and it is
// not validated: callers apply run overrides first, then call Validate.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := defaults()

	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, fmt.Errorf("unknown field(s):\n%s", strict.String())
			}
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}

	return cfg, nil
}

// ResolvePath returns p relative to the configuration directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

func defaults() *Config {
	return &Config{
		Version: 1,
		Build:   DefaultBuildSettings(),
	}
}
