package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/joho/godotenv"
)

// loadEnv reads EnvFile (if any) and expands ${VAR} references in build
// args and build env. Variables from the env file take precedence over
// the process environment.
func (c *Config) loadEnv() error {
	c.Env = map[string]string{}

	if c.EnvFile != "" {
		vars, err := godotenv.Read(c.ResolvePath(c.EnvFile))
		if err != nil {
			return fmt.Errorf("reading env_file %s: %w", c.EnvFile, err)
		}
		c.Env = vars
	}

	for i := range c.Images {
		for k, v := range c.Images[i].BuildArgs {
			c.Images[i].BuildArgs[k] = c.Expand(v)
		}
	}
	for k, v := range c.Build.Env {
		c.Build.Env[k] = c.Expand(v)
	}
	return nil
}

var varRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand replaces ${VAR} references in s. Unknown variables expand to "".
// A bare $ is literal, so "pa$$word" and "$HOME" pass through unchanged.
func (c *Config) Expand(s string) string {
	return varRef.ReplaceAllStringFunc(s, func(ref string) string {
		return c.lookup(ref[2 : len(ref)-1])
	})
}

func (c *Config) lookup(key string) string {
	if v, ok := c.Env[key]; ok {
		return v
	}
	return os.Getenv(key)
}

// EnvList returns the build env as sorted KEY=VALUE pairs.
func (b BuildSettings) EnvList() []string {
	keys := make([]string, 0, len(b.Env))
	for k := range b.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+b.Env[k])
	}
	return env
}
