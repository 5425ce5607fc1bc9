package build

import (
	"fmt"
	"sort"
	"sync"
)

// Engine turns build steps into external tool invocations. Engines that
// tag or push as part of the build itself return ok=false from the
// corresponding methods.
type Engine interface {
	Name() string
	BuildCommand(step Step) Command
	TagCommand(src, dst string) (cmd Command, ok bool)
	PushCommand(ref string) (cmd Command, ok bool)
	RemoveCommand(refs []string) (cmd Command, ok bool)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Engine{}
)

// Register adds an engine constructor to the global registry.
// Called from init() in each engine package.
func Register(name string, constructor func() Engine) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("build: duplicate engine registration: %s", name))
	}
	registry[name] = constructor
}

// Get returns a new instance of the named engine.
func Get(name string) (Engine, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("build: unknown engine: %s (registered: %v)", name, allLocked())
	}
	return ctor(), nil
}

// All returns sorted names of all registered engines.
func All() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return allLocked()
}

func allLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
