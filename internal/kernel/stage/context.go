// Package stage implements the kernel's stage registry, context, and
// pipeline (spec C3/C4): a name→stage map with insertion-order iteration,
// a heterogeneous typed key/value context scoped to one execution, and a
// Kahn's-algorithm pipeline executor with deterministic tie-breaking.
//
// Grounded on containerd/plugin's Set/InitContext pattern (a registry
// keyed by string with a companion per-call context value) and the
// hashicorp/nomad dynamicplugins registry's deterministic-ordering tests.
package stage

import "sync"

// Context is handed to a stage's Execute. It carries the config directory,
// an immutable dry-run flag, and a heterogeneous store a stage can use to
// pass values to stages that run after it in the same pipeline.
type Context struct {
	configDir string
	dryRun    bool

	mu     sync.RWMutex
	values map[string]any
}

// NewContext creates a context for one pipeline execution. dryRun is fixed
// for the lifetime of the context, per spec §4.3.
func NewContext(configDir string, dryRun bool) *Context {
	return &Context{
		configDir: configDir,
		dryRun:    dryRun,
		values:    make(map[string]any),
	}
}

// ConfigDir returns the configuration directory stages should read/write
// under.
func (c *Context) ConfigDir() string { return c.configDir }

// DryRun reports whether the pipeline is executing in dry-run mode.
func (c *Context) DryRun() bool { return c.dryRun }

// Get returns the value stored under key and true, or the zero value and
// false if absent or if it was stored under a different type than T
// (a mismatched downcast reports "absent" rather than erroring, per
// spec §4.3).
func Get[T any](c *Context, key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero T
	raw, ok := c.values[key]
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores value under key, overwriting any previous value (regardless
// of its type).
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Mutate fetches the current value under key (or the zero value of T if
// absent or type-mismatched), runs fn against it, and stores the result —
// the context's equivalent of a "get-mut" accessor in a single locked step.
func Mutate[T any](c *Context, key string, fn func(current T) T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current T
	if raw, ok := c.values[key]; ok {
		if v, ok := raw.(T); ok {
			current = v
		}
	}
	c.values[key] = fn(current)
}
