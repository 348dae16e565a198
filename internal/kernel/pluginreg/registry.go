// Package pluginreg is the plugin registry (spec C6): manifest storage,
// API-compatibility and dependency/conflict/incompatibility checking,
// deterministic topological init ordering, and persisted enable/disable
// state.
//
// Grounded on containerd/plugin's Set (register/get by name, type
// compatibility checks before acceptance) and hashicorp/nomad's
// dynamicplugins registry (dependency-aware ordering, aggregate shutdown
// errors), generalized to the kernel's richer manifest (SemVer ranges,
// conflicts, incompatibilities, priority categories).
package pluginreg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/blang/semver"

	"github.com/kiosk404/echoryn/internal/kernel/event"
	"github.com/kiosk404/echoryn/internal/kernel/kerrors"
	"github.com/kiosk404/echoryn/internal/kernel/klog"
	"github.com/kiosk404/echoryn/internal/kernel/pluginapi"
	"github.com/kiosk404/echoryn/internal/kernel/stage"
)

var log = klog.Module("pluginreg")

// EnableStore is the persistence seam the registry uses for enable/
// disable state (spec §4.6.5). The storage facade (C8) implements this;
// pluginreg never depends on its concrete type to avoid a package cycle.
type EnableStore interface {
	IsEnabled(name string) (bool, error) // true+no-error if never recorded (defaults enabled)
	SetEnabled(name string, enabled bool) error
}

type entry struct {
	plugin      pluginapi.Plugin
	manifest    pluginapi.Manifest
	enabled     bool
	initialized bool
}

// Registry is the plugin registry. Its single mutex guards all state per
// spec §5's "each protected by a single asynchronous mutex" rule.
type Registry struct {
	apiVersion semver.Version
	store      EnableStore
	dispatcher *event.Dispatcher

	mu      sync.Mutex
	order   []string // registration order
	byName  map[string]*entry
	initOrd []string // last computed initialization order
}

// New creates a registry validating plugins against apiVersion. store may
// be nil, in which case all plugins default to enabled and enable state
// is not persisted (useful for tests). dispatcher may be nil.
func New(apiVersion semver.Version, store EnableStore, dispatcher *event.Dispatcher) *Registry {
	return &Registry{
		apiVersion: apiVersion,
		store:      store,
		dispatcher: dispatcher,
		byName:     make(map[string]*entry),
	}
}

// Register ingests plugin into the registry (spec §4.6.1):
//  1. unique name,
//  2. API compatibility against apiVersion,
//  3. manifest recorded, enabled subject to the persisted store.
func (r *Registry) Register(p pluginapi.Plugin) error {
	m := p.Manifest()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[m.Name]; exists {
		return kerrors.New(kerrors.PluginSystem, kerrors.KindAlreadyExists, "Registry.Register", nil, "plugin", m.Name)
	}

	if !apiCompatible(m, r.apiVersion) {
		return kerrors.New(kerrors.PluginSystem, kerrors.KindIncompatible, "Registry.Register", nil,
			"plugin", m.Name, "kernel_api", r.apiVersion.String())
	}

	enabled := true
	if r.store != nil {
		e, err := r.store.IsEnabled(m.Name)
		if err == nil {
			enabled = e
		}
	}

	r.byName[m.Name] = &entry{plugin: p, manifest: m, enabled: enabled}
	r.order = append(r.order, m.Name)
	return nil
}

func apiCompatible(m pluginapi.Manifest, apiVersion semver.Version) bool {
	if len(m.CompatibleAPIRanges) == 0 {
		return true
	}
	for _, rng := range m.CompatibleAPIRanges {
		if rng(apiVersion) {
			return true
		}
	}
	return false
}

// PersistEnable marks name enabled, both in memory and (if a store is
// configured) persisted. A second call has the same observable state as
// the first (spec §8 idempotence).
func (r *Registry) PersistEnable(name string) error { return r.setEnabled(name, true) }

// PersistDisable marks name disabled.
func (r *Registry) PersistDisable(name string) error { return r.setEnabled(name, false) }

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	e, ok := r.byName[name]
	r.mu.Unlock()
	if !ok {
		return kerrors.New(kerrors.PluginSystem, kerrors.KindNotFound, "Registry.setEnabled", nil, "plugin", name)
	}

	if r.store != nil {
		if err := r.store.SetEnabled(name, enabled); err != nil {
			return kerrors.New(kerrors.PluginSystem, kerrors.KindIO, "Registry.setEnabled", err, "plugin", name)
		}
	}

	r.mu.Lock()
	e.enabled = enabled
	r.mu.Unlock()
	return nil
}

// Enabled reports whether name is currently enabled.
func (r *Registry) Enabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[name]
	return ok && e.enabled
}

// List returns every registered plugin's manifest plus enabled state, in
// registration order (for CLI "plugin list").
type ListEntry struct {
	Manifest pluginapi.Manifest
	Enabled  bool
}

func (r *Registry) List() []ListEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ListEntry, 0, len(r.order))
	for _, name := range r.order {
		e := r.byName[name]
		out = append(out, ListEntry{Manifest: e.manifest, Enabled: e.enabled})
	}
	return out
}

// CheckDependencies validates the dependency/conflict/incompatibility
// graph over the set of enabled plugins (spec §4.6.2). Returns the first
// fatal error encountered.
func (r *Registry) CheckDependencies() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkDependenciesLocked()
}

func (r *Registry) checkDependenciesLocked() error {
	enabled := make(map[string]*entry)
	for name, e := range r.byName {
		if e.enabled {
			enabled[name] = e
		}
	}

	for name, e := range enabled {
		for _, dep := range e.manifest.Dependencies {
			target, exists := enabled[dep.Name]
			if !exists {
				if dep.Required {
					return kerrors.New(kerrors.PluginSystem, kerrors.KindMissingDep, "Registry.CheckDependencies", nil,
						"from", name, "to", dep.Name, "reason", "not enabled or not registered")
				}
				continue
			}
			if !dep.Range(target.manifest.Version) {
				return kerrors.New(kerrors.PluginSystem, kerrors.KindMissingDep, "Registry.CheckDependencies", nil,
					"from", name, "to", dep.Name, "reason", "version out of range",
					"version", target.manifest.Version.String(), "range", dep.RawRange)
			}
		}

		for _, conflict := range e.manifest.ConflictsWith {
			if _, exists := enabled[conflict]; exists {
				return kerrors.New(kerrors.PluginSystem, kerrors.KindConflict, "Registry.CheckDependencies", nil,
					"a", name, "b", conflict)
			}
		}

		for _, in := range e.manifest.IncompatibleWith {
			target, exists := enabled[in.Name]
			if exists && in.Range(target.manifest.Version) {
				return kerrors.New(kerrors.PluginSystem, kerrors.KindIncompatible, "Registry.CheckDependencies", nil,
					"a", name, "b", in.Name, "range", in.RawRange)
			}
		}

		if e.manifest.Kind != "" {
			for other, oe := range enabled {
				if other != name && oe.manifest.Kind == e.manifest.Kind {
					return kerrors.New(kerrors.PluginSystem, kerrors.KindConflict, "Registry.CheckDependencies", nil,
						"a", name, "b", other, "reason", "slot exclusivity: kind="+e.manifest.Kind)
				}
			}
		}
	}

	return nil
}

// InitializationOrder computes the deterministic initialization order
// over enabled plugins via Kahn's algorithm: among ready nodes, pick
// lowest priority category, then lowest sub-priority, then lexicographic
// name (spec §4.6.3). Returns CircularDependency if not all enabled
// plugins can be ordered.
func (r *Registry) InitializationOrder() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initializationOrderLocked()
}

func (r *Registry) initializationOrderLocked() ([]string, error) {
	enabled := make(map[string]*entry)
	for name, e := range r.byName {
		if e.enabled {
			enabled[name] = e
		}
	}

	inDegree := make(map[string]int, len(enabled))
	successors := make(map[string][]string) // prerequisite -> dependents
	for name := range enabled {
		inDegree[name] = 0
	}
	for name, e := range enabled {
		for _, dep := range e.manifest.Dependencies {
			if _, exists := enabled[dep.Name]; !exists {
				continue // missing optional deps don't add an edge
			}
			inDegree[name]++
			successors[dep.Name] = append(successors[dep.Name], name)
		}
	}

	less := func(a, b string) bool {
		pa, pb := enabled[a].manifest.Priority, enabled[b].manifest.Priority
		if pa.Category != pb.Category {
			return pa.Category < pb.Category
		}
		if pa.Sub != pb.Sub {
			return pa.Sub < pb.Sub
		}
		return a < b
	}

	var ready []string
	for name, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })

	var order []string
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		var newlyReady []string
		for _, succ := range successors[n] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				newlyReady = append(newlyReady, succ)
			}
		}
		ready = append(ready, newlyReady...)
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
	}

	if len(order) != len(enabled) {
		remaining := make([]string, 0)
		for name := range enabled {
			found := false
			for _, o := range order {
				if o == name {
					found = true
					break
				}
			}
			if !found {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, kerrors.New(kerrors.PluginSystem, kerrors.KindCycle, "Registry.InitializationOrder", nil,
			"cycle_path", strings.Join(remaining, ","))
	}

	return order, nil
}

// InitializeAll runs preflight_check -> init -> register_stages for each
// enabled plugin in initialization order (spec §4.6.3). A preflight or
// init failure skips the offending plugin and cascades "unmet dependency"
// skips to its transitive dependents without failing them outright; an
// init failure is also recorded as an error to return. A failure from
// register_stages (or from registering a StageProvider's stages) is
// fatal. Returns the first recorded error, if any, while leaving
// already-initialized plugins in place.
func (r *Registry) InitializeAll(ctx context.Context, kctx *pluginapi.KernelContext, stages *stage.Registry) error {
	r.mu.Lock()
	order, err := r.initializationOrderLocked()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.initOrd = order
	r.mu.Unlock()

	skipped := make(map[string]bool)
	var fatal error

	for _, name := range order {
		r.mu.Lock()
		e := r.byName[name]
		r.mu.Unlock()

		if cascadeSkipped(e, skipped) {
			skipped[name] = true
			log.Warnf("skipping %q: unmet dependency", name)
			continue
		}

		if err := e.plugin.PreflightCheck(ctx, kctx); err != nil {
			log.Warnf("plugin %q failed preflight check: %v", name, err)
			skipped[name] = true
			continue
		}

		if err := e.plugin.Init(ctx, kctx); err != nil {
			log.Errorf("plugin %q failed to initialize: %v", name, err)
			skipped[name] = true
			if fatal == nil {
				fatal = kerrors.New(kerrors.PluginSystem, kerrors.KindUnknown, "Registry.InitializeAll", err, "plugin", name)
			}
			continue
		}

		err := e.plugin.RegisterStages(stages)
		if sp, ok := e.plugin.(pluginapi.StageProvider); ok && err == nil {
			for _, s := range sp.ProvidedStages() {
				if err = stages.Register(s); err != nil {
					break
				}
			}
		}
		if err != nil {
			fatalErr := kerrors.New(kerrors.PluginSystem, kerrors.KindAlreadyExists, "Registry.InitializeAll", err, "plugin", name)
			log.Errorf("plugin %q register_stages failed fatally: %v", name, fatalErr)
			if fatal == nil {
				fatal = fatalErr
			}
			skipped[name] = true
			continue
		}

		r.mu.Lock()
		e.initialized = true
		r.mu.Unlock()

		if r.dispatcher != nil {
			r.dispatcher.Dispatch(ctx, newPluginInitializedEvent(name))
		}
	}

	return fatal
}

func cascadeSkipped(e *entry, skipped map[string]bool) bool {
	for _, dep := range e.manifest.Dependencies {
		if dep.Required && skipped[dep.Name] {
			return true
		}
	}
	return false
}

// ShutdownAll visits the reverse of the last computed initialization
// order, calling Shutdown on every initialized plugin even if an earlier
// shutdown failed; failures are aggregated (spec §4.6.4).
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	order := append([]string(nil), r.initOrd...)
	r.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]

		r.mu.Lock()
		e := r.byName[name]
		wasInitialized := e != nil && e.initialized
		r.mu.Unlock()

		if !wasInitialized {
			continue
		}

		if err := e.plugin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}

		r.mu.Lock()
		e.initialized = false
		r.mu.Unlock()
	}

	r.mu.Lock()
	r.initOrd = nil
	r.mu.Unlock()

	if len(errs) == 0 {
		return nil
	}
	return kerrors.New(kerrors.PluginSystem, kerrors.KindUnknown, "Registry.ShutdownAll", errors.Join(errs...))
}
