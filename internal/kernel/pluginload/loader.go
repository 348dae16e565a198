// Package pluginload implements the dynamic-library plugin loader (spec
// C5): it opens a Go plugin shared object, looks up its init symbol,
// invokes it inside a panic-catching boundary, and ingests the returned VTable into
// a pluginapi.Plugin the registry can treat uniformly alongside
// statically linked plugins.
//
// Grounded on streamspace-dev-streamspace's discovery.go (plugin.Open /
// p.Lookup, directory scan, cache-after-first-load) and spec §4.5/§9's
// panic-at-FFI-boundary requirement, generalized from that file's single
// "NewPlugin" factory convention to the fuller vtable-ingestion contract
// the kernel's plugin system requires.
package pluginload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"github.com/blang/semver"
	"golang.org/x/sync/errgroup"

	"github.com/kiosk404/echoryn/internal/kernel/kerrors"
	"github.com/kiosk404/echoryn/internal/kernel/klog"
	"github.com/kiosk404/echoryn/internal/kernel/pluginapi"
	"github.com/kiosk404/echoryn/internal/kernel/stage"
)

var log = klog.Module("pluginload")

// InitSymbol is the exported symbol a plugin shared object must provide:
// a niladic function returning a *VTable. This is the Go-idiomatic
// rendering of the FFI contract's `_plugin_init` — Go's plugin package
// only resolves exported (capitalized) package-level identifiers, so the
// literal underscore-prefixed C symbol name has no equivalent here.
const InitSymbol = "PluginInit"

// Loader opens plugin shared objects from a set of injected discovery
// directories (spec §9 Open Question (b): no hard-coded path).
type Loader struct {
	dirs []string
}

// New creates a loader that searches dirs, in order, for plugin files.
func New(dirs ...string) *Loader {
	return &Loader{dirs: dirs}
}

// LoadFromPath opens the shared object at path, invokes its PluginInit
// symbol under a panic-catching boundary, and ingests the returned
// VTable. It never closes the library handle — code pages must outlive
// the plugin instance (spec §4.5/§9 "deliberate library leak").
func (l *Loader) LoadFromPath(path string) (pluginapi.Plugin, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, kerrors.New(kerrors.PluginSystem, kerrors.KindIO, "Loader.LoadFromPath", err, "path", path)
	}

	sym, err := p.Lookup(InitSymbol)
	if err != nil {
		return nil, kerrors.New(kerrors.PluginSystem, kerrors.KindSymbolNotFound, "Loader.LoadFromPath", err,
			"path", path, "symbol", InitSymbol)
	}

	initFn, ok := sym.(func() *VTable)
	if !ok {
		return nil, kerrors.New(kerrors.PluginSystem, kerrors.KindSymbolNotFound, "Loader.LoadFromPath", nil,
			"path", path, "reason", "symbol has wrong signature, expected func() *pluginload.VTable")
	}

	vt, err := invokeInit(initFn)
	if err != nil {
		return nil, kerrors.New(kerrors.PluginSystem, kerrors.KindPanic, "Loader.LoadFromPath", err, "path", path)
	}
	if vt == nil {
		return nil, kerrors.New(kerrors.PluginSystem, kerrors.KindNilVTable, "Loader.LoadFromPath", nil, "path", path)
	}

	return adapt(vt)
}

// invokeInit calls initFn inside a recover boundary so a plugin-side
// panic during initialization is converted into an error rather than
// terminating the host process (spec §4.5/§9).
func invokeInit(initFn func() *VTable) (vt *VTable, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin initializer panicked: %v", r)
		}
	}()
	return initFn(), nil
}

// LoadFromDirectory loads every plugin file (".so") found directly under
// dir. It returns the count of successfully loaded plugins and a joined
// error aggregating every individual file's failure; a readable, empty,
// or non-existent directory with zero files is success with count 0.
func (l *Loader) LoadFromDirectory(dir string) ([]pluginapi.Plugin, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, kerrors.New(kerrors.PluginSystem, kerrors.KindIO, "Loader.LoadFromDirectory", err, "dir", dir)
	}

	var loaded []pluginapi.Plugin
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".so") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		p, err := l.LoadFromPath(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			log.Warnf("failed to load plugin %s: %v", path, err)
			continue
		}
		loaded = append(loaded, p)
	}

	return loaded, len(loaded), errors.Join(errs...)
}

// LoadAll loads plugins from every directory the loader was constructed
// with. Directories are scanned concurrently (each is an independent
// filesystem subtree; plugin.Open is safe to call from multiple
// goroutines) via errgroup, then merged back in directory-declaration
// order so the result is deterministic regardless of scan completion
// order.
func (l *Loader) LoadAll() ([]pluginapi.Plugin, int, error) {
	perDir := make([][]pluginapi.Plugin, len(l.dirs))
	perErr := make([]error, len(l.dirs))

	var g errgroup.Group
	var mu sync.Mutex
	for i, dir := range l.dirs {
		i, dir := i, dir
		g.Go(func() error {
			plugins, _, err := l.LoadFromDirectory(dir)
			mu.Lock()
			perDir[i] = plugins
			perErr[i] = err
			mu.Unlock()
			return nil // per-directory errors are aggregated below, not short-circuited
		})
	}
	_ = g.Wait()

	var all []pluginapi.Plugin
	var errs []error
	for i := range l.dirs {
		all = append(all, perDir[i]...)
		if perErr[i] != nil {
			errs = append(errs, perErr[i])
		}
	}
	return all, len(all), errors.Join(errs...)
}

// adapted wraps a VTable so it satisfies pluginapi.Plugin, parsing its
// string fields (SemVer version/ranges) once at ingestion time.
type adapted struct {
	vt       *VTable
	manifest pluginapi.Manifest
}

func adapt(vt *VTable) (pluginapi.Plugin, error) {
	version, err := semver.Parse(vt.Version)
	if err != nil {
		return nil, kerrors.New(kerrors.PluginSystem, kerrors.KindVersionParse, "Loader.adapt", err,
			"plugin", vt.Name, "raw", vt.Version)
	}

	var apiRanges []semver.Range
	for _, raw := range vt.CompatibleAPIVersions {
		r, err := semver.ParseRange(raw)
		if err != nil {
			return nil, kerrors.New(kerrors.PluginSystem, kerrors.KindVersionParse, "Loader.adapt", err,
				"plugin", vt.Name, "raw", raw)
		}
		apiRanges = append(apiRanges, r)
	}

	var deps []pluginapi.Dependency
	for _, d := range vt.Dependencies {
		r, err := semver.ParseRange(d.Range)
		if err != nil {
			return nil, kerrors.New(kerrors.PluginSystem, kerrors.KindVersionParse, "Loader.adapt", err,
				"plugin", vt.Name, "dependency", d.Name, "raw", d.Range)
		}
		deps = append(deps, pluginapi.Dependency{Name: d.Name, Range: r, RawRange: d.Range, Required: d.Required})
	}

	var incompatible []pluginapi.Incompatibility
	for _, in := range vt.IncompatibleWith {
		r, err := semver.ParseRange(in.Range)
		if err != nil {
			return nil, kerrors.New(kerrors.PluginSystem, kerrors.KindVersionParse, "Loader.adapt", err,
				"plugin", vt.Name, "incompatible_with", in.Name, "raw", in.Range)
		}
		incompatible = append(incompatible, pluginapi.Incompatibility{Name: in.Name, Range: r, RawRange: in.Range})
	}

	return &adapted{
		vt: vt,
		manifest: pluginapi.Manifest{
			Name:                   vt.Name,
			Version:                version,
			IsCore:                 vt.IsCore,
			Priority:               pluginapi.Priority{Category: toCategory(vt.Priority.Category), Sub: vt.Priority.Value},
			CompatibleAPIRanges:    apiRanges,
			CompatibleAPIRangeRaws: vt.CompatibleAPIVersions,
			Dependencies:           deps,
			RequiredStages:         vt.RequiredStages,
			ConflictsWith:          vt.ConflictsWith,
			IncompatibleWith:       incompatible,
		},
	}, nil
}

func (a *adapted) Manifest() pluginapi.Manifest { return a.manifest }

func (a *adapted) PreflightCheck(ctx context.Context, kctx *pluginapi.KernelContext) (err error) {
	if a.vt.PreflightCheck == nil {
		return nil
	}
	defer recoverAsError(&err, a.manifest.Name, "PreflightCheck")
	return a.vt.PreflightCheck(kctx)
}

func (a *adapted) Init(ctx context.Context, kctx *pluginapi.KernelContext) (err error) {
	if a.vt.Init == nil {
		return nil
	}
	defer recoverAsError(&err, a.manifest.Name, "Init")
	return a.vt.Init(kctx)
}

func (a *adapted) RegisterStages(reg *stage.Registry) (err error) {
	if a.vt.RegisterStages == nil {
		return nil
	}
	defer recoverAsError(&err, a.manifest.Name, "RegisterStages")
	return a.vt.RegisterStages(reg)
}

func (a *adapted) Shutdown(ctx context.Context) (err error) {
	if a.vt.Shutdown == nil {
		return nil
	}
	defer recoverAsError(&err, a.manifest.Name, "Shutdown")
	return a.vt.Shutdown()
}

// recoverAsError isolates a panic raised by any vtable method call, per
// spec §9's "not just _plugin_init" requirement — every FFI call site is
// guarded, not only initialization.
func recoverAsError(err *error, plugin, method string) {
	if r := recover(); r != nil {
		*err = kerrors.New(kerrors.PluginSystem, kerrors.KindPanic, "vtable."+method, nil,
			"plugin", plugin, "recovered", fmt.Sprint(r))
	}
}
