// Package pluginapi defines the kernel's plugin capability set: the
// interface in-process plugins implement, the manifest/metadata shape
// dynamically loaded plugins are ingested into, and the shared vocabulary
// (priority categories, dependency edges) both paths use.
//
// Grounded on streamspace-dev-streamspace's PluginHandler interface
// (api/internal/plugins/base_plugin.go) and kiosk404/echoryn's plugin
// metadata fields, generalized to the fuller manifest the kernel needs
// (SemVer ranges, conflicts, incompatibilities).
package pluginapi

import (
	"context"

	"github.com/blang/semver"

	"github.com/kiosk404/echoryn/internal/kernel/stage"
)

// PriorityCategory orders plugins for deterministic initialization. Lower
// category wins; ties break on Sub, then on plugin name.
type PriorityCategory uint8

const (
	Kernel PriorityCategory = iota
	CoreCritical
	Core
	ThirdPartyHigh
	ThirdParty
	ThirdPartyLow
)

func (c PriorityCategory) String() string {
	switch c {
	case Kernel:
		return "kernel"
	case CoreCritical:
		return "core-critical"
	case Core:
		return "core"
	case ThirdPartyHigh:
		return "third-party-high"
	case ThirdParty:
		return "third-party"
	case ThirdPartyLow:
		return "third-party-low"
	default:
		return "unknown"
	}
}

// Priority is a plugin's full ordering key: category first, then a
// numeric sub-priority within the category.
type Priority struct {
	Category PriorityCategory
	Sub      uint16
}

// Less reports whether p sorts before other under the deterministic
// tie-break rule (category, then sub-priority; name is compared by the
// caller as the final tie-break).
func (p Priority) Less(other Priority) bool {
	if p.Category != other.Category {
		return p.Category < other.Category
	}
	return p.Sub < other.Sub
}

// Dependency is one entry in a plugin's dependency list.
type Dependency struct {
	Name     string
	Range    semver.Range
	RawRange string
	Required bool
}

// Incompatibility names a plugin this one cannot coexist with when the
// other's version falls in Range.
type Incompatibility struct {
	Name     string
	Range    semver.Range
	RawRange string
}

// Manifest is the static description of a plugin: everything the registry
// needs to validate, order, and report on it, independent of whether the
// plugin was compiled in or loaded from a shared object.
type Manifest struct {
	Name                   string
	Version                semver.Version
	IsCore                 bool
	Priority               Priority
	CompatibleAPIRanges    []semver.Range
	CompatibleAPIRangeRaws []string
	Dependencies           []Dependency
	RequiredStages         []string
	ConflictsWith          []string
	IncompatibleWith       []Incompatibility
	// Kind is an optional slot identity: when non-empty, the registry
	// enforces that at most one enabled plugin of this Kind exists
	// (spec-adjacent "slot exclusivity" convenience, off by default).
	Kind string
}

// Plugin is the capability set an in-process plugin implements. Dynamically
// loaded plugins are adapted to this same interface by the loader so the
// registry never needs to distinguish the two once ingestion completes.
type Plugin interface {
	Manifest() Manifest
	PreflightCheck(ctx context.Context, kctx *KernelContext) error
	Init(ctx context.Context, kctx *KernelContext) error
	RegisterStages(reg *stage.Registry) error
	Shutdown(ctx context.Context) error
}

// StageProvider is an optional interface an in-process Plugin may
// implement as a convenience alternative to RegisterStages — the kernel
// probes for it and, if present, registers the returned stages on the
// plugin's behalf (supplemental interface-probe auto-registration path).
type StageProvider interface {
	ProvidedStages() []stage.Stage
}

// KernelContext is the handle plugins receive during Init/PreflightCheck;
// it exposes only what a plugin is allowed to touch, never the registry's
// internals.
type KernelContext struct {
	ConfigDir string
	APIVersion semver.Version
}
