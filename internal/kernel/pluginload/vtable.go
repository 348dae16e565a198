package pluginload

import (
	"github.com/kiosk404/echoryn/internal/kernel/pluginapi"
	"github.com/kiosk404/echoryn/internal/kernel/stage"
)

// VTable is the Go-idiomatic rendering of the FFI contract's
// PluginVTable: a flat record of function values a dynamically loaded
// plugin hands back to the kernel. Go's plugin package already gives us
// a safe, typed symbol table in place of raw C function pointers and
// NUL-terminated strings, so there is no opaque instance pointer or
// explicit free-function pairing here — the loader's job is simply to
// wrap this record behind the same pluginapi.Plugin interface in-process
// plugins implement.
type VTable struct {
	Name     string
	Version  string
	IsCore   bool
	Priority PriorityFields

	CompatibleAPIVersions []string
	Dependencies          []DependencyFields
	RequiredStages        []string
	ConflictsWith         []string
	IncompatibleWith      []IncompatibilityFields

	Init           func(kctx *pluginapi.KernelContext) error
	PreflightCheck func(kctx *pluginapi.KernelContext) error
	RegisterStages func(reg *stage.Registry) error
	Shutdown       func() error
}

// PriorityFields mirrors the FFI contract's {category, value} pair.
type PriorityFields struct {
	Category uint8
	Value    uint16
}

// DependencyFields mirrors FfiPluginDependency.
type DependencyFields struct {
	Name     string
	Range    string
	Required bool
}

// IncompatibilityFields mirrors the incompatible_with slice entries.
type IncompatibilityFields struct {
	Name  string
	Range string
}

func toCategory(v uint8) pluginapi.PriorityCategory {
	if v > uint8(pluginapi.ThirdPartyLow) {
		return pluginapi.ThirdPartyLow
	}
	return pluginapi.PriorityCategory(v)
}
