package pluginreg

import (
	"github.com/kiosk404/echoryn/internal/kernel/event"
)

// PluginInitialized is emitted after a single plugin finishes init and
// stage registration successfully.
type PluginInitialized struct {
	event.Base
	Name string
}

func (e PluginInitialized) Clone() event.Event { return e }

func newPluginInitializedEvent(name string) PluginInitialized {
	return PluginInitialized{
		Base: event.NewBase("PluginInitialized", event.Normal),
		Name: name,
	}
}
