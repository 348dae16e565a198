package storage

import (
	"testing"

	"github.com/kiosk404/echoryn/internal/kernel/kerrors"
)

func openTestFacade(t *testing.T) *Facade {
	t.Helper()
	f, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestSaveLoadRoundTrip(t *testing.T) {
	f := openTestFacade(t)

	data := ConfigData{"key": "value", "count": float64(3)}
	if err := f.SaveConfig("app", data, Application); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	got, err := f.LoadConfig("app", Application)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got["key"] != "value" || got["count"] != float64(3) {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestLoadConfig_MissingIsConfigNotFound(t *testing.T) {
	f := openTestFacade(t)

	_, err := f.LoadConfig("missing", Application)
	if err == nil {
		t.Fatal("expected an error for a missing config")
	}
	if kind, ok := kerrors.KindOf(err); !ok || kind != kerrors.KindConfigNotFound {
		t.Fatalf("expected KindConfigNotFound, got %v", err)
	}
}

func TestSetEnabled_Idempotent(t *testing.T) {
	f := openTestFacade(t)

	if err := f.SetEnabled("p", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if err := f.SetEnabled("p", false); err != nil {
		t.Fatalf("SetEnabled (second): %v", err)
	}

	enabled, err := f.IsEnabled("p")
	if err != nil {
		t.Fatalf("IsEnabled: %v", err)
	}
	if enabled {
		t.Fatal("expected p to be disabled")
	}
}

func TestIsEnabled_DefaultsTrueWhenUnrecorded(t *testing.T) {
	f := openTestFacade(t)

	enabled, err := f.IsEnabled("never-touched")
	if err != nil {
		t.Fatalf("IsEnabled: %v", err)
	}
	if !enabled {
		t.Fatal("expected an unrecorded plugin to default to enabled")
	}
}

func TestScopesAreIndependent(t *testing.T) {
	f := openTestFacade(t)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	must(f.SaveConfig("x", ConfigData{"scope": "app"}, Application))
	must(f.SaveConfig("x", ConfigData{"scope": "user"}, PluginUser))

	app, err := f.LoadConfig("x", Application)
	must(err)
	user, err := f.LoadConfig("x", PluginUser)
	must(err)

	if app["scope"] != "app" || user["scope"] != "user" {
		t.Fatalf("scopes leaked into each other: app=%+v user=%+v", app, user)
	}
}
