package pluginreg

import (
	"context"
	"testing"

	"github.com/blang/semver"

	"github.com/kiosk404/echoryn/internal/kernel/kerrors"
	"github.com/kiosk404/echoryn/internal/kernel/pluginapi"
	"github.com/kiosk404/echoryn/internal/kernel/stage"
)

type fakePlugin struct {
	manifest    pluginapi.Manifest
	preflightErr error
	initErr     error
	shutdownErr error
	initCalled  bool
	shutdownCalled bool
}

func (p *fakePlugin) Manifest() pluginapi.Manifest { return p.manifest }
func (p *fakePlugin) PreflightCheck(ctx context.Context, kctx *pluginapi.KernelContext) error {
	return p.preflightErr
}
func (p *fakePlugin) Init(ctx context.Context, kctx *pluginapi.KernelContext) error {
	p.initCalled = true
	return p.initErr
}
func (p *fakePlugin) RegisterStages(reg *stage.Registry) error { return nil }
func (p *fakePlugin) Shutdown(ctx context.Context) error {
	p.shutdownCalled = true
	return p.shutdownErr
}

func mustRange(t *testing.T, raw string) semver.Range {
	t.Helper()
	r, err := semver.ParseRange(raw)
	if err != nil {
		t.Fatalf("bad range %q: %v", raw, err)
	}
	return r
}

func mustVersion(t *testing.T, raw string) semver.Version {
	t.Helper()
	v, err := semver.Parse(raw)
	if err != nil {
		t.Fatalf("bad version %q: %v", raw, err)
	}
	return v
}

func basicManifest(t *testing.T, name string, deps ...string) pluginapi.Manifest {
	m := pluginapi.Manifest{
		Name:     name,
		Version:  mustVersion(t, "1.0.0"),
		Priority: pluginapi.Priority{Category: pluginapi.ThirdParty},
	}
	for _, d := range deps {
		m.Dependencies = append(m.Dependencies, pluginapi.Dependency{
			Name: d, Range: mustRange(t, ">=0.0.0"), RawRange: ">=0.0.0", Required: true,
		})
	}
	return m
}

func TestDiamondDependencyInitOrder(t *testing.T) {
	reg := New(mustVersion(t, "0.1.0"), nil, nil)

	a := &fakePlugin{manifest: basicManifest(t, "A", "B", "C")}
	b := &fakePlugin{manifest: basicManifest(t, "B", "D")}
	c := &fakePlugin{manifest: basicManifest(t, "C", "D")}
	d := &fakePlugin{manifest: basicManifest(t, "D")}

	for _, p := range []*fakePlugin{a, b, c, d} {
		if err := reg.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.manifest.Name, err)
		}
	}

	order, err := reg.InitializationOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"D", "B", "C", "A"}
	if !equal(order, want) {
		t.Fatalf("expected init order %v, got %v", want, order)
	}

	stages := stage.NewRegistry()
	if err := reg.InitializeAll(context.Background(), &pluginapi.KernelContext{}, stages); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}

	if err := reg.ShutdownAll(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestCycleDetection(t *testing.T) {
	reg := New(mustVersion(t, "0.1.0"), nil, nil)

	a := &fakePlugin{manifest: basicManifest(t, "A", "B")}
	b := &fakePlugin{manifest: basicManifest(t, "B", "C")}
	c := &fakePlugin{manifest: basicManifest(t, "C", "A")}

	for _, p := range []*fakePlugin{a, b, c} {
		if err := reg.Register(p); err != nil {
			t.Fatalf("register %s: %v", p.manifest.Name, err)
		}
	}

	_, err := reg.InitializationOrder()
	if err == nil {
		t.Fatal("expected CircularDependency error")
	}

	stages := stage.NewRegistry()
	if err := reg.InitializeAll(context.Background(), &pluginapi.KernelContext{}, stages); err == nil {
		t.Fatal("expected InitializeAll to fail for a cyclic graph")
	}
	if a.initCalled || b.initCalled || c.initCalled {
		t.Fatal("no plugin should have been initialized when the graph has a cycle")
	}
}

func TestAPIIncompatibility(t *testing.T) {
	reg := New(mustVersion(t, "0.1.0"), nil, nil)

	m := basicManifest(t, "strict")
	m.CompatibleAPIRanges = []semver.Range{mustRange(t, ">2.0.0")}
	p := &fakePlugin{manifest: m}

	err := reg.Register(p)
	if err == nil {
		t.Fatal("expected API incompatibility error")
	}
}

func TestMissingOptionalDependencySucceeds(t *testing.T) {
	reg := New(mustVersion(t, "0.1.0"), nil, nil)

	m := basicManifest(t, "has-optional")
	m.Dependencies = append(m.Dependencies, pluginapi.Dependency{
		Name: "ghost", Range: mustRange(t, ">=0.0.0"), RawRange: ">=0.0.0", Required: false,
	})
	p := &fakePlugin{manifest: m}
	if err := reg.Register(p); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	if err := reg.CheckDependencies(); err != nil {
		t.Fatalf("expected missing optional dependency to succeed, got %v", err)
	}
}

func TestDependencyPresentButOutOfRangeIsMissingDep(t *testing.T) {
	reg := New(mustVersion(t, "0.1.0"), nil, nil)

	base := &fakePlugin{manifest: basicManifest(t, "base")}
	if err := reg.Register(base); err != nil {
		t.Fatalf("register base: %v", err)
	}

	m := basicManifest(t, "needs-newer-base")
	m.Dependencies = []pluginapi.Dependency{
		{Name: "base", Range: mustRange(t, ">=2.0.0"), RawRange: ">=2.0.0", Required: true},
	}
	dependent := &fakePlugin{manifest: m}
	if err := reg.Register(dependent); err != nil {
		t.Fatalf("register dependent: %v", err)
	}

	err := reg.CheckDependencies()
	if err == nil {
		t.Fatal("expected out-of-range dependency to fail CheckDependencies")
	}
	kind, ok := kerrors.KindOf(err)
	if !ok || kind != kerrors.KindMissingDep {
		t.Fatalf("expected KindMissingDep for a present-but-out-of-range dependency, got %v (ok=%v)", kind, ok)
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	reg := New(mustVersion(t, "0.1.0"), nil, nil)
	p1 := &fakePlugin{manifest: basicManifest(t, "dup")}
	p2 := &fakePlugin{manifest: basicManifest(t, "dup")}

	if err := reg.Register(p1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := reg.Register(p2); err == nil {
		t.Fatal("expected second registration of the same name to fail")
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
