package stage

import (
	"context"
	"errors"
	"testing"
)

type fnStage struct {
	id         string
	fn         func(ctx context.Context, sc *Context) error
	skipDryRun bool
}

func (s fnStage) ID() string          { return s.id }
func (s fnStage) Name() string        { return s.id }
func (s fnStage) Description() string { return "" }
func (s fnStage) Execute(ctx context.Context, sc *Context) error {
	if s.fn == nil {
		return nil
	}
	return s.fn(ctx, sc)
}
func (s fnStage) SkipsDryRun() bool { return s.skipDryRun }

func ok(id string) fnStage { return fnStage{id: id} }

func TestPipeline_EmptyYieldsEmptyResultMap(t *testing.T) {
	reg := NewRegistry()
	p, err := NewBuilder("empty").Build(reg)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}

	results, runErr := p.Run(context.Background(), reg, NewContext("", false), nil)
	if runErr != nil {
		t.Fatalf("expected no error, got %v", runErr)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty result map, got %v", results)
	}
}

func TestPipeline_HaltsOnFailureWithPartialResults(t *testing.T) {
	reg := NewRegistry()
	var ran []string
	must(t, reg.Register(ok("s1")))
	must(t, reg.Register(fnStage{id: "s2", fn: func(ctx context.Context, sc *Context) error {
		ran = append(ran, "s2")
		return errors.New("boom")
	}}))
	must(t, reg.Register(ok("s3")))

	p, err := NewBuilder("pipe").Add("s1").Add("s2").Add("s3").
		DependsOn("s2", "s1").DependsOn("s3", "s2").Build(reg)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}

	results, runErr := p.Run(context.Background(), reg, NewContext("", false), nil)
	if runErr == nil {
		t.Fatal("expected pipeline to report an error")
	}
	if results["s1"].Status != Success {
		t.Fatalf("expected s1 Success, got %v", results["s1"].Status)
	}
	if results["s2"].Status != Failure || results["s2"].Message != "boom" {
		t.Fatalf("expected s2 Failure(boom), got %+v", results["s2"])
	}
	if _, present := results["s3"]; present {
		t.Fatalf("expected s3 to be absent from results, got %+v", results["s3"])
	}
}

func TestPipeline_UnknownIdFailsValidation(t *testing.T) {
	reg := NewRegistry()
	must(t, reg.Register(ok("s1")))

	_, err := NewBuilder("p").Add("s1").Add("ghost").Build(reg)
	if err == nil {
		t.Fatal("expected validation error for unknown stage id")
	}
}

func TestPipeline_DanglingEdgeFailsValidation(t *testing.T) {
	reg := NewRegistry()
	must(t, reg.Register(ok("s1")))
	must(t, reg.Register(ok("s2")))

	_, err := NewBuilder("p").Add("s1").DependsOn("s1", "s2").Build(reg)
	if err == nil {
		t.Fatal("expected validation error for dangling edge endpoint")
	}
}

func TestPipeline_CycleDetected(t *testing.T) {
	reg := NewRegistry()
	must(t, reg.Register(ok("a")))
	must(t, reg.Register(ok("b")))
	must(t, reg.Register(ok("c")))

	_, err := NewBuilder("p").Add("a").Add("b").Add("c").
		DependsOn("a", "b").DependsOn("b", "c").DependsOn("c", "a").Build(reg)
	if err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestPipeline_DeterministicTieBreakOnDeclaredOrder(t *testing.T) {
	reg := NewRegistry()
	var order []string
	record := func(id string) fnStage {
		return fnStage{id: id, fn: func(ctx context.Context, sc *Context) error {
			order = append(order, id)
			return nil
		}}
	}
	must(t, reg.Register(record("z")))
	must(t, reg.Register(record("a")))
	must(t, reg.Register(record("m")))

	// No edges: all three are in-degree zero, so declared order wins.
	p, err := NewBuilder("p").Add("z").Add("a").Add("m").Build(reg)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
	if _, err := p.Run(context.Background(), reg, NewContext("", false), nil); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if order[0] != "z" || order[1] != "a" || order[2] != "m" {
		t.Fatalf("expected declared-order tie-break [z a m], got %v", order)
	}
}

func TestPipeline_DryRunRunsStagesByDefault(t *testing.T) {
	reg := NewRegistry()
	ran := false
	must(t, reg.Register(fnStage{id: "plain", fn: func(ctx context.Context, sc *Context) error {
		ran = true
		return nil
	}}))

	p, err := NewBuilder("p").Add("plain").Build(reg)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
	results, runErr := p.Run(context.Background(), reg, NewContext("", true), nil)
	if runErr != nil {
		t.Fatalf("unexpected run error: %v", runErr)
	}
	if !ran {
		t.Fatal("stage not implementing DryRunAware should still run in dry-run mode")
	}
	if results["plain"].Status != Success {
		t.Fatalf("expected Success, got %+v", results["plain"])
	}
}

func TestPipeline_DryRunSkipsOptedOutStage(t *testing.T) {
	reg := NewRegistry()
	ran := false
	must(t, reg.Register(fnStage{
		id: "opts-out",
		fn: func(ctx context.Context, sc *Context) error {
			ran = true
			return nil
		},
		skipDryRun: true,
	}))

	p, err := NewBuilder("p").Add("opts-out").Build(reg)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
	results, runErr := p.Run(context.Background(), reg, NewContext("", true), nil)
	if runErr != nil {
		t.Fatalf("unexpected run error: %v", runErr)
	}
	if ran {
		t.Fatal("stage opting out of dry-run should not have run")
	}
	if results["opts-out"].Status != Skipped || results["opts-out"].Message != "dry-run not supported" {
		t.Fatalf("expected Skipped(dry-run not supported), got %+v", results["opts-out"])
	}
}

func TestContext_TypedGetSetAndMismatchIsAbsent(t *testing.T) {
	c := NewContext("/tmp/cfg", false)
	c.Set("count", 42)

	v, ok := Get[int](c, "count")
	if !ok || v != 42 {
		t.Fatalf("expected (42, true), got (%v, %v)", v, ok)
	}

	_, ok = Get[string](c, "count")
	if ok {
		t.Fatal("expected mismatched-type downcast to report absent")
	}

	_, ok = Get[int](c, "missing")
	if ok {
		t.Fatal("expected missing key to report absent")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
