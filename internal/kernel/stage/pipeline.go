package stage

import (
	"context"
	"fmt"
	"sort"

	"github.com/kiosk404/echoryn/internal/kernel/event"
	"github.com/kiosk404/echoryn/internal/kernel/kerrors"
	"github.com/kiosk404/echoryn/internal/kernel/klog"
)

var log = klog.Module("stage")

// Edge is a dependency edge: Dependent runs only after Prerequisite has
// run.
type Edge struct {
	Dependent    string
	Prerequisite string
}

// Builder accumulates stage ids and dependency edges for one pipeline.
// The declared order of ids is a tie-breaking hint only; correctness of
// execution order derives solely from the edge set (spec §4.4).
type Builder struct {
	name  string
	ids   []string
	edges []Edge
}

// NewBuilder starts a pipeline builder named name (used in the
// PipelineExecutionCompleted event and in logs).
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Add appends a stage id to the pipeline's declared id list.
func (b *Builder) Add(id string) *Builder {
	b.ids = append(b.ids, id)
	return b
}

// DependsOn records that dependent must run after prerequisite.
func (b *Builder) DependsOn(dependent, prerequisite string) *Builder {
	b.edges = append(b.edges, Edge{Dependent: dependent, Prerequisite: prerequisite})
	return b
}

// Pipeline is a validated, ready-to-run stage sequence.
type Pipeline struct {
	name  string
	ids   []string
	edges []Edge
}

// Build validates the builder's ids and edges against reg, returning a
// Pipeline ready to Run. Validation order matches spec §4.4:
// unknown ids, then dangling edge endpoints, then cycles.
func (b *Builder) Build(reg *Registry) (*Pipeline, error) {
	idSet := make(map[string]bool, len(b.ids))
	for _, id := range b.ids {
		if !reg.Has(id) {
			return nil, kerrors.New(kerrors.StageSystem, kerrors.KindNotFound, "Pipeline.Build",
				nil, "stage_id", id, "reason", "StageNotFoundInPipelineValidation")
		}
		idSet[id] = true
	}

	for _, e := range b.edges {
		if !idSet[e.Dependent] || !idSet[e.Prerequisite] {
			return nil, kerrors.New(kerrors.StageSystem, kerrors.KindValidation, "Pipeline.Build",
				nil, "dependent", e.Dependent, "prerequisite", e.Prerequisite,
				"reason", "DependencyStageNotInPipeline")
		}
	}

	if cyclePath, ok := findCycle(b.ids, b.edges); ok {
		return nil, kerrors.New(kerrors.StageSystem, kerrors.KindCycle, "Pipeline.Build",
			nil, "cycle_path", cyclePath, "reason", "DependencyCycleDetected")
	}

	return &Pipeline{
		name:  b.name,
		ids:   append([]string(nil), b.ids...),
		edges: append([]Edge(nil), b.edges...),
	}, nil
}

// findCycle reports whether the dependency graph (edges: Dependent ->
// Prerequisite) contains a cycle, and if so, one offending path.
func findCycle(ids []string, edges []Edge) ([]string, bool) {
	adj := make(map[string][]string, len(ids))
	for _, e := range edges {
		adj[e.Dependent] = append(adj[e.Dependent], e.Prerequisite)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(ids))
	var path []string

	var visit func(n string) ([]string, bool)
	visit = func(n string) ([]string, bool) {
		color[n] = gray
		path = append(path, n)
		for _, next := range adj[n] {
			switch color[next] {
			case gray:
				return append(append([]string(nil), path...), next), true
			case white:
				if cyc, found := visit(next); found {
					return cyc, true
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return nil, false
	}

	for _, id := range ids {
		if color[id] == white {
			if cyc, found := visit(id); found {
				return cyc, true
			}
		}
	}
	return nil, false
}

// Result is the outcome of one stage's run.
type Result struct {
	Status  Status
	Message string
}

// Status enumerates a stage's terminal state within a pipeline run.
type Status int

const (
	Success Status = iota
	Skipped
	Failure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Skipped:
		return "skipped"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Run executes the pipeline's stages in Kahn's-algorithm topological
// order — among ready (in-degree zero) nodes, the one appearing earliest
// in the declared id list goes first. Execution halts at the first
// Failure. When dispatcher is non-nil, a PipelineExecutionCompleted event
// is dispatched after the run regardless of outcome; with a nil
// dispatcher no event is emitted.
func (p *Pipeline) Run(ctx context.Context, reg *Registry, sc *Context, dispatcher *event.Dispatcher) (map[string]Result, error) {
	order := topoOrder(p.ids, p.edges)
	results := make(map[string]Result, len(order))

	var runErr error
	for _, id := range order {
		st, ok := reg.Get(id)
		if !ok {
			// Registry changed out from under a previously-validated
			// pipeline; treat as a hard failure for this stage.
			results[id] = Result{Status: Failure, Message: "stage no longer registered"}
			runErr = kerrors.New(kerrors.StageSystem, kerrors.KindNotFound, "Pipeline.Run", nil, "stage_id", id)
			break
		}

		if sc.DryRun() && skipsDryRun(st) {
			results[id] = Result{Status: Skipped, Message: "dry-run not supported"}
			continue
		}

		log.Infof("running stage %q", id)
		if err := st.Execute(ctx, sc); err != nil {
			results[id] = Result{Status: Failure, Message: err.Error()}
			runErr = fmt.Errorf("stage %q failed: %w", id, err)
			break
		}
		results[id] = Result{Status: Success}
	}

	if dispatcher != nil {
		dispatcher.Dispatch(ctx, newPipelineCompletedEvent(p.name, runErr == nil))
	}

	return results, runErr
}

// skipsDryRun reports whether a stage must be skipped in a dry-run
// pipeline. A stage runs by default; only a stage that implements
// DryRunAware and returns true opts out.
func skipsDryRun(s Stage) bool {
	if dr, ok := s.(DryRunAware); ok {
		return dr.SkipsDryRun()
	}
	return false
}

// topoOrder computes a deterministic topological order over ids given
// dependency edges (Dependent -> Prerequisite). Ties among in-degree-zero
// nodes are broken by position in the declared id list.
func topoOrder(ids []string, edges []Edge) []string {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}

	inDegree := make(map[string]int, len(ids))
	successors := make(map[string][]string) // prerequisite -> dependents
	for _, id := range ids {
		inDegree[id] = 0
	}
	for _, e := range edges {
		inDegree[e.Dependent]++
		successors[e.Prerequisite] = append(successors[e.Prerequisite], e.Dependent)
	}

	var ready []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return pos[ready[i]] < pos[ready[j]] })

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
		sort.Slice(newlyReady, func(i, j int) bool { return pos[newlyReady[i]] < pos[newlyReady[j]] })

		ready = append(ready, newlyReady...)
		sort.Slice(ready, func(i, j int) bool { return pos[ready[i]] < pos[ready[j]] })
	}

	return order
}
