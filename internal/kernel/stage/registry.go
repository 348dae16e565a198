package stage

import (
	"context"
	"sync"

	"github.com/kiosk404/echoryn/internal/kernel/kerrors"
)

// Stage is a named asynchronous unit of work composable into pipelines. A
// stage runs during a dry-run pipeline unless it implements DryRunAware and
// opts out.
type Stage interface {
	ID() string
	Name() string
	Description() string
	Execute(ctx context.Context, sc *Context) error
}

// DryRunAware may optionally be implemented by a Stage to opt out of
// dry-run execution (spec §4.4: "If the context is dry-run and the stage
// opts out of dry-run, record Skipped ... Otherwise invoke execute"). Most
// stages should run during dry-run; SkipsDryRun is the exception a stage
// declares, not the default every stage must opt into.
type DryRunAware interface {
	SkipsDryRun() bool
}

// Registry is a name→stage map with insertion-order iteration, for
// deterministic debug output. Pipeline tie-breaking does not use this
// order; it uses each pipeline's declared id list.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Stage
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Stage)}
}

// Register adds a stage. Returns kerrors.KindAlreadyExists if the id is
// already taken.
func (r *Registry) Register(s Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[s.ID()]; exists {
		return kerrors.New(kerrors.StageSystem, kerrors.KindAlreadyExists, "Registry.Register", nil, "id", s.ID())
	}
	r.byID[s.ID()] = s
	r.order = append(r.order, s.ID())
	return nil
}

// Get returns the stage registered under id.
func (r *Registry) Get(id string) (Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// Ids returns all registered stage ids in insertion order.
func (r *Registry) Ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
