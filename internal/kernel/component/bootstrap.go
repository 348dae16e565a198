// Package component implements the kernel's component lifecycle
// orchestrator (spec C7): a type-keyed registry plus a bootstrap that
// initializes, starts, and tears down components in dependency order.
//
// Grounded on kiosk404/echoryn's app.go WithOptions/WithRunFunc
// functional-options bootstrap style, generalized from a single-process
// app runner to a typed multi-component registry with explicit
// initialize/start/stop phases per spec §4.7.
package component

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/kiosk404/echoryn/internal/kernel/kerrors"
	"github.com/kiosk404/echoryn/internal/kernel/klog"
)

var log = klog.Module("component")

// Component is anything with an initialize/start/stop lifecycle, all
// fallible (spec §3).
type Component interface {
	Initialize(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Bootstrap holds components keyed by concrete type identity, in
// registration order = initialization order (spec §4.7).
type Bootstrap struct {
	mu      sync.Mutex
	order   []reflect.Type
	byType  map[reflect.Type]Component
	running bool
}

// New creates an empty bootstrap.
func New() *Bootstrap {
	return &Bootstrap{byType: make(map[reflect.Type]Component)}
}

// Register adds c to the bootstrap under its own concrete type, in
// registration order.
func Register[T Component](b *Bootstrap, c T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := reflect.TypeOf(c)
	if _, exists := b.byType[t]; !exists {
		b.order = append(b.order, t)
	}
	b.byType[t] = c
}

// Get returns the component registered under concrete type T, if any.
func Get[T Component](b *Bootstrap) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	t := reflect.TypeOf(zero)
	c, ok := b.byType[t]
	if !ok {
		return zero, false
	}
	v, ok := c.(T)
	return v, ok
}

// Run ensures the bootstrap is not already running, then calls
// Initialize on every component in registration order, followed by Start
// in the same order, and finally signals readiness. A second call on an
// already-running bootstrap fails with AlreadyRunning (spec §4.7).
func (b *Bootstrap) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return kerrors.New(kerrors.Kernel, kerrors.KindAlreadyRunning, "Bootstrap.Run", nil)
	}
	b.running = true
	order := append([]reflect.Type(nil), b.order...)
	b.mu.Unlock()

	for _, t := range order {
		b.mu.Lock()
		c := b.byType[t]
		b.mu.Unlock()

		log.Infof("initializing %s", t)
		if err := c.Initialize(ctx); err != nil {
			return kerrors.New(kerrors.Kernel, kerrors.KindUnknown, "Bootstrap.Run", err, "phase", "initialize", "component", t.String())
		}
	}

	for _, t := range order {
		b.mu.Lock()
		c := b.byType[t]
		b.mu.Unlock()

		log.Infof("starting %s", t)
		if err := c.Start(ctx); err != nil {
			return kerrors.New(kerrors.Kernel, kerrors.KindUnknown, "Bootstrap.Run", err, "phase", "start", "component", t.String())
		}
	}

	log.Infof("bootstrap ready (%d components)", len(order))
	return nil
}

// Teardown calls Stop on every component in reverse registration order,
// collecting but not short-circuiting on errors.
func (b *Bootstrap) Teardown(ctx context.Context) error {
	b.mu.Lock()
	order := append([]reflect.Type(nil), b.order...)
	b.running = false
	b.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		t := order[i]

		b.mu.Lock()
		c := b.byType[t]
		b.mu.Unlock()

		log.Infof("stopping %s", t)
		if err := c.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	joined := errs[0]
	for _, e := range errs[1:] {
		joined = fmt.Errorf("%w; %w", joined, e)
	}
	return kerrors.New(kerrors.Kernel, kerrors.KindUnknown, "Bootstrap.Teardown", joined)
}
