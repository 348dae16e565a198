// Package uibridge fans out display messages to registered UI adapters
// (spec C9): console/TUI-style frontends each implement a small
// lifecycle contract, and the bridge tolerates any single adapter's
// failure without blocking delivery to the rest.
//
// Grounded on the multi-output pattern in kiosk404/echoryn's hivemind
// gateway (broadcasting one event to several downstream sinks) and
// streamspace-dev-streamspace's ui_registry.go (named adapter set with a
// default designation), generalized to the message/update-variant
// contract spec §4.9 requires.
package uibridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/kiosk404/echoryn/internal/kernel/kerrors"
)

// Severity tags Log and Dialog updates.
type Severity int

const (
	Info Severity = iota
	Warning
	ErrorSeverity
)

// UpdateKind tags which variant a Message's Update carries.
type UpdateKind int

const (
	Progress UpdateKind = iota
	Status
	Log
	Dialog
)

// Update is the tagged payload of a Message.
type Update struct {
	Kind     UpdateKind
	Progress float32
	Text     string
	Severity Severity
}

// Message is what the bridge broadcasts to every adapter.
type Message struct {
	Timestamp time.Time
	Source    string
	Update    Update
}

// Adapter is a UI frontend the bridge can broadcast to.
type Adapter interface {
	Name() string
	Initialize() error
	HandleMessage(msg Message) error
	SendInput(input string) error
	Update() error
	Finalize() error
	SupportsInteractive() bool
}

// Bridge holds a set of adapters and fans out messages to all of them.
type Bridge struct {
	mu          sync.Mutex
	adapters    map[string]Adapter
	order       []string
	defaultName string
}

// New creates an empty UI bridge.
func New() *Bridge {
	return &Bridge{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Re-registering the same name replaces it.
func (b *Bridge) Register(a Adapter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.adapters[a.Name()]; !exists {
		b.order = append(b.order, a.Name())
	}
	b.adapters[a.Name()] = a
}

// SetDefault designates name as the default adapter. Fails if name is not
// registered.
func (b *Bridge) SetDefault(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.adapters[name]; !ok {
		return kerrors.New(kerrors.UIBridge, kerrors.KindNotFound, "Bridge.SetDefault", nil, "adapter", name)
	}
	b.defaultName = name
	return nil
}

// Default returns the designated default adapter, if any.
func (b *Bridge) Default() (Adapter, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.defaultName == "" {
		return nil, false
	}
	a, ok := b.adapters[b.defaultName]
	return a, ok
}

// Broadcast delivers msg to every registered adapter. One adapter's
// failure does not prevent delivery to others; all failures are
// returned, keyed by adapter name.
func (b *Bridge) Broadcast(msg Message) map[string]error {
	b.mu.Lock()
	adapters := make([]Adapter, 0, len(b.order))
	for _, name := range b.order {
		adapters = append(adapters, b.adapters[name])
	}
	b.mu.Unlock()

	failures := make(map[string]error)
	for _, a := range adapters {
		if err := a.HandleMessage(msg); err != nil {
			failures[a.Name()] = fmt.Errorf("adapter %q: %w", a.Name(), err)
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return failures
}

// InitializeAll calls Initialize on every registered adapter, collecting
// failures the same way Broadcast does.
func (b *Bridge) InitializeAll() map[string]error {
	b.mu.Lock()
	adapters := make([]Adapter, 0, len(b.order))
	for _, name := range b.order {
		adapters = append(adapters, b.adapters[name])
	}
	b.mu.Unlock()

	failures := make(map[string]error)
	for _, a := range adapters {
		if err := a.Initialize(); err != nil {
			failures[a.Name()] = err
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return failures
}

// FinalizeAll calls Finalize on every registered adapter, collecting
// failures.
func (b *Bridge) FinalizeAll() map[string]error {
	b.mu.Lock()
	adapters := make([]Adapter, 0, len(b.order))
	for _, name := range b.order {
		adapters = append(adapters, b.adapters[name])
	}
	b.mu.Unlock()

	failures := make(map[string]error)
	for _, a := range adapters {
		if err := a.Finalize(); err != nil {
			failures[a.Name()] = err
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return failures
}
