// Package event implements the kernel's event dispatcher (spec C2): a
// named + type-keyed handler registry with immediate dispatch, a FIFO
// backlog queue, and stop-propagation. Grounded on the panic-isolation
// pattern in streamspace-dev-streamspace/api/internal/plugins/event_bus.go
// and the priority/lifecycle vocabulary of go-lynx/lynx's plugins/events.go,
// generalized to the name-then-type dispatch order and Stop semantics the
// kernel requires.
package event

import (
	"context"

	"github.com/google/uuid"
)

// Priority orders events for callers that want to triage a backlog; the
// dispatcher itself delivers strictly in registration/enqueue order
// regardless of priority (spec §3: "Ordering of handlers ... is
// registration order").
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Event is a polymorphic, immutable-once-dispatched value. Name is the
// stable string handlers key on; Clone lets producers hand out copies
// without sharing mutable state with handlers.
type Event interface {
	Name() string
	Priority() Priority
	Cancelable() bool
	Clone() Event
}

// Base can be embedded by concrete event types to pick up the common
// fields (name, priority, cancelable) with sane defaults (Normal, not
// cancelable), matching spec §3's defaults. CorrelationID is a
// producer-assigned identifier (a UUID by convention, see NewBase) that
// lets logs and downstream consumers tie one event back to the
// operation that raised it; the dispatcher itself never inspects it.
type Base struct {
	EventName     string
	EventPrio     Priority
	IsCancelable  bool
	CorrelationID string
}

// NewBase constructs a Base with a fresh random correlation id, the
// convention kernel-internal events (PipelineExecutionCompleted,
// PluginInitialized, ...) use.
func NewBase(name string, prio Priority) Base {
	return Base{EventName: name, EventPrio: prio, CorrelationID: uuid.NewString()}
}

func (b Base) Name() string       { return b.EventName }
func (b Base) Priority() Priority { return b.EventPrio }
func (b Base) Cancelable() bool   { return b.IsCancelable }

// Result is returned by a handler (and by Dispatch) to indicate whether
// iteration should continue to the next handler.
type Result int

const (
	Continue Result = iota
	Stop
)

// Handler is invoked for one event instance. It may suspend (perform I/O,
// call out to another subsystem) since dispatch crosses a subsystem
// boundary per spec §5.
type Handler func(ctx context.Context, ev Event) Result

// HandlerID identifies a registered handler; ids are assigned by a
// strictly monotonic counter and are never reused (spec invariant).
type HandlerID uint64
