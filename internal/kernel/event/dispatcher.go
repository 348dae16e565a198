package event

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/kiosk404/echoryn/internal/kernel/klog"
)

var log = klog.Module("event")

type handlerEntry struct {
	id      HandlerID
	handler Handler
}

// Dispatcher is the kernel's event bus: a single asynchronous mutex
// guarding a name-keyed and a type-keyed handler table, plus a FIFO
// backlog queue. See package doc for grounding.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   atomic.Uint64
	byName   map[string][]handlerEntry
	byType   map[reflect.Type][]handlerEntry
	idLookup map[HandlerID]regKey // for O(1) unregister

	queue     []Event
	draining  bool
	deferred  []Event
}

type regKey struct {
	name string
	typ  reflect.Type
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		byName:   make(map[string][]handlerEntry),
		byType:   make(map[reflect.Type][]handlerEntry),
		idLookup: make(map[HandlerID]regKey),
	}
}

func (d *Dispatcher) allocID() HandlerID {
	return HandlerID(d.nextID.Add(1))
}

// RegisterByName registers handler under the literal event name key.
func (d *Dispatcher) RegisterByName(name string, handler Handler) HandlerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.allocID()
	d.byName[name] = append(d.byName[name], handlerEntry{id: id, handler: handler})
	d.idLookup[id] = regKey{name: name}
	return id
}

// RegisterByType registers handler against the concrete Go type T. T's
// reflect.Type serves as the stable type-identity key (spec §9: "a stable
// type-identity scheme"); within a single Go process this is exactly as
// stable as any explicit tag registry would be.
func RegisterByType[T Event](d *Dispatcher, handler Handler) HandlerID {
	var zero T
	typ := reflect.TypeOf(zero)

	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.allocID()
	d.byType[typ] = append(d.byType[typ], handlerEntry{id: id, handler: handler})
	d.idLookup[id] = regKey{typ: typ}
	return id
}

// Unregister removes a previously registered handler. Returns false if the
// id is unknown or was already removed.
func (d *Dispatcher) Unregister(id HandlerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key, ok := d.idLookup[id]
	if !ok {
		return false
	}
	delete(d.idLookup, id)

	if key.typ != nil {
		d.byType[key.typ] = removeEntry(d.byType[key.typ], id)
		return true
	}
	d.byName[key.name] = removeEntry(d.byName[key.name], id)
	return true
}

func removeEntry(entries []handlerEntry, id HandlerID) []handlerEntry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

// Dispatch delivers ev immediately: name-keyed handlers first in
// registration order, then type-keyed handlers for ev's concrete type.
// A handler returning Stop halts iteration; the overall result is Stop.
// A handler that panics is isolated — its panic is recovered, logged, and
// treated as Continue for that slot (spec §4.2).
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) Result {
	d.mu.Lock()
	nameHandlers := append([]handlerEntry(nil), d.byName[ev.Name()]...)
	typeHandlers := append([]handlerEntry(nil), d.byType[reflect.TypeOf(ev)]...)
	d.mu.Unlock()

	for _, entry := range nameHandlers {
		if invoke(ctx, entry.handler, ev, ev.Name()) == Stop {
			return Stop
		}
	}
	for _, entry := range typeHandlers {
		if invoke(ctx, entry.handler, ev, ev.Name()) == Stop {
			return Stop
		}
	}
	return Continue
}

func invoke(ctx context.Context, h Handler, ev Event, name string) (result Result) {
	result = Continue
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("handler panicked on event %q: %v", name, r)
			result = Continue
		}
	}()
	return h(ctx, ev)
}

// Queue appends ev to the FIFO backlog. If a drain is currently in
// progress (this call originates from within a handler invoked by
// ProcessQueue), the event is deferred to the next drain rather than
// extending the one in flight (spec §4.2 "handlers enqueued during
// processing are deferred until after the current drain completes").
func (d *Dispatcher) Queue(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.draining {
		d.deferred = append(d.deferred, ev)
		return
	}
	d.queue = append(d.queue, ev)
}

// ProcessQueue drains the backlog by repeatedly popping the head and
// dispatching it, single-threaded. Returns the count of events processed
// in this call. Events queued by handlers during the drain are deferred
// to the next ProcessQueue call.
func (d *Dispatcher) ProcessQueue(ctx context.Context) int {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return 0
	}
	d.draining = true
	batch := d.queue
	d.queue = nil
	d.mu.Unlock()

	count := 0
	for len(batch) > 0 {
		ev := batch[0]
		batch = batch[1:]
		d.Dispatch(ctx, ev)
		count++
	}

	d.mu.Lock()
	d.draining = false
	// Every Queue call made while draining went to deferred; those events
	// become the head of the queue for the next drain.
	d.queue = append(d.deferred, d.queue...)
	d.deferred = nil
	d.mu.Unlock()

	return count
}

// Len reports the number of events currently queued, for diagnostics/tests.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}
