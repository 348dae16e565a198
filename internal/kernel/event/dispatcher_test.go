package event

import (
	"context"
	"testing"
)

type testEvent struct {
	Base
}

func newTestEvent(name string) testEvent {
	return testEvent{Base: Base{EventName: name, EventPrio: Normal}}
}

func (e testEvent) Clone() Event { return e }

func TestDispatch_NameOrderAndStop(t *testing.T) {
	d := New()
	var order []string

	d.RegisterByName("boot", func(ctx context.Context, ev Event) Result {
		order = append(order, "first")
		return Continue
	})
	d.RegisterByName("boot", func(ctx context.Context, ev Event) Result {
		order = append(order, "second")
		return Stop
	})
	d.RegisterByName("boot", func(ctx context.Context, ev Event) Result {
		order = append(order, "third")
		return Continue
	})

	res := d.Dispatch(context.Background(), newTestEvent("boot"))
	if res != Stop {
		t.Fatalf("expected Stop, got %v", res)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected [first second], got %v", order)
	}
}

func TestDispatch_ZeroHandlersIsContinue(t *testing.T) {
	d := New()
	res := d.Dispatch(context.Background(), newTestEvent("nobody-listens"))
	if res != Continue {
		t.Fatalf("expected Continue for unheard event, got %v", res)
	}
}

func TestDispatch_TypeHandlersRunAfterName(t *testing.T) {
	d := New()
	var order []string

	d.RegisterByName("typed", func(ctx context.Context, ev Event) Result {
		order = append(order, "name")
		return Continue
	})
	RegisterByType[testEvent](d, func(ctx context.Context, ev Event) Result {
		order = append(order, "type")
		return Continue
	})

	d.Dispatch(context.Background(), newTestEvent("typed"))
	if len(order) != 2 || order[0] != "name" || order[1] != "type" {
		t.Fatalf("expected [name type], got %v", order)
	}
}

func TestHandlerIDsAreMonotonicAndNeverReused(t *testing.T) {
	d := New()
	noop := func(ctx context.Context, ev Event) Result { return Continue }

	id1 := d.RegisterByName("a", noop)
	id2 := d.RegisterByName("a", noop)
	if id2 <= id1 {
		t.Fatalf("expected id2 > id1, got %d <= %d", id2, id1)
	}

	d.Unregister(id1)
	id3 := d.RegisterByName("a", noop)
	if id3 == id1 {
		t.Fatalf("id %d was reused after unregister", id1)
	}
}

func TestUnregister(t *testing.T) {
	d := New()
	called := false
	id := d.RegisterByName("x", func(ctx context.Context, ev Event) Result {
		called = true
		return Continue
	})

	if !d.Unregister(id) {
		t.Fatal("expected Unregister to report success")
	}
	if d.Unregister(id) {
		t.Fatal("expected second Unregister of the same id to report failure")
	}

	d.Dispatch(context.Background(), newTestEvent("x"))
	if called {
		t.Fatal("unregistered handler was still invoked")
	}
}

func TestDispatch_PanicIsolation(t *testing.T) {
	d := New()
	secondRan := false

	d.RegisterByName("boom", func(ctx context.Context, ev Event) Result {
		panic("handler exploded")
	})
	d.RegisterByName("boom", func(ctx context.Context, ev Event) Result {
		secondRan = true
		return Continue
	})

	res := d.Dispatch(context.Background(), newTestEvent("boom"))
	if res != Continue {
		t.Fatalf("expected Continue after recovered panic, got %v", res)
	}
	if !secondRan {
		t.Fatal("panic in first handler should not have prevented the second from running")
	}
}

func TestQueue_FIFOOrder(t *testing.T) {
	d := New()
	var seen []string

	d.RegisterByName("fifo", func(ctx context.Context, ev Event) Result {
		seen = append(seen, ev.(testEvent).CorrelationID)
		return Continue
	})

	for _, id := range []string{"a", "b", "c"} {
		ev := newTestEvent("fifo")
		ev.CorrelationID = id
		d.Queue(ev)
	}

	if got := d.Len(); got != 3 {
		t.Fatalf("expected 3 queued events, got %d", got)
	}

	n := d.ProcessQueue(context.Background())
	if n != 3 {
		t.Fatalf("expected to process 3 events, got %d", n)
	}
	if len(seen) != 3 || seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Fatalf("expected FIFO order [a b c], got %v", seen)
	}
}

func TestQueue_ReentrantEnqueueIsDeferred(t *testing.T) {
	d := New()
	var processed []int
	step := 0

	d.RegisterByName("chain", func(ctx context.Context, ev Event) Result {
		step++
		processed = append(processed, step)
		if step == 1 {
			// Queued while draining: must not be picked up by this drain.
			d.Queue(newTestEvent("chain"))
		}
		return Continue
	})

	d.Queue(newTestEvent("chain"))
	n := d.ProcessQueue(context.Background())
	if n != 1 {
		t.Fatalf("expected first drain to process exactly 1 event, got %d", n)
	}
	if d.Len() != 1 {
		t.Fatalf("expected the re-entrant enqueue to land in the next drain's queue, got len %d", d.Len())
	}

	n2 := d.ProcessQueue(context.Background())
	if n2 != 1 {
		t.Fatalf("expected second drain to process the deferred event, got %d", n2)
	}
}
