package bpmn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drainAvailable(q *eventQueue) []internalEvent {
	var out []internalEvent
	done := make(chan struct{})
	for {
		select {
		case <-q.wake:
		default:
		}
		q.mu.Lock()
		empty := len(q.pending) == 0
		q.mu.Unlock()
		if empty {
			close(done)
			return out
		}
		ev, _ := q.next(done)
		out = append(out, ev)
	}
}

func TestEventQueuePreservesFIFOOrder(t *testing.T) {
	q := newEventQueue()
	q.enqueue(internalEvent{kind: eventTokenArrived, name: "a"})
	q.enqueue(internalEvent{kind: eventActivityEnd, name: "b"})
	q.enqueue(internalEvent{kind: eventTokenArrived, name: "c"})

	got := drainAvailable(q)
	require.Len(t, got, 3)
	require.Equal(t, "a", got[0].name)
	require.Equal(t, "b", got[1].name)
	require.Equal(t, "c", got[2].name)
}

// An event enqueued while deferral is active must be dispatched strictly
// after release, in its original enqueue order.
func TestEventQueueDefersUntilRelease(t *testing.T) {
	q := newEventQueue()
	q.enqueue(internalEvent{name: "before"})
	q.defer_()
	q.enqueue(internalEvent{name: "during-1"})
	q.enqueue(internalEvent{name: "during-2"})

	got := drainAvailable(q)
	require.Len(t, got, 1, "deferred events must not be dispatchable before release")
	require.Equal(t, "before", got[0].name)

	q.release()
	got = drainAvailable(q)
	require.Len(t, got, 2)
	require.Equal(t, "during-1", got[0].name)
	require.Equal(t, "during-2", got[1].name)
}

func TestEventQueueFrozenWhileDeferring(t *testing.T) {
	q := newEventQueue()
	q.defer_()
	q.enqueue(internalEvent{name: "parked"})

	done := make(chan struct{})
	received := make(chan internalEvent, 1)
	go func() {
		if ev, ok := q.next(done); ok {
			received <- ev
		}
	}()

	select {
	case ev := <-received:
		t.Fatalf("event %q dispatched while queue was deferred", ev.name)
	case <-time.After(50 * time.Millisecond):
	}
	close(done)
}
