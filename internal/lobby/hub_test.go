package lobby

import (
	"strings"
	"testing"
	"time"

	"github.com/adred-codev/pulse/internal/drain"
	"github.com/adred-codev/pulse/internal/milestone"
	"github.com/rs/zerolog"
)

func TestBroadcastDeliversToAllSinks(t *testing.T) {
	h := New(zerolog.Nop())

	var closedA, closedB bool
	sinkA := NewSink(4, func() { closedA = true })
	sinkB := NewSink(4, func() { closedB = true })
	h.Join(1, sinkA)
	h.Join(2, sinkB)

	h.Broadcast(StateUpdate{ConcurrentConnections: 3})

	select {
	case <-sinkA.Chan():
	default:
		t.Fatal("expected sink A to receive the broadcast")
	}
	select {
	case <-sinkB.Chan():
	default:
		t.Fatal("expected sink B to receive the broadcast")
	}
	if closedA || closedB {
		t.Fatal("did not expect any sink to be closed for a healthy send")
	}
}

func TestBroadcastFromExcludesOriginator(t *testing.T) {
	h := New(zerolog.Nop())

	sinkA := NewSink(4, func() {})
	sinkB := NewSink(4, func() {})
	h.Join(1, sinkA)
	h.Join(2, sinkB)

	h.BroadcastFrom(1, StateUpdate{ConcurrentConnections: 1})

	select {
	case <-sinkA.Chan():
		t.Fatal("expected excluded sink to receive nothing")
	default:
	}
	select {
	case <-sinkB.Chan():
	default:
		t.Fatal("expected non-excluded sink to receive the broadcast")
	}
}

func TestCoalescingDropsOldestStateUpdate(t *testing.T) {
	h := New(zerolog.Nop())
	sink := NewSink(1, func() { t.Fatal("must not close socket on a coalescable drop") })
	h.Join(1, sink)

	h.Broadcast(StateUpdate{ConcurrentConnections: 1})
	h.Broadcast(StateUpdate{ConcurrentConnections: 2})

	select {
	case data := <-sink.Chan():
		if len(data) == 0 {
			t.Fatal("expected non-empty payload")
		}
		if !strings.Contains(string(data), `"concurrent_connections":2`) {
			t.Fatalf("expected the newer state_update to remain queued, got %s", data)
		}
	default:
		t.Fatal("expected the newer state_update to have replaced the older one")
	}
}

func TestCriticalMessageClosesSocketWhenBufferFull(t *testing.T) {
	h := New(zerolog.Nop())
	closed := make(chan struct{}, 1)
	sink := NewSink(1, func() { closed <- struct{}{} })
	h.Join(1, sink)

	// Fill the buffer with a coalescable message first.
	h.Broadcast(StateUpdate{ConcurrentConnections: 1})

	h.Broadcast(milestone.EvolutionEvent{Milestone: milestone.Definition{ID: "first_awakening"}})

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("expected socket close on a critical message hitting a full buffer")
	}
}

func TestShutdownWarningIsCritical(t *testing.T) {
	if !isCritical(drain.ShutdownWarning{Message: "bye"}) {
		t.Fatal("expected shutdown_warning to be classified critical")
	}
}
