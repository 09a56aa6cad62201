package lobby

import (
	"github.com/adred-codev/pulse/internal/drain"
	"github.com/adred-codev/pulse/internal/milestone"
)

// envelope is the wire wrapper every socket message travels in; it
// lets the client dispatch on Type without inspecting the payload
// shape (spec §6 lists the four message kinds).
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StateUpdate is the state_update payload (spec §6).
type StateUpdate struct {
	ConcurrentConnections  int64 `json:"concurrent_connections"`
	TotalConnectionSeconds int64 `json:"total_connection_seconds"`
	PeakConnections        int64 `json:"peak_connections"`
}

// Welcome is the one-time welcome payload sent to a newly-joined
// client only (spec §4.7 step 8, §6).
type Welcome struct {
	ConcurrentConnections  int64                  `json:"concurrent_connections"`
	TotalConnectionSeconds int64                  `json:"total_connection_seconds"`
	PeakConnections        int64                  `json:"peak_connections"`
	UnlockedMilestones     []milestone.Definition `json:"unlocked_milestones"`
}

func wireType(msg any) string {
	switch msg.(type) {
	case StateUpdate:
		return "state_update"
	case Welcome:
		return "welcome"
	case milestone.EvolutionEvent:
		return "evolution_event"
	case drain.ShutdownWarning:
		return "shutdown_warning"
	default:
		return "unknown"
	}
}

// isCritical reports whether msg must never be silently dropped. A
// full buffer on a critical message closes the socket instead of
// coalescing (spec §4.4). Welcome is delivered to exactly one sink
// right after join, so it carries the same must-not-drop guarantee.
func isCritical(msg any) bool {
	switch msg.(type) {
	case milestone.EvolutionEvent, drain.ShutdownWarning, Welcome:
		return true
	default:
		return false
	}
}

// isCriticalType is isCritical's counterpart for a remote broadcast,
// which arrives as already-serialized bytes tagged only with a type
// string (spec §4.4's guarantee must hold regardless of transport).
func isCriticalType(t string) bool {
	return t == "evolution_event" || t == "shutdown_warning"
}
