// Package corerr defines the tagged error kinds every public operation
// in Pulse's core returns instead of panicking across a component
// boundary (spec §7).
package corerr

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", Kind) or use Wrap to
// attach context; callers discriminate with errors.Is.
var (
	// ErrStore marks any failure returned by the state store adapter.
	ErrStore = errors.New("store error")

	// ErrSourceRateLimited means a source exceeded its per-minute admit limit.
	ErrSourceRateLimited = errors.New("source rate limited")

	// ErrGlobalRateLimited means the global per-second admit limit was hit.
	ErrGlobalRateLimited = errors.New("global rate limited")

	// ErrCapacityExceeded means concurrent_connections is at or above the cap.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrDraining means the node is refusing new admissions.
	ErrDraining = errors.New("node draining")

	// ErrProtocol marks a malformed client frame.
	ErrProtocol = errors.New("protocol error")

	// ErrInvariant marks an auto-repaired internal invariant violation
	// (e.g. a negative counter observed after decrement).
	ErrInvariant = errors.New("internal invariant violated")
)

// Wrap attaches context to a sentinel kind while keeping errors.Is
// working against it.
func Wrap(kind error, context string) error {
	if context == "" {
		return kind
	}
	return &wrapped{kind: kind, context: context}
}

type wrapped struct {
	kind    error
	context string
}

func (w *wrapped) Error() string { return w.context + ": " + w.kind.Error() }
func (w *wrapped) Unwrap() error { return w.kind }

// RejectReason maps an admission error to the spec §4.2 reason enum
// string used in stats and HTTP responses.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrSourceRateLimited):
		return "SourceRateLimited"
	case errors.Is(err, ErrGlobalRateLimited):
		return "GlobalRateLimited"
	case errors.Is(err, ErrCapacityExceeded):
		return "CapacityExceeded"
	default:
		return ""
	}
}
