package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adred-codev/pulse/internal/admission"
	"github.com/adred-codev/pulse/internal/drain"
	"github.com/adred-codev/pulse/internal/lobby"
	"github.com/adred-codev/pulse/internal/milestone"
	"github.com/adred-codev/pulse/internal/store"
	"github.com/rs/zerolog"
)

func newTestGateway(t *testing.T, s store.Store) (*Gateway, *lobby.Hub, *drain.Coordinator) {
	t.Helper()
	h := lobby.New(zerolog.Nop())
	a := admission.New(s, admission.Config{
		MaxPerSourcePerMinute: 100,
		MaxGlobalPerSecond:    100,
		MaxGlobal:             10,
	}, zerolog.Nop())
	t.Cleanup(a.Stop)
	d := drain.New(s, h, drain.Config{}, zerolog.Nop())
	m := milestone.New(s, h, zerolog.Nop())

	g := New(Config{
		Admission:  a,
		Drain:      d,
		Lobby:      h,
		Milestones: m,
		Store:      s,
		Logger:     zerolog.Nop(),
	})
	return g, h, d
}

func TestServeHTTPRejectsWhenCapacityExceeded(t *testing.T) {
	s := store.NewFake()
	ctx := context.Background()
	if _, err := s.IncrBy(ctx, concurrencyKey, 10); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	g, _, _ := newTestGateway(t, s)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()

	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on capacity exceeded, got %d", rec.Code)
	}
}

func TestServeHTTPRejectsWhenDraining(t *testing.T) {
	s := store.NewFake()
	g, _, d := newTestGateway(t, s)
	d.BeginDrain(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()

	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", rec.Code)
	}
}

func TestPostJoinSendsWelcomeAndBroadcastsToOthers(t *testing.T) {
	s := store.NewFake()
	ctx := context.Background()
	g, h, _ := newTestGateway(t, s)

	self := lobby.NewSink(8, func() {})
	peer := lobby.NewSink(8, func() {})
	h.Join(1, self)
	h.Join(2, peer)

	g.postJoin(ctx, 1, 1)

	// Both sinks also receive the first_awakening evolution_event, so
	// look for the specific message types among everything queued.
	queuedTypes := func(s *lobby.Sink) string {
		var all []string
		for {
			select {
			case data := <-s.Chan():
				all = append(all, string(data))
			default:
				return strings.Join(all, "\n")
			}
		}
	}
	if got := queuedTypes(self); !strings.Contains(got, `"type":"welcome"`) {
		t.Fatalf("expected the joining client to receive a welcome message, got %s", got)
	}
	if got := queuedTypes(peer); !strings.Contains(got, `"type":"state_update"`) {
		t.Fatalf("expected other clients to receive a state_update, got %s", got)
	}
}

func TestTeardownDecrementsAndClampsAtZero(t *testing.T) {
	s := store.NewFake()
	ctx := context.Background()
	g, h, d := newTestGateway(t, s)

	sink := lobby.NewSink(8, func() {})
	h.Join(1, sink)
	d.Register()

	// Force an inconsistent state: live count already at zero, so a
	// committed decrement would go negative and must clamp.
	g.teardown(1, true)

	live, present, err := s.GetInt(ctx, concurrencyKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !present || live != 0 {
		t.Fatalf("expected concurrent_connections clamped to 0, got present=%v value=%d", present, live)
	}
	if h.Count() != 0 {
		t.Fatal("expected teardown to remove the sink from the hub")
	}
}

func TestTeardownSkipsDecrementWhenUncommitted(t *testing.T) {
	s := store.NewFake()
	ctx := context.Background()
	if _, err := s.IncrBy(ctx, concurrencyKey, 5); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	g, h, _ := newTestGateway(t, s)

	sink := lobby.NewSink(8, func() {})
	h.Join(1, sink)

	g.teardown(1, false)

	live, present, err := s.GetInt(ctx, concurrencyKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !present || live != 5 {
		t.Fatalf("expected concurrent_connections untouched at 5, got present=%v value=%d", present, live)
	}
}
