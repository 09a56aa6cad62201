package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adred-codev/pulse/internal/admission"
	"github.com/adred-codev/pulse/internal/drain"
	"github.com/adred-codev/pulse/internal/leader"
	"github.com/adred-codev/pulse/internal/lobby"
	"github.com/adred-codev/pulse/internal/milestone"
	"github.com/adred-codev/pulse/internal/store"
	"github.com/adred-codev/pulse/internal/tick"
	"github.com/rs/zerolog"
)

func newTestAPI(t *testing.T) (*API, store.Store) {
	t.Helper()
	s := store.NewFake()
	h := lobby.New(zerolog.Nop())
	a := admission.New(s, admission.Config{MaxPerSourcePerMinute: 10, MaxGlobalPerSecond: 10, MaxGlobal: 100}, zerolog.Nop())
	t.Cleanup(a.Stop)
	d := drain.New(s, h, drain.Config{}, zerolog.Nop())
	m := milestone.New(s, h, zerolog.Nop())
	tk := tick.New(5*time.Second, s, h, m, leader.SoloElector{}, zerolog.Nop())

	return &API{Store: s, Admission: a, Drain: d, Milestones: m, Tick: tk}, s
}

func TestHandleLiveAlwaysOK(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	api.handleLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleReadyFailsWhenDraining(t *testing.T) {
	api, _ := newTestAPI(t)
	api.Drain.BeginDrain(context.Background())

	rec := httptest.NewRecorder()
	api.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", rec.Code)
	}
}

func TestHandleReadyFailsWhenTickIsStale(t *testing.T) {
	api, _ := newTestAPI(t)
	// newTestAPI's tick engine uses leader.SoloElector{}, so it is
	// always "leader" but has never actually ticked. A negative
	// staleness budget forces the recency check to fail regardless of
	// how little time has actually elapsed.
	api.TickStaleAfter = -time.Second

	rec := httptest.NewRecorder()
	api.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when tick engine is stale, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	checks := body["checks"].(map[string]any)
	if checks["tick"].(bool) {
		t.Fatal("expected checks.tick to report false")
	}
}

func TestHandleReadySucceedsWithinTickStartupGrace(t *testing.T) {
	api, _ := newTestAPI(t)
	// A freshly constructed tick engine has not ticked yet, but is
	// within its startup grace period, so readiness must still pass.
	api.TickStaleAfter = time.Minute

	rec := httptest.NewRecorder()
	api.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 within tick startup grace, got %d", rec.Code)
	}
}

func TestHandleMetricsStateReportsCounters(t *testing.T) {
	api, s := newTestAPI(t)
	ctx := context.Background()
	if _, err := s.IncrBy(ctx, "global:concurrent_connections", 7); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	rec := httptest.NewRecorder()
	api.handleMetricsState(rec, httptest.NewRequest(http.MethodGet, "/metrics/state", nil))

	var body map[string]int64
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["concurrent_connections"] != 7 {
		t.Fatalf("expected concurrent_connections=7, got %d", body["concurrent_connections"])
	}
}

func TestHandleMetricsEvolutionReportsProgress(t *testing.T) {
	api, s := newTestAPI(t)
	ctx := context.Background()
	if _, err := s.SetAdd(ctx, "global:unlocked_milestones", "first_awakening"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	rec := httptest.NewRecorder()
	api.handleMetricsEvolution(rec, httptest.NewRequest(http.MethodGet, "/metrics/evolution", nil))

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["unlocked_count"].(float64) != 1 {
		t.Fatalf("expected unlocked_count=1, got %v", body["unlocked_count"])
	}
}

func TestHandleMetricsPeakHistoryReturnsRecentPoints(t *testing.T) {
	api, s := newTestAPI(t)
	ctx := context.Background()
	now := time.Now().Unix()
	if err := s.SortedAdd(ctx, "global:peak_history", float64(now), fmt.Sprintf("%d:%d", now, 42)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	rec := httptest.NewRecorder()
	api.handleMetricsPeakHistory(rec, httptest.NewRequest(http.MethodGet, "/metrics/peak-history", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var points []map[string]int64
	if err := json.NewDecoder(rec.Body).Decode(&points); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(points) != 1 || points[0]["timestamp"] != now || points[0]["peak_value"] != 42 {
		t.Fatalf("expected one point {timestamp:%d peak_value:42}, got %v", now, points)
	}
}
