// Package httpapi exposes the operator-facing HTTP surface (spec §6):
// liveness/readiness/status health checks, and the state/evolution/
// peak-history metrics endpoints, plus the ambient Prometheus scrape
// endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/adred-codev/pulse/internal/admission"
	"github.com/adred-codev/pulse/internal/drain"
	"github.com/adred-codev/pulse/internal/metrics"
	"github.com/adred-codev/pulse/internal/milestone"
	"github.com/adred-codev/pulse/internal/store"
	"github.com/adred-codev/pulse/internal/sysinfo"
	"github.com/adred-codev/pulse/internal/tick"
)

const (
	concurrencyKey  = "global:concurrent_connections"
	totalSecondsKey = "global:total_connection_seconds"
	peakKey         = "global:peak_connections"
)

// API wires the dependencies every handler reads from.
type API struct {
	Store      store.Store
	Admission  *admission.Controller
	Drain      *drain.Coordinator
	Milestones *milestone.Engine
	Tick       *tick.Engine
	SysInfo    *sysinfo.Sampler

	// TickStaleAfter bounds how long a leader node's tick engine may go
	// without a successful tick before /health/ready considers it
	// unresponsive. Defaults to 15s (three default 5s tick intervals)
	// if zero.
	TickStaleAfter time.Duration
}

func (a *API) tickStaleAfter() time.Duration {
	if a.TickStaleAfter != 0 {
		return a.TickStaleAfter
	}
	return 15 * time.Second
}

// Register mounts every endpoint on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health/live", a.handleLive)
	mux.HandleFunc("/health/ready", a.handleReady)
	mux.HandleFunc("/health/status", a.handleStatus)
	mux.HandleFunc("/metrics/state", a.handleMetricsState)
	mux.HandleFunc("/metrics/evolution", a.handleMetricsEvolution)
	mux.HandleFunc("/metrics/peak-history", a.handleMetricsPeakHistory)
	mux.Handle("/metrics", metrics.Handler())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// handleLive always reports ok while the process is running (spec §6).
func (a *API) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports 200 only if the store responds, the tick engine
// has ticked recently (or is leaderless, which is healthy by design),
// and the gateway is still accepting connections (spec §6).
func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	storeHealthy := a.Store.Ping(ctx) == nil
	acceptingConns := a.Drain.Accepting()
	tickHealthy := a.Tick.Healthy(a.tickStaleAfter())

	ready := storeHealthy && acceptingConns && tickHealthy

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"ready": ready,
		"checks": map[string]any{
			"store":     storeHealthy,
			"accepting": acceptingConns,
			"tick":      tickHealthy,
		},
	})
}

// handleStatus returns the aggregate view spec §6 asks for: store
// counters, tick stats, admission stats, and drain status.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	storeErr := a.Store.Ping(ctx)
	live, _, _ := a.Store.GetInt(ctx, concurrencyKey)
	total, _, _ := a.Store.GetInt(ctx, totalSecondsKey)
	peak, _, _ := a.Store.GetInt(ctx, peakKey)

	body := map[string]any{
		"store": map[string]any{
			"healthy":                 storeErr == nil,
			"concurrent_connections":  live,
			"total_connection_seconds": total,
			"peak_connections":        peak,
		},
		"tick":      a.Tick.Stats(),
		"admission": a.Admission.Stats(),
		"drain": map[string]any{
			"state":           a.Drain.State(),
			"node_local_live": a.Drain.NodeLocalLive(),
		},
	}
	if a.SysInfo != nil {
		body["host"] = a.SysInfo.Latest()
	}

	writeJSON(w, http.StatusOK, body)
}

// handleMetricsState returns the current global counters.
func (a *API) handleMetricsState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	live, _, _ := a.Store.GetInt(ctx, concurrencyKey)
	total, _, _ := a.Store.GetInt(ctx, totalSecondsKey)
	peak, _, _ := a.Store.GetInt(ctx, peakKey)

	writeJSON(w, http.StatusOK, map[string]int64{
		"concurrent_connections":   live,
		"total_connection_seconds": total,
		"peak_connections":         peak,
	})
}

// handleMetricsEvolution returns milestone progress (spec §6).
func (a *API) handleMetricsEvolution(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	unlocked, total, err := a.Milestones.Progress(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store unavailable"})
		return
	}

	progressPct := 0.0
	if total > 0 {
		progressPct = float64(unlocked) / float64(total) * 100
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"unlocked_count": unlocked,
		"total_count":    total,
		"progress_pct":   progressPct,
		"current_state":  fmt.Sprintf("%d/%d", unlocked, total),
	})
}

// handleMetricsPeakHistory returns the last 24 hours of peak samples.
func (a *API) handleMetricsPeakHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	cutoff := time.Now().Add(-24 * time.Hour).Unix()
	members, err := a.Store.SortedRangeByScore(ctx, "global:peak_history", fmt.Sprintf("%d", cutoff), "+inf")
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store unavailable"})
		return
	}

	points := make([]map[string]int64, 0, len(members))
	for _, m := range members {
		var ts, value int64
		if _, err := fmt.Sscanf(m, "%d:%d", &ts, &value); err != nil {
			continue
		}
		points = append(points, map[string]int64{"timestamp": ts, "peak_value": value})
	}

	writeJSON(w, http.StatusOK, points)
}
