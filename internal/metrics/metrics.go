// Package metrics declares the Prometheus collectors Pulse exposes on
// /metrics, and the small set of free functions other packages call to
// update them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_connections_total",
		Help: "Total number of client connections admitted.",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_connections_active",
		Help: "Current global concurrent_connections value.",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_connections_rejected_total",
		Help: "Total connection attempts rejected by the admission controller, by reason.",
	}, []string{"reason"})

	TotalConnectionSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_total_connection_seconds",
		Help: "Current global total_connection_seconds accumulator value.",
	})

	PeakConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_peak_connections",
		Help: "Current global peak_connections value.",
	})

	MilestonesUnlocked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_milestones_unlocked_total",
		Help: "Total milestones unlocked on this node's tick evaluations.",
	})

	MilestonesProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_milestones_progress_ratio",
		Help: "Fraction of the compiled milestone catalog unlocked so far (0-1).",
	})

	TicksRun = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_tick_runs_total",
		Help: "Total tick cycles this node executed as leader.",
	})

	TicksSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_tick_skips_total",
		Help: "Total tick cycles skipped due to store unavailability.",
	})

	TickIsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_tick_is_leader",
		Help: "1 if this node currently holds the tick leadership lease, else 0.",
	})

	DrainState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_drain_state",
		Help: "Drain coordinator state: 0=running, 1=draining, 2=completing, 3=exited.",
	})

	DrainNodeLocalLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_drain_node_local_live",
		Help: "Node-local live client count tracked by the drain coordinator.",
	})

	StoreOpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_store_op_errors_total",
		Help: "Total state store operation failures, by operation.",
	}, []string{"op"})

	ReconcileDrift = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_reconcile_drift",
		Help: "Most recently observed drift between summed node-local live counts and the global counter.",
	})

	HostCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_host_cpu_percent",
		Help: "Host CPU utilization percentage, sampled periodically.",
	})

	HostMemoryPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_host_memory_percent",
		Help: "Host memory utilization percentage, sampled periodically.",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		TotalConnectionSeconds,
		PeakConnections,
		MilestonesUnlocked,
		MilestonesProgress,
		TicksRun,
		TicksSkipped,
		TickIsLeader,
		DrainState,
		DrainNodeLocalLive,
		StoreOpErrors,
		ReconcileDrift,
		HostCPUPercent,
		HostMemoryPercent,
	)
}

// drainStateValues maps a drain.State's string form to the gauge
// encoding documented on DrainState. Kept local to avoid this package
// importing internal/drain purely for four string constants.
var drainStateValues = map[string]float64{
	"running":    0,
	"draining":   1,
	"completing": 2,
	"exited":     3,
}

// RecordRejection increments the rejection counter for reason. An
// empty reason (an admission error this package does not recognize)
// is not recorded.
func RecordRejection(reason string) {
	if reason == "" {
		return
	}
	ConnectionsRejected.WithLabelValues(reason).Inc()
}

// RecordStoreError increments the per-operation store failure counter.
func RecordStoreError(op string) {
	StoreOpErrors.WithLabelValues(op).Inc()
}

// SetDrainState encodes a drain.State string onto the DrainState gauge.
func SetDrainState(state string) {
	if v, ok := drainStateValues[state]; ok {
		DrainState.Set(v)
	}
}

// Handler returns the http.Handler promhttp exposes for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
