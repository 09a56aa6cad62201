// Package tick is the Time Engine: a single periodic task that
// accumulates connection-seconds and drives milestone evaluation
// (spec §4.5). It must run on exactly one node cluster-wide — leader
// election gates every tick.
package tick

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/adred-codev/pulse/internal/leader"
	"github.com/adred-codev/pulse/internal/lobby"
	"github.com/adred-codev/pulse/internal/metrics"
	"github.com/adred-codev/pulse/internal/milestone"
	"github.com/adred-codev/pulse/internal/store"
	"github.com/rs/zerolog"
)

const (
	concurrencyKey = "global:concurrent_connections"
	totalSecondsKey = "global:total_connection_seconds"
	peakKey         = "global:peak_connections"
)

// Engine runs the 5-second tick loop.
type Engine struct {
	interval time.Duration
	store    store.Store
	lobby    *lobby.Hub
	milestones *milestone.Engine
	elector  leader.Elector
	logger   zerolog.Logger

	lastTick time.Time

	ticksRun     int64
	ticksSkipped int64

	// startedAtNano and lastSuccessNano back Healthy's readiness check
	// (spec §6: /health/ready gates on "tick engine responds"). Both
	// are UnixNano timestamps so Healthy can read them lock-free from
	// an HTTP handler goroutine while fire() runs on its own goroutine.
	startedAtNano   int64
	lastSuccessNano int64
}

// New constructs a tick Engine with period interval (spec default 5s).
func New(interval time.Duration, s store.Store, h *lobby.Hub, milestones *milestone.Engine, elector leader.Elector, logger zerolog.Logger) *Engine {
	return &Engine{
		interval:      interval,
		store:         s,
		lobby:         h,
		milestones:    milestones,
		elector:       elector,
		logger:        logger.With().Str("component", "tick").Logger(),
		startedAtNano: time.Now().UnixNano(),
	}
}

// Run drives the ticker until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.lastTick = time.Now()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.fire(ctx, now)
		}
	}
}

// fire implements the six-step algorithm in spec §4.5. It is a no-op
// (but still advances last_tick_ms) on nodes that do not hold the tick
// leadership lease — running on N nodes would contribute N times too
// much accumulated time.
func (e *Engine) fire(ctx context.Context, now time.Time) {
	if !e.elector.IsLeader() {
		metrics.TickIsLeader.Set(0)
		e.lastTick = now
		return
	}
	metrics.TickIsLeader.Set(1)

	elapsedSeconds := int64(now.Sub(e.lastTick) / time.Second)
	if elapsedSeconds < 1 {
		elapsedSeconds = 1
	}
	e.lastTick = now

	live, present, err := e.store.GetInt(ctx, concurrencyKey)
	if err != nil {
		e.logger.Warn().Err(err).Msg("tick: store unavailable, skipping this tick")
		atomic.AddInt64(&e.ticksSkipped, 1)
		metrics.TicksSkipped.Inc()
		return
	}
	if !present {
		live = 0
	}

	total, havePresent, err := e.store.GetInt(ctx, totalSecondsKey)
	if err != nil || !havePresent {
		total = 0
	}

	if live > 0 {
		intervalSeconds := int64(e.interval / time.Second)
		if intervalSeconds < 1 {
			intervalSeconds = 1
		}
		multiplier := elapsedSeconds
		if intervalSeconds > multiplier {
			multiplier = intervalSeconds
		}
		delta := live * multiplier

		newTotal, err := e.store.IncrBy(ctx, totalSecondsKey, delta)
		if err != nil {
			e.logger.Warn().Err(err).Msg("tick: incr_by total_connection_seconds failed, skipping this tick")
			atomic.AddInt64(&e.ticksSkipped, 1)
			metrics.TicksSkipped.Inc()
			return
		}
		total = newTotal
	}

	fired, err := e.milestones.Evaluate(ctx, milestone.Input{
		ConcurrentConnections:  live,
		TotalConnectionSeconds: total,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("tick: milestone evaluation skipped")
	} else if len(fired) > 0 {
		e.logger.Info().Int("count", len(fired)).Msg("milestones unlocked this tick")
		metrics.MilestonesUnlocked.Add(float64(len(fired)))
	}

	peak, present, err := e.store.GetInt(ctx, peakKey)
	if err != nil || !present {
		peak = live
	}

	metrics.ConnectionsActive.Set(float64(live))
	metrics.TotalConnectionSeconds.Set(float64(total))
	metrics.PeakConnections.Set(float64(peak))

	e.lobby.Broadcast(lobby.StateUpdate{
		ConcurrentConnections:  live,
		TotalConnectionSeconds: total,
		PeakConnections:        peak,
	})

	atomic.AddInt64(&e.ticksRun, 1)
	atomic.StoreInt64(&e.lastSuccessNano, now.UnixNano())
	metrics.TicksRun.Inc()
}

// Stats reports tick counters for /health/status.
type Stats struct {
	TicksRun     int64 `json:"ticks_run"`
	TicksSkipped int64 `json:"ticks_skipped"`
	IsLeader     bool  `json:"is_leader"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		TicksRun:     atomic.LoadInt64(&e.ticksRun),
		TicksSkipped: atomic.LoadInt64(&e.ticksSkipped),
		IsLeader:     e.elector.IsLeader(),
	}
}

// Healthy reports whether the tick engine is responding, for
// /health/ready (spec §6). A non-leader node carries no tick
// responsibility at all, so it is trivially healthy here — the
// leaderless carve-out spec §9 allows. A leader is healthy only if it
// has completed a tick within maxAge of now, with a startup grace
// period of maxAge from construction before its first tick lands.
func (e *Engine) Healthy(maxAge time.Duration) bool {
	if !e.elector.IsLeader() {
		return true
	}

	last := atomic.LoadInt64(&e.lastSuccessNano)
	if last == 0 {
		last = atomic.LoadInt64(&e.startedAtNano)
	}
	return time.Since(time.Unix(0, last)) <= maxAge
}
