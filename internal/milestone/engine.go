// Package milestone evaluates the compiled threshold and compound
// predicates against the global state and records newly-unlocked
// milestones exactly once, cluster-wide (spec §4.6).
package milestone

import (
	"context"
	"fmt"
	"time"

	"github.com/adred-codev/pulse/internal/metrics"
	"github.com/adred-codev/pulse/internal/store"
	"github.com/rs/zerolog"
)

const (
	keyUnlockedMilestones = "global:unlocked_milestones"
	keyPeakConnections    = "global:peak_connections"
	keyPeakHistory        = "global:peak_history"

	peakHistoryRetention = 7 * 24 * time.Hour
)

// Broadcaster is the narrow slice of the lobby hub the engine needs to
// fan out evolution_event messages. Kept as an interface so this
// package never imports internal/lobby.
type Broadcaster interface {
	Broadcast(msg any)
}

// Input is the state the gateway or tick engine hands to Evaluate.
type Input struct {
	ConcurrentConnections  int64
	TotalConnectionSeconds int64
}

// EvolutionEvent is the evolution_event payload (spec §6).
type EvolutionEvent struct {
	Milestone Definition `json:"milestone"`
}

// Engine evaluates the compiled catalog against state snapshots.
type Engine struct {
	store    store.Store
	lobby    Broadcaster
	logger   zerolog.Logger
	catalog  []Definition
	nowFunc  func() time.Time
}

// New constructs an Engine bound to a store and a broadcaster.
func New(s store.Store, lobby Broadcaster, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   s,
		lobby:   lobby,
		logger:  logger.With().Str("component", "milestone").Logger(),
		catalog: Catalog(),
		nowFunc: time.Now,
	}
}

// Evaluate runs the full algorithm in spec §4.6: it first applies the
// peak-leap side effect (advancing peak_connections and recording
// peak_history when the live count sets a new record), then checks
// every not-yet-unlocked milestone against the resulting snapshot,
// broadcasting an evolution_event for each one this call wins the
// exactly-once race on.
//
// Store unavailability on the unlocked-set read aborts the whole
// evaluation (spec §4.8: "skip this evaluation; try again next
// tick") rather than partially evaluating against a stale guard.
func (e *Engine) Evaluate(ctx context.Context, in Input) ([]Definition, error) {
	peak, err := e.advancePeak(ctx, in.ConcurrentConnections)
	if err != nil {
		e.logger.Warn().Err(err).Msg("peak advance failed, continuing with last known peak")
	}

	snap := Snapshot{
		ConcurrentConnections:  in.ConcurrentConnections,
		TotalConnectionSeconds: in.TotalConnectionSeconds,
		PeakConnections:        peak,
	}

	already, err := e.store.SetMembers(ctx, keyUnlockedMilestones)
	if err != nil {
		return nil, fmt.Errorf("load unlocked milestones: %w", err)
	}
	unlocked := make(map[string]struct{}, len(already))
	for _, id := range already {
		unlocked[id] = struct{}{}
	}

	var fired []Definition
	for _, def := range e.catalog {
		if _, done := unlocked[def.ID]; done {
			continue
		}
		if !def.matches(snap) {
			continue
		}

		added, err := e.store.SetAdd(ctx, keyUnlockedMilestones, def.ID)
		if err != nil {
			e.logger.Warn().Err(err).Str("milestone", def.ID).Msg("set_add failed, will retry next tick")
			continue
		}
		if !added {
			// Another node won the race for this id.
			continue
		}

		fired = append(fired, def)
		e.logger.Info().Str("milestone", def.ID).Str("name", def.Name).Msg("milestone unlocked")
		e.lobby.Broadcast(EvolutionEvent{Milestone: def})
	}

	return fired, nil
}

// advancePeak updates peak_connections when live exceeds it and
// appends a peak_history entry, returning the peak now in effect.
func (e *Engine) advancePeak(ctx context.Context, live int64) (int64, error) {
	current, present, err := e.store.GetInt(ctx, keyPeakConnections)
	if err != nil {
		return 0, err
	}
	if !present {
		current = 0
	}
	if live <= current {
		return current, nil
	}

	if err := e.store.Set(ctx, keyPeakConnections, fmt.Sprintf("%d", live)); err != nil {
		return current, err
	}

	now := e.nowFunc().Unix()
	member := fmt.Sprintf("%d:%d", now, live)
	if err := e.store.SortedAdd(ctx, keyPeakHistory, float64(now), member); err != nil {
		e.logger.Warn().Err(err).Msg("peak_history record failed")
	}

	cutoff := e.nowFunc().Add(-peakHistoryRetention).Unix()
	if err := e.store.SortedRemoveByScore(ctx, keyPeakHistory, "-inf", fmt.Sprintf("%d", cutoff)); err != nil {
		e.logger.Warn().Err(err).Msg("peak_history prune failed")
	}

	return live, nil
}

// Unlocked returns every milestone already recorded, in catalog order,
// formatted for the welcome message (spec §6).
func (e *Engine) Unlocked(ctx context.Context) ([]Definition, error) {
	ids, err := e.store.SetMembers(ctx, keyUnlockedMilestones)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	out := make([]Definition, 0, len(ids))
	for _, def := range e.catalog {
		if _, ok := set[def.ID]; ok {
			out = append(out, def)
		}
	}
	return out, nil
}

// Progress reports unlocked/total counts for /metrics/evolution.
func (e *Engine) Progress(ctx context.Context) (unlockedCount, totalCount int, err error) {
	unlocked, err := e.Unlocked(ctx)
	if err != nil {
		return 0, len(e.catalog), err
	}
	if len(e.catalog) > 0 {
		metrics.MilestonesProgress.Set(float64(len(unlocked)) / float64(len(e.catalog)))
	}
	return len(unlocked), len(e.catalog), nil
}
