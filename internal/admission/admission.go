// Package admission implements the per-source rolling-window rate
// limit, the global per-second rate limit, and the hard global
// capacity check new connections must pass (spec §4.2).
package admission

import (
	"context"
	"sync"
	"time"

	"github.com/adred-codev/pulse/internal/corerr"
	"github.com/adred-codev/pulse/internal/metrics"
	"github.com/adred-codev/pulse/internal/store"
	"github.com/rs/zerolog"
)

const (
	sourceWindow     = 60 * time.Second
	sweepInterval    = 30 * time.Second
	concurrencyKey   = "global:concurrent_connections"
)

// Config holds the three hot-swappable limits. The store the capacity
// check reads from is passed to New separately.
type Config struct {
	MaxPerSourcePerMinute int
	MaxGlobalPerSecond    int
	MaxGlobal             int
}

// Stats is the snapshot returned by (*Controller).Stats.
type Stats struct {
	TrackedSources         int `json:"tracked_sources"`
	RejectedSourceLimited  int64 `json:"rejected_source_limited"`
	RejectedGlobalLimited  int64 `json:"rejected_global_limited"`
	RejectedCapacityExceeded int64 `json:"rejected_capacity_exceeded"`
	Admitted               int64 `json:"admitted"`
	Config                 Config `json:"config"`
}

// Controller holds the two in-memory tables spec §4.2 describes and
// the hot-swappable limit config. All mutable state is protected by a
// single mutex; the store capacity check is issued with the mutex
// released (spec §5: "no task holds a shared lock across a
// suspension point").
type Controller struct {
	mu         sync.Mutex
	perSource  map[string][]time.Time
	globalSec  int64
	globalCount int

	admitted       int64
	rejSource      int64
	rejGlobal      int64
	rejCapacity    int64

	cfg    Config
	store  store.Store
	logger zerolog.Logger

	stopSweep chan struct{}
}

// New constructs a Controller and starts its 30s background sweeper.
func New(s store.Store, cfg Config, logger zerolog.Logger) *Controller {
	c := &Controller{
		perSource: make(map[string][]time.Time),
		cfg:       cfg,
		store:     s,
		logger:    logger.With().Str("component", "admission").Logger(),
		stopSweep: make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Check runs the three-stage algorithm in spec §4.2 and returns nil
// when the source may proceed, or a corerr sentinel-wrapped error
// otherwise.
func (c *Controller) Check(ctx context.Context, sourceID string) error {
	now := time.Now()

	c.mu.Lock()
	if rejected := c.checkSourceLocked(sourceID, now); rejected {
		c.rejSource++
		c.mu.Unlock()
		c.logger.Debug().Str("source", sourceID).Msg("rejected: source rate limited")
		metrics.RecordRejection("source_rate_limited")
		return corerr.Wrap(corerr.ErrSourceRateLimited, sourceID)
	}
	if rejected := c.checkGlobalLocked(now); rejected {
		c.rejGlobal++
		c.mu.Unlock()
		c.logger.Debug().Str("source", sourceID).Msg("rejected: global rate limited")
		metrics.RecordRejection("global_rate_limited")
		return corerr.Wrap(corerr.ErrGlobalRateLimited, sourceID)
	}
	c.mu.Unlock()

	// Capacity check against the store happens with no lock held — a
	// store round trip must never block every other admission check.
	live, present, err := c.store.GetInt(ctx, concurrencyKey)
	if err != nil {
		// Store is not the source of truth for liveness; a failure here
		// opens admission rather than amplifying an outage (spec §4.2).
		c.logger.Warn().Err(err).Msg("capacity check: store unavailable, admitting open")
		return nil
	}
	if !present {
		live = 0
	}
	if live >= int64(c.cfg.MaxGlobal) {
		c.mu.Lock()
		c.rejCapacity++
		c.mu.Unlock()
		c.logger.Debug().Str("source", sourceID).Int64("live", live).Msg("rejected: capacity exceeded")
		metrics.RecordRejection("capacity_exceeded")
		return corerr.Wrap(corerr.ErrCapacityExceeded, sourceID)
	}

	return nil
}

// Record appends the current-second timestamp to both tables. Must be
// called only after Check returns nil (spec §4.2).
func (c *Controller) Record(sourceID string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.perSource[sourceID] = append(c.perSource[sourceID], now)

	sec := now.Unix()
	if sec == c.globalSec {
		c.globalCount++
	} else {
		c.globalSec = sec
		c.globalCount = 1
	}

	c.admitted++
}

func (c *Controller) checkSourceLocked(sourceID string, now time.Time) bool {
	cutoff := now.Add(-sourceWindow)
	timestamps := c.perSource[sourceID]

	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.perSource[sourceID] = kept

	return len(kept) >= c.cfg.MaxPerSourcePerMinute
}

func (c *Controller) checkGlobalLocked(now time.Time) bool {
	sec := now.Unix()
	if sec != c.globalSec {
		return false
	}
	return c.globalCount >= c.cfg.MaxGlobalPerSecond
}

// Reconfigure hot-swaps the three limit values.
func (c *Controller) Reconfigure(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.logger.Info().
		Int("max_per_source_per_minute", cfg.MaxPerSourcePerMinute).
		Int("max_global_per_second", cfg.MaxGlobalPerSecond).
		Int("max_global", cfg.MaxGlobal).
		Msg("admission limits reconfigured")
}

// Stats returns totals, rejection counts by reason, and current config.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		TrackedSources:           len(c.perSource),
		RejectedSourceLimited:    c.rejSource,
		RejectedGlobalLimited:    c.rejGlobal,
		RejectedCapacityExceeded: c.rejCapacity,
		Admitted:                 c.admitted,
		Config:                   c.cfg,
	}
}

func (c *Controller) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopSweep:
			return
		}
	}
}

// sweep drops stale per-source timestamps, deletes sources with no
// entries left, and clears the global-second counter once its second
// has passed.
func (c *Controller) sweep() {
	now := time.Now()
	cutoff := now.Add(-sourceWindow)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for source, timestamps := range c.perSource {
		kept := timestamps[:0]
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(c.perSource, source)
			removed++
		} else {
			c.perSource[source] = kept
		}
	}

	if c.globalSec != 0 && c.globalSec != now.Unix() {
		c.globalCount = 0
	}

	if removed > 0 {
		c.logger.Debug().Int("removed_sources", removed).Int("remaining_sources", len(c.perSource)).Msg("admission sweep complete")
	}
}

// Stop halts the background sweeper. Safe to call once during shutdown.
func (c *Controller) Stop() {
	close(c.stopSweep)
}
