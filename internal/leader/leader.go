// Package leader provides the pluggable single-leader election the
// time engine needs: spec §4.5 requires the tick task run on exactly
// one node, but leaves the mechanism "external (any single-leader
// mechanism provided by the deployment)" (spec §9).
package leader

import (
	"context"
	"time"

	"github.com/adred-codev/pulse/internal/store"
	"github.com/rs/zerolog"
)

// Elector reports whether this node currently holds the tick lease.
type Elector interface {
	// IsLeader returns the most recently observed leadership state.
	// It never blocks on the network — callers on the tick's hot path
	// read a cached value refreshed by a background renewal loop.
	IsLeader() bool
	// Run drives lease acquisition/renewal until ctx is cancelled.
	Run(ctx context.Context)
}

// SoloElector always reports true. It is the correct choice for a
// single-node deployment, or local development, where there is no
// other node to contend with.
type SoloElector struct{}

func (SoloElector) IsLeader() bool     { return true }
func (SoloElector) Run(ctx context.Context) { <-ctx.Done() }

const leaseKey = "global:tick_leader"

// RedisElector holds the tick lease using the store's set_nx primitive
// with a TTL: SET NX PX in Redis terms. One node wins the lease,
// renews it before it expires, and every other node's elector reports
// IsLeader() == false until the holder's renewal lapses.
type RedisElector struct {
	nodeID   string
	ttl      time.Duration
	renew    time.Duration
	store    store.Store
	logger   zerolog.Logger
	leading  chan bool
	isLeader bool
}

// NewRedisElector constructs a RedisElector. ttl must be greater than
// renew so a healthy leader always renews before its lease lapses.
func NewRedisElector(nodeID string, ttl, renew time.Duration, s store.Store, logger zerolog.Logger) *RedisElector {
	return &RedisElector{
		nodeID:  nodeID,
		ttl:     ttl,
		renew:   renew,
		store:   s,
		logger:  logger.With().Str("component", "leader").Logger(),
		leading: make(chan bool, 1),
	}
}

func (e *RedisElector) IsLeader() bool {
	select {
	case v := <-e.leading:
		e.isLeader = v
		return v
	default:
		return e.isLeader
	}
}

// Run attempts to acquire the lease via set_nx, and while held, renews
// it every renew interval through set_with_ttl so the lease key always
// carries a fresh expiration and never outlives a crashed holder.
func (e *RedisElector) Run(ctx context.Context) {
	ticker := time.NewTicker(e.renew)
	defer ticker.Stop()

	e.attempt(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.attempt(ctx)
		}
	}
}

func (e *RedisElector) attempt(ctx context.Context) {
	if e.isLeader {
		// Re-assert the lease with a fresh TTL. A plain set_nx would
		// fail since the key still exists; set_with_ttl writes it
		// unconditionally but, unlike a bare set, never drops the
		// expiration — a renewal that stripped the TTL would leave a
		// dead node's lease key alive in the store forever, permanently
		// blocking any other node's set_nx from ever winning it.
		if err := e.store.SetWithTTL(ctx, leaseKey, e.nodeID, int64(e.ttl/time.Second)); err != nil {
			e.logger.Warn().Err(err).Msg("lease renewal failed, relinquishing leadership")
			e.setLeading(false)
		}
		return
	}

	acquired, err := e.store.SetNX(ctx, leaseKey, e.nodeID, int64(e.ttl/time.Second))
	if err != nil {
		e.logger.Warn().Err(err).Msg("lease acquisition attempt failed")
		return
	}
	if acquired {
		e.logger.Info().Msg("acquired tick leadership")
	}
	e.setLeading(acquired)
}

// Release relinquishes a held lease immediately, for graceful shutdown
// (spec §4.5/§9: a clean handoff should not make the next leader wait
// out the full lease TTL). It is best-effort and not compare-and-delete
// guarded — by the time it runs the caller has already stopped Run, so
// no concurrent renewal can race it — but it is still a no-op if this
// node never held the lease.
func (e *RedisElector) Release(ctx context.Context) {
	if !e.isLeader {
		return
	}
	if err := e.store.Delete(ctx, leaseKey); err != nil {
		e.logger.Warn().Err(err).Msg("failed to release tick leadership lease")
		return
	}
	e.setLeading(false)
	e.logger.Info().Msg("released tick leadership")
}

func (e *RedisElector) setLeading(v bool) {
	e.isLeader = v
	select {
	case <-e.leading:
	default:
	}
	e.leading <- v
}
