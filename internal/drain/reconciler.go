package drain

import (
	"context"
	"fmt"
	"time"

	"github.com/adred-codev/pulse/internal/metrics"
	"github.com/adred-codev/pulse/internal/store"
	"github.com/rs/zerolog"
)

const (
	activeNodesKey    = "global:active_nodes"
	nodeLiveKeyPrefix = "global:node_live:"

	// heartbeatTTL bounds how long a node's last-reported live count is
	// trusted after it stops renewing. A crashed node's heartbeat key
	// expires within this window, so its stale count stops being summed
	// into drift and its node ID gets pruned from the active set.
	heartbeatTTL = 30 * time.Second
)

// Reconciler is the optional, observability-only counter-drift check
// spec §4.8 and §9 describe: it periodically compares the sum of
// node-local live counts it can observe against the global counter
// and logs a warning on divergence. It never corrects the counter —
// spec §9 accepts the drift as a known open question and only asks
// for an optional comparison.
type Reconciler struct {
	nodeID   string
	interval time.Duration
	store    store.Store
	coord    *Coordinator
	logger   zerolog.Logger
}

// NewReconciler constructs a Reconciler for one node.
func NewReconciler(nodeID string, interval time.Duration, s store.Store, coord *Coordinator, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		nodeID:   nodeID,
		interval: interval,
		store:    s,
		coord:    coord,
		logger:   logger.With().Str("component", "reconciler").Logger(),
	}
}

// Run publishes this node's live count and compares cluster-wide
// totals every interval, until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	live := r.coord.NodeLocalLive()
	nodeKey := nodeLiveKeyPrefix + r.nodeID

	if err := r.store.SetWithTTL(ctx, nodeKey, fmt.Sprintf("%d", live), int64(heartbeatTTL/time.Second)); err != nil {
		r.logger.Warn().Err(err).Msg("publish node-local live count failed")
		return
	}
	if _, err := r.store.SetAdd(ctx, activeNodesKey, r.nodeID); err != nil {
		r.logger.Warn().Err(err).Msg("register active node failed")
		return
	}

	nodes, err := r.store.SetMembers(ctx, activeNodesKey)
	if err != nil {
		r.logger.Warn().Err(err).Msg("list active nodes failed")
		return
	}

	var sum int64
	for _, node := range nodes {
		v, present, err := r.store.GetInt(ctx, nodeLiveKeyPrefix+node)
		if err != nil || !present {
			// Heartbeat key expired: the node is gone or crashed.
			// Prune it so it doesn't grow the active set forever.
			if node != r.nodeID {
				if err := r.store.SetRemove(ctx, activeNodesKey, node); err != nil {
					r.logger.Warn().Err(err).Str("node", node).Msg("prune stale active node failed")
				}
			}
			continue
		}
		sum += v
	}

	global, present, err := r.store.GetInt(ctx, concurrencyKey)
	if err != nil {
		r.logger.Warn().Err(err).Msg("read global counter failed")
		return
	}
	if !present {
		global = 0
	}

	drift := global - sum
	metrics.ReconcileDrift.Set(float64(drift))

	if sum != global {
		r.logger.Warn().
			Int64("sum_of_node_local_live", sum).
			Int64("global_concurrent_connections", global).
			Int("observed_nodes", len(nodes)).
			Msg("counter drift detected between node-local sum and global counter")
	}
}
