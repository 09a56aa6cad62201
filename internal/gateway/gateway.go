// Package gateway is the Connection Gateway: the admission/upgrade
// path for a new socket (spec §4.7).
package gateway

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/adred-codev/pulse/internal/admission"
	"github.com/adred-codev/pulse/internal/corerr"
	"github.com/adred-codev/pulse/internal/drain"
	"github.com/adred-codev/pulse/internal/lobby"
	"github.com/adred-codev/pulse/internal/metrics"
	"github.com/adred-codev/pulse/internal/milestone"
	"github.com/adred-codev/pulse/internal/store"
	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
)

const (
	concurrencyKey  = "global:concurrent_connections"
	totalSecondsKey = "global:total_connection_seconds"
	peakKey         = "global:peak_connections"

	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sinkBuffer = 256
)

// Config wires a Gateway's dependencies.
type Config struct {
	Admission  *admission.Controller
	Drain      *drain.Coordinator
	Lobby      *lobby.Hub
	Milestones *milestone.Engine
	Store      store.Store
	Extractor  SourceExtractor
	Logger     zerolog.Logger
}

// Gateway accepts socket upgrades and runs each client's lifecycle.
type Gateway struct {
	admission  *admission.Controller
	drain      *drain.Coordinator
	lobby      *lobby.Hub
	milestones *milestone.Engine
	store      store.Store
	extractor  SourceExtractor
	logger     zerolog.Logger

	nextHandle int64
}

// New constructs a Gateway. Extractor defaults to DefaultSourceExtractor.
func New(cfg Config) *Gateway {
	extractor := cfg.Extractor
	if extractor == nil {
		extractor = DefaultSourceExtractor
	}
	return &Gateway{
		admission:  cfg.Admission,
		drain:      cfg.Drain,
		lobby:      cfg.Lobby,
		milestones: cfg.Milestones,
		store:      cfg.Store,
		extractor:  extractor,
		logger:     cfg.Logger.With().Str("component", "gateway").Logger(),
	}
}

// ServeHTTP implements the ten-step admission/upgrade/teardown
// sequence in spec §4.7.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source := g.extractor(r)

	// 1-2: admission check.
	if err := g.admission.Check(ctx, source); err != nil {
		g.logger.Debug().Str("source", source).Str("reason", corerr.RejectReason(err)).Msg("connection rejected by admission")
		http.Error(w, "connection refused: "+corerr.RejectReason(err), http.StatusServiceUnavailable)
		return
	}

	// 3: drain check.
	if !g.drain.Accepting() {
		g.logger.Debug().Str("source", source).Msg("connection rejected: node draining")
		http.Error(w, "connection refused: node draining", http.StatusServiceUnavailable)
		return
	}

	// 4: record admission, register with drain coordinator.
	g.admission.Record(source)
	g.drain.Register()

	// 5: upgrade, allocate handle + bounded sink.
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		g.drain.Unregister()
		g.logger.Warn().Err(err).Str("source", source).Msg("websocket upgrade failed")
		return
	}

	handle := atomic.AddInt64(&g.nextHandle, 1)

	// 6: commit the admit in the global counter. Failure here takes
	// integrity over accepting the client (spec §4.7 step 6).
	newCount, err := g.store.Incr(ctx, concurrencyKey)
	if err != nil {
		g.logger.Warn().Err(err).Str("source", source).Msg("incr concurrent_connections failed, refusing client")
		conn.Close()
		g.drain.Unregister()
		return
	}
	metrics.ConnectionsTotal.Inc()

	sink := lobby.NewSink(sinkBuffer, func() { conn.Close() })

	// 7: join the lobby.
	g.lobby.Join(handle, sink)

	// 8: post-join task — milestone evaluation, welcome, peer update.
	go g.postJoin(context.Background(), handle, newCount)

	go g.writePump(conn, sink)
	g.readLoop(ctx, conn, handle, true)
}

// postJoin runs the milestone invocation and delivers the welcome
// message plus a peer-facing state_update (spec §4.7 step 8).
func (g *Gateway) postJoin(ctx context.Context, handle int64, newCount int64) {
	currentTotal, present, err := g.store.GetInt(ctx, totalSecondsKey)
	if err != nil {
		g.logger.Warn().Err(err).Msg("postJoin: read total_connection_seconds failed")
	}
	if !present {
		currentTotal = 0
	}

	if _, err := g.milestones.Evaluate(ctx, milestone.Input{
		ConcurrentConnections:  newCount,
		TotalConnectionSeconds: currentTotal,
	}); err != nil {
		g.logger.Warn().Err(err).Msg("postJoin: milestone evaluation skipped")
	}

	peak, present, err := g.store.GetInt(ctx, peakKey)
	if err != nil || !present {
		peak = newCount
	}

	unlocked, err := g.milestones.Unlocked(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("postJoin: failed to load unlocked milestones for welcome")
	}

	g.lobby.SendTo(handle, lobby.Welcome{
		ConcurrentConnections:  newCount,
		TotalConnectionSeconds: currentTotal,
		PeakConnections:        peak,
		UnlockedMilestones:     unlocked,
	})

	g.lobby.BroadcastFrom(handle, lobby.StateUpdate{
		ConcurrentConnections:  newCount,
		TotalConnectionSeconds: currentTotal,
		PeakConnections:        peak,
	})
}

// teardown implements spec §4.7 step 10. committed is true only if the
// admit's Incr fully landed — readLoop always calls this with true
// since ServeHTTP never reaches the read loop otherwise.
func (g *Gateway) teardown(handle int64, committed bool) {
	g.lobby.Leave(handle)

	if committed {
		post, err := g.store.Decr(context.Background(), concurrencyKey)
		if err != nil {
			g.logger.Warn().Err(err).Int64("handle", handle).Msg("teardown: decr concurrent_connections failed")
		} else if post < 0 {
			if err := g.store.Set(context.Background(), concurrencyKey, "0"); err != nil {
				g.logger.Warn().Err(err).Msg("teardown: clamp to zero failed")
			}
		}
	}

	g.drain.Unregister()

	live, present, err := g.store.GetInt(context.Background(), concurrencyKey)
	if err != nil || !present {
		live = 0
	}
	total, present, err := g.store.GetInt(context.Background(), totalSecondsKey)
	if err != nil || !present {
		total = 0
	}
	peak, present, err := g.store.GetInt(context.Background(), peakKey)
	if err != nil || !present {
		peak = live
	}

	g.lobby.Broadcast(lobby.StateUpdate{
		ConcurrentConnections:  live,
		TotalConnectionSeconds: total,
		PeakConnections:        peak,
	})
}
