// Package drain implements the node-local graceful-shutdown state
// machine: Running -> Draining -> Completing -> Exited (spec §4.3).
package drain

import (
	"context"
	"sync"
	"time"

	"github.com/adred-codev/pulse/internal/metrics"
	"github.com/adred-codev/pulse/internal/store"
	"github.com/rs/zerolog"
)

const concurrencyKey = "global:concurrent_connections"

// State is one of the four one-way transitions spec §4.3 defines.
type State string

const (
	StateRunning    State = "running"
	StateDraining   State = "draining"
	StateCompleting State = "completing"
	StateExited     State = "exited"
)

// ShutdownWarning is the shutdown_warning payload (spec §6).
type ShutdownWarning struct {
	Message         string `json:"message"`
	ReconnectDelayMS int64  `json:"reconnect_delay"`
}

// Broadcaster is the narrow slice of the lobby hub the coordinator
// needs to announce a shutdown warning.
type Broadcaster interface {
	Broadcast(msg any)
}

// Config controls the two drain timers.
type Config struct {
	ForceCompleteTimeout time.Duration
	HardShutdownTimeout  time.Duration
	ReconnectDelayMS     int64
}

// Coordinator is a single node-local object; all state mutation is
// serialized behind one mutex (spec §4.3: "no concurrent state
// mutation").
type Coordinator struct {
	mu             sync.Mutex
	state          State
	nodeLocalLive  int
	shutdownStarted time.Time

	cfg    Config
	store  store.Store
	lobby  Broadcaster
	logger zerolog.Logger

	// exitCh is closed once onCompleting finishes; main() waits on it
	// to know the process may exit.
	exitCh chan struct{}

	forceTimer *time.Timer
	hardTimer  *time.Timer
}

// New constructs a Coordinator in the Running state.
func New(s store.Store, lobby Broadcaster, cfg Config, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		state:  StateRunning,
		cfg:    cfg,
		store:  s,
		lobby:  lobby,
		logger: logger.With().Str("component", "drain").Logger(),
		exitCh: make(chan struct{}),
	}
}

// Register records a newly-admitted local client.
func (c *Coordinator) Register() {
	c.mu.Lock()
	c.nodeLocalLive++
	live := c.nodeLocalLive
	c.mu.Unlock()
	metrics.DrainNodeLocalLive.Set(float64(live))
}

// Unregister records a client leaving, clamped at zero. If the node is
// draining and the count reaches zero, it transitions to Completing.
func (c *Coordinator) Unregister() {
	c.mu.Lock()
	c.nodeLocalLive--
	if c.nodeLocalLive < 0 {
		c.nodeLocalLive = 0
	}
	shouldComplete := c.state == StateDraining && c.nodeLocalLive == 0
	live := c.nodeLocalLive
	c.mu.Unlock()
	metrics.DrainNodeLocalLive.Set(float64(live))

	if shouldComplete {
		c.onCompleting(context.Background())
	}
}

// Accepting reports whether the gateway may admit new connections.
func (c *Coordinator) Accepting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRunning || c.state == ""
}

// BeginDrain is idempotent. It flips to Draining, broadcasts a
// shutdown warning, and schedules the force-complete timer.
func (c *Coordinator) BeginDrain(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateDraining
	c.shutdownStarted = time.Now()
	liveNow := c.nodeLocalLive
	c.mu.Unlock()
	metrics.SetDrainState(string(StateDraining))

	c.logger.Info().Msg("drain started")
	c.lobby.Broadcast(ShutdownWarning{
		Message:          "This node is shutting down. Please reconnect shortly.",
		ReconnectDelayMS: c.cfg.ReconnectDelayMS,
	})

	c.forceTimer = time.AfterFunc(c.cfg.ForceCompleteTimeout, func() {
		c.onForceComplete(ctx)
	})
	c.hardTimer = time.AfterFunc(c.cfg.HardShutdownTimeout, func() {
		c.logger.Warn().Msg("hard shutdown timeout reached, exiting regardless of drain state")
		c.forceExit()
	})

	if liveNow == 0 {
		c.onCompleting(ctx)
	}
}

// onForceComplete transitions directly to Completing if still draining.
func (c *Coordinator) onForceComplete(ctx context.Context) {
	c.mu.Lock()
	stillDraining := c.state == StateDraining
	c.mu.Unlock()

	if stillDraining {
		c.logger.Warn().Msg("force-complete timeout reached while still draining")
		c.onCompleting(ctx)
	}
}

// onCompleting reconciles node-local count into the global counter,
// clamps at zero if it goes negative, and signals process exit.
func (c *Coordinator) onCompleting(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateCompleting || c.state == StateExited {
		c.mu.Unlock()
		return
	}
	c.state = StateCompleting
	stragglers := c.nodeLocalLive
	c.mu.Unlock()
	metrics.SetDrainState(string(StateCompleting))

	if stragglers > 0 {
		post, err := c.store.IncrBy(ctx, concurrencyKey, int64(-stragglers))
		if err != nil {
			c.logger.Warn().Err(err).Int("stragglers", stragglers).Msg("reconcile decrement failed")
		} else if post < 0 {
			if err := c.store.Set(ctx, concurrencyKey, "0"); err != nil {
				c.logger.Warn().Err(err).Msg("clamp to zero failed")
			}
		}
	}

	c.logger.Info().Int("stragglers_reconciled", stragglers).Msg("drain completing")
	c.forceExit()
}

func (c *Coordinator) forceExit() {
	c.mu.Lock()
	if c.state == StateExited {
		c.mu.Unlock()
		return
	}
	c.state = StateExited
	if c.forceTimer != nil {
		c.forceTimer.Stop()
	}
	if c.hardTimer != nil {
		c.hardTimer.Stop()
	}
	c.mu.Unlock()
	metrics.SetDrainState(string(StateExited))

	select {
	case <-c.exitCh:
	default:
		close(c.exitCh)
	}
}

// Done returns a channel closed once the coordinator reaches Exited.
func (c *Coordinator) Done() <-chan struct{} {
	return c.exitCh
}

// State returns the current state, for /health/status.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NodeLocalLive returns the current node-local live count.
func (c *Coordinator) NodeLocalLive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodeLocalLive
}
