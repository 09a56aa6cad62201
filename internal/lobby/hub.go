// Package lobby is the per-node fan-out for the single logical "lobby"
// topic every client joins (spec §4.4). Delivery is best-effort and
// non-blocking: a slow sink never stalls delivery to the rest.
package lobby

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Sink is the per-client delivery target the gateway registers on
// join. The hub enqueues pre-serialized frame bytes on its channel
// without blocking; closeFn hard-closes the underlying socket (used on
// a full buffer for a critical message).
type Sink struct {
	ch      chan []byte
	closeFn func()
}

// NewSink wraps a buffered channel and a close callback. The gateway
// owns draining ch in its write pump; the channel's capacity is the
// bounded per-client buffer spec §4.4 requires.
func NewSink(buffer int, closeFn func()) *Sink {
	return &Sink{ch: make(chan []byte, buffer), closeFn: closeFn}
}

// Chan exposes the channel the gateway's write pump reads from.
func (s *Sink) Chan() <-chan []byte { return s.ch }

// Hub tracks every live client handle on this node and fans out
// broadcasts to their sinks. All map mutation is serialized behind a
// single mutex; delivery to an individual sink never holds it (spec
// §5: per-sink serialization, no lock held across a suspension point).
type Hub struct {
	mu    sync.RWMutex
	sinks map[int64]*Sink

	transport Transport
	logger    zerolog.Logger
}

// Transport is the cross-node fan-out side channel (spec §4.4:
// "cross-node propagation is via the same external key/value store's
// publish capability or an equivalent side channel"). A Hub works
// standalone with a nil Transport for single-node deployments.
type Transport interface {
	Publish(data []byte) error
}

// New constructs an empty Hub. Call SetTransport before the first
// broadcast if this node participates in a multi-node cluster.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		sinks:  make(map[int64]*Sink),
		logger: logger.With().Str("component", "lobby").Logger(),
	}
}

// SetTransport attaches the cross-node publish side channel.
func (h *Hub) SetTransport(t Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transport = t
}

// Join registers a sink under handle; subsequent broadcasts deliver to it.
func (h *Hub) Join(handle int64, sink *Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks[handle] = sink
}

// Leave unregisters handle. Safe to call more than once.
func (h *Hub) Leave(handle int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sinks, handle)
}

// Count returns the number of sinks currently registered on this node.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}

// Broadcast delivers msg to every sink on this node, then republishes
// it to the cross-node transport so every other node delivers it too.
func (h *Hub) Broadcast(msg any) {
	h.broadcast(-1, msg, true)
}

// BroadcastFrom delivers msg to every sink on this node except
// exclude, then republishes cross-node (the excluded handle is only
// meaningful locally — other nodes have no sink for it anyway).
func (h *Hub) BroadcastFrom(exclude int64, msg any) {
	h.broadcast(exclude, msg, true)
}

// IngestRemote is called by the cross-node transport when a broadcast
// published by another node arrives. It replays local delivery only —
// republishing it would echo the message back out to the cluster.
func (h *Hub) IngestRemote(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.logger.Warn().Err(err).Msg("failed to parse remote broadcast envelope")
		return
	}
	h.deliverLocal(-1, data, isCriticalType(env.Type))
}

func (h *Hub) broadcast(exclude int64, msg any, publish bool) {
	data, err := json.Marshal(envelope{Type: wireType(msg), Data: msg})
	if err != nil {
		h.logger.Error().Err(err).Str("type", wireType(msg)).Msg("marshal broadcast failed")
		return
	}
	critical := isCritical(msg)

	h.deliverLocal(exclude, data, critical)

	h.mu.RLock()
	transport := h.transport
	h.mu.RUnlock()

	if publish && transport != nil {
		if err := transport.Publish(data); err != nil {
			h.logger.Warn().Err(err).Msg("cross-node publish failed")
		}
	}
}

func (h *Hub) deliverLocal(exclude int64, data []byte, critical bool) {
	h.mu.RLock()
	sinks := make(map[int64]*Sink, len(h.sinks))
	for handle, sink := range h.sinks {
		if handle == exclude {
			continue
		}
		sinks[handle] = sink
	}
	h.mu.RUnlock()

	for handle, sink := range sinks {
		h.deliver(handle, sink, data, critical)
	}
}

// SendTo delivers msg to exactly one sink (the welcome message).
func (h *Hub) SendTo(handle int64, msg any) {
	data, err := json.Marshal(envelope{Type: wireType(msg), Data: msg})
	if err != nil {
		h.logger.Error().Err(err).Str("type", wireType(msg)).Msg("marshal direct send failed")
		return
	}

	h.mu.RLock()
	sink, ok := h.sinks[handle]
	h.mu.RUnlock()
	if !ok {
		return
	}

	h.deliver(handle, sink, data, isCritical(msg))
}

// deliver is the non-blocking send/coalesce/close-on-violation
// algorithm spec §4.4 requires. A full buffer on a coalescable
// message drops the oldest queued entry and retries once, unless that
// entry is itself critical, in which case the socket is closed; a full
// buffer on a critical message closes the socket instead.
func (h *Hub) deliver(handle int64, sink *Sink, data []byte, critical bool) {
	select {
	case sink.ch <- data:
		return
	default:
	}

	if critical {
		h.logger.Warn().Int64("handle", handle).Msg("critical message dropped: buffer full, closing socket")
		sink.closeFn()
		return
	}

	select {
	case old := <-sink.ch:
		var env envelope
		if json.Unmarshal(old, &env) == nil && (isCriticalType(env.Type) || env.Type == "welcome") {
			h.logger.Warn().Int64("handle", handle).Msg("critical message evicted: buffer full, closing socket")
			sink.closeFn()
			return
		}
	default:
	}
	select {
	case sink.ch <- data:
	default:
		h.logger.Debug().Int64("handle", handle).Msg("coalescable message dropped: buffer still full after eviction")
	}
}
