package lobby

import (
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const broadcastSubject = "pulse.lobby.broadcast"

// NATSTransport is the cross-node fan-out side channel spec §4.4 asks
// for: "a shared message channel in the external store, a gossip
// mesh, or a small in-cluster bus" (spec §9). NATS core pub/sub is the
// in-cluster bus: every node subscribes to the same subject and, by
// default, would receive its own publishes back. Connect disables that
// with nats.NoEcho() so a node never re-delivers its own broadcast a
// second time through IngestRemote.
type NATSTransport struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	hub    *Hub
	logger zerolog.Logger
}

// Connect dials url and subscribes broadcastSubject, delivering every
// received message into hub via IngestRemote.
func Connect(url string, hub *Hub, logger zerolog.Logger) (*NATSTransport, error) {
	logger = logger.With().Str("component", "lobby_transport").Logger()

	conn, err := nats.Connect(url, nats.Name("pulse"), nats.NoEcho())
	if err != nil {
		return nil, err
	}

	t := &NATSTransport{conn: conn, hub: hub, logger: logger}

	sub, err := conn.Subscribe(broadcastSubject, func(msg *nats.Msg) {
		hub.IngestRemote(msg.Data)
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	t.sub = sub

	logger.Info().Str("url", url).Str("subject", broadcastSubject).Msg("connected to cross-node fan-out transport")
	return t, nil
}

// Publish implements Transport.
func (t *NATSTransport) Publish(data []byte) error {
	return t.conn.Publish(broadcastSubject, data)
}

// Close unsubscribes and closes the connection.
func (t *NATSTransport) Close() {
	if t.sub != nil {
		_ = t.sub.Unsubscribe()
	}
	t.conn.Close()
}
