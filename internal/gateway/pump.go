package gateway

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/adred-codev/pulse/internal/lobby"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/time/rate"
)

// inboundFrameBurst/inboundFrameRate bound how fast a single socket
// may push frames at the read loop. Clients are silent witnesses per
// protocol, so this only matters for a buggy or hostile peer; grounded
// on the teacher's per-client token bucket in pump_read.go, sized the
// same (100 burst, 10/sec sustained).
const (
	inboundFrameBurst = 100
	inboundFrameRate  = 10
)

// writePump drains sink into the socket, batching whatever has queued
// up since the last flush and injecting a ping on the idle ticker.
// Grounded on the teacher's batching write pump; Pulse's payloads are
// small JSON frames rather than a high-frequency market feed, so the
// batching mostly absorbs bursts around a tick or a mass-reconnect.
func (g *Gateway) writePump(conn net.Conn, sink *lobby.Sink) {
	writer := bufio.NewWriter(conn)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-sink.Chan():
			if !ok {
				wsutil.WriteServerMessage(conn, ws.OpClose, nil)
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, data); err != nil {
				return
			}

			n := len(sink.Chan())
			for i := 0; i < n; i++ {
				more := <-sink.Chan()
				if err := wsutil.WriteServerMessage(writer, ws.OpText, more); err != nil {
					return
				}
			}
			if err := writer.Flush(); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

// readLoop implements spec §4.7 step 9: the client sends nothing
// meaningful, so every frame is discarded except close, which ends the
// loop. committed mirrors whether step 6's incr landed, so teardown
// knows whether to decrement.
func (g *Gateway) readLoop(ctx context.Context, conn net.Conn, handle int64, committed bool) {
	defer g.teardown(handle, committed)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	limiter := rate.NewLimiter(rate.Limit(inboundFrameRate), inboundFrameBurst)

	for {
		_, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if !limiter.Allow() {
			g.logger.Debug().Int64("handle", handle).Msg("inbound frame rate exceeded, dropping")
			continue
		}

		switch op {
		case ws.OpClose:
			return
		case ws.OpPing, ws.OpText, ws.OpBinary:
			// Heartbeats and any stray payload are discarded; gobwas
			// answers pings with pongs automatically.
		}
	}
}
