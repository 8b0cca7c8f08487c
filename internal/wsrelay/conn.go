// Package wsrelay implements the two WebSocket-facing halves of the
// session relay: the agent socket handler and the viewer socket handler.
// Both share a connection-pump pattern: a buffered outbound queue drained
// by a dedicated writer goroutine, so a slow peer never blocks a broadcast
// to anyone else.
package wsrelay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FOL9/machin-api/internal/envelope"
	"github.com/FOL9/machin-api/internal/relay"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 30 * time.Second
	// pingPeriod must stay comfortably under pongWait so a missed pong is
	// detected before the peer's read deadline would otherwise expire.
	pingPeriod     = 20 * time.Second
	maxMessageSize = 10 * 1024 * 1024 // 10 MiB inbound cap, per the resource model
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// writePump drains out onto conn until out is closed or a write fails. It
// also emits transport-level pings on pingPeriod as the channel heartbeat
// independent from the protocol-level ping/pong frames in internal/envelope,
// which measure viewer<->agent latency rather than transport liveness.
func writePump(conn *websocket.Conn, out relay.Outbox) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case msg, ok := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			raw, err := envelope.Encode(msg)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// prepareConn applies the shared read-side limits: max inbound frame size
// and the pong-driven read deadline that keeps a connection alive only as
// long as it answers transport pings.
func prepareConn(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}
