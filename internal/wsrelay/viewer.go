package wsrelay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/FOL9/machin-api/internal/envelope"
	"github.com/FOL9/machin-api/internal/relay"
)

// ViewerHandler upgrades GET /viewer/ws/{sid} and relays one viewer's
// frames against its session for as long as the connection lasts.
type ViewerHandler struct {
	Registry *relay.Registry
}

func NewViewerHandler(r *relay.Registry) *ViewerHandler {
	return &ViewerHandler{Registry: r}
}

func (h *ViewerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("viewer websocket upgrade failed")
		return
	}
	prepareConn(conn)

	session, err := h.Registry.Get(sid)
	if err != nil {
		h.sendNotFound(conn, sid)
		return
	}

	out := relay.NewOutbox()
	session.AddViewer(out) // primes replay + meta before this viewer can see live frames

	go writePump(conn, out)

	log.Info().Str("sid", sid).Int("viewers", session.ViewerCount()).Msg("viewer joined")
	h.relayLoop(conn, session, out)

	session.RemoveViewer(out)
	log.Info().Str("sid", sid).Int("viewers", session.ViewerCount()).Msg("viewer left")
}

func (h *ViewerHandler) sendNotFound(conn *websocket.Conn, sid string) {
	msg := envelope.Error("Session '" + sid + "' not found or expired.")
	raw, _ := envelope.Encode(msg)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, raw)
	conn.Close()
}

// relayLoop reads frames from the viewer connection until it closes. All
// replies go through out (drained by writePump) rather than conn directly —
// a websocket connection supports only one concurrent writer, and writePump
// already owns that role for this connection.
func (h *ViewerHandler) relayLoop(conn *websocket.Conn, session *relay.Session, out relay.Outbox) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := envelope.Parse(raw)
		if err != nil {
			continue
		}

		switch msg.Type {
		case envelope.TypePing:
			if !session.ForwardToAgent(envelope.Ping()) {
				// Agent unreachable: answer directly so latency still updates.
				select {
				case out <- envelope.Pong():
				default:
				}
			}

		case envelope.TypeInput:
			session.ForwardToAgent(msg)

		case envelope.TypeResize:
			session.Resize(msg.Rows, msg.Cols)
			session.ForwardToAgent(msg)
			session.BroadcastMeta()
		}
	}
}
