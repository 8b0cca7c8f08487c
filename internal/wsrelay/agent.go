package wsrelay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/FOL9/machin-api/internal/envelope"
	"github.com/FOL9/machin-api/internal/relay"
)

// registrationTimeout bounds how long the agent socket handler waits for
// the first (register) frame before giving up on the handshake.
const registrationTimeout = 10 * time.Second

// AgentHandler upgrades GET /agent/ws and relays one agent connection's
// frames into its session for as long as the connection lasts.
type AgentHandler struct {
	Registry *relay.Registry
}

func NewAgentHandler(r *relay.Registry) *AgentHandler {
	return &AgentHandler{Registry: r}
}

func (h *AgentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("agent websocket upgrade failed")
		return
	}
	prepareConn(conn)

	reg, err := h.awaitRegistration(conn)
	if err != nil {
		log.Warn().Err(err).Msg("agent registration failed")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4000, "registration failed"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	session, err := h.Registry.Create(reg.Name, reg.Rows, reg.Cols)
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		conn.Close()
		return
	}

	out := relay.NewOutbox()
	session.AttachAgent(out)

	reply := envelope.Session(session.ID, "__SERVER__/s/"+session.ID)
	raw, _ := envelope.Encode(reply)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		log.Debug().Err(err).Str("sid", session.ID).Msg("failed to send session reply")
		conn.Close()
		return
	}

	log.Info().Str("sid", session.ID).Str("name", session.Name).Msg("agent attached")

	go writePump(conn, out)
	h.relayLoop(conn, session)

	targets := session.DetachAgent()
	relay.SendDisconnect(targets, "Agent '"+session.Name+"' disconnected")
	h.Registry.SchedulePrune(session.ID)
	log.Info().Str("sid", session.ID).Msg("agent detached")
}

// awaitRegistration waits up to registrationTimeout for a well-formed
// register frame. Any timeout, transport error, or wrong-type frame is a
// protocol violation and closes the connection (steady-state frames are
// forgiving of malformed input; the handshake is not).
func (h *AgentHandler) awaitRegistration(conn *websocket.Conn) (envelope.Message, error) {
	type result struct {
		msg envelope.Message
		err error
	}
	ch := make(chan result, 1)

	go func() {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			ch <- result{err: err}
			return
		}
		msg, err := envelope.Parse(raw)
		if err != nil {
			ch <- result{err: err}
			return
		}
		if msg.Type != envelope.TypeRegister {
			ch <- result{err: errUnexpectedFrame}
			return
		}
		ch <- result{msg: msg}
	}()

	select {
	case res := <-ch:
		return res.msg, res.err
	case <-time.After(registrationTimeout):
		return envelope.Message{}, errRegistrationTimeout
	}
}

// relayLoop reads frames from the agent connection until it closes. Output
// and pong frames are fanned out to viewers; anything else, including
// decode failures, is silently ignored per the protocol's steady-state
// tolerance of malformed input.
func (h *AgentHandler) relayLoop(conn *websocket.Conn, session *relay.Session) {
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
		case envelope.TypeOutput:
			session.BroadcastOutput(msg.Data)
		case envelope.TypePong:
			session.BroadcastPong()
		}
	}
}
