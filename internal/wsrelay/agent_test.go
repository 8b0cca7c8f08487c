package wsrelay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FOL9/machin-api/internal/envelope"
	"github.com/FOL9/machin-api/internal/relay"
)

func setupTestServer(t *testing.T) (*httptest.Server, *relay.Registry, func()) {
	reg := relay.NewRegistry()
	agentH := NewAgentHandler(reg)
	viewerH := NewViewerHandler(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /agent/ws", agentH.ServeHTTP)
	mux.HandleFunc("GET /viewer/ws/{sid}", viewerH.ServeHTTP)

	server := httptest.NewServer(mux)
	return server, reg, server.Close
}

func agentURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/agent/ws"
}

func viewerURL(server *httptest.Server, sid string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/viewer/ws/" + sid
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, m envelope.Message) {
	t.Helper()
	raw, err := envelope.Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readMsg(t *testing.T, conn *websocket.Conn) envelope.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := envelope.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return msg
}

// drainJoinFrames reads and discards a newly-joined viewer's replay and
// meta frames, the pair every join always sends first.
func drainJoinFrames(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	readMsg(t, conn) // replay (possibly empty)
	readMsg(t, conn) // meta
}

func registerAgent(t *testing.T, conn *websocket.Conn, name string) string {
	t.Helper()
	send(t, conn, envelope.Register(name, "/bin/sh", 24, 80))
	reply := readMsg(t, conn)
	if reply.Type != envelope.TypeSession {
		t.Fatalf("expected session reply, got %q", reply.Type)
	}
	return reply.SID
}

func TestAgentRegistrationYieldsSessionID(t *testing.T) {
	server, _, cleanup := setupTestServer(t)
	defer cleanup()

	conn := dial(t, agentURL(server))
	defer conn.Close()

	sid := registerAgent(t, conn, "box")
	if len(sid) != 10 {
		t.Fatalf("expected a 10-char session id, got %q", sid)
	}
}

func TestAgentRegistrationRejectsNonRegisterFrame(t *testing.T) {
	server, _, cleanup := setupTestServer(t)
	defer cleanup()

	conn := dial(t, agentURL(server))
	defer conn.Close()

	// Any non-register frame during the handshake window is a protocol
	// violation; the server closes with application close code 4000.
	send(t, conn, envelope.Ping())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected connection to be closed after unexpected frame")
	}
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close error, got %v", err)
	}
	if closeErr.Code != 4000 {
		t.Fatalf("expected close code 4000, got %d", closeErr.Code)
	}
}

func TestViewerJoinAfterAgentReceivesLiveOutput(t *testing.T) {
	server, _, cleanup := setupTestServer(t)
	defer cleanup()

	agentConn := dial(t, agentURL(server))
	defer agentConn.Close()
	sid := registerAgent(t, agentConn, "box")

	viewerConn := dial(t, viewerURL(server, sid))
	defer viewerConn.Close()

	// A viewer's first two frames are always the (possibly empty) scrollback
	// replay, then a meta frame.
	replay := readMsg(t, viewerConn)
	if replay.Type != envelope.TypeOutput || replay.Data != "" {
		t.Fatalf("expected empty replay frame first, got %+v", replay)
	}
	meta := readMsg(t, viewerConn)
	if meta.Type != envelope.TypeMeta {
		t.Fatalf("expected meta frame after replay, got %q", meta.Type)
	}

	send(t, agentConn, envelope.Output("hello viewer"))

	out := readMsg(t, viewerConn)
	if out.Type != envelope.TypeOutput || out.Data != "hello viewer" {
		t.Fatalf("unexpected output frame: %+v", out)
	}
}

func TestLateJoiningViewerReplaysScrollback(t *testing.T) {
	server, _, cleanup := setupTestServer(t)
	defer cleanup()

	agentConn := dial(t, agentURL(server))
	defer agentConn.Close()
	sid := registerAgent(t, agentConn, "box")

	send(t, agentConn, envelope.Output("earlier output"))
	time.Sleep(50 * time.Millisecond)

	viewerConn := dial(t, viewerURL(server, sid))
	defer viewerConn.Close()

	replay := readMsg(t, viewerConn)
	if replay.Type != envelope.TypeOutput || replay.Data != "earlier output" {
		t.Fatalf("expected scrollback replay first, got %+v", replay)
	}
	meta := readMsg(t, viewerConn)
	if meta.Type != envelope.TypeMeta {
		t.Fatalf("expected meta frame after replay, got %q", meta.Type)
	}
}

func TestViewerInputIsForwardedToAgent(t *testing.T) {
	server, _, cleanup := setupTestServer(t)
	defer cleanup()

	agentConn := dial(t, agentURL(server))
	defer agentConn.Close()
	sid := registerAgent(t, agentConn, "box")

	viewerConn := dial(t, viewerURL(server, sid))
	defer viewerConn.Close()
	drainJoinFrames(t, viewerConn)

	send(t, viewerConn, envelope.Input("ls\n"))

	in := readMsg(t, agentConn)
	if in.Type != envelope.TypeInput || in.Data != "ls\n" {
		t.Fatalf("unexpected input frame on agent side: %+v", in)
	}
}

func TestViewerConnectingToUnknownSessionGetsError(t *testing.T) {
	server, _, cleanup := setupTestServer(t)
	defer cleanup()

	conn := dial(t, viewerURL(server, "doesnotexist"))
	defer conn.Close()

	msg := readMsg(t, conn)
	if msg.Type != envelope.TypeError {
		t.Fatalf("expected error frame, got %q", msg.Type)
	}
}

func TestAgentDisconnectNotifiesViewers(t *testing.T) {
	server, _, cleanup := setupTestServer(t)
	defer cleanup()

	agentConn := dial(t, agentURL(server))
	sid := registerAgent(t, agentConn, "box")

	viewerConn := dial(t, viewerURL(server, sid))
	defer viewerConn.Close()
	drainJoinFrames(t, viewerConn)

	agentConn.Close()

	msg := readMsg(t, viewerConn)
	if msg.Type != envelope.TypeDisconnect {
		t.Fatalf("expected disconnect frame, got %q", msg.Type)
	}
}

func TestResizeUpdatesDimsAndBroadcastsMeta(t *testing.T) {
	server, reg, cleanup := setupTestServer(t)
	defer cleanup()

	agentConn := dial(t, agentURL(server))
	defer agentConn.Close()
	sid := registerAgent(t, agentConn, "box")

	viewerConn := dial(t, viewerURL(server, sid))
	defer viewerConn.Close()
	drainJoinFrames(t, viewerConn)

	send(t, viewerConn, envelope.Resize(40, 120))

	// The resized viewer gets its own meta echo; drain frames until we see it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := readMsg(t, viewerConn)
		if msg.Type == envelope.TypeMeta && msg.Rows == 40 && msg.Cols == 120 {
			sess, err := reg.Get(sid)
			if err != nil {
				t.Fatalf("get session: %v", err)
			}
			rows, cols := sess.Dims()
			if rows != 40 || cols != 120 {
				t.Fatalf("expected dims 40x120, got %dx%d", rows, cols)
			}
			return
		}
	}
	t.Fatal("never observed resized meta frame")
}
