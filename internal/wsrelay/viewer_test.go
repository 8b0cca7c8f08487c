package wsrelay

import (
	"strings"
	"testing"
	"time"

	"github.com/FOL9/machin-api/internal/envelope"
)

func TestViewerPingWithNoAgentGetsSynthesizedPong(t *testing.T) {
	server, reg, cleanup := setupTestServer(t)
	defer cleanup()

	// Create a session with no attached agent at all (simulating one whose
	// agent has already detached) by registering then closing the agent.
	agentConn := dial(t, agentURL(server))
	sid := registerAgent(t, agentConn, "box")
	agentConn.Close()

	// Give the server a moment to process the close and detach the agent.
	time.Sleep(50 * time.Millisecond)

	viewerConn := dial(t, viewerURL(server, sid))
	defer viewerConn.Close()
	drainJoinFrames(t, viewerConn) // replay (empty) + meta; the viewer joined after the agent's disconnect frame already went out to nobody

	if _, err := reg.Get(sid); err != nil {
		t.Fatalf("session should still exist during its grace window: %v", err)
	}

	send(t, viewerConn, envelope.Ping())

	pong := readMsg(t, viewerConn)
	if pong.Type != envelope.TypePong {
		t.Fatalf("expected synthesized pong with no agent attached, got %q", pong.Type)
	}
}

func TestScrollbackCapSurvivesOverLongOutput(t *testing.T) {
	server, _, cleanup := setupTestServer(t)
	defer cleanup()

	agentConn := dial(t, agentURL(server))
	defer agentConn.Close()
	sid := registerAgent(t, agentConn, "box")

	chunk := strings.Repeat("x", 1024)
	for i := 0; i < 80; i++ { // 80KiB total, over the 64KiB cap
		send(t, agentConn, envelope.Output(chunk))
	}
	time.Sleep(100 * time.Millisecond)

	viewerConn := dial(t, viewerURL(server, sid))
	defer viewerConn.Close()

	replay := readMsg(t, viewerConn)
	if replay.Type != envelope.TypeOutput {
		t.Fatalf("expected replay frame, got %q", replay.Type)
	}
	if len(replay.Data) > 64*1024 {
		t.Fatalf("replay exceeds scrollback cap: %d bytes", len(replay.Data))
	}
}
