package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FOL9/machin-api/internal/httpapi"
	"github.com/FOL9/machin-api/internal/relay"
	"github.com/FOL9/machin-api/internal/wsrelay"
)

// buildMux mirrors run()'s handler wiring without binding a real port, so
// the end-to-end surface can be exercised with httptest.
func buildMux(reg *relay.Registry) http.Handler {
	api := httpapi.New(reg)

	mux := http.NewServeMux()
	mux.Handle("GET /agent/ws", wsrelay.NewAgentHandler(reg))
	mux.Handle("GET /viewer/ws/{sid}", wsrelay.NewViewerHandler(reg))
	mux.Handle("/", api.Mux())
	return mux
}

func TestDashboardAndHealthAreReachable(t *testing.T) {
	server := httptest.NewServer(buildMux(relay.NewRegistry()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/")
	if err != nil {
		t.Fatalf("get /: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from dashboard, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}
}

func TestUnknownViewerSessionIs404(t *testing.T) {
	server := httptest.NewServer(buildMux(relay.NewRegistry()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/s/nope")
	if err != nil {
		t.Fatalf("get /s/nope: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
