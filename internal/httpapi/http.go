// Package httpapi serves the plain-HTTP surface of the relay: the
// dashboard, the per-session viewer page, the JSON session list, and the
// shell installer the "curl | sh" flow downloads. The WebSocket endpoints
// live in internal/wsrelay; this package only ever speaks request/response.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/FOL9/machin-api/internal/relay"
)

// Handler wires the relay registry into the HTTP surface described above.
type Handler struct {
	Registry *relay.Registry

	// AgentBinaryPath, when set, is served at GET /agent.py — the name kept
	// for URL compatibility with the installer contract this was distilled
	// from, even though it now serves a compiled hyprshare binary rather
	// than a Python script. Empty means no binary has been built alongside
	// this server, and the route answers 404.
	AgentBinaryPath string
}

func New(r *relay.Registry) *Handler {
	return &Handler{Registry: r}
}

// Mux builds the full handler: dashboard, viewer page, API, and installer.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleDashboard)
	mux.HandleFunc("GET /s/{sid}", h.handleViewerPage)
	mux.HandleFunc("GET /api/sessions", h.handleListSessions)
	mux.HandleFunc("GET /get", h.handleInstaller)
	mux.HandleFunc("GET /agent.py", h.handleAgentBinary)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	return mux
}

// handleAgentBinary serves the prebuilt agent binary next to the server, if
// one was configured. Absent that, anyone curling the installer is told
// plainly rather than handed a broken download.
func (h *Handler) handleAgentBinary(w http.ResponseWriter, r *http.Request) {
	if h.AgentBinaryPath == "" {
		http.Error(w, "agent binary not available on this server", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, h.AgentBinaryPath)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// sessionSummary mirrors relay.Summary but encodes created as Unix seconds
// rather than relay.Summary's time.Time.
type sessionSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Created int64  `json:"created"`
	Alive   bool   `json:"alive"`
	Viewers int    `json:"viewers"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries := h.Registry.List()
	out := make([]sessionSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, sessionSummary{
			ID:      s.ID,
			Name:    s.Name,
			Created: s.Created.Unix(),
			Alive:   s.Alive,
			Viewers: s.Viewers,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"sessions": out})
}

func (h *Handler) handleViewerPage(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	if _, err := h.Registry.Get(sid); err != nil {
		http.Error(w, "Session '"+sid+"' not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(strings.ReplaceAll(viewerPageHTML, "{{SID}}", sid)))
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(strings.ReplaceAll(dashboardHTML, "{{BASE}}", baseURL(r))))
}

// handleInstaller renders the shell installer script with the request's own
// host baked in, so "curl -sSf http://HOST/get | sh" always points the
// downloaded agent back at the server it came from.
func (h *Handler) handleInstaller(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(renderInstaller(baseURL(r))))
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost:8000"
	}
	return scheme + "://" + host
}

const dashboardHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>hyprshare</title></head>
<body>
<h1>hyprshare</h1>
<p>Share a terminal: <code>curl -sSf {{BASE}}/get | sh -s run</code></p>
<div id="sessions"></div>
<script>
fetch('/api/sessions').then(r => r.json()).then(d => {
  const el = document.getElementById('sessions');
  el.innerHTML = d.sessions.map(s =>
    '<p><a href="/s/' + s.id + '">' + s.name + '</a> (' + (s.alive ? 'live' : 'dead') + ', ' + s.viewers + ' viewers)</p>'
  ).join('');
});
</script>
</body>
</html>
`

const viewerPageHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>hyprshare: {{SID}}</title></head>
<body>
<div id="term"></div>
<script>
const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/viewer/ws/{{SID}}');
ws.onmessage = (ev) => console.log(JSON.parse(ev.data));
</script>
</body>
</html>
`
