// Package agentclient implements the machine-sharing side of the relay: it
// dials the server's agent endpoint, registers, forks a local shell into a
// pseudo-terminal, and pumps bytes between the two until either side closes,
// reconnecting with backoff unless told not to.
package agentclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/FOL9/machin-api/internal/envelope"
	"github.com/FOL9/machin-api/internal/ptyproc"
)

const (
	registrationReplyTimeout = 10 * time.Second
	dialTimeout              = 10 * time.Second
	maxMessageSize           = 10 * 1024 * 1024
	writeWait                = 10 * time.Second

	initialRetryDelay = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
	retryMultiplier   = 1.5
)

// Config controls a single agent run.
type Config struct {
	ServerURL   string
	Shell       string
	NoReconnect bool
}

// Agent owns the reconnect loop for one shared terminal.
type Agent struct {
	cfg Config
}

func New(cfg Config) *Agent {
	return &Agent{cfg: cfg}
}

// Run connects, registers, and relays until ctx is cancelled or the
// connection is lost with reconnects disabled.
func (a *Agent) Run(ctx context.Context) error {
	serverURL := strings.TrimRight(a.cfg.ServerURL, "/")
	wsURL, err := toWebsocketURL(serverURL)
	if err != nil {
		return err
	}

	fmt.Printf("[hyprshare] Connecting to %s ...\n", serverURL)

	delay := initialRetryDelay
	for {
		err := a.runOnce(ctx, wsURL, serverURL)
		if ctx.Err() != nil {
			return nil
		}
		if a.cfg.NoReconnect {
			return err
		}

		fmt.Printf("[hyprshare] Connection lost (%v). Retrying in %.0fs ...\n", err, delay.Seconds())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
		delay = time.Duration(math.Min(float64(delay)*retryMultiplier, float64(maxRetryDelay)))
	}
}

func toWebsocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/agent/ws"
	return u.String(), nil
}

func (a *Agent) runOnce(ctx context.Context, wsURL, serverURL string) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	rows, cols := localDims()
	shell := a.cfg.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = ptyproc.DefaultShell()
	}
	hostname, _ := os.Hostname()

	if err := sendFrame(conn, envelope.Register(hostname, shell, rows, cols)); err != nil {
		return err
	}

	reply, err := awaitSessionReply(conn)
	if err != nil {
		return err
	}
	viewURL := strings.ReplaceAll(reply.URL, "__SERVER__", serverURL)
	printBanner(reply.SID, viewURL)

	pty, err := ptyproc.New(shell, rows, cols)
	if err != nil {
		return fmt.Errorf("starting local shell: %w", err)
	}
	defer pty.Close()

	return a.relay(ctx, conn, pty)
}

func awaitSessionReply(conn *websocket.Conn) (envelope.Message, error) {
	conn.SetReadDeadline(time.Now().Add(registrationReplyTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return envelope.Message{}, err
	}
	msg, err := envelope.Parse(raw)
	if err != nil {
		return envelope.Message{}, fmt.Errorf("malformed registration reply: %w", err)
	}
	if msg.Type != envelope.TypeSession {
		return envelope.Message{}, fmt.Errorf("unexpected server response: %q", msg.Type)
	}
	return msg, nil
}

func sendFrame(conn *websocket.Conn, m envelope.Message) error {
	raw, err := envelope.Encode(m)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// relay pumps bytes in both directions until either the socket or the PTY
// closes, and watches the local terminal for SIGWINCH along the way. All
// outbound frames funnel through out so exactly one goroutine ever writes
// to conn, the same single-writer-per-socket discipline the server side
// enforces with its writePump.
func (a *Agent) relay(ctx context.Context, conn *websocket.Conn, pty *ptyproc.PTY) error {
	stop := make(chan struct{})
	var closeStop sync.Once
	stopOnce := func() { closeStop.Do(func() { close(stop) }) }
	readErr := make(chan error, 2)
	out := make(chan envelope.Message, 64)

	go func() {
		for {
			select {
			case msg := <-out:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				raw, err := envelope.Encode(msg)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	send := func(msg envelope.Message) {
		select {
		case out <- msg:
		default:
		}
	}

	go func() {
		buf := make([]byte, 8192)
		for {
			n, err := pty.Read(buf)
			if err != nil {
				stopOnce()
				readErr <- err
				return
			}
			send(envelope.Output(string(buf[:n])))
		}
	}()

	go watchResize(stop, func(rows, cols int) {
		pty.Resize(rows, cols)
	})

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				stopOnce()
				readErr <- err
				return
			}
			msg, err := envelope.Parse(raw)
			if err != nil {
				continue
			}
			switch msg.Type {
			case envelope.TypeInput:
				pty.Write([]byte(msg.Data))
			case envelope.TypeResize:
				pty.Resize(msg.Rows, msg.Cols)
			case envelope.TypePing:
				send(envelope.Pong())
			}
		}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		pty.Close()
		return nil
	case err := <-readErr:
		return err
	case <-pty.Done():
		conn.Close()
		return errors.New("local shell exited")
	}
}

func printBanner(sid, url string) {
	const width = 56
	sep := strings.Repeat("-", width)
	fmt.Printf("\n%s\n", sep)
	fmt.Printf("  hyprshare -- session active\n")
	fmt.Println(sep)
	fmt.Printf("  Session  %s\n", sid)
	fmt.Printf("  URL      %s\n", url)
	fmt.Println(sep)
	fmt.Println("  Open the URL in any browser to view / type.")
	fmt.Println("  Press Ctrl+C to stop.")
	fmt.Println()
	log.Info().Str("sid", sid).Str("url", url).Msg("session active")
}
