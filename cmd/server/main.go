package main

import (
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/FOL9/machin-api/internal/httpapi"
	"github.com/FOL9/machin-api/internal/relay"
	"github.com/FOL9/machin-api/internal/wsrelay"
)

var (
	host            string
	port            int
	agentBinaryPath string
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	root := &cobra.Command{
		Use:   "hyprshare-server",
		Short: "Self-hosted terminal sharing relay",
		RunE:  run,
	}
	root.Flags().StringVar(&host, "host", "0.0.0.0", "bind address")
	root.Flags().IntVar(&port, "port", 8000, "bind port")
	root.Flags().StringVar(&agentBinaryPath, "agent-binary", "", "path to a prebuilt hyprshare agent binary to serve at /agent.py")
	// --reload is accepted for command-line compatibility with the original
	// dev-mode flag; a compiled Go binary has nothing to hot-reload.
	root.Flags().Bool("reload", false, "accepted for compatibility; has no effect")

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cmd *cobra.Command, args []string) error {
	reg := relay.NewRegistry()

	api := httpapi.New(reg)
	api.AgentBinaryPath = agentBinaryPath

	mux := http.NewServeMux()
	mux.Handle("GET /agent/ws", wsrelay.NewAgentHandler(reg))
	mux.Handle("GET /viewer/ws/{sid}", wsrelay.NewViewerHandler(reg))
	mux.Handle("/", api.Mux())

	addr := fmt.Sprintf("%s:%d", host, port)
	printBanner()

	log.Info().Str("addr", addr).Msg("starting hyprshare server")
	return http.ListenAndServe(addr, mux)
}

func printBanner() {
	ip := localIP()
	fmt.Printf(`
+----------------------------------------------------------+
|                   hyprshare server                       |
+----------------------------------------------------------+
|  Dashboard   ->  http://localhost:%d/
|
|  Share a terminal from any machine:
|  curl -sSf http://%s:%d/get | sh -s run
+----------------------------------------------------------+

`, port, ip, port)
}

// localIP guesses the machine's LAN-facing address by dialing an external
// host without sending any traffic (UDP dial performs no handshake).
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		hostname, _ := os.Hostname()
		if addrs, err := net.LookupHost(hostname); err == nil && len(addrs) > 0 {
			return addrs[0]
		}
		return "localhost"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
