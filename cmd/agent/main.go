package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/FOL9/machin-api/internal/agentclient"
)

var (
	serverURL   string
	shell       string
	noReconnect bool
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	root := &cobra.Command{
		Use:   "hyprshare",
		Short: "Share this terminal over the web",
		RunE:  run,
	}
	root.Flags().StringVar(&serverURL, "server", "", "hyprshare server URL, e.g. http://192.168.1.20:8000")
	root.Flags().StringVar(&shell, "shell", "", "shell to run (defaults to $SHELL)")
	root.Flags().BoolVar(&noReconnect, "no-reconnect", false, "exit immediately on disconnect instead of retrying")
	root.MarkFlagRequired("server")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	agent := agentclient.New(agentclient.Config{
		ServerURL:   serverURL,
		Shell:       shell,
		NoReconnect: noReconnect,
	})

	if err := agent.Run(ctx); err != nil {
		return err
	}
	fmt.Println("[hyprshare] Bye!")
	return nil
}
