package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/igloo/internal/server"
	"github.com/spf13/cobra"
)

var wsAddr string

// rootCmd starts the chat server on the optional port argument.
var rootCmd = &cobra.Command{
	Use:   "server [port]",
	Short: "Run the igloo chat server",
	Long: `Run the igloo chat server.

Clients connect over TCP, send their username as the first line, and then
exchange newline-delimited JSON envelopes. If no port is given, CHAT_PORT or
8000 is used.`,
	Args:          validateArgs,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&wsAddr, "ws-addr", "", "Also accept WebSocket clients on this address (e.g. :8080)")
}

func validateArgs(_ *cobra.Command, args []string) error {
	switch len(args) {
	case 0:
		return nil
	case 1:
		if _, err := server.ParsePort(args[0]); err != nil {
			return errors.New("Invalid port number.")
		}
		return nil
	default:
		return fmt.Errorf("accepts at most 1 arg, received %d", len(args))
	}
}

func run(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg := server.NewConfigFromEnv()
	if len(args) == 1 {
		port, err := server.ParsePort(args[0])
		if err != nil {
			return err
		}
		cfg.Port = port
	}
	if cmd.Flags().Changed("ws-addr") {
		cfg.WebSocketAddr = wsAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, server.NewLogger(os.Stdout))
	return srv.Start(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
