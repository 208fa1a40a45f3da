package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tracelock/tracelock/internal/api"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API",
		Long: `Serve exposes stored snapshots, drift events, evidence, and the
retention policy over HTTP. Every route is read-only; capture, evidence
persistence, and retention stay CLI-only.`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := getApp(cmd)
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if flagAddr := mustString(cmd, "addr"); flagAddr != "" {
		addr = flagAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler := api.New(a.Ledger, a.Verifier, a.Assembler, a.Log)
	if err := api.Serve(ctx, addr, handler, a.Log); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
