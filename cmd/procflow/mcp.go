package main

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	procmcp "github.com/rendis/procflow/pkg/mcp"
)

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "mcp",
		Short:   "Serve the MCP tools over stdio",
		Args:    cobra.NoArgs,
		PreRunE: c.setupConfig,
		RunE:    c.serveMCP,
	}
}

func (c *cli) serveMCP(cmd *cobra.Command, _ []string) error {
	if !c.cfg.MCP.Enabled {
		return errors.New("mcp is disabled (mcp.enabled=false)")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.startScheduler(ctx); err != nil {
		return err
	}

	srv := procmcp.NewServer(procmcp.ServerDeps{
		Runs:    a.engine,
		Files:   a.files,
		Logger:  c.logger,
		Version: version,
	})
	go func() {
		if err := procmcp.NewSessionSink(srv).Forward(ctx, a.hub); err != nil {
			c.logger.Warn("mcp notification forwarding stopped", slog.String("error", err.Error()))
		}
	}()

	c.logger.Info("mcp server listening on stdio")
	return srv.Serve(ctx)
}
