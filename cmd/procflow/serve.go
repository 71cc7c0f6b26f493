package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/procflow/internal/api"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Serve the REST API and run the delay scheduler",
		Args:    cobra.NoArgs,
		PreRunE: c.setupConfig,
		RunE:    c.serve,
	}
	cmd.Flags().String("addr", "", "Listen address (default :8080)")
	return cmd
}

func (c *cli) serve(cmd *cobra.Command, _ []string) error {
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

	srv := api.NewServer(api.Deps{
		Store:       a.store,
		Runs:        a.engine,
		Files:       a.files,
		Hooks:       a.hooks,
		Processes:   a.coord,
		Validator:   a.validator,
		Hub:         a.hub,
		Logger:      c.logger,
		ServiceName: c.cfg.Server.ServiceName,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(c.cfg.Server.Addr, c.cfg.Server.ReadTimeout, c.cfg.Server.WriteTimeout)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	c.logger.Info("shutting down", slog.Duration("timeout", c.cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
