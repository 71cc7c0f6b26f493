package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "migrate",
		Short:   "Apply pending store migrations",
		Args:    cobra.NoArgs,
		PreRunE: c.setupConfig,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openStore(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(ctx); err != nil {
				return err
			}
			c.logger.Info("store migrated", slog.String("driver", c.cfg.Store.Driver))
			return nil
		},
	}
}
