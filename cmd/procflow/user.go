package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rendis/procflow/internal/identity"
	"github.com/rendis/procflow/pkg/schema"
)

func newUserCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the user directory",
	}

	var u schema.User
	add := &cobra.Command{
		Use:     "add",
		Short:   "Add or update a user",
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
			if err := identity.Register(ctx, s, &u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s saved in org %s\n", u.ID, u.OrgID)
			return nil
		},
	}
	add.Flags().StringVar(&u.ID, "id", "", "User id")
	add.Flags().StringVar(&u.OrgID, "org", "", "Organization id")
	add.Flags().StringVar(&u.Email, "email", "", "Contact email")
	add.Flags().StringVar(&u.DisplayName, "name", "", "Display name")

	cmd.AddCommand(add)
	return cmd
}
