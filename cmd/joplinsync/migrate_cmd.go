package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/19Mahmoud19/joplin/internal/lock"
	"github.com/19Mahmoud19/joplin/internal/session"
)

func newCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Fail unless the sync target is at the version this client supports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				if err := s.Migrations.CheckCanSync(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s sync target at version %d\n", green.Render("ok"), s.Migrations.SupportedVersion())
				return nil
			})
		},
	}
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade the sync target to the version this client supports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				res, err := s.Migrations.Exec(ctx)
				if errors.Is(err, lock.ErrLockConflict) {
					return fmt.Errorf("another client is using the sync target, try again later: %w", err)
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(res.Applied) == 0 {
					fmt.Fprintf(out, "sync target already at version %d\n", res.To)
					return nil
				}
				for _, v := range res.Applied {
					fmt.Fprintf(out, "%s applied migration %d\n", green.Render("✓"), v)
				}
				fmt.Fprintf(out, "sync target upgraded from version %d to %d\n", res.From, res.To)
				return nil
			})
		},
	}
}
