package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/19Mahmoud19/joplin/internal/lock"
	"github.com/19Mahmoud19/joplin/internal/session"
)

func newLocksCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and clean up sync target locks",
	}
	cmd.AddCommand(newLocksListCmd(c), newLocksPurgeCmd(c), newLocksReleaseCmd(c))
	return cmd
}

func matchingLocks(ctx context.Context, s *session.Session, pattern string) ([]lock.Lock, error) {
	locks, err := s.Locks.Locks(ctx)
	if err != nil {
		return nil, err
	}
	out := locks[:0]
	for _, l := range locks {
		ok, err := l.Matches(pattern)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func newLocksListCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List lock objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, _ := cmd.Flags().GetString("match")
			output, _ := cmd.Flags().GetString("output")
			return c.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				locks, err := matchingLocks(ctx, s, pattern)
				if err != nil {
					return err
				}
				return writeReport(cmd.OutOrStdout(), output, toLockReports(locks, time.Now()), printLocks)
			})
		},
	}
	cmd.Flags().String("match", "", "only locks whose name matches this glob, e.g. 'exclusive_*'")
	cmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func newLocksPurgeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired lock objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				n, err := s.Locks.PurgeExpired(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired lock(s)\n", n)
				return nil
			})
		},
	}
}

func newLocksReleaseCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release locks of this client, or any matching locks with --match",
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, _ := cmd.Flags().GetString("match")
			types := []lock.Type{lock.Shared, lock.Exclusive}
			if typ, _ := cmd.Flags().GetString("type"); typ != "" {
				t, err := lock.ParseType(typ)
				if err != nil {
					return err
				}
				types = []lock.Type{t}
			}
			return c.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				var targets []lock.Lock
				if pattern == "" {
					for _, t := range types {
						targets = append(targets, lock.Lock{Type: t, ClientType: s.Config.ClientType, ClientID: s.ClientID})
					}
				} else {
					var err error
					if targets, err = matchingLocks(ctx, s, pattern); err != nil {
						return err
					}
				}

				for _, l := range targets {
					if err := s.Locks.Release(ctx, l.Type, l.ClientType, l.ClientID); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", l.Name())
				}
				return nil
			})
		},
	}
	cmd.Flags().String("match", "", "release every lock whose name matches this glob")
	cmd.Flags().String("type", "", "only release own locks of this type: shared or exclusive")
	return cmd
}
