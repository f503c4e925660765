package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/19Mahmoud19/joplin/internal/delta"
	"github.com/19Mahmoud19/joplin/internal/session"
	"github.com/19Mahmoud19/joplin/internal/watch"
)

func newWatchCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Report changes of a directory of the sync target as they happen",
		Long: "Runs delta at start, every interval and, for a filesystem target, " +
			"whenever an entry of the directory changes. Stops on interrupt.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			interval, _ := cmd.Flags().GetDuration("interval")
			output, _ := cmd.Flags().GetString("output")

			return c.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				return s.Watch(ctx, path, interval, func(res *delta.Result) error {
					if len(res.Changes) == 0 && output == "text" {
						return nil
					}
					return writeReport(cmd.OutOrStdout(), output, toDeltaReport(res), printDelta)
				})
			})
		},
	}
	cmd.Flags().Duration("interval", watch.DefaultInterval, "poll interval (0: only watch local changes)")
	cmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	return cmd
}

