package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/19Mahmoud19/joplin/internal/delta"
	"github.com/19Mahmoud19/joplin/internal/session"
)

type changeReport struct {
	Kind        string `json:"kind" yaml:"kind"`
	Path        string `json:"path" yaml:"path"`
	IsDirectory bool   `json:"isDirectory" yaml:"is_directory"`
	UpdatedTime string `json:"updatedTime" yaml:"updated_time"`
}

type deltaReport struct {
	Changes []changeReport `json:"changes" yaml:"changes"`
	HasMore bool           `json:"hasMore" yaml:"has_more"`
}

func newDeltaCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delta [path]",
		Short: "List what changed in a directory of the sync target since the last call",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			reset, _ := cmd.Flags().GetBool("reset")
			output, _ := cmd.Flags().GetString("output")

			return c.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				if reset {
					if err := s.ResetDelta(ctx, path); err != nil {
						return err
					}
				}
				res, err := s.SyncDelta(ctx, path)
				if err != nil {
					return err
				}
				return writeReport(cmd.OutOrStdout(), output, toDeltaReport(res), printDelta)
			})
		},
	}
	cmd.Flags().Bool("reset", false, "forget the saved state and report every item")
	cmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func toDeltaReport(res *delta.Result) *deltaReport {
	r := &deltaReport{HasMore: res.HasMore, Changes: make([]changeReport, 0, len(res.Changes))}
	for _, ch := range res.Changes {
		r.Changes = append(r.Changes, changeReport{
			Kind:        ch.Kind.String(),
			Path:        ch.Path,
			IsDirectory: ch.IsDirectory,
			UpdatedTime: ch.UpdatedTime.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return r
}

func printDelta(w io.Writer, r *deltaReport) {
	if len(r.Changes) == 0 {
		fmt.Fprintln(w, gray.Render("no changes"))
	}
	for _, ch := range r.Changes {
		mark := green.Render("+")
		switch ch.Kind {
		case delta.Updated.String():
			mark = yellow.Render("~")
		case delta.Deleted.String():
			mark = red.Render("-")
		}
		name := ch.Path
		if ch.IsDirectory {
			name += "/"
		}
		fmt.Fprintf(w, "%s %s\n", mark, name)
	}
	if r.HasMore {
		fmt.Fprintln(w, gray.Render("more changes pending, run again"))
	} else {
		fmt.Fprintln(w, gray.Render(humanize.Comma(int64(len(r.Changes)))+" change(s)"))
	}
}
