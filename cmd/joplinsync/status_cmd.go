package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/19Mahmoud19/joplin/internal/lock"
	"github.com/19Mahmoud19/joplin/internal/session"
)

type statusReport struct {
	Target           string       `json:"target" yaml:"target"`
	BasePath         string       `json:"basePath" yaml:"base_path"`
	ClientType       string       `json:"clientType" yaml:"client_type"`
	ClientID         string       `json:"clientId" yaml:"client_id"`
	TargetVersion    int          `json:"targetVersion" yaml:"target_version"`
	SupportedVersion int          `json:"supportedVersion" yaml:"supported_version"`
	CanSync          bool         `json:"canSync" yaml:"can_sync"`
	Problem          string       `json:"problem,omitempty" yaml:"problem,omitempty"`
	Locks            []lockReport `json:"locks" yaml:"locks"`
	Ignore           []string     `json:"ignore" yaml:"ignore"`
	DeltaScopes      []string     `json:"deltaScopes" yaml:"delta_scopes"`
}

type lockReport struct {
	Name       string    `json:"name" yaml:"name"`
	Type       lock.Type `json:"type" yaml:"type"`
	ClientType string    `json:"clientType" yaml:"client_type"`
	ClientID   string    `json:"clientId" yaml:"client_id"`
	AcquiredAt time.Time `json:"acquiredAt" yaml:"acquired_at"`
	ExpiresAt  time.Time `json:"expiresAt" yaml:"expires_at"`
	Active     bool      `json:"active" yaml:"active"`
}

func toLockReports(locks []lock.Lock, now time.Time) []lockReport {
	out := make([]lockReport, 0, len(locks))
	for _, l := range locks {
		out = append(out, lockReport{
			Name:       l.Name(),
			Type:       l.Type,
			ClientType: l.ClientType,
			ClientID:   l.ClientID,
			AcquiredAt: l.AcquiredAt,
			ExpiresAt:  l.ExpiresAt,
			Active:     l.Active(now),
		})
	}
	return out
}

func newStatusCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync target version and its locks",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			return c.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				report, err := buildStatus(ctx, s)
				if err != nil {
					return err
				}
				return writeReport(cmd.OutOrStdout(), output, report, printStatus)
			})
		},
	}
	cmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func buildStatus(ctx context.Context, s *session.Session) (*statusReport, error) {
	d, err := s.Migrations.Descriptor(ctx)
	if err != nil {
		return nil, err
	}
	locks, err := s.Locks.Locks(ctx)
	if err != nil {
		return nil, err
	}
	scopes, err := s.Store.Scopes(ctx)
	if err != nil {
		return nil, err
	}

	report := &statusReport{
		Target:           s.Driver.Capabilities().Name,
		BasePath:         s.API.BaseDir(),
		ClientType:       s.Config.ClientType,
		ClientID:         s.ClientID,
		TargetVersion:    d.Version,
		SupportedVersion: s.Migrations.SupportedVersion(),
		CanSync:          true,
		Locks:            toLockReports(locks, time.Now()),
		Ignore:           s.Delta.IgnoreList().Lines(),
		DeltaScopes:      scopes,
	}
	if err := s.Migrations.CheckCanSync(ctx); err != nil {
		report.CanSync = false
		report.Problem = err.Error()
	}
	return report, nil
}

// writeReport renders v as json or yaml, or hands it to text for humans.
func writeReport[T any](w io.Writer, format string, v T, text func(io.Writer, T)) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		text(w, v)
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}

func printStatus(w io.Writer, r *statusReport) {
	fmt.Fprintf(w, "%s %s\n", bold.Render("target: "), cyan.Render(r.Target+" "+r.BasePath))
	fmt.Fprintf(w, "%s %s_%s\n", bold.Render("client: "), r.ClientType, r.ClientID)
	fmt.Fprintf(w, "%s target %d, client %d\n", bold.Render("version:"), r.TargetVersion, r.SupportedVersion)
	if r.CanSync {
		fmt.Fprintf(w, "%s %s\n", bold.Render("sync:   "), green.Render("ok"))
	} else {
		fmt.Fprintf(w, "%s %s\n", bold.Render("sync:   "), red.Render(r.Problem))
	}
	fmt.Fprintf(w, "%s %s\n", bold.Render("ignore: "), gray.Render(strings.Join(r.Ignore, " ")))
	fmt.Fprintf(w, "%s %s\n", bold.Render("deltas: "), humanize.Comma(int64(len(r.DeltaScopes)))+" saved")
	printLocks(w, r.Locks)
}

func printLocks(w io.Writer, locks []lockReport) {
	if len(locks) == 0 {
		fmt.Fprintln(w, gray.Render("no locks"))
		return
	}
	for _, l := range locks {
		state := green.Render("active, expires " + humanize.Time(l.ExpiresAt))
		if !l.Active {
			state = yellow.Render("expired " + humanize.Time(l.ExpiresAt))
		}
		fmt.Fprintf(w, "%-10s %s %s (acquired %s, %s)\n",
			l.Type, l.ClientType, l.ClientID, humanize.Time(l.AcquiredAt), state)
	}
}
