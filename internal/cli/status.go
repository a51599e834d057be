package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/app"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/db"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/storage"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/trust"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue, conflict, storage and trust state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				st, err := a.Status(ctx)
				if err != nil {
					return out.Error(ExitFailure, err)
				}
				return out.Success(st, func(w io.Writer) error {
					writeTrust(w, st.Trust)
					fmt.Fprintf(w, "queue:     %d pending, %d failed, %d completed\n",
						st.Queue.Pending, st.Queue.Failed, st.Queue.Completed)
					fmt.Fprintf(w, "conflicts: %d open\n", st.OpenConflicts)
					writeStorage(w, st.Storage)
					fmt.Fprintf(w, "network:   %s\n", onlineText(st.Online))
					return nil
				})
			})
		},
	}
}

// StorageResult is storage usage with local row counts.
type StorageResult struct {
	storage.Stats
	Rows []db.EntityCount `json:"rows"`
}

// NewStorageCommand creates the storage command group.
func NewStorageCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect local storage usage",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Measure storage usage against the quota",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				counts, err := a.Entities.Counts(ctx)
				if err != nil {
					return out.Error(ExitFailure, err)
				}
				if counts == nil {
					counts = []db.EntityCount{}
				}
				res := StorageResult{Stats: a.Monitor.Measure(ctx), Rows: counts}
				return out.Success(res, func(w io.Writer) error {
					writeStorage(w, res.Stats)
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "TYPE\tSYNC STATUS\tROWS")
					for _, c := range res.Rows {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", c.EntityType, c.SyncStatus, humanize.Comma(int64(c.Count)))
					}
					return tw.Flush()
				})
			})
		},
	})
	return cmd
}

func writeStorage(w io.Writer, st storage.Stats) {
	fmt.Fprintf(w, "storage:   %s of %s (%.1f%%, %s)\n",
		humanize.IBytes(uint64(st.UsedBytes)), humanize.IBytes(uint64(st.QuotaBytes)),
		st.UsagePercent, st.Level)
}

func writeTrust(w io.Writer, s trust.Snapshot) {
	fmt.Fprintf(w, "trust:     %s", s.State)
	if s.State == trust.StateOfflineGrace {
		fmt.Fprintf(w, " (%d day(s) left)", s.DaysRemaining)
	}
	fmt.Fprintln(w)
	if s.Identity != "" {
		fmt.Fprintf(w, "identity:  %s", s.Identity)
		if s.Tier != "" {
			fmt.Fprintf(w, " [%s]", s.Tier)
		}
		fmt.Fprintln(w)
	}
	if s.LastValidation != nil {
		fmt.Fprintf(w, "validated: %s\n", humanize.Time(*s.LastValidation))
	}
	if s.RequiredVersion != "" {
		fmt.Fprintf(w, "requires:  %s\n", s.RequiredVersion)
	}
}

func onlineText(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}
