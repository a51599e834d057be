package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/app"
	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/retention"
)

// NewRetentionCommand creates the retention command group.
func NewRetentionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Delete synced data past its retention window",
	}
	cmd.AddCommand(newRetentionRunCommand(rootOpts))
	return cmd
}

func newRetentionRunCommand(rootOpts *RootOptions) *cobra.Command {
	var emergency bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one retention pass",
		Long: `Run one retention pass. Only synced records are ever deleted.

With --emergency every window narrows to the emergency window and storage is
measured again afterwards; the command fails when usage is still critical.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				run := a.Retention.RunNormal
				if emergency {
					run = a.Retention.RunEmergency
				}
				report, err := run(ctx)
				critical := apperrors.Is(err, apperrors.ErrCapacityCritical)
				if err != nil && !critical {
					return out.Error(ExitFailure, err)
				}
				if werr := out.Success(report, func(w io.Writer) error {
					writeReport(w, report)
					return nil
				}); werr != nil {
					return werr
				}
				if critical {
					return WrapExitError(ExitFailure, "retention", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&emergency, "emergency", false, "use the emergency windows")

	return cmd
}

func writeReport(w io.Writer, r retention.Report) {
	fmt.Fprintf(w, "%s retention: %d row(s) deleted in %s\n", r.Mode, r.Total(), r.Duration)
	for _, t := range slices.Sorted(maps.Keys(r.Deleted)) {
		fmt.Fprintf(w, "  %-12s %d\n", t, r.Deleted[t])
	}
	fmt.Fprintf(w, "  %-12s %d completed, %d abandoned\n", "queue", r.QueueCompleted, r.QueueAbandoned)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
	if r.Usage != nil {
		fmt.Fprintf(w, "storage now %s (%.1f%%, %s)\n", humanize.IBytes(uint64(r.Usage.UsedBytes)), r.Usage.UsagePercent, r.Usage.Level)
	}
}
