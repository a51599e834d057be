package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/app"
	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
)

// RetryResult reports how many failed operations were requeued.
type RetryResult struct {
	Requeued int64 `json:"requeued" yaml:"requeued"`
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the outbound sync queue",
	}
	cmd.AddCommand(newQueueStatsCommand(rootOpts))
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueRetryCommand(rootOpts))
	return cmd
}

func newQueueStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count queued operations by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				st, err := a.Queue.Stats(ctx)
				if err != nil {
					return out.Error(ExitFailure, err)
				}
				return out.Success(st, func(w io.Writer) error {
					fmt.Fprintf(w, "pending:   %d\nfailed:    %d\ncompleted: %d\n", st.Pending, st.Failed, st.Completed)
					return nil
				})
			})
		},
	}
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations in drain order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseOperationStatus(status)
			if err != nil {
				return newFormatter(rootOpts, cmd).Error(ExitCommandError, err)
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				ops, err := a.Queue.List(ctx, filter, limit)
				if err != nil {
					return out.Error(ExitFailure, err)
				}
				if ops == nil {
					ops = []*models.SyncOperation{}
				}
				return out.Success(ops, func(w io.Writer) error {
					if len(ops) == 0 {
						_, err := fmt.Fprintln(w, "queue is empty")
						return err
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tKIND\tENTITY\tPRIORITY\tATTEMPTS\tSTATUS\tCREATED\tLAST ERROR")
					for _, op := range ops {
						fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%d\t%d/%d\t%s\t%s\t%s\n",
							op.ID, op.Kind, op.EntityType, op.EntityID, op.Priority,
							op.Attempts, op.MaxAttempts, op.Status, humanize.Time(op.CreatedAt), op.LastError)
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, failed, completed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of operations")

	return cmd
}

func newQueueRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Requeue failed operations with a fresh attempt budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				n, err := a.Queue.RetryFailed(ctx)
				if err != nil {
					return out.Error(ExitFailure, err)
				}
				res := RetryResult{Requeued: n}
				return out.Success(res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "requeued %d operation(s)\n", n)
					return err
				})
			})
		},
	}
}

func parseOperationStatus(s string) (models.OperationStatus, error) {
	switch st := models.OperationStatus(s); st {
	case "", models.OperationPending, models.OperationFailed, models.OperationCompleted:
		return st, nil
	}
	return "", apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown operation status %q", s))
}
