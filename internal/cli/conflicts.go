package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/app"
	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/models"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/sync/conflict"
)

// ConflictView is a conflict with the suggested resolution.
type ConflictView struct {
	*models.ConflictRecord
	Suggested models.ResolutionKind `json:"suggested,omitempty"`
}

// ConflictAction reports a resolve or dismiss.
type ConflictAction struct {
	ID         string                `json:"id" yaml:"id"`
	Status     models.ConflictStatus `json:"status" yaml:"status"`
	Resolution models.ResolutionKind `json:"resolution,omitempty" yaml:"resolution,omitempty"`
}

// NewConflictsCommand creates the conflicts command group.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Review and resolve sync conflicts",
	}
	cmd.AddCommand(newConflictsListCommand(rootOpts))
	cmd.AddCommand(newConflictsShowCommand(rootOpts))
	cmd.AddCommand(newConflictsResolveCommand(rootOpts))
	cmd.AddCommand(newConflictsDismissCommand(rootOpts))
	return cmd
}

func newConflictsListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conflicts, open ones by default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.ConflictStatus(status)
			switch filter {
			case "", models.ConflictOpen, models.ConflictResolved, models.ConflictDismissed:
			default:
				err := apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown conflict status %q", status))
				return newFormatter(rootOpts, cmd).Error(ExitCommandError, err)
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				recs, err := a.Resolver.List(ctx, filter, limit)
				if err != nil {
					return out.Error(ExitFailure, err)
				}
				views := make([]ConflictView, 0, len(recs))
				for _, rec := range recs {
					views = append(views, view(rec))
				}
				return out.Success(views, func(w io.Writer) error {
					if len(views) == 0 {
						_, err := fmt.Fprintln(w, "no conflicts")
						return err
					}
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "ID\tENTITY\tSTATUS\tDETECTED\tSUGGESTED")
					for _, v := range views {
						fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%s\n",
							v.ID, v.EntityType, v.EntityID, v.Status, humanize.Time(v.DetectedAt), v.Suggested)
					}
					return tw.Flush()
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", string(models.ConflictOpen), "filter by status (open, resolved, dismissed); empty for all")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of conflicts")

	return cmd
}

func newConflictsShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show both sides of a conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				rec, err := a.Resolver.Get(ctx, args[0])
				if err != nil {
					return out.Error(exitCodeFor(err), err)
				}
				v := view(rec)
				return out.Success(v, func(w io.Writer) error {
					fmt.Fprintf(w, "conflict %s on %s/%s (%s)\n", v.ID, v.EntityType, v.EntityID, v.Status)
					fmt.Fprintf(w, "local  v%d  %s  device=%s\n  %s\n",
						v.BaseVersion, humanize.Time(v.LocalModifiedAt), v.LocalDeviceID, v.LocalPayload)
					fmt.Fprintf(w, "remote v%d  %s  device=%s\n  %s\n",
						v.RemoteVersion, humanize.Time(v.RemoteModifiedAt), v.RemoteDeviceID, v.RemotePayload)
					if v.Suggested != "" {
						fmt.Fprintf(w, "suggested: %s\n", v.Suggested)
					}
					return nil
				})
			})
		},
	}
}

func newConflictsResolveCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		keep        string
		mergedFile  string
		localFields []string
	)

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a conflict by keeping local, remote or a merged record",
		Long: `Resolve an open conflict.

  --keep local   retry the local write over the remote version
  --keep remote  accept the remote record and drop the local write
  --keep merged  write a merged record; supply it with --merged-file, or
                 take --local-fields from the local side and the rest
                 from the remote side`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKeep(keep)
			if err != nil {
				return newFormatter(rootOpts, cmd).Error(ExitCommandError, err)
			}
			if kind == models.ResolutionMerged && (mergedFile == "") == (len(localFields) == 0) {
				err := apperrors.New(apperrors.ErrInvalid, "--keep merged needs exactly one of --merged-file or --local-fields")
				return newFormatter(rootOpts, cmd).Error(ExitCommandError, err)
			}

			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				res := conflict.Resolution{Kind: kind}
				if kind == models.ResolutionMerged {
					rec, err := a.Resolver.Get(ctx, args[0])
					if err != nil {
						return out.Error(exitCodeFor(err), err)
					}
					if res.Merged, err = mergedPayload(rec, mergedFile, localFields); err != nil {
						return out.Error(ExitCommandError, err)
					}
				}
				if err := a.Resolver.Resolve(ctx, args[0], res); err != nil {
					return out.Error(exitCodeFor(err), err)
				}
				act := ConflictAction{ID: args[0], Status: models.ConflictResolved, Resolution: kind}
				return out.Success(act, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "conflict %s resolved (%s)\n", act.ID, act.Resolution)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVar(&keep, "keep", "", "resolution: local, remote or merged")
	cmd.Flags().StringVar(&mergedFile, "merged-file", "", "JSON file holding the merged record")
	cmd.Flags().StringSliceVar(&localFields, "local-fields", nil, "fields taken from the local side when merging")
	_ = cmd.MarkFlagRequired("keep")

	return cmd
}

func newConflictsDismissCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <id>",
		Short: "Close a conflict without a decision",
		Long: `Close a conflict without a decision. The suspended operation is marked
failed and the local record stays un-synced, so it can be inspected and
retried with "queue retry".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				if err := a.Resolver.Dismiss(ctx, args[0]); err != nil {
					return out.Error(exitCodeFor(err), err)
				}
				act := ConflictAction{ID: args[0], Status: models.ConflictDismissed}
				return out.Success(act, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "conflict %s dismissed\n", act.ID)
					return err
				})
			})
		},
	}
}

func view(rec *models.ConflictRecord) ConflictView {
	v := ConflictView{ConflictRecord: rec}
	if rec.Open() {
		v.Suggested = conflict.Suggest(rec)
	}
	return v
}

func parseKeep(s string) (models.ResolutionKind, error) {
	switch s {
	case "local":
		return models.ResolutionKeepLocal, nil
	case "remote":
		return models.ResolutionKeepRemote, nil
	case "merged":
		return models.ResolutionMerged, nil
	}
	return "", apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown resolution %q, want local, remote or merged", s))
}

func mergedPayload(rec *models.ConflictRecord, file string, localFields []string) (models.Payload, error) {
	var raw json.RawMessage
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "read merged record", err)
		}
		raw = data
	} else {
		merged, err := conflict.MergeFields(rec.LocalPayload, rec.RemotePayload, localFields)
		if err != nil {
			return nil, err
		}
		raw = merged
	}

	p, err := models.DecodePayload(rec.EntityType, raw)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "merged record is empty")
	}
	return p, nil
}

// exitCodeFor maps lookup and validation failures to command errors.
func exitCodeFor(err error) int {
	switch apperrors.Code(err) {
	case apperrors.ErrNotFound, apperrors.ErrConflictNotFound, apperrors.ErrInvalid:
		return ExitCommandError
	}
	return ExitFailure
}
