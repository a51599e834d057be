package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/app"
	apperrors "github.com/toanmango432/stage-mangobiz-sub004/internal/errors"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/trust"
)

// NewTrustCommand creates the trust command group.
func NewTrustCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Inspect and validate device trust",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the cached trust state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				return writeSnapshot(out, a.Trust.Snapshot())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "activate <identity-key>",
		Short: "Activate this device with a license key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				return checked(ctx, a, out, func(ctx context.Context) (trust.State, error) {
					return a.Trust.Activate(ctx, args[0])
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Revalidate the cached identity with the authority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, out *OutputFormatter) error {
				return checked(ctx, a, out, a.Trust.Validate)
			})
		},
	})

	return cmd
}

// checked runs a validation and reports the resulting state. An
// unreachable authority still reports the offline state it led to.
func checked(ctx context.Context, a *app.App, out *OutputFormatter, fn func(context.Context) (trust.State, error)) error {
	_, err := fn(ctx)
	switch {
	case apperrors.Is(err, apperrors.ErrTrustUnreachable):
		out.VerboseLog("authority unreachable: %v", err)
	case apperrors.Is(err, apperrors.ErrInvalid):
		return out.Error(ExitCommandError, err)
	case err != nil:
		return out.Error(ExitFailure, err)
	}
	return writeSnapshot(out, a.Trust.Snapshot())
}

func writeSnapshot(out *OutputFormatter, s trust.Snapshot) error {
	if err := out.Success(s, func(w io.Writer) error {
		writeTrust(w, s)
		return nil
	}); err != nil {
		return err
	}
	if s.Blocked {
		return NewExitError(ExitFailure, fmt.Sprintf("device blocked: %s", s.State))
	}
	return nil
}
