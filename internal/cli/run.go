package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync core until interrupted",
		Long: `Run the background loops: network probing, queue draining, storage
sampling, retention and trust revalidation. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, rootOpts, cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Scheduler == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: no transport configured, writes are queued but never delivered")
			}
			if err := a.Run(ctx); err != nil && ctx.Err() == nil {
				return WrapExitError(ExitFailure, "sync core stopped", err)
			}
			return nil
		},
	}
}
