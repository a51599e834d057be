package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/app"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/config"
	"github.com/toanmango432/stage-mangobiz-sub004/internal/logging"
)

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// loadConfig reads configuration from --config, CONFIG_PATH or the
// default path.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.LoadPath(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	return cfg, nil
}

// openApp builds the sync core. Logs go to stderr so command output stays
// parseable; quiet raises the level to warn unless --verbose is set.
func openApp(ctx context.Context, opts *RootOptions, cmd *cobra.Command, quiet bool) (*app.App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if quiet && !opts.Verbose {
		cfg.Log.Level = "warn"
	}
	appOpts := opts.App
	if appOpts.Logger == nil {
		appOpts.Logger = logging.New(cfg.Log, cmd.ErrOrStderr())
	}
	a, err := app.New(ctx, cfg, appOpts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open sync core", err)
	}
	return a, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withApp runs fn against a freshly opened sync core and closes it.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app.App, out *OutputFormatter) error) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx, opts, cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, newFormatter(opts, cmd))
}
