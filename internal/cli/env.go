package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/offshore-budgeting/syncore/internal/app"
	"github.com/offshore-budgeting/syncore/internal/config"
)

// env is a launched sync core plus the output for one command.
type env struct {
	cfg *config.Config
	app *app.App
	out *OutputFormatter
	log *slog.Logger
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig reads configuration and applies command-line overrides.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{File: o.ConfigFile, EnvFile: o.EnvFile})
	if err != nil {
		return nil, err
	}
	if o.Database != "" {
		cfg.Data.Path = o.Database
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs always go to w so JSON output
// on stdout stays parseable.
func newLogger(w io.Writer, cfg config.LogConfig, verbose bool) *slog.Logger {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// open loads configuration, builds the sync core and runs the launch
// sequence. Callers must call close.
func (o *RootOptions) open(cmd *cobra.Command) (*env, error) {
	out := o.formatter(cmd)

	cfg, err := o.loadConfig()
	if err != nil {
		return nil, out.Fail("failed to load configuration", WrapExitError(ExitCommandError, "config", err))
	}
	out.Currency = cfg.Display.Currency

	logger := newLogger(cmd.ErrOrStderr(), cfg.Log, o.Verbose)
	slog.SetDefault(logger)

	a, err := app.New(app.Options{Config: cfg, Logger: logger})
	if err != nil {
		return nil, out.Fail("failed to initialize", err)
	}
	rep, err := a.Launch(commandContext(cmd))
	if err != nil {
		_ = a.Close()
		return nil, out.Fail("failed to attach data store", err)
	}
	out.VerboseLog("data store %s attached in %s mode", cfg.Data.Path, rep.Mode)

	return &env{cfg: cfg, app: a, out: out, log: logger}, nil
}

func (e *env) close() {
	if err := e.app.Close(); err != nil {
		e.log.Error("error closing data store", "error", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
