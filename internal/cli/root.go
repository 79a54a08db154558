// Package cli implements the shelfsync command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/example/shelf-sync/internal/app"
	"github.com/example/shelf-sync/internal/config"
	"github.com/example/shelf-sync/internal/observability"
	"github.com/example/shelf-sync/internal/types"
)

// Opener builds the application for one command invocation.
type Opener func(ctx context.Context, opts *RootOptions) (*app.App, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	NoPush  bool

	open Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command wired from the environment.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(openFromEnv)
}

// NewRootCommandWith creates the root command using open to build the app.
func NewRootCommandWith(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "shelfsync",
		Short: "shelfsync - reading lists synced to a remote document",
		Long: `Track books in to-read, reading and read lists on this device and keep
them in sync with a compact remote document shared across devices.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVar(&opts.NoPush, "no-push", false, "do not push after changing the collection")

	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewRateCommand(opts))
	cmd.AddCommand(NewTagCommand(opts))
	cmd.AddCommand(NewUntagCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewPullCommand(opts))
	cmd.AddCommand(NewPushCommand(opts))
	cmd.AddCommand(NewConfigureCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func openFromEnv(ctx context.Context, opts *RootOptions) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	} else if level == "info" {
		level = "warn"
	}
	logger := observability.NewLogger(level, true)
	return app.New(ctx, cfg, logger)
}

// withApp opens the app, runs fn and closes it again.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := opts.open(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// flush pushes pending mutations before the process exits. A one-shot
// command has no scheduler, so this stands in for the mutation trigger.
// Failures are reported as warnings only.
func flush(ctx context.Context, cmd *cobra.Command, opts *RootOptions, a *app.App) {
	if opts.NoPush {
		return
	}
	if _, pending := a.Outbox.Pending(); !pending {
		return
	}
	if err := a.Engine.Push(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("push failed; changes are saved locally")
		if !errors.Is(err, types.ErrSyncInFlight) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: not synced: %v\n", err)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
