package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/shelf-sync/internal/app"
)

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Replace the local collection with the remote document",
		Long: `Fetch the remote document and rebuild the collection from it.

The remote document wins: local changes that were not pushed yet are lost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				result, err := a.Engine.Pull(ctx)
				if err != nil {
					return err
				}
				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pulled %d books (%d reused, %d looked up, %d dropped, %d malformed rows)\n",
					result.Books, result.CacheHits, result.LookedUp, result.Unresolved+result.LookupFailed, result.Skipped)
				return nil
			})
		},
	}
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Write the local collection to the remote document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Push(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pushed to %s\n", a.Engine.Settings().RemoteID)
				return nil
			})
		},
	}
}

// NewConfigureCommand creates the configure command.
func NewConfigureCommand(rootOpts *RootOptions) *cobra.Command {
	var remoteID, credential string
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Set the remote document id and credential",
		Long: `Store the remote document id and credential on this device.

Leave --remote-id empty to have the next push create a new document.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("credential") {
					credential = a.Engine.Settings().Credential
				}
				if err := a.Engine.Configure(ctx, remoteID, credential); err != nil {
					return err
				}
				if remoteID == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "remote document cleared; the next push creates a new one")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "remote document set to %s\n", remoteID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&remoteID, "remote-id", "", "remote document id")
	cmd.Flags().StringVar(&credential, "credential", "", "credential for the remote store")
	return cmd
}
