package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/cloudblob"
)

// newGetCommand creates the get command
func newGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key> <dest>",
		Short: "Download a blob to a local file",
		Long: `Downloads the blob stored under key to dest.

With allowbyterange set, key may carry a byte range as <key>;<start>-<end>.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.provider(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			key, dest := args[0], args[1]
			found, err := p.ReadBlob(ctx, key, dest)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", key, err)
			}
			if !found {
				return fmt.Errorf("%s: %w", key, cloudblob.ErrNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", key, dest)
			return nil
		},
	}
}
