package cli

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hupe1980/cloudblob"
)

// newPutCommand creates the put command
func newPutCommand(a *app) *cobra.Command {
	var contentType string

	cmd := &cobra.Command{
		Use:   "put <file>...",
		Short: "Store files and print their keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := a.provider(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			for _, path := range args {
				key, err := putFile(cmd, p, path, contentType)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", key, path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (default: derived from the file extension)")

	return cmd
}

func putFile(cmd *cobra.Command, p *cloudblob.Provider, path, contentType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}

	key, err := p.WriteBlobWithOptions(cmd.Context(), f, cloudblob.WriteOptions{
		Filename:    filepath.Base(path),
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store %s: %w", path, err)
	}
	return key, nil
}
