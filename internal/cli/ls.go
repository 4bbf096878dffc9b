package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/cloudblob/blobstore"
)

// newListCommand creates the ls command
func newListCommand(a *app) *cobra.Command {
	var (
		pageSize int
		rawSize  bool
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List stored keys and sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			p, err := a.provider(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			var count, total int64

			scroll := p.Scroll(pageSize)
			for scroll.HasNext() {
				page, err := scroll.Next(ctx)
				if errors.Is(err, blobstore.ErrNoMoreElements) {
					break
				}
				if err != nil {
					return fmt.Errorf("failed to list: %w", err)
				}
				for _, info := range page {
					fmt.Fprintf(w, "%s\t%s\n", info.Key, formatSize(info.Size, rawSize))
					count++
					total += info.Size
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d blobs, %s\n", count, formatSize(total, rawSize))
			return nil
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", 1000, "keys fetched per listing request")
	cmd.Flags().BoolVar(&rawSize, "bytes", false, "print sizes in bytes")

	return cmd
}

func formatSize(n int64, raw bool) string {
	if raw || n < 0 {
		return fmt.Sprintf("%d", n)
	}
	return humanize.IBytes(uint64(n))
}
