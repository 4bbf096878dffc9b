package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/cloudblob/blobstore"
)

// newGCCommand creates the gc command
func newGCCommand(a *app) *cobra.Command {
	var (
		marksFile string
		del       bool
	)

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Garbage collect unreferenced blobs",
		Long: `Runs one mark and sweep over the store.

Every key listed in --marks (one per line, "-" for stdin) is kept. All
other digest keys directly under the store prefix are reported, and removed
when --delete is given. No blobs may be written while gc runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var marks []string
			if marksFile != "" {
				var err error
				if marks, err = readMarks(cmd, marksFile); err != nil {
					return err
				}
			}

			p, err := a.provider(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			var unmarked []string
			status, err := p.CollectGarbage(ctx, func(gc *blobstore.GarbageCollector) error {
				for _, key := range marks {
					if err := gc.Mark(key); err != nil {
						return err
					}
				}
				var uerr error
				unmarked, uerr = gc.UnmarkedBlobs()
				return uerr
			}, del)
			if err != nil {
				return fmt.Errorf("gc failed: %w", err)
			}

			out := cmd.OutOrStdout()
			verb := "would remove"
			if del {
				verb = "removed"
			}
			for _, key := range unmarked {
				fmt.Fprintf(out, "%s %s\n", verb, key)
			}
			fmt.Fprintf(out, "kept %d (%s), %s %d (%s)\n",
				status.NumBinaries, humanize.IBytes(uint64(status.SizeBinaries)),
				verb, status.NumBinariesGC, humanize.IBytes(uint64(status.SizeBinariesGC)))
			return nil
		},
	}

	cmd.Flags().StringVar(&marksFile, "marks", "", `file of referenced keys, one per line ("-" for stdin)`)
	cmd.Flags().BoolVar(&del, "delete", false, "delete unreferenced blobs (default is a dry run)")

	return cmd
}

// readMarks reads one key per line, skipping blank lines and # comments.
func readMarks(cmd *cobra.Command, path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open marks: %w", err)
		}
		defer f.Close()
		r = f
	}

	var marks []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		marks = append(marks, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read marks: %w", err)
	}
	return marks, nil
}
