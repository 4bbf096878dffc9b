package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/cloudblob"
	"github.com/hupe1980/cloudblob/blobstore"
)

// Compression names accepted by export --compress.
const (
	CompressionNone = "none"
	CompressionZSTD = "zstd"
	CompressionLZ4  = "lz4"
)

// newExportCommand creates the export command
func newExportCommand(a *app) *cobra.Command {
	var (
		compression string
		workers     int
	)

	cmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Copy every blob into a local directory",
		Long: `Downloads every stored blob into dir, one file per key.

Files are optionally compressed with zstd (.zst) or lz4 (.lz4).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := compressedName("", compression); err != nil {
				return err
			}
			if workers < 1 {
				return fmt.Errorf("invalid --workers %d: must be positive", workers)
			}

			ctx := cmd.Context()
			p, err := a.provider(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			dir := args[0]
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}

			n, err := exportAll(ctx, p, dir, compression, workers)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d blobs to %s\n", n, dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&compression, "compress", CompressionNone, "compression: zstd, lz4 or none")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent downloads")

	return cmd
}

func exportAll(ctx context.Context, p *cloudblob.Provider, dir, compression string, workers int) (int64, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var exported atomic.Int64
	scroll := p.Scroll(1000)

	for scroll.HasNext() {
		page, err := scroll.Next(gctx)
		if errors.Is(err, blobstore.ErrNoMoreElements) {
			break
		}
		if err != nil {
			// A failed download cancels gctx; report that failure instead.
			if werr := g.Wait(); werr != nil {
				return exported.Load(), werr
			}
			return exported.Load(), fmt.Errorf("failed to list: %w", err)
		}

		for _, info := range page {
			key := info.Key
			g.Go(func() error {
				if err := exportBlob(gctx, p, dir, key, compression); err != nil {
					return err
				}
				exported.Add(1)
				return nil
			})
		}
	}

	err := g.Wait()
	return exported.Load(), err
}

func exportBlob(ctx context.Context, p *cloudblob.Provider, dir, key, compression string) (err error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return fmt.Errorf("refusing to export key %q outside %s", key, dir)
	}
	name, _ := compressedName(filepath.Join(dir, filepath.FromSlash(key)), compression)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}

	rc, err := p.Open(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", key, err)
	}
	defer rc.Close()

	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(name)
		}
	}()

	w, err := compressWriter(f, compression)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to export %s: %w", key, err)
	}
	return w.Close()
}

// compressedName appends the file extension of compression to name.
func compressedName(name, compression string) (string, error) {
	switch compression {
	case CompressionNone, "":
		return name, nil
	case CompressionZSTD:
		return name + ".zst", nil
	case CompressionLZ4:
		return name + ".lz4", nil
	default:
		return "", fmt.Errorf("unknown compression %q: want zstd, lz4 or none", compression)
	}
}

func compressWriter(w io.Writer, compression string) (io.WriteCloser, error) {
	switch compression {
	case CompressionZSTD:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nopWriteCloser{w}, nil
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
