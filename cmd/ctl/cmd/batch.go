package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/jpfielding/djatoka.go/pkg/kdu"
	"github.com/spf13/cobra"
)

// NewBatchCmd compresses every image in a directory.
func NewBatchCmd(ctx context.Context, e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "compress every image in a directory",
		Long:  "Compresses each image directly inside --input-dir to a .jp2 of the same name in --output-dir. Images sharing a name keep their extension, as in scan.tif.jp2.",
		RunE: func(cmd *cobra.Command, args []string) error {
			inDir, _ := cmd.Flags().GetString("input-dir")
			outDir, _ := cmd.Flags().GetString("output-dir")
			workers, _ := cmd.Flags().GetInt("workers")
			manifest, _ := cmd.Flags().GetString("manifest")
			if inDir == "" || outDir == "" {
				return fmt.Errorf("both --input-dir and --output-dir are required")
			}

			c, err := e.compressor()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			jobs, err := kdu.DirectoryJobs(inDir, outDir, paramsFromFlags(cmd.Flags(), e.cfg.EncodeParams()))
			if err != nil {
				return err
			}

			results := c.CompressFiles(ctx, jobs, workers)
			if manifest != "" {
				if err := writeManifest(manifest, results); err != nil {
					return err
				}
			}

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s: %v\n", r.Job.Input, r.Err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s -> %s (%s)\n", r.Job.Input, r.Job.Output, r.Duration.Round(time.Millisecond))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d images failed", failed, len(jobs))
			}
			return nil
		},
	}
	pf := cmd.Flags()
	pf.String("input-dir", "", "directory of images to compress")
	pf.String("output-dir", "", "directory for the .jp2 files")
	pf.IntP("workers", "j", runtime.NumCPU(), "engines to run at once")
	pf.String("manifest", "", "write one JSON line per image, with the output's BLAKE3 checksum, to this file")
	addParamFlags(pf)
	return cmd
}

// writeManifest records every result as a JSON line.
func writeManifest(path string, results []kdu.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range results {
		line := struct {
			kdu.Result
			Error string `json:"error,omitempty"`
		}{Result: r}
		if r.Err != nil {
			line.Error = r.Err.Error()
		}
		if err := enc.Encode(line); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}
