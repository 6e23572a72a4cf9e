package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// NewCompressCmd compresses a single image.
func NewCompressCmd(ctx context.Context, e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress",
		Short: "compress one image to JPEG 2000",
		Long:  "Compresses an image to JPEG 2000. Use - for --input or --output to read stdin or write stdout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, _ := cmd.Flags().GetString("input")
			out, _ := cmd.Flags().GetString("output")
			if in == "" || out == "" {
				return fmt.Errorf("both --input and --output are required")
			}

			c, err := e.compressor()
			if err != nil {
				return err
			}
			p := paramsFromFlags(cmd.Flags(), e.cfg.EncodeParams())

			switch {
			case in != "-" && out != "-":
				err = c.CompressFile(ctx, in, out, p)
			case out != "-":
				err = c.CompressReaderToFile(ctx, cmd.InOrStdin(), out, p)
			default:
				var r io.Reader = cmd.InOrStdin()
				if in != "-" {
					f, ferr := os.Open(in)
					if ferr != nil {
						return fmt.Errorf("failed to open file: %w", ferr)
					}
					defer f.Close()
					r = f
				}
				err = c.CompressReader(ctx, r, cmd.OutOrStdout(), p)
			}
			if err != nil {
				return err
			}
			slog.DebugContext(ctx, "compress finished", "input", in, "output", out)
			return nil
		},
	}
	pf := cmd.Flags()
	pf.StringP("input", "i", "", "input image path, or - for stdin")
	pf.StringP("output", "o", "", "output JPEG 2000 path, or - for stdout")
	addParamFlags(pf)
	return cmd
}
