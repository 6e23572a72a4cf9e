package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jpfielding/djatoka.go/pkg/imageio"
	"github.com/jpfielding/djatoka.go/pkg/kdu"
	"github.com/spf13/cobra"
)

// NewProbeCmd creates the probe cobra command
func NewProbeCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe [FILE]",
		Short: "Describe an input image",
		Long:  "Prints an image's format, dimensions, TIFF compression and the resolution levels compress would use.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filePath, _ := cmd.Flags().GetString("file")
			if filePath == "" && len(args) > 0 {
				filePath = args[0]
			}
			if filePath == "" {
				return fmt.Errorf("file path is required. Use --file flag or provide as argument")
			}

			info, err := imageio.Inspect(filePath)
			if err != nil {
				return fmt.Errorf("probe error: %w", err)
			}
			levels := kdu.LevelCount(info.Width, info.Height)

			w := cmd.OutOrStdout()
			switch format, _ := cmd.Flags().GetString("format"); format {
			case "json":
				return json.NewEncoder(w).Encode(struct {
					*imageio.Info
					Levels int
				}{info, levels})
			default:
				fmt.Fprintf(w, "File: %s\n", info.Path)
				fmt.Fprintf(w, "Format: %s\n", info.Format)
				fmt.Fprintf(w, "Dimensions: %dx%d\n", info.Width, info.Height)
				fmt.Fprintf(w, "TIFF: %v\n", info.TIFF)
				if info.TIFF {
					fmt.Fprintf(w, "Compression: %d\n", info.Compression)
				}
				fmt.Fprintf(w, "Used as is: %v\n", info.Uncompressed)
				fmt.Fprintf(w, "Levels: %d\n", levels)
			}
			return nil
		},
	}

	pf := cmd.Flags()
	pf.StringP("file", "f", "", "image file path to probe")
	pf.String("format", "text", "output format (text|json)")

	return cmd
}
