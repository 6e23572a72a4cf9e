package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewCommandCmd prints the engine invocation without running it.
func NewCommandCmd(ctx context.Context, e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "command",
		Short: "print the kdu_compress command line",
		Long:  "Prints the kdu_compress command line compress would run. Levels are derived from --input unless --levels is set.",
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
			kc, err := c.Command(in, out, paramsFromFlags(cmd.Flags(), e.cfg.EncodeParams()))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), kc.String())
			return nil
		},
	}
	pf := cmd.Flags()
	pf.StringP("input", "i", "", "input image path")
	pf.StringP("output", "o", "", "output JPEG 2000 path")
	addParamFlags(pf)
	return cmd
}
