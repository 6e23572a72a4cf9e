package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jpfielding/djatoka.go/pkg/config"
	"github.com/jpfielding/djatoka.go/pkg/kdu"
	"github.com/jpfielding/djatoka.go/pkg/logging"
	"github.com/spf13/cobra"
)

// env is the state shared by every command once the root has loaded the
// configuration.
type env struct {
	cfg     *config.Config
	logFile io.Closer
}

// compressor validates the configuration and builds a compressor from it.
func (e *env) compressor() (*kdu.Compressor, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	return e.cfg.Compressor(slog.Default())
}

// close releases the log file, if one was opened.
func (e *env) close() {
	if e.logFile != nil {
		e.logFile.Close()
		e.logFile = nil
	}
}

// Execute runs the command line args and closes the log file whether or
// not the command succeeded.
func Execute(ctx context.Context, gitsha string, args []string) error {
	cmd, e := newRoot(ctx, gitsha)
	defer e.close()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func NewRoot(ctx context.Context, gitsha string) *cobra.Command {
	cmd, _ := newRoot(ctx, gitsha)
	return cmd
}

func newRoot(ctx context.Context, gitsha string) (*cobra.Command, *env) {
	e := &env{cfg: config.Default()}
	cmd := &cobra.Command{
		Use:          "djatokactl",
		Short:        "compress images to JPEG 2000 with kakadu",
		Long:         "Drives the kakadu kdu_compress engine to turn TIFF, PNG, JPEG, BMP, GIF and WebP images into JPEG 2000.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load(ctx, cmd)
		},
		Run: func(cmd *cobra.Command, args []string) {
			printCommandTree(cmd, 0)
		},
	}
	cmd.AddCommand(
		NewVersionCmd(ctx, gitsha),
		NewCompressCmd(ctx, e),
		NewBatchCmd(ctx, e),
		NewCommandCmd(ctx, e),
		NewProbeCmd(ctx),
	)
	pf := cmd.PersistentFlags()
	pf.String("config", "", "YAML configuration file")
	pf.String("env-file", "", "file of KEY=value pairs loaded into the environment (default ./.env when present)")
	pf.String("kakadu-home", "", "directory holding kdu_compress (overrides "+config.EnvKakaduHome+")")
	pf.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	pf.String("log-format", "", "Log format (text, json)")
	return cmd, e
}

// load applies, in order, the .env file, the config file, the environment
// and the persistent flags, then installs the configured logger.
func (e *env) load(ctx context.Context, cmd *cobra.Command) error {
	flags := cmd.Flags()
	envFile, _ := flags.GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if v, _ := flags.GetString("kakadu-home"); v != "" {
		cfg.Kakadu.Home = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Logging.Level = strings.ToUpper(v)
	}
	if v, _ := flags.GetString("log-format"); v != "" {
		cfg.Logging.Format = v
	}
	e.cfg = cfg

	level, err := cfg.Logging.SlogLevel()
	var w io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		e.close()
		f := logging.Rotating(cfg.Logging.FileConfig())
		e.logFile = f
		w = f
	}
	slog.SetDefault(logging.Logger(w, cfg.Logging.JSON(), level))
	if err != nil {
		slog.WarnContext(ctx, "Invalid log level, defaulting to INFO", "level", cfg.Logging.Level, "error", err)
	}
	return nil
}

func printCommandTree(cmd *cobra.Command, indent int) {
	fmt.Println(strings.Repeat("\t", indent), cmd.Use+":", cmd.Short)
	for _, subCmd := range cmd.Commands() {
		printCommandTree(subCmd, indent+1)
	}
}

func NewVersionCmd(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "git sha for this build",
		Long:  "git sha for this build",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), gitsha)
		},
	}
	return cmd
}
