package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cmd "github.com/jpfielding/djatoka.go/cmd/ctl/cmd"
	"github.com/jpfielding/djatoka.go/pkg/logging"
)

var (
	GitSHA string = "NA"
)

func main() {
	// register sigterm for graceful shutdown
	ctx, cnc := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cnc()
	go func() {
		defer cnc() // this cnc is from notify and removes the signal so subsequent ctrl-c will restore kill functions
		<-ctx.Done()
	}()
	// stdout may carry a codestream, so logs go to stderr
	slog.SetDefault(logging.Logger(os.Stderr, false, slog.LevelInfo))
	ctx = logging.AppendCtx(ctx,
		slog.Group("djatoka",
			slog.String("name", "ctl"),
			slog.String("git", GitSHA),
		))
	if err := cmd.Execute(ctx, GitSHA, os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
