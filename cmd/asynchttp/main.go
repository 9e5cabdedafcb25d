package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"asynchttp/application/http/actor/client"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"
)

func main() {
	cli := &CLI{}
	cliCtx := kong.Parse(cli,
		kong.Name("asynchttp"),
		kong.Description("Send HTTP requests concurrently and print the responses."),
		kong.UsageOnError(),
		kong.Vars{"version": client.Version},
	)
	cliCtx.FatalIfErrorf(cliCtx.Error)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := newLogger(cli.LogFormat, cli.Verbose, isatty.IsTerminal(os.Stderr.Fd()))
	cliCtx.FatalIfErrorf(cli.Run(ctx, os.Stdout, logger))
}

// newLogger writes text to terminals and JSON everywhere else, unless format says otherwise.
func newLogger(format string, verbose, terminal bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !terminal) {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
