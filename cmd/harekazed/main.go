// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command harekazed keeps an offline copy of a Chinachu server's recordings,
// timers and guide, and serves a local control API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ManuGH/harekaze/internal/app/bootstrap"
	xglog "github.com/ManuGH/harekaze/internal/log"
	"github.com/ManuGH/harekaze/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		stop()
		os.Exit(exitCode(os.Stderr, err))
	}
}

// exitCode prints err and maps it to a process exit status.
func exitCode(w io.Writer, err error) int {
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		if msg := coder.Error(); msg != "" {
			fmt.Fprintln(w, msg)
		}
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "harekazed: %v\n", err)
	return 1
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "harekazed",
		Usage:     "offline sync daemon for Chinachu",
		Version:   version.String(),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file (default: $HAREKAZE_DATA_DIR/config.yaml when present)",
			},
		},
		Action: runDaemon,
		// Exit codes are mapped in main so tests can run commands in-process.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			configCommand(),
			discoverCommand(),
		},
	}
}

func runDaemon(c *cli.Context) error {
	container, err := bootstrap.WireServices(c.Context, version.Version, c.String("config"))
	if err != nil {
		return err
	}
	logger := xglog.WithComponent("main")
	logger.Info().
		Str(xglog.FieldEvent, "daemon.start").
		Str("listen", container.Config.API.ListenAddr).
		Str("documents", container.Config.DocumentsDir).
		Msg("harekazed starting")

	if err := container.Run(c.Context); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.failed").Msg("harekazed stopped with error")
		return err
	}
	logger.Info().Str(xglog.FieldEvent, "daemon.stopped").Msg("harekazed stopped")
	return nil
}
