// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/ManuGH/harekaze/internal/config"
	"github.com/ManuGH/harekaze/internal/discovery"
)

// newBrowser is replaced in tests.
var newBrowser = func() discovery.Browser { return discovery.ZeroconfBrowser{} }

func discoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "find Chinachu servers on the local network via mDNS",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Usage: "browse duration (default: discovery.timeout)"},
			&cli.BoolFlag{Name: "write", Usage: "save the first server into the config file"},
			&cli.BoolFlag{Name: "json", Usage: "print candidates as JSON"},
		},
		Action: runDiscover,
	}
}

func runDiscover(c *cli.Context) error {
	cfg, path, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("configuration error: %v", err), 1)
	}
	timeout := c.Duration("timeout")
	if timeout <= 0 {
		timeout = cfg.Discovery.Timeout
	}

	candidates, err := discovery.Discover(c.Context, discovery.Options{
		Timeout: timeout,
		Browser: newBrowser(),
		Prober: discovery.ClientProber{
			Username: cfg.Chinachu.Username,
			Password: cfg.Chinachu.Password,
		},
	})
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}

	out := c.App.Writer
	if c.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(candidates); err != nil {
			return err
		}
	} else if len(candidates) > 0 {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "INSTANCE\tURL\tCONNECTED")
		for _, cand := range candidates {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", cand.Instance, cand.BaseURL, int64(cand.Status.Connected))
		}
		_ = tw.Flush()
	}

	if len(candidates) == 0 {
		return cli.Exit("no Chinachu server found", 3)
	}
	if !c.Bool("write") {
		return nil
	}

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}
	cfg.Chinachu.BaseURL = candidates[0].BaseURL
	if err := config.NewManager(path).Save(&cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(out, "wrote %s to %s\n", candidates[0].BaseURL, path)
	return nil
}
