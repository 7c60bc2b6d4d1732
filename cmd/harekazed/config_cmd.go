// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ManuGH/harekaze/internal/app/bootstrap"
	"github.com/ManuGH/harekaze/internal/config"
	"github.com/ManuGH/harekaze/internal/version"
)

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "inspect the configuration",
		Subcommands: []*cli.Command{{
			Name:   "validate",
			Usage:  "load and validate the configuration",
			Action: runConfigValidate,
		}, {
			Name:  "dump",
			Usage: "print the effective configuration (defaults + file + env) with secrets masked",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "format", Value: "yaml", Usage: "yaml or json"},
			},
			Action: runConfigDump,
		}},
	}
}

// loadConfig resolves the path the same way the daemon does.
func loadConfig(c *cli.Context) (config.AppConfig, string, error) {
	path, err := bootstrap.ResolveConfigPath(strings.TrimSpace(c.String("config")))
	if err != nil {
		return config.AppConfig{}, "", err
	}
	cfg, err := config.NewLoader(path, version.Version).Load()
	return cfg, path, err
}

func runConfigValidate(c *cli.Context) error {
	cfg, path, err := loadConfig(c)
	source := path
	if source == "" {
		source = "environment and defaults"
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("configuration error in %s:\n  %v", source, err), 1)
	}
	if err := cfg.RequireServer(); err != nil {
		fmt.Fprintf(c.App.Writer, "%s is valid (warning: %v)\n", source, err)
		return nil
	}
	fmt.Fprintf(c.App.Writer, "%s is valid\n", source)
	return nil
}

func runConfigDump(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("configuration error: %v", err), 1)
	}
	cfg = cfg.Redacted()

	switch strings.ToLower(strings.TrimSpace(c.String("format"))) {
	case "yaml", "yml":
		data, err := config.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = c.App.Writer.Write(data)
		return err
	case "json":
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	default:
		return cli.Exit(fmt.Sprintf("unsupported format %q (use yaml or json)", c.String("format")), 2)
	}
}
