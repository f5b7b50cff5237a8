// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
)

// terminateCmd implements "texloom terminate" (§6 terminate()/unload()).
// Each texloom subcommand is a single process invocation rather than a
// long-lived service, so there is no in-process engine or connection
// pool outliving one call; terminate's only real job is to open and
// cleanly close the cache once, surfacing any flush error before the
// process would otherwise exit silently.
func terminateCmd(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("terminate", flag.ExitOnError)
	configPath := addConfigFlag(fs)

	fs.Usage = func() {
		fmt.Print(`texloom terminate - Flush and close persistent cache state

USAGE
    texloom terminate [flags]

FLAGS
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	c, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Close(); err != nil {
		return fmt.Errorf("closing cache: %w", err)
	}

	logger.Info("terminate: cache closed cleanly")
	return nil
}
