// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/texloom/texloom/lib/orchestrator"
)

// compileCmd implements "texloom compile".
func compileCmd(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	configPath := addConfigFlag(fs)
	engineName := fs.String("engine", "auto", `Engine to use: "pdflatex", "xelatex", or "auto"`)
	output := fs.String("output", "", "Write the resulting PDF here (default: <input>.pdf)")

	fs.Usage = func() {
		fmt.Print(`texloom compile - Compile a document to a PDF

USAGE
    texloom compile [flags] <file.tex>

FLAGS
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("exactly one input file is required")
	}
	inputPath := fs.Arg(0)

	source, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inputPath, err)
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
	defer c.Close()

	o, err := buildOrchestrator(ctx, cfg, c, logger)
	if err != nil {
		return err
	}

	result, err := o.Compile(ctx, string(source), orchestrator.Options{
		Engine:   *engineName,
		UseCache: cfg.Features.EnableDocCache,
	})
	if err != nil {
		logger.Error("compile failed", "error", err, "attempts", result.Stats.Attempts, "exit_code", result.ExitCode)
		if result.Log != "" {
			fmt.Fprintln(os.Stderr, result.Log)
		}
		return err
	}
	if !result.Success {
		return fmt.Errorf("compile did not succeed (exit code %d)", result.ExitCode)
	}

	outPath := *output
	if outPath == "" {
		outPath = strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".pdf"
	}
	if err := os.WriteFile(outPath, result.PDF, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}

	logger.Info("compile succeeded",
		"output", outPath,
		"attempts", result.Stats.Attempts,
		"cached", result.Cached,
		"used_cached_format", result.Stats.UsedCachedFormat,
		"fetched_bundles", len(result.Stats.FetchedBundles),
		"fetched_packages", len(result.Stats.FetchedPackages),
	)
	return nil
}
