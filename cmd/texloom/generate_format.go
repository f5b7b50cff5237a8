// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/texloom/texloom/lib/fingerprint"
	"github.com/texloom/texloom/lib/format"
	"github.com/texloom/texloom/lib/resolver"
	"github.com/texloom/texloom/lib/vfs"
)

// generateFormatCmd implements "texloom generate-format": it pre-dumps a
// format file for a preamble and caches it, so a later compile sharing
// the same preamble can skip straight to the document body (§4.5, §6's
// generate_format()). Unlike compile, it does not run the §4.4 retry
// loop; a missing package simply fails the run, per format.Generate's
// documented contract.
func generateFormatCmd(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("generate-format", flag.ExitOnError)
	configPath := addConfigFlag(fs)
	engineName := fs.String("engine", "pdflatex", `Engine to generate the format for: "pdflatex" or "xelatex"`)

	fs.Usage = func() {
		fmt.Print(`texloom generate-format - Pre-generate and cache a format file

USAGE
    texloom generate-format [flags] <file.tex>

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

	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("reading %s: %w", fs.Arg(0), err)
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

	co, err := assemble(ctx, cfg, c, logger)
	if err != nil {
		return err
	}

	preamble := format.ExtractPreamble(string(source))
	preambleHash := fingerprint.Preamble(preamble)

	if _, ok, err := format.Lookup(ctx, c, preambleHash, *engineName); err != nil {
		return err
	} else if ok {
		logger.Info("generate-format: format already cached", "engine", *engineName)
		return nil
	}

	bundles := resolver.Resolve(resolver.Input{
		Source:     preamble,
		Engine:     *engineName,
		Registry:   co.manifests.Registry,
		PackageMap: co.manifests.PackageMap,
		BundleDeps: co.manifests.BundleDeps,
		Logger:     logger,
	})

	bodies := make(map[string][]byte, len(bundles))
	for _, id := range bundles {
		body, err := co.bundleFetcher.Fetch(ctx, id)
		if err != nil {
			return fmt.Errorf("fetching bundle %s: %w", id, err)
		}
		bodies[id] = body
	}

	image, ok, err := c.GetEngineImage(ctx)
	if err != nil {
		return fmt.Errorf("checking engine image cache: %w", err)
	}
	if !ok {
		return fmt.Errorf("no engine image cached")
	}
	eng, err := co.loader.Load(ctx, image)
	if err != nil {
		return fmt.Errorf("loading engine: %w", err)
	}

	result, root, err := format.Generate(ctx, eng, preamble, *engineName, vfs.BundleSet{
		Required: bundles,
		Bodies:   bodies,
		Global:   co.manifests.Global,
	})
	if err != nil {
		return fmt.Errorf("generating format: %w", err)
	}
	if result.ExitCode != 0 {
		fmt.Fprintln(os.Stderr, string(result.Log))
		return fmt.Errorf("format generation failed with exit code %d", result.ExitCode)
	}

	fmtBytes, err := root.Read("myformat.fmt")
	if err != nil {
		return fmt.Errorf("reading generated format: %w", err)
	}
	if len(fmtBytes) == 0 {
		return fmt.Errorf("engine reported success but produced no myformat.fmt")
	}

	format.Persist(ctx, c, preambleHash, *engineName, fmtBytes)
	logger.Info("generate-format: cached format", "engine", *engineName, "bytes", len(fmtBytes))
	return nil
}
