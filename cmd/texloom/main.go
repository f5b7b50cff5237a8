// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/texloom/texloom/lib/process"
	"github.com/texloom/texloom/lib/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("TEXLOOM_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "compile":
		err = compileCmd(args, logger)
	case "generate-format":
		err = generateFormatCmd(args, logger)
	case "clear-cache":
		err = clearCacheCmd(args, logger)
	case "warm":
		err = warmCmd(args, logger)
	case "terminate":
		err = terminateCmd(args, logger)
	case "version", "--version", "-v":
		fmt.Printf("texloom %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		process.Fatal(err)
	}
}

func printUsage() {
	fmt.Print(`texloom - Compile LaTeX documents against a lazily-fetched TeX Live tree

USAGE
    texloom <command> [flags]

COMMANDS
    compile          Compile a document to a PDF
    generate-format  Pre-generate and cache a format file for a preamble
    clear-cache      Remove all cached bundles, packages, PDFs, and formats
    warm             Pre-fetch the bundles an engine always needs
    terminate        Flush and close persistent cache state
    version          Show version

ENVIRONMENT
    TEXLOOM_CONFIG  Path to the YAML config file (required unless --config is given)
    TEXLOOM_DEBUG   Enable debug logging

For more information, see: https://github.com/texloom/texloom
`)
}
