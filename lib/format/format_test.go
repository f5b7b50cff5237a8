// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/texloom/texloom/lib/cache"
	"github.com/texloom/texloom/lib/engine"
	"github.com/texloom/texloom/lib/fingerprint"
	"github.com/texloom/texloom/lib/vfs"
)

func TestExtractPreamble(t *testing.T) {
	source := "\\documentclass{article}\n\\begin{document}\nhello\n\\end{document}"
	got := ExtractPreamble(source)
	want := "\\documentclass{article}\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractPreamble_NoBeginDocument(t *testing.T) {
	source := "\\documentclass{article}"
	if got := ExtractPreamble(source); got != source {
		t.Fatalf("got %q, want whole source unchanged", got)
	}
}

func TestGenerateAndLookupRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := cache.Open(ctx, cache.Config{
		BlobDir:        filepath.Join(dir, "blobs"),
		MetadataDBPath: filepath.Join(dir, "meta.db"),
		PoolSize:       1,
	})
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer c.Close()

	fake := engine.NewFake(engine.Invocation{
		ExitCode:      0,
		ProducedFiles: map[string][]byte{"myformat.fmt": []byte("dumped-state")},
	})

	preamble := "\\documentclass{article}\n"
	preambleHash := fingerprint.Preamble(preamble)

	if _, ok, err := Lookup(ctx, c, preambleHash, "pdflatex"); err != nil || ok {
		t.Fatalf("expected miss before generation, got ok=%v err=%v", ok, err)
	}

	result, root, err := Generate(ctx, fake, preamble, "pdflatex", vfs.BundleSet{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("got exit code %d", result.ExitCode)
	}

	fmtData, err := root.Read("myformat.fmt")
	if err != nil {
		t.Fatalf("reading produced format file: %v", err)
	}

	Persist(ctx, c, preambleHash, "pdflatex", fmtData)

	got, ok, err := Lookup(ctx, c, preambleHash, "pdflatex")
	if err != nil || !ok {
		t.Fatalf("expected hit after persist, got ok=%v err=%v", ok, err)
	}
	if string(got) != "dumped-state" {
		t.Fatalf("got %q", got)
	}
}

func TestAuxCacheKeySuffix(t *testing.T) {
	if AuxCacheKeySuffix(true) != "_fmt" {
		t.Fatalf("expected _fmt suffix when cached format used")
	}
	if AuxCacheKeySuffix(false) != "" {
		t.Fatalf("expected empty suffix when no cached format used")
	}
}
