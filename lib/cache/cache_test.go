// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := Open(context.Background(), Config{
		BlobDir:          filepath.Join(dir, "blobs"),
		MetadataDBPath:   filepath.Join(dir, "meta.db"),
		PoolSize:         1,
		PDFMemoryEntries: 2,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPDFRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if _, ok, err := c.GetPDF(ctx, "doc1", "pdflatex"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	c.PutPDF(ctx, "doc1", "pdflatex", []byte("%PDF-1.5 fake"))

	data, ok, err := c.GetPDF(ctx, "doc1", "pdflatex")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(data) != "%PDF-1.5 fake" {
		t.Fatalf("got %q", data)
	}
}

func TestPDFMemoryOverlayEvictsAfterCapacity(t *testing.T) {
	c := openTestCache(t) // capacity 2
	ctx := context.Background()

	c.PutPDF(ctx, "a", "e", []byte("a"))
	c.PutPDF(ctx, "b", "e", []byte("b"))
	c.PutPDF(ctx, "c", "e", []byte("c")) // evicts "a" from memory, not from the blob store

	if _, ok, err := c.GetPDF(ctx, "a", "e"); err != nil || !ok {
		t.Fatalf("expected fallback hit via blob store, got ok=%v err=%v", ok, err)
	}
}

func TestFormatRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	c.PutFormat(ctx, "preamble123", "xelatex", []byte("fmt-bytes"))

	data, ok, err := c.GetFormat(ctx, "preamble123", "xelatex")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(data) != "fmt-bytes" {
		t.Fatalf("got %q", data)
	}

	if _, ok, err := c.GetFormat(ctx, "preamble123", "pdflatex"); err != nil || ok {
		t.Fatalf("expected miss for different engine, got ok=%v err=%v", ok, err)
	}
}

func TestAuxRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	files := map[string][]byte{"doc.aux": []byte("aux-content")}
	c.PutAux(ctx, "preamble123", "xelatex", "fmt", files)

	got, ok, err := c.GetAux(ctx, "preamble123", "xelatex", "fmt")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got["doc.aux"]) != "aux-content" {
		t.Fatalf("got %v", got)
	}
}

func TestPackageNotFoundShortCircuits(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	c.MarkPackageNotFound(ctx, "nonexistent-pkg")

	_, notFound, ok, err := c.GetPackage(ctx, "nonexistent-pkg")
	if err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	if !ok || !notFound {
		t.Fatalf("expected ok=true notFound=true, got ok=%v notFound=%v", ok, notFound)
	}
}

func TestPackageRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	rec := &PackageRecord{
		Files:        map[string][]byte{"amsmath.sty": []byte("content")},
		Dependencies: []string{"amsfonts"},
	}
	c.PutPackage(ctx, "amsmath", rec)

	got, notFound, ok, err := c.GetPackage(ctx, "amsmath")
	if err != nil || !ok || notFound {
		t.Fatalf("expected hit, got ok=%v notFound=%v err=%v", ok, notFound, err)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "amsfonts" {
		t.Fatalf("got deps %v", got.Dependencies)
	}
}

func TestEngineImageRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()

	if _, ok, err := c.GetEngineImage(ctx); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	c.PutEngineImage(ctx, []byte("wasm-bytes"))

	data, ok, err := c.GetEngineImage(ctx)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(data) != "wasm-bytes" {
		t.Fatalf("got %q", data)
	}
}

func TestBundleRoundTrip(t *testing.T) {
	c := openTestCache(t)

	c.PutBundle("bundles/base.data", []byte("bundle-body"))

	data, ok, err := c.GetBundle("bundles/base.data")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(data) != "bundle-body" {
		t.Fatalf("got %q", data)
	}
}

func TestReopenPersistsAcrossProcesses(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	c1, err := Open(ctx, Config{
		BlobDir:        filepath.Join(dir, "blobs"),
		MetadataDBPath: filepath.Join(dir, "meta.db"),
		PoolSize:       1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c1.PutPDF(ctx, "doc1", "pdflatex", []byte("persisted"))
	c1.Close()

	c2, err := Open(ctx, Config{
		BlobDir:        filepath.Join(dir, "blobs"),
		MetadataDBPath: filepath.Join(dir, "meta.db"),
		PoolSize:       1,
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()

	data, ok, err := c2.GetPDF(ctx, "doc1", "pdflatex")
	if err != nil || !ok {
		t.Fatalf("expected persisted hit, got ok=%v err=%v", ok, err)
	}
	if string(data) != "persisted" {
		t.Fatalf("got %q", data)
	}
}

func TestVersionBumpEvictsTier(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := Config{
		BlobDir:        filepath.Join(dir, "blobs"),
		MetadataDBPath: filepath.Join(dir, "meta.db"),
		PoolSize:       1,
	}

	c1, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	c1.PutPDF(ctx, "doc1", "pdflatex", []byte("v1-pdf"))
	c1.Close()

	original := CurrentVersions[TierDoc]
	CurrentVersions[TierDoc] = original + 1
	defer func() { CurrentVersions[TierDoc] = original }()

	c2, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen after version bump: %v", err)
	}
	defer c2.Close()

	if _, ok, err := c2.GetPDF(ctx, "doc1", "pdflatex"); err != nil || ok {
		t.Fatalf("expected eviction on version bump, got ok=%v err=%v", ok, err)
	}
}
