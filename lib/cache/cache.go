// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/texloom/texloom/lib/clock"
	"github.com/texloom/texloom/lib/codec"
)

// Config configures a [Cache].
type Config struct {
	// BlobDir is the root directory for the durable blob store (§6
	// cache_dir).
	BlobDir string

	// MetadataDBPath is the path to the SQLite metadata database (§6
	// metadata_db_path).
	MetadataDBPath string

	// PoolSize is the SQLite connection pool size (§6 pool_size). Zero
	// uses lib/sqlitepool's default.
	PoolSize int

	// PDFMemoryEntries bounds the in-memory PDF overlay (§4.1: "LRU-style
	// bound for PDFs at >=10 entries"). Zero disables the memory overlay
	// for PDFs entirely; every PDF read falls through to the blob store.
	PDFMemoryEntries int

	// Clock is consulted for row timestamps. Defaults to [clock.Real].
	Clock clock.Clock

	// Logger receives fire-and-forget write-failure diagnostics. Defaults
	// to a discarding logger.
	Logger *slog.Logger
}

// Cache is C1, the multi-tier persistent cache (§4.1): a memory overlay in
// front of a structured metadata store and a durable blob store.
type Cache struct {
	blobs   *BlobStore
	meta    *MetadataStore
	pdfs    *pdfLRU
	overlay *unboundedOverlay
	logger  *slog.Logger
}

// Open opens (creating if necessary) a cache rooted at cfg.BlobDir and
// cfg.MetadataDBPath, then reconciles every tier's on-disk version against
// [CurrentVersions], evicting any tier whose stored version is stale
// (§4.1 Versioning).
func Open(ctx context.Context, cfg Config) (*Cache, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	blobs, err := OpenBlobStore(cfg.BlobDir)
	if err != nil {
		return nil, err
	}

	meta, err := OpenMetadataStore(cfg.MetadataDBPath, cfg.PoolSize, cfg.Clock)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		blobs:   blobs,
		meta:    meta,
		pdfs:    newPDFLRU(cfg.PDFMemoryEntries),
		overlay: newUnboundedOverlay(),
		logger:  logger,
	}

	if err := c.reconcileVersions(ctx); err != nil {
		meta.Close()
		return nil, err
	}

	return c, nil
}

// Close releases the metadata store's connection pool.
func (c *Cache) Close() error {
	return c.meta.Close()
}

// tierTable names the metadata table that backs a tier, for wholesale
// eviction. Tiers with no dedicated table (TierBundle: bundles are
// content-addressed by ID directly, with no index row to stale) are
// omitted.
var tierTable = map[Tier]string{
	TierCTAN: "packages",
	TierWasm: "engine_image",
	TierAux:  "aux_files",
	TierDoc:  "pdfs",
	TierFmt:  "formats",
}

// reconcileVersions evicts any tier whose on-disk version trails the
// code's current version, then stamps the current version.
func (c *Cache) reconcileVersions(ctx context.Context) error {
	for tier, want := range CurrentVersions {
		got, ok, err := c.meta.TierVersion(ctx, tier)
		if err != nil {
			return err
		}
		if ok && got >= want {
			continue
		}

		if table, hasTable := tierTable[tier]; hasTable {
			if err := c.meta.ClearTable(ctx, table); err != nil {
				return err
			}
		}
		if tier == TierDoc {
			c.pdfs = newPDFLRU(c.pdfs.capacity)
		}

		c.logger.Info("cache: evicted stale tier", "tier", string(tier), "from_version", got, "to_version", want)
		if err := c.meta.StampTierVersion(ctx, tier, want); err != nil {
			return err
		}
	}
	return nil
}

func pdfBlobKey(documentHash, engine string) string {
	return fmt.Sprintf("pdfs/%s_%s.pdf", documentHash, engine)
}

func formatBlobKey(preambleHash, engine string) string {
	return fmt.Sprintf("fmt-cache/%s_%s.fmt", preambleHash, engine)
}

func engineBlobKey() string {
	return "engine/engine.wasm"
}

// GetPDF returns a cached compiled PDF keyed by (documentHash, engine),
// checking the in-memory overlay before the durable store.
func (c *Cache) GetPDF(ctx context.Context, documentHash, engine string) ([]byte, bool, error) {
	memKey := documentHash + "_" + engine
	if data, ok := c.pdfs.Get(memKey); ok {
		return data, true, nil
	}

	key, ok, err := c.meta.GetPDF(ctx, documentHash, engine)
	if err != nil || !ok {
		return nil, false, err
	}

	data, ok, err := c.blobs.Get(key, CategoryBundle)
	if err != nil || !ok {
		return nil, false, err
	}
	c.pdfs.Put(memKey, data)
	return data, true, nil
}

// PutPDF persists a compiled PDF keyed by (documentHash, engine). Write
// failures are logged and swallowed (§4.1, §7): a cache-write failure
// must never surface as a compile failure.
func (c *Cache) PutPDF(ctx context.Context, documentHash, engine string, data []byte) {
	memKey := documentHash + "_" + engine
	c.pdfs.Put(memKey, data)

	key := pdfBlobKey(documentHash, engine)
	if err := c.blobs.Put(key, data, CategoryBundle); err != nil {
		c.logger.Error("cache: failed to persist pdf", "error", err)
		return
	}
	if err := c.meta.PutPDF(ctx, documentHash, engine, key); err != nil {
		c.logger.Error("cache: failed to index pdf", "error", err)
	}
}

// GetFormat returns a cached format file keyed by (preambleHash, engine).
func (c *Cache) GetFormat(ctx context.Context, preambleHash, engine string) ([]byte, bool, error) {
	memKey := "fmt:" + preambleHash + "_" + engine
	if data, ok := c.overlay.Get(memKey); ok {
		return data, true, nil
	}

	key, ok, err := c.meta.GetFormat(ctx, preambleHash, engine)
	if err != nil || !ok {
		return nil, false, err
	}

	data, ok, err := c.blobs.Get(key, CategoryFormat)
	if err != nil || !ok {
		return nil, false, err
	}
	c.overlay.Put(memKey, data)
	return data, true, nil
}

// PutFormat persists a generated format file keyed by (preambleHash,
// engine). Write failures are logged and swallowed.
func (c *Cache) PutFormat(ctx context.Context, preambleHash, engine string, data []byte) {
	memKey := "fmt:" + preambleHash + "_" + engine
	c.overlay.Put(memKey, data)

	key := formatBlobKey(preambleHash, engine)
	if err := c.blobs.Put(key, data, CategoryFormat); err != nil {
		c.logger.Error("cache: failed to persist format", "error", err)
		return
	}
	if err := c.meta.PutFormat(ctx, preambleHash, engine, key); err != nil {
		c.logger.Error("cache: failed to index format", "error", err)
	}
}

// GetAux returns the cached aux-file set for (preambleHash, engine,
// fmtState).
func (c *Cache) GetAux(ctx context.Context, preambleHash, engine, fmtState string) (map[string][]byte, bool, error) {
	rec, ok, err := c.meta.GetAux(ctx, preambleHash, engine, fmtState)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec.Files, true, nil
}

// PutAux persists the aux-file set for (preambleHash, engine, fmtState).
func (c *Cache) PutAux(ctx context.Context, preambleHash, engine, fmtState string, files map[string][]byte) {
	if err := c.meta.PutAux(ctx, preambleHash, engine, fmtState, &AuxRecord{Files: files}); err != nil {
		c.logger.Error("cache: failed to persist aux files", "error", err)
	}
}

// GetPackage returns the metadata for a previously-fetched package, or
// notFound=true if name was instead recorded as a negative cache hit
// (§4.1 Missing-package negative caching, §8 invariant 7).
func (c *Cache) GetPackage(ctx context.Context, name string) (rec *PackageRecord, notFound bool, ok bool, err error) {
	if cached, hit := c.overlay.Get("pkg:" + name); hit {
		var record PackageRecord
		if err := codec.Unmarshal(cached, &record); err != nil {
			return nil, false, false, fmt.Errorf("cache: decoding overlaid package %s: %w", name, err)
		}
		return &record, false, true, nil
	}

	rec, notFound, ok, err = c.meta.GetPackage(ctx, name)
	if err != nil || !ok || notFound {
		return rec, notFound, ok, err
	}

	if encoded, encErr := codec.Marshal(rec); encErr == nil {
		c.overlay.Put("pkg:"+name, encoded)
	}
	return rec, false, true, nil
}

// PutPackage persists a fetched package's metadata.
func (c *Cache) PutPackage(ctx context.Context, name string, rec *PackageRecord) {
	if encoded, err := codec.Marshal(rec); err == nil {
		c.overlay.Put("pkg:"+name, encoded)
	}
	if err := c.meta.PutPackage(ctx, name, rec); err != nil {
		c.logger.Error("cache: failed to persist package", "error", err, "package", name)
	}
}

// MarkPackageNotFound records that name does not exist upstream, so
// [Cache.GetPackage] short-circuits future lookups for the rest of the
// session (§8 invariant 7).
func (c *Cache) MarkPackageNotFound(ctx context.Context, name string) {
	if err := c.meta.MarkNotFound(ctx, name); err != nil {
		c.logger.Error("cache: failed to mark package not found", "error", err, "package", name)
	}
}

// GetEngineImage returns the cached compiled engine image, if present.
func (c *Cache) GetEngineImage(ctx context.Context) ([]byte, bool, error) {
	if data, ok := c.overlay.Get("engine"); ok {
		return data, true, nil
	}

	key, ok, err := c.meta.GetEngineImage(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	data, ok, err := c.blobs.Get(key, CategoryBundle)
	if err != nil || !ok {
		return nil, false, err
	}
	c.overlay.Put("engine", data)
	return data, true, nil
}

// PutEngineImage persists the compiled engine image under the fixed key
// "engine" (§3, §6).
func (c *Cache) PutEngineImage(ctx context.Context, data []byte) {
	c.overlay.Put("engine", data)

	key := engineBlobKey()
	if err := c.blobs.Put(key, data, CategoryBundle); err != nil {
		c.logger.Error("cache: failed to persist engine image", "error", err)
		return
	}
	if err := c.meta.PutEngineImage(ctx, key); err != nil {
		c.logger.Error("cache: failed to index engine image", "error", err)
	}
}

// GetBundle returns a cached bundle body by its blob-store key (§6:
// "bundles/<id>.data"), checking the unbounded memory overlay first.
func (c *Cache) GetBundle(key string) ([]byte, bool, error) {
	if data, ok := c.overlay.Get("bundle:" + key); ok {
		return data, true, nil
	}
	data, ok, err := c.blobs.Get(key, CategoryBundle)
	if err != nil || !ok {
		return nil, false, err
	}
	c.overlay.Put("bundle:"+key, data)
	return data, true, nil
}

// PutBundle persists a fetched bundle body under key.
func (c *Cache) PutBundle(key string, data []byte) {
	c.overlay.Put("bundle:"+key, data)
	if err := c.blobs.Put(key, data, CategoryBundle); err != nil {
		c.logger.Error("cache: failed to persist bundle", "error", err, "key", key)
	}
}

// PDFStats returns the in-memory PDF overlay's hit/miss counters, exposed
// for diagnostics and the CLI's cache-status output.
func (c *Cache) PDFStats() (hits, misses int) {
	return c.pdfs.Stats()
}
