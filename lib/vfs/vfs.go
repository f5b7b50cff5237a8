// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/texloom/texloom/lib/bundle"
	"github.com/texloom/texloom/lib/manifest"
)

// eagerSuffixes lists the path suffixes that must be resident immediately
// on mount rather than resolved lazily (§4.3 Eager-load rule).
var eagerSuffixes = []string{".fmt", "texmf.cnf", ".map", ".pfb", ".enc"}

func mustBeEager(p string) bool {
	for _, suffix := range eagerSuffixes {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

// VFS is one compile attempt's virtual file system (§4.3).
type VFS struct {
	logger *slog.Logger
	ranges RangeCache

	nodes map[string]*node

	// bundleBodies holds the resident body of every bundle mounted via
	// MountBundle, needed to resolve Lazy reads.
	bundleBodies map[string][]byte

	// fontIndex maps a font file's base name to its absolute VFS path,
	// built while mounting font bundles (§4.3 Font map processing).
	fontIndex map[string]string

	// rootMapPath is the path of the root pdftex.map, if mounted.
	rootMapPath string
	// queuedMaps are auxiliary map file paths to append to the root map.
	queuedMaps []string

	pendingRanges    []PendingRange
	pendingSet       map[string]struct{}
	pendingBundles   []string
	pendingBundleSet map[string]struct{}

	finalised bool
}

// New creates an empty VFS. ranges may be nil, in which case every
// Deferred read is treated as a cache miss.
func New(ranges RangeCache, logger *slog.Logger) *VFS {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &VFS{
		logger:           logger,
		ranges:           ranges,
		nodes:            make(map[string]*node),
		bundleBodies:     make(map[string][]byte),
		fontIndex:        make(map[string]string),
		pendingSet:       make(map[string]struct{}),
		pendingBundleSet: make(map[string]struct{}),
	}
}

func normalize(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// Mount writes a file eagerly. If path ends in ".map" and is not the root
// pdftex.map, it is queued for font-map post-processing.
func (v *VFS) Mount(p string, data []byte) {
	p = normalize(p)
	v.nodes[p] = &node{path: p, state: Eager, data: data}

	if strings.HasSuffix(p, ".map") {
		if path.Base(p) == "pdftex.map" && v.rootMapPath == "" {
			v.rootMapPath = p
			return
		}
		v.queuedMaps = append(v.queuedMaps, p)
	}
}

// MountLazy creates a file node whose content resolves from a resident
// bundle body on first read.
func (v *VFS) MountLazy(p, bundleID string, start, end int64) {
	p = normalize(p)
	v.nodes[p] = &node{path: p, state: Lazy, bundleID: bundleID, start: start, end: end}
}

// MountDeferred creates a file node whose bundle body is not required
// resident; a read records a pending fetch.
func (v *VFS) MountDeferred(p, bundleID string, start, end int64) {
	p = normalize(p)
	v.nodes[p] = &node{path: p, state: Deferred, bundleID: bundleID, start: start, end: end}
}

// MountExternalFiles mounts user-provided or fetched-package files (§4.3
// mount_external_files). Font maps among them are queued the same as a
// direct Mount call.
func (v *VFS) MountExternalFiles(files map[string][]byte) {
	for p, data := range files {
		v.Mount(p, data)
	}
}

// isFontFile reports whether name is a font reference the map-rewriting
// pass cares about.
func isFontFile(name string) bool {
	return strings.HasSuffix(name, ".pfb") || strings.HasSuffix(name, ".enc")
}

// resolveEntries returns the manifest entries belonging to bundleID,
// preferring the global manifest and falling back to the bundle's own
// manifest (§4.3: "prefer the global manifest; fall back to per-bundle").
func resolveEntries(bundleID string, global manifest.FileManifest, perBundle *bundle.Bundle) []bundle.Entry {
	var entries []bundle.Entry
	for fullPath, loc := range global {
		if loc.Bundle != bundleID {
			continue
		}
		dir, name := splitPath(fullPath)
		entries = append(entries, bundle.Entry{Path: dir, Name: name, Start: loc.Start, End: loc.End})
	}
	if len(entries) > 0 {
		return entries
	}
	if perBundle != nil {
		return perBundle.Entries
	}
	return nil
}

func splitPath(full string) (dir, name string) {
	idx := strings.LastIndexByte(full, '/')
	if idx < 0 {
		return "", full
	}
	return full[:idx], full[idx+1:]
}

// MountBundle mounts bundleID's resident body. Files requiring eager load
// (§4.3) are copied immediately; the rest are mounted Lazy. Font files are
// recorded into the font index for later map rewriting.
func (v *VFS) MountBundle(bundleID string, body []byte, global manifest.FileManifest, perBundle *bundle.Bundle) error {
	v.bundleBodies[bundleID] = body

	entries := resolveEntries(bundleID, global, perBundle)
	for _, e := range entries {
		full := e.FullPath()
		if e.End < e.Start || e.End > int64(len(body)) {
			return fmt.Errorf("vfs: bundle %s entry %s has out-of-range span [%d,%d) for body of length %d",
				bundleID, full, e.Start, e.End, len(body))
		}

		if isFontFile(e.Name) {
			v.fontIndex[e.Name] = full
		}

		if mustBeEager(full) {
			v.Mount(full, body[e.Start:e.End])
		} else {
			v.MountLazy(full, bundleID, e.Start, e.End)
		}
	}
	return nil
}

// MountDeferredBundle mounts bundleID's file set without requiring its
// body resident. Every file is Deferred, since no bytes are available to
// satisfy the eager-load rule until the body is fetched.
func (v *VFS) MountDeferredBundle(bundleID string, global manifest.FileManifest, perBundle *bundle.Bundle) {
	entries := resolveEntries(bundleID, global, perBundle)
	for _, e := range entries {
		v.MountDeferred(e.FullPath(), bundleID, e.Start, e.End)
	}
}

// Read resolves a mounted path's contents, patching the node on first
// access the way the engine's in-memory filesystem is patched in
// production (§4.3 Read-path patching).
func (v *VFS) Read(p string) ([]byte, error) {
	p = normalize(p)
	n, ok := v.nodes[p]
	if !ok {
		return nil, fmt.Errorf("vfs: %s not mounted", p)
	}

	switch n.state {
	case Eager:
		return n.data, nil

	case Lazy:
		body, ok := v.bundleBodies[n.bundleID]
		if !ok {
			return nil, fmt.Errorf("vfs: %s is lazy against bundle %s, which is not resident", p, n.bundleID)
		}
		data := body[n.start:n.end]
		n.state = Eager
		n.data = data
		return data, nil

	case Deferred:
		if v.ranges != nil {
			if data, hit := v.ranges.Get(n.bundleID, n.start, n.end); hit {
				n.state = Eager
				n.data = data
				return data, nil
			}
		}
		v.recordPendingRange(n.bundleID, n.start, n.end)
		return nil, nil

	default:
		return nil, fmt.Errorf("vfs: %s has unknown state", p)
	}
}

func (v *VFS) recordPendingRange(bundleID string, start, end int64) {
	key := fmt.Sprintf("%s:%d:%d", bundleID, start, end)
	if _, ok := v.pendingSet[key]; ok {
		return
	}
	v.pendingSet[key] = struct{}{}
	v.pendingRanges = append(v.pendingRanges, PendingRange{BundleID: bundleID, Start: start, End: end})
}

// RecordPendingDeferredBundle notes that bundleID's body must be fetched
// before the next retry can proceed (§4.4 DIAGNOSE: "pending deferred
// bundle"). Read never calls it, since a Deferred read records a byte
// range instead, and nothing else in this module calls it either, so
// PendingDeferredBundles stays empty unless a caller does.
func (v *VFS) RecordPendingDeferredBundle(bundleID string) {
	if _, ok := v.pendingBundleSet[bundleID]; ok {
		return
	}
	v.pendingBundleSet[bundleID] = struct{}{}
	v.pendingBundles = append(v.pendingBundles, bundleID)
}

// PendingRanges returns the byte ranges Deferred reads have requested
// this attempt, in first-requested order.
func (v *VFS) PendingRanges() []PendingRange {
	return v.pendingRanges
}

// PendingDeferredBundles returns bundle IDs recorded as needed in full.
func (v *VFS) PendingDeferredBundles() []string {
	return v.pendingBundles
}

// Paths returns every mounted path, unsorted.
func (v *VFS) Paths() []string {
	out := make([]string, 0, len(v.nodes))
	for p := range v.nodes {
		out = append(out, p)
	}
	return out
}
