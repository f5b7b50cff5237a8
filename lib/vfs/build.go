// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"log/slog"

	"github.com/texloom/texloom/lib/bundle"
	"github.com/texloom/texloom/lib/manifest"
)

// BundleSet is everything the orchestrator (§4.4) and the format
// generator (§4.5) need to mount a resolved bundle list, so both build a
// VFS the same way (§4.5: "Build a VFS identical to the compile VFS").
type BundleSet struct {
	// Required lists bundle IDs to mount with a resident body (from
	// Bodies) via MountBundle.
	Required []string

	// Deferred lists bundle IDs to mount via MountDeferredBundle: their
	// file set is known but their body is not required resident yet.
	Deferred []string

	// Bodies holds the resident body for every bundle ID in Required.
	Bodies map[string][]byte

	// PerBundleManifests is consulted as a fallback when the global
	// manifest has no entries for a bundle ID.
	PerBundleManifests map[string]*bundle.Bundle

	// Global is the Global File Manifest (§3).
	Global manifest.FileManifest

	// ExternalFiles are user-submitted or previously-fetched package
	// files to mount on top of the bundle set (mount_external_files).
	ExternalFiles map[string][]byte
}

// Build constructs a VFS from a resolved bundle set, the shape shared by
// every compile attempt and every format generation (§4.3, §4.5). It does
// not call Finalise; the caller does, after any further mounts.
func Build(set BundleSet, ranges RangeCache, logger *slog.Logger) (*VFS, error) {
	v := New(ranges, logger)

	for _, id := range set.Required {
		body := set.Bodies[id]
		if err := v.MountBundle(id, body, set.Global, set.PerBundleManifests[id]); err != nil {
			return nil, err
		}
	}
	for _, id := range set.Deferred {
		v.MountDeferredBundle(id, set.Global, set.PerBundleManifests[id])
	}
	if len(set.ExternalFiles) > 0 {
		v.MountExternalFiles(set.ExternalFiles)
	}

	return v, nil
}
