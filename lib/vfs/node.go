// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

// State is a node's residency state (§4.3).
type State int

const (
	// Eager nodes hold their bytes directly.
	Eager State = iota
	// Lazy nodes slice a resident bundle body on first read.
	Lazy
	// Deferred nodes slice a bundle body that is not yet resident; a
	// read records a pending fetch and observes zero bytes until the
	// range is satisfied.
	Deferred
)

func (s State) String() string {
	switch s {
	case Eager:
		return "eager"
	case Lazy:
		return "lazy"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// node is one mounted file.
type node struct {
	path  string
	state State
	data  []byte // Eager only

	bundleID     string // Lazy, Deferred
	start, end   int64  // Lazy, Deferred
}

// RangeCache is consulted when a Deferred read's byte range has already
// been fetched in a previous attempt within the current compile session
// (§4.3: "not already present in an external byte-range cache"). The
// orchestrator owns the cache and keeps it alive across retries.
type RangeCache interface {
	Get(bundleID string, start, end int64) ([]byte, bool)
}

// PendingRange is a byte range a Deferred read needs fetched before the
// next engine attempt can make progress.
type PendingRange struct {
	BundleID   string
	Start, End int64
}
