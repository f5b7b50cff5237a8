// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle implements the bundle packing format (§3, §4.1, §6): a
// contiguous byte body plus an ordered manifest of (path, name, start, end)
// entries, where each entry's [start, end) slice of the body holds that
// file's exact bytes, back to back with no padding.
//
// Bundles are built offline (out of scope) and consumed here as data:
// [Pack] assembles a body+manifest from a file set for testing and local
// fixture generation; [Unpack] and [Bundle.Slice] are the read-side
// operations the VFS and fetchers use against bundles retrieved over the
// wire or from the blob store.
package bundle
