// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vfsfuse implements C9, an optional read-only FUSE projection of
// a finalised compile VFS (§4.3 enrichment). It exists purely for
// operator inspection of what one compile attempt actually mounted; it
// sits strictly off the compile path and is torn down when the VFS it
// projects is discarded.
package vfsfuse
