// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest loads and represents the global, process-wide indexes
// that the resolver and VFS consult (§3, §6): the Global File Manifest,
// the Bundle Registry, the Package Map, and the Bundle/Package Dependency
// Graphs. All of these are loaded once at init and treated as immutable
// for the lifetime of the process.
package manifest
