// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache implements C1, the multi-tier persistent cache (§4.1):
// a durable blob store for large objects, a structured metadata store
// backed by pooled SQLite, and an in-memory overlay in front of both.
//
// Every logical tier carries an integer version (§3 Cache Entries,
// §4.1 Versioning); [Cache.Open] compares the stored version against the
// code's current version and evicts a tier wholesale on mismatch.
//
// Reads return a defensive copy (§4.1: "the engine may mutate; a detached
// buffer must not be surfaced"). Writes are fire-and-forget: a failed
// write is logged and otherwise ignored, never propagated as a compile
// failure (§4.1, §7).
package cache
