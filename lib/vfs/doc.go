// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vfs implements C5, the per-compile virtual file system the
// engine adapter (lib/engine) populates before invoking the TeX engine.
//
// Every node is Eager (bytes resident now), Lazy (a byte-range slice of a
// resident bundle body, substituted on first read), or Deferred (a
// byte-range slice of a bundle body that is not yet resident; a read
// records a pending fetch request and observes a zero-length file until
// the orchestrator satisfies it and rebuilds the VFS).
//
// A VFS is single-use: built fresh for one compile attempt, read during
// one engine invocation, and discarded. State that must survive a retry
// (bundle bodies, fetched package files, the byte-range cache) lives in
// the caller and is re-mounted into each new VFS.
package vfs
