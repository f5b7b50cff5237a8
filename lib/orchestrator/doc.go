// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator implements C6, the compile-retry state machine
// (§4.4): resolve declared dependencies, load bundles, build a VFS, run
// the engine, and on failure diagnose what is missing and retry with the
// gap filled, up to a bounded number of attempts.
package orchestrator
