// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine defines C8, the boundary between the orchestrator and
// the TeX engine (§1: "the TeX engine itself, treated as an opaque
// callable"; §4.7). Production wiring of the actual WASM runtime is
// outside this module's scope; [Engine] models only the calling contract
// the orchestrator depends on, and [Fake] exercises that contract in
// tests without a real engine.
package engine
