// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolver implements C4: mapping a document's declared package
// dependencies to the minimal set of bundles required to compile it (§4.2).
//
// Resolve extracts \usepackage, \documentclass, and \RequirePackage
// arguments from the source, seeds the result with the engine's mandatory
// bundles, and walks the bundle and package dependency graphs to a fixed
// point. DetectEngine is the separate "auto" engine heuristic of §4.2.
package resolver
