// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package format implements C7, the format-file cache (§4.5): extracting
// a document's preamble, generating a dumped engine format file for it,
// and caching the result under (preamble_hash, engine).
package format
