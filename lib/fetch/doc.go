// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fetch implements C2 (bundle fetcher) and C3 (package fetcher):
// the network-facing half of the cache's miss path (§4.6).
//
// Both fetchers are plain HTTP clients over the configured source URLs
// (lib/config's SourcesConfig); neither holds engine or VFS state. They
// persist what they fetch into lib/cache and, for packages, a not_found
// marker on permanent failure so a session never retries a guaranteed miss.
package fetch
