// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

// Tier identifies one of the logical caches whose version is tracked
// independently (§3 Cache Entries, §4.1 Versioning).
type Tier string

const (
	TierCTAN   Tier = "CTAN"   // fetched CTAN package files
	TierBundle Tier = "BUNDLE" // bundle bodies
	TierWasm   Tier = "WASM"   // compiled engine image
	TierAux    Tier = "AUX"    // auxiliary-file sets
	TierDoc    Tier = "DOC"    // compiled PDFs
	TierFmt    Tier = "FMT"    // format files
)

// CurrentVersions is the code's current version for each tier. Bumping an
// entry here forces a wholesale eviction of that tier the next time a
// process opens the cache against an on-disk store stamped with an older
// version.
var CurrentVersions = map[Tier]int{
	TierCTAN:   1,
	TierBundle: 1,
	TierWasm:   1,
	TierAux:    1,
	TierDoc:    1,
	TierFmt:    1,
}
