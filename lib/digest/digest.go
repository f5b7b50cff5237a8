// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest computes content-integrity digests for blobs written to
// the durable cache (bundle bodies, format files, package archives). This
// is strictly a corruption check on large stored objects and is unrelated
// to the djb2 cache-key fingerprints in lib/fingerprint: a digest mismatch
// means "this blob rotted on disk", not "this is a cache miss".
package digest

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// domainKey pads a short ASCII label to 32 bytes for use as a BLAKE3 keyed
// hash key, giving each blob category its own hash space so a bundle body
// and a format file can never collide even if their bytes happened to
// match.
func domainKey(label string) [32]byte {
	var key [32]byte
	copy(key[:], label)
	return key
}

var (
	bundleDomainKey  = domainKey("texloom.bundle.v1")
	packageDomainKey = domainKey("texloom.package.v1")
	formatDomainKey  = domainKey("texloom.format.v1")
	engineDomainKey  = domainKey("texloom.engine.v1")
)

// Bundle computes the digest of a bundle body.
func Bundle(body []byte) Hash {
	return keyedHash(bundleDomainKey, body)
}

// Package computes the digest of a fetched package file's content.
func Package(content []byte) Hash {
	return keyedHash(packageDomainKey, content)
}

// Format computes the digest of a generated .fmt blob.
func Format(content []byte) Hash {
	return keyedHash(formatDomainKey, content)
}

// EngineImage computes the digest of a compiled engine image, used to key
// its on-disk install directory so identical images are unpacked once.
func EngineImage(image []byte) Hash {
	return keyedHash(engineDomainKey, image)
}

// keyedHash computes a BLAKE3 keyed hash with the given domain key.
func keyedHash(key [32]byte, data []byte) Hash {
	// NewKeyed only errors on a wrong-length key, which domainKey guarantees
	// never happens here.
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Format renders the digest as hex.
func (h Hash) Format() string {
	return hex.EncodeToString(h[:])
}

// Parse decodes a hex digest produced by [Hash.Format].
func Parse(s string) (Hash, error) {
	var h Hash
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("digest: parsing hash: %w", err)
	}
	if len(decoded) != len(h) {
		return h, fmt.Errorf("digest: expected %d bytes, got %d", len(h), len(decoded))
	}
	copy(h[:], decoded)
	return h, nil
}
