// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/texloom/texloom/lib/digest"
)

// BlobStore is the durable tier of §4.1: large objects (bundle bodies,
// format files, package files) stored under a root directory, keyed by a
// path-like string matching the layout of §6 ("bundles/<id>.data",
// "fmt-cache/<hash>_<engine>.fmt", package files under their VFS paths).
//
// Writes land via a temp-file-then-rename sequence so a crash mid-write
// never leaves a half-written blob visible under its final name. Reads
// memory-map the file and copy its bytes into a fresh buffer, so every
// read returns a detached slice.
type BlobStore struct {
	root string
}

// OpenBlobStore opens (creating if necessary) a blob store rooted at dir.
func OpenBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cache: creating blob store root %s: %w", dir, err)
	}
	return &BlobStore{root: dir}, nil
}

func (s *BlobStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *BlobStore) digestPath(key string) string {
	return s.path(key) + ".blake3"
}

// Put durably writes data under key, computing and persisting a content
// digest alongside it. The write is atomic: readers never observe a
// partial file.
func (s *BlobStore) Put(key string, data []byte, category digestCategory) error {
	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("cache: creating blob directory for %s: %w", key, err)
	}

	tmp := target + ".tmp-" + strconv.Itoa(os.Getpid())
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("cache: opening temp file for %s: %w", key, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("cache: writing blob %s: %w", key, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("cache: syncing blob %s: %w", key, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cache: closing blob %s: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cache: renaming blob %s into place: %w", key, err)
	}

	sum := category.digest(data)
	if err := os.WriteFile(s.digestPath(key), []byte(sum.Format()), 0644); err != nil {
		return fmt.Errorf("cache: writing digest for %s: %w", key, err)
	}
	return nil
}

// Get reads the blob stored under key via a memory-mapped view of the
// file, verifies its digest, and returns a defensive copy of the bytes
// (§4.1: "Reads return a defensive copy"). Returns ok=false if no blob is
// stored under key.
func (s *BlobStore) Get(key string, category digestCategory) (data []byte, ok bool, err error) {
	path := s.path(key)

	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: opening blob %s: %w", key, err)
	}
	defer unix.Close(fd)

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return nil, false, fmt.Errorf("cache: stat blob %s: %w", key, err)
	}
	size := stat.Size
	if size == 0 {
		return []byte{}, true, nil
	}

	mapped, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, false, fmt.Errorf("cache: mmap blob %s: %w", key, err)
	}
	defer unix.Munmap(mapped)

	// Guard against SIGBUS if the backing file is truncated by another
	// process concurrently with our read.
	debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(false)

	out := make([]byte, len(mapped))
	copy(out, mapped)

	if expected, err := os.ReadFile(s.digestPath(key)); err == nil {
		sum := category.digest(out)
		if sum.Format() != string(expected) {
			return nil, false, fmt.Errorf("cache: blob %s failed digest verification (corrupt on disk)", key)
		}
	}

	return out, true, nil
}

// Contains reports whether a blob is stored under key, without reading it.
func (s *BlobStore) Contains(key string) bool {
	_, err := os.Stat(s.path(key))
	return err == nil
}

// digestCategory selects which domain-separated digest function applies
// to a blob, so bundle bodies, package files, and format files each get
// their own hash space (lib/digest).
type digestCategory int

const (
	CategoryBundle digestCategory = iota
	CategoryPackage
	CategoryFormat
)

func (c digestCategory) digest(data []byte) digest.Hash {
	switch c {
	case CategoryPackage:
		return digest.Package(data)
	case CategoryFormat:
		return digest.Format(data)
	default:
		return digest.Bundle(data)
	}
}
