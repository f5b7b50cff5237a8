// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"fmt"
	"sort"
)

// Entry is one file recorded in a bundle's manifest: the bytes at
// [Start, End) of the bundle body hold this file's exact content.
type Entry struct {
	// Path is the directory the file lives under within the bundle's VFS
	// namespace (e.g. "texmf-dist/tex/latex/amsmath").
	Path string `json:"path"`

	// Name is the file's base name (e.g. "amsmath.sty").
	Name string `json:"name"`

	// Start is the byte offset of this file's content within the body.
	Start int64 `json:"start"`

	// End is the exclusive end offset; End-Start is the file's exact size.
	End int64 `json:"end"`
}

// FullPath returns Path + "/" + Name, the manifest's unique key.
func (e Entry) FullPath() string {
	if e.Path == "" {
		return e.Name
	}
	return e.Path + "/" + e.Name
}

// Size returns the file's byte length.
func (e Entry) Size() int64 {
	return e.End - e.Start
}

// Bundle is a packed archive: an identifier, its manifest, and (when
// resident) its body.
type Bundle struct {
	// ID is the bundle's short identifier (e.g. "base", "latex-amsmath").
	ID string `json:"name"`

	// Entries is the ordered manifest. Order matches the concatenation
	// order of Body.
	Entries []Entry `json:"files"`

	// Body is the contiguous byte blob. May be nil for a Bundle value that
	// only carries manifest metadata (e.g. fetched ahead of the body via
	// <id>.meta.json, per §6).
	Body []byte `json:"-"`
}

// TotalSize returns the body size the manifest describes: the sum of
// every entry's End-Start, recomputed from Entries on each call.
func (b *Bundle) TotalSize() int64 {
	var total int64
	for _, e := range b.Entries {
		total += e.Size()
	}
	return total
}

// Slice returns the bytes of a manifest entry out of the bundle body.
// The caller must ensure Body is resident; Slice does not fetch.
func (b *Bundle) Slice(e Entry) ([]byte, error) {
	if e.Start < 0 || e.End < e.Start || e.End > int64(len(b.Body)) {
		return nil, fmt.Errorf("bundle: entry %s has out-of-range range [%d,%d) for body of length %d",
			e.FullPath(), e.Start, e.End, len(b.Body))
	}
	return b.Body[e.Start:e.End], nil
}

// Lookup finds the manifest entry for a full path ("path/name"), or
// reports ok=false.
func (b *Bundle) Lookup(fullPath string) (Entry, bool) {
	for _, e := range b.Entries {
		if e.FullPath() == fullPath {
			return e, true
		}
	}
	return Entry{}, false
}

// FileMap returns every manifest entry's full path mapped to its resolved
// bytes. Body must be resident. Used by round-trip tests and by Pack's
// inverse, Unpack.
func (b *Bundle) FileMap() (map[string][]byte, error) {
	out := make(map[string][]byte, len(b.Entries))
	for _, e := range b.Entries {
		data, err := b.Slice(e)
		if err != nil {
			return nil, err
		}
		out[e.FullPath()] = data
	}
	return out, nil
}

// Validate checks the invariants of §3: entries are non-overlapping, each
// entry's size matches End-Start, full paths are unique, and the body is
// exactly the concatenation of entries in manifest order (no padding).
func (b *Bundle) Validate() error {
	var offset int64
	seen := make(map[string]struct{}, len(b.Entries))

	for i, e := range b.Entries {
		if e.End < e.Start {
			return fmt.Errorf("bundle: entry %d (%s) has end %d before start %d", i, e.FullPath(), e.End, e.Start)
		}
		if e.Start != offset {
			return fmt.Errorf("bundle: entry %d (%s) starts at %d, expected %d (no padding, contiguous)",
				i, e.FullPath(), e.Start, offset)
		}

		full := e.FullPath()
		if _, dup := seen[full]; dup {
			return fmt.Errorf("bundle: duplicate path %q in manifest", full)
		}
		seen[full] = struct{}{}

		offset = e.End
	}

	if int64(len(b.Body)) != 0 && offset != int64(len(b.Body)) {
		return fmt.Errorf("bundle: manifest covers %d bytes, body is %d bytes", offset, len(b.Body))
	}

	return nil
}

// Pack assembles a Bundle from a set of files, producing the manifest and
// concatenated body described in §3. Files are packed in sorted full-path
// order for determinism (so re-packing the same file set always yields an
// identical body+manifest).
func Pack(id string, files map[string][]byte) (*Bundle, error) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	b := &Bundle{ID: id}
	var offset int64
	for _, full := range paths {
		data := files[full]
		dir, name := splitFullPath(full)
		b.Entries = append(b.Entries, Entry{
			Path:  dir,
			Name:  name,
			Start: offset,
			End:   offset + int64(len(data)),
		})
		b.Body = append(b.Body, data...)
		offset += int64(len(data))
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Unpack is the inverse of Pack: given a Bundle with a resident Body, it
// returns the original file map. Unpack validates the bundle first so a
// corrupt manifest is reported rather than silently sliced out of range.
func Unpack(b *Bundle) (map[string][]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("bundle: unpack: %w", err)
	}
	return b.FileMap()
}

func splitFullPath(full string) (dir, name string) {
	for i := len(full) - 1; i >= 0; i-- {
		if full[i] == '/' {
			return full[:i], full[i+1:]
		}
	}
	return "", full
}
