// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"path"
	"sort"
	"strings"
)

// lsrHeader is the standard kpathsea ls-R database header line.
const lsrHeader = "% ls-R -- filename database."

// generateLSR builds a kpathsea ls-R index over every mounted path: for
// each directory, sorted file and subdirectory names, directories
// separated by a blank line (§4.3 ls-R generation).
func (v *VFS) generateLSR() []byte {
	children := make(map[string]map[string]struct{})

	addChild := func(dir, name string) {
		set, ok := children[dir]
		if !ok {
			set = make(map[string]struct{})
			children[dir] = set
		}
		set[name] = struct{}{}
	}

	for p := range v.nodes {
		dir := path.Dir(p)
		if dir == "." {
			dir = ""
		}
		addChild(dir, path.Base(p))

		// Ensure every ancestor directory is listed, with this
		// directory recorded as its child, matching kpathsea's
		// recursive directory entries.
		for dir != "" {
			parent := path.Dir(dir)
			if parent == "." {
				parent = ""
			}
			addChild(parent, path.Base(dir))
			if _, seen := children[dir]; !seen {
				children[dir] = make(map[string]struct{})
			}
			dir = parent
		}
	}

	dirs := make([]string, 0, len(children))
	for dir := range children {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var out strings.Builder
	out.WriteString(lsrHeader)
	out.WriteByte('\n')

	for _, dir := range dirs {
		names := make([]string, 0, len(children[dir]))
		for name := range children[dir] {
			names = append(names, name)
		}
		sort.Strings(names)

		out.WriteByte('\n')
		out.WriteString("./" + dir + ":\n")
		for _, name := range names {
			out.WriteString(name)
			out.WriteByte('\n')
		}
	}

	return []byte(out.String())
}
