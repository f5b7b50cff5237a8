// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfs

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// fontRefPattern matches a "<name.pfb" or "<<name.enc" style reference
// inside a pdftex.map line, capturing the prefix and the bare filename.
var fontRefPattern = regexp.MustCompile(`(<<?)([^\s<>]+\.(?:pfb|enc))`)

// resolveFontFile finds the absolute VFS path for a font file referenced
// from mapPath, following the search order of §4.3 point 3: the font
// index built during bundle mounting first (the authoritative source),
// then a package-specific directory derived from the map's own path,
// then the same under cm-super, then the map's own directory.
func (v *VFS) resolveFontFile(name, mapPath string) (string, bool) {
	if full, ok := v.fontIndex[name]; ok {
		return full, true
	}

	pkg := path.Base(path.Dir(mapPath))
	var dir string
	if strings.HasSuffix(name, ".pfb") {
		dir = "texmf-dist/fonts/type1/public"
	} else {
		dir = "texmf-dist/fonts/enc/dvips"
	}

	candidates := []string{
		dir + "/" + pkg + "/" + name,
		dir + "/cm-super/" + name,
		path.Dir(mapPath) + "/" + name,
	}
	for _, c := range candidates {
		if _, ok := v.nodes[normalize(c)]; ok {
			return normalize(c), true
		}
	}
	return "", false
}

// rewriteMapLine rewrites every .pfb/.enc reference in line to an
// absolute VFS path, preserving comment and blank lines verbatim (§4.3
// Font map processing, point 2).
func (v *VFS) rewriteMapLine(line, mapPath string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "%") {
		return line
	}

	return fontRefPattern.ReplaceAllStringFunc(line, func(match string) string {
		sub := fontRefPattern.FindStringSubmatch(match)
		prefix, name := sub[1], sub[2]
		if full, ok := v.resolveFontFile(name, mapPath); ok {
			return prefix + "/" + full
		}
		v.logger.Warn("vfs: could not resolve font file referenced in map", "file", name, "map", mapPath)
		return match
	})
}

// processFontMaps rewrites the root pdftex.map in place and appends every
// queued auxiliary map file to it (§4.3 Font map processing).
func (v *VFS) processFontMaps() error {
	if v.rootMapPath == "" {
		return nil
	}
	root, ok := v.nodes[v.rootMapPath]
	if !ok {
		return fmt.Errorf("vfs: root map %s vanished before finalise", v.rootMapPath)
	}

	var out strings.Builder
	for _, line := range strings.Split(string(root.data), "\n") {
		out.WriteString(v.rewriteMapLine(line, v.rootMapPath))
		out.WriteByte('\n')
	}

	for _, mapPath := range v.queuedMaps {
		aux, ok := v.nodes[mapPath]
		if !ok {
			continue
		}
		for _, line := range strings.Split(string(aux.data), "\n") {
			out.WriteString(v.rewriteMapLine(line, mapPath))
			out.WriteByte('\n')
		}
	}

	root.data = []byte(strings.TrimSuffix(out.String(), "\n"))
	v.queuedMaps = nil
	return nil
}

// Finalise processes font maps and emits ls-R. It is idempotent: a second
// call observes the queues already drained and performs no mutation.
func (v *VFS) Finalise() error {
	if v.finalised {
		return nil
	}
	if err := v.processFontMaps(); err != nil {
		return err
	}
	v.Mount("ls-R", v.generateLSR())
	v.finalised = true
	return nil
}
