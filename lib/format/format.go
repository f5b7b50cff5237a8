// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"context"
	"fmt"
	"strings"

	"github.com/texloom/texloom/lib/cache"
	"github.com/texloom/texloom/lib/engine"
	"github.com/texloom/texloom/lib/fingerprint"
	"github.com/texloom/texloom/lib/vfs"
)

// ExtractPreamble returns everything before the first "\begin{document}"
// (§4.5 Preamble extraction).
func ExtractPreamble(source string) string {
	if idx := strings.Index(source, `\begin{document}`); idx >= 0 {
		return source[:idx]
	}
	return source
}

// Lookup returns a cached format file for (preambleHash, engineName), if
// one is present and readable (§4.5 Use).
func Lookup(ctx context.Context, c *cache.Cache, preambleHash fingerprint.Fingerprint, engineName string) ([]byte, bool, error) {
	return c.GetFormat(ctx, preambleHash.String(), engineName)
}

// Generate builds an ini-mode VFS for preamble and invokes eng in ini
// mode (§4.5 Generation). It does not store the resulting .fmt file;
// callers pass it to [Persist] on success.
//
// set must already describe the bundle set resolved for this preamble,
// the same way a compile attempt's bundle set is built (§4.5: "same
// resolver, same bundles"). Generate does not itself run the
// diagnosis/retry loop of §4.4; a caller whose first attempt reports a
// missing package is expected to extend set and call Generate again,
// exactly as a compile attempt would.
func Generate(ctx context.Context, eng engine.Engine, preamble string, engineName string, set vfs.BundleSet) (engine.Result, *vfs.VFS, error) {
	root, err := vfs.Build(set, nil, nil)
	if err != nil {
		return engine.Result{}, nil, fmt.Errorf("format: building ini vfs: %w", err)
	}

	root.Mount("myformat.ini", []byte(preamble+"\n\\dump\n"))
	if err := root.Finalise(); err != nil {
		return engine.Result{}, nil, fmt.Errorf("format: finalising ini vfs: %w", err)
	}

	argv := []string{engineName, "-ini", "-jobname=myformat", "-interaction=nonstopmode", "&" + engineName, "/myformat.ini"}
	result, err := eng.Run(ctx, root, argv, nil)
	if err != nil {
		return engine.Result{}, root, fmt.Errorf("format: running engine in ini mode: %w", err)
	}
	return result, root, nil
}

// Persist stores a successfully generated format file keyed by
// (preambleHash, engineName).
func Persist(ctx context.Context, c *cache.Cache, preambleHash fingerprint.Fingerprint, engineName string, fmtBytes []byte) {
	c.PutFormat(ctx, preambleHash.String(), engineName, fmtBytes)
}

// AuxCacheKeySuffix returns the suffix §4.5 Use specifies for a compile's
// aux-file cache key: "_fmt" when a cached format was used, empty
// otherwise, so aux files produced against different initial states are
// never mixed.
func AuxCacheKeySuffix(usedCachedFormat bool) string {
	if usedCachedFormat {
		return "_fmt"
	}
	return ""
}
