// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/texloom/texloom/lib/manifest"
)

func TestRequiredBundlesByEngine(t *testing.T) {
	deps := &manifest.BundleDeps{
		Engines: map[string]manifest.EngineBundles{
			"pdflatex": {Required: []string{"core", "latex-base"}},
			"xelatex":  {Required: []string{"core", "xetex-base"}},
		},
	}

	got := requiredBundlesByEngine(deps)
	if len(got["pdflatex"]) != 2 || got["pdflatex"][0] != "core" {
		t.Fatalf("got %v", got["pdflatex"])
	}
	if len(got["xelatex"]) != 2 {
		t.Fatalf("got %v", got["xelatex"])
	}
}

func TestRequiredBundlesByEngineNilDeps(t *testing.T) {
	if got := requiredBundlesByEngine(nil); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}
