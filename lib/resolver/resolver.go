// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolver

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/texloom/texloom/lib/manifest"
)

// declarationPattern matches \usepackage[opts]{a,b,c}, \documentclass[opts]{a},
// and \RequirePackage[opts]{a,b,c}, capturing the brace-list argument. The
// optional bracketed options group is skipped, not captured (§4.2 step 1:
// "Options are ignored").
var declarationPattern = regexp.MustCompile(`\\(?:usepackage|documentclass|RequirePackage)(?:\[[^\]]*\])?\{([^}]*)\}`)

// engineHintPattern detects source markers that imply xelatex (§4.2's
// separate engine-detection helper).
var engineHintPattern = regexp.MustCompile(`\\usepackage\{fontspec\}|\\usepackage\{unicode-math\}|\\setmainfont|\\setsansfont|\\setmonofont`)

// Input is the resolver's input (§4.2).
type Input struct {
	Source string
	Engine string

	Registry    manifest.Registry
	PackageMap  manifest.PackageMap
	BundleDeps  *manifest.BundleDeps
	PackageDeps manifest.PackageDeps // optional, may be nil

	// Logger receives the deferred/required overlap warning described in
	// SPEC_FULL.md §4.2. Defaults to a discarding logger when nil.
	Logger *slog.Logger
}

// ExtractDeclaredPackages scans source for \usepackage, \documentclass, and
// \RequirePackage declarations and returns the package names they declare,
// in order of first appearance, each package name trimmed and comma-split
// from its brace-list argument (§4.2 step 1).
func ExtractDeclaredPackages(source string) []string {
	var packages []string
	seen := make(map[string]struct{})

	for _, match := range declarationPattern.FindAllStringSubmatch(source, -1) {
		for _, name := range strings.Split(match[1], ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			packages = append(packages, name)
		}
	}
	return packages
}

// DetectEngine implements the §4.2 "engine: auto" heuristic: a source that
// loads fontspec/unicode-math or sets a font family is assumed to target
// xelatex; everything else targets pdflatex.
func DetectEngine(source string) string {
	if engineHintPattern.MatchString(source) {
		return "xelatex"
	}
	return "pdflatex"
}

// Resolve computes the ordered set of bundle IDs required to compile in.Source
// under in.Engine (§4.2). If in.Engine is "auto", it is resolved via
// DetectEngine first.
func Resolve(in Input) []string {
	engine := in.Engine
	if engine == "auto" || engine == "" {
		engine = DetectEngine(in.Source)
	}

	logger := in.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	bundleVisited := make(map[string]struct{})
	var bundleOrder []string

	addBundle := func(id string) {
		if _, ok := bundleVisited[id]; ok {
			return
		}
		bundleVisited[id] = struct{}{}
		bundleOrder = append(bundleOrder, id)
	}

	// Step 2: seed with engine-mandated bundles, recursing on their own
	// bundle dependencies so a required bundle's transitive requirements
	// are present too.
	var walkBundle func(id string)
	walkBundle = func(id string) {
		if _, ok := bundleVisited[id]; ok {
			return
		}
		addBundle(id)
		if in.BundleDeps != nil {
			for _, dep := range in.BundleDeps.Requires(id) {
				walkBundle(dep)
			}
		}
	}

	if in.BundleDeps != nil {
		for _, id := range in.BundleDeps.RequiredFor(engine) {
			warnIfDeferred(logger, in.BundleDeps, engine, id)
			walkBundle(id)
		}
	}

	// Step 3/4: for every declared package, resolve to a bundle (with
	// cycle-safe recursion on both the bundle and package dependency
	// graphs).
	packageVisited := make(map[string]struct{})
	var walkPackage func(pkg string)
	walkPackage = func(pkg string) {
		if _, ok := packageVisited[pkg]; ok {
			return
		}
		packageVisited[pkg] = struct{}{}

		bundleID, ok := in.PackageMap[pkg]
		if ok {
			warnIfDeferred(logger, in.BundleDeps, engine, bundleID)
			walkBundle(bundleID)
		}

		if in.PackageDeps != nil {
			for _, dep := range in.PackageDeps[pkg] {
				walkPackage(dep)
			}
		}
	}

	for _, pkg := range ExtractDeclaredPackages(in.Source) {
		walkPackage(pkg)
	}

	// Step 5: filter to bundles present in the Registry.
	var result []string
	for _, id := range bundleOrder {
		if in.Registry == nil || in.Registry.Has(id) {
			result = append(result, id)
		}
	}

	return result
}

// warnIfDeferred resolves the §4.2 open question: a bundle appearing in
// both an engine's required set and the global deferred list logs a
// warning and is treated as required (required wins, since a required
// bundle must never be missing at RUN_ENGINE time).
func warnIfDeferred(logger *slog.Logger, deps *manifest.BundleDeps, engine, bundleID string) {
	if deps == nil {
		return
	}
	if deps.IsDeferred(bundleID) {
		logger.Warn("bundle is both required and deferred; required wins",
			"engine", engine,
			"bundle_id", bundleID,
		)
	}
}

// ClosedUnder verifies the §8 invariant 3 property for tests: the given
// bundle set is closed under the bundle-dependency relation, i.e. every
// bundle's requirements are also present in the set.
func ClosedUnder(bundles []string, deps *manifest.BundleDeps) bool {
	present := make(map[string]struct{}, len(bundles))
	for _, id := range bundles {
		present[id] = struct{}{}
	}
	for _, id := range bundles {
		if deps == nil {
			continue
		}
		for _, required := range deps.Requires(id) {
			if _, ok := present[required]; !ok {
				return false
			}
		}
	}
	return true
}

// Sorted returns a sorted copy of bundle IDs, useful for deterministic
// test comparisons since Resolve's output order reflects discovery order,
// not lexical order.
func Sorted(bundles []string) []string {
	out := append([]string(nil), bundles...)
	sort.Strings(out)
	return out
}
