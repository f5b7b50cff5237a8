// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/texloom/texloom/lib/cache"
	"github.com/texloom/texloom/lib/engine"
	"github.com/texloom/texloom/lib/fetch"
	"github.com/texloom/texloom/lib/fingerprint"
	"github.com/texloom/texloom/lib/format"
	"github.com/texloom/texloom/lib/manifest"
	"github.com/texloom/texloom/lib/resolver"
	"github.com/texloom/texloom/lib/vfs"
)

// Bounds match §4.4 Bounds and Caps and timeouts.
const (
	MaxRetries = 10

	// maxPackageFailures bounds how many times one package name is
	// retried within a single Compile call (§4.4: a package failing
	// twice in a session is not retried a third time).
	maxPackageFailures = 2

	packageFetchTimeout = 60 * time.Second
	rangeFetchTimeout   = 30 * time.Second
	compileTimeout      = 120 * time.Second
	formatGenTimeout    = 300 * time.Second
)

// Config wires the orchestrator to its collaborators. All fields are
// required except Logger and PackageDeps.
type Config struct {
	Cache          *cache.Cache
	BundleFetcher  *fetch.BundleFetcher
	PackageFetcher *fetch.PackageFetcher
	Loader         engine.Loader

	Registry    manifest.Registry
	PackageMap  manifest.PackageMap
	BundleDeps  *manifest.BundleDeps
	PackageDeps manifest.PackageDeps // optional, may be nil
	Global      manifest.FileManifest

	// DisableRemotePackageFallback turns off the §4.6/C3 remote-proxy
	// fallback for packages absent from PackageMap (the "enable_ctan"
	// config option, inverted so the zero value keeps it enabled).
	DisableRemotePackageFallback bool

	// DisableLazyFS folds the global deferred bundle list into the
	// required set instead of mounting it Deferred (the "enable_lazy_fs"
	// config option, inverted so the zero value keeps laziness enabled).
	DisableLazyFS bool

	Logger *slog.Logger
}

// Options are the per-call settings §6's compile() accepts.
type Options struct {
	// Engine is "pdflatex", "xelatex", or "auto" (default).
	Engine string

	// UseCache enables the (document_hash, engine) -> pdf lookup.
	UseCache bool

	// AdditionalFiles are user-submitted files mounted alongside the
	// resolved bundle set (mount_external_files).
	AdditionalFiles map[string][]byte
}

// Stats reports what one Compile call actually did, for the §6 compile()
// return shape's "stats" field.
type Stats struct {
	Attempts         int
	UsedCachedFormat bool
	FetchedPackages  []string
	FetchedBundles   []string
}

// Result is §6 compile()'s return shape.
type Result struct {
	Success  bool
	PDF      []byte
	ExitCode int
	Log      string
	Cached   bool
	Stats    Stats
}

// Orchestrator runs compile attempts per §4.4.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{cfg: cfg, logger: logger}
}

// attemptState accumulates what survives across retries within a single
// Compile call (§5 Shared resources across retries): bundle bodies once
// fetched, the byte-range cache, and a package-name failure count so the
// same missing dependency isn't chased forever.
type attemptState struct {
	requiredIDs []string
	requiredSet map[string]struct{}
	deferredIDs []string
	deferredSet map[string]struct{}

	bodies        map[string][]byte
	externalFiles map[string][]byte
	ranges        *fetch.RangeCache

	packageFailures map[string]int
	stats           Stats
}

func newAttemptState(required []string, deferred []string, additional map[string][]byte) *attemptState {
	requiredSet := make(map[string]struct{}, len(required))
	for _, id := range required {
		requiredSet[id] = struct{}{}
	}

	var deferredIDs []string
	deferredSet := make(map[string]struct{}, len(deferred))
	for _, id := range deferred {
		if _, already := requiredSet[id]; already {
			continue
		}
		deferredSet[id] = struct{}{}
		deferredIDs = append(deferredIDs, id)
	}

	external := make(map[string][]byte, len(additional))
	for k, v := range additional {
		external[k] = v
	}

	return &attemptState{
		requiredIDs:     append([]string(nil), required...),
		requiredSet:     requiredSet,
		deferredIDs:     deferredIDs,
		deferredSet:     deferredSet,
		bodies:          make(map[string][]byte),
		externalFiles:   external,
		ranges:          fetch.NewRangeCache(),
		packageFailures: make(map[string]int),
	}
}

// promoteToRequired moves bundleID from the deferred set to the required
// set, so the next buildVFS mounts its files eagerly/lazily against a
// resident body rather than leaving them Deferred.
func (s *attemptState) promoteToRequired(bundleID string) {
	if _, ok := s.requiredSet[bundleID]; ok {
		return
	}
	s.requiredSet[bundleID] = struct{}{}
	s.requiredIDs = append(s.requiredIDs, bundleID)

	if _, ok := s.deferredSet[bundleID]; ok {
		delete(s.deferredSet, bundleID)
		kept := s.deferredIDs[:0]
		for _, id := range s.deferredIDs {
			if id != bundleID {
				kept = append(kept, id)
			}
		}
		s.deferredIDs = kept
	}
}

// Compile runs the §4.4 state machine for one document: resolve declared
// dependencies, load bundles, build a VFS, run the engine, and on failure
// diagnose what's missing and retry with the gap filled, up to
// MaxRetries attempts.
func (o *Orchestrator) Compile(ctx context.Context, source string, opts Options) (Result, error) {
	engineName := opts.Engine
	if engineName == "" || engineName == "auto" {
		engineName = resolver.DetectEngine(source)
	}

	documentHash := fingerprint.Document(source)
	if opts.UseCache {
		if pdf, ok, err := o.cfg.Cache.GetPDF(ctx, documentHash.String(), engineName); err != nil {
			return Result{}, fmt.Errorf("orchestrator: checking pdf cache: %w", err)
		} else if ok {
			return Result{Success: true, PDF: pdf, ExitCode: 0, Cached: true}, nil
		}
	}

	preamble := format.ExtractPreamble(source)
	preambleHash := fingerprint.Preamble(preamble)

	cachedFmt, haveCachedFmt, err := format.Lookup(ctx, o.cfg.Cache, preambleHash, engineName)
	if err != nil {
		return Result{}, fmt.Errorf("orchestrator: checking format cache: %w", err)
	}

	jobSource := source
	if haveCachedFmt {
		jobSource = truncateToDocument(source)
	} else if strings.Contains(source, "microtype") {
		jobSource = rewriteMicrotype(source)
	}

	bundles := resolver.Resolve(resolver.Input{
		Source:      source,
		Engine:      engineName,
		Registry:    o.cfg.Registry,
		PackageMap:  o.cfg.PackageMap,
		BundleDeps:  o.cfg.BundleDeps,
		PackageDeps: o.cfg.PackageDeps,
		Logger:      o.logger,
	})

	var globalDeferred []string
	if o.cfg.BundleDeps != nil && !o.cfg.DisableLazyFS {
		globalDeferred = o.cfg.BundleDeps.Deferred
	} else if o.cfg.BundleDeps != nil {
		bundles = append(bundles, o.cfg.BundleDeps.Deferred...)
	}

	state := newAttemptState(bundles, globalDeferred, opts.AdditionalFiles)
	state.externalFiles["document.tex"] = []byte(jobSource)
	if haveCachedFmt {
		state.externalFiles["custom.fmt"] = cachedFmt
	}
	state.stats.UsedCachedFormat = haveCachedFmt

	var lastResult engine.Result

	for attempt := 1; attempt <= MaxRetries; attempt++ {
		state.stats.Attempts = attempt

		if err := o.loadBundles(ctx, state); err != nil {
			return Result{}, err
		}

		root, err := o.buildVFS(state)
		if err != nil {
			return Result{}, err
		}

		eng, err := o.loadEngine(ctx)
		if err != nil {
			return Result{}, err
		}

		runCtx, cancel := context.WithTimeout(ctx, compileTimeout)
		result, err := eng.Run(runCtx, root, buildArgv(engineName, haveCachedFmt), engineEnv())
		cancel()
		if err != nil {
			return Result{}, fmt.Errorf("orchestrator: engine run: %w", err)
		}
		lastResult = result

		if engineName == "xelatex" && result.ExitCode == 0 {
			xdvCtx, xdvCancel := context.WithTimeout(ctx, compileTimeout)
			pdfResult, err := eng.Run(xdvCtx, root, xdvipdfmxArgv(), engineEnv())
			xdvCancel()
			if err != nil {
				return Result{}, fmt.Errorf("orchestrator: xdvipdfmx run: %w", err)
			}
			result.PDF = pdfResult.PDF
			result.ExitCode = pdfResult.ExitCode
			lastResult = result
		}

		if result.ExitCode == 0 && len(result.PDF) > 0 {
			o.cfg.Cache.PutPDF(ctx, documentHash.String(), engineName, result.PDF)

			auxSuffix := format.AuxCacheKeySuffix(haveCachedFmt)
			o.cfg.Cache.PutAux(ctx, preambleHash.String(), engineName, "state"+auxSuffix, collectAux(root))

			return Result{
				Success:  true,
				PDF:      result.PDF,
				ExitCode: 0,
				Log:      string(result.Log),
				Stats:    state.stats,
			}, nil
		}

		progressed, err := o.diagnoseAndFetch(ctx, root, string(result.Log), state)
		if err != nil {
			return Result{}, err
		}
		if !progressed {
			return Result{ExitCode: result.ExitCode, Log: string(result.Log), Stats: state.stats}, ErrNoProgress
		}
	}

	return Result{ExitCode: lastResult.ExitCode, Log: string(lastResult.Log), Stats: state.stats}, ErrRetriesExhausted
}

// loadBundles fetches the resident body of every required bundle that
// isn't already cached in state from a prior attempt.
func (o *Orchestrator) loadBundles(ctx context.Context, state *attemptState) error {
	for _, id := range state.requiredIDs {
		if _, ok := state.bodies[id]; ok {
			continue
		}
		fetchCtx, cancel := context.WithTimeout(ctx, packageFetchTimeout)
		body, err := o.cfg.BundleFetcher.Fetch(fetchCtx, id)
		cancel()
		if err != nil {
			return fmt.Errorf("orchestrator: loading bundle %s: %w", id, err)
		}
		state.bodies[id] = body
		state.stats.FetchedBundles = append(state.stats.FetchedBundles, id)
	}
	return nil
}

// buildVFS mounts state's required bundles eagerly/lazily, its deferred
// bundles without a resident body (so their files resolve by byte range
// on demand), and any external files gathered from prior diagnosis.
func (o *Orchestrator) buildVFS(state *attemptState) (*vfs.VFS, error) {
	set := vfs.BundleSet{
		Required:      state.requiredIDs,
		Deferred:      state.deferredIDs,
		Bodies:        state.bodies,
		Global:        o.cfg.Global,
		ExternalFiles: state.externalFiles,
	}

	root, err := vfs.Build(set, state.ranges, o.logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building vfs: %w", err)
	}
	if err := root.Finalise(); err != nil {
		return nil, fmt.Errorf("orchestrator: finalising vfs: %w", err)
	}
	return root, nil
}

func (o *Orchestrator) loadEngine(ctx context.Context) (engine.Engine, error) {
	image, ok, err := o.cfg.Cache.GetEngineImage(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: checking engine image cache: %w", err)
	}
	if !ok {
		return nil, engine.ErrEngineUnavailable
	}
	eng, err := o.cfg.Loader.Load(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: loading engine: %w", err)
	}
	return eng, nil
}

// diagnoseAndFetch inspects the failed attempt's pending byte ranges,
// pending deferred bundles, and compile log, and fetches whatever it can
// to make the next attempt more likely to succeed (§4.4 Diagnosis). It
// reports whether it made any progress at all.
func (o *Orchestrator) diagnoseAndFetch(ctx context.Context, root *vfs.VFS, compileLog string, state *attemptState) (bool, error) {
	progressed := false

	for _, pr := range root.PendingRanges() {
		rangeCtx, cancel := context.WithTimeout(ctx, rangeFetchTimeout)
		_, err := o.cfg.BundleFetcher.FetchRange(rangeCtx, pr.BundleID, pr.Start, pr.End, state.ranges)
		cancel()
		if err != nil {
			o.logger.Warn("orchestrator: byte-range fetch failed", "bundle_id", pr.BundleID, "error", err)
			continue
		}
		progressed = true
	}

	for _, bundleID := range root.PendingDeferredBundles() {
		if err := o.fetchBundleBody(ctx, bundleID, state); err != nil {
			o.logger.Warn("orchestrator: deferred bundle fetch failed", "bundle_id", bundleID, "error", err)
			continue
		}
		progressed = true
	}

	if progressed {
		return true, nil
	}

	name, ok := scanMissingFile(compileLog)
	if !ok {
		return false, nil
	}
	pkg := normalizePackageName(name)

	if state.packageFailures[pkg] >= maxPackageFailures {
		o.logger.Warn("orchestrator: package failed too many times this session, giving up", "package", pkg)
		return false, nil
	}
	state.packageFailures[pkg]++

	if bundleID, ok := o.cfg.PackageMap[pkg]; ok {
		if err := o.fetchBundleBody(ctx, bundleID, state); err != nil {
			o.logger.Warn("orchestrator: bundle fetch for missing package failed", "package", pkg, "bundle_id", bundleID, "error", err)
			return false, nil
		}
		return true, nil
	}

	if o.cfg.DisableRemotePackageFallback || o.cfg.PackageFetcher == nil {
		return false, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, packageFetchTimeout)
	files, _, err := o.cfg.PackageFetcher.Fetch(fetchCtx, pkg)
	cancel()
	if err != nil {
		o.logger.Warn("orchestrator: remote package fetch failed", "package", pkg, "error", err)
		return false, nil
	}
	for p, data := range files {
		state.externalFiles[p] = data
	}
	state.stats.FetchedPackages = append(state.stats.FetchedPackages, pkg)
	return true, nil
}

func (o *Orchestrator) fetchBundleBody(ctx context.Context, bundleID string, state *attemptState) error {
	if _, ok := state.bodies[bundleID]; ok {
		state.promoteToRequired(bundleID)
		return nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, packageFetchTimeout)
	body, err := o.cfg.BundleFetcher.Fetch(fetchCtx, bundleID)
	cancel()
	if err != nil {
		return err
	}
	state.bodies[bundleID] = body
	state.promoteToRequired(bundleID)
	state.stats.FetchedBundles = append(state.stats.FetchedBundles, bundleID)
	return nil
}

// buildArgv builds the compile-stage invocation §6 documents.
// --no-shell-escape blocks \write18 shell-out from the compiled document.
func buildArgv(engineName string, usedCachedFormat bool) []string {
	argv := []string{engineName, "--no-shell-escape", "--interaction=nonstopmode", "--halt-on-error"}
	if usedCachedFormat {
		argv = append(argv, "--fmt=/custom.fmt")
	}
	return append(argv, "/document.tex")
}

// xdvipdfmxArgv builds xelatex's second-stage argv (§6): xelatex itself
// only produces a .xdv; xdvipdfmx turns that into the final PDF.
func xdvipdfmxArgv() []string {
	return []string{"xdvipdfmx", "-o", "/document.pdf", "/document.xdv"}
}

// engineEnv builds the search-path environment §6's engine invocation
// contract requires, rooted under /texlive/texmf-dist with recursive (//)
// descent.
func engineEnv() map[string]string {
	const root = "/texlive/texmf-dist"
	recursive := root + "//"
	return map[string]string{
		"TEXMFCNF":     root + "/web2c",
		"TEXMFROOT":    "/texlive",
		"TEXMFDIST":    root,
		"TEXMFVAR":     root + "/texmf-var",
		"TEXINPUTS":    recursive,
		"T1FONTS":      recursive,
		"ENCFONTS":     recursive,
		"TFMFONTS":     recursive,
		"VFFONTS":      recursive,
		"TEXFONTMAPS":  recursive,
		"TEXPSHEADERS": recursive,
	}
}

// rewriteMicrotype injects the expansion=false override before
// \documentclass (§4.4 Source rewriting: microtype's font expansion
// relies on engine features the sandbox doesn't provide).
func rewriteMicrotype(source string) string {
	const inject = `\PassOptionsToPackage{expansion=false}{microtype}` + "\n"
	if idx := strings.Index(source, `\documentclass`); idx >= 0 {
		return source[:idx] + inject + source[idx:]
	}
	return inject + source
}

// truncateToDocument drops everything before \begin{document} when a
// cached format is in use, since the preamble is already dumped into the
// format file (§4.4 Cached format use).
func truncateToDocument(source string) string {
	if idx := strings.Index(source, `\begin{document}`); idx >= 0 {
		return source[idx:]
	}
	return source
}

func collectAux(root *vfs.VFS) map[string][]byte {
	aux := make(map[string][]byte)
	for _, p := range root.Paths() {
		if strings.HasSuffix(p, ".aux") || strings.HasSuffix(p, ".toc") || strings.HasSuffix(p, ".out") {
			if data, err := root.Read(p); err == nil && data != nil {
				aux[p] = data
			}
		}
	}
	return aux
}
