// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/json"
	"fmt"
)

// FileLocation is where a file's bytes live: a bundle ID and the byte
// range within that bundle's body.
type FileLocation struct {
	Bundle string `json:"bundle"`
	Start  int64  `json:"start"`
	End    int64  `json:"end"`
}

// FileManifest is the Global File Manifest (§3, §6's file-manifest.json):
// full file path -> its location in some bundle.
type FileManifest map[string]FileLocation

// ParseFileManifest decodes file-manifest.json.
func ParseFileManifest(data []byte) (FileManifest, error) {
	var m FileManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parsing file manifest: %w", err)
	}
	return m, nil
}

// bundleDescriptor is one entry of registry.json. Only Name is required by
// the resolver/registry contract; additional fields the real registry
// carries (size, description) are accepted but not modeled, since nothing
// in this module consumes them.
type bundleDescriptor struct {
	Name string `json:"name"`
}

// Registry is the Bundle Registry (§3, §6's registry.json): the set of
// known bundle IDs.
type Registry map[string]struct{}

// ParseRegistry decodes registry.json, a list of bundle descriptors, into
// the set of their IDs.
func ParseRegistry(data []byte) (Registry, error) {
	var descriptors []bundleDescriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, fmt.Errorf("manifest: parsing registry: %w", err)
	}

	reg := make(Registry, len(descriptors))
	for _, d := range descriptors {
		if d.Name == "" {
			continue
		}
		reg[d.Name] = struct{}{}
	}
	return reg, nil
}

// Has reports whether a bundle ID is a known, registered bundle.
func (r Registry) Has(bundleID string) bool {
	_, ok := r[bundleID]
	return ok
}

// PackageMap is the Package Map (§3, §6's package-map.json): LaTeX
// package name -> the bundle ID that contains it.
type PackageMap map[string]string

// ParsePackageMap decodes package-map.json.
func ParsePackageMap(data []byte) (PackageMap, error) {
	var m PackageMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parsing package map: %w", err)
	}
	return m, nil
}

// EngineBundles is the engine-scoped section of bundle-deps.json: the
// bundles that must always be present for a given engine.
type EngineBundles struct {
	Required []string `json:"required"`
}

// BundleEntry is one bundle's entry in the Bundle Dependency Graph: the
// other bundles it requires.
type BundleEntry struct {
	Requires []string `json:"requires"`
}

// BundleDeps is the Bundle Dependency Graph (§3, §6's bundle-deps.json).
type BundleDeps struct {
	Engines  map[string]EngineBundles `json:"engines"`
	Bundles  map[string]BundleEntry   `json:"bundles"`
	Deferred []string                 `json:"deferred,omitempty"`
}

// ParseBundleDeps decodes bundle-deps.json.
func ParseBundleDeps(data []byte) (*BundleDeps, error) {
	var d BundleDeps
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("manifest: parsing bundle deps: %w", err)
	}
	if d.Engines == nil {
		d.Engines = map[string]EngineBundles{}
	}
	if d.Bundles == nil {
		d.Bundles = map[string]BundleEntry{}
	}
	return &d, nil
}

// IsDeferred reports whether bundleID appears in the global deferred list.
func (d *BundleDeps) IsDeferred(bundleID string) bool {
	for _, id := range d.Deferred {
		if id == bundleID {
			return true
		}
	}
	return false
}

// RequiredFor returns the engine-mandated bundle set for the given engine,
// or nil if the engine has no entry.
func (d *BundleDeps) RequiredFor(engine string) []string {
	return d.Engines[engine].Required
}

// Requires returns the bundles a given bundle directly depends on.
func (d *BundleDeps) Requires(bundleID string) []string {
	return d.Bundles[bundleID].Requires
}

// PackageDeps is the optional Package Dependency Graph (§3, §6's
// package-deps.json): package name -> the package names it depends on.
type PackageDeps map[string][]string

// ParsePackageDeps decodes package-deps.json.
func ParsePackageDeps(data []byte) (PackageDeps, error) {
	var d PackageDeps
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("manifest: parsing package deps: %w", err)
	}
	return d, nil
}
