// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"archive/tar"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/texloom/texloom/lib/cache"
	"github.com/texloom/texloom/lib/netutil"
)

// texExtensions are kept from a package archive's TeX sources (§4.6).
var texExtensions = map[string]bool{
	".sty": true, ".cls": true, ".def": true, ".cfg": true,
	".tex": true, ".fd": true, ".clo": true, ".ltx": true,
}

// fontExtensions are kept from a package archive's font resources (§4.6).
var fontExtensions = map[string]bool{
	".pfb": true, ".pfm": true, ".afm": true, ".tfm": true,
	".vf": true, ".map": true, ".enc": true,
}

// PackageFetcher is C3: it resolves a package's file set and declared
// dependencies from the CTAN proxy, trying a compressed archive endpoint
// before a JSON fallback, with container-name resolution on failure
// (§4.6).
type PackageFetcher struct {
	baseURL string
	client  *http.Client
	cache   *cache.Cache
}

// NewPackageFetcher creates a fetcher against baseURL (config's
// ctan_proxy_url).
func NewPackageFetcher(baseURL string, c *cache.Cache) *PackageFetcher {
	return &PackageFetcher{baseURL: baseURL, client: newHTTPClient(), cache: c}
}

// Fetch resolves name to its file set and dependency list. On a
// not-found result (no container redirect available), a not_found marker
// is persisted and an error is returned so the orchestrator can treat
// this package name as permanently unavailable this session (§8
// invariant 7).
func (f *PackageFetcher) Fetch(ctx context.Context, name string) (files map[string][]byte, deps []string, err error) {
	if f.cache != nil {
		if rec, notFound, ok, err := f.cache.GetPackage(ctx, name); err != nil {
			return nil, nil, err
		} else if ok {
			if notFound {
				return nil, nil, fmt.Errorf("fetch: package %s previously marked not found", name)
			}
			return rec.Files, rec.Dependencies, nil
		}
	}

	files, deps, err = f.fetchOnce(ctx, name)
	if err == nil {
		if f.cache != nil {
			f.cache.PutPackage(ctx, name, &cache.PackageRecord{Files: files, Dependencies: deps})
		}
		return files, deps, nil
	}

	if real, ok := f.resolveContainer(ctx, name); ok && real != name {
		files, deps, err = f.fetchOnce(ctx, real)
		if err == nil {
			if f.cache != nil {
				f.cache.PutPackage(ctx, name, &cache.PackageRecord{Files: files, Dependencies: deps})
			}
			return files, deps, nil
		}
	}

	if f.cache != nil {
		f.cache.MarkPackageNotFound(ctx, name)
	}
	return nil, nil, fmt.Errorf("fetch: package %s: %w", name, err)
}

// fetchOnce tries the archive endpoint, then the JSON endpoint, without
// container resolution.
func (f *PackageFetcher) fetchOnce(ctx context.Context, name string) (map[string][]byte, []string, error) {
	files, deps, err := f.fetchArchive(ctx, name)
	if err == nil {
		return files, deps, nil
	}
	return f.fetchJSON(ctx, name)
}

func (f *PackageFetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return f.client.Do(req)
}

// fetchArchive downloads and unpacks an XZ-compressed TAR archive of
// name's CTAN package, filtering to TeX/font content (§4.6 point 1).
func (f *PackageFetcher) fetchArchive(ctx context.Context, name string) (map[string][]byte, []string, error) {
	resp, err := f.get(ctx, fmt.Sprintf("%s/api/texlive/%s", f.baseURL, name))
	if err != nil {
		return nil, nil, fmt.Errorf("fetch: archive endpoint for %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch: archive endpoint for %s: server returned %s", name, resp.Status)
	}

	xr, err := xz.NewReader(io.LimitReader(resp.Body, netutil.MaxResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("fetch: opening xz stream for %s: %w", name, err)
	}

	files := make(map[string][]byte)
	tr := tar.NewReader(xr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("fetch: reading tar entry for %s: %w", name, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if strings.Contains(hdr.Name, "/doc/") || strings.HasPrefix(hdr.Name, "doc/") ||
			strings.Contains(hdr.Name, "/source/") || strings.HasPrefix(hdr.Name, "source/") {
			continue
		}

		ext := path.Ext(hdr.Name)
		if !texExtensions[ext] && !fontExtensions[ext] {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch: reading %s from archive for %s: %w", hdr.Name, name, err)
		}
		files[mapPackagePath(hdr.Name, name)] = data
	}

	if len(files) == 0 {
		return nil, nil, fmt.Errorf("fetch: archive for %s contained no TeX or font files", name)
	}
	return files, nil, nil
}

// mapPackagePath maps a tar entry's path into the engine's VFS namespace
// (§4.6 point 1): paths already under texmf-dist are preserved, paths
// under a recognisable tex/ or fonts/ root are grafted under
// texlive/texmf-dist, and anything else falls back to a package-named
// latex directory.
func mapPackagePath(tarPath, pkg string) string {
	if idx := strings.Index(tarPath, "texmf-dist/"); idx >= 0 {
		return tarPath[idx:]
	}
	for _, root := range []string{"tex/", "fonts/"} {
		if idx := strings.Index(tarPath, "/"+root); idx >= 0 {
			return "texlive/texmf-dist/" + tarPath[idx+1:]
		}
		if strings.HasPrefix(tarPath, root) {
			return "texlive/texmf-dist/" + tarPath
		}
	}
	return "texlive/texmf-dist/tex/latex/" + pkg + "/" + path.Base(tarPath)
}

// fetchResponse is the JSON fallback endpoint's shape (§4.6 point 2).
type fetchResponse struct {
	Files map[string]struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	} `json:"files"`
	Dependencies []string `json:"dependencies"`
	Error        string   `json:"error"`
}

// fetchJSON downloads name's file set from the JSON fallback endpoint.
func (f *PackageFetcher) fetchJSON(ctx context.Context, name string) (map[string][]byte, []string, error) {
	resp, err := f.get(ctx, fmt.Sprintf("%s/api/fetch/%s", f.baseURL, name))
	if err != nil {
		return nil, nil, fmt.Errorf("fetch: json endpoint for %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil, fmt.Errorf("fetch: package %s not found", name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("fetch: json endpoint for %s: server returned %s", name, resp.Status)
	}

	var parsed fetchResponse
	if err := netutil.DecodeResponse(resp.Body, &parsed); err != nil {
		return nil, nil, fmt.Errorf("fetch: decoding json response for %s: %w", name, err)
	}
	if parsed.Error != "" {
		return nil, nil, fmt.Errorf("fetch: package %s: %s", name, parsed.Error)
	}

	files := make(map[string][]byte, len(parsed.Files))
	for p, f := range parsed.Files {
		if f.Encoding == "base64" {
			data, err := base64.StdEncoding.DecodeString(f.Content)
			if err != nil {
				return nil, nil, fmt.Errorf("fetch: decoding base64 content for %s in %s: %w", p, name, err)
			}
			files[p] = data
		} else {
			files[p] = []byte(f.Content)
		}
	}
	return files, parsed.Dependencies, nil
}

// containerResponse is the container-resolution endpoint's shape (§4.6:
// "a second call may return a contained_in field").
type containerResponse struct {
	ContainedIn string `json:"contained_in"`
}

// resolveContainer asks whether name is actually shipped inside a
// differently-named CTAN archive.
func (f *PackageFetcher) resolveContainer(ctx context.Context, name string) (string, bool) {
	resp, err := f.get(ctx, fmt.Sprintf("%s/api/ctan-pkg/%s", f.baseURL, name))
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var parsed containerResponse
	if err := netutil.DecodeResponse(resp.Body, &parsed); err != nil {
		return "", false
	}
	if parsed.ContainedIn == "" {
		return "", false
	}
	return parsed.ContainedIn, true
}
