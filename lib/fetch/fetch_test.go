// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestBundleFetcherFetchesAndDecompressesGzip(t *testing.T) {
	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	gw.Write([]byte("bundle-body-bytes"))
	gw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/base.data.gz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(gzBuf.Bytes())
	}))
	defer srv.Close()

	f := NewBundleFetcher(srv.URL, nil)
	data, err := f.Fetch(context.Background(), "base")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "bundle-body-bytes" {
		t.Fatalf("got %q", data)
	}
}

func TestBundleFetcherRangeRequestsAndCaches(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("Range") != "bytes=10-19" {
			t.Errorf("unexpected Range header: %q", r.Header.Get("Range"))
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	f := NewBundleFetcher(srv.URL, nil)
	rc := NewRangeCache()

	data, err := f.FetchRange(context.Background(), "fonts-lm", 10, 20, rc)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if string(data) != "0123456789" {
		t.Fatalf("got %q", data)
	}

	// A second call for the same range must hit the cache, not the server.
	if _, err := f.FetchRange(context.Background(), "fonts-lm", 10, 20, rc); err != nil {
		t.Fatalf("FetchRange (cached): %v", err)
	}
	if requests != 1 {
		t.Fatalf("expected 1 server request, got %d", requests)
	}
}

func TestPackageFetcherJSONFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/texlive/amsmath":
			w.WriteHeader(http.StatusNotFound)
		case "/api/fetch/amsmath":
			json.NewEncoder(w).Encode(map[string]any{
				"files": map[string]any{
					"texmf-dist/tex/latex/amsmath/amsmath.sty": map[string]string{
						"content":  "sty-content",
						"encoding": "utf8",
					},
				},
				"dependencies": []string{"amsfonts"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewPackageFetcher(srv.URL, nil)
	files, deps, err := f.Fetch(context.Background(), "amsmath")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(files["texmf-dist/tex/latex/amsmath/amsmath.sty"]) != "sty-content" {
		t.Fatalf("got files %v", files)
	}
	if len(deps) != 1 || deps[0] != "amsfonts" {
		t.Fatalf("got deps %v", deps)
	}
}

func TestPackageFetcherContainerResolution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/texlive/subpkg", "/api/fetch/subpkg":
			w.WriteHeader(http.StatusNotFound)
		case "/api/ctan-pkg/subpkg":
			json.NewEncoder(w).Encode(map[string]string{"contained_in": "parentpkg"})
		case "/api/texlive/parentpkg":
			w.WriteHeader(http.StatusNotFound)
		case "/api/fetch/parentpkg":
			json.NewEncoder(w).Encode(map[string]any{
				"files": map[string]any{
					"texmf-dist/tex/latex/parentpkg/subpkg.sty": map[string]string{
						"content":  "resolved",
						"encoding": "utf8",
					},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewPackageFetcher(srv.URL, nil)
	files, _, err := f.Fetch(context.Background(), "subpkg")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(files["texmf-dist/tex/latex/parentpkg/subpkg.sty"]) != "resolved" {
		t.Fatalf("got files %v", files)
	}
}

func TestMapPackagePathPreservesTexmfDist(t *testing.T) {
	got := mapPackagePath("amsmath/texmf-dist/tex/latex/amsmath/amsmath.sty", "amsmath")
	want := "texmf-dist/tex/latex/amsmath/amsmath.sty"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMapPackagePathFallsBackToPackageDirectory(t *testing.T) {
	got := mapPackagePath("weird/layout/amsmath.sty", "amsmath")
	want := "texlive/texmf-dist/tex/latex/amsmath/amsmath.sty"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
