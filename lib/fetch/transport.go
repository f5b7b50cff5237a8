// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"net/http"

	"github.com/andybalholm/brotli"
)

// brotliTransport wraps an http.RoundTripper, advertising Brotli support
// and transparently decompressing a "Content-Encoding: br" response the
// same way net/http's default transport transparently decompresses gzip.
// Setting our own Accept-Encoding header disables Go's built-in gzip
// auto-decompression, so gzip responses pass through unmodified for the
// caller to decode explicitly (§4.6: "selected by the response's
// content-encoding header").
type brotliTransport struct {
	base http.RoundTripper
}

func newHTTPClient() *http.Client {
	return &http.Client{Transport: &brotliTransport{base: http.DefaultTransport}}
}

// NewHTTPClient exposes the same Brotli/gzip-aware client the bundle and
// package fetchers use, for callers (e.g. cmd/texloom's manifest
// bootstrap) fetching from the same origin outside of BundleFetcher and
// PackageFetcher's own methods.
func NewHTTPClient() *http.Client {
	return newHTTPClient()
}

func (t *brotliTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "gzip, br")
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.Header.Get("Content-Encoding") == "br" {
		resp.Body = &brotliReadCloser{Reader: brotli.NewReader(resp.Body), underlying: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
		resp.ContentLength = -1
	}

	return resp, nil
}

type brotliReadCloser struct {
	*brotli.Reader
	underlying interface{ Close() error }
}

func (b *brotliReadCloser) Close() error {
	return b.underlying.Close()
}
