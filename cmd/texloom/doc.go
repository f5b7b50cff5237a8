// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// texloom compiles LaTeX documents against a lazily-fetched TeX Live tree.
//
// Usage:
//
//	texloom compile [flags] <file.tex>
//	texloom generate-format [flags] <file.tex>
//	texloom clear-cache [flags]
//	texloom warm [flags]
//	texloom terminate [flags]
//	texloom version
package main
