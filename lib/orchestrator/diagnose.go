// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"regexp"
	"strings"
)

// missingFilePatterns are the known log-scan signatures for a missing
// file or font, each capturing the offending name (§4.4 Diagnosis, point 3).
var missingFilePatterns = []*regexp.Regexp{
	regexp.MustCompile("! LaTeX Error: File `([^']+)' not found"),
	regexp.MustCompile("! I can't find file `([^']+)'"),
	regexp.MustCompile("LaTeX Warning: File `([^']+)' not found"),
	regexp.MustCompile("Package .* Error: .*`([^']+)' not found"),
	regexp.MustCompile(`Font .* not loadable: Metric \(TFM\) file (\S+)`),
	regexp.MustCompile(`!pdfTeX error: \(file ([^)]+)\): Font .* not found`),
	regexp.MustCompile("Font .* at .* not found: (\\S+)"),
}

// cmSuperPattern matches TeX Gyre / EC/TC font names that cm-super
// provides (§4.4: "font names matching ^(ec|tc)[a-z]{2}\d+$ map to
// cm-super").
var cmSuperPattern = regexp.MustCompile(`^(?:ec|tc)[a-z]{2}\d+$`)

var texSourceSuffixes = []string{".sty", ".cls", ".def", ".clo", ".fd", ".cfg", ".tex"}

// scanMissingFile returns the first filename reported missing in log by
// one of the known error patterns, or ok=false if none match.
func scanMissingFile(log string) (name string, ok bool) {
	for _, pattern := range missingFilePatterns {
		if m := pattern.FindStringSubmatch(log); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// normalizePackageName maps a filename reported missing in the log to the
// package name to fetch (§4.4 Diagnosis: "Filename -> package normalisation").
func normalizePackageName(filename string) string {
	base := filename
	if idx := strings.LastIndexByte(filename, '/'); idx >= 0 {
		base = filename[idx+1:]
	}

	stem := strings.TrimSuffix(base, suffixOf(base))
	if cmSuperPattern.MatchString(stem) {
		return "cm-super"
	}

	for _, suffix := range texSourceSuffixes {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return base
}

func suffixOf(name string) string {
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		return name[idx:]
	}
	return ""
}
