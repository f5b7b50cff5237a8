// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"

	"github.com/texloom/texloom/lib/vfs"
)

// Result is everything one engine invocation reports back (§4.7): an
// exit code, captured console output, and the bytes it wrote into the
// VFS for the log and (on success) the PDF.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Log      []byte
	PDF      []byte
}

// Engine is the opaque TeX engine boundary. A single Engine instance must
// not be invoked concurrently (§5 Serialisation). Neither Engine nor the
// orchestrator queues calls: the orchestrator loads a fresh Engine for
// each attempt and runs it synchronously on the calling goroutine, and
// concurrent Compile calls are not serialised against each other.
//
// Implementations must obtain a fresh internal state per Run: the real
// engine carries process-wide C globals that do not reset between
// invocations, so "re-use across retries is unsafe" (§4.4) is a
// constraint on the caller obtaining a new Engine, not on this method.
type Engine interface {
	// Run invokes the engine against root's mounted files with argv and
	// env, and returns its outcome. root must already be finalised
	// (vfs.VFS.Finalise called).
	Run(ctx context.Context, root *vfs.VFS, argv []string, env map[string]string) (Result, error)
}

// Loader obtains a fresh Engine instance, backed by the compiled engine
// image cached under the "engine" metadata key (§3, §6). Each call must
// return an independent instance per the no-reuse-across-retries rule.
type Loader interface {
	Load(ctx context.Context, image []byte) (Engine, error)
}

// ErrEngineUnavailable is returned by a Loader when no engine image is
// cached and none could be fetched.
var ErrEngineUnavailable = fmt.Errorf("engine: no compiled engine image available")
