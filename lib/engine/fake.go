// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"

	"github.com/texloom/texloom/lib/vfs"
)

// Invocation is one scripted response a [Fake] plays back.
type Invocation struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Log      []byte
	PDF      []byte

	// ProducedFiles is mounted into root via vfs.VFS.MountExternalFiles
	// before Run returns, simulating files the engine wrote back (e.g.
	// aux files), keyed by VFS path.
	ProducedFiles map[string][]byte
}

// Fake is a scripted [Engine] double: it plays back a fixed sequence of
// [Invocation] values, one per call to Run, so the orchestrator's retry
// state machine (§4.4) can be exercised without a real WASM runtime
// (§4.7: "Tests run against a fake engine double that plays back a
// scripted sequence").
type Fake struct {
	script []Invocation
	calls  []call
}

type call struct {
	argv []string
	env  map[string]string
}

// NewFake creates a Fake that plays back script in order.
func NewFake(script ...Invocation) *Fake {
	return &Fake{script: script}
}

// Run implements Engine.
func (f *Fake) Run(ctx context.Context, root *vfs.VFS, argv []string, env map[string]string) (Result, error) {
	if len(f.calls) >= len(f.script) {
		return Result{}, fmt.Errorf("engine: fake script exhausted after %d calls", len(f.calls))
	}

	f.calls = append(f.calls, call{argv: argv, env: env})
	inv := f.script[len(f.calls)-1]

	if len(inv.ProducedFiles) > 0 {
		root.MountExternalFiles(inv.ProducedFiles)
	}

	return Result{
		ExitCode: inv.ExitCode,
		Stdout:   inv.Stdout,
		Stderr:   inv.Stderr,
		Log:      inv.Log,
		PDF:      inv.PDF,
	}, nil
}

// Calls returns the number of times Run has been invoked.
func (f *Fake) Calls() int {
	return len(f.calls)
}

// LastArgv returns the argv passed to the most recent Run call, or nil
// if Run has never been called.
func (f *Fake) LastArgv() []string {
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1].argv
}

// FakeLoader is a [Loader] that always returns the same [Fake] instance,
// ignoring the cached engine image. Tests that need a fresh instance per
// Load should construct a new FakeLoader per test instead.
type FakeLoader struct {
	Engine *Fake
}

// Load implements Loader.
func (l *FakeLoader) Load(ctx context.Context, image []byte) (Engine, error) {
	if l.Engine == nil {
		return nil, ErrEngineUnavailable
	}
	return l.Engine, nil
}
