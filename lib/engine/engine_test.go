// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"testing"

	"github.com/texloom/texloom/lib/vfs"
)

func TestFakePlaysBackScriptInOrder(t *testing.T) {
	f := NewFake(
		Invocation{ExitCode: 1, Log: []byte("first attempt failed")},
		Invocation{ExitCode: 0, PDF: []byte("%PDF"), Log: []byte("second attempt succeeded")},
	)

	root := vfs.New(nil, nil)

	first, err := f.Run(context.Background(), root, []string{"pdflatex"}, nil)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.ExitCode != 1 {
		t.Fatalf("got exit code %d, want 1", first.ExitCode)
	}

	second, err := f.Run(context.Background(), root, []string{"pdflatex"}, nil)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.ExitCode != 0 || string(second.PDF) != "%PDF" {
		t.Fatalf("unexpected second result: %+v", second)
	}

	if f.Calls() != 2 {
		t.Fatalf("got %d calls, want 2", f.Calls())
	}
}

func TestFakeExhaustedScriptErrors(t *testing.T) {
	f := NewFake(Invocation{ExitCode: 0})
	root := vfs.New(nil, nil)

	if _, err := f.Run(context.Background(), root, nil, nil); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := f.Run(context.Background(), root, nil, nil); err == nil {
		t.Fatalf("expected error on exhausted script")
	}
}

func TestFakeMountsProducedFiles(t *testing.T) {
	f := NewFake(Invocation{
		ExitCode:      0,
		ProducedFiles: map[string][]byte{"myfile.aux": []byte("aux-content")},
	})
	root := vfs.New(nil, nil)

	if _, err := f.Run(context.Background(), root, nil, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := root.Read("myfile.aux")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "aux-content" {
		t.Fatalf("got %q", data)
	}
}

func TestFakeLoaderReturnsEngine(t *testing.T) {
	fake := NewFake(Invocation{ExitCode: 0})
	loader := &FakeLoader{Engine: fake}

	e, err := loader.Load(context.Background(), []byte("fake-image"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if e != Engine(fake) {
		t.Fatalf("expected Load to return the configured fake")
	}
}

func TestFakeLoaderUnavailableWithoutEngine(t *testing.T) {
	loader := &FakeLoader{}
	if _, err := loader.Load(context.Background(), nil); err != ErrEngineUnavailable {
		t.Fatalf("got %v, want ErrEngineUnavailable", err)
	}
}
