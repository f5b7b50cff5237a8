// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfsfuse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/texloom/texloom/lib/vfs"
)

// Options configures the diagnostic FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	Mountpoint string

	// VFS is the finalised compile VFS to project. It must not be
	// mutated for as long as the mount is active.
	VFS *vfs.VFS

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. Defaults to a discarding
	// logger.
	Logger *slog.Logger
}

// Mount projects opts.VFS read-only at opts.Mountpoint. The caller must
// call Unmount on the returned server when done; this is the only
// lifecycle hook texloom needs, since the projection is a point-in-time
// snapshot and is never written back to.
func Mount(opts Options) (*fuse.Server, error) {
	if opts.Mountpoint == "" {
		return nil, fmt.Errorf("vfsfuse: mountpoint is required")
	}
	if opts.VFS == nil {
		return nil, fmt.Errorf("vfsfuse: vfs is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}

	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("vfsfuse: creating mountpoint %s: %w", opts.Mountpoint, err)
	}

	tree := buildTree(opts.VFS.Paths())
	root := &dirNode{opts: &opts, entry: tree}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second

	server, err := gofuse.Mount(opts.Mountpoint, root, &gofuse.Options{
		EntryTimeout: &entryTimeout,
		AttrTimeout:  &attrTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "texloom-vfs",
			Name:       "texloom",
			AllowOther: opts.AllowOther,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vfsfuse: mounting at %s: %w", opts.Mountpoint, err)
	}

	opts.Logger.Info("vfsfuse: mounted compile vfs projection", "mountpoint", opts.Mountpoint)
	return server, nil
}

// treeEntry is one node of the path tree built from vfs.Paths(): either a
// directory (children populated) or a file (leaf, children nil).
type treeEntry struct {
	name     string
	path     string
	children map[string]*treeEntry
}

func newDir(name, path string) *treeEntry {
	return &treeEntry{name: name, path: path, children: make(map[string]*treeEntry)}
}

// buildTree turns the VFS's flat mounted-path set into a nested directory
// tree, the shape a FUSE Readdir needs (§4.3's ls-R generation builds the
// same per-directory grouping for a different purpose; this mirrors it).
func buildTree(paths []string) *treeEntry {
	root := newDir("", "")
	for _, p := range paths {
		parts := strings.Split(p, "/")
		cur := root
		for i, part := range parts {
			if part == "" {
				continue
			}
			full := strings.Join(parts[:i+1], "/")
			child, ok := cur.children[part]
			if !ok {
				if i == len(parts)-1 {
					child = &treeEntry{name: part, path: full}
				} else {
					child = newDir(part, full)
				}
				cur.children[part] = child
			}
			cur = child
		}
	}
	return root
}

func (e *treeEntry) isDir() bool {
	return e.children != nil
}

// dirNode is a directory in the projection.
type dirNode struct {
	gofuse.Inode
	opts  *Options
	entry *treeEntry
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeOnAdder = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)

func (d *dirNode) OnAdd(ctx context.Context) {
	for name, child := range d.entry.children {
		if child.isDir() {
			inode := d.NewPersistentInode(ctx, &dirNode{opts: d.opts, entry: child}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
			d.AddChild(name, inode, true)
		} else {
			inode := d.NewPersistentInode(ctx, &fileNode{opts: d.opts, path: child.path}, gofuse.StableAttr{Mode: syscall.S_IFREG})
			d.AddChild(name, inode, true)
		}
	}
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	names := make([]string, 0, len(d.entry.children))
	for name := range d.entry.children {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		mode := uint32(syscall.S_IFREG)
		if d.entry.children[name].isDir() {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}
	return &sliceDirStream{entries: entries}, 0
}

// sliceDirStream implements gofuse.DirStream over a fixed slice of
// entries, computed once in Readdir.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}

// fileNode is a regular file in the projection. Its content is read from
// the underlying VFS once, at Open time, since the projected VFS is
// immutable for the lifetime of the mount.
type fileNode struct {
	gofuse.Inode
	opts *Options
	path string

	data []byte
	read bool
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)

func (f *fileNode) ensureRead() {
	if f.read {
		return
	}
	data, err := f.opts.VFS.Read(f.path)
	if err != nil {
		f.opts.Logger.Warn("vfsfuse: read failed", "path", f.path, "error", err)
	}
	// A nil, nil result means the node is Deferred and not yet resolved
	// (§4.3 Read-path patching): the projection shows it as empty rather
	// than failing the mount.
	f.data = data
	f.read = true
}

func (f *fileNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	f.ensureRead()
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(len(f.data))
	return 0
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	f.ensureRead()
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) Read(ctx context.Context, fh gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	f.ensureRead()
	end := off + int64(len(dest))
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}
	if off > end {
		off = end
	}
	return fuse.ReadResultData(f.data[off:end]), 0
}
