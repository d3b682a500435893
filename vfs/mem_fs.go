// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

const sep = string(os.PathSeparator)

type nopCloser struct{}

func (nopCloser) Close() error {
	return nil
}

// NewMem returns a new memory-backed FS implementation.
//
// It can be useful for tests, and also for DB instances that should never
// touch persistent storage.
func NewMem() FS {
	return &memFS{
		root: &memNode{
			name:     sep,
			children: make(map[string]*memNode),
			isDir:    true,
		},
	}
}

// memFS implements FS.
type memFS struct {
	mu   sync.Mutex
	root *memNode
}

// walk walks the directory tree for the fullname, calling f at each step. If
// f returns an error, the walk will be aborted and return that same error.
//
// Each walk is atomic: the filesystem mutex is held for the entire operation,
// including all calls to f.
//
// dir is the directory at that step, frag is the name fragment, and final is
// whether it is the final step. For example, walking "/foo/bar/x" will result
// in 3 calls to f:
//   - "/", "foo", false
//   - "/foo/", "bar", false
//   - "/foo/bar/", "x", true
func (y *memFS) walk(fullname string, f func(dir *memNode, frag string, final bool) error) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	// For memFS, the current working directory is the same as the root
	// directory, so we strip off any leading separators to make fullname a
	// relative path, and the walk starts at y.root.
	for len(fullname) > 0 && fullname[0] == os.PathSeparator {
		fullname = fullname[1:]
	}
	dir := y.root

	for {
		frag, remaining := fullname, ""
		i := strings.IndexRune(fullname, os.PathSeparator)
		final := i < 0
		if !final {
			frag, remaining = fullname[:i], fullname[i+1:]
			for len(remaining) > 0 && remaining[0] == os.PathSeparator {
				remaining = remaining[1:]
			}
		}
		if err := f(dir, frag, final); err != nil {
			return err
		}
		if final {
			break
		}
		child := dir.children[frag]
		if child == nil {
			return &os.PathError{Op: "walk", Path: fullname, Err: os.ErrNotExist}
		}
		if !child.isDir {
			return errors.Errorf("shale/vfs: %q is not a directory", frag)
		}
		dir, fullname = child, remaining
	}
	return nil
}

func (y *memFS) Create(fullname string) (File, error) {
	var ret *memHandle
	err := y.walk(fullname, func(dir *memNode, frag string, final bool) error {
		if final {
			if frag == "" {
				return errors.New("shale/vfs: empty file name")
			}
			n := &memNode{name: frag}
			dir.children[frag] = n
			ret = &memHandle{n: n, write: true}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

func (y *memFS) Open(fullname string) (File, error) {
	var ret *memHandle
	err := y.walk(fullname, func(dir *memNode, frag string, final bool) error {
		if final {
			if frag == "" {
				return errors.New("shale/vfs: empty file name")
			}
			if n := dir.children[frag]; n != nil {
				ret = &memHandle{n: n}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, &os.PathError{Op: "open", Path: fullname, Err: os.ErrNotExist}
	}
	return ret, nil
}

func (y *memFS) Remove(fullname string) error {
	return y.walk(fullname, func(dir *memNode, frag string, final bool) error {
		if final {
			if frag == "" {
				return errors.New("shale/vfs: empty file name")
			}
			if _, ok := dir.children[frag]; !ok {
				return &os.PathError{Op: "remove", Path: fullname, Err: os.ErrNotExist}
			}
			delete(dir.children, frag)
		}
		return nil
	})
}

func (y *memFS) Rename(oldname, newname string) error {
	var n *memNode
	err := y.walk(oldname, func(dir *memNode, frag string, final bool) error {
		if final {
			if frag == "" {
				return errors.New("shale/vfs: empty file name")
			}
			n = dir.children[frag]
			delete(dir.children, frag)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if n == nil {
		return &os.PathError{Op: "rename", Path: oldname, Err: os.ErrNotExist}
	}
	return y.walk(newname, func(dir *memNode, frag string, final bool) error {
		if final {
			if frag == "" {
				return errors.New("shale/vfs: empty file name")
			}
			dir.children[frag] = n
			n.name = frag
		}
		return nil
	})
}

func (y *memFS) MkdirAll(dirname string, perm os.FileMode) error {
	return y.walk(dirname, func(dir *memNode, frag string, final bool) error {
		if frag == "" {
			if final {
				return nil
			}
			return errors.New("shale/vfs: empty file name")
		}
		child := dir.children[frag]
		if child == nil {
			dir.children[frag] = &memNode{
				name:     frag,
				children: make(map[string]*memNode),
				isDir:    true,
			}
			return nil
		}
		if !child.isDir {
			return errors.Errorf("shale/vfs: %q is not a directory", frag)
		}
		return nil
	})
}

func (y *memFS) Lock(fullname string) (io.Closer, error) {
	// FS.Lock excludes other processes, but other processes cannot see this
	// process' memory, so Lock is a no-op.
	return nopCloser{}, nil
}

func (y *memFS) List(dirname string) ([]string, error) {
	if !strings.HasSuffix(dirname, sep) {
		dirname += sep
	}
	var ret []string
	err := y.walk(dirname, func(dir *memNode, frag string, final bool) error {
		if final {
			ret = make([]string, 0, len(dir.children))
			for s := range dir.children {
				ret = append(ret, s)
			}
		}
		return nil
	})
	return ret, err
}

func (y *memFS) Stat(fullname string) (os.FileInfo, error) {
	f, err := y.Open(fullname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Stat()
}

// memNode holds a file's data, or a directory's children. It implements
// os.FileInfo.
type memNode struct {
	name    string
	mu      sync.Mutex
	data    []byte
	modTime time.Time

	children map[string]*memNode
	isDir    bool
}

func (f *memNode) IsDir() bool        { return f.isDir }
func (f *memNode) ModTime() time.Time { return f.modTime }
func (f *memNode) Mode() os.FileMode  { return os.FileMode(0755) }
func (f *memNode) Name() string       { return f.name }
func (f *memNode) Sys() interface{}   { return nil }

func (f *memNode) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.data))
}

// memHandle is an open instance of a memNode, carrying a sequential read
// offset.
type memHandle struct {
	n     *memNode
	off   int
	write bool
}

func (f *memHandle) Close() error {
	return nil
}

func (f *memHandle) Read(p []byte) (int, error) {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if f.n.isDir {
		return 0, errors.New("shale/vfs: cannot read a directory")
	}
	if f.off >= len(f.n.data) {
		return 0, io.EOF
	}
	n := copy(p, f.n.data[f.off:])
	f.off += n
	return n, nil
}

func (f *memHandle) ReadAt(p []byte, off int64) (int, error) {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if f.n.isDir {
		return 0, errors.New("shale/vfs: cannot read a directory")
	}
	if off >= int64(len(f.n.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.n.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memHandle) Write(p []byte) (int, error) {
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	if f.n.isDir {
		return 0, errors.New("shale/vfs: cannot write a directory")
	}
	f.n.modTime = time.Now()
	f.n.data = append(f.n.data, p...)
	return len(p), nil
}

func (f *memHandle) Stat() (os.FileInfo, error) {
	return f.n, nil
}

func (f *memHandle) Sync() error {
	return nil
}
