// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package vfs

import (
	"io"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemFSBasics(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.MkdirAll("/dir", 0755))

	f, err := fs.Create("/dir/f")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = f.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	// Sequential reads track an offset; ReadAt does not.
	f, err = fs.Open("/dir/f")
	require.NoError(t, err)
	b := make([]byte, 5)
	_, err = io.ReadFull(f, b)
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))
	_, err = f.ReadAt(b, 6)
	require.NoError(t, err)
	require.Equal(t, "world", string(b))
	_, err = io.ReadFull(f, b)
	require.NoError(t, err)
	require.Equal(t, " worl", string(b))
	require.NoError(t, f.Close())

	stat, err := fs.Stat("/dir/f")
	require.NoError(t, err)
	require.EqualValues(t, 11, stat.Size())

	// Missing files report not-exist.
	_, err = fs.Open("/dir/missing")
	require.Error(t, err)
}

func TestMemFSList(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.MkdirAll("/db", 0755))
	for _, name := range []string{"b", "a", "c"} {
		f, err := fs.Create("/db/" + name)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}
	ls, err := fs.List("/db")
	require.NoError(t, err)
	sort.Strings(ls)
	require.Equal(t, []string{"a", "b", "c"}, ls)
}

func TestMemFSRename(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.MkdirAll("/db", 0755))
	f, err := fs.Create("/db/old")
	require.NoError(t, err)
	_, err = f.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Rename overwrites an existing target, as os.Rename does.
	g, err := fs.Create("/db/new")
	require.NoError(t, err)
	require.NoError(t, g.Close())
	require.NoError(t, fs.Rename("/db/old", "/db/new"))

	_, err = fs.Open("/db/old")
	require.Error(t, err)
	f, err = fs.Open("/db/new")
	require.NoError(t, err)
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "data", string(b))
	require.NoError(t, f.Close())

	require.Error(t, fs.Rename("/db/ghost", "/db/x"))
}

func TestMemFSRemove(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.MkdirAll("/db", 0755))
	f, err := fs.Create("/db/f")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, fs.Remove("/db/f"))
	require.Error(t, fs.Remove("/db/f"))
}

func TestMemFSLock(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.MkdirAll("/db", 0755))
	c, err := fs.Lock("/db/LOCK")
	require.NoError(t, err)
	require.NoError(t, c.Close())
}
