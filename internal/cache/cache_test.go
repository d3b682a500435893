// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/shale/internal/base"
	"github.com/stretchr/testify/require"
)

func TestBasic(t *testing.T) {
	c := New(1 << 20)
	id := c.NewID()

	require.Nil(t, c.Get(id, 1, 0))
	c.Set(id, 1, 0, []byte("hello"))
	require.EqualValues(t, "hello", c.Get(id, 1, 0))

	// Different offset, file number and cache ID are distinct keys.
	require.Nil(t, c.Get(id, 1, 1))
	require.Nil(t, c.Get(id, 2, 0))
	require.Nil(t, c.Get(c.NewID(), 1, 0))

	// Overwrite.
	c.Set(id, 1, 0, []byte("world"))
	require.EqualValues(t, "world", c.Get(id, 1, 0))
}

func TestEvictFile(t *testing.T) {
	c := New(1 << 20)
	id := c.NewID()
	for i := uint64(0); i < 10; i++ {
		c.Set(id, 3, i*4096, []byte("block"))
		c.Set(id, 4, i*4096, []byte("block"))
	}
	c.EvictFile(id, 3)
	for i := uint64(0); i < 10; i++ {
		require.Nil(t, c.Get(id, 3, i*4096))
		require.NotNil(t, c.Get(id, 4, i*4096))
	}
}

func TestEviction(t *testing.T) {
	// A tiny cache: each shard holds ~4KiB.
	c := New(64 << 10)
	id := c.NewID()
	block := make([]byte, 1024)
	for i := uint64(0); i < 1000; i++ {
		c.Set(id, 1, i, block)
	}
	// The cache must have bounded its contents.
	live := 0
	for i := uint64(0); i < 1000; i++ {
		if c.Get(id, 1, i) != nil {
			live++
		}
	}
	require.Greater(t, live, 0)
	require.Less(t, live, 1000)
}

func TestLRU(t *testing.T) {
	c := New(numShards * 3 * 1024)
	var id uint64 = 1
	block := make([]byte, 1024)

	// Find four keys that land in the same shard.
	var keys []uint64
	target := key{id: id, fileNum: 1, offset: 0}.shard()
	for off := uint64(0); len(keys) < 4; off++ {
		if (key{id: id, fileNum: 1, offset: off}).shard() == target {
			keys = append(keys, off)
		}
	}

	c.Set(id, 1, keys[0], block)
	c.Set(id, 1, keys[1], block)
	c.Set(id, 1, keys[2], block)
	// Touch keys[0] so that keys[1] is the least recently used.
	require.NotNil(t, c.Get(id, 1, keys[0]))
	c.Set(id, 1, keys[3], block)

	require.NotNil(t, c.Get(id, 1, keys[0]))
	require.Nil(t, c.Get(id, 1, keys[1]))
}

func TestConcurrent(t *testing.T) {
	c := New(1 << 20)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			id := c.NewID()
			for i := 0; i < 1000; i++ {
				fn := base.FileNum(i % 16)
				c.Set(id, fn, uint64(i), []byte(fmt.Sprintf("%d-%d", g, i)))
				c.Get(id, fn, uint64(i))
			}
		}(g)
	}
	wg.Wait()
}
