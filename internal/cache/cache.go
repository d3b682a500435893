// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package cache implements the block cache: a concurrent, sharded LRU map
// from (cacheID, fileNum, offset) to block contents.
//
// The cache is sharded to reduce mutex contention, with the shard for a key
// selected by hashing the key. Cache IDs partition the key space so that
// multiple databases can share a single cache.
package cache

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/shale/internal/base"
)

const numShards = 16

// key is the composite cache key: the cache ID partitions databases sharing
// the cache, and (fileNum, offset) identify a block within a database.
type key struct {
	id      uint64
	fileNum base.FileNum
	offset  uint64
}

func (k key) shard() uint64 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], k.id)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(k.fileNum))
	binary.LittleEndian.PutUint64(buf[16:24], k.offset)
	return xxhash.Sum64(buf[:]) % numShards
}

// entry is a cache entry, part of a per-shard intrusive LRU list.
type entry struct {
	key        key
	value      []byte
	prev, next *entry
}

type shard struct {
	mu       sync.Mutex
	maxSize  int64
	size     int64
	blocks   map[key]*entry
	// dummy is the head of a circular doubly-linked LRU list: dummy.next is
	// the most recently used entry, dummy.prev the least.
	dummy entry
}

func (s *shard) init(maxSize int64) {
	s.maxSize = maxSize
	s.blocks = make(map[key]*entry)
	s.dummy.prev = &s.dummy
	s.dummy.next = &s.dummy
}

// unlink removes e from the LRU list.
func (s *shard) unlink(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

// linkFront inserts e at the front of the LRU list.
func (s *shard) linkFront(e *entry) {
	e.next = s.dummy.next
	e.prev = &s.dummy
	e.next.prev = e
	e.prev.next = e
}

func (s *shard) get(k key) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.blocks[k]
	if e == nil {
		return nil
	}
	s.unlink(e)
	s.linkFront(e)
	return e.value
}

func (s *shard) set(k key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.blocks[k]; e != nil {
		s.size += int64(len(value)) - int64(len(e.value))
		e.value = value
		s.unlink(e)
		s.linkFront(e)
	} else {
		e := &entry{key: k, value: value}
		s.blocks[k] = e
		s.linkFront(e)
		s.size += int64(len(value))
	}
	for s.size > s.maxSize && s.dummy.prev != &s.dummy {
		tail := s.dummy.prev
		s.unlink(tail)
		delete(s.blocks, tail.key)
		s.size -= int64(len(tail.value))
	}
}

func (s *shard) evictFile(id uint64, fileNum base.FileNum) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.blocks {
		if k.id == id && k.fileNum == fileNum {
			s.unlink(e)
			delete(s.blocks, k)
			s.size -= int64(len(e.value))
		}
	}
}

// Cache is a concurrent, sharded LRU block cache.
type Cache struct {
	shards [numShards]shard
	idNum  atomic.Uint64
}

// New constructs a cache holding at most approximately size bytes of block
// data.
func New(size int64) *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i].init(size / numShards)
	}
	return c
}

// NewID returns a new ID to be used as a namespace for cached blocks,
// partitioning the keys of databases that share the cache.
func (c *Cache) NewID() uint64 {
	return c.idNum.Add(1)
}

// Get retrieves the cached value for the specified block, or nil if the
// block is not present.
func (c *Cache) Get(id uint64, fileNum base.FileNum, offset uint64) []byte {
	if c == nil {
		return nil
	}
	k := key{id: id, fileNum: fileNum, offset: offset}
	return c.shards[k.shard()].get(k)
}

// Set stores the value for the specified block, evicting least recently used
// blocks if the shard exceeds its budget. The cache takes ownership of the
// value: callers must not mutate it afterwards.
func (c *Cache) Set(id uint64, fileNum base.FileNum, offset uint64, value []byte) {
	if c == nil {
		return
	}
	k := key{id: id, fileNum: fileNum, offset: offset}
	c.shards[k.shard()].set(k, value)
}

// EvictFile removes all cached blocks for the specified file.
func (c *Cache) EvictFile(id uint64, fileNum base.FileNum) {
	if c == nil {
		return
	}
	for i := range c.shards {
		c.shards[i].evictFile(id, fileNum)
	}
}
