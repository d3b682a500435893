// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/shale/internal/base"
)

// A block is a sorted run of key/value entries followed by a trailer.
//
// Each entry is:
//
//	varint(shared_prefix_len) varint(unshared_len) varint(value_len)
//	unshared_key_bytes value_bytes
//
// where shared_prefix_len is the number of leading bytes the (encoded
// internal) key shares with the previous entry's key. Every
// restartInterval'th entry is written with shared_prefix_len == 0, and its
// offset is recorded in the restart array. The trailer is the restart array
// (fixed32 offsets) followed by the fixed32 restart count.
type blockWriter struct {
	restartInterval int
	nEntries        int
	buf             []byte
	restarts        []uint32
	curKey          []byte
	prevKey         []byte
	tmp             [3 * binary.MaxVarintLen64]byte
}

// add appends a key/value pair to the block. Keys must be added in strictly
// increasing order under the internal key comparison.
func (w *blockWriter) add(key base.InternalKey, value []byte) {
	w.curKey, w.prevKey = w.prevKey, w.curKey

	size := key.Size()
	if cap(w.curKey) < size {
		w.curKey = make([]byte, 0, size*2)
	}
	w.curKey = w.curKey[:size]
	key.Encode(w.curKey)

	shared := 0
	if w.nEntries%w.restartInterval == 0 {
		w.restarts = append(w.restarts, uint32(len(w.buf)))
	} else {
		shared = base.SharedPrefixLen(w.curKey, w.prevKey)
	}

	n := binary.PutUvarint(w.tmp[0:], uint64(shared))
	n += binary.PutUvarint(w.tmp[n:], uint64(size-shared))
	n += binary.PutUvarint(w.tmp[n:], uint64(len(value)))
	w.buf = append(w.buf, w.tmp[:n]...)
	w.buf = append(w.buf, w.curKey[shared:]...)
	w.buf = append(w.buf, value...)

	w.nEntries++
}

// finish appends the restart trailer and returns the completed block.
func (w *blockWriter) finish() []byte {
	if w.nEntries == 0 {
		// Every block must have at least one restart point.
		w.restarts = append(w.restarts[:0], 0)
	}
	tmp4 := w.tmp[:4]
	for _, x := range w.restarts {
		binary.LittleEndian.PutUint32(tmp4, x)
		w.buf = append(w.buf, tmp4...)
	}
	binary.LittleEndian.PutUint32(tmp4, uint32(len(w.restarts)))
	w.buf = append(w.buf, tmp4...)
	return w.buf
}

// estimatedSize returns the size of the block if finished now.
func (w *blockWriter) estimatedSize() int {
	return len(w.buf) + 4*(len(w.restarts)+1)
}

// reset clears the per-block state for reuse.
func (w *blockWriter) reset() {
	w.nEntries = 0
	w.buf = w.buf[:0]
	w.restarts = w.restarts[:0]
}

// blockEntry is a cached entry position, used for reverse iteration within a
// restart interval.
type blockEntry struct {
	offset int
	key    []byte
	val    []byte
}

// blockIter is an iterator over a single block of data.
type blockIter struct {
	cmp         base.Compare
	offset      int
	nextOffset  int
	restarts    int
	numRestarts int
	data        []byte
	key         []byte
	val         []byte
	ikey        base.InternalKey
	cached      []blockEntry
	cachedBuf   []byte
	err         error
}

var _ base.InternalIterator = (*blockIter)(nil)

func newBlockIter(cmp base.Compare, block []byte) (*blockIter, error) {
	i := &blockIter{}
	return i, i.init(cmp, block)
}

func (i *blockIter) init(cmp base.Compare, block []byte) error {
	if len(block) < 4 {
		return base.CorruptionErrorf("shale/sstable: invalid block (too short)")
	}
	numRestarts := int(binary.LittleEndian.Uint32(block[len(block)-4:]))
	if numRestarts == 0 {
		return base.CorruptionErrorf("shale/sstable: invalid block (no restart points)")
	}
	*i = blockIter{
		cmp:         cmp,
		restarts:    len(block) - 4*(1+numRestarts),
		numRestarts: numRestarts,
		data:        block,
		key:         make([]byte, 0, 256),
		offset:      -1,
	}
	return nil
}

// readEntry decodes the entry at i.offset into i.key, i.val and i.nextOffset.
func (i *blockIter) readEntry() {
	shared, n := binary.Uvarint(i.data[i.offset:])
	i.nextOffset = i.offset + n
	unshared, n := binary.Uvarint(i.data[i.nextOffset:])
	i.nextOffset += n
	value, n := binary.Uvarint(i.data[i.nextOffset:])
	i.nextOffset += n
	i.key = append(i.key[:shared], i.data[i.nextOffset:i.nextOffset+int(unshared)]...)
	i.key = i.key[:len(i.key):len(i.key)]
	i.nextOffset += int(unshared)
	i.val = i.data[i.nextOffset : i.nextOffset+int(value) : i.nextOffset+int(value)]
	i.nextOffset += int(value)
}

func (i *blockIter) loadEntry() {
	i.readEntry()
	i.ikey = base.DecodeInternalKey(i.key)
}

func (i *blockIter) clearCache() {
	i.cached = i.cached[:0]
	i.cachedBuf = i.cachedBuf[:0]
}

func (i *blockIter) cacheEntry() {
	i.cachedBuf = append(i.cachedBuf, i.key...)
	i.cached = append(i.cached, blockEntry{
		offset: i.offset,
		key:    i.cachedBuf[len(i.cachedBuf)-len(i.key) : len(i.cachedBuf) : len(i.cachedBuf)],
		val:    i.val,
	})
}

// restartKey decodes the internal key stored at the j'th restart point.
func (i *blockIter) restartKey(j int) base.InternalKey {
	offset := int(binary.LittleEndian.Uint32(i.data[i.restarts+4*j:]))
	// For a restart point, there are 0 bytes shared with the previous key.
	// The varint encoding of 0 occupies 1 byte.
	offset++
	v1, n1 := binary.Uvarint(i.data[offset:])
	_, n2 := binary.Uvarint(i.data[offset+n1:])
	m := offset + n1 + n2
	return base.DecodeInternalKey(i.data[m : m+int(v1)])
}

// empty returns true if the block holds no entries.
func (i *blockIter) empty() bool {
	return i.restarts == 0
}

// SeekGE implements base.InternalIterator.
func (i *blockIter) SeekGE(key base.InternalKey) {
	if i.empty() {
		i.offset = -1
		return
	}
	// Find the index of the smallest restart point whose key is > the key
	// sought; index will be numRestarts if there is no such restart point.
	index := sort.Search(i.numRestarts, func(j int) bool {
		return base.InternalCompare(i.cmp, key, i.restartKey(j)) < 0
	})

	// Since keys are strictly increasing, if index > 0 then the restart point
	// at index-1 will be the largest whose key is <= the key sought. If
	// index == 0, then all keys in this block are larger than the key sought,
	// and offset remains at zero.
	i.offset = 0
	if index > 0 {
		i.offset = int(binary.LittleEndian.Uint32(i.data[i.restarts+4*(index-1):]))
	}
	i.clearCache()
	i.loadEntry()

	// Iterate from that restart point to somewhere >= the key sought.
	for ; i.Valid(); i.Next() {
		if base.InternalCompare(i.cmp, key, i.ikey) <= 0 {
			break
		}
	}
}

// SeekLT implements base.InternalIterator.
func (i *blockIter) SeekLT(key base.InternalKey) {
	i.SeekGE(key)
	if !i.Valid() {
		// All keys in the block are < key.
		i.Last()
		return
	}
	i.Prev()
}

// First implements base.InternalIterator.
func (i *blockIter) First() {
	if i.empty() {
		i.offset = -1
		return
	}
	i.offset = 0
	i.clearCache()
	i.loadEntry()
}

// Last implements base.InternalIterator.
func (i *blockIter) Last() {
	if i.empty() {
		i.offset = -1
		return
	}
	// Seek forward from the last restart point.
	i.offset = int(binary.LittleEndian.Uint32(i.data[i.restarts+4*(i.numRestarts-1):]))
	i.clearCache()
	i.readEntry()
	i.cacheEntry()

	for i.nextOffset < i.restarts {
		i.offset = i.nextOffset
		i.readEntry()
		i.cacheEntry()
	}

	i.ikey = base.DecodeInternalKey(i.key)
}

// Next implements base.InternalIterator.
func (i *blockIter) Next() bool {
	i.offset = i.nextOffset
	if !i.Valid() {
		return false
	}
	i.loadEntry()
	return true
}

// Prev implements base.InternalIterator.
func (i *blockIter) Prev() bool {
	if n := len(i.cached) - 1; n > 0 && i.cached[n].offset == i.offset {
		i.nextOffset = i.offset
		e := &i.cached[n-1]
		i.offset = e.offset
		i.val = e.val
		i.ikey = base.DecodeInternalKey(e.key)
		i.cached = i.cached[:n]
		return true
	}

	if i.offset <= 0 {
		i.offset = -1
		i.nextOffset = 0
		return false
	}

	// Walk forward from the restart point preceding the current offset,
	// caching entries so that a run of Prev calls within the same restart
	// interval need not repeat the walk.
	targetOffset := i.offset
	index := sort.Search(i.numRestarts, func(j int) bool {
		offset := int(binary.LittleEndian.Uint32(i.data[i.restarts+4*j:]))
		return offset >= targetOffset
	})
	i.offset = 0
	if index > 0 {
		i.offset = int(binary.LittleEndian.Uint32(i.data[i.restarts+4*(index-1):]))
	}

	i.readEntry()
	i.clearCache()
	i.cacheEntry()

	for i.nextOffset < targetOffset {
		i.offset = i.nextOffset
		i.readEntry()
		i.cacheEntry()
	}

	i.ikey = base.DecodeInternalKey(i.key)
	return true
}

// Key implements base.InternalIterator.
func (i *blockIter) Key() base.InternalKey {
	return i.ikey
}

// Value implements base.InternalIterator.
func (i *blockIter) Value() []byte {
	return i.val
}

// Valid implements base.InternalIterator.
func (i *blockIter) Valid() bool {
	return i.offset >= 0 && i.offset < i.restarts
}

// Error implements base.InternalIterator.
func (i *blockIter) Error() error {
	return i.err
}

// Close implements base.InternalIterator.
func (i *blockIter) Close() error {
	i.val = nil
	return i.err
}
