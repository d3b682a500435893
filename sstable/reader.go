// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/shale/internal/base"
	"github.com/cockroachdb/shale/internal/cache"
	"github.com/cockroachdb/shale/internal/crc"
	"github.com/cockroachdb/shale/vfs"
	"github.com/golang/snappy"
)

// Reader reads a sorted table. It is safe for concurrent use.
type Reader struct {
	file            vfs.File
	fileNum         base.FileNum
	cache           *cache.Cache
	cacheID         uint64
	err             error
	index           []byte
	cmp             *base.Comparer
	filter          filterReader
	verifyChecksums bool
}

// NewReader returns a new table reader for the file. Closing the reader will
// close the file.
//
// The cache may be nil, in which case every block access reads from the file.
func NewReader(
	f vfs.File, fileNum base.FileNum, cacheID uint64, c *cache.Cache, o ReaderOptions,
) *Reader {
	o = o.ensureDefaults()
	r := &Reader{
		file:            f,
		fileNum:         fileNum,
		cache:           c,
		cacheID:         cacheID,
		cmp:             o.Comparer,
		verifyChecksums: o.VerifyChecksums,
	}
	if f == nil {
		r.err = errors.New("shale/sstable: nil file")
		return r
	}
	stat, err := f.Stat()
	if err != nil {
		r.err = errors.Wrapf(err, "shale/sstable: could not stat table %s", fileNum)
		return r
	}
	var footer [footerLen]byte
	if stat.Size() < int64(len(footer)) {
		r.err = base.CorruptionErrorf("shale/sstable: table %s: invalid (file size is too small)", fileNum)
		return r
	}
	_, err = f.ReadAt(footer[:], stat.Size()-int64(len(footer)))
	if err != nil && err != io.EOF {
		r.err = errors.Wrapf(err, "shale/sstable: could not read table %s footer", fileNum)
		return r
	}
	if string(footer[footerLen-len(magic):footerLen]) != magic {
		r.err = base.CorruptionErrorf("shale/sstable: table %s: invalid (bad magic number)", fileNum)
		return r
	}

	// Read the metaindex.
	metaindexBH, n := decodeBlockHandle(footer[:])
	if n == 0 {
		r.err = base.CorruptionErrorf("shale/sstable: table %s: invalid (bad metaindex block handle)", fileNum)
		return r
	}
	if err := r.readMetaindex(metaindexBH, o.FilterPolicy); err != nil {
		r.err = err
		return r
	}

	// Read the index into memory; it is held for the lifetime of the reader.
	indexBH, m := decodeBlockHandle(footer[n:])
	if m == 0 {
		r.err = base.CorruptionErrorf("shale/sstable: table %s: invalid (bad index block handle)", fileNum)
		return r
	}
	r.index, r.err = r.readBlock(indexBH, BlockReadOptions{})
	return r
}

// Close closes the reader's file. Later calls to Get, NewIter or Close
// return an error.
func (r *Reader) Close() error {
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		if r.err == nil && err != nil {
			r.err = err
			return err
		}
	}
	if r.err != nil {
		return r.err
	}
	// Make any future calls to Get, NewIter or Close return an error.
	r.err = errors.New("shale/sstable: reader is closed")
	return nil
}

// BlockReadOptions adjust how blocks are read from the file on a per-read
// basis.
type BlockReadOptions struct {
	// VerifyChecksums verifies the block checksum on every read, even when
	// the reader was not opened with checksum verification.
	VerifyChecksums bool
	// DontFillCache skips populating the block cache with blocks read by
	// this operation. Useful for bulk scans that should not displace the
	// cached working set.
	DontFillCache bool
}

// MayContain probes the table's filter, if any, for the data block that
// would hold the given key. It returns false only when the key is
// definitely absent from the table; a table without a filter always returns
// true.
func (r *Reader) MayContain(key base.InternalKey, ro BlockReadOptions) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	if !r.filter.valid() {
		return true, nil
	}
	index, err := newBlockIter(r.cmp.Compare, r.index)
	if err != nil {
		return false, err
	}
	index.SeekGE(key)
	if !index.Valid() {
		// The key is beyond the last data block.
		return false, nil
	}
	bh, n := decodeBlockHandle(index.Value())
	if n == 0 {
		return false, base.CorruptionErrorf("shale/sstable: table %s: corrupt index entry", r.fileNum)
	}
	return r.filter.mayContain(bh.offset, key.UserKey), nil
}

// Get returns the value of the first entry for the given user key in the
// table whose sequence number is visible at the search key's sequence
// number, or ErrNotFound. The table's filter block, if any, is consulted
// first.
func (r *Reader) Get(key base.InternalKey, ro BlockReadOptions) (value []byte, err error) {
	if r.err != nil {
		return nil, r.err
	}
	if ok, err := r.MayContain(key, ro); err != nil {
		return nil, err
	} else if !ok {
		return nil, base.ErrNotFound
	}
	i := r.NewIter(ro)
	defer i.Close()
	i.SeekGE(key)
	if !i.Valid() || r.cmp.Compare(key.UserKey, i.Key().UserKey) != 0 {
		if err := i.Error(); err != nil {
			return nil, err
		}
		return nil, base.ErrNotFound
	}
	return i.Value(), i.Error()
}

// NewIter returns an iterator over the table.
func (r *Reader) NewIter(ro BlockReadOptions) *Iter {
	i := &Iter{reader: r, ro: ro}
	if r.err != nil {
		i.err = r.err
		return i
	}
	if err := i.index.init(r.cmp.Compare, r.index); err != nil {
		i.err = err
	}
	return i
}

// readBlock reads and decompresses a block from disk into memory, consulting
// and populating the block cache.
func (r *Reader) readBlock(bh blockHandle, ro BlockReadOptions) ([]byte, error) {
	if b := r.cache.Get(r.cacheID, r.fileNum, bh.offset); b != nil {
		return b, nil
	}
	b := make([]byte, bh.length+blockTrailerLen)
	if _, err := r.file.ReadAt(b, int64(bh.offset)); err != nil {
		return nil, err
	}
	if r.verifyChecksums || ro.VerifyChecksums {
		checksum0 := binary.LittleEndian.Uint32(b[bh.length+1:])
		checksum1 := crc.New(b[:bh.length+1]).Value()
		if checksum0 != checksum1 {
			return nil, base.CorruptionErrorf("shale/sstable: table %s: invalid (checksum mismatch)", r.fileNum)
		}
	}
	switch b[bh.length] {
	case noCompressionBlockType:
		b = b[:bh.length:bh.length]
	case snappyCompressionBlockType:
		decoded, err := snappy.Decode(nil, b[:bh.length])
		if err != nil {
			return nil, base.CorruptionErrorf("shale/sstable: table %s: corrupt compressed block: %v", r.fileNum, err)
		}
		b = decoded
	default:
		return nil, base.CorruptionErrorf("shale/sstable: table %s: unknown block compression: %d", r.fileNum, b[bh.length])
	}
	if !ro.DontFillCache {
		r.cache.Set(r.cacheID, r.fileNum, bh.offset, b)
	}
	return b, nil
}

// readMetaindex locates the filter block via the metaindex block and
// initializes the filter reader.
func (r *Reader) readMetaindex(metaindexBH blockHandle, fp base.FilterPolicy) error {
	if fp == nil {
		// The only metaindex entry we care about is the filter. If no filter
		// policy is configured, we can ignore the entire metaindex block.
		return nil
	}

	b, err := r.readBlock(metaindexBH, BlockReadOptions{})
	if err != nil {
		return err
	}
	i, err := newBlockIter(r.cmp.Compare, b)
	if err != nil {
		return err
	}
	filterName := []byte("filter." + fp.Name())
	filterBH := blockHandle{}
	for i.First(); i.Valid(); i.Next() {
		if string(i.Key().UserKey) != string(filterName) {
			continue
		}
		var n int
		filterBH, n = decodeBlockHandle(i.Value())
		if n == 0 {
			return base.CorruptionErrorf("shale/sstable: table %s: invalid (bad filter block handle)", r.fileNum)
		}
		break
	}
	if err := i.Close(); err != nil {
		return err
	}

	if filterBH != (blockHandle{}) {
		b, err = r.readBlock(filterBH, BlockReadOptions{})
		if err != nil {
			return err
		}
		if !r.filter.init(b, fp) {
			return base.CorruptionErrorf("shale/sstable: table %s: invalid (bad filter block)", r.fileNum)
		}
	}
	return nil
}

// Iter is an iterator over an entire table of data. It is a two-level
// iterator: to seek for a given key, it first looks in the index for the
// block that contains that key, and then looks inside that block.
type Iter struct {
	reader *Reader
	ro     BlockReadOptions
	index  blockIter
	data   blockIter
	// dataValid is whether data is initialized over the block at the index
	// iterator's current position.
	dataValid bool
	err       error
}

var _ base.InternalIterator = (*Iter)(nil)

// loadBlock loads the data block at the index iterator's current position.
func (i *Iter) loadBlock() bool {
	i.dataValid = false
	if !i.index.Valid() {
		return false
	}
	// Load the next block.
	v := i.index.Value()
	h, n := decodeBlockHandle(v)
	if n == 0 || n != len(v) {
		i.err = base.CorruptionErrorf("shale/sstable: table %s: corrupt index entry", i.reader.fileNum)
		return false
	}
	block, err := i.reader.readBlock(h, i.ro)
	if err != nil {
		i.err = err
		return false
	}
	if err := i.data.init(i.reader.cmp.Compare, block); err != nil {
		i.err = err
		return false
	}
	i.dataValid = true
	return true
}

// skipForward advances through data blocks until positioned at a valid entry,
// for use after a positioning operation landed past the end of a block.
func (i *Iter) skipForward() bool {
	for !i.dataValid || !i.data.Valid() {
		if i.err != nil || !i.index.Next() {
			i.dataValid = false
			return false
		}
		if !i.loadBlock() {
			return false
		}
		i.data.First()
	}
	return true
}

// skipBackward is the reverse analogue of skipForward.
func (i *Iter) skipBackward() bool {
	for !i.dataValid || !i.data.Valid() {
		if i.err != nil || !i.index.Prev() {
			i.dataValid = false
			return false
		}
		if !i.loadBlock() {
			return false
		}
		i.data.Last()
	}
	return true
}

// SeekGE implements base.InternalIterator.
func (i *Iter) SeekGE(key base.InternalKey) {
	if i.err != nil {
		return
	}
	// The index keys are separators: >= every key in the preceding data
	// block and < every key in the following one, so the target block is the
	// first whose separator is >= the sought key.
	i.index.SeekGE(key)
	if !i.loadBlock() {
		return
	}
	i.data.SeekGE(key)
	i.skipForward()
}

// SeekLT implements base.InternalIterator.
func (i *Iter) SeekLT(key base.InternalKey) {
	if i.err != nil {
		return
	}
	i.index.SeekGE(key)
	if !i.index.Valid() {
		i.index.Last()
	}
	if !i.loadBlock() {
		return
	}
	i.data.SeekLT(key)
	i.skipBackward()
}

// First implements base.InternalIterator.
func (i *Iter) First() {
	if i.err != nil {
		return
	}
	i.index.First()
	if !i.loadBlock() {
		return
	}
	i.data.First()
	i.skipForward()
}

// Last implements base.InternalIterator.
func (i *Iter) Last() {
	if i.err != nil {
		return
	}
	i.index.Last()
	if !i.loadBlock() {
		return
	}
	i.data.Last()
	i.skipBackward()
}

// Next implements base.InternalIterator.
func (i *Iter) Next() bool {
	if i.err != nil || !i.dataValid {
		return false
	}
	if i.data.Next() {
		return true
	}
	return i.skipForward()
}

// Prev implements base.InternalIterator.
func (i *Iter) Prev() bool {
	if i.err != nil || !i.dataValid {
		return false
	}
	if i.data.Prev() {
		return true
	}
	return i.skipBackward()
}

// Valid implements base.InternalIterator.
func (i *Iter) Valid() bool {
	return i.err == nil && i.dataValid && i.data.Valid()
}

// Key implements base.InternalIterator.
func (i *Iter) Key() base.InternalKey {
	return i.data.Key()
}

// Value implements base.InternalIterator.
func (i *Iter) Value() []byte {
	return i.data.Value()
}

// Error implements base.InternalIterator.
func (i *Iter) Error() error {
	if i.err != nil {
		return i.err
	}
	return i.index.Error()
}

// Close implements base.InternalIterator.
func (i *Iter) Close() error {
	i.dataValid = false
	return i.err
}
