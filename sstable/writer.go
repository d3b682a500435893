// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"bufio"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/shale/internal/base"
	"github.com/cockroachdb/shale/internal/crc"
	"github.com/cockroachdb/shale/vfs"
	"github.com/golang/snappy"
)

// indexEntry is a block handle and the separator key that precedes the next
// block.
type indexEntry struct {
	bh  blockHandle
	sep base.InternalKey
}

// Writer writes a sorted table to a file. Keys must be added in strictly
// increasing order under the internal key comparison.
type Writer struct {
	file        vfs.File
	writer      *bufio.Writer
	err         error
	cmp         *base.Comparer
	compression base.Compression
	blockSize   int

	// A table is a series of blocks and a block's index entry contains a
	// separator key between one block and the next. Thus, a finished block
	// cannot be written until the first key in the next block is seen.
	// pendingBH is the blockHandle of a finished block that is waiting for
	// the next call to Add. If the writer is not in this state, pendingBH is
	// zero.
	pendingBH blockHandle
	// offset is the offset (relative to the table start) of the next block
	// to be written.
	offset uint64
	// prevKey is a copy of the key most recently passed to Add.
	prevKey base.InternalKey
	// indexEntries holds the separator keys between each block and the
	// successor key for the final block.
	indexEntries []indexEntry
	// block accumulates the current data block.
	block blockWriter
	// compressedBuf is the destination buffer for snappy compression. It is
	// re-used over the lifetime of the writer.
	compressedBuf []byte
	// filter accumulates the filter block.
	filter filterWriter
	// nEntries is the number of entries added to the table.
	nEntries int
	// tmp is a scratch buffer, large enough to hold either footerLen bytes,
	// blockTrailerLen bytes, or a pair of varint-encoded block handles.
	tmp [footerLen]byte
}

// NewWriter returns a new table writer for the file. Closing the writer will
// not close the file: the caller retains responsibility for syncing and
// closing it, which permits syncing before close.
func NewWriter(f vfs.File, o WriterOptions) *Writer {
	o = o.ensureDefaults()
	w := &Writer{
		file:        f,
		cmp:         o.Comparer,
		compression: o.Compression,
		blockSize:   o.BlockSize,
		block: blockWriter{
			restartInterval: o.BlockRestartInterval,
		},
		filter: filterWriter{
			policy: o.FilterPolicy,
		},
	}
	if f == nil {
		w.err = errors.New("shale/sstable: nil file")
		return w
	}
	w.writer = bufio.NewWriter(f)
	return w
}

// Add adds a key/value pair to the table being written. For a given Writer,
// the keys passed to Add must be in strictly increasing order.
func (w *Writer) Add(key base.InternalKey, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.nEntries > 0 && base.InternalCompare(w.cmp.Compare, w.prevKey, key) >= 0 {
		w.err = errors.Errorf(
			"shale/sstable: Add called in non-increasing key order: %s, %s",
			w.prevKey, key)
		return w.err
	}
	if w.filter.policy != nil {
		w.filter.appendKey(key.UserKey)
	}
	w.flushPendingBH(key)
	w.block.add(key, value)
	w.prevKey = key.Clone()
	w.nEntries++
	// If the estimated block size is sufficiently large, finish the current
	// block.
	if w.block.estimatedSize() >= w.blockSize {
		bh, err := w.finishBlock()
		if err != nil {
			w.err = err
			return w.err
		}
		w.pendingBH = bh
	}
	return nil
}

// EstimatedSize returns the estimated size of the sstable being written,
// including the sizes of blocks not yet flushed.
func (w *Writer) EstimatedSize() uint64 {
	return w.offset + uint64(w.block.estimatedSize())
}

// EntryCount returns the number of entries added so far.
func (w *Writer) EntryCount() int {
	return w.nEntries
}

// flushPendingBH adds any pending block handle to the index entries, keyed by
// a separator between the finished block's last key and the given key (or the
// last key's successor, when called with a zero key at table close).
func (w *Writer) flushPendingBH(key base.InternalKey) {
	if w.pendingBH.length == 0 {
		// A valid blockHandle must be non-zero. In particular, it must have
		// a non-zero length.
		return
	}
	var sep base.InternalKey
	if key.UserKey == nil && key.Trailer == 0 {
		sep = w.prevKey.Successor(w.cmp.Compare, w.cmp.Successor, nil)
	} else {
		sep = w.prevKey.Separator(w.cmp.Compare, w.cmp.Separator, nil, key)
	}
	w.indexEntries = append(w.indexEntries, indexEntry{w.pendingBH, sep.Clone()})
	w.pendingBH = blockHandle{}
}

// finishBlock finishes the current block and returns its block handle, which
// is its offset and length in the table.
func (w *Writer) finishBlock() (blockHandle, error) {
	b := w.block.finish()

	// Compress the buffer, discarding the result if the improvement isn't at
	// least 12.5%.
	blockType := byte(noCompressionBlockType)
	if w.compression == base.SnappyCompression {
		compressed := snappy.Encode(w.compressedBuf, b)
		w.compressedBuf = compressed[:cap(compressed)]
		if len(compressed) < len(b)-len(b)/8 {
			blockType = snappyCompressionBlockType
			b = compressed
		}
	}
	bh, err := w.writeRawBlock(b, blockType)

	// Calculate filters.
	if w.filter.policy != nil && err == nil {
		err = w.filter.finishBlock(w.offset)
	}

	// Reset the per-block state.
	w.block.reset()

	return bh, err
}

// writeRawBlock writes a block (with no further compression applied) and its
// trailer to the file.
func (w *Writer) writeRawBlock(b []byte, blockType byte) (blockHandle, error) {
	w.tmp[0] = blockType

	// Calculate the checksum, covering the payload and the block type.
	checksum := crc.New(b).Update(w.tmp[:1]).Value()
	binary.LittleEndian.PutUint32(w.tmp[1:5], checksum)

	if _, err := w.writer.Write(b); err != nil {
		return blockHandle{}, err
	}
	if _, err := w.writer.Write(w.tmp[:blockTrailerLen]); err != nil {
		return blockHandle{}, err
	}
	bh := blockHandle{w.offset, uint64(len(b))}
	w.offset += uint64(len(b)) + blockTrailerLen
	return bh, nil
}

// Close finishes writing the table: the final data block, the filter block
// (if any), the meta index block, the index block and the footer. It flushes
// the buffered writes to the file, but does not sync or close it.
func (w *Writer) Close() error {
	if w.err != nil {
		return w.err
	}

	// Finish the last data block, or force an empty data block if there
	// aren't any data blocks at all.
	w.flushPendingBH(base.InternalKey{})
	if w.block.nEntries > 0 || len(w.indexEntries) == 0 {
		bh, err := w.finishBlock()
		if err != nil {
			w.err = err
			return w.err
		}
		w.pendingBH = bh
		w.flushPendingBH(base.InternalKey{})
	}

	// Write the filter block.
	metaindex := blockWriter{restartInterval: 1}
	if w.filter.policy != nil {
		b, err := w.filter.finish()
		if err != nil {
			w.err = err
			return w.err
		}
		bh, err := w.writeRawBlock(b, noCompressionBlockType)
		if err != nil {
			w.err = err
			return w.err
		}
		n := encodeBlockHandle(w.tmp[:], bh)
		metaindex.add(
			base.InternalKey{UserKey: []byte("filter." + w.filter.policy.Name())},
			w.tmp[:n])
	}

	// Write the metaindex block. It might be an empty block, if the filter
	// policy is nil.
	metaindexBH, err := w.writeRawBlock(metaindex.finish(), noCompressionBlockType)
	if err != nil {
		w.err = err
		return w.err
	}

	// Write the index block.
	index := blockWriter{restartInterval: 1}
	for _, ie := range w.indexEntries {
		n := encodeBlockHandle(w.tmp[:], ie.bh)
		index.add(ie.sep, w.tmp[:n])
	}
	indexBH, err := w.writeRawBlock(index.finish(), noCompressionBlockType)
	if err != nil {
		w.err = err
		return w.err
	}

	// Write the table footer.
	footer := w.tmp[:footerLen]
	for i := range footer {
		footer[i] = 0
	}
	n := encodeBlockHandle(footer, metaindexBH)
	encodeBlockHandle(footer[n:], indexBH)
	copy(footer[footerLen-len(magic):], magic)
	if _, err := w.writer.Write(footer); err != nil {
		w.err = err
		return w.err
	}

	if err := w.writer.Flush(); err != nil {
		w.err = err
		return w.err
	}

	// Make any future calls to Add or Close return an error.
	w.err = errors.New("shale/sstable: writer is closed")
	return nil
}
