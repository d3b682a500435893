// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package sstable implements readers and writers of sorted tables: immutable
// on-disk files of sorted internal key/value entries.
//
// The file format is:
//
//	<start_of_file>
//	[data block 0]
//	[data block 1]
//	...
//	[data block N-1]
//	[filter block]        (optional)
//	[meta block: index of filter block]
//	[index block]
//	[footer]
//	<end_of_file>
//
// Each block consists of some data and a 5 byte trailer: a 1 byte block type
// and a 4 byte checksum of the (optionally compressed) data and that type
// byte. The block type gives the per-block compression: NoCompression or
// SnappyCompression. The checksum is a CRC-32C with a custom mask (see the
// internal/crc package).
//
// A data block holds sorted key/value entries, prefix-compressed in runs
// delimited by restart points (see block.go).
//
// The index block's keys are separators: for every data block, a key >= every
// key in that block and < every key in the next. Its values are the
// BlockHandles (varint-encoded offset and length) of the data blocks.
//
// The filter block, if present, holds one filter per 2 KiB window of data
// block offsets (see filter.go). The meta index block maps
// "filter.<policy-name>" to the filter block's handle.
//
// The footer is a fixed 48 bytes at the end of the file: the BlockHandles of
// the meta index block and the index block, zero-padded, followed by the
// 8-byte magic number.
package sstable

import (
	"encoding/binary"

	"github.com/cockroachdb/shale/internal/base"
)

const (
	blockTrailerLen   = 5
	blockHandleMaxLen = 10 + 10
	footerLen         = 48

	magic = "\x57\xfb\x80\x8b\x24\x75\x47\xdb"

	// These constants are part of the file format, and should not be changed.
	noCompressionBlockType     = 0
	snappyCompressionBlockType = 1

	// The block restart interval and block size defaults mirror the root
	// package's Options; sstable consumers always pass explicit values.
	defaultBlockRestartInterval = 16
	defaultBlockSize            = 4096
)

// blockHandle is the file offset and length of a block.
type blockHandle struct {
	offset, length uint64
}

// decodeBlockHandle returns the block handle encoded at the start of src, as
// well as the number of bytes it occupies. It returns zero if given invalid
// input.
func decodeBlockHandle(src []byte) (blockHandle, int) {
	offset, n := binary.Uvarint(src)
	length, m := binary.Uvarint(src[n:])
	if n == 0 || m == 0 {
		return blockHandle{}, 0
	}
	return blockHandle{offset, length}, n + m
}

func encodeBlockHandle(dst []byte, b blockHandle) int {
	n := binary.PutUvarint(dst, b.offset)
	m := binary.PutUvarint(dst[n:], b.length)
	return n + m
}

// WriterOptions holds the parameters used to create a table writer.
type WriterOptions struct {
	// BlockRestartInterval is the number of keys between restart points for
	// prefix compression of keys.
	BlockRestartInterval int

	// BlockSize is the target uncompressed size in bytes of each data block.
	BlockSize int

	// Comparer defines the ordering over user keys.
	Comparer *base.Comparer

	// Compression is the per-block compression to use.
	Compression base.Compression

	// FilterPolicy, if non-nil, produces the table's filter block.
	FilterPolicy base.FilterPolicy
}

func (o WriterOptions) ensureDefaults() WriterOptions {
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = defaultBlockRestartInterval
	}
	if o.BlockSize <= 0 {
		o.BlockSize = defaultBlockSize
	}
	if o.Comparer == nil {
		o.Comparer = base.DefaultComparer
	}
	if o.Compression == base.DefaultCompression {
		o.Compression = base.SnappyCompression
	}
	return o
}

// ReaderOptions holds the parameters used to open a table reader.
type ReaderOptions struct {
	// Comparer defines the ordering over user keys. It must match the
	// comparer the table was written with.
	Comparer *base.Comparer

	// FilterPolicy, if non-nil, enables use of the table's filter block if
	// one was written with a matching policy name.
	FilterPolicy base.FilterPolicy

	// VerifyChecksums indicates that block checksums are verified on every
	// block read from the file. Without it, a block is verified only when
	// the read's BlockReadOptions.VerifyChecksums is set. Blocks served from
	// the block cache are not verified again.
	VerifyChecksums bool
}

func (o ReaderOptions) ensureDefaults() ReaderOptions {
	if o.Comparer == nil {
		o.Comparer = base.DefaultComparer
	}
	return o
}
