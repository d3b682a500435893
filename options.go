// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"github.com/cockroachdb/shale/internal/base"
	"github.com/cockroachdb/shale/internal/cache"
	"github.com/cockroachdb/shale/sstable"
	"github.com/cockroachdb/shale/vfs"
)

// Compression exports the base package's compression type.
type Compression = base.Compression

// Exported compression constants.
const (
	DefaultCompression = base.DefaultCompression
	NoCompression      = base.NoCompression
	SnappyCompression  = base.SnappyCompression
)

// Comparer exports the base package's comparer type.
type Comparer = base.Comparer

// DefaultComparer exports the base package's default comparer.
var DefaultComparer = base.DefaultComparer

// FilterPolicy exports the base package's filter policy interface.
type FilterPolicy = base.FilterPolicy

// Logger exports the base package's logger interface.
type Logger = base.Logger

// Options holds the optional parameters for a DB. They are typically passed
// to Open as a struct literal. It is always valid to pass a nil *Options,
// which means to use the default parameter values. Any zero field of a
// non-nil *Options also means to use the default value for that parameter.
type Options struct {
	// BlockCache is the cache used for data blocks read from sstables. It
	// may be shared between multiple DBs.
	//
	// The default is an 8 MiB cache private to the DB.
	BlockCache *cache.Cache

	// BlockRestartInterval is the number of keys between restart points for
	// prefix compression of keys in a data block.
	//
	// The default value is 16.
	BlockRestartInterval int

	// BlockSize is the target uncompressed size in bytes of each data block.
	// The on-disk size will be smaller if compression is enabled.
	//
	// The default value is 4096.
	BlockSize int

	// Comparer defines a total ordering over the space of []byte keys: a
	// 'less than' relationship. The same comparison algorithm must be used
	// for reads and writes over the lifetime of the DB.
	//
	// The default value uses the same ordering as bytes.Compare.
	Comparer *Comparer

	// Compression defines the per-block compression to use.
	//
	// The default value (DefaultCompression) uses snappy compression.
	Compression Compression

	// CreateIfMissing causes Open to create the database directory and its
	// files if they do not already exist.
	//
	// The default is false: opening a non-existent database is an error.
	CreateIfMissing bool

	// ErrorIfExists causes Open to fail if the database already exists.
	//
	// The default is false.
	ErrorIfExists bool

	// FilterPolicy defines a filter algorithm (such as a Bloom filter) that
	// can reduce disk reads for Get calls.
	//
	// One such implementation is bloom.FilterPolicy(10). A filter applied
	// at write time cannot alter the results returned, but it must be
	// configured at read time for the stored filters to be used.
	//
	// The default value means to use no filter.
	FilterPolicy FilterPolicy

	// FS provides the interface for persistent file storage.
	//
	// The default value uses the underlying operating system's file system.
	FS vfs.FS

	// Logger is used to write log messages.
	//
	// The default is to write to a LOG file in the database directory,
	// rotating any existing one to LOG.old at open.
	Logger Logger

	// MaxFileSize is the maximum size of a table file produced by flush or
	// compaction. Compactions also rotate their output when continuing the
	// current output would overlap too much data in the grandparent level.
	//
	// The default value is 2 MiB.
	MaxFileSize int64

	// MaxManifestFileSize is the maximum size the MANIFEST file is allowed
	// to grow to before it is rotated and a version snapshot is written to a
	// fresh manifest.
	//
	// The default value is 128 MB.
	MaxManifestFileSize int64

	// MaxOpenFiles is a soft limit on the number of open files that can be
	// used by the DB. Ten file handles are reserved for non-table files; the
	// remainder bounds the table cache.
	//
	// The default value is 1000.
	MaxOpenFiles int

	// ParanoidChecks causes recoverable corruption encountered during WAL
	// replay to fail the open, instead of being logged and skipped.
	//
	// The default is false.
	ParanoidChecks bool

	// ReadOnly indicates that the DB should be opened in read-only mode:
	// writes fail, and no flushes or compactions take place.
	//
	// The default is false.
	ReadOnly bool

	// WriteBufferSize is the amount of data to build up in the memtable
	// before it is frozen and a new WAL and memtable are started. Larger
	// values increase read amplification on recently written data but reduce
	// write amplification.
	//
	// The default value is 4 MiB.
	WriteBufferSize int
}

// EnsureDefaults ensures that the default values for all options are set if
// a valid value was not already specified. Returns the options, possibly
// allocated if opts was nil.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.BlockCache == nil {
		o.BlockCache = cache.New(8 << 20)
	}
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = 16
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 4096
	}
	if o.Comparer == nil {
		o.Comparer = DefaultComparer
	}
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = 2 << 20
	}
	if o.MaxManifestFileSize <= 0 {
		o.MaxManifestFileSize = 128 << 20
	}
	if o.MaxOpenFiles <= 0 {
		o.MaxOpenFiles = 1000
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = 4 << 20
	}
	return o
}

// ReadOptions hold the optional per-query parameters for Get and iterator
// operations.
//
// Like Options, a nil *ReadOptions is valid and means to use the default
// values.
type ReadOptions struct {
	// Snapshot causes the read to occur as of the snapshot's sequence
	// number. A nil Snapshot reads the current state of the DB.
	Snapshot *Snapshot

	// VerifyChecksums verifies the per-block checksums of all data read from
	// sstables, even for blocks that would otherwise be served without
	// verification.
	//
	// The default is false.
	VerifyChecksums bool

	// DontFillCache skips populating the block cache with blocks read by
	// this operation. Useful for bulk scans that should not displace the
	// cached working set.
	//
	// The default is false: reads fill the cache.
	DontFillCache bool
}

// GetSnapshot returns the snapshot or nil.
func (o *ReadOptions) GetSnapshot() *Snapshot {
	if o == nil {
		return nil
	}
	return o.Snapshot
}

// blockReadOptions converts the read options to the sstable package's
// per-read block options.
func (o *ReadOptions) blockReadOptions() sstable.BlockReadOptions {
	if o == nil {
		return sstable.BlockReadOptions{}
	}
	return sstable.BlockReadOptions{
		VerifyChecksums: o.VerifyChecksums,
		DontFillCache:   o.DontFillCache,
	}
}

// WriteOptions hold the optional per-query parameters for Set and Delete
// operations.
//
// Like Options, a nil *WriteOptions is valid and means to use the default
// values.
type WriteOptions struct {
	// Sync is whether to durably sync the WAL before considering the write
	// complete. If false, and the machine crashes, then some recent writes
	// may be lost. Note that if it is just the process that crashes (and the
	// machine does not) then no writes will be lost.
	//
	// The default value is false.
	Sync bool
}

// Sync specifies the default write options for writes which synchronize the
// WAL to stable storage before returning.
var Sync = &WriteOptions{Sync: true}

// NoSync specifies the default write options for writes which do not
// synchronize the WAL.
var NoSync = &WriteOptions{Sync: false}

// GetSync returns the sync option, or false for a nil receiver.
func (o *WriteOptions) GetSync() bool {
	return o != nil && o.Sync
}
