// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

// InternalIterator iterates over a DB's key/value pairs in key order.
// Implementations surface every version of a user key in internal key order:
// ascending by user key, then descending by sequence number. The DB's
// iterator layer (and its compaction engine) are responsible for collapsing
// versions and filtering by visibility.
//
// An iterator must be closed after use, but it is not necessary to read an
// iterator until exhaustion.
//
// An iterator is not necessarily goroutine-safe, but it is safe to use
// multiple iterators concurrently, with each in a dedicated goroutine.
type InternalIterator interface {
	// SeekGE moves the iterator to the first key/value pair whose key is
	// greater than or equal to the given key.
	SeekGE(key InternalKey)

	// SeekLT moves the iterator to the last key/value pair whose key is
	// less than the given key.
	SeekLT(key InternalKey)

	// First moves the iterator to the first key/value pair.
	First()

	// Last moves the iterator to the last key/value pair.
	Last()

	// Next moves the iterator to the next key/value pair, returning whether
	// the iterator is pointing at a valid entry.
	Next() bool

	// Prev moves the iterator to the previous key/value pair, returning
	// whether the iterator is pointing at a valid entry.
	Prev() bool

	// Valid returns whether the iterator is positioned at a key/value pair.
	Valid() bool

	// Key returns the key of the current key/value pair. The caller should
	// not modify the contents of the returned key, and its contents may
	// change on the next call to Next.
	Key() InternalKey

	// Value returns the value of the current key/value pair. The caller
	// should not modify the contents of the returned slice, and its contents
	// may change on the next call to Next.
	Value() []byte

	// Error returns any accumulated error.
	Error() error

	// Close closes the iterator and returns any accumulated error.
	// Exhausting all the key/value pairs is not considered to be an error.
	// It is valid to call Close multiple times.
	Close() error
}
