// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"github.com/cockroachdb/shale/internal/base"
)

type iterPos int8

const (
	iterPosCur  iterPos = 0
	iterPosNext iterPos = 1
	iterPosPrev iterPos = -1
)

// readBytesPeriod is the number of bytes of iteration between read samples.
const readBytesPeriod = 1 << 20

// Iterator iterates over a DB's key/value pairs in key order. It collapses
// the versions of each user key down to the single version visible at the
// iterator's sequence number, hiding deleted keys.
//
// An iterator must be closed after use, but it is not necessary to read an
// iterator until exhaustion.
//
// An iterator is not goroutine-safe, but it is safe to use multiple
// iterators concurrently, with each in a dedicated goroutine, and to operate
// on the DB while iterators are open.
type Iterator struct {
	cmp    base.Compare
	iter   base.InternalIterator
	seqNum base.SeqNum
	err    error
	key    []byte
	keyBuf []byte
	value  []byte
	valid  bool
	pos    iterPos

	// bytesRead accumulates the entry bytes walked; every readBytesPeriod
	// bytes, the current user key is sampled for seek-triggered compaction.
	bytesRead int
	sample    func(ukey []byte)
	// cleanup releases the references the iterator holds on the version it
	// spans. Invoked exactly once, on Close.
	cleanup func()
}

// visible returns whether the given sequence number is visible at the
// iterator's sequence number.
func (i *Iterator) visible(seqNum base.SeqNum) bool {
	return seqNum <= i.seqNum
}

// sampleRead accounts the bytes of the current entry, periodically probing
// whether the entry's user key is covered by multiple levels.
func (i *Iterator) sampleRead(key base.InternalKey) {
	if i.sample == nil {
		return
	}
	i.bytesRead += key.Size() + len(i.iter.Value())
	if i.bytesRead >= readBytesPeriod {
		i.bytesRead = 0
		i.sample(key.UserKey)
	}
}

// findNextEntry scans forward from the internal iterator's position to the
// newest visible entry of the next live user key.
func (i *Iterator) findNextEntry() bool {
	i.valid = false
	i.pos = iterPosCur

	for i.iter.Valid() {
		key := i.iter.Key()
		i.sampleRead(key)

		if !i.visible(key.SeqNum()) {
			// Ignore entries that are newer than the iterator's sequence
			// number.
			i.iter.Next()
			continue
		}

		switch key.Kind() {
		case base.InternalKeyKindDelete:
			// The key is deleted as of this iterator's sequence number.
			// Skip its older versions too.
			i.nextUserKey()
			continue

		case base.InternalKeyKindSet:
			i.keyBuf = append(i.keyBuf[:0], key.UserKey...)
			i.key = i.keyBuf
			i.value = i.iter.Value()
			i.valid = true
			return true

		default:
			i.err = base.CorruptionErrorf("shale: invalid internal key kind: %d", key.Kind())
			return false
		}
	}

	return false
}

// nextUserKey advances the internal iterator past every version of the
// current user key.
func (i *Iterator) nextUserKey() {
	if i.iter.Valid() {
		if !i.valid {
			i.keyBuf = append(i.keyBuf[:0], i.iter.Key().UserKey...)
			i.key = i.keyBuf
		}
		i.iter.Next()
		for i.iter.Valid() && i.cmp(i.key, i.iter.Key().UserKey) == 0 {
			i.iter.Next()
		}
	} else {
		i.iter.First()
	}
}

// findPrevEntry scans backward to the newest visible entry of the previous
// live user key. Reverse iteration encounters a user key's versions oldest
// first, so the scan continues through each key's versions, remembering the
// newest visible one, until it steps onto a different user key.
func (i *Iterator) findPrevEntry() bool {
	i.valid = false
	i.pos = iterPosCur

	for i.iter.Valid() {
		key := i.iter.Key()
		i.sampleRead(key)

		if !i.visible(key.SeqNum()) {
			if i.valid {
				i.pos = iterPosCur
				return true
			}
			i.iter.Prev()
			continue
		}

		if i.valid {
			if i.cmp(key.UserKey, i.key) < 0 {
				// We've iterated to the previous user key.
				i.pos = iterPosPrev
				return true
			}
		}

		switch key.Kind() {
		case base.InternalKeyKindDelete:
			i.value = nil
			i.valid = false
			i.iter.Prev()
			continue

		case base.InternalKeyKindSet:
			i.keyBuf = append(i.keyBuf[:0], key.UserKey...)
			i.key = i.keyBuf
			i.value = i.iter.Value()
			i.valid = true
			i.iter.Prev()
			continue

		default:
			i.err = base.CorruptionErrorf("shale: invalid internal key kind: %d", key.Kind())
			return false
		}
	}

	if i.valid {
		i.pos = iterPosPrev
		return true
	}

	return false
}

// prevUserKey moves the internal iterator before every version of the
// current user key.
func (i *Iterator) prevUserKey() {
	if i.iter.Valid() {
		if !i.valid {
			i.keyBuf = append(i.keyBuf[:0], i.iter.Key().UserKey...)
			i.key = i.keyBuf
		}
		i.iter.Prev()
		for i.iter.Valid() && i.cmp(i.key, i.iter.Key().UserKey) == 0 {
			i.iter.Prev()
		}
	} else {
		i.iter.Last()
	}
}

// SeekGE moves the iterator to the first key/value pair whose key is greater
// than or equal to the given key.
func (i *Iterator) SeekGE(key []byte) {
	if i.err != nil {
		return
	}
	i.iter.SeekGE(base.MakeSearchKey(key))
	i.findNextEntry()
}

// SeekLT moves the iterator to the last key/value pair whose key is less
// than the given key.
func (i *Iterator) SeekLT(key []byte) {
	if i.err != nil {
		return
	}
	i.iter.SeekLT(base.MakeSearchKey(key))
	i.findPrevEntry()
}

// First moves the iterator to the first key/value pair.
func (i *Iterator) First() {
	if i.err != nil {
		return
	}
	i.iter.First()
	i.findNextEntry()
}

// Last moves the iterator to the last key/value pair.
func (i *Iterator) Last() {
	if i.err != nil {
		return
	}
	i.iter.Last()
	i.findPrevEntry()
}

// Next moves the iterator to the next key/value pair, returning whether the
// iterator is pointing at a valid entry.
func (i *Iterator) Next() bool {
	if i.err != nil {
		return false
	}
	switch i.pos {
	case iterPosCur:
		i.nextUserKey()
	case iterPosPrev:
		i.nextUserKey()
		i.nextUserKey()
	case iterPosNext:
	}
	return i.findNextEntry()
}

// Prev moves the iterator to the previous key/value pair, returning whether
// the iterator is pointing at a valid entry.
func (i *Iterator) Prev() bool {
	if i.err != nil {
		return false
	}
	switch i.pos {
	case iterPosCur:
		i.prevUserKey()
	case iterPosNext:
		i.prevUserKey()
		i.prevUserKey()
	case iterPosPrev:
	}
	return i.findPrevEntry()
}

// Key returns the key of the current key/value pair. The caller should not
// modify the contents of the returned slice, and its contents may change on
// the next call to Next.
func (i *Iterator) Key() []byte {
	return i.key
}

// Value returns the value of the current key/value pair. The caller should
// not modify the contents of the returned slice, and its contents may change
// on the next call to Next.
func (i *Iterator) Value() []byte {
	return i.value
}

// Valid returns whether the iterator is positioned at a key/value pair.
func (i *Iterator) Valid() bool {
	return i.valid
}

// Error returns any accumulated error.
func (i *Iterator) Error() error {
	if i.err != nil {
		return i.err
	}
	if i.iter != nil {
		return i.iter.Error()
	}
	return nil
}

// Close closes the iterator, releasing the references it holds, and returns
// any accumulated error.
func (i *Iterator) Close() error {
	if i.iter != nil {
		if err := i.iter.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.iter = nil
	}
	if i.cleanup != nil {
		i.cleanup()
		i.cleanup = nil
	}
	i.valid = false
	return i.err
}
