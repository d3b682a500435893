// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"sort"

	"github.com/cockroachdb/shale/internal/base"
)

// levelIter provides a merged view of the sstables in a level of a version.
// Because the files within a level L >= 1 have disjoint, sorted user key
// ranges, a single file iterator is open at a time; binary search over the
// file metadata locates the file for a seek, and iteration steps between
// neighboring files.
type levelIter struct {
	icmp  internalKeyComparer
	tc    *tableCache
	ro    *ReadOptions
	files []*fileMetadata
	// index is the position of the open file within files, or -1 (before the
	// first file) or len(files) (after the last file).
	index int
	iter  base.InternalIterator
	err   error
}

var _ base.InternalIterator = (*levelIter)(nil)

func newLevelIter(
	icmp internalKeyComparer, tc *tableCache, ro *ReadOptions, files []*fileMetadata,
) *levelIter {
	return &levelIter{
		icmp:  icmp,
		tc:    tc,
		ro:    ro,
		files: files,
		index: -1,
	}
}

// findFileGE returns the index of the earliest file whose largest key is >=
// the given key.
func (l *levelIter) findFileGE(key base.InternalKey) int {
	return sort.Search(len(l.files), func(i int) bool {
		return l.icmp.compare(l.files[i].largest, key) >= 0
	})
}

// loadFile opens the file at the given index, closing any open iterator.
// Returns false if the index is out of range or the open failed.
func (l *levelIter) loadFile(index int) bool {
	if l.iter != nil {
		if err := l.iter.Close(); err != nil && l.err == nil {
			l.err = err
		}
		l.iter = nil
	}
	l.index = index
	if l.err != nil || index < 0 || index >= len(l.files) {
		return false
	}
	iter, err := l.tc.find(l.files[index].fileNum, l.ro)
	if err != nil {
		l.err = err
		return false
	}
	l.iter = iter
	return true
}

// skipEmptyFileForward steps to succeeding files until positioned at a valid
// entry.
func (l *levelIter) skipEmptyFileForward() bool {
	for l.iter == nil || !l.iter.Valid() {
		if l.err != nil {
			return false
		}
		if !l.loadFile(l.index + 1) {
			return false
		}
		l.iter.First()
	}
	return true
}

// skipEmptyFileBackward is the reverse analogue of skipEmptyFileForward.
func (l *levelIter) skipEmptyFileBackward() bool {
	for l.iter == nil || !l.iter.Valid() {
		if l.err != nil {
			return false
		}
		if !l.loadFile(l.index - 1) {
			return false
		}
		l.iter.Last()
	}
	return true
}

// SeekGE implements base.InternalIterator.
func (l *levelIter) SeekGE(key base.InternalKey) {
	if !l.loadFile(l.findFileGE(key)) {
		return
	}
	l.iter.SeekGE(key)
	l.skipEmptyFileForward()
}

// SeekLT implements base.InternalIterator.
func (l *levelIter) SeekLT(key base.InternalKey) {
	index := l.findFileGE(key)
	if index == len(l.files) {
		index--
	}
	if !l.loadFile(index) {
		return
	}
	l.iter.SeekLT(key)
	l.skipEmptyFileBackward()
}

// First implements base.InternalIterator.
func (l *levelIter) First() {
	if !l.loadFile(0) {
		return
	}
	l.iter.First()
	l.skipEmptyFileForward()
}

// Last implements base.InternalIterator.
func (l *levelIter) Last() {
	if !l.loadFile(len(l.files) - 1) {
		return
	}
	l.iter.Last()
	l.skipEmptyFileBackward()
}

// Next implements base.InternalIterator.
func (l *levelIter) Next() bool {
	if l.err != nil || l.iter == nil {
		return false
	}
	if l.iter.Next() {
		return true
	}
	return l.skipEmptyFileForward()
}

// Prev implements base.InternalIterator.
func (l *levelIter) Prev() bool {
	if l.err != nil || l.iter == nil {
		return false
	}
	if l.iter.Prev() {
		return true
	}
	return l.skipEmptyFileBackward()
}

// Valid implements base.InternalIterator.
func (l *levelIter) Valid() bool {
	return l.err == nil && l.iter != nil && l.iter.Valid()
}

// Key implements base.InternalIterator.
func (l *levelIter) Key() base.InternalKey {
	if l.iter == nil {
		return base.InternalKey{}
	}
	return l.iter.Key()
}

// Value implements base.InternalIterator.
func (l *levelIter) Value() []byte {
	if l.iter == nil {
		return nil
	}
	return l.iter.Value()
}

// Error implements base.InternalIterator.
func (l *levelIter) Error() error {
	if l.err != nil {
		return l.err
	}
	if l.iter != nil {
		return l.iter.Error()
	}
	return nil
}

// Close implements base.InternalIterator.
func (l *levelIter) Close() error {
	if l.iter != nil {
		if err := l.iter.Close(); err != nil && l.err == nil {
			l.err = err
		}
		l.iter = nil
	}
	return l.err
}
