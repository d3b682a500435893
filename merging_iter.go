// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"github.com/cockroachdb/shale/internal/base"
)

type mergingIterDirection int8

const (
	mergingIterForward mergingIterDirection = 1
	mergingIterReverse mergingIterDirection = -1
)

// mergingIter merges its input iterators, surfacing all entries of all
// inputs in internal key order. The inputs' key ranges may overlap, but the
// internal keys themselves are unique (sequence numbers are never reused),
// so no deduplication is performed at this layer.
//
// In the forward direction every non-exhausted input is positioned at its
// first entry greater than or equal to the merged iterator's current entry,
// and the current input holds the minimum. Changing direction repositions
// every other input on the far side of the current key before stepping.
type mergingIter struct {
	icmp    internalKeyComparer
	iters   []base.InternalIterator
	current int
	dir     mergingIterDirection
	err     error
}

var _ base.InternalIterator = (*mergingIter)(nil)

// newMergingIter returns an iterator that merges its input. Walking the
// resultant iterator will return all key/value pairs of all input iterators
// in ascending internal key order.
//
// None of the iters may be nil.
func newMergingIter(icmp internalKeyComparer, iters ...base.InternalIterator) *mergingIter {
	return &mergingIter{
		icmp:    icmp,
		iters:   iters,
		current: -1,
	}
}

// findSmallest sets current to the input with the smallest current key.
func (m *mergingIter) findSmallest() {
	m.current = -1
	for i, it := range m.iters {
		if !it.Valid() {
			continue
		}
		if m.current < 0 || m.icmp.compare(it.Key(), m.iters[m.current].Key()) < 0 {
			m.current = i
		}
	}
}

// findLargest sets current to the input with the largest current key.
func (m *mergingIter) findLargest() {
	m.current = -1
	for i, it := range m.iters {
		if !it.Valid() {
			continue
		}
		if m.current < 0 || m.icmp.compare(it.Key(), m.iters[m.current].Key()) > 0 {
			m.current = i
		}
	}
}

// SeekGE implements base.InternalIterator.
func (m *mergingIter) SeekGE(key base.InternalKey) {
	for _, it := range m.iters {
		it.SeekGE(key)
	}
	m.dir = mergingIterForward
	m.findSmallest()
}

// SeekLT implements base.InternalIterator.
func (m *mergingIter) SeekLT(key base.InternalKey) {
	for _, it := range m.iters {
		it.SeekLT(key)
	}
	m.dir = mergingIterReverse
	m.findLargest()
}

// First implements base.InternalIterator.
func (m *mergingIter) First() {
	for _, it := range m.iters {
		it.First()
	}
	m.dir = mergingIterForward
	m.findSmallest()
}

// Last implements base.InternalIterator.
func (m *mergingIter) Last() {
	for _, it := range m.iters {
		it.Last()
	}
	m.dir = mergingIterReverse
	m.findLargest()
}

// Next implements base.InternalIterator.
func (m *mergingIter) Next() bool {
	if m.current < 0 {
		return false
	}
	if m.dir != mergingIterForward {
		// Ensure that all inputs are positioned after the current key:
		// inputs other than the current one sit at or before it after
		// reverse iteration.
		key := m.iters[m.current].Key()
		for i, it := range m.iters {
			if i == m.current {
				continue
			}
			it.SeekGE(key)
			if it.Valid() && m.icmp.compare(it.Key(), key) == 0 {
				it.Next()
			}
		}
		m.dir = mergingIterForward
	}
	m.iters[m.current].Next()
	m.findSmallest()
	return m.current >= 0
}

// Prev implements base.InternalIterator.
func (m *mergingIter) Prev() bool {
	if m.current < 0 {
		return false
	}
	if m.dir != mergingIterReverse {
		// Mirror image of the direction change in Next.
		key := m.iters[m.current].Key()
		for i, it := range m.iters {
			if i == m.current {
				continue
			}
			it.SeekLT(key)
		}
		m.dir = mergingIterReverse
	}
	m.iters[m.current].Prev()
	m.findLargest()
	return m.current >= 0
}

// Valid implements base.InternalIterator.
func (m *mergingIter) Valid() bool {
	return m.current >= 0
}

// Key implements base.InternalIterator.
func (m *mergingIter) Key() base.InternalKey {
	if m.current < 0 {
		return base.InternalKey{}
	}
	return m.iters[m.current].Key()
}

// Value implements base.InternalIterator.
func (m *mergingIter) Value() []byte {
	if m.current < 0 {
		return nil
	}
	return m.iters[m.current].Value()
}

// Error implements base.InternalIterator.
func (m *mergingIter) Error() error {
	if m.err != nil {
		return m.err
	}
	for _, it := range m.iters {
		if err := it.Error(); err != nil {
			return err
		}
	}
	return nil
}

// Close implements base.InternalIterator.
func (m *mergingIter) Close() error {
	err := m.err
	for _, it := range m.iters {
		if cerr := it.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	m.iters = nil
	m.current = -1
	return err
}
