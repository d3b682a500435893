// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package memtable provides the in-memory sorted buffer that receives writes
// before they are flushed to a level-0 sstable.
//
// A MemTable is a skiplist keyed by internal key. It is safe for concurrent
// readers alongside a single writer. A MemTable's memory consumption
// increases monotonically: deleted keys are recorded as tombstone entries,
// and overwritten keys simply insert a new entry with a higher sequence
// number. The DB is responsible for rotating a full MemTable out and flushing
// it to disk.
package memtable

import (
	"encoding/binary"
	"math/rand"
	"sync"

	"github.com/cockroachdb/shale/internal/base"
)

const (
	// maxHeight is the maximum height of the skiplist.
	maxHeight = 12

	// Nodes hold offsets into a MemTable's data slice that stores
	// varint-prefixed strings: the node's key and value. A negative offset
	// means a zero-length string.
	offsetEmptySlice = -1
)

// node is a node in the skiplist. It holds a key/value pair (as offsets into
// the MemTable's data field) and a variable-length list of next nodes.
type node struct {
	// kOff is the data offset of the node's encoded internal key.
	kOff int
	// vOff is the data offset of the node's value.
	vOff int
	// next[i] is the next node in the linked list at height i.
	next [maxHeight]*node
}

// MemTable is a memory-backed ordered map from internal keys to values.
//
// It is safe to call Get, NewIter and ApproximateMemoryUsage concurrently
// with a single writer calling Set.
type MemTable struct {
	mu sync.RWMutex
	// head is an artificial node that holds the start of each level of the
	// skiplist.
	head node
	// height is the number of levels in use, which can increase over time.
	height int
	// cmp defines the ordering over user keys.
	cmp base.Compare
	// data is an append-only buffer that holds varint-prefixed strings.
	data []byte
	// rng drives the height of inserted nodes.
	rng rand.Source
}

// New returns a new MemTable using the given user key comparison.
func New(cmp base.Compare) *MemTable {
	return &MemTable{
		head: node{
			kOff: offsetEmptySlice,
			vOff: offsetEmptySlice,
		},
		height: 1,
		cmp:    cmp,
		data:   make([]byte, 0, 4096),
		rng:    rand.NewSource(0xdeadbeef),
	}
}

// load loads a []byte from m.data.
func (m *MemTable) load(offset int) []byte {
	if offset < 0 {
		return nil
	}
	n, k := binary.Uvarint(m.data[offset:])
	return m.data[offset+k : offset+k+int(n) : offset+k+int(n)]
}

// save saves a []byte to m.data.
func (m *MemTable) save(b []byte) int {
	if len(b) == 0 {
		return offsetEmptySlice
	}
	offset := len(m.data)
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(b)))
	m.data = append(m.data, buf[:n]...)
	m.data = append(m.data, b...)
	return offset
}

// nodeCompare compares the encoded internal key stored at node n against
// ikey.
func (m *MemTable) nodeCompare(n *node, ikey base.InternalKey) int {
	return base.InternalCompare(m.cmp, base.DecodeInternalKey(m.load(n.kOff)), ikey)
}

// findGE returns the first node whose key is >= ikey (or nil if there is no
// such node). If prev is non-nil, it also sets the first m.height elements of
// prev to the preceding node at each height.
//
// m.mu must be held.
func (m *MemTable) findGE(ikey base.InternalKey, prev *[maxHeight]*node) *node {
	var n *node
	for h, p := m.height-1, &m.head; h >= 0; h-- {
		// Walk the skiplist at height h until we find either a nil node or
		// one whose key is >= the given key.
		n = p.next[h]
		for n != nil && m.nodeCompare(n, ikey) < 0 {
			p, n = n, n.next[h]
		}
		if prev != nil {
			(*prev)[h] = p
		}
	}
	return n
}

// findLT returns the last node whose key is < ikey, or nil if there is no
// such node.
//
// m.mu must be held.
func (m *MemTable) findLT(ikey base.InternalKey) *node {
	p := &m.head
	for h := m.height - 1; h >= 0; h-- {
		n := p.next[h]
		for n != nil && m.nodeCompare(n, ikey) < 0 {
			p, n = n, n.next[h]
		}
	}
	if p == &m.head {
		return nil
	}
	return p
}

// last returns the last node in the skiplist, or nil if it is empty.
//
// m.mu must be held.
func (m *MemTable) last() *node {
	p := &m.head
	for h := m.height - 1; h >= 0; h-- {
		for p.next[h] != nil {
			p = p.next[h]
		}
	}
	if p == &m.head {
		return nil
	}
	return p
}

// Set inserts the internal key and value. Internal keys carry unique
// sequence numbers, so an insertion never overwrites an existing entry.
func (m *MemTable) Set(ikey base.InternalKey, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev [maxHeight]*node
	m.findGE(ikey, &prev)

	// Choose the new node's height, branching with 25% probability.
	h := 1
	for h < maxHeight && m.rng.Int63()%4 == 0 {
		h++
	}
	// Raise the skiplist's height to the node's height, if necessary.
	if m.height < h {
		for i := m.height; i < h; i++ {
			prev[i] = &m.head
		}
		m.height = h
	}

	buf := make([]byte, ikey.Size())
	ikey.Encode(buf)
	n1 := &node{
		kOff: m.save(buf),
		vOff: m.save(value),
	}
	for i := 0; i < h; i++ {
		n1.next[i] = prev[i].next[i]
		prev[i].next[i] = n1
	}
}

// Get looks up the most recent entry for the given user key that is visible
// at the given sequence number. It returns (value, true, nil) for a set
// entry, (nil, true, ErrNotFound) for a deletion tombstone, and
// (nil, false, nil) when the MemTable holds no entry for the user key.
func (m *MemTable) Get(key []byte, seqNum base.SeqNum) (value []byte, conclusive bool, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := m.findGE(base.MakeInternalKey(key, seqNum, base.InternalKeyKindMax), nil)
	if n == nil {
		return nil, false, nil
	}
	ikey := base.DecodeInternalKey(m.load(n.kOff))
	if m.cmp(key, ikey.UserKey) != 0 {
		return nil, false, nil
	}
	if ikey.Kind() == base.InternalKeyKindDelete {
		return nil, true, base.ErrNotFound
	}
	return m.load(n.vOff), true, nil
}

// Empty returns whether the MemTable holds no entries.
func (m *MemTable) Empty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.head.next[0] == nil
}

// ApproximateMemoryUsage returns the approximate memory usage of the
// MemTable.
func (m *MemTable) ApproximateMemoryUsage() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// NewIter returns an iterator over the MemTable, positioned before the first
// entry. The iterator observes entries inserted after its creation; callers
// requiring a stable view must rely on sequence number filtering, which the
// DB's iterator layer performs.
func (m *MemTable) NewIter() *Iter {
	return &Iter{m: m}
}

// Iter is an iterator over a MemTable. It is not goroutine-safe, but it is
// safe to use multiple iterators concurrently, along with a concurrent
// writer.
type Iter struct {
	m *MemTable
	n *node
	// key and value are snapshots of the current node's entry.
	key   base.InternalKey
	value []byte
}

// update caches the current node's key and value.
//
// m.mu must be held.
func (it *Iter) update() {
	if it.n == nil {
		it.key = base.InternalKey{}
		it.value = nil
		return
	}
	it.key = base.DecodeInternalKey(it.m.load(it.n.kOff))
	it.value = it.m.load(it.n.vOff)
}

// SeekGE positions the iterator at the first entry whose internal key is >=
// the given key.
func (it *Iter) SeekGE(ikey base.InternalKey) {
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	it.n = it.m.findGE(ikey, nil)
	it.update()
}

// SeekLT positions the iterator at the last entry whose internal key is <
// the given key.
func (it *Iter) SeekLT(ikey base.InternalKey) {
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	it.n = it.m.findLT(ikey)
	it.update()
}

// First positions the iterator at the first entry.
func (it *Iter) First() {
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	it.n = it.m.head.next[0]
	it.update()
}

// Last positions the iterator at the last entry.
func (it *Iter) Last() {
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	it.n = it.m.last()
	it.update()
}

// Next moves the iterator to the next entry, returning whether the iterator
// remains valid.
func (it *Iter) Next() bool {
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	if it.n == nil {
		return false
	}
	it.n = it.n.next[0]
	it.update()
	return it.n != nil
}

// Prev moves the iterator to the previous entry, returning whether the
// iterator remains valid.
func (it *Iter) Prev() bool {
	it.m.mu.RLock()
	defer it.m.mu.RUnlock()
	if it.n == nil {
		return false
	}
	it.n = it.m.findLT(it.key)
	it.update()
	return it.n != nil
}

// Valid returns whether the iterator is positioned at an entry.
func (it *Iter) Valid() bool {
	return it.n != nil
}

// Key returns the internal key of the current entry.
func (it *Iter) Key() base.InternalKey {
	return it.key
}

// Value returns the value of the current entry.
func (it *Iter) Value() []byte {
	return it.value
}

// Error returns any accumulated error. MemTable iteration does not fail.
func (it *Iter) Error() error {
	return nil
}

// Close closes the iterator. It is valid to call Close multiple times.
func (it *Iter) Close() error {
	it.n = nil
	it.value = nil
	return nil
}
