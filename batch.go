// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package shale

import (
	"encoding/binary"

	"github.com/cockroachdb/shale/internal/base"
)

const (
	batchHeaderLen    = 12
	invalidBatchCount = 1<<32 - 1
)

// ErrInvalidBatch indicates that a batch is malformed or otherwise corrupt.
var ErrInvalidBatch = base.CorruptionErrorf("shale: invalid batch")

// Batch is a sequence of Sets and/or Deletes that are applied atomically.
type Batch struct {
	// data is the wire format of a batch's log entry:
	//   - 8 bytes for a sequence number of the first batch element, in
	//     little-endian format,
	//   - 4 bytes for the count: the number of elements in the batch, in
	//     little-endian format,
	//   - count elements, being:
	//     - one byte for the kind: delete (0) or set (1),
	//     - the varint-string user key,
	//     - the varint-string value (if kind == set).
	// The sequence number is zero until the batch is committed; commit
	// stamps it with the sequence assigned to the batch's first element.
	data []byte
}

func (b *Batch) init(cap int) {
	n := batchHeaderLen
	for n < cap {
		n *= 2
	}
	b.data = make([]byte, batchHeaderLen, n)
}

// Reset clears the underlying byte slice for reuse.
func (b *Batch) Reset() {
	if b.data != nil {
		b.data = b.data[:batchHeaderLen]
		clear(b.data)
	}
}

// Set adds an action to the batch that sets the key to map to the value.
func (b *Batch) Set(key, value []byte) {
	if len(b.data) == 0 {
		b.init(len(key) + len(value) + 2*binary.MaxVarintLen64 + batchHeaderLen)
	}
	if b.increment() {
		b.data = append(b.data, byte(base.InternalKeyKindSet))
		b.appendStr(key)
		b.appendStr(value)
	}
}

// Delete adds an action to the batch that deletes the entry for key.
func (b *Batch) Delete(key []byte) {
	if len(b.data) == 0 {
		b.init(len(key) + binary.MaxVarintLen64 + batchHeaderLen)
	}
	if b.increment() {
		b.data = append(b.data, byte(base.InternalKeyKindDelete))
		b.appendStr(key)
	}
}

// Apply appends the given batch's operations to b, summing the counts.
// The sequence number of the argument is ignored.
func (b *Batch) Apply(batch *Batch) error {
	if len(batch.data) == 0 {
		return nil
	}
	if len(batch.data) < batchHeaderLen {
		return ErrInvalidBatch
	}
	if len(b.data) == 0 {
		b.init(len(batch.data))
	}
	count := b.Count() + batch.Count()
	if count > invalidBatchCount-1 {
		return ErrInvalidBatch
	}
	b.setCount(count)
	b.data = append(b.data, batch.data[batchHeaderLen:]...)
	return nil
}

// Empty returns whether the batch holds no operations.
func (b *Batch) Empty() bool {
	return len(b.data) <= batchHeaderLen
}

// Repr returns the serialized form of the batch: the form written to the
// write-ahead log.
func (b *Batch) Repr() []byte {
	if len(b.data) == 0 {
		b.init(batchHeaderLen)
	}
	return b.data
}

// SetRepr adopts a serialized batch representation, as returned by Repr.
func (b *Batch) SetRepr(data []byte) error {
	if len(data) < batchHeaderLen {
		return ErrInvalidBatch
	}
	b.data = data
	return nil
}

// SeqNum returns the sequence number assigned to the batch's first element
// at commit time, or zero if the batch has not been committed.
func (b *Batch) SeqNum() base.SeqNum {
	if len(b.data) < batchHeaderLen {
		return 0
	}
	return base.SeqNum(binary.LittleEndian.Uint64(b.data[:8]))
}

func (b *Batch) setSeqNum(seqNum base.SeqNum) {
	binary.LittleEndian.PutUint64(b.data[:8], uint64(seqNum))
}

// Count returns the number of operations in the batch.
func (b *Batch) Count() uint32 {
	if len(b.data) < batchHeaderLen {
		return 0
	}
	return binary.LittleEndian.Uint32(b.data[8:12])
}

func (b *Batch) setCount(count uint32) {
	binary.LittleEndian.PutUint32(b.data[8:12], count)
}

// increment bumps the batch count, refusing (and poisoning the count) on
// overflow.
func (b *Batch) increment() bool {
	count := b.Count()
	if count == invalidBatchCount {
		return false
	}
	b.setCount(count + 1)
	return true
}

func (b *Batch) appendStr(s []byte) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(s)))
	b.data = append(b.data, buf[:n]...)
	b.data = append(b.data, s...)
}

// iter returns a reader over the batch's operations.
func (b *Batch) iter() batchReader {
	return b.data[batchHeaderLen:]
}

// memTableSize returns an estimate of the batch's memtable footprint when
// replayed.
func (b *Batch) memTableSize() int {
	return len(b.data)
}

// batchReader iterates over the operations in a serialized batch.
type batchReader []byte

// next returns the next operation in the batch. The final return value is
// false if the batch is exhausted or corrupt.
func (r *batchReader) next() (kind base.InternalKeyKind, ukey []byte, value []byte, ok bool) {
	p := *r
	if len(p) == 0 {
		return 0, nil, nil, false
	}
	kind, *r = base.InternalKeyKind(p[0]), p[1:]
	if kind > base.InternalKeyKindMax {
		return 0, nil, nil, false
	}
	ukey, ok = r.nextStr()
	if !ok {
		return 0, nil, nil, false
	}
	if kind != base.InternalKeyKindDelete {
		value, ok = r.nextStr()
		if !ok {
			return 0, nil, nil, false
		}
	}
	return kind, ukey, value, true
}

func (r *batchReader) nextStr() (s []byte, ok bool) {
	p := *r
	u, numBytes := binary.Uvarint(p)
	if numBytes <= 0 {
		return nil, false
	}
	p = p[numBytes:]
	if u > uint64(len(p)) {
		return nil, false
	}
	s, *r = p[:u], p[u:]
	return s, true
}
